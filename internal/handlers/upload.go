package handlers

import (
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/voice-memos/internal/auth"
	"github.com/codebuildervaibhav/voice-memos/internal/memo"
	"github.com/codebuildervaibhav/voice-memos/internal/transcription"
)

// UploadHandler handles file uploads
type UploadHandler struct {
	dispatch  *Dispatcher
	maxSizeMB int
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(dispatch *Dispatcher, maxSizeMB int) *UploadHandler {
	return &UploadHandler{
		dispatch:  dispatch,
		maxSizeMB: maxSizeMB,
	}
}

// Handle processes the upload request
func (h *UploadHandler) Handle(c *fiber.Ctx) error {
	user := auth.UserID(c)
	if user == "" {
		return unauthorized(c)
	}

	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "No file uploaded",
			"code":  "ERR_NO_FILE",
		})
	}

	maxSize := int64(h.maxSizeMB) * 1024 * 1024
	if file.Size > maxSize {
		return c.Status(400).JSON(fiber.Map{
			"error": fmt.Sprintf("File too large (max %dMB)", h.maxSizeMB),
			"code":  "ERR_FILE_TOO_LARGE",
		})
	}

	mimeType := c.FormValue("mime_type")
	if mimeType == "" {
		mimeType = file.Header.Get("Content-Type")
	}
	if !strings.HasPrefix(mimeType, "audio/") {
		mimeType = transcription.MimeTypeFor(file.Filename)
	}
	if mimeType == "" || !transcription.ValidateAudioFormat("memo"+transcription.ExtensionFor(mimeType)) {
		return c.Status(400).JSON(fiber.Map{
			"error": "Unsupported audio format",
			"code":  "ERR_INVALID_FORMAT",
		})
	}

	var duration float64
	if v := c.FormValue("duration"); v != "" {
		duration, err = strconv.ParseFloat(v, 64)
		if err != nil || duration < 0 {
			return c.Status(400).JSON(fiber.Map{
				"error": "duration must be a non-negative number of seconds",
				"code":  "ERR_INVALID_DURATION",
			})
		}
	}

	f, err := file.Open()
	if err != nil {
		log.Printf("Failed to open uploaded file: %v", err)
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to read file",
			"code":  "ERR_READ_FAILED",
		})
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to read file",
			"code":  "ERR_READ_FAILED",
		})
	}

	job, err := h.dispatch.Submit("submit", memo.Submission{
		UserID:          user,
		Audio:           data,
		MimeType:        mimeType,
		DurationSeconds: duration,
		Title:           c.FormValue("title"),
		TextContent:     c.FormValue("text"),
		Language:        c.FormValue("language"),
		Prompt:          c.FormValue("prompt"),
	})
	if err != nil {
		return enqueueError(c, err)
	}

	return queuedResponse(c, job, "File uploaded successfully, processing started")
}
