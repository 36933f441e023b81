package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/voice-memos/internal/auth"
	"github.com/codebuildervaibhav/voice-memos/internal/memo"
	"github.com/codebuildervaibhav/voice-memos/internal/storage"
	"github.com/codebuildervaibhav/voice-memos/internal/transcription"
)

// DriveFetcher downloads a Google Drive file by ID, reading at most limit bytes.
type DriveFetcher interface {
	Fetch(ctx context.Context, fileID string, limit int64) ([]byte, error)
}

// SharedLinkFetcher downloads publicly shared files without credentials.
type SharedLinkFetcher struct {
	Client *http.Client
}

// Fetch implements DriveFetcher.
func (f SharedLinkFetcher) Fetch(ctx context.Context, fileID string, limit int64) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return storage.DownloadShared(ctx, client, fileID, limit)
}

// DriveAPIFetcher downloads through an authorized Drive client.
type DriveAPIFetcher struct {
	Drive *storage.DriveClient
}

// Fetch implements DriveFetcher.
func (f DriveAPIFetcher) Fetch(ctx context.Context, fileID string, limit int64) ([]byte, error) {
	data, err := f.Drive.Download(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		data = data[:limit]
	}
	return data, nil
}

// GDriveHandler imports audio from Google Drive links as memos.
type GDriveHandler struct {
	dispatch *Dispatcher
	fetcher  DriveFetcher
}

// NewGDriveHandler creates a new Google Drive handler
func NewGDriveHandler(dispatch *Dispatcher, fetcher DriveFetcher) *GDriveHandler {
	return &GDriveHandler{
		dispatch: dispatch,
		fetcher:  fetcher,
	}
}

// GDriveRequest represents the request body
type GDriveRequest struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Language string `json:"language"`
	MimeType string `json:"mime_type"`
}

// Handle processes Google Drive link requests
func (h *GDriveHandler) Handle(c *fiber.Ctx) error {
	user := auth.UserID(c)
	if user == "" {
		return unauthorized(c)
	}

	var req GDriveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
			"code":  "ERR_INVALID_BODY",
		})
	}

	if req.URL == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "URL is required",
			"code":  "ERR_NO_URL",
		})
	}

	fileID := storage.ExtractDriveFileID(req.URL)
	if fileID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid Google Drive URL",
			"code":  "ERR_INVALID_URL",
		})
	}

	log.Printf("Downloading from Google Drive: %s", fileID)

	// One byte past the ceiling lets the pipeline reject oversize audio.
	limit := int64(h.dispatch.MaxPayload()) + 1
	data, err := h.fetcher.Fetch(c.UserContext(), fileID, limit)
	if err != nil {
		log.Printf("Failed to download from Google Drive: %v", err)
		return c.Status(400).JSON(fiber.Map{
			"error": "File not accessible (may be private or doesn't exist)",
			"code":  "ERR_FILE_NOT_ACCESSIBLE",
		})
	}
	if len(data) == 0 {
		return c.Status(400).JSON(fiber.Map{
			"error": "Downloaded file is empty",
			"code":  "ERR_EMPTY_FILE",
		})
	}

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = sniffAudioType(data)
	}
	if mimeType == "" || !transcription.ValidateAudioFormat("memo"+transcription.ExtensionFor(mimeType)) {
		return c.Status(400).JSON(fiber.Map{
			"error": "Unsupported audio format",
			"code":  "ERR_INVALID_FORMAT",
		})
	}

	job, err := h.dispatch.Submit("import", memo.Submission{
		UserID:   user,
		Audio:    data,
		MimeType: mimeType,
		Title:    req.Title,
		Language: req.Language,
	})
	if err != nil {
		return enqueueError(c, err)
	}

	return queuedResponse(c, job, fmt.Sprintf("Google Drive file downloaded (%d bytes), processing started", len(data)))
}

// sniffAudioType maps detected content types onto the audio types the
// pipeline accepts. It returns "" for anything that is not audio.
func sniffAudioType(data []byte) string {
	detected, _, _ := strings.Cut(http.DetectContentType(data), ";")
	switch detected {
	case "application/ogg":
		return "audio/ogg"
	case "video/webm":
		return "audio/webm"
	case "audio/wave", "audio/x-wav":
		return "audio/wav"
	case "audio/mp4", "video/mp4":
		return "audio/mp4"
	}
	if strings.HasPrefix(detected, "audio/") {
		return detected
	}
	return ""
}
