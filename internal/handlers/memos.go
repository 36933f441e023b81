package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/codebuildervaibhav/voice-memos/internal/auth"
	"github.com/codebuildervaibhav/voice-memos/internal/storage"
	"github.com/codebuildervaibhav/voice-memos/internal/transcription"
	"github.com/codebuildervaibhav/voice-memos/internal/types"
)

// MemoStore is the document store surface the memo routes need.
type MemoStore interface {
	Get(ctx context.Context, id string) (*types.MemoRecord, error)
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, userID string, filter storage.Filter, sort storage.Sort, page storage.Page) (*storage.QueryResult, error)
	Subscribe(ctx context.Context, userID string, filter storage.Filter, sort storage.Sort, limit int, onChange func(*storage.QueryResult)) (func(), error)
}

// AudioReader loads stored audio by reference.
type AudioReader interface {
	Get(ctx context.Context, ref string) ([]byte, error)
}

// MemoHandler serves memo queries, deletion, retry and live subscriptions.
type MemoHandler struct {
	store    MemoStore
	audio    AudioReader
	dispatch *Dispatcher
}

// NewMemoHandler creates a memo handler
func NewMemoHandler(store MemoStore, audio AudioReader, dispatch *Dispatcher) *MemoHandler {
	return &MemoHandler{store: store, audio: audio, dispatch: dispatch}
}

// parseQuery reads filter, sort and page parameters.
func parseQuery(get func(key string) string) (storage.Filter, storage.Sort, storage.Page, error) {
	filter := storage.Filter{Type: get("type"), Status: get("status")}
	sort := storage.Sort{Field: get("sort"), Desc: get("order") != "asc"}
	page := storage.Page{Cursor: get("cursor")}
	if v := get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return filter, sort, page, fmt.Errorf("limit must be a positive integer")
		}
		page.Limit = n
	}
	return filter, sort, page, nil
}

// List returns one page of the caller's memos.
func (h *MemoHandler) List(c *fiber.Ctx) error {
	user := auth.UserID(c)
	if user == "" {
		return unauthorized(c)
	}

	filter, sort, page, err := parseQuery(func(k string) string { return c.Query(k) })
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error(), "code": "ERR_INVALID_QUERY"})
	}

	result, err := h.store.Query(c.UserContext(), user, filter, sort, page)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error(), "code": "ERR_INVALID_QUERY"})
	}
	return c.JSON(result)
}

// owned loads a memo and checks it belongs to the caller. It writes the
// error response itself and returns nil when the memo is unusable.
func (h *MemoHandler) owned(c *fiber.Ctx, user string) (*types.MemoRecord, error) {
	rec, err := h.store.Get(c.UserContext(), c.Params("id"))
	if errors.Is(err, storage.ErrNotFound) || (err == nil && rec.UserID != user) {
		return nil, c.Status(404).JSON(fiber.Map{"error": "Memo not found", "code": "ERR_NOT_FOUND"})
	}
	if err != nil {
		log.Printf("Failed to load memo %s: %v", c.Params("id"), err)
		return nil, c.Status(500).JSON(fiber.Map{"error": "Failed to load memo", "code": "ERR_STORAGE"})
	}
	return rec, nil
}

// Get returns one memo.
func (h *MemoHandler) Get(c *fiber.Ctx) error {
	user := auth.UserID(c)
	if user == "" {
		return unauthorized(c)
	}
	rec, err := h.owned(c, user)
	if rec == nil {
		return err
	}
	return c.JSON(rec)
}

// Audio streams the memo's stored audio.
func (h *MemoHandler) Audio(c *fiber.Ctx) error {
	user := auth.UserID(c)
	if user == "" {
		return unauthorized(c)
	}
	rec, err := h.owned(c, user)
	if rec == nil {
		return err
	}
	if rec.AudioURL == "" {
		return c.Status(404).JSON(fiber.Map{"error": "Memo has no audio", "code": "ERR_NO_AUDIO"})
	}

	data, err := h.audio.Get(c.UserContext(), rec.AudioURL)
	if err != nil {
		log.Printf("Failed to load audio for memo %s: %v", rec.ID, err)
		return c.Status(502).JSON(fiber.Map{"error": "Failed to load audio", "code": "ERR_AUDIO_UNAVAILABLE"})
	}
	c.Set(fiber.HeaderContentType, rec.MimeType)
	return c.Send(data)
}

// Delete removes a memo.
func (h *MemoHandler) Delete(c *fiber.Ctx) error {
	user := auth.UserID(c)
	if user == "" {
		return unauthorized(c)
	}
	rec, err := h.owned(c, user)
	if rec == nil {
		return err
	}
	if err := h.store.Delete(c.UserContext(), rec.ID); err != nil {
		log.Printf("Failed to delete memo %s: %v", rec.ID, err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to delete memo", "code": "ERR_STORAGE"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RetryRequest is the optional body of a retry.
type RetryRequest struct {
	Language string `json:"language"`
	Prompt   string `json:"prompt"`
}

// Retry re-runs transcription for a memo.
func (h *MemoHandler) Retry(c *fiber.Ctx) error {
	user := auth.UserID(c)
	if user == "" {
		return unauthorized(c)
	}
	rec, err := h.owned(c, user)
	if rec == nil {
		return err
	}
	if rec.TranscriptionStatus == types.StatusCompleted && c.Query("force") != "true" {
		return c.Status(409).JSON(fiber.Map{
			"error": "Memo is already transcribed; pass force=true to transcribe again",
			"code":  "ERR_ALREADY_TRANSCRIBED",
		})
	}

	var req RetryRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "Invalid request body", "code": "ERR_INVALID_BODY"})
		}
	}

	job, err := h.dispatch.Retry(user, rec.ID, transcription.Options{Language: req.Language, Prompt: req.Prompt})
	if err != nil {
		return enqueueError(c, err)
	}
	return queuedResponse(c, job, "Transcription retry queued")
}

// Subscribe streams the first page of a live query over a WebSocket,
// re-sent whenever the caller's memos change.
func (h *MemoHandler) Subscribe(c *websocket.Conn) {
	defer c.Close()

	user, _ := c.Locals(auth.LocalsKey).(string)
	if user == "" {
		c.WriteJSON(fiber.Map{"type": "error", "error": "unauthorized"})
		return
	}
	filter, sort, page, err := parseQuery(func(k string) string { return c.Query(k) })
	if err != nil {
		c.WriteJSON(fiber.Map{"type": "error", "error": err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	stop, err := h.store.Subscribe(ctx, user, filter, sort, page.Limit, func(result *storage.QueryResult) {
		mu.Lock()
		defer mu.Unlock()
		if err := c.WriteJSON(fiber.Map{"type": "memos", "result": result}); err != nil {
			cancel()
		}
	})
	if err != nil {
		c.WriteJSON(fiber.Map{"type": "error", "error": err.Error()})
		return
	}
	defer stop()

	// Block until the client goes away.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}
