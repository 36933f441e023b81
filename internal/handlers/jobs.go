package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/codebuildervaibhav/voice-memos/internal/auth"
	"github.com/codebuildervaibhav/voice-memos/internal/queue"
)

// JobHandler reports pipeline job progress.
type JobHandler struct {
	pool *queue.WorkerPool
}

// NewJobHandler creates a job handler
func NewJobHandler(pool *queue.WorkerPool) *JobHandler {
	return &JobHandler{pool: pool}
}

func (h *JobHandler) lookup(id, user string) (*queue.Job, error) {
	job, err := h.pool.Get(id)
	if err != nil {
		return nil, err
	}
	if job.UserID != user {
		return nil, queue.ErrJobNotFound
	}
	return job, nil
}

// Get returns the latest snapshot of a job.
func (h *JobHandler) Get(c *fiber.Ctx) error {
	user := auth.UserID(c)
	if user == "" {
		return unauthorized(c)
	}
	job, err := h.lookup(c.Params("id"), user)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Job not found", "code": "ERR_NOT_FOUND"})
	}

	return c.JSON(fiber.Map{
		"job_id":   job.ID,
		"kind":     job.Kind,
		"status":   job.Status(),
		"snapshot": job.Snapshot(),
	})
}

// Stream sends every snapshot of a job over a WebSocket and closes after
// the terminal one.
func (h *JobHandler) Stream(c *websocket.Conn) {
	defer c.Close()

	user, _ := c.Locals(auth.LocalsKey).(string)
	job, err := h.lookup(c.Params("id"), user)
	if err != nil {
		c.WriteJSON(fiber.Map{"type": "error", "error": "job not found"})
		return
	}

	updates, cancel := job.Subscribe()
	defer cancel()

	for snapshot := range updates {
		if err := c.WriteJSON(snapshot); err != nil {
			log.Printf("WebSocket write error for job %s: %v", job.ID, err)
			return
		}
	}
}
