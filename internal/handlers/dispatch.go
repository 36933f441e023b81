package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/codebuildervaibhav/voice-memos/internal/memo"
	"github.com/codebuildervaibhav/voice-memos/internal/queue"
	"github.com/codebuildervaibhav/voice-memos/internal/transcription"
	"github.com/codebuildervaibhav/voice-memos/internal/types"
)

// Dispatcher queues pipeline runs on the worker pool.
type Dispatcher struct {
	pool     *queue.WorkerPool
	pipeline *memo.Pipeline
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(pool *queue.WorkerPool, pipeline *memo.Pipeline) *Dispatcher {
	return &Dispatcher{pool: pool, pipeline: pipeline}
}

// Submit queues a new memo. tempFiles are removed when the job finishes.
func (d *Dispatcher) Submit(kind string, sub memo.Submission, tempFiles ...string) (*queue.Job, error) {
	job := queue.NewJob(uuid.New().String(), sub.UserID, kind, func(ctx context.Context, sink memo.Sink) (*types.MemoRecord, error) {
		return d.pipeline.Process(ctx, sub, sink)
	})
	job.TempFiles = tempFiles
	if err := d.pool.EnqueueJob(job); err != nil {
		return nil, err
	}
	return job, nil
}

// Retry queues a re-transcription of an existing memo.
func (d *Dispatcher) Retry(userID, memoID string, opts transcription.Options) (*queue.Job, error) {
	job := queue.NewJob(uuid.New().String(), userID, "retry", func(ctx context.Context, sink memo.Sink) (*types.MemoRecord, error) {
		return d.pipeline.Retry(ctx, userID, memoID, opts, sink)
	})
	if err := d.pool.EnqueueJob(job); err != nil {
		return nil, err
	}
	return job, nil
}

// MaxPayload returns the pipeline's audio ceiling.
func (d *Dispatcher) MaxPayload() int {
	return d.pipeline.MaxPayload()
}

func queuedResponse(c *fiber.Ctx, job *queue.Job, message string) error {
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id":  job.ID,
		"status":  queue.StatusQueued,
		"message": message,
	})
}

func enqueueError(c *fiber.Ctx, err error) error {
	if errors.Is(err, queue.ErrQueueFull) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Server is busy, try again shortly",
			"code":  "ERR_QUEUE_FULL",
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to queue job",
		"code":  "ERR_QUEUE_FAILED",
	})
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": memo.ErrMissingAuth.Error(),
		"code":  "ERR_UNAUTHORIZED",
	})
}
