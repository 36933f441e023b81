package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/codebuildervaibhav/voice-memos/internal/types"
)

// ErrQueueFull is returned when the job buffer is full.
var ErrQueueFull = errors.New("job queue is full")

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// Observer is told about queue depth and busy workers.
type Observer interface {
	QueueDepth(n int)
	WorkerBusy(delta int)
}

// WorkerPool manages a pool of workers processing memo jobs
type WorkerPool struct {
	jobQueue    chan *Job
	workerCount int
	observer    Observer

	mu   sync.RWMutex
	jobs map[string]*Job

	wg sync.WaitGroup
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(workerCount, queueSize int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &WorkerPool{
		jobQueue:    make(chan *Job, queueSize),
		workerCount: workerCount,
		jobs:        map[string]*Job{},
	}
}

// SetObserver registers a metrics observer. Call before Start.
func (wp *WorkerPool) SetObserver(o Observer) {
	wp.observer = o
}

// Start initializes all workers. They exit once ctx is done and the
// current job has finished.
func (wp *WorkerPool) Start(ctx context.Context) {
	log.Printf("Starting worker pool with %d workers", wp.workerCount)
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// Wait blocks until all workers have exited.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// EnqueueJob adds a job to the queue
func (wp *WorkerPool) EnqueueJob(job *Job) error {
	wp.mu.Lock()
	wp.jobs[job.ID] = job
	wp.mu.Unlock()

	select {
	case wp.jobQueue <- job:
	default:
		wp.mu.Lock()
		delete(wp.jobs, job.ID)
		wp.mu.Unlock()
		return ErrQueueFull
	}
	wp.reportDepth()
	log.Printf("Job %s enqueued (kind: %s, user: %s)", job.ID, job.Kind, job.UserID)
	return nil
}

// Get returns a tracked job.
func (wp *WorkerPool) Get(id string) (*Job, error) {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	job, ok := wp.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, nil
}

// PruneFinished forgets jobs that finished before cutoff and returns how
// many were dropped.
func (wp *WorkerPool) PruneFinished(cutoff time.Time) int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	n := 0
	for id, job := range wp.jobs {
		if job.finishedBefore(cutoff) {
			delete(wp.jobs, id)
			n++
		}
	}
	return n
}

// worker processes jobs from the queue
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()
	log.Printf("Worker %d started", id)

	for {
		select {
		case <-ctx.Done():
			log.Printf("Worker %d stopped", id)
			return
		case job := <-wp.jobQueue:
			wp.reportDepth()
			wp.runJob(ctx, id, job)
		}
	}
}

// runJob runs one job to completion, converting a panic into a failed job.
func (wp *WorkerPool) runJob(ctx context.Context, workerID int, job *Job) {
	log.Printf("Worker %d: Processing job %s", workerID, job.ID)
	job.setStatus(StatusProcessing)
	if wp.observer != nil {
		wp.observer.WorkerBusy(1)
		defer wp.observer.WorkerBusy(-1)
	}

	var (
		rec *types.MemoRecord
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Worker %d: PANIC processing job %s: %v\n%s",
					workerID, job.ID, r, string(debug.Stack()))
				err = fmt.Errorf("worker panic: %v", r)
				last := job.Snapshot()
				job.publish(types.ProcessingJob{
					MemoID:    last.MemoID,
					Stage:     types.StageError,
					Progress:  last.Progress,
					Message:   "Processing failed unexpectedly",
					Error:     err.Error(),
					ErrorKind: "unknown_error",
					UpdatedAt: time.Now(),
				})
			}
		}()
		rec, err = job.Run(ctx, job.publish)
	}()

	wp.cleanupTempFiles(job.TempFiles)
	if last := job.Snapshot(); !last.Stage.Terminal() {
		final := types.ProcessingJob{MemoID: last.MemoID, Stage: types.StageComplete, Progress: 100, Message: "Done", UpdatedAt: time.Now()}
		if err != nil {
			final = types.ProcessingJob{MemoID: last.MemoID, Stage: types.StageError, Progress: last.Progress, Message: "Processing failed", Error: err.Error(), ErrorKind: "unknown_error", UpdatedAt: time.Now()}
		}
		job.publish(final)
	}
	job.finish(rec, err)
	if err != nil {
		log.Printf("Worker %d: Job %s failed: %v", workerID, job.ID, err)
		return
	}
	log.Printf("Worker %d: Job %s completed successfully (memo: %s)", workerID, job.ID, rec.ID)
}

func (wp *WorkerPool) reportDepth() {
	if wp.observer != nil {
		wp.observer.QueueDepth(len(wp.jobQueue))
	}
}

// cleanupTempFiles removes temporary files
func (wp *WorkerPool) cleanupTempFiles(paths []string) {
	for _, filePath := range paths {
		if filePath == "" {
			continue
		}
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			log.Printf("Failed to cleanup temp file %s: %v", filePath, err)
		}
	}
}
