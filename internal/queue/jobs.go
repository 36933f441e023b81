package queue

import (
	"context"
	"sync"
	"time"

	"github.com/codebuildervaibhav/voice-memos/internal/memo"
	"github.com/codebuildervaibhav/voice-memos/internal/types"
)

// Job statuses
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// subscriberBuffer exceeds the number of snapshots one job emits.
const subscriberBuffer = 16

// RunFunc runs one pipeline job, reporting snapshots to sink.
type RunFunc func(ctx context.Context, sink memo.Sink) (*types.MemoRecord, error)

// Job represents a queued pipeline run
type Job struct {
	ID        string
	UserID    string
	Kind      string // submit, retry or import
	Run       RunFunc
	TempFiles []string // removed once the job finishes
	CreatedAt time.Time

	mu         sync.Mutex
	status     string
	snapshot   types.ProcessingJob
	record     *types.MemoRecord
	err        error
	finishedAt time.Time
	subs       map[chan types.ProcessingJob]struct{}
	done       chan struct{}
}

// NewJob creates a new job with default values
func NewJob(id, userID, kind string, run RunFunc) *Job {
	now := time.Now()
	return &Job{
		ID:        id,
		UserID:    userID,
		Kind:      kind,
		Run:       run,
		CreatedAt: now,
		status:    StatusQueued,
		snapshot: types.ProcessingJob{
			Stage:     types.StageUploading,
			Message:   "Queued",
			UpdatedAt: now,
		},
		subs: map[chan types.ProcessingJob]struct{}{},
		done: make(chan struct{}),
	}
}

// Status returns the job status.
func (j *Job) Status() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Snapshot returns the latest progress snapshot.
func (j *Job) Snapshot() types.ProcessingJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshot
}

// Result returns the final record and error once the job has finished.
func (j *Job) Result() (*types.MemoRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.record, j.err
}

// Done is closed when the job finishes.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Subscribe returns the latest snapshot followed by every later one. The
// channel is closed after the terminal snapshot. cancel stops delivery early.
func (j *Job) Subscribe() (<-chan types.ProcessingJob, func()) {
	ch := make(chan types.ProcessingJob, subscriberBuffer)

	j.mu.Lock()
	defer j.mu.Unlock()
	ch <- j.snapshot
	if j.snapshot.Stage.Terminal() {
		close(ch)
		return ch, func() {}
	}
	j.subs[ch] = struct{}{}

	return ch, func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if _, ok := j.subs[ch]; ok {
			delete(j.subs, ch)
			close(ch)
		}
	}
}

func (j *Job) setStatus(status string) {
	j.mu.Lock()
	j.status = status
	j.mu.Unlock()
}

// publish records s and fans it out. Terminal snapshots close subscribers.
func (j *Job) publish(s types.ProcessingJob) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.snapshot.Stage.Terminal() {
		return
	}
	j.snapshot = s
	for ch := range j.subs {
		select {
		case ch <- s:
		default:
		}
		if s.Stage.Terminal() {
			close(ch)
			delete(j.subs, ch)
		}
	}
}

func (j *Job) finish(rec *types.MemoRecord, err error) {
	j.mu.Lock()
	j.record, j.err = rec, err
	j.finishedAt = time.Now()
	if err != nil {
		j.status = StatusFailed
	} else {
		j.status = StatusCompleted
	}
	j.mu.Unlock()
	close(j.done)
}

func (j *Job) finishedBefore(cutoff time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return !j.finishedAt.IsZero() && j.finishedAt.Before(cutoff)
}
