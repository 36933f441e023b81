package memo

import (
	"context"

	"github.com/codebuildervaibhav/voice-memos/internal/types"
)

// updateBuffer holds every snapshot one job can emit, so a job never blocks
// on a slow or absent subscriber.
const updateBuffer = 8

// Job is a running pipeline job. Updates yields its snapshots in order and
// is closed after the terminal one.
type Job struct {
	updates chan types.ProcessingJob
	done    chan struct{}
	record  *types.MemoRecord
	err     error
}

func runJob(fn func(Sink) (*types.MemoRecord, error)) *Job {
	j := &Job{
		updates: make(chan types.ProcessingJob, updateBuffer),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(j.done)
		defer close(j.updates)
		j.record, j.err = fn(func(s types.ProcessingJob) { j.updates <- s })
	}()
	return j
}

// Start runs Process in the background.
func (p *Pipeline) Start(ctx context.Context, sub Submission) *Job {
	return runJob(func(sink Sink) (*types.MemoRecord, error) {
		return p.Process(ctx, sub, sink)
	})
}

// Updates returns the snapshot sequence. It supports a single subscriber.
func (j *Job) Updates() <-chan types.ProcessingJob {
	return j.updates
}

// Done is closed when the job has finished.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes and returns its record or error.
func (j *Job) Wait() (*types.MemoRecord, error) {
	<-j.done
	return j.record, j.err
}
