package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/voice-memos/internal/memo"
	"github.com/codebuildervaibhav/voice-memos/internal/types"
)

func startPool(t *testing.T, workers, size int) *WorkerPool {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	wp := NewWorkerPool(workers, size)
	wp.Start(ctx)
	t.Cleanup(func() {
		cancel()
		wp.Wait()
	})
	return wp
}

func waitDone(t *testing.T, job *Job) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("job did not finish")
	}
}

func TestWorkerPoolRunsJobAndFansOutSnapshots(t *testing.T) {
	wp := startPool(t, 2, 4)
	release := make(chan struct{})

	job := NewJob("job-1", "u1", "submit", func(ctx context.Context, sink memo.Sink) (*types.MemoRecord, error) {
		sink(types.ProcessingJob{MemoID: "m1", Stage: types.StageUploading, Progress: 0})
		<-release
		sink(types.ProcessingJob{MemoID: "m1", Stage: types.StageTranscribing, Progress: 60})
		sink(types.ProcessingJob{MemoID: "m1", Stage: types.StageComplete, Progress: 100})
		return &types.MemoRecord{ID: "m1"}, nil
	})
	require.NoError(t, wp.EnqueueJob(job))

	updates, cancel := job.Subscribe()
	defer cancel()
	close(release)

	var got []types.ProcessingJob
	for s := range updates {
		got = append(got, s)
	}
	require.NotEmpty(t, got)
	assert.Equal(t, types.StageComplete, got[len(got)-1].Stage)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i].Progress, got[i-1].Progress)
	}

	waitDone(t, job)
	assert.Equal(t, StatusCompleted, job.Status())
	rec, err := job.Result()
	require.NoError(t, err)
	assert.Equal(t, "m1", rec.ID)

	late, _ := job.Subscribe()
	s, ok := <-late
	require.True(t, ok)
	assert.Equal(t, types.StageComplete, s.Stage)
	_, ok = <-late
	assert.False(t, ok)
}

func TestWorkerPoolRecoversPanic(t *testing.T) {
	wp := startPool(t, 1, 4)
	dir := t.TempDir()
	tmp := filepath.Join(dir, "upload.wav")
	require.NoError(t, os.WriteFile(tmp, []byte("x"), 0644))

	job := NewJob("job-panic", "u1", "submit", func(ctx context.Context, sink memo.Sink) (*types.MemoRecord, error) {
		panic("boom")
	})
	job.TempFiles = []string{tmp}
	require.NoError(t, wp.EnqueueJob(job))
	waitDone(t, job)

	assert.Equal(t, StatusFailed, job.Status())
	assert.Equal(t, types.StageError, job.Snapshot().Stage)
	_, err := os.Stat(tmp)
	assert.True(t, os.IsNotExist(err))

	// The pool keeps working after a panic.
	next := NewJob("job-next", "u1", "submit", func(ctx context.Context, sink memo.Sink) (*types.MemoRecord, error) {
		return nil, errors.New("failed quietly")
	})
	require.NoError(t, wp.EnqueueJob(next))
	waitDone(t, next)
	assert.Equal(t, types.StageError, next.Snapshot().Stage)
}

func TestWorkerPoolQueueFull(t *testing.T) {
	wp := NewWorkerPool(1, 1) // not started
	noop := func(ctx context.Context, sink memo.Sink) (*types.MemoRecord, error) { return nil, nil }

	require.NoError(t, wp.EnqueueJob(NewJob("a", "u1", "submit", noop)))
	assert.ErrorIs(t, wp.EnqueueJob(NewJob("b", "u1", "submit", noop)), ErrQueueFull)

	_, err := wp.Get("b")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestWorkerPoolPruneFinished(t *testing.T) {
	wp := startPool(t, 1, 4)
	job := NewJob("done", "u1", "submit", func(ctx context.Context, sink memo.Sink) (*types.MemoRecord, error) {
		return &types.MemoRecord{ID: "m"}, nil
	})
	require.NoError(t, wp.EnqueueJob(job))
	waitDone(t, job)

	assert.Zero(t, wp.PruneFinished(time.Now().Add(-time.Hour)))
	assert.Equal(t, 1, wp.PruneFinished(time.Now().Add(time.Second)))
	_, err := wp.Get("done")
	assert.ErrorIs(t, err, ErrJobNotFound)
}
