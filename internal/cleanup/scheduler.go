package cleanup

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"
)

// StaleMarker fails provisional memos that stopped progressing.
type StaleMarker interface {
	MarkStale(ctx context.Context, cutoff time.Time, message string) (int, error)
}

// JobPruner forgets finished jobs.
type JobPruner interface {
	PruneFinished(cutoff time.Time) int
}

// Options configures the sweeps. Zero durations disable a sweep.
type Options struct {
	TempDir      string
	Interval     time.Duration
	MaxFileAge   time.Duration
	JobRetention time.Duration
	StaleAfter   time.Duration
}

// staleMessage is stored on memos the sweep gives up on.
const staleMessage = "Processing did not finish; retry the transcription"

// Scheduler periodically removes old temp files, finished job handles and
// stuck provisional records.
type Scheduler struct {
	opts     Options
	memos    StaleMarker
	jobs     JobPruner
	now      func() time.Time
	stopChan chan struct{}
	done     chan struct{}
}

// NewScheduler creates a new cleanup scheduler. memos and jobs may be nil.
func NewScheduler(opts Options, memos StaleMarker, jobs JobPruner) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Minute
	}
	return &Scheduler{
		opts:     opts,
		memos:    memos,
		jobs:     jobs,
		now:      time.Now,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the cleanup scheduler
func (s *Scheduler) Start() {
	log.Println("Running initial cleanup...")
	s.RunOnce(context.Background())

	ticker := time.NewTicker(s.opts.Interval)

	go func() {
		defer close(s.done)
		for {
			select {
			case <-ticker.C:
				s.RunOnce(context.Background())
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	log.Printf("Cleanup scheduler started (interval: %s, max file age: %s, stale after: %s)",
		s.opts.Interval, s.opts.MaxFileAge, s.opts.StaleAfter)
}

// Stop stops the cleanup scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
	<-s.done
	log.Println("Cleanup scheduler stopped")
}

// RunOnce performs every enabled sweep.
func (s *Scheduler) RunOnce(ctx context.Context) {
	now := s.now()
	if s.opts.TempDir != "" && s.opts.MaxFileAge > 0 {
		s.cleanOldFiles(now)
	}
	if s.jobs != nil && s.opts.JobRetention > 0 {
		if n := s.jobs.PruneFinished(now.Add(-s.opts.JobRetention)); n > 0 {
			log.Printf("Cleanup: forgot %d finished jobs", n)
		}
	}
	if s.memos != nil && s.opts.StaleAfter > 0 {
		n, err := s.memos.MarkStale(ctx, now.Add(-s.opts.StaleAfter), staleMessage)
		if err != nil {
			log.Printf("Cleanup: failed to mark stale memos: %v", err)
		} else if n > 0 {
			log.Printf("Cleanup: marked %d stale memos as failed", n)
		}
	}
}

// cleanOldFiles removes files older than MaxFileAge from the temp directory
func (s *Scheduler) cleanOldFiles(now time.Time) {
	var deletedCount int
	var deletedSize int64

	err := filepath.Walk(s.opts.TempDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}

		if info.IsDir() {
			return nil
		}

		age := now.Sub(info.ModTime())
		if age > s.opts.MaxFileAge {
			size := info.Size()
			if err := os.Remove(path); err != nil {
				log.Printf("Failed to delete old file %s: %v", path, err)
			} else {
				deletedCount++
				deletedSize += size
				log.Printf("Deleted old temp file: %s (age: %s, size: %dKB)",
					filepath.Base(path), age.Round(time.Minute), size/1024)
			}
		}

		return nil
	})

	if err != nil {
		log.Printf("Error during cleanup: %v", err)
	}

	if deletedCount > 0 {
		log.Printf("Cleanup complete: %d files deleted, %.2fMB freed",
			deletedCount, float64(deletedSize)/(1024*1024))
	}
}

// EnsureTempDirExists creates the temp directory if it doesn't exist
func EnsureTempDirExists(tempDir string) error {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return err
	}
	log.Printf("Temp directory ready: %s", tempDir)
	return nil
}
