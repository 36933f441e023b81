package memo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/codebuildervaibhav/voice-memos/internal/transcription"
	"github.com/codebuildervaibhav/voice-memos/internal/types"
)

// DefaultMaxPayloadBytes is the audio ceiling of the inline blob store.
const DefaultMaxPayloadBytes = 1 << 20

var (
	// ErrPayloadTooLarge is returned before any upload or provider call when
	// the audio exceeds the configured ceiling.
	ErrPayloadTooLarge = errors.New("audio payload too large")
	// ErrMissingAuth is returned when a submission carries no user id.
	ErrMissingAuth = errors.New("missing auth context")
	// ErrNotOwner is returned when retrying another user's memo.
	ErrNotOwner = errors.New("memo belongs to another user")
	// ErrNoAudio is returned when retrying a memo that has no stored audio.
	ErrNoAudio = errors.New("memo has no audio")
)

// Store is the document store the pipeline writes provisional records to.
type Store interface {
	Create(ctx context.Context, rec *types.MemoRecord) (string, error)
	Update(ctx context.Context, id string, upd types.MemoUpdate) error
	Get(ctx context.Context, id string) (*types.MemoRecord, error)
}

// BlobStore stores audio payloads and returns a retrievable reference.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, mimeType string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Transcriber turns audio into a normalized result.
type Transcriber interface {
	Transcribe(ctx context.Context, audio transcription.Audio, opts transcription.Options) (*types.TranscriptionResult, error)
}

// DurationResolver estimates the length of an audio blob.
type DurationResolver interface {
	Resolve(ctx context.Context, data []byte, mimeType string) float64
}

// Observer is told about stage transitions and finished jobs.
type Observer interface {
	StageEntered(stage types.Stage)
	JobFinished(outcome string, elapsed time.Duration)
}

// Sink receives every snapshot of a job in order.
type Sink func(types.ProcessingJob)

// Submission is one audio memo to process.
type Submission struct {
	UserID          string
	Audio           []byte
	MimeType        string
	DurationSeconds float64 // wall-clock recording time; 0 if unknown
	Title           string
	TextContent     string
	Language        string
	Prompt          string
}

// Pipeline runs the upload, transcribe and save steps for one memo at a time.
// It is safe for concurrent use; each call works on its own record.
type Pipeline struct {
	store       Store
	blobs       BlobStore
	transcriber Transcriber
	durations   DurationResolver
	maxPayload  int
	observer    Observer
	now         func() time.Time
}

// NewPipeline wires the pipeline's collaborators. maxPayload <= 0 uses
// DefaultMaxPayloadBytes.
func NewPipeline(store Store, blobs BlobStore, transcriber Transcriber, durations DurationResolver, maxPayload int) *Pipeline {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayloadBytes
	}
	return &Pipeline{
		store:       store,
		blobs:       blobs,
		transcriber: transcriber,
		durations:   durations,
		maxPayload:  maxPayload,
		now:         time.Now,
	}
}

// SetObserver registers a metrics observer.
func (p *Pipeline) SetObserver(o Observer) {
	p.observer = o
}

// MaxPayload returns the audio ceiling in bytes.
func (p *Pipeline) MaxPayload() int {
	return p.maxPayload
}

// tracker emits snapshots and remembers the last progress so the error
// snapshot never moves backwards.
type tracker struct {
	p      *Pipeline
	sink   Sink
	memoID string
	last   int
}

func (t *tracker) emit(stage types.Stage, progress int, message string, result *types.TranscriptionResult) {
	if progress < t.last {
		progress = t.last
	}
	t.last = progress
	if t.p.observer != nil {
		t.p.observer.StageEntered(stage)
	}
	if t.sink == nil {
		return
	}
	t.sink(types.ProcessingJob{
		MemoID:              t.memoID,
		Stage:               stage,
		Progress:            progress,
		Message:             message,
		TranscriptionResult: result,
		UpdatedAt:           t.p.now(),
	})
}

func (t *tracker) fail(err error) error {
	kind, retryable, message := describe(err)
	if t.p.observer != nil {
		t.p.observer.StageEntered(types.StageError)
	}
	if t.sink != nil {
		t.sink(types.ProcessingJob{
			MemoID:    t.memoID,
			Stage:     types.StageError,
			Progress:  t.last,
			Message:   message,
			Error:     err.Error(),
			ErrorKind: string(kind),
			Retryable: retryable,
			UpdatedAt: t.p.now(),
		})
	}
	return err
}

// describe maps a pipeline failure to a kind, retryability and message.
func describe(err error) (transcription.Kind, bool, string) {
	switch {
	case errors.Is(err, ErrPayloadTooLarge):
		return transcription.KindFileTooLarge, false, err.Error()
	case errors.Is(err, ErrMissingAuth), errors.Is(err, ErrNotOwner):
		return transcription.KindAuthenticationFailed, false, err.Error()
	case errors.Is(err, ErrNoAudio):
		return transcription.KindInvalidFormat, false, err.Error()
	}
	terr := transcription.Classify(err)
	return terr.Kind, terr.Retryable, terr.Message
}

// Process runs the whole job for sub, reporting each stage to sink. The job
// is not cancelled by ctx; once started it always reaches a terminal stage.
// On failure the error is returned and also delivered as an error snapshot.
func (p *Pipeline) Process(ctx context.Context, sub Submission, sink Sink) (*types.MemoRecord, error) {
	ctx = context.WithoutCancel(ctx)
	start := p.now()
	rec, err := p.process(ctx, sub, &tracker{p: p, sink: sink})
	p.finished(start, err)
	return rec, err
}

func (p *Pipeline) process(ctx context.Context, sub Submission, t *tracker) (*types.MemoRecord, error) {
	if sub.UserID == "" {
		return nil, t.fail(ErrMissingAuth)
	}

	// Step 1: provisional record.
	now := p.now()
	rec := &types.MemoRecord{
		UserID:              sub.UserID,
		Type:                types.MemoAudio,
		Title:               sub.Title,
		CreatedAt:           now,
		UpdatedAt:           now,
		MimeType:            sub.MimeType,
		TextContent:         sub.TextContent,
		TranscriptionStatus: types.StatusPending,
	}
	if sub.TextContent != "" {
		rec.Type = types.MemoMixed
	}
	id, err := p.store.Create(ctx, rec)
	if err != nil {
		return nil, t.fail(fmt.Errorf("failed to create memo: %w", err))
	}
	rec.ID = id
	t.memoID = id
	t.emit(types.StageUploading, 0, "Creating memo", nil)

	// Step 2: upload.
	if len(sub.Audio) > p.maxPayload {
		err := fmt.Errorf("%w: audio is %s, the limit is %s", ErrPayloadTooLarge, formatSize(len(sub.Audio)), formatSize(p.maxPayload))
		return rec, p.failRecord(ctx, rec, t, err)
	}
	ref, err := p.blobs.Put(ctx, id, sub.Audio, sub.MimeType)
	if err != nil {
		return rec, p.failRecord(ctx, rec, t, fmt.Errorf("failed to upload audio: %w", err))
	}
	t.emit(types.StageUploading, 40, "Audio uploaded", nil)

	// Step 3: duration and audio details.
	seconds := sub.DurationSeconds
	if seconds <= 0 {
		seconds = p.durations.Resolve(ctx, sub.Audio, sub.MimeType)
	}
	size := int64(len(sub.Audio))
	err = p.store.Update(ctx, id, types.MemoUpdate{
		AudioURL:        &ref,
		MimeType:        &sub.MimeType,
		DurationSeconds: &seconds,
		FileSizeBytes:   &size,
	})
	if err != nil {
		return rec, p.failRecord(ctx, rec, t, fmt.Errorf("failed to save audio details: %w", err))
	}
	rec.AudioURL, rec.DurationSeconds, rec.FileSizeBytes = ref, seconds, size
	t.emit(types.StageUploading, 50, "Audio details saved", nil)

	return p.transcribeAndSave(ctx, rec, sub.Audio, transcription.Options{Language: sub.Language, Prompt: sub.Prompt}, t)
}

// transcribeAndSave runs steps 4 and 5 against an existing record.
func (p *Pipeline) transcribeAndSave(ctx context.Context, rec *types.MemoRecord, audio []byte, opts transcription.Options, t *tracker) (*types.MemoRecord, error) {
	if err := p.store.Update(ctx, rec.ID, types.MemoUpdate{TranscriptionStatus: types.String(types.StatusProcessing)}); err != nil {
		return rec, p.failRecord(ctx, rec, t, fmt.Errorf("failed to mark memo processing: %w", err))
	}
	rec.TranscriptionStatus = types.StatusProcessing
	t.emit(types.StageTranscribing, 60, "Transcribing audio", nil)

	result, err := p.transcriber.Transcribe(ctx, transcription.Audio{Data: audio, MimeType: rec.MimeType, DurationSeconds: rec.DurationSeconds}, opts)
	if err != nil {
		return rec, p.failRecord(ctx, rec, t, err)
	}
	t.emit(types.StageSaving, 90, "Saving transcription", result)

	upd := types.MemoUpdate{
		Transcription:       result,
		TranscriptionStatus: types.String(types.StatusCompleted),
		TranscriptionError:  types.String(""),
	}
	if IsPlaceholderTitle(rec.Title) {
		if title := DeriveTitle(result.Text); title != "" {
			upd.Title = &title
		}
	}
	if err := p.store.Update(ctx, rec.ID, upd); err != nil {
		return rec, p.failRecord(ctx, rec, t, fmt.Errorf("failed to save transcription: %w", err))
	}
	rec.Transcription = result
	rec.TranscriptionStatus = types.StatusCompleted
	rec.TranscriptionError = ""
	if upd.Title != nil {
		rec.Title = *upd.Title
	}
	rec.UpdatedAt = p.now()

	t.emit(types.StageComplete, 100, "Memo saved", nil)
	log.Printf("Pipeline: memo %s transcribed by %s (%d chars)", rec.ID, result.Provider, len(result.Text))
	return rec, nil
}

// failRecord records the failure on the memo without touching its status,
// then emits the error snapshot.
func (p *Pipeline) failRecord(ctx context.Context, rec *types.MemoRecord, t *tracker, err error) error {
	_, _, message := describe(err)
	rec.TranscriptionError = message
	if uerr := p.store.Update(ctx, rec.ID, types.MemoUpdate{TranscriptionError: &message}); uerr != nil {
		log.Printf("Pipeline: failed to record error on memo %s: %v", rec.ID, uerr)
	}
	log.Printf("Pipeline: memo %s failed: %v", rec.ID, err)
	return t.fail(err)
}

// Retry re-runs transcription and saving for an existing memo, using the
// audio already stored for it.
func (p *Pipeline) Retry(ctx context.Context, userID, memoID string, opts transcription.Options, sink Sink) (*types.MemoRecord, error) {
	ctx = context.WithoutCancel(ctx)
	start := p.now()
	rec, err := p.retry(ctx, userID, memoID, opts, &tracker{p: p, sink: sink, memoID: memoID})
	p.finished(start, err)
	return rec, err
}

func (p *Pipeline) retry(ctx context.Context, userID, memoID string, opts transcription.Options, t *tracker) (*types.MemoRecord, error) {
	if userID == "" {
		return nil, t.fail(ErrMissingAuth)
	}
	rec, err := p.store.Get(ctx, memoID)
	if err != nil {
		return nil, t.fail(fmt.Errorf("failed to load memo: %w", err))
	}
	if rec.UserID != userID {
		return nil, t.fail(ErrNotOwner)
	}
	if rec.AudioURL == "" {
		return rec, t.fail(ErrNoAudio)
	}

	audio, err := p.blobs.Get(ctx, rec.AudioURL)
	if err != nil {
		return rec, p.failRecord(ctx, rec, t, fmt.Errorf("failed to load audio: %w", err))
	}

	count := rec.TranscriptionRetryCount + 1
	if err := p.store.Update(ctx, rec.ID, types.MemoUpdate{TranscriptionRetryCount: &count}); err != nil {
		return rec, p.failRecord(ctx, rec, t, fmt.Errorf("failed to update retry count: %w", err))
	}
	rec.TranscriptionRetryCount = count
	log.Printf("Pipeline: retrying memo %s (attempt %d)", rec.ID, count)

	return p.transcribeAndSave(ctx, rec, audio, opts, t)
}

func (p *Pipeline) finished(start time.Time, err error) {
	if p.observer == nil {
		return
	}
	outcome := "complete"
	if err != nil {
		kind, _, _ := describe(err)
		outcome = string(kind)
	}
	p.observer.JobFinished(outcome, p.now().Sub(start))
}

func formatSize(n int) string {
	return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
}
