package memo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/voice-memos/internal/capture"
	"github.com/codebuildervaibhav/voice-memos/internal/transcription"
	"github.com/codebuildervaibhav/voice-memos/internal/types"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]*types.MemoRecord
	creates int
	seq     int
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*types.MemoRecord{}}
}

func (s *memStore) Create(_ context.Context, rec *types.MemoRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	s.seq++
	cp := *rec
	cp.ID = fmt.Sprintf("memo-%d", s.seq)
	s.records[cp.ID] = &cp
	return cp.ID, nil
}

func (s *memStore) Update(_ context.Context, id string, upd types.MemoUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return errors.New("not found")
	}
	if upd.Title != nil {
		rec.Title = *upd.Title
	}
	if upd.AudioURL != nil {
		rec.AudioURL = *upd.AudioURL
	}
	if upd.MimeType != nil {
		rec.MimeType = *upd.MimeType
	}
	if upd.DurationSeconds != nil {
		rec.DurationSeconds = *upd.DurationSeconds
	}
	if upd.FileSizeBytes != nil {
		rec.FileSizeBytes = *upd.FileSizeBytes
	}
	if upd.Transcription != nil {
		rec.Transcription = upd.Transcription
	}
	if upd.TranscriptionStatus != nil {
		rec.TranscriptionStatus = *upd.TranscriptionStatus
	}
	if upd.TranscriptionRetryCount != nil {
		rec.TranscriptionRetryCount = *upd.TranscriptionRetryCount
	}
	if upd.TranscriptionError != nil {
		rec.TranscriptionError = *upd.TranscriptionError
	}
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*types.MemoRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *rec
	return &cp, nil
}

type memBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (b *memBlobs) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		b.data = map[string][]byte{}
	}
	ref := "mem://" + key
	b.data[ref] = data
	return ref, nil
}

func (b *memBlobs) Get(_ context.Context, ref string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.data[ref]
	if !ok {
		return nil, errors.New("no blob")
	}
	return data, nil
}

type fixedDuration float64

func (d fixedDuration) Resolve(context.Context, []byte, string) float64 { return float64(d) }

type countingProvider struct {
	name  string
	resp  transcription.Response
	err   error
	mu    sync.Mutex
	calls int
}

func (c *countingProvider) Name() string { return c.name }

func (c *countingProvider) Transcribe(context.Context, transcription.Audio, transcription.Options) (transcription.Response, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.resp, c.err
}

type snapshots struct {
	mu   sync.Mutex
	list []types.ProcessingJob
}

func (s *snapshots) sink(j types.ProcessingJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = append(s.list, j)
}

func (s *snapshots) stages() []types.Stage {
	out := make([]types.Stage, len(s.list))
	for i, j := range s.list {
		out[i] = j.Stage
	}
	return out
}

func cloud(text string) *countingProvider {
	return &countingProvider{name: "cloud", resp: &transcription.CloudResponse{Name: "cloud", Text: text, Language: "en"}}
}

func newTestPipeline(store *memStore, primary, fallback transcription.Provider, maxPayload int) *Pipeline {
	orch := transcription.NewOrchestrator(primary, fallback, time.Second)
	return NewPipeline(store, &memBlobs{}, orch, fixedDuration(7), maxPayload)
}

func TestPipelineOversizePayloadFailsBeforeProviders(t *testing.T) {
	store := newMemStore()
	primary, fallback := cloud("x"), cloud("y")
	p := newTestPipeline(store, primary, fallback, 1024)

	var snaps snapshots
	_, err := p.Process(context.Background(), Submission{
		UserID: "u1", Audio: make([]byte, 2048), MimeType: "audio/wav",
	}, snaps.sink)

	require.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Zero(t, primary.calls)
	assert.Zero(t, fallback.calls)

	last := snaps.list[len(snaps.list)-1]
	assert.Equal(t, types.StageError, last.Stage)
	assert.Equal(t, string(transcription.KindFileTooLarge), last.ErrorKind)
	assert.False(t, last.Retryable)

	rec, err := store.Get(context.Background(), "memo-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, rec.TranscriptionStatus)
	assert.NotEmpty(t, rec.TranscriptionError)
}

func TestPipelineFallbackConfidence(t *testing.T) {
	store := newMemStore()
	primary := &countingProvider{name: "cloud", err: transcription.NewError(transcription.KindNetworkError, "offline", nil)}
	fallback := &countingProvider{name: "speech", resp: &transcription.RecognitionResponse{Name: "speech", Finals: []string{"fallback text"}}}
	p := newTestPipeline(store, primary, fallback, 0)

	var snaps snapshots
	rec, err := p.Process(context.Background(), Submission{UserID: "u1", Audio: []byte("RIFF"), MimeType: "audio/wav"}, snaps.sink)
	require.NoError(t, err)

	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
	require.NotNil(t, rec.Transcription.Confidence)
	assert.Equal(t, transcription.FallbackConfidence, *rec.Transcription.Confidence)

	transcribing := 0
	for _, s := range snaps.stages() {
		if s == types.StageTranscribing {
			transcribing++
		}
	}
	assert.Equal(t, 1, transcribing)
}

func TestPipelineProgressIsMonotonic(t *testing.T) {
	cases := map[string]*countingProvider{
		"success": cloud("hello there"),
		"failure": {name: "cloud", err: transcription.NewError(transcription.KindAPIError, "boom", nil)},
	}
	for name, primary := range cases {
		t.Run(name, func(t *testing.T) {
			p := newTestPipeline(newMemStore(), primary, nil, 0)
			var snaps snapshots
			_, _ = p.Process(context.Background(), Submission{UserID: "u1", Audio: []byte("RIFF"), MimeType: "audio/wav"}, snaps.sink)

			require.NotEmpty(t, snaps.list)
			for i := 1; i < len(snaps.list); i++ {
				assert.GreaterOrEqual(t, snaps.list[i].Progress, snaps.list[i-1].Progress)
			}
			last := snaps.list[len(snaps.list)-1]
			if name == "success" {
				assert.Equal(t, types.StageComplete, last.Stage)
				assert.Equal(t, 100, last.Progress)
			} else {
				assert.Equal(t, types.StageError, last.Stage)
				assert.True(t, last.Retryable)
			}
		})
	}
}

func TestPipelineStageSequence(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(store, cloud("hello"), nil, 0)

	var snaps snapshots
	rec, err := p.Process(context.Background(), Submission{UserID: "u1", Audio: []byte("RIFF"), MimeType: "audio/wav", Title: "Standup"}, snaps.sink)
	require.NoError(t, err)

	assert.Equal(t, []types.Stage{
		types.StageUploading, types.StageUploading, types.StageUploading,
		types.StageTranscribing, types.StageSaving, types.StageComplete,
	}, snaps.stages())
	assert.Equal(t, "hello", snaps.list[4].TranscriptionResult.Text)
	assert.Equal(t, "Standup", rec.Title)
	assert.Equal(t, 7.0, rec.DurationSeconds)
	assert.Equal(t, 1, store.creates)
}

func TestPipelineFailureKeepsStatus(t *testing.T) {
	store := newMemStore()
	primary := &countingProvider{name: "cloud", err: transcription.NewError(transcription.KindAuthenticationFailed, "bad key", nil)}
	fallback := &countingProvider{name: "speech", err: errors.New("no speech")}
	p := newTestPipeline(store, primary, fallback, 0)

	_, err := p.Process(context.Background(), Submission{UserID: "u1", Audio: []byte("RIFF"), MimeType: "audio/wav"}, nil)
	require.ErrorIs(t, err, transcription.ErrBothProvidersFailed)

	rec, _ := store.Get(context.Background(), "memo-1")
	assert.Equal(t, types.StatusProcessing, rec.TranscriptionStatus)
	assert.Contains(t, rec.TranscriptionError, "both providers failed")
}

func TestPipelineMissingAuth(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(store, cloud("x"), nil, 0)

	var snaps snapshots
	_, err := p.Process(context.Background(), Submission{Audio: []byte("RIFF")}, snaps.sink)
	require.ErrorIs(t, err, ErrMissingAuth)
	assert.Zero(t, store.creates)
	require.Len(t, snaps.list, 1)
	assert.Equal(t, types.StageError, snaps.list[0].Stage)
}

func TestPipelineRetry(t *testing.T) {
	store := newMemStore()
	primary := &countingProvider{name: "cloud", err: transcription.NewError(transcription.KindNetworkError, "offline", nil)}
	p := newTestPipeline(store, primary, nil, 0)

	_, err := p.Process(context.Background(), Submission{UserID: "u1", Audio: []byte("RIFF"), MimeType: "audio/wav"}, nil)
	require.Error(t, err)

	primary.err = nil
	primary.resp = &transcription.CloudResponse{Name: "cloud", Text: "second time lucky"}

	_, err = p.Retry(context.Background(), "u2", "memo-1", transcription.Options{}, nil)
	require.ErrorIs(t, err, ErrNotOwner)

	var snaps snapshots
	rec, err := p.Retry(context.Background(), "u1", "memo-1", transcription.Options{}, snaps.sink)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TranscriptionRetryCount)
	assert.Equal(t, types.StatusCompleted, rec.TranscriptionStatus)
	assert.Equal(t, "second time lucky", rec.Title)
	assert.Equal(t, types.StageTranscribing, snaps.list[0].Stage)
	assert.Equal(t, 1, store.creates)

	stored, _ := store.Get(context.Background(), "memo-1")
	assert.Empty(t, stored.TranscriptionError)
}

func TestJobUpdatesClosedAfterTerminal(t *testing.T) {
	p := newTestPipeline(newMemStore(), cloud("done"), nil, 0)
	job := p.Start(context.Background(), Submission{UserID: "u1", Audio: []byte("RIFF"), MimeType: "audio/wav"})

	var last types.ProcessingJob
	for s := range job.Updates() {
		last = s
	}
	assert.Equal(t, types.StageComplete, last.Stage)

	rec, err := job.Wait()
	require.NoError(t, err)
	assert.Equal(t, "done", rec.Title)
}

// Records three seconds of audio, stops, and submits it without a title.
func TestRecordAndTranscribeEndToEnd(t *testing.T) {
	format := capture.Format{SampleRate: 16000, Channels: 1}
	src := capture.NewPushSource(64)
	engine := capture.NewEngine(src, capture.NewProbe(format, ""), capture.Config{Format: format}, capture.Handlers{})

	var mu sync.Mutex
	now := time.Unix(1700000000, 0)
	engine.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})

	require.NoError(t, engine.Initialize(context.Background()))
	_, err := engine.Start(0)
	require.NoError(t, err)

	frame := make([]byte, format.BytesPerSecond()/10)
	for i := 0; i < 30; i++ {
		require.NoError(t, src.Push(context.Background(), frame))
	}
	mu.Lock()
	now = now.Add(3 * time.Second)
	mu.Unlock()

	recording, err := engine.Stop()
	require.NoError(t, err)
	assert.Equal(t, 3.0, recording.DurationSeconds)
	assert.Equal(t, "audio/wav", recording.MimeType)

	store := newMemStore()
	primary := &countingProvider{name: "cloud", resp: &transcription.CloudResponse{Name: "cloud", Text: "会議の議事録です。", Language: "ja"}}
	p := newTestPipeline(store, primary, nil, 0)

	rec, err := p.Process(context.Background(), Submission{
		UserID:          "u1",
		Audio:           recording.Blob,
		MimeType:        recording.MimeType,
		DurationSeconds: recording.DurationSeconds,
		Language:        "ja-JP",
	}, nil)
	require.NoError(t, err)

	stored, err := store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "会議の議事録です。", stored.Title)
	assert.Equal(t, types.StatusCompleted, stored.TranscriptionStatus)
	assert.Equal(t, 3.0, stored.DurationSeconds)
	assert.Equal(t, "会議の議事録です。", stored.Transcription.Text)
}
