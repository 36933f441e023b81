package transcription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/voice-memos/internal/types"
)

type stubProvider struct {
	name  string
	resp  Response
	err   error
	calls int
	block bool
	opts  Options
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Transcribe(ctx context.Context, _ Audio, opts Options) (Response, error) {
	s.calls++
	s.opts = opts
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.resp, s.err
}

type attemptLog struct {
	mu       sync.Mutex
	outcomes []string
}

func (a *attemptLog) ProviderAttempt(provider, outcome string, _ time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes = append(a.outcomes, provider+"="+outcome)
}

var sample = Audio{Data: []byte("RIFF"), MimeType: "audio/wav"}

func TestOrchestratorPrimarySuccess(t *testing.T) {
	primary := &stubProvider{name: "cloud", resp: &CloudResponse{
		Name: "cloud", Text: " hello ", Language: "en", DurationSeconds: 2,
		Segments: []types.Segment{{Start: 0, End: 1, Text: "hello"}},
	}}
	fallback := &stubProvider{name: "speech"}
	o := NewOrchestrator(primary, fallback, time.Second)

	res, err := o.Transcribe(context.Background(), sample, Options{Language: "en-US"})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text)
	require.NotNil(t, res.Confidence)
	assert.Equal(t, PrimaryConfidence, *res.Confidence)
	require.NotNil(t, res.DurationSeconds)
	assert.Equal(t, 2.0, *res.DurationSeconds)
	assert.Equal(t, "en", primary.opts.Language)
	assert.Zero(t, fallback.calls)
}

func TestOrchestratorFallsBack(t *testing.T) {
	primary := &stubProvider{name: "cloud", err: NewError(KindNetworkError, "down", nil)}
	fallback := &stubProvider{name: "speech", resp: &RecognitionResponse{
		Name: "speech", Finals: []string{"会議の", "議事録です。"}, Locale: "ja",
	}}
	obs := &attemptLog{}
	o := NewOrchestrator(primary, fallback, time.Second)
	o.SetObserver(obs)

	res, err := o.Transcribe(context.Background(), sample, Options{Language: "ja"})
	require.NoError(t, err)
	assert.Equal(t, "会議の 議事録です。", res.Text)
	require.NotNil(t, res.Confidence)
	assert.Equal(t, FallbackConfidence, *res.Confidence)
	assert.Equal(t, "ja", res.Language)
	assert.Equal(t, []string{"cloud=network_error", "speech=success"}, obs.outcomes)
}

func TestOrchestratorPrimaryTimeout(t *testing.T) {
	primary := &stubProvider{name: "cloud", block: true}
	fallback := &stubProvider{name: "speech", resp: &RecognitionResponse{Name: "speech", Finals: []string{"ok"}}}
	o := NewOrchestrator(primary, fallback, 20*time.Millisecond)

	res, err := o.Transcribe(context.Background(), sample, Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
}

func TestOrchestratorBothFail(t *testing.T) {
	primary := &stubProvider{name: "cloud", err: NewError(KindAuthenticationFailed, "bad key", nil)}
	fallback := &stubProvider{name: "speech", err: errors.New("no speech")}
	o := NewOrchestrator(primary, fallback, time.Second)

	_, err := o.Transcribe(context.Background(), sample, Options{})
	require.Error(t, err)

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindAuthenticationFailed, terr.Kind)
	assert.False(t, terr.Retryable)
	assert.Contains(t, terr.Message, "both providers failed")
	assert.ErrorIs(t, err, ErrBothProvidersFailed)
}

func TestOrchestratorFallbackDeadline(t *testing.T) {
	primary := &stubProvider{name: "cloud", err: NewError(KindNetworkError, "connection refused", nil)}
	rec := &scriptedRecognizer{hold: true, events: []Recognition{{Text: "never ends", Final: true}}}
	o := NewOrchestrator(primary, NewSpeechFallback(rec, 0), 100*time.Millisecond)
	o.SetFallbackMargin(50 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := o.Transcribe(context.WithoutCancel(context.Background()), sample, Options{})
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrBothProvidersFailed)
		var terr *Error
		require.ErrorAs(t, err, &terr)
		assert.False(t, terr.Retryable)
	case <-time.After(2 * time.Second):
		t.Fatal("fallback attempt was not bounded")
	}
}

func TestOrchestratorFallbackOnly(t *testing.T) {
	rec := &scriptedRecognizer{hold: true}
	o := NewOrchestrator(nil, NewSpeechFallback(rec, 0), time.Second)
	o.SetFallbackMargin(30 * time.Millisecond)

	start := time.Now()
	_, err := o.Transcribe(context.Background(), Audio{Data: []byte("RIFF"), MimeType: "audio/wav", DurationSeconds: 0.05}, Options{})
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindProcessingTimeout, terr.Kind)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestOrchestratorNoFallback(t *testing.T) {
	primary := &stubProvider{name: "cloud", err: NewError(KindAPIError, "boom", nil)}
	o := NewOrchestrator(primary, nil, time.Second)

	_, err := o.Transcribe(context.Background(), sample, Options{})
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindAPIError, terr.Kind)
	assert.True(t, terr.Retryable)
}

func TestNormalizeCleansSegments(t *testing.T) {
	res := Normalize(&CloudResponse{Name: "cloud", Segments: []types.Segment{
		{Start: 0, End: 2, Text: "a"},
		{Start: 1.5, End: 3, Text: "b"},
		{Start: 3, End: 3, Text: "empty"},
	}})
	require.Len(t, res.Segments, 2)
	assert.Equal(t, 2.0, res.Segments[1].Start)
	assert.Nil(t, res.DurationSeconds)
}
