package transcription

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedRecognizer struct {
	events []Recognition
	hold   bool
}

func (s *scriptedRecognizer) Name() string { return "scripted" }

func (s *scriptedRecognizer) Listen(ctx context.Context, _ Audio, _ string) (<-chan Recognition, error) {
	ch := make(chan Recognition, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	if !s.hold {
		close(ch)
	}
	return ch, nil
}

func TestSpeechFallbackKeepsFinalsOnly(t *testing.T) {
	rec := &scriptedRecognizer{events: []Recognition{
		{Text: "hel", Final: false},
		{Text: "hello", Final: true},
		{Text: "wor", Final: false},
		{Text: "world", Final: true},
	}}
	resp, err := NewSpeechFallback(rec, 0).Transcribe(context.Background(), sample, Options{Language: "en"})
	require.NoError(t, err)

	res := Normalize(resp)
	assert.Equal(t, "hello world", res.Text)
	assert.Equal(t, "en", res.Language)
	assert.Equal(t, "speech:scripted", res.Provider)
}

func TestSpeechFallbackResolvesAfterGrace(t *testing.T) {
	rec := &scriptedRecognizer{hold: true, events: []Recognition{
		{Text: "late", Final: true},
		{Ended: true},
	}}
	start := time.Now()
	resp, err := NewSpeechFallback(rec, 30*time.Millisecond).Transcribe(context.Background(), sample, Options{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, "late", Normalize(resp).Text)
}

func TestSpeechFallbackNoFinals(t *testing.T) {
	rec := &scriptedRecognizer{events: []Recognition{{Text: "partial"}}}
	_, err := NewSpeechFallback(rec, 0).Transcribe(context.Background(), sample, Options{})

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindUnknown, terr.Kind)
}

func TestSpeechFallbackContextDone(t *testing.T) {
	rec := &scriptedRecognizer{hold: true}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewSpeechFallback(rec, 0).Transcribe(ctx, sample, Options{})
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindProcessingTimeout, terr.Kind)
}
