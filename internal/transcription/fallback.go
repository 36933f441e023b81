package transcription

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultGrace is how long late final results are accepted after playback ends.
const DefaultGrace = 500 * time.Millisecond

// Recognition is one event from a speech recognizer session.
type Recognition struct {
	Text  string
	Final bool
	// Ended reports that playback of the audio has finished.
	Ended bool
}

// Recognizer plays audio into a speech recognition session and streams its
// events. The channel is closed when the session ends.
type Recognizer interface {
	Name() string
	Listen(ctx context.Context, audio Audio, language string) (<-chan Recognition, error)
}

// SpeechFallback adapts a Recognizer to the Provider interface, keeping
// only final results.
type SpeechFallback struct {
	recognizer Recognizer
	grace      time.Duration
}

// NewSpeechFallback wraps r. grace <= 0 uses DefaultGrace.
func NewSpeechFallback(r Recognizer, grace time.Duration) *SpeechFallback {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &SpeechFallback{recognizer: r, grace: grace}
}

func (f *SpeechFallback) Name() string {
	return "speech:" + f.recognizer.Name()
}

// Transcribe resolves once playback has ended and the grace delay passed,
// or when the recognizer closes its session.
func (f *SpeechFallback) Transcribe(ctx context.Context, audio Audio, opts Options) (Response, error) {
	events, err := f.recognizer.Listen(ctx, audio, opts.Language)
	if err != nil {
		return nil, fmt.Errorf("failed to start speech recognition: %w", err)
	}

	var (
		finals []string
		grace  <-chan time.Time
	)
	collect := func() (Response, error) {
		if len(finals) == 0 {
			return nil, NewError(KindUnknown, "speech recognition produced no final result", nil)
		}
		return &RecognitionResponse{Name: f.Name(), Finals: finals, Locale: opts.Language}, nil
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return collect()
			}
			if ev.Final && strings.TrimSpace(ev.Text) != "" {
				finals = append(finals, ev.Text)
			}
			if ev.Ended && grace == nil {
				timer := time.NewTimer(f.grace)
				defer timer.Stop()
				grace = timer.C
			}
		case <-grace:
			return collect()
		case <-ctx.Done():
			return nil, NewError(KindProcessingTimeout, "speech recognition did not finish", ctx.Err())
		}
	}
}
