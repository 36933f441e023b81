package transcription

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/codebuildervaibhav/voice-memos/internal/types"
)

// DefaultTimeout bounds a single primary provider request.
const DefaultTimeout = 60 * time.Second

// DefaultFallbackMargin is the time a fallback attempt may take beyond the
// playback length of the audio.
const DefaultFallbackMargin = 30 * time.Second

// Observer is told about each provider attempt.
type Observer interface {
	ProviderAttempt(provider string, outcome string, elapsed time.Duration)
}

// Orchestrator calls the primary provider and falls back to the secondary
// one on failure.
type Orchestrator struct {
	primary        Provider
	fallback       Provider
	timeout        time.Duration
	fallbackMargin time.Duration
	observer       Observer
}

// NewOrchestrator creates an orchestrator. fallback may be nil.
func NewOrchestrator(primary, fallback Provider, timeout time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Orchestrator{primary: primary, fallback: fallback, timeout: timeout, fallbackMargin: DefaultFallbackMargin}
}

// SetFallbackMargin changes how long a fallback attempt may run past the
// playback length. d <= 0 restores DefaultFallbackMargin.
func (o *Orchestrator) SetFallbackMargin(d time.Duration) {
	if d <= 0 {
		d = DefaultFallbackMargin
	}
	o.fallbackMargin = d
}

// SetObserver registers an attempt observer.
func (o *Orchestrator) SetObserver(obs Observer) {
	o.observer = obs
}

// Transcribe returns a normalized result from the first provider that succeeds.
func (o *Orchestrator) Transcribe(ctx context.Context, audio Audio, opts Options) (*types.TranscriptionResult, error) {
	opts.Language = NormalizeLanguage(opts.Language)

	if o.primary == nil && o.fallback == nil {
		return nil, NewError(KindUnknown, "no transcription provider configured", nil)
	}

	var primaryErr *Error
	if o.primary != nil {
		resp, err := o.attempt(ctx, o.primary, audio, opts, o.timeout)
		if err == nil {
			return Normalize(resp), nil
		}
		primaryErr = Classify(err)
		if o.fallback == nil {
			return nil, primaryErr
		}
		log.Printf("Transcription: %s failed (%s), falling back to %s", o.primary.Name(), primaryErr.Kind, o.fallback.Name())
	}

	resp, err := o.attempt(ctx, o.fallback, audio, opts, o.fallbackTimeout(audio))
	if err == nil {
		return Normalize(resp), nil
	}
	fallbackErr := Classify(err)
	if primaryErr == nil {
		return nil, fallbackErr
	}

	return nil, &Error{
		Kind:      primaryErr.Kind,
		Message:   "Transcription failed: both providers failed",
		Retryable: false,
		Err:       fmt.Errorf("%w: primary: %v; fallback: %v", ErrBothProvidersFailed, primaryErr, fallbackErr),
	}
}

// fallbackTimeout covers playing the audio once plus the margin.
func (o *Orchestrator) fallbackTimeout(audio Audio) time.Duration {
	playback := time.Duration(audio.DurationSeconds * float64(time.Second))
	if playback < 0 {
		playback = 0
	}
	return playback + o.fallbackMargin
}

func (o *Orchestrator) attempt(ctx context.Context, p Provider, audio Audio, opts Options, timeout time.Duration) (Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := p.Transcribe(ctx, audio, opts)
	if err == nil && resp == nil {
		err = NewError(KindAPIError, p.Name()+" returned no result", nil)
	}
	if o.observer != nil {
		outcome := "success"
		if err != nil {
			outcome = string(Classify(err).Kind)
		}
		o.observer.ProviderAttempt(p.Name(), outcome, time.Since(start))
	}
	return resp, err
}
