package duration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/go-audio/wav"
)

const (
	// DefaultTimeout bounds how long metadata decoding may take.
	DefaultTimeout = 5 * time.Second

	// DefaultBytesPerSecond is calibrated for the Opus encodings produced by
	// the time-sliced encoder.
	DefaultBytesPerSecond = 8000.0
)

// ErrUnsupportedContainer is returned by a MetadataReader that cannot parse the blob.
var ErrUnsupportedContainer = errors.New("unsupported audio container")

// MetadataReader reports the duration recorded in an audio blob's metadata.
type MetadataReader interface {
	Duration(ctx context.Context, data []byte, mimeType string) (float64, error)
}

// Resolver determines playable duration, falling back to a size-based
// estimate whenever metadata is missing, broken or slow.
type Resolver struct {
	reader  MetadataReader
	timeout time.Duration
	rates   map[string]float64
}

// NewResolver creates a resolver. A nil reader means WAV metadata only.
func NewResolver(reader MetadataReader, timeout time.Duration) *Resolver {
	if reader == nil {
		reader = WAVMetadata{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{
		reader:  reader,
		timeout: timeout,
		rates: map[string]float64{
			"audio/webm": 8000,
			"audio/ogg":  8000,
			"audio/mp4":  16000,
			"audio/mpeg": 16000,
			"audio/wav":  32000,
			"audio/l16":  32000,
		},
	}
}

// SetBytesPerSecond overrides the estimate bitrate for a base MIME type.
func (r *Resolver) SetBytesPerSecond(mimeType string, rate float64) {
	if rate > 0 {
		r.rates[baseMIME(mimeType)] = rate
	}
}

// Resolve returns the duration of data in seconds. It never fails.
func (r *Resolver) Resolve(ctx context.Context, data []byte, mimeType string) float64 {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		seconds float64
		err     error
	}
	done := make(chan result, 1)
	go func() {
		seconds, err := r.reader.Duration(ctx, data, mimeType)
		done <- result{seconds, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			log.Printf("Duration: metadata unavailable (%s): %v, estimating from size", mimeType, res.err)
			return r.Estimate(len(data), mimeType)
		}
		if math.IsNaN(res.seconds) || math.IsInf(res.seconds, 0) || res.seconds <= 0 {
			log.Printf("Duration: metadata reported %v for %s, estimating from size", res.seconds, mimeType)
			return r.Estimate(len(data), mimeType)
		}
		return res.seconds
	case <-ctx.Done():
		log.Printf("Duration: metadata timed out after %s, estimating from size", r.timeout)
		return r.Estimate(len(data), mimeType)
	}
}

// Estimate derives a duration from byte size, never less than one second.
func (r *Resolver) Estimate(size int, mimeType string) float64 {
	rate, ok := r.rates[baseMIME(mimeType)]
	if !ok {
		rate = DefaultBytesPerSecond
	}
	return math.Max(1, math.Floor(float64(size)/rate))
}

// WAVMetadata reads duration from RIFF/WAVE headers.
type WAVMetadata struct{}

// Duration implements MetadataReader.
func (WAVMetadata) Duration(ctx context.Context, data []byte, mimeType string) (float64, error) {
	switch baseMIME(mimeType) {
	case "audio/wav", "audio/wave", "audio/x-wav":
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedContainer, mimeType)
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("invalid WAV data")
	}
	d, err := dec.Duration()
	if err != nil {
		return 0, fmt.Errorf("failed to read WAV duration: %w", err)
	}
	return d.Seconds(), nil
}

func baseMIME(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}
