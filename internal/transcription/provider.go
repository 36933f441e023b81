package transcription

import (
	"context"
	"strings"

	"github.com/codebuildervaibhav/voice-memos/internal/types"
)

const (
	// PrimaryConfidence is reported when the primary provider gives none.
	PrimaryConfidence = 0.95
	// FallbackConfidence approximates the platform recognizer, which reports none.
	FallbackConfidence = 0.8
)

// Audio is the payload handed to a provider.
type Audio struct {
	Data     []byte
	MimeType string
	// DurationSeconds is the playback length when known; 0 otherwise.
	DurationSeconds float64
}

// Options tune a transcription request.
type Options struct {
	Language string
	Prompt   string
}

// Response is the provider-specific result shape. It is normalized into a
// types.TranscriptionResult at the orchestrator boundary.
type Response interface {
	provider() string
}

// CloudResponse is returned by cloud transcription APIs.
type CloudResponse struct {
	Name            string
	Text            string
	Language        string
	Segments        []types.Segment
	DurationSeconds float64
	Confidence      *float64
}

func (r *CloudResponse) provider() string { return r.Name }

// RecognitionResponse is returned by speech recognizers that only report
// accumulated final phrases.
type RecognitionResponse struct {
	Name   string
	Finals []string
	Locale string
}

func (r *RecognitionResponse) provider() string { return r.Name }

// Provider is one transcription backend.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, audio Audio, opts Options) (Response, error)
}

// Normalize converts any provider response into the common result shape.
func Normalize(resp Response) *types.TranscriptionResult {
	switch r := resp.(type) {
	case *CloudResponse:
		conf := PrimaryConfidence
		if r.Confidence != nil {
			conf = *r.Confidence
		}
		result := &types.TranscriptionResult{
			Text:       strings.TrimSpace(r.Text),
			Language:   r.Language,
			Confidence: &conf,
			Segments:   cleanSegments(r.Segments),
			Provider:   r.Name,
		}
		if r.DurationSeconds > 0 {
			d := r.DurationSeconds
			result.DurationSeconds = &d
		}
		return result
	case *RecognitionResponse:
		conf := FallbackConfidence
		parts := make([]string, 0, len(r.Finals))
		for _, f := range r.Finals {
			if f = strings.TrimSpace(f); f != "" {
				parts = append(parts, f)
			}
		}
		return &types.TranscriptionResult{
			Text:       strings.Join(parts, " "),
			Language:   r.Locale,
			Confidence: &conf,
			Provider:   r.Name,
		}
	}
	return &types.TranscriptionResult{}
}

// cleanSegments keeps segments with start < end in ascending, non-overlapping order.
func cleanSegments(in []types.Segment) []types.Segment {
	if len(in) == 0 {
		return nil
	}
	out := make([]types.Segment, 0, len(in))
	lastEnd := -1.0
	for _, seg := range in {
		seg.Text = strings.TrimSpace(seg.Text)
		if seg.Start < lastEnd {
			seg.Start = lastEnd
		}
		if seg.End <= seg.Start {
			continue
		}
		out = append(out, seg)
		lastEnd = seg.End
	}
	return out
}
