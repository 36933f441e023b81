package capture

import (
	"fmt"
	"os/exec"
	"strings"
)

// DefaultPreferences is the ordered list of encodings tried during negotiation.
var DefaultPreferences = []string{
	"audio/webm;codecs=opus",
	"audio/webm",
	"audio/ogg;codecs=opus",
	"audio/mp4",
	"audio/wav",
}

// Format describes the PCM stream delivered by a microphone.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond is the raw PCM16 data rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Probe reports which encodings this runtime can produce.
type Probe struct {
	format Format
	ffmpeg string
}

// NewProbe creates a probe. An empty ffmpegPath disables the Opus encodings.
func NewProbe(format Format, ffmpegPath string) *Probe {
	return &Probe{format: format, ffmpeg: ffmpegPath}
}

// DetectFFmpeg returns the ffmpeg binary on PATH, or "".
func DetectFFmpeg() string {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return ""
	}
	return path
}

// Supported reports whether mimeType can be encoded.
func (p *Probe) Supported(mimeType string) bool {
	return p.encoderFor(mimeType) != nil
}

// Negotiate returns an encoder for the first supported type in preferences.
func (p *Probe) Negotiate(preferences []string) (Encoder, error) {
	if len(preferences) == 0 {
		preferences = DefaultPreferences
	}
	for _, mimeType := range preferences {
		if enc := p.encoderFor(mimeType); enc != nil {
			return enc, nil
		}
	}
	return nil, newError(KindNotSupported,
		fmt.Sprintf("none of %s can be encoded", strings.Join(preferences, ", ")), ErrNotSupported)
}

func (p *Probe) encoderFor(mimeType string) Encoder {
	base, params, _ := strings.Cut(strings.ToLower(strings.ReplaceAll(mimeType, " ", "")), ";")
	switch base {
	case "audio/wav", "audio/wave", "audio/x-wav":
		return &WAVEncoder{format: p.format}
	case "audio/webm", "audio/ogg":
		if p.ffmpeg == "" {
			return nil
		}
		if params != "" && params != "codecs=opus" {
			return nil
		}
		container := strings.TrimPrefix(base, "audio/")
		return &FFmpegEncoder{format: p.format, binary: p.ffmpeg, container: container, mimeType: mimeType}
	}
	return nil
}
