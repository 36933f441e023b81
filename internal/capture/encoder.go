package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Encoder turns PCM chunks into one blob of its MIME type.
type Encoder interface {
	MIMEType() string
	// EncodeChunk encodes one time slice. Chunks are kept until Assemble.
	EncodeChunk(samples []int16) ([]byte, error)
	// Assemble concatenates encoded chunks into the final blob.
	Assemble(chunks [][]byte) ([]byte, error)
}

func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// WAVEncoder writes 16-bit PCM RIFF/WAVE blobs.
type WAVEncoder struct {
	format Format
}

func (e *WAVEncoder) MIMEType() string { return "audio/wav" }

func (e *WAVEncoder) EncodeChunk(samples []int16) ([]byte, error) {
	return pcmBytes(samples), nil
}

func (e *WAVEncoder) Assemble(chunks [][]byte) ([]byte, error) {
	pcm := bytes.Join(chunks, nil)

	tmp, err := os.CreateTemp("", "memo-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	enc := wav.NewEncoder(tmp, e.format.SampleRate, 16, e.format.Channels, 1)
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: e.format.Channels,
			SampleRate:  e.format.SampleRate,
		},
		Data:           make([]int, len(pcm)/2),
		SourceBitDepth: 16,
	}
	for i := range buf.Data {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to write WAV data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize WAV: %w", err)
	}

	return os.ReadFile(tmp.Name())
}

// FFmpegEncoder produces Opus in an Ogg or WebM container by piping PCM through ffmpeg.
type FFmpegEncoder struct {
	format    Format
	binary    string
	container string
	mimeType  string
}

func (e *FFmpegEncoder) MIMEType() string { return e.mimeType }

func (e *FFmpegEncoder) EncodeChunk(samples []int16) ([]byte, error) {
	return pcmBytes(samples), nil
}

func (e *FFmpegEncoder) Assemble(chunks [][]byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.binary,
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", e.format.SampleRate),
		"-ac", fmt.Sprintf("%d", e.format.Channels),
		"-i", "pipe:0",
		"-c:a", "libopus",
		"-b:a", "64k",
		"-f", e.container,
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(bytes.Join(chunks, nil))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}
