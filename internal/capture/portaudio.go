package capture

import (
	"context"
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
)

// PortAudioMicrophone opens the default input device.
type PortAudioMicrophone struct {
	FramesPerBuffer int
}

// Open implements Microphone.
func (m *PortAudioMicrophone) Open(ctx context.Context, format Format) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio init failed: %v", ErrNotSupported, err)
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil || dev == nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	}

	frames := m.FramesPerBuffer
	if frames <= 0 {
		frames = format.SampleRate / 10
	}
	in := make([]int16, frames*format.Channels)

	stream, err := portaudio.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), frames, in)
	if err != nil {
		portaudio.Terminate()
		if strings.Contains(strings.ToLower(err.Error()), "permission") {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("%w: open stream failed: %v", ErrDeviceNotFound, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: start stream failed: %v", ErrPermissionDenied, err)
	}

	return &portAudioStream{stream: stream, in: in}, nil
}

type portAudioStream struct {
	stream   *portaudio.Stream
	in       []int16
	leftover []int16
	closed   bool
}

// Read blocks for at most one device buffer.
func (s *portAudioStream) Read(ctx context.Context, buf []int16) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(s.leftover) > 0 {
		n := copy(buf, s.leftover)
		s.leftover = s.leftover[n:]
		return n, nil
	}
	if err := s.stream.Read(); err != nil && err != portaudio.InputOverflowed {
		return 0, fmt.Errorf("stream read error: %w", err)
	}
	n := copy(buf, s.in)
	s.leftover = append(s.leftover[:0], s.in[n:]...)
	return n, nil
}

func (s *portAudioStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.stream.Stop()
	err := s.stream.Close()
	portaudio.Terminate()
	return err
}
