package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// PushSource is a single-use Microphone fed by a remote client, for example
// binary PCM16LE frames arriving over a WebSocket.
type PushSource struct {
	frames chan []int16
	closed chan struct{}

	mu       sync.Mutex
	opened   bool
	ended    bool
	once     sync.Once
	leftover []int16
}

// NewPushSource creates a source buffering up to buffer frames.
func NewPushSource(buffer int) *PushSource {
	if buffer <= 0 {
		buffer = 64
	}
	return &PushSource{
		frames: make(chan []int16, buffer),
		closed: make(chan struct{}),
	}
}

// Open implements Microphone. The source can be opened once.
func (s *PushSource) Open(ctx context.Context, format Format) (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil, fmt.Errorf("%w: push source already in use", ErrDeviceNotFound)
	}
	select {
	case <-s.closed:
		return nil, fmt.Errorf("%w: push source closed", ErrDeviceNotFound)
	default:
	}
	s.opened = true
	return s, nil
}

// Push decodes little-endian PCM16 bytes and queues them for reading.
func (s *PushSource) Push(ctx context.Context, pcm []byte) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("odd PCM frame length %d", len(pcm))
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}

	// Held across the send so End cannot close frames underneath it.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return io.ErrClosedPipe
	}

	select {
	case s.frames <- samples:
		return nil
	case <-s.closed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

// End marks the end of input; Read drains queued frames then reports io.EOF.
func (s *PushSource) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.frames)
	}
}

// Pending returns the number of queued frames not yet read.
func (s *PushSource) Pending() int {
	return len(s.frames)
}

// Read implements Stream.
func (s *PushSource) Read(ctx context.Context, buf []int16) (int, error) {
	if len(s.leftover) > 0 {
		n := copy(buf, s.leftover)
		s.leftover = s.leftover[n:]
		return n, nil
	}

	select {
	case frame, ok := <-s.frames:
		if !ok {
			return 0, io.EOF
		}
		n := copy(buf, frame)
		s.leftover = frame[n:]
		return n, nil
	case <-s.closed:
		return 0, io.ErrClosedPipe
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close implements Stream.
func (s *PushSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
