package recorder

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/codebuildervaibhav/voice-memos/internal/capture"
	"github.com/codebuildervaibhav/voice-memos/internal/waveform"
)

// Bridge turns engine callbacks, which arrive on engine goroutines, into
// Bubble Tea messages read one at a time by waitEventCmd.
type Bridge struct {
	events chan tea.Msg
	closed chan struct{}
	once   sync.Once
}

// NewBridge creates a bridge.
func NewBridge() *Bridge {
	return &Bridge{
		events: make(chan tea.Msg, 64),
		closed: make(chan struct{}),
	}
}

// Close releases senders blocked on a bridge nobody reads any more.
func (b *Bridge) Close() {
	b.once.Do(func() { close(b.closed) })
}

// Handlers returns engine handlers that feed the bridge.
func (b *Bridge) Handlers() capture.Handlers {
	return capture.Handlers{
		OnState: func(sessionID string, state capture.State) {
			b.send(StateMsg{SessionID: sessionID, State: state})
		},
		OnWaveform: func(frame waveform.Frame) {
			// Frames are dropped rather than stalling the tick loop.
			select {
			case b.events <- WaveformMsg{Frame: frame}:
			default:
			}
		},
		OnError: func(sessionID string, err *capture.Error) {
			b.send(CaptureErrorMsg{Err: err})
		},
		OnComplete: func(rec *capture.Recording) {
			b.send(CompletedMsg{Recording: rec})
		},
	}
}

func (b *Bridge) send(msg tea.Msg) {
	select {
	case b.events <- msg:
	case <-b.closed:
	}
}

// waitEventCmd reads the next bridged message.
func waitEventCmd(b *Bridge) tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-b.events:
			return msg
		case <-b.closed:
			return nil
		}
	}
}
