package recorder

import (
	"github.com/codebuildervaibhav/voice-memos/internal/capture"
	"github.com/codebuildervaibhav/voice-memos/internal/types"
	"github.com/codebuildervaibhav/voice-memos/internal/waveform"
)

// StartedMsg is sent once the microphone is open and recording.
type StartedMsg struct {
	SessionID string
}

// StateMsg reports a capture state transition.
type StateMsg struct {
	SessionID string
	State     capture.State
}

// WaveformMsg carries one frame of bars.
type WaveformMsg struct {
	Frame waveform.Frame
}

// CaptureErrorMsg reports a capture failure.
type CaptureErrorMsg struct {
	Err error
}

// CommandErrorMsg reports a failed start or stop request.
type CommandErrorMsg struct {
	Err error
}

// CompletedMsg carries the finished recording.
type CompletedMsg struct {
	Recording *capture.Recording
}

// UploadedMsg is sent when the server accepted the memo.
type UploadedMsg struct {
	JobID string
}

// UploadErrorMsg is sent when submission fails.
type UploadErrorMsg struct {
	Err error
}

// ProgressMsg carries one job snapshot.
type ProgressMsg struct {
	Snapshot types.ProcessingJob
}

// JobDoneMsg is sent when the job stream ends.
type JobDoneMsg struct {
	Last types.ProcessingJob
	Err  error
}

// TickMsg refreshes the elapsed time.
type TickMsg struct{}
