package recorder

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/voice-memos/internal/capture"
	"github.com/codebuildervaibhav/voice-memos/internal/client"
	"github.com/codebuildervaibhav/voice-memos/internal/types"
	"github.com/codebuildervaibhav/voice-memos/internal/waveform"
)

type fakeEngine struct {
	calls   []string
	elapsed float64
	stopErr error
	partial *capture.Recording
}

func (e *fakeEngine) Initialize(ctx context.Context) error {
	e.calls = append(e.calls, "initialize")
	return nil
}

func (e *fakeEngine) Start(max float64) (string, error) {
	e.calls = append(e.calls, "start")
	return "sess-1", nil
}

func (e *fakeEngine) Pause() error {
	e.calls = append(e.calls, "pause")
	return nil
}

func (e *fakeEngine) Resume() error {
	e.calls = append(e.calls, "resume")
	return nil
}

func (e *fakeEngine) Stop() (*capture.Recording, error) {
	e.calls = append(e.calls, "stop")
	return &capture.Recording{}, e.stopErr
}

func (e *fakeEngine) Close() error {
	e.calls = append(e.calls, "close")
	return nil
}

func (e *fakeEngine) Session() *capture.Session {
	return &capture.Session{ID: "sess-1", ElapsedSeconds: e.elapsed, Partial: e.partial}
}

type fakeUploader struct {
	uploaded  client.Upload
	uploadErr error
	snapshots []types.ProcessingJob
}

func (u *fakeUploader) Upload(ctx context.Context, up client.Upload) (*client.Queued, error) {
	u.uploaded = up
	if u.uploadErr != nil {
		return nil, u.uploadErr
	}
	return &client.Queued{JobID: "job-1", Status: "queued"}, nil
}

func (u *fakeUploader) FollowJob(ctx context.Context, id string, fn func(types.ProcessingJob)) (types.ProcessingJob, error) {
	var last types.ProcessingJob
	for _, s := range u.snapshots {
		fn(s)
		last = s
	}
	return last, nil
}

func newTestModel(engine *fakeEngine, uploader *fakeUploader) Model {
	return New(engine, uploader, NewBridge(), Config{MaxDurationSeconds: 300, Title: "Standup", Language: "ja"})
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(msg)
	model, ok := updated.(Model)
	require.True(t, ok)
	return model, cmd
}

func TestStartCmdInitializesAndStarts(t *testing.T) {
	engine := &fakeEngine{}
	msg := startCmd(engine, 300)()
	assert.Equal(t, StartedMsg{SessionID: "sess-1"}, msg)
	assert.Equal(t, []string{"initialize", "start"}, engine.calls)
}

func TestSpaceTogglesPause(t *testing.T) {
	engine := &fakeEngine{}
	m := newTestModel(engine, &fakeUploader{})

	m, _ = update(t, m, StateMsg{SessionID: "sess-1", State: capture.StateRecording})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeySpace})
	m, _ = update(t, m, StateMsg{SessionID: "sess-1", State: capture.StatePaused})
	_, _ = update(t, m, tea.KeyMsg{Type: tea.KeySpace})

	assert.Equal(t, []string{"pause", "resume"}, engine.calls)
}

func TestEnterIgnoredWhenIdle(t *testing.T) {
	engine := &fakeEngine{}
	m := newTestModel(engine, &fakeUploader{})

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Empty(t, engine.calls)
}

func TestStopUploadAndFollow(t *testing.T) {
	engine := &fakeEngine{}
	confidence := 0.95
	uploader := &fakeUploader{snapshots: []types.ProcessingJob{
		{MemoID: "memo-1", Stage: types.StageUploading, Progress: 40, Message: "Audio uploaded"},
		{MemoID: "memo-1", Stage: types.StageTranscribing, Progress: 60},
		{MemoID: "memo-1", Stage: types.StageComplete, Progress: 100, Message: "Memo saved",
			TranscriptionResult: &types.TranscriptionResult{Text: "会議の議事録です。", Confidence: &confidence}},
	}}
	m := newTestModel(engine, uploader)

	m, _ = update(t, m, StateMsg{SessionID: "sess-1", State: capture.StateRecording})
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Nil(t, cmd())
	assert.Contains(t, engine.calls, "stop")

	rec := &capture.Recording{SessionID: "sess-1", Blob: []byte("RIFF"), DurationSeconds: 3, MimeType: "audio/wav"}
	m, cmd = update(t, m, CompletedMsg{Recording: rec})
	require.NotNil(t, cmd)
	batch, ok := cmd().(tea.BatchMsg)
	require.True(t, ok)
	uploaded := batch[0]()
	assert.Equal(t, UploadedMsg{JobID: "job-1"}, uploaded)
	assert.Equal(t, "Standup", uploader.uploaded.Title)
	assert.Equal(t, "ja", uploader.uploaded.Language)
	assert.Equal(t, 3.0, uploader.uploaded.DurationSeconds)

	m, cmd = update(t, m, uploaded)
	require.NotNil(t, cmd)
	done := cmd()
	require.IsType(t, JobDoneMsg{}, done)

	m, cmd = update(t, m, done)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())

	view := m.View()
	assert.Contains(t, view, "100%")
	assert.Contains(t, view, "Saved memo memo-1")
	assert.Contains(t, view, "会議の議事録です。")
	assert.NotContains(t, view, "Error")
}

func TestUploadFailureShown(t *testing.T) {
	m := newTestModel(&fakeEngine{}, &fakeUploader{})
	m, _ = update(t, m, UploadErrorMsg{Err: errors.New("503 ERR_QUEUE_FULL")})
	assert.Contains(t, m.View(), "upload failed: 503 ERR_QUEUE_FULL")
}

func TestCaptureErrorUploadsPartialAudio(t *testing.T) {
	engine := &fakeEngine{partial: &capture.Recording{
		Blob: []byte("RIFF"), DurationSeconds: 2.5, SizeBytes: 4, MimeType: "audio/wav", Partial: true,
	}}
	uploader := &fakeUploader{}
	m := newTestModel(engine, uploader)

	m, cmd := update(t, m, CaptureErrorMsg{Err: errors.New("device unplugged")})
	require.NotNil(t, cmd)
	assert.True(t, m.uploading)
	assert.Contains(t, m.View(), "device unplugged")

	msg := uploadCmd(uploader, engine.partial, m.cfg)()
	assert.Equal(t, UploadedMsg{JobID: "job-1"}, msg)
	assert.Equal(t, 2.5, uploader.uploaded.DurationSeconds)
	assert.Equal(t, "audio/wav", uploader.uploaded.MimeType)
}

func TestCaptureErrorWithoutAudio(t *testing.T) {
	m := newTestModel(&fakeEngine{}, &fakeUploader{})
	m, _ = update(t, m, CaptureErrorMsg{Err: errors.New("permission denied")})
	assert.False(t, m.uploading)
}

func TestJobErrorShown(t *testing.T) {
	m := newTestModel(&fakeEngine{}, &fakeUploader{})
	m, _ = update(t, m, UploadedMsg{JobID: "job-1"})
	m, _ = update(t, m, JobDoneMsg{Last: types.ProcessingJob{Stage: types.StageError, Progress: 60, Error: "rate limit exceeded"}})
	assert.Contains(t, m.View(), "rate limit exceeded")
}

func TestQuitClosesEngine(t *testing.T) {
	engine := &fakeEngine{}
	m := newTestModel(engine, &fakeUploader{})

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, []string{"close"}, engine.calls)
	assert.Nil(t, waitEventCmd(m.bridge)())
}

func TestTickUpdatesElapsed(t *testing.T) {
	engine := &fakeEngine{elapsed: 65}
	m := newTestModel(engine, &fakeUploader{})
	m, _ = update(t, m, StateMsg{State: capture.StateRecording})
	m, cmd := update(t, m, TickMsg{})
	assert.NotNil(t, cmd)
	assert.Contains(t, m.View(), "01:05 / 05:00")
}

func TestBridgeDeliversEngineEvents(t *testing.T) {
	b := NewBridge()
	h := b.Handlers()

	h.OnState("sess-1", capture.StateRecording)
	h.OnWaveform(waveform.Frame{0.5})
	h.OnComplete(&capture.Recording{SessionID: "sess-1"})

	assert.Equal(t, StateMsg{SessionID: "sess-1", State: capture.StateRecording}, waitEventCmd(b)())
	assert.Equal(t, WaveformMsg{Frame: waveform.Frame{0.5}}, waitEventCmd(b)())
	assert.IsType(t, CompletedMsg{}, waitEventCmd(b)())

	b.Close()
	h.OnState("sess-1", capture.StateError) // must not block
}

func TestRenderBars(t *testing.T) {
	assert.Equal(t, " ▄█", renderBars(waveform.Frame{0, 0.5, 1}))
	assert.Equal(t, "█ ", renderBars(waveform.Frame{2, -1}))
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "00:00", formatElapsed(0))
	assert.Equal(t, "02:05", formatElapsed(124.6))
	assert.True(t, strings.HasPrefix(formatElapsed(3600), "60:"))
}
