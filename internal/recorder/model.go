// Package recorder is the terminal memo recorder: it drives a local capture
// engine, renders its waveform and submits the result to the service.
package recorder

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/codebuildervaibhav/voice-memos/internal/capture"
	"github.com/codebuildervaibhav/voice-memos/internal/client"
	"github.com/codebuildervaibhav/voice-memos/internal/types"
	"github.com/codebuildervaibhav/voice-memos/internal/waveform"
)

const tickInterval = 200 * time.Millisecond

// barGlyphs render a bar level from silent to full.
var barGlyphs = []rune(" ▁▂▃▄▅▆▇█")

// Engine is the capture engine surface the recorder drives.
type Engine interface {
	Initialize(ctx context.Context) error
	Start(maxDurationSeconds float64) (string, error)
	Pause() error
	Resume() error
	Stop() (*capture.Recording, error)
	Close() error
	Session() *capture.Session
}

// Uploader submits recordings and follows their jobs.
type Uploader interface {
	Upload(ctx context.Context, u client.Upload) (*client.Queued, error)
	FollowJob(ctx context.Context, id string, fn func(types.ProcessingJob)) (types.ProcessingJob, error)
}

// Config holds per-run recorder options.
type Config struct {
	MaxDurationSeconds float64
	Title              string
	Language           string
}

// Model is the root bubbletea model for the recorder.
type Model struct {
	engine   Engine
	uploader Uploader
	bridge   *Bridge
	cfg      Config

	// Capture state
	state     capture.State
	sessionID string
	elapsed   float64
	bars      waveform.Frame

	// Submission state
	uploading bool
	jobID     string
	progress  types.ProcessingJob
	memoID    string
	finished  bool

	errorMessage string
	width        int
	quitting     bool
}

// New creates a recorder model. bridge must be the one whose Handlers
// were installed on engine.
func New(engine Engine, uploader Uploader, bridge *Bridge, cfg Config) Model {
	return Model{
		engine:   engine,
		uploader: uploader,
		bridge:   bridge,
		cfg:      cfg,
		state:    capture.StateIdle,
	}
}

// Init opens the microphone and starts recording.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		startCmd(m.engine, m.cfg.MaxDurationSeconds),
		waitEventCmd(m.bridge),
		tickCmd(),
	)
}

func startCmd(engine Engine, maxDuration float64) tea.Cmd {
	return func() tea.Msg {
		if err := engine.Initialize(context.Background()); err != nil {
			return CommandErrorMsg{Err: err}
		}
		id, err := engine.Start(maxDuration)
		if err != nil {
			return CommandErrorMsg{Err: err}
		}
		return StartedMsg{SessionID: id}
	}
}

// stopCmd stops the engine. The recording itself arrives as CompletedMsg
// through the bridge, the same path auto-stop uses.
func stopCmd(engine Engine) tea.Cmd {
	return func() tea.Msg {
		if _, err := engine.Stop(); err != nil {
			return CommandErrorMsg{Err: err}
		}
		return nil
	}
}

func uploadCmd(uploader Uploader, rec *capture.Recording, cfg Config) tea.Cmd {
	return func() tea.Msg {
		q, err := uploader.Upload(context.Background(), client.Upload{
			Audio:           rec.Blob,
			MimeType:        rec.MimeType,
			DurationSeconds: rec.DurationSeconds,
			Title:           cfg.Title,
			Language:        cfg.Language,
		})
		if err != nil {
			return UploadErrorMsg{Err: err}
		}
		return UploadedMsg{JobID: q.JobID}
	}
}

// followCmd streams job snapshots into the bridge and reports the end.
func followCmd(uploader Uploader, bridge *Bridge, jobID string) tea.Cmd {
	return func() tea.Msg {
		last, err := uploader.FollowJob(context.Background(), jobID, func(s types.ProcessingJob) {
			bridge.send(ProgressMsg{Snapshot: s})
		})
		return JobDoneMsg{Last: last, Err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(time.Time) tea.Msg {
		return TickMsg{}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case StartedMsg:
		m.sessionID = msg.SessionID
		return m, nil

	case StateMsg:
		m.state = msg.State
		if msg.SessionID != "" {
			m.sessionID = msg.SessionID
		}
		return m, waitEventCmd(m.bridge)

	case WaveformMsg:
		m.bars = msg.Frame
		return m, waitEventCmd(m.bridge)

	case CaptureErrorMsg:
		m.errorMessage = msg.Err.Error()
		// Audio captured before the failure is still submitted.
		if sess := m.engine.Session(); sess != nil && sess.Partial != nil && !m.uploading && !m.quitting {
			m.elapsed = sess.Partial.DurationSeconds
			m.uploading = true
			return m, tea.Batch(uploadCmd(m.uploader, sess.Partial, m.cfg), waitEventCmd(m.bridge))
		}
		return m, waitEventCmd(m.bridge)

	case CommandErrorMsg:
		m.errorMessage = msg.Err.Error()
		return m, nil

	case CompletedMsg:
		m.elapsed = msg.Recording.DurationSeconds
		m.bars = nil
		m.uploading = true
		return m, tea.Batch(uploadCmd(m.uploader, msg.Recording, m.cfg), waitEventCmd(m.bridge))

	case UploadedMsg:
		m.jobID = msg.JobID
		return m, followCmd(m.uploader, m.bridge, msg.JobID)

	case UploadErrorMsg:
		m.uploading = false
		m.errorMessage = "upload failed: " + msg.Err.Error()
		return m, nil

	case ProgressMsg:
		m.progress = msg.Snapshot
		if msg.Snapshot.MemoID != "" {
			m.memoID = msg.Snapshot.MemoID
		}
		return m, waitEventCmd(m.bridge)

	case JobDoneMsg:
		m.uploading = false
		m.finished = true
		if msg.Last.Stage != "" {
			m.progress = msg.Last
		}
		if msg.Last.MemoID != "" {
			m.memoID = msg.Last.MemoID
		}
		if msg.Err != nil {
			m.errorMessage = msg.Err.Error()
		} else if msg.Last.Stage == types.StageError {
			m.errorMessage = msg.Last.Error
		}
		m.quitting = true
		m.bridge.Close()
		return m, tea.Quit

	case TickMsg:
		if sess := m.engine.Session(); sess != nil && !m.uploading && !m.finished {
			m.elapsed = sess.ElapsedSeconds
		}
		if m.quitting {
			return m, nil
		}
		return m, tickCmd()
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		m.quitting = true
		m.engine.Close()
		m.bridge.Close()
		return m, tea.Quit

	case KeySpace:
		var err error
		switch m.state {
		case capture.StateRecording:
			err = m.engine.Pause()
		case capture.StatePaused:
			err = m.engine.Resume()
		}
		if err != nil {
			m.errorMessage = err.Error()
		}
		return m, nil

	case KeyEnter:
		if m.state == capture.StateRecording || m.state == capture.StatePaused {
			return m, stopCmd(m.engine)
		}
	}
	return m, nil
}

// View renders the recorder.
func (m Model) View() string {
	var sections []string

	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderWaveform())
	if m.uploading || m.finished {
		sections = append(sections, m.renderProgress())
	}
	if m.errorMessage != "" {
		sections = append(sections, errorStyle.Render("Error: "+m.errorMessage))
	}
	if !m.quitting {
		sections = append(sections, m.renderFooter())
	}

	return strings.Join(sections, "\n") + "\n"
}

func (m Model) renderHeader() string {
	var indicator string
	switch m.state {
	case capture.StateRecording:
		indicator = recordingStyle.Render("● REC")
	case capture.StatePaused:
		indicator = pausedStyle.Render("❚❚ PAUSED")
	default:
		indicator = dimStyle.Render(string(m.state))
	}

	elapsed := formatElapsed(m.elapsed)
	if m.cfg.MaxDurationSeconds > 0 {
		elapsed += " / " + formatElapsed(m.cfg.MaxDurationSeconds)
	}
	return fmt.Sprintf("%s  %s  %s", titleStyle.Render("VOICE MEMO"), indicator, elapsed)
}

func (m Model) renderWaveform() string {
	if len(m.bars) == 0 {
		return dimStyle.Render(strings.Repeat("·", waveform.DefaultBarCount))
	}
	return barStyle.Render(renderBars(m.bars))
}

func (m Model) renderProgress() string {
	if m.jobID == "" {
		return dimStyle.Render("Uploading recording...")
	}
	line := fmt.Sprintf("%3d%% %s", m.progress.Progress, m.progress.Stage)
	if m.progress.Message != "" {
		line += " · " + m.progress.Message
	}
	if m.progress.Stage == types.StageComplete {
		line += "\n" + titleStyle.Render("Saved memo "+m.memoID)
		if r := m.progress.TranscriptionResult; r != nil && r.Text != "" {
			line += "\n" + r.Text
		}
	}
	return line
}

func (m Model) renderFooter() string {
	keys := []struct{ key, desc string }{
		{"space", "pause/resume"},
		{"enter", "stop & save"},
		{"q", "quit"},
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, footerKeyStyle.Render(k.key)+" "+footerDescStyle.Render(k.desc))
	}
	return strings.Join(parts, "  ")
}

// renderBars maps levels in [0,1] onto block glyphs.
func renderBars(bars waveform.Frame) string {
	var b strings.Builder
	top := len(barGlyphs) - 1
	for _, v := range bars {
		i := int(v*float64(top) + 0.5)
		if i < 0 {
			i = 0
		}
		if i > top {
			i = top
		}
		b.WriteRune(barGlyphs[i])
	}
	return b.String()
}

func formatElapsed(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
