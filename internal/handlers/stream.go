package handlers

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/codebuildervaibhav/voice-memos/internal/auth"
	"github.com/codebuildervaibhav/voice-memos/internal/capture"
	"github.com/codebuildervaibhav/voice-memos/internal/memo"
	"github.com/codebuildervaibhav/voice-memos/internal/waveform"
)

// drainTimeout bounds how long stop waits for queued PCM to be consumed.
const drainTimeout = time.Second

// RecordObserver is notified when streamed recordings start and end.
type RecordObserver interface {
	RecordingStarted()
	RecordingEnded(state string, seconds float64)
}

// StreamConfig controls server-side capture of streamed PCM.
type StreamConfig struct {
	Capture            capture.Config
	FFmpegPath         string
	MaxDurationSeconds float64
}

// StreamHandler records PCM16LE audio streamed over a WebSocket and submits
// the finished recording as a memo.
type StreamHandler struct {
	dispatch *Dispatcher
	cfg      StreamConfig
	observer RecordObserver
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(dispatch *Dispatcher, cfg StreamConfig) *StreamHandler {
	return &StreamHandler{
		dispatch: dispatch,
		cfg:      cfg,
	}
}

// SetObserver installs a recording observer.
func (h *StreamHandler) SetObserver(o RecordObserver) {
	h.observer = o
}

// controlMessage is a text frame sent by the recording client.
type controlMessage struct {
	Type               string  `json:"type"` // start, pause, resume or stop
	SampleRate         int     `json:"sample_rate"`
	Channels           int     `json:"channels"`
	MaxDurationSeconds float64 `json:"max_duration_seconds"`
	Title              string  `json:"title"`
	Language           string  `json:"language"`
}

// recordSession is the per-connection state of Handle.
type recordSession struct {
	h      *StreamHandler
	conn   *websocket.Conn
	user   string
	ctx    context.Context
	meta   controlMessage
	source *capture.PushSource
	engine *capture.Engine

	writeMu sync.Mutex

	mu      sync.Mutex
	job     fiber.Map
	ended   chan struct{}
	endOnce sync.Once
}

func (s *recordSession) send(v any) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(v); err != nil {
		log.Printf("WebSocket write error: %v", err)
	}
}

func (s *recordSession) sendError(kind, message string) {
	s.send(fiber.Map{"type": "error", "kind": kind, "message": message})
}

// Handle processes WebSocket connections
func (h *StreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &recordSession{h: h, conn: c, ctx: ctx}
	s.user, _ = c.Locals(auth.LocalsKey).(string)
	if s.user == "" {
		s.sendError("unauthorized", memo.ErrMissingAuth.Error())
		return
	}
	defer s.teardown()

	log.Printf("WebSocket recording connection established for %s", s.user)

	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			log.Printf("WebSocket read error: %v", err)
			return
		}

		if messageType == websocket.BinaryMessage {
			s.push(message)
			continue
		}

		var msg controlMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.sendError("invalid_message", "control frames must be JSON")
			continue
		}
		if done := s.control(msg); done {
			return
		}
	}
}

// control applies one control message and reports whether the connection
// is finished.
func (s *recordSession) control(msg controlMessage) bool {
	if msg.Type != "start" && s.engine == nil {
		s.sendError("invalid_state", "send start first")
		return false
	}

	var err error
	switch msg.Type {
	case "start":
		if s.engine != nil {
			s.sendError("invalid_state", "recording already started")
			return false
		}
		err = s.start(msg)
	case "pause":
		err = s.engine.Pause()
	case "resume":
		err = s.engine.Resume()
	case "stop":
		if s.finishedWithoutStop() {
			return true
		}
		s.drain()
		_, err = s.engine.Stop()
		if err == nil || s.finishedWithoutStop() {
			return true
		}
	default:
		s.sendError("invalid_message", "unknown control type "+msg.Type)
		return false
	}

	if err != nil {
		s.sendError("invalid_state", err.Error())
	}
	return false
}

func (s *recordSession) start(msg controlMessage) error {
	s.meta = msg
	cfg := s.h.cfg.Capture
	if msg.SampleRate > 0 {
		cfg.Format.SampleRate = msg.SampleRate
	}
	if msg.Channels > 0 {
		cfg.Format.Channels = msg.Channels
	}

	maxDuration := s.h.cfg.MaxDurationSeconds
	if msg.MaxDurationSeconds > 0 && (maxDuration <= 0 || msg.MaxDurationSeconds < maxDuration) {
		maxDuration = msg.MaxDurationSeconds
	}

	s.ended = make(chan struct{})
	s.source = capture.NewPushSource(0)
	s.engine = capture.NewEngine(s.source, capture.NewProbe(cfg.Format, s.h.cfg.FFmpegPath), cfg, capture.Handlers{
		OnState:    s.onState,
		OnWaveform: s.onWaveform,
		OnError:    s.onError,
		OnComplete: s.onComplete,
	})

	if err := s.engine.Initialize(s.ctx); err != nil {
		return err
	}
	if _, err := s.engine.Start(maxDuration); err != nil {
		return err
	}
	if s.h.observer != nil {
		s.h.observer.RecordingStarted()
	}
	return nil
}

// push feeds one binary PCM frame to the engine. Frames arriving after the
// session ended (for example past auto-stop) are dropped.
func (s *recordSession) push(pcm []byte) {
	if s.source == nil {
		s.sendError("invalid_state", "send start before audio")
		return
	}
	if sess := s.engine.Session(); sess == nil || sess.State.Terminal() {
		return
	}
	if err := s.source.Push(s.ctx, pcm); err != nil {
		s.sendError("invalid_audio", err.Error())
	}
}

// finishedWithoutStop handles stop arriving after auto-stop already ended
// the recording. It waits for the session to settle and replies with the job.
func (s *recordSession) finishedWithoutStop() bool {
	sess := s.engine.Session()
	if sess == nil || (sess.State != capture.StateStopping && sess.State != capture.StateCompleted) {
		return false
	}
	<-s.ended

	s.mu.Lock()
	job := s.job
	s.mu.Unlock()
	if job != nil {
		s.send(job)
	}
	return true
}

func (s *recordSession) end() {
	s.endOnce.Do(func() { close(s.ended) })
}

// drain waits briefly for queued frames so stop captures everything sent.
func (s *recordSession) drain() {
	deadline := time.Now().Add(drainTimeout)
	for s.source.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}

func (s *recordSession) teardown() {
	if s.engine != nil {
		s.engine.Close()
	}
	if s.source != nil {
		s.source.Close()
	}
}

func (s *recordSession) onState(sessionID string, state capture.State) {
	s.send(fiber.Map{"type": "state", "session_id": sessionID, "state": state})
	if state.Terminal() && s.h.observer != nil {
		var elapsed float64
		if sess := s.engine.Session(); sess != nil {
			elapsed = sess.ElapsedSeconds
		}
		s.h.observer.RecordingEnded(string(state), elapsed)
	}
}

func (s *recordSession) onWaveform(frame waveform.Frame) {
	s.send(fiber.Map{"type": "waveform", "bars": frame})
}

// onError reports err and queues any audio captured before it.
func (s *recordSession) onError(sessionID string, err *capture.Error) {
	defer s.end()
	s.sendError(string(err.Kind), err.Message)
	if sess := s.engine.Session(); sess != nil && sess.ID == sessionID && sess.Partial != nil {
		s.submit(sess.Partial)
	}
}

// onComplete queues the finished recording on the pipeline.
func (s *recordSession) onComplete(rec *capture.Recording) {
	defer s.end()
	s.submit(rec)
}

func (s *recordSession) submit(rec *capture.Recording) {
	job, err := s.h.dispatch.Submit("record", memo.Submission{
		UserID:          s.user,
		Audio:           rec.Blob,
		MimeType:        rec.MimeType,
		DurationSeconds: rec.DurationSeconds,
		Title:           s.meta.Title,
		Language:        s.meta.Language,
	})
	if err != nil {
		log.Printf("Failed to queue recording %s: %v", rec.SessionID, err)
		s.sendError("queue_full", "failed to queue recording")
		return
	}

	log.Printf("Recording %s queued as job %s (%.1fs, %d bytes, partial=%t)", rec.SessionID, job.ID, rec.DurationSeconds, rec.SizeBytes, rec.Partial)
	msg := fiber.Map{
		"type":             "job",
		"job_id":           job.ID,
		"session_id":       rec.SessionID,
		"duration_seconds": rec.DurationSeconds,
		"mime_type":        rec.MimeType,
		"partial":          rec.Partial,
	}
	s.mu.Lock()
	s.job = msg
	s.mu.Unlock()
	s.send(msg)
}
