package capture

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codebuildervaibhav/voice-memos/internal/waveform"
)

// State is a recording session state.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateRecording    State = "recording"
	StatePaused       State = "paused"
	StateStopping     State = "stopping"
	StateCompleted    State = "completed"
	StateError        State = "error"
)

// Terminal reports whether the session can no longer change state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError
}

var transitions = map[State][]State{
	StateIdle:         {StateInitializing, StateRecording},
	StateInitializing: {StateIdle},
	StateRecording:    {StatePaused, StateStopping},
	StatePaused:       {StateRecording, StateStopping},
	StateStopping:     {StateCompleted},
}

// CanTransition reports whether from -> to is a valid session transition.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateError {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Microphone grants access to a PCM input stream.
type Microphone interface {
	Open(ctx context.Context, format Format) (Stream, error)
}

// Stream is an open PCM16 input. Read blocks until samples arrive, the
// stream ends (io.EOF) or ctx is done.
type Stream interface {
	Read(ctx context.Context, buf []int16) (int, error)
	Close() error
}

// Recording is the result handed to the caller when a session completes.
type Recording struct {
	SessionID       string
	Blob            []byte
	DurationSeconds float64
	SizeBytes       int
	MimeType        string
	// Partial marks audio salvaged from a session that ended in error.
	Partial bool
}

// Session is a snapshot of one capture attempt.
type Session struct {
	ID             string
	StartedAt      time.Time
	EndedAt        time.Time
	State          State
	ElapsedSeconds float64
	Recording      *Recording
	Error          *Error
	// Partial holds the audio captured before an error, if any.
	Partial *Recording
}

// Handlers receive engine events. All are optional and are invoked without
// engine locks held.
type Handlers struct {
	OnState    func(sessionID string, state State)
	OnWaveform func(frame waveform.Frame)
	OnError    func(sessionID string, err *Error)
	OnComplete func(rec *Recording)
}

// Config controls capture and analysis.
type Config struct {
	Format       Format
	ChunkSeconds float64
	FrameSamples int
	TickInterval time.Duration
	FFTSize      int
	BarCount     int
	Preferences  []string
}

func (c Config) withDefaults() Config {
	if c.Format.SampleRate <= 0 {
		c.Format.SampleRate = 16000
	}
	if c.Format.Channels <= 0 {
		c.Format.Channels = 1
	}
	if c.ChunkSeconds <= 0 {
		c.ChunkSeconds = 1
	}
	if c.FrameSamples <= 0 {
		c.FrameSamples = c.Format.SampleRate / 10 * c.Format.Channels
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.FFTSize <= 0 {
		c.FFTSize = 1024
	}
	if c.BarCount <= 0 {
		c.BarCount = waveform.DefaultBarCount
	}
	if len(c.Preferences) == 0 {
		c.Preferences = DefaultPreferences
	}
	return c
}

// Engine owns one microphone stream, its encoder and the session state
// machine. One engine records one session at a time.
type Engine struct {
	mic      Microphone
	probe    *Probe
	cfg      Config
	handlers Handlers
	analyzer *waveform.Analyzer
	now      func() time.Time

	mu          sync.Mutex
	session     *Session
	stream      Stream
	encoder     Encoder
	chunks      [][]byte
	committed   int
	pending     []int16
	recent      []int16
	activeSince time.Time
	accumulated time.Duration
	maxDuration time.Duration
	autoStop    *time.Timer
	cancel      context.CancelFunc
	loopDone    chan struct{}
	wg          sync.WaitGroup
}

// NewEngine creates an engine in the idle state.
func NewEngine(mic Microphone, probe *Probe, cfg Config, handlers Handlers) *Engine {
	cfg = cfg.withDefaults()
	if probe == nil {
		probe = NewProbe(cfg.Format, DetectFFmpeg())
	}
	return &Engine{
		mic:      mic,
		probe:    probe,
		cfg:      cfg,
		handlers: handlers,
		analyzer: waveform.NewAnalyzer(cfg.BarCount, 0, 0),
		now:      time.Now,
	}
}

// SetClock replaces the wall clock used for elapsed time.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// Session returns a snapshot of the current session, or nil.
func (e *Engine) Session() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	snap := *e.session
	if !snap.State.Terminal() {
		snap.ElapsedSeconds = e.elapsedLocked().Seconds()
	}
	return &snap
}

// Initialize requests microphone access and negotiates the encoding.
// Any previous active session is torn down first.
func (e *Engine) Initialize(ctx context.Context) error {
	e.Close()

	e.mu.Lock()
	sess := &Session{ID: newSessionID(), State: StateIdle}
	e.session = sess
	e.setStateLocked(StateInitializing)
	e.mu.Unlock()
	e.notifyState(sess.ID, StateInitializing)

	enc, err := e.probe.Negotiate(e.cfg.Preferences)
	if err != nil {
		cerr := classify(err, "no supported encoding")
		e.fail(sess.ID, cerr)
		return cerr
	}

	stream, err := e.mic.Open(ctx, e.cfg.Format)
	if err != nil {
		cerr := classify(err, "failed to open microphone")
		e.fail(sess.ID, cerr)
		return cerr
	}

	e.mu.Lock()
	if e.session != sess || sess.State != StateInitializing {
		e.mu.Unlock()
		stream.Close()
		return fmt.Errorf("%w: session torn down during initialization", ErrInvalidState)
	}
	e.stream = stream
	e.encoder = enc
	e.setStateLocked(StateIdle)
	e.mu.Unlock()
	e.notifyState(sess.ID, StateIdle)

	log.Printf("Capture: session %s ready (%s, %d Hz)", sess.ID, enc.MIMEType(), e.cfg.Format.SampleRate)
	return nil
}

// MimeType returns the negotiated encoding, or "" before Initialize.
func (e *Engine) MimeType() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.encoder == nil {
		return ""
	}
	return e.encoder.MIMEType()
}

// Start begins recording. maxDurationSeconds <= 0 disables auto-stop.
func (e *Engine) Start(maxDurationSeconds float64) (string, error) {
	e.mu.Lock()
	sess := e.session
	if sess == nil || sess.State != StateIdle || e.stream == nil {
		e.mu.Unlock()
		return "", fmt.Errorf("%w: start requires an initialized idle session", ErrInvalidState)
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := e.now()
	e.cancel = cancel
	e.chunks = nil
	e.committed = 0
	e.pending = nil
	e.recent = nil
	e.accumulated = 0
	e.activeSince = now
	e.maxDuration = time.Duration(maxDurationSeconds * float64(time.Second))
	sess.StartedAt = now

	stream := e.stream
	e.stream = nil
	done := make(chan struct{})
	e.loopDone = done

	e.setStateLocked(StateRecording)
	e.armAutoStopLocked(sess.ID)

	e.wg.Add(2)
	go e.captureLoop(ctx, sess.ID, stream, done)
	go e.tickLoop(ctx, sess.ID)
	e.mu.Unlock()

	e.notifyState(sess.ID, StateRecording)
	log.Printf("Capture: session %s recording (max %.0fs)", sess.ID, maxDurationSeconds)
	return sess.ID, nil
}

// Pause suspends encoding and waveform emission.
func (e *Engine) Pause() error {
	e.mu.Lock()
	sess := e.session
	if sess == nil || sess.State != StateRecording {
		e.mu.Unlock()
		return fmt.Errorf("%w: pause requires recording", ErrInvalidState)
	}
	e.accumulated += e.now().Sub(e.activeSince)
	e.stopTimerLocked()
	e.setStateLocked(StatePaused)
	e.mu.Unlock()

	e.notifyState(sess.ID, StatePaused)
	return nil
}

// Resume continues a paused session.
func (e *Engine) Resume() error {
	e.mu.Lock()
	sess := e.session
	if sess == nil || sess.State != StatePaused {
		e.mu.Unlock()
		return fmt.Errorf("%w: resume requires paused", ErrInvalidState)
	}
	e.activeSince = e.now()
	e.setStateLocked(StateRecording)
	e.armAutoStopLocked(sess.ID)
	e.mu.Unlock()

	e.notifyState(sess.ID, StateRecording)
	return nil
}

// Stop flushes buffered audio and completes the session.
func (e *Engine) Stop() (*Recording, error) {
	e.mu.Lock()
	sess := e.session
	e.mu.Unlock()
	if sess == nil {
		return nil, fmt.Errorf("%w: no session", ErrInvalidState)
	}
	return e.stop(sess.ID)
}

func (e *Engine) stop(id string) (*Recording, error) {
	e.mu.Lock()
	sess := e.session
	if sess == nil || sess.ID != id {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s is not active", ErrInvalidState, id)
	}
	if sess.State != StateRecording && sess.State != StatePaused {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: stop requires recording or paused, got %s", ErrInvalidState, sess.State)
	}
	if sess.State == StateRecording {
		e.accumulated += e.now().Sub(e.activeSince)
	}
	e.stopTimerLocked()
	e.setStateLocked(StateStopping)
	cancel, done := e.cancel, e.loopDone
	e.mu.Unlock()
	e.notifyState(id, StateStopping)

	cancel()
	<-done
	e.wg.Wait()

	e.mu.Lock()
	if sess.State != StateStopping {
		err := sess.Error
		e.mu.Unlock()
		return nil, err
	}
	if len(e.pending) > 0 {
		chunk, err := e.encoder.EncodeChunk(e.pending)
		if err != nil {
			e.mu.Unlock()
			cerr := newError(KindProcessingFailed, "failed to encode final chunk", err)
			e.fail(id, cerr)
			return nil, cerr
		}
		e.chunks = append(e.chunks, chunk)
		e.committed += len(e.pending)
		e.pending = nil
	}
	chunks := e.chunks
	enc := e.encoder
	e.mu.Unlock()

	blob, err := enc.Assemble(chunks)
	if err != nil {
		cerr := newError(KindProcessingFailed, "failed to assemble recording", err)
		e.fail(id, cerr)
		return nil, cerr
	}

	e.mu.Lock()
	if sess.State != StateStopping {
		err := sess.Error
		e.mu.Unlock()
		return nil, err
	}
	rec := &Recording{
		SessionID:       id,
		Blob:            blob,
		DurationSeconds: e.accumulated.Seconds(),
		SizeBytes:       len(blob),
		MimeType:        enc.MIMEType(),
	}
	sess.EndedAt = e.now()
	sess.ElapsedSeconds = rec.DurationSeconds
	sess.Recording = rec
	e.chunks = nil
	e.committed = 0
	e.recent = nil
	e.setStateLocked(StateCompleted)
	e.mu.Unlock()

	e.analyzer.Reset()
	e.notifyState(id, StateCompleted)
	log.Printf("Capture: session %s completed (%.1fs, %d bytes, %s)", id, rec.DurationSeconds, rec.SizeBytes, rec.MimeType)
	if e.handlers.OnComplete != nil {
		e.safeCall(id, func() { e.handlers.OnComplete(rec) })
	}
	return rec, nil
}

// Close tears down any active session and releases the microphone.
func (e *Engine) Close() error {
	e.mu.Lock()
	sess := e.session
	done := e.loopDone
	var state State
	if sess != nil {
		state = sess.State
	}
	e.mu.Unlock()

	if sess != nil && !state.Terminal() && state != StateStopping {
		e.fail(sess.ID, newError(KindProcessingFailed, "recording aborted", nil))
	}
	if done != nil {
		<-done
	}
	e.wg.Wait()
	return nil
}

// fail moves the session to error, releases resources and reports err.
// Audio captured so far is assembled into Session.Partial before OnError runs.
func (e *Engine) fail(id string, err *Error) {
	e.mu.Lock()
	sess := e.session
	if sess == nil || sess.ID != id || sess.State.Terminal() {
		e.mu.Unlock()
		return
	}
	if sess.State == StateRecording {
		e.accumulated += e.now().Sub(e.activeSince)
	}
	e.stopTimerLocked()
	sess.Error = err
	sess.EndedAt = e.now()
	sess.ElapsedSeconds = e.accumulated.Seconds()
	e.setStateLocked(StateError)
	cancel := e.cancel
	stream := e.stream
	e.stream = nil
	captured := capturedAudio{
		encoder:   e.encoder,
		chunks:    e.chunks,
		committed: e.committed,
		pending:   e.pending,
	}
	e.chunks = nil
	e.committed = 0
	e.pending = nil
	e.recent = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		if cerr := stream.Close(); cerr != nil {
			log.Printf("Capture: failed to close stream: %v", cerr)
		}
	}
	e.analyzer.Reset()

	if partial := e.salvage(id, captured); partial != nil {
		e.mu.Lock()
		if e.session == sess {
			sess.Partial = partial
		}
		e.mu.Unlock()
		log.Printf("Capture: session %s salvaged %.1fs (%d bytes)", id, partial.DurationSeconds, partial.SizeBytes)
	}

	log.Printf("Capture: session %s failed: %v", id, err)
	e.notifyState(id, StateError)
	if e.handlers.OnError != nil {
		e.handlers.OnError(id, err)
	}
}

// capturedAudio is what a session held when it failed.
type capturedAudio struct {
	encoder   Encoder
	chunks    [][]byte
	committed int
	pending   []int16
}

// salvage assembles the encoded chunks and, when it still encodes, the
// unfinished slice. It returns nil when nothing was captured.
func (e *Engine) salvage(id string, c capturedAudio) *Recording {
	if c.encoder == nil || (len(c.chunks) == 0 && len(c.pending) == 0) {
		return nil
	}
	chunks, samples := c.chunks, c.committed
	if len(c.pending) > 0 {
		if chunk, err := c.encoder.EncodeChunk(c.pending); err == nil {
			chunks = append(chunks, chunk)
			samples += len(c.pending)
		}
	}
	if len(chunks) == 0 {
		return nil
	}

	blob, err := c.encoder.Assemble(chunks)
	if err != nil {
		log.Printf("Capture: failed to salvage session %s: %v", id, err)
		return nil
	}
	return &Recording{
		SessionID:       id,
		Blob:            blob,
		DurationSeconds: float64(samples) / float64(e.cfg.Format.SampleRate*e.cfg.Format.Channels),
		SizeBytes:       len(blob),
		MimeType:        c.encoder.MIMEType(),
		Partial:         true,
	}
}

// captureLoop owns the stream once recording starts and always closes it.
func (e *Engine) captureLoop(ctx context.Context, id string, stream Stream, done chan struct{}) {
	defer e.wg.Done()
	defer close(done)
	defer func() {
		if err := stream.Close(); err != nil {
			log.Printf("Capture: failed to close stream: %v", err)
		}
	}()

	buf := make([]int16, e.cfg.FrameSamples)
	for {
		n, err := stream.Read(ctx, buf)
		if n > 0 {
			if cerr := e.consume(id, buf[:n]); cerr != nil {
				e.fail(id, cerr)
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			e.fail(id, classify(err, "microphone read failed"))
			return
		}
	}
}

func (e *Engine) consume(id string, samples []int16) *Error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil || e.session.ID != id {
		return nil
	}
	// Stopping still accepts the final read so nothing already captured is lost.
	if e.session.State != StateRecording && e.session.State != StateStopping {
		return nil
	}

	e.pending = append(e.pending, samples...)
	e.recent = append(e.recent, samples...)
	if over := len(e.recent) - e.cfg.FFTSize; over > 0 {
		e.recent = append(e.recent[:0], e.recent[over:]...)
	}

	chunkSamples := int(e.cfg.ChunkSeconds * float64(e.cfg.Format.SampleRate*e.cfg.Format.Channels))
	for len(e.pending) >= chunkSamples {
		chunk, err := e.encoder.EncodeChunk(e.pending[:chunkSamples])
		if err != nil {
			return newError(KindProcessingFailed, "failed to encode chunk", err)
		}
		e.chunks = append(e.chunks, chunk)
		e.committed += chunkSamples
		e.pending = append(e.pending[:0], e.pending[chunkSamples:]...)
	}
	return nil
}

func (e *Engine) tickLoop(ctx context.Context, id string) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	spectrum := waveform.NewSpectrum(e.cfg.FFTSize)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		e.mu.Lock()
		if e.session == nil || e.session.ID != id || e.session.State != StateRecording {
			e.mu.Unlock()
			continue
		}
		window := append([]int16(nil), e.recent...)
		e.mu.Unlock()

		frame := e.analyzer.Process(spectrum.Decibels(window))
		if e.handlers.OnWaveform != nil {
			e.safeCall(id, func() { e.handlers.OnWaveform(frame) })
		}
	}
}

// safeCall keeps a panicking handler from escaping a timer goroutine.
func (e *Engine) safeCall(id string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Capture: handler panic in session %s: %v", id, r)
			go e.fail(id, newError(KindProcessingFailed, fmt.Sprintf("handler panic: %v", r), nil))
		}
	}()
	fn()
}

func (e *Engine) armAutoStopLocked(id string) {
	if e.maxDuration <= 0 {
		return
	}
	remaining := e.maxDuration - e.accumulated
	if remaining < 0 {
		remaining = 0
	}
	e.autoStop = time.AfterFunc(remaining, func() {
		if _, err := e.stop(id); err != nil {
			log.Printf("Capture: auto-stop of session %s skipped: %v", id, err)
		}
	})
}

func (e *Engine) stopTimerLocked() {
	if e.autoStop != nil {
		e.autoStop.Stop()
		e.autoStop = nil
	}
}

func (e *Engine) elapsedLocked() time.Duration {
	elapsed := e.accumulated
	if e.session != nil && e.session.State == StateRecording {
		elapsed += e.now().Sub(e.activeSince)
	}
	return elapsed
}

func (e *Engine) setStateLocked(to State) {
	from := e.session.State
	if !CanTransition(from, to) && from != to {
		log.Printf("Capture: unexpected transition %s -> %s in session %s", from, to, e.session.ID)
	}
	e.session.State = to
}

func (e *Engine) notifyState(id string, state State) {
	if e.handlers.OnState != nil {
		e.handlers.OnState(id, state)
	}
}

func newSessionID() string {
	id, err := nanoid.New()
	if err != nil {
		return fmt.Sprintf("rec_%d", time.Now().UnixNano())
	}
	return "rec_" + id
}
