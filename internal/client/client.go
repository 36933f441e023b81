// Package client talks to the voice memo service over HTTP and WebSocket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codebuildervaibhav/voice-memos/internal/transcription"
	"github.com/codebuildervaibhav/voice-memos/internal/types"
)

// APIError is a non-2xx response from the service.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// Options configure a Client.
type Options struct {
	BaseURL    string // e.g. http://localhost:8080
	Token      string // bearer token; empty in development mode
	UserID     string // sent as X-User-ID when Token is empty
	HTTPClient *http.Client

	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
}

func (o Options) withDefaults() Options {
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 2 * time.Minute
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	return o
}

// Client is a voice memo API client.
type Client struct {
	opts Options
}

// New creates a client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	return &Client{opts: opts.withDefaults()}, nil
}

// Queued is the response to any request that starts a pipeline job.
type Queued struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// JobStatus is the response of GET /jobs/:id.
type JobStatus struct {
	JobID    string              `json:"job_id"`
	Kind     string              `json:"kind"`
	Status   string              `json:"status"`
	Snapshot types.ProcessingJob `json:"snapshot"`
}

// MemoPage is one page of a memo query.
type MemoPage struct {
	Records []*types.MemoRecord `json:"records"`
	HasMore bool                `json:"has_more"`
	Cursor  string              `json:"cursor,omitempty"`
}

// Upload is a memo submission.
type Upload struct {
	Audio           []byte
	MimeType        string
	DurationSeconds float64
	Title           string
	Text            string
	Language        string
	Prompt          string
}

// ListOptions select a page of memos.
type ListOptions struct {
	Type   string
	Status string
	Sort   string
	Asc    bool
	Limit  int
	Cursor string
}

func (c *Client) authorize(h http.Header) {
	if c.opts.Token != "" {
		h.Set("Authorization", "Bearer "+c.opts.Token)
	} else if c.opts.UserID != "" {
		h.Set("X-User-ID", c.opts.UserID)
	}
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.authorize(req.Header)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Upload submits audio as a new memo.
func (c *Client) Upload(ctx context.Context, u Upload) (*Queued, error) {
	if len(u.Audio) == 0 {
		return nil, fmt.Errorf("no audio to upload")
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "memo"+transcription.ExtensionFor(u.MimeType))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(u.Audio); err != nil {
		return nil, err
	}
	fields := map[string]string{
		"mime_type": u.MimeType,
		"title":     u.Title,
		"text":      u.Text,
		"language":  u.Language,
		"prompt":    u.Prompt,
	}
	if u.DurationSeconds > 0 {
		fields["duration"] = strconv.FormatFloat(u.DurationSeconds, 'f', 3, 64)
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	var out Queued
	if err := c.do(ctx, http.MethodPost, "/memos", w.FormDataContentType(), &body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Job returns the latest snapshot of a job.
func (c *Client) Job(ctx context.Context, id string) (*JobStatus, error) {
	var out JobStatus
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Memo returns one memo.
func (c *Client) Memo(ctx context.Context, id string) (*types.MemoRecord, error) {
	var out types.MemoRecord
	if err := c.do(ctx, http.MethodGet, "/memos/"+url.PathEscape(id), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Retry queues a new transcription attempt for a memo.
func (c *Client) Retry(ctx context.Context, id string, opts transcription.Options) (*Queued, error) {
	payload, err := json.Marshal(map[string]string{"language": opts.Language, "prompt": opts.Prompt})
	if err != nil {
		return nil, err
	}
	var out Queued
	if err := c.do(ctx, http.MethodPost, "/memos/"+url.PathEscape(id)+"/retry", "application/json", bytes.NewReader(payload), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMemos returns one page of the caller's memos.
func (c *Client) ListMemos(ctx context.Context, opts ListOptions) (*MemoPage, error) {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("type", opts.Type)
	set("status", opts.Status)
	set("sort", opts.Sort)
	set("cursor", opts.Cursor)
	if opts.Asc {
		q.Set("order", "asc")
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}

	path := "/memos"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out MemoPage
	if err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ErrStreamClosed is returned when a job stream ends before a terminal snapshot.
var ErrStreamClosed = errors.New("job stream closed before completion")

func (c *Client) wsURL(path string) (string, http.Header, error) {
	u, err := url.Parse(c.opts.BaseURL + path)
	if err != nil {
		return "", nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	header := http.Header{}
	c.authorize(header)
	return u.String(), header, nil
}

// FollowJob streams a job's snapshots to fn until the terminal one, which
// is also returned.
func (c *Client) FollowJob(ctx context.Context, id string, fn func(types.ProcessingJob)) (types.ProcessingJob, error) {
	var last types.ProcessingJob

	wsURL, header, err := c.wsURL("/ws/jobs/" + url.PathEscape(id))
	if err != nil {
		return last, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return last, fmt.Errorf("failed to open job stream: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "cancelled"), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			if last.Stage.Terminal() {
				return last, nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, io.EOF) {
				return last, ErrStreamClosed
			}
			return last, err
		}

		var snapshot types.ProcessingJob
		if err := json.Unmarshal(data, &snapshot); err != nil {
			return last, fmt.Errorf("invalid job snapshot: %w", err)
		}
		if snapshot.Stage == "" {
			// {"type":"error",...} frames carry no stage.
			return last, fmt.Errorf("job stream error: %s", strings.TrimSpace(string(data)))
		}
		last = snapshot
		if fn != nil {
			fn(snapshot)
		}
		if snapshot.Stage.Terminal() {
			return last, nil
		}
	}
}

// RecordEvent is a frame pushed by the server during a streamed recording.
type RecordEvent struct {
	Type            string    `json:"type"` // state, waveform, error or job
	SessionID       string    `json:"session_id,omitempty"`
	State           string    `json:"state,omitempty"`
	Bars            []float64 `json:"bars,omitempty"`
	Kind            string    `json:"kind,omitempty"`
	Message         string    `json:"message,omitempty"`
	JobID           string    `json:"job_id,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	MimeType        string    `json:"mime_type,omitempty"`
}

// RecordStart opens a streamed recording.
type RecordStart struct {
	SampleRate         int     `json:"sample_rate"`
	Channels           int     `json:"channels"`
	MaxDurationSeconds float64 `json:"max_duration_seconds,omitempty"`
	Title              string  `json:"title,omitempty"`
	Language           string  `json:"language,omitempty"`
}

// RecordStream is a server-side recording fed with local PCM.
type RecordStream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	timeout time.Duration
	events  chan RecordEvent
	err     error
}

// Record opens /ws/record and sends the start message. Server frames are
// delivered on Events until the connection closes.
func (c *Client) Record(ctx context.Context, start RecordStart) (*RecordStream, error) {
	wsURL, header, err := c.wsURL("/ws/record")
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording stream: %w", err)
	}

	s := &RecordStream{conn: conn, timeout: c.opts.WriteTimeout, events: make(chan RecordEvent, 64)}
	msg := struct {
		Type string `json:"type"`
		RecordStart
	}{Type: "start", RecordStart: start}
	if err := s.writeJSON(msg); err != nil {
		conn.Close()
		return nil, err
	}
	go s.readLoop()
	return s, nil
}

func (s *RecordStream) readLoop() {
	defer close(s.events)
	for {
		var ev RecordEvent
		if err := s.conn.ReadJSON(&ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.err = err
			}
			return
		}
		s.events <- ev
	}
}

func (s *RecordStream) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	return s.conn.WriteJSON(v)
}

// Events delivers server frames. It is closed when the connection ends.
func (s *RecordStream) Events() <-chan RecordEvent {
	return s.events
}

// Err reports why the event stream ended, once Events is closed.
func (s *RecordStream) Err() error {
	return s.err
}

// Send writes little-endian PCM16 samples.
func (s *RecordStream) Send(pcm []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	return s.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// Pause, Resume and Stop send control messages.
func (s *RecordStream) Pause() error  { return s.writeJSON(map[string]string{"type": "pause"}) }
func (s *RecordStream) Resume() error { return s.writeJSON(map[string]string{"type": "resume"}) }
func (s *RecordStream) Stop() error   { return s.writeJSON(map[string]string{"type": "stop"}) }

// Close closes the connection.
func (s *RecordStream) Close() error {
	return s.conn.Close()
}
