package types

import "time"

// Memo kinds
const (
	MemoAudio = "audio"
	MemoText  = "text"
	MemoMixed = "mixed"
)

// Transcription status constants
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusError      = "error"
)

// Stage is a named phase of a processing job.
type Stage string

const (
	StageUploading    Stage = "uploading"
	StageTranscribing Stage = "transcribing"
	StageSaving       Stage = "saving"
	StageComplete     Stage = "complete"
	StageError        Stage = "error"
)

// Terminal reports whether no further stage follows s.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageError
}

// Segment represents a timestamped segment of transcription
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptionResult is the normalized output of any transcription provider.
// A nil Confidence means the confidence is unknown.
type TranscriptionResult struct {
	Text            string    `json:"text"`
	Language        string    `json:"language,omitempty"`
	Confidence      *float64  `json:"confidence,omitempty"`
	Segments        []Segment `json:"segments,omitempty"`
	DurationSeconds *float64  `json:"duration_seconds,omitempty"`
	Provider        string    `json:"provider,omitempty"`
}

// MemoRecord is the persisted memo document.
type MemoRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	AudioURL        string  `json:"audio_url,omitempty"`
	MimeType        string  `json:"mime_type,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	FileSizeBytes   int64   `json:"file_size_bytes,omitempty"`
	TextContent     string  `json:"text_content,omitempty"`

	Transcription           *TranscriptionResult `json:"transcription,omitempty"`
	TranscriptionStatus     string               `json:"transcription_status"`
	TranscriptionRetryCount int                  `json:"transcription_retry_count"`
	TranscriptionError      string               `json:"transcription_error,omitempty"`
}

// MemoUpdate carries a partial update; nil fields are left untouched.
type MemoUpdate struct {
	Title                   *string
	AudioURL                *string
	MimeType                *string
	DurationSeconds         *float64
	FileSizeBytes           *int64
	TextContent             *string
	Transcription           *TranscriptionResult
	TranscriptionStatus     *string
	TranscriptionRetryCount *int
	TranscriptionError      *string
}

// ProcessingJob is one snapshot of a memo job's progress.
type ProcessingJob struct {
	MemoID              string               `json:"memo_id"`
	Stage               Stage                `json:"stage"`
	Progress            int                  `json:"progress"`
	Message             string               `json:"message"`
	TranscriptionResult *TranscriptionResult `json:"transcription_result,omitempty"`
	Error               string               `json:"error,omitempty"`
	ErrorKind           string               `json:"error_kind,omitempty"`
	Retryable           bool                 `json:"retryable,omitempty"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// String returns a pointer to s, for building MemoUpdate values.
func String(s string) *string { return &s }

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }

// Int returns a pointer to i.
func Int(i int) *int { return &i }

// Int64 returns a pointer to i.
func Int64(i int64) *int64 { return &i }
