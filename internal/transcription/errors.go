package transcription

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind is a domain error category for transcription failures.
type Kind string

const (
	KindNetworkError         Kind = "network_error"
	KindProcessingTimeout    Kind = "processing_timeout"
	KindAuthenticationFailed Kind = "authentication_failed"
	KindQuotaExceeded        Kind = "quota_exceeded"
	KindInvalidFormat        Kind = "invalid_format"
	KindFileTooLarge         Kind = "file_too_large"
	KindAPIError             Kind = "api_error"
	KindUnknown              Kind = "unknown_error"
)

// Retryable reports whether a failure of this kind may succeed on a later attempt.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetworkError, KindAPIError, KindProcessingTimeout:
		return true
	}
	return false
}

// ErrBothProvidersFailed marks a failure of the primary and the fallback provider.
var ErrBothProvidersFailed = errors.New("both providers failed")

// Error is a classified transcription error with a human-readable message.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error whose retryability follows its kind.
func NewError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Retryable: kind.Retryable(), Err: err}
}

var kindMessages = map[Kind]string{
	KindNetworkError:         "Network error while contacting the transcription service",
	KindProcessingTimeout:    "Transcription timed out",
	KindAuthenticationFailed: "Transcription service rejected the credentials",
	KindQuotaExceeded:        "Transcription quota exceeded",
	KindInvalidFormat:        "Audio format is not supported by the transcription service",
	KindFileTooLarge:         "Audio file is too large to transcribe",
	KindAPIError:             "Transcription service returned an error",
	KindUnknown:              "Transcription failed",
}

// KindFromStatus maps an HTTP status code from a provider to a Kind.
func KindFromStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindAuthenticationFailed
	case status == 429:
		return KindQuotaExceeded
	case status == 413:
		return KindFileTooLarge
	case status == 400 || status == 415 || status == 422:
		return KindInvalidFormat
	case status == 408 || status == 504:
		return KindProcessingTimeout
	case status >= 500:
		return KindAPIError
	case status > 0:
		return KindAPIError
	}
	return KindUnknown
}

// Classify converts any error into an *Error. Provider-specific codes are
// translated so callers can branch on Kind.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var terr *Error
	if errors.As(err, &terr) {
		return terr
	}

	kind := classifyKind(err)
	return NewError(kind, kindMessages[kind], err)
}

func classifyKind(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindProcessingTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindProcessingTimeout
		}
		return KindNetworkError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return KindProcessingTimeout
	case strings.Contains(msg, "network"), strings.Contains(msg, "connection"), strings.Contains(msg, "fetch"):
		return KindNetworkError
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "api key"), strings.Contains(msg, "authentication"):
		return KindAuthenticationFailed
	case strings.Contains(msg, "quota"), strings.Contains(msg, "rate limit"):
		return KindQuotaExceeded
	case strings.Contains(msg, "too large"):
		return KindFileTooLarge
	case strings.Contains(msg, "format"), strings.Contains(msg, "unsupported"):
		return KindInvalidFormat
	}
	return KindUnknown
}
