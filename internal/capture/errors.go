package capture

import (
	"errors"
	"fmt"
	"io"
)

// Kind categorizes capture failures.
type Kind string

const (
	KindPermissionDenied Kind = "permission_denied"
	KindDeviceNotFound   Kind = "device_not_found"
	KindNotSupported     Kind = "not_supported"
	KindProcessingFailed Kind = "processing_failed"
	KindNetworkError     Kind = "network_error"
)

// Errors a Microphone may return (wrapped) from Open.
var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrDeviceNotFound   = errors.New("no input device found")
	ErrNotSupported     = errors.New("audio capture not supported")
)

// ErrInvalidState is returned when an operation is not allowed in the current state.
var ErrInvalidState = errors.New("invalid recording state")

// Error is a categorized capture error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// classify maps an arbitrary error to a capture Error.
func classify(err error, message string) *Error {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr
	}
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return newError(KindPermissionDenied, message, err)
	case errors.Is(err, ErrDeviceNotFound):
		return newError(KindDeviceNotFound, message, err)
	case errors.Is(err, ErrNotSupported):
		return newError(KindNotSupported, message, err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return newError(KindNetworkError, "audio source disconnected", err)
	}
	return newError(KindProcessingFailed, message, err)
}
