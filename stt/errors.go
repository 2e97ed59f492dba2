package stt

import (
	"errors"
	"fmt"
)

var (
	// ErrDegraded is returned once the reconnect budget is spent.
	ErrDegraded = errors.New("transcription degraded")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transcription guard closed")

	// ErrNotStarted is returned when audio is sent before Start succeeds.
	ErrNotStarted = errors.New("transcription stream not started")

	// ErrEmptyAudio is returned for zero-length frames.
	ErrEmptyAudio = errors.New("audio data is empty")
)

// TranscriptionError is a provider failure.
type TranscriptionError struct {
	Provider  string
	Code      string
	Message   string
	Cause     error
	Retryable bool
}

// NewTranscriptionError creates a TranscriptionError.
func NewTranscriptionError(provider, code, message string, cause error, retryable bool) *TranscriptionError {
	return &TranscriptionError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: retryable,
	}
}

func (e *TranscriptionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s transcription error [%s]: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s transcription error: %s", e.Provider, e.Message)
}

func (e *TranscriptionError) Unwrap() error { return e.Cause }

// Is matches on the wrapped cause, or on provider and code.
func (e *TranscriptionError) Is(target error) bool {
	if e.Cause != nil && errors.Is(e.Cause, target) {
		return true
	}
	t, ok := target.(*TranscriptionError)
	if !ok {
		return false
	}
	return e.Provider == t.Provider && e.Code == t.Code
}

// IsRetryable reports whether err is a retryable TranscriptionError. Errors
// that are not TranscriptionErrors are treated as retryable transport faults.
func IsRetryable(err error) bool {
	var te *TranscriptionError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return err != nil
}
