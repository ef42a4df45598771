package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for categorizing errors. They follow the engine's failure
// taxonomy: transport failures degrade a single metric or host, config errors
// reject a request before any probe runs, persistence and retention errors are
// logged and never fatal, and conflicts report an already running task.
const (
	ErrConfig    = "CONFIG"
	ErrTransport = "TRANSPORT"
	ErrPersist   = "PERSIST"
	ErrRetention = "RETENTION"
	ErrConflict  = "CONFLICT"
)

// Error represents a structured error with code, message, suggestion, and optional cause.
//
//	✗ <What failed>
//
//	  <Why it failed - technical details>
//
//	  <How to fix it - actionable steps>
type Error struct {
	Code       string
	Message    string
	Suggestion string
	Cause      error
}

// New creates a new structured error with the given code, message, and suggestion.
func New(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// Wrap wraps an existing error with a message, defaulting to ErrTransport code.
func Wrap(err error, message string) *Error {
	return &Error{
		Code:    ErrTransport,
		Message: message,
		Cause:   err,
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// Error implements the error interface with the multi-line CLI layout.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("✗ %s\n", e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Cause.Error()))
	}

	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Suggestion))
	}

	return b.String()
}

// Short returns a single-line rendition suitable for per-host error maps and
// status events, where the multi-line CLI layout would be noise.
func (e *Error) Short() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Cause.Error())
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode checks if an error is a structured Error with the given code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var pmErr *Error
	if errors.As(err, &pmErr) {
		return pmErr.Code == code
	}
	return false
}

// Code returns the code of a structured error, or an empty string.
func Code(err error) string {
	var pmErr *Error
	if errors.As(err, &pmErr) {
		return pmErr.Code
	}
	return ""
}

// Message returns the single-line message for any error.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var pmErr *Error
	if errors.As(err, &pmErr) {
		return pmErr.Short()
	}
	return err.Error()
}

// As is errors.As from the standard library, so callers need one import.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
