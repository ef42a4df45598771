package cli

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/rileyhilliard/proxymon/internal/scheduler"
)

// Machine mode flag - when true, outputs JSON and suppresses human-friendly decorations
var machineMode bool

// MachineMode returns true if machine-readable output is enabled
func MachineMode() bool {
	return machineMode
}

// JSONEnvelope wraps command output in a consistent structure for machine parsing.
// All --json output should use this envelope.
type JSONEnvelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *JSONError  `json:"error,omitempty"`
}

// JSONError provides structured error information for machine parsing.
type JSONError struct {
	Code       string      `json:"code"`
	Message    string      `json:"message"`
	Suggestion string      `json:"suggestion,omitempty"`
	Details    interface{} `json:"details,omitempty"`
}

// Error codes for machine-readable output.
const (
	ErrCodeConfigNotFound  = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid   = "CONFIG_INVALID"
	ErrCodeTransportFailed = "TRANSPORT_FAILED"
	ErrCodePersistFailed   = "PERSIST_FAILED"
	ErrCodeRetentionFailed = "RETENTION_FAILED"
	ErrCodeTaskConflict    = "TASK_CONFLICT"
	ErrCodeUnknown         = "UNKNOWN"
)

// WriteJSONSuccess writes a successful response with data to the writer.
func WriteJSONSuccess(w io.Writer, data interface{}) error {
	return writeJSONEnvelope(w, JSONEnvelope{
		Success: true,
		Data:    data,
	})
}

// WriteJSONFromError converts a Go error to a JSON error response.
func WriteJSONFromError(w io.Writer, err error) error {
	return writeJSONEnvelope(w, JSONEnvelope{
		Success: false,
		Error:   ErrorToJSON(err),
	})
}

func writeJSONEnvelope(w io.Writer, env JSONEnvelope) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}

// ErrorToJSON converts a Go error to a JSONError with appropriate code mapping.
func ErrorToJSON(err error) *JSONError {
	if err == nil {
		return nil
	}

	var conflict *scheduler.ConflictError
	if errors.As(err, &conflict) {
		return &JSONError{
			Code:       ErrCodeTaskConflict,
			Message:    conflict.Error(),
			Suggestion: "Stop the task before starting it again",
			Details:    conflict.Status,
		}
	}

	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return &JSONError{
			Code:    mapErrorCode(apiErr.Code, apiErr.Message),
			Message: apiErr.Message,
			Details: map[string]interface{}{"status": apiErr.Status},
		}
	}

	var pmErr *errors.Error
	if errors.As(err, &pmErr) {
		return &JSONError{
			Code:       mapErrorCode(pmErr.Code, pmErr.Message),
			Message:    pmErr.Short(),
			Suggestion: pmErr.Suggestion,
		}
	}

	return &JSONError{
		Code:    ErrCodeUnknown,
		Message: err.Error(),
	}
}

// mapErrorCode maps internal error codes to machine-readable codes.
func mapErrorCode(internalCode, message string) string {
	switch internalCode {
	case errors.ErrConfig:
		msgLower := strings.ToLower(message)
		if strings.Contains(msgLower, "not found") || strings.Contains(msgLower, "couldn't find") {
			return ErrCodeConfigNotFound
		}
		return ErrCodeConfigInvalid
	case errors.ErrTransport:
		return ErrCodeTransportFailed
	case errors.ErrPersist:
		return ErrCodePersistFailed
	case errors.ErrRetention:
		return ErrCodeRetentionFailed
	case errors.ErrConflict:
		return ErrCodeTaskConflict
	}
	return ErrCodeUnknown
}
