package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	codes := []string{
		ErrConfig,
		ErrTransport,
		ErrPersist,
		ErrRetention,
		ErrConflict,
	}

	seen := make(map[string]bool)
	for _, code := range codes {
		assert.NotEmpty(t, code, "error code should not be empty")
		assert.False(t, seen[code], "error code %q should be unique", code)
		seen[code] = true
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		message    string
		suggestion string
	}{
		{
			name:       "config error",
			code:       ErrConfig,
			message:    "No targets to collect from",
			suggestion: "Pass at least one proxy id",
		},
		{
			name:       "transport error",
			code:       ErrTransport,
			message:    "SNMP get 1.3.6.1.4.1 failed",
			suggestion: "Check the community string",
		},
		{
			name:       "conflict",
			code:       ErrConflict,
			message:    "Task default is already running",
			suggestion: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, tt.suggestion)

			require.NotNil(t, err)
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.message, err.Message)
			assert.Equal(t, tt.suggestion, err.Suggestion)
			assert.Nil(t, err.Cause)
		})
	}
}

func TestWrapDefaultsToTransport(t *testing.T) {
	cause := fmt.Errorf("i/o timeout")
	err := Wrap(cause, "Can't reach proxy-1")

	assert.Equal(t, ErrTransport, err.Code)
	assert.True(t, errors.Is(err, cause))
}

func TestErrorFormatting(t *testing.T) {
	err := WrapWithCode(fmt.Errorf("disk full"), ErrPersist, "Failed to write samples", "Free up space")
	out := err.Error()

	assert.True(t, strings.HasPrefix(out, "✗ Failed to write samples\n"))
	assert.Contains(t, out, "disk full")
	assert.Contains(t, out, "Free up space")
}

func TestShortAndMessage(t *testing.T) {
	err := WrapWithCode(fmt.Errorf("connection refused"), ErrTransport, "SSH dial 10.0.0.1:22 failed", "")
	assert.Equal(t, "SSH dial 10.0.0.1:22 failed: connection refused", err.Short())
	assert.Equal(t, err.Short(), Message(err))

	plain := fmt.Errorf("boom")
	assert.Equal(t, "boom", Message(plain))
	assert.Equal(t, "", Message(nil))

	noCause := New(ErrConfig, "community is required", "")
	assert.Equal(t, "community is required", noCause.Short())
}

func TestIsCodeAndCode(t *testing.T) {
	err := New(ErrConflict, "already running", "")
	wrapped := fmt.Errorf("start: %w", err)

	assert.True(t, IsCode(wrapped, ErrConflict))
	assert.False(t, IsCode(wrapped, ErrConfig))
	assert.False(t, IsCode(nil, ErrConflict))
	assert.False(t, IsCode(fmt.Errorf("plain"), ErrConflict))

	assert.Equal(t, ErrConflict, Code(wrapped))
	assert.Equal(t, "", Code(fmt.Errorf("plain")))
}

func TestAs(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(ErrPersist, "write failed", ""))
	var pmErr *Error
	require.True(t, As(err, &pmErr))
	assert.Equal(t, ErrPersist, pmErr.Code)
	assert.False(t, As(fmt.Errorf("plain"), &pmErr))
}

func TestIs(t *testing.T) {
	sentinel := fmt.Errorf("sentinel")
	err := WrapWithCode(sentinel, ErrPersist, "write failed", "")
	assert.True(t, Is(err, sentinel))
	assert.False(t, Is(err, fmt.Errorf("other")))
}
