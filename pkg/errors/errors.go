package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies gateway errors by disposition.
type ErrorCode string

const (
	// CodeProtocol marks a malformed client frame. The connection stays open;
	// the sender gets an error reply.
	CodeProtocol ErrorCode = "PROTOCOL_ERROR"
	// CodeNotRunning marks a command that arrived before Start (or after Stop).
	CodeNotRunning ErrorCode = "AGENT_NOT_RUNNING"
	// CodeCredentials marks a missing credential variable. Fatal at startup.
	CodeCredentials ErrorCode = "CREDENTIALS_MISSING"
	// CodeAPIError marks a non-retryable completion backend response.
	CodeAPIError ErrorCode = "LLM_API_ERROR"
	// CodeMaxRetries marks retry exhaustion against the completion backend.
	CodeMaxRetries ErrorCode = "LLM_MAX_RETRIES"
	// CodeCompaction marks a failed compaction attempt. The turn continues.
	CodeCompaction ErrorCode = "COMPACTION_FAILED"
	// CodeInternal marks everything else.
	CodeInternal ErrorCode = "INTERNAL_ERROR"
)

// AppError is the error type crossing package boundaries in the gateway.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewProtocolError creates a malformed-frame error.
func NewProtocolError(message string) *AppError {
	return &AppError{
		Code:    CodeProtocol,
		Message: message,
	}
}

// NewNotRunningError creates an agent-not-running error.
func NewNotRunningError() *AppError {
	return &AppError{
		Code:    CodeNotRunning,
		Message: "Agent is not running. Call Start() first.",
	}
}

// NewCredentialsError creates a missing-credential error for the named variable.
func NewCredentialsError(envVar string) *AppError {
	return &AppError{
		Code:    CodeCredentials,
		Message: fmt.Sprintf("%s environment variable is not set", envVar),
	}
}

// NewAPIError creates a non-retryable backend error carrying the status code.
func NewAPIError(status int, cause error) *AppError {
	return &AppError{
		Code:    CodeAPIError,
		Message: fmt.Sprintf("API error (%d)", status),
		Err:     cause,
	}
}

// NewMaxRetriesError creates a retry-exhaustion error.
func NewMaxRetriesError(attempts int, cause error) *AppError {
	return &AppError{
		Code:    CodeMaxRetries,
		Message: fmt.Sprintf("max retries (%d) exceeded", attempts),
		Err:     cause,
	}
}

// NewInternalError creates a generic internal error.
func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Err:     cause,
	}
}

// IsProtocolError reports whether err is a malformed-frame error.
func IsProtocolError(err error) bool {
	return hasCode(err, CodeProtocol)
}

// IsNotRunning reports whether err is an agent-not-running error.
func IsNotRunning(err error) bool {
	return hasCode(err, CodeNotRunning)
}

// IsCredentialsMissing reports whether err is a missing-credential error.
func IsCredentialsMissing(err error) bool {
	return hasCode(err, CodeCredentials)
}

// IsAPIError reports whether err is a non-retryable backend error.
func IsAPIError(err error) bool {
	return hasCode(err, CodeAPIError)
}

// IsMaxRetries reports whether err is a retry-exhaustion error.
func IsMaxRetries(err error) bool {
	return hasCode(err, CodeMaxRetries)
}

func hasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
