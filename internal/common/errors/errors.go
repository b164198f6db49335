// Package errors provides the error taxonomy for the Homespun session engine.
package errors

import (
	"errors"
	"fmt"
)

// Error codes surfaced to external callers.
const (
	CodeCliNotFound     = "CLI_NOT_FOUND"
	CodeCliConnection   = "CLI_CONNECTION"
	CodeStartupFailed   = "STARTUP_FAILED"
	CodeConnectionLost  = "CONNECTION_LOST"
	CodeTimeout         = "TIMEOUT"
	CodeCliError        = "CLI_ERROR"
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeStateMismatch   = "STATE_MISMATCH"
	CodeBufferOverflow  = "BUFFER_OVERFLOW"
)

// AgentError is the error type carried across the session engine.
// Every public error has a code, an optional session id, and a
// retryability flag so callers can decide whether to re-issue the
// operation.
type AgentError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Retryable bool   `json:"retryable"`
	Err       error  `json:"-"`
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AgentError) Unwrap() error {
	return e.Err
}

// WithSession returns a copy of the error annotated with a session id.
func (e *AgentError) WithSession(sessionID string) *AgentError {
	clone := *e
	clone.SessionID = sessionID
	return &clone
}

// CliNotFound indicates the Claude CLI executable could not be located.
func CliNotFound(message string) *AgentError {
	return &AgentError{Code: CodeCliNotFound, Message: message}
}

// CliConnection indicates a write on an unconnected or closed transport.
func CliConnection(message string) *AgentError {
	return &AgentError{Code: CodeCliConnection, Message: message, Retryable: true}
}

// Startup indicates the initial connect or exchange with the CLI failed.
func Startup(message string, err error) *AgentError {
	return &AgentError{Code: CodeStartupFailed, Message: message, Retryable: true, Err: err}
}

// ConnectionLost indicates the CLI stream ended without a result message.
func ConnectionLost(sessionID, message string) *AgentError {
	return &AgentError{Code: CodeConnectionLost, Message: message, SessionID: sessionID, Retryable: true}
}

// Timeout indicates a per-request deadline was exceeded.
func Timeout(sessionID, message string) *AgentError {
	return &AgentError{Code: CodeTimeout, Message: message, SessionID: sessionID}
}

// CliExit indicates the CLI subprocess exited non-zero. The stderr tail is
// folded into the message for diagnosis.
func CliExit(exitCode int, stderrTail []string) *AgentError {
	msg := fmt.Sprintf("claude CLI exited with code %d", exitCode)
	if len(stderrTail) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, stderrTail[len(stderrTail)-1])
	}
	return &AgentError{Code: CodeCliError, Message: msg}
}

// SessionNotFound indicates an operation referenced an unknown session id.
func SessionNotFound(sessionID string) *AgentError {
	return &AgentError{
		Code:      CodeSessionNotFound,
		Message:   fmt.Sprintf("session %q not found", sessionID),
		SessionID: sessionID,
	}
}

// SessionState indicates an operation is not allowed in the session's
// current status.
func SessionState(sessionID, current, expected string) *AgentError {
	return &AgentError{
		Code:      CodeStateMismatch,
		Message:   fmt.Sprintf("session is %s, expected %s", current, expected),
		SessionID: sessionID,
	}
}

// BufferOverflow indicates a single stream message exceeded the read budget
// under the Fail policy.
func BufferOverflow(observed, limit int) *AgentError {
	return &AgentError{
		Code:    CodeBufferOverflow,
		Message: fmt.Sprintf("message of %d bytes exceeds buffer limit of %d bytes", observed, limit),
	}
}

// IsRetryable reports whether the error is safe to retry. Non-AgentError
// values are treated as not retryable.
func IsRetryable(err error) bool {
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return agentErr.Retryable
	}
	return false
}

// CodeOf returns the error code, or empty string for non-AgentError values.
func CodeOf(err error) string {
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return agentErr.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return CodeOf(err) == code
}
