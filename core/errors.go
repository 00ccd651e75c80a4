package core

import (
	"errors"
	"fmt"
)

// ErrorCode classifies how a streaming task failed. Codes are phase
// specific so a caller can tell a refused connection apart from a stream
// that died mid-generation.
type ErrorCode string

const (
	// ErrConnectFailure: the backend was unreachable or refused before any
	// request bytes were sent (dial error, DNS, connect timeout).
	ErrConnectFailure ErrorCode = "connect_failure"
	// ErrWriteFailure: the request could not be sent within the write
	// deadline, or the backend rejected it before streaming began.
	ErrWriteFailure ErrorCode = "write_failure"
	// ErrReadTimeout: no data arrived within the read deadline.
	ErrReadTimeout ErrorCode = "read_timeout"
	// ErrConnectionClosedEarly: the stream ended without a terminal marker.
	ErrConnectionClosedEarly ErrorCode = "connection_closed_early"
	// ErrMalformedRecord: a non-empty record failed structured decoding.
	ErrMalformedRecord ErrorCode = "malformed_record"
	// ErrBackendReported: the backend itself delivered an error record.
	ErrBackendReported ErrorCode = "backend_reported"
	// ErrCancelled: orchestrator-level cancellation reached the task before
	// it terminated naturally.
	ErrCancelled ErrorCode = "cancelled"
	// ErrPermitDenied: the scheduling layer could not admit the task at all.
	// Unlike the codes above this is fatal for the whole run.
	ErrPermitDenied ErrorCode = "permit_denied"
)

// StreamError ties a failure cause to the model it occurred on. It is the
// error type carried by Error events and failed TaskResults.
type StreamError struct {
	Code  ErrorCode
	Model string
	Err   error
}

// NewStreamError wraps err with a taxonomy code and the affected model.
func NewStreamError(code ErrorCode, model string, err error) *StreamError {
	return &StreamError{Code: code, Model: model, Err: err}
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Model, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Model, e.Code, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *StreamError) Unwrap() error { return e.Err }

// CodeOf extracts the taxonomy code from err, or "" when err carries none.
func CodeOf(err error) ErrorCode {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
