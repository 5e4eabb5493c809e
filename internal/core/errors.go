package core

import (
	"errors"
	"fmt"
)

// Error codes for the pipeline error taxonomy.
const (
	ErrCodeConnect     = "connect_error"
	ErrCodeTransientIO = "transient_io"
	ErrCodeRefused     = "refused"
	ErrCodeJobTimeout  = "job_timeout"
	ErrCodeJobFailure  = "job_failure"
	ErrCodeQuarantined = "quarantined"
)

// IngestError is the typed error carried across the pool and scheduler.
type IngestError struct {
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// NewConnectError reports a failed handshake or authentication after the
// pool's internal retries were exhausted.
func NewConnectError(msg string, err error) *IngestError {
	return &IngestError{Code: ErrCodeConnect, Message: msg, Retryable: true, Err: err}
}

// NewTransientIOError reports a recoverable mid-operation fault. The pool
// invalidates the leased connection and retries before surfacing this.
func NewTransientIOError(msg string, err error) *IngestError {
	return &IngestError{Code: ErrCodeTransientIO, Message: msg, Retryable: true, Err: err}
}

// NewRefusalError reports the endpoint actively refusing a connection.
// Refusals drive the global breaker.
func NewRefusalError(msg string, err error) *IngestError {
	return &IngestError{Code: ErrCodeRefused, Message: msg, Retryable: true, Err: err}
}

// NewJobTimeoutError reports a job that exceeded its execution timeout.
func NewJobTimeoutError(key string, timeout string) *IngestError {
	return &IngestError{
		Code:      ErrCodeJobTimeout,
		Message:   fmt.Sprintf("job %s timed out after %s", key, timeout),
		Retryable: true,
	}
}

// NewJobFailureError reports any other job execution error.
func NewJobFailureError(key string, err error) *IngestError {
	return &IngestError{
		Code:      ErrCodeJobFailure,
		Message:   fmt.Sprintf("job %s failed: %v", key, err),
		Retryable: true,
		Err:       err,
	}
}

// NewQuarantineError marks a job that exhausted its failure budget. It is
// logged and recorded, never surfaced to callers as a failure.
func NewQuarantineError(key string, attempts int) *IngestError {
	return &IngestError{
		Code:      ErrCodeQuarantined,
		Message:   fmt.Sprintf("job %s quarantined after %d consecutive failures", key, attempts),
		Retryable: false,
	}
}

// CodeOf returns the taxonomy code of err, or job_failure for untyped errors.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ErrCodeJobFailure
}
