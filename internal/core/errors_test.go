package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestIngestError_Error(t *testing.T) {
	err := &IngestError{Code: "connect_error", Message: "handshake with example.com:21 failed"}
	got := err.Error()
	want := "[connect_error] handshake with example.com:21 failed"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNewConnectError(t *testing.T) {
	cause := errors.New("dial tcp: i/o timeout")
	err := NewConnectError("handshake failed", cause)
	if err.Code != ErrCodeConnect {
		t.Errorf("Code = %q, want %q", err.Code, ErrCodeConnect)
	}
	if !err.Retryable {
		t.Error("expected Retryable = true for connect errors")
	}
	if !errors.Is(err, cause) {
		t.Error("expected NewConnectError to wrap its cause")
	}
}

func TestNewRefusalError(t *testing.T) {
	err := NewRefusalError("endpoint refused connection", errors.New("connection refused"))
	if err.Code != ErrCodeRefused {
		t.Errorf("Code = %q, want %q", err.Code, ErrCodeRefused)
	}
}

func TestNewJobTimeoutError(t *testing.T) {
	err := NewJobTimeoutError("reports:big.xlsx", "2m0s")
	if err.Code != ErrCodeJobTimeout {
		t.Errorf("Code = %q, want %q", err.Code, ErrCodeJobTimeout)
	}
	want := "[job_timeout] job reports:big.xlsx timed out after 2m0s"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestNewQuarantineError_NotRetryable(t *testing.T) {
	err := NewQuarantineError("reports:poison.xlsx", 3)
	if err.Code != ErrCodeQuarantined {
		t.Errorf("Code = %q, want %q", err.Code, ErrCodeQuarantined)
	}
	if err.Retryable {
		t.Error("expected Retryable = false for quarantined jobs")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"typed", NewTransientIOError("reset", nil), ErrCodeTransientIO},
		{"wrapped", fmt.Errorf("list reports: %w", NewConnectError("down", nil)), ErrCodeConnect},
		{"untyped", errors.New("boom"), ErrCodeJobFailure},
	}

	for _, tt := range tests {
		if got := CodeOf(tt.err); got != tt.want {
			t.Errorf("CodeOf(%s) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
