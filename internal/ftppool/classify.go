package ftppool

import (
	"errors"
	"io"
	"net"
	"net/textproto"
	"strings"
	"syscall"
)

// Symptoms of a recoverable connection fault. Matching is by substring
// because the FTP client and the net stack wrap causes inconsistently.
var transientSymptoms = []string{
	"connection reset",
	"broken pipe",
	"use of closed network connection",
	"not connected",
	"i/o timeout",
	"handshake",
	"keepalive",
	"no response",
	"unexpected eof",
	"socket",
}

// Transient reports whether err is a recoverable mid-operation fault: the
// entry should be invalidated, reconnected and the operation retried.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if Refusal(err) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		// 421 service not available, 425/426 broken data channel.
		switch protoErr.Code {
		case 421, 425, 426:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, s := range transientSymptoms {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Refusal reports whether the endpoint actively refused us. Refusals feed the
// global breaker on top of the normal transient handling.
func Refusal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		// 530 not logged in: the server is up and rejecting us.
		if protoErr.Code == 530 {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "access denied")
}
