package rpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransientCorpus(t *testing.T) {
	transient := []string{
		"dial tcp 127.0.0.1:4123: connect: connection refused",
		"ECONNREFUSED",
		"[Errno 111] Connect call failed",
		"websocket: close 1012 (service restart)",
		"upstream returned HTTP 502",
		"HTTP 503 Service Unavailable",
		"HTTP 504 gateway timeout",
		"request timed out after 20s",
		"read tcp: connection reset by peer",
		"unexpected EOF",
		"temporarily unavailable",
		"no route to host",
	}
	for _, text := range transient {
		assert.True(t, IsTransient(fmt.Errorf("%s", text)), "expected transient: %s", text)
	}
}

func TestIsTransientFatal(t *testing.T) {
	fatal := []string{
		"unsupported file: BOOTSTRAP.md",
		"missing scope: operator.admin",
		"unauthorized",
		"invalid token",
		"parse error near line 3",
		"unknown method agents.files.set",
	}
	for _, text := range fatal {
		assert.False(t, IsTransient(fmt.Errorf("%s", text)), "expected fatal: %s", text)
	}
}

func TestIsTransientMethodErrorsDefaultFatal(t *testing.T) {
	err := &MethodError{Method: "config.patch", Code: "conflict", Message: "base hash mismatch"}
	assert.False(t, IsTransient(err))

	busy := &MethodError{Method: "agents.list", Message: "service restarting, try again"}
	assert.True(t, IsTransient(busy))
}

func TestIsTransientTransportErrorsDefaultTransient(t *testing.T) {
	err := &TransportError{Op: "sessions.send", Err: errors.New("write: broken pipe")}
	assert.True(t, IsTransient(err))

	// A transport wrapper around a fatal marker stays fatal.
	scoped := &TransportError{Op: "config.get", Err: errors.New("missing scope: config.read")}
	assert.False(t, IsTransient(scoped))
}

func TestIsTransientContextCancel(t *testing.T) {
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(nil))
}
