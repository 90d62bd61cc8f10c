package rpc

import (
	"context"
	"errors"
	"strings"
)

// transientMarkers are substrings of error text seen when the gateway is
// briefly unavailable. Matching is case-insensitive. The corpus comes
// from production logs; keep additions conservative so fatal errors are
// never silently retried.
var transientMarkers = []string{
	"connection refused",
	"econnrefused",
	"errno 111",
	"no route to host",
	"host is unreachable",
	"network is unreachable",
	"received 1012",
	"service restart",
	"http 502",
	"http 503",
	"http 504",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"temporar", // temporary / temporarily
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection closed",
	"connection reset",
	"broken pipe",
	"eof",
	"use of closed network connection",
	"client closed",
}

// fatalMarkers override the transient set: these indicate configuration
// or protocol problems that retrying cannot fix.
var fatalMarkers = []string{
	"unsupported file",
	"missing scope:",
	"unauthorized",
	"invalid token",
	"parse error",
	"unknown method",
}

// IsTransient reports whether err is worth retrying. Method errors from
// the gateway are fatal unless their text carries a transient marker;
// transport errors are transient unless their text carries a fatal one.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	text := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(text, marker) {
			return false
		}
	}

	var methodErr *MethodError
	if errors.As(err, &methodErr) {
		for _, marker := range transientMarkers {
			if strings.Contains(text, marker) {
				return true
			}
		}
		return false
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}

	for _, marker := range transientMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
