package rpc

import (
	"errors"
	"fmt"
)

// TransportError covers connection, framing, and timeout failures; the
// request may never have reached the gateway.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gateway transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MethodError is a structured failure returned by the gateway for a
// request it received and rejected.
type MethodError struct {
	Method  string
	Code    string
	Message string
}

func (e *MethodError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway method %s failed (%s): %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway method %s failed: %s", e.Method, e.Message)
}

// AsMethodError unwraps err into target when it is (or wraps) a
// MethodError.
func AsMethodError(err error, target **MethodError) bool {
	return errors.As(err, target)
}
