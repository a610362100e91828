package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures for the result envelope.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindAuth       ErrorKind = "auth"
	KindTransport  ErrorKind = "transport"
	KindProtocol   ErrorKind = "protocol"
	KindInternal   ErrorKind = "internal"
)

// ValidationError is a malformed or incomplete request. It never reaches the network.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Kind() ErrorKind { return KindValidation }

// AuthError means the login exchange failed.
type AuthError struct {
	Status int
	Body   string
	Err    error
}

func (e *AuthError) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("login failed (HTTP %d): %v", e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("login failed: %v", e.Err)
	default:
		return fmt.Sprintf("login failed (HTTP %d): %s", e.Status, truncate(e.Body, 200))
	}
}

func (e *AuthError) Unwrap() error   { return e.Err }
func (e *AuthError) Kind() ErrorKind { return KindAuth }

// TransportError is a network failure, timeout, or non-2xx answer to an action call.
type TransportError struct {
	Method string
	Path   string
	Status int // 0 when no response arrived
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Status, truncate(e.Body, 200))
}

func (e *TransportError) Unwrap() error   { return e.Err }
func (e *TransportError) Kind() ErrorKind { return KindTransport }

// ProtocolError is a success status with a body that could not be decoded.
// Callers degrade to the raw text instead of failing.
type ProtocolError struct {
	Status int
	Raw    string
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unparseable response (HTTP %d): %v", e.Status, e.Err)
}

func (e *ProtocolError) Unwrap() error   { return e.Err }
func (e *ProtocolError) Kind() ErrorKind { return KindProtocol }

// KindOf returns the error's kind, or KindInternal for untyped errors.
func KindOf(err error) ErrorKind {
	var k interface{ Kind() ErrorKind }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
