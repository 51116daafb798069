package api

import (
	"errors"
	"fmt"
)

// AuthError is a 401 from the server. The session controller treats it as a
// credential expiry: forced logout, never retried.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return "authentication rejected by server"
}

// GatewayError covers 502/503/504: the server or a proxy in front of it is
// unhealthy. Distinguished from application errors so operators look at
// server health instead of the client.
type GatewayError struct {
	Status int
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("server temporarily unreachable (upstream returned %d)", e.Status)
}

// NetworkError wraps a transport-level failure (DNS, TLS, connectivity,
// timeout). Surfaced distinctly so the fix is a connectivity check, not a
// bug report.
type NetworkError struct {
	Err     error
	Timeout bool
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("request timed out: %v", e.Err)
	}
	return fmt.Sprintf("network failure: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RequestError is any other non-2xx response. Message carries the server's
// own error text when the body supplied one.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string { return e.Message }

// IsAuth reports whether err is (or wraps) an authentication rejection.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
