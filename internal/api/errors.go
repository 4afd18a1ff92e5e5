package api

import (
	"errors"
	"fmt"
)

// Sentinel auth failures the callers branch on
var (
	// ErrRefreshTokenExpired means the refresh token was rejected with a 400;
	// credentials are deleted and the caller falls back to device activation.
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// ErrAuthenticationFailedTwice means the same logical request got a 401
	// twice in a row; never retried further.
	ErrAuthenticationFailedTwice = errors.New("request failed twice due to authentication issues")

	// ErrTooManyRefreshAttempts means the gateway hit the consecutive
	// refresh ceiling without obtaining a valid token.
	ErrTooManyRefreshAttempts = errors.New("too many consecutive refresh attempts")
)

// AuthError covers login, refresh and device-activation failures
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Message, e.Err)
	}
	return "auth: " + e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// APIError is a non-2xx response with a structured message, or a malformed
// body on an error status
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: [%d] %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api: [%d] %s", e.Status, e.Message)
}

// NetworkError wraps timeouts and connection failures. Recoverable by retry
// or backoff at the call site; never silently swallowed by the core beyond
// one retry.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// DecodeError means a required field was absent from an endpoint payload
type DecodeError struct {
	Endpoint string
	Field    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: %s response missing %s", e.Endpoint, e.Field)
}

// ResolutionError means the manifest fetch failed and no playback descriptor
// can be produced for this attempt
type ResolutionError struct {
	StreamID string
	Err      error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolution failed for %s: %v", e.StreamID, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }
