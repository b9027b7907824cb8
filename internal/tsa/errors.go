package tsa

import (
	"errors"
	"fmt"
)

// Sentinel errors for TSA operations.
// Use errors.Is() to check for these errors through the error chain.
var (
	// ErrNetwork indicates the TSA could not be reached or answered with
	// an HTTP failure before any RFC 3161 payload was obtained.
	ErrNetwork = errors.New("TSA unreachable")

	// ErrProtocol indicates the TSA answered, but the response violates
	// RFC 3161: undecodable DER, a missing token on a granted status, or
	// a token that does not echo the request's message imprint or nonce.
	ErrProtocol = errors.New("invalid TSA response")

	// ErrRejected indicates the TSA explicitly refused the request
	// (PKIStatus rejection).
	ErrRejected = errors.New("timestamp request rejected")

	// ErrInvalidRequest indicates the timestamp request is malformed.
	ErrInvalidRequest = errors.New("invalid timestamp request")

	// ErrUnsupportedHashAlgorithm indicates the hash algorithm is not supported.
	ErrUnsupportedHashAlgorithm = errors.New("unsupported hash algorithm")
)

// Error represents a TSA operation error with structured context.
// It supports errors.Is() and errors.As() for improved error handling.
type Error struct {
	Op  string // Operation: "request", "send", "response", "token"
	URL string // TSA endpoint, when known
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("tsa %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("tsa %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a new Error with the given operation and error.
func NewError(op, url string, err error) *Error {
	return &Error{Op: op, URL: url, Err: err}
}
