package pdf

import (
	"errors"
	"fmt"
)

// Sentinel errors for PDF structure handling.
// Use errors.Is() to check for these errors through the error chain.
var (
	// ErrMalformed indicates the trailer or cross-reference data could
	// not be located or parsed.
	ErrMalformed = errors.New("malformed PDF structure")

	// ErrIntegrity indicates the reserved signature space does not hold:
	// either the token does not fit the reservation, or the digest no
	// longer matches after insertion.
	ErrIntegrity = errors.New("signature reservation integrity violated")

	// ErrNotPDF indicates the data does not start with a PDF header.
	ErrNotPDF = errors.New("missing %PDF- header")
)

// StructError annotates a structural failure with the operation that hit it.
// It supports errors.Is() and errors.As() through Unwrap.
type StructError struct {
	Op  string // Operation: "open", "xref", "resolve", "append"
	Err error
}

func (e *StructError) Error() string {
	return fmt.Sprintf("pdf %s: %v", e.Op, e.Err)
}

func (e *StructError) Unwrap() error { return e.Err }

func structErr(op string, err error) *StructError {
	return &StructError{Op: op, Err: err}
}
