// Package errors provides error handling and HTTP status code mapping.
package errors

import (
	"errors"
	"net/http"

	"github.com/remiblancher/pdfstamp/internal/api/dto"
	"github.com/remiblancher/pdfstamp/internal/pdf"
	"github.com/remiblancher/pdfstamp/internal/tsa"
)

// Error codes for API responses.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeNotPDF         = "NOT_A_PDF"
	CodeMalformedPDF   = "MALFORMED_PDF"
	CodeTSAUnavailable = "TSA_UNAVAILABLE"
	CodeTSARejected    = "TSA_REJECTED"
	CodeTSAProtocol    = "TSA_PROTOCOL_ERROR"
	CodeIntegrity      = "INTEGRITY_ERROR"
	CodeInternal       = "INTERNAL_ERROR"
)

// MapError maps an internal error to an HTTP status code and APIError.
func MapError(err error) (int, *dto.APIError) {
	if err == nil {
		return http.StatusOK, nil
	}

	switch {
	case errors.Is(err, pdf.ErrNotPDF):
		return http.StatusBadRequest, &dto.APIError{
			Code:    CodeNotPDF,
			Message: err.Error(),
		}
	case errors.Is(err, pdf.ErrMalformed):
		return http.StatusUnprocessableEntity, &dto.APIError{
			Code:    CodeMalformedPDF,
			Message: err.Error(),
		}
	case errors.Is(err, tsa.ErrRejected):
		return http.StatusBadGateway, &dto.APIError{
			Code:    CodeTSARejected,
			Message: err.Error(),
		}
	case errors.Is(err, tsa.ErrNetwork):
		return http.StatusBadGateway, &dto.APIError{
			Code:    CodeTSAUnavailable,
			Message: err.Error(),
		}
	case errors.Is(err, tsa.ErrProtocol):
		return http.StatusBadGateway, &dto.APIError{
			Code:    CodeTSAProtocol,
			Message: err.Error(),
		}
	case errors.Is(err, pdf.ErrIntegrity):
		return http.StatusInternalServerError, &dto.APIError{
			Code:    CodeIntegrity,
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, &dto.APIError{
			Code:    CodeInternal,
			Message: err.Error(),
		}
	}
}
