// Package handler provides HTTP handlers for the REST API.
package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/remiblancher/pdfstamp/internal/api/dto"
	apierrors "github.com/remiblancher/pdfstamp/internal/api/errors"
	"github.com/remiblancher/pdfstamp/internal/api/service"
)

// StampHandler handles document stamping requests.
type StampHandler struct {
	svc     *service.StampService
	maxBody int64
}

// NewStampHandler creates a new StampHandler.
func NewStampHandler(svc *service.StampService, maxBody int64) *StampHandler {
	return &StampHandler{svc: svc, maxBody: maxBody}
}

// Stamp handles POST /api/v1/stamp. The request body is the raw PDF;
// the response body is the stamped PDF with stamp details in headers.
func (h *StampHandler) Stamp(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, &dto.APIError{
			Code:    apierrors.CodeInvalidRequest,
			Message: "request body too large or unreadable",
		})
		return
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, &dto.APIError{
			Code:    apierrors.CodeInvalidRequest,
			Message: "empty request body",
		})
		return
	}

	out, res, err := h.svc.Stamp(r.Context(), data)
	if err != nil {
		status, apiErr := apierrors.MapError(err)
		respondError(w, status, apiErr)
		return
	}

	if r.Header.Get("Accept") == "application/json" {
		info := dto.StampInfo{
			Time:        res.Time.Format(time.RFC3339),
			TokenBytes:  res.TokenBytes,
			OutputBytes: len(out),
		}
		if res.SerialNumber != nil {
			info.SerialNumber = "0x" + res.SerialNumber.Text(16)
		}
		respondJSON(w, http.StatusOK, info)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.Header().Set("X-Stamp-Time", res.Time.Format(time.RFC3339))
	if res.SerialNumber != nil {
		w.Header().Set("X-Stamp-Serial", "0x"+res.SerialNumber.Text(16))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// respondError writes an error response.
func respondError(w http.ResponseWriter, status int, apiErr *dto.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiErr)
}
