package handler

import (
	"net/http"

	"github.com/remiblancher/pdfstamp/internal/api/dto"
)

// HealthHandler handles health and readiness endpoints.
type HealthHandler struct {
	version string
	tsaURL  string
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(version, tsaURL string) *HealthHandler {
	return &HealthHandler{version: version, tsaURL: tsaURL}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, dto.HealthResponse{
		Status:  "ok",
		Version: h.version,
		TSAURL:  h.tsaURL,
	})
}

// Ready handles GET /ready.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]bool{
		"server": true,
	}

	allReady := true
	for _, ready := range checks {
		if !ready {
			allReady = false
			break
		}
	}

	status := http.StatusOK
	if !allReady {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, dto.ReadyResponse{Ready: allReady, Checks: checks})
}
