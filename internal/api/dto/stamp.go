// Package dto defines the JSON shapes exchanged by the REST API.
package dto

// APIError is the JSON error envelope.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	TSAURL  string `json:"tsa_url"`
}

// ReadyResponse reports service readiness.
type ReadyResponse struct {
	Ready  bool            `json:"ready"`
	Checks map[string]bool `json:"checks"`
}

// StampInfo summarizes a completed stamp. It is returned instead of
// the binary document when the client asks for JSON.
type StampInfo struct {
	Time         string `json:"time"`
	SerialNumber string `json:"serial_number"`
	TokenBytes   int    `json:"token_bytes"`
	OutputBytes  int    `json:"output_bytes"`
}
