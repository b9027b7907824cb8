// Package service implements the operations behind the REST handlers.
package service

import (
	"context"
	"net/http"
	"time"

	"github.com/remiblancher/pdfstamp/internal/api/metrics"
	"github.com/remiblancher/pdfstamp/internal/config"
	"github.com/remiblancher/pdfstamp/internal/stamper"
	"github.com/remiblancher/pdfstamp/internal/tsa"
)

// StampService timestamps documents submitted over the API.
type StampService struct {
	stamper *stamper.Stamper
}

// NewStampService builds the service from configuration. The
// configuration must already be validated.
func NewStampService(cfg *config.Config) (*StampService, error) {
	hash, err := cfg.TSA.HashAlgorithm()
	if err != nil {
		return nil, err
	}
	policy, err := cfg.TSA.PolicyOID()
	if err != nil {
		return nil, err
	}

	client := tsa.NewClient(cfg.TSA.URL)
	client.Hash = hash
	client.RequestCerts = !cfg.TSA.NoCerts
	client.UseNonce = !cfg.TSA.NoNonce
	client.Policy = policy
	client.HTTPClient = &http.Client{Timeout: cfg.TSA.Timeout()}

	return &StampService{
		stamper: &stamper.Stamper{
			Source:      client,
			Hash:        hash,
			Reservation: cfg.Stamp.Reservation,
			FieldName:   cfg.Stamp.FieldName,
			TSAURL:      cfg.TSA.URL,
		},
	}, nil
}

// Stamp timestamps the given document bytes.
func (s *StampService) Stamp(ctx context.Context, data []byte) ([]byte, *stamper.Result, error) {
	start := time.Now()
	out, res, err := s.stamper.Stamp(ctx, data)
	metrics.RecordStamp(err == nil, time.Since(start))
	if err == nil {
		metrics.RecordTokenSize(res.TokenBytes)
	}
	return out, res, err
}
