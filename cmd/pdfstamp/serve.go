package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/remiblancher/pdfstamp/internal/api/router"
	"github.com/remiblancher/pdfstamp/internal/audit"
)

// Serve command flags
var (
	serveConfigPath string
	serveAddr       string
	serveURL        string
	serveMaxBodyMB  int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the stamping REST API",
	Long: `Run the stamping REST API.

Endpoints:
  POST /api/v1/stamp  Timestamp the PDF in the request body
  GET  /health        Liveness probe
  GET  /ready         Readiness probe
  GET  /metrics       Prometheus metrics

Environment variables:
  PDFSTAMP_ADDR     Listen address
  PDFSTAMP_TSA_URL  TSA endpoint URL

Examples:
  # Serve on the default port against the default TSA
  pdfstamp serve

  # Serve on a specific address against a specific TSA
  pdfstamp serve --addr :9000 --url https://freetsa.org/tsr`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to YAML configuration file")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: :8318)")
	serveCmd.Flags().StringVar(&serveURL, "url", "", "TSA endpoint URL")
	serveCmd.Flags().IntVar(&serveMaxBodyMB, "max-body", 0, "Maximum request body in MiB")
}

func runServe(cmd *cobra.Command, args []string) error {
	applyServeEnvVars()

	cfg, err := loadConfig(serveConfigPath)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Serve.Addr = serveAddr
	}
	if serveURL != "" {
		cfg.TSA.URL = serveURL
	}
	if serveMaxBodyMB > 0 {
		cfg.Serve.MaxBodyMB = serveMaxBodyMB
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	handler, err := router.New(&router.Config{Version: version, App: cfg})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Serve.Addr,
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	fmt.Printf("Starting stamping API on %s\n", cfg.Serve.Addr)
	fmt.Printf("  TSA: %s\n", cfg.TSA.URL)
	if err := audit.LogAPIServe(cfg.Serve.Addr, cfg.TSA.URL); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	fmt.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func applyServeEnvVars() {
	if serveAddr == "" {
		serveAddr = os.Getenv("PDFSTAMP_ADDR")
	}
	if serveURL == "" {
		serveURL = os.Getenv("PDFSTAMP_TSA_URL")
	}
}
