// Command pdfstamp applies RFC 3161 document timestamps to PDF files.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/remiblancher/pdfstamp/internal/audit"
)

// Build-time variables (injected by GoReleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var auditLogPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pdfstamp",
	Short: "RFC 3161 document timestamping for PDF files",
	Long: `pdfstamp requests a timestamp token from an RFC 3161 Time Stamping
Authority and embeds it into a PDF as a /DocTimeStamp signature.

The stamped file is produced by incremental update: the original bytes
are preserved unchanged and the timestamp covers the whole document.

Examples:
  # Stamp a document using the default TSA
  pdfstamp stamp document.pdf --out document.stamped.pdf

  # Stamp against a specific TSA with SHA-384
  pdfstamp stamp document.pdf --url https://freetsa.org/tsr --hash sha384 --out out.pdf

  # Show the timestamps embedded in a PDF
  pdfstamp info document.stamped.pdf

  # Run the stamping REST API
  pdfstamp serve --addr :8318`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Check for audit log path from environment if not set via flag
		if auditLogPath == "" {
			auditLogPath = os.Getenv("PDFSTAMP_AUDIT_LOG")
		}

		// Initialize audit logging
		if auditLogPath != "" {
			if err := audit.InitFile(auditLogPath); err != nil {
				return fmt.Errorf("failed to initialize audit log: %w", err)
			}
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return audit.Close()
	},
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&auditLogPath, "audit-log", "",
		"Path to audit log file (or set PDFSTAMP_AUDIT_LOG env var)")

	rootCmd.AddCommand(stampCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(serveCmd)
}
