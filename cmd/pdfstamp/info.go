package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/remiblancher/pdfstamp/internal/cli"
	"github.com/remiblancher/pdfstamp/internal/stamper"
)

// Info command flags
var (
	infoJSON      bool
	infoDumpToken string
	infoDumpCerts string
)

var infoCmd = &cobra.Command{
	Use:   "info <file.pdf>",
	Short: "Show the document timestamps embedded in a PDF",
	Long: `Show the document timestamps embedded in a PDF.

For each /DocTimeStamp signature the timestamp time, serial number,
policy and imprint status are printed. The imprint status reports
whether the token's digest matches the file's signed byte range; it is
not a certificate chain validation.

Examples:
  # Show timestamp details
  pdfstamp info contract.stamped.pdf

  # Export the raw token and the TSA certificates
  pdfstamp info contract.stamped.pdf --dump-token token.tsr --dump-certs tsa.pem`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

func init() {
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Output as JSON")
	infoCmd.Flags().StringVar(&infoDumpToken, "dump-token", "", "Write the raw token DER to a file")
	infoCmd.Flags().StringVar(&infoDumpCerts, "dump-certs", "", "Write the embedded TSA certificates to a PEM file")
}

type timestampInfo struct {
	Field          string `json:"field,omitempty"`
	Time           string `json:"time"`
	Serial         string `json:"serial"`
	Policy         string `json:"policy,omitempty"`
	HashAlgorithm  string `json:"hash_algorithm"`
	Imprint        string `json:"imprint"`
	ImprintMatches bool   `json:"imprint_matches"`
	Signer         string `json:"signer,omitempty"`
	TokenBytes     int    `json:"token_bytes"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	stamps, err := stamper.Inspect(data)
	if err != nil {
		return err
	}
	if len(stamps) == 0 {
		return fmt.Errorf("no document timestamps found in %s", args[0])
	}

	infos := make([]timestampInfo, 0, len(stamps))
	for _, ts := range stamps {
		info := timestampInfo{
			Field:          ts.FieldName,
			Time:           ts.Token.Time.UTC().Format(time.RFC3339),
			Serial:         cli.FormatSerial(ts.Token.SerialNumber),
			HashAlgorithm:  cli.HashName(ts.Token.HashAlgorithm),
			Imprint:        hex.EncodeToString(ts.Token.HashedMessage),
			ImprintMatches: ts.ImprintMatches,
			TokenBytes:     len(ts.Token.Raw),
		}
		if len(ts.Token.Policy) > 0 {
			info.Policy = ts.Token.Policy.String()
		}
		if signer := ts.Token.SignerCertificate(); signer != nil {
			info.Signer = signer.Subject.String()
		}
		infos = append(infos, info)
	}

	if infoJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(infos); err != nil {
			return err
		}
	} else {
		for i, info := range infos {
			printTimestamp(i+1, len(infos), info)
		}
	}

	return dumpArtifacts(stamps)
}

func printTimestamp(n, total int, info timestampInfo) {
	if total > 1 {
		fmt.Printf("Timestamp %d/%d\n", n, total)
	} else {
		fmt.Println("Timestamp")
	}
	if info.Field != "" {
		fmt.Printf("  Field:     %s\n", info.Field)
	}
	fmt.Printf("  Time:      %s\n", info.Time)
	fmt.Printf("  Serial:    %s\n", info.Serial)
	if info.Policy != "" {
		fmt.Printf("  Policy:    %s\n", info.Policy)
	}
	fmt.Printf("  Hash:      %s\n", info.HashAlgorithm)
	fmt.Printf("  Imprint:   %s\n", info.Imprint)
	status := "mismatch"
	if info.ImprintMatches {
		status = "match"
	}
	fmt.Printf("  Coverage:  %s\n", cli.FormatStatus(status))
	if info.Signer != "" {
		fmt.Printf("  Signer:    %s\n", info.Signer)
	}
	fmt.Printf("  Token:     %d bytes\n", info.TokenBytes)
}

// dumpArtifacts exports the first timestamp's token and certificates
// when asked.
func dumpArtifacts(stamps []stamper.EmbeddedTimestamp) error {
	if infoDumpToken != "" {
		if err := os.WriteFile(infoDumpToken, stamps[0].Token.Raw, 0600); err != nil {
			return fmt.Errorf("failed to write token: %w", err)
		}
		fmt.Printf("Token written to %s\n", infoDumpToken)
	}
	if infoDumpCerts != "" {
		certs := stamps[0].Token.Certificates
		if len(certs) == 0 {
			return fmt.Errorf("token carries no certificates")
		}
		if err := cli.SaveCertsToPath(infoDumpCerts, certs); err != nil {
			return err
		}
		fmt.Printf("Certificates written to %s\n", infoDumpCerts)
	}
	return nil
}
