package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/remiblancher/pdfstamp/internal/cli"
	"github.com/remiblancher/pdfstamp/internal/config"
	"github.com/remiblancher/pdfstamp/internal/stamper"
	"github.com/remiblancher/pdfstamp/internal/tsa"
)

// Stamp command flags
var (
	stampConfigPath  string
	stampOut         string
	stampURL         string
	stampHash        string
	stampPolicy      string
	stampField       string
	stampTimeout     int
	stampReservation int
	stampNoNonce     bool
	stampNoCerts     bool
)

var stampCmd = &cobra.Command{
	Use:   "stamp <input.pdf>",
	Short: "Timestamp a PDF document",
	Long: `Request an RFC 3161 timestamp token and embed it into a PDF as a
/DocTimeStamp signature.

The output is written as an incremental update: every byte of the input
file is preserved and the token covers the whole document except the
signature hole itself.

Examples:
  # Stamp with the default TSA
  pdfstamp stamp contract.pdf --out contract.stamped.pdf

  # Use a specific TSA and hash
  pdfstamp stamp contract.pdf --url https://freetsa.org/tsr --hash sha384 --out out.pdf

  # Request a specific TSA policy
  pdfstamp stamp contract.pdf --policy 1.3.6.1.4.1.4146.2.3 --out out.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: runStamp,
}

func init() {
	stampCmd.Flags().StringVar(&stampConfigPath, "config", "", "Path to YAML configuration file")
	stampCmd.Flags().StringVarP(&stampOut, "out", "o", "", "Output file (default: <input>.stamped.pdf)")
	stampCmd.Flags().StringVar(&stampURL, "url", "", "TSA endpoint URL")
	stampCmd.Flags().StringVar(&stampHash, "hash", "", "Imprint hash algorithm: sha256, sha384 or sha512")
	stampCmd.Flags().StringVar(&stampPolicy, "policy", "", "Request a TSA policy (dotted OID)")
	stampCmd.Flags().StringVar(&stampField, "field", "", "Signature field name")
	stampCmd.Flags().IntVar(&stampTimeout, "timeout", 0, "TSA round-trip timeout in seconds")
	stampCmd.Flags().IntVar(&stampReservation, "reservation", 0, "Bytes reserved for the token")
	stampCmd.Flags().BoolVar(&stampNoNonce, "no-nonce", false, "Do not send a request nonce")
	stampCmd.Flags().BoolVar(&stampNoCerts, "no-certs", false, "Do not ask the TSA for its certificate chain")
}

// loadConfig reads the configuration file if given, otherwise the
// defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func runStamp(cmd *cobra.Command, args []string) error {
	input := args[0]

	cfg, err := loadConfig(stampConfigPath)
	if err != nil {
		return err
	}
	if stampURL != "" {
		cfg.TSA.URL = stampURL
	}
	if stampHash != "" {
		cfg.TSA.Hash = stampHash
	}
	if stampPolicy != "" {
		cfg.TSA.Policy = stampPolicy
	}
	if stampTimeout > 0 {
		cfg.TSA.TimeoutSeconds = stampTimeout
	}
	if stampNoNonce {
		cfg.TSA.NoNonce = true
	}
	if stampNoCerts {
		cfg.TSA.NoCerts = true
	}
	if stampField != "" {
		cfg.Stamp.FieldName = stampField
	}
	if stampReservation > 0 {
		cfg.Stamp.Reservation = stampReservation
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	out := stampOut
	if out == "" {
		out = strings.TrimSuffix(input, ".pdf") + ".stamped.pdf"
	}

	st, err := newStamper(cfg)
	if err != nil {
		return err
	}

	res, err := st.StampFile(cmd.Context(), input, out)
	if err != nil {
		return err
	}

	fmt.Printf("Timestamped: %s\n", out)
	fmt.Printf("  TSA:    %s\n", cfg.TSA.URL)
	fmt.Printf("  Time:   %s\n", res.Time.UTC())
	if res.SerialNumber != nil {
		fmt.Printf("  Serial: %s\n", cli.FormatSerial(res.SerialNumber))
	}
	fmt.Printf("  Token:  %d bytes (%d reserved)\n", res.TokenBytes, res.Reservation)
	return nil
}

// newStamper wires a TSA client and stamper from the configuration.
func newStamper(cfg *config.Config) (*stamper.Stamper, error) {
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

	return &stamper.Stamper{
		Source:      client,
		Hash:        hash,
		Reservation: cfg.Stamp.Reservation,
		FieldName:   cfg.Stamp.FieldName,
		TSAURL:      cfg.TSA.URL,
	}, nil
}
