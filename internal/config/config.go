// Package config holds the YAML configuration for the stamping tool
// and its HTTP API.
package config

import (
	"crypto"
	"encoding/asn1"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTSAURL is the endpoint used when no TSA is configured.
const DefaultTSAURL = "http://timestamp.digicert.com"

// Config is the root configuration.
type Config struct {
	TSA      TSAConfig   `yaml:"tsa"`
	Stamp    StampConfig `yaml:"stamp"`
	Serve    ServeConfig `yaml:"serve"`
	AuditLog string      `yaml:"audit_log"`
}

// TSAConfig selects the timestamp authority and request options.
type TSAConfig struct {
	// URL is the RFC 3161 HTTP endpoint.
	URL string `yaml:"url"`

	// Hash names the imprint algorithm: sha256, sha384 or sha512.
	Hash string `yaml:"hash"`

	// TimeoutSeconds bounds one TSA round-trip.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// NoNonce disables the request nonce.
	NoNonce bool `yaml:"no_nonce"`

	// NoCerts asks the TSA not to embed its certificate chain.
	NoCerts bool `yaml:"no_certs"`

	// Policy optionally requests a TSA policy, as a dotted OID.
	Policy string `yaml:"policy"`
}

// StampConfig tunes the embedded signature.
type StampConfig struct {
	// Reservation is the /Contents capacity in bytes. Zero keeps the
	// built-in default.
	Reservation int `yaml:"reservation"`

	// FieldName names the signature field.
	FieldName string `yaml:"field_name"`
}

// ServeConfig configures the HTTP API.
type ServeConfig struct {
	Addr      string `yaml:"addr"`
	MaxBodyMB int    `yaml:"max_body_mb"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		TSA: TSAConfig{
			URL:            DefaultTSAURL,
			Hash:           "sha256",
			TimeoutSeconds: 30,
		},
		Serve: ServeConfig{
			Addr:      ":8318",
			MaxBodyMB: 64,
		},
	}
}

// Load reads a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	u, err := url.Parse(c.TSA.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("tsa.url %q is not an http(s) URL", c.TSA.URL)
	}
	if _, err := c.TSA.HashAlgorithm(); err != nil {
		return err
	}
	if _, err := c.TSA.PolicyOID(); err != nil {
		return err
	}
	if c.TSA.TimeoutSeconds < 0 {
		return fmt.Errorf("tsa.timeout_seconds must not be negative")
	}
	if c.Stamp.Reservation < 0 {
		return fmt.Errorf("stamp.reservation must not be negative")
	}
	if c.Serve.MaxBodyMB <= 0 {
		return fmt.Errorf("serve.max_body_mb must be positive")
	}
	return nil
}

// HashAlgorithm maps the configured hash name to crypto.Hash.
func (t *TSAConfig) HashAlgorithm() (crypto.Hash, error) {
	switch strings.ToLower(strings.ReplaceAll(t.Hash, "-", "")) {
	case "", "sha256":
		return crypto.SHA256, nil
	case "sha384":
		return crypto.SHA384, nil
	case "sha512":
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("unsupported hash %q (use sha256, sha384 or sha512)", t.Hash)
	}
}

// PolicyOID parses the configured policy as an OID. An empty policy
// yields nil.
func (t *TSAConfig) PolicyOID() (asn1.ObjectIdentifier, error) {
	if t.Policy == "" {
		return nil, nil
	}
	parts := strings.Split(t.Policy, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("tsa.policy %q is not a dotted OID", t.Policy)
	}
	oid := make(asn1.ObjectIdentifier, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("tsa.policy %q is not a dotted OID", t.Policy)
		}
		oid[i] = n
	}
	return oid, nil
}

// Timeout returns the configured round-trip timeout.
func (t *TSAConfig) Timeout() time.Duration {
	if t.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// MaxBodyBytes returns the request body cap for the HTTP API.
func (s *ServeConfig) MaxBodyBytes() int64 {
	return int64(s.MaxBodyMB) << 20
}
