package cli

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"os"
)

// FormatSerial renders a timestamp serial number as hex.
func FormatSerial(n *big.Int) string {
	if n == nil {
		return ""
	}
	return "0x" + n.Text(16)
}

// HashName returns the display name of a hash algorithm.
func HashName(h crypto.Hash) string {
	switch h {
	case crypto.SHA256:
		return "SHA-256"
	case crypto.SHA384:
		return "SHA-384"
	case crypto.SHA512:
		return "SHA-512"
	default:
		return h.String()
	}
}

// WriteCertPEM writes a certificate as PEM to a writer.
func WriteCertPEM(w io.Writer, cert *x509.Certificate) error {
	return pem.Encode(w, &pem.Block{
		Type:  "CERTIFICATE",
		Bytes: cert.Raw,
	})
}

// SaveCertsToPath saves certificates to a PEM file.
func SaveCertsToPath(path string, certs []*x509.Certificate) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = f.Close() }()

	for _, cert := range certs {
		if err := WriteCertPEM(f, cert); err != nil {
			return err
		}
	}
	return nil
}
