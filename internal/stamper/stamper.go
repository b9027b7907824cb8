// Package stamper orchestrates document timestamping: it prepares the
// incremental update, obtains a token from a TSA over the reserved
// byte range's digest, and embeds the token without touching any byte
// of the original document.
package stamper

import (
	"context"
	"crypto"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/remiblancher/pdfstamp/internal/audit"
	"github.com/remiblancher/pdfstamp/internal/pdf"
	"github.com/remiblancher/pdfstamp/internal/tsa"
)

// Sentinels surfaced by this package. ErrNotPDF fires before any
// network traffic; a non-PDF input never reaches the TSA.
var (
	ErrNotPDF    = pdf.ErrNotPDF
	ErrMalformed = pdf.ErrMalformed
	ErrIntegrity = pdf.ErrIntegrity
)

// TokenSource obtains a timestamp token over a digest. *tsa.Client is
// the production implementation; tests substitute their own.
type TokenSource interface {
	Stamp(ctx context.Context, digest []byte) (*tsa.Token, error)
}

// Stamper timestamps PDF documents using one token source.
type Stamper struct {
	// Source provides tokens. Required.
	Source TokenSource

	// Hash is the digest algorithm for the byte range imprint. It must
	// match what Source requests from the TSA. Zero means SHA-256.
	Hash crypto.Hash

	// Reservation is the /Contents capacity in bytes. Zero selects
	// pdf.DefaultReservation.
	Reservation int

	// FieldName names the signature field. Empty means "Timestamp".
	FieldName string

	// TSAURL is recorded in audit events.
	TSAURL string
}

// Result describes a completed stamping operation.
type Result struct {
	Time         time.Time
	SerialNumber *big.Int
	TokenBytes   int
	Reservation  int
	OutputBytes  int
}

func (s *Stamper) hash() crypto.Hash {
	if s.Hash == 0 {
		return crypto.SHA256
	}
	return s.Hash
}

// Stamp timestamps the document held in data and returns the stamped
// document. data is never modified; the output is the original bytes
// plus one incremental update.
func (s *Stamper) Stamp(ctx context.Context, data []byte) ([]byte, *Result, error) {
	out, res, err := s.stamp(ctx, "", data)
	return out, res, err
}

// StampFile timestamps inPath and writes the result to outPath. The
// output file is only created after the whole operation succeeded.
func (s *Stamper) StampFile(ctx context.Context, inPath, outPath string) (*Result, error) {
	data, err := os.ReadFile(inPath)
	if err != nil {
		return nil, err
	}
	out, res, err := s.stamp(ctx, inPath, data)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(outPath, out, 0644); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Stamper) stamp(ctx context.Context, docPath string, data []byte) ([]byte, *Result, error) {
	if err := audit.LogStampStarted(docPath, s.TSAURL, s.hash().String(), len(data)); err != nil {
		return nil, nil, err
	}

	out, res, err := s.stampInner(ctx, docPath, data)

	reason := ""
	if err != nil {
		reason = err.Error()
	}
	if auditErr := audit.LogStampCompleted(docPath, s.TSAURL, err == nil, reason); auditErr != nil && err == nil {
		return nil, nil, auditErr
	}
	return out, res, err
}

func (s *Stamper) stampInner(ctx context.Context, docPath string, data []byte) ([]byte, *Result, error) {
	doc, err := pdf.Open(data)
	if err != nil {
		return nil, nil, err
	}

	ph, err := pdf.NewUpdater(doc).PrepareTimestamp(s.FieldName, s.Reservation)
	if err != nil {
		return nil, nil, err
	}

	digest := ph.Digest(s.hash())
	token, err := s.Source.Stamp(ctx, digest)
	if err != nil {
		_ = audit.LogTSAExchange(s.TSAURL, hex.EncodeToString(digest), "", "", "",
			false, err.Error())
		return nil, nil, err
	}
	if err := audit.LogTSAExchange(s.TSAURL, hex.EncodeToString(digest),
		serialString(token), token.Time.Format(time.RFC3339), token.Policy.String(),
		true, ""); err != nil {
		return nil, nil, err
	}

	out, err := ph.Fill(token.Raw)
	if err != nil {
		return nil, nil, err
	}

	// The filled document must still digest to the token's imprint.
	if err := checkImprint(out, ph.ByteRange, s.hash(), token.HashedMessage); err != nil {
		return nil, nil, err
	}

	if err := audit.LogTokenEmbedded(docPath, len(token.Raw), ph.Reservation()); err != nil {
		return nil, nil, err
	}

	return out, &Result{
		Time:         token.Time,
		SerialNumber: token.SerialNumber,
		TokenBytes:   len(token.Raw),
		Reservation:  ph.Reservation(),
		OutputBytes:  len(out),
	}, nil
}

// checkImprint recomputes the byte range digest of the finished
// document and compares it to what the TSA signed.
func checkImprint(out []byte, br [4]int64, h crypto.Hash, imprint []byte) error {
	hh := h.New()
	hh.Write(out[br[0] : br[0]+br[1]])
	hh.Write(out[br[2] : br[2]+br[3]])
	sum := hh.Sum(nil)
	if len(imprint) != len(sum) {
		return fmt.Errorf("%w: imprint length mismatch", ErrIntegrity)
	}
	for i := range sum {
		if sum[i] != imprint[i] {
			return fmt.Errorf("%w: digest of stamped document diverges from token imprint", ErrIntegrity)
		}
	}
	return nil
}

func serialString(t *tsa.Token) string {
	if t.SerialNumber == nil {
		return ""
	}
	return "0x" + t.SerialNumber.Text(16)
}
