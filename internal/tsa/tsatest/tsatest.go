// Package tsatest provides an in-process RFC 3161 authority for tests.
// It issues real ECDSA-signed tokens over HTTP so client and stamper
// tests exercise the full wire path without an external TSA.
package tsatest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/digitorus/pkcs7"

	"github.com/remiblancher/pdfstamp/internal/tsa"
)

// TestPolicy is the policy OID stamped into issued tokens.
var TestPolicy = asn1.ObjectIdentifier{1, 2, 3, 4, 1}

var (
	oidTSTInfo = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 4}
	oidSHA384  = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
)

// Authority is an http.Handler that answers timestamp queries with
// tokens signed by a throwaway ECDSA P-256 certificate.
type Authority struct {
	Certificate *x509.Certificate
	Key         *ecdsa.PrivateKey

	// Reject makes the authority answer every request with a PKIStatus
	// rejection carrying RejectFailure.
	Reject        bool
	RejectFailure int

	// DropNonce omits the request nonce from issued tokens.
	DropNonce bool

	// MangleImprint corrupts the echoed message imprint.
	MangleImprint bool

	// MangleAlgorithm reports the echoed imprint under SHA-384 no matter
	// what the request used.
	MangleAlgorithm bool
}

// New creates an authority with a fresh self-signed timestamping
// certificate.
func New() (*Authority, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "tsatest authority"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &Authority{Certificate: cert, Key: key}, nil
}

// ServeHTTP implements the RFC 3161 HTTP transport.
func (a *Authority) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	respDER, err := a.Respond(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/timestamp-reply")
	w.Write(respDER)
}

// Respond produces a DER TimeStampResp for a DER TimeStampReq.
func (a *Authority) Respond(reqDER []byte) ([]byte, error) {
	if a.Reject {
		return marshalRejection(a.RejectFailure)
	}

	var req tsa.TimeStampReq
	if rest, err := asn1.Unmarshal(reqDER, &req); err != nil || len(rest) > 0 {
		return nil, fmt.Errorf("bad TimeStampReq: %v", err)
	}

	token, err := a.TokenFor(&req)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(tsa.TimeStampResp{
		Status:         tsa.PKIStatusInfo{Status: tsa.StatusGranted},
		TimeStampToken: asn1.RawValue{FullBytes: token},
	})
}

// TokenFor issues a signed token answering the given request.
func (a *Authority) TokenFor(req *tsa.TimeStampReq) ([]byte, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	imprint := req.MessageImprint
	if a.MangleImprint && len(imprint.HashedMessage) > 0 {
		mangled := append([]byte(nil), imprint.HashedMessage...)
		mangled[0] ^= 0xff
		imprint.HashedMessage = mangled
	}
	if a.MangleAlgorithm {
		imprint.HashAlgorithm.Algorithm = oidSHA384
	}

	info := tsa.TSTInfo{
		Version:        1,
		Policy:         TestPolicy,
		MessageImprint: imprint,
		SerialNumber:   serial,
		GenTime:        time.Now().UTC().Truncate(time.Second),
		Accuracy:       tsa.Accuracy{Seconds: 1},
	}
	if req.Nonce != nil && !a.DropNonce {
		info.Nonce = req.Nonce
	}
	infoDER, err := asn1.Marshal(info)
	if err != nil {
		return nil, err
	}

	sd, err := pkcs7.NewSignedData(infoDER)
	if err != nil {
		return nil, err
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	sd.SetContentType(oidTSTInfo)
	cfg := pkcs7.SignerInfoConfig{SkipCertificates: !req.CertReq}
	if err := sd.AddSigner(a.Certificate, a.Key, cfg); err != nil {
		return nil, err
	}
	return sd.Finish()
}

// marshalRejection builds a rejection response with one failure bit set.
func marshalRejection(bit int) ([]byte, error) {
	raw := make([]byte, bit/8+1)
	raw[bit/8] = 1 << uint(7-bit%8)
	padding := (8 - (bit%8 + 1)) % 8
	return asn1.Marshal(tsa.TimeStampResp{
		Status: tsa.PKIStatusInfo{
			Status:       tsa.StatusRejection,
			StatusString: []string{"rejected by test authority"},
			FailInfo:     asn1.BitString{Bytes: raw, BitLength: len(raw)*8 - padding},
		},
	})
}

// Hash is the imprint algorithm this authority understands in tests.
const Hash = crypto.SHA256
