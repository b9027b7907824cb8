package tsa

import (
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"github.com/digitorus/pkcs7"
	"github.com/digitorus/timestamp"
)

// TSTInfo represents the timestamp token info (RFC 3161 Section 2.4.2).
type TSTInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint MessageImprint
	SerialNumber   *big.Int
	GenTime        time.Time        `asn1:"generalized"`
	Accuracy       Accuracy         `asn1:"optional"`
	Ordering       bool             `asn1:"optional,default:false"`
	Nonce          *big.Int         `asn1:"optional"`
	TSA            asn1.RawValue    `asn1:"optional,tag:0"`
	Extensions     []pkix.Extension `asn1:"optional,tag:1"`
}

// Accuracy represents the accuracy of the timestamp (RFC 3161 Section 2.4.2).
type Accuracy struct {
	Seconds int `asn1:"optional"`
	Millis  int `asn1:"optional,tag:0"`
	Micros  int `asn1:"optional,tag:1"`
}

// Duration converts the accuracy to a time.Duration.
func (a Accuracy) Duration() time.Duration {
	return time.Duration(a.Seconds)*time.Second +
		time.Duration(a.Millis)*time.Millisecond +
		time.Duration(a.Micros)*time.Microsecond
}

// Token is a parsed timestamp token. Raw holds the exact DER bytes as
// returned by the TSA; embedding must use Raw, never a re-encoding.
type Token struct {
	Raw []byte

	Time          time.Time
	Accuracy      time.Duration
	SerialNumber  *big.Int
	Policy        asn1.ObjectIdentifier
	HashAlgorithm crypto.Hash
	HashedMessage []byte
	Nonce         *big.Int

	Certificates []*x509.Certificate
}

// ParseToken parses a DER-encoded timestamp token (CMS SignedData). When
// the token carries certificates the signature over the TSTInfo is
// checked as well.
func ParseToken(raw []byte) (*Token, error) {
	// Signature and structural checks, plus certificate extraction.
	ts, err := timestamp.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	// Policy and nonce are not surfaced by the parse above; read them
	// from the encapsulated TSTInfo directly.
	p7, err := pkcs7.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	var info TSTInfo
	if _, err := asn1.Unmarshal(p7.Content, &info); err != nil {
		return nil, fmt.Errorf("%w: bad TSTInfo: %v", ErrProtocol, err)
	}

	return &Token{
		Raw:           raw,
		Time:          ts.Time,
		Accuracy:      ts.Accuracy,
		SerialNumber:  info.SerialNumber,
		Policy:        info.Policy,
		HashAlgorithm: ts.HashAlgorithm,
		HashedMessage: ts.HashedMessage,
		Nonce:         info.Nonce,
		Certificates:  ts.Certificates,
	}, nil
}

// SignerCertificate returns the certificate that signed the token, when
// the TSA embedded one.
func (t *Token) SignerCertificate() *x509.Certificate {
	if len(t.Certificates) == 0 {
		return nil
	}
	return t.Certificates[0]
}
