// Package tsa implements the client side of the RFC 3161 Time-Stamp
// Protocol over HTTP.
package tsa

import (
	"crypto"
	"crypto/rand"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
)

// Hash algorithm OIDs accepted in message imprints.
var (
	oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	oidSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
)

// TimeStampReq represents a timestamp request (RFC 3161 Section 2.4.1).
type TimeStampReq struct {
	Version        int
	MessageImprint MessageImprint
	ReqPolicy      asn1.ObjectIdentifier `asn1:"optional"`
	Nonce          *big.Int              `asn1:"optional"`
	CertReq        bool                  `asn1:"optional,default:false"`
	Extensions     []pkix.Extension      `asn1:"optional,tag:0"`
}

// MessageImprint contains the hash of the data to be timestamped.
type MessageImprint struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	HashedMessage []byte
}

// NewMessageImprint creates a MessageImprint from a computed digest.
func NewMessageImprint(hash crypto.Hash, digest []byte) (MessageImprint, error) {
	oid, err := hashToOID(hash)
	if err != nil {
		return MessageImprint{}, err
	}
	if len(digest) != hash.Size() {
		return MessageImprint{}, fmt.Errorf("%w: digest is %d bytes, %v produces %d",
			ErrInvalidRequest, len(digest), hash, hash.Size())
	}
	return MessageImprint{
		HashAlgorithm: pkix.AlgorithmIdentifier{
			Algorithm: oid,
			// Some TSAs require explicit NULL parameters.
			Parameters: asn1.NullRawValue,
		},
		HashedMessage: digest,
	}, nil
}

// NewRequest creates a TimeStampReq for an already-computed digest.
func NewRequest(hash crypto.Hash, digest []byte, nonce *big.Int, certReq bool) (*TimeStampReq, error) {
	imprint, err := NewMessageImprint(hash, digest)
	if err != nil {
		return nil, err
	}
	return &TimeStampReq{
		Version:        1,
		MessageImprint: imprint,
		Nonce:          nonce,
		CertReq:        certReq,
	}, nil
}

// Marshal encodes the TimeStampReq as DER.
func (r *TimeStampReq) Marshal() ([]byte, error) {
	return asn1.Marshal(*r)
}

// NewNonce returns a random 128-bit nonce.
func NewNonce() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, limit)
}

// hashToOID converts crypto.Hash to an algorithm OID.
func hashToOID(h crypto.Hash) (asn1.ObjectIdentifier, error) {
	switch h {
	case crypto.SHA256:
		return oidSHA256, nil
	case crypto.SHA384:
		return oidSHA384, nil
	case crypto.SHA512:
		return oidSHA512, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedHashAlgorithm, h)
	}
}

// oidToHash converts a hash algorithm OID to crypto.Hash.
func oidToHash(oid asn1.ObjectIdentifier) (crypto.Hash, error) {
	switch {
	case oid.Equal(oidSHA256):
		return crypto.SHA256, nil
	case oid.Equal(oidSHA384):
		return crypto.SHA384, nil
	case oid.Equal(oidSHA512):
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedHashAlgorithm, oid)
	}
}
