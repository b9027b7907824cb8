package tsa

import (
	"encoding/asn1"
	"fmt"
)

// PKIStatus values (RFC 3161 Section 2.4.2).
const (
	StatusGranted                = 0
	StatusGrantedWithMods        = 1
	StatusRejection              = 2
	StatusWaiting                = 3
	StatusRevocationWarning      = 4
	StatusRevocationNotification = 5
)

// PKIFailureInfo values (RFC 3161 Section 2.4.2).
const (
	FailBadAlg              = 0  // Unrecognized or unsupported algorithm
	FailBadRequest          = 2  // Transaction not permitted or supported
	FailBadDataFormat       = 5  // The data submitted has the wrong format
	FailTimeNotAvailable    = 14 // TSA's time source is not available
	FailUnacceptedPolicy    = 15 // The requested policy is not supported
	FailUnacceptedExtension = 16 // The requested extension is not supported
	FailAddInfoNotAvailable = 17 // The additional information requested could not be understood
	FailSystemFailure       = 25 // System failure
)

// TimeStampResp represents the timestamp response (RFC 3161 Section 2.4.2).
type TimeStampResp struct {
	Status         PKIStatusInfo
	TimeStampToken asn1.RawValue `asn1:"optional"`
}

// PKIStatusInfo contains the status of the request (RFC 3161 Section 2.4.2).
type PKIStatusInfo struct {
	Status       int
	StatusString []string       `asn1:"optional"`
	FailInfo     asn1.BitString `asn1:"optional"`
}

// Response is a decoded TimeStampResp envelope. TokenDER holds the raw
// DER bytes of the TimeStampToken when one was returned; those exact
// bytes go into the document.
type Response struct {
	Status   PKIStatusInfo
	TokenDER []byte
}

// ParseResponse parses a DER-encoded TimeStampResp envelope without
// touching the token inside it.
func ParseResponse(data []byte) (*Response, error) {
	var resp TimeStampResp
	rest, err := asn1.Unmarshal(data, &resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: trailing data after TimeStampResp", ErrProtocol)
	}
	return &Response{
		Status:   resp.Status,
		TokenDER: resp.TimeStampToken.FullBytes,
	}, nil
}

// IsGranted returns true if the response indicates success.
func (r *Response) IsGranted() bool {
	return r.Status.Status == StatusGranted || r.Status.Status == StatusGrantedWithMods
}

// StatusText returns a human-readable status string.
func (r *Response) StatusText() string {
	switch r.Status.Status {
	case StatusGranted:
		return "granted"
	case StatusGrantedWithMods:
		return "granted with modifications"
	case StatusRejection:
		return "rejection"
	case StatusWaiting:
		return "waiting"
	case StatusRevocationWarning:
		return "revocation warning"
	case StatusRevocationNotification:
		return "revocation notification"
	default:
		return fmt.Sprintf("unknown status %d", r.Status.Status)
	}
}

// FailureText returns a human-readable failure reason.
func (r *Response) FailureText() string {
	if r.Status.FailInfo.BitLength == 0 {
		if len(r.Status.StatusString) > 0 {
			return r.Status.StatusString[0]
		}
		return ""
	}

	for i := 0; i < r.Status.FailInfo.BitLength; i++ {
		if r.Status.FailInfo.At(i) != 0 {
			return failureInfoString(i)
		}
	}
	return "unknown failure"
}

// failureInfoString returns a human-readable string for a failure bit.
func failureInfoString(bit int) string {
	switch bit {
	case FailBadAlg:
		return "unrecognized or unsupported algorithm"
	case FailBadRequest:
		return "transaction not permitted or supported"
	case FailBadDataFormat:
		return "data submitted has wrong format"
	case FailTimeNotAvailable:
		return "time source not available"
	case FailUnacceptedPolicy:
		return "requested policy not supported"
	case FailUnacceptedExtension:
		return "requested extension not supported"
	case FailAddInfoNotAvailable:
		return "additional information not available"
	case FailSystemFailure:
		return "system failure"
	default:
		return fmt.Sprintf("failure bit %d", bit)
	}
}
