package tsa

import (
	"bytes"
	"context"
	"crypto"
	"encoding/asn1"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"
)

// Content types mandated by RFC 3161 Section 3.4.
const (
	mimeRequest = "application/timestamp-query"
	mimeReply   = "application/timestamp-reply"
)

// DefaultTimeout bounds a timestamp round-trip when the caller's context
// carries no deadline.
const DefaultTimeout = 30 * time.Second

// maxResponseBytes caps how much of a TSA response is read. Real
// responses are a few kilobytes.
const maxResponseBytes = 1 << 20

// Client requests timestamp tokens from one TSA endpoint. A request is
// sent exactly once; retry policy belongs to the caller.
type Client struct {
	// URL is the TSA endpoint.
	URL string

	// HTTPClient is used for the round-trip. Nil selects a client with
	// DefaultTimeout.
	HTTPClient *http.Client

	// Hash selects the message imprint algorithm. Zero means SHA-256.
	Hash crypto.Hash

	// RequestCerts asks the TSA to embed its certificate chain, which a
	// document timestamp needs for later validation.
	RequestCerts bool

	// UseNonce adds a random nonce to the request and requires the
	// response to echo it.
	UseNonce bool

	// Policy optionally requests a specific TSA policy.
	Policy asn1.ObjectIdentifier
}

// NewClient returns a client with the defaults a document timestamp
// wants: SHA-256, certificates included, nonce on.
func NewClient(url string) *Client {
	return &Client{
		URL:          url,
		Hash:         crypto.SHA256,
		RequestCerts: true,
		UseNonce:     true,
	}
}

func (c *Client) hash() crypto.Hash {
	if c.Hash == 0 {
		return crypto.SHA256
	}
	return c.Hash
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: DefaultTimeout}
}

// Stamp requests a timestamp token over the given digest, which must
// have been computed with the client's hash algorithm. The returned
// token has been checked to echo the imprint (and nonce, when used).
func (c *Client) Stamp(ctx context.Context, digest []byte) (*Token, error) {
	nonce, err := c.newNonce()
	if err != nil {
		return nil, NewError("request", c.URL, err)
	}

	req, err := NewRequest(c.hash(), digest, nonce, c.RequestCerts)
	if err != nil {
		return nil, NewError("request", c.URL, err)
	}
	req.ReqPolicy = c.Policy
	der, err := req.Marshal()
	if err != nil {
		return nil, NewError("request", c.URL, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}

	body, err := c.roundTrip(ctx, der)
	if err != nil {
		return nil, err
	}

	resp, err := ParseResponse(body)
	if err != nil {
		return nil, NewError("response", c.URL, err)
	}
	if !resp.IsGranted() {
		return nil, NewError("response", c.URL,
			fmt.Errorf("%w: %s: %s", ErrRejected, resp.StatusText(), resp.FailureText()))
	}
	if len(resp.TokenDER) == 0 {
		return nil, NewError("response", c.URL,
			fmt.Errorf("%w: granted status without token", ErrProtocol))
	}

	token, err := ParseToken(resp.TokenDER)
	if err != nil {
		return nil, NewError("token", c.URL, err)
	}
	if err := c.checkEcho(token, digest, nonce); err != nil {
		return nil, NewError("token", c.URL, err)
	}
	return token, nil
}

func (c *Client) newNonce() (*big.Int, error) {
	if !c.UseNonce {
		return nil, nil
	}
	return NewNonce()
}

// roundTrip posts the DER request and returns the raw response body.
func (c *Client) roundTrip(ctx context.Context, der []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(der))
	if err != nil {
		return nil, NewError("send", c.URL, fmt.Errorf("%w: %v", ErrNetwork, err))
	}
	httpReq.Header.Set("Content-Type", mimeRequest)
	httpReq.Header.Set("Accept", mimeReply)

	httpResp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, NewError("send", c.URL, fmt.Errorf("%w: %v", ErrNetwork, err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, NewError("send", c.URL,
			fmt.Errorf("%w: HTTP %d", ErrNetwork, httpResp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, NewError("send", c.URL, fmt.Errorf("%w: %v", ErrNetwork, err))
	}
	return body, nil
}

// checkEcho verifies the token reproduces what was requested.
func (c *Client) checkEcho(token *Token, digest []byte, nonce *big.Int) error {
	if token.HashAlgorithm != c.hash() {
		return fmt.Errorf("%w: token hash algorithm %v, requested %v",
			ErrProtocol, token.HashAlgorithm, c.hash())
	}
	if !bytes.Equal(token.HashedMessage, digest) {
		return fmt.Errorf("%w: message imprint does not echo the request", ErrProtocol)
	}
	if nonce != nil && (token.Nonce == nil || token.Nonce.Cmp(nonce) != 0) {
		return fmt.Errorf("%w: nonce does not echo the request", ErrProtocol)
	}
	return nil
}
