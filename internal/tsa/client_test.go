package tsa_test

import (
	"context"
	"crypto"
	"crypto/sha256"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/remiblancher/pdfstamp/internal/tsa"
	"github.com/remiblancher/pdfstamp/internal/tsa/tsatest"
)

func newAuthority(t *testing.T) *tsatest.Authority {
	t.Helper()
	auth, err := tsatest.New()
	if err != nil {
		t.Fatalf("tsatest.New() error = %v", err)
	}
	return auth
}

func digestOf(data string) []byte {
	sum := sha256.Sum256([]byte(data))
	return sum[:]
}

func TestU_ClientStamp(t *testing.T) {
	auth := newAuthority(t)
	srv := httptest.NewServer(auth)
	defer srv.Close()

	client := tsa.NewClient(srv.URL)
	digest := digestOf("document bytes")

	token, err := client.Stamp(context.Background(), digest)
	if err != nil {
		t.Fatalf("Stamp() error = %v", err)
	}
	if token.Time.IsZero() {
		t.Error("token has zero generation time")
	}
	if token.SerialNumber == nil {
		t.Error("token has no serial number")
	}
	if token.Nonce == nil {
		t.Error("token does not echo the nonce")
	}
	if len(token.Raw) == 0 {
		t.Error("token carries no raw DER")
	}
	if token.SignerCertificate() == nil {
		t.Error("certificates were requested but none embedded")
	}
	if !token.Policy.Equal(tsatest.TestPolicy) {
		t.Errorf("token policy = %v, want %v", token.Policy, tsatest.TestPolicy)
	}
}

func TestU_ClientStampNoCertsNoNonce(t *testing.T) {
	auth := newAuthority(t)
	srv := httptest.NewServer(auth)
	defer srv.Close()

	client := tsa.NewClient(srv.URL)
	client.RequestCerts = false
	client.UseNonce = false

	token, err := client.Stamp(context.Background(), digestOf("x"))
	if err != nil {
		t.Fatalf("Stamp() error = %v", err)
	}
	if len(token.Certificates) != 0 {
		t.Errorf("got %d certificates, want 0", len(token.Certificates))
	}
	if token.Nonce != nil {
		t.Error("token has a nonce although none was sent")
	}
}

func TestU_ClientErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler func(t *testing.T) http.Handler
		want    error
		wantOp  string
	}{
		{
			name: "rejection",
			handler: func(t *testing.T) http.Handler {
				auth := newAuthority(t)
				auth.Reject = true
				auth.RejectFailure = tsa.FailTimeNotAvailable
				return auth
			},
			want:   tsa.ErrRejected,
			wantOp: "response",
		},
		{
			name: "http failure",
			handler: func(t *testing.T) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					http.Error(w, "down", http.StatusServiceUnavailable)
				})
			},
			want:   tsa.ErrNetwork,
			wantOp: "send",
		},
		{
			name: "garbage body",
			handler: func(t *testing.T) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.Write([]byte("this is not DER"))
				})
			},
			want:   tsa.ErrProtocol,
			wantOp: "response",
		},
		{
			name: "nonce not echoed",
			handler: func(t *testing.T) http.Handler {
				auth := newAuthority(t)
				auth.DropNonce = true
				return auth
			},
			want:   tsa.ErrProtocol,
			wantOp: "token",
		},
		{
			name: "imprint not echoed",
			handler: func(t *testing.T) http.Handler {
				auth := newAuthority(t)
				auth.MangleImprint = true
				return auth
			},
			want:   tsa.ErrProtocol,
			wantOp: "token",
		},
		{
			name: "imprint hash algorithm differs",
			handler: func(t *testing.T) http.Handler {
				auth := newAuthority(t)
				auth.MangleAlgorithm = true
				return auth
			},
			want:   tsa.ErrProtocol,
			wantOp: "token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler(t))
			defer srv.Close()

			client := tsa.NewClient(srv.URL)
			_, err := client.Stamp(context.Background(), digestOf("y"))
			if !errors.Is(err, tt.want) {
				t.Fatalf("Stamp() error = %v, want %v", err, tt.want)
			}
			var terr *tsa.Error
			if !errors.As(err, &terr) {
				t.Fatalf("error %v is not a *tsa.Error", err)
			}
			if terr.Op != tt.wantOp {
				t.Errorf("Op = %q, want %q", terr.Op, tt.wantOp)
			}
		})
	}
}

func TestU_ClientContextCancelled(t *testing.T) {
	auth := newAuthority(t)
	srv := httptest.NewServer(auth)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := tsa.NewClient(srv.URL)
	if _, err := client.Stamp(ctx, digestOf("z")); !errors.Is(err, tsa.ErrNetwork) {
		t.Errorf("Stamp() error = %v, want ErrNetwork", err)
	}
}

func TestU_NewRequestValidation(t *testing.T) {
	if _, err := tsa.NewRequest(crypto.SHA256, []byte("short"), nil, true); !errors.Is(err, tsa.ErrInvalidRequest) {
		t.Errorf("short digest error = %v, want ErrInvalidRequest", err)
	}
	if _, err := tsa.NewRequest(crypto.MD5, digestOf("a")[:16], nil, true); !errors.Is(err, tsa.ErrUnsupportedHashAlgorithm) {
		t.Errorf("MD5 error = %v, want ErrUnsupportedHashAlgorithm", err)
	}
}

func TestU_ParseResponseGarbage(t *testing.T) {
	if _, err := tsa.ParseResponse([]byte{0x01, 0x02}); !errors.Is(err, tsa.ErrProtocol) {
		t.Errorf("ParseResponse() error = %v, want ErrProtocol", err)
	}
}
