package client

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/aspect-build/attestkit/internal/attestation"
)

// TransportConfig describes the outbound channel to a key broker.
type TransportConfig struct {
	// CACert is an extra trusted root, PEM or DER. Optional.
	CACert []byte
	// Token is sent as a bearer token when set.
	Token   string
	Timeout time.Duration
}

// NewHTTPClient builds a TLS 1.3-only client trusting the system roots plus
// cfg.CACert.
func NewHTTPClient(cfg TransportConfig) (*http.Client, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if len(cfg.CACert) > 0 {
		cert, err := attestation.ParseCertificate(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("key broker certificate: %w", err)
		}
		pool.AddCert(cert)
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSClientConfig = &tls.Config{
		MinVersion: tls.VersionTLS13,
		RootCAs:    pool,
	}

	var rt http.RoundTripper = base
	if cfg.Token != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"}),
			Base:   base,
		}
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Transport: rt, Timeout: timeout}, nil
}
