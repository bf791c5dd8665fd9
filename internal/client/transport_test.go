package client

import (
	"crypto/tls"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewHTTPClient_TrustsBrokerCert(t *testing.T) {
	var auth string
	var tlsVersion uint16
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		tlsVersion = r.TLS.Version
	}))
	defer srv.Close()

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	c, err := NewHTTPClient(TransportConfig{CACert: certPEM, Token: "s3cret-token"})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	if auth != "Bearer s3cret-token" {
		t.Fatalf("Authorization = %q", auth)
	}
	if tlsVersion != tls.VersionTLS13 {
		t.Fatalf("TLS version = %x, want TLS 1.3", tlsVersion)
	}
}

func TestNewHTTPClient_DERCertNoToken(t *testing.T) {
	var auth string
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	c, err := NewHTTPClient(TransportConfig{CACert: srv.Certificate().Raw})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if auth != "" {
		t.Fatalf("unexpected Authorization %q", auth)
	}
}

func TestNewHTTPClient_UnknownAuthority(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	defer srv.Close()

	c, err := NewHTTPClient(TransportConfig{})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	if resp, err := c.Get(srv.URL); err == nil {
		resp.Body.Close()
		t.Fatal("expected certificate verification failure")
	}
}

func TestNewHTTPClient_BadCert(t *testing.T) {
	if _, err := NewHTTPClient(TransportConfig{CACert: []byte("not a certificate")}); err == nil {
		t.Fatal("expected error for garbage certificate")
	}
}
