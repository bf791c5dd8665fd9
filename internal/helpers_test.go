package internal

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/aspect-build/attestkit/internal/attestation"
	"github.com/aspect-build/attestkit/internal/disk"
)

const testAdminToken = "test-admin-token-1234567890"

var testMasterKey = [32]byte{
	0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17,
	0x18, 0x19, 0x1a, 0x1b, 0x1c, 0x1d, 0x1e, 0x1f,
	0x20, 0x21, 0x22, 0x23, 0x24, 0x25, 0x26, 0x27,
	0x28, 0x29, 0x2a, 0x2b, 0x2c, 0x2d, 0x2e, 0x2f,
}

func adminRequest(method, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	return http.DefaultClient.Do(req)
}

// unboundQuotes ignores the requested report data.
type unboundQuotes struct{}

func (unboundQuotes) Quote(context.Context, [attestation.ReportDataLen]byte) ([]byte, error) {
	return attestation.FakeQuote([attestation.ReportDataLen]byte{}), nil
}

// recordingRunner captures a single cryptsetup invocation.
type recordingRunner struct {
	path  string
	args  []string
	stdin []byte
}

func (r *recordingRunner) Run(_ context.Context, c disk.Command) (int, error) {
	r.path = c.Path
	r.args = append([]string(nil), c.Args...)
	if c.Stdin != nil {
		b, err := io.ReadAll(c.Stdin)
		if err != nil {
			return 1, err
		}
		r.stdin = b
	}
	return 0, nil
}

type quoteCA struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

// newQuoteCA issues a self-signed P-384 CA. withQuote adds the quote
// extension; bound decides whether its report data commits to the CA key.
func newQuoteCA(withQuote, bound bool) (*quoteCA, error) {
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "td-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	if withQuote {
		committed := &key.PublicKey
		if !bound {
			other, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
			if err != nil {
				return nil, err
			}
			committed = &other.PublicKey
		}
		pub, err := committed.ECDH()
		if err != nil {
			return nil, err
		}
		var rd [attestation.ReportDataLen]byte
		copy(rd[:], attestation.BindingDigest(pub.Bytes()))
		tmpl.ExtraExtensions = []pkix.Extension{{Id: attestation.OIDTDQuote, Value: attestation.FakeQuote(rd)}}
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &quoteCA{cert: cert, key: key}, nil
}

func issueLeaf(ca *x509.Certificate, caKey any) (*x509.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "workload"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca, &key.PublicKey, caKey)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(der)
}
