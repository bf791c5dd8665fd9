package attestation

import (
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"fmt"

	"github.com/aspect-build/attestkit/internal/failure"
)

// OIDTDQuote is the certificate extension carrying a raw TDX quote.
var OIDTDQuote = asn1.ObjectIdentifier{2, 16, 840, 1, 113741, 1, 5, 5, 2, 2}

// EmbeddedQuote returns the raw value of the quote extension. The value is
// the quote itself, not an ASN.1 wrapper around it.
func EmbeddedQuote(cert *x509.Certificate) ([]byte, bool) {
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(OIDTDQuote) {
			continue
		}
		if len(ext.Value) == 0 {
			continue
		}
		return ext.Value, true
	}
	return nil, false
}

// ParseCertificate accepts a DER certificate or the first CERTIFICATE block
// of a PEM input.
func ParseCertificate(data []byte) (*x509.Certificate, error) {
	der := data
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != "CERTIFICATE" {
			return nil, fmt.Errorf("%w: unexpected PEM block type %q (want CERTIFICATE)", failure.ErrFormat, block.Type)
		}
		der = block.Bytes
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parse certificate: %w", failure.ErrFormat, err)
	}
	return cert, nil
}
