package attestation

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/aspect-build/attestkit/internal/failure"
	"github.com/aspect-build/attestkit/internal/logx"
)

// ErrNoEmbeddedQuote is returned by Resolve for certificates without the
// quote extension.
var ErrNoEmbeddedQuote = errors.New("no embedded quote")

// TrustAnchor is a CA certificate whose key was shown to originate in an
// attested TD.
type TrustAnchor struct {
	Cert    *x509.Certificate
	Outcome Outcome
}

// Resolver turns candidate CA certificates into trust anchors. It keeps no
// state between calls.
type Resolver struct {
	Verifier *QuoteVerifier
	Policy   WarningPolicy
}

func NewResolver(v *QuoteVerifier, p WarningPolicy) *Resolver {
	return &Resolver{Verifier: v, Policy: p}
}

// Resolve checks, in order, that cert embeds a quote, that the quote
// verifies, that its report data binds cert's own public key, and that cert
// is validly self-signed.
func (r *Resolver) Resolve(ctx context.Context, cert *x509.Certificate) (*TrustAnchor, error) {
	quote, ok := EmbeddedQuote(cert)
	if !ok {
		return nil, fmt.Errorf("%w: %w", failure.ErrEvidence, ErrNoEmbeddedQuote)
	}
	reportData, err := ReportData(quote)
	if err != nil {
		return nil, fmt.Errorf("embedded quote: %w", err)
	}

	outcome, err := r.Verifier.Verify(ctx, quote)
	if err != nil {
		return nil, err
	}
	if err := outcome.Check(r.Policy); err != nil {
		return nil, err
	}
	logx.Debugf("anchor.resolve subject=%q quote=%s", cert.Subject, outcome)

	raw, err := RawPublicKey(cert)
	if err != nil {
		return nil, err
	}
	if !Matches(reportData[:BindingDigestLen], raw) {
		return nil, fmt.Errorf("%w: binding mismatch: report data does not commit to the certificate key", failure.ErrTrust)
	}

	if err := cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature); err != nil {
		return nil, fmt.Errorf("%w: signature invalid: %w", failure.ErrTrust, err)
	}

	return &TrustAnchor{Cert: cert, Outcome: outcome}, nil
}

// VerifySignedBy checks that sub was signed by the anchor's key. Issuer
// constraints are not consulted; the anchor's authority comes from its quote.
func VerifySignedBy(sub *x509.Certificate, anchor *TrustAnchor) error {
	if anchor == nil || anchor.Cert == nil {
		return fmt.Errorf("%w: no trust anchor", failure.ErrTrust)
	}
	if err := anchor.Cert.CheckSignature(sub.SignatureAlgorithm, sub.RawTBSCertificate, sub.Signature); err != nil {
		return fmt.Errorf("%w: %q is not signed by anchor %q: %w", failure.ErrTrust, sub.Subject, anchor.Cert.Subject, err)
	}
	return nil
}
