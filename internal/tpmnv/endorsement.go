package tpmnv

import (
	"context"
	"crypto/x509"

	"github.com/aspect-build/attestkit/internal/attestation"
)

// Endorsement is an EK certificate chained to a quote-rooted CA.
type Endorsement struct {
	Anchor *attestation.TrustAnchor
	EKCert *x509.Certificate
	// EKPublic is the raw subjectPublicKey of the EK certificate.
	EKPublic []byte
}

// VerifyEndorsement resolves caDER into a trust anchor and checks that
// ekDER was issued by it.
func VerifyEndorsement(ctx context.Context, res *attestation.Resolver, caDER, ekDER []byte) (*Endorsement, error) {
	caCert, err := attestation.ParseCertificate(caDER)
	if err != nil {
		return nil, err
	}
	anchor, err := res.Resolve(ctx, caCert)
	if err != nil {
		return nil, err
	}

	ekCert, err := attestation.ParseCertificate(ekDER)
	if err != nil {
		return nil, err
	}
	if err := attestation.VerifySignedBy(ekCert, anchor); err != nil {
		return nil, err
	}
	raw, err := attestation.RawPublicKey(ekCert)
	if err != nil {
		return nil, err
	}
	return &Endorsement{Anchor: anchor, EKCert: ekCert, EKPublic: raw}, nil
}

// Endorsement reads the CA and EK certificates from NV and verifies them.
func (r *Reader) Endorsement(ctx context.Context, res *attestation.Resolver) (*Endorsement, error) {
	caDER, err := r.CACertificate(ctx)
	if err != nil {
		return nil, err
	}
	ekDER, err := r.EKCertificate(ctx)
	if err != nil {
		return nil, err
	}
	return VerifyEndorsement(ctx, res, caDER, ekDER)
}
