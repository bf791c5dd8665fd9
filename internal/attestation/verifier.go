package attestation

import (
	"context"
	"fmt"
	"time"

	"github.com/aspect-build/attestkit/internal/failure"
	"github.com/aspect-build/attestkit/internal/logx"
)

// SupplementalSize is the size, in bytes, of the supplemental record schema
// this package understands. Backends report their own size and a mismatch
// disables supplemental data for that call.
const SupplementalSize uint32 = 0x150

// Backend is the external evidence-verification capability.
type Backend interface {
	SupplementalDataSize(ctx context.Context) (uint32, error)
	Collateral(ctx context.Context, quote []byte) (*Collateral, error)
	// VerifyQuote checks quote against coll at time now. supp is nil when
	// supplemental data is not wanted, otherwise the backend fills it in.
	VerifyQuote(ctx context.Context, quote []byte, coll *Collateral, now time.Time, supp *Supplemental) (Verdict, error)
}

// QuoteSource produces quotes carrying caller-chosen report data.
type QuoteSource interface {
	Quote(ctx context.Context, reportData [ReportDataLen]byte) ([]byte, error)
}

// QuoteVerifier drives a Backend and classifies its verdict.
type QuoteVerifier struct {
	Backend Backend
	// Now defaults to time.Now.
	Now func() time.Time
}

func NewQuoteVerifier(b Backend) *QuoteVerifier {
	return &QuoteVerifier{Backend: b}
}

func (v *QuoteVerifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// Verify runs supplemental sizing, collateral fetch and verification for one
// quote. A collateral failure is a Rejected outcome; an error is returned
// only when the backend could not produce a verdict at all.
func (v *QuoteVerifier) Verify(ctx context.Context, quote []byte) (Outcome, error) {
	var warnings []string

	size, err := v.Backend.SupplementalDataSize(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: query supplemental data size: %w", failure.ErrEvidence, err)
	}
	var supp *Supplemental
	if size == SupplementalSize {
		supp = &Supplemental{}
	} else {
		w := fmt.Sprintf("supplemental data size mismatch (backend %d, expected %d), continuing without it", size, SupplementalSize)
		logx.Warnf("quote.verify %s", w)
		warnings = append(warnings, w)
	}

	coll, err := v.Backend.Collateral(ctx, quote)
	if err != nil {
		logx.Debugf("quote.verify collateral fetch failed: %v", err)
		return Outcome{
			Status:   StatusRejected,
			Reason:   fmt.Sprintf("collateral unavailable: %v", err),
			Warnings: warnings,
		}, nil
	}

	verdict, err := v.Backend.VerifyQuote(ctx, quote, coll, v.now(), supp)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: verify quote: %w", failure.ErrEvidence, err)
	}

	status, reason := Classify(verdict)
	out := Outcome{
		Status:   status,
		Reason:   reason,
		Result:   verdict.Result,
		Warnings: warnings,
	}
	if supp != nil {
		out.Advisories = supp.AdvisoryIDs
	}
	logx.Debugf("quote.verify result=%s expired=%v outcome=%s", verdict.Result, verdict.CollateralExpired, out)
	return out, nil
}
