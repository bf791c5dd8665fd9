package attestation

import (
	"fmt"

	"github.com/aspect-build/attestkit/internal/failure"
	"github.com/aspect-build/attestkit/internal/logx"
)

// WarningPolicy decides whether a VerifiedWithWarning outcome may be relied on.
type WarningPolicy struct {
	AllowWarnings bool
}

// DefaultWarningPolicy accepts warnings and logs them.
func DefaultWarningPolicy() WarningPolicy {
	return WarningPolicy{AllowWarnings: true}
}

// Check turns an outcome into a go/no-go decision under p.
func (o Outcome) Check(p WarningPolicy) error {
	switch o.Status {
	case StatusVerified:
		return nil
	case StatusVerifiedWithWarning:
		if !p.AllowWarnings {
			return fmt.Errorf("%w: quote verified with warning (%s) and policy forbids warnings", failure.ErrTrust, o.Reason)
		}
		logx.Warnf("quote accepted with warning: %s", o.Reason)
		return nil
	default:
		return fmt.Errorf("%w: quote rejected: %s", failure.ErrTrust, o.Reason)
	}
}
