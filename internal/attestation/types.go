package attestation

import (
	"fmt"
	"strings"
	"time"
)

// Evidence is the attestation material a workload presents to a key broker.
// UserData carries the DER public key whose hash is bound into the quote.
type Evidence struct {
	Quote       []byte
	EventLog    []byte
	SignedNonce []byte
	UserData    []byte
}

// Status is the bucket a verification result falls into. The zero value is
// StatusRejected so an unset Outcome never reads as trusted.
type Status int

const (
	StatusRejected Status = iota
	StatusVerified
	StatusVerifiedWithWarning
)

func (s Status) String() string {
	switch s {
	case StatusVerified:
		return "verified"
	case StatusVerifiedWithWarning:
		return "verified-with-warning"
	case StatusRejected:
		return "rejected"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Outcome is the classified result of quote verification.
type Outcome struct {
	Status Status
	// Reason explains a warning or rejection; empty when Verified.
	Reason string
	// Result is the raw backend code, when the backend produced one.
	Result QVResult
	// Warnings collects non-fatal observations made along the way.
	Warnings []string
	// Advisories lists security advisory IDs from supplemental data.
	Advisories []string
}

func (o Outcome) String() string {
	var b strings.Builder
	b.WriteString(o.Status.String())
	if o.Reason != "" {
		b.WriteString(" (" + o.Reason + ")")
	}
	if len(o.Advisories) > 0 {
		b.WriteString(" advisories=" + strings.Join(o.Advisories, ","))
	}
	return b.String()
}

// Verdict is what an evidence backend reports for a single quote.
type Verdict struct {
	Result            QVResult
	CollateralExpired bool
}

// Supplemental is the optional detail record a backend fills in when the
// caller and backend agree on its schema size.
type Supplemental struct {
	TCBStatus   string
	AdvisoryIDs []string
	// EarliestExpiry is the soonest nextUpdate across the collateral used.
	EarliestExpiry time.Time
}

// Document is one fetched collateral response.
type Document struct {
	Header map[string][]string
	Body   []byte
}

// Collateral is the issuer material needed to verify a quote, keyed by the
// URL it was fetched from.
type Collateral struct {
	Documents  map[string]Document
	NextUpdate time.Time
}

// Expired reports whether any collateral document is past its nextUpdate.
func (c *Collateral) Expired(now time.Time) bool {
	if c == nil || c.NextUpdate.IsZero() {
		return false
	}
	return now.After(c.NextUpdate)
}
