package attestation

import (
	"fmt"

	"github.com/aspect-build/attestkit/internal/failure"
)

// TDX quote v4 layout, as far as this package reads it.
const (
	QuoteHeaderLen   = 48
	TDReportLen      = 584
	ReportDataOffset = 520
	ReportDataLen    = 64
	// BindingDigestLen is the SHA-384 prefix of report data used to bind a
	// CA public key.
	BindingDigestLen = 48

	reportDataStart = QuoteHeaderLen + ReportDataOffset
	minQuoteLen     = QuoteHeaderLen + TDReportLen
)

// ReportData returns the 64-byte report data field of a quote.
func ReportData(quote []byte) ([ReportDataLen]byte, error) {
	var rd [ReportDataLen]byte
	if len(quote) < minQuoteLen {
		return rd, fmt.Errorf("%w: quote is %d bytes, need at least %d for the TD report", failure.ErrFormat, len(quote), minQuoteLen)
	}
	report := quote[QuoteHeaderLen : QuoteHeaderLen+TDReportLen]
	copy(rd[:], report[ReportDataOffset:ReportDataOffset+ReportDataLen])
	return rd, nil
}
