package attestation

import (
	"context"
	"fmt"

	tdxclient "github.com/google/go-tdx-guest/client"

	"github.com/aspect-build/attestkit/internal/failure"
)

// TDXGuestQuoteSource asks the local TDX guest for a quote through
// configfs-tsm, falling back to /dev/tdx_guest.
type TDXGuestQuoteSource struct{}

func (TDXGuestQuoteSource) Quote(_ context.Context, reportData [ReportDataLen]byte) ([]byte, error) {
	qp := &tdxclient.LinuxConfigFsQuoteProvider{}
	if qp.IsSupported() == nil {
		quote, err := qp.GetRawQuote(reportData)
		if err != nil {
			return nil, fmt.Errorf("%w: configfs quote: %w", failure.ErrIO, err)
		}
		return quote, nil
	}

	dev, err := tdxclient.OpenDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: open tdx guest device: %w", failure.ErrIO, err)
	}
	defer dev.Close()

	quote, err := tdxclient.GetRawQuote(dev, reportData)
	if err != nil {
		return nil, fmt.Errorf("%w: device quote: %w", failure.ErrIO, err)
	}
	return quote, nil
}
