package attestation

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"time"
)

// FakeBackend is a scripted Backend for tests and insecure development
// brokers. The zero value verifies every quote as OK.
type FakeBackend struct {
	// SuppSize defaults to SupplementalSize when zero.
	SuppSize          uint32
	Result            QVResult
	CollateralExpired bool
	Advisories        []string

	SizeErr       error
	CollateralErr error
	VerifyErr     error

	verifyCalls atomic.Int32
}

func (f *FakeBackend) SupplementalDataSize(context.Context) (uint32, error) {
	if f.SizeErr != nil {
		return 0, f.SizeErr
	}
	if f.SuppSize == 0 {
		return SupplementalSize, nil
	}
	return f.SuppSize, nil
}

func (f *FakeBackend) Collateral(context.Context, []byte) (*Collateral, error) {
	if f.CollateralErr != nil {
		return nil, f.CollateralErr
	}
	return &Collateral{}, nil
}

func (f *FakeBackend) VerifyQuote(_ context.Context, _ []byte, _ *Collateral, _ time.Time, supp *Supplemental) (Verdict, error) {
	f.verifyCalls.Add(1)
	if f.VerifyErr != nil {
		return Verdict{}, f.VerifyErr
	}
	if supp != nil {
		supp.AdvisoryIDs = append([]string(nil), f.Advisories...)
		supp.TCBStatus = f.Result.String()
	}
	return Verdict{Result: f.Result, CollateralExpired: f.CollateralExpired}, nil
}

// VerifyCalls reports how many times VerifyQuote ran.
func (f *FakeBackend) VerifyCalls() int {
	return int(f.verifyCalls.Load())
}

// FakeQuote builds a quote-shaped blob with reportData at the TDX v4
// offsets. It carries no signature and only passes a FakeBackend.
func FakeQuote(reportData [ReportDataLen]byte) []byte {
	q := make([]byte, minQuoteLen+4)
	binary.LittleEndian.PutUint16(q[0:], 4)    // version
	binary.LittleEndian.PutUint32(q[4:], 0x81) // TEE type: TDX
	copy(q[reportDataStart:], reportData[:])
	return q
}

// FakeQuoteSource hands out FakeQuotes.
type FakeQuoteSource struct {
	Err error
}

func (s FakeQuoteSource) Quote(_ context.Context, reportData [ReportDataLen]byte) ([]byte, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return FakeQuote(reportData), nil
}
