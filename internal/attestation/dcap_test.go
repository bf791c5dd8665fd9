package attestation

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-tdx-guest/verify"
)

func TestNextUpdate(t *testing.T) {
	body := []byte(`{"tcbInfo":{"id":"TDX","version":3,"nextUpdate":"2031-05-06T07:08:09Z"},"signature":"00"}`)
	got, err := nextUpdate(body, "tcbInfo")
	if err != nil {
		t.Fatalf("nextUpdate: %v", err)
	}
	if want := time.Date(2031, 5, 6, 7, 8, 9, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	if _, err := nextUpdate(body, "enclaveIdentity"); err == nil {
		t.Fatal("expected error for missing field")
	}
	if _, err := nextUpdate([]byte("{"), "tcbInfo"); err == nil {
		t.Fatal("expected error for bad json")
	}
}

func TestResultFromError(t *testing.T) {
	cases := map[string]QVResult{
		"PCK Leaf certificate in PCK certificate chain was revoked at 2023-06-01 00:00:00 +0000 UTC":                   QVResultRevoked,
		"error verifying QE report signature: QE report's signature verification using PCK Leaf Certificate failed: x": QVResultInvalidSignature,
		"could not verify collaterals obtained: QeIdentity has expired":                                                QVResultUnspecified,
		"something nobody anticipated": QVResultUnspecified,
	}
	for msg, want := range cases {
		if got := resultFromError(errors.New(msg)); got != want {
			t.Errorf("%q -> %s, want %s", msg, got, want)
		}
	}
	if got := resultFromError(fmt.Errorf("wrapped: %w", verify.ErrHashVerificationFail)); got != QVResultInvalidSignature {
		t.Errorf("hash verification failure -> %s", got)
	}
}

// A TCB status stop from go-tdx-guest must never turn into a warning code
// on its own: the checks after it did not run.
func TestResultFromError_TCBStatusIsNeverAWarning(t *testing.T) {
	stops := []error{
		fmt.Errorf("TDX TCB info reported by Intel PCS failed TCB status check: %v",
			fmt.Errorf("TDX Module TCB Status is not %q, found %q", "UpToDate", "OutOfDate")),
		fmt.Errorf("TDX TCB info reported by Intel PCS failed TCB status check: %v",
			fmt.Errorf("TCB Status is not %q, found %q", "UpToDate", "ConfigurationNeeded")),
		fmt.Errorf("QE Identity reported by Intel PCS failed TCB status check: %v",
			errors.New("unable to find latest status of TCB, it is now OutOfDate")),
	}
	for _, err := range stops {
		if !isTCBStatusError(err) {
			t.Errorf("%q not recognised as a TCB status stop", err)
		}
		got := resultFromError(err)
		if status, _ := Classify(Verdict{Result: got}); status != StatusRejected {
			t.Errorf("%q -> %s (%s), want rejected", err, got, status)
		}
	}
}

func TestPCKIssuerCA(t *testing.T) {
	for cn, want := range map[string]string{platformIssuer: "platform", processorIssuer: "processor"} {
		got, err := pckIssuerCA(&x509.Certificate{Issuer: pkix.Name{CommonName: cn}})
		if err != nil || got != want {
			t.Errorf("%q -> %q, %v", cn, got, err)
		}
	}
	if _, err := pckIssuerCA(&x509.Certificate{}); err == nil {
		t.Error("expected error for unknown issuer")
	}
}

func TestCollateralGetter(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("X-Test", "live")
		w.Write([]byte("live body"))
	}))
	defer srv.Close()

	cached := srv.URL + "/cached"
	g := &collateralGetter{
		coll: &Collateral{Documents: map[string]Document{
			cached: {Header: map[string][]string{"X-Test": {"cached"}}, Body: []byte("cached body")},
		}},
		fallback: &httpsGetter{client: srv.Client()},
	}

	_, body, err := g.Get(cached)
	if err != nil || string(body) != "cached body" || hits != 0 {
		t.Fatalf("cached get: body=%q err=%v hits=%d", body, err, hits)
	}
	header, body, err := g.Get(srv.URL + "/root.crl")
	if err != nil || string(body) != "live body" || hits != 1 {
		t.Fatalf("fallback get: body=%q err=%v hits=%d", body, err, hits)
	}
	if header["X-Test"][0] != "live" {
		t.Fatalf("header = %v", header)
	}

	if _, _, err := (&collateralGetter{}).Get("https://example.invalid"); err == nil {
		t.Fatal("expected error without fallback")
	}
}

func TestHTTPSGetter_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()
	if _, _, err := (&httpsGetter{client: srv.Client()}).Get(srv.URL); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestDCAPBackend_RejectsGarbage(t *testing.T) {
	b := NewDCAPBackend(nil)
	if _, err := b.Collateral(t.Context(), []byte("garbage")); err == nil {
		t.Fatal("expected parse error")
	}
}
