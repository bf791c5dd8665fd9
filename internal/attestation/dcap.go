package attestation

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-tdx-guest/abi"
	"github.com/google/go-tdx-guest/pcs"
	pb "github.com/google/go-tdx-guest/proto/tdx"
	"github.com/google/go-tdx-guest/verify"
	"github.com/google/go-tdx-guest/verify/trust"

	"github.com/aspect-build/attestkit/internal/logx"
)

const (
	platformIssuer  = "Intel SGX PCK Platform CA"
	processorIssuer = "Intel SGX PCK Processor CA"
)

// DCAPBackend verifies TDX quotes in-process with go-tdx-guest against
// collateral from the Intel PCS.
type DCAPBackend struct {
	Getter           trust.HTTPSGetter
	CheckRevocations bool
}

// NewDCAPBackend fetches collateral with client; nil uses a 30s timeout client.
func NewDCAPBackend(client *http.Client) *DCAPBackend {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &DCAPBackend{
		Getter:           &httpsGetter{client: client},
		CheckRevocations: true,
	}
}

func (b *DCAPBackend) SupplementalDataSize(context.Context) (uint32, error) {
	return SupplementalSize, nil
}

// Collateral fetches TCB info, QE identity and the PCK CRL for the platform
// that produced quote.
func (b *DCAPBackend) Collateral(ctx context.Context, quote []byte) (*Collateral, error) {
	q, err := parseQuoteV4(quote)
	if err != nil {
		return nil, err
	}
	pck, err := pckCertificate(q)
	if err != nil {
		return nil, err
	}
	exts, err := pcs.PckCertificateExtensions(pck)
	if err != nil {
		return nil, fmt.Errorf("read PCK extensions: %w", err)
	}
	ca, err := pckIssuerCA(pck)
	if err != nil {
		return nil, err
	}

	tcbURL := pcs.TcbInfoURL(exts.FMSPC)
	qeURL := pcs.QeIdentityURL()
	coll := &Collateral{Documents: make(map[string]Document, 3)}
	crlURL := pcs.PckCrlURL(ca)
	for _, u := range []string{tcbURL, qeURL, crlURL} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		header, body, err := b.Getter.Get(u)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", u, err)
		}
		coll.Documents[u] = Document{Header: header, Body: body}
	}

	tcbNext, err := nextUpdate(coll.Documents[tcbURL].Body, "tcbInfo")
	if err != nil {
		return nil, fmt.Errorf("TCB info: %w", err)
	}
	qeNext, err := nextUpdate(coll.Documents[qeURL].Body, "enclaveIdentity")
	if err != nil {
		return nil, fmt.Errorf("QE identity: %w", err)
	}
	crl, err := x509.ParseRevocationList(coll.Documents[crlURL].Body)
	if err != nil {
		return nil, fmt.Errorf("PCK CRL: %w", err)
	}
	coll.NextUpdate = tcbNext
	for _, t := range []time.Time{qeNext, crl.NextUpdate} {
		if t.Before(coll.NextUpdate) {
			coll.NextUpdate = t
		}
	}
	logx.Debugf("dcap.collateral fmspc=%s ca=%s next_update=%s", exts.FMSPC, ca, coll.NextUpdate.Format(time.RFC3339))
	return coll, nil
}

// VerifyQuote runs go-tdx-guest over the prefetched collateral. Expired
// collateral is evaluated as of just before its nextUpdate and reported
// through CollateralExpired rather than failing verification.
func (b *DCAPBackend) VerifyQuote(_ context.Context, quote []byte, coll *Collateral, now time.Time, supp *Supplemental) (Verdict, error) {
	q, err := parseQuoteV4(quote)
	if err != nil {
		return Verdict{}, err
	}

	verdict := Verdict{CollateralExpired: coll.Expired(now)}
	at := now
	if verdict.CollateralExpired {
		at = coll.NextUpdate.Add(-time.Second)
	}
	var advisories []string
	verdict.Result, advisories, err = b.verify(q, coll, at)
	if err != nil {
		logx.Debugf("dcap.verify result=%s at=%s: %v", verdict.Result, at.Format(time.RFC3339), err)
	}
	if supp != nil {
		supp.TCBStatus = verdict.Result.String()
		supp.AdvisoryIDs = advisories
		if coll != nil {
			supp.EarliestExpiry = coll.NextUpdate
		}
	}
	return verdict, nil
}

// verify returns the result code, any advisories behind a non-OK TCB
// status, and the go-tdx-guest error that led to a non-OK result.
func (b *DCAPBackend) verify(q *pb.QuoteV4, coll *Collateral, at time.Time) (QVResult, []string, error) {
	opts := verify.DefaultOptions()
	opts.GetCollateral = true
	opts.CheckRevocations = b.CheckRevocations
	opts.Getter = &collateralGetter{coll: coll, fallback: b.Getter}
	opts.Now = at

	err := verify.TdxQuote(q, opts)
	if err == nil {
		return QVResultOK, nil, nil
	}
	if !isTCBStatusError(err) {
		return resultFromError(err), nil, err
	}

	pck, perr := pckCertificate(q)
	if perr != nil {
		return QVResultUnspecified, nil, err
	}
	exts, perr := pcs.PckCertificateExtensions(pck)
	if perr != nil {
		return QVResultUnspecified, nil, err
	}
	eval, eerr := evaluateTCB(q, coll, exts)
	if eerr != nil {
		return QVResultUnspecified, nil, fmt.Errorf("%w; TCB evaluation: %v", err, eerr)
	}
	res := eval.Result()
	if res == QVResultOK {
		// go-tdx-guest saw a status this evaluation did not.
		return QVResultUnspecified, nil, err
	}
	logx.Debugf("dcap.tcb platform=%s module=%s qe=%s", eval.Platform, eval.Module, eval.QE)
	return res, eval.Advisories, err
}

func parseQuoteV4(quote []byte) (*pb.QuoteV4, error) {
	parsed, err := abi.QuoteToProto(quote)
	if err != nil {
		return nil, fmt.Errorf("parse quote: %w", err)
	}
	switch q := parsed.(type) {
	case *pb.QuoteV4:
		return q, nil
	default:
		return nil, fmt.Errorf("unsupported quote type: %T", parsed)
	}
}

func pckCertificate(q *pb.QuoteV4) (*x509.Certificate, error) {
	chain := q.GetSignedData().GetCertificationData().GetQeReportCertificationData().GetPckCertificateChainData().GetPckCertChain()
	if len(chain) == 0 {
		return nil, errors.New("quote carries no PCK certificate chain")
	}
	block, _ := pem.Decode(chain)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("PCK certificate chain is not PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse PCK certificate: %w", err)
	}
	return cert, nil
}

func pckIssuerCA(pck *x509.Certificate) (string, error) {
	switch pck.Issuer.CommonName {
	case platformIssuer:
		return "platform", nil
	case processorIssuer:
		return "processor", nil
	default:
		return "", fmt.Errorf("unknown PCK issuer %q", pck.Issuer.CommonName)
	}
}

// nextUpdate reads {"<field>": {"nextUpdate": "..."}} from a PCS response.
func nextUpdate(body []byte, field string) (time.Time, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return time.Time{}, fmt.Errorf("decode: %w", err)
	}
	inner, ok := doc[field]
	if !ok {
		return time.Time{}, fmt.Errorf("missing %q", field)
	}
	var meta struct {
		NextUpdate time.Time `json:"nextUpdate"`
	}
	if err := json.Unmarshal(inner, &meta); err != nil {
		return time.Time{}, fmt.Errorf("decode %s.nextUpdate: %w", field, err)
	}
	return meta.NextUpdate, nil
}

// resultFromError maps a go-tdx-guest failure that is not a TCB status
// onto a result code. Nothing here is a warning; anything unrecognised is
// Unspecified.
func resultFromError(err error) QVResult {
	if errors.Is(err, verify.ErrHashVerificationFail) {
		return QVResultInvalidSignature
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "was revoked at"):
		return QVResultRevoked
	case strings.Contains(msg, "signature verification"):
		return QVResultInvalidSignature
	default:
		return QVResultUnspecified
	}
}

// httpsGetter implements trust.HTTPSGetter over a caller-supplied client.
type httpsGetter struct {
	client *http.Client
}

func (g *httpsGetter) Get(url string) (map[string][]string, []byte, error) {
	resp, err := g.client.Get(url)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}
	return resp.Header, body, nil
}

// collateralGetter serves prefetched documents and falls back to the network
// for anything else verification asks for, such as the root CA CRL.
type collateralGetter struct {
	coll     *Collateral
	fallback trust.HTTPSGetter
}

func (g *collateralGetter) Get(url string) (map[string][]string, []byte, error) {
	if g.coll != nil {
		if doc, ok := g.coll.Documents[url]; ok {
			return doc.Header, doc.Body, nil
		}
	}
	if g.fallback == nil {
		return nil, nil, fmt.Errorf("no collateral for %s", url)
	}
	return g.fallback.Get(url)
}
