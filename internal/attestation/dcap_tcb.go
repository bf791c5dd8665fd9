package attestation

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-tdx-guest/pcs"
	pb "github.com/google/go-tdx-guest/proto/tdx"
)

// go-tdx-guest stops at the first non-UpToDate TCB status it meets. These
// prefixes identify those stops; everything verified before them held.
const (
	tdTCBStatusPrefix = "TDX TCB info reported by Intel PCS failed TCB status check"
	qeTCBStatusPrefix = "QE Identity reported by Intel PCS failed TCB status check"
)

func isTCBStatusError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, tdTCBStatusPrefix) || strings.HasPrefix(msg, qeTCBStatusPrefix)
}

// tcbEvaluation is the status of every TCB component of a quote.
type tcbEvaluation struct {
	Platform   pcs.TcbComponentStatus
	Module     pcs.TcbComponentStatus // empty when the quote predates TDX module identities
	QE         pcs.TcbComponentStatus
	Advisories []string
}

// Result folds the component statuses into one result code. Revoked wins
// over everything; out-of-date, configuration and hardening flags combine
// the way the Intel QVL reports them.
func (e tcbEvaluation) Result() QVResult {
	var outOfDate, config, hardening bool
	for _, s := range []pcs.TcbComponentStatus{e.Platform, e.Module, e.QE} {
		switch s {
		case "", pcs.TcbComponentStatusUpToDate:
		case pcs.TcbComponentStatusRevoked:
			return QVResultRevoked
		case pcs.TcbComponentStatusOutOfDate:
			outOfDate = true
		case pcs.TcbComponentStatusOutOfDateConfigurationNeeded:
			outOfDate, config = true, true
		case pcs.TcbComponentStatusConfigurationNeeded:
			config = true
		case pcs.TcbComponentStatusSwHardeningNeeded:
			hardening = true
		case pcs.TcbComponentStatusConfigurationAndSWHardeningNeeded:
			config, hardening = true, true
		default:
			return QVResultUnspecified
		}
	}
	switch {
	case outOfDate && config:
		return QVResultOutOfDateConfigNeeded
	case outOfDate:
		return QVResultOutOfDate
	case config && hardening:
		return QVResultConfigAndSWHardeningNeeded
	case config:
		return QVResultConfigNeeded
	case hardening:
		return QVResultSWHardeningNeeded
	default:
		return QVResultOK
	}
}

// evaluateTCB finishes a verification that go-tdx-guest cut short on a TCB
// status. It rechecks the TD quote body against the TCB info, runs the QE
// report identity comparison and collects the status of the platform, the
// TDX module and the QE.
func evaluateTCB(q *pb.QuoteV4, coll *Collateral, exts *pcs.PckExtensions) (tcbEvaluation, error) {
	if coll == nil {
		return tcbEvaluation{}, errors.New("no collateral")
	}
	var info pcs.TdxTcbInfo
	if err := decodeDocument(coll, pcs.TcbInfoURL(exts.FMSPC), &info); err != nil {
		return tcbEvaluation{}, fmt.Errorf("TCB info: %w", err)
	}
	var qe pcs.QeIdentity
	if err := decodeDocument(coll, pcs.QeIdentityURL(), &qe); err != nil {
		return tcbEvaluation{}, fmt.Errorf("QE identity: %w", err)
	}

	eval, err := tdTCBStatus(info.TcbInfo, q.GetTdQuoteBody(), exts)
	if err != nil {
		return tcbEvaluation{}, err
	}
	report := q.GetSignedData().GetCertificationData().GetQeReportCertificationData().GetQeReport()
	if err := checkQEIdentity(&qe.EnclaveIdentity, report); err != nil {
		return tcbEvaluation{}, err
	}
	level, ok := matchQELevel(qe.EnclaveIdentity.TcbLevels, report.GetIsvSvn())
	if !ok {
		eval.QE = pcs.TcbComponentStatusOutOfDate
	} else {
		eval.QE = level.TcbStatus
		eval.Advisories = append(eval.Advisories, level.AdvisoryIDs...)
	}
	return eval, nil
}

func decodeDocument(coll *Collateral, url string, out any) error {
	doc, ok := coll.Documents[url]
	if !ok {
		return fmt.Errorf("missing %s", url)
	}
	return json.Unmarshal(doc.Body, out)
}

// tdTCBStatus evaluates the platform TCB level and the TDX module level
// independently, so a non-UpToDate module cannot hide the platform status.
func tdTCBStatus(info pcs.TcbInfo, body *pb.TDQuoteBody, exts *pcs.PckExtensions) (tcbEvaluation, error) {
	if exts.FMSPC != info.Fmspc || exts.PCEID != info.PceID {
		return tcbEvaluation{}, fmt.Errorf("TCB info is for FMSPC %s PCEID %s, PCK is %s/%s", info.Fmspc, info.PceID, exts.FMSPC, exts.PCEID)
	}
	if !bytes.Equal(info.TdxModule.Mrsigner.Bytes, body.GetMrSignerSeam()) {
		return tcbEvaluation{}, errors.New("MRSIGNERSEAM does not match TCB info")
	}
	seamAttrs := body.GetSeamAttributes()
	mask := info.TdxModule.AttributesMask.Bytes
	if len(mask) != len(seamAttrs) || !bytes.Equal(info.TdxModule.Attributes.Bytes, andBytes(mask, seamAttrs)) {
		return tcbEvaluation{}, errors.New("SEAM attributes do not match TCB info")
	}

	svn := body.GetTeeTcbSvn()
	if len(svn) < 2 {
		return tcbEvaluation{}, fmt.Errorf("TEE TCB SVN is %d bytes", len(svn))
	}
	platform, ok := matchPlatformLevel(info.TcbLevels, svn, exts.TCB.PCESvn, exts.TCB.CPUSvnComponents)
	if !ok {
		return tcbEvaluation{}, errors.New("no matching TCB level")
	}
	eval := tcbEvaluation{Platform: platform.TcbStatus}
	eval.Advisories = append(eval.Advisories, platform.AdvisoryIDs...)

	if svn[1] > 0 {
		module, ok := matchModuleLevel(info.TdxModuleIdentities, svn)
		if !ok {
			return tcbEvaluation{}, fmt.Errorf("no TDX module identity for TEE TCB SVN %x", svn[:2])
		}
		eval.Module = module.TcbStatus
		eval.Advisories = append(eval.Advisories, module.AdvisoryIDs...)
	}
	return eval, nil
}

// matchPlatformLevel returns the first TCB level the PCK CPUSVN, PCESVN and
// TEE TCB SVN all reach. Levels are ordered newest first.
func matchPlatformLevel(levels []pcs.TcbLevel, teeTcbSvn []byte, pceSvn uint16, cpuSvn []byte) (pcs.TcbLevel, bool) {
	for _, l := range levels {
		if svnAtLeast(cpuSvn, l.Tcb.SgxTcbcomponents, 0) &&
			pceSvn >= l.Tcb.Pcesvn &&
			svnAtLeast(teeTcbSvn, l.Tcb.TdxTcbcomponents, tdxSvnStart(teeTcbSvn)) {
			return l, true
		}
	}
	return pcs.TcbLevel{}, false
}

// tdxSvnStart skips the module SVN bytes when a module identity covers them.
func tdxSvnStart(teeTcbSvn []byte) int {
	if len(teeTcbSvn) > 1 && teeTcbSvn[1] > 0 {
		return 2
	}
	return 0
}

func svnAtLeast(have []byte, want []pcs.TcbComponent, from int) bool {
	if len(have) != len(want) {
		return false
	}
	for i := from; i < len(have); i++ {
		if have[i] < want[i].Svn {
			return false
		}
	}
	return true
}

func matchModuleLevel(ids []pcs.TdxModuleIdentity, teeTcbSvn []byte) (pcs.TcbLevel, bool) {
	id := "TDX_" + hex.EncodeToString(teeTcbSvn[1:2])
	isvSvn := uint32(teeTcbSvn[0])
	for _, m := range ids {
		if m.ID != id {
			continue
		}
		for _, l := range m.TcbLevels {
			if isvSvn >= l.Tcb.Isvsvn {
				return l, true
			}
		}
		return pcs.TcbLevel{}, false
	}
	return pcs.TcbLevel{}, false
}

func matchQELevel(levels []pcs.TcbLevel, isvSvn uint32) (pcs.TcbLevel, bool) {
	for _, l := range levels {
		if l.Tcb.Isvsvn <= isvSvn {
			return l, true
		}
	}
	return pcs.TcbLevel{}, false
}

// checkQEIdentity compares the QE report with the identity Intel publishes
// for the TD quoting enclave.
func checkQEIdentity(id *pcs.EnclaveIdentity, report *pb.EnclaveReport) error {
	if report == nil {
		return errors.New("quote carries no QE report")
	}
	if len(id.Miscselect.Bytes) != 4 || len(id.MiscselectMask.Bytes) != 4 {
		return errors.New("QE identity MISCSELECT is not 4 bytes")
	}
	want := binary.LittleEndian.Uint32(id.Miscselect.Bytes)
	mask := binary.LittleEndian.Uint32(id.MiscselectMask.Bytes)
	if report.GetMiscSelect()&mask != want {
		return fmt.Errorf("QE MISCSELECT %#x does not match identity %#x", report.GetMiscSelect()&mask, want)
	}
	attrs := report.GetAttributes()
	if len(id.AttributesMask.Bytes) != len(attrs) || !bytes.Equal(id.Attributes.Bytes, andBytes(id.AttributesMask.Bytes, attrs)) {
		return errors.New("QE attributes do not match identity")
	}
	if !bytes.Equal(id.Mrsigner.Bytes, report.GetMrSigner()) {
		return errors.New("QE MRSIGNER does not match identity")
	}
	if report.GetIsvProdId() != uint32(id.IsvProdID) {
		return fmt.Errorf("QE ISVPRODID %d does not match identity %d", report.GetIsvProdId(), id.IsvProdID)
	}
	return nil
}

func andBytes(mask, b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = mask[i] & b[i]
	}
	return out
}
