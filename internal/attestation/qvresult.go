package attestation

import "fmt"

// QVResult mirrors the quote verification result codes of the Intel DCAP
// quote verification library.
type QVResult uint32

const (
	QVResultOK                         QVResult = 0x0000
	QVResultConfigNeeded               QVResult = 0xA001
	QVResultOutOfDate                  QVResult = 0xA002
	QVResultOutOfDateConfigNeeded      QVResult = 0xA003
	QVResultInvalidSignature           QVResult = 0xA004
	QVResultRevoked                    QVResult = 0xA005
	QVResultUnspecified                QVResult = 0xA006
	QVResultSWHardeningNeeded          QVResult = 0xA007
	QVResultConfigAndSWHardeningNeeded QVResult = 0xA008
)

func (r QVResult) String() string {
	switch r {
	case QVResultOK:
		return "OK"
	case QVResultConfigNeeded:
		return "CONFIG_NEEDED"
	case QVResultOutOfDate:
		return "OUT_OF_DATE"
	case QVResultOutOfDateConfigNeeded:
		return "OUT_OF_DATE_CONFIG_NEEDED"
	case QVResultInvalidSignature:
		return "INVALID_SIGNATURE"
	case QVResultRevoked:
		return "REVOKED"
	case QVResultUnspecified:
		return "UNSPECIFIED"
	case QVResultSWHardeningNeeded:
		return "SW_HARDENING_NEEDED"
	case QVResultConfigAndSWHardeningNeeded:
		return "CONFIG_AND_SW_HARDENING_NEEDED"
	default:
		return fmt.Sprintf("QVResult(%#x)", uint32(r))
	}
}

// Classify maps a backend verdict onto an outcome bucket. Codes it does not
// know are rejected.
func Classify(v Verdict) (Status, string) {
	switch v.Result {
	case QVResultOK:
		if v.CollateralExpired {
			return StatusVerifiedWithWarning, "collateral expired"
		}
		return StatusVerified, ""
	case QVResultConfigNeeded,
		QVResultOutOfDate,
		QVResultOutOfDateConfigNeeded,
		QVResultSWHardeningNeeded,
		QVResultConfigAndSWHardeningNeeded:
		return StatusVerifiedWithWarning, "platform TCB " + v.Result.String()
	case QVResultInvalidSignature, QVResultRevoked, QVResultUnspecified:
		return StatusRejected, v.Result.String()
	default:
		return StatusRejected, "unrecognized result " + v.Result.String()
	}
}
