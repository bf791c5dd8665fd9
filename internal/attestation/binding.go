package attestation

import (
	"bytes"
	"crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"fmt"

	"github.com/aspect-build/attestkit/internal/failure"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// RawPublicKey returns the subjectPublicKey bits of cert's
// SubjectPublicKeyInfo: the encoded point for EC keys, the PKCS#1
// structure for RSA keys.
func RawPublicKey(cert *x509.Certificate) ([]byte, error) {
	return rawFromSPKI(cert.RawSubjectPublicKeyInfo)
}

func rawFromSPKI(spki []byte) ([]byte, error) {
	input := cryptobyte.String(spki)
	var seq, algo cryptobyte.String
	var bits asn1.BitString
	if !input.ReadASN1(&seq, cbasn1.SEQUENCE) ||
		!seq.ReadASN1(&algo, cbasn1.SEQUENCE) ||
		!seq.ReadASN1BitString(&bits) {
		return nil, fmt.Errorf("%w: malformed SubjectPublicKeyInfo", failure.ErrFormat)
	}
	if bits.BitLength%8 != 0 {
		return nil, fmt.Errorf("%w: public key bit string is not byte aligned", failure.ErrFormat)
	}
	return bits.Bytes, nil
}

// BindingDigest is the value a CA places in its quote's report data.
func BindingDigest(rawPublicKey []byte) []byte {
	sum := sha512.Sum384(rawPublicKey)
	return sum[:]
}

// Matches reports whether reportData equals the binding digest of
// rawPublicKey. Slices of a different length never match.
func Matches(reportData, rawPublicKey []byte) bool {
	digest := BindingDigest(rawPublicKey)
	if len(reportData) != len(digest) {
		return false
	}
	return bytes.Equal(reportData, digest)
}
