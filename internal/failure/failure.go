// Package failure defines the error kinds shared by the attestation and
// key-release code paths. Every error that leaves a component wraps exactly
// one of the sentinels below, so callers can branch with errors.Is and
// operators see which stage failed.
package failure

import (
	"errors"
	"strings"
)

var (
	// ErrFormat marks malformed containers, out-of-range offsets and broken
	// length invariants.
	ErrFormat = errors.New("format error")
	// ErrCrypto marks decapsulation failures and authentication tag mismatches.
	ErrCrypto = errors.New("crypto error")
	// ErrEvidence marks an evidence verifier that could not produce a verdict.
	ErrEvidence = errors.New("evidence error")
	// ErrTrust marks binding mismatches, rejected quotes and bad signatures.
	ErrTrust = errors.New("trust error")
	// ErrIO marks transport, device and subprocess failures.
	ErrIO = errors.New("io error")
)

var kinds = []error{ErrFormat, ErrCrypto, ErrEvidence, ErrTrust, ErrIO}

// Kind returns the short name of the first error kind found in err's chain,
// or "error" when err carries none.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return "error"
}

// Message renders err for the command line with its kind first. Errors that
// already lead with their kind are returned unchanged.
func Message(err error) string {
	k := Kind(err)
	msg := err.Error()
	if strings.HasPrefix(msg, k+":") {
		return msg
	}
	return k + ": " + msg
}
