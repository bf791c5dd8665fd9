package client

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/aspect-build/attestkit/internal/attestation"
	"github.com/aspect-build/attestkit/internal/crypto"
	"github.com/aspect-build/attestkit/internal/failure"
	"github.com/aspect-build/attestkit/internal/logx"
	"github.com/aspect-build/attestkit/internal/secret"
)

const (
	// DiskKeyLen is the size of a LUKS key released by the broker.
	DiskKeyLen     = 32
	DefaultKeyBits = 3072
)

// ErrKeyLength reports a released secret of the wrong size.
var ErrKeyLength = errors.New("unexpected secret length")

// SecretRequester is the broker side of a key release.
type SecretRequester interface {
	RequestSecret(ctx context.Context, keyID uuid.UUID, ev attestation.Evidence) (*WrappedSecret, error)
}

// Provisioner runs one attested key release.
type Provisioner struct {
	Quotes attestation.QuoteSource
	Broker SecretRequester
	// EventLog is optional; a failure is logged and the request proceeds
	// without it.
	EventLog func() ([]byte, error)
	// KeyBits defaults to DefaultKeyBits.
	KeyBits int
	// SecretLen defaults to DiskKeyLen.
	SecretLen int
}

// Provision generates an ephemeral RSA key, binds it into a quote, and
// unwraps the secret the broker releases to it. The caller owns the
// returned secret and must Destroy it.
func (p *Provisioner) Provision(ctx context.Context, keyID uuid.UUID) (*secret.Secret, error) {
	bits := p.KeyBits
	if bits == 0 {
		bits = DefaultKeyBits
	}
	want := p.SecretLen
	if want == 0 {
		want = DiskKeyLen
	}

	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("%w: generate RSA-%d key: %w", failure.ErrCrypto, bits, err)
	}
	defer wipeRSAKey(priv)

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal public key: %w", failure.ErrFormat, err)
	}
	reportData := sha512.Sum512(pubDER)

	quote, err := p.Quotes.Quote(ctx, reportData)
	if err != nil {
		return nil, err
	}
	logx.Debugf("provision.quote len=%d", len(quote))

	ev := attestation.Evidence{Quote: quote, UserData: pubDER}
	if p.EventLog != nil {
		eventLog, err := p.EventLog()
		if err != nil {
			logx.Warnf("event log unavailable, continuing without it: %v", err)
		} else {
			ev.EventLog = eventLog
		}
	}

	ws, err := p.Broker.RequestSecret(ctx, keyID, ev)
	if err != nil {
		return nil, err
	}

	s, err := crypto.UnwrapSecret(ws.WrappedKey, ws.WrappedSWK, priv)
	clear(ws.WrappedSWK)
	if err != nil {
		return nil, err
	}
	if s.Len() != want {
		n := s.Len()
		s.Destroy()
		return nil, fmt.Errorf("%w: %w: got %d bytes, want %d", failure.ErrFormat, ErrKeyLength, n, want)
	}
	logx.Infof("released key %s (%d bytes)", keyID, want)
	return s, nil
}

// wipeRSAKey clears the private exponent and primes. Best effort.
func wipeRSAKey(k *rsa.PrivateKey) {
	if k.D != nil {
		k.D.SetInt64(0)
	}
	for _, p := range k.Primes {
		p.SetInt64(0)
	}
	if k.Precomputed.Dp != nil {
		k.Precomputed.Dp.SetInt64(0)
	}
	if k.Precomputed.Dq != nil {
		k.Precomputed.Dq.SetInt64(0)
	}
	if k.Precomputed.Qinv != nil {
		k.Precomputed.Qinv.SetInt64(0)
	}
}
