package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/aspect-build/attestkit/internal/failure"
	"github.com/aspect-build/attestkit/internal/secret"
)

// DecapsulateSWK recovers a session wrapping key sealed with RSA-OAEP(SHA-256).
// The caller owns the returned slice and must wipe it.
func DecapsulateSWK(priv *rsa.PrivateKey, sealed []byte) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: decapsulate session key: no private key", failure.ErrCrypto)
	}
	swk, err := rsa.DecryptOAEP(sha256.New(), nil, priv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decapsulate session key: %w", failure.ErrCrypto, err)
	}
	return swk, nil
}

func checkGCMParams(ivLen, tagLen int) error {
	switch {
	case ivLen == 0:
		return errors.New("empty iv")
	case tagLen < gcmMinTagLen || tagLen > gcmStandardTagLen:
		return fmt.Errorf("tag length %d outside [%d,%d]", tagLen, gcmMinTagLen, gcmStandardTagLen)
	case ivLen != gcmStandardNonceLen && tagLen != gcmStandardTagLen:
		return fmt.Errorf("iv length %d requires a %d-byte tag, have %d", ivLen, gcmStandardTagLen, tagLen)
	}
	return nil
}

func newGCM(key []byte, ivLen, tagLen int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	if ivLen != gcmStandardNonceLen {
		return cipher.NewGCMWithNonceSize(block, ivLen)
	}
	return cipher.NewGCMWithTagSize(block, tagLen)
}

// UnwrapSecret opens a wrapped-key container with the session key sealed in
// wrappedSWK. The container is parsed before any key is touched. Plaintext is
// only returned after the GCM tag authenticates; on every failure path the
// session key and any partially written output are wiped.
func UnwrapSecret(wrappedKey, wrappedSWK []byte, priv *rsa.PrivateKey) (*secret.Secret, error) {
	w, err := ParseWrappedKey(wrappedKey)
	if err != nil {
		return nil, err
	}
	if err := checkGCMParams(len(w.IV), len(w.Tag)); err != nil {
		return nil, fmt.Errorf("%w: wrapped key: %w", failure.ErrFormat, err)
	}

	swk, err := DecapsulateSWK(priv, wrappedSWK)
	if err != nil {
		return nil, err
	}
	defer clear(swk)

	aead, err := newGCM(swk, len(w.IV), len(w.Tag))
	if err != nil {
		return nil, fmt.Errorf("%w: session key: %w", failure.ErrCrypto, err)
	}

	out := secret.New(len(w.Ciphertext))
	if _, err := aead.Open(out.Bytes()[:0], w.IV, w.sealed(), nil); err != nil {
		out.Destroy()
		return nil, fmt.Errorf("%w: wrapped key authentication failed", failure.ErrCrypto)
	}
	return out, nil
}
