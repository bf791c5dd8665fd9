package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// SessionKeyLen is the size of session wrapping keys issued by WrapSecret.
const SessionKeyLen = 32

// SealWrappedKey encrypts plaintext under swk with the given IV and returns
// the container with a 16-byte tag.
func SealWrappedKey(swk, iv, plaintext []byte) (*WrappedKey, error) {
	if err := checkGCMParams(len(iv), gcmStandardTagLen); err != nil {
		return nil, err
	}
	aead, err := newGCM(swk, len(iv), gcmStandardTagLen)
	if err != nil {
		return nil, err
	}
	sealed := aead.Seal(nil, iv, plaintext, nil)
	split := len(sealed) - gcmStandardTagLen
	return &WrappedKey{
		IV:         append([]byte(nil), iv...),
		Ciphertext: sealed[:split],
		Tag:        sealed[split:],
	}, nil
}

// WrapSecret is the broker side of UnwrapSecret: it seals plaintext under a
// fresh session key and seals that key to pub with RSA-OAEP(SHA-256).
func WrapSecret(pub *rsa.PublicKey, plaintext []byte) (wrappedKey, wrappedSWK []byte, err error) {
	swk := make([]byte, SessionKeyLen)
	defer clear(swk)
	if _, err := rand.Read(swk); err != nil {
		return nil, nil, fmt.Errorf("generate session key: %w", err)
	}
	iv := make([]byte, gcmStandardNonceLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("generate IV: %w", err)
	}

	w, err := SealWrappedKey(swk, iv, plaintext)
	if err != nil {
		return nil, nil, fmt.Errorf("seal payload: %w", err)
	}
	wrappedKey, err = w.Marshal()
	if err != nil {
		return nil, nil, fmt.Errorf("encode wrapped key: %w", err)
	}
	wrappedSWK, err = rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, swk, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("seal session key: %w", err)
	}
	return wrappedKey, wrappedSWK, nil
}
