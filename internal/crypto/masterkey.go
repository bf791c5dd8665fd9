package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/aspect-build/attestkit/internal/failure"
)

// MasterKeyLen is the size of the broker's at-rest key.
const MasterKeyLen = 32

const minSealedLen = gcmStandardNonceLen + gcmStandardTagLen

// SealAtRest encrypts plaintext with AES-256-GCM under masterKey. aad is
// authenticated but not stored; the broker passes the key ID so a row cannot
// be replayed under another ID. Output: iv(12) || ciphertext || tag(16).
func SealAtRest(masterKey [MasterKeyLen]byte, plaintext, aad []byte) ([]byte, error) {
	aead, err := atRestAEAD(masterKey)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, gcmStandardNonceLen, gcmStandardNonceLen+len(plaintext)+gcmStandardTagLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("%w: generate IV: %w", failure.ErrIO, err)
	}
	return aead.Seal(iv, iv, plaintext, aad), nil
}

// OpenAtRest reverses SealAtRest. The caller should clear the result.
func OpenAtRest(masterKey [MasterKeyLen]byte, sealed, aad []byte) ([]byte, error) {
	if len(sealed) < minSealedLen {
		return nil, fmt.Errorf("%w: sealed record is %d bytes, need at least %d", failure.ErrFormat, len(sealed), minSealedLen)
	}
	aead, err := atRestAEAD(masterKey)
	if err != nil {
		return nil, err
	}
	iv, ct := sealed[:gcmStandardNonceLen], sealed[gcmStandardNonceLen:]
	plaintext, err := aead.Open(nil, iv, ct, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: open sealed record: %w", failure.ErrCrypto, err)
	}
	return plaintext, nil
}

func atRestAEAD(masterKey [MasterKeyLen]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(masterKey[:])
	if err != nil {
		return nil, fmt.Errorf("%w: master key: %w", failure.ErrCrypto, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: master key GCM: %w", failure.ErrCrypto, err)
	}
	return aead, nil
}
