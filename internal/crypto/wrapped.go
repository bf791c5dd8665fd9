package crypto

import (
	"encoding/binary"
	"fmt"

	"github.com/aspect-build/attestkit/internal/failure"
	"golang.org/x/crypto/cryptobyte"
)

// Wrapped key container layout. The three length fields are little-endian.
//
//	[iv_len u32][tag_len u32][data_len u32][iv][ciphertext][tag]
//
// data_len covers ciphertext and tag together.
const (
	wrappedHeaderLen = 12

	gcmStandardNonceLen = 12
	gcmStandardTagLen   = 16
	gcmMinTagLen        = 12
)

// WrappedKey is a parsed wrapped-key container. The slices alias the input
// buffer passed to ParseWrappedKey.
type WrappedKey struct {
	IV         []byte
	Ciphertext []byte
	Tag        []byte
}

func readUint32LE(s *cryptobyte.String, out *uint32) bool {
	var b []byte
	if !s.ReadBytes(&b, 4) {
		return false
	}
	*out = binary.LittleEndian.Uint32(b)
	return true
}

// ParseWrappedKey decodes a container. It does not touch any key material.
func ParseWrappedKey(data []byte) (*WrappedKey, error) {
	s := cryptobyte.String(data)

	var ivLen, tagLen, dataLen uint32
	if !readUint32LE(&s, &ivLen) || !readUint32LE(&s, &tagLen) || !readUint32LE(&s, &dataLen) {
		return nil, fmt.Errorf("%w: wrapped key: header needs %d bytes, have %d", failure.ErrFormat, wrappedHeaderLen, len(data))
	}
	if tagLen > dataLen {
		return nil, fmt.Errorf("%w: wrapped key: tag length %d exceeds data length %d", failure.ErrFormat, tagLen, dataLen)
	}

	body := uint64(ivLen) + uint64(dataLen)
	if have := uint64(len(s)); have != body {
		return nil, fmt.Errorf("%w: wrapped key: header declares %d body bytes, have %d", failure.ErrFormat, body, have)
	}

	ctLen := int(dataLen - tagLen)
	w := &WrappedKey{}
	if !s.ReadBytes(&w.IV, int(ivLen)) ||
		!s.ReadBytes(&w.Ciphertext, ctLen) ||
		!s.ReadBytes(&w.Tag, int(tagLen)) {
		return nil, fmt.Errorf("%w: wrapped key: truncated body", failure.ErrFormat)
	}
	return w, nil
}

// Marshal encodes the container.
func (w *WrappedKey) Marshal() ([]byte, error) {
	b := cryptobyte.NewFixedBuilder(make([]byte, 0, wrappedHeaderLen+len(w.IV)+len(w.Ciphertext)+len(w.Tag)))
	b.AddBytes(binary.LittleEndian.AppendUint32(nil, uint32(len(w.IV))))
	b.AddBytes(binary.LittleEndian.AppendUint32(nil, uint32(len(w.Tag))))
	b.AddBytes(binary.LittleEndian.AppendUint32(nil, uint32(len(w.Ciphertext)+len(w.Tag))))
	b.AddBytes(w.IV)
	b.AddBytes(w.Ciphertext)
	b.AddBytes(w.Tag)
	return b.Bytes()
}

// sealed returns ciphertext||tag as expected by cipher.AEAD.Open.
func (w *WrappedKey) sealed() []byte {
	out := make([]byte, 0, len(w.Ciphertext)+len(w.Tag))
	out = append(out, w.Ciphertext...)
	return append(out, w.Tag...)
}
