package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/aspect-build/attestkit/internal/failure"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
	testKeyErr  error
)

func rsaKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		testKey, testKeyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	if testKeyErr != nil {
		t.Fatalf("GenerateKey: %v", testKeyErr)
	}
	return testKey
}

func fixedBytes(n int, v byte) []byte {
	return bytes.Repeat([]byte{v}, n)
}

// buildContainer seals plaintext with a known SWK and IV and seals the SWK
// to the test key.
func buildContainer(t *testing.T, swk, iv, plaintext []byte) (wrappedKey, wrappedSWK []byte) {
	t.Helper()
	w, err := SealWrappedKey(swk, iv, plaintext)
	if err != nil {
		t.Fatalf("SealWrappedKey: %v", err)
	}
	wrappedKey, err = w.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	wrappedSWK, err = rsa.EncryptOAEP(sha256.New(), rand.Reader, &rsaKey(t).PublicKey, swk, nil)
	if err != nil {
		t.Fatalf("EncryptOAEP: %v", err)
	}
	return wrappedKey, wrappedSWK
}

func TestUnwrapSecret_RoundTrip(t *testing.T) {
	plaintext := []byte("0123456789abcdef0123456789abcdef")
	wk, swk := buildContainer(t, fixedBytes(32, 0x42), fixedBytes(12, 0x07), plaintext)

	got, err := UnwrapSecret(wk, swk, rsaKey(t))
	if err != nil {
		t.Fatalf("UnwrapSecret: %v", err)
	}
	defer got.Destroy()

	if !got.Equal(plaintext) {
		t.Fatalf("unwrapped secret mismatch")
	}
}

func TestUnwrapSecret_ZeroSecret(t *testing.T) {
	zero := make([]byte, 32)
	wk, swk := buildContainer(t, fixedBytes(32, 0x11), fixedBytes(12, 0x22), zero)

	got, err := UnwrapSecret(wk, swk, rsaKey(t))
	if err != nil {
		t.Fatalf("UnwrapSecret: %v", err)
	}
	defer got.Destroy()
	if got.Len() != 32 || !got.Equal(zero) {
		t.Fatalf("expected 32 zero bytes, got %d bytes", got.Len())
	}
}

func TestUnwrapSecret_BitFlipRejected(t *testing.T) {
	plaintext := []byte("0123456789abcdef0123456789abcdef")
	wk, swk := buildContainer(t, fixedBytes(32, 0x42), fixedBytes(12, 0x07), plaintext)

	// Body starts after the header and IV; ciphertext and tag follow.
	start := wrappedHeaderLen + 12
	for i := start; i < len(wk); i++ {
		for bit := 0; bit < 8; bit++ {
			tampered := bytes.Clone(wk)
			tampered[i] ^= 1 << bit

			got, err := UnwrapSecret(tampered, swk, rsaKey(t))
			if err == nil {
				got.Destroy()
				t.Fatalf("byte %d bit %d: expected error", i, bit)
			}
			if !errors.Is(err, failure.ErrCrypto) {
				t.Fatalf("byte %d bit %d: got %v, want crypto error", i, bit, err)
			}
			if got != nil {
				t.Fatalf("byte %d bit %d: secret returned alongside error", i, bit)
			}
		}
	}
}

func TestUnwrapSecret_WrongKey(t *testing.T) {
	wk, swk := buildContainer(t, fixedBytes(32, 1), fixedBytes(12, 2), []byte("secret"))
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := UnwrapSecret(wk, swk, other); !errors.Is(err, failure.ErrCrypto) {
		t.Fatalf("got %v, want crypto error", err)
	}
}

func TestUnwrapSecret_FormatCheckedBeforeCrypto(t *testing.T) {
	wk, swk := buildContainer(t, fixedBytes(32, 1), fixedBytes(12, 2), []byte("0123456789abcdef"))

	// Declare one more data byte than the body carries.
	bad := bytes.Clone(wk)
	dataLen := binary.LittleEndian.Uint32(bad[8:12])
	binary.LittleEndian.PutUint32(bad[8:12], dataLen+1)

	// A nil key would make decapsulation fail with a crypto error, so a
	// format error proves the header was rejected first.
	_, err := UnwrapSecret(bad, swk, nil)
	if !errors.Is(err, failure.ErrFormat) {
		t.Fatalf("got %v, want format error", err)
	}
}

func TestUnwrapSecret_NonStandardIV(t *testing.T) {
	plaintext := []byte("payload with a 16 byte iv")
	wk, swk := buildContainer(t, fixedBytes(32, 9), fixedBytes(16, 3), plaintext)

	got, err := UnwrapSecret(wk, swk, rsaKey(t))
	if err != nil {
		t.Fatalf("UnwrapSecret: %v", err)
	}
	defer got.Destroy()
	if !got.Equal(plaintext) {
		t.Fatal("payload mismatch")
	}
}

func TestUnwrapSecret_ShortSessionKey(t *testing.T) {
	w, err := SealWrappedKey(fixedBytes(32, 1), fixedBytes(12, 2), []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	wk, _ := w.Marshal()
	swk, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &rsaKey(t).PublicKey, fixedBytes(7, 1), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := UnwrapSecret(wk, swk, rsaKey(t)); !errors.Is(err, failure.ErrCrypto) {
		t.Fatalf("got %v, want crypto error", err)
	}
}

func TestParseWrappedKey_Malformed(t *testing.T) {
	header := func(iv, tag, data uint32) []byte {
		b := make([]byte, 12)
		binary.LittleEndian.PutUint32(b[0:], iv)
		binary.LittleEndian.PutUint32(b[4:], tag)
		binary.LittleEndian.PutUint32(b[8:], data)
		return b
	}
	cases := map[string][]byte{
		"empty":            nil,
		"short header":     make([]byte, 11),
		"tag exceeds data": append(header(12, 16, 8), make([]byte, 20)...),
		"truncated body":   append(header(12, 16, 32), make([]byte, 30)...),
		"trailing bytes":   append(header(12, 16, 32), make([]byte, 45)...),
		"huge lengths":     append(header(0xffffffff, 16, 0xffffffff), make([]byte, 4)...),
	}
	for name, in := range cases {
		if _, err := ParseWrappedKey(in); !errors.Is(err, failure.ErrFormat) {
			t.Errorf("%s: got %v, want format error", name, err)
		}
	}
}

func TestWrappedKey_MarshalLayout(t *testing.T) {
	w := &WrappedKey{IV: fixedBytes(12, 1), Ciphertext: fixedBytes(5, 2), Tag: fixedBytes(16, 3)}
	b, err := w.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{12, 0, 0, 0, 16, 0, 0, 0, 21, 0, 0, 0}
	if !bytes.Equal(b[:12], want) {
		t.Fatalf("header = %v, want little-endian %v", b[:12], want)
	}

	back, err := ParseWrappedKey(b)
	if err != nil {
		t.Fatalf("ParseWrappedKey: %v", err)
	}
	if !bytes.Equal(back.IV, w.IV) || !bytes.Equal(back.Ciphertext, w.Ciphertext) || !bytes.Equal(back.Tag, w.Tag) {
		t.Fatalf("parsed container differs: %+v", back)
	}
}

func TestWrapSecret_RoundTrip(t *testing.T) {
	key := rsaKey(t)
	plaintext := fixedBytes(32, 0xaa)

	wk, swk, err := WrapSecret(&key.PublicKey, plaintext)
	if err != nil {
		t.Fatalf("WrapSecret: %v", err)
	}
	got, err := UnwrapSecret(wk, swk, key)
	if err != nil {
		t.Fatalf("UnwrapSecret: %v", err)
	}
	defer got.Destroy()
	if !got.Equal(plaintext) {
		t.Fatal("payload mismatch")
	}
}
