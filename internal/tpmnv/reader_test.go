package tpmnv

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/google/go-tpm/tpm2/transport/simulator"

	"github.com/aspect-build/attestkit/internal/failure"
)

func openSimulator(t *testing.T) transport.TPM {
	t.Helper()
	tpm, err := simulator.OpenSimulator()
	if err != nil {
		t.Fatalf("could not connect to TPM simulator: %v", err)
	}
	t.Cleanup(func() {
		if err := tpm.Close(); err != nil {
			t.Errorf("close simulator: %v", err)
		}
	})
	return tpm
}

// defineIndex creates an owner-readable NV index and fills it with data.
func defineIndex(t *testing.T, tpm transport.TPM, index tpm2.TPMHandle, data []byte) {
	t.Helper()
	def := tpm2.NVDefineSpace{
		AuthHandle: tpm2.TPMRHOwner,
		Auth:       tpm2.TPM2BAuth{Buffer: []byte{}},
		PublicInfo: tpm2.New2B(tpm2.TPMSNVPublic{
			NVIndex: index,
			NameAlg: tpm2.TPMAlgSHA256,
			Attributes: tpm2.TPMANV{
				OwnerWrite: true,
				OwnerRead:  true,
				NT:         tpm2.TPMNTOrdinary,
				NoDA:       true,
			},
			DataSize: uint16(len(data)),
		}),
	}
	if _, err := def.Execute(tpm); err != nil {
		t.Fatalf("NV_DefineSpace 0x%08x: %v", uint32(index), err)
	}
	pub, err := def.PublicInfo.Contents()
	if err != nil {
		t.Fatalf("public info: %v", err)
	}
	name, err := tpm2.NVName(pub)
	if err != nil {
		t.Fatalf("NV name: %v", err)
	}

	for off := 0; off < len(data); off += 512 {
		end := min(off+512, len(data))
		_, err := tpm2.NVWrite{
			AuthHandle: tpm2.AuthHandle{
				Handle: tpm2.TPMRHOwner,
				Name:   tpm2.HandleName(tpm2.TPMRHOwner),
				Auth:   tpm2.PasswordAuth(nil),
			},
			NVIndex: tpm2.NamedHandle{Handle: index, Name: *name},
			Data:    tpm2.TPM2BMaxNVBuffer{Buffer: data[off:end]},
			Offset:  uint16(off),
		}.Execute(tpm)
		if err != nil {
			t.Fatalf("NV_Write 0x%08x at %d: %v", uint32(index), off, err)
		}
	}
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

func TestReadIndex_Chunked(t *testing.T) {
	tpm := openSimulator(t)
	want := pattern(1500, 7)
	defineIndex(t, tpm, EKCertIndex, want)

	r := &Reader{TPM: tpm}
	got, err := r.EKCertificate(context.Background())
	if err != nil {
		t.Fatalf("EKCertificate: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("read %d bytes, contents differ from the %d written", len(got), len(want))
	}
}

func TestReadIndex_Missing(t *testing.T) {
	r := &Reader{TPM: openSimulator(t)}
	_, err := r.ReadIndex(context.Background(), 0x0180000F)
	if !errors.Is(err, failure.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
}

func TestReadIndex_Cancelled(t *testing.T) {
	tpm := openSimulator(t)
	defineIndex(t, tpm, EKCertIndex, pattern(64, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &Reader{TPM: tpm}
	if _, err := r.ReadIndex(ctx, EKCertIndex); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCACertificate_Concatenates(t *testing.T) {
	tpm := openSimulator(t)
	parts := [][]byte{pattern(700, 1), pattern(700, 2), pattern(100, 3)}
	for i, p := range parts {
		defineIndex(t, tpm, CACertBaseIndex+tpm2.TPMHandle(i), p)
	}
	// A gap ends the sequence.
	defineIndex(t, tpm, CACertBaseIndex+4, pattern(10, 9))

	r := &Reader{TPM: tpm}
	got, err := r.CACertificate(context.Background())
	if err != nil {
		t.Fatalf("CACertificate: %v", err)
	}
	if want := bytes.Join(parts, nil); !bytes.Equal(got, want) {
		t.Fatalf("got %d bytes, want %d", len(got), len(want))
	}
}

func TestCACertificate_None(t *testing.T) {
	r := &Reader{TPM: openSimulator(t)}
	_, err := r.CACertificate(context.Background())
	if !errors.Is(err, failure.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
}

func TestChunkSizeCapped(t *testing.T) {
	r := &Reader{TPM: openSimulator(t)}
	n, err := r.chunkSize()
	if err != nil {
		t.Fatalf("chunkSize: %v", err)
	}
	if n <= 0 || n > maxChunk {
		t.Fatalf("chunk size %d outside (0, %d]", n, maxChunk)
	}
}
