// Package tpmnv reads certificates that platform firmware stores in TPM NV
// indices.
package tpmnv

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/google/go-tpm/tpm2/transport/linuxtpm"

	"github.com/aspect-build/attestkit/internal/failure"
	"github.com/aspect-build/attestkit/internal/logx"
)

const (
	DefaultDevice = "/dev/tpmrm0"

	// EKCertIndex holds the endorsement key certificate.
	EKCertIndex tpm2.TPMHandle = 0x01C00016
	// CACertBaseIndex is the first of the consecutive indices holding the
	// DER-encoded CA certificate, split across indices by size.
	CACertBaseIndex tpm2.TPMHandle = 0x01C00100

	maxChunk     = 1024
	maxNVHandles = 256
	maxCAIndices = 64
)

// Reader issues NV commands over a TPM transport.
type Reader struct {
	TPM transport.TPM
}

// Open connects to the TPM character device at path.
func Open(path string) (*Reader, func() error, error) {
	if path == "" {
		path = DefaultDevice
	}
	tpm, err := linuxtpm.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open TPM %s: %w", failure.ErrIO, path, err)
	}
	return &Reader{TPM: tpm}, tpm.Close, nil
}

// ReadIndex returns the full contents of an NV index, read in chunks under
// owner authorization with an empty password.
func (r *Reader) ReadIndex(ctx context.Context, index tpm2.TPMHandle) ([]byte, error) {
	pubRsp, err := tpm2.NVReadPublic{NVIndex: index}.Execute(r.TPM)
	if err != nil {
		return nil, fmt.Errorf("%w: NV_ReadPublic 0x%08x: %w", failure.ErrIO, uint32(index), err)
	}
	pub, err := pubRsp.NVPublic.Contents()
	if err != nil {
		return nil, fmt.Errorf("%w: NV public area 0x%08x: %w", failure.ErrFormat, uint32(index), err)
	}

	chunk, err := r.chunkSize()
	if err != nil {
		return nil, err
	}

	size := int(pub.DataSize)
	out := make([]byte, 0, size)
	for len(out) < size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := min(chunk, size-len(out))
		rsp, err := tpm2.NVRead{
			AuthHandle: tpm2.AuthHandle{
				Handle: tpm2.TPMRHOwner,
				Name:   tpm2.HandleName(tpm2.TPMRHOwner),
				Auth:   tpm2.PasswordAuth(nil),
			},
			NVIndex: tpm2.NamedHandle{
				Handle: index,
				Name:   pubRsp.NVName,
			},
			Size:   uint16(n),
			Offset: uint16(len(out)),
		}.Execute(r.TPM)
		if err != nil {
			return nil, fmt.Errorf("%w: NV_Read 0x%08x at %d: %w", failure.ErrIO, uint32(index), len(out), err)
		}
		if len(rsp.Data.Buffer) == 0 {
			return nil, fmt.Errorf("%w: NV_Read 0x%08x returned no data at %d", failure.ErrIO, uint32(index), len(out))
		}
		out = append(out, rsp.Data.Buffer...)
	}
	logx.Debugf("tpm.nv_read index=0x%08x size=%d chunk=%d", uint32(index), size, chunk)
	return out, nil
}

// chunkSize is TPM_PT_NV_BUFFER_MAX, capped at maxChunk.
func (r *Reader) chunkSize() (int, error) {
	rsp, err := tpm2.GetCapability{
		Capability:    tpm2.TPMCapTPMProperties,
		Property:      uint32(tpm2.TPMPTNVBufferMax),
		PropertyCount: 1,
	}.Execute(r.TPM)
	if err != nil {
		return 0, fmt.Errorf("%w: query NV buffer size: %w", failure.ErrIO, err)
	}
	props, err := rsp.CapabilityData.Data.TPMProperties()
	if err != nil {
		return 0, fmt.Errorf("%w: NV buffer size: %w", failure.ErrFormat, err)
	}
	for _, p := range props.TPMProperty {
		if p.Property == tpm2.TPMPTNVBufferMax && p.Value > 0 {
			return min(int(p.Value), maxChunk), nil
		}
	}
	return maxChunk, nil
}

// NVIndices lists the defined NV index handles.
func (r *Reader) NVIndices() ([]tpm2.TPMHandle, error) {
	rsp, err := tpm2.GetCapability{
		Capability:    tpm2.TPMCapHandles,
		Property:      uint32(tpm2.TPMHTNVIndex) << 24,
		PropertyCount: maxNVHandles,
	}.Execute(r.TPM)
	if err != nil {
		return nil, fmt.Errorf("%w: list NV indices: %w", failure.ErrIO, err)
	}
	handles, err := rsp.CapabilityData.Data.Handles()
	if err != nil {
		return nil, fmt.Errorf("%w: NV handle list: %w", failure.ErrFormat, err)
	}
	return handles.Handle, nil
}

// EKCertificate returns the DER endorsement key certificate.
func (r *Reader) EKCertificate(ctx context.Context) ([]byte, error) {
	return r.ReadIndex(ctx, EKCertIndex)
}

// CACertificate concatenates CACertBaseIndex, CACertBaseIndex+1, ... for as
// long as the indices are defined.
func (r *Reader) CACertificate(ctx context.Context) ([]byte, error) {
	defined, err := r.NVIndices()
	if err != nil {
		return nil, err
	}

	var der []byte
	parts := 0
	for i := tpm2.TPMHandle(0); i < maxCAIndices; i++ {
		idx := CACertBaseIndex + i
		if !slices.Contains(defined, idx) {
			break
		}
		part, err := r.ReadIndex(ctx, idx)
		if err != nil {
			return nil, err
		}
		der = append(der, part...)
		parts++
	}
	if parts == 0 {
		return nil, fmt.Errorf("%w: no CA certificate at NV index 0x%08x", failure.ErrIO, uint32(CACertBaseIndex))
	}
	logx.Debugf("tpm.ca_cert parts=%d size=%d", parts, len(der))
	return der, nil
}
