package attestation

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	dstacksdk "github.com/Dstack-TEE/dstack/sdk/go/dstack"

	"github.com/aspect-build/attestkit/internal/failure"
)

// DstackQuoteSource obtains quotes from the dstack guest agent, for
// workloads running inside a dstack CVM.
type DstackQuoteSource struct {
	client *dstacksdk.DstackClient
}

func NewDstackQuoteSource(endpoint string) *DstackQuoteSource {
	opts := []dstacksdk.DstackClientOption{}
	if endpoint != "" {
		opts = append(opts, dstacksdk.WithEndpoint(endpoint))
	}
	return &DstackQuoteSource{client: dstacksdk.NewDstackClient(opts...)}
}

func (s *DstackQuoteSource) Quote(ctx context.Context, reportData [ReportDataLen]byte) ([]byte, error) {
	resp, err := s.client.GetQuote(ctx, reportData[:])
	if err != nil {
		return nil, fmt.Errorf("%w: dstack get quote: %w", failure.ErrIO, err)
	}
	quote, err := decodeAgentBytes(resp.Quote)
	if err != nil {
		return nil, fmt.Errorf("%w: dstack quote: %w", failure.ErrFormat, err)
	}
	return quote, nil
}

// decodeAgentBytes accepts the quote either as raw bytes or as the hex
// string older guest agents return.
func decodeAgentBytes(v any) ([]byte, error) {
	switch q := v.(type) {
	case []byte:
		return q, nil
	case string:
		return hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(q), "0x"))
	default:
		return nil, fmt.Errorf("unexpected quote encoding %T", v)
	}
}
