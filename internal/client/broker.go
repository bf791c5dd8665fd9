package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/aspect-build/attestkit/internal/attestation"
	"github.com/aspect-build/attestkit/internal/failure"
	"github.com/aspect-build/attestkit/internal/logx"
	"github.com/aspect-build/attestkit/internal/version"
)

// maxResponseBytes bounds how much of a broker response is read.
const maxResponseBytes = 1 << 20

// TransferRequest is the JSON body of a transfer call. Binary fields are
// standard base64.
type TransferRequest struct {
	Quote       string `json:"quote"`
	SignedNonce string `json:"signed_nonce,omitempty"`
	UserData    string `json:"user_data"`
	EventLog    string `json:"event_log,omitempty"`
}

// TransferResponse is the broker's JSON answer.
type TransferResponse struct {
	WrappedKey string `json:"wrapped_key"`
	WrappedSWK string `json:"wrapped_swk"`
}

// WrappedSecret is a broker's answer to a transfer request: the wrapped-key
// container and the RSA-sealed session key that opens it.
type WrappedSecret struct {
	WrappedKey []byte
	WrappedSWK []byte
}

// Broker talks to a key broker's transfer endpoint.
type Broker struct {
	BaseURL string
	HTTP    *http.Client
}

// NewBroker returns a client for baseURL. Plain HTTP is refused unless
// allowInsecure is set.
func NewBroker(baseURL string, httpClient *http.Client, allowInsecure bool) (*Broker, error) {
	baseURL = normalizeServerURL(baseURL)
	if baseURL == "" {
		return nil, errors.New("broker URL is empty")
	}
	if !strings.HasPrefix(baseURL, "https://") {
		if !allowInsecure {
			return nil, fmt.Errorf("broker URL %q is not HTTPS; use --insecure to allow plaintext HTTP", baseURL)
		}
		logx.Warnf("communicating with key broker over plaintext HTTP (%s)", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Broker{BaseURL: baseURL, HTTP: httpClient}, nil
}

func normalizeServerURL(serverURL string) string {
	return strings.TrimRight(strings.TrimSpace(serverURL), "/")
}

// TransferURL is the endpoint for keyID.
func (b *Broker) TransferURL(keyID uuid.UUID) string {
	return fmt.Sprintf("%s/kbs/v1/keys/%s/transfer", b.BaseURL, keyID)
}

// RequestSecret posts the evidence for keyID and returns the wrapped secret.
// It does not retry.
func (b *Broker) RequestSecret(ctx context.Context, keyID uuid.UUID, ev attestation.Evidence) (*WrappedSecret, error) {
	reqBody := TransferRequest{
		Quote:    base64.StdEncoding.EncodeToString(ev.Quote),
		UserData: base64.StdEncoding.EncodeToString(ev.UserData),
	}
	if len(ev.SignedNonce) > 0 {
		reqBody.SignedNonce = base64.StdEncoding.EncodeToString(ev.SignedNonce)
	}
	if len(ev.EventLog) > 0 {
		reqBody.EventLog = base64.StdEncoding.EncodeToString(ev.EventLog)
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal transfer request: %w", failure.ErrFormat, err)
	}

	url := b.TransferURL(keyID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create transfer request: %w", failure.ErrIO, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	logx.Debugf("kbs.transfer url=%s quote_len=%d event_log_len=%d", url, len(ev.Quote), len(ev.EventLog))
	resp, err := b.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: transfer request: %w", failure.ErrIO, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read transfer response: %w", failure.ErrIO, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: key broker returned %d: %s", failure.ErrIO, resp.StatusCode, errorMessage(respBody))
	}

	var result TransferResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("%w: unmarshal transfer response: %w", failure.ErrFormat, err)
	}
	if result.WrappedKey == "" || result.WrappedSWK == "" {
		return nil, fmt.Errorf("%w: transfer response missing wrapped_key or wrapped_swk", failure.ErrFormat)
	}

	wrappedKey, err := base64.StdEncoding.DecodeString(result.WrappedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: decode wrapped_key: %w", failure.ErrFormat, err)
	}
	wrappedSWK, err := base64.StdEncoding.DecodeString(result.WrappedSWK)
	if err != nil {
		return nil, fmt.Errorf("%w: decode wrapped_swk: %w", failure.ErrFormat, err)
	}
	return &WrappedSecret{WrappedKey: wrappedKey, WrappedSWK: wrappedSWK}, nil
}

// errorMessage prefers the "error" field of a JSON error body.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256] + "..."
	}
	return msg
}
