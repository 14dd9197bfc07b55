package rest

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cloutprotocol/zatoshid/internal/core/ports"
)

// webhookSigner forwards signing requests to a caller-operated endpoint so
// batch jobs can run unattended without the engine holding key material.
// Requests are authenticated with the same HMAC scheme the gateway accepts.
type webhookSigner struct {
	url        string
	authSecret string
	httpClient *http.Client
}

func newWebhookSigner(url, authSecret string) ports.Signer {
	return &webhookSigner{
		url:        url,
		authSecret: authSecret,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type webhookSignRequest struct {
	Digests []string `json:"digests"`
}

type webhookSignResponse struct {
	Signatures []string `json:"signatures"`
	PubKey     string   `json:"pubkey"`
}

func (s *webhookSigner) SignDigests(
	ctx context.Context, digests []string,
) ([]string, error) {
	resp, err := s.post(ctx, "/sign", webhookSignRequest{Digests: digests})
	if err != nil {
		return nil, err
	}
	if len(resp.Signatures) != len(digests) {
		return nil, fmt.Errorf(
			"signer returned %d signatures for %d digests",
			len(resp.Signatures), len(digests),
		)
	}
	for _, sig := range resp.Signatures {
		if _, err := hex.DecodeString(sig); err != nil {
			return nil, fmt.Errorf("signer returned malformed signature: %s", err)
		}
	}
	return resp.Signatures, nil
}

func (s *webhookSigner) PublicKey(ctx context.Context) (string, error) {
	resp, err := s.post(ctx, "/pubkey", nil)
	if err != nil {
		return "", err
	}
	if len(resp.PubKey) == 0 {
		return "", fmt.Errorf("signer returned empty pubkey")
	}
	return resp.PubKey, nil
}

func (s *webhookSigner) post(
	ctx context.Context, path string, payload any,
) (*webhookSignResponse, error) {
	body := []byte("{}")
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, s.url+path, bytes.NewReader(body),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(s.authSecret) > 0 {
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set("X-Auth-Timestamp", timestamp)
		req.Header.Set("X-Auth-Signature", hex.EncodeToString(
			computeSignature(s.authSecret, timestamp, body),
		))
	}

	httpResp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	// nolint:errcheck
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(
			"signer webhook returned %d: %s", httpResp.StatusCode, string(respBody),
		)
	}

	resp := &webhookSignResponse{}
	if err := json.Unmarshal(respBody, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
