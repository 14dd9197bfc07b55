package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/ratelimit"

	"github.com/cloutprotocol/zatoshid/internal/core/domain"
	"github.com/cloutprotocol/zatoshid/internal/core/ports"
	"github.com/cloutprotocol/zatoshid/pkg/zcash"
)

const (
	defaultRequestsPerSecond = 4
	defaultMaxRetries        = 3
)

type utxoResponse struct {
	Txid   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  uint64 `json:"value"`
	Status struct {
		Confirmed bool `json:"confirmed"`
	} `json:"status"`
}

type txStatusResponse struct {
	Confirmed bool `json:"confirmed"`
}

type service struct {
	baseURL    string
	network    zcash.Network
	httpClient *http.Client
	limiter    ratelimit.Limiter
}

type Option func(*service)

func WithRequestsPerSecond(rps int) Option {
	return func(s *service) {
		s.limiter = ratelimit.New(rps)
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(s *service) {
		s.httpClient.Timeout = timeout
	}
}

// NewService returns an explorer backed by an esplora-style chain index
// extended with inscription lookups. Read requests are rate limited and
// retried with exponential backoff; broadcast rejections are surfaced to the
// caller untouched since the provider message is part of the error contract.
func NewService(
	baseURL string, network zcash.Network, opts ...Option,
) (ports.Explorer, error) {
	if len(baseURL) == 0 {
		return nil, fmt.Errorf("explorer URL is required")
	}

	svc := &service{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		network: network,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: ratelimit.New(defaultRequestsPerSecond),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func (s *service) ListUnspent(
	ctx context.Context, address string,
) ([]domain.UnspentOutput, error) {
	endpoint, err := url.JoinPath(s.baseURL, "address", address, "utxo")
	if err != nil {
		return nil, err
	}

	var raw []utxoResponse
	if err := s.getJSON(ctx, endpoint, &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch unspent outputs: %s", err)
	}

	script, err := zcash.PayToAddrScript(address, s.network)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %s", err)
	}

	utxos := make([]domain.UnspentOutput, 0, len(raw))
	for _, entry := range raw {
		outpoint := domain.Outpoint{Txid: entry.Txid, VOut: entry.Vout}
		tainted, err := s.IsTainted(ctx, outpoint)
		if err != nil {
			return nil, err
		}
		utxos = append(utxos, domain.UnspentOutput{
			Outpoint: outpoint,
			Value:    entry.Value,
			Script:   script,
			Tainted:  tainted,
		})
	}
	return utxos, nil
}

func (s *service) IsTainted(ctx context.Context, outpoint domain.Outpoint) (bool, error) {
	endpoint, err := url.JoinPath(s.baseURL, "outpoint", outpoint.String(), "inscriptions")
	if err != nil {
		return false, err
	}

	var inscriptions []string
	if err := s.getJSON(ctx, endpoint, &inscriptions); err != nil {
		return false, fmt.Errorf("failed to fetch outpoint inscriptions: %s", err)
	}
	return len(inscriptions) > 0, nil
}

func (s *service) Broadcast(ctx context.Context, txHex string) (string, error) {
	endpoint, err := url.JoinPath(s.baseURL, "tx")
	if err != nil {
		return "", err
	}

	s.limiter.Take()
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, endpoint, strings.NewReader(txHex),
	)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	// nolint:errcheck
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s", strings.TrimSpace(string(body)))
	}
	return strings.TrimSpace(string(body)), nil
}

func (s *service) IsTransactionConfirmed(ctx context.Context, txid string) (bool, error) {
	endpoint, err := url.JoinPath(s.baseURL, "tx", txid, "status")
	if err != nil {
		return false, err
	}

	var status txStatusResponse
	if err := s.getJSON(ctx, endpoint, &status); err != nil {
		return false, fmt.Errorf("failed to fetch tx status: %s", err)
	}
	return status.Confirmed, nil
}

func (s *service) ConsensusBranchID(ctx context.Context) (uint32, error) {
	endpoint, err := url.JoinPath(s.baseURL, "consensus", "branchid")
	if err != nil {
		return 0, err
	}

	body, err := s.get(ctx, endpoint)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch consensus branch id: %s", err)
	}
	branchID, err := strconv.ParseUint(strings.TrimSpace(string(body)), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid consensus branch id: %s", err)
	}
	return uint32(branchID), nil
}

func (s *service) getJSON(ctx context.Context, endpoint string, target any) error {
	body, err := s.get(ctx, endpoint)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, target)
}

func (s *service) get(ctx context.Context, endpoint string) ([]byte, error) {
	var body []byte
	operation := func() error {
		s.limiter.Take()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return err
		}
		// nolint:errcheck
		defer resp.Body.Close()

		buf, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("got %d from %s", resp.StatusCode, endpoint)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(
				fmt.Errorf("got %d from %s: %s", resp.StatusCode, endpoint, string(buf)),
			)
		}
		body = buf
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), defaultMaxRetries), ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return body, nil
}
