package rest_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloutprotocol/zatoshid/internal/core/application"
	"github.com/cloutprotocol/zatoshid/internal/core/domain"
	"github.com/cloutprotocol/zatoshid/internal/core/ports"
	"github.com/cloutprotocol/zatoshid/internal/interface/rest"
	"github.com/cloutprotocol/zatoshid/pkg/errors"
)

const testSecret = "super-secret"

// stubService lets each test pin down just the operations it exercises.
type stubService struct {
	startInscription func(application.StartInscriptionRequest) (*application.SigningRequest, error)
	getContext       func(string) (*domain.TransactionContext, error)
	startBatch       func(application.BatchRequest, ports.Signer) (*domain.BatchJob, error)
}

func (s *stubService) StartInscription(
	_ context.Context, req application.StartInscriptionRequest,
) (*application.SigningRequest, error) {
	if s.startInscription == nil {
		return nil, fmt.Errorf("unexpected call")
	}
	return s.startInscription(req)
}

func (s *stubService) SubmitCommitSignatures(
	_ context.Context, _ string, _ []string,
) (*application.SigningRequest, error) {
	return nil, fmt.Errorf("unexpected call")
}

func (s *stubService) SubmitRevealSignature(
	_ context.Context, _, _ string,
) (*application.InscriptionResult, error) {
	return nil, fmt.Errorf("unexpected call")
}

func (s *stubService) RetryReveal(
	_ context.Context, _ string,
) (*application.InscriptionResult, error) {
	return nil, fmt.Errorf("unexpected call")
}

func (s *stubService) Abort(_ context.Context, _ string) error {
	return fmt.Errorf("unexpected call")
}

func (s *stubService) GetContext(
	_ context.Context, contextID string,
) (*domain.TransactionContext, error) {
	if s.getContext == nil {
		return nil, fmt.Errorf("unexpected call")
	}
	return s.getContext(contextID)
}

func (s *stubService) StartBatch(
	_ context.Context, req application.BatchRequest, signer ports.Signer,
) (*domain.BatchJob, error) {
	if s.startBatch == nil {
		return nil, fmt.Errorf("unexpected call")
	}
	return s.startBatch(req, signer)
}

func (s *stubService) GetBatch(_ context.Context, _ string) (*domain.BatchJob, error) {
	return nil, fmt.Errorf("unexpected call")
}

func (s *stubService) CancelBatch(_ context.Context, _ string) error {
	return fmt.Errorf("unexpected call")
}

func (s *stubService) ResumeBatch(
	_ context.Context, _ string, _ ports.Signer,
) (*domain.BatchJob, error) {
	return nil, fmt.Errorf("unexpected call")
}

func (s *stubService) CreateListing(
	_ context.Context, _ application.CreateListingRequest,
) (*application.ListingSigningRequest, error) {
	return nil, fmt.Errorf("unexpected call")
}

func (s *stubService) SubmitListingSignature(
	_ context.Context, _, _ string,
) (*domain.SwapListing, error) {
	return nil, fmt.Errorf("unexpected call")
}

func (s *stubService) CancelListing(_ context.Context, _ string) error {
	return fmt.Errorf("unexpected call")
}

func (s *stubService) GetListing(
	_ context.Context, _ string,
) (*domain.SwapListing, error) {
	return nil, fmt.Errorf("unexpected call")
}

func (s *stubService) FillListing(
	_ context.Context, _ application.FillListingRequest,
) (*application.SigningRequest, error) {
	return nil, fmt.Errorf("unexpected call")
}

func (s *stubService) SubmitFillSignatures(
	_ context.Context, _ string, _ []string,
) (*application.SwapFillResult, error) {
	return nil, fmt.Errorf("unexpected call")
}

func (s *stubService) Stop() {}

var _ application.Service = (*stubService)(nil)

func newTestServer(t *testing.T, svc application.Service, secret string) *httptest.Server {
	t.Helper()
	server := rest.NewServer(rest.Config{AuthSecret: secret}, svc)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func signRequest(req *http.Request, secret string, body []byte) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	req.Header.Set("X-Auth-Timestamp", timestamp)
	req.Header.Set("X-Auth-Signature", hex.EncodeToString(mac.Sum(nil)))
}

func inscriptionPayload(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"address":        "t1addr",
		"pubkey":         "02abcd",
		"destination":    "t1dest",
		"content_type":   "text/plain;charset=utf-8",
		"content_base64": base64.StdEncoding.EncodeToString([]byte("hello")),
	})
	require.NoError(t, err)
	return body
}

func TestHealthCheckBypassesAuth(t *testing.T) {
	ts := newTestServer(t, &stubService{}, testSecret)

	resp, err := http.Get(ts.URL + "/healthcheck")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthRejectsBadRequests(t *testing.T) {
	ts := newTestServer(t, &stubService{}, testSecret)
	body := inscriptionPayload(t)

	tests := []struct {
		name  string
		setup func(req *http.Request)
	}{
		{
			name:  "missing headers",
			setup: func(req *http.Request) {},
		},
		{
			name: "wrong secret",
			setup: func(req *http.Request) {
				signRequest(req, "wrong-secret", body)
			},
		},
		{
			name: "stale timestamp",
			setup: func(req *http.Request) {
				timestamp := strconv.FormatInt(
					time.Now().Add(-time.Hour).Unix(), 10,
				)
				mac := hmac.New(sha256.New, []byte(testSecret))
				mac.Write([]byte(timestamp))
				mac.Write(body)
				req.Header.Set("X-Auth-Timestamp", timestamp)
				req.Header.Set("X-Auth-Signature", hex.EncodeToString(mac.Sum(nil)))
			},
		},
		{
			name: "signature over different body",
			setup: func(req *http.Request) {
				signRequest(req, testSecret, []byte("other body"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(
				http.MethodPost, ts.URL+"/v1/inscriptions", bytes.NewReader(body),
			)
			require.NoError(t, err)
			tt.setup(req)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestStartInscription(t *testing.T) {
	svc := &stubService{
		startInscription: func(
			req application.StartInscriptionRequest,
		) (*application.SigningRequest, error) {
			require.Equal(t, "t1addr", req.Address)
			require.Equal(t, domain.ContentKindText, req.Content.Kind)
			require.Equal(t, []byte("hello"), req.Content.Payload)
			return &application.SigningRequest{
				ContextID: "ctx-1",
				Digests:   []string{"aa", "bb"},
				TxHex:     "0400008085202f89",
			}, nil
		},
	}
	ts := newTestServer(t, svc, testSecret)
	body := inscriptionPayload(t)

	req, err := http.NewRequest(
		http.MethodPost, ts.URL+"/v1/inscriptions", bytes.NewReader(body),
	)
	require.NoError(t, err)
	signRequest(req, testSecret, body)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var decoded struct {
		ContextID string   `json:"context_id"`
		Digests   []string `json:"digests"`
		TxHex     string   `json:"tx_hex"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	require.Equal(t, "ctx-1", decoded.ContextID)
	require.Len(t, decoded.Digests, 2)
	require.NotEmpty(t, decoded.TxHex)
}

func TestCodedErrorsKeepStatusAndMetadata(t *testing.T) {
	svc := &stubService{
		startInscription: func(
			application.StartInscriptionRequest,
		) (*application.SigningRequest, error) {
			return nil, errors.InsufficientFunds.New("not enough funds").
				WithMetadata(errors.InsufficientFundsMetadata{
					Required: 80000, Available: 30000, Shortfall: 50000,
				})
		},
	}
	ts := newTestServer(t, svc, "")
	body := inscriptionPayload(t)

	resp, err := http.Post(
		ts.URL+"/v1/inscriptions", "application/json", bytes.NewReader(body),
	)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var decoded struct {
		Error    string            `json:"error"`
		Code     string            `json:"code"`
		Metadata map[string]string `json:"metadata"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	require.Equal(t, "InsufficientFunds", decoded.Code)
	require.Equal(t, "50000", decoded.Metadata["shortfall"])
}

func TestUnknownContextReturnsNotFound(t *testing.T) {
	svc := &stubService{
		getContext: func(contextID string) (*domain.TransactionContext, error) {
			return nil, fmt.Errorf("context %s not found", contextID)
		},
	}
	ts := newTestServer(t, svc, "")

	resp, err := http.Get(ts.URL + "/v1/inscriptions/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebhookSignerRoundTrip(t *testing.T) {
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sign", r.URL.Path)
		require.NotEmpty(t, r.Header.Get("X-Auth-Timestamp"))
		require.NotEmpty(t, r.Header.Get("X-Auth-Signature"))

		var req struct {
			Digests []string `json:"digests"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		sigs := make([]string, len(req.Digests))
		for i := range sigs {
			sigs[i] = hex.EncodeToString(bytes.Repeat([]byte{0x01}, 64))
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"signatures": sigs,
		}))
	}))
	t.Cleanup(webhook.Close)

	var captured ports.Signer
	svc := &stubService{
		startBatch: func(
			req application.BatchRequest, signer ports.Signer,
		) (*domain.BatchJob, error) {
			captured = signer
			return &domain.BatchJob{
				ID:         "job-1",
				Status:     domain.JobStatusPending,
				TotalCount: req.Count,
			}, nil
		},
	}
	ts := newTestServer(t, svc, testSecret)

	body, err := json.Marshal(map[string]any{
		"address":            "t1addr",
		"pubkey":             "02abcd",
		"destination":        "t1dest",
		"content_type":       "text/plain;charset=utf-8",
		"content_base64":     base64.StdEncoding.EncodeToString([]byte("hello")),
		"count":              3,
		"signer_webhook_url": webhook.URL,
	})
	require.NoError(t, err)

	req, err := http.NewRequest(
		http.MethodPost, ts.URL+"/v1/batches", bytes.NewReader(body),
	)
	require.NoError(t, err)
	signRequest(req, testSecret, body)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotNil(t, captured)

	sigs, err := captured.SignDigests(context.Background(), []string{"aa", "bb"})
	require.NoError(t, err)
	require.Len(t, sigs, 2)
}
