package rest

import (
	"encoding/base64"
	"encoding/json"
	goerrors "errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	log "github.com/sirupsen/logrus"

	"github.com/cloutprotocol/zatoshid/internal/core/application"
	"github.com/cloutprotocol/zatoshid/internal/core/domain"
	"github.com/cloutprotocol/zatoshid/pkg/errors"
)

type handler struct {
	svc        application.Service
	authSecret string
}

func newHandler(svc application.Service, authSecret string) *handler {
	return &handler{svc: svc, authSecret: authSecret}
}

type startInscriptionRequest struct {
	Address       string `json:"address"`
	PubKey        string `json:"pubkey"`
	Destination   string `json:"destination"`
	ContentType   string `json:"content_type"`
	ContentBase64 string `json:"content_base64"`
}

type signingResponse struct {
	ContextID string   `json:"context_id"`
	Digests   []string `json:"digests"`
	TxHex     string   `json:"tx_hex"`
}

type signaturesRequest struct {
	Signatures []string `json:"signatures"`
}

type signatureRequest struct {
	Signature string `json:"signature"`
}

type inscriptionResponse struct {
	ContextID     string `json:"context_id"`
	CommitTxid    string `json:"commit_txid"`
	RevealTxid    string `json:"reveal_txid"`
	InscriptionID string `json:"inscription_id"`
}

type contextResponse struct {
	ContextID     string   `json:"context_id"`
	Kind          string   `json:"kind"`
	Phase         string   `json:"phase"`
	CommitTxid    string   `json:"commit_txid,omitempty"`
	RevealTxid    string   `json:"reveal_txid,omitempty"`
	InscriptionID string   `json:"inscription_id,omitempty"`
	Digests       []string `json:"digests,omitempty"`
	RevealDigest  string   `json:"reveal_digest,omitempty"`
	Error         string   `json:"error,omitempty"`
}

type startBatchRequest struct {
	Address          string `json:"address"`
	PubKey           string `json:"pubkey"`
	Destination      string `json:"destination"`
	ContentType      string `json:"content_type"`
	ContentBase64    string `json:"content_base64"`
	Count            int    `json:"count"`
	SignerWebhookURL string `json:"signer_webhook_url"`
}

type resumeBatchRequest struct {
	SignerWebhookURL string `json:"signer_webhook_url"`
}

type batchResponse struct {
	JobID          string   `json:"job_id"`
	Status         string   `json:"status"`
	TotalCount     int      `json:"total_count"`
	CompletedCount int      `json:"completed_count"`
	ProducedIDs    []string `json:"produced_ids,omitempty"`
	Error          string   `json:"error,omitempty"`
}

type createListingRequest struct {
	SellerAddress   string `json:"seller_address"`
	SellerPubKey    string `json:"seller_pubkey"`
	TokenOutpoint   string `json:"token_outpoint"`
	Price           uint64 `json:"price"`
	TokenDescriptor string `json:"token_descriptor"`
}

type listingSigningResponse struct {
	ListingID string `json:"listing_id"`
	Digest    string `json:"digest"`
	TxHex     string `json:"tx_hex"`
}

type listingResponse struct {
	ListingID       string `json:"listing_id"`
	Status          string `json:"status"`
	SellerAddress   string `json:"seller_address"`
	Price           uint64 `json:"price"`
	TokenOutpoint   string `json:"token_outpoint"`
	TokenValue      uint64 `json:"token_value"`
	TokenDescriptor string `json:"token_descriptor,omitempty"`
	FilledTxid      string `json:"filled_txid,omitempty"`
}

type fillListingRequest struct {
	BuyerAddress string `json:"buyer_address"`
	BuyerPubKey  string `json:"buyer_pubkey"`
	Destination  string `json:"destination,omitempty"`
}

type swapFillResponse struct {
	ContextID string `json:"context_id"`
	ListingID string `json:"listing_id"`
	Txid      string `json:"txid"`
}

func (h *handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) startInscription(w http.ResponseWriter, r *http.Request) {
	var req startInscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request payload")
		return
	}
	content, ok := parseContent(w, req.ContentType, req.ContentBase64)
	if !ok {
		return
	}

	resp, err := h.svc.StartInscription(r.Context(), application.StartInscriptionRequest{
		Address:     req.Address,
		PubKey:      req.PubKey,
		Destination: req.Destination,
		Content:     content,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, signingResponse{
		ContextID: resp.ContextID, Digests: resp.Digests, TxHex: resp.TxHex,
	})
}

func (h *handler) submitCommitSignatures(w http.ResponseWriter, r *http.Request) {
	var req signaturesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request payload")
		return
	}
	resp, err := h.svc.SubmitCommitSignatures(
		r.Context(), chi.URLParam(r, "id"), req.Signatures,
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, signingResponse{
		ContextID: resp.ContextID, Digests: resp.Digests, TxHex: resp.TxHex,
	})
}

func (h *handler) submitRevealSignature(w http.ResponseWriter, r *http.Request) {
	var req signatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request payload")
		return
	}
	result, err := h.svc.SubmitRevealSignature(
		r.Context(), chi.URLParam(r, "id"), req.Signature,
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInscriptionResponse(result))
}

func (h *handler) retryReveal(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.RetryReveal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInscriptionResponse(result))
}

func (h *handler) abort(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Abort(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}

func (h *handler) getContext(w http.ResponseWriter, r *http.Request) {
	txCtx, err := h.svc.GetContext(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	kind := "inscribe"
	if txCtx.Kind == domain.ContextKindSwapFill {
		kind = "swap_fill"
	}
	writeJSON(w, http.StatusOK, contextResponse{
		ContextID:     txCtx.ID,
		Kind:          kind,
		Phase:         txCtx.Phase.String(),
		CommitTxid:    txCtx.CommitTxid,
		RevealTxid:    txCtx.RevealTxid,
		InscriptionID: txCtx.InscriptionID,
		Digests:       txCtx.CommitDigests,
		RevealDigest:  txCtx.RevealDigest,
		Error:         txCtx.Error,
	})
}

func (h *handler) startBatch(w http.ResponseWriter, r *http.Request) {
	var req startBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request payload")
		return
	}
	content, ok := parseContent(w, req.ContentType, req.ContentBase64)
	if !ok {
		return
	}
	if len(req.SignerWebhookURL) == 0 {
		writeBadRequest(w, "signer_webhook_url is required")
		return
	}

	job, err := h.svc.StartBatch(r.Context(), application.BatchRequest{
		Address:     req.Address,
		PubKey:      req.PubKey,
		Destination: req.Destination,
		Content:     content,
		Count:       req.Count,
	}, newWebhookSigner(req.SignerWebhookURL, h.authSecret))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBatchResponse(job))
}

func (h *handler) getBatch(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResponse(job))
}

func (h *handler) cancelBatch(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CancelBatch(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *handler) resumeBatch(w http.ResponseWriter, r *http.Request) {
	var req resumeBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request payload")
		return
	}
	if len(req.SignerWebhookURL) == 0 {
		writeBadRequest(w, "signer_webhook_url is required")
		return
	}
	job, err := h.svc.ResumeBatch(
		r.Context(), chi.URLParam(r, "id"),
		newWebhookSigner(req.SignerWebhookURL, h.authSecret),
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResponse(job))
}

func (h *handler) createListing(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request payload")
		return
	}
	var outpoint domain.Outpoint
	if err := outpoint.FromString(req.TokenOutpoint); err != nil {
		writeBadRequest(w, "invalid token outpoint")
		return
	}

	resp, err := h.svc.CreateListing(r.Context(), application.CreateListingRequest{
		SellerAddress:   req.SellerAddress,
		SellerPubKey:    req.SellerPubKey,
		TokenOutpoint:   outpoint,
		Price:           req.Price,
		TokenDescriptor: req.TokenDescriptor,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, listingSigningResponse{
		ListingID: resp.ListingID, Digest: resp.Digest, TxHex: resp.TxHex,
	})
}

func (h *handler) getListing(w http.ResponseWriter, r *http.Request) {
	listing, err := h.svc.GetListing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingResponse(listing))
}

func (h *handler) submitListingSignature(w http.ResponseWriter, r *http.Request) {
	var req signatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request payload")
		return
	}
	listing, err := h.svc.SubmitListingSignature(
		r.Context(), chi.URLParam(r, "id"), req.Signature,
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingResponse(listing))
}

func (h *handler) cancelListing(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CancelListing(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *handler) fillListing(w http.ResponseWriter, r *http.Request) {
	var req fillListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request payload")
		return
	}
	resp, err := h.svc.FillListing(r.Context(), application.FillListingRequest{
		ListingID:    chi.URLParam(r, "id"),
		BuyerAddress: req.BuyerAddress,
		BuyerPubKey:  req.BuyerPubKey,
		Destination:  req.Destination,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, signingResponse{
		ContextID: resp.ContextID, Digests: resp.Digests, TxHex: resp.TxHex,
	})
}

func (h *handler) submitFillSignatures(w http.ResponseWriter, r *http.Request) {
	var req signaturesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request payload")
		return
	}
	result, err := h.svc.SubmitFillSignatures(
		r.Context(), chi.URLParam(r, "id"), req.Signatures,
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, swapFillResponse{
		ContextID: result.ContextID, ListingID: result.ListingID, Txid: result.Txid,
	})
}

func parseContent(
	w http.ResponseWriter, contentType, contentBase64 string,
) (domain.InscriptionContent, bool) {
	kind, err := domain.ContentKindFromType(contentType)
	if err != nil {
		writeBadRequest(w, err.Error())
		return domain.InscriptionContent{}, false
	}
	payload, err := base64.StdEncoding.DecodeString(contentBase64)
	if err != nil {
		writeBadRequest(w, "invalid content encoding")
		return domain.InscriptionContent{}, false
	}
	return domain.InscriptionContent{Kind: kind, Payload: payload}, true
}

func toInscriptionResponse(result *application.InscriptionResult) inscriptionResponse {
	return inscriptionResponse{
		ContextID:     result.ContextID,
		CommitTxid:    result.CommitTxid,
		RevealTxid:    result.RevealTxid,
		InscriptionID: result.InscriptionID,
	}
}

func toBatchResponse(job *domain.BatchJob) batchResponse {
	return batchResponse{
		JobID:          job.ID,
		Status:         job.Status.String(),
		TotalCount:     job.TotalCount,
		CompletedCount: job.CompletedCount,
		ProducedIDs:    job.ProducedIDs,
		Error:          job.Error,
	}
}

func toListingResponse(listing *domain.SwapListing) listingResponse {
	return listingResponse{
		ListingID:       listing.ID,
		Status:          listing.Status.String(),
		SellerAddress:   listing.SellerAddress,
		Price:           listing.Price,
		TokenOutpoint:   listing.TokenOutpoint.String(),
		TokenValue:      listing.TokenValue,
		TokenDescriptor: listing.TokenDescriptor,
		FilledTxid:      listing.FilledTxid,
	}
}

type errorResponse struct {
	Error    string            `json:"error"`
	Code     string            `json:"code,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	var coded errors.Error
	if goerrors.As(err, &coded) {
		coded.Log().Warn("request failed")
		writeJSON(w, coded.HTTPStatus(), errorResponse{
			Error:    err.Error(),
			Code:     coded.CodeName(),
			Metadata: coded.Metadata(),
		})
		return
	}

	status := http.StatusBadRequest
	if strings.Contains(err.Error(), "not found") {
		status = http.StatusNotFound
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}
