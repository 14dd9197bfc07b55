package application

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/cloutprotocol/zatoshid/internal/core/domain"
	"github.com/cloutprotocol/zatoshid/pkg/errors"
	"github.com/cloutprotocol/zatoshid/pkg/zcash"
)

// CreateListing builds the one-sided offer transaction for an inscribed
// output: input 0 spends the token, output 0 pays the asking price to the
// seller. The seller signs the offer digest under SINGLE|ANYONECANPAY so a
// buyer can append funding inputs and outputs later without breaking it.
func (s *service) CreateListing(
	ctx context.Context, req CreateListingRequest,
) (*ListingSigningRequest, error) {
	if _, err := parsePubKey(req.SellerPubKey); err != nil {
		return nil, err
	}
	sellerScript, err := zcash.PayToAddrScript(req.SellerAddress, s.network)
	if err != nil {
		return nil, fmt.Errorf("invalid seller address: %s", err)
	}
	if req.Price == 0 {
		return nil, fmt.Errorf("listing price must be positive")
	}

	tainted, err := s.explorer.IsTainted(ctx, req.TokenOutpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to check token outpoint: %s", err)
	}
	if !tainted {
		return nil, fmt.Errorf(
			"outpoint %s does not carry an inscription", req.TokenOutpoint,
		)
	}

	tokenValue, err := s.findOutputValue(ctx, req.SellerAddress, req.TokenOutpoint)
	if err != nil {
		return nil, err
	}

	listingID := uuid.NewString()
	if err := s.leaseStore.Acquire(
		ctx, listingID, []domain.Outpoint{req.TokenOutpoint}, s.leaseTTL,
	); err != nil {
		return nil, err
	}

	partialTx := zcash.NewTx()
	partialTx.AddInput(req.TokenOutpoint.Txid, req.TokenOutpoint.VOut, tokenValue, sellerScript)
	partialTx.AddOutput(req.Price, sellerScript)

	branchID := s.consensusBranchID(ctx)
	digest, err := zcash.SignatureDigest(
		partialTx, 0, zcash.SighashSingle|zcash.SighashAnyOneCanPay, branchID,
	)
	if err != nil {
		// nolint:errcheck
		s.leaseStore.ReleaseAll(ctx, listingID)
		return nil, err
	}

	now := time.Now().Unix()
	listing := domain.SwapListing{
		ID:              listingID,
		Status:          domain.ListingStatusPending,
		SellerAddress:   req.SellerAddress,
		SellerPubKey:    req.SellerPubKey,
		Price:           req.Price,
		TokenOutpoint:   req.TokenOutpoint,
		TokenValue:      tokenValue,
		TokenDescriptor: req.TokenDescriptor,
		PartialTx:       partialTx,
		OfferDigest:     hex.EncodeToString(digest[:]),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repoManager.Listings().Add(ctx, listing); err != nil {
		// nolint:errcheck
		s.leaseStore.ReleaseAll(ctx, listingID)
		return nil, fmt.Errorf("failed to persist listing: %s", err)
	}

	txHex, err := partialTx.Hex()
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"listing": listingID,
		"token":   req.TokenOutpoint.String(),
		"price":   req.Price,
	}).Debug("swap listing opened")

	return &ListingSigningRequest{
		ListingID: listingID,
		Digest:    listing.OfferDigest,
		TxHex:     txHex,
	}, nil
}

func (s *service) SubmitListingSignature(
	ctx context.Context, listingID, signature string,
) (*domain.SwapListing, error) {
	listing, err := s.repoManager.Listings().Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.Status != domain.ListingStatusPending {
		return nil, fmt.Errorf("listing %s is %s, signature not expected", listingID, listing.Status)
	}

	raw, err := hex.DecodeString(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %s", err)
	}
	hashType := byte(zcash.SighashSingle | zcash.SighashAnyOneCanPay)
	derSig, err := zcash.EncodeDERSignature(raw, hashType)
	if err != nil {
		return nil, err
	}
	sellerKey, err := hex.DecodeString(listing.SellerPubKey)
	if err != nil {
		return nil, fmt.Errorf("invalid seller public key: %s", err)
	}
	scriptSig, err := zcash.P2PKHSpendScript(derSig, sellerKey)
	if err != nil {
		return nil, err
	}
	listing.PartialTx.Inputs[0].ScriptSig = scriptSig
	listing.Status = domain.ListingStatusActive
	listing.UpdatedAt = time.Now().Unix()

	if err := s.repoManager.Listings().Update(ctx, *listing); err != nil {
		return nil, fmt.Errorf("failed to persist listing: %s", err)
	}

	log.WithField("listing", listingID).Info("swap listing activated")
	return listing, nil
}

func (s *service) CancelListing(ctx context.Context, listingID string) error {
	listing, err := s.repoManager.Listings().Get(ctx, listingID)
	if err != nil {
		return err
	}
	if err := listing.SetStatus(domain.ListingStatusCancelled); err != nil {
		return err
	}
	listing.UpdatedAt = time.Now().Unix()
	if err := s.repoManager.Listings().Update(ctx, *listing); err != nil {
		return fmt.Errorf("failed to persist listing: %s", err)
	}
	// nolint:errcheck
	s.leaseStore.ReleaseAll(ctx, listingID)
	return nil
}

func (s *service) GetListing(
	ctx context.Context, listingID string,
) (*domain.SwapListing, error) {
	return s.repoManager.Listings().Get(ctx, listingID)
}

// FillListing merges buyer funding into the seller's signed offer. The
// seller's signature only covers input 0 and output 0, so the fill appends:
// buyer inputs from index 1, the token output to the buyer at index 1 and
// buyer change at index 2. Buyer inputs must cover price plus the swap fee;
// the token value rides through from input 0 to output 1.
func (s *service) FillListing(
	ctx context.Context, req FillListingRequest,
) (*SigningRequest, error) {
	listing, err := s.repoManager.Listings().Get(ctx, req.ListingID)
	if err != nil {
		return nil, err
	}
	if listing.Status != domain.ListingStatusActive {
		return nil, fmt.Errorf("listing %s is %s, cannot be filled", req.ListingID, listing.Status)
	}

	if _, err := parsePubKey(req.BuyerPubKey); err != nil {
		return nil, err
	}
	changeScript, err := zcash.PayToAddrScript(req.BuyerAddress, s.network)
	if err != nil {
		return nil, fmt.Errorf("invalid buyer address: %s", err)
	}
	destination := req.Destination
	if destination == "" {
		destination = req.BuyerAddress
	}
	destScript, err := zcash.PayToAddrScript(destination, s.network)
	if err != nil {
		return nil, fmt.Errorf("invalid destination address: %s", err)
	}

	required := listing.Price + s.swapFee
	utxos, err := s.explorer.ListUnspent(ctx, req.BuyerAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to list unspent outputs: %s", err)
	}
	leased, err := s.leasedOutpoints(ctx, utxos)
	if err != nil {
		return nil, fmt.Errorf("failed to check leases: %s", err)
	}
	selected, total, err := selectFunding(utxos, leased, required)
	if err != nil {
		return nil, err
	}

	contextID := uuid.NewString()
	outpoints := make([]domain.Outpoint, 0, len(selected))
	for _, utxo := range selected {
		outpoints = append(outpoints, utxo.Outpoint)
	}
	if err := s.leaseStore.Acquire(ctx, contextID, outpoints, s.leaseTTL); err != nil {
		return nil, err
	}

	fillTx := listing.PartialTx.Clone()
	for _, utxo := range selected {
		fillTx.AddInput(utxo.Txid, utxo.VOut, utxo.Value, utxo.Script)
	}
	fillTx.AddOutput(listing.TokenValue, destScript)
	if change := total - required; change > 0 {
		fillTx.AddOutput(change, changeScript)
	}

	branchID := s.consensusBranchID(ctx)
	digests := make([]string, 0, len(selected))
	for i := 1; i < len(fillTx.Inputs); i++ {
		digest, err := zcash.SignatureDigest(fillTx, i, zcash.SighashAll, branchID)
		if err != nil {
			// nolint:errcheck
			s.leaseStore.ReleaseAll(ctx, contextID)
			return nil, err
		}
		digests = append(digests, hex.EncodeToString(digest[:]))
	}

	now := time.Now()
	txCtx := domain.TransactionContext{
		ID:              contextID,
		Kind:            domain.ContextKindSwapFill,
		Phase:           domain.PhaseBuilding,
		ListingID:       listing.ID,
		Address:         req.BuyerAddress,
		PubKey:          req.BuyerPubKey,
		Destination:     destination,
		BranchID:        branchID,
		CommitFee:       s.swapFee,
		CommitTx:        fillTx,
		CommitDigests:   digests,
		LeasedOutpoints: outpoints,
		CreatedAt:       now.Unix(),
		UpdatedAt:       now.Unix(),
		ExpiresAt:       now.Add(s.contextTTL).Unix(),
	}
	if err := txCtx.Advance(domain.PhaseAwaitingCommitSignature); err != nil {
		return nil, err
	}
	if err := s.repoManager.Contexts().Add(ctx, txCtx); err != nil {
		// nolint:errcheck
		s.leaseStore.ReleaseAll(ctx, contextID)
		return nil, fmt.Errorf("failed to persist context: %s", err)
	}

	txHex, err := fillTx.Hex()
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"context": contextID,
		"listing": listing.ID,
		"inputs":  len(fillTx.Inputs) - 1,
	}).Debug("swap fill opened")

	return &SigningRequest{ContextID: contextID, Digests: digests, TxHex: txHex}, nil
}

func (s *service) SubmitFillSignatures(
	ctx context.Context, contextID string, signatures []string,
) (*SwapFillResult, error) {
	txCtx, err := s.repoManager.Contexts().Get(ctx, contextID)
	if err != nil {
		return nil, err
	}
	if txCtx.Kind != domain.ContextKindSwapFill {
		return nil, fmt.Errorf("context %s is not a swap fill session", contextID)
	}
	switch txCtx.Phase {
	case domain.PhaseAwaitingCommitSignature, domain.PhaseBroadcastingCommit:
	default:
		return nil, fmt.Errorf(
			"context %s is %s, fill signatures not expected", contextID, txCtx.Phase,
		)
	}

	if txCtx.CommitTxid == "" && txCtx.IsExpired(time.Now().Unix()) {
		// nolint:errcheck
		s.abortContext(ctx, txCtx)
		return nil, errors.StaleContext.New(
			"context %s expired before broadcast", contextID,
		).WithMetadata(errors.StaleContextMetadata{
			ContextID: contextID, Phase: txCtx.Phase.String(),
		})
	}

	if len(signatures) != len(txCtx.CommitDigests) {
		return nil, errors.SignatureCountMismatch.New(
			"expected %d fill signatures, got %d", len(txCtx.CommitDigests), len(signatures),
		).WithMetadata(errors.SignatureCountMismatchMetadata{
			Expected: len(txCtx.CommitDigests), Got: len(signatures),
		})
	}

	buyerKey, err := hex.DecodeString(txCtx.PubKey)
	if err != nil {
		return nil, fmt.Errorf("invalid buyer public key: %s", err)
	}
	for i, sigHex := range signatures {
		scriptSig, err := p2pkhScriptSig(sigHex, buyerKey)
		if err != nil {
			return nil, fmt.Errorf("invalid signature for input %d: %s", i+1, err)
		}
		txCtx.CommitTx.Inputs[i+1].ScriptSig = scriptSig
	}

	if txCtx.Phase == domain.PhaseAwaitingCommitSignature {
		if err := txCtx.Advance(domain.PhaseBroadcastingCommit); err != nil {
			return nil, err
		}
	}

	txHex, err := txCtx.CommitTx.Hex()
	if err != nil {
		return nil, err
	}
	txid, err := s.explorer.Broadcast(ctx, txHex)
	if err != nil {
		txCtx.Error = err.Error()
		// nolint:errcheck
		s.repoManager.Contexts().Update(ctx, *txCtx)
		return nil, errors.BroadcastRejected.Wrap(err).WithMetadata(
			errors.BroadcastRejectedMetadata{Provider: err.Error(), TxHex: txHex},
		)
	}
	txCtx.CommitTxid = txid
	txCtx.Error = ""
	if err := txCtx.Advance(domain.PhaseDone); err != nil {
		return nil, err
	}
	if err := s.repoManager.Contexts().Update(ctx, *txCtx); err != nil {
		return nil, fmt.Errorf("failed to persist context: %s", err)
	}
	// nolint:errcheck
	s.leaseStore.ReleaseAll(ctx, contextID)

	listing, err := s.repoManager.Listings().Get(ctx, txCtx.ListingID)
	if err != nil {
		return nil, err
	}
	if err := listing.SetStatus(domain.ListingStatusCompleted); err != nil {
		return nil, err
	}
	listing.FilledTxid = txid
	listing.UpdatedAt = time.Now().Unix()
	if err := s.repoManager.Listings().Update(ctx, *listing); err != nil {
		return nil, fmt.Errorf("failed to persist listing: %s", err)
	}
	// nolint:errcheck
	s.leaseStore.ReleaseAll(ctx, listing.ID)

	log.WithFields(log.Fields{
		"context": contextID,
		"listing": listing.ID,
		"txid":    txid,
	}).Info("swap fill broadcast")

	return &SwapFillResult{ContextID: contextID, ListingID: listing.ID, Txid: txid}, nil
}

func (s *service) findOutputValue(
	ctx context.Context, address string, outpoint domain.Outpoint,
) (uint64, error) {
	utxos, err := s.explorer.ListUnspent(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("failed to list unspent outputs: %s", err)
	}
	for _, utxo := range utxos {
		if utxo.Outpoint == outpoint {
			return utxo.Value, nil
		}
	}
	return 0, fmt.Errorf("outpoint %s not found for address %s", outpoint, address)
}
