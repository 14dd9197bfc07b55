package application

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/cloutprotocol/zatoshid/internal/core/domain"
	"github.com/cloutprotocol/zatoshid/internal/core/ports"
	"github.com/cloutprotocol/zatoshid/pkg/errors"
	"github.com/cloutprotocol/zatoshid/pkg/zcash"
)

const reapIntervalSeconds = 60

type Service interface {
	StartInscription(ctx context.Context, req StartInscriptionRequest) (*SigningRequest, error)
	SubmitCommitSignatures(
		ctx context.Context, contextID string, signatures []string,
	) (*SigningRequest, error)
	SubmitRevealSignature(
		ctx context.Context, contextID, signature string,
	) (*InscriptionResult, error)
	RetryReveal(ctx context.Context, contextID string) (*InscriptionResult, error)
	Abort(ctx context.Context, contextID string) error
	GetContext(ctx context.Context, contextID string) (*domain.TransactionContext, error)

	StartBatch(ctx context.Context, req BatchRequest, signer ports.Signer) (*domain.BatchJob, error)
	GetBatch(ctx context.Context, jobID string) (*domain.BatchJob, error)
	CancelBatch(ctx context.Context, jobID string) error
	ResumeBatch(ctx context.Context, jobID string, signer ports.Signer) (*domain.BatchJob, error)

	CreateListing(ctx context.Context, req CreateListingRequest) (*ListingSigningRequest, error)
	SubmitListingSignature(
		ctx context.Context, listingID, signature string,
	) (*domain.SwapListing, error)
	CancelListing(ctx context.Context, listingID string) error
	GetListing(ctx context.Context, listingID string) (*domain.SwapListing, error)
	FillListing(ctx context.Context, req FillListingRequest) (*SigningRequest, error)
	SubmitFillSignatures(
		ctx context.Context, contextID string, signatures []string,
	) (*SwapFillResult, error)

	Stop()
}

type service struct {
	repoManager ports.RepoManager
	explorer    ports.Explorer
	leaseStore  ports.LeaseStore

	network          zcash.Network
	inscriptionValue uint64
	commitFee        uint64
	revealFee        uint64
	swapFee          uint64
	leaseTTL         time.Duration
	contextTTL       time.Duration
	propagationDelay time.Duration

	wg *sync.WaitGroup
}

func NewService(
	repoManager ports.RepoManager,
	explorer ports.Explorer,
	leaseStore ports.LeaseStore,
	scheduler ports.SchedulerService,
	network zcash.Network,
	inscriptionValue, commitFee, revealFee, swapFee uint64,
	leaseTTL, contextTTL, propagationDelay time.Duration,
) (Service, error) {
	if inscriptionValue == 0 {
		return nil, fmt.Errorf("inscription value must be positive")
	}
	if commitFee == 0 || revealFee == 0 {
		return nil, fmt.Errorf("commit and reveal fees must be positive")
	}
	if inscriptionValue <= revealFee+zcash.DustThreshold {
		return nil, fmt.Errorf(
			"inscription value must exceed the reveal fee plus the dust threshold",
		)
	}
	if leaseTTL <= 0 || contextTTL <= 0 {
		return nil, fmt.Errorf("lease and context TTLs must be positive")
	}

	svc := &service{
		repoManager:      repoManager,
		explorer:         explorer,
		leaseStore:       leaseStore,
		network:          network,
		inscriptionValue: inscriptionValue,
		commitFee:        commitFee,
		revealFee:        revealFee,
		swapFee:          swapFee,
		leaseTTL:         leaseTTL,
		contextTTL:       contextTTL,
		propagationDelay: propagationDelay,
		wg:               &sync.WaitGroup{},
	}

	if scheduler != nil {
		if err := scheduler.ScheduleTaskAtInterval(
			reapIntervalSeconds, svc.reapExpired,
		); err != nil {
			return nil, fmt.Errorf("failed to schedule reaper task: %s", err)
		}
	}

	return svc, nil
}

func (s *service) Stop() {
	s.wg.Wait()
}

func (s *service) StartInscription(
	ctx context.Context, req StartInscriptionRequest,
) (*SigningRequest, error) {
	pubKey, err := parsePubKey(req.PubKey)
	if err != nil {
		return nil, err
	}
	changeScript, err := zcash.PayToAddrScript(req.Address, s.network)
	if err != nil {
		return nil, fmt.Errorf("invalid funding address: %s", err)
	}
	if _, err := zcash.PayToAddrScript(req.Destination, s.network); err != nil {
		return nil, fmt.Errorf("invalid destination address: %s", err)
	}
	if err := req.Content.Validate(); err != nil {
		return nil, fmt.Errorf("invalid content: %s", err)
	}

	builder, err := zcash.NewRevealScriptBuilder(req.Content.ContentType(), req.Content.Payload)
	if err != nil {
		return nil, errors.ContentTooLarge.Wrap(err).WithMetadata(
			errors.ContentTooLargeMetadata{
				Size: len(req.Content.Payload),
				Max:  zcash.MaxRevealScriptSize,
			},
		)
	}
	revealScript, err := builder.Finalize(pubKey)
	if err != nil {
		return nil, fmt.Errorf("failed to build reveal script: %s", err)
	}
	fundingScript, err := zcash.FundingScript(revealScript)
	if err != nil {
		return nil, fmt.Errorf("failed to build funding script: %s", err)
	}

	required := s.inscriptionValue + s.commitFee

	utxos, err := s.explorer.ListUnspent(ctx, req.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to list unspent outputs: %s", err)
	}
	leased, err := s.leasedOutpoints(ctx, utxos)
	if err != nil {
		return nil, fmt.Errorf("failed to check leases: %s", err)
	}
	selected, _, err := selectFunding(utxos, leased, required)
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

	commitTx := zcash.NewTx()
	total := uint64(0)
	for _, utxo := range selected {
		commitTx.AddInput(utxo.Txid, utxo.VOut, utxo.Value, utxo.Script)
		total += utxo.Value
	}
	commitTx.AddOutput(s.inscriptionValue, fundingScript)
	if change := total - required; change > zcash.DustThreshold {
		commitTx.AddOutput(change, changeScript)
	}

	branchID := s.consensusBranchID(ctx)
	digests, err := signatureDigests(commitTx, zcash.SighashAll, branchID)
	if err != nil {
		// nolint:errcheck
		s.leaseStore.ReleaseAll(ctx, contextID)
		return nil, err
	}

	now := time.Now()
	txCtx := domain.TransactionContext{
		ID:               contextID,
		Kind:             domain.ContextKindInscribe,
		Phase:            domain.PhaseBuilding,
		Address:          req.Address,
		PubKey:           req.PubKey,
		Destination:      req.Destination,
		Content:          req.Content,
		BranchID:         branchID,
		InscriptionValue: s.inscriptionValue,
		CommitFee:        s.commitFee,
		RevealFee:        s.revealFee,
		RevealScript:     revealScript,
		CommitTx:         commitTx,
		CommitDigests:    digests,
		LeasedOutpoints:  outpoints,
		CreatedAt:        now.Unix(),
		UpdatedAt:        now.Unix(),
		ExpiresAt:        now.Add(s.contextTTL).Unix(),
	}
	if err := txCtx.Advance(domain.PhaseAwaitingCommitSignature); err != nil {
		return nil, err
	}
	if err := s.repoManager.Contexts().Add(ctx, txCtx); err != nil {
		// nolint:errcheck
		s.leaseStore.ReleaseAll(ctx, contextID)
		return nil, fmt.Errorf("failed to persist context: %s", err)
	}

	txHex, err := commitTx.Hex()
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"context": contextID,
		"inputs":  len(commitTx.Inputs),
		"funding": s.inscriptionValue,
	}).Debug("inscription session opened")

	return &SigningRequest{ContextID: contextID, Digests: digests, TxHex: txHex}, nil
}

func (s *service) SubmitCommitSignatures(
	ctx context.Context, contextID string, signatures []string,
) (*SigningRequest, error) {
	txCtx, err := s.repoManager.Contexts().Get(ctx, contextID)
	if err != nil {
		return nil, err
	}
	if txCtx.Kind != domain.ContextKindInscribe {
		return nil, fmt.Errorf("context %s is not an inscription session", contextID)
	}
	switch txCtx.Phase {
	case domain.PhaseAwaitingCommitSignature, domain.PhaseBroadcastingCommit:
	default:
		return nil, fmt.Errorf(
			"context %s is %s, commit signatures not expected", contextID, txCtx.Phase,
		)
	}

	if txCtx.CommitTxid == "" && txCtx.IsExpired(time.Now().Unix()) {
		// nolint:errcheck
		s.abortContext(ctx, txCtx)
		return nil, errors.StaleContext.New(
			"context %s expired before commit broadcast", contextID,
		).WithMetadata(errors.StaleContextMetadata{
			ContextID: contextID, Phase: txCtx.Phase.String(),
		})
	}

	if len(signatures) != len(txCtx.CommitDigests) {
		return nil, errors.SignatureCountMismatch.New(
			"expected %d commit signatures, got %d", len(txCtx.CommitDigests), len(signatures),
		).WithMetadata(errors.SignatureCountMismatchMetadata{
			Expected: len(txCtx.CommitDigests), Got: len(signatures),
		})
	}

	pubKeyBytes, err := hex.DecodeString(txCtx.PubKey)
	if err != nil {
		return nil, fmt.Errorf("invalid context public key: %s", err)
	}
	for i, sigHex := range signatures {
		scriptSig, err := p2pkhScriptSig(sigHex, pubKeyBytes)
		if err != nil {
			return nil, fmt.Errorf("invalid signature for input %d: %s", i, err)
		}
		txCtx.CommitTx.Inputs[i].ScriptSig = scriptSig
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

	log.WithFields(log.Fields{"context": contextID, "txid": txid}).
		Info("commit transaction broadcast")

	if s.propagationDelay > 0 {
		time.Sleep(s.propagationDelay)
	}

	destScript, err := zcash.PayToAddrScript(txCtx.Destination, s.network)
	if err != nil {
		return nil, fmt.Errorf("invalid destination address: %s", err)
	}
	// The redeem script doubles as the scriptCode of the reveal digest.
	revealTx := zcash.NewTx()
	revealTx.AddInput(txid, 0, txCtx.InscriptionValue, txCtx.RevealScript)
	revealTx.AddOutput(txCtx.InscriptionValue-txCtx.RevealFee, destScript)

	digest, err := zcash.SignatureDigest(revealTx, 0, zcash.SighashAll, txCtx.BranchID)
	if err != nil {
		return nil, err
	}
	txCtx.RevealTx = revealTx
	txCtx.RevealDigest = hex.EncodeToString(digest[:])
	if err := txCtx.Advance(domain.PhaseAwaitingRevealSignature); err != nil {
		return nil, err
	}
	if err := s.repoManager.Contexts().Update(ctx, *txCtx); err != nil {
		return nil, fmt.Errorf("failed to persist context: %s", err)
	}

	revealHex, err := revealTx.Hex()
	if err != nil {
		return nil, err
	}
	return &SigningRequest{
		ContextID: contextID,
		Digests:   []string{txCtx.RevealDigest},
		TxHex:     revealHex,
	}, nil
}

func (s *service) SubmitRevealSignature(
	ctx context.Context, contextID, signature string,
) (*InscriptionResult, error) {
	txCtx, err := s.repoManager.Contexts().Get(ctx, contextID)
	if err != nil {
		return nil, err
	}
	if txCtx.Kind != domain.ContextKindInscribe {
		return nil, fmt.Errorf("context %s is not an inscription session", contextID)
	}
	switch txCtx.Phase {
	case domain.PhaseAwaitingRevealSignature, domain.PhaseBroadcastingReveal:
	default:
		return nil, fmt.Errorf(
			"context %s is %s, reveal signature not expected", contextID, txCtx.Phase,
		)
	}

	raw, err := hex.DecodeString(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %s", err)
	}
	derSig, err := zcash.EncodeDERSignature(raw, byte(zcash.SighashAll))
	if err != nil {
		return nil, err
	}
	scriptSig, err := zcash.RevealSpendScript(derSig, txCtx.RevealScript)
	if err != nil {
		return nil, err
	}
	txCtx.RevealTx.Inputs[0].ScriptSig = scriptSig

	if txCtx.Phase == domain.PhaseAwaitingRevealSignature {
		if err := txCtx.Advance(domain.PhaseBroadcastingReveal); err != nil {
			return nil, err
		}
	}

	return s.broadcastReveal(ctx, txCtx)
}

// RetryReveal re-broadcasts the signed reveal transaction of a context whose
// previous broadcast attempt was rejected. The commit is already on chain at
// this point, so the only way forward is through.
func (s *service) RetryReveal(
	ctx context.Context, contextID string,
) (*InscriptionResult, error) {
	txCtx, err := s.repoManager.Contexts().Get(ctx, contextID)
	if err != nil {
		return nil, err
	}
	if txCtx.Phase != domain.PhaseBroadcastingReveal {
		return nil, fmt.Errorf(
			"context %s is %s, nothing to retry", contextID, txCtx.Phase,
		)
	}
	if txCtx.RevealTx == nil || len(txCtx.RevealTx.Inputs[0].ScriptSig) == 0 {
		return nil, fmt.Errorf("context %s has no signed reveal transaction", contextID)
	}
	return s.broadcastReveal(ctx, txCtx)
}

func (s *service) broadcastReveal(
	ctx context.Context, txCtx *domain.TransactionContext,
) (*InscriptionResult, error) {
	txHex, err := txCtx.RevealTx.Hex()
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

	txCtx.RevealTxid = txid
	txCtx.InscriptionID = fmt.Sprintf("%si0", txid)
	txCtx.Error = ""
	if err := txCtx.Advance(domain.PhaseDone); err != nil {
		return nil, err
	}
	if err := s.repoManager.Contexts().Update(ctx, *txCtx); err != nil {
		return nil, fmt.Errorf("failed to persist context: %s", err)
	}
	// nolint:errcheck
	s.leaseStore.ReleaseAll(ctx, txCtx.ID)

	log.WithFields(log.Fields{
		"context":     txCtx.ID,
		"txid":        txid,
		"inscription": txCtx.InscriptionID,
	}).Info("reveal transaction broadcast")

	return &InscriptionResult{
		ContextID:     txCtx.ID,
		CommitTxid:    txCtx.CommitTxid,
		RevealTxid:    txid,
		InscriptionID: txCtx.InscriptionID,
	}, nil
}

// Abort abandons a context whose commit has not been broadcast yet and
// releases its leases. Once funds are committed the session can only move
// forward, aborting it would strand the funding output.
func (s *service) Abort(ctx context.Context, contextID string) error {
	txCtx, err := s.repoManager.Contexts().Get(ctx, contextID)
	if err != nil {
		return err
	}
	if txCtx.CommitTxid != "" {
		return fmt.Errorf(
			"context %s already committed funds in %s", contextID, txCtx.CommitTxid,
		)
	}
	return s.abortContext(ctx, txCtx)
}

func (s *service) abortContext(ctx context.Context, txCtx *domain.TransactionContext) error {
	if err := txCtx.Advance(domain.PhaseAborted); err != nil {
		return err
	}
	if err := s.repoManager.Contexts().Update(ctx, *txCtx); err != nil {
		return fmt.Errorf("failed to persist context: %s", err)
	}
	// nolint:errcheck
	s.leaseStore.ReleaseAll(ctx, txCtx.ID)
	log.WithField("context", txCtx.ID).Debug("context aborted")
	return nil
}

func (s *service) GetContext(
	ctx context.Context, contextID string,
) (*domain.TransactionContext, error) {
	return s.repoManager.Contexts().Get(ctx, contextID)
}

// reapExpired runs on the scheduler: it drops expired leases and aborts
// contexts that expired before their commit was broadcast.
func (s *service) reapExpired() {
	ctx := context.Background()

	if count, err := s.leaseStore.ReapExpired(ctx); err != nil {
		log.WithError(err).Warn("failed to reap expired leases")
	} else if count > 0 {
		log.Debugf("reaped %d expired leases", count)
	}

	expired, err := s.repoManager.Contexts().GetExpired(ctx, time.Now().Unix())
	if err != nil {
		log.WithError(err).Warn("failed to list expired contexts")
		return
	}
	for i := range expired {
		txCtx := expired[i]
		if txCtx.CommitTxid != "" {
			continue
		}
		if err := s.abortContext(ctx, &txCtx); err != nil {
			log.WithError(err).WithField("context", txCtx.ID).
				Warn("failed to abort expired context")
		}
	}
}

func (s *service) consensusBranchID(ctx context.Context) uint32 {
	branchID, err := s.explorer.ConsensusBranchID(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to fetch consensus branch id, using NU5")
		return zcash.ConsensusBranchNU5
	}
	return branchID
}

func parsePubKey(pubKeyHex string) (*btcec.PublicKey, error) {
	buf, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid public key encoding: %s", err)
	}
	pubKey, err := btcec.ParsePubKey(buf)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %s", err)
	}
	return pubKey, nil
}

func p2pkhScriptSig(sigHex string, pubKeyBytes []byte) ([]byte, error) {
	raw, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %s", err)
	}
	derSig, err := zcash.EncodeDERSignature(raw, byte(zcash.SighashAll))
	if err != nil {
		return nil, err
	}
	return zcash.P2PKHSpendScript(derSig, pubKeyBytes)
}

func signatureDigests(tx *zcash.Tx, hashType, branchID uint32) ([]string, error) {
	digests := make([]string, 0, len(tx.Inputs))
	for i := range tx.Inputs {
		digest, err := zcash.SignatureDigest(tx, i, hashType, branchID)
		if err != nil {
			return nil, err
		}
		digests = append(digests, hex.EncodeToString(digest[:]))
	}
	return digests, nil
}
