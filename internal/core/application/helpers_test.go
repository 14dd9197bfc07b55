package application

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/cloutprotocol/zatoshid/internal/core/domain"
	"github.com/cloutprotocol/zatoshid/internal/core/ports"
	"github.com/cloutprotocol/zatoshid/pkg/errors"
	"github.com/cloutprotocol/zatoshid/pkg/zcash"
)

const (
	testInscriptionValue uint64 = 60000
	testCommitFee        uint64 = 10000
	testRevealFee        uint64 = 10000
	testSwapFee          uint64 = 10000
	testRequired                = testInscriptionValue + testCommitFee
)

func testText(msg string) domain.InscriptionContent {
	return domain.InscriptionContent{Kind: domain.ContentKindText, Payload: []byte(msg)}
}

func testIdentity(t *testing.T, seed byte) (address, pubKeyHex string) {
	t.Helper()
	_, pub := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
	pubBytes := pub.SerializeCompressed()
	addr, err := zcash.EncodeP2PKHAddress(btcutil.Hash160(pubBytes), zcash.Mainnet)
	require.NoError(t, err)
	return addr, hex.EncodeToString(pubBytes)
}

func testUTXO(t *testing.T, addr string, n byte, value uint64, tainted bool) domain.UnspentOutput {
	t.Helper()
	script, err := zcash.PayToAddrScript(addr, zcash.Mainnet)
	require.NoError(t, err)
	txid := chainhash.DoubleHashH([]byte{n}).String()
	return domain.UnspentOutput{
		Outpoint: domain.Outpoint{Txid: txid, VOut: 0},
		Value:    value,
		Script:   script,
		Tainted:  tainted,
	}
}

type fakeExplorer struct {
	lock          sync.Mutex
	utxos         map[string][]domain.UnspentOutput
	tainted       map[string]bool
	scripts       map[string]string
	branchID      uint32
	broadcastErrs []error
	broadcasts    []string
}

func newFakeExplorer() *fakeExplorer {
	return &fakeExplorer{
		utxos:    make(map[string][]domain.UnspentOutput),
		tainted:  make(map[string]bool),
		scripts:  make(map[string]string),
		branchID: zcash.ConsensusBranchNU5,
	}
}

func (e *fakeExplorer) addUTXOs(addr string, utxos ...domain.UnspentOutput) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.utxos[addr] = append(e.utxos[addr], utxos...)
	for _, utxo := range utxos {
		if utxo.Tainted {
			e.tainted[utxo.Outpoint.String()] = true
		}
		if len(utxo.Script) > 0 {
			e.scripts[hex.EncodeToString(utxo.Script)] = addr
		}
	}
}

func (e *fakeExplorer) failNextBroadcasts(errs ...error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.broadcastErrs = append(e.broadcastErrs, errs...)
}

func (e *fakeExplorer) broadcastCount() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return len(e.broadcasts)
}

func (e *fakeExplorer) ListUnspent(
	_ context.Context, address string,
) ([]domain.UnspentOutput, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	return append([]domain.UnspentOutput{}, e.utxos[address]...), nil
}

func (e *fakeExplorer) IsTainted(_ context.Context, outpoint domain.Outpoint) (bool, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.tainted[outpoint.String()], nil
}

func (e *fakeExplorer) Broadcast(_ context.Context, txHex string) (string, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if len(e.broadcastErrs) > 0 {
		err := e.broadcastErrs[0]
		e.broadcastErrs = e.broadcastErrs[1:]
		if err != nil {
			return "", err
		}
	}
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return "", err
	}
	parsed, err := parseBroadcastTx(raw)
	if err != nil {
		return "", err
	}
	e.broadcasts = append(e.broadcasts, txHex)
	txid := chainhash.DoubleHashH(raw).String()
	e.applyBroadcast(txid, parsed)
	return txid, nil
}

// applyBroadcast mimics confirmation: spent outputs disappear from the
// unspent sets and outputs paying a known address become new unspent
// outputs. A transaction spending an output the explorer never tracked is a
// reveal spending its commit's funding output, so its first output carries
// the inscription and is flagged tainted.
func (e *fakeExplorer) applyBroadcast(txid string, parsed *parsedTx) {
	spendsUntracked := false
	for _, spent := range parsed.spent {
		found := false
		for addr, list := range e.utxos {
			kept := list[:0]
			for _, utxo := range list {
				if utxo.Outpoint == spent {
					found = true
					continue
				}
				kept = append(kept, utxo)
			}
			e.utxos[addr] = kept
		}
		if !found {
			spendsUntracked = true
		}
	}

	for i, out := range parsed.outputs {
		addr, known := e.scripts[hex.EncodeToString(out.Script)]
		if !known {
			continue
		}
		tainted := spendsUntracked && i == 0
		utxo := domain.UnspentOutput{
			Outpoint: domain.Outpoint{Txid: txid, VOut: uint32(i)},
			Value:    out.Value,
			Script:   out.Script,
			Tainted:  tainted,
		}
		e.utxos[addr] = append(e.utxos[addr], utxo)
		if tainted {
			e.tainted[utxo.Outpoint.String()] = true
		}
	}
}

func (e *fakeExplorer) IsTransactionConfirmed(_ context.Context, _ string) (bool, error) {
	return true, nil
}

func (e *fakeExplorer) ConsensusBranchID(_ context.Context) (uint32, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.branchID, nil
}

type parsedTx struct {
	spent   []domain.Outpoint
	outputs []zcash.TxOutput
}

// parseBroadcastTx reads the prevouts and outputs out of a serialized v4
// transaction, which is all the fake needs to maintain its unspent sets.
func parseBroadcastTx(raw []byte) (*parsedTx, error) {
	r := bytes.NewReader(raw)
	if _, err := io.CopyN(io.Discard, r, 8); err != nil {
		return nil, err
	}

	parsed := &parsedTx{}
	inCount, err := readCompactSize(r)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < inCount; i++ {
		hashBytes := make([]byte, 32)
		if _, err := io.ReadFull(r, hashBytes); err != nil {
			return nil, err
		}
		var vout uint32
		if err := binary.Read(r, binary.LittleEndian, &vout); err != nil {
			return nil, err
		}
		scriptLen, err := readCompactSize(r)
		if err != nil {
			return nil, err
		}
		if _, err := io.CopyN(io.Discard, r, int64(scriptLen)+4); err != nil {
			return nil, err
		}
		hash, err := chainhash.NewHash(hashBytes)
		if err != nil {
			return nil, err
		}
		parsed.spent = append(parsed.spent, domain.Outpoint{
			Txid: hash.String(), VOut: vout,
		})
	}

	outCount, err := readCompactSize(r)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < outCount; i++ {
		var value uint64
		if err := binary.Read(r, binary.LittleEndian, &value); err != nil {
			return nil, err
		}
		scriptLen, err := readCompactSize(r)
		if err != nil {
			return nil, err
		}
		script := make([]byte, scriptLen)
		if _, err := io.ReadFull(r, script); err != nil {
			return nil, err
		}
		parsed.outputs = append(parsed.outputs, zcash.TxOutput{Value: value, Script: script})
	}
	return parsed, nil
}

func readCompactSize(r *bytes.Reader) (uint64, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch b {
	case 253:
		var v uint16
		err := binary.Read(r, binary.LittleEndian, &v)
		return uint64(v), err
	case 254:
		var v uint32
		err := binary.Read(r, binary.LittleEndian, &v)
		return uint64(v), err
	case 255:
		var v uint64
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	default:
		return uint64(b), nil
	}
}

type fakeLeaseStore struct {
	lock   sync.Mutex
	leases map[string]domain.Lease
}

func newFakeLeaseStore() *fakeLeaseStore {
	return &fakeLeaseStore{leases: make(map[string]domain.Lease)}
}

func (s *fakeLeaseStore) count() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.leases)
}

func (s *fakeLeaseStore) Acquire(
	_ context.Context, holderID string, outpoints []domain.Outpoint, ttl time.Duration,
) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	now := time.Now()
	for _, outpoint := range outpoints {
		lease, ok := s.leases[outpoint.String()]
		if ok && lease.HolderID != holderID && !lease.IsExpired(now) {
			return errors.LeaseConflict.New(
				"output %s is leased by another session", outpoint,
			).WithMetadata(errors.LeaseConflictMetadata{
				Outpoint: outpoint.String(), Holder: lease.HolderID,
			})
		}
	}
	for _, outpoint := range outpoints {
		s.leases[outpoint.String()] = domain.Lease{
			Outpoint:  outpoint.String(),
			HolderID:  holderID,
			ExpiresAt: now.Add(ttl).Unix(),
		}
	}
	return nil
}

func (s *fakeLeaseStore) Renew(_ context.Context, holderID string, ttl time.Duration) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	expiresAt := time.Now().Add(ttl).Unix()
	for key, lease := range s.leases {
		if lease.HolderID == holderID {
			lease.ExpiresAt = expiresAt
			s.leases[key] = lease
		}
	}
	return nil
}

func (s *fakeLeaseStore) Release(
	_ context.Context, holderID string, outpoints []domain.Outpoint,
) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, outpoint := range outpoints {
		if lease, ok := s.leases[outpoint.String()]; ok && lease.HolderID == holderID {
			delete(s.leases, outpoint.String())
		}
	}
	return nil
}

func (s *fakeLeaseStore) ReleaseAll(_ context.Context, holderID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	for key, lease := range s.leases {
		if lease.HolderID == holderID {
			delete(s.leases, key)
		}
	}
	return nil
}

func (s *fakeLeaseStore) Leased(
	_ context.Context, outpoints []domain.Outpoint,
) (map[string]string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	now := time.Now()
	leased := make(map[string]string)
	for _, outpoint := range outpoints {
		if lease, ok := s.leases[outpoint.String()]; ok && !lease.IsExpired(now) {
			leased[outpoint.String()] = lease.HolderID
		}
	}
	return leased, nil
}

func (s *fakeLeaseStore) ReapExpired(_ context.Context) (int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	now := time.Now()
	count := 0
	for key, lease := range s.leases {
		if lease.IsExpired(now) {
			delete(s.leases, key)
			count++
		}
	}
	return count, nil
}

func (s *fakeLeaseStore) Close() {}

type fakeContextRepo struct {
	lock     sync.Mutex
	contexts map[string]domain.TransactionContext
}

func (r *fakeContextRepo) Add(_ context.Context, txCtx domain.TransactionContext) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.contexts[txCtx.ID]; ok {
		return fmt.Errorf("context %s already exists", txCtx.ID)
	}
	r.contexts[txCtx.ID] = txCtx
	return nil
}

func (r *fakeContextRepo) Update(_ context.Context, txCtx domain.TransactionContext) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.contexts[txCtx.ID]; !ok {
		return fmt.Errorf("context %s not found", txCtx.ID)
	}
	r.contexts[txCtx.ID] = txCtx
	return nil
}

func (r *fakeContextRepo) Get(
	_ context.Context, id string,
) (*domain.TransactionContext, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	txCtx, ok := r.contexts[id]
	if !ok {
		return nil, fmt.Errorf("context %s not found", id)
	}
	return &txCtx, nil
}

func (r *fakeContextRepo) GetByBatchID(
	_ context.Context, batchID string,
) ([]domain.TransactionContext, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	list := make([]domain.TransactionContext, 0)
	for _, txCtx := range r.contexts {
		if txCtx.BatchID == batchID {
			list = append(list, txCtx)
		}
	}
	return list, nil
}

func (r *fakeContextRepo) GetExpired(
	_ context.Context, now int64,
) ([]domain.TransactionContext, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	list := make([]domain.TransactionContext, 0)
	for _, txCtx := range r.contexts {
		if txCtx.IsExpired(now) {
			list = append(list, txCtx)
		}
	}
	return list, nil
}

func (r *fakeContextRepo) Close() {}

type fakeJobRepo struct {
	lock sync.Mutex
	jobs map[string]domain.BatchJob
}

func (r *fakeJobRepo) Add(_ context.Context, job domain.BatchJob) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	r.jobs[job.ID] = job
	return nil
}

func (r *fakeJobRepo) Update(_ context.Context, job domain.BatchJob) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		return fmt.Errorf("job %s not found", job.ID)
	}
	r.jobs[job.ID] = job
	return nil
}

func (r *fakeJobRepo) Get(_ context.Context, id string) (*domain.BatchJob, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	return &job, nil
}

func (r *fakeJobRepo) GetUnfinished(_ context.Context) ([]domain.BatchJob, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	list := make([]domain.BatchJob, 0)
	for _, job := range r.jobs {
		if !job.Status.IsTerminal() && job.Status != domain.JobStatusFailed {
			list = append(list, job)
		}
	}
	return list, nil
}

func (r *fakeJobRepo) Close() {}

type fakeListingRepo struct {
	lock     sync.Mutex
	listings map[string]domain.SwapListing
}

func (r *fakeListingRepo) Add(_ context.Context, listing domain.SwapListing) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.listings[listing.ID]; ok {
		return fmt.Errorf("listing %s already exists", listing.ID)
	}
	r.listings[listing.ID] = listing
	return nil
}

func (r *fakeListingRepo) Update(_ context.Context, listing domain.SwapListing) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.listings[listing.ID]; !ok {
		return fmt.Errorf("listing %s not found", listing.ID)
	}
	r.listings[listing.ID] = listing
	return nil
}

func (r *fakeListingRepo) Get(_ context.Context, id string) (*domain.SwapListing, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	listing, ok := r.listings[id]
	if !ok {
		return nil, fmt.Errorf("listing %s not found", id)
	}
	return &listing, nil
}

func (r *fakeListingRepo) GetActive(_ context.Context) ([]domain.SwapListing, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	list := make([]domain.SwapListing, 0)
	for _, listing := range r.listings {
		if listing.Status == domain.ListingStatusActive {
			list = append(list, listing)
		}
	}
	return list, nil
}

func (r *fakeListingRepo) Close() {}

type fakeRepoManager struct {
	contexts *fakeContextRepo
	jobs     *fakeJobRepo
	listings *fakeListingRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		contexts: &fakeContextRepo{contexts: make(map[string]domain.TransactionContext)},
		jobs:     &fakeJobRepo{jobs: make(map[string]domain.BatchJob)},
		listings: &fakeListingRepo{listings: make(map[string]domain.SwapListing)},
	}
}

func (m *fakeRepoManager) Contexts() domain.TransactionContextRepository { return m.contexts }
func (m *fakeRepoManager) Jobs() domain.BatchJobRepository               { return m.jobs }
func (m *fakeRepoManager) Listings() domain.SwapListingRepository        { return m.listings }
func (m *fakeRepoManager) Close()                                       {}

// digestSigner derives deterministic in-range scalars from each digest. The
// engine never verifies signatures cryptographically, it only requires valid
// 64-byte raw material, so this stands in for a real wallet.
type digestSigner struct {
	gate chan struct{}
}

func (s *digestSigner) SignDigests(_ context.Context, digests []string) ([]string, error) {
	if s.gate != nil {
		<-s.gate
	}
	sigs := make([]string, 0, len(digests))
	for _, digest := range digests {
		r := scalarFromSeed("r" + digest)
		sv := scalarFromSeed("s" + digest)
		sigs = append(sigs, hex.EncodeToString(append(r, sv...)))
	}
	return sigs, nil
}

func (s *digestSigner) PublicKey(_ context.Context) (string, error) {
	_, pub := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x01}, 32))
	return hex.EncodeToString(pub.SerializeCompressed()), nil
}

func scalarFromSeed(seed string) []byte {
	sum := sha256.Sum256([]byte(seed))
	v := new(big.Int).SetBytes(sum[:])
	v.Mod(v, btcec.S256().N)
	if v.Sign() == 0 {
		v.SetInt64(1)
	}
	buf := make([]byte, 32)
	v.FillBytes(buf)
	return buf
}

type testEnv struct {
	svc      Service
	explorer *fakeExplorer
	leases   *fakeLeaseStore
	repos    *fakeRepoManager
	signer   *digestSigner
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithTTL(t, time.Hour)
}

func newTestEnvWithTTL(t *testing.T, contextTTL time.Duration) *testEnv {
	t.Helper()
	explorer := newFakeExplorer()
	leases := newFakeLeaseStore()
	repos := newFakeRepoManager()
	svc, err := NewService(
		repos, explorer, leases, nil, zcash.Mainnet,
		testInscriptionValue, testCommitFee, testRevealFee, testSwapFee,
		time.Minute, contextTTL, 0,
	)
	require.NoError(t, err)
	t.Cleanup(svc.Stop)
	return &testEnv{
		svc:      svc,
		explorer: explorer,
		leases:   leases,
		repos:    repos,
		signer:   &digestSigner{},
	}
}

var _ ports.Explorer = (*fakeExplorer)(nil)
var _ ports.LeaseStore = (*fakeLeaseStore)(nil)
var _ ports.RepoManager = (*fakeRepoManager)(nil)
var _ ports.Signer = (*digestSigner)(nil)
