package badgerleasestore

import (
	"context"
	goerrors "errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/cloutprotocol/zatoshid/internal/core/domain"
	"github.com/cloutprotocol/zatoshid/internal/core/ports"
	"github.com/cloutprotocol/zatoshid/pkg/errors"
)

const leaseStoreDir = "leases"

// leaseStore persists leases in badger so reservations survive a restart.
// The store-level lock in badgerhold serializes Acquire's check-then-set.
type leaseStore struct {
	store *badgerhold.Store
}

func NewLeaseStore(baseDir string, logger badger.Logger) (ports.LeaseStore, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, leaseStoreDir)
	}

	isInMemory := len(dir) <= 0
	opts := badger.DefaultOptions(dir)
	opts.Logger = logger
	if isInMemory {
		opts.InMemory = true
	}

	store, err := badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open lease store: %s", err)
	}

	return &leaseStore{store}, nil
}

func (s *leaseStore) Acquire(
	_ context.Context, holderID string, outpoints []domain.Outpoint, ttl time.Duration,
) error {
	now := time.Now()
	expiresAt := now.Add(ttl).Unix()

	tx := s.store.Badger().NewTransaction(true)
	defer tx.Discard()

	for _, outpoint := range outpoints {
		var lease domain.Lease
		err := s.store.TxGet(tx, outpoint.String(), &lease)
		if err != nil && !goerrors.Is(err, badgerhold.ErrNotFound) {
			return err
		}
		if err == nil && lease.HolderID != holderID && !lease.IsExpired(now) {
			return errors.LeaseConflict.New(
				"output %s is leased by another session", outpoint,
			).WithMetadata(errors.LeaseConflictMetadata{
				Outpoint: outpoint.String(), Holder: lease.HolderID,
			})
		}
	}

	for _, outpoint := range outpoints {
		lease := domain.Lease{
			Outpoint:  outpoint.String(),
			HolderID:  holderID,
			ExpiresAt: expiresAt,
		}
		if err := s.store.TxUpsert(tx, outpoint.String(), &lease); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *leaseStore) Renew(_ context.Context, holderID string, ttl time.Duration) error {
	expiresAt := time.Now().Add(ttl).Unix()
	return s.store.UpdateMatching(
		&domain.Lease{}, badgerhold.Where("HolderID").Eq(holderID),
		func(record interface{}) error {
			lease, ok := record.(*domain.Lease)
			if !ok {
				return fmt.Errorf("unexpected record type %T", record)
			}
			lease.ExpiresAt = expiresAt
			return nil
		},
	)
}

func (s *leaseStore) Release(
	_ context.Context, holderID string, outpoints []domain.Outpoint,
) error {
	for _, outpoint := range outpoints {
		var lease domain.Lease
		err := s.store.Get(outpoint.String(), &lease)
		if goerrors.Is(err, badgerhold.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if lease.HolderID != holderID {
			continue
		}
		if err := s.store.Delete(outpoint.String(), &domain.Lease{}); err != nil &&
			!goerrors.Is(err, badgerhold.ErrNotFound) {
			return err
		}
	}
	return nil
}

func (s *leaseStore) ReleaseAll(_ context.Context, holderID string) error {
	return s.store.DeleteMatching(
		&domain.Lease{}, badgerhold.Where("HolderID").Eq(holderID),
	)
}

func (s *leaseStore) Leased(
	_ context.Context, outpoints []domain.Outpoint,
) (map[string]string, error) {
	now := time.Now()
	leased := make(map[string]string)
	for _, outpoint := range outpoints {
		var lease domain.Lease
		err := s.store.Get(outpoint.String(), &lease)
		if goerrors.Is(err, badgerhold.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !lease.IsExpired(now) {
			leased[outpoint.String()] = lease.HolderID
		}
	}
	return leased, nil
}

func (s *leaseStore) ReapExpired(_ context.Context) (int, error) {
	now := time.Now().Unix()
	var expired []domain.Lease
	if err := s.store.Find(
		&expired, badgerhold.Where("ExpiresAt").Le(now),
	); err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}
	if err := s.store.DeleteMatching(
		&domain.Lease{}, badgerhold.Where("ExpiresAt").Le(now),
	); err != nil {
		return 0, err
	}
	return len(expired), nil
}

func (s *leaseStore) Close() {
	// nolint:all
	s.store.Close()
}
