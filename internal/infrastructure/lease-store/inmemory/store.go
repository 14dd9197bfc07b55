package inmemoryleasestore

import (
	"context"
	"sync"
	"time"

	"github.com/cloutprotocol/zatoshid/internal/core/domain"
	"github.com/cloutprotocol/zatoshid/internal/core/ports"
	"github.com/cloutprotocol/zatoshid/pkg/errors"
)

type leaseStore struct {
	lock   *sync.RWMutex
	leases map[string]domain.Lease
}

func NewLeaseStore() ports.LeaseStore {
	return &leaseStore{
		lock:   &sync.RWMutex{},
		leases: make(map[string]domain.Lease),
	}
}

func (s *leaseStore) Acquire(
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

	expiresAt := now.Add(ttl).Unix()
	for _, outpoint := range outpoints {
		s.leases[outpoint.String()] = domain.Lease{
			Outpoint:  outpoint.String(),
			HolderID:  holderID,
			ExpiresAt: expiresAt,
		}
	}
	return nil
}

func (s *leaseStore) Renew(_ context.Context, holderID string, ttl time.Duration) error {
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

func (s *leaseStore) Release(
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

func (s *leaseStore) ReleaseAll(_ context.Context, holderID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	for key, lease := range s.leases {
		if lease.HolderID == holderID {
			delete(s.leases, key)
		}
	}
	return nil
}

func (s *leaseStore) Leased(
	_ context.Context, outpoints []domain.Outpoint,
) (map[string]string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	now := time.Now()
	leased := make(map[string]string)
	for _, outpoint := range outpoints {
		if lease, ok := s.leases[outpoint.String()]; ok && !lease.IsExpired(now) {
			leased[outpoint.String()] = lease.HolderID
		}
	}
	return leased, nil
}

func (s *leaseStore) ReapExpired(_ context.Context) (int, error) {
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

func (s *leaseStore) Close() {}
