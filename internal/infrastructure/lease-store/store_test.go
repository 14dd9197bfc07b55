package leasestore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloutprotocol/zatoshid/internal/core/domain"
	"github.com/cloutprotocol/zatoshid/internal/core/ports"
	badgerleasestore "github.com/cloutprotocol/zatoshid/internal/infrastructure/lease-store/badger"
	inmemoryleasestore "github.com/cloutprotocol/zatoshid/internal/infrastructure/lease-store/inmemory"
	"github.com/cloutprotocol/zatoshid/pkg/errors"
)

type store struct {
	name  string
	store ports.LeaseStore
}

func storesToTest(t *testing.T) []store {
	t.Helper()
	badgerStore, err := badgerleasestore.NewLeaseStore("", nil)
	require.NoError(t, err)

	stores := []store{
		{name: "inmemory", store: inmemoryleasestore.NewLeaseStore()},
		{name: "badger", store: badgerStore},
	}
	for _, s := range stores {
		s := s
		t.Cleanup(s.store.Close)
	}
	return stores
}

func outpoint(n uint32) domain.Outpoint {
	return domain.Outpoint{
		Txid: "f4184fc596403b9d638783cf57adfe4c75c605f6356fbc91338530e9831e9e16",
		VOut: n,
	}
}

func TestAcquireIsAllOrNothing(t *testing.T) {
	for _, s := range storesToTest(t) {
		t.Run(s.name, func(t *testing.T) {
			ctx := context.Background()

			err := s.store.Acquire(
				ctx, "holder-a", []domain.Outpoint{outpoint(0), outpoint(1)}, time.Minute,
			)
			require.NoError(t, err)

			// The second holder overlaps on outpoint 1, nothing is leased.
			err = s.store.Acquire(
				ctx, "holder-b", []domain.Outpoint{outpoint(2), outpoint(1)}, time.Minute,
			)
			require.Error(t, err)
			require.True(t, errors.LeaseConflict.Is(err))

			err = s.store.Acquire(
				ctx, "holder-c", []domain.Outpoint{outpoint(2)}, time.Minute,
			)
			require.NoError(t, err)
		})
	}
}

func TestAcquireIsReentrantForSameHolder(t *testing.T) {
	for _, s := range storesToTest(t) {
		t.Run(s.name, func(t *testing.T) {
			ctx := context.Background()

			err := s.store.Acquire(
				ctx, "holder-a", []domain.Outpoint{outpoint(0)}, time.Minute,
			)
			require.NoError(t, err)
			err = s.store.Acquire(
				ctx, "holder-a", []domain.Outpoint{outpoint(0)}, time.Minute,
			)
			require.NoError(t, err)
		})
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	for _, s := range storesToTest(t) {
		t.Run(s.name, func(t *testing.T) {
			ctx := context.Background()

			err := s.store.Acquire(
				ctx, "holder-a", []domain.Outpoint{outpoint(0)}, time.Minute,
			)
			require.NoError(t, err)

			require.NoError(t, s.store.Release(ctx, "holder-a", []domain.Outpoint{outpoint(0)}))
			require.NoError(t, s.store.Release(ctx, "holder-a", []domain.Outpoint{outpoint(0)}))
			// Releasing something never held is not an error either.
			require.NoError(t, s.store.Release(ctx, "holder-a", []domain.Outpoint{outpoint(9)}))

			// The output is free again.
			err = s.store.Acquire(
				ctx, "holder-b", []domain.Outpoint{outpoint(0)}, time.Minute,
			)
			require.NoError(t, err)
		})
	}
}

func TestReleaseIgnoresForeignLeases(t *testing.T) {
	for _, s := range storesToTest(t) {
		t.Run(s.name, func(t *testing.T) {
			ctx := context.Background()

			err := s.store.Acquire(
				ctx, "holder-a", []domain.Outpoint{outpoint(0)}, time.Minute,
			)
			require.NoError(t, err)

			require.NoError(t, s.store.Release(ctx, "holder-b", []domain.Outpoint{outpoint(0)}))

			err = s.store.Acquire(
				ctx, "holder-b", []domain.Outpoint{outpoint(0)}, time.Minute,
			)
			require.Error(t, err)
		})
	}
}

func TestExpiredLeaseIsReacquirable(t *testing.T) {
	for _, s := range storesToTest(t) {
		t.Run(s.name, func(t *testing.T) {
			ctx := context.Background()

			err := s.store.Acquire(
				ctx, "holder-a", []domain.Outpoint{outpoint(0)}, -time.Second,
			)
			require.NoError(t, err)

			err = s.store.Acquire(
				ctx, "holder-b", []domain.Outpoint{outpoint(0)}, time.Minute,
			)
			require.NoError(t, err)
		})
	}
}

func TestRenewExtendsLeases(t *testing.T) {
	for _, s := range storesToTest(t) {
		t.Run(s.name, func(t *testing.T) {
			ctx := context.Background()

			err := s.store.Acquire(
				ctx, "holder-a", []domain.Outpoint{outpoint(0)}, -time.Second,
			)
			require.NoError(t, err)
			require.NoError(t, s.store.Renew(ctx, "holder-a", time.Hour))

			count, err := s.store.ReapExpired(ctx)
			require.NoError(t, err)
			require.Zero(t, count)
		})
	}
}

func TestReapExpired(t *testing.T) {
	for _, s := range storesToTest(t) {
		t.Run(s.name, func(t *testing.T) {
			ctx := context.Background()

			err := s.store.Acquire(
				ctx, "holder-a", []domain.Outpoint{outpoint(0), outpoint(1)}, -time.Second,
			)
			require.NoError(t, err)
			err = s.store.Acquire(
				ctx, "holder-b", []domain.Outpoint{outpoint(2)}, time.Minute,
			)
			require.NoError(t, err)

			count, err := s.store.ReapExpired(ctx)
			require.NoError(t, err)
			require.Equal(t, 2, count)

			count, err = s.store.ReapExpired(ctx)
			require.NoError(t, err)
			require.Zero(t, count)
		})
	}
}

func TestLeasedReportsUnexpiredLeases(t *testing.T) {
	for _, s := range storesToTest(t) {
		t.Run(s.name, func(t *testing.T) {
			ctx := context.Background()

			err := s.store.Acquire(
				ctx, "holder-a", []domain.Outpoint{outpoint(0)}, time.Minute,
			)
			require.NoError(t, err)
			err = s.store.Acquire(
				ctx, "holder-b", []domain.Outpoint{outpoint(1)}, -time.Second,
			)
			require.NoError(t, err)

			leased, err := s.store.Leased(
				ctx, []domain.Outpoint{outpoint(0), outpoint(1), outpoint(2)},
			)
			require.NoError(t, err)
			require.Len(t, leased, 1)
			require.Equal(t, "holder-a", leased[outpoint(0).String()])
		})
	}
}

func TestConcurrentAcquire(t *testing.T) {
	for _, s := range storesToTest(t) {
		t.Run(s.name, func(t *testing.T) {
			ctx := context.Background()
			const workers = 16

			var wg sync.WaitGroup
			results := make(chan error, workers)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				holder := string(rune('a' + i))
				go func() {
					defer wg.Done()
					results <- s.store.Acquire(
						ctx, holder, []domain.Outpoint{outpoint(7)}, time.Minute,
					)
				}()
			}
			wg.Wait()
			close(results)

			succeeded := 0
			for err := range results {
				if err == nil {
					succeeded++
				}
			}
			require.Equal(t, 1, succeeded)
		})
	}
}
