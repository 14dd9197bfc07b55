package ports

import (
	"context"
	"time"

	"github.com/cloutprotocol/zatoshid/internal/core/domain"
)

// LeaseStore reserves outputs for in-flight transaction contexts. Acquire is
// all-or-nothing: if any requested outpoint already carries an unexpired
// lease held by someone else, nothing is leased and the conflicting outpoint
// is reported.
type LeaseStore interface {
	Acquire(
		ctx context.Context, holderID string, outpoints []domain.Outpoint, ttl time.Duration,
	) error
	Renew(ctx context.Context, holderID string, ttl time.Duration) error
	// Release is idempotent, releasing outpoints not held is not an error.
	Release(ctx context.Context, holderID string, outpoints []domain.Outpoint) error
	ReleaseAll(ctx context.Context, holderID string) error
	// Leased reports which of the given outpoints carry an unexpired lease,
	// keyed by outpoint string with the holder id as value.
	Leased(ctx context.Context, outpoints []domain.Outpoint) (map[string]string, error)
	ReapExpired(ctx context.Context) (int, error)
	Close()
}
