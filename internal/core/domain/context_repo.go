package domain

import "context"

type TransactionContextRepository interface {
	Add(ctx context.Context, txCtx TransactionContext) error
	Update(ctx context.Context, txCtx TransactionContext) error
	Get(ctx context.Context, id string) (*TransactionContext, error)
	GetByBatchID(ctx context.Context, batchID string) ([]TransactionContext, error)
	GetExpired(ctx context.Context, now int64) ([]TransactionContext, error)
	Close()
}
