package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/cloutprotocol/zatoshid/internal/core/domain"
)

const contextStoreDir = "contexts"

type contextRepository struct {
	store *badgerhold.Store
}

func NewTransactionContextRepository(
	config ...interface{},
) (domain.TransactionContextRepository, error) {
	if len(config) != 2 {
		return nil, fmt.Errorf("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid base directory")
	}
	var logger badger.Logger
	if config[1] != nil {
		logger, ok = config[1].(badger.Logger)
		if !ok {
			return nil, fmt.Errorf("invalid logger")
		}
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, contextStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open context store: %s", err)
	}

	return &contextRepository{store}, nil
}

func (r *contextRepository) Add(
	ctx context.Context, txCtx domain.TransactionContext,
) error {
	if err := r.store.Insert(txCtx.ID, &txCtx); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("context %s already exists", txCtx.ID)
		}
		return err
	}
	return nil
}

func (r *contextRepository) Update(
	ctx context.Context, txCtx domain.TransactionContext,
) error {
	err := r.store.Update(txCtx.ID, &txCtx)
	if errors.Is(err, badger.ErrConflict) {
		attempts := 1
		for errors.Is(err, badger.ErrConflict) && attempts <= maxRetries {
			time.Sleep(100 * time.Millisecond)
			err = r.store.Update(txCtx.ID, &txCtx)
			attempts++
		}
	}
	if errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("context %s not found", txCtx.ID)
	}
	return err
}

func (r *contextRepository) Get(
	ctx context.Context, id string,
) (*domain.TransactionContext, error) {
	var txCtx domain.TransactionContext
	if err := r.store.Get(id, &txCtx); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("context %s not found", id)
		}
		return nil, err
	}
	return &txCtx, nil
}

func (r *contextRepository) GetByBatchID(
	ctx context.Context, batchID string,
) ([]domain.TransactionContext, error) {
	var contexts []domain.TransactionContext
	if err := r.store.Find(
		&contexts, badgerhold.Where("BatchID").Eq(batchID),
	); err != nil {
		return nil, err
	}
	return contexts, nil
}

func (r *contextRepository) GetExpired(
	ctx context.Context, now int64,
) ([]domain.TransactionContext, error) {
	var candidates []domain.TransactionContext
	if err := r.store.Find(
		&candidates, badgerhold.Where("ExpiresAt").Gt(int64(0)).And("ExpiresAt").Le(now),
	); err != nil {
		return nil, err
	}

	expired := make([]domain.TransactionContext, 0, len(candidates))
	for _, txCtx := range candidates {
		if txCtx.IsExpired(now) {
			expired = append(expired, txCtx)
		}
	}
	return expired, nil
}

func (r *contextRepository) Close() {
	// nolint:all
	r.store.Close()
}
