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

const listingStoreDir = "listings"

type listingRepository struct {
	store *badgerhold.Store
}

func NewSwapListingRepository(config ...interface{}) (domain.SwapListingRepository, error) {
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
		dir = filepath.Join(baseDir, listingStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open listing store: %s", err)
	}

	return &listingRepository{store}, nil
}

func (r *listingRepository) Add(ctx context.Context, listing domain.SwapListing) error {
	if err := r.store.Insert(listing.ID, &listing); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("listing %s already exists", listing.ID)
		}
		return err
	}
	return nil
}

func (r *listingRepository) Update(ctx context.Context, listing domain.SwapListing) error {
	err := r.store.Update(listing.ID, &listing)
	if errors.Is(err, badger.ErrConflict) {
		attempts := 1
		for errors.Is(err, badger.ErrConflict) && attempts <= maxRetries {
			time.Sleep(100 * time.Millisecond)
			err = r.store.Update(listing.ID, &listing)
			attempts++
		}
	}
	if errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("listing %s not found", listing.ID)
	}
	return err
}

func (r *listingRepository) Get(
	ctx context.Context, id string,
) (*domain.SwapListing, error) {
	var listing domain.SwapListing
	if err := r.store.Get(id, &listing); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("listing %s not found", id)
		}
		return nil, err
	}
	return &listing, nil
}

func (r *listingRepository) GetActive(ctx context.Context) ([]domain.SwapListing, error) {
	var listings []domain.SwapListing
	if err := r.store.Find(
		&listings, badgerhold.Where("Status").Eq(domain.ListingStatusActive),
	); err != nil {
		return nil, err
	}
	return listings, nil
}

func (r *listingRepository) Close() {
	// nolint:all
	r.store.Close()
}
