package db

import (
	"fmt"

	"github.com/cloutprotocol/zatoshid/internal/core/domain"
	"github.com/cloutprotocol/zatoshid/internal/core/ports"
	badgerdb "github.com/cloutprotocol/zatoshid/internal/infrastructure/db/badger"
)

var (
	contextStoreTypes = map[string]func(...interface{}) (domain.TransactionContextRepository, error){
		"badger": badgerdb.NewTransactionContextRepository,
	}
	jobStoreTypes = map[string]func(...interface{}) (domain.BatchJobRepository, error){
		"badger": badgerdb.NewBatchJobRepository,
	}
	listingStoreTypes = map[string]func(...interface{}) (domain.SwapListingRepository, error){
		"badger": badgerdb.NewSwapListingRepository,
	}
)

// ServiceConfig selects the datastore backend. An empty DataStoreDir opens
// the badger stores in memory, which is what the tests use.
type ServiceConfig struct {
	DataStoreType string
	DataStoreDir  string
}

type service struct {
	contextStore domain.TransactionContextRepository
	jobStore     domain.BatchJobRepository
	listingStore domain.SwapListingRepository
}

func NewService(config ServiceConfig) (ports.RepoManager, error) {
	contextFactory, ok := contextStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("unsupported datastore type %s", config.DataStoreType)
	}
	jobFactory := jobStoreTypes[config.DataStoreType]
	listingFactory := listingStoreTypes[config.DataStoreType]

	contextStore, err := contextFactory(config.DataStoreDir, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open context store: %s", err)
	}
	jobStore, err := jobFactory(config.DataStoreDir, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %s", err)
	}
	listingStore, err := listingFactory(config.DataStoreDir, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open listing store: %s", err)
	}

	return &service{
		contextStore: contextStore,
		jobStore:     jobStore,
		listingStore: listingStore,
	}, nil
}

func (s *service) Contexts() domain.TransactionContextRepository {
	return s.contextStore
}

func (s *service) Jobs() domain.BatchJobRepository {
	return s.jobStore
}

func (s *service) Listings() domain.SwapListingRepository {
	return s.listingStore
}

func (s *service) Close() {
	s.contextStore.Close()
	s.jobStore.Close()
	s.listingStore.Close()
}
