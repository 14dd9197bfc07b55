package ports

import "github.com/cloutprotocol/zatoshid/internal/core/domain"

type RepoManager interface {
	Contexts() domain.TransactionContextRepository
	Jobs() domain.BatchJobRepository
	Listings() domain.SwapListingRepository
	Close()
}
