package domain

import "context"

type SwapListingRepository interface {
	Add(ctx context.Context, listing SwapListing) error
	Update(ctx context.Context, listing SwapListing) error
	Get(ctx context.Context, id string) (*SwapListing, error)
	GetActive(ctx context.Context) ([]SwapListing, error)
	Close()
}
