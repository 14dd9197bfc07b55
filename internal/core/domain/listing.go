package domain

import (
	"fmt"

	"github.com/cloutprotocol/zatoshid/pkg/zcash"
)

type ListingStatus uint8

const (
	ListingStatusPending ListingStatus = iota
	ListingStatusActive
	ListingStatusCompleted
	ListingStatusCancelled
)

func (s ListingStatus) String() string {
	return []string{
		"Pending",
		"Active",
		"Completed",
		"Cancelled",
	}[s]
}

func (s ListingStatus) IsTerminal() bool {
	return s == ListingStatusCompleted || s == ListingStatusCancelled
}

// SwapListing is a seller's one-sided offer: a transaction with the
// token-bearing input paired to a payment output, signed under the
// append-safe signature mode so a buyer can later merge funding inputs and a
// change output without invalidating the seller's signature.
type SwapListing struct {
	ID              string
	Status          ListingStatus
	SellerAddress   string
	SellerPubKey    string
	Price           uint64
	TokenOutpoint   Outpoint
	TokenValue      uint64
	TokenDescriptor string
	PartialTx       *zcash.Tx
	OfferDigest     string
	FilledTxid      string
	CreatedAt       int64
	UpdatedAt       int64
}

// SetStatus mutates the listing to a terminal status exactly once.
func (l *SwapListing) SetStatus(next ListingStatus) error {
	if l.Status.IsTerminal() {
		return fmt.Errorf("listing %s is already %s", l.ID, l.Status)
	}
	l.Status = next
	return nil
}
