package application

import (
	"github.com/cloutprotocol/zatoshid/internal/core/domain"
)

// StartInscriptionRequest opens a commit/reveal session. PubKey is the
// 33-byte compressed secp256k1 key (hex) that will sign both transactions;
// Address is the funding address derived from it, Destination receives the
// inscribed output.
type StartInscriptionRequest struct {
	Address     string
	PubKey      string
	Destination string
	Content     domain.InscriptionContent
}

// SigningRequest is handed back whenever the engine needs signatures. The
// digests are 32-byte sighash values (hex), ordered by input index, and the
// transaction hex is included so the signer can audit what it is signing.
type SigningRequest struct {
	ContextID string
	Digests   []string
	TxHex     string
}

type InscriptionResult struct {
	ContextID     string
	CommitTxid    string
	RevealTxid    string
	InscriptionID string
}

type BatchRequest struct {
	Address     string
	PubKey      string
	Destination string
	Content     domain.InscriptionContent
	Count       int
}

// CreateListingRequest opens a one-sided swap offer for an inscribed output.
type CreateListingRequest struct {
	SellerAddress   string
	SellerPubKey    string
	TokenOutpoint   domain.Outpoint
	Price           uint64
	TokenDescriptor string
}

// ListingSigningRequest carries the single offer digest the seller must sign
// under the append-safe signature mode.
type ListingSigningRequest struct {
	ListingID string
	Digest    string
	TxHex     string
}

type FillListingRequest struct {
	ListingID    string
	BuyerAddress string
	BuyerPubKey  string
	Destination  string
}

type SwapFillResult struct {
	ContextID string
	ListingID string
	Txid      string
}
