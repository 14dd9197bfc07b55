package ports

import (
	"context"

	"github.com/cloutprotocol/zatoshid/internal/core/domain"
)

// Explorer is the read/broadcast surface of a Zcash chain index. Broadcast
// must be idempotent: re-submitting an already known transaction returns its
// txid without error.
type Explorer interface {
	ListUnspent(ctx context.Context, address string) ([]domain.UnspentOutput, error)
	IsTainted(ctx context.Context, outpoint domain.Outpoint) (bool, error)
	Broadcast(ctx context.Context, txHex string) (string, error)
	IsTransactionConfirmed(ctx context.Context, txid string) (bool, error)
	ConsensusBranchID(ctx context.Context) (uint32, error)
}
