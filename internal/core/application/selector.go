package application

import (
	"context"

	"github.com/cloutprotocol/zatoshid/internal/core/domain"
	"github.com/cloutprotocol/zatoshid/pkg/errors"
)

// selectFunding picks unspent outputs to cover the required amount, walking
// the list in the order the explorer returned it and stopping at the first
// prefix whose sum is sufficient. Tainted outputs never qualify as plain
// funding: spending one would destroy the inscription it carries. Outputs
// already leased to another session are skipped the same way so concurrent
// sessions settle on disjoint funding.
func selectFunding(
	utxos []domain.UnspentOutput, leased map[string]string, required uint64,
) ([]domain.UnspentOutput, uint64, error) {
	selected := make([]domain.UnspentOutput, 0, len(utxos))
	available := uint64(0)
	tainted := 0
	firstLeased := ""

	for _, utxo := range utxos {
		if utxo.Tainted {
			tainted++
			continue
		}
		if _, ok := leased[utxo.Outpoint.String()]; ok {
			if firstLeased == "" {
				firstLeased = utxo.Outpoint.String()
			}
			continue
		}
		if utxo.Value == 0 {
			continue
		}
		available += utxo.Value
		if available < required {
			selected = append(selected, utxo)
			continue
		}
		selected = append(selected, utxo)
		return selected, available, nil
	}

	if len(selected) == 0 && tainted > 0 && firstLeased == "" {
		return nil, 0, errors.TaintedOutputOnly.New(
			"all %d candidate outputs carry inscriptions", tainted,
		).WithMetadata(errors.TaintedOutputOnlyMetadata{
			Candidates: tainted,
		})
	}

	if firstLeased != "" {
		return nil, 0, errors.LeaseConflict.New(
			"output %s is leased by another session", firstLeased,
		).WithMetadata(errors.LeaseConflictMetadata{
			Outpoint: firstLeased, Holder: leased[firstLeased],
		})
	}

	return nil, 0, errors.InsufficientFunds.New(
		"need %d zatoshis, have %d spendable", required, available,
	).WithMetadata(errors.InsufficientFundsMetadata{
		Required:  required,
		Available: available,
		Shortfall: required - available,
	})
}

// leasedOutpoints looks up which of the candidate outputs already carry a
// lease, so selection never settles on an output another session holds.
func (s *service) leasedOutpoints(
	ctx context.Context, utxos []domain.UnspentOutput,
) (map[string]string, error) {
	outpoints := make([]domain.Outpoint, 0, len(utxos))
	for _, utxo := range utxos {
		outpoints = append(outpoints, utxo.Outpoint)
	}
	return s.leaseStore.Leased(ctx, outpoints)
}
