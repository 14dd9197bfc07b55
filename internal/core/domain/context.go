package domain

import (
	"fmt"
	"time"

	"github.com/cloutprotocol/zatoshid/pkg/zcash"
)

type Phase uint8

const (
	PhaseBuilding Phase = iota
	PhaseAwaitingCommitSignature
	PhaseBroadcastingCommit
	PhaseAwaitingRevealSignature
	PhaseBroadcastingReveal
	PhaseDone
	PhaseAborted
)

func (p Phase) String() string {
	return []string{
		"Building",
		"AwaitingCommitSignature",
		"BroadcastingCommit",
		"AwaitingRevealSignature",
		"BroadcastingReveal",
		"Done",
		"Aborted",
	}[p]
}

func (p Phase) IsTerminal() bool {
	return p == PhaseDone || p == PhaseAborted
}

// validTransitions encodes the commit/reveal state machine. Aborted is
// reachable from any non-terminal phase and is handled in Advance directly.
var validTransitions = map[Phase][]Phase{
	PhaseBuilding:                {PhaseAwaitingCommitSignature},
	PhaseAwaitingCommitSignature: {PhaseBroadcastingCommit},
	PhaseBroadcastingCommit:      {PhaseAwaitingRevealSignature, PhaseDone},
	PhaseAwaitingRevealSignature: {PhaseBroadcastingReveal},
	PhaseBroadcastingReveal:      {PhaseDone},
}

type ContextKind uint8

const (
	ContextKindInscribe ContextKind = iota
	ContextKindSwapFill
)

// TransactionContext is the persisted session of one commit/reveal pair (or
// one swap fill, which only runs the commit half of the machine). It is
// created when a build is requested, mutated as signatures arrive, and
// terminal once the reveal is broadcast or the flow is abandoned.
type TransactionContext struct {
	ID        string
	Kind      ContextKind
	Phase     Phase
	BatchID   string
	ListingID string

	Address     string
	PubKey      string
	Destination string
	Content     InscriptionContent

	BranchID         uint32
	InscriptionValue uint64
	CommitFee        uint64
	RevealFee        uint64

	RevealScript []byte

	// For swap-fill contexts the commit slots hold the single swap
	// transaction; the reveal slots stay empty.
	CommitTx      *zcash.Tx
	RevealTx      *zcash.Tx
	CommitDigests []string
	RevealDigest  string
	CommitTxid    string
	RevealTxid    string
	InscriptionID string

	LeasedOutpoints []Outpoint

	Error     string
	CreatedAt int64
	UpdatedAt int64
	ExpiresAt int64
}

// Advance moves the context to the next phase, enforcing the state machine.
func (c *TransactionContext) Advance(next Phase) error {
	if next == PhaseAborted {
		if c.Phase.IsTerminal() {
			return fmt.Errorf("context %s is already %s", c.ID, c.Phase)
		}
		c.Phase = PhaseAborted
		c.UpdatedAt = time.Now().Unix()
		return nil
	}
	for _, allowed := range validTransitions[c.Phase] {
		if allowed == next {
			c.Phase = next
			c.UpdatedAt = time.Now().Unix()
			return nil
		}
	}
	return fmt.Errorf(
		"invalid phase transition %s -> %s for context %s", c.Phase, next, c.ID,
	)
}

func (c *TransactionContext) IsExpired(now int64) bool {
	return !c.Phase.IsTerminal() && c.ExpiresAt > 0 && now >= c.ExpiresAt
}
