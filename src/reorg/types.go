package reorg

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// None of the remembered blocks is on the source's chain anymore
var ErrNoCommonAncestor = errors.New("no common ancestor with the bitcoin source")

type State string

const (
	StateStable    State = "stable"
	StateObserving State = "observing"
	StateRewinding State = "rewinding"
)

// Block remembered by the detector
type Entry struct {
	Height uint32
	Hash   chainhash.Hash
}

// Instruction to move the cursor back to Target, the highest height still on the source's chain
type Rewind struct {
	Target uint32
	Tip    uint32

	// Lowest remembered height that diverged
	DivergedAt uint32

	// Tip minus Target
	Depth uint32

	// Deeper than finality, requires operator attention
	Hard    bool
	AlertID string
}

type Source interface {
	TipHeight(ctx context.Context) (uint32, error)
	BlockHashAt(ctx context.Context, height uint32) (chainhash.Hash, error)
}

// Persisted hashes older than the ones kept in memory
type History interface {
	// Up to limit entries strictly below height, highest first
	Below(ctx context.Context, height uint32, limit int) ([]Entry, error)
}
