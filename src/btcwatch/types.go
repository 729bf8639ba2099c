package btcwatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/vianetwork/btcwatch/src/reorg"
	"github.com/vianetwork/btcwatch/src/utils/btc"
)

// Another iteration of the same module is running
var ErrIterationInProgress = errors.New("iteration already in progress")

type OutcomeKind string

const (
	OutcomeIdle      OutcomeKind = "idle"
	OutcomeProcessed OutcomeKind = "processed"
	OutcomeRewound   OutcomeKind = "rewound"
	OutcomeSkipped   OutcomeKind = "skipped"
)

// Result of a single indexer iteration
type IterationOutcome struct {
	Kind OutcomeKind

	// Processed range, inclusive
	From  uint32
	To    uint32
	Count int

	// Set for OutcomeRewound
	Rewind *reorg.Rewind
}

func (self *IterationOutcome) String() string {
	switch self.Kind {
	case OutcomeProcessed:
		return fmt.Sprintf("Processed{from:%d,to:%d,count:%d}", self.From, self.To, self.Count)
	case OutcomeRewound:
		return fmt.Sprintf("Rewound(%d)", self.Rewind.Target)
	}
	return string(self.Kind)
}

// Bitcoin source as seen by the indexer
type Source interface {
	reorg.Source
	FetchInscriptions(ctx context.Context, from, to uint32) ([]*btc.InscribedBlock, error)
}
