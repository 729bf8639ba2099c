package roles

import (
	"context"

	"github.com/vianetwork/btcwatch/src/utils/config"
	"github.com/vianetwork/btcwatch/src/utils/dal"
)

// Coordinator that also votes on every batch it records. The node's own vote
// is stored in the same transaction and counted in the batch's tally.
type VerifierAndProcessor struct {
	*Coordinator
	verifier *Verifier
}

func NewVerifierAndProcessor(verifier *Verifier, coordinator *Coordinator) *VerifierAndProcessor {
	coordinator.voter = verifier
	return &VerifierAndProcessor{
		Coordinator: coordinator,
		verifier:    verifier,
	}
}

func (self *VerifierAndProcessor) Name() string {
	return string(config.RoleVerifierAndProcessor)
}

func (self *VerifierAndProcessor) PreIteration(ctx context.Context, store *dal.Store) (proceed bool, err error) {
	proceed, err = self.verifier.PreIteration(ctx, store)
	if err != nil || !proceed {
		return
	}
	return self.Coordinator.PreIteration(ctx, store)
}
