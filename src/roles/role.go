package roles

import (
	"context"
	"fmt"

	"github.com/vianetwork/btcwatch/src/utils/config"
	"github.com/vianetwork/btcwatch/src/utils/dal"
	"github.com/vianetwork/btcwatch/src/utils/inscription"
	"github.com/vianetwork/btcwatch/src/utils/monitoring"
	"github.com/vianetwork/btcwatch/src/votes"
)

// Handle to the running iteration
type IndexerRef interface {
	Module() string

	// Runs fn once the iteration's transaction committed. Never runs on rollback.
	AfterCommit(fn func())
}

// Role specific processing of the message stream
type Role interface {
	Name() string

	// Runs before each iteration. Returning false skips the iteration without moving the cursor.
	PreIteration(ctx context.Context, store *dal.Store) (proceed bool, err error)

	// Applies messages of a block range in source order, inside the iteration's transaction
	ProcessMessages(ctx context.Context, store *dal.Store, msgs []inscription.Message, ref IndexerRef) error

	// Runs inside the rewind transaction, after rows above target were deleted
	Rewound(ctx context.Context, store *dal.Store, ref IndexerRef, target uint32, hard bool) error
}

// Collaborators of the roles, unused ones may be nil
type Dependencies struct {
	State      *State
	Aggregator *votes.Aggregator
	Monitor    monitoring.Monitor
	Fetcher    ProofFetcher
	Verifier   ProofVerifier
	Inscriber  VoteInscriber
}

// Builds the configured role
func New(conf *config.Config, deps Dependencies) (Role, error) {
	var (
		coordinator *Coordinator
		verifier    *Verifier
		err         error
	)

	if conf.BtcWatch.Role.RunsCoordinator() {
		coordinator = NewCoordinator(conf).
			WithState(deps.State).
			WithAggregator(deps.Aggregator).
			WithMonitor(deps.Monitor)
	}

	if conf.BtcWatch.Role.RunsVerifier() {
		verifier, err = NewVerifier(conf)
		if err != nil {
			return nil, err
		}
		verifier = verifier.
			WithState(deps.State).
			WithMonitor(deps.Monitor).
			WithProofFetcher(deps.Fetcher).
			WithProofVerifier(deps.Verifier).
			WithInscriber(deps.Inscriber)
	}

	switch conf.BtcWatch.Role {
	case config.RoleCoordinator:
		return coordinator, nil
	case config.RoleVerifier:
		return verifier, nil
	case config.RoleVerifierAndProcessor:
		return NewVerifierAndProcessor(verifier, coordinator), nil
	}
	return nil, fmt.Errorf("unknown role %q", conf.BtcWatch.Role)
}
