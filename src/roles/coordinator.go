package roles

import (
	"context"
	"errors"

	"github.com/vianetwork/btcwatch/src/utils/config"
	"github.com/vianetwork/btcwatch/src/utils/dal"
	"github.com/vianetwork/btcwatch/src/utils/inscription"
	"github.com/vianetwork/btcwatch/src/utils/logger"
	"github.com/vianetwork/btcwatch/src/utils/model"
	"github.com/vianetwork/btcwatch/src/utils/monitoring"
	"github.com/vianetwork/btcwatch/src/votes"

	"github.com/sirupsen/logrus"
)

// Records protocol messages and tallies verifier votes into the canonical chain.
// Never votes itself.
type Coordinator struct {
	log        *logrus.Entry
	state      *State
	aggregator *votes.Aggregator
	monitor    monitoring.Monitor

	// Set when this node also verifies, runs on every newly committed batch
	voter batchVoter
}

type batchVoter interface {
	vote(it *iteration, batch *model.L1Batch) error
}

func NewCoordinator(config *config.Config) (self *Coordinator) {
	self = new(Coordinator)
	self.log = logger.NewSublogger("coordinator")
	return
}

func (self *Coordinator) WithState(v *State) *Coordinator {
	self.state = v
	return self
}

func (self *Coordinator) WithAggregator(v *votes.Aggregator) *Coordinator {
	self.aggregator = v
	return self
}

func (self *Coordinator) WithMonitor(v monitoring.Monitor) *Coordinator {
	self.monitor = v
	return self
}

func (self *Coordinator) Name() string {
	return string(config.RoleCoordinator)
}

func (self *Coordinator) PreIteration(ctx context.Context, store *dal.Store) (bool, error) {
	return true, nil
}

func (self *Coordinator) ProcessMessages(ctx context.Context, store *dal.Store, msgs []inscription.Message, ref IndexerRef) (err error) {
	it := newIteration(ctx, store, self.log, self.state)

	// Batches whose tally may have changed
	touched := make(map[uint64]struct{})

	for _, msg := range msgs {
		switch m := msg.(type) {
		case *inscription.BatchCommit:
			var batch *model.L1Batch
			batch, err = it.recordBatch(m)
			if err == nil && batch != nil && self.voter != nil {
				err = self.voter.vote(it, batch)
			}
			touched[m.BatchNumber] = struct{}{}
		case *inscription.ProofVote:
			err = self.recordVote(it, m)
		case *inscription.Deposit:
			err = it.recordDeposit(m)
		case *inscription.Withdrawal:
			err = it.recordWithdrawal(m)
		case *inscription.ProtocolUpgrade:
			err = it.recordUpgrade(m)
		case *inscription.SystemWalletsUpdate:
			err = it.updateWallets(m)
		default:
			it.stats.skipped++
		}
		if err != nil {
			return
		}
	}

	if it.walletsChanged {
		// Votes are counted only for the current verifier set
		err = self.aggregator.Reevaluate(ctx, store, it.wallets)
		if err != nil {
			return
		}
	} else {
		// Picks up the node's own votes, they never pass through RecordVote
		for batchNumber := range touched {
			err = self.tally(it, batchNumber)
			if err != nil {
				return
			}
		}
	}

	outcome, err := self.aggregator.Compute(ctx, store)
	if err != nil {
		return
	}

	wallets, walletsChanged, stats := it.wallets, it.walletsChanged, it.stats
	ref.AfterCommit(func() {
		if walletsChanged {
			self.state.SetWallets(wallets)
		}
		self.aggregator.Publish(outcome)
		stats.report(self.monitor)
	})
	return
}

func (self *Coordinator) recordVote(it *iteration, vote *inscription.ProofVote) error {
	inserted, err := self.aggregator.RecordVote(it.ctx, it.store, vote, it.wallets)
	switch {
	case errors.Is(err, votes.ErrUnknownVoter), errors.Is(err, votes.ErrInvalidSignature), errors.Is(err, votes.ErrUnknownBatch):
		it.stats.invalidVotes++
		it.log.WithError(err).
			WithField("batch", vote.BatchNumber).
			WithField("txid", vote.Txid.String()).
			Warn("Invalid vote ignored")
		return nil
	case err != nil:
		return err
	}

	if inserted {
		it.stats.applied++
		it.stats.votesRecorded++
	}
	return nil
}

func (self *Coordinator) tally(it *iteration, batchNumber uint64) error {
	batch, err := it.store.Batches().Get(it.ctx, batchNumber)
	if err != nil || batch == nil {
		return err
	}
	_, err = self.aggregator.Tally(it.ctx, it.store, batch, it.wallets)
	return err
}

// Votes and wallets above the target are gone, every tally is recomputed
func (self *Coordinator) Rewound(ctx context.Context, store *dal.Store, ref IndexerRef, target uint32, hard bool) (err error) {
	wallets, err := store.Wallets().LoadSystemWallets(ctx)
	if err != nil {
		return
	}
	if wallets == nil {
		wallets = self.state.Wallets()
	}

	err = self.aggregator.Reevaluate(ctx, store, wallets)
	if err != nil {
		return
	}

	outcome, err := self.aggregator.Compute(ctx, store)
	if err != nil {
		return
	}

	ref.AfterCommit(func() {
		self.state.SetWallets(wallets)
		self.aggregator.Publish(outcome)
		self.log.WithField("target", target).WithField("hard", hard).Info("Canonical chain recomputed after rewind")
	})
	return
}
