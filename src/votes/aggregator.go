package votes

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"sync"

	"github.com/vianetwork/btcwatch/src/utils/config"
	"github.com/vianetwork/btcwatch/src/utils/dal"
	"github.com/vianetwork/btcwatch/src/utils/inscription"
	"github.com/vianetwork/btcwatch/src/utils/logger"
	"github.com/vianetwork/btcwatch/src/utils/model"
	"github.com/vianetwork/btcwatch/src/utils/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownVoter     = errors.New("voter is not in the verifier set")
	ErrInvalidSignature = errors.New("invalid vote signature")
	ErrUnknownBatch     = errors.New("vote for an unknown batch")
)

// Derives batch canonicity from verifier votes and keeps the canonical chain snapshot.
// Writes go through the caller's transaction, the snapshot is swapped after commit.
type Aggregator struct {
	log     *logrus.Entry
	monitor monitoring.Monitor
	genesis uint64

	// Snapshot of the last committed state
	mtx         sync.RWMutex
	status      model.CanonicalChainStatus
	lastValid   uint64
	lastInvalid uint64

	// Optional, receives every changed snapshot
	output chan model.CanonicalChainStatus
}

// Computed inside a transaction, applied with Publish after it commits
type Outcome struct {
	Status      model.CanonicalChainStatus
	LastValid   uint64
	LastInvalid uint64
}

func NewAggregator(config *config.Config) (self *Aggregator) {
	self = new(Aggregator)
	self.log = logger.NewSublogger("votes")
	self.genesis = config.BtcWatch.GenesisBatchNumber
	self.status = model.NewCanonicalChainStatus(nil, 0, self.genesis)
	return
}

func (self *Aggregator) WithMonitor(v monitoring.Monitor) *Aggregator {
	self.monitor = v
	return self
}

func (self *Aggregator) WithOutput(v chan model.CanonicalChainStatus) *Aggregator {
	self.output = v
	return self
}

// Validates and stores a vote, then recomputes the batch's tally.
// Invalid votes are reported through the error and never stored, duplicates return false.
func (self *Aggregator) RecordVote(ctx context.Context, store *dal.Store, vote *inscription.ProofVote, wallets *model.SystemWallets) (inserted bool, err error) {
	voter := inscription.XOnlyHex(vote.VoterPubkey)
	log := self.log.WithField("batch", vote.BatchNumber).WithField("voter", voter)

	if !wallets.IsVerifier(voter) {
		return false, ErrUnknownVoter
	}

	if !vote.VerifySignature() {
		return false, ErrInvalidSignature
	}

	batch, err := store.Batches().Get(ctx, vote.BatchNumber)
	if err != nil {
		return
	}
	if batch == nil {
		return false, ErrUnknownBatch
	}

	txid, vout := vote.Origin()
	inserted, err = store.Votes().UpsertVote(ctx, &model.Vote{
		BatchNumber: vote.BatchNumber,
		Voter:       voter,
		Approve:     vote.Vote == inscription.VoteApprove,
		Signature:   hex.EncodeToString(vote.Signature[:]),
		BlockNumber: vote.Height,
		Txid:        txid,
		Vout:        vout,
	})
	if err != nil || !inserted {
		if err == nil {
			log.Debug("Duplicate vote ignored")
		}
		return
	}

	_, err = self.Tally(ctx, store, batch, wallets)
	return
}

// Recounts votes of current verifiers and updates the batch's status
func (self *Aggregator) Tally(ctx context.Context, store *dal.Store, batch *model.L1Batch, wallets *model.SystemWallets) (status model.BatchStatus, err error) {
	votes, err := store.Votes().GetVotesForBatch(ctx, batch.BatchNumber)
	if err != nil {
		return
	}

	var approvals, rejections int
	for _, vote := range votes {
		if !wallets.IsVerifier(vote.Voter) {
			continue
		}
		if vote.Approve {
			approvals++
		} else {
			rejections++
		}
	}

	status = Classify(approvals, rejections, len(wallets.Verifiers))
	if status == batch.Status && approvals == batch.Approvals && rejections == batch.Rejections {
		return
	}

	if status != batch.Status {
		self.log.WithField("batch", batch.BatchNumber).
			WithField("approvals", approvals).
			WithField("rejections", rejections).
			WithField("status", status).
			Info("Batch status changed")
	}

	err = store.Batches().UpdateTally(ctx, batch.BatchNumber, approvals, rejections, status)
	if err != nil {
		return
	}

	batch.Approvals, batch.Rejections, batch.Status = approvals, rejections, status
	return
}

// Recounts every batch, used after rewinds and verifier set changes
func (self *Aggregator) Reevaluate(ctx context.Context, store *dal.Store, wallets *model.SystemWallets) (err error) {
	batches, err := store.Batches().List(ctx)
	if err != nil {
		return
	}

	for _, batch := range batches {
		_, err = self.Tally(ctx, store, batch, wallets)
		if err != nil {
			return
		}
	}
	return
}

// Computes the canonical chain from the store, usually right before commit
func (self *Aggregator) Compute(ctx context.Context, store *dal.Store) (out *Outcome, err error) {
	out = new(Outcome)

	out.Status, err = store.Votes().CanonicalChainStatus(ctx, self.genesis)
	if err != nil {
		return nil, err
	}

	out.LastValid = out.Status.MaxBatchNumber

	out.LastInvalid, err = store.Batches().MaxWithStatus(ctx, model.BatchStatusRejected)
	if err != nil {
		return nil, err
	}
	return
}

// Swaps the snapshot. Must only be called with state that was committed.
func (self *Aggregator) Publish(outcome *Outcome) {
	self.mtx.Lock()
	changed := !self.status.Equal(outcome.Status)
	self.status = outcome.Status
	self.lastValid = outcome.LastValid
	self.lastInvalid = outcome.LastInvalid
	self.mtx.Unlock()

	if self.monitor != nil {
		state := &self.monitor.GetReport().BtcWatch.State
		state.LastValidL1Batch.Store(outcome.LastValid)
		state.LastInvalidL1Batch.Store(outcome.LastInvalid)
		state.CanonicalChainOK.Store(outcome.Status.IsValid)
	}

	if !changed {
		return
	}

	self.log.
		WithField("valid", outcome.Status.IsValid).
		WithField("canonical", outcome.Status.TotalCanonicalBatches).
		WithField("max", outcome.Status.MaxBatchNumber).
		WithField("missing", len(outcome.Status.MissingBatches)).
		Info("Canonical chain changed")

	if self.output == nil {
		return
	}

	select {
	case self.output <- outcome.Status:
	default:
		self.log.Warn("Canonical chain output is full, snapshot dropped")
		if self.monitor != nil {
			self.monitor.GetReport().RedisPublisher.State.MessagesDropped.Inc()
		}
	}
}

// Loads the snapshot from the database, used at startup
func (self *Aggregator) Load(ctx context.Context, store *dal.Store) (err error) {
	outcome, err := self.Compute(ctx, store)
	if err != nil {
		return
	}
	self.Publish(outcome)
	return
}

// Copy of the last committed canonical chain status
func (self *Aggregator) Snapshot() model.CanonicalChainStatus {
	self.mtx.RLock()
	defer self.mtx.RUnlock()
	return self.status
}

func (self *Aggregator) LastValidL1Batch() uint64 {
	self.mtx.RLock()
	defer self.mtx.RUnlock()
	return self.lastValid
}

func (self *Aggregator) LastInvalidL1Batch() uint64 {
	self.mtx.RLock()
	defer self.mtx.RUnlock()
	return self.lastInvalid
}

func (self *Aggregator) OnGetCanonicalChain(c *gin.Context) {
	c.JSON(http.StatusOK, self.Snapshot())
}
