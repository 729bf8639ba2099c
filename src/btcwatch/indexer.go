package btcwatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vianetwork/btcwatch/src/reorg"
	"github.com/vianetwork/btcwatch/src/roles"
	"github.com/vianetwork/btcwatch/src/utils/btc"
	"github.com/vianetwork/btcwatch/src/utils/config"
	"github.com/vianetwork/btcwatch/src/utils/dal"
	"github.com/vianetwork/btcwatch/src/utils/inscription"
	"github.com/vianetwork/btcwatch/src/utils/logger"
	"github.com/vianetwork/btcwatch/src/utils/model"
	"github.com/vianetwork/btcwatch/src/utils/monitoring"
	"github.com/vianetwork/btcwatch/src/utils/monitoring/report"

	"github.com/sirupsen/logrus"
)

// Tails the Bitcoin source for one module. Every iteration either moves the cursor
// forward together with the role's writes, rewinds it, or leaves it untouched.
type Indexer struct {
	log *logrus.Entry

	module            string
	confirmationDepth uint32
	maxBlocks         uint32
	hashHistory       uint32

	store    *dal.Store
	source   Source
	detector *reorg.Detector
	role     roles.Role
	monitor  monitoring.Monitor

	// Single writer of the module's cursor
	mtx sync.Mutex
}

func NewIndexer(config *config.Config) (self *Indexer) {
	self = new(Indexer)
	self.log = logger.NewSublogger("indexer")
	self.module = config.BtcWatch.ModuleName()
	self.confirmationDepth = config.BtcWatch.ConfirmationDepth
	self.maxBlocks = config.BtcWatch.MaxBlocksPerIteration
	self.hashHistory = config.BtcWatch.BlockHashHistory
	return
}

func (self *Indexer) WithStore(v *dal.Store) *Indexer {
	self.store = v
	return self
}

func (self *Indexer) WithSource(v Source) *Indexer {
	self.source = v
	return self
}

func (self *Indexer) WithDetector(v *reorg.Detector) *Indexer {
	self.detector = v
	return self
}

func (self *Indexer) WithRole(v roles.Role) *Indexer {
	self.role = v
	return self
}

func (self *Indexer) WithMonitor(v monitoring.Monitor) *Indexer {
	self.monitor = v
	return self
}

func (self *Indexer) Module() string {
	return self.module
}

func (self *Indexer) Iterate(ctx context.Context) (out *IterationOutcome, err error) {
	if !self.mtx.TryLock() {
		return nil, ErrIterationInProgress
	}
	defer self.mtx.Unlock()

	start := time.Now()
	defer func() {
		if err != nil {
			return
		}
		state := &self.monitor.GetReport().BtcWatch.State
		state.LastIterationTimestamp.Store(time.Now().Unix())
		state.LastIterationDurationMs.Store(time.Since(start).Milliseconds())
	}()

	cursor, err := self.store.IndexerMeta().GetLastProcessedL1Block(ctx, self.module)
	if err != nil {
		return
	}

	rewind, err := self.detector.Check(ctx)
	if err != nil {
		return
	}
	if rewind != nil {
		return self.rewind(ctx, cursor, rewind)
	}

	tip, err := self.source.TipHeight(ctx)
	if err != nil {
		return
	}

	if tip < self.confirmationDepth || tip-self.confirmationDepth <= cursor {
		self.monitor.GetReport().BtcWatch.State.IterationsIdle.Inc()
		return &IterationOutcome{Kind: OutcomeIdle}, nil
	}
	safeTip := tip - self.confirmationDepth

	from, to := cursor+1, safeTip
	if to-cursor > self.maxBlocks {
		to = cursor + self.maxBlocks
	}

	blocks, err := self.source.FetchInscriptions(ctx, from, to)
	if err != nil {
		return
	}

	// Chain may have moved between the reorg check and the download
	err = self.checkLink(cursor, blocks)
	if err != nil {
		return
	}

	proceed, err := self.role.PreIteration(ctx, self.store)
	if err != nil {
		return
	}
	if !proceed {
		self.log.WithField("from", from).Debug("Iteration skipped by role")
		self.monitor.GetReport().BtcWatch.State.IterationsSkipped.Inc()
		return &IterationOutcome{Kind: OutcomeSkipped}, nil
	}

	msgs, fetched := self.messages(blocks)

	hashes := make([]model.BlockHash, 0, len(blocks))
	entries := make([]reorg.Entry, 0, len(blocks))
	for _, block := range blocks {
		hashes = append(hashes, model.BlockHash{Height: block.Height, Hash: block.Hash.String()})
		entries = append(entries, reorg.Entry{Height: block.Height, Hash: block.Hash})
	}

	ref := newIndexerRef(self.module)
	err = self.store.Transaction(ctx, func(tx *dal.Store) (err error) {
		err = self.role.ProcessMessages(ctx, tx, msgs, ref)
		if err != nil {
			return
		}

		err = tx.BlockHashes().Save(ctx, hashes, self.hashHistory)
		if err != nil {
			return
		}

		return tx.IndexerMeta().UpdateLastProcessedL1Block(ctx, self.module, to)
	})
	if err != nil {
		return
	}

	// Committed, in-memory state may follow
	ref.commit()
	self.detector.Record(entries...)

	state := &self.monitor.GetReport().BtcWatch.State
	state.LastIndexedBlockNumber.Store(uint64(to))
	state.InscriptionsProcessed.Add(report.StageFetched, uint64(fetched))
	state.IterationsProcessed.Inc()

	self.log.WithField("from", from).WithField("to", to).WithField("messages", len(msgs)).Info("Processed blocks")
	return &IterationOutcome{Kind: OutcomeProcessed, From: from, To: to, Count: len(msgs)}, nil
}

// Messages in source order. Envelopes that failed to decode are dropped.
func (self *Indexer) messages(blocks []*btc.InscribedBlock) (out []inscription.Message, fetched int) {
	stats := self.monitor.GetReport().BtcWatch
	for _, block := range blocks {
		for _, msg := range block.Messages {
			fetched++
			unknown, ok := msg.(*inscription.Unknown)
			if !ok {
				out = append(out, msg)
				continue
			}

			stats.Errors.DecodeFailures.Inc()
			stats.State.InscriptionsProcessed.Inc(report.StageSkipped)
			self.log.WithError(unknown.Err).
				WithField("height", unknown.Height).
				WithField("txid", unknown.Txid.String()).
				WithField("kind", unknown.RawKind).
				Warn("Failed to decode inscription, skipping")
		}
	}
	return
}

// First fetched block must extend the last block remembered at the cursor
func (self *Indexer) checkLink(cursor uint32, blocks []*btc.InscribedBlock) error {
	if len(blocks) == 0 {
		return nil
	}

	entries := self.detector.Snapshot()
	if len(entries) == 0 {
		return nil
	}

	last := entries[len(entries)-1]
	if last.Height != cursor || blocks[0].PrevHash == last.Hash {
		return nil
	}
	return fmt.Errorf("%w: block %d doesn't extend remembered block %d", btc.ErrChainChanged, blocks[0].Height, cursor)
}

// Moves the cursor back and drops the module's rows above the target in one transaction
func (self *Indexer) rewind(ctx context.Context, cursor uint32, rewind *reorg.Rewind) (out *IterationOutcome, err error) {
	target := rewind.Target
	if target > cursor {
		target = cursor
	}

	ref := newIndexerRef(self.module)
	err = self.store.Transaction(ctx, func(tx *dal.Store) (err error) {
		err = tx.IndexerMeta().Rewind(ctx, self.module, target)
		if err != nil {
			return
		}
		return self.role.Rewound(ctx, tx, ref, target, rewind.Hard)
	})
	if err != nil {
		return
	}

	ref.commit()
	self.detector.Resolve(target)

	state := &self.monitor.GetReport().BtcWatch.State
	if rewind.Hard {
		state.HardReorgTotal.Inc()
	} else {
		state.SoftReorgTotal.Inc()
	}
	state.LastRewindTo.Store(uint64(target))
	state.LastIndexedBlockNumber.Store(uint64(target))

	self.log.WithField("from", cursor).
		WithField("to", target).
		WithField("hard", rewind.Hard).
		WithField("alert_id", rewind.AlertID).
		Warn("Cursor rewound")

	rewind.Target = target
	return &IterationOutcome{Kind: OutcomeRewound, Rewind: rewind}, nil
}
