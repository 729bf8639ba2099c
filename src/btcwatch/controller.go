package btcwatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vianetwork/btcwatch/src/reorg"
	"github.com/vianetwork/btcwatch/src/roles"
	"github.com/vianetwork/btcwatch/src/utils/btc"
	"github.com/vianetwork/btcwatch/src/utils/celestia"
	"github.com/vianetwork/btcwatch/src/utils/config"
	"github.com/vianetwork/btcwatch/src/utils/dal"
	"github.com/vianetwork/btcwatch/src/utils/inscriber"
	"github.com/vianetwork/btcwatch/src/utils/model"
	"github.com/vianetwork/btcwatch/src/utils/publisher"
	"github.com/vianetwork/btcwatch/src/utils/task"
	"github.com/vianetwork/btcwatch/src/utils/verification"
	"github.com/vianetwork/btcwatch/src/votes"

	monitor_btc_watch "github.com/vianetwork/btcwatch/src/utils/monitoring/btc_watch"

	"gorm.io/gorm"
)

// Interval of fee rate refreshes
const feeRatePeriod = time.Minute

// Errors that stop the controller instead of being retried
var fatalErrors = []error{
	dal.ErrNonMonotonicCursor,
	dal.ErrCursorBelowStart,
	dal.ErrCursorNotInitialized,
	config.ErrInvalid,
}

// Supervisor of one module: polls the indexer until stopped
type Controller struct {
	*task.Task

	store      *dal.Store
	state      *roles.State
	aggregator *votes.Aggregator
	source     *btc.Source
	detector   *reorg.Detector
	indexer    *Indexer
	monitor    *monitor_btc_watch.Monitor

	// Error that stopped the controller
	mtx   sync.Mutex
	fatal error
}

// Main class that orchestrates the module: connects to the database and wires the role
func NewController(config *config.Config) (self *Controller, err error) {
	err = config.Validate()
	if err != nil {
		return
	}

	db, err := model.NewConnection(context.Background(), config, "btc-watch")
	if err != nil {
		return
	}

	return NewControllerWithDB(config, db)
}

func NewControllerWithDB(config *config.Config, db *gorm.DB) (self *Controller, err error) {
	self = new(Controller)
	self.Task = task.NewTask(config, "btc-watch")

	self.monitor = monitor_btc_watch.NewMonitor(config)
	self.store = dal.New(db, config.BtcWatch.ModuleName())
	self.state = roles.NewState(config)

	self.source = btc.NewSource(config).
		WithClient(btc.NewClient(config)).
		WithMonitor(self.monitor)

	self.detector = reorg.NewDetector(config).
		WithSource(self.source).
		WithHistory(NewHistory(self.store)).
		WithMonitor(self.monitor)

	deps := roles.Dependencies{
		State:   self.state,
		Monitor: self.monitor,
	}

	// Canonical chain snapshots, optionally published to Redis
	var output chan model.CanonicalChainStatus
	isPublishing := config.Redis.Enabled && config.BtcWatch.Role.RunsCoordinator()
	if isPublishing {
		output = make(chan model.CanonicalChainStatus, 10)
	}

	if config.BtcWatch.Role.RunsCoordinator() {
		self.aggregator = votes.NewAggregator(config).
			WithMonitor(self.monitor).
			WithOutput(output)
		deps.Aggregator = self.aggregator
	}

	var voteInscriber *inscriber.Inscriber
	if config.BtcWatch.Role.RunsVerifier() {
		deps.Fetcher, err = celestia.NewClient(config)
		if err != nil {
			return
		}
		deps.Verifier = verification.NewClient(config)
		voteInscriber = inscriber.NewInscriber(config)
		deps.Inscriber = voteInscriber
	}

	role, err := roles.New(config, deps)
	if err != nil {
		return
	}

	self.indexer = NewIndexer(config).
		WithStore(self.store).
		WithSource(self.source).
		WithDetector(self.detector).
		WithRole(role).
		WithMonitor(self.monitor)

	server := NewServer(config).
		WithMonitor(self.monitor)
	if self.aggregator != nil {
		server = server.WithAggregator(self.aggregator)
	}

	self.Task = self.Task.
		WithOnBeforeStart(self.bootstrap).
		WithSubtask(self.monitor.Task).
		WithSubtask(self.source.Task).
		WithConditionalSubtask(config.RESTListenAddress != "", server.Task).
		WithPeriodicSubtaskFunc(config.BtcWatch.PollInterval, self.iterate).
		WithPeriodicSubtaskFunc(feeRatePeriod, self.updateFeeRate)

	if voteInscriber != nil {
		self.Task = self.Task.WithSubtask(voteInscriber.Task)
	}

	if isPublishing {
		redisPublisher := publisher.NewRedisPublisher[model.CanonicalChainStatus](config, "canonical-chain-publisher").
			WithInputChannel(output).
			WithMonitor(self.monitor)
		self.Task = self.Task.WithSubtask(redisPublisher.Task)
	}

	return
}

// Prepares the module's state before the first iteration
func (self *Controller) bootstrap() (err error) {
	ctx := self.Ctx
	module := self.indexer.Module()

	if self.Config.Bitcoin.CheckNetwork {
		err = self.source.CheckNetwork(ctx, self.Config.BtcWatch.Network)
		if err != nil {
			return
		}
	}

	err = self.store.IndexerMeta().InitIndexerMetadata(ctx, module, self.Config.BtcWatch.StartL1BlockNumber)
	if err != nil {
		return
	}

	err = self.state.Bootstrap(ctx, self.store)
	if err != nil {
		return
	}

	if self.aggregator != nil {
		err = self.aggregator.Load(ctx, self.store)
		if err != nil {
			return
		}
	}

	// Ring continues where the last run stopped
	entries, err := NewHistory(self.store).Latest(ctx, self.detector.Capacity())
	if err != nil {
		return
	}
	self.detector.Record(entries...)

	cursor, err := self.store.IndexerMeta().GetLastProcessedL1Block(ctx, module)
	if err != nil {
		return
	}
	self.monitor.GetReport().BtcWatch.State.LastIndexedBlockNumber.Store(uint64(cursor))

	self.Log.WithField("module", module).
		WithField("cursor", cursor).
		WithField("remembered_blocks", len(entries)).
		Info("Module ready")
	return nil
}

// One poll. Only fatal errors end the loop.
func (self *Controller) iterate() error {
	outcome, err := self.indexer.Iterate(self.Ctx)
	if err == nil {
		self.Log.WithField("outcome", outcome.String()).Debug("Iteration finished")
		return nil
	}

	// Source is stopped before the loop notices
	if self.IsStopping.Load() || errors.Is(err, btc.ErrSourceStopped) {
		return nil
	}

	if isFatal(err) {
		self.Log.WithError(err).Error("Fatal error, stopping")
		self.mtx.Lock()
		self.fatal = err
		self.mtx.Unlock()
		go self.Stop()
		return err
	}

	self.monitor.GetReport().BtcWatch.Errors.IterationFailures.Inc()
	self.Log.WithError(err).Error("Iteration failed, retrying after poll interval")
	return nil
}

func (self *Controller) updateFeeRate() error {
	rate, err := self.source.FeeRate(self.Ctx, self.Config.Bitcoin.FeeEstimationBlocks)
	if err != nil {
		if !self.IsStopping.Load() {
			self.Log.WithError(err).Warn("Failed to estimate fee rate")
		}
		return nil
	}
	self.monitor.GetReport().BtcWatch.State.FeeRate.Store(rate)
	return nil
}

// Error that stopped the controller, nil if it was stopped on request
func (self *Controller) Err() error {
	self.mtx.Lock()
	defer self.mtx.Unlock()
	return self.fatal
}

func (self *Controller) Indexer() *Indexer {
	return self.indexer
}

func (self *Controller) Aggregator() *votes.Aggregator {
	return self.aggregator
}

func (self *Controller) Monitor() *monitor_btc_watch.Monitor {
	return self.monitor
}

func isFatal(err error) bool {
	for _, fatal := range fatalErrors {
		if errors.Is(err, fatal) {
			return true
		}
	}
	return false
}
