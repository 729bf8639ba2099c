package btcwatch

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/vianetwork/btcwatch/src/reorg"
	"github.com/vianetwork/btcwatch/src/roles"
	"github.com/vianetwork/btcwatch/src/utils/btc"
	"github.com/vianetwork/btcwatch/src/utils/btc/btctest"
	"github.com/vianetwork/btcwatch/src/utils/config"
	"github.com/vianetwork/btcwatch/src/utils/dal"
	"github.com/vianetwork/btcwatch/src/utils/dal/daltest"
	"github.com/vianetwork/btcwatch/src/utils/inscription"
	"github.com/vianetwork/btcwatch/src/utils/model"
	"github.com/vianetwork/btcwatch/src/utils/monitoring/report"
	"github.com/vianetwork/btcwatch/src/votes"

	monitor_btc_watch "github.com/vianetwork/btcwatch/src/utils/monitoring/btc_watch"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const (
	sequencer = "bcrt1psequencer"
	bridge    = "bcrt1pbridge"
	module    = "btc_watch"
)

func TestIndexerTestSuite(t *testing.T) {
	suite.Run(t, new(IndexerTestSuite))
}

type IndexerTestSuite struct {
	suite.Suite
	ctx     context.Context
	cancel  context.CancelFunc
	config  *config.Config
	node    *btctest.FakeNode
	monitor *monitor_btc_watch.Monitor
	source  *btc.Source
	store   *dal.Store

	keys       []*btcec.PrivateKey
	aggregator *votes.Aggregator
	detector   *reorg.Detector
	indexer    *Indexer
}

func (s *IndexerTestSuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 30*time.Second)
	s.node = btctest.NewFakeNode()

	s.config = config.Default()
	s.config.Bitcoin.RpcUrl = s.node.URL
	s.config.Bitcoin.MaxRetries = 1
	s.config.Bitcoin.RetryInitialInterval = time.Millisecond
	s.config.Bitcoin.RetryMaxInterval = time.Millisecond
	s.config.Bitcoin.RequestsPerSecond = 0
	s.config.BtcWatch.Role = config.RoleCoordinator
	s.config.BtcWatch.Module = module
	s.config.BtcWatch.StartL1BlockNumber = 10
	s.config.BtcWatch.ConfirmationDepth = 6
	s.config.BtcWatch.FinalityDepth = 6
	s.config.BtcWatch.MaxBlocksPerIteration = 100
	s.config.BtcWatch.GenesisBatchNumber = 1

	s.keys = nil
	verifiers := []string{}
	for i := 0; i < 4; i++ {
		key, err := btcec.NewPrivateKey()
		require.NoError(s.T(), err)
		s.keys = append(s.keys, key)
		verifiers = append(verifiers, inscription.XOnlyHex(inscription.XOnly(key.PubKey())))
	}
	s.config.Bootstrap.Sequencer = sequencer
	s.config.Bootstrap.Bridge = bridge
	s.config.Bootstrap.Verifiers = verifiers

	s.monitor = monitor_btc_watch.NewMonitor(s.config)
	s.source = btc.NewSource(s.config).
		WithClient(btc.NewClient(s.config)).
		WithMonitor(s.monitor)
	require.NoError(s.T(), s.source.Start())

	db, err := daltest.NewDB()
	require.NoError(s.T(), err)
	s.store = dal.New(db, module)
	require.NoError(s.T(), s.store.IndexerMeta().InitIndexerMetadata(s.ctx, module, 10))

	state := roles.NewState(s.config)
	require.NoError(s.T(), state.Bootstrap(s.ctx, s.store))

	s.aggregator = votes.NewAggregator(s.config).WithMonitor(s.monitor)
	role, err := roles.New(s.config, roles.Dependencies{
		State:      state,
		Aggregator: s.aggregator,
		Monitor:    s.monitor,
	})
	require.NoError(s.T(), err)

	s.detector = reorg.NewDetector(s.config).
		WithSource(s.source).
		WithHistory(NewHistory(s.store)).
		WithMonitor(s.monitor)

	s.indexer = NewIndexer(s.config).
		WithStore(s.store).
		WithSource(s.source).
		WithDetector(s.detector).
		WithRole(role).
		WithMonitor(s.monitor)
}

func (s *IndexerTestSuite) TearDownTest() {
	s.source.StopWait()
	s.node.Close()
	s.cancel()
}

func (s *IndexerTestSuite) iterate() *IterationOutcome {
	outcome, err := s.indexer.Iterate(s.ctx)
	require.NoError(s.T(), err)
	return outcome
}

func (s *IndexerTestSuite) cursor() uint32 {
	cursor, err := s.store.IndexerMeta().GetLastProcessedL1Block(s.ctx, module)
	require.NoError(s.T(), err)
	return cursor
}

func (s *IndexerTestSuite) vote(key *btcec.PrivateKey, batchNumber uint64) *inscription.ProofVote {
	out := &inscription.ProofVote{BatchNumber: batchNumber, Vote: inscription.VoteApprove}
	require.NoError(s.T(), out.Sign(key))
	return out
}

// Mines blocks up to the height
func (s *IndexerTestSuite) mineTo(height uint32) {
	s.node.MineEmpty(int(height - s.node.Tip()))
}

func (s *IndexerTestSuite) TestCleanTail() {
	s.mineTo(100)

	outcome := s.iterate()
	require.Equal(s.T(), OutcomeProcessed, outcome.Kind)
	require.Equal(s.T(), uint32(11), outcome.From)
	require.Equal(s.T(), uint32(94), outcome.To)
	require.Equal(s.T(), 0, outcome.Count)
	require.Equal(s.T(), uint32(94), s.cursor())

	// Ring keeps only the most recent blocks
	entries := s.detector.Snapshot()
	require.Len(s.T(), entries, s.detector.Capacity())
	require.Equal(s.T(), uint32(94), entries[len(entries)-1].Height)
	require.Equal(s.T(), s.node.HashAt(94), entries[len(entries)-1].Hash)

	// Every processed block is remembered in the database
	hashes, err := s.store.BlockHashes().Below(s.ctx, 95, 1000)
	require.NoError(s.T(), err)
	require.Len(s.T(), hashes, 84)

	require.Equal(s.T(), OutcomeIdle, s.iterate().Kind)
	require.Equal(s.T(), uint64(94), s.monitor.Report.BtcWatch.State.LastIndexedBlockNumber.Load())
	require.Equal(s.T(), uint64(1), s.monitor.Report.BtcWatch.State.IterationsIdle.Load())

	s.node.Mine()
	outcome = s.iterate()
	require.Equal(s.T(), OutcomeProcessed, outcome.Kind)
	require.Equal(s.T(), uint32(95), outcome.From)
	require.Equal(s.T(), uint32(95), outcome.To)
}

func (s *IndexerTestSuite) TestChunks() {
	s.indexer.maxBlocks = 50
	s.mineTo(100)

	outcome := s.iterate()
	require.Equal(s.T(), uint32(11), outcome.From)
	require.Equal(s.T(), uint32(60), outcome.To)

	outcome = s.iterate()
	require.Equal(s.T(), uint32(61), outcome.From)
	require.Equal(s.T(), uint32(94), outcome.To)
}

func (s *IndexerTestSuite) TestMessagesInSourceOrder() {
	s.mineTo(20)
	s.node.Mine(
		s.node.RevealTx(sequencer, &inscription.BatchCommit{BatchNumber: 1, BlobID: "blob-1"}),
		s.node.OpReturnTx("bcrt1pdepositor", &inscription.Deposit{Receiver: common.HexToAddress("0x01")}, btctest.Pay(bridge, 5000)),
		s.node.RevealTx("bcrt1pvoter", s.vote(s.keys[0], 1)),
	)
	s.node.Mine(
		s.node.RevealTx("bcrt1pvoter", s.vote(s.keys[1], 1)),
		s.node.RevealTx("bcrt1pvoter", s.vote(s.keys[2], 1)),
		s.node.OpReturnTx("bcrt1pdepositor", &inscription.Deposit{Receiver: common.HexToAddress("0x02")}, btctest.Pay(bridge, 7000)),
	)
	s.mineTo(30)

	outcome := s.iterate()
	require.Equal(s.T(), uint32(24), outcome.To)
	require.Equal(s.T(), 6, outcome.Count)

	batch, err := s.store.Batches().Get(s.ctx, 1)
	require.NoError(s.T(), err)
	require.Equal(s.T(), uint32(21), batch.BlockNumber)
	require.Equal(s.T(), model.BatchStatusCanonical, batch.Status)
	require.Equal(s.T(), uint64(1), s.aggregator.LastValidL1Batch())

	deposits, err := s.store.Deposits().List(s.ctx)
	require.NoError(s.T(), err)
	require.Len(s.T(), deposits, 2)
	require.Equal(s.T(), uint64(0), deposits[0].PriorityID)
	require.Equal(s.T(), int64(5000), deposits[0].ValueSats)
	require.Equal(s.T(), uint64(1), deposits[1].PriorityID)
	require.Equal(s.T(), int64(7000), deposits[1].ValueSats)

	require.Equal(s.T(), uint64(6), s.monitor.Report.BtcWatch.State.InscriptionsProcessed.Load(report.StageFetched))
}

func (s *IndexerTestSuite) TestUndecodableInscriptionSkipped() {
	s.mineTo(20)
	s.node.Mine(
		s.node.OpReturnTx(sequencer, &inscription.Unknown{RawKind: "Bogus", Raw: [][]byte{{1}}}),
		s.node.RevealTx(sequencer, &inscription.BatchCommit{BatchNumber: 1, BlobID: "blob-1"}),
	)
	s.mineTo(30)

	outcome := s.iterate()
	require.Equal(s.T(), OutcomeProcessed, outcome.Kind)
	require.Equal(s.T(), 1, outcome.Count)
	require.Equal(s.T(), uint64(1), s.monitor.Report.BtcWatch.Errors.DecodeFailures.Load())

	batch, err := s.store.Batches().Get(s.ctx, 1)
	require.NoError(s.T(), err)
	require.NotNil(s.T(), batch)
}

func (s *IndexerTestSuite) TestSoftReorg() {
	s.mineTo(101)
	require.Equal(s.T(), uint32(95), s.iterate().To)

	// Block 95 is replaced, tip drops to 98
	s.node.Reorg(94, 4)

	outcome := s.iterate()
	require.Equal(s.T(), OutcomeRewound, outcome.Kind)
	require.Equal(s.T(), uint32(94), outcome.Rewind.Target)
	require.False(s.T(), outcome.Rewind.Hard)
	require.Equal(s.T(), uint32(94), s.cursor())
	require.Equal(s.T(), uint64(1), s.monitor.Report.BtcWatch.State.SoftReorgTotal.Load())
	require.Equal(s.T(), uint64(0), s.monitor.Report.BtcWatch.State.HardReorgTotal.Load())
	require.Equal(s.T(), reorg.StateStable, s.detector.State())

	require.Equal(s.T(), OutcomeIdle, s.iterate().Kind)

	s.mineTo(101)
	outcome = s.iterate()
	require.Equal(s.T(), OutcomeProcessed, outcome.Kind)
	require.Equal(s.T(), uint32(95), outcome.From)
	require.Equal(s.T(), s.node.HashAt(95), s.detector.Snapshot()[s.detector.Capacity()-1].Hash)
}

func (s *IndexerTestSuite) TestHardReorg() {
	s.mineTo(84)
	s.node.Mine(
		s.node.RevealTx(sequencer, &inscription.BatchCommit{BatchNumber: 1, BlobID: "blob-1"}),
		s.node.OpReturnTx("bcrt1pdepositor", &inscription.Deposit{Receiver: common.HexToAddress("0x01")}, btctest.Pay(bridge, 5000)),
	)
	s.node.Mine(s.node.RevealTx("bcrt1pvoter", s.vote(s.keys[0], 1)))
	s.mineTo(100)
	require.Equal(s.T(), uint32(94), s.iterate().To)

	// Everything above 80 is replaced, ring only remembers 83..94
	s.node.Reorg(80, 20)

	outcome := s.iterate()
	require.Equal(s.T(), OutcomeRewound, outcome.Kind)
	require.Equal(s.T(), uint32(80), outcome.Rewind.Target)
	require.Equal(s.T(), uint32(20), outcome.Rewind.Depth)
	require.True(s.T(), outcome.Rewind.Hard)
	require.NotEmpty(s.T(), outcome.Rewind.AlertID)
	require.Equal(s.T(), uint32(80), s.cursor())
	require.Equal(s.T(), uint64(1), s.monitor.Report.BtcWatch.State.HardReorgTotal.Load())

	// Nothing above the target survives
	batch, err := s.store.Batches().Get(s.ctx, 1)
	require.NoError(s.T(), err)
	require.Nil(s.T(), batch)

	deposits, err := s.store.Deposits().List(s.ctx)
	require.NoError(s.T(), err)
	require.Empty(s.T(), deposits)

	cast, err := s.store.Votes().GetVotesForBatch(s.ctx, 1)
	require.NoError(s.T(), err)
	require.Empty(s.T(), cast)

	hashes, err := s.store.BlockHashes().Latest(s.ctx, 1)
	require.NoError(s.T(), err)
	require.Equal(s.T(), uint32(80), hashes[0].Height)

	// Indexing resumes on the new chain
	outcome = s.iterate()
	require.Equal(s.T(), uint32(81), outcome.From)
	require.Equal(s.T(), uint32(94), outcome.To)
}

func (s *IndexerTestSuite) TestReprocessingIsIdempotent() {
	s.mineTo(20)
	s.node.Mine(
		s.node.RevealTx(sequencer, &inscription.BatchCommit{BatchNumber: 1, BlobID: "blob-1"}),
		s.node.OpReturnTx("bcrt1pdepositor", &inscription.Deposit{Receiver: common.HexToAddress("0x01")}, btctest.Pay(bridge, 5000)),
		s.node.RevealTx("bcrt1pvoter", s.vote(s.keys[0], 1)),
	)
	s.mineTo(30)
	s.iterate()

	snapshot := func() (out []interface{}) {
		batches, err := s.store.Batches().List(s.ctx)
		require.NoError(s.T(), err)
		deposits, err := s.store.Deposits().List(s.ctx)
		require.NoError(s.T(), err)
		cast, err := s.store.Votes().GetVotesForBatch(s.ctx, 1)
		require.NoError(s.T(), err)

		for _, v := range batches {
			v.ID = 0
			out = append(out, *v)
		}
		for _, v := range deposits {
			v.ID = 0
			out = append(out, *v)
		}
		for _, v := range cast {
			v.ID = 0
			out = append(out, *v)
		}
		return
	}
	before := snapshot()
	require.Len(s.T(), before, 3)

	// Same blocks seen again after the cursor went back
	require.NoError(s.T(), s.store.IndexerMeta().Rewind(s.ctx, module, 15))
	s.detector.Resolve(15)

	outcome := s.iterate()
	require.Equal(s.T(), uint32(16), outcome.From)
	require.Equal(s.T(), before, snapshot())
}

// Reorganizes the node right before the download
type movingSource struct {
	*btc.Source
	move func()
}

func (self *movingSource) FetchInscriptions(ctx context.Context, from, to uint32) ([]*btc.InscribedBlock, error) {
	self.move()
	return self.Source.FetchInscriptions(ctx, from, to)
}

func (s *IndexerTestSuite) TestChainMovedDuringFetch() {
	s.mineTo(50)
	require.Equal(s.T(), uint32(44), s.iterate().To)
	s.node.Mine()

	s.indexer.WithSource(&movingSource{
		Source: s.source,
		move:   func() { s.node.Reorg(43, 8) },
	})

	_, err := s.indexer.Iterate(s.ctx)
	require.ErrorIs(s.T(), err, btc.ErrChainChanged)
	require.Equal(s.T(), uint32(44), s.cursor())
}

// Holds the transaction open until the iteration is cancelled
type blockingRole struct {
	roles.Role
	entered chan struct{}
}

func (self *blockingRole) ProcessMessages(ctx context.Context, store *dal.Store, msgs []inscription.Message, ref roles.IndexerRef) error {
	err := self.Role.ProcessMessages(ctx, store, msgs, ref)
	if err != nil {
		return err
	}
	close(self.entered)
	<-ctx.Done()
	return ctx.Err()
}

func (s *IndexerTestSuite) TestCancelledDuringProcessing() {
	s.mineTo(20)
	s.node.Mine(
		s.node.RevealTx(sequencer, &inscription.BatchCommit{BatchNumber: 1, BlobID: "blob-1"}),
		s.node.RevealTx("bcrt1pvoter", s.vote(s.keys[0], 1)),
	)
	s.mineTo(30)

	role := &blockingRole{Role: s.indexer.role, entered: make(chan struct{})}
	s.indexer.WithRole(role)

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() {
		_, err := s.indexer.Iterate(ctx)
		done <- err
	}()

	<-role.entered
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(s.T(), err, context.Canceled)
	case <-time.After(10 * time.Second):
		s.T().Fatal("iteration didn't return after cancel")
	}

	// Nothing of the iteration was committed
	require.Equal(s.T(), uint32(10), s.cursor())
	batch, err := s.store.Batches().Get(s.ctx, 1)
	require.NoError(s.T(), err)
	require.Nil(s.T(), batch)
	cast, err := s.store.Votes().GetVotesForBatch(s.ctx, 1)
	require.NoError(s.T(), err)
	require.Empty(s.T(), cast)
	hashes, err := s.store.BlockHashes().Latest(s.ctx, 1)
	require.NoError(s.T(), err)
	require.Empty(s.T(), hashes)
	require.Empty(s.T(), s.detector.Snapshot())
	require.Zero(s.T(), s.aggregator.LastValidL1Batch())
}

func (s *IndexerTestSuite) TestCancelledDuringFetch() {
	s.mineTo(30)
	s.node.WithDelay("getblock", time.Minute)

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() {
		_, err := s.indexer.Iterate(ctx)
		done <- err
	}()

	require.Eventually(s.T(), func() bool { return s.node.Calls("getblock") > 0 }, 10*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(s.T(), err, context.Canceled)
	case <-time.After(10 * time.Second):
		s.T().Fatal("iteration didn't return after cancel")
	}
	require.Equal(s.T(), uint32(10), s.cursor())
}

func (s *IndexerTestSuite) TestSingleWriter() {
	require.True(s.T(), s.indexer.mtx.TryLock())
	defer s.indexer.mtx.Unlock()

	_, err := s.indexer.Iterate(s.ctx)
	require.ErrorIs(s.T(), err, ErrIterationInProgress)
}
