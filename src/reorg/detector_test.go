package reorg

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/vianetwork/btcwatch/src/utils/btc"
	"github.com/vianetwork/btcwatch/src/utils/config"
	monitor_btc_watch "github.com/vianetwork/btcwatch/src/utils/monitoring/btc_watch"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func hashOf(label string, height uint32) chainhash.Hash {
	return chainhash.DoubleHashH([]byte(fmt.Sprintf("%s/%d", label, height)))
}

type fakeSource struct {
	mtx    sync.Mutex
	tip    uint32
	hashes map[uint32]chainhash.Hash
	err    error
}

func newFakeSource(tip uint32) *fakeSource {
	self := &fakeSource{tip: tip, hashes: make(map[uint32]chainhash.Hash)}
	for h := uint32(0); h <= tip; h++ {
		self.hashes[h] = hashOf("main", h)
	}
	return self
}

// Replaces blocks above height with a fork
func (self *fakeSource) fork(height uint32) {
	self.mtx.Lock()
	defer self.mtx.Unlock()
	for h := height + 1; h <= self.tip; h++ {
		self.hashes[h] = hashOf("fork", h)
	}
}

func (self *fakeSource) TipHeight(ctx context.Context) (uint32, error) {
	self.mtx.Lock()
	defer self.mtx.Unlock()
	return self.tip, self.err
}

func (self *fakeSource) BlockHashAt(ctx context.Context, height uint32) (chainhash.Hash, error) {
	self.mtx.Lock()
	defer self.mtx.Unlock()
	if self.err != nil {
		return chainhash.Hash{}, self.err
	}
	hash, ok := self.hashes[height]
	if !ok || height > self.tip {
		return chainhash.Hash{}, btc.ErrHeightNotFound
	}
	return hash, nil
}

type fakeHistory []Entry

func (self fakeHistory) Below(ctx context.Context, height uint32, limit int) (out []Entry, err error) {
	for i := len(self) - 1; i >= 0 && len(out) < limit; i-- {
		if self[i].Height < height {
			out = append(out, self[i])
		}
	}
	return
}

func entries(label string, from, to uint32) (out []Entry) {
	for h := from; h <= to; h++ {
		out = append(out, Entry{Height: h, Hash: hashOf(label, h)})
	}
	return
}

func TestDetectorTestSuite(t *testing.T) {
	suite.Run(t, new(DetectorTestSuite))
}

type DetectorTestSuite struct {
	suite.Suite
	ctx     context.Context
	config  *config.Config
	monitor *monitor_btc_watch.Monitor
}

func (s *DetectorTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.config = config.Default()
	s.config.BtcWatch.ConfirmationDepth = 6
	s.config.BtcWatch.FinalityDepth = 6
	s.monitor = monitor_btc_watch.NewMonitor(s.config)
}

func (s *DetectorTestSuite) newDetector(source Source) *Detector {
	return NewDetector(s.config).
		WithSource(source).
		WithMonitor(s.monitor)
}

func (s *DetectorTestSuite) TestRingIsBounded() {
	detector := s.newDetector(newFakeSource(100))
	require.Equal(s.T(), 12, detector.Capacity())

	detector.Record(entries("main", 1, 30)...)
	snapshot := detector.Snapshot()
	require.Len(s.T(), snapshot, 12)
	require.Equal(s.T(), uint32(19), snapshot[0].Height)
	require.Equal(s.T(), uint32(30), snapshot[11].Height)

	// Re-recording lower heights replaces the top
	detector.Record(entries("fork", 28, 29)...)
	snapshot = detector.Snapshot()
	require.Equal(s.T(), uint32(29), snapshot[len(snapshot)-1].Height)
	require.Equal(s.T(), hashOf("fork", 29), snapshot[len(snapshot)-1].Hash)
}

func (s *DetectorTestSuite) TestStable() {
	detector := s.newDetector(newFakeSource(100))
	detector.Record(entries("main", 85, 94)...)

	rewind, err := detector.Check(s.ctx)
	require.NoError(s.T(), err)
	require.Nil(s.T(), rewind)
	require.Equal(s.T(), StateStable, detector.State())
}

func (s *DetectorTestSuite) TestEmptyRing() {
	detector := s.newDetector(newFakeSource(100))

	rewind, err := detector.Check(s.ctx)
	require.NoError(s.T(), err)
	require.Nil(s.T(), rewind)
}

func (s *DetectorTestSuite) TestSoftReorg() {
	source := newFakeSource(98)
	detector := s.newDetector(source)
	detector.Record(entries("main", 88, 95)...)

	// Height 95 now has a different hash
	source.fork(94)

	rewind, err := detector.Check(s.ctx)
	require.NoError(s.T(), err)
	require.NotNil(s.T(), rewind)
	require.Equal(s.T(), uint32(94), rewind.Target)
	require.Equal(s.T(), uint32(95), rewind.DivergedAt)
	require.Equal(s.T(), uint32(4), rewind.Depth)
	require.False(s.T(), rewind.Hard)
	require.Empty(s.T(), rewind.AlertID)
	require.Equal(s.T(), StateRewinding, detector.State())
	require.Equal(s.T(), string(StateRewinding), s.monitor.Report.BtcWatch.State.ReorgState.Load())

	detector.Resolve(rewind.Target)
	require.Equal(s.T(), StateStable, detector.State())
	snapshot := detector.Snapshot()
	require.Equal(s.T(), uint32(94), snapshot[len(snapshot)-1].Height)
}

func (s *DetectorTestSuite) TestHardReorg() {
	s.config.BtcWatch.ConfirmationDepth = 20
	source := newFakeSource(100)
	detector := s.newDetector(source)
	detector.Record(entries("main", 61, 94)...)

	source.fork(80)

	rewind, err := detector.Check(s.ctx)
	require.NoError(s.T(), err)
	require.NotNil(s.T(), rewind)
	require.Equal(s.T(), uint32(80), rewind.Target)
	require.Equal(s.T(), uint32(81), rewind.DivergedAt)
	require.Equal(s.T(), uint32(20), rewind.Depth)
	require.True(s.T(), rewind.Hard)
	require.NotEmpty(s.T(), rewind.AlertID)
}

func (s *DetectorTestSuite) TestMissingHeightIsDivergence() {
	source := newFakeSource(100)
	detector := s.newDetector(source)
	detector.Record(entries("main", 90, 94)...)

	// Source lost its last blocks
	source.tip = 92

	rewind, err := detector.Check(s.ctx)
	require.NoError(s.T(), err)
	require.NotNil(s.T(), rewind)
	require.Equal(s.T(), uint32(92), rewind.Target)
	require.Equal(s.T(), uint32(93), rewind.DivergedAt)
	require.Equal(s.T(), uint32(0), rewind.Depth)
	require.False(s.T(), rewind.Hard)
}

func (s *DetectorTestSuite) TestDeepSearchInHistory() {
	source := newFakeSource(100)
	detector := s.newDetector(source).
		WithHistory(fakeHistory(entries("main", 1, 94)))
	detector.Record(entries("main", 83, 94)...)

	source.fork(50)

	rewind, err := detector.Check(s.ctx)
	require.NoError(s.T(), err)
	require.NotNil(s.T(), rewind)
	require.Equal(s.T(), uint32(50), rewind.Target)
	require.Equal(s.T(), uint32(83), rewind.DivergedAt)
	require.True(s.T(), rewind.Hard)
}

func (s *DetectorTestSuite) TestNoCommonAncestor() {
	source := newFakeSource(100)
	detector := s.newDetector(source)
	detector.Record(entries("other", 90, 94)...)

	_, err := detector.Check(s.ctx)
	require.ErrorIs(s.T(), err, ErrNoCommonAncestor)
	require.Equal(s.T(), StateObserving, detector.State())
}

func (s *DetectorTestSuite) TestSourceErrorsPropagate() {
	source := newFakeSource(100)
	detector := s.newDetector(source)
	detector.Record(entries("main", 90, 94)...)
	source.err = btc.ErrSourceUnavailable

	_, err := detector.Check(s.ctx)
	require.True(s.T(), errors.Is(err, btc.ErrSourceUnavailable))
}
