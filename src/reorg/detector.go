package reorg

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vianetwork/btcwatch/src/utils/btc"
	"github.com/vianetwork/btcwatch/src/utils/config"
	"github.com/vianetwork/btcwatch/src/utils/logger"
	"github.com/vianetwork/btcwatch/src/utils/monitoring"

	"github.com/gammazero/deque"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Page size used when searching persisted hashes for a common ancestor
const historyPageSize = 100

// Compares remembered block hashes with the Bitcoin source and decides how far to rewind.
// Owns the ring of recent (height, hash) pairs, everyone else reads snapshots.
type Detector struct {
	log *logrus.Entry

	mtx      sync.RWMutex
	ring     *deque.Deque[Entry]
	capacity int
	state    State

	finalityDepth uint32

	source  Source
	history History
	monitor monitoring.Monitor
}

func NewDetector(config *config.Config) (self *Detector) {
	self = new(Detector)
	self.log = logger.NewSublogger("reorg")

	self.capacity = 2 * int(config.BtcWatch.ConfirmationDepth)
	if self.capacity < 2 {
		self.capacity = 2
	}
	self.ring = deque.New[Entry](self.capacity)
	self.finalityDepth = config.BtcWatch.FinalityDepth
	self.state = StateStable

	return
}

func (self *Detector) WithSource(v Source) *Detector {
	self.source = v
	return self
}

func (self *Detector) WithHistory(v History) *Detector {
	self.history = v
	return self
}

func (self *Detector) WithMonitor(v monitoring.Monitor) *Detector {
	self.monitor = v
	self.publishState()
	return self
}

func (self *Detector) Capacity() int {
	return self.capacity
}

func (self *Detector) State() State {
	self.mtx.RLock()
	defer self.mtx.RUnlock()
	return self.state
}

func (self *Detector) setState(v State) {
	self.mtx.Lock()
	self.state = v
	self.mtx.Unlock()
	self.publishState()
}

func (self *Detector) publishState() {
	if self.monitor == nil {
		return
	}
	self.monitor.GetReport().BtcWatch.State.ReorgState.Store(string(self.State()))
}

// Copy of the ring, lowest height first
func (self *Detector) Snapshot() []Entry {
	self.mtx.RLock()
	defer self.mtx.RUnlock()

	out := make([]Entry, self.ring.Len())
	for i := range out {
		out[i] = self.ring.At(i)
	}
	return out
}

// Remembers processed blocks. Entries at or above a new height are replaced.
func (self *Detector) Record(entries ...Entry) {
	self.mtx.Lock()
	defer self.mtx.Unlock()

	for _, entry := range entries {
		for self.ring.Len() > 0 && self.ring.Back().Height >= entry.Height {
			self.ring.PopBack()
		}
		self.ring.PushBack(entry)
		for self.ring.Len() > self.capacity {
			self.ring.PopFront()
		}
	}
}

// Forgets blocks above target and returns to the stable state
func (self *Detector) Resolve(target uint32) {
	self.mtx.Lock()
	for self.ring.Len() > 0 && self.ring.Back().Height > target {
		self.ring.PopBack()
	}
	self.state = StateStable
	self.mtx.Unlock()

	self.publishState()
}

// Returns nil if every remembered block is still on the source's chain
func (self *Detector) Check(ctx context.Context) (rewind *Rewind, err error) {
	entries := self.Snapshot()
	if len(entries) == 0 {
		return nil, nil
	}

	// Tip only feeds the depth. Remembered heights above it are still queried and count as diverged.
	tip, err := self.source.TipHeight(ctx)
	if err != nil {
		return
	}

	common, divergedAt, diverged, found, err := self.search(ctx, entries)
	if err != nil {
		return
	}

	if !diverged {
		self.setState(StateStable)
		return nil, nil
	}

	self.setState(StateObserving)
	self.log.WithField("height", divergedAt).WithField("tip", tip).Warn("Remembered block is no longer on the best chain")

	if !found {
		common, found, err = self.searchHistory(ctx, entries[0].Height)
		if err != nil {
			return
		}
		if !found {
			self.log.WithField("lowest_checked", entries[0].Height).Error("No common ancestor found, manual intervention needed")
			return nil, fmt.Errorf("%w: diverged at %d", ErrNoCommonAncestor, divergedAt)
		}
	}

	rewind = &Rewind{
		Target:     common.Height,
		Tip:        tip,
		DivergedAt: divergedAt,
	}
	if tip > common.Height {
		rewind.Depth = tip - common.Height
	}

	rewind.Hard = rewind.Depth > self.finalityDepth
	if rewind.Hard {
		rewind.AlertID = uuid.NewString()
		self.log.
			WithField("alert_id", rewind.AlertID).
			WithField("target", rewind.Target).
			WithField("diverged_at", rewind.DivergedAt).
			WithField("depth", rewind.Depth).
			WithField("finality_depth", self.finalityDepth).
			Error("ALERT: hard reorg beyond finality depth")
	} else {
		self.log.
			WithField("target", rewind.Target).
			WithField("depth", rewind.Depth).
			Warn("Soft reorg")
	}

	self.setState(StateRewinding)
	return
}

// Walks the ring from the top. Returns the highest matching entry and the lowest diverging height seen above it.
func (self *Detector) search(ctx context.Context, entries []Entry) (common Entry, divergedAt uint32, diverged, found bool, err error) {
	for i := len(entries) - 1; i >= 0; i-- {
		var matches bool
		matches, err = self.matches(ctx, entries[i])
		if err != nil {
			return
		}
		if matches {
			return entries[i], divergedAt, diverged, true, nil
		}
		divergedAt = entries[i].Height
		diverged = true
	}
	return
}

// Pages through persisted hashes below the ring looking for a block still on the chain
func (self *Detector) searchHistory(ctx context.Context, below uint32) (common Entry, found bool, err error) {
	if self.history == nil {
		return
	}

	for {
		var page []Entry
		page, err = self.history.Below(ctx, below, historyPageSize)
		if err != nil || len(page) == 0 {
			return
		}

		for _, entry := range page {
			var matches bool
			matches, err = self.matches(ctx, entry)
			if err != nil {
				return
			}
			if matches {
				return entry, true, nil
			}
		}

		below = page[len(page)-1].Height
	}
}

func (self *Detector) matches(ctx context.Context, entry Entry) (bool, error) {
	hash, err := self.source.BlockHashAt(ctx, entry.Height)
	if errors.Is(err, btc.ErrHeightNotFound) {
		// Height vanished from the source, counts as divergence
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return hash == entry.Hash, nil
}
