package roles

import (
	"context"
	"sync"

	"github.com/vianetwork/btcwatch/src/utils/config"
	"github.com/vianetwork/btcwatch/src/utils/dal"
	"github.com/vianetwork/btcwatch/src/utils/logger"
	"github.com/vianetwork/btcwatch/src/utils/model"

	"github.com/sirupsen/logrus"
)

// Origin of the bootstrap wallets row
const bootstrapTxid = "bootstrap"

// In-memory copy of committed protocol state shared by roles
type State struct {
	log       *logrus.Entry
	bootstrap config.Bootstrap

	mtx     sync.RWMutex
	wallets *model.SystemWallets
}

func NewState(config *config.Config) (self *State) {
	self = new(State)
	self.log = logger.NewSublogger("state")
	self.bootstrap = config.Bootstrap
	return
}

// Records the configured wallets at height 0 unless some wallets are already known
func (self *State) Bootstrap(ctx context.Context, store *dal.Store) (err error) {
	current, err := store.Wallets().LoadSystemWallets(ctx)
	if err != nil {
		return
	}

	if current == nil {
		details := &model.SystemWallets{
			Sequencer:  self.bootstrap.Sequencer,
			Bridge:     self.bootstrap.Bridge,
			Governance: self.bootstrap.Governance,
			Verifiers:  self.bootstrap.Verifiers,
		}
		if len(details.Verifiers) == 0 {
			self.log.Warn("Bootstrap verifier set is empty, no batch will become canonical")
		}

		_, err = store.Wallets().InsertWallets(ctx, details, 0, bootstrapTxid, 0)
		if err != nil {
			return
		}
		self.log.WithField("verifiers", len(details.Verifiers)).Info("Bootstrapped system wallets")
	}

	return self.Reload(ctx, store)
}

// Replaces the in-memory copy with what's committed in the database
func (self *State) Reload(ctx context.Context, store *dal.Store) (err error) {
	wallets, err := store.Wallets().LoadSystemWallets(ctx)
	if err != nil {
		return
	}
	if wallets == nil {
		wallets = &model.SystemWallets{}
	}
	self.SetWallets(wallets)
	return
}

// Copy safe to modify
func (self *State) Wallets() *model.SystemWallets {
	self.mtx.RLock()
	defer self.mtx.RUnlock()
	if self.wallets == nil {
		return &model.SystemWallets{}
	}
	return self.wallets.Clone()
}

func (self *State) SetWallets(v *model.SystemWallets) {
	self.mtx.Lock()
	defer self.mtx.Unlock()
	self.wallets = v.Clone()
}

func (self *State) BootstrapConfig() config.Bootstrap {
	return self.bootstrap
}
