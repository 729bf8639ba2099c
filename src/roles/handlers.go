package roles

import (
	"context"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vianetwork/btcwatch/src/utils/config"
	"github.com/vianetwork/btcwatch/src/utils/dal"
	"github.com/vianetwork/btcwatch/src/utils/inscription"
	"github.com/vianetwork/btcwatch/src/utils/model"
	"github.com/vianetwork/btcwatch/src/votes"

	"github.com/sirupsen/logrus"
)

// Working state of one ProcessMessages call
type iteration struct {
	ctx   context.Context
	store *dal.Store
	log   *logrus.Entry

	// Wallets as of the message being processed
	wallets        *model.SystemWallets
	walletsChanged bool

	bootstrap config.Bootstrap

	stats stats
}

func newIteration(ctx context.Context, store *dal.Store, log *logrus.Entry, state *State) *iteration {
	return &iteration{
		ctx:       ctx,
		store:     store,
		log:       log,
		wallets:   state.Wallets(),
		bootstrap: state.BootstrapConfig(),
	}
}

func (self *iteration) unauthorized(msg inscription.Message, expected string) {
	self.stats.unauthorized++
	meta := msg.Metadata()
	self.log.WithField("kind", msg.Kind()).
		WithField("txid", meta.Txid.String()).
		WithField("sender", meta.Sender).
		WithField("expected", expected).
		Warn("Inscription from unauthorized sender ignored")
}

// Stores a batch committed by the sequencer. Returns nil if the message was ignored or the batch is already known.
func (self *iteration) recordBatch(msg *inscription.BatchCommit) (batch *model.L1Batch, err error) {
	if msg.Sender != self.wallets.Sequencer {
		self.unauthorized(msg, self.wallets.Sequencer)
		return nil, nil
	}

	keys, err := self.keys(msg.BatchNumber)
	if err != nil {
		return
	}

	batch = &model.L1Batch{
		BatchNumber:     msg.BatchNumber,
		PrevRoot:        msg.PrevRoot.Hex(),
		NewRoot:         msg.NewRoot.Hex(),
		BlobID:          msg.BlobID,
		CommitTxid:      msg.CommitTxid.String(),
		RevealTxid:      msg.RevealTxid().String(),
		ProtocolVersion: keys.Version,
		BlockNumber:     msg.Height,
		Timestamp:       msg.Timestamp,
		Status:          model.BatchStatusPending,
	}

	inserted, err := self.store.Batches().Insert(self.ctx, batch)
	if err != nil {
		return nil, err
	}
	if !inserted {
		self.log.WithField("batch", msg.BatchNumber).Debug("Batch already committed, later commit ignored")
		return nil, nil
	}

	self.stats.applied++
	self.log.WithField("batch", msg.BatchNumber).WithField("height", msg.Height).Info("Batch committed")
	return
}

// Replaces the working wallets when a quorum of the current verifier set signed the update
func (self *iteration) updateWallets(msg *inscription.SystemWalletsUpdate) (err error) {
	approvals, err := msg.CountApprovals(self.wallets)
	if err != nil {
		self.stats.invalidWallets++
		self.log.WithError(err).Warn("Malformed system wallets update ignored")
		return nil
	}

	required := votes.Quorum(len(self.wallets.Verifiers))
	if len(self.wallets.Verifiers) == 0 || approvals < required {
		self.stats.invalidWallets++
		self.log.WithField("approvals", approvals).
			WithField("required", required).
			Warn("System wallets update without quorum ignored")
		return nil
	}

	details := msg.Details()
	txid, vout := msg.Origin()
	inserted, err := self.store.Wallets().InsertWallets(self.ctx, details, msg.Height, txid, vout)
	if err != nil {
		return
	}

	self.wallets = details
	self.walletsChanged = true
	if !inserted {
		return
	}
	self.stats.applied++
	self.log.WithField("verifiers", len(details.Verifiers)).WithField("height", msg.Height).Info("System wallets updated")
	return
}

func (self *iteration) recordUpgrade(msg *inscription.ProtocolUpgrade) (err error) {
	if msg.Sender != self.wallets.Governance {
		self.unauthorized(msg, self.wallets.Governance)
		return nil
	}

	txid, vout := msg.Origin()
	inserted, err := self.store.Upgrades().Insert(self.ctx, &model.ProtocolUpgrade{
		Version:         msg.Version,
		BootloaderHash:  msg.BootloaderHash.Hex(),
		DefaultAAHash:   msg.DefaultAAHash.Hex(),
		ActivationBatch: msg.ActivationBatch,
		BlockNumber:     msg.Height,
		Txid:            txid,
		Vout:            vout,
	})
	if err != nil || !inserted {
		return
	}

	self.stats.applied++
	self.log.WithField("version", msg.Version).WithField("activation", msg.ActivationBatch).Info("Protocol upgrade scheduled")
	return
}

func (self *iteration) recordDeposit(msg *inscription.Deposit) (err error) {
	value := msg.ValueTo(self.wallets.Bridge)
	if value <= 0 {
		self.log.WithField("txid", msg.Txid.String()).Debug("Deposit doesn't pay the bridge, ignored")
		self.stats.skipped++
		return nil
	}

	txid, vout := msg.Origin()
	inserted, err := self.store.Deposits().Insert(self.ctx, &model.Deposit{
		Sender:          msg.Sender,
		Receiver:        msg.Receiver.Hex(),
		ValueSats:       value,
		Calldata:        msg.Calldata,
		CanonicalTxHash: inscription.TxidToL2Hash(msg.Txid).Hex(),
		BlockNumber:     msg.Height,
		Txid:            txid,
		Vout:            vout,
		Timestamp:       msg.Timestamp,
	})
	if err != nil || !inserted {
		return
	}

	self.stats.applied++
	return
}

func (self *iteration) recordWithdrawal(msg *inscription.Withdrawal) (err error) {
	if msg.Sender != self.wallets.Bridge {
		self.unauthorized(msg, self.wallets.Bridge)
		return nil
	}

	txid, vout := msg.Origin()
	inserted, err := self.store.Withdrawals().Insert(self.ctx, &model.Withdrawal{
		WithdrawalID: txid + ":" + strconv.FormatUint(uint64(vout), 10),
		L2TxHash:     msg.L2TxHash.Hex(),
		L2TxIndex:    msg.L2TxIndex,
		Receiver:     msg.Receiver,
		ValueSats:    msg.ValueSats,
		BlockNumber:  msg.Height,
		Txid:         txid,
		Vout:         vout,
		Timestamp:    msg.Timestamp,
	})
	if err != nil || !inserted {
		return
	}

	self.stats.applied++
	return
}

// Protocol version a batch is proven against
type protocolKeys struct {
	Version        string
	BootloaderHash common.Hash
	DefaultAAHash  common.Hash
}

// Upgrade activated at or before the batch, bootstrap version otherwise
func (self *iteration) keys(batchNumber uint64) (out protocolKeys, err error) {
	upgrade, err := self.store.Upgrades().ActiveFor(self.ctx, batchNumber)
	if err != nil {
		return
	}
	if upgrade == nil {
		return protocolKeys{
			Version:        self.bootstrap.ProtocolVersion,
			BootloaderHash: common.HexToHash(self.bootstrap.BootloaderHash),
			DefaultAAHash:  common.HexToHash(self.bootstrap.DefaultAAHash),
		}, nil
	}
	return protocolKeys{
		Version:        upgrade.Version,
		BootloaderHash: common.HexToHash(upgrade.BootloaderHash),
		DefaultAAHash:  common.HexToHash(upgrade.DefaultAAHash),
	}, nil
}
