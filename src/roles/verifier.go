package roles

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/vianetwork/btcwatch/src/utils/celestia"
	"github.com/vianetwork/btcwatch/src/utils/config"
	"github.com/vianetwork/btcwatch/src/utils/dal"
	"github.com/vianetwork/btcwatch/src/utils/inscription"
	"github.com/vianetwork/btcwatch/src/utils/logger"
	"github.com/vianetwork/btcwatch/src/utils/model"
	"github.com/vianetwork/btcwatch/src/utils/monitoring"
	"github.com/vianetwork/btcwatch/src/utils/verification"

	"github.com/sirupsen/logrus"
)

type ProofFetcher interface {
	FetchProof(ctx context.Context, blobID string) (*celestia.ProofBlob, error)
}

type ProofVerifier interface {
	Verify(ctx context.Context, req *verification.Request) (bool, error)
}

type VoteInscriber interface {
	InscribeVote(ctx context.Context, vote *inscription.ProofVote) (chainhash.Hash, error)
}

// Checks proofs of committed batches and inscribes its vote on each of them
type Verifier struct {
	log     *logrus.Entry
	config  *config.Config
	state   *State
	monitor monitoring.Monitor

	key   *btcec.PrivateKey
	voter string

	fetcher   ProofFetcher
	verifier  ProofVerifier
	inscriber VoteInscriber
}

func NewVerifier(config *config.Config) (self *Verifier, err error) {
	self = new(Verifier)
	self.log = logger.NewSublogger("verifier")
	self.config = config

	self.key, err = inscription.ParsePrivateKeyHex(config.Verifier.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid verifier key: %w", err)
	}
	self.voter = inscription.XOnlyHex(inscription.XOnly(self.key.PubKey()))
	return
}

func (self *Verifier) WithState(v *State) *Verifier {
	self.state = v
	return self
}

func (self *Verifier) WithMonitor(v monitoring.Monitor) *Verifier {
	self.monitor = v
	return self
}

func (self *Verifier) WithProofFetcher(v ProofFetcher) *Verifier {
	self.fetcher = v
	return self
}

func (self *Verifier) WithProofVerifier(v ProofVerifier) *Verifier {
	self.verifier = v
	return self
}

func (self *Verifier) WithInscriber(v VoteInscriber) *Verifier {
	self.inscriber = v
	return self
}

func (self *Verifier) Name() string {
	return string(config.RoleVerifier)
}

// Hex x-only key votes are signed with
func (self *Verifier) Voter() string {
	return self.voter
}

func (self *Verifier) PreIteration(ctx context.Context, store *dal.Store) (bool, error) {
	if !self.state.Wallets().IsVerifier(self.voter) {
		self.log.WithField("voter", self.voter).Debug("Not in the verifier set, batches won't be voted on")
	}
	return true, nil
}

func (self *Verifier) ProcessMessages(ctx context.Context, store *dal.Store, msgs []inscription.Message, ref IndexerRef) (err error) {
	it := newIteration(ctx, store, self.log, self.state)

	for _, msg := range msgs {
		switch m := msg.(type) {
		case *inscription.BatchCommit:
			var batch *model.L1Batch
			batch, err = it.recordBatch(m)
			if err == nil && batch != nil {
				err = self.vote(it, batch)
			}
		case *inscription.ProtocolUpgrade:
			err = it.recordUpgrade(m)
		case *inscription.SystemWalletsUpdate:
			err = it.updateWallets(m)
		default:
			// Votes of others and bridge traffic are handled by the coordinator
		}
		if err != nil {
			return
		}
	}

	wallets, walletsChanged, stats := it.wallets, it.walletsChanged, it.stats
	ref.AfterCommit(func() {
		if walletsChanged {
			self.state.SetWallets(wallets)
		}
		stats.report(self.monitor)
	})
	return
}

// Verifies the batch's proof, inscribes the vote and stores it.
// Errors abort the iteration so the batch is retried.
func (self *Verifier) vote(it *iteration, batch *model.L1Batch) (err error) {
	log := self.log.WithField("batch", batch.BatchNumber)

	if !it.wallets.IsVerifier(self.voter) {
		log.Debug("Not a verifier, batch not voted on")
		return nil
	}

	valid, reason, err := self.check(it, batch)
	if err != nil {
		return
	}

	vote := &inscription.ProofVote{
		BatchNumber: batch.BatchNumber,
		Vote:        inscription.VoteReject,
	}
	if valid {
		vote.Vote = inscription.VoteApprove
	}
	err = vote.Sign(self.key)
	if err != nil {
		return
	}

	txid, err := self.inscriber.InscribeVote(it.ctx, vote)
	if err != nil {
		if self.monitor != nil {
			self.monitor.GetReport().BtcWatch.Errors.InscriberFailures.Inc()
		}
		return fmt.Errorf("failed to inscribe vote for batch %d: %w", batch.BatchNumber, err)
	}

	// Stored at the commit's height, a rewind below the commit drops both
	_, err = it.store.Votes().UpsertVote(it.ctx, &model.Vote{
		BatchNumber: batch.BatchNumber,
		Voter:       self.voter,
		Approve:     valid,
		Signature:   hex.EncodeToString(vote.Signature[:]),
		BlockNumber: batch.BlockNumber,
		Txid:        txid.String(),
	})
	if err != nil {
		return
	}

	it.stats.votesCast++
	log.WithField("vote", vote.Vote).
		WithField("reason", reason).
		WithField("txid", txid.String()).
		Info("Vote inscribed")
	return
}

// Invalid proofs and broken blobs yield a reject vote, unreachable services an error
func (self *Verifier) check(it *iteration, batch *model.L1Batch) (valid bool, reason string, err error) {
	if self.config.Verifier.Mode == config.VerifierModeSkipEveryProof {
		return true, "proof skipped", nil
	}

	proof, err := self.fetcher.FetchProof(it.ctx, batch.BlobID)
	switch {
	case errors.Is(err, celestia.ErrInvalidBlob), errors.Is(err, celestia.ErrBlobTooLarge):
		return false, err.Error(), nil
	case err != nil:
		if self.monitor != nil {
			self.monitor.GetReport().BtcWatch.Errors.DaFailures.Inc()
		}
		return false, "", err
	}

	if proof.BatchNumber < 0 || uint64(proof.BatchNumber) != batch.BatchNumber {
		return false, fmt.Sprintf("blob holds batch %d", proof.BatchNumber), nil
	}

	keys, err := it.keys(batch.BatchNumber)
	if err != nil {
		return
	}

	start := time.Now()
	valid, err = self.verifier.Verify(it.ctx, &verification.Request{
		BatchNumber:    batch.BatchNumber,
		Proof:          proof.Proof,
		PublicInputs:   proof.PublicInputs,
		BootloaderHash: keys.BootloaderHash,
		DefaultAAHash:  keys.DefaultAAHash,
	})
	if err != nil {
		if self.monitor != nil {
			self.monitor.GetReport().BtcWatch.Errors.VerifierFailures.Inc()
		}
		return false, "", err
	}

	if self.monitor != nil {
		self.monitor.GetReport().BtcWatch.VerificationTime.Observe(time.Since(start).Seconds())
	}

	if !valid {
		reason = "proof rejected"
	}
	return
}

func (self *Verifier) Rewound(ctx context.Context, store *dal.Store, ref IndexerRef, target uint32, hard bool) (err error) {
	wallets, err := store.Wallets().LoadSystemWallets(ctx)
	if err != nil || wallets == nil {
		return
	}
	ref.AfterCommit(func() {
		self.state.SetWallets(wallets)
	})
	return
}
