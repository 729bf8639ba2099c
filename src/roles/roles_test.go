package roles_test

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common"
	"github.com/vianetwork/btcwatch/src/roles"
	"github.com/vianetwork/btcwatch/src/utils/celestia"
	"github.com/vianetwork/btcwatch/src/utils/config"
	"github.com/vianetwork/btcwatch/src/utils/dal"
	"github.com/vianetwork/btcwatch/src/utils/dal/daltest"
	"github.com/vianetwork/btcwatch/src/utils/inscription"
	"github.com/vianetwork/btcwatch/src/utils/model"
	"github.com/vianetwork/btcwatch/src/utils/monitoring/report"
	"github.com/vianetwork/btcwatch/src/utils/verification"
	"github.com/vianetwork/btcwatch/src/votes"

	monitor_btc_watch "github.com/vianetwork/btcwatch/src/utils/monitoring/btc_watch"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const (
	sequencer  = "bc1qsequencer"
	bridge     = "bc1qbridge"
	governance = "bc1qgovernance"
)

type fakeRef struct {
	callbacks []func()
}

func (self *fakeRef) Module() string { return "test" }

func (self *fakeRef) AfterCommit(fn func()) { self.callbacks = append(self.callbacks, fn) }

func (self *fakeRef) commit() {
	for _, fn := range self.callbacks {
		fn()
	}
	self.callbacks = nil
}

type fakeDA struct {
	blobs map[string]*celestia.ProofBlob
	err   error
	calls int
}

func (self *fakeDA) FetchProof(ctx context.Context, blobID string) (*celestia.ProofBlob, error) {
	self.calls++
	if self.err != nil {
		return nil, self.err
	}
	blob, ok := self.blobs[blobID]
	if !ok {
		return nil, celestia.ErrDaUnavailable
	}
	return blob, nil
}

type fakeProver struct {
	valid    bool
	err      error
	requests []*verification.Request
}

func (self *fakeProver) Verify(ctx context.Context, req *verification.Request) (bool, error) {
	self.requests = append(self.requests, req)
	return self.valid, self.err
}

type fakeInscriber struct {
	votes []*inscription.ProofVote
	err   error
}

func (self *fakeInscriber) InscribeVote(ctx context.Context, vote *inscription.ProofVote) (chainhash.Hash, error) {
	if self.err != nil {
		return chainhash.Hash{}, self.err
	}
	self.votes = append(self.votes, vote)
	return chainhash.DoubleHashH([]byte{byte(len(self.votes))}), nil
}

func TestRolesTestSuite(t *testing.T) {
	suite.Run(t, new(RolesTestSuite))
}

type RolesTestSuite struct {
	suite.Suite
	ctx     context.Context
	config  *config.Config
	store   *dal.Store
	monitor *monitor_btc_watch.Monitor
	keys    []*btcec.PrivateKey

	da        *fakeDA
	prover    *fakeProver
	inscriber *fakeInscriber

	nonce byte
}

func (s *RolesTestSuite) SetupTest() {
	s.ctx = context.Background()

	db, err := daltest.NewDB()
	require.NoError(s.T(), err)
	s.store = dal.New(db, "test")

	s.keys = nil
	verifiers := []string{}
	for i := 0; i < 4; i++ {
		key, err := btcec.NewPrivateKey()
		require.NoError(s.T(), err)
		s.keys = append(s.keys, key)
		verifiers = append(verifiers, inscription.XOnlyHex(inscription.XOnly(key.PubKey())))
	}

	s.config = config.Default()
	s.config.BtcWatch.GenesisBatchNumber = 1
	s.config.Bootstrap = config.Bootstrap{
		Sequencer:       sequencer,
		Bridge:          bridge,
		Governance:      governance,
		Verifiers:       verifiers,
		ProtocolVersion: "1",
		BootloaderHash:  common.HexToHash("0x01").Hex(),
		DefaultAAHash:   common.HexToHash("0x02").Hex(),
	}
	s.config.Verifier.Mode = config.VerifierModeOnlyRealProofs
	s.config.Verifier.PrivateKey = hex.EncodeToString(s.keys[0].Serialize())
	s.monitor = monitor_btc_watch.NewMonitor(s.config)

	s.da = &fakeDA{blobs: map[string]*celestia.ProofBlob{}}
	s.prover = &fakeProver{valid: true}
	s.inscriber = &fakeInscriber{}
}

func (s *RolesTestSuite) newRole(role config.Role) (roles.Role, *votes.Aggregator) {
	s.config.BtcWatch.Role = role

	state := roles.NewState(s.config)
	require.NoError(s.T(), state.Bootstrap(s.ctx, s.store))

	aggregator := votes.NewAggregator(s.config).WithMonitor(s.monitor)
	out, err := roles.New(s.config, roles.Dependencies{
		State:      state,
		Aggregator: aggregator,
		Monitor:    s.monitor,
		Fetcher:    s.da,
		Verifier:   s.prover,
		Inscriber:  s.inscriber,
	})
	require.NoError(s.T(), err)
	require.Equal(s.T(), string(role), out.Name())
	return out, aggregator
}

func (s *RolesTestSuite) meta(height uint32, sender string) inscription.Meta {
	s.nonce++
	return inscription.Meta{
		Height: height,
		Txid:   chainhash.DoubleHashH([]byte{s.nonce, 0xaa}),
		Sender: sender,
	}
}

func (s *RolesTestSuite) commit(height uint32, sender string, batchNumber uint64) *inscription.BatchCommit {
	return &inscription.BatchCommit{
		Meta:        s.meta(height, sender),
		BatchNumber: batchNumber,
		BlobID:      "blob",
	}
}

func (s *RolesTestSuite) vote(height uint32, key *btcec.PrivateKey, batchNumber uint64, vote inscription.Vote) *inscription.ProofVote {
	out := &inscription.ProofVote{
		Meta:        s.meta(height, "bc1qvoter"),
		BatchNumber: batchNumber,
		Vote:        vote,
	}
	require.NoError(s.T(), out.Sign(key))
	return out
}

func (s *RolesTestSuite) walletsUpdate(height uint32, signers []*btcec.PrivateKey, verifiers ...*btcec.PrivateKey) *inscription.SystemWalletsUpdate {
	out := &inscription.SystemWalletsUpdate{
		Meta:       s.meta(height, governance),
		Sequencer:  "bc1qnewsequencer",
		Bridge:     bridge,
		Governance: governance,
	}
	for _, key := range verifiers {
		out.Verifiers = append(out.Verifiers, inscription.XOnly(key.PubKey()))
	}

	digest, err := inscription.WalletsDigest(out.Details())
	require.NoError(s.T(), err)
	for _, key := range signers {
		sig, err := inscription.Sign(key, digest)
		require.NoError(s.T(), err)
		out.Signatures = append(out.Signatures, inscription.WalletSignature{
			Pubkey:    inscription.XOnly(key.PubKey()),
			Signature: sig,
		})
	}
	return out
}

func (s *RolesTestSuite) process(role roles.Role, msgs ...inscription.Message) {
	ref := &fakeRef{}
	err := s.store.Transaction(s.ctx, func(tx *dal.Store) error {
		proceed, err := role.PreIteration(s.ctx, tx)
		require.True(s.T(), proceed)
		if err != nil {
			return err
		}
		return role.ProcessMessages(s.ctx, tx, msgs, ref)
	})
	require.NoError(s.T(), err)
	ref.commit()
}

func (s *RolesTestSuite) batch(batchNumber uint64) *model.L1Batch {
	batch, err := s.store.Batches().Get(s.ctx, batchNumber)
	require.NoError(s.T(), err)
	return batch
}

func (s *RolesTestSuite) TestCoordinatorCanonicalChain() {
	role, aggregator := s.newRole(config.RoleCoordinator)

	s.process(role,
		s.commit(10, sequencer, 1),
		s.commit(10, "bc1qintruder", 2),
	)
	require.NotNil(s.T(), s.batch(1))
	require.Nil(s.T(), s.batch(2))
	require.Equal(s.T(), uint64(1), s.monitor.GetReport().BtcWatch.State.InscriptionsProcessed.Load(report.StageUnauthorized))

	s.process(role,
		s.vote(11, s.keys[0], 1, inscription.VoteApprove),
		s.vote(11, s.keys[1], 1, inscription.VoteApprove),
	)
	require.Equal(s.T(), model.BatchStatusPending, s.batch(1).Status)
	require.Equal(s.T(), uint64(0), aggregator.LastValidL1Batch())

	s.process(role, s.vote(12, s.keys[2], 1, inscription.VoteApprove))
	require.Equal(s.T(), model.BatchStatusCanonical, s.batch(1).Status)
	require.Equal(s.T(), uint64(1), aggregator.LastValidL1Batch())
	require.True(s.T(), aggregator.Snapshot().IsValid)
	require.Equal(s.T(), uint64(3), s.monitor.GetReport().BtcWatch.State.VotesRecorded.Load())
}

func (s *RolesTestSuite) TestCoordinatorSnapshotWaitsForCommit() {
	role, aggregator := s.newRole(config.RoleCoordinator)
	s.process(role, s.commit(10, sequencer, 1))

	ref := &fakeRef{}
	err := s.store.Transaction(s.ctx, func(tx *dal.Store) error {
		msgs := []inscription.Message{
			s.vote(11, s.keys[0], 1, inscription.VoteApprove),
			s.vote(11, s.keys[1], 1, inscription.VoteApprove),
			s.vote(11, s.keys[2], 1, inscription.VoteApprove),
		}
		return role.ProcessMessages(s.ctx, tx, msgs, ref)
	})
	require.NoError(s.T(), err)
	require.Equal(s.T(), uint64(0), aggregator.LastValidL1Batch())

	ref.commit()
	require.Equal(s.T(), uint64(1), aggregator.LastValidL1Batch())
}

func (s *RolesTestSuite) TestCoordinatorInvalidVotes() {
	role, _ := s.newRole(config.RoleCoordinator)
	s.process(role, s.commit(10, sequencer, 1))

	outsider, err := btcec.NewPrivateKey()
	require.NoError(s.T(), err)

	forged := s.vote(11, s.keys[1], 1, inscription.VoteApprove)
	forged.Vote = inscription.VoteReject

	s.process(role,
		s.vote(11, outsider, 1, inscription.VoteApprove),
		forged,
		s.vote(11, s.keys[0], 9, inscription.VoteApprove),
	)
	require.Equal(s.T(), uint64(3), s.monitor.GetReport().BtcWatch.Errors.InvalidVotes.Load())

	votes, err := s.store.Votes().GetVotesForBatch(s.ctx, 1)
	require.NoError(s.T(), err)
	require.Empty(s.T(), votes)
}

func (s *RolesTestSuite) TestCoordinatorBridge() {
	role, _ := s.newRole(config.RoleCoordinator)

	deposit := &inscription.Deposit{
		Meta:     s.meta(10, "bc1qdepositor"),
		Receiver: common.HexToAddress("0x1234"),
	}
	deposit.Outputs = []inscription.Output{
		{Address: bridge, ValueSats: 700},
		{Address: "bc1qchange", ValueSats: 5000},
		{Address: bridge, ValueSats: 300},
	}
	unpaid := &inscription.Deposit{Meta: s.meta(10, "bc1qdepositor")}

	withdrawal := &inscription.Withdrawal{
		Meta:      s.meta(10, bridge),
		L2TxHash:  common.HexToHash("0xabcd"),
		Receiver:  "bc1qreceiver",
		ValueSats: 1000,
	}
	forged := &inscription.Withdrawal{Meta: s.meta(10, "bc1qintruder"), ValueSats: 1000}

	s.process(role, deposit, unpaid, withdrawal, forged, deposit)

	deposits, err := s.store.Deposits().List(s.ctx)
	require.NoError(s.T(), err)
	require.Len(s.T(), deposits, 1)
	require.Equal(s.T(), int64(1000), deposits[0].ValueSats)
	require.Equal(s.T(), "bc1qdepositor", deposits[0].Sender)
	require.Equal(s.T(), inscription.TxidToL2Hash(deposit.Txid).Hex(), deposits[0].CanonicalTxHash)

	withdrawals, err := s.store.Withdrawals().List(s.ctx)
	require.NoError(s.T(), err)
	require.Len(s.T(), withdrawals, 1)
	require.Equal(s.T(), "bc1qreceiver", withdrawals[0].Receiver)

	processed := &s.monitor.GetReport().BtcWatch.State.InscriptionsProcessed
	require.Equal(s.T(), uint64(2), processed.Load(report.StageApplied))
	require.Equal(s.T(), uint64(1), processed.Load(report.StageSkipped))
	require.Equal(s.T(), uint64(1), processed.Load(report.StageUnauthorized))
}

func (s *RolesTestSuite) TestWalletsUpdate() {
	role, _ := s.newRole(config.RoleCoordinator)

	newKey, err := btcec.NewPrivateKey()
	require.NoError(s.T(), err)

	// 2 of 4 is below quorum
	s.process(role, s.walletsUpdate(10, s.keys[:2], newKey))
	require.Equal(s.T(), uint64(1), s.monitor.GetReport().BtcWatch.Errors.InvalidWallets.Load())

	wallets, err := s.store.Wallets().LoadSystemWallets(s.ctx)
	require.NoError(s.T(), err)
	require.Equal(s.T(), sequencer, wallets.Sequencer)

	// Batch from the new sequencer is accepted right after the update in the same block
	update := s.walletsUpdate(11, s.keys[:3], newKey)
	s.process(role, update, s.commit(11, "bc1qnewsequencer", 1), s.commit(11, sequencer, 2))

	wallets, err = s.store.Wallets().LoadSystemWallets(s.ctx)
	require.NoError(s.T(), err)
	require.Equal(s.T(), "bc1qnewsequencer", wallets.Sequencer)
	require.Equal(s.T(), []string{inscription.XOnlyHex(inscription.XOnly(newKey.PubKey()))}, wallets.Verifiers)
	require.NotNil(s.T(), s.batch(1))
	require.Nil(s.T(), s.batch(2))

	// Old verifiers don't count anymore, the new single verifier is a quorum
	s.process(role, s.vote(12, s.keys[0], 1, inscription.VoteApprove))
	require.Equal(s.T(), model.BatchStatusPending, s.batch(1).Status)
	s.process(role, s.vote(12, newKey, 1, inscription.VoteApprove))
	require.Equal(s.T(), model.BatchStatusCanonical, s.batch(1).Status)
}

func (s *RolesTestSuite) TestUpgradeAuthorization() {
	role, _ := s.newRole(config.RoleCoordinator)

	upgrade := &inscription.ProtocolUpgrade{
		Meta:            s.meta(10, governance),
		Version:         "2",
		BootloaderHash:  common.HexToHash("0x22"),
		ActivationBatch: 5,
	}
	forged := &inscription.ProtocolUpgrade{
		Meta:            s.meta(10, sequencer),
		Version:         "666",
		ActivationBatch: 1,
	}
	s.process(role, upgrade, forged, s.commit(11, sequencer, 4), s.commit(11, sequencer, 5))

	upgrades, err := s.store.Upgrades().List(s.ctx)
	require.NoError(s.T(), err)
	require.Len(s.T(), upgrades, 1)
	require.Equal(s.T(), "2", upgrades[0].Version)

	require.Equal(s.T(), "1", s.batch(4).ProtocolVersion)
	require.Equal(s.T(), "2", s.batch(5).ProtocolVersion)
}

func (s *RolesTestSuite) TestCoordinatorRewound() {
	role, aggregator := s.newRole(config.RoleCoordinator)
	s.process(role, s.commit(10, sequencer, 1))
	s.process(role,
		s.vote(11, s.keys[0], 1, inscription.VoteApprove),
		s.vote(11, s.keys[1], 1, inscription.VoteApprove),
		s.vote(12, s.keys[2], 1, inscription.VoteApprove),
	)
	require.Equal(s.T(), uint64(1), aggregator.LastValidL1Batch())

	require.NoError(s.T(), s.store.IndexerMeta().InitIndexerMetadata(s.ctx, s.store.Module(), 1))
	require.NoError(s.T(), s.store.IndexerMeta().UpdateLastProcessedL1Block(s.ctx, s.store.Module(), 12))

	ref := &fakeRef{}
	err := s.store.Transaction(s.ctx, func(tx *dal.Store) error {
		err := tx.IndexerMeta().Rewind(s.ctx, tx.Module(), 10)
		if err != nil {
			return err
		}
		return role.Rewound(s.ctx, tx, ref, 10, false)
	})
	require.NoError(s.T(), err)
	ref.commit()

	require.Equal(s.T(), model.BatchStatusPending, s.batch(1).Status)
	require.Equal(s.T(), uint64(0), aggregator.LastValidL1Batch())
}

func (s *RolesTestSuite) TestVerifierApproves() {
	role, _ := s.newRole(config.RoleVerifier)
	s.da.blobs["blob"] = &celestia.ProofBlob{BatchNumber: 1, Proof: []byte{1}, PublicInputs: []byte{2}}

	s.process(role, s.commit(10, sequencer, 1), s.vote(10, s.keys[1], 1, inscription.VoteApprove))

	require.Len(s.T(), s.inscriber.votes, 1)
	vote := s.inscriber.votes[0]
	require.Equal(s.T(), inscription.VoteApprove, vote.Vote)
	require.Equal(s.T(), uint64(1), vote.BatchNumber)
	require.True(s.T(), vote.VerifySignature())

	require.Len(s.T(), s.prover.requests, 1)
	require.Equal(s.T(), common.HexToHash("0x01"), s.prover.requests[0].BootloaderHash)

	// Only the own vote is stored
	votes, err := s.store.Votes().GetVotesForBatch(s.ctx, 1)
	require.NoError(s.T(), err)
	require.Len(s.T(), votes, 1)
	require.Equal(s.T(), inscription.XOnlyHex(inscription.XOnly(s.keys[0].PubKey())), votes[0].Voter)
	require.Equal(s.T(), uint32(10), votes[0].BlockNumber)
	require.Equal(s.T(), uint64(1), s.monitor.GetReport().BtcWatch.State.VotesCast.Load())
}

func (s *RolesTestSuite) TestVerifierRejects() {
	role, _ := s.newRole(config.RoleVerifier)
	s.da.blobs["blob"] = &celestia.ProofBlob{BatchNumber: 1}
	s.prover.valid = false

	s.process(role, s.commit(10, sequencer, 1))
	require.Len(s.T(), s.inscriber.votes, 1)
	require.Equal(s.T(), inscription.VoteReject, s.inscriber.votes[0].Vote)

	// Blob of another batch
	s.prover.valid = true
	s.da.blobs["other"] = &celestia.ProofBlob{BatchNumber: 7}
	commit := s.commit(11, sequencer, 2)
	commit.BlobID = "other"
	s.process(role, commit)
	require.Len(s.T(), s.inscriber.votes, 2)
	require.Equal(s.T(), inscription.VoteReject, s.inscriber.votes[1].Vote)
	require.Len(s.T(), s.prover.requests, 1)
}

func (s *RolesTestSuite) TestVerifierAbortsWhenServicesDown() {
	role, _ := s.newRole(config.RoleVerifier)
	msgs := []inscription.Message{s.commit(10, sequencer, 1)}

	try := func() error {
		return s.store.Transaction(s.ctx, func(tx *dal.Store) error {
			return role.ProcessMessages(s.ctx, tx, msgs, &fakeRef{})
		})
	}

	// Blob not posted yet
	require.ErrorIs(s.T(), try(), celestia.ErrDaUnavailable)

	s.da.blobs["blob"] = &celestia.ProofBlob{BatchNumber: 1}
	s.prover.err = verification.ErrUnreachable
	require.ErrorIs(s.T(), try(), verification.ErrUnreachable)

	s.prover.err = nil
	s.inscriber.err = errors.New("wallet locked")
	require.Error(s.T(), try())

	require.Empty(s.T(), s.inscriber.votes)
	require.Nil(s.T(), s.batch(1))

	errs := &s.monitor.GetReport().BtcWatch.Errors
	require.Equal(s.T(), uint64(1), errs.DaFailures.Load())
	require.Equal(s.T(), uint64(1), errs.VerifierFailures.Load())
	require.Equal(s.T(), uint64(1), errs.InscriberFailures.Load())

	s.inscriber.err = nil
	require.NoError(s.T(), try())
	require.Len(s.T(), s.inscriber.votes, 1)
}

func (s *RolesTestSuite) TestVerifierSkipsProofs() {
	s.config.Verifier.Mode = config.VerifierModeSkipEveryProof
	s.config.Verifier.UnsafeAllowSkipProofs = true
	role, _ := s.newRole(config.RoleVerifier)

	s.process(role, s.commit(10, sequencer, 1))
	require.Equal(s.T(), 0, s.da.calls)
	require.Empty(s.T(), s.prover.requests)
	require.Len(s.T(), s.inscriber.votes, 1)
	require.Equal(s.T(), inscription.VoteApprove, s.inscriber.votes[0].Vote)
}

func (s *RolesTestSuite) TestVerifierOutsideSet() {
	outsider, err := btcec.NewPrivateKey()
	require.NoError(s.T(), err)
	s.config.Verifier.PrivateKey = hex.EncodeToString(outsider.Serialize())
	role, _ := s.newRole(config.RoleVerifier)

	s.process(role, s.commit(10, sequencer, 1))
	require.NotNil(s.T(), s.batch(1))
	require.Empty(s.T(), s.inscriber.votes)
}

func (s *RolesTestSuite) TestVerifierAndProcessor() {
	s.config.Verifier.Mode = config.VerifierModeSkipEveryProof
	s.config.Verifier.UnsafeAllowSkipProofs = true
	role, aggregator := s.newRole(config.RoleVerifierAndProcessor)

	s.process(role,
		s.commit(10, sequencer, 1),
		s.vote(10, s.keys[1], 1, inscription.VoteApprove),
		s.vote(10, s.keys[2], 1, inscription.VoteApprove),
	)
	require.Len(s.T(), s.inscriber.votes, 1)

	// Own vote plus two others reach the quorum of 3
	batch := s.batch(1)
	require.Equal(s.T(), 3, batch.Approvals)
	require.Equal(s.T(), model.BatchStatusCanonical, batch.Status)
	require.Equal(s.T(), uint64(1), aggregator.LastValidL1Batch())

	// The own vote seen on chain later is a duplicate
	own := s.inscriber.votes[0]
	own.Meta = s.meta(11, "bc1qvoter")
	s.process(role, own)
	require.Equal(s.T(), 3, s.batch(1).Approvals)
}
