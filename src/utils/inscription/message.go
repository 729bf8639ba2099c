package inscription

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common"
)

type Kind string

const (
	KindBatchCommit         Kind = "BatchCommit"
	KindProofVote           Kind = "ProofVote"
	KindDeposit             Kind = "Deposit"
	KindWithdrawal          Kind = "Withdrawal"
	KindProtocolUpgrade     Kind = "ProtocolUpgrade"
	KindSystemWalletsUpdate Kind = "SystemWalletsUpdate"
	KindUnknown             Kind = "Unknown"
)

// Bitcoin output paid by the inscribing transaction
type Output struct {
	Address   string
	ValueSats int64
}

// Where and when a message was inscribed
type Meta struct {
	Height    uint32
	BlockHash chainhash.Hash
	Timestamp int64

	Txid    chainhash.Hash
	TxIndex uint32

	// Position of the inscription within its transaction
	Vout uint32

	// Output spent by the input revealing the envelope, zero for OP_RETURN inscriptions
	CommitTxid chainhash.Hash

	// Address of the first input's previous output
	Sender string

	Outputs []Output
}

func (self *Meta) Metadata() *Meta {
	return self
}

// Key used for idempotent writes
func (self *Meta) Origin() (txid string, vout uint32) {
	return self.Txid.String(), self.Vout
}

type Message interface {
	Kind() Kind
	Metadata() *Meta

	// Pushes following the kind in the envelope
	Fields() [][]byte
}

type Vote uint8

const (
	VoteReject  Vote = 0
	VoteApprove Vote = 1
)

func (self Vote) String() string {
	if self == VoteApprove {
		return "approve"
	}
	return "reject"
}

type BatchCommit struct {
	Meta
	BatchNumber uint64
	PrevRoot    common.Hash
	NewRoot     common.Hash
	BlobID      string
}

func (*BatchCommit) Kind() Kind { return KindBatchCommit }

func (self *BatchCommit) RevealTxid() chainhash.Hash { return self.Txid }

type ProofVote struct {
	Meta
	BatchNumber uint64
	VoterPubkey [32]byte
	Vote        Vote
	Signature   [64]byte
}

func (*ProofVote) Kind() Kind { return KindProofVote }

type Deposit struct {
	Meta
	Receiver common.Address
	Calldata []byte
}

func (*Deposit) Kind() Kind { return KindDeposit }

// Sum of outputs paying the bridge
func (self *Deposit) ValueTo(bridge string) (total int64) {
	for _, out := range self.Outputs {
		if out.Address == bridge {
			total += out.ValueSats
		}
	}
	return
}

type Withdrawal struct {
	Meta
	L2TxHash  common.Hash
	L2TxIndex uint64
	Receiver  string
	ValueSats int64
}

func (*Withdrawal) Kind() Kind { return KindWithdrawal }

type ProtocolUpgrade struct {
	Meta
	Version         string
	BootloaderHash  common.Hash
	DefaultAAHash   common.Hash
	ActivationBatch uint64
}

func (*ProtocolUpgrade) Kind() Kind { return KindProtocolUpgrade }

type WalletSignature struct {
	Pubkey    [32]byte
	Signature [64]byte
}

type SystemWalletsUpdate struct {
	Meta
	Sequencer  string
	Bridge     string
	Governance string
	Verifiers  [][32]byte

	// Approvals of the current verifier set
	Signatures []WalletSignature
}

func (*SystemWalletsUpdate) Kind() Kind { return KindSystemWalletsUpdate }

// Envelope that couldn't be decoded
type Unknown struct {
	Meta
	RawKind string
	Raw     [][]byte
	Err     error
}

func (*Unknown) Kind() Kind { return KindUnknown }

func (self *Unknown) Fields() [][]byte { return self.Raw }

// Bitcoin txids are displayed reversed, L2 hashes keep the display order
func TxidToL2Hash(txid chainhash.Hash) common.Hash {
	var out common.Hash
	for i := 0; i < chainhash.HashSize; i++ {
		out[i] = txid[chainhash.HashSize-1-i]
	}
	return out
}
