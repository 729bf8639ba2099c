package inscription

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
)

var ErrDecode = errors.New("cannot decode inscription")

func decodeErr(kind Kind, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", ErrDecode, kind, fmt.Sprintf(format, args...))
}

func be8(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

// Kind followed by the message fields
func Encode(msg Message) [][]byte {
	return append([][]byte{[]byte(msg.Kind())}, msg.Fields()...)
}

func (self *BatchCommit) Fields() [][]byte {
	return [][]byte{be8(self.BatchNumber), self.PrevRoot.Bytes(), self.NewRoot.Bytes(), []byte(self.BlobID)}
}

func (self *ProofVote) Fields() [][]byte {
	return [][]byte{be8(self.BatchNumber), self.VoterPubkey[:], {byte(self.Vote)}, self.Signature[:]}
}

func (self *Deposit) Fields() [][]byte {
	return [][]byte{self.Receiver.Bytes(), self.Calldata}
}

func (self *Withdrawal) Fields() [][]byte {
	return [][]byte{self.L2TxHash.Bytes(), be8(self.L2TxIndex), []byte(self.Receiver), be8(uint64(self.ValueSats))}
}

func (self *ProtocolUpgrade) Fields() [][]byte {
	return [][]byte{[]byte(self.Version), self.BootloaderHash.Bytes(), self.DefaultAAHash.Bytes(), be8(self.ActivationBatch)}
}

func (self *SystemWalletsUpdate) Fields() [][]byte {
	out := [][]byte{[]byte(self.Sequencer), []byte(self.Bridge), []byte(self.Governance), be8(uint64(len(self.Verifiers)))}
	for i := range self.Verifiers {
		out = append(out, self.Verifiers[i][:])
	}
	for i := range self.Signatures {
		out = append(out, self.Signatures[i].Pubkey[:], self.Signatures[i].Signature[:])
	}
	return out
}

type fieldReader struct {
	kind   Kind
	fields [][]byte
	err    error
}

func (self *fieldReader) next(name string) []byte {
	if self.err != nil {
		return nil
	}
	if len(self.fields) == 0 {
		self.err = decodeErr(self.kind, "missing %s", name)
		return nil
	}
	out := self.fields[0]
	self.fields = self.fields[1:]
	return out
}

func (self *fieldReader) fixed(name string, size int) []byte {
	out := self.next(name)
	if self.err == nil && len(out) != size {
		self.err = decodeErr(self.kind, "%s has %d bytes, expected %d", name, len(out), size)
	}
	return out
}

func (self *fieldReader) uint64(name string) uint64 {
	out := self.fixed(name, 8)
	if self.err != nil {
		return 0
	}
	return binary.BigEndian.Uint64(out)
}

func (self *fieldReader) amount(name string) int64 {
	v := self.uint64(name)
	if self.err == nil && v > 1<<62 {
		self.err = decodeErr(self.kind, "%s out of range", name)
	}
	return int64(v)
}

func (self *fieldReader) hash(name string) (out common.Hash) {
	b := self.fixed(name, common.HashLength)
	if self.err == nil {
		copy(out[:], b)
	}
	return
}

func (self *fieldReader) key(name string) (out [32]byte) {
	b := self.fixed(name, 32)
	if self.err == nil {
		copy(out[:], b)
	}
	return
}

func (self *fieldReader) signature(name string) (out [64]byte) {
	b := self.fixed(name, 64)
	if self.err == nil {
		copy(out[:], b)
	}
	return
}

func (self *fieldReader) text(name string) string {
	b := self.next(name)
	if self.err == nil && !utf8.Valid(b) {
		self.err = decodeErr(self.kind, "%s is not valid utf-8", name)
	}
	return string(b)
}

func (self *fieldReader) done() error {
	if self.err == nil && len(self.fields) != 0 {
		self.err = decodeErr(self.kind, "%d unexpected fields", len(self.fields))
	}
	return self.err
}

// Decodes envelope pushes (kind first) into a message
func Decode(meta Meta, pushes [][]byte) (msg Message, err error) {
	if len(pushes) == 0 {
		return nil, fmt.Errorf("%w: empty envelope", ErrDecode)
	}

	kind := Kind(pushes[0])
	r := &fieldReader{kind: kind, fields: pushes[1:]}

	switch kind {
	case KindBatchCommit:
		m := &BatchCommit{Meta: meta}
		m.BatchNumber = r.uint64("batch_number")
		m.PrevRoot = r.hash("prev_root")
		m.NewRoot = r.hash("new_root")
		m.BlobID = r.text("blob_id")
		if r.err == nil && m.BlobID == "" {
			r.err = decodeErr(kind, "empty blob_id")
		}
		msg = m

	case KindProofVote:
		m := &ProofVote{Meta: meta}
		m.BatchNumber = r.uint64("batch_number")
		m.VoterPubkey = r.key("voter_pubkey")
		vote := r.next("vote")
		switch {
		case r.err != nil:
		case len(vote) == 0 || (len(vote) == 1 && vote[0] == byte(VoteReject)):
			m.Vote = VoteReject
		case len(vote) == 1 && vote[0] == byte(VoteApprove):
			m.Vote = VoteApprove
		default:
			r.err = decodeErr(kind, "invalid vote %x", vote)
		}
		m.Signature = r.signature("signature")
		msg = m

	case KindDeposit:
		m := &Deposit{Meta: meta}
		m.Receiver = common.BytesToAddress(r.fixed("receiver", common.AddressLength))
		m.Calldata = r.next("calldata")
		msg = m

	case KindWithdrawal:
		m := &Withdrawal{Meta: meta}
		m.L2TxHash = r.hash("l2_tx_hash")
		m.L2TxIndex = r.uint64("l2_tx_index")
		m.Receiver = r.text("receiver")
		m.ValueSats = r.amount("value_sats")
		msg = m

	case KindProtocolUpgrade:
		m := &ProtocolUpgrade{Meta: meta}
		m.Version = r.text("version")
		m.BootloaderHash = r.hash("bootloader_hash")
		m.DefaultAAHash = r.hash("default_aa_hash")
		m.ActivationBatch = r.uint64("activation_batch")
		msg = m

	case KindSystemWalletsUpdate:
		m := &SystemWalletsUpdate{Meta: meta}
		m.Sequencer = r.text("sequencer")
		m.Bridge = r.text("bridge")
		m.Governance = r.text("governance")
		n := r.uint64("verifier_count")
		if r.err == nil && n > uint64(len(r.fields)) {
			r.err = decodeErr(kind, "verifier count %d exceeds fields", n)
		}
		for i := uint64(0); r.err == nil && i < n; i++ {
			m.Verifiers = append(m.Verifiers, r.key("verifier"))
		}
		for r.err == nil && len(r.fields) > 0 {
			m.Signatures = append(m.Signatures, WalletSignature{
				Pubkey:    r.key("signer"),
				Signature: r.signature("signer_signature"),
			})
		}
		msg = m

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrDecode, string(pushes[0]))
	}

	err = r.done()
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Like Decode, but failures become Unknown messages
func DecodeOrUnknown(meta Meta, pushes [][]byte) Message {
	msg, err := Decode(meta, pushes)
	if err == nil {
		return msg
	}

	out := &Unknown{Meta: meta, Err: err}
	if len(pushes) > 0 {
		out.RawKind = string(pushes[0])
		out.Raw = pushes[1:]
	}
	return out
}
