package inscription

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/vianetwork/btcwatch/src/utils/model"
)

var (
	tagProofVote     = []byte("via/proof_vote")
	tagSystemWallets = []byte("via/system_wallets")
)

// Digest signed by verifiers when voting on a batch
func VoteDigest(batchNumber uint64, vote Vote) *chainhash.Hash {
	return chainhash.TaggedHash(tagProofVote, be8(batchNumber), []byte{byte(vote)})
}

// Digest signed by the current verifier set to approve new wallets
func WalletsDigest(details *model.SystemWallets) (*chainhash.Hash, error) {
	msgs := [][]byte{[]byte(details.Sequencer), []byte(details.Bridge), []byte(details.Governance)}
	for _, v := range details.Verifiers {
		key, err := ParseXOnlyHex(v)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, key[:])
	}
	return chainhash.TaggedHash(tagSystemWallets, msgs...), nil
}

func ParseXOnlyHex(v string) (out [32]byte, err error) {
	buf, err := hex.DecodeString(strings.TrimPrefix(v, "0x"))
	if err != nil {
		return
	}
	if len(buf) != 32 {
		err = fmt.Errorf("x-only key has %d bytes", len(buf))
		return
	}
	copy(out[:], buf)
	return
}

func XOnlyHex(key [32]byte) string {
	return hex.EncodeToString(key[:])
}

func XOnly(pub *btcec.PublicKey) (out [32]byte) {
	copy(out[:], schnorr.SerializePubKey(pub))
	return
}

func ParsePrivateKeyHex(v string) (*btcec.PrivateKey, error) {
	buf, err := hex.DecodeString(strings.TrimPrefix(v, "0x"))
	if err != nil {
		return nil, err
	}
	if len(buf) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("private key has %d bytes", len(buf))
	}
	priv, _ := btcec.PrivKeyFromBytes(buf)
	return priv, nil
}

func Sign(priv *btcec.PrivateKey, digest *chainhash.Hash) (out [64]byte, err error) {
	sig, err := schnorr.Sign(priv, digest[:])
	if err != nil {
		return
	}
	copy(out[:], sig.Serialize())
	return
}

func Verify(pubkey [32]byte, digest *chainhash.Hash, signature [64]byte) bool {
	pub, err := schnorr.ParsePubKey(pubkey[:])
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(signature[:])
	if err != nil {
		return false
	}
	return sig.Verify(digest[:], pub)
}

// Signs the vote in place
func (self *ProofVote) Sign(priv *btcec.PrivateKey) (err error) {
	self.VoterPubkey = XOnly(priv.PubKey())
	self.Signature, err = Sign(priv, VoteDigest(self.BatchNumber, self.Vote))
	return
}

func (self *ProofVote) VerifySignature() bool {
	return Verify(self.VoterPubkey, VoteDigest(self.BatchNumber, self.Vote), self.Signature)
}

func (self *SystemWalletsUpdate) Details() *model.SystemWallets {
	out := &model.SystemWallets{
		Sequencer:  self.Sequencer,
		Bridge:     self.Bridge,
		Governance: self.Governance,
		Verifiers:  make([]string, 0, len(self.Verifiers)),
	}
	for _, v := range self.Verifiers {
		out.Verifiers = append(out.Verifiers, XOnlyHex(v))
	}
	return out
}

// Distinct members of current that signed the new details
func (self *SystemWalletsUpdate) CountApprovals(current *model.SystemWallets) (int, error) {
	digest, err := WalletsDigest(self.Details())
	if err != nil {
		return 0, err
	}

	seen := make(map[[32]byte]struct{})
	for _, s := range self.Signatures {
		if _, ok := seen[s.Pubkey]; ok {
			continue
		}
		if !current.IsVerifier(XOnlyHex(s.Pubkey)) {
			continue
		}
		if !Verify(s.Pubkey, digest, s.Signature) {
			continue
		}
		seen[s.Pubkey] = struct{}{}
	}
	return len(seen), nil
}
