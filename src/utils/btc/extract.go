package btc

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/vianetwork/btcwatch/src/utils/inscription"
)

// Block with its decoded inscriptions
type InscribedBlock struct {
	Height    uint32
	Hash      chainhash.Hash
	PrevHash  chainhash.Hash
	Timestamp int64

	// In (tx index, position in tx) order
	Messages []inscription.Message
}

// First byte of a taproot annex
const annexTag = 0x50

func parseHash(v string) (out chainhash.Hash, err error) {
	if v == "" {
		return
	}
	parsed, err := chainhash.NewHashFromStr(v)
	if err != nil {
		err = fmt.Errorf("%w: hash %q: %s", ErrBadResponse, v, err)
		return
	}
	return *parsed, nil
}

// Tapscript of a script path spend, nil for other inputs
func tapscript(witness []string) ([]byte, error) {
	if len(witness) >= 2 && len(witness[len(witness)-1]) >= 2 {
		last, err := hex.DecodeString(witness[len(witness)-1])
		if err != nil {
			return nil, fmt.Errorf("%w: witness: %s", ErrBadResponse, err)
		}
		if len(last) > 0 && last[0] == annexTag {
			witness = witness[:len(witness)-1]
		}
	}

	if len(witness) < 2 {
		return nil, nil
	}

	script, err := hex.DecodeString(witness[len(witness)-2])
	if err != nil {
		return nil, fmt.Errorf("%w: witness: %s", ErrBadResponse, err)
	}
	return script, nil
}

// Decodes inscriptions of a block. Witness envelopes come first in input order,
// followed by OP_RETURN envelopes in output order.
func Extract(block *Block) (out *InscribedBlock, err error) {
	out = &InscribedBlock{
		Height:    block.Height,
		Timestamp: block.Time,
	}

	out.Hash, err = parseHash(block.Hash)
	if err != nil {
		return
	}
	out.PrevHash, err = parseHash(block.PreviousBlockHash)
	if err != nil {
		return
	}

	for txIndex := range block.Transactions {
		var msgs []inscription.Message
		msgs, err = extractTransaction(out, uint32(txIndex), &block.Transactions[txIndex])
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, msgs...)
	}
	return
}

func extractTransaction(block *InscribedBlock, txIndex uint32, tx *Transaction) (out []inscription.Message, err error) {
	if len(tx.Vin) == 0 || tx.Vin[0].Coinbase != "" {
		return
	}

	base := inscription.Meta{
		Height:    block.Height,
		BlockHash: block.Hash,
		Timestamp: block.Timestamp,
		TxIndex:   txIndex,
	}

	base.Txid, err = parseHash(tx.TxID)
	if err != nil {
		return
	}

	if prevout := tx.Vin[0].Prevout; prevout != nil {
		base.Sender = prevout.ScriptPubKey.Address
	}

	for _, vout := range tx.Vout {
		if vout.ScriptPubKey.Address == "" {
			continue
		}
		var sats int64
		sats, err = ToSats(vout.Value)
		if err != nil {
			return
		}
		base.Outputs = append(base.Outputs, inscription.Output{
			Address:   vout.ScriptPubKey.Address,
			ValueSats: sats,
		})
	}

	var position uint32
	emit := func(meta inscription.Meta, pushes [][]byte) {
		meta.Vout = position
		position++
		out = append(out, inscription.DecodeOrUnknown(meta, pushes))
	}

	for _, vin := range tx.Vin {
		var script []byte
		script, err = tapscript(vin.TxInWitness)
		if err != nil {
			return
		}
		if script == nil {
			continue
		}

		pushes, ok := inscription.ParseTapscript(script)
		if !ok {
			continue
		}

		meta := base
		meta.CommitTxid, err = parseHash(vin.TxID)
		if err != nil {
			return
		}
		emit(meta, pushes)
	}

	for _, vout := range tx.Vout {
		if vout.ScriptPubKey.Type != "nulldata" {
			continue
		}

		var script []byte
		script, err = hex.DecodeString(vout.ScriptPubKey.Hex)
		if err != nil {
			err = fmt.Errorf("%w: output script: %s", ErrBadResponse, err)
			return
		}

		pushes, ok := inscription.ParseOpReturn(script)
		if !ok {
			continue
		}
		emit(base, pushes)
	}

	return
}
