package inscription

import (
	"bytes"

	"github.com/btcsuite/btcd/txscript"
)

// First push of every envelope
const ProtocolTag = "via_inscription_protocol"

// Returns the pushes following the protocol tag of the first valid
// OP_FALSE OP_IF ... OP_ENDIF envelope in a tapscript.
func ParseTapscript(script []byte) (pushes [][]byte, ok bool) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)

	var prev byte = txscript.OP_NOP
	for tokenizer.Next() {
		op := tokenizer.Opcode()
		if prev == txscript.OP_FALSE && op == txscript.OP_IF {
			pushes, ok = readEnvelope(&tokenizer)
			if ok {
				return
			}
		}
		prev = op
	}
	return nil, false
}

// Reads pushes up to OP_ENDIF. Envelopes containing other opcodes are invalid.
func readEnvelope(tokenizer *txscript.ScriptTokenizer) (pushes [][]byte, ok bool) {
	for tokenizer.Next() {
		op := tokenizer.Opcode()
		if op == txscript.OP_ENDIF {
			return stripTag(pushes)
		}

		data, isPush := pushData(op, tokenizer.Data())
		if !isPush {
			return nil, false
		}
		pushes = append(pushes, data)
	}
	return nil, false
}

// Returns the pushes following the protocol tag of an OP_RETURN output script
func ParseOpReturn(script []byte) (pushes [][]byte, ok bool) {
	if len(script) == 0 || script[0] != txscript.OP_RETURN {
		return nil, false
	}

	tokenizer := txscript.MakeScriptTokenizer(0, script[1:])
	for tokenizer.Next() {
		data, isPush := pushData(tokenizer.Opcode(), tokenizer.Data())
		if !isPush {
			return nil, false
		}
		pushes = append(pushes, data)
	}
	if tokenizer.Err() != nil {
		return nil, false
	}

	return stripTag(pushes)
}

func stripTag(pushes [][]byte) ([][]byte, bool) {
	if len(pushes) < 2 || !bytes.Equal(pushes[0], []byte(ProtocolTag)) {
		return nil, false
	}
	return pushes[1:], true
}

// Small integers are pushed with dedicated opcodes by canonical script builders
func pushData(op byte, data []byte) ([]byte, bool) {
	switch {
	case op == txscript.OP_0:
		return []byte{}, true
	case op == txscript.OP_1NEGATE:
		return []byte{0x81}, true
	case op >= txscript.OP_1 && op <= txscript.OP_16:
		return []byte{op - txscript.OP_1 + 1}, true
	case op <= txscript.OP_PUSHDATA4:
		return data, true
	}
	return nil, false
}

// Builds a tapscript revealing the message, spendable by the given x-only key
func BuildTapscript(xOnlyPubKey []byte, msg Message) ([]byte, error) {
	builder := txscript.NewScriptBuilder().
		AddData(xOnlyPubKey).
		AddOp(txscript.OP_CHECKSIG).
		AddOp(txscript.OP_FALSE).
		AddOp(txscript.OP_IF).
		AddData([]byte(ProtocolTag))
	for _, push := range Encode(msg) {
		builder.AddData(push)
	}
	return builder.AddOp(txscript.OP_ENDIF).Script()
}

// Builds an OP_RETURN output script carrying the message
func BuildOpReturn(msg Message) ([]byte, error) {
	builder := txscript.NewScriptBuilder().
		AddOp(txscript.OP_RETURN).
		AddData([]byte(ProtocolTag))
	for _, push := range Encode(msg) {
		builder.AddData(push)
	}
	return builder.Script()
}
