package btc

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

type ScriptPubKey struct {
	Hex     string `json:"hex"`
	Type    string `json:"type"`
	Address string `json:"address,omitempty"`
}

type Prevout struct {
	Value        json.Number  `json:"value"`
	ScriptPubKey ScriptPubKey `json:"scriptPubKey"`
}

type Vin struct {
	TxID        string   `json:"txid,omitempty"`
	Vout        uint32   `json:"vout,omitempty"`
	Coinbase    string   `json:"coinbase,omitempty"`
	TxInWitness []string `json:"txinwitness,omitempty"`

	// Only with getblock verbosity 3
	Prevout *Prevout `json:"prevout,omitempty"`
}

type Vout struct {
	Value        json.Number  `json:"value"`
	N            uint32       `json:"n"`
	ScriptPubKey ScriptPubKey `json:"scriptPubKey"`
}

type Transaction struct {
	TxID string `json:"txid"`
	Hash string `json:"hash"`
	Vin  []Vin  `json:"vin"`
	Vout []Vout `json:"vout"`
}

type Block struct {
	Hash              string        `json:"hash"`
	Height            uint32        `json:"height"`
	Time              int64         `json:"time"`
	PreviousBlockHash string        `json:"previousblockhash"`
	Transactions      []Transaction `json:"tx"`
}

type BlockchainInfo struct {
	Chain         string `json:"chain"`
	Blocks        uint32 `json:"blocks"`
	BestBlockHash string `json:"bestblockhash"`
}

type FeeEstimate struct {
	// BTC per kvB
	FeeRate json.Number `json:"feerate"`
	Errors  []string    `json:"errors"`
	Blocks  int         `json:"blocks"`
}

// Converts a BTC amount as printed by bitcoind into satoshis
func ToSats(amount json.Number) (int64, error) {
	value, err := decimal.NewFromString(amount.String())
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q: %s", ErrBadResponse, amount, err)
	}

	sats := value.Shift(8)
	if !sats.IsInteger() || sats.IsNegative() {
		return 0, fmt.Errorf("%w: amount %q is not a whole number of satoshis", ErrBadResponse, amount)
	}
	return sats.IntPart(), nil
}

// Converts BTC/kvB into sat/vB, rounding up
func feeRateToSatsPerVByte(rate json.Number) (uint64, error) {
	value, err := decimal.NewFromString(rate.String())
	if err != nil {
		return 0, fmt.Errorf("%w: fee rate %q: %s", ErrBadResponse, rate, err)
	}
	if value.IsNegative() {
		return 0, fmt.Errorf("%w: negative fee rate %q", ErrBadResponse, rate)
	}
	return uint64(value.Shift(8).Div(decimal.NewFromInt(1000)).Ceil().IntPart()), nil
}
