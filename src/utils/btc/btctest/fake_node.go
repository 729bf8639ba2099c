package btctest

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/vianetwork/btcwatch/src/utils/btc"
	"github.com/vianetwork/btcwatch/src/utils/inscription"
)

// Key revealing test inscriptions, never used for signing
var revealKey = make([]byte, 32)

// Control block of a script path spend, contents don't matter to the indexer
var controlBlock = "c0" + strings.Repeat("11", 32)

// In-memory bitcoind speaking enough JSON-RPC for the indexer
type FakeNode struct {
	*httptest.Server

	mtx      sync.Mutex
	chain    string
	blocks   []*btc.Block
	failures map[string]int
	calls    map[string]int
	delays   map[string]time.Duration
	nonce    int
	feeRate  string
}

type request struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
	ID     string        `json:"id"`
}

type response struct {
	Result interface{}   `json:"result"`
	Error  *btc.RpcError `json:"error"`
	ID     string        `json:"id"`
}

// Starts a node with only the genesis block
func NewFakeNode() (self *FakeNode) {
	self = &FakeNode{
		chain:    "regtest",
		failures: make(map[string]int),
		calls:    make(map[string]int),
		delays:   make(map[string]time.Duration),
		feeRate:  "0.00012345",
	}
	self.Server = httptest.NewServer(self)
	self.Mine()
	return
}

func (self *FakeNode) WithChain(chain string) *FakeNode {
	self.mtx.Lock()
	defer self.mtx.Unlock()
	self.chain = chain
	return self
}

// Every call of the method is answered after d
func (self *FakeNode) WithDelay(method string, d time.Duration) *FakeNode {
	self.mtx.Lock()
	defer self.mtx.Unlock()
	self.delays[method] = d
	return self
}

// Next n calls of the method fail with 503
func (self *FakeNode) FailNext(method string, n int) {
	self.mtx.Lock()
	defer self.mtx.Unlock()
	self.failures[method] = n
}

func (self *FakeNode) Calls(method string) int {
	self.mtx.Lock()
	defer self.mtx.Unlock()
	return self.calls[method]
}

func (self *FakeNode) Tip() uint32 {
	self.mtx.Lock()
	defer self.mtx.Unlock()
	return uint32(len(self.blocks) - 1)
}

func (self *FakeNode) HashAt(height uint32) chainhash.Hash {
	self.mtx.Lock()
	defer self.mtx.Unlock()
	hash, _ := chainhash.NewHashFromStr(self.blocks[height].Hash)
	return *hash
}

func (self *FakeNode) newHash(label string) string {
	self.nonce++
	return chainhash.DoubleHashH([]byte(fmt.Sprintf("%s/%d", label, self.nonce))).String()
}

// Appends a block with the given transactions and a coinbase
func (self *FakeNode) Mine(txs ...btc.Transaction) *btc.Block {
	self.mtx.Lock()
	defer self.mtx.Unlock()

	height := uint32(len(self.blocks))
	block := &btc.Block{
		Hash:   self.newHash("block"),
		Height: height,
		Time:   1700000000 + int64(height)*600,
	}
	if height > 0 {
		block.PreviousBlockHash = self.blocks[height-1].Hash
	}

	coinbase := btc.Transaction{
		TxID: self.newHash("coinbase"),
		Vin:  []btc.Vin{{Coinbase: "03" + hex.EncodeToString([]byte{byte(height)})}},
		Vout: []btc.Vout{{Value: "50.0", ScriptPubKey: btc.ScriptPubKey{Type: "witness_v1_taproot", Address: "bcrt1pminer"}}},
	}
	block.Transactions = append([]btc.Transaction{coinbase}, txs...)

	self.blocks = append(self.blocks, block)
	return block
}

// Mines n empty blocks
func (self *FakeNode) MineEmpty(n int) {
	for i := 0; i < n; i++ {
		self.Mine()
	}
}

// Replaces blocks above height with n new empty blocks
func (self *FakeNode) Reorg(height uint32, n int) {
	self.mtx.Lock()
	self.blocks = self.blocks[:height+1]
	self.mtx.Unlock()
	self.MineEmpty(n)
}

// Transaction revealing msg in the witness of its first input
func (self *FakeNode) RevealTx(sender string, msg inscription.Message, outputs ...btc.Vout) btc.Transaction {
	script, err := inscription.BuildTapscript(revealKey, msg)
	if err != nil {
		panic(err)
	}

	self.mtx.Lock()
	defer self.mtx.Unlock()

	return btc.Transaction{
		TxID: self.newHash("reveal"),
		Vin: []btc.Vin{{
			TxID:        self.newHash("commit"),
			TxInWitness: []string{strings.Repeat("22", 64), hex.EncodeToString(script), controlBlock},
			Prevout:     &btc.Prevout{Value: "0.0001", ScriptPubKey: btc.ScriptPubKey{Address: sender}},
		}},
		Vout: numbered(outputs),
	}
}

// Transaction carrying msg in an OP_RETURN output placed before the given outputs
func (self *FakeNode) OpReturnTx(sender string, msg inscription.Message, outputs ...btc.Vout) btc.Transaction {
	script, err := inscription.BuildOpReturn(msg)
	if err != nil {
		panic(err)
	}

	self.mtx.Lock()
	defer self.mtx.Unlock()

	nulldata := btc.Vout{Value: "0", ScriptPubKey: btc.ScriptPubKey{Type: "nulldata", Hex: hex.EncodeToString(script)}}
	return btc.Transaction{
		TxID: self.newHash("opreturn"),
		Vin: []btc.Vin{{
			TxID:    self.newHash("input"),
			Prevout: &btc.Prevout{Value: "1.0", ScriptPubKey: btc.ScriptPubKey{Address: sender}},
		}},
		Vout: numbered(append([]btc.Vout{nulldata}, outputs...)),
	}
}

// Output paying sats to address
func Pay(address string, sats int64) btc.Vout {
	return btc.Vout{
		Value:        json.Number(fmt.Sprintf("%d.%08d", sats/100_000_000, sats%100_000_000)),
		ScriptPubKey: btc.ScriptPubKey{Type: "witness_v1_taproot", Address: address},
	}
}

func numbered(outputs []btc.Vout) []btc.Vout {
	for i := range outputs {
		outputs[i].N = uint32(i)
	}
	return outputs
}

func (self *FakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req request
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	self.mtx.Lock()
	self.calls[req.Method]++
	delay := self.delays[req.Method]
	self.mtx.Unlock()

	// Slow node, the caller may give up in the meantime
	select {
	case <-time.After(delay):
	case <-r.Context().Done():
		return
	}

	self.mtx.Lock()
	defer self.mtx.Unlock()

	if self.failures[req.Method] > 0 {
		self.failures[req.Method]--
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	result, rpcErr := self.handle(&req)

	w.Header().Set("Content-Type", "application/json")
	if rpcErr != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
	_ = json.NewEncoder(w).Encode(&response{Result: result, Error: rpcErr, ID: req.ID})
}

func (self *FakeNode) handle(req *request) (interface{}, *btc.RpcError) {
	switch req.Method {
	case "getblockcount":
		return len(self.blocks) - 1, nil

	case "getblockhash":
		height, ok := req.Params[0].(float64)
		if !ok || int(height) < 0 || int(height) >= len(self.blocks) {
			return nil, &btc.RpcError{Code: -8, Message: "Block height out of range"}
		}
		return self.blocks[int(height)].Hash, nil

	case "getblock":
		hash, _ := req.Params[0].(string)
		for _, block := range self.blocks {
			if block.Hash == hash {
				return block, nil
			}
		}
		return nil, &btc.RpcError{Code: -5, Message: "Block not found"}

	case "getblockchaininfo":
		return &btc.BlockchainInfo{
			Chain:         self.chain,
			Blocks:        uint32(len(self.blocks) - 1),
			BestBlockHash: self.blocks[len(self.blocks)-1].Hash,
		}, nil

	case "estimatesmartfee":
		return map[string]interface{}{"feerate": json.Number(self.feeRate), "blocks": req.Params[0]}, nil
	}

	return nil, &btc.RpcError{Code: -32601, Message: "Method not found"}
}
