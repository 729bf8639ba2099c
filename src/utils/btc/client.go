package btc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/vianetwork/btcwatch/src/utils/config"
	"github.com/vianetwork/btcwatch/src/utils/logger"

	"github.com/go-resty/resty/v2"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"
)

// Verbosity of getblock that includes prevouts of every input
const blockVerbosityWithPrevouts = 3

// JSON-RPC client of a bitcoind node
type Client struct {
	client  *resty.Client
	config  *config.Bitcoin
	log     *logrus.Entry
	limiter ratelimit.Limiter
}

type rpcRequest struct {
	JsonRpc string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RpcError       `json:"error"`
	ID     string          `json:"id"`
}

func NewClient(config *config.Config) (self *Client) {
	self = new(Client)
	self.config = &config.Bitcoin
	self.log = logger.NewSublogger("btc-client")

	rps := config.Bitcoin.RequestsPerSecond
	if rps > 0 {
		self.limiter = ratelimit.New(rps)
	} else {
		self.limiter = ratelimit.NewUnlimited()
	}

	self.client = resty.New().
		SetLogger(newRestyLogger()).
		SetBasicAuth(config.Bitcoin.RpcUser, config.Bitcoin.RpcPassword).
		SetHeader("Content-Type", "application/json")

	return
}

func (self *Client) call(ctx context.Context, method string, out interface{}, params ...interface{}) (err error) {
	if params == nil {
		params = []interface{}{}
	}

	self.limiter.Take()

	// Each call has its own deadline
	callCtx, cancel := context.WithTimeout(ctx, self.config.CallTimeout)
	defer cancel()

	resp, err := self.client.R().
		SetContext(callCtx).
		SetBody(&rpcRequest{
			JsonRpc: "1.0",
			ID:      xid.New().String(),
			Method:  method,
			Params:  params,
		}).
		Post(self.config.RpcUrl)
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled by the caller, not a node failure
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: %s", ErrSourceUnavailable, method, err)
	}

	switch resp.StatusCode() {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, resp.Status())
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s: %s", ErrSourceUnavailable, method, resp.Status())
	}

	// bitcoind reports RPC errors with non-200 statuses and a JSON body
	var response rpcResponse
	err = json.Unmarshal(resp.Body(), &response)
	if err != nil {
		if resp.StatusCode() >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %s: %s", ErrSourceUnavailable, method, resp.Status())
		}
		return fmt.Errorf("%w: %s: %s", ErrBadResponse, method, err)
	}

	if response.Error != nil {
		return response.Error.classify()
	}

	if resp.StatusCode() >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s: %s", ErrSourceUnavailable, method, resp.Status())
	}

	if out == nil {
		return nil
	}

	err = json.Unmarshal(response.Result, out)
	if err != nil {
		return fmt.Errorf("%w: %s: %s", ErrBadResponse, method, err)
	}
	return nil
}

func (self *Client) GetBlockCount(ctx context.Context) (out uint32, err error) {
	err = self.call(ctx, "getblockcount", &out)
	return
}

func (self *Client) GetBlockHash(ctx context.Context, height uint32) (out chainhash.Hash, err error) {
	var hash string
	err = self.call(ctx, "getblockhash", &hash, height)
	if err != nil {
		return
	}
	parsed, err := chainhash.NewHashFromStr(hash)
	if err != nil {
		err = fmt.Errorf("%w: block hash %q: %s", ErrBadResponse, hash, err)
		return
	}
	return *parsed, nil
}

func (self *Client) GetBlock(ctx context.Context, hash chainhash.Hash) (out *Block, err error) {
	out = new(Block)
	err = self.call(ctx, "getblock", out, hash.String(), blockVerbosityWithPrevouts)
	if err != nil {
		return nil, err
	}
	return
}

func (self *Client) GetBlockchainInfo(ctx context.Context) (out *BlockchainInfo, err error) {
	out = new(BlockchainInfo)
	err = self.call(ctx, "getblockchaininfo", out)
	if err != nil {
		return nil, err
	}
	return
}

func (self *Client) EstimateSmartFee(ctx context.Context, target int) (out *FeeEstimate, err error) {
	out = new(FeeEstimate)
	err = self.call(ctx, "estimatesmartfee", out, target)
	if err != nil {
		return nil, err
	}
	return
}
