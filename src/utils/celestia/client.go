package celestia

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vianetwork/btcwatch/src/utils/config"
	"github.com/vianetwork/btcwatch/src/utils/logger"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

// Reads blobs from a Celestia node
type Client struct {
	client    *resty.Client
	config    *config.Celestia
	log       *logrus.Entry
	namespace []byte
	cache     *cache.Cache
}

type rpcRequest struct {
	JsonRpc string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type blob struct {
	Namespace  []byte `json:"namespace"`
	Data       []byte `json:"data"`
	Commitment []byte `json:"commitment"`
}

type rpcResponse struct {
	Result *blob     `json:"result"`
	Error  *rpcError `json:"error"`
}

func NewClient(config *config.Config) (self *Client, err error) {
	self = new(Client)
	self.config = &config.Celestia
	self.log = logger.NewSublogger("celestia")

	self.namespace, err = hex.DecodeString(strings.TrimPrefix(config.Celestia.Namespace, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid celestia namespace: %w", err)
	}

	ttl := config.Celestia.CacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	self.cache = cache.New(ttl, 2*ttl)

	self.client = resty.New().
		SetBaseURL(config.Celestia.Url).
		SetTimeout(config.Celestia.RequestTimeout).
		SetHeader("Content-Type", "application/json")

	if config.Celestia.AuthToken != "" {
		self.client.SetAuthToken(config.Celestia.AuthToken)
	}

	return
}

// Downloads the blob identified by blobID. Blobs are cached for CacheTTL.
func (self *Client) FetchBlob(ctx context.Context, blobID string) (data []byte, err error) {
	if cached, found := self.cache.Get(blobID); found {
		return cached.([]byte), nil
	}

	id, err := ParseBlobID(blobID)
	if err != nil {
		return
	}

	resp, err := self.client.R().
		SetContext(ctx).
		SetBody(&rpcRequest{
			JsonRpc: "2.0",
			ID:      xid.New().String(),
			Method:  "blob.Get",
			Params:  []interface{}{id.Height, self.namespace, id.Commitment},
		}).
		Post("")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s", ErrDaUnavailable, err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrDaUnavailable, resp.Status())
	}

	var response rpcResponse
	err = json.Unmarshal(resp.Body(), &response)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed response: %s", ErrDaUnavailable, err)
	}

	if response.Error != nil {
		// Includes "blob: not found", the node may not have synced the height yet
		return nil, fmt.Errorf("%w: %s", ErrDaUnavailable, response.Error.Message)
	}

	if response.Result == nil {
		return nil, fmt.Errorf("%w: empty result for %s", ErrDaUnavailable, blobID)
	}

	data = response.Result.Data
	if self.config.MaxBlobSize > 0 && len(data) > self.config.MaxBlobSize {
		return nil, fmt.Errorf("%w: %d bytes, limit is %d", ErrBlobTooLarge, len(data), self.config.MaxBlobSize)
	}

	self.log.WithField("blob_id", blobID).WithField("size", len(data)).Debug("Fetched blob")
	self.cache.SetDefault(blobID, data)

	return data, nil
}

// Downloads and decodes a proof blob
func (self *Client) FetchProof(ctx context.Context, blobID string) (*ProofBlob, error) {
	data, err := self.FetchBlob(ctx, blobID)
	if err != nil {
		return nil, err
	}
	return DecodeProofBlob(data)
}
