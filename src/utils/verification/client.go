package verification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vianetwork/btcwatch/src/utils/config"
	"github.com/vianetwork/btcwatch/src/utils/logger"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// Verifier service couldn't give an answer. Iteration is retried, no vote is cast.
var ErrUnreachable = errors.New("proof verifier unreachable")

type Request struct {
	BatchNumber    uint64      `json:"batch_number"`
	Proof          []byte      `json:"proof"`
	PublicInputs   []byte      `json:"public_inputs"`
	BootloaderHash common.Hash `json:"bootloader_hash"`
	DefaultAAHash  common.Hash `json:"default_aa_hash"`
}

type Response struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// HTTP client of the proof verification service
type Client struct {
	client *resty.Client
	log    *logrus.Entry
}

func NewClient(config *config.Config) (self *Client) {
	self = new(Client)
	self.log = logger.NewSublogger("verification")

	self.client = resty.New().
		SetBaseURL(config.Verifier.ProverUrl).
		SetTimeout(config.Verifier.ProverTimeout).
		SetHeader("Content-Type", "application/json")

	return
}

// Returns false for proofs that don't verify, errors only when there's no answer
func (self *Client) Verify(ctx context.Context, req *Request) (valid bool, err error) {
	start := time.Now()

	var response Response
	resp, err := self.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&response).
		Post("/v1/verify")
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("%w: %s", ErrUnreachable, err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusUnprocessableEntity:
		// Malformed proof
		response.Valid = false
	default:
		return false, fmt.Errorf("%w: %s", ErrUnreachable, resp.Status())
	}

	self.log.WithField("batch", req.BatchNumber).
		WithField("valid", response.Valid).
		WithField("reason", response.Reason).
		WithField("duration", time.Since(start)).
		Debug("Proof verified")

	return response.Valid, nil
}
