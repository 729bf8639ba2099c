package btc

import (
	"context"
	"errors"
	"fmt"
)

var (
	// Transport failure, timeout or node not ready. Retried.
	ErrSourceUnavailable = errors.New("bitcoin source unavailable")

	// Requested height or hash doesn't exist on the node's best chain
	ErrHeightNotFound = errors.New("height not found")

	ErrUnauthorized    = errors.New("bitcoin node rejected credentials")
	ErrBadResponse     = errors.New("bad response from bitcoin node")
	ErrNetworkMismatch = errors.New("bitcoin node is on a different network")

	// Source is shutting down, nothing more is downloaded
	ErrSourceStopped = fmt.Errorf("bitcoin source stopped: %w", context.Canceled)
)

// bitcoind error codes
const (
	rpcInvalidAddressOrKey = -5
	rpcInvalidParameter    = -8
	rpcInWarmup            = -28
)

type RpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (self *RpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", self.Code, self.Message)
}

// Maps node errors to the package's sentinel errors
func (self *RpcError) classify() error {
	switch self.Code {
	case rpcInvalidParameter, rpcInvalidAddressOrKey:
		return fmt.Errorf("%w: %s", ErrHeightNotFound, self.Message)
	case rpcInWarmup:
		return fmt.Errorf("%w: %s", ErrSourceUnavailable, self.Message)
	}
	return fmt.Errorf("%w: %s", ErrBadResponse, self.Error())
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrSourceUnavailable)
}
