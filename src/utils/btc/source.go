package btc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/vianetwork/btcwatch/src/utils/config"
	"github.com/vianetwork/btcwatch/src/utils/monitoring"
	"github.com/vianetwork/btcwatch/src/utils/task"

	"github.com/teivah/onecontext"
)

// Chain seen by the source changed while a range was being fetched
var ErrChainChanged = fmt.Errorf("%w: chain changed during fetch", ErrSourceUnavailable)

// Bitcoin source adapter. Wraps RPC calls with retries and decodes inscriptions.
type Source struct {
	*task.Task

	client  *Client
	monitor monitoring.Monitor
}

func NewSource(config *config.Config) (self *Source) {
	self = new(Source)

	workers := config.Bitcoin.FetchWorkers
	if workers <= 0 {
		workers = 1
	}

	self.Task = task.NewTask(config, "btc-source").
		WithWorkerPool(workers)

	return
}

func (self *Source) WithClient(client *Client) *Source {
	self.client = client
	return self
}

func (self *Source) WithMonitor(monitor monitoring.Monitor) *Source {
	self.monitor = monitor
	return self
}

// Retries transient failures of an RPC call with backoff
func (self *Source) retry(ctx context.Context, method string, f func() error) (err error) {
	stats := &self.monitor.GetReport().BtcWatch.Errors

	err = task.NewRetry().
		WithContext(ctx).
		WithMaxRetries(self.Config.Bitcoin.MaxRetries).
		WithInitialInterval(self.Config.Bitcoin.RetryInitialInterval).
		WithMultiplier(self.Config.Bitcoin.RetryMultiplier).
		WithMaxInterval(self.Config.Bitcoin.RetryMaxInterval).
		WithTransient(IsTransient).
		WithOnError(func(err error, attempt int) {
			self.Log.WithError(err).
				WithField("method", method).
				WithField("attempt", attempt).
				Warn("Bitcoin RPC call failed, retrying")
		}).
		Run(func() error {
			err := f()
			if err != nil && ctx.Err() == nil {
				stats.RpcErrors.Inc(method)
			}
			return err
		})
	if err != nil && IsTransient(err) {
		stats.RpcMaxRetriesExceeded.Inc(method)
	}
	return
}

// Fails if the node is attached to another network
func (self *Source) CheckNetwork(ctx context.Context, network config.Network) (err error) {
	var info *BlockchainInfo
	err = self.retry(ctx, "getblockchaininfo", func() (err error) {
		info, err = self.client.GetBlockchainInfo(ctx)
		return
	})
	if err != nil {
		return
	}

	if info.Chain != network.ChainName() {
		return fmt.Errorf("%w: expected %q, node reports %q", ErrNetworkMismatch, network.ChainName(), info.Chain)
	}
	return nil
}

func (self *Source) TipHeight(ctx context.Context) (height uint32, err error) {
	err = self.retry(ctx, "getblockcount", func() (err error) {
		height, err = self.client.GetBlockCount(ctx)
		return
	})
	if err != nil {
		return
	}

	self.monitor.GetReport().BtcWatch.State.CurrentBlockNumber.Store(uint64(height))
	return
}

// Fails with ErrHeightNotFound above the node's tip
func (self *Source) BlockHashAt(ctx context.Context, height uint32) (hash chainhash.Hash, err error) {
	err = self.retry(ctx, "getblockhash", func() (err error) {
		hash, err = self.client.GetBlockHash(ctx, height)
		return
	})
	return
}

// Fee rate in sat/vB for confirmation within target blocks
func (self *Source) FeeRate(ctx context.Context, target int) (rate uint64, err error) {
	var estimate *FeeEstimate
	err = self.retry(ctx, "estimatesmartfee", func() (err error) {
		estimate, err = self.client.EstimateSmartFee(ctx, target)
		return
	})
	if err != nil {
		return
	}

	if estimate.FeeRate == "" {
		return 0, fmt.Errorf("%w: no fee estimate for %d blocks: %v", ErrBadResponse, target, estimate.Errors)
	}
	return feeRateToSatsPerVByte(estimate.FeeRate)
}

func (self *Source) fetchBlock(ctx context.Context, height uint32) (out *InscribedBlock, err error) {
	hash, err := self.BlockHashAt(ctx, height)
	if err != nil {
		return
	}

	var block *Block
	err = self.retry(ctx, "getblock", func() (err error) {
		block, err = self.client.GetBlock(ctx, hash)
		return
	})
	if err != nil {
		return
	}

	if block.Height != height {
		return nil, fmt.Errorf("%w: block %s is at height %d, expected %d", ErrChainChanged, hash, block.Height, height)
	}

	return Extract(block)
}

// Downloads blocks [from, to] in parallel and decodes their inscriptions.
// Result is ordered by height and forms a chain.
func (self *Source) FetchInscriptions(ctx context.Context, from, to uint32) (out []*InscribedBlock, err error) {
	if to < from {
		return nil, nil
	}

	// Stops downloads when either the caller or the source is done
	ctx, cancel := onecontext.Merge(ctx, self.Ctx)
	defer cancel()

	n := int(to-from) + 1
	out = make([]*InscribedBlock, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		ok := self.TrySubmitToWorker(func() {
			defer wg.Done()

			if ctx.Err() != nil {
				errs[i] = ctx.Err()
				return
			}

			out[i], errs[i] = self.fetchBlock(ctx, from+uint32(i))
			if errs[i] != nil {
				// No point in downloading the rest
				cancel()
			}
		})
		if !ok {
			wg.Done()
			errs[i] = ErrSourceStopped
			cancel()
			break
		}
	}
	wg.Wait()

	err = firstError(errs)
	if err != nil {
		return nil, err
	}

	for i := 1; i < n; i++ {
		if out[i].PrevHash != out[i-1].Hash {
			return nil, fmt.Errorf("%w: block %d doesn't extend block %d", ErrChainChanged, out[i].Height, out[i-1].Height)
		}
	}

	var count int
	for _, block := range out {
		count += len(block.Messages)
	}
	self.Log.WithField("from", from).WithField("to", to).WithField("messages", count).Debug("Fetched inscriptions")

	return out, nil
}

// Prefers errors that caused cancellation over the cancellation itself
func firstError(errs []error) (out error) {
	for _, err := range errs {
		if err == nil {
			continue
		}
		if !errors.Is(err, context.Canceled) {
			return err
		}
		if out == nil {
			out = err
		}
	}
	return
}
