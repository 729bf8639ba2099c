package report

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

// Labels of BtcWatchState.InscriptionsProcessed
const (
	StageFetched      = "fetched"
	StageApplied      = "applied"
	StageSkipped      = "skipped"
	StageUnauthorized = "unauthorized"
)

type BtcWatchErrors struct {
	RpcErrors             LabeledCounter `json:"rpc_errors"`
	RpcMaxRetriesExceeded LabeledCounter `json:"rpc_max_retries_exceeded"`

	IterationFailures atomic.Uint64 `json:"iteration_failures"`
	DecodeFailures    atomic.Uint64 `json:"decode_failures"`
	InvalidVotes      atomic.Uint64 `json:"invalid_votes"`
	InvalidWallets    atomic.Uint64 `json:"invalid_wallets"`
	DaFailures        atomic.Uint64 `json:"da_failures"`
	VerifierFailures  atomic.Uint64 `json:"verifier_failures"`
	InscriberFailures atomic.Uint64 `json:"inscriber_failures"`
}

type BtcWatchState struct {
	Module string `json:"module"`
	Role   string `json:"role"`

	CurrentBlockNumber     atomic.Uint64 `json:"current_block_number"`
	LastIndexedBlockNumber atomic.Uint64 `json:"last_indexed_block_number"`
	BlocksBehind           atomic.Int64  `json:"blocks_behind"`

	// sat/vB estimated by the node
	FeeRate atomic.Uint64 `json:"fee_rate"`

	InscriptionsProcessed LabeledCounter `json:"inscriptions_processed"`

	IterationsProcessed     atomic.Uint64 `json:"iterations_processed"`
	IterationsIdle          atomic.Uint64 `json:"iterations_idle"`
	IterationsSkipped       atomic.Uint64 `json:"iterations_skipped"`
	LastIterationTimestamp  atomic.Int64  `json:"last_iteration_timestamp"`
	LastIterationDurationMs atomic.Int64  `json:"last_iteration_duration_ms"`

	ReorgState     atomic.String `json:"reorg_state"`
	SoftReorgTotal atomic.Uint64 `json:"soft_reorg_total"`
	HardReorgTotal atomic.Uint64 `json:"hard_reorg_total"`
	LastRewindTo   atomic.Uint64 `json:"last_rewind_to"`

	VotesCast          atomic.Uint64 `json:"votes_cast"`
	VotesRecorded      atomic.Uint64 `json:"votes_recorded"`
	LastValidL1Batch   atomic.Uint64 `json:"last_valid_l1_batch"`
	LastInvalidL1Batch atomic.Uint64 `json:"last_invalid_l1_batch"`
	CanonicalChainOK   atomic.Bool   `json:"canonical_chain_ok"`
}

type BtcWatchReport struct {
	State  BtcWatchState  `json:"state"`
	Errors BtcWatchErrors `json:"errors"`

	// Seconds spent verifying a single proof
	VerificationTime prometheus.Histogram `json:"-"`
}

func NewBtcWatchReport() *BtcWatchReport {
	return &BtcWatchReport{
		VerificationTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "verification_time",
			Help:    "Time spent verifying a single batch proof, in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}
