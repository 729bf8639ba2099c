package config

import (
	"time"

	"github.com/spf13/viper"
)

type Bitcoin struct {
	// bitcoind JSON-RPC endpoint
	RpcUrl      string
	RpcUser     string
	RpcPassword string

	// Limit of requests sent to the node
	RequestsPerSecond int

	// Deadline of a single RPC call
	CallTimeout time.Duration

	// Retry policy for transient failures
	MaxRetries           uint64
	RetryInitialInterval time.Duration
	RetryMultiplier      float64
	RetryMaxInterval     time.Duration

	// Workers downloading blocks in parallel
	FetchWorkers int

	// Fail on startup if the node reports a different chain
	CheckNetwork bool

	// Confirmation target for fee estimation
	FeeEstimationBlocks int
}

func setBitcoinDefaults() {
	viper.SetDefault("Bitcoin.RpcUrl", "http://127.0.0.1:18443")
	viper.SetDefault("Bitcoin.RpcUser", "rpcuser")
	viper.SetDefault("Bitcoin.RpcPassword", "rpcpassword")
	viper.SetDefault("Bitcoin.RequestsPerSecond", "50")
	viper.SetDefault("Bitcoin.CallTimeout", "30s")
	viper.SetDefault("Bitcoin.MaxRetries", "5")
	viper.SetDefault("Bitcoin.RetryInitialInterval", "200ms")
	viper.SetDefault("Bitcoin.RetryMultiplier", "2")
	viper.SetDefault("Bitcoin.RetryMaxInterval", "5s")
	viper.SetDefault("Bitcoin.FetchWorkers", "4")
	viper.SetDefault("Bitcoin.CheckNetwork", "true")
	viper.SetDefault("Bitcoin.FeeEstimationBlocks", "6")
}
