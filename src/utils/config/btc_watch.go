package config

import (
	"time"

	"github.com/spf13/viper"
)

type Role string

const (
	RoleVerifier             Role = "Verifier"
	RoleCoordinator          Role = "Coordinator"
	RoleVerifierAndProcessor Role = "VerifierAndProcessor"
)

func (self Role) IsValid() bool {
	switch self {
	case RoleVerifier, RoleCoordinator, RoleVerifierAndProcessor:
		return true
	}
	return false
}

// Roles that verify proofs and cast votes
func (self Role) RunsVerifier() bool {
	return self == RoleVerifier || self == RoleVerifierAndProcessor
}

// Roles that aggregate votes and maintain the canonical chain
func (self Role) RunsCoordinator() bool {
	return self == RoleCoordinator || self == RoleVerifierAndProcessor
}

type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
	NetworkSignet  Network = "signet"
	NetworkRegtest Network = "regtest"
)

func (self Network) IsValid() bool {
	switch self {
	case NetworkMainnet, NetworkTestnet, NetworkSignet, NetworkRegtest:
		return true
	}
	return false
}

// Name reported by bitcoind's getblockchaininfo
func (self Network) ChainName() string {
	switch self {
	case NetworkMainnet:
		return "main"
	case NetworkTestnet:
		return "test"
	}
	return string(self)
}

type BtcWatch struct {
	// Role this node plays in the protocol
	Role Role

	// Bitcoin network the node is attached to
	Network Network

	// Name of the cursor row, defaults to the role's name
	Module string

	// Cursor of a fresh module, indexing starts at the next block
	StartL1BlockNumber uint32

	// Blocks below the tip that are considered safe to index
	ConfirmationDepth uint32

	// Reorgs deeper than this raise an operator alert
	FinalityDepth uint32

	// Time between iterations of the indexer loop
	PollInterval time.Duration

	// Upper bound of blocks processed in one iteration
	MaxBlocksPerIteration uint32

	// Number of block hashes kept in the database for deep reorg detection
	BlockHashHistory uint32

	// First L1 batch of the canonical chain
	GenesisBatchNumber uint64

	// Cron spec of the periodic status log
	StatusLogSchedule string
}

func setBtcWatchDefaults() {
	viper.SetDefault("BtcWatch.Role", string(RoleCoordinator))
	viper.SetDefault("BtcWatch.Network", string(NetworkRegtest))
	viper.SetDefault("BtcWatch.Module", "")
	viper.SetDefault("BtcWatch.StartL1BlockNumber", "1")
	viper.SetDefault("BtcWatch.ConfirmationDepth", "6")
	viper.SetDefault("BtcWatch.FinalityDepth", "6")
	viper.SetDefault("BtcWatch.PollInterval", "10s")
	viper.SetDefault("BtcWatch.MaxBlocksPerIteration", "100")
	viper.SetDefault("BtcWatch.BlockHashHistory", "1000")
	viper.SetDefault("BtcWatch.GenesisBatchNumber", "1")
	viper.SetDefault("BtcWatch.StatusLogSchedule", "@every 1m")
}

// Cursor name used in the database
func (self *BtcWatch) ModuleName() string {
	if self.Module != "" {
		return self.Module
	}
	return string(self.Role)
}
