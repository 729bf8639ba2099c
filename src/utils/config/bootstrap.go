package config

import (
	"github.com/spf13/viper"
)

// Initial system wallets and protocol version, recorded at height 0
type Bootstrap struct {
	// Bitcoin addresses
	Sequencer  string
	Bridge     string
	Governance string

	// Hex encoded x-only public keys
	Verifiers []string

	// Protocol version active before the first upgrade
	ProtocolVersion string
	BootloaderHash  string
	DefaultAAHash   string
}

func setBootstrapDefaults() {
	viper.SetDefault("Bootstrap.Sequencer", "")
	viper.SetDefault("Bootstrap.Bridge", "")
	viper.SetDefault("Bootstrap.Governance", "")
	viper.SetDefault("Bootstrap.Verifiers", []string{})
	viper.SetDefault("Bootstrap.ProtocolVersion", "0")
	viper.SetDefault("Bootstrap.BootloaderHash", "0x0000000000000000000000000000000000000000000000000000000000000000")
	viper.SetDefault("Bootstrap.DefaultAAHash", "0x0000000000000000000000000000000000000000000000000000000000000000")
}
