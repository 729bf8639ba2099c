package config

import (
	"time"

	"github.com/spf13/viper"
)

type Celestia struct {
	// Celestia node JSON-RPC endpoint
	Url       string
	AuthToken string

	// Hex encoded namespace of proof blobs
	Namespace string

	// Blobs bigger than this are rejected
	MaxBlobSize int

	RequestTimeout time.Duration

	// How long fetched blobs stay in memory
	CacheTTL time.Duration
}

func setCelestiaDefaults() {
	viper.SetDefault("Celestia.Url", "http://127.0.0.1:26658")
	viper.SetDefault("Celestia.AuthToken", "")
	viper.SetDefault("Celestia.Namespace", "00000000000000000000000000000000000000000000766961")
	viper.SetDefault("Celestia.MaxBlobSize", "1973786")
	viper.SetDefault("Celestia.RequestTimeout", "30s")
	viper.SetDefault("Celestia.CacheTTL", "10m")
}
