package config

import (
	"time"

	"github.com/spf13/viper"
)

// Connection to the inscriber service
type Nats struct {
	Url            string
	Subject        string
	RequestTimeout time.Duration
	MaxReconnects  int
	ReconnectWait  time.Duration
}

func setNatsDefaults() {
	viper.SetDefault("Nats.Url", "nats://127.0.0.1:4222")
	viper.SetDefault("Nats.Subject", "via.inscriber.vote")
	viper.SetDefault("Nats.RequestTimeout", "30s")
	viper.SetDefault("Nats.MaxReconnects", "10")
	viper.SetDefault("Nats.ReconnectWait", "2s")
}
