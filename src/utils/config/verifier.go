package config

import (
	"time"

	"github.com/spf13/viper"
)

type VerifierMode string

const (
	VerifierModeOnlyRealProofs VerifierMode = "OnlyRealProofs"
	VerifierModeSkipEveryProof VerifierMode = "SkipEveryProof"
)

func (self VerifierMode) IsValid() bool {
	return self == VerifierModeOnlyRealProofs || self == VerifierModeSkipEveryProof
}

type Verifier struct {
	Mode VerifierMode

	// Must be set explicitly to run in SkipEveryProof mode
	UnsafeAllowSkipProofs bool

	// Hex encoded secp256k1 key used to sign votes
	PrivateKey string

	// Proof verification service
	ProverUrl     string
	ProverTimeout time.Duration
}

func setVerifierDefaults() {
	viper.SetDefault("Verifier.Mode", string(VerifierModeOnlyRealProofs))
	viper.SetDefault("Verifier.UnsafeAllowSkipProofs", "false")
	viper.SetDefault("Verifier.PrivateKey", "")
	viper.SetDefault("Verifier.ProverUrl", "http://127.0.0.1:3320")
	viper.SetDefault("Verifier.ProverTimeout", "30s")
}
