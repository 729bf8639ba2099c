package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/iancoleman/strcase"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const ENV_PREFIX = "VIA_"

var ErrInvalid = errors.New("invalid configuration")

// Config stores global configuration
type Config struct {
	// Is development mode on
	IsDevelopment bool

	// REST API address. API used for monitoring, state and canonical chain queries
	RESTListenAddress string

	// Maximum time the indexer will be closing before stop is forced.
	StopTimeout time.Duration

	// Logging level
	LogLevel string

	BtcWatch  BtcWatch
	Bitcoin   Bitcoin
	Verifier  Verifier
	Celestia  Celestia
	Nats      Nats
	Redis     Redis
	Database  Database
	Bootstrap Bootstrap
	Profiler  Profiler
}

func setDefaults() {
	viper.SetDefault("IsDevelopment", "false")
	viper.SetDefault("RESTListenAddress", ":7777")
	viper.SetDefault("LogLevel", "DEBUG")
	viper.SetDefault("StopTimeout", "30s")

	setBtcWatchDefaults()
	setBitcoinDefaults()
	setVerifierDefaults()
	setCelestiaDefaults()
	setNatsDefaults()
	setRedisDefaults()
	setDatabaseDefaults()
	setBootstrapDefaults()
	setProfilerDefaults()
}

func Default() (config *Config) {
	config, _ = Load("")
	return
}

func BindEnv(path []string, val reflect.Value) {
	if val.Kind() != reflect.Struct {
		// Base types and slices of base types
		key := strings.ToLower(strings.Join(path, "."))
		env := ENV_PREFIX + strcase.ToScreamingSnake(strings.Join(path, "_"))
		err := viper.BindEnv(key, env)
		if err != nil {
			panic(err)
		}
		return
	}

	// Iterates over struct fields
	for i := 0; i < val.NumField(); i++ {
		newPath := make([]string, len(path))
		copy(newPath, path)
		newPath = append(newPath, val.Type().Field(i).Name)
		BindEnv(newPath, val.Field(i))
	}
}

func defaultDecoderConfig(output interface{}) *mapstructure.DecoderConfig {
	return &mapstructure.DecoderConfig{
		Metadata:         nil,
		Result:           output,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}
}

// Load configuration from file and env
func Load(filename string) (config *Config, err error) {
	viper.SetConfigType("json")

	setDefaults()

	// Visits every field and registers upper snake case ENV name for it
	// Works with embedded structs
	BindEnv([]string{}, reflect.ValueOf(Config{}))

	// Empty filename means we use default values
	if filename != "" {
		var content []byte
		/* #nosec */
		content, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}

		err = viper.ReadConfig(bytes.NewBuffer(content))
		if err != nil {
			return nil, err
		}
	}

	config = new(Config)
	decoder, err := mapstructure.NewDecoder(defaultDecoderConfig(config))
	if err != nil {
		return nil, err
	}

	err = decoder.Decode(viper.AllSettings())
	if err != nil {
		return nil, err
	}

	return
}

// Validate checks cross-field constraints that defaults can't express
func (self *Config) Validate() (err error) {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
	}

	if !self.BtcWatch.Role.IsValid() {
		return invalid("unknown role %q", self.BtcWatch.Role)
	}

	if !self.BtcWatch.Network.IsValid() {
		return invalid("unknown network %q", self.BtcWatch.Network)
	}

	if self.BtcWatch.PollInterval <= 0 {
		return invalid("poll interval must be positive")
	}

	if self.BtcWatch.MaxBlocksPerIteration == 0 {
		return invalid("max blocks per iteration must be positive")
	}

	if self.BtcWatch.ConfirmationDepth == 0 {
		return invalid("confirmation depth must be positive")
	}

	if self.BtcWatch.Role.RunsVerifier() {
		if !self.Verifier.Mode.IsValid() {
			return invalid("unknown verifier mode %q", self.Verifier.Mode)
		}

		if self.Verifier.Mode == VerifierModeSkipEveryProof && !self.Verifier.UnsafeAllowSkipProofs {
			return invalid("proof skipping requires UnsafeAllowSkipProofs")
		}

		if self.Verifier.PrivateKey == "" {
			return invalid("verifier role requires a signing key")
		}
	}

	return nil
}
