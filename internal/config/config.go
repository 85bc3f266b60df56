package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL                 string
	AddressesFile          string
	UpdateNetworksInterval time.Duration
	SyncInterval           time.Duration
	EventQueryTimeout      time.Duration
	PollInterval           time.Duration
	BatchSize              uint64
	FanInConcurrency       int
	PGDSN                  string
	TokenFile              string
	FirebaseCredentials    string
	Listen                 string
	MaxRetries             int
	RetryBackoff           time.Duration
	TimestampCacheSize     int
	LogLevel               string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("addresses", "./addresses.json")
	v.SetDefault("update-networks-interval", 120*time.Second)
	v.SetDefault("sync-interval", 300*time.Second)
	v.SetDefault("event-query-timeout", 20*time.Second)
	v.SetDefault("poll-interval", 2*time.Second)
	v.SetDefault("batch-size", uint64(5000))
	v.SetDefault("fanin-concurrency", 32)
	v.SetDefault("listen", ":5000")
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("timestamp-cache-size", 4096)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:                 v.GetString("rpc"),
		AddressesFile:          v.GetString("addresses"),
		UpdateNetworksInterval: v.GetDuration("update-networks-interval"),
		SyncInterval:           v.GetDuration("sync-interval"),
		EventQueryTimeout:      v.GetDuration("event-query-timeout"),
		PollInterval:           v.GetDuration("poll-interval"),
		BatchSize:              v.GetUint64("batch-size"),
		FanInConcurrency:       v.GetInt("fanin-concurrency"),
		PGDSN:                  v.GetString("pg-dsn"),
		TokenFile:              v.GetString("token-file"),
		FirebaseCredentials:    v.GetString("firebase-credentials"),
		Listen:                 v.GetString("listen"),
		MaxRetries:             v.GetInt("max-retries"),
		RetryBackoff:           v.GetDuration("retry-backoff"),
		TimestampCacheSize:     v.GetInt("timestamp-cache-size"),
		LogLevel:               v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks the values the relay cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.RPCURL == "" {
		errs = append(errs, errors.New("rpc url is required"))
	}
	if c.AddressesFile == "" {
		errs = append(errs, errors.New("addresses file is required"))
	}
	if c.BatchSize == 0 {
		errs = append(errs, errors.New("batch size must be greater than zero"))
	}
	if c.PGDSN != "" && c.TokenFile != "" {
		errs = append(errs, errors.New("pg-dsn and token-file are mutually exclusive"))
	}
	return errors.Join(errs...)
}

// PushEnabled reports whether push notifications have both a backend and a token store.
func (c Config) PushEnabled() bool {
	return c.FirebaseCredentials != "" && (c.PGDSN != "" || c.TokenFile != "")
}
