package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment variable names for overrides. Environment values win over the
// config file; CLI flags (handled by the caller) win over both.
const (
	EnvConfig     = "WCBATCH_CONFIG"
	EnvKey        = "WCBATCH_API_KEY"
	EnvSecret     = "WCBATCH_API_SECRET"
	EnvSymbol     = "WCBATCH_INSTITUTION_SYMBOL"
	EnvPrincipal  = "WCBATCH_PRINCIPAL_ID"
	EnvBatchSize  = "WCBATCH_MAX_RECORDS_PER_REQUEST"
	EnvTxnEnabled = "WCBATCH_INCLUDE_TRANSACTION_ID"
)

// Load reads the config file at path (or the default location when path is
// empty), applies environment overrides, and validates the result. A missing
// file is not an error; defaults plus environment may be a complete config.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}

	if path == "" {
		path = DefaultConfigPath()
	}

	cfg := NewDefault()

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err == nil {
		md, decodeErr := toml.Decode(string(data), &cfg)
		if decodeErr != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, decodeErr)
		}

		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("config: %s contains unknown key %q", path, undecoded[0].String())
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// applyEnvOverrides copies any set environment variables into cfg.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvKey); v != "" {
		cfg.API.Key = v
	}

	if v := os.Getenv(EnvSecret); v != "" {
		cfg.API.Secret = v
	}

	if v := os.Getenv(EnvSymbol); v != "" {
		cfg.API.InstitutionSymbol = v
	}

	if v := os.Getenv(EnvPrincipal); v != "" {
		cfg.API.PrincipalID = v
	}

	if v := os.Getenv(EnvBatchSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Batch.MaxRecordsPerRequest = n
		}
	}

	if v := os.Getenv(EnvTxnEnabled); v != "" {
		cfg.API.IncludeTransactionID = isTruthy(v)
	}
}

// isTruthy mirrors the accepted spellings for boolean environment values.
func isTruthy(v string) bool {
	switch v {
	case "true", "t", "1", "yes", "y", "True", "TRUE", "Yes", "YES", "Y", "T":
		return true
	default:
		return false
	}
}

// Validate checks that the configuration is usable for API operations.
func (c Config) Validate() error {
	if c.API.Key == "" {
		return errors.New("config: api.key is required (or set WCBATCH_API_KEY)")
	}

	if c.API.Secret == "" {
		return errors.New("config: api.secret is required (or set WCBATCH_API_SECRET)")
	}

	if c.API.BaseURL == "" {
		return errors.New("config: api.base_url must not be empty")
	}

	if c.API.SearchBaseURL == "" {
		return errors.New("config: api.search_base_url must not be empty")
	}

	if c.API.TokenURL == "" {
		return errors.New("config: api.token_url must not be empty")
	}

	if c.Batch.MaxRecordsPerRequest < 1 {
		return fmt.Errorf("config: batch.max_records_per_request must be at least 1, got %d",
			c.Batch.MaxRecordsPerRequest)
	}

	if c.Network.Timeout != "" {
		d, err := time.ParseDuration(c.Network.Timeout)
		if err != nil {
			return fmt.Errorf("config: network.timeout %q is not a valid duration: %w", c.Network.Timeout, err)
		}

		if d <= 0 {
			return fmt.Errorf("config: network.timeout must be positive, got %s", d)
		}
	}

	switch c.Logging.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.log_level %q is not one of debug, info, warn, error",
			c.Logging.LogLevel)
	}

	return nil
}
