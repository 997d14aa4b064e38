// Package config implements TOML configuration loading, validation, and
// default path resolution for wcbatch. Configuration is resolved once at
// startup into an explicit Config value and passed into the packages that
// need it; nothing reads the environment from deep call stacks.
package config

import "time"

// Config is the top-level configuration parsed from a TOML file.
type Config struct {
	API     APIConfig     `toml:"api"`
	Batch   BatchConfig   `toml:"batch"`
	Output  OutputConfig  `toml:"output"`
	Network NetworkConfig `toml:"network"`
	Logging LoggingConfig `toml:"logging"`
}

// APIConfig holds WorldCat Metadata API endpoints and caller identity.
type APIConfig struct {
	// Key and Secret are the OAuth2 client credentials (WSKey).
	Key    string `toml:"key"`
	Secret string `toml:"secret"`

	// BaseURL is the Metadata API root for bulk operations.
	BaseURL string `toml:"base_url"`
	// SearchBaseURL is the search API root for brief-bib queries.
	SearchBaseURL string `toml:"search_base_url"`
	// TokenURL is the OCLC authorization server's token endpoint.
	TokenURL string `toml:"token_url"`

	// InstitutionSymbol is the OCLC symbol identifying the library; used in
	// transaction IDs and held-by search filters.
	InstitutionSymbol string `toml:"institution_symbol"`
	// PrincipalID is an optional per-caller identity for transaction IDs.
	PrincipalID string `toml:"principal_id"`
	// IncludeTransactionID controls whether requests carry a transactionID
	// parameter for service-side tracing.
	IncludeTransactionID bool `toml:"include_transaction_id"`
}

// BatchConfig controls bulk request sizing.
type BatchConfig struct {
	// MaxRecordsPerRequest is the server-enforced cap on identifiers per
	// bulk call.
	MaxRecordsPerRequest int `toml:"max_records_per_request"`
}

// OutputConfig controls where classification CSV files are written.
type OutputConfig struct {
	Dir string `toml:"dir"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	// Timeout is a Go duration string, e.g. "30s". It bounds every outbound
	// call including the token exchange.
	Timeout string `toml:"timeout"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel string `toml:"log_level"`
}

// Defaults for optional settings. The batch cap matches the Metadata API's
// documented 50-number limit on bulk endpoints.
const (
	DefaultBaseURL       = "https://worldcat.org"
	DefaultSearchBaseURL = "https://americas.metadata.api.oclc.org/worldcat/search/v1"
	DefaultTokenURL      = "https://oauth.oclc.org/token"
	DefaultMaxRecords    = 50
	DefaultOutputDir     = "outputs"
	DefaultTimeout       = 30 * time.Second
)

// NewDefault returns a Config with all defaults applied and no credentials.
func NewDefault() Config {
	return Config{
		API: APIConfig{
			BaseURL:       DefaultBaseURL,
			SearchBaseURL: DefaultSearchBaseURL,
			TokenURL:      DefaultTokenURL,
		},
		Batch:   BatchConfig{MaxRecordsPerRequest: DefaultMaxRecords},
		Output:  OutputConfig{Dir: DefaultOutputDir},
		Network: NetworkConfig{Timeout: DefaultTimeout.String()},
		Logging: LoggingConfig{LogLevel: "info"},
	}
}

// HTTPTimeout parses the configured network timeout. Validate rejects
// malformed values, so the default fallback only matters for hand-built
// Configs in tests.
func (c Config) HTTPTimeout() time.Duration {
	d, err := time.ParseDuration(c.Network.Timeout)
	if err != nil || d <= 0 {
		return DefaultTimeout
	}

	return d
}
