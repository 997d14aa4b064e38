package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a TOML config to a temp file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

const minimalConfig = `
[api]
key = "k"
secret = "s"
institution_symbol = "XXX"
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, cfg.API.BaseURL)
	assert.Equal(t, DefaultSearchBaseURL, cfg.API.SearchBaseURL)
	assert.Equal(t, DefaultTokenURL, cfg.API.TokenURL)
	assert.Equal(t, DefaultMaxRecords, cfg.Batch.MaxRecordsPerRequest)
	assert.Equal(t, DefaultOutputDir, cfg.Output.Dir)
	assert.Equal(t, DefaultTimeout, cfg.HTTPTimeout())
}

func TestLoadFileValuesOverrideDefaults(t *testing.T) {
	path := writeConfig(t, `
[api]
key = "k"
secret = "s"
base_url = "https://example.test"
include_transaction_id = true

[batch]
max_records_per_request = 10

[network]
timeout = "5s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://example.test", cfg.API.BaseURL)
	assert.True(t, cfg.API.IncludeTransactionID)
	assert.Equal(t, 10, cfg.Batch.MaxRecordsPerRequest)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
[api.extra]
nope = true
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown key")
}

func TestLoadEnvOverridesWin(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	t.Setenv(EnvKey, "env-key")
	t.Setenv(EnvBatchSize, "7")
	t.Setenv(EnvTxnEnabled, "yes")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.API.Key)
	assert.Equal(t, 7, cfg.Batch.MaxRecordsPerRequest)
	assert.True(t, cfg.API.IncludeTransactionID)
}

func TestLoadMissingFileWithEnvCredentials(t *testing.T) {
	t.Setenv(EnvKey, "env-key")
	t.Setenv(EnvSecret, "env-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.API.Key)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "missing key", mutate: func(c *Config) { c.API.Key = "" }, wantErr: "api.key"},
		{name: "missing secret", mutate: func(c *Config) { c.API.Secret = "" }, wantErr: "api.secret"},
		{name: "empty token url", mutate: func(c *Config) { c.API.TokenURL = "" }, wantErr: "token_url"},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.Batch.MaxRecordsPerRequest = 0 },
			wantErr: "max_records_per_request",
		},
		{
			name:    "bad timeout",
			mutate:  func(c *Config) { c.Network.Timeout = "soon" },
			wantErr: "timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			cfg.API.Key = "k"
			cfg.API.Secret = "s"
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefaultPathsContainAppName(t *testing.T) {
	assert.Contains(t, DefaultConfigPath(), appName)
	assert.Contains(t, DefaultCredentialsPath(), appName)
}
