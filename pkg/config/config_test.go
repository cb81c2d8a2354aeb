package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "http://127.0.0.1:8545", cfg.RPCURL)
	assert.Equal(t, 30*time.Second, cfg.RPCTimeout)
	assert.Equal(t, "", cfg.CoverageDB)
	assert.Equal(t, 128, cfg.MapCacheSize)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 3, cfg.SourcePadding)
	assert.False(t, cfg.NoColor)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.ExcludePaths)
}

func TestConfigValidation_Valid(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	assert.NoError(t, err)
}

func TestConfigValidation_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"empty url", func(c *Config) { c.RPCURL = "" }, "rpcUrl"},
		{"negative timeout", func(c *Config) { c.RPCTimeout = -time.Second }, "rpcTimeout"},
		{"zero cache", func(c *Config) { c.MapCacheSize = 0 }, "mapCacheSize"},
		{"zero workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"negative padding", func(c *Config) { c.SourcePadding = -1 }, "sourcePadding"},
		{"unknown level", func(c *Config) { c.LogLevel = "loud" }, "logLevel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestConfigValidation_Multiple(t *testing.T) {
	cfg := Default()
	cfg.Workers = 0
	cfg.RPCURL = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers")
	assert.Contains(t, err.Error(), "rpcUrl")
}

func TestConfig_Verbosity(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 3, cfg.Verbosity())

	cfg.LogLevel = "DEBUG"
	assert.Equal(t, 4, cfg.Verbosity())

	cfg.LogLevel = "crit"
	assert.Equal(t, 0, cfg.Verbosity())

	cfg.LogLevel = "nonsense"
	assert.Equal(t, 3, cfg.Verbosity())
}

func TestConfig_Excluded(t *testing.T) {
	cfg := Default()
	cfg.ExcludePaths = []string{"contracts/test/", "contracts/Mock*.sol", "lib/Math.sol"}

	assert.True(t, cfg.Excluded("contracts/test/Helper.sol"))
	assert.True(t, cfg.Excluded("contracts/MockToken.sol"))
	assert.True(t, cfg.Excluded("lib/Math.sol"))
	assert.False(t, cfg.Excluded("contracts/Token.sol"))
	assert.False(t, cfg.Excluded("contracts/testing.sol"))
}

func TestLoadFromFile(t *testing.T) {
	// Create temp config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	configJSON := `{
		"rpcUrl": "http://10.0.0.1:8545",
		"workers": 8,
		"logLevel": "debug",
		"excludePaths": ["contracts/test/"]
	}`

	err := os.WriteFile(configPath, []byte(configJSON), 0644)
	require.NoError(t, err)

	cfg, err := LoadFromFile(configPath)

	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.1:8545", cfg.RPCURL)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"contracts/test/"}, cfg.ExcludePaths)
	// Defaults should be applied for missing fields
	assert.Equal(t, 128, cfg.MapCacheSize)
	assert.Equal(t, 30*time.Second, cfg.RPCTimeout)
}

func TestLoadFromFile_TOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "evmcov.toml")

	configTOML := `RPCURL = "ws://127.0.0.1:8546"
CoverageDB = "build/coverage"
MapCacheSize = 16
NoColor = true
ExcludePaths = ["contracts/mocks/"]
`
	err := os.WriteFile(configPath, []byte(configTOML), 0644)
	require.NoError(t, err)

	cfg, err := LoadFromFile(configPath)

	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:8546", cfg.RPCURL)
	assert.Equal(t, "build/coverage", cfg.CoverageDB)
	assert.Equal(t, 16, cfg.MapCacheSize)
	assert.True(t, cfg.NoColor)
	assert.Equal(t, []string{"contracts/mocks/"}, cfg.ExcludePaths)
	assert.Equal(t, 4, cfg.Workers)
}

func TestLoadFromFile_TOMLUnknownField(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "evmcov.toml")

	err := os.WriteFile(configPath, []byte("Port = 8545\n"), 0644)
	require.NoError(t, err)

	_, err = LoadFromFile(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Port")
}

func TestLoadFromFile_NotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.json")
	assert.Error(t, err)

	_, err = LoadFromFile("/nonexistent/path/config.toml")
	assert.Error(t, err)
}

func TestLoadFromFile_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	err := os.WriteFile(configPath, []byte("invalid json"), 0644)
	require.NoError(t, err)

	_, err = LoadFromFile(configPath)
	assert.Error(t, err)
}

func TestConfigCopy(t *testing.T) {
	cfg := Default()
	cfg.Workers = 12
	cfg.ExcludePaths = []string{"a.sol"}

	copied := cfg.Copy()

	// Modify original
	cfg.Workers = 1
	cfg.ExcludePaths[0] = "b.sol"

	// Copy should be unchanged
	assert.Equal(t, 12, copied.Workers)
	assert.Equal(t, []string{"a.sol"}, copied.ExcludePaths)
}

func TestMergeWithDefaults(t *testing.T) {
	partial := &Config{
		Workers:  2,
		LogLevel: "warn",
		NoColor:  true,
	}

	merged := MergeWithDefaults(partial)

	assert.Equal(t, 2, merged.Workers)
	assert.Equal(t, "warn", merged.LogLevel)
	assert.True(t, merged.NoColor)
	// Defaults applied
	assert.Equal(t, DefaultRPCURL, merged.RPCURL)
	assert.Equal(t, DefaultSourcePadding, merged.SourcePadding)
	assert.NoError(t, merged.Validate())
}
