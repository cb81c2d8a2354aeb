// Package config provides configuration management for evmcov.
package config

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/naoina/toml"
)

// Default values.
var (
	DefaultRPCURL        = "http://127.0.0.1:8545"
	DefaultRPCTimeout    = 30 * time.Second
	DefaultMapCacheSize  = 128
	DefaultWorkers       = 4
	DefaultSourcePadding = 3
	DefaultLogLevel      = "info"
)

// Log level names to geth verbosity.
var logLevels = map[string]int{
	"crit":  0,
	"error": 1,
	"warn":  2,
	"info":  3,
	"debug": 4,
	"trace": 5,
}

// TOML keys are the Go field names.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// Config defines the engine configuration.
type Config struct {
	// Node connection
	RPCURL     string        `json:"rpcUrl"`
	RPCTimeout time.Duration `json:"rpcTimeout"`

	// Storage
	CoverageDB   string `json:"coverageDb"` // leveldb directory, empty = in-memory
	MapCacheSize int    `json:"mapCacheSize"`

	// Processing
	Workers int `json:"workers"`

	// Output
	SourcePadding int      `json:"sourcePadding"`
	NoColor       bool     `json:"noColor"`
	LogLevel      string   `json:"logLevel"`
	ExcludePaths  []string `json:"excludePaths,omitempty"`
}

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		RPCURL:        DefaultRPCURL,
		RPCTimeout:    DefaultRPCTimeout,
		MapCacheSize:  DefaultMapCacheSize,
		Workers:       DefaultWorkers,
		SourcePadding: DefaultSourcePadding,
		LogLevel:      DefaultLogLevel,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.RPCURL == "" {
		errs = append(errs, "rpcUrl cannot be empty")
	}

	if c.RPCTimeout < 0 {
		errs = append(errs, "rpcTimeout cannot be negative")
	}

	if c.MapCacheSize <= 0 {
		errs = append(errs, "mapCacheSize must be greater than 0")
	}

	if c.Workers <= 0 {
		errs = append(errs, "workers must be greater than 0")
	}

	if c.SourcePadding < 0 {
		errs = append(errs, "sourcePadding cannot be negative")
	}

	if _, ok := logLevels[strings.ToLower(c.LogLevel)]; !ok {
		errs = append(errs, "logLevel must be one of: trace, debug, info, warn, error, crit")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// Verbosity returns the geth verbosity named by LogLevel, or info's.
func (c *Config) Verbosity() int {
	if lvl, ok := logLevels[strings.ToLower(c.LogLevel)]; ok {
		return lvl
	}
	return logLevels[DefaultLogLevel]
}

// Excluded reports whether path is dropped from reports.
func (c *Config) Excluded(path string) bool {
	for _, pattern := range c.ExcludePaths {
		if pattern == path || strings.HasPrefix(path, strings.TrimSuffix(pattern, "/")+"/") {
			return true
		}
		if ok, _ := filepath.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

// LoadFromFile loads configuration from a JSON or TOML file, chosen by
// extension.
func LoadFromFile(path string) (*Config, error) {
	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := loadTOML(path, &cfg); err != nil {
			return nil, err
		}
		return MergeWithDefaults(&cfg), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Merge with defaults
	merged := MergeWithDefaults(&cfg)

	return merged, nil
}

func loadTOML(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(path + ", " + err.Error())
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// MergeWithDefaults merges partial config with default values.
func MergeWithDefaults(partial *Config) *Config {
	def := Default()

	if partial.RPCURL != "" {
		def.RPCURL = partial.RPCURL
	}
	if partial.RPCTimeout != 0 {
		def.RPCTimeout = partial.RPCTimeout
	}
	if partial.CoverageDB != "" {
		def.CoverageDB = partial.CoverageDB
	}
	if partial.MapCacheSize != 0 {
		def.MapCacheSize = partial.MapCacheSize
	}
	if partial.Workers != 0 {
		def.Workers = partial.Workers
	}
	if partial.SourcePadding != 0 {
		def.SourcePadding = partial.SourcePadding
	}
	if partial.LogLevel != "" {
		def.LogLevel = partial.LogLevel
	}
	if partial.ExcludePaths != nil {
		def.ExcludePaths = append([]string(nil), partial.ExcludePaths...)
	}
	def.NoColor = partial.NoColor

	return def
}

// Copy creates a deep copy of the configuration.
func (c *Config) Copy() *Config {
	copied := *c
	if c.ExcludePaths != nil {
		copied.ExcludePaths = make([]string, len(c.ExcludePaths))
		copy(copied.ExcludePaths, c.ExcludePaths)
	}
	return &copied
}
