// Package loader handles configuration file loading, validation, and application.
//
// LOCATION: internal/loader/loader.go
//
// This package is responsible for:
//   - Loading YAML configuration files
//   - Expanding environment variables
//   - Validating the result
//   - Converting it into store options and logger settings

package loader

import (
	"fmt"
	"net"
	"net/url"
	"os"

	"github.com/xtxerr/pick9/internal/errors"
	"github.com/xtxerr/pick9/internal/logging"
	"github.com/xtxerr/pick9/internal/storage"
	"github.com/xtxerr/pick9/internal/storage/types"
	"github.com/xtxerr/pick9/internal/storage/wal"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file. An empty path or a missing
// file yields DefaultConfig.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := Parse(cfg, data); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse expands environment variables in data and unmarshals it over cfg.
func Parse(cfg *Config, data []byte) error {
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// =============================================================================
// Validate
// =============================================================================

// Validate validates the configuration.
func Validate(cfg *Config) error {
	errs := errors.NewValidationErrors()

	// Server validation
	if cfg.Server.Listen == "" {
		errs.AddMissing("server.listen")
	} else if _, _, err := net.SplitHostPort(cfg.Server.Listen); err != nil {
		errs.Add(fmt.Errorf("invalid server.listen %q: %v: %w", cfg.Server.Listen, err, errors.ErrInvalidAddress))
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		errs.AddField("server.max_body_bytes", "must be positive")
	}
	if cfg.Server.MaxInFlight <= 0 {
		errs.AddField("server.max_in_flight", "must be positive")
	}
	if cfg.Server.DrainTimeout < 0 {
		errs.AddField("server.drain_timeout", "cannot be negative")
	}

	// Storage validation
	if cfg.Storage.Path == "" {
		errs.AddMissing("storage.path")
	}
	if _, err := storage.ParsePersistMode(cfg.Storage.PersistMode); err != nil {
		errs.Add(err)
	}
	if cfg.Storage.Schema != nil {
		if err := cfg.Storage.Schema.Validate(); err != nil {
			errs.Add(err)
		}
	}
	switch cfg.Storage.Journal.SyncMode {
	case "", "async", "sync", "fsync":
	default:
		errs.AddField("storage.journal.sync_mode", "must be async, sync or fsync")
	}
	if cfg.Storage.Journal.MaxSegmentSize < 0 {
		errs.AddField("storage.journal.max_segment_size", "cannot be negative")
	}

	// Stats validation
	if cfg.Stats.Accuracy <= 0 || cfg.Stats.Accuracy >= 1 {
		errs.AddField("stats.accuracy", "must be between 0 and 1")
	}

	// Logging validation
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		errs.AddField("logging.level", err.Error())
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		errs.AddField("logging.format", "must be text or json")
	}

	// Compute validation
	if err := ValidateServerAddress(cfg.Compute.ServerAddress); err != nil {
		errs.Add(err)
	}
	if cfg.Compute.Threads <= 0 {
		errs.AddField("compute.threads", "must be positive")
	}
	if cfg.Compute.Rounds <= 0 {
		errs.AddField("compute.rounds", "must be positive")
	}
	if cfg.Compute.Retries < 0 {
		errs.AddField("compute.retries", "cannot be negative")
	}

	return errs.Err()
}

// ValidateServerAddress checks that addr is an absolute http(s) URL.
func ValidateServerAddress(addr string) error {
	if addr == "" {
		return errors.NewMissingField("compute.server_address")
	}
	u, err := url.Parse(addr)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid compute.server_address %q: %w", addr, errors.ErrInvalidAddress)
	}
	return nil
}

// =============================================================================
// Conversion
// =============================================================================

// Schema returns the configured schema or the default pick-9 schema.
func (c *Config) Schema() types.Schema {
	if c.Storage.Schema != nil {
		return *c.Storage.Schema
	}
	return types.DefaultSchema()
}

// StoreOptions converts the storage section into store options.
func (c *Config) StoreOptions() (storage.Options, error) {
	mode, err := storage.ParsePersistMode(c.Storage.PersistMode)
	if err != nil {
		return storage.Options{}, err
	}

	opts := storage.DefaultOptions(c.Storage.Path)
	opts.Schema = c.Schema()
	opts.PersistMode = mode
	opts.SketchAccuracy = c.Stats.Accuracy
	opts.JournalDir = c.Storage.Journal.Dir

	journal := wal.DefaultOptions()
	if c.Storage.Journal.SyncMode != "" {
		journal.SyncMode = c.Storage.Journal.SyncMode
	}
	if c.Storage.Journal.MaxSegmentSize > 0 {
		journal.MaxSegmentSize = c.Storage.Journal.MaxSegmentSize.Bytes()
	}
	opts.Journal = journal

	return opts, nil
}

// InitLogging configures the global logger from the logging section.
func (c *Config) InitLogging() error {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return err
	}
	logging.Init(level, c.Logging.Format == "json")
	return nil
}

