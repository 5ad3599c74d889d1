// Package loader - Configuration Types
//
// LOCATION: internal/loader/types.go
//
// Defines the YAML configuration structure shared by pick9d and pick9compute.
//
//	server:   ingest endpoint address, limits, timeouts
//	storage:  snapshot file, durability mode, schema, batch journal
//	stats:    ingest statistics
//	logging:  level and format
//	compute:  worker settings for pick9compute

package loader

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xtxerr/pick9/config"
	"github.com/xtxerr/pick9/internal/storage/types"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration structure.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Stats   StatsConfig   `yaml:"stats"`
	Logging LoggingConfig `yaml:"logging"`
	Compute ComputeConfig `yaml:"compute"`
}

// =============================================================================
// Server
// =============================================================================

// ServerConfig configures the ingest endpoint.
type ServerConfig struct {
	// Listen is the HTTP listen address.
	// Format: "host:port" or ":port"
	Listen string `yaml:"listen"`

	// MaxBodyBytes limits a single submission. Larger bodies get 413.
	MaxBodyBytes ByteSize `yaml:"max_body_bytes"`

	// MaxInFlight caps concurrent submissions. Excess ones get 503.
	MaxInFlight int `yaml:"max_in_flight"`

	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`

	// DrainTimeout bounds graceful shutdown.
	DrainTimeout Duration `yaml:"drain_timeout"`
}

// =============================================================================
// Storage
// =============================================================================

// StorageConfig configures the Store.
type StorageConfig struct {
	// Path is the snapshot file.
	Path string `yaml:"path"`

	// PersistMode is "weak" or "strict".
	PersistMode string `yaml:"persist_mode"`

	// Schema overrides the default table layout. Leave empty for the
	// pick-9 tables.
	Schema *types.Schema `yaml:"schema,omitempty"`

	Journal JournalConfig `yaml:"journal"`
}

// JournalConfig configures the optional batch journal.
type JournalConfig struct {
	// Dir enables the journal when set.
	Dir string `yaml:"dir"`

	// SyncMode is "async", "sync" or "fsync".
	SyncMode string `yaml:"sync_mode"`

	MaxSegmentSize ByteSize `yaml:"max_segment_size"`
}

// =============================================================================
// Stats, Logging
// =============================================================================

// StatsConfig configures ingest statistics.
type StatsConfig struct {
	// Accuracy is the relative accuracy of latency percentiles.
	Accuracy float64 `yaml:"accuracy"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// =============================================================================
// Compute
// =============================================================================

// ComputeConfig configures pick9compute.
type ComputeConfig struct {
	// ServerAddress is the aggregator URL batches are posted to.
	ServerAddress string `yaml:"server_address"`

	Threads int `yaml:"threads"`

	// Rounds is the number of trials per batch.
	Rounds int `yaml:"rounds"`

	// Retries is the number of resubmissions of a failed batch.
	// A batch the server merged but failed to acknowledge is counted
	// again on retry.
	Retries int `yaml:"retries"`

	RetryBackoff  Duration `yaml:"retry_backoff"`
	SubmitTimeout Duration `yaml:"submit_timeout"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:       config.DefaultListenAddress,
			MaxBodyBytes: ByteSize(config.DefaultMaxBodyBytes),
			MaxInFlight:  config.DefaultMaxInFlight,
			ReadTimeout:  Duration(config.DefaultReadTimeout),
			WriteTimeout: Duration(config.DefaultWriteTimeout),
			DrainTimeout: Duration(config.DefaultDrainTimeout),
		},

		Storage: StorageConfig{
			Path:        config.DefaultSnapshotPath,
			PersistMode: config.DefaultPersistMode,
			Journal: JournalConfig{
				SyncMode:       "sync",
				MaxSegmentSize: ByteSize(config.DefaultJournalSegmentSize),
			},
		},

		Stats: StatsConfig{
			Accuracy: config.DefaultSketchAccuracy,
		},

		Logging: LoggingConfig{
			Level:  config.DefaultLogLevel,
			Format: config.DefaultLogFormat,
		},

		Compute: ComputeConfig{
			ServerAddress: config.DefaultServerAddress,
			Threads:       config.DefaultThreads,
			Rounds:        config.DefaultRounds,
			Retries:       config.DefaultSubmitRetries,
			RetryBackoff:  Duration(config.DefaultRetryBackoff),
			SubmitTimeout: Duration(config.DefaultSubmitTimeout),
		},
	}
}

// =============================================================================
// Custom Types
// =============================================================================

// Duration is a time.Duration that can be unmarshaled from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := parseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// parseDuration parses "30s", "1m30s" or a plain integer number of seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return dur, nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// ByteSize is a size in bytes that can be unmarshaled from YAML.
// Supports: "100MB", "1GB", "500KB", or plain bytes.
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		// Try as int64
		var i int64
		if err := unmarshal(&i); err != nil {
			return err
		}
		*b = ByteSize(i)
		return nil
	}
	size, err := parseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(size)
	return nil
}

// byteUnits is ordered so that "B" is tried after the longer suffixes.
var byteUnits = []struct {
	suffix     string
	multiplier int64
}{
	{"TB", 1 << 40},
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// parseByteSize parses a size string like "100MB" or "1GB".
func parseByteSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}

	for _, u := range byteUnits {
		if strings.HasSuffix(s, u.suffix) {
			numStr := strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			n, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parse byte size %q: %w", s, err)
			}
			return n * u.multiplier, nil
		}
	}

	// Try as plain number
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse byte size %q: %w", s, err)
	}
	return n, nil
}

// Bytes returns the size in bytes.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}
