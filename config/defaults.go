// Package config provides configuration defaults and utilities
// for the pick9 binaries.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml, flags or environment variables.
package config

import "time"

// =============================================================================
// Network Defaults
// =============================================================================

const (
	// DefaultListenAddress is the default aggregator listen address.
	// Override via config: server.listen, flag -listen, env PICK9_LISTEN
	DefaultListenAddress = "0.0.0.0:8000"

	// DefaultMaxBodyBytes limits a single batch submission.
	// A full batch is 707 counters; 1 MiB leaves room for very large values.
	// Override via config: server.max_body_bytes
	DefaultMaxBodyBytes = 1 << 20

	// DefaultMaxInFlight caps concurrent ingest requests. Excess submissions
	// are answered with 503 instead of queueing behind the store lock.
	// Override via config: server.max_in_flight
	DefaultMaxInFlight = 256

	// DefaultReadTimeout bounds reading a request.
	// Override via config: server.read_timeout
	DefaultReadTimeout = 30 * time.Second

	// DefaultWriteTimeout bounds writing a response.
	// Override via config: server.write_timeout
	DefaultWriteTimeout = 30 * time.Second
)

// =============================================================================
// Shutdown Defaults
// =============================================================================

const (
	// DefaultDrainTimeout is how long to wait for in-flight submissions during
	// shutdown before the listener is torn down.
	// Override via config: server.drain_timeout
	DefaultDrainTimeout = 30 * time.Second
)

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultSnapshotPath is where the running total is persisted.
	// Override via config: storage.path, flag -db, env PICK9_DB
	DefaultSnapshotPath = "data/db.json"

	// DefaultPersistMode is the snapshot durability mode: "weak" or "strict".
	// Override via config: storage.persist_mode
	DefaultPersistMode = "weak"

	// DefaultJournalSegmentSize is the maximum batch journal segment size.
	// Override via config: storage.journal.max_segment_size
	DefaultJournalSegmentSize = 64 * 1024 * 1024

	// DefaultSketchAccuracy is the relative accuracy of latency percentiles.
	// Override via config: stats.accuracy
	DefaultSketchAccuracy = 0.01

	// DefaultSubscriberBuffer is the per-subscriber update channel capacity.
	// Slow subscribers miss intermediate updates rather than block merges.
	DefaultSubscriberBuffer = 16
)

// =============================================================================
// Worker Defaults
// =============================================================================

const (
	// DefaultServerAddress is where pick9compute submits batches.
	// Override via env SERVER_ADDRESS or flag -server
	DefaultServerAddress = "http://127.0.0.1:8000/"

	// DefaultRounds is the number of trials simulated per batch.
	// Override via flag -rounds
	DefaultRounds = 100000000

	// DefaultThreads is the number of simulation workers.
	// Override via flag -threads or first positional argument
	DefaultThreads = 1

	// DefaultSubmitTimeout bounds a single batch submission.
	DefaultSubmitTimeout = time.Minute

	// DefaultSubmitRetries is the number of resubmissions after a failure.
	// Zero by default: a resubmitted batch may be counted twice.
	DefaultSubmitRetries = 0

	// DefaultRetryBackoff is the delay before the first resubmission.
	DefaultRetryBackoff = time.Second
)

// =============================================================================
// Logging Defaults
// =============================================================================

const (
	// DefaultLogLevel is the default log level.
	// Override via config: logging.level
	DefaultLogLevel = "info"

	// DefaultLogFormat is the default log format: "text" or "json".
	// Override via config: logging.format
	DefaultLogFormat = "text"
)
