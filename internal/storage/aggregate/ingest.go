package aggregate

import (
	"sync"
	"time"
)

// Series names reported by IngestStats.
const (
	SeriesBatchTrials    = "batch_trials"
	SeriesMergeLatency   = "merge_latency_ms"
	SeriesPersistLatency = "persist_latency_ms"
)

// IngestStats collects statistics about accepted and rejected batches and
// snapshot writes. It is safe for concurrent use.
type IngestStats struct {
	mu sync.Mutex

	trials  *StreamingAggregate
	merge   *StreamingAggregate
	persist *StreamingAggregate

	started time.Time

	// Counters
	accepted        int64
	rejected        int64
	persisted       int64
	persistFailures int64
	journalFailures int64
	lastPersistErr  string
	lastPersistAt   time.Time
}

// IngestSnapshot is a point-in-time copy of IngestStats.
type IngestSnapshot struct {
	Uptime time.Duration `json:"uptime_ns"`

	BatchesAccepted int64 `json:"batches_accepted"`
	BatchesRejected int64 `json:"batches_rejected"`

	SnapshotsWritten int64     `json:"snapshots_written"`
	PersistFailures  int64     `json:"persist_failures"`
	JournalFailures  int64     `json:"journal_failures"`
	LastPersistError string    `json:"last_persist_error,omitempty"`
	LastPersistedAt  time.Time `json:"last_persisted_at,omitempty"`

	Trials         Result `json:"batch_trials"`
	MergeLatency   Result `json:"merge_latency_ms"`
	PersistLatency Result `json:"persist_latency_ms"`
}

// NewIngestStats creates a collector whose series track percentiles with the
// given relative accuracy. A non-positive accuracy disables percentiles.
func NewIngestStats(accuracy float64) *IngestStats {
	return &IngestStats{
		trials:  newAggregate(SeriesBatchTrials, accuracy),
		merge:   newAggregate(SeriesMergeLatency, accuracy),
		persist: newAggregate(SeriesPersistLatency, accuracy),
		started: time.Now(),
	}
}

// RecordAccepted records a merged batch carrying trials trials, merged in d.
// trials is an approximation for statistics only.
func (s *IngestStats) RecordAccepted(trials float64, d time.Duration) {
	now := time.Now().UnixMilli()
	s.trials.Add(trials, now)
	s.merge.Add(milliseconds(d), now)

	s.mu.Lock()
	s.accepted++
	s.mu.Unlock()
}

// RecordRejected records a batch that was refused before merging.
func (s *IngestStats) RecordRejected() {
	s.mu.Lock()
	s.rejected++
	s.mu.Unlock()
}

// RecordPersist records a snapshot write that took d and ended with err.
func (s *IngestStats) RecordPersist(d time.Duration, err error) {
	now := time.Now()
	s.persist.Add(milliseconds(d), now.UnixMilli())

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.persistFailures++
		s.lastPersistErr = err.Error()
		return
	}
	s.persisted++
	s.lastPersistErr = ""
	s.lastPersistAt = now
}

// RecordJournalFailure records a batch that could not be journaled.
func (s *IngestStats) RecordJournalFailure() {
	s.mu.Lock()
	s.journalFailures++
	s.mu.Unlock()
}

// Snapshot returns the current statistics.
func (s *IngestStats) Snapshot() IngestSnapshot {
	s.mu.Lock()
	snap := IngestSnapshot{
		Uptime:           time.Since(s.started),
		BatchesAccepted:  s.accepted,
		BatchesRejected:  s.rejected,
		SnapshotsWritten: s.persisted,
		PersistFailures:  s.persistFailures,
		JournalFailures:  s.journalFailures,
		LastPersistError: s.lastPersistErr,
		LastPersistedAt:  s.lastPersistAt,
	}
	s.mu.Unlock()

	snap.Trials = s.trials.Result()
	snap.MergeLatency = s.merge.Result()
	snap.PersistLatency = s.persist.Result()
	return snap
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
