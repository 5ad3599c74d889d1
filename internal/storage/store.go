package storage

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/pick9/config"
	"github.com/xtxerr/pick9/internal/errors"
	"github.com/xtxerr/pick9/internal/logging"
	"github.com/xtxerr/pick9/internal/storage/aggregate"
	"github.com/xtxerr/pick9/internal/storage/snapshot"
	"github.com/xtxerr/pick9/internal/storage/types"
	"github.com/xtxerr/pick9/internal/storage/wal"
)

var log = logging.Component("store")

// PersistMode selects when snapshots are written relative to the state lock.
type PersistMode string

const (
	PersistWeak   PersistMode = "weak"
	PersistStrict PersistMode = "strict"
)

// ParsePersistMode parses a persist mode name. The empty string selects
// PersistWeak.
func ParsePersistMode(s string) (PersistMode, error) {
	switch PersistMode(s) {
	case "", PersistWeak:
		return PersistWeak, nil
	case PersistStrict:
		return PersistStrict, nil
	default:
		return "", errors.NewInvalidValue("persist_mode", s, "must be weak or strict")
	}
}

// Options configures a Store.
type Options struct {
	// Path is the snapshot file.
	Path string

	// Schema is the shape of the total and of every accepted batch.
	Schema types.Schema

	// PersistMode is PersistWeak or PersistStrict.
	PersistMode PersistMode

	// JournalDir enables the batch journal when non-empty.
	JournalDir string
	Journal    wal.Options

	// SketchAccuracy is the relative accuracy of latency percentiles.
	SketchAccuracy float64

	// SubscriberBuffer is the capacity of each subscription channel.
	SubscriberBuffer int
}

// DefaultOptions returns options for a weak-mode store at path with the
// default schema and no journal.
func DefaultOptions(path string) Options {
	return Options{
		Path:             path,
		Schema:           types.DefaultSchema(),
		PersistMode:      PersistWeak,
		Journal:          wal.DefaultOptions(),
		SketchAccuracy:   aggregate.DefaultAccuracy,
		SubscriberBuffer: config.DefaultSubscriberBuffer,
	}
}

// Update announces a merge.
type Update struct {
	Seq   uint64
	Total *big.Int
}

// Subscription receives an Update after each merge. Updates are dropped for
// a subscriber whose channel is full; the latest Seq always carries the
// latest total.
type Subscription struct {
	C <-chan Update

	ch      chan Update
	dropped atomic.Int64
}

// Dropped returns the number of updates not delivered to this subscription.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Store holds the running total. The zero value is not ready; use Open.
type Store struct {
	opts Options

	// shape is an all-zero set used to check batches without the state lock.
	shape *types.CounterSet

	// State lock
	mu    sync.Mutex
	total *types.CounterSet
	seq   uint64

	// Writer lock, ordered after mu
	writeMu      sync.Mutex
	persistedSeq uint64

	journal *wal.Writer
	stats   *aggregate.IngestStats

	subMu sync.Mutex
	subs  map[*Subscription]struct{}

	ready  atomic.Bool
	closed atomic.Bool
}

// Open loads the snapshot at opts.Path, or starts from an all-zero total if
// the file does not exist. A snapshot that cannot be decoded is fatal: the
// returned error wraps ErrCorruptSnapshot and no Store is returned.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("snapshot path: %w", errors.ErrMissingField)
	}
	if err := opts.Schema.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	mode, err := ParsePersistMode(string(opts.PersistMode))
	if err != nil {
		return nil, err
	}
	opts.PersistMode = mode
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = config.DefaultSubscriberBuffer
	}

	total, err := snapshot.ReadFile(opts.Schema, opts.Path)
	switch {
	case err == nil:
		log.Info("recovered snapshot",
			"path", opts.Path,
			"total", total.GrandTotal().String())
	case errors.Is(err, errors.ErrSnapshotNotFound):
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
			return nil, fmt.Errorf("create snapshot dir: %w", err)
		}
		total = types.NewCounterSet(opts.Schema)
		log.Info("no snapshot found, starting from zero", "path", opts.Path)
	default:
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	s := &Store{
		opts:  opts,
		shape: types.NewCounterSet(opts.Schema),
		total: total,
		stats: aggregate.NewIngestStats(opts.SketchAccuracy),
		subs:  make(map[*Subscription]struct{}),
	}

	if opts.JournalDir != "" {
		j, err := wal.NewWriter(opts.JournalDir, opts.Journal)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		s.journal = j
		log.Info("batch journal enabled",
			"dir", opts.JournalDir,
			"segment", j.CurrentSegment())
	}

	s.ready.Store(true)
	return s, nil
}

// Add merges batch into the total and persists the result.
//
// The returned total is the grand total right after this merge, computed
// under the state lock. On a persistence failure the merge is kept and the
// total is returned together with an error wrapping ErrPersistence. Any
// other error means the batch was not merged.
func (s *Store) Add(ctx context.Context, batch *types.CounterSet) (*big.Int, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.shape.SameShape(batch); err != nil {
		s.stats.RecordRejected()
		return nil, err
	}
	if err := batch.Validate(); err != nil {
		s.stats.RecordRejected()
		return nil, err
	}

	start := time.Now()

	s.mu.Lock()
	if err := s.total.Merge(batch); err != nil {
		s.mu.Unlock()
		s.stats.RecordRejected()
		return nil, err
	}
	s.seq++
	seq := s.seq
	total := s.total.GrandTotal()
	data, encErr := snapshot.Encode(s.total)

	if s.journal != nil {
		rec := wal.Record{Seq: seq, UnixMs: start.UnixMilli(), Batch: batch}
		if err := s.journal.Append(rec); err != nil {
			s.stats.RecordJournalFailure()
			log.Error("journal append failed", "seq", seq, "error", err)
		}
	}

	s.notify(Update{Seq: seq, Total: total})

	var persistErr error
	if s.opts.PersistMode == PersistStrict {
		persistErr = s.persist(seq, data, encErr)
	}
	s.mu.Unlock()

	s.stats.RecordAccepted(approxFloat(batch.GrandTotal()), time.Since(start))

	if s.opts.PersistMode == PersistWeak {
		persistErr = s.persist(seq, data, encErr)
	}

	if persistErr != nil {
		log.Error("snapshot write failed, batch kept in memory",
			"seq", seq,
			"path", s.opts.Path,
			"total", total.String(),
			"error", persistErr)
		return total, fmt.Errorf("%w: %v", errors.ErrPersistence, persistErr)
	}

	log.Debug("batch merged", "seq", seq, "total", total.String())
	return total, nil
}

// persist writes data captured at seq unless a newer state is already on
// disk.
func (s *Store) persist(seq uint64, data []byte, encErr error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if seq < s.persistedSeq {
		return nil
	}

	start := time.Now()
	err := encErr
	if err == nil {
		err = snapshot.WriteFile(s.opts.Path, data)
	}
	s.stats.RecordPersist(time.Since(start), err)
	if err != nil {
		return err
	}

	s.persistedSeq = seq
	return nil
}

// Save writes the current total to the snapshot file.
func (s *Store) Save(ctx context.Context) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	seq := s.seq
	data, encErr := snapshot.Encode(s.total)
	var err error
	if s.opts.PersistMode == PersistStrict {
		err = s.persist(seq, data, encErr)
	}
	s.mu.Unlock()

	if s.opts.PersistMode == PersistWeak {
		err = s.persist(seq, data, encErr)
	}

	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrPersistence, err)
	}
	return nil
}

// Total returns the current grand total.
func (s *Store) Total() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total.GrandTotal()
}

// Seq returns the number of batches merged since Open.
func (s *Store) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Snapshot returns a deep copy of the current total and its sequence number.
func (s *Store) Snapshot() (*types.CounterSet, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total.Clone(), s.seq
}

// EncodedSnapshot returns the current total in snapshot encoding.
func (s *Store) EncodedSnapshot() ([]byte, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := snapshot.Encode(s.total)
	return data, s.seq, err
}

// Schema returns the store's schema.
func (s *Store) Schema() types.Schema {
	return s.shape.Schema()
}

// Path returns the snapshot file path.
func (s *Store) Path() string {
	return s.opts.Path
}

// Subscribe registers for merge updates. The channel is closed by
// Unsubscribe or Close.
func (s *Store) Subscribe() *Subscription {
	ch := make(chan Update, s.opts.SubscriberBuffer)
	sub := &Subscription{C: ch, ch: ch}

	s.subMu.Lock()
	defer s.subMu.Unlock()

	if s.closed.Load() {
		close(ch)
		return sub
	}
	s.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe stops updates and closes the subscription channel.
func (s *Store) Unsubscribe(sub *Subscription) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if _, ok := s.subs[sub]; ok {
		delete(s.subs, sub)
		close(sub.ch)
	}
}

// notify fans out u without blocking. Called with mu held so subscribers see
// updates in sequence order.
func (s *Store) notify(u Update) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for sub := range s.subs {
		select {
		case sub.ch <- Update{Seq: u.Seq, Total: new(big.Int).Set(u.Total)}:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Close writes a final snapshot and closes the journal. Subsequent calls to
// Add and Save return ErrClosed.
func (s *Store) Close() error {
	if !s.ready.Load() || !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error

	if err := s.saveOnClose(); err != nil {
		errs = append(errs, err)
	}

	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}

	s.subMu.Lock()
	for sub := range s.subs {
		delete(s.subs, sub)
		close(sub.ch)
	}
	s.subMu.Unlock()

	log.Info("store closed", "path", s.opts.Path, "total", s.Total().String())
	return errors.Join(errs...)
}

func (s *Store) saveOnClose() error {
	s.mu.Lock()
	seq := s.seq
	data, encErr := snapshot.Encode(s.total)
	s.mu.Unlock()

	if err := s.persist(seq, data, encErr); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrPersistence, err)
	}
	return nil
}

// Ready returns nil if the store accepts batches, ErrNotReady before Open
// and ErrClosed after Close.
func (s *Store) Ready() error {
	return s.checkReady()
}

// RecordRejected counts a submission rejected before it reached Add.
func (s *Store) RecordRejected() {
	if s.stats != nil {
		s.stats.RecordRejected()
	}
}

func (s *Store) checkReady() error {
	if !s.ready.Load() {
		return errors.ErrNotReady
	}
	if s.closed.Load() {
		return errors.ErrClosed
	}
	return nil
}

// Stats holds store statistics.
type Stats struct {
	Path         string      `json:"path"`
	PersistMode  PersistMode `json:"persist_mode"`
	Seq          uint64      `json:"seq"`
	PersistedSeq uint64      `json:"persisted_seq"`
	Total        string      `json:"total"`

	Ingest  aggregate.IngestSnapshot `json:"ingest"`
	Journal *wal.WriterStats         `json:"journal,omitempty"`
}

// Stats returns current statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	seq := s.seq
	total := s.total.GrandTotal()
	s.mu.Unlock()

	s.writeMu.Lock()
	persisted := s.persistedSeq
	s.writeMu.Unlock()

	stats := Stats{
		Path:         s.opts.Path,
		PersistMode:  s.opts.PersistMode,
		Seq:          seq,
		PersistedSeq: persisted,
		Total:        total.String(),
		Ingest:       s.stats.Snapshot(),
	}
	if s.journal != nil {
		js := s.journal.Stats()
		stats.Journal = &js
	}
	return stats
}

// approxFloat converts a counter for statistics; precision loss is accepted.
func approxFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
