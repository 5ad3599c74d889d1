package storage

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/pick9/internal/errors"
	"github.com/xtxerr/pick9/internal/storage/snapshot"
	"github.com/xtxerr/pick9/internal/storage/types"
	testutil "github.com/xtxerr/pick9/internal/testing"
)

func openStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func readSnapshot(t *testing.T, path string) *types.CounterSet {
	t.Helper()
	c, err := snapshot.ReadFile(types.DefaultSchema(), path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	return c
}

func TestOpen_FreshStart(t *testing.T) {
	path := testutil.SnapshotPath(t)

	s := openStore(t, DefaultOptions(path))

	if s.Total().Sign() != 0 {
		t.Errorf("expected zero total, got %s", s.Total())
	}

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("snapshot directory should exist: %v", err)
	}
	if exists, _ := snapshot.Exists(path); exists {
		t.Error("no snapshot should be written before the first batch")
	}
}

func TestOpen_Recovers(t *testing.T) {
	path := testutil.SnapshotPath(t)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	data, err := snapshot.Encode(testutil.TrialBatch(t, 7))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := snapshot.WriteFile(path, data); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := openStore(t, DefaultOptions(path))

	if s.Total().Int64() != 7 {
		t.Errorf("expected recovered total 7, got %s", s.Total())
	}
}

func TestOpen_CorruptSnapshotIsFatal(t *testing.T) {
	path := testutil.SnapshotPath(t)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{"three_digit_number":[1,2`), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s, err := Open(DefaultOptions(path))
	if !errors.Is(err, errors.ErrCorruptSnapshot) {
		t.Fatalf("expected ErrCorruptSnapshot, got %v", err)
	}
	if s != nil {
		t.Error("no store should be returned for a corrupt snapshot")
	}
}

func TestOpen_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"no path", Options{Schema: types.DefaultSchema()}},
		{"bad schema", Options{Path: testutil.SnapshotPath(t)}},
		{"bad mode", Options{Path: testutil.SnapshotPath(t), Schema: types.DefaultSchema(), PersistMode: "eventually"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestAdd_Example(t *testing.T) {
	path := testutil.SnapshotPath(t)
	ctx := context.Background()

	s, err := Open(DefaultOptions(path))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	batch := testutil.TrialBatch(t, 1)

	total, err := s.Add(ctx, batch)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if total.Int64() != 1 {
		t.Errorf("expected total 1, got %s", total)
	}

	total, err = s.Add(ctx, batch)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if total.Int64() != 2 {
		t.Errorf("expected total 2, got %s", total)
	}

	onDisk := readSnapshot(t, path)
	cells, _ := onDisk.Table(types.TableDividedBy9Count)
	want := []int64{2, 0, 0, 0, 0}
	for i, v := range cells {
		if v.Int64() != want[i] {
			t.Errorf("divided_by_9_count[%d]: expected %d, got %s", i, want[i], v)
		}
	}

	// Restart
	s.Close()
	s = openStore(t, DefaultOptions(path))
	if s.Total().Int64() != 2 {
		t.Errorf("expected total 2 after restart, got %s", s.Total())
	}
}

func TestAdd_ShapeMismatch(t *testing.T) {
	path := testutil.SnapshotPath(t)
	ctx := context.Background()

	s := openStore(t, DefaultOptions(path))
	if _, err := s.Add(ctx, testutil.TrialBatch(t, 3)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	short := types.DefaultSchema()
	short.Tables[2].Size = 4
	bad, _ := types.FromUint64(short, map[string][]uint64{types.TableDividedBy9Count: {1, 1, 1, 1}})

	total, err := s.Add(ctx, bad)
	if !errors.Is(err, errors.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	if total != nil {
		t.Errorf("no total expected on rejection, got %s", total)
	}
	if s.Total().Int64() != 3 {
		t.Errorf("rejected batch changed the total: %s", s.Total())
	}
	if s.Seq() != 1 {
		t.Errorf("rejected batch should not consume a sequence number, got %d", s.Seq())
	}

	if _, err := s.Add(ctx, nil); !errors.Is(err, errors.ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch for nil batch, got %v", err)
	}

	if got := s.Stats().Ingest.BatchesRejected; got != 2 {
		t.Errorf("expected 2 rejected batches, got %d", got)
	}
}

func TestAdd_CancelledContext(t *testing.T) {
	s := openStore(t, DefaultOptions(testutil.SnapshotPath(t)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Add(ctx, testutil.TrialBatch(t, 1)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if s.Total().Sign() != 0 {
		t.Error("cancelled submission should not be merged")
	}
}

func TestAdd_Concurrent(t *testing.T) {
	for _, mode := range []PersistMode{PersistWeak, PersistStrict} {
		t.Run(string(mode), func(t *testing.T) {
			path := testutil.SnapshotPath(t)
			opts := DefaultOptions(path)
			opts.PersistMode = mode
			s := openStore(t, opts)

			const (
				workers = 8
				adds    = 25
			)

			batches := make([]*types.CounterSet, workers)
			for w := range batches {
				batches[w] = testutil.TrialBatch(t, uint64(w+1))
			}

			gt := testutil.NewGoroutineTestWithTimeout(t, 30*time.Second)
			for w := 0; w < workers; w++ {
				batch := batches[w]
				gt.GoWithContext(func(ctx context.Context) error {
					var last *big.Int
					for i := 0; i < adds; i++ {
						total, err := s.Add(ctx, batch)
						if err != nil {
							return fmt.Errorf("worker %d add %d: %w", w, i, err)
						}
						if last != nil && total.Cmp(last) <= 0 {
							return fmt.Errorf("worker %d: total went from %s to %s", w, last, total)
						}
						last = total
					}
					return nil
				})
			}
			gt.Wait()

			// adds * (1 + 2 + ... + workers)
			want := int64(adds * workers * (workers + 1) / 2)
			if s.Total().Int64() != want {
				t.Errorf("expected total %d, got %s", want, s.Total())
			}

			stats := s.Stats()
			if stats.Seq != workers*adds {
				t.Errorf("expected seq %d, got %d", workers*adds, stats.Seq)
			}
			if stats.PersistedSeq != stats.Seq {
				t.Errorf("latest state not persisted: persisted %d, seq %d", stats.PersistedSeq, stats.Seq)
			}

			current, _ := s.Snapshot()
			if !readSnapshot(t, path).Equal(current) {
				t.Error("snapshot file does not match the in-memory total")
			}
		})
	}
}

func TestAdd_PersistenceFailureKeepsMerge(t *testing.T) {
	path := testutil.SnapshotPath(t)
	ctx := context.Background()

	s := openStore(t, DefaultOptions(path))

	// Remove the snapshot directory so the next write fails.
	if err := os.RemoveAll(filepath.Dir(path)); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}

	total, err := s.Add(ctx, testutil.TrialBatch(t, 5))
	if !errors.Is(err, errors.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if total == nil || total.Int64() != 5 {
		t.Fatalf("expected total 5 alongside the error, got %v", total)
	}
	if s.Total().Int64() != 5 {
		t.Errorf("merge must not be rolled back, got %s", s.Total())
	}

	stats := s.Stats()
	if stats.Ingest.PersistFailures != 1 || stats.Ingest.LastPersistError == "" {
		t.Errorf("persist failure not recorded: %+v", stats.Ingest)
	}

	// Restore the directory; the next write persists the larger state.
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	total, err = s.Add(ctx, testutil.TrialBatch(t, 1))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if total.Int64() != 6 {
		t.Errorf("expected total 6, got %s", total)
	}
	if got := readSnapshot(t, path).GrandTotal().Int64(); got != 6 {
		t.Errorf("expected 6 on disk, got %d", got)
	}
}

func TestStrictMode_FileTracksEveryAdd(t *testing.T) {
	path := testutil.SnapshotPath(t)
	ctx := context.Background()

	opts := DefaultOptions(path)
	opts.PersistMode = PersistStrict
	s := openStore(t, opts)

	for i := 1; i <= 5; i++ {
		if _, err := s.Add(ctx, testutil.TrialBatch(t, 10)); err != nil {
			t.Fatalf("Add %d: %v", i, err)
		}
		if got := readSnapshot(t, path).GrandTotal().Int64(); got != int64(10*i) {
			t.Fatalf("after add %d expected %d on disk, got %d", i, 10*i, got)
		}
	}
}

func TestPersist_NeverRegresses(t *testing.T) {
	path := testutil.SnapshotPath(t)
	s := openStore(t, DefaultOptions(path))

	newer, _ := snapshot.Encode(testutil.TrialBatch(t, 5))
	older, _ := snapshot.Encode(testutil.TrialBatch(t, 3))

	if err := s.persist(5, newer, nil); err != nil {
		t.Fatalf("persist newer: %v", err)
	}
	// A writer that captured an older state finishes last.
	if err := s.persist(3, older, nil); err != nil {
		t.Fatalf("persist older: %v", err)
	}

	if got := readSnapshot(t, path).GrandTotal().Int64(); got != 5 {
		t.Errorf("older state overwrote newer: got %d on disk", got)
	}

	stats := s.Stats()
	if stats.PersistedSeq != 5 {
		t.Errorf("expected persisted seq 5, got %d", stats.PersistedSeq)
	}
	if stats.Ingest.SnapshotsWritten != 1 {
		t.Errorf("skipped write should not count, got %d writes", stats.Ingest.SnapshotsWritten)
	}
}

func TestSave(t *testing.T) {
	path := testutil.SnapshotPath(t)
	ctx := context.Background()

	s := openStore(t, DefaultOptions(path))

	// Saving a fresh store writes the zero state.
	if err := s.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !readSnapshot(t, path).IsZero() {
		t.Error("expected zero snapshot")
	}

	if _, err := s.Add(ctx, testutil.TrialBatch(t, 2)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	os.Remove(path)

	if err := s.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := readSnapshot(t, path).GrandTotal().Int64(); got != 2 {
		t.Errorf("expected 2 on disk, got %d", got)
	}
}

func TestSubscribe(t *testing.T) {
	s := openStore(t, DefaultOptions(testutil.SnapshotPath(t)))
	ctx := context.Background()

	sub := s.Subscribe()

	for i := 1; i <= 3; i++ {
		if _, err := s.Add(ctx, testutil.TrialBatch(t, 4)); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	for i := 1; i <= 3; i++ {
		select {
		case u := <-sub.C:
			if u.Seq != uint64(i) {
				t.Errorf("expected seq %d, got %d", i, u.Seq)
			}
			if u.Total.Int64() != int64(4*i) {
				t.Errorf("expected total %d, got %s", 4*i, u.Total)
			}
		case <-time.After(time.Second):
			t.Fatalf("update %d not delivered", i)
		}
	}

	s.Unsubscribe(sub)
	if _, ok := <-sub.C; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	// Unsubscribing twice is harmless.
	s.Unsubscribe(sub)
}

func TestSubscribe_SlowSubscriberDoesNotBlock(t *testing.T) {
	opts := DefaultOptions(testutil.SnapshotPath(t))
	opts.SubscriberBuffer = 1
	s := openStore(t, opts)
	ctx := context.Background()

	sub := s.Subscribe()
	defer s.Unsubscribe(sub)

	err := testutil.WithTimeout(5*time.Second, func() error {
		for i := 0; i < 5; i++ {
			if _, err := s.Add(ctx, testutil.TrialBatch(t, 1)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("adds blocked on a slow subscriber: %v", err)
	}

	if sub.Dropped() != 4 {
		t.Errorf("expected 4 dropped updates, got %d", sub.Dropped())
	}
}

func TestClose(t *testing.T) {
	path := testutil.SnapshotPath(t)
	ctx := context.Background()

	s, err := Open(DefaultOptions(path))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sub := s.Subscribe()

	if _, err := s.Add(ctx, testutil.TrialBatch(t, 9)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	os.Remove(path)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := readSnapshot(t, path).GrandTotal().Int64(); got != 9 {
		t.Errorf("Close should write the final snapshot, got %d", got)
	}

	// Drain the buffered update, then the channel must be closed.
	<-sub.C
	if _, ok := <-sub.C; ok {
		t.Error("subscriptions should be closed by Close")
	}

	if _, err := s.Add(ctx, testutil.TrialBatch(t, 1)); !errors.Is(err, errors.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestZeroStoreNotReady(t *testing.T) {
	var s Store

	if _, err := s.Add(context.Background(), testutil.TrialBatch(t, 1)); !errors.Is(err, errors.ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	if err := s.Save(context.Background()); !errors.Is(err, errors.ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestParsePersistMode(t *testing.T) {
	tests := []struct {
		in      string
		want    PersistMode
		wantErr bool
	}{
		{"", PersistWeak, false},
		{"weak", PersistWeak, false},
		{"strict", PersistStrict, false},
		{"STRICT", "", true},
		{"fsync", "", true},
	}

	for _, tt := range tests {
		got, err := ParsePersistMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: unexpected error state: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: expected %q, got %q", tt.in, tt.want, got)
		}
		if err != nil && !errors.IsValidation(err) {
			t.Errorf("%q: expected validation error, got %v", tt.in, err)
		}
	}
}
