package testing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xtxerr/pick9/internal/storage/types"
)

func TestGoroutineTestBasic(t *testing.T) {
	gt := NewGoroutineTest(t)
	defer gt.Wait()

	var count atomic.Int64
	for i := 0; i < 5; i++ {
		gt.Go(func() error {
			count.Add(1)
			if i < 0 {
				return fmt.Errorf("unexpected negative index: %d", i)
			}
			return nil
		})
	}
}

func TestGoroutineTestWithContext(t *testing.T) {
	gt := NewGoroutineTestWithTimeout(t, 5*time.Second)
	defer gt.Wait()

	gt.GoWithContext(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
			return nil
		}
	})
}

func TestWithTimeout(t *testing.T) {
	if err := WithTimeout(time.Second, func() error { return nil }); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	err := WithTimeout(10*time.Millisecond, func() error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	if err == nil {
		t.Error("expected timeout error")
	}
}

func TestEventually(t *testing.T) {
	var ready atomic.Bool
	go func() {
		time.Sleep(20 * time.Millisecond)
		ready.Store(true)
	}()

	if err := Eventually(time.Second, 5*time.Millisecond, ready.Load); err != nil {
		t.Errorf("condition should be met: %v", err)
	}

	if err := Eventually(20*time.Millisecond, 5*time.Millisecond, func() bool { return false }); err == nil {
		t.Error("expected error for unmet condition")
	}
}

func TestTrialBatch(t *testing.T) {
	b := TrialBatch(t, 42)

	if b.GrandTotal().Int64() != 42 {
		t.Errorf("expected 42 trials, got %s", b.GrandTotal())
	}
	if b.Sum(types.TableThreeDigitNumber).Sign() != 0 {
		t.Error("only the trial table should be populated")
	}
}

func TestSnapshotPath(t *testing.T) {
	p := SnapshotPath(t)

	if filepath.Base(p) != "db.json" {
		t.Errorf("unexpected file name %q", p)
	}
	if _, err := os.Stat(filepath.Dir(p)); !os.IsNotExist(err) {
		t.Errorf("snapshot dir should not exist yet, got %v", err)
	}
}
