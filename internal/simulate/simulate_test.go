package simulate

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/xtxerr/pick9/internal/storage/types"
)

func TestRound_AddsOneTrial(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))

	for i := 0; i < 1000; i++ {
		var tally Tally
		k := tally.Round(rng)

		if k < 0 || k > 4 {
			t.Fatalf("k out of range: %d", k)
		}
		if tally.Trials() != 1 {
			t.Fatalf("one round must add exactly one trial, got %d", tally.Trials())
		}
		if tally.DividedBy9Count[k] != 1 {
			t.Fatalf("trial recorded in the wrong cell for k=%d", k)
		}
	}
}

func TestRun_Invariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	const rounds = 20000

	c := Run(rng, rounds)

	if c.GrandTotal().Int64() != rounds {
		t.Errorf("expected %d trials, got %s", rounds, c.GrandTotal())
	}
	if got := c.Sum(types.TableModBy9).Int64(); got != 4*rounds {
		t.Errorf("expected %d residues, got %d", 4*rounds, got)
	}
	if got := c.Sum(types.TableThreeDigitNumber).Int64(); got != 4*rounds {
		t.Errorf("expected %d numbers, got %d", 4*rounds, got)
	}

	coins := c.Sum(types.TableCoinHeadCalc).Int64() + c.Sum(types.TableCoinTailCalc).Int64()
	if coins != rounds {
		t.Errorf("expected %d coin flips, got %d", rounds, coins)
	}

	// Every zero residue is counted once in divided_by_9_count's weights.
	divided, _ := c.Table(types.TableDividedBy9Count)
	var zeros int64
	for k, v := range divided {
		zeros += int64(k) * v.Int64()
	}
	if mod0, _ := c.Get(types.TableModBy9, 0); mod0.Int64() != zeros {
		t.Errorf("mod_by_9[0]=%s but divided_by_9_count implies %d", mod0, zeros)
	}
}

func TestRun_OnlyReachableCells(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 9))
	c := Run(rng, 50000)

	numbers, _ := c.Table(types.TableThreeDigitNumber)
	for n, v := range numbers {
		if v.Sign() == 0 {
			continue
		}
		d := n - 3
		d1, d2, d3 := d%10, (d/10)%10, d/100
		if d1 < 1 || d1 > 6 || d2 < 1 || d2 > 6 || d3 < 1 || d3 > 6 {
			t.Errorf("unreachable number %d was recorded", n)
		}
	}

	heads, _ := c.Table(types.TableCoinHeadCalc)
	squares := map[int]bool{0: true, 1: true, 4: true, 9: true, 16: true}
	for i, v := range heads {
		if v.Sign() != 0 && !squares[i] {
			t.Errorf("coin_head_calc[%d] should never be hit", i)
		}
	}

	tails, _ := c.Table(types.TableCoinTailCalc)
	if tails[0].Sign() != 0 {
		t.Error("coin_tail_calc[0] should never be hit")
	}
}

func TestRun_Deterministic(t *testing.T) {
	a := Run(rand.New(rand.NewPCG(5, 6)), 1000)
	b := Run(rand.New(rand.NewPCG(5, 6)), 1000)

	if !a.Equal(b) {
		t.Error("same seed should produce the same batch")
	}
}

func TestRunContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, done, err := RunContext(ctx, rand.New(rand.NewPCG(1, 2)), 1_000_000)
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if done != 0 || !c.IsZero() {
		t.Errorf("expected no rounds, got %d", done)
	}
}

func TestRunContext_Completes(t *testing.T) {
	c, done, err := RunContext(context.Background(), rand.New(rand.NewPCG(1, 2)), 100)
	if err != nil {
		t.Fatalf("RunContext: %v", err)
	}
	if done != 100 || c.GrandTotal().Int64() != 100 {
		t.Errorf("expected 100 rounds, got %d / %s", done, c.GrandTotal())
	}
}

func BenchmarkRound(b *testing.B) {
	rng := rand.New(rand.NewPCG(1, 2))
	var tally Tally

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tally.Round(rng)
	}
}
