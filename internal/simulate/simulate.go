// Package simulate runs the pick-9 trial and tallies its outcomes.
//
// One round rolls four three-digit numbers, each built from three dice as
// 3 + d1 + 10*d2 + 100*d3, and records every number and its residue mod 9.
// k, the number of residues equal to zero, is recorded in the trial table.
// A coin is then flipped: heads records k*k in coin_head_calc, tails records
// k+1 in coin_tail_calc.
package simulate

import (
	"context"
	"math/rand/v2"

	"github.com/xtxerr/pick9/internal/storage/types"
)

// checkEvery is how many rounds RunContext runs between context checks.
const checkEvery = 1 << 16

// Tally holds fixed-width counters for one batch. Use it directly for hot
// loops and convert with CounterSet before submitting.
type Tally struct {
	ThreeDigitNumber [670]uint64
	ModBy9           [9]uint64
	DividedBy9Count  [5]uint64
	CoinHeadCalc     [17]uint64
	CoinTailCalc     [6]uint64
}

// Round plays one round and returns k, the count of numbers divisible by 9.
func (t *Tally) Round(rng *rand.Rand) int {
	k := 0
	for i := 0; i < 4; i++ {
		n := threeDigitNumber(rng)
		t.ThreeDigitNumber[n]++
		r := n % 9
		t.ModBy9[r]++
		if r == 0 {
			k++
		}
	}
	t.DividedBy9Count[k]++

	if rng.IntN(2) == 0 {
		t.CoinHeadCalc[k*k]++
	} else {
		t.CoinTailCalc[k+1]++
	}
	return k
}

// Trials returns the number of rounds tallied.
func (t *Tally) Trials() uint64 {
	var n uint64
	for _, v := range t.DividedBy9Count {
		n += v
	}
	return n
}

// CounterSet converts the tally into a default-schema batch.
func (t *Tally) CounterSet() *types.CounterSet {
	c, err := types.FromUint64(types.DefaultSchema(), map[string][]uint64{
		types.TableThreeDigitNumber: t.ThreeDigitNumber[:],
		types.TableModBy9:           t.ModBy9[:],
		types.TableDividedBy9Count:  t.DividedBy9Count[:],
		types.TableCoinHeadCalc:     t.CoinHeadCalc[:],
		types.TableCoinTailCalc:     t.CoinTailCalc[:],
	})
	if err != nil {
		// The array sizes are the default schema's sizes.
		panic("simulate: tally does not match the default schema: " + err.Error())
	}
	return c
}

// Run plays rounds rounds and returns the resulting batch.
func Run(rng *rand.Rand, rounds int) *types.CounterSet {
	var t Tally
	for i := 0; i < rounds; i++ {
		t.Round(rng)
	}
	return t.CounterSet()
}

// RunContext is Run with cancellation. On cancellation it returns the
// partial batch, the number of rounds completed, and the context's error.
func RunContext(ctx context.Context, rng *rand.Rand, rounds int) (*types.CounterSet, int, error) {
	var t Tally
	for i := 0; i < rounds; i++ {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return t.CounterSet(), i, err
			}
		}
		t.Round(rng)
	}
	return t.CounterSet(), rounds, nil
}

// NewRand returns a generator seeded from the runtime's entropy source.
func NewRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// threeDigitNumber rolls three dice into 3 + d1 + 10*d2 + 100*d3.
func threeDigitNumber(rng *rand.Rand) int {
	return 3 + dice(rng) + 10*dice(rng) + 100*dice(rng)
}

// dice returns 1..6.
func dice(rng *rand.Rand) int {
	return rng.IntN(6) + 1
}
