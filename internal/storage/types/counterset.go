package types

import (
	"fmt"
	"math/big"

	"github.com/xtxerr/pick9/internal/errors"
)

// CounterSet holds one dense table of non-negative counters per schema entry.
//
// Counters are arbitrary precision: the running total accumulates an
// unbounded number of batches and must never wrap.
//
// A CounterSet is not safe for concurrent use; the storage layer owns the
// locking around the shared total.
type CounterSet struct {
	schema Schema
	tables [][]big.Int
}

// NewCounterSet returns an all-zero CounterSet of the given shape.
func NewCounterSet(schema Schema) *CounterSet {
	schema = schema.clone()
	tables := make([][]big.Int, len(schema.Tables))
	for i, t := range schema.Tables {
		tables[i] = make([]big.Int, t.Size)
	}
	return &CounterSet{schema: schema, tables: tables}
}

// FromUint64 builds a CounterSet from fixed-width counters, as produced by a
// simulator. Tables absent from values stay zero; unknown tables or wrong
// lengths are rejected.
func FromUint64(schema Schema, values map[string][]uint64) (*CounterSet, error) {
	c := NewCounterSet(schema)
	for name, cells := range values {
		ti, ok := c.schema.Index(name)
		if !ok {
			return nil, fmt.Errorf("table %q: %w", name, errors.ErrUnknownTable)
		}
		if len(cells) != len(c.tables[ti]) {
			return nil, errors.NewShapeMismatch(name, len(c.tables[ti]), len(cells))
		}
		for i, v := range cells {
			c.tables[ti][i].SetUint64(v)
		}
	}
	return c, nil
}

// Schema returns the shape of the set.
func (c *CounterSet) Schema() Schema {
	return c.schema.clone()
}

// Len returns the length of the named table, or 0 if it does not exist.
func (c *CounterSet) Len(name string) int {
	return c.schema.Size(name)
}

// Get returns a copy of one counter.
func (c *CounterSet) Get(name string, i int) (*big.Int, error) {
	ti, ok := c.schema.Index(name)
	if !ok {
		return nil, fmt.Errorf("table %q: %w", name, errors.ErrUnknownTable)
	}
	if i < 0 || i >= len(c.tables[ti]) {
		return nil, fmt.Errorf("table %q: index %d out of range [0,%d): %w",
			name, i, len(c.tables[ti]), errors.ErrShapeMismatch)
	}
	return new(big.Int).Set(&c.tables[ti][i]), nil
}

// Set overwrites one counter. Negative values are rejected.
func (c *CounterSet) Set(name string, i int, v *big.Int) error {
	ti, ok := c.schema.Index(name)
	if !ok {
		return fmt.Errorf("table %q: %w", name, errors.ErrUnknownTable)
	}
	if i < 0 || i >= len(c.tables[ti]) {
		return fmt.Errorf("table %q: index %d out of range [0,%d): %w",
			name, i, len(c.tables[ti]), errors.ErrShapeMismatch)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("table %q[%d] = %s: %w", name, i, v, errors.ErrNegativeCounter)
	}
	c.tables[ti][i].Set(v)
	return nil
}

// Table returns a copy of the named table.
func (c *CounterSet) Table(name string) ([]*big.Int, bool) {
	ti, ok := c.schema.Index(name)
	if !ok {
		return nil, false
	}
	out := make([]*big.Int, len(c.tables[ti]))
	for i := range c.tables[ti] {
		out[i] = new(big.Int).Set(&c.tables[ti][i])
	}
	return out, true
}

// Each calls fn for every counter in schema order. The value must not be
// retained or modified.
func (c *CounterSet) Each(fn func(table string, i int, v *big.Int)) {
	for ti, t := range c.schema.Tables {
		for i := range c.tables[ti] {
			fn(t.Name, i, &c.tables[ti][i])
		}
	}
}

// SameShape returns an error wrapping ErrShapeMismatch if other does not have
// exactly the same tables, in the same order, with the same lengths.
func (c *CounterSet) SameShape(other *CounterSet) error {
	if other == nil {
		return fmt.Errorf("nil counter set: %w", errors.ErrShapeMismatch)
	}
	if len(c.schema.Tables) != len(other.schema.Tables) {
		return fmt.Errorf("want %d tables, got %d: %w",
			len(c.schema.Tables), len(other.schema.Tables), errors.ErrShapeMismatch)
	}
	for i, t := range c.schema.Tables {
		o := other.schema.Tables[i]
		if t.Name != o.Name {
			return fmt.Errorf("table %d: want %q, got %q: %w", i, t.Name, o.Name, errors.ErrShapeMismatch)
		}
		if len(c.tables[i]) != len(other.tables[i]) {
			return errors.NewShapeMismatch(t.Name, len(c.tables[i]), len(other.tables[i]))
		}
	}
	return nil
}

// Merge adds batch into c element-wise. The shape is verified before any
// counter is touched, so a rejected batch leaves c unchanged.
func (c *CounterSet) Merge(batch *CounterSet) error {
	if err := c.SameShape(batch); err != nil {
		return err
	}
	for ti := range c.tables {
		dst, src := c.tables[ti], batch.tables[ti]
		for i := range dst {
			dst[i].Add(&dst[i], &src[i])
		}
	}
	return nil
}

// Sum returns the sum of the named table, or zero if it does not exist.
func (c *CounterSet) Sum(name string) *big.Int {
	total := new(big.Int)
	ti, ok := c.schema.Index(name)
	if !ok {
		return total
	}
	for i := range c.tables[ti] {
		total.Add(total, &c.tables[ti][i])
	}
	return total
}

// GrandTotal returns the number of trials represented by the set.
func (c *CounterSet) GrandTotal() *big.Int {
	return c.Sum(c.schema.TrialTable)
}

// Clone returns a deep copy.
func (c *CounterSet) Clone() *CounterSet {
	out := NewCounterSet(c.schema)
	for ti := range c.tables {
		for i := range c.tables[ti] {
			out.tables[ti][i].Set(&c.tables[ti][i])
		}
	}
	return out
}

// Equal reports whether both sets have the same shape and counters.
func (c *CounterSet) Equal(other *CounterSet) bool {
	if other == nil || !c.schema.Equal(other.schema) {
		return false
	}
	for ti := range c.tables {
		for i := range c.tables[ti] {
			if c.tables[ti][i].Cmp(&other.tables[ti][i]) != 0 {
				return false
			}
		}
	}
	return true
}

// IsZero reports whether every counter is zero.
func (c *CounterSet) IsZero() bool {
	for ti := range c.tables {
		for i := range c.tables[ti] {
			if c.tables[ti][i].Sign() != 0 {
				return false
			}
		}
	}
	return true
}

// Validate checks that every counter is non-negative.
func (c *CounterSet) Validate() error {
	for ti, t := range c.schema.Tables {
		for i := range c.tables[ti] {
			if c.tables[ti][i].Sign() < 0 {
				return fmt.Errorf("table %q[%d]: %w", t.Name, i, errors.ErrNegativeCounter)
			}
		}
	}
	return nil
}
