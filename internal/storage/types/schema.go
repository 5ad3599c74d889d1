package types

import (
	"fmt"

	"github.com/xtxerr/pick9/internal/errors"
)

// Table names of the pick-9 experiment.
const (
	TableThreeDigitNumber = "three_digit_number"
	TableModBy9           = "mod_by_9"
	TableDividedBy9Count  = "divided_by_9_count"
	TableCoinHeadCalc     = "coin_head_calc"
	TableCoinTailCalc     = "coin_tail_calc"
)

// TableSpec names one counter table and its fixed length.
type TableSpec struct {
	Name string `yaml:"name"`
	Size int    `yaml:"size"`
}

// Schema is the fixed shape shared by the stored total and every batch.
// Changing it is a migration, not a runtime operation.
type Schema struct {
	// Tables in persisted key order.
	Tables []TableSpec `yaml:"tables"`

	// TrialTable is the table whose cells sum to the number of trials.
	TrialTable string `yaml:"trial_table"`
}

// DefaultSchema returns the five tables of the pick-9 experiment.
func DefaultSchema() Schema {
	return Schema{
		Tables: []TableSpec{
			{Name: TableThreeDigitNumber, Size: 670},
			{Name: TableModBy9, Size: 9},
			{Name: TableDividedBy9Count, Size: 5},
			{Name: TableCoinHeadCalc, Size: 17},
			{Name: TableCoinTailCalc, Size: 6},
		},
		TrialTable: TableDividedBy9Count,
	}
}

// Validate checks that the schema is usable.
func (s Schema) Validate() error {
	errs := errors.NewValidationErrors()

	if len(s.Tables) == 0 {
		errs.Add(fmt.Errorf("no tables: %w", errors.ErrInvalidSchema))
	}

	seen := make(map[string]bool, len(s.Tables))
	for i, t := range s.Tables {
		switch {
		case t.Name == "":
			errs.Add(fmt.Errorf("tables[%d]: empty name: %w", i, errors.ErrInvalidSchema))
		case seen[t.Name]:
			errs.Add(fmt.Errorf("tables[%d]: duplicate name %q: %w", i, t.Name, errors.ErrInvalidSchema))
		}
		seen[t.Name] = true

		if t.Size <= 0 {
			errs.Add(fmt.Errorf("table %q: size must be positive, got %d: %w", t.Name, t.Size, errors.ErrInvalidSchema))
		}
	}

	if s.TrialTable == "" {
		errs.Add(fmt.Errorf("trial_table: %w", errors.ErrMissingField))
	} else if !seen[s.TrialTable] {
		errs.Add(fmt.Errorf("trial_table %q is not a table: %w", s.TrialTable, errors.ErrInvalidSchema))
	}

	return errs.Err()
}

// Index returns the position of the named table.
func (s Schema) Index(name string) (int, bool) {
	for i, t := range s.Tables {
		if t.Name == name {
			return i, true
		}
	}
	return -1, false
}

// Size returns the length of the named table, or 0 if it does not exist.
func (s Schema) Size(name string) int {
	if i, ok := s.Index(name); ok {
		return s.Tables[i].Size
	}
	return 0
}

// Cells returns the total number of counters across all tables.
func (s Schema) Cells() int {
	n := 0
	for _, t := range s.Tables {
		n += t.Size
	}
	return n
}

// Names returns the table names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}

// Equal reports whether both schemas describe the same shape.
func (s Schema) Equal(other Schema) bool {
	if s.TrialTable != other.TrialTable || len(s.Tables) != len(other.Tables) {
		return false
	}
	for i := range s.Tables {
		if s.Tables[i] != other.Tables[i] {
			return false
		}
	}
	return true
}

// clone copies the table slice so callers cannot alias a CounterSet's schema.
func (s Schema) clone() Schema {
	tables := make([]TableSpec, len(s.Tables))
	copy(tables, s.Tables)
	return Schema{Tables: tables, TrialTable: s.TrialTable}
}
