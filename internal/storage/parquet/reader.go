package parquet

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/xtxerr/pick9/internal/errors"
	"github.com/xtxerr/pick9/internal/storage/snapshot"
	"github.com/xtxerr/pick9/internal/storage/types"
)

// Reader reads counter rows from a Parquet file.
type Reader struct {
	file   *os.File
	reader *parquet.GenericReader[CountRow]
	path   string
}

// NewReader opens a Parquet file written by Writer.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &Reader{
		file:   f,
		reader: parquet.NewGenericReader[CountRow](f),
		path:   path,
	}, nil
}

// NewReaderAt reads rows from an in-memory or already open source.
func NewReaderAt(r io.ReaderAt) *Reader {
	return &Reader{
		reader: parquet.NewGenericReader[CountRow](r),
	}
}

// ReadAll reads all rows.
func (r *Reader) ReadAll() ([]CountRow, error) {
	rows := make([]CountRow, r.reader.NumRows())

	read := 0
	for read < len(rows) {
		n, err := r.reader.Read(rows[read:])
		read += n
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read rows: %w", err)
		}
		if n == 0 {
			break
		}
	}

	return rows[:read], nil
}

// NumRows returns the total number of rows in the file.
func (r *Reader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *Reader) Close() error {
	if err := r.reader.Close(); err != nil {
		if r.file != nil {
			r.file.Close()
		}
		return err
	}
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Path returns the file path.
func (r *Reader) Path() string {
	return r.path
}

// ToCounterSet rebuilds a CounterSet from rows. Every cell of schema must
// appear exactly once.
func ToCounterSet(schema types.Schema, rows []CountRow) (*types.CounterSet, error) {
	if len(rows) != schema.Cells() {
		return nil, errors.NewCorrupt("export has %d rows, schema has %d cells", len(rows), schema.Cells())
	}

	c := types.NewCounterSet(schema)
	seen := make(map[string]map[int32]bool, len(schema.Tables))

	for _, row := range rows {
		if seen[row.Table] == nil {
			seen[row.Table] = make(map[int32]bool)
		}
		if seen[row.Table][row.Index] {
			return nil, errors.NewCorrupt("duplicate cell %s[%d]", row.Table, row.Index)
		}
		seen[row.Table][row.Index] = true

		v, err := snapshot.ParseCounter(row.Count)
		if err != nil {
			return nil, errors.NewCorrupt("cell %s[%d]: %v", row.Table, row.Index, err)
		}
		if err := c.Set(row.Table, int(row.Index), v); err != nil {
			return nil, errors.NewCorrupt("%v", err)
		}
	}
	return c, nil
}

// ReadFile reads a Parquet export back into a CounterSet.
func ReadFile(schema types.Schema, path string) (*types.CounterSet, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	return ToCounterSet(schema, rows)
}

// FileInfo holds information about a Parquet export.
type FileInfo struct {
	Path    string
	Size    int64
	NumRows int64
}

// GetFileInfo returns information about a Parquet export.
func GetFileInfo(path string) (*FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return &FileInfo{
		Path:    path,
		Size:    stat.Size(),
		NumRows: r.NumRows(),
	}, nil
}
