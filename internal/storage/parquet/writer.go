package parquet

import (
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/xtxerr/pick9/internal/storage/types"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression: CompressionZstd,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) (CompressionType, error) {
	switch s {
	case "snappy":
		return CompressionSnappy, nil
	case "zstd", "":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "gzip":
		return CompressionGzip, nil
	case "none":
		return CompressionNone, nil
	default:
		return CompressionZstd, fmt.Errorf("unknown compression %q", s)
	}
}

// String returns the name accepted by ParseCompressionType.
func (ct CompressionType) String() string {
	switch ct {
	case CompressionSnappy:
		return "snappy"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	case CompressionGzip:
		return "gzip"
	default:
		return "none"
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// CountRow is one counter cell in Parquet format.
type CountRow struct {
	Table    string  `parquet:"table,dict"`
	Index    int32   `parquet:"index"`
	Count    string  `parquet:"count"`
	CountF64 float64 `parquet:"count_f64"`
	Share    float64 `parquet:"share"`
}

// Rows converts a CounterSet into rows in schema order. Share is the cell's
// fraction of its table's sum, or zero for an empty table.
func Rows(c *types.CounterSet) []CountRow {
	rows := make([]CountRow, 0, c.Schema().Cells())

	for _, name := range c.Schema().Names() {
		sum := new(big.Float).SetInt(c.Sum(name))
		cells, _ := c.Table(name)

		for i, v := range cells {
			count := new(big.Float).SetInt(v)
			f, _ := count.Float64()

			var share float64
			if sum.Sign() > 0 {
				share, _ = new(big.Float).Quo(count, sum).Float64()
			}

			rows = append(rows, CountRow{
				Table:    name,
				Index:    int32(i),
				Count:    v.String(),
				CountF64: f,
				Share:    share,
			})
		}
	}
	return rows
}

// Writer writes counter snapshots to a Parquet stream.
type Writer struct {
	mu       sync.Mutex
	writer   *parquet.GenericWriter[CountRow]
	closer   io.Closer
	path     string
	rowCount int64
	closed   bool
}

// NewWriter creates a Parquet writer on w. Closing the Writer does not
// close w.
func NewWriter(w io.Writer, opts Options) *Writer {
	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(opts.Compression)),
	}

	return &Writer{
		writer: parquet.NewGenericWriter[CountRow](w, writerOpts...),
	}
}

// NewFileWriter creates a Parquet file at path.
func NewFileWriter(path string, opts Options) (*Writer, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	w := NewWriter(f, opts)
	w.closer = f
	w.path = path
	return w, nil
}

// Write appends every cell of c.
func (w *Writer) Write(c *types.CounterSet) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	n, err := w.writer.Write(Rows(c))
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close flushes the footer and closes the underlying file, if any.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		if w.closer != nil {
			w.closer.Close()
		}
		return fmt.Errorf("close writer: %w", err)
	}

	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// RowCount returns the number of rows written.
func (w *Writer) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path, or "" for a stream writer.
func (w *Writer) Path() string {
	return w.path
}

// WriteSnapshot writes c to w as a complete Parquet file.
func WriteSnapshot(w io.Writer, c *types.CounterSet, opts Options) error {
	pw := NewWriter(w, opts)
	if err := pw.Write(c); err != nil {
		pw.Close()
		return err
	}
	return pw.Close()
}

// WriteFile writes c to a Parquet file at path.
func WriteFile(path string, c *types.CounterSet, opts Options) error {
	w, err := NewFileWriter(path, opts)
	if err != nil {
		return err
	}
	if err := w.Write(c); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")
