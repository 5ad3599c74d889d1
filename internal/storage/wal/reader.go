package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/xtxerr/pick9/internal/errors"
	"github.com/xtxerr/pick9/internal/storage/types"
)

// Reader reads records from one journal segment.
type Reader struct {
	path   string
	file   *os.File
	schema types.Schema

	// Statistics
	stats ReaderStats
}

// ReaderStats holds journal reader statistics.
type ReaderStats struct {
	RecordsRead    int64
	BytesRead      int64
	CorruptRecords int64
}

// NewReader opens a segment file and verifies its header.
func NewReader(path string, schema types.Schema) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}

	var header [headerSize]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("read header: %v: %w", err, errors.ErrCorruptRecord)
	}

	magic := binary.LittleEndian.Uint64(header[0:8])
	if magic != walMagic {
		f.Close()
		return nil, fmt.Errorf("invalid magic: expected %x, got %x: %w", walMagic, magic, errors.ErrCorruptRecord)
	}

	version := binary.LittleEndian.Uint32(header[8:12])
	if version != walVersion {
		f.Close()
		return nil, fmt.Errorf("unsupported version: %d", version)
	}

	return &Reader{
		path:   path,
		file:   f,
		schema: schema,
	}, nil
}

// ReadAll reads every intact record of the segment. Records that fail their
// checksum or do not decode are counted in Stats and skipped; a torn record
// at the tail ends the segment.
func (r *Reader) ReadAll() ([]Record, error) {
	var records []Record

	for {
		rec, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.stats.CorruptRecords++
			if errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			continue
		}

		records = append(records, rec)
	}

	return records, nil
}

// ReadRecord reads the next record from the segment.
// Returns io.EOF when there are no more records.
func (r *Reader) ReadRecord() (Record, error) {
	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(r.file, header[:]); err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("read record header: %w", err)
	}

	length := binary.LittleEndian.Uint32(header[0:4])
	expectedCRC := binary.LittleEndian.Uint32(header[4:8])

	if length > maxRecordSize {
		// The framing cannot be trusted past this point.
		return Record{}, fmt.Errorf("record too large: %d bytes: %w", length, io.ErrUnexpectedEOF)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.file, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Record{}, fmt.Errorf("read payload: %w", err)
	}

	actualCRC := crc32.ChecksumIEEE(payload)
	if actualCRC != expectedCRC {
		return Record{}, fmt.Errorf("CRC mismatch: expected %x, got %x: %w", expectedCRC, actualCRC, errors.ErrCorruptRecord)
	}

	rec, err := decodeRecord(r.schema, payload)
	if err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}

	r.stats.RecordsRead++
	r.stats.BytesRead += int64(recordHeaderSize + len(payload))

	return rec, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Stats returns reader statistics.
func (r *Reader) Stats() ReaderStats {
	return r.stats
}

// Path returns the segment path.
func (r *Reader) Path() string {
	return r.path
}

// ReadSegment is a convenience function to read all records from a segment file.
func ReadSegment(path string, schema types.Schema) ([]Record, ReaderStats, error) {
	r, err := NewReader(path, schema)
	if err != nil {
		return nil, ReaderStats{}, err
	}
	defer r.Close()

	records, err := r.ReadAll()
	return records, r.Stats(), err
}

// ReadAllSegments reads all records from multiple segment files, in order.
func ReadAllSegments(paths []string, schema types.Schema) ([]Record, ReaderStats, error) {
	var (
		all   []Record
		stats ReaderStats
	)

	for _, path := range paths {
		records, s, err := ReadSegment(path, schema)
		if err != nil {
			return nil, stats, fmt.Errorf("read segment %s: %w", path, err)
		}
		all = append(all, records...)
		stats.RecordsRead += s.RecordsRead
		stats.BytesRead += s.BytesRead
		stats.CorruptRecords += s.CorruptRecords
	}

	return all, stats, nil
}
