package wal

import (
	"fmt"
	"math/big"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/xtxerr/pick9/internal/errors"
	"github.com/xtxerr/pick9/internal/storage/snapshot"
	"github.com/xtxerr/pick9/internal/storage/types"
)

// Record payload layout, protobuf wire format:
//
//	message Record {
//	  uint64 seq     = 1;
//	  int64  unix_ms = 2;
//	  repeated Table tables = 3;
//	}
//	message Table {
//	  string name = 1;
//	  repeated string counts = 2; // canonical decimal
//	}
const (
	fieldSeq    protowire.Number = 1
	fieldUnixMs protowire.Number = 2
	fieldTables protowire.Number = 3

	fieldTableName   protowire.Number = 1
	fieldTableCounts protowire.Number = 2
)

// Record is one accepted batch as journaled.
type Record struct {
	// Seq is the store sequence number assigned when the batch was merged.
	Seq uint64

	// UnixMs is the merge time in milliseconds since the epoch.
	UnixMs int64

	// Batch holds the submitted counters.
	Batch *types.CounterSet
}

// encodeRecord encodes a record into its wire payload.
func encodeRecord(rec Record) ([]byte, error) {
	if rec.Batch == nil {
		return nil, fmt.Errorf("record %d has no batch", rec.Seq)
	}

	schema := rec.Batch.Schema()

	// Estimate size: ~2 bytes per zero cell
	buf := make([]byte, 0, 32+schema.Cells()*2)

	buf = protowire.AppendTag(buf, fieldSeq, protowire.VarintType)
	buf = protowire.AppendVarint(buf, rec.Seq)
	buf = protowire.AppendTag(buf, fieldUnixMs, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(rec.UnixMs))

	for _, spec := range schema.Tables {
		cells, _ := rec.Batch.Table(spec.Name)

		var table []byte
		table = protowire.AppendTag(table, fieldTableName, protowire.BytesType)
		table = protowire.AppendString(table, spec.Name)
		for i, v := range cells {
			if v.Sign() < 0 {
				return nil, fmt.Errorf("table %q[%d]: %w", spec.Name, i, errors.ErrNegativeCounter)
			}
			table = protowire.AppendTag(table, fieldTableCounts, protowire.BytesType)
			table = protowire.AppendString(table, v.Text(10))
		}

		buf = protowire.AppendTag(buf, fieldTables, protowire.BytesType)
		buf = protowire.AppendBytes(buf, table)
	}

	return buf, nil
}

// decodeRecord decodes a wire payload against schema. Every table of the
// schema must be present with its exact length.
func decodeRecord(schema types.Schema, data []byte) (Record, error) {
	var rec Record
	batch := types.NewCounterSet(schema)
	seen := make(map[string]bool, len(schema.Tables))

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Record{}, corrupt("tag: %v", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldSeq && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Record{}, corrupt("seq: %v", protowire.ParseError(n))
			}
			rec.Seq = v
			data = data[n:]

		case num == fieldUnixMs && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Record{}, corrupt("unix_ms: %v", protowire.ParseError(n))
			}
			rec.UnixMs = int64(v)
			data = data[n:]

		case num == fieldTables && typ == protowire.BytesType:
			table, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Record{}, corrupt("table: %v", protowire.ParseError(n))
			}
			name, err := decodeTable(schema, batch, table)
			if err != nil {
				return Record{}, err
			}
			if seen[name] {
				return Record{}, corrupt("duplicate table %q", name)
			}
			seen[name] = true
			data = data[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Record{}, corrupt("field %d: %v", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	for _, spec := range schema.Tables {
		if !seen[spec.Name] {
			return Record{}, corrupt("missing table %q", spec.Name)
		}
	}

	rec.Batch = batch
	return rec, nil
}

// decodeTable decodes one Table message into batch and returns its name.
func decodeTable(schema types.Schema, batch *types.CounterSet, data []byte) (string, error) {
	var (
		name   string
		counts []*big.Int
	)

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", corrupt("table tag: %v", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldTableName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return "", corrupt("table name: %v", protowire.ParseError(n))
			}
			name = v
			data = data[n:]

		case num == fieldTableCounts && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return "", corrupt("count: %v", protowire.ParseError(n))
			}
			c, err := snapshot.ParseCounter(v)
			if err != nil {
				return "", corrupt("count: %v", err)
			}
			counts = append(counts, c)
			data = data[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return "", corrupt("table field %d: %v", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	size := schema.Size(name)
	if size == 0 {
		return "", corrupt("unknown table %q", name)
	}
	if len(counts) != size {
		return "", corrupt("table %q: want %d counts, got %d", name, size, len(counts))
	}
	for i, c := range counts {
		if err := batch.Set(name, i, c); err != nil {
			return "", corrupt("table %q[%d]: %v", name, i, err)
		}
	}
	return name, nil
}

func corrupt(format string, args ...interface{}) error {
	return errors.Wrapf(errors.ErrCorruptRecord, format, args...)
}
