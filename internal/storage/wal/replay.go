package wal

import (
	"fmt"

	"github.com/xtxerr/pick9/internal/storage/types"
)

// ReplayResult summarises a journal replay.
type ReplayResult struct {
	// Total is the merge of every intact record.
	Total *types.CounterSet

	Segments       int
	Records        int64
	CorruptRecords int64

	// FirstUnixMs and LastUnixMs bound the replayed records; zero when the
	// journal is empty.
	FirstUnixMs int64
	LastUnixMs  int64
}

// Replay rebuilds a CounterSet from every segment in dir.
//
// Because the journal only covers the period during which it was enabled,
// the result equals the stored total only if journaling was on from the
// first accepted batch.
func Replay(schema types.Schema, dir string) (*ReplayResult, error) {
	paths, err := ListSegments(dir)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}

	res := &ReplayResult{
		Total:    types.NewCounterSet(schema),
		Segments: len(paths),
	}

	for _, path := range paths {
		records, stats, err := ReadSegment(path, schema)
		if err != nil {
			return nil, fmt.Errorf("read segment %s: %w", path, err)
		}
		res.CorruptRecords += stats.CorruptRecords

		for _, rec := range records {
			if err := res.Total.Merge(rec.Batch); err != nil {
				return nil, fmt.Errorf("segment %s record %d: %w", path, rec.Seq, err)
			}
			res.Records++
			if res.FirstUnixMs == 0 || rec.UnixMs < res.FirstUnixMs {
				res.FirstUnixMs = rec.UnixMs
			}
			if rec.UnixMs > res.LastUnixMs {
				res.LastUnixMs = rec.UnixMs
			}
		}
	}

	return res, nil
}
