// Package storage holds the pick9 running total.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│   Server    │────▶│    Store    │────▶│  Snapshot   │
//	│  (batches)  │     │ (CounterSet)│     │  (db.json)  │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	                           │
//	                           ├──────────▶ Journal (wal, optional)
//	                           │
//	                           └──────────▶ Subscribers (feed)
//
// The Store serializes merges behind a single state lock. After each merge
// it captures an encoded copy of the total tagged with a sequence number and
// writes it to the snapshot file. Two durability modes are supported:
//
//   - weak (default): the snapshot is written after the state lock is
//     released, so merges proceed while earlier states are being written.
//     Writes are serialized by a separate writer lock and an older captured
//     state is never written over a newer one, so the file converges to the
//     latest captured state.
//   - strict: the snapshot is written while the state lock is held, so the
//     file always matches the in-memory total once the lock is free, at the
//     cost of serializing all submissions behind file I/O.
//
// In both modes, when Add returns without error the snapshot file holds a
// state that includes the batch. A crash before that point may lose it.
//
// A failed write never rolls back the merge. Add reports it as an error
// wrapping ErrPersistence together with the new total; the next successful
// write persists the larger state.
//
// Subpackages:
//   - types: Schema and CounterSet
//   - snapshot: JSON codec and atomic file I/O
//   - wal: append-only batch journal and replay
//   - aggregate: ingest statistics (DDSketch batch sizes and latencies)
//   - parquet: columnar export
package storage
