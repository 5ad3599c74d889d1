// Package parquet exports counter snapshots as Parquet tables.
//
// The package provides:
//   - Writer/WriteSnapshot for one row per counter cell
//   - Reader/ReadFile for reading an export back into a CounterSet
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
//
// Counts are stored as decimal strings so that values beyond 64 bits survive
// the round trip. count_f64 and share are approximations for analysis tools.
package parquet
