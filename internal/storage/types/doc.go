// Package types defines the core data types used throughout the storage system.
//
// Key types:
//   - Schema: the fixed, ordered set of named counter tables and the
//     designated trial-count table
//   - CounterSet: one dense table of arbitrary-precision, non-negative
//     counters per schema entry, with the element-wise Merge used to fold
//     submitted batches into the running total
package types
