// Package indexer shells out to the external indexing CLI (semantic,
// full-text, temporal and SCIP builds plus config rewriting) with per-type
// timeouts, and detects on-disk evidence of each index type for registry
// flag reconciliation.
package indexer
