// Package search fans a single query out across many published snapshots.
// Aliases are resolved up front (with fuzzy suggestions for typos), repos
// missing the requested index kind are skipped, and the remainder run on a
// small bounded worker pool with per-repository timeouts. Partial failure is
// the normal case: each repository lands in exactly one of results, skipped
// or errors, and the request as a whole only fails on invalid input.
//
// Every snapshot read holds a query-tracker ref for its duration, which is
// what keeps the cleanup manager from deleting a snapshot under a reader.
package search
