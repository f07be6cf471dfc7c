/*
Package storage provides BoltDB-backed persistence for Quarry's registry.

The storage package implements the Store interface using BoltDB as the
underlying database, covering the golden-repository registry (one record per
registered repository with its URL, feature flags and refresh timestamps) and
refresh job records for the operator dashboard. All data is serialized as
JSON and stored in separate buckets.

The registry has a single writer (the lifecycle manager); readers see
consistent values through BoltDB's MVCC view transactions.
*/
package storage
