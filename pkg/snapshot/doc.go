// Package snapshot clones masters into immutable versioned directories using
// the filesystem's reflink-capable copy, normalises timestamps, rewrites
// index metadata for the new location and validates the result. It also
// performs the reverse clone used by startup reconciliation to restore a
// missing master from its latest snapshot.
package snapshot
