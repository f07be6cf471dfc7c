// Package lifecycle composes the golden-repository subsystems into one
// manager with a single upstream surface: repository registration, triggered
// refreshes, write locks, reader refs, alias reads, cleanup scheduling and
// cross-repository search. Start runs the recovery passes (marker eviction,
// master reconciliation) before any background loop touches the tree.
package lifecycle
