// Package refresher keeps golden repositories current. A background loop
// refreshes every registered remote repository on a fixed interval: pull,
// rebuild indexes in place, snapshot via copy-on-write, swap the global alias
// atomically and retire the previous snapshot. Local writer-backed
// repositories refresh the same way when explicitly triggered, using file
// modification times for change detection instead of upstream commits.
//
// The package also owns the two recovery passes that share its collaborators:
// eviction of stale interactive write-mode markers, and the one-time startup
// reconciliation that restores missing masters from their latest snapshots.
package refresher
