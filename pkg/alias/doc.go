/*
Package alias manages the durable pointers from global aliases to current
snapshot paths.

Records are JSON files under {root}/aliases/, one per alias, updated with a
write-temp-fsync-rename sequence so a swap is atomic: readers observe either
the previous target or the new one, never a partial record. The rename is the
commit point; a crash anywhere before it leaves the previous target live.
*/
package alias
