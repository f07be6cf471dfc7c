/*
Package lockfile implements cross-process write locks over master
directories.

One lock file per repository lives under {root}/.locks/; its presence means
"held". Acquisition uses an exclusive create (O_CREAT|O_EXCL) so exactly one
process wins, with a per-name in-process mutex closing the same-process race.
Lock files record owner, pid, acquisition time and TTL, which lets any later
reader evict locks whose holder crashed (dead pid) or hung (expired TTL)
without a shared registry.
*/
package lockfile
