/*
Package gitcmd wraps the git binary for master-directory maintenance: change
detection against upstream, pulls with automatic recovery from dirty
worktrees and divergent branches, and post-clone timestamp normalisation.

Failures carry their stderr so callers can classify them: IsTransient for
network/auth problems retried on the next cycle, IsCorruption for damage that
needs a re-clone, IsDivergent for force-pushed upstreams recovered in place.
*/
package gitcmd
