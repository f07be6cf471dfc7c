/*
Package cleanup deletes retired snapshot directories once their reader
ref-count drains to zero.

Deletion is deliberately defensive: each tick first probes process-wide
file-descriptor usage and skips entirely under pressure, failed deletions
back off exponentially per path, and a path that keeps failing is abandoned
after a fixed number of attempts (circuit breaker) rather than retried
forever. Abandoned paths stay on disk and are exposed via Abandoned() and the
cleanup.abandoned event for operator recovery.
*/
package cleanup
