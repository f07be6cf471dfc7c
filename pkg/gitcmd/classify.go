package gitcmd

import (
	"errors"
	"strings"
)

// remoteSchemes classifies a repository URL as remote-git. Anything else
// (local:// markers, bare paths, empty strings) is local writer-backed and
// never pulled by the scheduler.
var remoteSchemes = []string{
	"https://",
	"http://",
	"git@",
	"ssh://",
	"git://",
}

// IsRemoteURL reports whether a repository URL names a remote git source.
func IsRemoteURL(url string) bool {
	for _, scheme := range remoteSchemes {
		if strings.HasPrefix(url, scheme) {
			return true
		}
	}
	return false
}

var divergentPatterns = []string{
	"divergent branches",
	"need to specify how to reconcile",
}

var transientPatterns = []string{
	"could not resolve host",
	"connection timed out",
	"connection refused",
	"operation timed out",
	"could not read from remote repository",
	"authentication failed",
	"permission denied",
	"ssl",
	"proxy",
	"early eof",
	"the remote end hung up",
}

var corruptionPatterns = []string{
	"corrupt",
	"bad object",
	"pack has",
	"unresolved deltas",
	"loose object",
	"missing blob",
	"object file",
	"invalid index-pack output",
}

func matchCmdError(err error, patterns []string) bool {
	var cmdErr *CmdError
	if !errors.As(err, &cmdErr) {
		return false
	}
	text := strings.ToLower(cmdErr.Stderr + "\n" + cmdErr.Stdout)
	for _, p := range patterns {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// IsDivergent reports whether a pull failed because local and upstream
// histories diverged (force-pushed upstream). Recoverable in place.
func IsDivergent(err error) bool {
	return matchCmdError(err, divergentPatterns)
}

// IsTransient reports whether a git failure looks like a network or auth
// problem that the next scheduled cycle may not hit.
func IsTransient(err error) bool {
	var cmdErr *CmdError
	if errors.As(err, &cmdErr) && cmdErr.TimedOut {
		return true
	}
	return matchCmdError(err, transientPatterns)
}

// IsCorruption reports whether git stderr indicates repository corruption.
// Surfaced so a caller can decide to re-clone; never auto-recovered here.
func IsCorruption(err error) bool {
	return matchCmdError(err, corruptionPatterns)
}
