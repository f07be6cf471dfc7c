package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	versionedDir   = ".versioned"
	aliasesDir     = "aliases"
	locksDir       = ".locks"
	writeModeDir   = ".write_mode"
	versionPrefix  = "v_"
	reconcilMarker = ".reconciliation_complete_v1"

	// IndexDir is the subdirectory inside a master or snapshot that holds
	// every built index. Rebuilt in place on each refresh.
	IndexDir = ".code-indexer"
)

// Layout resolves every on-disk location under the golden-repository root.
type Layout struct {
	Root string
}

// New returns a Layout rooted at the given directory.
func New(root string) Layout {
	return Layout{Root: root}
}

// MasterPath is the mutable source tree for a repository name.
func (l Layout) MasterPath(name string) string {
	return filepath.Join(l.Root, name)
}

// AliasesDir holds the alias records.
func (l Layout) AliasesDir() string {
	return filepath.Join(l.Root, aliasesDir)
}

// LocksDir holds the write-lock files.
func (l Layout) LocksDir() string {
	return filepath.Join(l.Root, locksDir)
}

// WriteModeDir holds the interactive write-mode marker files.
func (l Layout) WriteModeDir() string {
	return filepath.Join(l.Root, writeModeDir)
}

// ReconciliationMarker gates the one-time startup reconciliation pass.
func (l Layout) ReconciliationMarker() string {
	return filepath.Join(l.Root, reconcilMarker)
}

// VersionedRoot is the directory holding every snapshot of one repository.
func (l Layout) VersionedRoot(name string) string {
	return filepath.Join(l.Root, versionedDir, name)
}

// VersionPath names the snapshot directory for a unix timestamp.
func (l Layout) VersionPath(name string, unixSeconds int64) string {
	return filepath.Join(l.VersionedRoot(name), fmt.Sprintf("%s%d", versionPrefix, unixSeconds))
}

// IsVersionedPath reports whether a path lies under the snapshot area. Only
// such paths may ever be scheduled for retirement; masters never qualify.
func (l Layout) IsVersionedPath(path string) bool {
	prefix := filepath.Join(l.Root, versionedDir) + string(os.PathSeparator)
	return strings.HasPrefix(filepath.Clean(path), prefix)
}

// ParseVersionTimestamp extracts the unix timestamp from a v_{ts} directory
// name. Returns false for anything that is not a version directory.
func ParseVersionTimestamp(base string) (int64, bool) {
	if !strings.HasPrefix(base, versionPrefix) {
		return 0, false
	}
	ts, err := strconv.ParseInt(strings.TrimPrefix(base, versionPrefix), 10, 64)
	if err != nil || ts < 0 {
		return 0, false
	}
	return ts, true
}

// LatestVersion returns the highest-timestamp snapshot path for a repository,
// or "" when no snapshots exist.
func (l Layout) LatestVersion(name string) (string, int64, error) {
	entries, err := os.ReadDir(l.VersionedRoot(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", 0, nil
		}
		return "", 0, err
	}

	var best int64 = -1
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if ts, ok := ParseVersionTimestamp(e.Name()); ok && ts > best {
			best = ts
		}
	}
	if best < 0 {
		return "", 0, nil
	}
	return l.VersionPath(name, best), best, nil
}

// Versions lists every snapshot timestamp for a repository, ascending.
func (l Layout) Versions(name string) ([]int64, error) {
	entries, err := os.ReadDir(l.VersionedRoot(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []int64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if ts, ok := ParseVersionTimestamp(e.Name()); ok {
			out = append(out, ts)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// EnsureDirs creates the fixed directories under the root.
func (l Layout) EnsureDirs() error {
	for _, dir := range []string{
		l.Root,
		filepath.Join(l.Root, versionedDir),
		l.AliasesDir(),
		l.LocksDir(),
		l.WriteModeDir(),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
