package alias

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quarrylabs/quarry/pkg/log"
	"github.com/quarrylabs/quarry/pkg/types"
)

// ErrNotFound is returned when no alias record exists for a name.
var ErrNotFound = errors.New("alias not found")

// Manager provides durable, atomically-swappable alias records. Each record
// maps a global alias to the absolute path of the current snapshot.
type Manager struct {
	dir string
}

// NewManager creates a manager over the given aliases directory.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create aliases directory: %w", err)
	}
	return &Manager{dir: dir}, nil
}

func (m *Manager) path(name string) string {
	return filepath.Join(m.dir, name+".json")
}

// Read returns the full record for an alias, or ErrNotFound.
func (m *Manager) Read(name string) (*types.AliasRecord, error) {
	data, err := os.ReadFile(m.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read alias %s: %w", name, err)
	}

	var rec types.AliasRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse alias %s: %w", name, err)
	}
	return &rec, nil
}

// ReadTarget returns the current target path for an alias, or "" with
// ErrNotFound when no record exists.
func (m *Manager) ReadTarget(name string) (string, error) {
	rec, err := m.Read(name)
	if err != nil {
		return "", err
	}
	return rec.TargetPath, nil
}

// Create writes the initial record for an alias. Fails if one already exists.
func (m *Manager) Create(name, target, repoName string) error {
	if _, err := m.Read(name); err == nil {
		return fmt.Errorf("alias already exists: %s", name)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	now := time.Now().UTC()
	rec := &types.AliasRecord{
		TargetPath:  target,
		CreatedAt:   now,
		LastRefresh: now,
		RepoName:    repoName,
	}
	return m.publish(name, rec)
}

// Swap atomically retargets an alias from oldTarget to newTarget. The rename
// is the commit point: a crash before it leaves the old record fully live, a
// crash after it leaves the new record fully live. A failed swap leaves the
// old target installed; the orphaned new snapshot is the caller's to clean up.
func (m *Manager) Swap(name, newTarget, oldTarget string) error {
	rec, err := m.Read(name)
	if err != nil {
		return fmt.Errorf("cannot swap alias %s: %w", name, err)
	}

	if rec.TargetPath != oldTarget {
		logger := log.WithComponent("alias")
		logger.Warn().
			Str("alias", name).
			Str("expected_old", oldTarget).
			Str("actual_old", rec.TargetPath).
			Msg("alias target moved since refresh began; swapping anyway")
	}

	rec.TargetPath = newTarget
	rec.LastRefresh = time.Now().UTC()
	return m.publish(name, rec)
}

// UpdateLastRefresh bumps the record's refresh timestamp without moving the
// target. Used for refresh cycles that detected no changes.
func (m *Manager) UpdateLastRefresh(name string) error {
	rec, err := m.Read(name)
	if err != nil {
		return err
	}
	rec.LastRefresh = time.Now().UTC()
	return m.publish(name, rec)
}

// Delete removes an alias record. Missing records are not an error.
func (m *Manager) Delete(name string) error {
	err := os.Remove(m.path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete alias %s: %w", name, err)
	}
	return nil
}

// List returns every alias name with a record on disk.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list aliases: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	return names, nil
}

// publish serializes the record to a temporary file adjacent to the final
// one, fsyncs it, then renames over the destination.
func (m *Manager) publish(name string, rec *types.AliasRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode alias %s: %w", name, err)
	}

	final := m.path(name)
	tmp, err := os.CreateTemp(m.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp alias file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write alias %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync alias %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close alias %s: %w", name, err)
	}

	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit alias %s: %w", name, err)
	}
	return nil
}
