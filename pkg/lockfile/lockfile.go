package lockfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quarrylabs/quarry/pkg/log"
	"github.com/quarrylabs/quarry/pkg/metrics"
	"github.com/quarrylabs/quarry/pkg/types"
)

// Manager serializes mutations on master directories across processes.
// Presence of {dir}/{name}.lock means "held"; absence means "free". The
// in-process mutex map closes the window where two goroutines of the same
// process race on the exclusive create.
type Manager struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a lock manager over the given locks directory.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create locks directory: %w", err)
	}
	return &Manager{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

func (m *Manager) path(name string) string {
	return filepath.Join(m.dir, name+".lock")
}

// keyMutex returns the in-process mutex for a name, creating it on first use.
func (m *Manager) keyMutex(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mu, ok := m.locks[name]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	m.locks[name] = mu
	return mu
}

// Acquire attempts to take the write lock for a name. Non-blocking: returns
// false immediately when a live lock is held by someone else.
func (m *Manager) Acquire(name, owner string, ttl time.Duration) (bool, error) {
	mu := m.keyMutex(name)
	mu.Lock()
	defer mu.Unlock()

	if err := m.evictIfStale(name); err != nil {
		return false, err
	}

	f, err := os.OpenFile(m.path(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create lock file for %s: %w", name, err)
	}

	info := types.LockInfo{
		Owner:      owner,
		PID:        os.Getpid(),
		AcquiredAt: time.Now().UTC(),
		TTLSeconds: int(ttl / time.Second),
	}
	data, err := json.Marshal(&info)
	if err == nil {
		_, err = f.Write(data)
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(m.path(name))
		return false, fmt.Errorf("failed to write lock file for %s: %w", name, err)
	}

	metrics.LockAcquisitionsTotal.Inc()
	return true, nil
}

// Release frees the lock for a name if the caller owns it. Returns false on
// owner mismatch or when no lock is held.
func (m *Manager) Release(name, owner string) (bool, error) {
	mu := m.keyMutex(name)
	mu.Lock()
	defer mu.Unlock()

	info, err := m.readInfo(name)
	if err != nil {
		return false, err
	}
	if info == nil {
		return false, nil
	}

	if info.Owner != owner {
		logger := log.WithComponent("lockfile")
		logger.Warn().
			Str("name", name).
			Str("holder", info.Owner).
			Str("caller", owner).
			Msg("refusing to release lock held by another owner")
		return false, nil
	}

	if err := os.Remove(m.path(name)); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to remove lock file for %s: %w", name, err)
	}
	return true, nil
}

// IsLocked reports whether a live lock is held for a name. Stale locks are
// evicted first.
func (m *Manager) IsLocked(name string) (bool, error) {
	mu := m.keyMutex(name)
	mu.Lock()
	defer mu.Unlock()

	if err := m.evictIfStale(name); err != nil {
		return false, err
	}
	info, err := m.readInfo(name)
	if err != nil {
		return false, err
	}
	return info != nil, nil
}

// GetLockInfo returns the metadata of a live lock, or nil when the name is
// free. Stale locks are evicted first.
func (m *Manager) GetLockInfo(name string) (*types.LockInfo, error) {
	mu := m.keyMutex(name)
	mu.Lock()
	defer mu.Unlock()

	if err := m.evictIfStale(name); err != nil {
		return nil, err
	}
	return m.readInfo(name)
}

// readInfo reads the lock file. Missing and unparseable files both yield
// (nil, nil); eviction of unparseable files is evictIfStale's job.
func (m *Manager) readInfo(name string) (*types.LockInfo, error) {
	data, err := os.ReadFile(m.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read lock file for %s: %w", name, err)
	}

	var info types.LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, nil
	}
	return &info, nil
}

// evictIfStale removes the lock file when its holder can no longer be live:
// dead PID, expired TTL, or metadata that identifies neither.
func (m *Manager) evictIfStale(name string) error {
	path := m.path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read lock file for %s: %w", name, err)
	}

	var info types.LockInfo
	stale := false
	reason := ""

	if err := json.Unmarshal(data, &info); err != nil {
		stale = true
		reason = "unparseable metadata"
	} else if info.PID == 0 && info.AcquiredAt.IsZero() {
		stale = true
		reason = "metadata carries neither pid nor timestamp"
	} else {
		if info.PID > 0 && !pidAlive(info.PID) {
			stale = true
			reason = "holder process is dead"
		}
		if !stale && !info.AcquiredAt.IsZero() && info.Expired(time.Now().UTC()) {
			stale = true
			reason = "ttl expired"
		}
	}

	if !stale {
		return nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to evict stale lock for %s: %w", name, err)
	}

	metrics.StaleLockEvictionsTotal.Inc()
	logger := log.WithComponent("lockfile")
	logger.Warn().
		Str("name", name).
		Str("owner", info.Owner).
		Int("pid", info.PID).
		Str("reason", reason).
		Msg("evicted stale write lock")
	return nil
}
