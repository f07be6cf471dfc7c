package refresher

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/pkg/config"
	"github.com/quarrylabs/quarry/pkg/events"
	"github.com/quarrylabs/quarry/pkg/layout"
	"github.com/quarrylabs/quarry/pkg/lockfile"
	"github.com/quarrylabs/quarry/pkg/types"
)

func newMarkerRefresher(t *testing.T) (*Refresher, layout.Layout, *lockfile.Manager) {
	t.Helper()

	lay := layout.New(t.TempDir())
	require.NoError(t, lay.EnsureDirs())

	locks, err := lockfile.NewManager(lay.LocksDir())
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Root = lay.Root

	r := &Refresher{
		locks:  locks,
		lay:    lay,
		cfg:    cfg,
		logger: zerolog.Nop(),
	}
	return r, lay, locks
}

func writeMarker(t *testing.T, lay layout.Layout, name string, enteredAt time.Time) string {
	t.Helper()

	data, err := json.Marshal(&types.WriteModeMarker{EnteredAt: enteredAt, Session: "test-session"})
	require.NoError(t, err)

	path := filepath.Join(lay.WriteModeDir(), name+".json")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestEvictStaleMarkersKeepsFresh(t *testing.T) {
	r, lay, _ := newMarkerRefresher(t)
	path := writeMarker(t, lay, "active", time.Now().UTC())

	r.EvictStaleMarkers(false)

	assert.FileExists(t, path, "a marker inside its TTL must survive")
}

func TestEvictStaleMarkersRemovesExpired(t *testing.T) {
	r, lay, locks := newMarkerRefresher(t)
	path := writeMarker(t, lay, "stale", time.Now().UTC().Add(-2*time.Hour))

	ok, err := locks.Acquire("stale", types.WriteModeOwner, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	r.EvictStaleMarkers(false)

	assert.NoFileExists(t, path)
	locked, err := locks.IsLocked("stale")
	require.NoError(t, err)
	assert.False(t, locked, "the write-mode lock must be released with the marker")
}

func TestEvictStaleMarkersForceRemovesFresh(t *testing.T) {
	r, lay, locks := newMarkerRefresher(t)
	path := writeMarker(t, lay, "survivor", time.Now().UTC())

	ok, err := locks.Acquire("survivor", types.WriteModeOwner, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	r.EvictStaleMarkers(true)

	assert.NoFileExists(t, path, "startup eviction removes markers regardless of age")
	locked, err := locks.IsLocked("survivor")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestEvictStaleMarkersRemovesMalformed(t *testing.T) {
	r, lay, _ := newMarkerRefresher(t)
	path := filepath.Join(lay.WriteModeDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0644))

	r.EvictStaleMarkers(false)

	assert.NoFileExists(t, path)
}

func TestEvictStaleMarkersPublishesLockEviction(t *testing.T) {
	r, lay, locks := newMarkerRefresher(t)
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)
	r.broker = broker

	sub := broker.Subscribe()
	t.Cleanup(func() { broker.Unsubscribe(sub) })

	writeMarker(t, lay, "stale", time.Now().UTC().Add(-2*time.Hour))
	ok, err := locks.Acquire("stale", types.WriteModeOwner, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	r.EvictStaleMarkers(false)

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventLockEvicted, ev.Type)
		assert.Equal(t, "stale", ev.Repo)
	case <-time.After(time.Second):
		t.Fatal("lock eviction event not delivered")
	}
}

func TestEvictStaleMarkersIgnoresOtherOwnersLock(t *testing.T) {
	r, lay, locks := newMarkerRefresher(t)
	writeMarker(t, lay, "contested", time.Now().UTC().Add(-2*time.Hour))

	ok, err := locks.Acquire("contested", "human-writer", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	r.EvictStaleMarkers(false)

	locked, err := locks.IsLocked("contested")
	require.NoError(t, err)
	assert.True(t, locked, "a lock held by a different owner must not be released")
}
