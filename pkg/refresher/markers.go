package refresher

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quarrylabs/quarry/pkg/events"
	"github.com/quarrylabs/quarry/pkg/types"
)

// EvictStaleMarkers removes write-mode marker files whose session has gone
// quiet, releasing the matching write lock. With force set (server startup)
// every marker is evicted unconditionally: no interactive session survives a
// restart, so any marker present is definitively orphaned.
func (r *Refresher) EvictStaleMarkers(force bool) {
	dir := r.lay.WriteModeDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn().Err(err).Msg("failed to scan write-mode markers")
		}
		return
	}

	ttl := r.cfg.WriteModeMarkerTTL()
	now := time.Now().UTC()

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		path := filepath.Join(dir, e.Name())

		if !force {
			marker, ok := readMarker(path)
			if ok && now.Sub(marker.EnteredAt) < ttl {
				continue
			}

			// Re-read just before deleting: a new session may have
			// refreshed the marker between the check and now.
			marker, ok = readMarker(path)
			if ok && now.Sub(marker.EnteredAt) < ttl {
				continue
			}
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			r.logger.Warn().Err(err).Str("marker", path).Msg("failed to remove stale write-mode marker")
			continue
		}

		released, err := r.locks.Release(name, types.WriteModeOwner)
		if err != nil {
			r.logger.Warn().Err(err).Str("repo", name).Msg("failed to release write-mode lock")
		}
		if released {
			r.publish(events.EventLockEvicted, name, "write-mode marker expired")
		}
		r.logger.Info().
			Str("repo", name).
			Bool("lock_released", released).
			Bool("forced", force).
			Msg("evicted write-mode marker")
	}
}

// readMarker parses a marker file; unreadable or malformed markers count as
// stale.
func readMarker(path string) (*types.WriteModeMarker, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var m types.WriteModeMarker
	if err := json.Unmarshal(data, &m); err != nil || m.EnteredAt.IsZero() {
		return nil, false
	}
	return &m, true
}
