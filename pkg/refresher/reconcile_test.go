package refresher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/pkg/layout"
	"github.com/quarrylabs/quarry/pkg/types"
)

func seedSnapshot(t *testing.T, lay layout.Layout, name string, ts int64) string {
	t.Helper()

	dir := lay.VersionPath(name, ts)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, layout.IndexDir), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0644))
	return dir
}

func TestReconcileRestoresMissingMaster(t *testing.T) {
	r, lay, store, _, locks, _ := newTestRefresher(t)

	require.NoError(t, store.CreateRepository(&types.Repository{
		Name:    "webapp",
		RepoURL: "https://example.com/webapp.git",
	}))
	seedSnapshot(t, lay, "webapp", time.Now().Unix()-100)
	latest := seedSnapshot(t, lay, "webapp", time.Now().Unix())

	require.NoError(t, r.ReconcileOnStartup(context.Background()))

	master := lay.MasterPath("webapp")
	assert.FileExists(t, filepath.Join(master, "main.go"))
	assert.DirExists(t, filepath.Join(master, layout.IndexDir))
	assert.DirExists(t, latest, "the snapshot must survive the restore")
	assert.FileExists(t, lay.ReconciliationMarker())

	locked, err := locks.IsLocked("webapp")
	require.NoError(t, err)
	assert.False(t, locked, "the reconciliation lock must be released")
}

func TestReconcileRunsOnce(t *testing.T) {
	r, lay, store, _, _, _ := newTestRefresher(t)

	require.NoError(t, store.CreateRepository(&types.Repository{
		Name:    "webapp",
		RepoURL: "https://example.com/webapp.git",
	}))
	seedSnapshot(t, lay, "webapp", time.Now().Unix())
	require.NoError(t, os.WriteFile(lay.ReconciliationMarker(), []byte("completed_at: earlier\n"), 0644))

	require.NoError(t, r.ReconcileOnStartup(context.Background()))

	assert.NoDirExists(t, lay.MasterPath("webapp"),
		"a present marker must suppress the reconciliation pass")
}

func TestReconcileLeavesIntactMastersAlone(t *testing.T) {
	r, lay, store, aliases, _, _ := newTestRefresher(t)
	master := seedLocalRepo(t, lay, store, aliases, "intact")

	repo, err := store.GetRepository("intact")
	require.NoError(t, err)
	repo.RepoURL = "https://example.com/intact.git"
	require.NoError(t, store.UpdateRepository(repo))

	canary := filepath.Join(master, "canary.txt")
	require.NoError(t, os.WriteFile(canary, []byte("untouched"), 0644))
	seedSnapshot(t, lay, "intact", time.Now().Unix())

	require.NoError(t, r.ReconcileOnStartup(context.Background()))

	data, err := os.ReadFile(canary)
	require.NoError(t, err)
	assert.Equal(t, "untouched", string(data))
}

func TestReconcileSkipsLocalRepos(t *testing.T) {
	r, lay, store, _, _, _ := newTestRefresher(t)

	master := lay.MasterPath("scratch")
	require.NoError(t, store.CreateRepository(&types.Repository{Name: "scratch", RepoURL: master}))
	seedSnapshot(t, lay, "scratch", time.Now().Unix())

	require.NoError(t, r.ReconcileOnStartup(context.Background()))

	assert.NoDirExists(t, master, "writer-backed repositories are never restored automatically")
	assert.FileExists(t, lay.ReconciliationMarker())
}

func TestReconcileWithoutSnapshots(t *testing.T) {
	r, lay, store, _, _, _ := newTestRefresher(t)

	require.NoError(t, store.CreateRepository(&types.Repository{
		Name:    "empty",
		RepoURL: "https://example.com/empty.git",
	}))

	require.NoError(t, r.ReconcileOnStartup(context.Background()))

	assert.NoDirExists(t, lay.MasterPath("empty"))
	assert.FileExists(t, lay.ReconciliationMarker())
}
