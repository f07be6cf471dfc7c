package snapshot

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/quarrylabs/quarry/pkg/gitcmd"
	"github.com/quarrylabs/quarry/pkg/indexer"
	"github.com/quarrylabs/quarry/pkg/layout"
	"github.com/quarrylabs/quarry/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
	os.Exit(m.Run())
}

func requireBin(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s binary not available", name)
	}
}

// newMaster builds a fake master tree with source files and an index
// directory.
func newMaster(t *testing.T) string {
	t.Helper()
	master := filepath.Join(t.TempDir(), "myrepo")
	require.NoError(t, os.MkdirAll(filepath.Join(master, layout.IndexDir, "index"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(master, "src"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(master, "src", "main.go"), []byte("package main\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(master, layout.IndexDir, "config.json"), []byte("{}"), 0644))
	return master
}

// trueCloner uses `true` as the indexer binary, so fix-config always
// succeeds without touching anything.
func trueCloner(t *testing.T) *Cloner {
	t.Helper()
	requireBin(t, "cp")
	requireBin(t, "true")
	g := gitcmd.New("git", time.Minute)
	ix := indexer.New("true", time.Minute, time.Minute, time.Minute)
	return NewCloner("cp", g, ix, time.Minute, time.Minute, time.Minute)
}

func TestCloneProducesIndependentTree(t *testing.T) {
	c := trueCloner(t)
	master := newMaster(t)
	dest := filepath.Join(t.TempDir(), ".versioned", "myrepo", "v_1700000000")

	require.NoError(t, c.Clone(context.Background(), master, dest))

	data, err := os.ReadFile(filepath.Join(dest, "src", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(data))

	// Mutating the master must not affect the snapshot.
	require.NoError(t, os.WriteFile(filepath.Join(master, "src", "main.go"), []byte("changed\n"), 0644))
	data, err = os.ReadFile(filepath.Join(dest, "src", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(data))
}

func TestCloneFailsWithoutIndexDir(t *testing.T) {
	c := trueCloner(t)

	master := filepath.Join(t.TempDir(), "bare")
	require.NoError(t, os.MkdirAll(master, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(master, "file.txt"), []byte("x"), 0644))

	dest := filepath.Join(t.TempDir(), "v_1")
	err := c.Clone(context.Background(), master, dest)
	require.Error(t, err)

	// The partial clone was removed.
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCloneFixConfigFailureRemovesPartialClone(t *testing.T) {
	requireBin(t, "cp")
	requireBin(t, "false")
	g := gitcmd.New("git", time.Minute)
	ix := indexer.New("false", time.Minute, time.Minute, time.Minute)
	c := NewCloner("cp", g, ix, time.Minute, time.Minute, time.Minute)

	master := newMaster(t)
	dest := filepath.Join(t.TempDir(), "v_1")

	err := c.Clone(context.Background(), master, dest)
	require.Error(t, err)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCloneMissingMaster(t *testing.T) {
	c := trueCloner(t)
	err := c.Clone(context.Background(), filepath.Join(t.TempDir(), "ghost"), filepath.Join(t.TempDir(), "v_1"))
	assert.Error(t, err)
}

func TestReverseCloneRestoresMaster(t *testing.T) {
	c := trueCloner(t)
	snap := newMaster(t) // shaped like a snapshot: source tree plus index dir
	master := filepath.Join(t.TempDir(), "restored")

	require.NoError(t, c.ReverseClone(context.Background(), snap, master))

	_, err := os.Stat(filepath.Join(master, "src", "main.go"))
	assert.NoError(t, err)
	assert.True(t, indexer.Initialized(master))
}
