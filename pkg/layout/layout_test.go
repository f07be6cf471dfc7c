package layout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaths(t *testing.T) {
	l := New("/srv/golden")

	assert.Equal(t, "/srv/golden/myrepo", l.MasterPath("myrepo"))
	assert.Equal(t, "/srv/golden/.versioned/myrepo", l.VersionedRoot("myrepo"))
	assert.Equal(t, "/srv/golden/.versioned/myrepo/v_1700000000", l.VersionPath("myrepo", 1700000000))
	assert.Equal(t, "/srv/golden/aliases", l.AliasesDir())
	assert.Equal(t, "/srv/golden/.locks", l.LocksDir())
	assert.Equal(t, "/srv/golden/.write_mode", l.WriteModeDir())
	assert.Equal(t, "/srv/golden/.reconciliation_complete_v1", l.ReconciliationMarker())
}

func TestIsVersionedPath(t *testing.T) {
	l := New("/srv/golden")

	assert.True(t, l.IsVersionedPath("/srv/golden/.versioned/myrepo/v_1700000000"))
	assert.True(t, l.IsVersionedPath("/srv/golden/.versioned/myrepo/v_1700000000/"))
	// Masters must never be treated as retirable snapshots.
	assert.False(t, l.IsVersionedPath("/srv/golden/myrepo"))
	assert.False(t, l.IsVersionedPath("/elsewhere/.versioned/myrepo/v_1"))
	assert.False(t, l.IsVersionedPath("/srv/golden"))
}

func TestParseVersionTimestamp(t *testing.T) {
	ts, ok := ParseVersionTimestamp("v_1700000000")
	require.True(t, ok)
	assert.Equal(t, int64(1700000000), ts)

	for _, bad := range []string{"1700000000", "v_", "v_abc", "v_-5", "snapshot"} {
		_, ok := ParseVersionTimestamp(bad)
		assert.False(t, ok, bad)
	}
}

func TestLatestVersion(t *testing.T) {
	root := t.TempDir()
	l := New(root)

	// No snapshots at all.
	path, ts, err := l.LatestVersion("myrepo")
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Zero(t, ts)

	vdir := l.VersionedRoot("myrepo")
	for _, name := range []string{"v_100", "v_300", "v_200", "not_a_version"} {
		require.NoError(t, os.MkdirAll(filepath.Join(vdir, name), 0755))
	}

	path, ts, err = l.LatestVersion("myrepo")
	require.NoError(t, err)
	assert.Equal(t, l.VersionPath("myrepo", 300), path)
	assert.Equal(t, int64(300), ts)

	versions, err := l.Versions("myrepo")
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 200, 300}, versions)
}

func TestEnsureDirs(t *testing.T) {
	root := filepath.Join(t.TempDir(), "golden")
	l := New(root)
	require.NoError(t, l.EnsureDirs())

	for _, dir := range []string{l.AliasesDir(), l.LocksDir(), l.WriteModeDir(), l.VersionedRoot("")} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}
}
