package gitcmd

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/quarrylabs/quarry/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
	os.Exit(m.Run())
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

// runGit runs a raw git command for test setup, with identity config inlined
// so commits work on hosts without a global gitconfig.
func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	full := append([]string{
		"-c", "user.name=test",
		"-c", "user.email=test@example.com",
		"-c", "init.defaultBranch=main",
	}, args...)
	cmd := exec.Command("git", full...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return string(out)
}

// newUpstreamAndClone creates an upstream repo with one commit and a clone
// tracking it, returning both paths.
func newUpstreamAndClone(t *testing.T) (string, string) {
	t.Helper()
	base := t.TempDir()
	upstream := filepath.Join(base, "upstream")
	clone := filepath.Join(base, "clone")

	require.NoError(t, os.MkdirAll(upstream, 0755))
	runGit(t, upstream, "init")
	require.NoError(t, os.WriteFile(filepath.Join(upstream, "README.md"), []byte("v1\n"), 0644))
	runGit(t, upstream, "add", ".")
	runGit(t, upstream, "commit", "-m", "initial")

	runGit(t, base, "clone", upstream, clone)
	return upstream, clone
}

func TestHasLocalModifications(t *testing.T) {
	requireGit(t)
	_, clone := newUpstreamAndClone(t)
	g := New("git", time.Minute)
	ctx := context.Background()

	dirty, err := g.HasLocalModifications(ctx, clone)
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, os.WriteFile(filepath.Join(clone, "README.md"), []byte("touched\n"), 0644))

	dirty, err = g.HasLocalModifications(ctx, clone)
	require.NoError(t, err)
	assert.True(t, dirty)
}

func TestCurrentBranch(t *testing.T) {
	requireGit(t)
	_, clone := newUpstreamAndClone(t)
	g := New("git", time.Minute)

	assert.Equal(t, "main", g.CurrentBranch(context.Background(), clone))

	// Outside a repository the detection fails and defaults to main.
	assert.Equal(t, "main", g.CurrentBranch(context.Background(), t.TempDir()))
}

func TestHasUpstreamChanges(t *testing.T) {
	requireGit(t)
	upstream, clone := newUpstreamAndClone(t)
	g := New("git", time.Minute)
	ctx := context.Background()

	changed, err := g.HasUpstreamChanges(ctx, clone)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, os.WriteFile(filepath.Join(upstream, "new.txt"), []byte("v2\n"), 0644))
	runGit(t, upstream, "add", ".")
	runGit(t, upstream, "commit", "-m", "second")

	changed, err = g.HasUpstreamChanges(ctx, clone)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestPullFastForward(t *testing.T) {
	requireGit(t)
	upstream, clone := newUpstreamAndClone(t)
	g := New("git", time.Minute)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(upstream, "new.txt"), []byte("v2\n"), 0644))
	runGit(t, upstream, "add", ".")
	runGit(t, upstream, "commit", "-m", "second")

	require.NoError(t, g.Pull(ctx, clone))

	_, err := os.Stat(filepath.Join(clone, "new.txt"))
	assert.NoError(t, err)
}

func TestPullResetsDirtyWorktree(t *testing.T) {
	requireGit(t)
	upstream, clone := newUpstreamAndClone(t)
	g := New("git", time.Minute)
	ctx := context.Background()

	// A previous build touched a tracked file.
	require.NoError(t, os.WriteFile(filepath.Join(clone, "README.md"), []byte("scribbled\n"), 0644))

	require.NoError(t, os.WriteFile(filepath.Join(upstream, "new.txt"), []byte("v2\n"), 0644))
	runGit(t, upstream, "add", ".")
	runGit(t, upstream, "commit", "-m", "second")

	require.NoError(t, g.Pull(ctx, clone))

	data, err := os.ReadFile(filepath.Join(clone, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "v1\n", string(data))
}

func TestPullRecoversFromDivergence(t *testing.T) {
	requireGit(t)
	upstream, clone := newUpstreamAndClone(t)
	g := New("git", time.Minute)
	ctx := context.Background()

	// Upstream history is rewritten past the clone's HEAD.
	runGit(t, upstream, "commit", "--amend", "-m", "rewritten")
	require.NoError(t, os.WriteFile(filepath.Join(upstream, "after.txt"), []byte("v2\n"), 0644))
	runGit(t, upstream, "add", ".")
	runGit(t, upstream, "commit", "-m", "post-rewrite")

	// The clone commits independently, so pull sees divergent branches.
	require.NoError(t, os.WriteFile(filepath.Join(clone, "local.txt"), []byte("local\n"), 0644))
	runGit(t, clone, "add", ".")
	runGit(t, clone, "commit", "-m", "local work")

	require.NoError(t, g.Pull(ctx, clone))

	// Recovery hard-reset the clone onto origin/main.
	_, err := os.Stat(filepath.Join(clone, "after.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(clone, "local.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestForceReset(t *testing.T) {
	requireGit(t)
	upstream, clone := newUpstreamAndClone(t)
	g := New("git", time.Minute)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(upstream, "new.txt"), []byte("v2\n"), 0644))
	runGit(t, upstream, "add", ".")
	runGit(t, upstream, "commit", "-m", "second")

	require.NoError(t, g.ForceReset(ctx, clone))

	_, err := os.Stat(filepath.Join(clone, "new.txt"))
	assert.NoError(t, err)
}

func TestUpdateIndexAndRestore(t *testing.T) {
	requireGit(t)
	_, clone := newUpstreamAndClone(t)
	g := New("git", time.Minute)
	ctx := context.Background()

	assert.NoError(t, g.UpdateIndexRefresh(ctx, clone, time.Minute))
	assert.NoError(t, g.RestoreWorktree(ctx, clone, time.Minute))
}
