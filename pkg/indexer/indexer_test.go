package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quarrylabs/quarry/pkg/layout"
	"github.com/quarrylabs/quarry/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
	os.Exit(m.Run())
}

func TestEvidenceDetection(t *testing.T) {
	dir := t.TempDir()

	assert.False(t, Initialized(dir))
	assert.False(t, HasSemanticIndex(dir))
	assert.False(t, HasFTSIndex(dir))
	assert.False(t, HasTemporalIndex(dir))
	assert.False(t, HasScipIndex(dir))

	idx := filepath.Join(dir, layout.IndexDir)
	require.NoError(t, os.MkdirAll(filepath.Join(idx, "index"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(idx, "fts"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(idx, "index.scip"), []byte("scip"), 0644))

	assert.True(t, Initialized(dir))
	assert.True(t, HasSemanticIndex(dir))
	assert.True(t, HasFTSIndex(dir))
	assert.False(t, HasTemporalIndex(dir))
	assert.True(t, HasScipIndex(dir))
}

func TestRunTimeout(t *testing.T) {
	// Use /bin/sleep as the "indexer" to exercise timeout enforcement.
	if _, err := os.Stat("/bin/sleep"); err != nil {
		t.Skip("/bin/sleep not available")
	}

	ix := New("/bin/sleep", 50*time.Millisecond, time.Minute, time.Minute)
	err := ix.run(context.Background(), t.TempDir(), 50*time.Millisecond, "5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestRunCommandFailure(t *testing.T) {
	if _, err := os.Stat("/bin/false"); err != nil {
		t.Skip("/bin/false not available")
	}

	ix := New("/bin/false", time.Minute, time.Minute, time.Minute)
	err := ix.BuildSemantic(context.Background(), t.TempDir())
	assert.Error(t, err)
}
