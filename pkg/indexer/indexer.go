package indexer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quarrylabs/quarry/pkg/layout"
	"github.com/quarrylabs/quarry/pkg/log"
)

// Evidence locations under the index directory, used to reconcile registry
// flags with what is actually on disk.
const (
	semanticEvidence = "index"
	ftsEvidence      = "fts"
	temporalEvidence = "commits"
	scipEvidence     = "index.scip"
)

// Indexer invokes the external indexing CLI in a repository's directory.
// The CLI itself is an external contract; this package only guarantees
// invocation order, working directory and timeout enforcement.
type Indexer struct {
	bin    string
	logger zerolog.Logger

	indexTimeout     time.Duration
	scipTimeout      time.Duration
	fixConfigTimeout time.Duration
}

// New creates an indexer invoking the given binary.
func New(bin string, indexTimeout, scipTimeout, fixConfigTimeout time.Duration) *Indexer {
	if bin == "" {
		bin = "cidx"
	}
	return &Indexer{
		bin:              bin,
		logger:           log.WithComponent("indexer"),
		indexTimeout:     indexTimeout,
		scipTimeout:      scipTimeout,
		fixConfigTimeout: fixConfigTimeout,
	}
}

func (ix *Indexer) run(ctx context.Context, dir string, timeout time.Duration, args ...string) error {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, ix.bin, args...)
	cmd.Dir = dir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%s %s timed out after %s", ix.bin, strings.Join(args, " "), timeout)
		}
		return fmt.Errorf("%s %s failed: %w: %s", ix.bin, strings.Join(args, " "), err, strings.TrimSpace(output.String()))
	}
	return nil
}

// BuildSemantic builds the semantic (embedding) index in place.
func (ix *Indexer) BuildSemantic(ctx context.Context, dir string) error {
	return ix.run(ctx, dir, ix.indexTimeout, "index")
}

// BuildFTS builds the full-text index in place.
func (ix *Indexer) BuildFTS(ctx context.Context, dir string) error {
	return ix.run(ctx, dir, ix.indexTimeout, "index", "--fts")
}

// BuildTemporal builds the commit-history index in place.
func (ix *Indexer) BuildTemporal(ctx context.Context, dir string) error {
	return ix.run(ctx, dir, ix.indexTimeout, "index", "--index-commits")
}

// GenerateScip builds the SCIP code-intelligence index in place.
func (ix *Indexer) GenerateScip(ctx context.Context, dir string) error {
	return ix.run(ctx, dir, ix.scipTimeout, "scip", "generate")
}

// FixConfig rewrites embedded path literals in the index metadata after a
// directory has been cloned or restored to a new location.
func (ix *Indexer) FixConfig(ctx context.Context, dir string) error {
	return ix.run(ctx, dir, ix.fixConfigTimeout, "fix-config", "--force")
}

// Initialized reports whether a repository's index config directory exists.
// Local writer-backed repositories are skipped until their writer creates it.
func Initialized(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, layout.IndexDir))
	return err == nil && info.IsDir()
}

// HasSemanticIndex reports on-disk evidence of a semantic index.
func HasSemanticIndex(dir string) bool {
	return exists(filepath.Join(dir, layout.IndexDir, semanticEvidence))
}

// HasFTSIndex reports on-disk evidence of a full-text index.
func HasFTSIndex(dir string) bool {
	return exists(filepath.Join(dir, layout.IndexDir, ftsEvidence))
}

// HasTemporalIndex reports on-disk evidence of a commit-history index.
func HasTemporalIndex(dir string) bool {
	return exists(filepath.Join(dir, layout.IndexDir, temporalEvidence))
}

// HasScipIndex reports on-disk evidence of a SCIP index.
func HasScipIndex(dir string) bool {
	return exists(filepath.Join(dir, layout.IndexDir, scipEvidence))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
