package snapshot

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

	"github.com/quarrylabs/quarry/pkg/gitcmd"
	"github.com/quarrylabs/quarry/pkg/indexer"
	"github.com/quarrylabs/quarry/pkg/layout"
	"github.com/quarrylabs/quarry/pkg/log"
)

// Cloner produces versioned snapshots from masters via copy-on-write cloning,
// and restores masters from snapshots during reconciliation. On filesystems
// without reflink support cp falls back to a full copy; the contract is an
// independent tree with identical contents either way.
type Cloner struct {
	copyBin string
	git     *gitcmd.Git
	ix      *indexer.Indexer
	logger  zerolog.Logger

	cloneTimeout       time.Duration
	updateIndexTimeout time.Duration
	restoreTimeout     time.Duration
}

// NewCloner creates a cloner using the given copy binary and helpers.
func NewCloner(copyBin string, git *gitcmd.Git, ix *indexer.Indexer,
	cloneTimeout, updateIndexTimeout, restoreTimeout time.Duration) *Cloner {
	if copyBin == "" {
		copyBin = "cp"
	}
	return &Cloner{
		copyBin:            copyBin,
		git:                git,
		ix:                 ix,
		logger:             log.WithComponent("snapshot"),
		cloneTimeout:       cloneTimeout,
		updateIndexTimeout: updateIndexTimeout,
		restoreTimeout:     restoreTimeout,
	}
}

// Clone snapshots a master into dest. Timestamps are normalised and the
// index metadata rewritten for the new location; the clone is validated
// before return. Any failure after the copy removes the partial clone.
func (c *Cloner) Clone(ctx context.Context, master, dest string) error {
	if err := c.reflinkCopy(ctx, master, dest); err != nil {
		return err
	}

	if err := c.finishClone(ctx, dest); err != nil {
		c.logger.Error().Err(err).Str("dest", dest).Msg("snapshot build failed; removing partial clone")
		if rmErr := os.RemoveAll(dest); rmErr != nil {
			c.logger.Error().Err(rmErr).Str("dest", dest).Msg("failed to remove partial clone")
		}
		return err
	}
	return nil
}

// ReverseClone restores a missing master from its latest snapshot. Only the
// reconciliation path may clone in this direction.
func (c *Cloner) ReverseClone(ctx context.Context, snapshot, master string) error {
	if err := c.reflinkCopy(ctx, snapshot, master); err != nil {
		return err
	}

	if err := c.ix.FixConfig(ctx, master); err != nil {
		c.logger.Error().Err(err).Str("master", master).Msg("restored master config rewrite failed; removing partial restore")
		if rmErr := os.RemoveAll(master); rmErr != nil {
			c.logger.Error().Err(rmErr).Str("master", master).Msg("failed to remove partial restore")
		}
		return err
	}

	if !indexer.Initialized(master) {
		c.logger.Warn().Str("master", master).Msg("restored master has no index directory")
	}
	return nil
}

func (c *Cloner) finishClone(ctx context.Context, dest string) error {
	// Timestamp normalisation is best-effort; a noisy stat cache must not
	// abort a build.
	if err := c.git.UpdateIndexRefresh(ctx, dest, c.updateIndexTimeout); err != nil {
		c.logger.Warn().Err(err).Str("dest", dest).Msg("git update-index on clone failed")
	}
	if err := c.git.RestoreWorktree(ctx, dest, c.restoreTimeout); err != nil {
		c.logger.Warn().Err(err).Str("dest", dest).Msg("git restore on clone failed")
	}

	// The index metadata embeds absolute paths of the master; rewriting them
	// for the clone is mandatory.
	if err := c.ix.FixConfig(ctx, dest); err != nil {
		return fmt.Errorf("config rewrite on clone failed: %w", err)
	}

	if !indexer.Initialized(dest) {
		return fmt.Errorf("clone %s is missing its %s directory", dest, layout.IndexDir)
	}
	return nil
}

// reflinkCopy runs cp --reflink=auto -a src dest with the clone timeout.
func (c *Cloner) reflinkCopy(ctx context.Context, src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot parent: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, c.cloneTimeout)
	defer cancel()

	args := []string{"--reflink=auto", "-a", src, dest}
	cmd := exec.CommandContext(runCtx, c.copyBin, args...)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		// A partial copy is useless; clear it before reporting.
		os.RemoveAll(dest)
		if runCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("copy %s -> %s timed out after %s", src, dest, c.cloneTimeout)
		}
		return fmt.Errorf("copy %s -> %s failed: %w: %s", src, dest, err, strings.TrimSpace(output.String()))
	}
	return nil
}
