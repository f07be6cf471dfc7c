package gitcmd

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quarrylabs/quarry/pkg/log"
)

// Git shells out to the git binary for every repository operation. Each call
// carries its own timeout; nothing here holds locks across an invocation.
type Git struct {
	bin     string
	timeout time.Duration
	logger  zerolog.Logger
}

// New creates a Git runner with a default per-command timeout.
func New(bin string, timeout time.Duration) *Git {
	if bin == "" {
		bin = "git"
	}
	return &Git{
		bin:     bin,
		timeout: timeout,
		logger:  log.WithComponent("gitcmd"),
	}
}

// CmdError carries enough of a failed invocation for classification.
type CmdError struct {
	Args     []string
	Stderr   string
	Stdout   string
	ExitErr  error
	TimedOut bool
}

func (e *CmdError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("git %s timed out", strings.Join(e.Args, " "))
	}
	return fmt.Sprintf("git %s failed: %v: %s", strings.Join(e.Args, " "), e.ExitErr, strings.TrimSpace(e.Stderr))
}

func (e *CmdError) Unwrap() error {
	return e.ExitErr
}

// run executes git with the given timeout, returning stdout.
func (g *Git) run(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error) {
	if timeout <= 0 {
		timeout = g.timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, g.bin, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return stdout.String(), &CmdError{
			Args:     args,
			Stderr:   stderr.String(),
			Stdout:   stdout.String(),
			ExitErr:  err,
			TimedOut: runCtx.Err() == context.DeadlineExceeded,
		}
	}
	return stdout.String(), nil
}

// HasLocalModifications reports whether tracked files have been touched.
func (g *Git) HasLocalModifications(ctx context.Context, dir string) (bool, error) {
	out, err := g.run(ctx, dir, 0, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// ResetHardHead discards all local modifications.
func (g *Git) ResetHardHead(ctx context.Context, dir string) error {
	_, err := g.run(ctx, dir, 0, "reset", "--hard", "HEAD")
	return err
}

// CurrentBranch returns the checked-out branch, defaulting to "main" on any
// failure (detached HEAD, fresh clone, broken ref).
func (g *Git) CurrentBranch(ctx context.Context, dir string) string {
	out, err := g.run(ctx, dir, 0, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "main"
	}
	branch := strings.TrimSpace(out)
	if branch == "" || branch == "HEAD" {
		return "main"
	}
	return branch
}

// FetchOrigin updates remote-tracking refs.
func (g *Git) FetchOrigin(ctx context.Context, dir string) error {
	_, err := g.run(ctx, dir, 0, "fetch", "origin")
	return err
}

// HasUpstreamChanges fetches and reports whether upstream has commits HEAD
// lacks.
func (g *Git) HasUpstreamChanges(ctx context.Context, dir string) (bool, error) {
	if err := g.FetchOrigin(ctx, dir); err != nil {
		return false, err
	}
	out, err := g.run(ctx, dir, 0, "log", "--oneline", "HEAD..@{upstream}")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// Pull runs a plain git pull with auto-recovery:
//   - local modifications are hard-reset away first (an earlier build or an
//     external process may have touched tracked files);
//   - a divergent-branch failure is recovered with fetch + hard reset onto
//     the detected upstream branch;
//   - every other failure propagates.
func (g *Git) Pull(ctx context.Context, dir string) error {
	dirty, err := g.HasLocalModifications(ctx, dir)
	if err != nil {
		return err
	}
	if dirty {
		g.logger.Warn().Str("dir", dir).Msg("master has local modifications; resetting before pull")
		if err := g.ResetHardHead(ctx, dir); err != nil {
			return err
		}
	}

	_, err = g.run(ctx, dir, 0, "pull")
	if err == nil {
		return nil
	}

	if IsDivergent(err) {
		g.logger.Warn().Str("dir", dir).Msg("divergent branches detected; recovering with fetch and hard reset")
		return g.ForceReset(ctx, dir)
	}
	return err
}

// ForceReset skips the pull entirely: fetch, then hard reset onto the
// upstream of the detected branch.
func (g *Git) ForceReset(ctx context.Context, dir string) error {
	branch := g.CurrentBranch(ctx, dir)
	if err := g.FetchOrigin(ctx, dir); err != nil {
		return err
	}
	_, err := g.run(ctx, dir, 0, "reset", "--hard", "origin/"+branch)
	return err
}

// Clone clones a remote URL into dest. Runs once, at registration.
func (g *Git) Clone(ctx context.Context, url, dest string) error {
	_, err := g.run(ctx, "", 0, "clone", url, dest)
	return err
}

// UpdateIndexRefresh refreshes the stat cache after a clone. Callers treat
// failure as non-fatal.
func (g *Git) UpdateIndexRefresh(ctx context.Context, dir string, timeout time.Duration) error {
	_, err := g.run(ctx, dir, timeout, "update-index", "--refresh")
	return err
}

// RestoreWorktree restores tracked files, normalising timestamps after a
// clone. Callers treat failure as non-fatal.
func (g *Git) RestoreWorktree(ctx context.Context, dir string, timeout time.Duration) error {
	_, err := g.run(ctx, dir, timeout, "restore", ".")
	return err
}
