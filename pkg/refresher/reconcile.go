package refresher

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/quarrylabs/quarry/pkg/gitcmd"
	"github.com/quarrylabs/quarry/pkg/types"
)

// ReconcileOnStartup restores missing masters from their latest snapshots.
// It runs exactly once per server install, gated by a marker file; per-repo
// failures are logged and skipped, and the marker is written regardless so
// the pass is never re-attempted.
func (r *Refresher) ReconcileOnStartup(ctx context.Context) error {
	marker := r.lay.ReconciliationMarker()
	if _, err := os.Stat(marker); err == nil {
		return nil
	}

	repos, err := r.store.ListRepositories()
	if err != nil {
		return fmt.Errorf("reconciliation cannot enumerate repositories: %w", err)
	}

	for _, repo := range repos {
		if !gitcmd.IsRemoteURL(repo.RepoURL) {
			continue
		}
		if err := r.restoreMaster(ctx, repo.Name); err != nil {
			r.logger.Error().Err(err).Str("repo", repo.Name).Msg("startup reconciliation failed for repository")
		}
	}

	content := fmt.Sprintf("completed_at: %s\n", time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(marker, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write reconciliation marker: %w", err)
	}
	return nil
}

// restoreMaster reverse-clones the newest snapshot back into the master
// location, under the reconciliation lock so a concurrent refresh cannot
// snapshot a half-restored master.
func (r *Refresher) restoreMaster(ctx context.Context, name string) error {
	master := r.lay.MasterPath(name)
	if _, err := os.Stat(master); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	latest, _, err := r.lay.LatestVersion(name)
	if err != nil {
		return err
	}
	if latest == "" {
		r.logger.Warn().Str("repo", name).Msg("master missing and no snapshot to restore from")
		return nil
	}

	ok, err := r.locks.Acquire(name, types.ReconciliationOwner, r.cfg.DefaultLockTTL())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("could not take write lock for reconciliation of %s", name)
	}
	defer func() {
		if _, err := r.locks.Release(name, types.ReconciliationOwner); err != nil {
			r.logger.Warn().Err(err).Str("repo", name).Msg("failed to release reconciliation lock")
		}
	}()

	r.logger.Info().Str("repo", name).Str("snapshot", latest).Msg("restoring missing master from snapshot")
	return r.cloner.ReverseClone(ctx, latest, master)
}
