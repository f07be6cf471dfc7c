package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/quarrylabs/quarry/pkg/alias"
	"github.com/quarrylabs/quarry/pkg/cleanup"
	"github.com/quarrylabs/quarry/pkg/config"
	"github.com/quarrylabs/quarry/pkg/events"
	"github.com/quarrylabs/quarry/pkg/gitcmd"
	"github.com/quarrylabs/quarry/pkg/indexer"
	"github.com/quarrylabs/quarry/pkg/jobs"
	"github.com/quarrylabs/quarry/pkg/layout"
	"github.com/quarrylabs/quarry/pkg/lockfile"
	"github.com/quarrylabs/quarry/pkg/log"
	"github.com/quarrylabs/quarry/pkg/metrics"
	"github.com/quarrylabs/quarry/pkg/refresher"
	"github.com/quarrylabs/quarry/pkg/search"
	"github.com/quarrylabs/quarry/pkg/snapshot"
	"github.com/quarrylabs/quarry/pkg/storage"
	"github.com/quarrylabs/quarry/pkg/tracker"
	"github.com/quarrylabs/quarry/pkg/types"
)

// Manager composes the full golden-repository lifecycle: registry, aliases,
// write locks, query tracking, cleanup, the refresh scheduler, the job
// executor and cross-repository search. It is the single surface upstream
// collaborators (MCP tools, HTTP handlers) talk to.
type Manager struct {
	cfg     *config.Config
	lay     layout.Layout
	store   storage.Store
	aliases *alias.Manager
	locks   *lockfile.Manager
	refs    *tracker.Tracker
	cleaner *cleanup.Manager
	git     *gitcmd.Git
	refresh *refresher.Refresher
	search  *search.Orchestrator
	jobs    *jobs.Manager
	broker  *events.Broker
	logger  zerolog.Logger
}

// New builds the full component graph from configuration. Nothing runs until
// Start.
func New(cfg *config.Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	lay := layout.New(cfg.Root)
	if err := lay.EnsureDirs(); err != nil {
		return nil, err
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	aliases, err := alias.NewManager(lay.AliasesDir())
	if err != nil {
		store.Close()
		return nil, err
	}
	locks, err := lockfile.NewManager(lay.LocksDir())
	if err != nil {
		store.Close()
		return nil, err
	}

	refs := tracker.New()
	broker := events.NewBroker()
	cleaner := cleanup.NewManager(refs, broker, cfg.Cleanup)

	git := gitcmd.New(cfg.GitBin, time.Duration(cfg.GitCommandTimeout)*time.Second)
	ix := indexer.New(cfg.IndexerBin,
		time.Duration(cfg.CidxIndexTimeout)*time.Second,
		time.Duration(cfg.CidxScipGenerateTimeout)*time.Second,
		time.Duration(cfg.CidxFixConfigTimeout)*time.Second)
	cloner := snapshot.NewCloner(cfg.CopyBin, git, ix,
		time.Duration(cfg.CowCloneTimeout)*time.Second,
		time.Duration(cfg.GitUpdateIndexTimeout)*time.Second,
		time.Duration(cfg.GitRestoreTimeout)*time.Second)

	refresh := refresher.New(store, aliases, locks, cleaner, git, ix, cloner, broker, lay, cfg)

	searcher := search.NewExecSearcher(cfg.IndexerBin, cfg.MultiSearchTimeout())
	orchestrator := search.New(aliases, refs, searcher, cfg)

	jobMgr := jobs.NewManager(store, broker, refresh.RefreshRepo, cfg.JobWorkers)

	return &Manager{
		cfg:     cfg,
		lay:     lay,
		store:   store,
		aliases: aliases,
		locks:   locks,
		refs:    refs,
		cleaner: cleaner,
		git:     git,
		refresh: refresh,
		search:  orchestrator,
		jobs:    jobMgr,
		broker:  broker,
		logger:  log.WithComponent("lifecycle"),
	}, nil
}

// Start brings the system up: recovery passes first, then the background
// loops. Safe to call once per Manager.
func (m *Manager) Start(ctx context.Context) error {
	m.broker.Start()

	// No interactive session survives a restart; clear all markers before
	// the scheduler can trip over their locks.
	m.refresh.EvictStaleMarkers(true)

	if err := m.refresh.ReconcileOnStartup(ctx); err != nil {
		return fmt.Errorf("startup reconciliation failed: %w", err)
	}

	m.cleaner.Start()
	m.refresh.Start()
	m.jobs.Start()

	m.logger.Info().Str("root", m.cfg.Root).Msg("lifecycle manager started")
	return nil
}

// Stop shuts the background loops down in reverse order and closes the
// store. In-progress refreshes run to completion.
func (m *Manager) Stop() {
	m.jobs.Stop()
	m.refresh.Stop()
	m.cleaner.Stop()
	m.broker.Stop()

	if err := m.store.Close(); err != nil {
		m.logger.Warn().Err(err).Msg("failed to close store")
	}
	m.logger.Info().Msg("lifecycle manager stopped")
}

// TriggerRefresh queues an out-of-schedule refresh for a repository and
// returns the job ID. The name may be a global alias or a bare repository
// name.
func (m *Manager) TriggerRefresh(name, username string) (string, error) {
	repoName := types.RepoNameFromAlias(name)
	if _, err := m.store.GetRepository(repoName); err != nil {
		return "", err
	}
	return m.jobs.Trigger(repoName, username)
}

// AcquireWriteLock takes the master write lock on behalf of an external
// writer. Returns false when another live owner holds it.
func (m *Manager) AcquireWriteLock(name, owner string) (bool, error) {
	repoName := types.RepoNameFromAlias(name)
	ok, err := m.locks.Acquire(repoName, owner, m.cfg.DefaultLockTTL())
	if err != nil || !ok {
		return ok, err
	}
	m.publish(events.EventLockAcquired, repoName, owner)
	return true, nil
}

// ReleaseWriteLock releases the master write lock if the owner matches.
func (m *Manager) ReleaseWriteLock(name, owner string) (bool, error) {
	repoName := types.RepoNameFromAlias(name)
	ok, err := m.locks.Release(repoName, owner)
	if err != nil || !ok {
		return ok, err
	}
	m.publish(events.EventLockReleased, repoName, owner)
	return true, nil
}

// ScheduleCleanup queues a snapshot directory for deletion. Only paths under
// the versioned area qualify; masters are never retired this way.
func (m *Manager) ScheduleCleanup(path string) error {
	if !m.lay.IsVersionedPath(path) {
		return fmt.Errorf("refusing to schedule cleanup outside the versioned area: %s", path)
	}
	m.cleaner.Schedule(path)
	return nil
}

// IncrementRef registers an in-flight reader on a snapshot path.
func (m *Manager) IncrementRef(path string) {
	m.refs.Increment(path)
}

// DecrementRef releases an in-flight reader on a snapshot path.
func (m *Manager) DecrementRef(path string) {
	m.refs.Decrement(path)
}

// ReadAlias returns the alias record for a global alias name.
func (m *Manager) ReadAlias(name string) (*types.AliasRecord, error) {
	return m.aliases.Read(name)
}

// Search runs one cross-repository search request.
func (m *Manager) Search(ctx context.Context, req *search.Request) (*search.Response, error) {
	return m.search.Search(ctx, req)
}

// Jobs exposes the job manager for dashboard queries.
func (m *Manager) Jobs() *jobs.Manager {
	return m.jobs
}

// Events exposes the broker for subscribers.
func (m *Manager) Events() *events.Broker {
	return m.broker
}

// RegisterRepository adds a repository to the registry, provisions its master
// (cloning remote URLs) and publishes the initial alias pointing at the
// master. The first refresh replaces that target with a snapshot.
func (m *Manager) RegisterRepository(ctx context.Context, repo *types.Repository) error {
	if repo.Name == "" {
		return fmt.Errorf("repository name must not be empty")
	}
	if repo.RepoURL == "" {
		return fmt.Errorf("repository url must not be empty")
	}
	if _, err := m.store.GetRepository(repo.Name); err == nil {
		return fmt.Errorf("repository %s is already registered", repo.Name)
	}

	master := m.lay.MasterPath(repo.Name)
	if gitcmd.IsRemoteURL(repo.RepoURL) {
		if _, err := os.Stat(master); os.IsNotExist(err) {
			if err := m.git.Clone(ctx, repo.RepoURL, master); err != nil {
				return fmt.Errorf("failed to clone %s: %w", repo.RepoURL, err)
			}
		}
	} else if err := os.MkdirAll(master, 0755); err != nil {
		return fmt.Errorf("failed to create master directory: %w", err)
	}

	repo.CreatedAt = time.Now().UTC()
	if err := m.store.CreateRepository(repo); err != nil {
		return err
	}

	aliasName := types.GlobalAlias(repo.Name)
	if err := m.aliases.Create(aliasName, master, repo.Name); err != nil {
		return fmt.Errorf("failed to create alias %s: %w", aliasName, err)
	}

	m.publish(events.EventRepoRegistered, repo.Name, repo.RepoURL)
	m.logger.Info().Str("repo", repo.Name).Str("url", repo.RepoURL).Msg("repository registered")
	return nil
}

// RemoveRepository deletes a repository's registry record and alias, removes
// its master and schedules every snapshot for deletion. Snapshots with live
// readers are retired once their refs drain.
func (m *Manager) RemoveRepository(name string) error {
	repoName := types.RepoNameFromAlias(name)
	if _, err := m.store.GetRepository(repoName); err != nil {
		return err
	}

	if err := m.aliases.Delete(types.GlobalAlias(repoName)); err != nil {
		m.logger.Warn().Err(err).Str("repo", repoName).Msg("failed to delete alias")
	}

	versions, err := m.lay.Versions(repoName)
	if err != nil {
		return err
	}
	for _, ts := range versions {
		m.cleaner.Schedule(m.lay.VersionPath(repoName, ts))
	}

	if err := os.RemoveAll(m.lay.MasterPath(repoName)); err != nil {
		return fmt.Errorf("failed to remove master for %s: %w", repoName, err)
	}

	if err := m.store.DeleteRepository(repoName); err != nil {
		return err
	}

	m.publish(events.EventRepoRemoved, repoName, "")
	m.logger.Info().Str("repo", repoName).Msg("repository removed")
	return nil
}

// MetricsHandler exposes the Prometheus scrape endpoint.
func (m *Manager) MetricsHandler() http.Handler {
	return metrics.Handler()
}

func (m *Manager) publish(t events.EventType, repo, msg string) {
	m.broker.Publish(&events.Event{Type: t, Repo: repo, Message: msg})
}
