package refresher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quarrylabs/quarry/pkg/alias"
	"github.com/quarrylabs/quarry/pkg/cleanup"
	"github.com/quarrylabs/quarry/pkg/config"
	"github.com/quarrylabs/quarry/pkg/events"
	"github.com/quarrylabs/quarry/pkg/gitcmd"
	"github.com/quarrylabs/quarry/pkg/indexer"
	"github.com/quarrylabs/quarry/pkg/layout"
	"github.com/quarrylabs/quarry/pkg/lockfile"
	"github.com/quarrylabs/quarry/pkg/log"
	"github.com/quarrylabs/quarry/pkg/metrics"
	"github.com/quarrylabs/quarry/pkg/snapshot"
	"github.com/quarrylabs/quarry/pkg/storage"
	"github.com/quarrylabs/quarry/pkg/types"
)

// markerSweepInterval is how often the loop evicts stale write-mode markers,
// independently of the much longer refresh interval.
const markerSweepInterval = time.Minute

// Status classifies the outcome of one refresh cycle.
type Status string

const (
	// StatusChanged means a new snapshot was published.
	StatusChanged Status = "changed"
	// StatusNoChanges means the source was already up to date.
	StatusNoChanges Status = "no_changes"
	// StatusSkippedLocked means another writer holds the master's lock.
	StatusSkippedLocked Status = "skipped_locked"
	// StatusSkippedUninitialized means a local repo's writer has not set it
	// up yet.
	StatusSkippedUninitialized Status = "skipped_uninitialized"
)

// Result reports a successful (possibly skipped) refresh cycle. Failures are
// returned as errors instead, so the job manager can distinguish the two.
type Result struct {
	Status   Status
	Snapshot string // new snapshot path when Status == StatusChanged
	Message  string
}

// Refresher drives periodic refresh of every registered remote repository:
// pull, index in place, snapshot via copy-on-write, validate, swap the alias
// and retire the previous snapshot.
type Refresher struct {
	store   storage.Store
	aliases *alias.Manager
	locks   *lockfile.Manager
	cleaner *cleanup.Manager
	git     *gitcmd.Git
	ix      *indexer.Indexer
	cloner  *snapshot.Cloner
	broker  *events.Broker
	lay     layout.Layout
	cfg     *config.Config
	logger  zerolog.Logger

	// Per-repository serialization: a scheduled tick and an externally
	// triggered refresh must not collide on the same repository.
	mu        sync.Mutex
	repoLocks map[string]*sync.Mutex

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
}

// New wires a refresher from its collaborators.
func New(store storage.Store, aliases *alias.Manager, locks *lockfile.Manager,
	cleaner *cleanup.Manager, git *gitcmd.Git, ix *indexer.Indexer,
	cloner *snapshot.Cloner, broker *events.Broker, lay layout.Layout,
	cfg *config.Config) *Refresher {
	return &Refresher{
		store:     store,
		aliases:   aliases,
		locks:     locks,
		cleaner:   cleaner,
		git:       git,
		ix:        ix,
		cloner:    cloner,
		broker:    broker,
		lay:       lay,
		cfg:       cfg,
		logger:    log.WithComponent("refresher"),
		repoLocks: make(map[string]*sync.Mutex),
	}
}

// Start launches the scheduling loop. Idempotent.
func (r *Refresher) Start() {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	go r.run(r.stopCh)
}

// Stop signals the loop to exit; the current sleep returns immediately and
// in-progress refreshes run to completion. Idempotent.
func (r *Refresher) Stop() {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	if !r.running {
		return
	}
	r.running = false
	close(r.stopCh)
}

func (r *Refresher) run(stopCh chan struct{}) {
	refreshTicker := time.NewTicker(r.cfg.RefreshInterval())
	defer refreshTicker.Stop()
	markerTicker := time.NewTicker(markerSweepInterval)
	defer markerTicker.Stop()

	for {
		select {
		case <-refreshTicker.C:
			r.RefreshAll(context.Background())
		case <-markerTicker.C:
			r.EvictStaleMarkers(false)
		case <-stopCh:
			return
		}
	}
}

// RefreshAll submits a refresh for every registered remote-git repository.
// Local writer-backed repositories only refresh via explicit triggers.
func (r *Refresher) RefreshAll(ctx context.Context) {
	repos, err := r.store.ListRepositories()
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to enumerate repositories")
		return
	}

	var wg sync.WaitGroup
	for _, repo := range repos {
		if !gitcmd.IsRemoteURL(repo.RepoURL) {
			continue
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if _, err := r.RefreshRepo(ctx, name); err != nil {
				r.logger.Error().Err(err).Str("repo", name).Msg("scheduled refresh failed")
			}
		}(repo.Name)
	}
	wg.Wait()
}

// repoMutex returns the serialization mutex for a repository, creating it on
// first use.
func (r *Refresher) repoMutex(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	if mu, ok := r.repoLocks[name]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	r.repoLocks[name] = mu
	return mu
}

// RefreshRepo runs one full refresh cycle for a repository. Cycles for the
// same repository are strictly serialized; different repositories refresh in
// parallel. Lock contention and an unchanged source are reported as results,
// not errors.
func (r *Refresher) RefreshRepo(ctx context.Context, name string) (*Result, error) {
	mu := r.repoMutex(name)
	mu.Lock()
	defer mu.Unlock()

	timer := metrics.NewTimer()
	r.publish(events.EventRefreshStarted, name, "")

	res, err := r.refresh(ctx, name)
	timer.ObserveDuration(metrics.RefreshDuration)

	if err != nil {
		kind := failureKind(err)
		metrics.RefreshCyclesTotal.WithLabelValues("failed").Inc()
		r.logger.Error().Err(err).Str("repo", name).Str("kind", kind).Msg("refresh cycle failed")
		r.publishFailure(name, err.Error(), kind)
		return nil, err
	}

	metrics.RefreshCyclesTotal.WithLabelValues(string(res.Status)).Inc()
	switch res.Status {
	case StatusChanged:
		r.publish(events.EventRefreshCompleted, name, res.Snapshot)
	default:
		r.publish(events.EventRefreshSkipped, name, res.Message)
	}
	return res, nil
}

// refresh is the pipeline proper.
func (r *Refresher) refresh(ctx context.Context, name string) (*Result, error) {
	logger := r.logger.With().Str("repo", name).Logger()
	aliasName := types.GlobalAlias(name)
	master := r.lay.MasterPath(name)

	// Resolve the alias first: a repository without a record was never
	// registered properly and cannot be refreshed.
	rec, err := r.aliases.Read(aliasName)
	if err != nil {
		return nil, fmt.Errorf("cannot refresh %s: %w", name, err)
	}
	oldTarget := rec.TargetPath

	repo, err := r.store.GetRepository(name)
	if err != nil {
		return nil, err
	}

	// Registry flags can drift from what is actually on disk (a writer may
	// have built an index out of band). Sync before and after the refresh.
	r.reconcileFlags(repo, oldTarget)

	// Write-lock gate: an external writer owns the master right now. Skip
	// without waiting; the next cycle retries.
	locked, err := r.locks.IsLocked(name)
	if err != nil {
		return nil, err
	}
	if locked {
		logger.Info().Msg("master is write-locked; skipping refresh cycle")
		return &Result{Status: StatusSkippedLocked, Message: "write lock held by another writer"}, nil
	}

	isRemote := gitcmd.IsRemoteURL(repo.RepoURL)

	if isRemote {
		changed, err := r.git.HasUpstreamChanges(ctx, master)
		if err != nil {
			return nil, fmt.Errorf("change detection failed for %s: %w", name, err)
		}
		if !changed {
			r.touchLastRefresh(repo)
			return &Result{Status: StatusNoChanges, Message: "no new commits"}, nil
		}
		if err := r.git.Pull(ctx, master); err != nil {
			return nil, fmt.Errorf("pull failed for %s: %w", name, err)
		}
	} else {
		if !indexer.Initialized(master) {
			logger.Info().Msg("local repository not yet initialised; skipping")
			return &Result{Status: StatusSkippedUninitialized, Message: "repository not initialised"}, nil
		}
		changed, err := r.localChanges(name, master)
		if err != nil {
			return nil, fmt.Errorf("mtime change detection failed for %s: %w", name, err)
		}
		if !changed {
			r.touchLastRefresh(repo)
			return &Result{Status: StatusNoChanges, Message: "no file modifications since last snapshot"}, nil
		}
	}

	// Index in place on the master. Indexes live under the index
	// subdirectory, so a failure here leaves the master consistent; the
	// next cycle simply rebuilds.
	if err := r.buildIndexes(ctx, master, repo, isRemote); err != nil {
		return nil, fmt.Errorf("indexing failed for %s: %w", name, err)
	}

	dest, err := r.snapshotMaster(ctx, name, master)
	if err != nil {
		return nil, fmt.Errorf("snapshot failed for %s: %w", name, err)
	}

	if err := r.aliases.Swap(aliasName, dest, oldTarget); err != nil {
		// The new snapshot is now an orphan; remove it so it cannot leak.
		r.cleaner.Schedule(dest)
		return nil, fmt.Errorf("alias swap failed for %s: %w", name, err)
	}
	metrics.SnapshotsPublished.Inc()
	r.publish(events.EventSnapshotPublished, name, dest)
	logger.Info().Str("snapshot", dest).Msg("published new snapshot")

	// Retire the previous target, but only if it is a versioned snapshot.
	// On the first refresh the previous target is the master itself and
	// must survive.
	if r.lay.IsVersionedPath(oldTarget) {
		r.cleaner.Schedule(oldTarget)
	}

	r.touchLastRefresh(repo)
	r.reconcileFlags(repo, dest)

	return &Result{Status: StatusChanged, Snapshot: dest}, nil
}

// buildIndexes runs every configured index build in the master's directory.
func (r *Refresher) buildIndexes(ctx context.Context, master string, repo *types.Repository, isRemote bool) error {
	if err := r.ix.BuildSemantic(ctx, master); err != nil {
		return err
	}
	if err := r.ix.BuildFTS(ctx, master); err != nil {
		return err
	}
	if repo.EnableTemporal && isRemote {
		if err := r.ix.BuildTemporal(ctx, master); err != nil {
			return err
		}
	}
	if repo.EnableScip {
		if err := r.ix.GenerateScip(ctx, master); err != nil {
			return err
		}
	}
	return nil
}

// snapshotMaster clones the master into the next versioned directory. The
// version timestamp is bumped past the latest existing one so two refreshes
// within the same second cannot collide.
func (r *Refresher) snapshotMaster(ctx context.Context, name, master string) (string, error) {
	ts := time.Now().Unix()
	if _, latest, err := r.lay.LatestVersion(name); err != nil {
		return "", err
	} else if ts <= latest {
		ts = latest + 1
	}

	dest := r.lay.VersionPath(name, ts)
	if err := r.cloner.Clone(ctx, master, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// reconcileFlags syncs the registry's index flags with on-disk evidence.
// Evidence only ever turns capabilities on: a freshly enabled flag whose
// index has not been built yet must survive until the build runs.
func (r *Refresher) reconcileFlags(repo *types.Repository, target string) {
	changed := false

	if has := indexer.HasSemanticIndex(target); has != repo.HasSemantic {
		repo.HasSemantic = has
		changed = true
	}
	if has := indexer.HasFTSIndex(target); has != repo.HasFTS {
		repo.HasFTS = has
		changed = true
	}
	if indexer.HasTemporalIndex(target) && !repo.EnableTemporal {
		repo.EnableTemporal = true
		changed = true
	}
	if indexer.HasScipIndex(target) && !repo.EnableScip {
		repo.EnableScip = true
		changed = true
	}

	if changed {
		if err := r.store.UpdateRepository(repo); err != nil {
			r.logger.Warn().Err(err).Str("repo", repo.Name).Msg("failed to persist reconciled flags")
		}
	}
}

func (r *Refresher) touchLastRefresh(repo *types.Repository) {
	repo.LastRefresh = time.Now().UTC()
	if err := r.store.UpdateRepository(repo); err != nil {
		r.logger.Warn().Err(err).Str("repo", repo.Name).Msg("failed to persist last_refresh")
	}
	if err := r.aliases.UpdateLastRefresh(types.GlobalAlias(repo.Name)); err != nil && !errors.Is(err, alias.ErrNotFound) {
		r.logger.Warn().Err(err).Str("repo", repo.Name).Msg("failed to bump alias last_refresh")
	}
}

// failureKind labels a refresh failure for logs and events: corruption needs
// operator attention, transient failures clear themselves on a later cycle.
func failureKind(err error) string {
	switch {
	case gitcmd.IsCorruption(err):
		return "corruption"
	case gitcmd.IsTransient(err):
		return "transient"
	case gitcmd.IsDivergent(err):
		return "divergent"
	default:
		return "permanent"
	}
}

func (r *Refresher) publish(t events.EventType, repo, msg string) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(&events.Event{Type: t, Repo: repo, Message: msg})
}

func (r *Refresher) publishFailure(repo, msg, kind string) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(&events.Event{
		Type:    events.EventRefreshFailed,
		Repo:    repo,
		Message: msg,
		Metadata: map[string]string{
			"kind": kind,
		},
	})
}
