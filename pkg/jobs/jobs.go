package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quarrylabs/quarry/pkg/events"
	"github.com/quarrylabs/quarry/pkg/log"
	"github.com/quarrylabs/quarry/pkg/metrics"
	"github.com/quarrylabs/quarry/pkg/refresher"
	"github.com/quarrylabs/quarry/pkg/storage"
	"github.com/quarrylabs/quarry/pkg/types"
)

// queueCapacity bounds jobs waiting for a worker. Triggers past it are
// rejected rather than queued without limit.
const queueCapacity = 128

// RefreshFunc runs one refresh cycle for a repository. It returns a result
// for success (including skips) and an error for genuine failure.
type RefreshFunc func(ctx context.Context, repo string) (*refresher.Result, error)

// Manager executes externally triggered refreshes on a bounded worker pool
// and persists every job for the operator dashboard. A failed refresh stays
// visible with its error; a skip (lock held, no changes) completes with a
// message instead.
type Manager struct {
	store   storage.Store
	broker  *events.Broker
	refresh RefreshFunc
	workers int
	logger  zerolog.Logger

	queue chan string

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewManager wires a job manager executing refreshes through the given
// function.
func NewManager(store storage.Store, broker *events.Broker, refresh RefreshFunc, workers int) *Manager {
	if workers < 1 {
		workers = 1
	}
	return &Manager{
		store:   store,
		broker:  broker,
		refresh: refresh,
		workers: workers,
		logger:  log.WithComponent("jobs"),
		queue:   make(chan string, queueCapacity),
	}
}

// Start launches the worker pool. Idempotent.
func (m *Manager) Start() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{}, m.workers)

	for i := 0; i < m.workers; i++ {
		go m.worker(m.stopCh)
	}
}

// Stop signals the workers to exit and waits for them. Queued jobs that have
// not started stay queued in the store.
func (m *Manager) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)
	for i := 0; i < m.workers; i++ {
		<-m.doneCh
	}
}

// Trigger creates a queued job for a repository and submits it. Returns the
// job ID for status polling.
func (m *Manager) Trigger(repo, username string) (string, error) {
	job := &types.Job{
		ID:        uuid.New().String(),
		Repo:      repo,
		Username:  username,
		Status:    types.JobStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.CreateJob(job); err != nil {
		return "", fmt.Errorf("failed to persist job: %w", err)
	}

	select {
	case m.queue <- job.ID:
	default:
		job.Status = types.JobStatusFailed
		job.Error = "job queue is full"
		job.FinishedAt = time.Now().UTC()
		if err := m.store.UpdateJob(job); err != nil {
			m.logger.Warn().Err(err).Str("job", job.ID).Msg("failed to mark rejected job")
		}
		return "", fmt.Errorf("job queue is full, try again later")
	}

	m.logger.Info().Str("job", job.ID).Str("repo", repo).Str("user", username).Msg("refresh job queued")
	return job.ID, nil
}

// Get returns one job by ID.
func (m *Manager) Get(id string) (*types.Job, error) {
	return m.store.GetJob(id)
}

// List returns every persisted job.
func (m *Manager) List() ([]*types.Job, error) {
	return m.store.ListJobs()
}

// ListByRepo returns every job for one repository.
func (m *Manager) ListByRepo(repo string) ([]*types.Job, error) {
	return m.store.ListJobsByRepo(repo)
}

func (m *Manager) worker(stopCh chan struct{}) {
	defer func() { m.doneCh <- struct{}{} }()

	for {
		select {
		case id := <-m.queue:
			m.execute(id)
		case <-stopCh:
			return
		}
	}
}

func (m *Manager) execute(id string) {
	job, err := m.store.GetJob(id)
	if err != nil {
		m.logger.Error().Err(err).Str("job", id).Msg("queued job vanished from store")
		return
	}

	job.Status = types.JobStatusRunning
	job.StartedAt = time.Now().UTC()
	if err := m.store.UpdateJob(job); err != nil {
		m.logger.Warn().Err(err).Str("job", id).Msg("failed to mark job running")
	}

	res, err := m.refresh(context.Background(), job.Repo)
	job.FinishedAt = time.Now().UTC()

	if err != nil {
		job.Status = types.JobStatusFailed
		job.Error = err.Error()
		m.publish(events.EventJobFailed, job)
	} else {
		job.Status = types.JobStatusCompleted
		switch res.Status {
		case refresher.StatusChanged:
			job.Message = fmt.Sprintf("published %s", res.Snapshot)
		default:
			job.Message = res.Message
		}
		m.publish(events.EventJobCompleted, job)
	}
	metrics.JobsTotal.WithLabelValues(string(job.Status)).Inc()

	if err := m.store.UpdateJob(job); err != nil {
		m.logger.Error().Err(err).Str("job", id).Msg("failed to persist job outcome")
	}
	m.logger.Info().
		Str("job", id).
		Str("repo", job.Repo).
		Str("status", string(job.Status)).
		Msg("refresh job finished")
}

func (m *Manager) publish(t events.EventType, job *types.Job) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		Type:    t,
		Repo:    job.Repo,
		Message: job.Error,
		Metadata: map[string]string{
			"job_id": job.ID,
			"user":   job.Username,
		},
	})
}
