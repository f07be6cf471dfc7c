package cleanup

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quarrylabs/quarry/pkg/config"
	"github.com/quarrylabs/quarry/pkg/events"
	"github.com/quarrylabs/quarry/pkg/log"
	"github.com/quarrylabs/quarry/pkg/metrics"
	"github.com/quarrylabs/quarry/pkg/tracker"
)

// entry tracks one snapshot path pending deletion
type entry struct {
	failures  int
	nextRetry time.Time
}

// Manager deletes retired snapshot directories once no readers remain.
// Deletions that keep failing back off exponentially and are abandoned after
// MaxFailures attempts so one unrecoverable path cannot wedge the queue.
type Manager struct {
	tracker *tracker.Tracker
	broker  *events.Broker
	cfg     config.CleanupConfig
	logger  zerolog.Logger

	mu        sync.Mutex
	pending   map[string]*entry
	abandoned []string
	running   bool
	stopCh    chan struct{}

	// Overridable for tests.
	fdHigh func(threshold float64) bool
	remove func(path string) error
}

// NewManager creates a cleanup manager. The broker may be nil.
func NewManager(tr *tracker.Tracker, broker *events.Broker, cfg config.CleanupConfig) *Manager {
	return &Manager{
		tracker: tr,
		broker:  broker,
		cfg:     cfg,
		logger:  log.WithComponent("cleanup"),
		pending: make(map[string]*entry),
		fdHigh:  fdUsageHigh,
		remove:  robustRemove,
	}
}

// Start launches the background deletion loop. Idempotent.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	go m.run(m.stopCh)
}

// Stop terminates the loop. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)
}

// Schedule adds a snapshot path to the pending set. Scheduling the same path
// twice is equivalent to scheduling it once.
func (m *Manager) Schedule(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[path]; ok {
		return
	}
	m.pending[path] = &entry{}
	metrics.CleanupPending.Set(float64(len(m.pending)))
	m.logger.Debug().Str("path", path).Msg("scheduled snapshot for cleanup")
}

// Pending returns the paths currently awaiting deletion.
func (m *Manager) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.pending))
	for p := range m.pending {
		out = append(out, p)
	}
	return out
}

// Abandoned returns the paths dropped by the circuit breaker. They remain on
// disk and need operator attention.
func (m *Manager) Abandoned() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.abandoned))
	copy(out, m.abandoned)
	return out
}

func (m *Manager) run(stopCh chan struct{}) {
	ticker := time.NewTicker(m.cfg.CheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.tick(time.Now())
		case <-stopCh:
			return
		}
	}
}

// tick processes a snapshot of the pending set once.
func (m *Manager) tick(now time.Time) {
	// Global back-pressure: a loaded host near its descriptor ceiling must
	// not start recursive deletions at all.
	if m.fdHigh(m.cfg.FDUsageThreshold) {
		metrics.CleanupTicksSkipped.Inc()
		m.logger.Warn().Msg("file-descriptor usage above threshold; skipping cleanup tick")
		return
	}

	for _, path := range m.Pending() {
		m.processPath(path, now)
	}
}

func (m *Manager) processPath(path string, now time.Time) {
	m.mu.Lock()
	e, ok := m.pending[path]
	if !ok {
		m.mu.Unlock()
		return
	}

	if e.failures >= m.cfg.MaxFailures {
		delete(m.pending, path)
		m.abandoned = append(m.abandoned, path)
		metrics.CleanupPending.Set(float64(len(m.pending)))
		m.mu.Unlock()

		metrics.CleanupTripsTotal.Inc()
		m.logger.Error().
			Str("path", path).
			Int("failures", e.failures).
			Str("severity", "critical").
			Msg("abandoning cleanup after repeated failures; snapshot left on disk")
		m.publish(events.EventCleanupAbandoned, path, "circuit breaker tripped")
		return
	}

	if now.Before(e.nextRetry) {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	// Readers still active: leave the entry untouched for a later tick.
	if refs := m.tracker.RefCount(path); refs > 0 {
		m.logger.Debug().Str("path", path).Int("refs", refs).Msg("snapshot still has readers; deferring deletion")
		return
	}

	if err := m.remove(path); err != nil {
		m.mu.Lock()
		e.failures++
		e.nextRetry = now.Add(m.backoff(e.failures))
		failures := e.failures
		retry := e.nextRetry
		m.mu.Unlock()

		metrics.CleanupFailuresTotal.Inc()
		m.logger.Warn().
			Err(err).
			Str("path", path).
			Int("failures", failures).
			Time("next_retry", retry).
			Msg("snapshot deletion failed")
		return
	}

	m.mu.Lock()
	delete(m.pending, path)
	metrics.CleanupPending.Set(float64(len(m.pending)))
	m.mu.Unlock()

	metrics.SnapshotsRetired.Inc()
	m.logger.Info().Str("path", path).Msg("deleted retired snapshot")
	m.publish(events.EventSnapshotRetired, path, "")
}

// backoff returns min(base * 2^(n-1), cap) for the nth consecutive failure.
func (m *Manager) backoff(failures int) time.Duration {
	d := m.cfg.BaseBackoff()
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= m.cfg.MaxBackoff() {
			return m.cfg.MaxBackoff()
		}
	}
	if d > m.cfg.MaxBackoff() {
		return m.cfg.MaxBackoff()
	}
	return d
}

func (m *Manager) publish(t events.EventType, path, msg string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		Type:    t,
		Message: msg,
		Metadata: map[string]string{
			"path": path,
		},
	})
}
