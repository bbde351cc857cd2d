package workerpool

import (
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// SummaryConcurrency bounds the summariser fan-out process-wide.
const SummaryConcurrency = 15

// Manager owns the three process-wide pools. The single-item and batch pools
// grow on demand when user settings ask for more concurrency; the summary
// limit is a fixed semaphore.
type Manager struct {
	logger *slog.Logger

	mu     sync.Mutex
	single *Pool
	batch  *Pool

	summarySem *semaphore.Weighted
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger:     logger,
		single:     NewPool(2),
		batch:      NewPool(4),
		summarySem: semaphore.NewWeighted(SummaryConcurrency),
	}
}

// Single returns the single-item pool sized for the requested concurrency
// (clamped to [2, 20]). A larger requirement replaces the pool; the old one
// drains asynchronously so outstanding tasks complete. Submission is never
// blocked on a resize.
func (m *Manager) Single(configured int) *Pool {
	desired := clamp(configured, 2, 20)
	m.mu.Lock()
	defer m.mu.Unlock()
	if desired > m.single.Size() {
		m.logger.Info("resizing single-item pool", "from", m.single.Size(), "to", desired)
		old := m.single
		m.single = NewPool(desired)
		old.Drain()
	}
	return m.single
}

// Batch returns the batch pool sized for the requested batch size (clamped to
// [4, 30]), with the same replace-and-drain rule.
func (m *Manager) Batch(configured int) *Pool {
	desired := clamp(configured, 4, 30)
	m.mu.Lock()
	defer m.mu.Unlock()
	if desired > m.batch.Size() {
		m.logger.Info("resizing batch pool", "from", m.batch.Size(), "to", desired)
		old := m.batch
		m.batch = NewPool(desired)
		old.Drain()
	}
	return m.batch
}

// SummarySem is the shared summariser admission semaphore.
func (m *Manager) SummarySem() *semaphore.Weighted {
	return m.summarySem
}

// Shutdown drains both dynamic pools.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.single.Drain()
	m.batch.Drain()
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
