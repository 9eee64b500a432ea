// Package lifecycle bounds loaded-skill memory with LRU recency and TTL
// expiry. One Manager owns the recency list, the last-touch timestamps,
// and the pinned set; every mutation goes through its mutex.
package lifecycle

import (
	"log/slog"
	"sync"
	"time"
)

// Config holds lifecycle tuning.
type Config struct {
	// TTL is how long an untouched skill stays loaded. Zero means a
	// skill is expired the moment any time has passed since its touch.
	TTL time.Duration

	// SweepInterval is the minimum time between effective sweeps.
	SweepInterval time.Duration

	// MaxLoaded caps concurrently loaded skills (0 = unlimited).
	MaxLoaded int

	// Pinned skills are exempt from expiry and forced eviction.
	Pinned []string
}

// Manager tracks recency and age of loaded skills and decides evictions.
//
// Unload callbacks passed to EnforceCapacity and Sweep run while the
// manager's lock is held and must not call back into the Manager.
type Manager struct {
	mu        sync.Mutex
	recency   []string // LRU order, most recent at the tail
	touched   map[string]time.Time
	pinned    map[string]bool
	ttl       time.Duration
	sweepMin  time.Duration
	maxLoaded int
	lastSweep time.Time

	now    func() time.Time
	logger *slog.Logger
}

// NewManager creates a lifecycle manager.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	pinned := make(map[string]bool, len(cfg.Pinned))
	for _, name := range cfg.Pinned {
		pinned[name] = true
	}
	return &Manager{
		touched:   make(map[string]time.Time),
		pinned:    pinned,
		ttl:       cfg.TTL,
		sweepMin:  cfg.SweepInterval,
		maxLoaded: cfg.MaxLoaded,
		now:       time.Now,
		logger:    logger.With("component", "lifecycle"),
	}
}

// Touch records the current time for name and moves it to the tail of
// the recency list, inserting if new. Idempotent under repeated calls.
func (m *Manager) Touch(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.touched[name] = m.now()
	m.moveToTailLocked(name)
}

// IsExpired reports whether name has outlived the TTL. Pinned names are
// never expired; a name with no recorded touch always is.
func (m *Manager) IsExpired(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expiredLocked(name)
}

// Pin marks a skill as exempt from expiry and eviction.
func (m *Manager) Pin(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinned[name] = true
}

// IsPinned reports whether name is pinned.
func (m *Manager) IsPinned(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pinned[name]
}

// Remove prunes all lifecycle state for a name. Used when a skill is
// unloaded outside the manager's own eviction paths.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(name)
}

// EnforceCapacity evicts until len(loaded) is within MaxLoaded: first
// every expired non-pinned name (oldest first), then least-recently
// touched non-pinned names. Returns the number of evictions. Capacity
// pressure preferentially reclaims provably idle skills before merely
// not-most-recent ones.
func (m *Manager) EnforceCapacity(loaded []string, unload func(string)) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxLoaded <= 0 || len(loaded) <= m.maxLoaded {
		return 0
	}

	isLoaded := make(map[string]bool, len(loaded))
	for _, name := range loaded {
		isLoaded[name] = true
	}
	remaining := len(loaded)
	evicted := 0

	evict := func(name string) {
		unload(name)
		m.removeLocked(name)
		isLoaded[name] = false
		remaining--
		evicted++
	}

	// Pass 1: expired skills, oldest first.
	for _, name := range m.recencySnapshotLocked() {
		if !isLoaded[name] || m.pinned[name] {
			continue
		}
		if m.expiredLocked(name) {
			m.logger.Info("evicting expired skill", "skill", name)
			evict(name)
		}
	}

	// Pass 2: least recently touched, until within capacity.
	for _, name := range m.recencySnapshotLocked() {
		if remaining <= m.maxLoaded {
			break
		}
		if !isLoaded[name] || m.pinned[name] {
			continue
		}
		m.logger.Info("evicting least-recently-used skill", "skill", name)
		evict(name)
	}

	return evicted
}

// Sweep unloads every expired loaded name and prunes stale timestamp
// entries for names no longer loaded. Runs at most once per
// SweepInterval; calls inside the window are a no-op returning 0.
func (m *Manager) Sweep(loaded []string, unload func(string)) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !m.lastSweep.IsZero() && now.Sub(m.lastSweep) < m.sweepMin {
		return 0
	}
	m.lastSweep = now

	isLoaded := make(map[string]bool, len(loaded))
	for _, name := range loaded {
		isLoaded[name] = true
	}

	evicted := 0
	for _, name := range loaded {
		if m.expiredLocked(name) {
			m.logger.Info("sweeping expired skill", "skill", name)
			unload(name)
			m.removeLocked(name)
			evicted++
		}
	}

	// Prune timestamps for names that were touched but never finished
	// loading, or were unloaded elsewhere.
	for name := range m.touched {
		if !isLoaded[name] {
			m.removeLocked(name)
		}
	}

	return evicted
}

// TouchedAt returns the last-touch time for name, if any.
func (m *Manager) TouchedAt(name string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.touched[name]
	return t, ok
}

// Snapshot returns the current recency order and timestamps, oldest
// first. Used for state checkpointing.
func (m *Manager) Snapshot() ([]string, map[string]time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order := m.recencySnapshotLocked()
	stamps := make(map[string]time.Time, len(m.touched))
	for name, t := range m.touched {
		stamps[name] = t
	}
	return order, stamps
}

// Restore replaces lifecycle state from a checkpoint snapshot.
func (m *Manager) Restore(order []string, stamps map[string]time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recency = append([]string(nil), order...)
	m.touched = make(map[string]time.Time, len(stamps))
	for name, t := range stamps {
		m.touched[name] = t
	}
}

func (m *Manager) expiredLocked(name string) bool {
	if m.pinned[name] {
		return false
	}
	last, ok := m.touched[name]
	if !ok {
		return true
	}
	return m.now().Sub(last) > m.ttl
}

func (m *Manager) moveToTailLocked(name string) {
	for i, n := range m.recency {
		if n == name {
			m.recency = append(m.recency[:i], m.recency[i+1:]...)
			break
		}
	}
	m.recency = append(m.recency, name)
}

func (m *Manager) removeLocked(name string) {
	delete(m.touched, name)
	for i, n := range m.recency {
		if n == name {
			m.recency = append(m.recency[:i], m.recency[i+1:]...)
			break
		}
	}
}

func (m *Manager) recencySnapshotLocked() []string {
	return append([]string(nil), m.recency...)
}
