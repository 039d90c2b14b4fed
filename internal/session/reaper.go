package session

import (
	"log/slog"
	"sync"
	"time"
)

const defaultSweepInterval = time.Minute

// Prune removes sessions idle for longer than maxIdle and returns how many
// were removed. A non-positive maxIdle removes nothing.
func (m *Manager) Prune(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	cutoff := m.now().Add(-maxIdle)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.LastUsed().Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Reaper periodically prunes idle sessions from a Manager.
type Reaper struct {
	manager  *Manager
	maxIdle  time.Duration
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewReaper creates a reaper. A non-positive interval selects one minute.
func NewReaper(m *Manager, maxIdle, interval time.Duration, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{manager: m, maxIdle: maxIdle, interval: interval, logger: logger}
}

// Start launches the sweep loop. Starting a running reaper, or one with no
// idle limit, does nothing.
func (r *Reaper) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running || r.maxIdle <= 0 {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})

	go r.loop(r.stopCh, r.doneCh)
}

// Stop halts the sweep loop and waits for it to exit.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	done := r.doneCh
	r.mu.Unlock()

	<-done
}

func (r *Reaper) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := r.manager.Prune(r.maxIdle); n > 0 {
				r.logger.Info("pruned idle sessions", "count", n)
			}
		}
	}
}
