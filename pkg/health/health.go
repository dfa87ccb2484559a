package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Result is the outcome of one scanner probe.
type Result struct {
	Reachable bool          `json:"reachable"`
	Message   string        `json:"message,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
	Duration  time.Duration `json:"duration"`
}

// Checker probes one scanner over whatever transport its kind uses.
type Checker interface {
	Check(ctx context.Context) Result
}

// Config tunes probing.
type Config struct {
	// Interval is how long a probe outcome stays fresh; asking again
	// inside it serves the cached result.
	Interval time.Duration

	// Timeout is the budget for a single probe.
	Timeout time.Duration

	// Retries is the number of consecutive failures before an
	// established reachable state flips. A restarting scanner should
	// not flap the reported state on the first missed probe; a scanner
	// that has never answered reports unreachable immediately.
	Retries int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
		Retries:  3,
	}
}

// Status tracks the probe history of one scanner.
type Status struct {
	// Probes is the total number of probes folded in
	Probes int

	// ConsecutiveFailures tracks the number of consecutive failed probes
	ConsecutiveFailures int

	// ConsecutiveSuccesses tracks the number of consecutive successful probes
	ConsecutiveSuccesses int

	// LastCheck is the timestamp of the last probe
	LastCheck time.Time

	// LastResult is the result of the last probe
	LastResult Result

	// Reachable indicates if the scanner is currently considered reachable
	Reachable bool
}

// NewStatus creates a new Status with default values
func NewStatus() *Status {
	return &Status{
		Reachable: true, // Assume reachable until proven otherwise
	}
}

// Update folds a new probe result into the status.
func (s *Status) Update(result Result, cfg Config) {
	s.Probes++
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Reachable {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0

		// Mark as reachable after first success
		s.Reachable = true
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0

		// The retry threshold only shields a scanner that has answered
		// before; one that never has is unreachable right away.
		if s.Probes == s.ConsecutiveFailures || s.ConsecutiveFailures >= cfg.Retries {
			s.Reachable = false
		}
	}
}

// Monitor caches probe outcomes per scanner so reporting surfaces can
// ask as often as they like without hammering the scanners.
type Monitor struct {
	cfg Config

	mu   sync.Mutex
	seen map[string]*Status

	// inflight collapses concurrent probes of the same scanner into
	// one network round trip.
	inflight singleflight.Group
}

// NewMonitor creates a Monitor. Zero config fields fall back to the
// defaults.
func NewMonitor(cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = def.Retries
	}
	return &Monitor{
		cfg:  cfg,
		seen: make(map[string]*Status),
	}
}

// Probe returns the scanner's status, running the checker only when
// the cached outcome has gone stale.
func (m *Monitor) Probe(ctx context.Context, id string, checker Checker) Status {
	m.mu.Lock()
	st, ok := m.seen[id]
	if !ok {
		st = NewStatus()
		m.seen[id] = st
	}
	if !st.LastCheck.IsZero() && time.Since(st.LastCheck) < m.cfg.Interval {
		snapshot := *st
		m.mu.Unlock()
		return snapshot
	}
	m.mu.Unlock()

	v, _, _ := m.inflight.Do(id, func() (any, error) {
		cctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
		result := checker.Check(cctx)

		m.mu.Lock()
		defer m.mu.Unlock()
		st.Update(result, m.cfg)
		return *st, nil
	})
	return v.(Status)
}

// Forget drops the cached state for a scanner, e.g. after deletion.
func (m *Monitor) Forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, id)
}
