// Package breaker provides named circuit breakers for tools and other
// external dependencies. Breakers follow the closed → open → half_open →
// (closed|open) state machine and are created on demand by name.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opsintel/opsiq/pkg/metrics"
)

// State mirrors the breaker state as exposed to callers and traces.
type State string

// Breaker state constants.
const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config controls one breaker's thresholds.
type Config struct {
	// FailureThreshold consecutive failures trip the breaker open.
	FailureThreshold uint32
	// SuccessThreshold consecutive half-open successes close it again.
	SuccessThreshold uint32
	// RecoveryTimeout is how long the breaker stays open before probing.
	RecoveryTimeout time.Duration
}

// DefaultConfig returns the default breaker thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
	}
}

// Stats is a snapshot of one breaker's counters.
type Stats struct {
	Name                 string `json:"name"`
	State                State  `json:"state"`
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"total_successes"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
}

// Manager holds the process-wide map of named breakers.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	config   Config
}

// NewManager creates a breaker manager with the given default config.
func NewManager(cfg Config) *Manager {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	if cfg.RecoveryTimeout == 0 {
		cfg.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	return &Manager{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		config:   cfg,
	}
}

// Get returns the breaker for the name, creating it on first use.
func (m *Manager) Get(name string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	cb := m.newBreaker(name)
	m.breakers[name] = cb
	return cb
}

func (m *Manager) newBreaker(name string) *gobreaker.CircuitBreaker {
	cfg := m.config
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: name,
		// MaxRequests is the half-open success threshold: that many
		// consecutive successes close the breaker.
		MaxRequests: cfg.SuccessThreshold,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("Circuit breaker state change",
				"breaker", name, "from", stateOf(from), "to", stateOf(to))
			metrics.BreakerTransitions.WithLabelValues(name, string(stateOf(to))).Inc()
		},
	})
}

// Allow reports whether a call through the named breaker may proceed.
// The check itself drives the open → half_open transition once the
// recovery timeout has elapsed.
func (m *Manager) Allow(name string) bool {
	return m.Get(name).State() != gobreaker.StateOpen
}

// Execute runs fn through the named breaker, recording success or failure.
func (m *Manager) Execute(name string, fn func() (any, error)) (any, error) {
	return m.Get(name).Execute(fn)
}

// Stats returns a snapshot for one breaker, or ok=false if it was never used.
func (m *Manager) Stats(name string) (Stats, bool) {
	m.mu.Lock()
	cb, ok := m.breakers[name]
	m.mu.Unlock()
	if !ok {
		return Stats{}, false
	}
	return snapshot(name, cb), true
}

// AllStats returns snapshots for every known breaker.
func (m *Manager) AllStats() []Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := make([]Stats, 0, len(m.breakers))
	for name, cb := range m.breakers {
		stats = append(stats, snapshot(name, cb))
	}
	return stats
}

// Reset discards the named breaker; the next call recreates it closed.
func (m *Manager) Reset(name string) {
	m.mu.Lock()
	delete(m.breakers, name)
	m.mu.Unlock()
}

// ResetAll discards every breaker.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	m.breakers = make(map[string]*gobreaker.CircuitBreaker)
	m.mu.Unlock()
}

func snapshot(name string, cb *gobreaker.CircuitBreaker) Stats {
	counts := cb.Counts()
	return Stats{
		Name:                 name,
		State:                stateOf(cb.State()),
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
	}
}

func stateOf(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
