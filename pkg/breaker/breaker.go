// Package breaker implements per-provider circuit breakers. A breaker is a
// pure admission gate: the orchestrator asks Allow before a provider call and
// reports the outcome afterwards. Breakers never wrap the call itself, so no
// lock is ever held across network I/O.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lexroute-ai/lexroute/pkg/logging"
)

// State identifies the breaker position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned by Allow while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config tunes a breaker. Zero values fall back to defaults.
type Config struct {
	FailureThreshold int           // consecutive failures to trip open
	SuccessThreshold int           // half-open successes to close
	Timeout          time.Duration // open duration before probing
	HalfOpenProbes   int           // concurrent probes allowed half-open
}

// DefaultConfig returns the standard breaker tuning.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          60 * time.Second,
		HalfOpenProbes:   1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.HalfOpenProbes <= 0 {
		c.HalfOpenProbes = d.HalfOpenProbes
	}
	return c
}

// Breaker is the three-state machine for one provider.
type Breaker struct {
	mu sync.Mutex

	provider string
	config   Config
	log      *logrus.Entry

	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenProbes       int
	lastFailure          time.Time
	lastTransition       time.Time

	totalRequests  int64
	totalSuccesses int64
	totalFailures  int64
	totalRejected  int64
}

// New creates a closed breaker for provider.
func New(provider string, config Config, log *logrus.Entry) *Breaker {
	if log == nil {
		log = logrus.NewEntry(logging.Discard())
	}
	return &Breaker{
		provider:       provider,
		config:         config.withDefaults(),
		log:            log.WithField("provider", provider),
		state:          StateClosed,
		lastTransition: time.Now(),
	}
}

// Allow reports whether a call may proceed. ErrCircuitOpen means the caller
// should move on to another provider. An open breaker whose timeout has
// elapsed transitions to half-open here, lazily, and admits a probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++

	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) >= b.config.Timeout {
			b.transitionTo(StateHalfOpen)
			b.halfOpenProbes = 1
			return nil
		}
		b.totalRejected++
		return ErrCircuitOpen

	case StateHalfOpen:
		if b.halfOpenProbes >= b.config.HalfOpenProbes {
			b.totalRejected++
			return ErrCircuitOpen
		}
		b.halfOpenProbes++
		return nil
	}
	return nil
}

// RecordSuccess reports a successful provider call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalSuccesses++
	b.consecutiveSuccesses++
	b.consecutiveFailures = 0

	if b.state == StateHalfOpen && b.consecutiveSuccesses >= b.config.SuccessThreshold {
		b.transitionTo(StateClosed)
	}
}

// RecordFailure reports a failed provider call. The caller decides what
// counts as a failure; validation errors should not reach here.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++
	b.consecutiveFailures++
	b.consecutiveSuccesses = 0
	b.lastFailure = time.Now()

	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		// Any half-open failure reopens and restarts the recovery timer.
		b.transitionTo(StateOpen)
	}
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transitionTo must be called with b.mu held.
func (b *Breaker) transitionTo(next State) {
	prev := b.state
	if prev == next {
		return
	}
	b.state = next
	b.lastTransition = time.Now()

	switch next {
	case StateClosed:
		b.consecutiveFailures = 0
		b.consecutiveSuccesses = 0
	case StateHalfOpen:
		b.halfOpenProbes = 0
		b.consecutiveSuccesses = 0
	}

	fields := logrus.Fields{"from": prev, "to": next}
	if next == StateOpen {
		b.log.WithFields(fields).Warn("circuit opened")
	} else {
		b.log.WithFields(fields).Info("circuit state changed")
	}
}

// Stats is a snapshot of one breaker's counters.
type Stats struct {
	Provider             string    `json:"provider"`
	State                State     `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	TotalRequests        int64     `json:"total_requests"`
	TotalSuccesses       int64     `json:"total_successes"`
	TotalFailures        int64     `json:"total_failures"`
	TotalRejected        int64     `json:"total_rejected"`
	LastFailure          time.Time `json:"last_failure,omitzero"`
	LastTransition       time.Time `json:"last_transition"`
}

// Stats returns a copy of the breaker's counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Provider:             b.provider,
		State:                b.state,
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		TotalRequests:        b.totalRequests,
		TotalSuccesses:       b.totalSuccesses,
		TotalFailures:        b.totalFailures,
		TotalRejected:        b.totalRejected,
		LastFailure:          b.lastFailure,
		LastTransition:       b.lastTransition,
	}
}

// Reset forces the breaker back to closed with cleared counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed)
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.halfOpenProbes = 0
}

// Manager owns one breaker per provider, created on first touch.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
	log      *logrus.Entry
}

// NewManager creates a manager whose breakers share config.
func NewManager(config Config, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logging.Discard())
	}
	return &Manager{
		breakers: make(map[string]*Breaker),
		config:   config.withDefaults(),
		log:      log,
	}
}

// Get returns the breaker for provider, creating it on first use. Distinct
// providers trip independently.
func (m *Manager) Get(provider string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[provider]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.breakers[provider]; ok {
		return b
	}
	b = New(provider, m.config, m.log)
	m.breakers[provider] = b
	return b
}

// AllStats snapshots every managed breaker.
func (m *Manager) AllStats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[string]Stats, len(m.breakers))
	for id, b := range m.breakers {
		stats[id] = b.Stats()
	}
	return stats
}

// ResetAll closes every breaker.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.breakers {
		b.Reset()
	}
}
