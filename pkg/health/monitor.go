// Package health probes registered providers in the background so routing
// can prefer the ones that are actually answering.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lexroute-ai/lexroute/pkg/breaker"
	"github.com/lexroute-ai/lexroute/pkg/logging"
	"github.com/lexroute-ai/lexroute/pkg/models"
	"github.com/lexroute-ai/lexroute/pkg/provider"
)

// Config controls probe cadence and concurrency.
type Config struct {
	Interval      time.Duration
	ProbeTimeout  time.Duration
	MaxConcurrent int
}

// DefaultConfig matches the production cadence: one sweep a minute, three
// probes in flight, ten seconds per probe.
var DefaultConfig = Config{
	Interval:      time.Minute,
	ProbeTimeout:  10 * time.Second,
	MaxConcurrent: 3,
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultConfig.Interval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultConfig.ProbeTimeout
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultConfig.MaxConcurrent
	}
	return c
}

// Monitor sweeps every registered provider's TestConnection on a ticker and
// keeps the last known status per provider.
type Monitor struct {
	reg      *provider.Registry
	breakers *breaker.Manager
	cfg      Config
	log      *logrus.Logger

	mu     sync.RWMutex
	status map[string]models.ProviderStatus

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Monitor over the registry. breakers may be nil; statuses
// then omit breaker states. A nil logger discards monitor logs.
func New(reg *provider.Registry, breakers *breaker.Manager, cfg Config, log *logrus.Logger) *Monitor {
	if log == nil {
		log = logging.Discard()
	}
	return &Monitor{
		reg:      reg,
		breakers: breakers,
		cfg:      cfg.withDefaults(),
		log:      log,
		status:   make(map[string]models.ProviderStatus),
	}
}

// Start begins background probing: one sweep immediately, then one per
// interval until Stop is called or ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx)
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	m.Check(ctx)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Stop halts background probing and waits for the loop to exit. Safe to call
// without a prior Start.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// Check probes every provider once, bounded by the concurrency cap, and
// returns the refreshed statuses.
func (m *Monitor) Check(ctx context.Context) []models.ProviderStatus {
	sem := make(chan struct{}, m.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	for _, name := range m.reg.Names() {
		p, ok := m.reg.Get(name)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(name string, p provider.Provider) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()
			m.probe(ctx, name, p)
		}(name, p)
	}
	wg.Wait()
	return m.Status()
}

func (m *Monitor) probe(ctx context.Context, name string, p provider.Provider) {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := p.TestConnection(pctx)
	latency := time.Since(start).Milliseconds()

	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.status[name]
	st.Name = name
	st.CredentialSet = true
	st.LatencyMS = latency
	st.LastChecked = time.Now().UTC()
	if m.breakers != nil {
		bs := m.breakers.Get(name).Stats()
		st.BreakerState = string(bs.State)
		st.RequestCount = bs.TotalRequests
		st.ErrorCount = bs.TotalFailures
	}
	if err != nil {
		st.Healthy = false
		st.ConsecutiveFails++
		st.LastError = err.Error()
		m.log.WithError(err).WithFields(logrus.Fields{
			"provider": name,
			"fails":    st.ConsecutiveFails,
		}).Warn("provider probe failed")
	} else {
		st.Healthy = true
		st.ConsecutiveFails = 0
		st.LastError = ""
	}
	m.status[name] = st
}

// Healthy reports whether the last probe of name succeeded. Providers that
// have not been probed yet count as healthy so startup never down-ranks
// anyone.
func (m *Monitor) Healthy(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.status[name]
	if !ok {
		return true
	}
	return st.Healthy
}

// Status returns a copy of the last known statuses, sorted by provider name.
func (m *Monitor) Status() []models.ProviderStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ProviderStatus, 0, len(m.status))
	for _, st := range m.status {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
