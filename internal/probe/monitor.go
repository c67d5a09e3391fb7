package probe

import (
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"
)

// Status is the last known outcome for one provider.
type Status struct {
	Provider string    `json:"provider"`
	Healthy  bool      `json:"healthy"`
	Failures int       `json:"consecutive_failures"`
	LastSeen time.Time `json:"last_seen"`
}

// Monitor keeps a rolling per-provider health ledger. The aggregator records
// every call outcome; a periodic sweep drops entries for providers that have
// not been exercised within maxAge, so /health only reports live knowledge.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]*Status

	maxAge    time.Duration
	scheduler *gocron.Scheduler
	log       *logrus.Logger

	now func() time.Time
}

// NewMonitor creates a Monitor. If maxAge is <= 0 entries never expire.
func NewMonitor(maxAge time.Duration, log *logrus.Logger) *Monitor {
	return &Monitor{
		statuses:  make(map[string]*Status),
		maxAge:    maxAge,
		scheduler: gocron.NewScheduler(time.UTC),
		log:       log,
		now:       time.Now,
	}
}

// Record notes one provider call outcome.
func (m *Monitor) Record(provider string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, exists := m.statuses[provider]
	if !exists {
		st = &Status{Provider: provider}
		m.statuses[provider] = st
	}

	st.Healthy = ok
	st.LastSeen = m.now()
	if ok {
		st.Failures = 0
	} else {
		st.Failures++
	}
}

// Statuses returns a snapshot of the ledger, sorted by provider name.
func (m *Monitor) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.statuses))
	for _, st := range m.statuses {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// Start schedules the periodic sweep job.
func (m *Monitor) Start(interval time.Duration) error {
	minutes := int(interval.Minutes())
	if minutes <= 0 {
		minutes = 5
	}

	if _, err := m.scheduler.Every(minutes).Minutes().Do(m.sweep); err != nil {
		return err
	}

	m.scheduler.StartAsync()
	return nil
}

// Stop stops the sweep scheduler.
func (m *Monitor) Stop() {
	if m.scheduler != nil {
		m.scheduler.Stop()
	}
}

func (m *Monitor) sweep() {
	if m.maxAge <= 0 {
		return
	}
	cutoff := m.now().Add(-m.maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	for name, st := range m.statuses {
		if st.LastSeen.Before(cutoff) {
			delete(m.statuses, name)
			if m.log != nil {
				m.log.WithField("provider", name).Debug("probe: dropped stale provider status")
			}
		}
	}
}
