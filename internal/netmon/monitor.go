package netmon

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the time between scheduled probes.
const DefaultInterval = 10 * time.Second

// Monitor probes the backend periodically and exposes the latest answer.
type Monitor struct {
	prober   Prober
	interval time.Duration

	online   atomic.Bool
	inFlight atomic.Bool
	probes   sync.WaitGroup

	mu   sync.Mutex
	subs map[int]chan bool
	next int
}

// NewMonitor creates a monitor. The state starts optimistic (online) so the
// first fetch after startup tries the network; the first probe corrects it.
func NewMonitor(p Prober, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	m := &Monitor{
		prober:   p,
		interval: interval,
		subs:     make(map[int]chan bool),
	}
	m.online.Store(true)
	return m
}

// Online returns the most recent probe result.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Subscribe returns a channel that receives the new state on every
// online/offline transition, and a function that stops delivery. Slow
// readers only see the latest state.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.next
	m.next++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Run probes immediately and then every interval until ctx is cancelled.
// It returns only after any in-flight probe has finished.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer m.probes.Wait()

	m.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick starts a probe unless one is already running.
func (m *Monitor) tick(ctx context.Context) {
	if !m.inFlight.CompareAndSwap(false, true) {
		slog.Debug("probe skipped, previous probe in flight",
			"component", "netmon",
			"action", "probe_skipped",
		)
		return
	}

	m.probes.Add(1)
	go func() {
		defer m.probes.Done()
		defer m.inFlight.Store(false)

		err := m.prober.Probe(ctx)
		if ctx.Err() != nil {
			return // shutting down; the result says nothing about the network
		}
		m.set(err == nil, err)
	}()
}

func (m *Monitor) set(online bool, cause error) {
	if m.online.Swap(online) == online {
		return
	}

	if online {
		slog.Info("backend reachable",
			"component", "netmon",
			"action", "online",
		)
	} else {
		slog.Warn("backend unreachable",
			"component", "netmon",
			"action", "offline",
			"error", cause,
		)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
}
