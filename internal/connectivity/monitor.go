// Package connectivity tracks whether the remote backend is
// reachable and fans the signal out to subscribers. The same signal
// drives the push pipeline and the offline validation cache.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/hweilin/ordersync/internal/logging"
	"github.com/hweilin/ordersync/internal/remote"
)

// Monitor polls the backend health endpoint and notifies subscribers
// on online/offline transitions only, never on steady state.
type Monitor struct {
	backend  remote.Backend
	interval time.Duration

	mu          sync.RWMutex
	online      bool
	subscribers []func(online bool)

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewMonitor creates a Monitor. The terminal assumes it is online
// until a probe says otherwise.
func NewMonitor(backend remote.Backend, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		backend:  backend,
		interval: interval,
		online:   true,
		stopCh:   make(chan struct{}),
	}
}

// Online reports the last observed connectivity state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe registers a transition callback. Callbacks run on the
// monitor goroutine and must not block.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// SetOnline forces the connectivity state, firing subscribers on a
// transition. Used by tests and by remote calls that discover the
// state before the next probe.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	subs := make([]func(bool), len(m.subscribers))
	copy(subs, m.subscribers)
	m.mu.Unlock()

	if !changed {
		return
	}

	logging.Info("Connectivity changed", map[string]interface{}{
		"online": online,
	})

	for _, fn := range subs {
		fn(online)
	}
}

// Start begins periodic probing.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.probeLoop(ctx)
}

// Stop halts probing and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) probeLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval/2)
	defer cancel()

	err := m.backend.Ping(probeCtx)
	m.SetOnline(err == nil)
}
