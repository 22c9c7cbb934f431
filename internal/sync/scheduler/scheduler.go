// Package scheduler runs the terminal's background loops: the
// batched queue drain, retry reprocessing and the offline cache
// refresh. Each loop is single-flight and fires both on its interval
// and opportunistically when connectivity comes back.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/hweilin/ordersync/internal/logging"
	syncpkg "github.com/hweilin/ordersync/internal/sync"
	"github.com/hweilin/ordersync/internal/sync/retry"
	"github.com/hweilin/ordersync/internal/validation"
)

// Config holds scheduler intervals and the drain timeout.
type Config struct {
	DrainInterval        time.Duration
	RetryInterval        time.Duration
	CacheRefreshInterval time.Duration
	DrainTimeout         time.Duration
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		DrainInterval:        30 * time.Second,
		RetryInterval:        time.Minute,
		CacheRefreshInterval: 15 * time.Minute,
		DrainTimeout:         60 * time.Second,
	}
}

// Connectivity is the subset of the monitor the scheduler needs.
type Connectivity interface {
	Online() bool
	Subscribe(fn func(online bool))
}

// Scheduler owns the three background loops.
type Scheduler struct {
	pusher *syncpkg.Pusher
	retry  *retry.Queue
	cache  *validation.OfflineCache
	conn   Connectivity
	config *Config

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu              sync.Mutex
	isRunning       bool
	drainInFlight   bool
	retryInFlight   bool
	refreshInFlight bool
	lastDrainAt     time.Time
}

// New creates a Scheduler. A nil config selects defaults.
func New(pusher *syncpkg.Pusher, retryQueue *retry.Queue, cache *validation.OfflineCache, conn Connectivity, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scheduler{
		pusher: pusher,
		retry:  retryQueue,
		cache:  cache,
		conn:   conn,
		config: config,
		stopCh: make(chan struct{}),
	}
}

// Start launches the background loops and hooks the connectivity
// signal for opportunistic runs on offline→online transitions.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.conn.Subscribe(func(online bool) {
		if !online {
			return
		}
		// Connectivity restored: push what accumulated while offline
		// and refresh the validation snapshot.
		go s.runDrain(ctx)
		go s.runRetry(ctx)
		go s.runRefresh(ctx)
	})

	s.wg.Add(3)
	go s.loop(ctx, s.config.DrainInterval, s.runDrain)
	go s.loop(ctx, s.config.RetryInterval, s.runRetry)
	go s.loop(ctx, s.config.CacheRefreshInterval, s.runRefresh)

	logging.Info("Background scheduler started", nil)
}

// Stop halts all loops and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Background scheduler stopped", nil)
}

// loop ticks one background task on its interval.
func (s *Scheduler) loop(ctx context.Context, interval time.Duration, run func(context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

// runDrain executes one batched queue drain if online and not
// already draining.
func (s *Scheduler) runDrain(ctx context.Context) {
	if !s.conn.Online() {
		return
	}

	s.mu.Lock()
	if s.drainInFlight {
		s.mu.Unlock()
		return
	}
	s.drainInFlight = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.drainInFlight = false
		s.lastDrainAt = time.Now()
		s.mu.Unlock()
	}()

	result, err := s.pusher.DrainQueue(ctx, s.config.DrainTimeout)
	if err != nil {
		logging.Warn("Scheduled drain failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	if result.Processed > 0 || result.Failed > 0 || result.Conflicts > 0 {
		logging.Info("Scheduled drain completed", map[string]interface{}{
			"processed": result.Processed,
			"failed":    result.Failed,
			"conflicts": result.Conflicts,
		})
	}
}

// runRetry reprocesses the retry queue if online.
func (s *Scheduler) runRetry(ctx context.Context) {
	if !s.conn.Online() || s.retry.Len() == 0 {
		return
	}

	s.mu.Lock()
	if s.retryInFlight {
		s.mu.Unlock()
		return
	}
	s.retryInFlight = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.retryInFlight = false
		s.mu.Unlock()
	}()

	result := s.retry.ProcessRetryQueue(ctx)
	logging.Info("Retry pass completed", map[string]interface{}{
		"attempted": len(result.Results),
		"remaining": result.RemainingInQueue,
	})
}

// runRefresh refreshes the offline validation snapshot if online.
// The cache enforces its own lower bound, so an opportunistic call
// right after an interval tick is harmless.
func (s *Scheduler) runRefresh(ctx context.Context) {
	if !s.conn.Online() {
		return
	}

	s.mu.Lock()
	if s.refreshInFlight {
		s.mu.Unlock()
		return
	}
	s.refreshInFlight = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.refreshInFlight = false
		s.mu.Unlock()
	}()

	if err := s.cache.Refresh(ctx); err != nil {
		logging.Warn("Scheduled cache refresh failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// Status reports the scheduler's current state.
type Status struct {
	IsRunning     bool       `json:"is_running"`
	Online        bool       `json:"online"`
	DrainInFlight bool       `json:"drain_in_flight"`
	RetryPending  int        `json:"retry_pending"`
	LastDrainAt   *time.Time `json:"last_drain_at,omitempty"`
}

// GetStatus returns a snapshot of the scheduler state.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		IsRunning:     s.isRunning,
		Online:        s.conn.Online(),
		DrainInFlight: s.drainInFlight,
		RetryPending:  s.retry.Len(),
	}
	if !s.lastDrainAt.IsZero() {
		t := s.lastDrainAt
		status.LastDrainAt = &t
	}
	return status
}
