// Package scheduler runs periodic background drains of the sync queue.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/wzl2223096755/AFitness-sub001/internal/errors"
	"github.com/wzl2223096755/AFitness-sub001/internal/logging"
	syncpkg "github.com/wzl2223096755/AFitness-sub001/internal/sync"
)

// Scheduler periodically asks the sync engine to drain while online.
type Scheduler struct {
	engine       syncpkg.Engine
	syncInterval time.Duration
	timeout      time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.RWMutex
	isRunning    bool
	lastRun      time.Time
	lastResult   *syncpkg.Result
	log          *logging.Logger
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval time.Duration // How often to drain when online (default: 5 minutes)
	Timeout      time.Duration // Upper bound for one scheduled drain (default: 5 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval: 5 * time.Minute,
		Timeout:      5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(engine syncpkg.Engine, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	def := DefaultSchedulerConfig()
	if config.SyncInterval <= 0 {
		config.SyncInterval = def.SyncInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}

	return &Scheduler{
		engine:       engine,
		syncInterval: config.SyncInterval,
		timeout:      config.Timeout,
		log:          logging.Get().Named("scheduler"),
	}
}

// Start starts the background sync scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.periodicSyncLoop(ctx, stopCh)

	s.log.Info("Background sync scheduler started",
		map[string]interface{}{"interval_seconds": s.syncInterval.Seconds()})
}

// Stop stops the background sync scheduler gracefully.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	s.log.Info("Background sync scheduler stopped")
}

func (s *Scheduler) periodicSyncLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if !s.engine.State().IsOnline {
				continue
			}
			if s.engine.State().SyncInProgress {
				s.log.Debug("Sync already in progress, skipping")
				continue
			}
			s.runSync(ctx)
		}
	}
}

// runSync executes one bounded drain and records its result.
func (s *Scheduler) runSync(ctx context.Context) syncpkg.Result {
	syncCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result := s.engine.TriggerSync(syncCtx)

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastResult = &result
	s.mu.Unlock()

	switch {
	case result.Success:
		s.log.Info("Periodic sync completed", map[string]interface{}{"sent": result.Sent})
	case result.Reason == syncpkg.ReasonOffline || result.Reason == syncpkg.ReasonInProgress:
		s.log.Debug("Periodic sync skipped", map[string]interface{}{"reason": result.Reason})
	default:
		s.log.Warn("Periodic sync did not complete", map[string]interface{}{
			"reason":     result.Reason,
			"error_code": string(errors.ErrSyncFailed),
			"sent":       result.Sent,
			"failed":     result.Failed,
			"blocked":    result.Blocked,
		})
	}
	return result
}

// TriggerSync starts an immediate drain in the background.
// Returns true if it was started, false if the scheduler is stopped, offline
// or already syncing.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	state := s.engine.State()
	if !state.IsOnline || state.SyncInProgress {
		return false
	}

	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return false
	}
	// Stop flips isRunning under the lock before waiting
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.runSync(ctx)
	}()
	return true
}

// SyncNow drains immediately and waits for completion.
func (s *Scheduler) SyncNow(ctx context.Context) syncpkg.Result {
	return s.runSync(ctx)
}

// SchedulerStatus is a snapshot of the scheduler.
type SchedulerStatus struct {
	IsRunning  bool            `json:"is_running"`
	Interval   time.Duration   `json:"interval"`
	LastRun    *time.Time      `json:"last_run,omitempty"`
	LastResult *syncpkg.Result `json:"last_result,omitempty"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning: s.isRunning,
		Interval:  s.syncInterval,
	}
	if !s.lastRun.IsZero() {
		t := s.lastRun
		status.LastRun = &t
	}
	if s.lastResult != nil {
		r := *s.lastResult
		status.LastResult = &r
	}
	return status
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
