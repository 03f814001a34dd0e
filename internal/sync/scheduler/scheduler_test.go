// Package scheduler tests for background sync scheduling functionality.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wzl2223096755/AFitness-sub001/internal/models"
	syncpkg "github.com/wzl2223096755/AFitness-sub001/internal/sync"
)

// =====================================================
// Test Helpers
// =====================================================

// fakeEngine counts drains and reports a configurable state.
type fakeEngine struct {
	mu      sync.Mutex
	online  bool
	syncing bool
	calls   atomic.Int32
	result  syncpkg.Result
	block   chan struct{}
}

func (e *fakeEngine) TriggerSync(ctx context.Context) syncpkg.Result {
	e.calls.Add(1)
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.online {
		return syncpkg.Result{Reason: syncpkg.ReasonOffline}
	}
	return e.result
}

func (e *fakeEngine) Notify() {}

func (e *fakeEngine) State() models.SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return models.SyncState{IsOnline: e.online, SyncInProgress: e.syncing, Status: models.SyncStatusIdle}
}

func (e *fakeEngine) setOnline(v bool) {
	e.mu.Lock()
	e.online = v
	e.mu.Unlock()
}

func createTestScheduler(t *testing.T, online bool) (*fakeEngine, *Scheduler) {
	t.Helper()
	engine := &fakeEngine{online: online, result: syncpkg.Result{Success: true, Sent: 1}}
	scheduler := NewScheduler(engine, &SchedulerConfig{
		SyncInterval: 20 * time.Millisecond,
		Timeout:      time.Second,
	})
	t.Cleanup(scheduler.Stop)
	return engine, scheduler
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// =====================================================
// Config Tests
// =====================================================

func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()

	if config.SyncInterval != 5*time.Minute {
		t.Errorf("SyncInterval = %v, want 5m", config.SyncInterval)
	}
	if config.Timeout != 5*time.Minute {
		t.Errorf("Timeout = %v, want 5m", config.Timeout)
	}
}

func TestNewScheduler_nilConfig(t *testing.T) {
	scheduler := NewScheduler(&fakeEngine{}, nil)

	if scheduler.syncInterval != 5*time.Minute {
		t.Errorf("syncInterval = %v, want 5m (default)", scheduler.syncInterval)
	}
}

func TestNewScheduler_zeroValuesUseDefaults(t *testing.T) {
	scheduler := NewScheduler(&fakeEngine{}, &SchedulerConfig{})

	if scheduler.syncInterval != 5*time.Minute || scheduler.timeout != 5*time.Minute {
		t.Errorf("got interval %v timeout %v, want defaults", scheduler.syncInterval, scheduler.timeout)
	}
}

// =====================================================
// Start/Stop Tests
// =====================================================

func TestScheduler_StartStop(t *testing.T) {
	_, scheduler := createTestScheduler(t, false)

	scheduler.Start(context.Background())
	if !scheduler.IsRunning() {
		t.Error("Start() should set isRunning to true")
	}

	// second start is ignored
	scheduler.Start(context.Background())

	scheduler.Stop()
	if scheduler.IsRunning() {
		t.Error("Stop() should set isRunning to false")
	}
	scheduler.Stop()
}

func TestScheduler_Stop_withoutStart(t *testing.T) {
	_, scheduler := createTestScheduler(t, false)

	scheduler.Stop()

	if scheduler.IsRunning() {
		t.Error("Stop() without Start should keep scheduler not running")
	}
}

func TestScheduler_Restart(t *testing.T) {
	engine, scheduler := createTestScheduler(t, true)

	scheduler.Start(context.Background())
	scheduler.Stop()
	scheduler.Start(context.Background())

	waitFor(t, func() bool { return engine.calls.Load() > 0 })
}

// =====================================================
// Periodic Sync Tests
// =====================================================

func TestScheduler_drainsPeriodicallyWhenOnline(t *testing.T) {
	engine, scheduler := createTestScheduler(t, true)

	scheduler.Start(context.Background())

	waitFor(t, func() bool { return engine.calls.Load() >= 2 })

	status := scheduler.GetStatus()
	if status.LastRun == nil {
		t.Fatal("LastRun should be set after a periodic drain")
	}
	if status.LastResult == nil || !status.LastResult.Success {
		t.Errorf("LastResult = %+v, want success", status.LastResult)
	}
}

func TestScheduler_skipsWhileOffline(t *testing.T) {
	engine, scheduler := createTestScheduler(t, false)

	scheduler.Start(context.Background())
	time.Sleep(100 * time.Millisecond)

	if n := engine.calls.Load(); n != 0 {
		t.Errorf("TriggerSync called %d times while offline, want 0", n)
	}

	engine.setOnline(true)
	waitFor(t, func() bool { return engine.calls.Load() > 0 })
}

func TestScheduler_skipsWhileSyncing(t *testing.T) {
	engine, scheduler := createTestScheduler(t, true)
	engine.syncing = true

	scheduler.Start(context.Background())
	time.Sleep(100 * time.Millisecond)

	if n := engine.calls.Load(); n != 0 {
		t.Errorf("TriggerSync called %d times during an active drain, want 0", n)
	}
}

func TestScheduler_contextCancelStopsLoop(t *testing.T) {
	engine, scheduler := createTestScheduler(t, true)
	ctx, cancel := context.WithCancel(context.Background())

	scheduler.Start(ctx)
	waitFor(t, func() bool { return engine.calls.Load() > 0 })
	cancel()
	time.Sleep(50 * time.Millisecond)

	after := engine.calls.Load()
	time.Sleep(100 * time.Millisecond)
	if engine.calls.Load() != after {
		t.Error("loop should stop draining after context cancellation")
	}
}

// =====================================================
// Manual Trigger Tests
// =====================================================

func TestScheduler_TriggerSync(t *testing.T) {
	engine := &fakeEngine{online: true, result: syncpkg.Result{Success: true}}
	scheduler := NewScheduler(engine, &SchedulerConfig{SyncInterval: time.Hour, Timeout: time.Second})
	scheduler.Start(context.Background())
	t.Cleanup(scheduler.Stop)

	if !scheduler.TriggerSync(context.Background()) {
		t.Fatal("TriggerSync() should start a drain when online")
	}
	waitFor(t, func() bool { return engine.calls.Load() == 1 })
}

func TestScheduler_TriggerSync_stopped(t *testing.T) {
	engine := &fakeEngine{online: true, result: syncpkg.Result{Success: true}}
	scheduler := NewScheduler(engine, &SchedulerConfig{SyncInterval: time.Hour, Timeout: time.Second})

	if scheduler.TriggerSync(context.Background()) {
		t.Error("TriggerSync() should refuse before Start")
	}

	scheduler.Start(context.Background())
	scheduler.Stop()
	if scheduler.TriggerSync(context.Background()) {
		t.Error("TriggerSync() should refuse after Stop")
	}
	if n := engine.calls.Load(); n != 0 {
		t.Errorf("engine called %d times, want 0", n)
	}
}

func TestScheduler_TriggerSyncDuringStop(t *testing.T) {
	engine := &fakeEngine{online: true, result: syncpkg.Result{Success: true}}
	scheduler := NewScheduler(engine, &SchedulerConfig{SyncInterval: time.Hour, Timeout: time.Second})
	scheduler.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				scheduler.TriggerSync(context.Background())
			}
		}()
	}
	scheduler.Stop()
	wg.Wait()

	after := engine.calls.Load()
	if scheduler.TriggerSync(context.Background()) {
		t.Error("TriggerSync() should refuse after Stop")
	}
	if engine.calls.Load() != after {
		t.Error("no drain may start once Stop returned")
	}
}

func TestScheduler_TriggerSync_offline(t *testing.T) {
	engine, scheduler := createTestScheduler(t, false)

	if scheduler.TriggerSync(context.Background()) {
		t.Error("TriggerSync() should refuse while offline")
	}
	if engine.calls.Load() != 0 {
		t.Error("engine should not be called while offline")
	}
}

func TestScheduler_SyncNow(t *testing.T) {
	engine, scheduler := createTestScheduler(t, true)
	engine.result = syncpkg.Result{Reason: syncpkg.ReasonFailed, Sent: 2, Failed: 1}

	result := scheduler.SyncNow(context.Background())

	if result.Success || result.Failed != 1 || result.Sent != 2 {
		t.Errorf("SyncNow() = %+v, want the engine result", result)
	}
	if got := scheduler.GetStatus().LastResult; got == nil || got.Reason != syncpkg.ReasonFailed {
		t.Errorf("LastResult = %+v, want failed", got)
	}
}

func TestScheduler_SyncNow_timeout(t *testing.T) {
	engine := &fakeEngine{online: true, block: make(chan struct{})}
	scheduler := NewScheduler(engine, &SchedulerConfig{SyncInterval: time.Hour, Timeout: 30 * time.Millisecond})

	start := time.Now()
	scheduler.SyncNow(context.Background())

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("SyncNow() took %v, want it bounded by the timeout", elapsed)
	}
}

// =====================================================
// Concurrency Tests
// =====================================================

func TestScheduler_concurrentStatus(t *testing.T) {
	_, scheduler := createTestScheduler(t, true)
	scheduler.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = scheduler.GetStatus()
				_ = scheduler.IsRunning()
			}
		}()
	}
	wg.Wait()
}
