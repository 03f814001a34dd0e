// Package sync replays queued offline mutations against the backend.
//
// The Manager owns the sync state machine (idle, syncing, error). A drain
// sends pending items strictly one at a time in queue order, retries
// retryable failures in place according to the retry policy, isolates
// terminal failures to the item (and later items of the same entity), and
// stops without consuming attempts when connectivity is lost.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/cheggaaa/mb/v3"

	"github.com/wzl2223096755/AFitness-sub001/internal/connectivity"
	apperrors "github.com/wzl2223096755/AFitness-sub001/internal/errors"
	"github.com/wzl2223096755/AFitness-sub001/internal/logging"
	"github.com/wzl2223096755/AFitness-sub001/internal/models"
	"github.com/wzl2223096755/AFitness-sub001/internal/remote"
	"github.com/wzl2223096755/AFitness-sub001/internal/sync/events"
	"github.com/wzl2223096755/AFitness-sub001/internal/sync/queue"
	"github.com/wzl2223096755/AFitness-sub001/internal/sync/retry"
	"github.com/wzl2223096755/AFitness-sub001/internal/telemetry"
)

// Reasons reported in an unsuccessful Result.
const (
	ReasonOffline     = "offline"
	ReasonInProgress  = "in_progress"
	ReasonInterrupted = "interrupted"
	ReasonFailed      = "failed"
	ReasonStorage     = "storage_error"
	ReasonClosed      = "closed"
)

// Queue is the part of the queue store the manager drives.
type Queue interface {
	ListPending() ([]models.SyncItem, error)
	List(statuses ...models.ItemStatus) []models.SyncItem
	MarkStatus(id string, status models.ItemStatus, opts ...queue.MarkOption) error
	Requeue(id string) error
	Remove(id string) error
	Stats() models.QueueStats
	LastSync() (time.Time, bool, error)
	SetLastSync(t time.Time) error
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Queue      Queue
	Monitor    *connectivity.Monitor
	Bus        *events.Bus
	Dispatcher remote.Dispatcher
	// Policy defaults to retry.DefaultPolicy when MaxAttempts is zero.
	Policy  retry.Policy
	Metrics *telemetry.Metrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source for LastSyncTime.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Result describes the outcome of TriggerSync.
type Result struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	Blocked int    `json:"blocked"`
}

// Manager drains the queue against the backend.
type Manager struct {
	queue      Queue
	monitor    *connectivity.Monitor
	bus        *events.Bus
	dispatcher remote.Dispatcher
	policy     retry.Policy
	metrics    *telemetry.Metrics
	now        func() time.Time
	log        *logging.Logger

	mu        gosync.RWMutex
	state     models.SyncState
	interrupt context.CancelFunc
	idle      chan struct{} // closed when the active drain ends
	started   bool
	closed    bool

	wake        *mb.MB[struct{}]
	unsubscribe func()
	cancel      context.CancelFunc
	wg          gosync.WaitGroup
}

// NewManager builds a manager and restores its state from the queue.
func NewManager(deps Deps, opts ...Option) (*Manager, error) {
	if deps.Queue == nil || deps.Monitor == nil || deps.Dispatcher == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "sync manager requires a queue, a monitor and a dispatcher")
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus()
	}
	if deps.Policy.MaxAttempts == 0 {
		deps.Policy = retry.DefaultPolicy()
	}

	m := &Manager{
		queue:      deps.Queue,
		monitor:    deps.Monitor,
		bus:        deps.Bus,
		dispatcher: deps.Dispatcher,
		policy:     deps.Policy,
		metrics:    deps.Metrics,
		now:        time.Now,
		log:        logging.Get().Named("sync"),
		wake:       mb.New[struct{}](0),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.state.Status = models.SyncStatusIdle
	if m.queue.Stats().Failed > 0 {
		m.state.Status = models.SyncStatusError
	}
	last, ok, err := m.queue.LastSync()
	if err != nil {
		return nil, err
	}
	if ok {
		m.state.LastSyncTime = &last
	}
	m.metrics.Online(m.monitor.IsOnline())
	m.metrics.QueueStats(m.queue.Stats())
	return m, nil
}

// Bus returns the event bus the manager emits on.
func (m *Manager) Bus() *events.Bus {
	return m.bus
}

// Start subscribes to connectivity changes and starts the background runner
// that drains on wake-ups. If the device is online and items are pending, a
// drain is scheduled immediately.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started || m.closed {
		m.mu.Unlock()
		return
	}
	m.started = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	m.unsubscribe = m.monitor.Subscribe(m.onConnectivity)

	m.wg.Add(1)
	go m.run(runCtx)

	if m.monitor.IsOnline() && m.queue.Stats().Pending > 0 {
		m.Notify()
	}
	m.log.Info("Sync manager started", map[string]interface{}{"online": m.monitor.IsOnline()})
}

// Notify tells the manager new work may be pending. Wake-ups are coalesced;
// nothing happens while offline.
func (m *Manager) Notify() {
	if !m.monitor.IsOnline() {
		return
	}
	m.mu.RLock()
	started := m.started && !m.closed
	m.mu.RUnlock()
	if !started {
		return
	}
	if err := m.wake.Add(context.Background(), struct{}{}); err != nil {
		m.log.Debug("wake-up dropped", map[string]interface{}{"error": err.Error()})
	}
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	for {
		// Wait returns every queued wake-up at once
		if _, err := m.wake.Wait(ctx); err != nil {
			return
		}
		res := m.TriggerSync(ctx)
		if res.Reason == ReasonInProgress {
			// a manual trigger is draining; its snapshot may miss new items
			m.waitIdle(ctx)
			m.Notify()
		}
	}
}

// waitIdle blocks until the active drain finishes.
func (m *Manager) waitIdle(ctx context.Context) {
	m.mu.RLock()
	idle := m.idle
	m.mu.RUnlock()
	if idle == nil {
		return
	}
	select {
	case <-idle:
	case <-ctx.Done():
	}
}

func (m *Manager) onConnectivity(online bool) {
	m.metrics.Online(online)
	m.mu.Lock()
	m.state.IsOnline = online
	interrupt := m.interrupt
	m.mu.Unlock()

	m.bus.Emit(events.ConnectivityChanged{Online: online})

	if online {
		m.Notify()
		return
	}
	if interrupt != nil {
		interrupt()
	}
}

// State returns a snapshot of the sync state.
func (m *Manager) State() models.SyncState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.state
	s.IsOnline = m.monitor.IsOnline()
	if s.LastSyncTime != nil {
		t := *s.LastSyncTime
		s.LastSyncTime = &t
	}
	return s
}

// TriggerSync drains the queue on the calling goroutine. It returns at once
// when offline or when another drain is active.
func (m *Manager) TriggerSync(ctx context.Context) Result {
	if !m.monitor.IsOnline() {
		return Result{Reason: ReasonOffline}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Result{Reason: ReasonClosed}
	}
	if m.state.SyncInProgress {
		m.mu.Unlock()
		return Result{Reason: ReasonInProgress}
	}
	m.state.SyncInProgress = true
	m.state.Status = models.SyncStatusSyncing
	drainCtx, cancel := context.WithCancel(ctx)
	m.interrupt = cancel
	m.idle = make(chan struct{})
	m.mu.Unlock()
	defer cancel()

	// connectivity may have dropped between the check and the claim
	if !m.monitor.IsOnline() {
		cancel()
	}

	return m.drain(drainCtx)
}

// outcome of sending one item
type outcome int

const (
	outcomeDone outcome = iota
	outcomeSkipped
	outcomeFailed
	outcomeInterrupted
)

// drainStats accumulates per-drain counters.
type drainStats struct {
	total   int
	sent    int
	failed  int
	blocked int
}

func (m *Manager) drain(ctx context.Context) Result {
	started := time.Now()

	// an aborted drain can leave items behind that no later drain would list
	for _, stuck := range m.queue.List(models.ItemStatusInFlight) {
		if err := m.queue.Requeue(stuck.ID); err != nil {
			m.log.Error("failed to persist requeued item", err, map[string]interface{}{"item_id": stuck.ID})
		}
	}
	for _, done := range m.queue.List(models.ItemStatusDone) {
		if err := m.queue.Remove(done.ID); err != nil {
			return m.finishStorageError(drainStats{}, err, started)
		}
	}

	items, err := m.queue.ListPending()
	if err != nil {
		return m.finishStorageError(drainStats{}, err, started)
	}
	st := drainStats{total: len(items)}

	m.log.Info("Starting sync", map[string]interface{}{"pending": st.total})
	m.bus.Emit(events.SyncStarted{Total: st.total})

	// entities with a terminally failed item; their later items must wait
	blockedBy := make(map[string]models.SyncItem)
	for _, f := range m.queue.List(models.ItemStatusFailed) {
		if key := f.EntityKey(); key != "" {
			if prev, ok := blockedBy[key]; !ok || f.Before(&prev) {
				blockedBy[key] = f
			}
		}
	}

	for i, item := range items {
		if ctx.Err() != nil || !m.monitor.IsOnline() {
			return m.finishInterrupted(st, st.total-i, started)
		}

		if key := item.EntityKey(); key != "" {
			if dep, ok := blockedBy[key]; ok && dep.Before(&item) {
				st.blocked++
				m.log.Debug("item blocked by failed dependency", map[string]interface{}{
					"item_id":    item.ID,
					"depends_on": dep.ID,
				})
				continue
			}
		}

		out, err := m.send(ctx, item)
		if err != nil {
			// the item may have reached the server; its id is the idempotency key
			if rqErr := m.queue.Requeue(item.ID); rqErr != nil {
				m.log.Error("failed to persist requeued item", rqErr, map[string]interface{}{"item_id": item.ID})
			}
			return m.finishStorageError(st, err, started)
		}
		switch out {
		case outcomeDone:
			st.sent++
			m.bus.Emit(events.SyncProgress{Current: i + 1, Total: st.total, ItemID: item.ID})
		case outcomeSkipped:
		case outcomeFailed:
			st.failed++
			if key := item.EntityKey(); key != "" {
				if _, ok := blockedBy[key]; !ok {
					blockedBy[key] = item
				}
			}
		case outcomeInterrupted:
			return m.finishInterrupted(st, st.total-i, started)
		}
	}

	if st.failed > 0 || st.blocked > 0 {
		return m.finishFailed(st, nil, started)
	}
	if ctx.Err() != nil {
		return m.finishInterrupted(st, 0, started)
	}
	return m.finishCompleted(st, started)
}

// send delivers one item, retrying retryable failures in place. A non-nil
// error is a storage failure that aborts the drain.
func (m *Manager) send(ctx context.Context, item models.SyncItem) (outcome, error) {
	attempts := item.Attempts
	for {
		if err := m.queue.MarkStatus(item.ID, models.ItemStatusInFlight); err != nil {
			if apperrors.IsNotFound(err) {
				m.log.Warn("item vanished before send", map[string]interface{}{"item_id": item.ID})
				return outcomeSkipped, nil
			}
			return outcomeFailed, err
		}

		sendErr := m.dispatcher.Send(ctx, item)
		if sendErr == nil {
			m.metrics.ItemSent(item)
			return outcomeDone, m.complete(item)
		}

		if ctx.Err() != nil || !m.monitor.IsOnline() {
			// not the item's fault; keep its attempt budget
			if err := m.markIgnoringNotFound(item.ID, models.ItemStatusPending, queue.WithAttempts(attempts)); err != nil {
				return outcomeInterrupted, err
			}
			return outcomeInterrupted, nil
		}

		attempts++
		terminal := remote.Permanent(sendErr) || m.policy.Exhausted(attempts)
		m.metrics.ItemFailed(item, terminal)
		m.bus.Emit(events.ItemFailed{
			ItemID:   item.ID,
			Domain:   item.Domain,
			Action:   item.Action,
			Attempts: attempts,
			Terminal: terminal,
			Err:      sendErr.Error(),
		})

		if terminal {
			m.log.ErrorWithCode("Item failed permanently", string(apperrors.CodeOf(sendErr)), sendErr, map[string]interface{}{
				"item_id":  item.ID,
				"domain":   item.Domain,
				"action":   item.Action,
				"attempts": attempts,
			})
			err := m.markIgnoringNotFound(item.ID, models.ItemStatusFailed,
				queue.WithAttempts(attempts), queue.WithLastError(sendErr))
			return outcomeFailed, err
		}

		if err := m.markIgnoringNotFound(item.ID, models.ItemStatusPending,
			queue.WithAttempts(attempts), queue.WithLastError(sendErr)); err != nil {
			return outcomeFailed, err
		}

		delay := m.policy.Backoff(attempts)
		m.log.Warn("Item send failed, retrying", map[string]interface{}{
			"item_id":  item.ID,
			"attempt":  attempts,
			"max":      m.policy.MaxAttempts,
			"delay_ms": delay.Milliseconds(),
			"error":    sendErr.Error(),
		})
		if !m.policy.Wait(ctx, attempts, nil) || !m.monitor.IsOnline() {
			return outcomeInterrupted, nil
		}
	}
}

func (m *Manager) complete(item models.SyncItem) error {
	if err := m.markIgnoringNotFound(item.ID, models.ItemStatusDone, queue.WithLastError(nil)); err != nil {
		return err
	}
	return m.queue.Remove(item.ID)
}

func (m *Manager) markIgnoringNotFound(id string, status models.ItemStatus, opts ...queue.MarkOption) error {
	err := m.queue.MarkStatus(id, status, opts...)
	if apperrors.IsNotFound(err) {
		m.log.Warn("item already processed", map[string]interface{}{"item_id": id, "status": status})
		return nil
	}
	return err
}

func (m *Manager) endDrain(status models.SyncStatus, lastSync *time.Time) {
	m.mu.Lock()
	m.state.SyncInProgress = false
	m.state.Status = status
	if lastSync != nil {
		t := *lastSync
		m.state.LastSyncTime = &t
	}
	m.interrupt = nil
	if m.idle != nil {
		close(m.idle)
		m.idle = nil
	}
	m.mu.Unlock()
	m.metrics.QueueStats(m.queue.Stats())
}

func (m *Manager) finishCompleted(st drainStats, started time.Time) Result {
	at := m.now()
	if err := m.queue.SetLastSync(at); err != nil {
		m.log.Error("failed to persist last sync time", err)
	}
	m.endDrain(models.SyncStatusIdle, &at)
	m.metrics.DrainFinished(telemetry.OutcomeCompleted, time.Since(started).Seconds())

	m.log.Info("Sync completed", map[string]interface{}{"sent": st.sent})
	m.bus.Emit(events.SyncCompleted{Sent: st.sent, At: at})
	return Result{Success: true, Sent: st.sent}
}

func (m *Manager) finishFailed(st drainStats, err error, started time.Time) Result {
	m.endDrain(models.SyncStatusError, nil)
	m.metrics.DrainFinished(telemetry.OutcomeFailed, time.Since(started).Seconds())

	ev := events.SyncFailed{Sent: st.sent, Failed: st.failed, Blocked: st.blocked}
	reason := ReasonFailed
	if err != nil {
		ev.Err = err.Error()
		reason = ReasonStorage
	} else {
		ev.Err = fmt.Sprintf("%d item(s) failed, %d blocked", st.failed, st.blocked)
	}
	m.log.Warn("Sync finished with failures", map[string]interface{}{
		"sent":    st.sent,
		"failed":  st.failed,
		"blocked": st.blocked,
	})
	m.bus.Emit(ev)
	return Result{Reason: reason, Sent: st.sent, Failed: st.failed, Blocked: st.blocked}
}

func (m *Manager) finishStorageError(st drainStats, err error, started time.Time) Result {
	m.log.ErrorWithCode("Sync aborted", string(apperrors.ErrStorage), err)
	return m.finishFailed(st, err, started)
}

func (m *Manager) finishInterrupted(st drainStats, remaining int, started time.Time) Result {
	m.endDrain(models.SyncStatusIdle, nil)
	m.metrics.DrainFinished(telemetry.OutcomeInterrupted, time.Since(started).Seconds())

	m.log.Info("Sync interrupted", map[string]interface{}{
		"sent":      st.sent,
		"remaining": remaining,
	})
	m.bus.Emit(events.SyncInterrupted{Sent: st.sent, Remaining: remaining})
	return Result{Reason: ReasonInterrupted, Sent: st.sent, Failed: st.failed, Blocked: st.blocked}
}

// Close unsubscribes from connectivity, stops the runner and waits for it.
// An active drain observes cancellation and leaves remaining items pending.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel := m.cancel
	interrupt := m.interrupt
	m.mu.Unlock()

	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	if interrupt != nil {
		interrupt()
	}
	if cancel != nil {
		cancel()
	}
	err := m.wake.Close()
	m.wg.Wait()
	m.log.Info("Sync manager stopped")
	if err != nil && err != mb.ErrClosed {
		return err
	}
	return nil
}
