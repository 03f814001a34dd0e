// Package facade adapts the sync manager, queue and event bus into
// observable state for a UI layer.
package facade

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/wzl2223096755/AFitness-sub001/internal/errors"
	"github.com/wzl2223096755/AFitness-sub001/internal/logging"
	"github.com/wzl2223096755/AFitness-sub001/internal/models"
	syncpkg "github.com/wzl2223096755/AFitness-sub001/internal/sync"
	"github.com/wzl2223096755/AFitness-sub001/internal/sync/events"
	"github.com/wzl2223096755/AFitness-sub001/internal/uuid"
)

// Queue is the part of the queue store the facade uses.
type Queue interface {
	Enqueue(domain models.Domain, action models.Action, payload json.RawMessage) (string, error)
	Stats() models.QueueStats
	RetryFailed() (int, error)
	Discard(id string) error
}

// Progress is the position of the active drain.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// State is what a UI renders.
type State struct {
	IsOnline       bool              `json:"is_online"`
	IsOffline      bool              `json:"is_offline"`
	Status         models.SyncStatus `json:"status"`
	SyncInProgress bool              `json:"sync_in_progress"`
	PendingCount   int               `json:"pending_count"`
	FailedCount    int               `json:"failed_count"`
	StatusMessage  string            `json:"status_message"`
	Progress       Progress          `json:"progress"`
	LastSyncTime   *time.Time        `json:"last_sync_time,omitempty"`
}

func (s State) equal(o State) bool {
	if (s.LastSyncTime == nil) != (o.LastSyncTime == nil) {
		return false
	}
	if s.LastSyncTime != nil && !s.LastSyncTime.Equal(*o.LastSyncTime) {
		return false
	}
	s.LastSyncTime, o.LastSyncTime = nil, nil
	return s == o
}

type observer struct {
	id uint64
	fn func(State)
}

// Facade is the UI-facing entry point of the sync core.
type Facade struct {
	engine syncpkg.Engine
	queue  Queue
	bus    *events.Bus
	log    *logging.Logger

	mu        sync.Mutex
	state     State
	progress  Progress
	detach    func()
	nextID    uint64
	observers []observer

	// serializes recompute and delivery so observers see states in order
	update sync.Mutex
}

// New creates an inactive facade.
func New(engine syncpkg.Engine, queue Queue, bus *events.Bus) *Facade {
	f := &Facade{
		engine: engine,
		queue:  queue,
		bus:    bus,
		log:    logging.Get().Named("facade"),
	}
	f.state = f.compute()
	return f
}

// Activate subscribes to the bus and loads current counts. Calling it on an
// active facade has no effect.
func (f *Facade) Activate() {
	f.mu.Lock()
	if f.detach != nil {
		f.mu.Unlock()
		return
	}
	f.detach = f.bus.AddListener(f.onEvent)
	f.mu.Unlock()

	f.refresh()
}

// Deactivate detaches from the bus. Observers stay registered but receive
// no further updates until the next Activate.
func (f *Facade) Deactivate() {
	f.mu.Lock()
	detach := f.detach
	f.detach = nil
	f.progress = Progress{}
	f.mu.Unlock()

	if detach != nil {
		detach()
	}
}

// Active reports whether the facade is attached to the bus.
func (f *Facade) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detach != nil
}

// State returns the latest observable state.
func (f *Facade) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Observe registers fn for state changes and returns a function removing it.
// fn is not called for the current state. It runs on the goroutine that
// caused the change and must not call facade commands synchronously.
func (f *Facade) Observe(fn func(State)) (cancel func()) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.observers = append(f.observers, observer{id: id, fn: fn})
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			for i, o := range f.observers {
				if o.id == id {
					f.observers = append(f.observers[:i:i], f.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// Observers returns the number of registered observers.
func (f *Facade) Observers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.observers)
}

func (f *Facade) onEvent(ev events.Event) {
	f.mu.Lock()
	switch e := ev.(type) {
	case events.SyncStarted:
		f.progress = Progress{Total: e.Total}
	case events.SyncProgress:
		f.progress = Progress{Current: e.Current, Total: e.Total}
	case events.SyncCompleted, events.SyncFailed, events.SyncInterrupted:
		f.progress = Progress{}
	}
	f.mu.Unlock()

	f.refresh()
}

// compute derives the state from the manager and the queue counts.
func (f *Facade) compute() State {
	ss := f.engine.State()
	stats := f.queue.Stats()

	f.mu.Lock()
	progress := f.progress
	f.mu.Unlock()

	s := State{
		IsOnline:       ss.IsOnline,
		IsOffline:      !ss.IsOnline,
		Status:         ss.Status,
		SyncInProgress: ss.SyncInProgress,
		PendingCount:   stats.Outstanding(),
		FailedCount:    stats.Failed,
		LastSyncTime:   ss.LastSyncTime,
	}
	// a discarded failure leaves nothing to report
	if s.Status == models.SyncStatusError && s.FailedCount == 0 && !s.SyncInProgress {
		s.Status = models.SyncStatusIdle
	}
	if s.SyncInProgress {
		s.Progress = progress
	}
	s.StatusMessage = statusMessage(s)
	return s
}

func (f *Facade) refresh() {
	f.update.Lock()
	defer f.update.Unlock()

	next := f.compute()

	f.mu.Lock()
	changed := !f.state.equal(next)
	f.state = next
	observers := make([]observer, len(f.observers))
	copy(observers, f.observers)
	f.mu.Unlock()

	if !changed {
		return
	}
	for _, o := range observers {
		f.deliver(o, next)
	}
}

func (f *Facade) deliver(o observer, s State) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("state observer panicked", fmt.Errorf("%v", r), map[string]interface{}{
				"observer": o.id,
			})
		}
	}()
	o.fn(s)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}

func statusMessage(s State) string {
	switch {
	case s.SyncInProgress && s.Progress.Total > 0:
		return fmt.Sprintf("Syncing %d of %d", s.Progress.Current, s.Progress.Total)
	case s.SyncInProgress:
		return "Syncing..."
	case s.FailedCount > 0:
		return plural(s.FailedCount, "change", "changes") + " failed to sync"
	case s.IsOffline && s.PendingCount > 0:
		return "Offline - " + plural(s.PendingCount, "change", "changes") + " waiting to sync"
	case s.IsOffline:
		return "Offline"
	case s.PendingCount > 0:
		return plural(s.PendingCount, "change", "changes") + " pending"
	default:
		return "All changes synced"
	}
}

// =====================================================
// Commands
// =====================================================

// AddTrainingToSync queues a training record mutation.
func (f *Facade) AddTrainingToSync(ctx context.Context, action models.Action, data interface{}) (string, error) {
	return f.add(ctx, models.DomainTraining, action, data)
}

// AddNutritionToSync queues a nutrition record mutation.
func (f *Facade) AddNutritionToSync(ctx context.Context, action models.Action, data interface{}) (string, error) {
	return f.add(ctx, models.DomainNutrition, action, data)
}

// AddRecoveryToSync queues a recovery record mutation.
func (f *Facade) AddRecoveryToSync(ctx context.Context, action models.Action, data interface{}) (string, error) {
	return f.add(ctx, models.DomainRecovery, action, data)
}

// Add queues a mutation for any domain.
func (f *Facade) Add(ctx context.Context, domain models.Domain, action models.Action, data interface{}) (string, error) {
	return f.add(ctx, domain, action, data)
}

func (f *Facade) add(ctx context.Context, domain models.Domain, action models.Action, data interface{}) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	payload, err := preparePayload(action, data)
	if err != nil {
		return "", err
	}

	id, err := f.queue.Enqueue(domain, action, payload)
	if err != nil {
		f.log.ErrorWithCode("Failed to queue change", string(apperrors.CodeOf(err)), err, map[string]interface{}{
			"domain": domain,
			"action": action,
		})
		return "", err
	}

	f.bus.Emit(events.ItemEnqueued{ItemID: id, Domain: domain, Action: action})
	// counts must be current before returning even when inactive
	f.refresh()
	f.engine.Notify()
	return id, nil
}

// preparePayload encodes data and gives id-less create objects a client id.
func preparePayload(action models.Action, data interface{}) (json.RawMessage, error) {
	var raw json.RawMessage
	switch v := data.(type) {
	case nil:
		raw = json.RawMessage(`{}`)
	case json.RawMessage:
		raw = v
	case []byte:
		raw = json.RawMessage(v)
	default:
		b, err := json.Marshal(data)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInvalid, "payload is not serializable", err)
		}
		raw = b
	}
	if !json.Valid(raw) {
		return nil, apperrors.New(apperrors.ErrInvalid, "payload is not valid JSON")
	}
	if action != models.ActionCreate {
		return raw, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		// non-object payloads are sent as they are
		return raw, nil
	}
	if id, ok := obj["id"]; ok && string(id) != "null" && string(id) != `""` {
		return raw, nil
	}
	id, err := json.Marshal(uuid.NewOrdered())
	if err != nil {
		return nil, err
	}
	obj["id"] = id
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "payload is not serializable", err)
	}
	return out, nil
}

// TriggerSync drains the queue now.
func (f *Facade) TriggerSync(ctx context.Context) syncpkg.Result {
	res := f.engine.TriggerSync(ctx)
	f.refresh()
	return res
}

// RetryFailed returns every failed item to pending and schedules a drain.
func (f *Facade) RetryFailed() (int, error) {
	n, err := f.queue.RetryFailed()
	if err != nil {
		return n, err
	}
	if n > 0 {
		f.bus.Emit(events.QueueChanged{})
		f.engine.Notify()
	}
	f.refresh()
	return n, nil
}

// DiscardFailed drops a queued item the user gave up on, usually a failed one.
func (f *Facade) DiscardFailed(id string) error {
	if err := f.queue.Discard(id); err != nil {
		return err
	}
	f.bus.Emit(events.QueueChanged{})
	f.refresh()
	// later items of the same entity may now be sendable
	f.engine.Notify()
	return nil
}
