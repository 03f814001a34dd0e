// Package queue provides the persistent store of offline sync operations.
// Every mutation is written to the key-value backend before the in-memory
// index is updated, so an acknowledged enqueue survives a restart.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wzl2223096755/AFitness-sub001/internal/crypto"
	apperrors "github.com/wzl2223096755/AFitness-sub001/internal/errors"
	"github.com/wzl2223096755/AFitness-sub001/internal/logging"
	"github.com/wzl2223096755/AFitness-sub001/internal/models"
	"github.com/wzl2223096755/AFitness-sub001/internal/storage/kv"
	"github.com/wzl2223096755/AFitness-sub001/internal/uuid"
)

const (
	itemPrefix  = "sync/items/"
	lastSyncKey = "sync/meta/last_sync"
)

// Store is the durable, ordered queue of sync items.
type Store struct {
	mu      sync.RWMutex
	kv      kv.Store
	sealer  crypto.Sealer
	items   map[string]*models.SyncItem
	seq     int64
	// newest CreatedAt handed out; a clock stepping back must not reorder items
	latest  time.Time
	maxSize int
	now     func() time.Time
	log     *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithSealer encrypts persisted records.
func WithSealer(s crypto.Sealer) Option {
	return func(q *Store) {
		if s != nil {
			q.sealer = s
		}
	}
}

// WithMaxSize bounds the number of items the queue holds. Zero means
// unbounded.
func WithMaxSize(n int) Option {
	return func(q *Store) {
		q.maxSize = n
	}
}

// WithClock overrides the time source used for CreatedAt/UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(q *Store) {
		q.now = now
	}
}

// Open restores the queue persisted in store. Items left in flight by a
// previous process are returned to pending.
func Open(store kv.Store, opts ...Option) (*Store, error) {
	q := &Store{
		kv:     store,
		sealer: crypto.Nop{},
		items:  make(map[string]*models.SyncItem),
		now:    time.Now,
		log:    logging.Get().Named("queue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	if err := q.restore(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Store) restore() error {
	entries, err := q.kv.List(itemPrefix)
	if err != nil {
		return apperrors.Storage("failed to load queue", err)
	}

	var recovered int
	for _, e := range entries {
		item, err := q.decode(e.Value)
		if err != nil {
			// the record stays in the backend for manual inspection
			q.log.Error("skipping unreadable queue record", err, map[string]interface{}{"key": e.Key})
			continue
		}
		if item.Status == models.ItemStatusInFlight {
			item.Status = models.ItemStatusPending
			item.UpdatedAt = q.now()
			if err := q.persist(item); err != nil {
				return err
			}
			recovered++
		}
		if item.Seq > q.seq {
			q.seq = item.Seq
		}
		if item.CreatedAt.After(q.latest) {
			q.latest = item.CreatedAt
		}
		q.items[item.ID] = item
	}

	if len(q.items) > 0 {
		q.log.Info("queue restored", map[string]interface{}{
			"items":     len(q.items),
			"recovered": recovered,
		})
	}
	return nil
}

func (q *Store) encode(item *models.SyncItem) ([]byte, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}
	return q.sealer.Seal(raw)
}

func (q *Store) decode(value []byte) (*models.SyncItem, error) {
	raw, err := q.sealer.Open(value)
	if err != nil {
		return nil, err
	}
	var item models.SyncItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	if item.ID == "" || !item.Status.IsValid() {
		return nil, fmt.Errorf("malformed item %q", item.ID)
	}
	return &item, nil
}

func (q *Store) persist(item *models.SyncItem) error {
	value, err := q.encode(item)
	if err != nil {
		return apperrors.Storage("failed to encode item "+item.ID, err)
	}
	if err := q.kv.Set(itemPrefix+item.ID, value); err != nil {
		return apperrors.Storage("failed to persist item "+item.ID, err)
	}
	return nil
}

// Enqueue appends a pending item and persists it before returning its id.
func (q *Store) Enqueue(domain models.Domain, action models.Action, payload json.RawMessage) (string, error) {
	if !domain.IsValid() {
		return "", apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown domain %q", domain))
	}
	if !action.IsValid() {
		return "", apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown action %q", action))
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if !json.Valid(payload) {
		return "", apperrors.New(apperrors.ErrInvalid, "payload is not valid JSON")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxSize > 0 && q.countLocked(func(i *models.SyncItem) bool { return i.Status != models.ItemStatusDone }) >= q.maxSize {
		return "", apperrors.New(apperrors.ErrStorage, fmt.Sprintf("queue is full (max size: %d)", q.maxSize))
	}

	now := q.now()
	created := now
	if created.Before(q.latest) {
		created = q.latest
	}
	item := &models.SyncItem{
		ID:        uuid.NewOrdered(),
		Seq:       q.seq + 1,
		Domain:    domain,
		Action:    action,
		Payload:   append(json.RawMessage(nil), payload...),
		Status:    models.ItemStatusPending,
		CreatedAt: created,
		UpdatedAt: now,
	}
	if err := q.persist(item); err != nil {
		q.log.ErrorWithCode("enqueue failed", string(apperrors.ErrStorage), err, map[string]interface{}{
			"domain": domain,
			"action": action,
		})
		return "", err
	}
	q.seq = item.Seq
	q.latest = created
	q.items[item.ID] = item

	q.log.Debug("item enqueued", map[string]interface{}{
		"id":     item.ID,
		"domain": domain,
		"action": action,
	})
	return item.ID, nil
}

func (q *Store) countLocked(match func(*models.SyncItem) bool) int {
	n := 0
	for _, item := range q.items {
		if match(item) {
			n++
		}
	}
	return n
}

// sortedLocked returns copies of the matching items in queue order.
func (q *Store) sortedLocked(match func(*models.SyncItem) bool) []models.SyncItem {
	selected := make([]*models.SyncItem, 0, len(q.items))
	for _, item := range q.items {
		if match(item) {
			selected = append(selected, item)
		}
	}
	sort.Slice(selected, func(i, j int) bool {
		return selected[i].Before(selected[j])
	})
	out := make([]models.SyncItem, len(selected))
	for i, item := range selected {
		out[i] = *item
	}
	return out
}

// ListPending returns the pending items ordered by CreatedAt, then Seq.
// Terminally failed items are not included.
func (q *Store) ListPending() ([]models.SyncItem, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.sortedLocked(func(i *models.SyncItem) bool {
		return i.Status == models.ItemStatusPending
	}), nil
}

// List returns the items with any of the given statuses in queue order, or
// every item when no status is given.
func (q *Store) List(statuses ...models.ItemStatus) []models.SyncItem {
	want := make(map[models.ItemStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.sortedLocked(func(i *models.SyncItem) bool {
		return len(want) == 0 || want[i.Status]
	})
}

// Get returns a copy of one item.
func (q *Store) Get(id string) (models.SyncItem, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	item, ok := q.items[id]
	if !ok {
		return models.SyncItem{}, apperrors.NotFound("item", id)
	}
	return *item, nil
}

// MarkOption sets additional fields in MarkStatus.
type MarkOption func(*models.SyncItem)

// WithAttempts records the number of failed attempts.
func WithAttempts(n int) MarkOption {
	return func(i *models.SyncItem) {
		i.Attempts = n
	}
}

// WithLastError records the last send failure. A nil error clears it.
func WithLastError(err error) MarkOption {
	return func(i *models.SyncItem) {
		if err == nil {
			i.LastError = ""
			return
		}
		i.LastError = err.Error()
	}
}

// MarkStatus updates one item. It returns a NOT_FOUND error when the item is
// absent, which callers treat as already processed.
func (q *Store) MarkStatus(id string, status models.ItemStatus, opts ...MarkOption) error {
	if !status.IsValid() {
		return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown status %q", status))
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	current, ok := q.items[id]
	if !ok {
		return apperrors.NotFound("item", id)
	}

	updated := *current
	updated.Status = status
	updated.UpdatedAt = q.now()
	for _, opt := range opts {
		opt(&updated)
	}
	if err := q.persist(&updated); err != nil {
		return err
	}
	q.items[id] = &updated
	return nil
}

// Requeue returns an in-flight item to pending. The index is updated even
// when the write fails: the persisted copy then still reads in_flight, and
// Open resets that on the next start. Other statuses are left alone.
func (q *Store) Requeue(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, ok := q.items[id]
	if !ok || current.Status != models.ItemStatusInFlight {
		return nil
	}
	updated := *current
	updated.Status = models.ItemStatusPending
	updated.UpdatedAt = q.now()
	q.items[id] = &updated

	if err := q.persist(&updated); err != nil {
		q.log.Warn("requeued item not persisted", map[string]interface{}{
			"id":    id,
			"error": err.Error(),
		})
		return err
	}
	return nil
}

// Remove deletes an item. Removing an absent id is a no-op.
func (q *Store) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.items[id]; !ok {
		q.log.Debug("remove of unknown item ignored", map[string]interface{}{"id": id})
		return nil
	}
	if err := q.kv.Delete(itemPrefix + id); err != nil {
		return apperrors.Storage("failed to remove item "+id, err)
	}
	delete(q.items, id)
	return nil
}

// Discard drops an item the user resolved manually. Unlike Remove it
// reports unknown ids and refuses items that are being sent.
func (q *Store) Discard(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return apperrors.NotFound("item", id)
	}
	if item.Status == models.ItemStatusInFlight {
		return apperrors.New(apperrors.ErrInvalid, "item "+id+" is being sent")
	}
	if err := q.kv.Delete(itemPrefix + id); err != nil {
		return apperrors.Storage("failed to discard item "+id, err)
	}
	delete(q.items, id)

	q.log.Info("item discarded", map[string]interface{}{
		"id":         id,
		"domain":     item.Domain,
		"status":     item.Status,
		"last_error": item.LastError,
	})
	return nil
}

// RetryFailed returns every terminally failed item to pending with its
// attempt count reset. It returns the number of items reset.
func (q *Store) RetryFailed() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	count := 0
	for id, item := range q.items {
		if item.Status != models.ItemStatusFailed {
			continue
		}
		updated := *item
		updated.Status = models.ItemStatusPending
		updated.Attempts = 0
		updated.LastError = ""
		updated.UpdatedAt = now
		if err := q.persist(&updated); err != nil {
			return count, err
		}
		q.items[id] = &updated
		count++
	}

	if count > 0 {
		q.log.Info("failed items reset for retry", map[string]interface{}{"count": count})
	}
	return count, nil
}

// Stats counts items by status without copying payloads.
func (q *Store) Stats() models.QueueStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var s models.QueueStats
	for _, item := range q.items {
		switch item.Status {
		case models.ItemStatusPending:
			s.Pending++
		case models.ItemStatusInFlight:
			s.InFlight++
		case models.ItemStatusFailed:
			s.Failed++
		case models.ItemStatusDone:
			s.Done++
		}
	}
	return s
}

// LastSync returns the time of the last successful drain, if any.
func (q *Store) LastSync() (time.Time, bool, error) {
	raw, err := q.kv.Get(lastSyncKey)
	if errors.Is(err, kv.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, apperrors.Storage("failed to read last sync time", err)
	}
	t, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return time.Time{}, false, apperrors.Storage("malformed last sync time", err)
	}
	return t, true, nil
}

// SetLastSync persists the time of a successful drain.
func (q *Store) SetLastSync(t time.Time) error {
	if err := q.kv.Set(lastSyncKey, []byte(t.UTC().Format(time.RFC3339Nano))); err != nil {
		return apperrors.Storage("failed to persist last sync time", err)
	}
	return nil
}
