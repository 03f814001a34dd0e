// Package queue tests for the persistent sync queue.
package queue

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wzl2223096755/AFitness-sub001/internal/crypto"
	apperrors "github.com/wzl2223096755/AFitness-sub001/internal/errors"
	"github.com/wzl2223096755/AFitness-sub001/internal/models"
	"github.com/wzl2223096755/AFitness-sub001/internal/storage/kv"
)

// frozenClock returns the same instant for every call, so ordering must fall
// back to the sequence number.
func frozenClock() func() time.Time {
	t := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func openStore(t *testing.T, backend kv.Store, opts ...Option) *Store {
	t.Helper()
	q, err := Open(backend, opts...)
	require.NoError(t, err)
	return q
}

func squat() json.RawMessage {
	return json.RawMessage(`{"exercise":"squat","reps":10}`)
}

// failingStore rejects writes once armed.
type failingStore struct {
	kv.Store
	mu      sync.Mutex
	failSet bool
	failDel bool
}

func (f *failingStore) Set(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet {
		return errors.New("disk unplugged")
	}
	return f.Store.Set(key, value)
}

func (f *failingStore) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDel {
		return errors.New("disk unplugged")
	}
	return f.Store.Delete(key)
}

// =====================================================
// Enqueue
// =====================================================

func TestEnqueue(t *testing.T) {
	q := openStore(t, kv.NewMemory())

	id, err := q.Enqueue(models.DomainTraining, models.ActionCreate, squat())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	item, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusPending, item.Status)
	assert.Equal(t, 0, item.Attempts)
	assert.Equal(t, int64(1), item.Seq)
	assert.False(t, item.CreatedAt.IsZero())
	assert.JSONEq(t, string(squat()), string(item.Payload))
	assert.Equal(t, models.QueueStats{Pending: 1}, q.Stats())
}

func TestEnqueue_persistsBeforeReturn(t *testing.T) {
	backend := kv.NewMemory()
	q := openStore(t, backend)

	id, err := q.Enqueue(models.DomainNutrition, models.ActionCreate, json.RawMessage(`{"kcal":500}`))
	require.NoError(t, err)

	raw, err := backend.Get(itemPrefix + id)
	require.NoError(t, err)
	var stored models.SyncItem
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.Equal(t, id, stored.ID)
	assert.Equal(t, models.DomainNutrition, stored.Domain)
}

func TestEnqueue_invalidInput(t *testing.T) {
	q := openStore(t, kv.NewMemory())

	_, err := q.Enqueue("sleep", models.ActionCreate, squat())
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	_, err = q.Enqueue(models.DomainTraining, "upsert", squat())
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	_, err = q.Enqueue(models.DomainTraining, models.ActionCreate, json.RawMessage(`{not json`))
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	assert.Zero(t, q.Stats().Total())
}

func TestEnqueue_emptyPayload(t *testing.T) {
	q := openStore(t, kv.NewMemory())

	id, err := q.Enqueue(models.DomainRecovery, models.ActionCreate, nil)
	require.NoError(t, err)
	item, err := q.Get(id)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(item.Payload))
}

func TestEnqueue_quotaExceeded(t *testing.T) {
	q := openStore(t, kv.NewMemory(kv.WithQuota(400)))

	_, err := q.Enqueue(models.DomainTraining, models.ActionCreate, squat())
	require.NoError(t, err)

	big := json.RawMessage(`{"notes":"` + stringOf('x', 500) + `"}`)
	_, err = q.Enqueue(models.DomainTraining, models.ActionCreate, big)
	require.Error(t, err)
	assert.True(t, apperrors.IsStorage(err))
	assert.ErrorIs(t, err, kv.ErrQuotaExceeded)

	// the rejected action is not half-recorded
	assert.Equal(t, 1, q.Stats().Pending)
}

func TestEnqueue_maxSize(t *testing.T) {
	q := openStore(t, kv.NewMemory(), WithMaxSize(2))

	for i := 0; i < 2; i++ {
		_, err := q.Enqueue(models.DomainTraining, models.ActionCreate, squat())
		require.NoError(t, err)
	}
	_, err := q.Enqueue(models.DomainTraining, models.ActionCreate, squat())
	assert.True(t, apperrors.IsStorage(err))
}

func stringOf(c byte, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = c
	}
	return string(b)
}

// =====================================================
// Ordering
// =====================================================

func TestListPending_order(t *testing.T) {
	q := openStore(t, kv.NewMemory(), WithClock(frozenClock()))

	var ids []string
	for _, d := range []models.Domain{models.DomainRecovery, models.DomainTraining, models.DomainNutrition, models.DomainTraining} {
		id, err := q.Enqueue(d, models.ActionCreate, nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	pending, err := q.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 4)
	for i, item := range pending {
		assert.Equal(t, ids[i], item.ID, "position %d", i)
	}
}

func TestListPending_excludesOtherStatuses(t *testing.T) {
	q := openStore(t, kv.NewMemory())

	a, _ := q.Enqueue(models.DomainTraining, models.ActionCreate, nil)
	b, _ := q.Enqueue(models.DomainTraining, models.ActionCreate, nil)
	c, _ := q.Enqueue(models.DomainTraining, models.ActionCreate, nil)
	d, _ := q.Enqueue(models.DomainTraining, models.ActionCreate, nil)

	require.NoError(t, q.MarkStatus(a, models.ItemStatusFailed, WithAttempts(3)))
	require.NoError(t, q.MarkStatus(b, models.ItemStatusInFlight))
	require.NoError(t, q.MarkStatus(c, models.ItemStatusDone))

	pending, err := q.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, d, pending[0].ID)

	assert.Equal(t, models.QueueStats{Pending: 1, InFlight: 1, Failed: 1, Done: 1}, q.Stats())
	assert.Len(t, q.List(), 4)
	assert.Len(t, q.List(models.ItemStatusFailed, models.ItemStatusDone), 2)
}

func TestListPending_returnsCopies(t *testing.T) {
	q := openStore(t, kv.NewMemory())
	id, _ := q.Enqueue(models.DomainTraining, models.ActionCreate, nil)

	pending, _ := q.ListPending()
	pending[0].Status = models.ItemStatusDone

	item, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusPending, item.Status)
}

// steppingClock returns the given instants in turn, then repeats the last.
func steppingClock(times ...time.Time) func() time.Time {
	var mu sync.Mutex
	i := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := times[i]
		if i < len(times)-1 {
			i++
		}
		return t
	}
}

func TestEnqueue_clockStepsBack(t *testing.T) {
	noon := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	q := openStore(t, kv.NewMemory(), WithClock(steppingClock(noon.Add(5*time.Second), noon)))

	create, err := q.Enqueue(models.DomainTraining, models.ActionCreate, json.RawMessage(`{"id":"e1"}`))
	require.NoError(t, err)
	update, err := q.Enqueue(models.DomainTraining, models.ActionUpdate, json.RawMessage(`{"id":"e1","reps":12}`))
	require.NoError(t, err)

	pending, err := q.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, create, pending[0].ID)
	assert.Equal(t, update, pending[1].ID)
	assert.False(t, pending[1].CreatedAt.Before(pending[0].CreatedAt))
	assert.True(t, pending[1].UpdatedAt.Equal(noon))
}

func TestOpen_restoresCreatedAtHighWater(t *testing.T) {
	backend := kv.NewMemory()
	noon := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	q := openStore(t, backend, WithClock(steppingClock(noon)))
	first, err := q.Enqueue(models.DomainNutrition, models.ActionCreate, json.RawMessage(`{"id":"m1"}`))
	require.NoError(t, err)

	// restarted with a clock an hour behind
	q = openStore(t, backend, WithClock(steppingClock(noon.Add(-time.Hour))))
	second, err := q.Enqueue(models.DomainNutrition, models.ActionDelete, json.RawMessage(`{"id":"m1"}`))
	require.NoError(t, err)

	pending, err := q.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first, pending[0].ID)
	assert.Equal(t, second, pending[1].ID)
}

// =====================================================
// MarkStatus / Remove
// =====================================================

func TestMarkStatus(t *testing.T) {
	q := openStore(t, kv.NewMemory())
	id, _ := q.Enqueue(models.DomainTraining, models.ActionUpdate, nil)

	require.NoError(t, q.MarkStatus(id, models.ItemStatusPending, WithAttempts(2), WithLastError(errors.New("timeout"))))

	item, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 2, item.Attempts)
	assert.Equal(t, "timeout", item.LastError)

	require.NoError(t, q.MarkStatus(id, models.ItemStatusInFlight, WithLastError(nil)))
	item, _ = q.Get(id)
	assert.Empty(t, item.LastError)
	assert.Equal(t, 2, item.Attempts)
}

func TestMarkStatus_notFound(t *testing.T) {
	q := openStore(t, kv.NewMemory())
	err := q.MarkStatus("missing", models.ItemStatusDone)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestMarkStatus_invalidStatus(t *testing.T) {
	q := openStore(t, kv.NewMemory())
	id, _ := q.Enqueue(models.DomainTraining, models.ActionCreate, nil)
	assert.True(t, apperrors.Is(q.MarkStatus(id, "completed"), apperrors.ErrInvalid))
}

func TestMarkStatus_storageFailureKeepsIndex(t *testing.T) {
	backend := &failingStore{Store: kv.NewMemory()}
	q := openStore(t, backend)
	id, _ := q.Enqueue(models.DomainTraining, models.ActionCreate, nil)

	backend.failSet = true
	err := q.MarkStatus(id, models.ItemStatusDone)
	assert.True(t, apperrors.IsStorage(err))

	item, _ := q.Get(id)
	assert.Equal(t, models.ItemStatusPending, item.Status)
}

func TestRequeue(t *testing.T) {
	q := openStore(t, kv.NewMemory())
	id, _ := q.Enqueue(models.DomainTraining, models.ActionCreate, nil)
	require.NoError(t, q.MarkStatus(id, models.ItemStatusInFlight, WithAttempts(1)))

	require.NoError(t, q.Requeue(id))
	item, _ := q.Get(id)
	assert.Equal(t, models.ItemStatusPending, item.Status)
	assert.Equal(t, 1, item.Attempts)

	// only in-flight items move
	require.NoError(t, q.MarkStatus(id, models.ItemStatusFailed))
	require.NoError(t, q.Requeue(id))
	item, _ = q.Get(id)
	assert.Equal(t, models.ItemStatusFailed, item.Status)

	assert.NoError(t, q.Requeue("missing"))
}

func TestRequeue_storageFailureStillUpdatesIndex(t *testing.T) {
	backend := &failingStore{Store: kv.NewMemory()}
	q := openStore(t, backend)
	id, _ := q.Enqueue(models.DomainTraining, models.ActionCreate, nil)
	require.NoError(t, q.MarkStatus(id, models.ItemStatusInFlight))

	backend.failSet = true
	err := q.Requeue(id)
	assert.True(t, apperrors.IsStorage(err))

	item, _ := q.Get(id)
	assert.Equal(t, models.ItemStatusPending, item.Status)
	assert.Equal(t, models.QueueStats{Pending: 1}, q.Stats())
	pending, _ := q.ListPending()
	assert.Len(t, pending, 1)

	// the durable copy still reads in_flight and is reset on open
	backend.failSet = false
	q = openStore(t, backend)
	item, _ = q.Get(id)
	assert.Equal(t, models.ItemStatusPending, item.Status)
}

func TestRemove_idempotent(t *testing.T) {
	q := openStore(t, kv.NewMemory())
	keep, _ := q.Enqueue(models.DomainTraining, models.ActionCreate, nil)
	gone, _ := q.Enqueue(models.DomainTraining, models.ActionCreate, nil)

	require.NoError(t, q.Remove(gone))
	require.NoError(t, q.Remove(gone))
	require.NoError(t, q.Remove("never-existed"))

	_, err := q.Get(keep)
	assert.NoError(t, err)
	assert.Equal(t, 1, q.Stats().Pending)
}

func TestRemove_storageFailure(t *testing.T) {
	backend := &failingStore{Store: kv.NewMemory()}
	q := openStore(t, backend)
	id, _ := q.Enqueue(models.DomainTraining, models.ActionCreate, nil)

	backend.failDel = true
	assert.True(t, apperrors.IsStorage(q.Remove(id)))
	_, err := q.Get(id)
	assert.NoError(t, err)
}

// =====================================================
// Failed item handling
// =====================================================

func TestRetryFailed(t *testing.T) {
	q := openStore(t, kv.NewMemory())
	a, _ := q.Enqueue(models.DomainTraining, models.ActionCreate, nil)
	b, _ := q.Enqueue(models.DomainTraining, models.ActionCreate, nil)
	require.NoError(t, q.MarkStatus(a, models.ItemStatusFailed, WithAttempts(3), WithLastError(errors.New("500"))))

	n, err := q.RetryFailed()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	item, _ := q.Get(a)
	assert.Equal(t, models.ItemStatusPending, item.Status)
	assert.Equal(t, 0, item.Attempts)
	assert.Empty(t, item.LastError)

	pending, _ := q.ListPending()
	require.Len(t, pending, 2)
	assert.Equal(t, a, pending[0].ID, "retried item keeps its original position")
	assert.Equal(t, b, pending[1].ID)
}

func TestDiscard(t *testing.T) {
	q := openStore(t, kv.NewMemory())
	a, _ := q.Enqueue(models.DomainTraining, models.ActionCreate, nil)
	b, _ := q.Enqueue(models.DomainTraining, models.ActionCreate, nil)
	require.NoError(t, q.MarkStatus(a, models.ItemStatusFailed))
	require.NoError(t, q.MarkStatus(b, models.ItemStatusInFlight))

	require.NoError(t, q.Discard(a))
	assert.True(t, apperrors.IsNotFound(q.Discard(a)))
	assert.True(t, apperrors.Is(q.Discard(b), apperrors.ErrInvalid))
	assert.Equal(t, models.QueueStats{InFlight: 1}, q.Stats())
}

// =====================================================
// Durability
// =====================================================

func TestOpen_restoresAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	backend, err := kv.OpenSQLite(dir)
	require.NoError(t, err)
	q := openStore(t, backend)
	first, err := q.Enqueue(models.DomainTraining, models.ActionCreate, squat())
	require.NoError(t, err)
	second, err := q.Enqueue(models.DomainNutrition, models.ActionUpdate, json.RawMessage(`{"id":"m1"}`))
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	backend, err = kv.OpenSQLite(dir)
	require.NoError(t, err)
	defer backend.Close()
	q = openStore(t, backend)

	pending, err := q.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first, pending[0].ID)
	assert.Equal(t, second, pending[1].ID)
	assert.JSONEq(t, string(squat()), string(pending[0].Payload))

	// sequence resumes after the restored items
	third, err := q.Enqueue(models.DomainRecovery, models.ActionCreate, nil)
	require.NoError(t, err)
	item, _ := q.Get(third)
	assert.Equal(t, int64(3), item.Seq)
}

func TestOpen_recoversInFlight(t *testing.T) {
	backend := kv.NewMemory()
	q := openStore(t, backend)
	id, _ := q.Enqueue(models.DomainTraining, models.ActionCreate, nil)
	require.NoError(t, q.MarkStatus(id, models.ItemStatusInFlight, WithAttempts(1)))

	// simulated crash: reopen over the same backend
	q = openStore(t, backend)
	item, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusPending, item.Status)
	assert.Equal(t, 1, item.Attempts)

	raw, err := backend.Get(itemPrefix + id)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"status":"pending"`)
}

func TestOpen_keepsFailedItems(t *testing.T) {
	backend := kv.NewMemory()
	q := openStore(t, backend)
	id, _ := q.Enqueue(models.DomainTraining, models.ActionCreate, nil)
	require.NoError(t, q.MarkStatus(id, models.ItemStatusFailed, WithLastError(errors.New("rejected"))))

	q = openStore(t, backend)
	assert.Equal(t, models.QueueStats{Failed: 1}, q.Stats())
	item, _ := q.Get(id)
	assert.Equal(t, "rejected", item.LastError)
}

func TestOpen_skipsCorruptRecords(t *testing.T) {
	backend := kv.NewMemory()
	require.NoError(t, backend.Set(itemPrefix+"bad", []byte("{garbage")))
	q := openStore(t, backend)
	_, err := q.Enqueue(models.DomainTraining, models.ActionCreate, nil)
	require.NoError(t, err)

	q = openStore(t, backend)
	assert.Equal(t, 1, q.Stats().Pending)
}

func TestOpen_encrypted(t *testing.T) {
	backend := kv.NewMemory()
	sealer, err := crypto.NewAESGCM(crypto.DeriveKey("secret"))
	require.NoError(t, err)

	q := openStore(t, backend, WithSealer(sealer))
	id, err := q.Enqueue(models.DomainRecovery, models.ActionCreate, json.RawMessage(`{"sleep_hours":7}`))
	require.NoError(t, err)

	raw, err := backend.Get(itemPrefix + id)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sleep_hours")

	q = openStore(t, backend, WithSealer(sealer))
	item, err := q.Get(id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sleep_hours":7}`, string(item.Payload))
}

// =====================================================
// Last sync time
// =====================================================

func TestLastSync(t *testing.T) {
	backend := kv.NewMemory()
	q := openStore(t, backend)

	_, ok, err := q.LastSync()
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2024, 5, 1, 10, 30, 0, 123, time.UTC)
	require.NoError(t, q.SetLastSync(at))

	q = openStore(t, backend)
	got, ok, err := q.LastSync()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, at.Equal(got))
}

// =====================================================
// Concurrency
// =====================================================

func TestEnqueue_concurrent(t *testing.T) {
	q := openStore(t, kv.NewMemory())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Enqueue(models.DomainTraining, models.ActionCreate, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	pending, err := q.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 50)
	seen := make(map[int64]bool)
	for _, item := range pending {
		assert.False(t, seen[item.Seq], "duplicate seq %d", item.Seq)
		seen[item.Seq] = true
	}
}
