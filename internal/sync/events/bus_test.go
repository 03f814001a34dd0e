package events

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wzl2223096755/AFitness-sub001/internal/models"
)

func TestBus_registrationOrder(t *testing.T) {
	b := NewBus()

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		b.AddListener(func(Event) { order = append(order, i) })
	}

	b.Emit(SyncStarted{Total: 1})
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestBus_panicIsolation(t *testing.T) {
	b := NewBus()

	var got []Kind
	b.AddListener(func(ev Event) { panic("listener bug") })
	b.AddListener(func(ev Event) { got = append(got, ev.Kind()) })

	assert.NotPanics(t, func() {
		b.Emit(SyncStarted{})
		b.Emit(SyncCompleted{})
	})
	assert.Equal(t, []Kind{KindSyncStarted, KindSyncCompleted}, got)
}

func TestBus_removeIdempotent(t *testing.T) {
	b := NewBus()

	var a, c int
	removeA := b.AddListener(func(Event) { a++ })
	b.AddListener(func(Event) { c++ })

	removeA()
	removeA()
	assert.Equal(t, 1, b.Len())

	b.Emit(QueueChanged{})
	assert.Equal(t, 0, a)
	assert.Equal(t, 1, c)
}

func TestBus_listenerRemovingItselfDuringEmit(t *testing.T) {
	b := NewBus()

	var calls int
	var remove func()
	remove = b.AddListener(func(Event) {
		calls++
		remove()
	})
	var other int
	b.AddListener(func(Event) { other++ })

	b.Emit(QueueChanged{})
	b.Emit(QueueChanged{})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, other)
}

func TestBus_addDuringEmitNotCalledForCurrentEvent(t *testing.T) {
	b := NewBus()

	var late int
	b.AddListener(func(Event) {
		b.AddListener(func(Event) { late++ })
	})

	b.Emit(QueueChanged{})
	assert.Equal(t, 0, late)
}

func TestBus_concurrentEmit(t *testing.T) {
	b := NewBus()

	var mu sync.Mutex
	count := 0
	b.AddListener(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Emit(SyncProgress{})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, count)
}

func TestEvent_kinds(t *testing.T) {
	tests := []struct {
		ev   Event
		want Kind
	}{
		{SyncStarted{}, "sync_start"},
		{SyncProgress{}, "sync_progress"},
		{ItemFailed{}, "sync_item_failed"},
		{SyncCompleted{}, "sync_complete"},
		{SyncFailed{}, "sync_error"},
		{SyncInterrupted{}, "sync_interrupted"},
		{ConnectivityChanged{}, "connectivity_changed"},
		{ItemEnqueued{}, "item_enqueued"},
		{QueueChanged{}, "queue_changed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.ev.Kind())
	}
}

func TestWrap_json(t *testing.T) {
	raw, err := json.Marshal(Wrap(ItemFailed{
		ItemID:   "i1",
		Domain:   models.DomainTraining,
		Action:   models.ActionCreate,
		Attempts: 2,
		Err:      "timeout",
	}))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "sync_item_failed",
		"payload": {"item_id":"i1","domain":"training","action":"create","attempts":2,"terminal":false,"error":"timeout"}
	}`, string(raw))
}
