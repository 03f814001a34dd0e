package events

import (
	"fmt"
	"sync"

	"github.com/wzl2223096755/AFitness-sub001/internal/logging"
)

// Listener receives emitted events.
type Listener func(Event)

// Bus delivers events synchronously to listeners in registration order.
type Bus struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners []entry
	log       *logging.Logger
}

type entry struct {
	id uint64
	fn Listener
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{log: logging.Get().Named("events")}
}

// AddListener registers fn and returns a function removing it. Calling the
// returned function more than once has no effect.
func (b *Bus) AddListener(fn Listener) (remove func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, entry{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, l := range b.listeners {
				if l.id == id {
					b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Emit calls every listener registered at the time of the call. A panicking
// listener is logged and does not stop the others.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	snapshot := make([]entry, len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.RUnlock()

	for _, l := range snapshot {
		b.deliver(l, ev)
	}
}

func (b *Bus) deliver(l entry, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event listener panicked", fmt.Errorf("%v", r), map[string]interface{}{
				"event":    string(ev.Kind()),
				"listener": l.id,
			})
		}
	}()
	l.fn(ev)
}

// Len returns the number of registered listeners.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
