// Package connectivity tracks whether the backend is reachable and notifies
// subscribers of genuine online/offline transitions.
package connectivity

import (
	"fmt"
	"sync"

	"github.com/wzl2223096755/AFitness-sub001/internal/logging"
)

// Monitor holds the current connectivity state. All signal sources report
// through Set; subscribers are called once per real transition, in order.
type Monitor struct {
	// transition serializes Set so notifications are delivered in the order
	// the transitions happened.
	transition sync.Mutex

	mu     sync.RWMutex
	online bool
	nextID uint64
	subs   []subscription
	log    *logging.Logger
}

type subscription struct {
	id uint64
	fn func(online bool)
}

// NewMonitor creates a monitor with the given initial state.
func NewMonitor(initial bool) *Monitor {
	return &Monitor{
		online: initial,
		log:    logging.Get().Named("connectivity"),
	}
}

// IsOnline returns the current state.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe registers fn for future transitions. It is not called for the
// current state. Callbacks run on the goroutine calling Set and must not call
// Set themselves. The returned function unsubscribes and is idempotent.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, subscription{id: id, fn: fn})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, s := range m.subs {
				if s.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (m *Monitor) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// Set records the latest connectivity signal. It returns true and notifies
// subscribers only when the state actually changed.
func (m *Monitor) Set(online bool) bool {
	m.transition.Lock()
	defer m.transition.Unlock()

	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	subs := make([]subscription, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	m.log.Info("Online status changed", map[string]interface{}{
		"was_online": !online,
		"is_online":  online,
	})

	for _, s := range subs {
		m.notify(s, online)
	}
	return true
}

func (m *Monitor) notify(s subscription, online bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("connectivity subscriber panicked", fmt.Errorf("%v", r), map[string]interface{}{
				"subscription": s.id,
			})
		}
	}()
	s.fn(online)
}
