// Package events defines the typed sync lifecycle events and the bus that
// fans them out to listeners.
package events

import (
	"time"

	"github.com/wzl2223096755/AFitness-sub001/internal/models"
)

// Kind is the wire name of an event.
type Kind string

const (
	KindSyncStarted         Kind = "sync_start"
	KindSyncProgress        Kind = "sync_progress"
	KindItemFailed          Kind = "sync_item_failed"
	KindSyncCompleted       Kind = "sync_complete"
	KindSyncFailed          Kind = "sync_error"
	KindSyncInterrupted     Kind = "sync_interrupted"
	KindConnectivityChanged Kind = "connectivity_changed"
	KindItemEnqueued        Kind = "item_enqueued"
	KindQueueChanged        Kind = "queue_changed"
)

// Event is implemented by every sync event. The set is closed.
type Event interface {
	Kind() Kind
	isEvent()
}

// SyncStarted is emitted when a drain begins.
type SyncStarted struct {
	Total int `json:"total"`
}

func (SyncStarted) Kind() Kind { return KindSyncStarted }
func (SyncStarted) isEvent()   {}

// SyncProgress is emitted after each item reaches the server.
type SyncProgress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	ItemID  string `json:"item_id"`
}

func (SyncProgress) Kind() Kind { return KindSyncProgress }
func (SyncProgress) isEvent()   {}

// ItemFailed is emitted for every failed send attempt. Terminal is set when
// the item will not be retried automatically.
type ItemFailed struct {
	ItemID   string        `json:"item_id"`
	Domain   models.Domain `json:"domain"`
	Action   models.Action `json:"action"`
	Attempts int           `json:"attempts"`
	Terminal bool          `json:"terminal"`
	Err      string        `json:"error"`
}

func (ItemFailed) Kind() Kind { return KindItemFailed }
func (ItemFailed) isEvent()   {}

// SyncCompleted is emitted when a drain finished without failures.
type SyncCompleted struct {
	Sent int       `json:"sent"`
	At   time.Time `json:"at"`
}

func (SyncCompleted) Kind() Kind { return KindSyncCompleted }
func (SyncCompleted) isEvent()   {}

// SyncFailed is emitted when a drain finished with terminally failed or
// blocked items, or was aborted by a storage error.
type SyncFailed struct {
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	Blocked int    `json:"blocked"`
	Err     string `json:"error,omitempty"`
}

func (SyncFailed) Kind() Kind { return KindSyncFailed }
func (SyncFailed) isEvent()   {}

// SyncInterrupted is emitted when connectivity was lost or the manager shut
// down mid-drain. Remaining items stay pending.
type SyncInterrupted struct {
	Sent      int `json:"sent"`
	Remaining int `json:"remaining"`
}

func (SyncInterrupted) Kind() Kind { return KindSyncInterrupted }
func (SyncInterrupted) isEvent()   {}

// ConnectivityChanged mirrors a connectivity transition.
type ConnectivityChanged struct {
	Online bool `json:"online"`
}

func (ConnectivityChanged) Kind() Kind { return KindConnectivityChanged }
func (ConnectivityChanged) isEvent()   {}

// ItemEnqueued is emitted after an item was persisted.
type ItemEnqueued struct {
	ItemID string        `json:"item_id"`
	Domain models.Domain `json:"domain"`
	Action models.Action `json:"action"`
}

func (ItemEnqueued) Kind() Kind { return KindItemEnqueued }
func (ItemEnqueued) isEvent()   {}

// QueueChanged is emitted when items were reset or discarded outside a drain.
type QueueChanged struct{}

func (QueueChanged) Kind() Kind { return KindQueueChanged }
func (QueueChanged) isEvent()   {}

// Envelope is the wire form of an event.
type Envelope struct {
	Type    Kind  `json:"type"`
	Payload Event `json:"payload"`
}

// Wrap builds the wire envelope of ev.
func Wrap(ev Event) Envelope {
	return Envelope{Type: ev.Kind(), Payload: ev}
}
