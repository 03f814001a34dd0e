// Package models provides data model definitions for the AFitness sync core.
package models

import (
	"encoding/json"
	"time"
)

// Domain is the record category a queued action belongs to.
type Domain string

const (
	DomainTraining  Domain = "training"
	DomainNutrition Domain = "nutrition"
	DomainRecovery  Domain = "recovery"
)

// Domains lists every supported domain in a stable order.
var Domains = []Domain{DomainTraining, DomainNutrition, DomainRecovery}

// IsValid reports whether d is a known domain.
func (d Domain) IsValid() bool {
	switch d {
	case DomainTraining, DomainNutrition, DomainRecovery:
		return true
	}
	return false
}

// Action is the verb applied to a domain record.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Actions lists every supported action in a stable order.
var Actions = []Action{ActionCreate, ActionUpdate, ActionDelete}

// IsValid reports whether a is a known action.
func (a Action) IsValid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// ItemStatus is the lifecycle state of a queued item.
type ItemStatus string

const (
	ItemStatusPending  ItemStatus = "pending"
	ItemStatusInFlight ItemStatus = "in_flight"
	ItemStatusFailed   ItemStatus = "failed"
	ItemStatusDone     ItemStatus = "done"
)

// IsValid reports whether s is a known item status.
func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemStatusPending, ItemStatusInFlight, ItemStatusFailed, ItemStatusDone:
		return true
	}
	return false
}

// SyncItem is a single queued user action waiting to reach the server.
type SyncItem struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	Domain    Domain          `json:"domain"`
	Action    Action          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	Status    ItemStatus      `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// EntityID returns the "id" field of an object payload, or "" when the
// payload carries no string id.
func (i *SyncItem) EntityID() string {
	if len(i.Payload) == 0 {
		return ""
	}
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(i.Payload, &probe); err != nil || len(probe.ID) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(probe.ID, &id); err == nil {
		return id
	}
	// numeric ids are kept verbatim
	var n json.Number
	if err := json.Unmarshal(probe.ID, &n); err == nil {
		return n.String()
	}
	return ""
}

// EntityKey identifies the server entity an item mutates. Items without an
// entity id get an empty key and never block each other.
func (i *SyncItem) EntityKey() string {
	id := i.EntityID()
	if id == "" {
		return ""
	}
	return string(i.Domain) + "/" + id
}

// Before reports whether i is ordered before other in the queue.
func (i *SyncItem) Before(other *SyncItem) bool {
	if !i.CreatedAt.Equal(other.CreatedAt) {
		return i.CreatedAt.Before(other.CreatedAt)
	}
	return i.Seq < other.Seq
}

// QueueStats summarizes the queue without loading payloads.
type QueueStats struct {
	Pending  int `json:"pending"`
	InFlight int `json:"in_flight"`
	Failed   int `json:"failed"`
	Done     int `json:"done"`
}

// Outstanding returns the number of items still waiting to reach the server.
func (s QueueStats) Outstanding() int {
	return s.Pending + s.InFlight
}

// Total returns the number of items held by the queue.
func (s QueueStats) Total() int {
	return s.Pending + s.InFlight + s.Failed + s.Done
}

// SyncStatus is the sync manager's current phase.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusError   SyncStatus = "error"
)

// SyncState is the process-wide sync state owned by the sync manager.
type SyncState struct {
	IsOnline       bool       `json:"is_online"`
	Status         SyncStatus `json:"status"`
	SyncInProgress bool       `json:"sync_in_progress"`
	LastSyncTime   *time.Time `json:"last_sync_time,omitempty"`
}
