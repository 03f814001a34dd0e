// Package models tests for data model definitions.
package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =====================================================
// Enum Tests
// =====================================================

func TestDomain_IsValid(t *testing.T) {
	for _, d := range Domains {
		assert.True(t, d.IsValid(), d)
	}
	assert.False(t, Domain("sleep").IsValid())
	assert.False(t, Domain("").IsValid())
}

func TestAction_IsValid(t *testing.T) {
	for _, a := range Actions {
		assert.True(t, a.IsValid(), a)
	}
	assert.False(t, Action("upsert").IsValid())
}

func TestItemStatus_IsValid(t *testing.T) {
	assert.True(t, ItemStatusPending.IsValid())
	assert.True(t, ItemStatusInFlight.IsValid())
	assert.True(t, ItemStatusFailed.IsValid())
	assert.True(t, ItemStatusDone.IsValid())
	assert.False(t, ItemStatus("completed").IsValid())
}

// =====================================================
// SyncItem Tests
// =====================================================

func TestSyncItem_EntityID(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"string id", `{"id":"abc","reps":10}`, "abc"},
		{"numeric id", `{"id":42}`, "42"},
		{"no id", `{"exercise":"squat"}`, ""},
		{"array payload", `[1,2,3]`, ""},
		{"empty payload", ``, ""},
		{"bool id", `{"id":true}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := &SyncItem{Domain: DomainTraining, Payload: json.RawMessage(tt.payload)}
			assert.Equal(t, tt.want, item.EntityID())
		})
	}
}

func TestSyncItem_EntityKey(t *testing.T) {
	item := &SyncItem{Domain: DomainNutrition, Payload: json.RawMessage(`{"id":"meal-1"}`)}
	assert.Equal(t, "nutrition/meal-1", item.EntityKey())

	anon := &SyncItem{Domain: DomainNutrition, Payload: json.RawMessage(`{}`)}
	assert.Empty(t, anon.EntityKey())
}

func TestSyncItem_Before(t *testing.T) {
	now := time.Now()
	a := &SyncItem{CreatedAt: now, Seq: 1}
	b := &SyncItem{CreatedAt: now, Seq: 2}
	c := &SyncItem{CreatedAt: now.Add(-time.Second), Seq: 3}

	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	assert.True(t, c.Before(a), "earlier CreatedAt wins over lower seq")
}

func TestSyncItem_JSONRoundTripKeepsPayload(t *testing.T) {
	item := SyncItem{
		ID:        "id-1",
		Seq:       7,
		Domain:    DomainRecovery,
		Action:    ActionUpdate,
		Payload:   json.RawMessage(`{"id":"r1","hours":8}`),
		Status:    ItemStatusPending,
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC),
	}
	raw, err := json.Marshal(item)
	require.NoError(t, err)

	var got SyncItem
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.JSONEq(t, string(item.Payload), string(got.Payload))
	assert.True(t, item.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, item.Seq, got.Seq)
}

// =====================================================
// QueueStats Tests
// =====================================================

func TestQueueStats_Counts(t *testing.T) {
	s := QueueStats{Pending: 2, InFlight: 1, Failed: 3, Done: 1}
	assert.Equal(t, 3, s.Outstanding())
	assert.Equal(t, 7, s.Total())
}
