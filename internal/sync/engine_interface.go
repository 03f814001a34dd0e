package sync

import (
	"context"

	"github.com/wzl2223096755/AFitness-sub001/internal/models"
)

// Engine defines the sync operations consumed by the scheduler, the facade
// and the transports. This interface allows for mocking in tests.
type Engine interface {
	// TriggerSync drains the queue now and reports the outcome.
	TriggerSync(ctx context.Context) Result

	// Notify schedules a background drain when online.
	Notify()

	// State returns a snapshot of the sync state.
	State() models.SyncState
}

var _ Engine = (*Manager)(nil)
