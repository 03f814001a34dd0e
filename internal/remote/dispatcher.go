// Package remote sends queued sync items to the fitness backend.
package remote

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/wzl2223096755/AFitness-sub001/internal/errors"
	"github.com/wzl2223096755/AFitness-sub001/internal/models"
)

// Dispatcher sends one item to the backend. Implementations apply their own
// request timeout and must be safe to call again for the same item.
type Dispatcher interface {
	Send(ctx context.Context, item models.SyncItem) error
}

// SendFunc sends one item.
type SendFunc func(ctx context.Context, item models.SyncItem) error

// Send implements Dispatcher.
func (f SendFunc) Send(ctx context.Context, item models.SyncItem) error { return f(ctx, item) }

// Route selects the send function for an item.
type Route struct {
	Domain models.Domain
	Action models.Action
}

// Router dispatches items by (domain, action).
type Router struct {
	mu     sync.RWMutex
	routes map[Route]SendFunc
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{routes: make(map[Route]SendFunc)}
}

// Handle registers fn for domain and action, replacing any previous one.
func (r *Router) Handle(domain models.Domain, action models.Action, fn SendFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[Route{Domain: domain, Action: action}] = fn
}

// Send implements Dispatcher. Items without a route are rejected
// permanently.
func (r *Router) Send(ctx context.Context, item models.SyncItem) error {
	r.mu.RLock()
	fn, ok := r.routes[Route{Domain: item.Domain, Action: item.Action}]
	r.mu.RUnlock()
	if !ok {
		return apperrors.New(apperrors.ErrSyncRejected,
			fmt.Sprintf("no route for %s/%s", item.Domain, item.Action))
	}
	return fn(ctx, item)
}

// Permanent reports whether a send error must not be retried.
func Permanent(err error) bool {
	return apperrors.Is(err, apperrors.ErrSyncRejected) || apperrors.Is(err, apperrors.ErrInvalid)
}
