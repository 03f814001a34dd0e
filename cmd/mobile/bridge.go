package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wzl2223096755/AFitness-sub001/internal/app"
	"github.com/wzl2223096755/AFitness-sub001/internal/config"
	"github.com/wzl2223096755/AFitness-sub001/internal/models"
	"github.com/wzl2223096755/AFitness-sub001/internal/sync/facade"
)

// Bridge holds the sync core behind the C exports. Methods take and return
// plain strings; ffi.go only converts them.
type Bridge struct {
	mu      sync.Mutex
	app     *app.App
	states  chan facade.State
	cancel  func()
	stopApp context.CancelFunc
}

// ErrNotInitialized is returned by calls made before Open.
var ErrNotInitialized = errors.New("sync core not initialized")

// Open loads configuration from configPath, or the defaults when it is empty,
// and starts the sync core. Opening an open bridge has no effect.
func (b *Bridge) Open(configPath string, opts ...app.Option) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.app != nil {
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := app.ConfigureLogging(cfg.Log); err != nil {
		return err
	}
	a, err := app.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to open sync core: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)

	b.states = make(chan facade.State, 1)
	b.cancel = a.Facade.Observe(b.push)
	b.app = a
	b.stopApp = cancel
	return nil
}

// push keeps only the newest state for NextState.
func (b *Bridge) push(s facade.State) {
	select {
	case b.states <- s:
		return
	default:
	}
	select {
	case <-b.states:
	default:
	}
	select {
	case b.states <- s:
	default:
	}
}

func (b *Bridge) current() (*app.App, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.app == nil {
		return nil, ErrNotInitialized
	}
	return b.app, nil
}

// Close stops the sync core. Queued items stay on disk.
func (b *Bridge) Close() error {
	b.mu.Lock()
	a := b.app
	b.app = nil
	cancel, stop := b.cancel, b.stopApp
	b.mu.Unlock()

	if a == nil {
		return nil
	}
	cancel()
	stop()
	return a.Close()
}

func marshal(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to serialize: %w", err)
	}
	return string(data), nil
}

// Add queues a mutation and returns {"id": ...}.
func (b *Bridge) Add(domain, action, data string) (string, error) {
	a, err := b.current()
	if err != nil {
		return "", err
	}
	var payload interface{}
	if data != "" {
		payload = json.RawMessage(data)
	}
	id, err := a.Facade.Add(context.Background(), models.Domain(domain), models.Action(action), payload)
	if err != nil {
		return "", err
	}
	return marshal(map[string]string{"id": id})
}

// State returns the current observable state.
func (b *Bridge) State() (string, error) {
	a, err := b.current()
	if err != nil {
		return "", err
	}
	return marshal(a.Facade.State())
}

// NextState waits up to timeout for a state change. ok is false when the
// timeout elapsed first.
func (b *Bridge) NextState(timeout time.Duration) (state string, ok bool, err error) {
	if _, err := b.current(); err != nil {
		return "", false, err
	}
	b.mu.Lock()
	states := b.states
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s := <-states:
		out, err := marshal(s)
		return out, err == nil, err
	case <-timer.C:
		return "", false, nil
	}
}

// Trigger drains the queue and returns the result.
func (b *Bridge) Trigger() (string, error) {
	a, err := b.current()
	if err != nil {
		return "", err
	}
	return marshal(a.Facade.TriggerSync(context.Background()))
}

// SetOnline reports the platform's connectivity callback.
func (b *Bridge) SetOnline(online bool) error {
	a, err := b.current()
	if err != nil {
		return err
	}
	a.Monitor.Set(online)
	return nil
}

// List returns queued items, optionally filtered by a comma-separated list
// of statuses.
func (b *Bridge) List(statuses string) (string, error) {
	a, err := b.current()
	if err != nil {
		return "", err
	}
	var filter []models.ItemStatus
	for _, s := range strings.Split(statuses, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		status := models.ItemStatus(s)
		if !status.IsValid() {
			return "", fmt.Errorf("unknown status %q", s)
		}
		filter = append(filter, status)
	}
	return marshal(a.Queue.List(filter...))
}

// RetryFailed returns failed items to the queue and reports {"reset": n}.
func (b *Bridge) RetryFailed() (string, error) {
	a, err := b.current()
	if err != nil {
		return "", err
	}
	n, err := a.Facade.RetryFailed()
	if err != nil {
		return "", err
	}
	return marshal(map[string]int{"reset": n})
}

// Discard drops one queued item.
func (b *Bridge) Discard(id string) error {
	a, err := b.current()
	if err != nil {
		return err
	}
	return a.Facade.DiscardFailed(id)
}

func main() {
	// Main entry point for shared library
	// Not used when loaded as library
}
