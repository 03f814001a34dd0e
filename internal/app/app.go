// Package app assembles the sync core from configuration and owns its
// lifecycle. Both the desktop service and the CLI are built on it.
package app

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/wzl2223096755/AFitness-sub001/internal/config"
	"github.com/wzl2223096755/AFitness-sub001/internal/connectivity"
	"github.com/wzl2223096755/AFitness-sub001/internal/crypto"
	"github.com/wzl2223096755/AFitness-sub001/internal/logging"
	"github.com/wzl2223096755/AFitness-sub001/internal/remote"
	"github.com/wzl2223096755/AFitness-sub001/internal/storage/kv"
	syncpkg "github.com/wzl2223096755/AFitness-sub001/internal/sync"
	"github.com/wzl2223096755/AFitness-sub001/internal/sync/events"
	"github.com/wzl2223096755/AFitness-sub001/internal/sync/facade"
	"github.com/wzl2223096755/AFitness-sub001/internal/sync/queue"
	"github.com/wzl2223096755/AFitness-sub001/internal/sync/retry"
	"github.com/wzl2223096755/AFitness-sub001/internal/sync/scheduler"
	"github.com/wzl2223096755/AFitness-sub001/internal/telemetry"
)

// App is the assembled sync core.
type App struct {
	Config    *config.Config
	Store     kv.Store
	Queue     *queue.Store
	Monitor   *connectivity.Monitor
	Bus       *events.Bus
	Metrics   *telemetry.Metrics
	Manager   *syncpkg.Manager
	Scheduler *scheduler.Scheduler
	Facade    *facade.Facade

	dispatcher remote.Dispatcher
	pinger     connectivity.Pinger
	log        *logging.Logger

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option customizes assembly.
type Option func(*App)

// WithDispatcher replaces the HTTP dispatcher.
func WithDispatcher(d remote.Dispatcher) Option {
	return func(a *App) {
		a.dispatcher = d
	}
}

// WithPinger replaces the health probe target.
func WithPinger(p connectivity.Pinger) Option {
	return func(a *App) {
		a.pinger = p
	}
}

// WithStore uses an already opened store instead of the configured backend.
func WithStore(s kv.Store) Option {
	return func(a *App) {
		a.Store = s
	}
}

// ConfigureLogging installs the global logger described by cfg.
func ConfigureLogging(cfg config.LogConfig) error {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	opts := logging.Options{Level: level, File: cfg.File}
	if cfg.Console {
		opts.Console = os.Stderr
	}
	logging.InitWithOptions(opts)
	return nil
}

// OpenStore opens the configured key-value backend.
func OpenStore(cfg *config.Config) (kv.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return kv.OpenSQLite(cfg.DataDir)
	case config.BackendBadger:
		return kv.OpenBadger(cfg.BadgerDir())
	case config.BackendMemory:
		return kv.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// New assembles the sync core. Nothing runs in the background until Start.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		Config: cfg,
		log:    logging.Get().Named("app"),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.Store == nil {
		store, err := OpenStore(cfg)
		if err != nil {
			return nil, err
		}
		a.Store = store
	}
	fail := func(err error) (*App, error) {
		_ = a.Store.Close()
		return nil, err
	}

	sealer, err := crypto.SealerFromConfig(cfg.Storage.EncryptionKey)
	if err != nil {
		return fail(fmt.Errorf("invalid storage.encryption_key: %w", err))
	}

	a.Queue, err = queue.Open(a.Store, queue.WithSealer(sealer), queue.WithMaxSize(cfg.Queue.MaxSize))
	if err != nil {
		return fail(err)
	}

	if a.dispatcher == nil || a.pinger == nil {
		client := remote.NewHTTPClient(remote.HTTPConfig{
			BaseURL: cfg.Remote.BaseURL,
			Token:   cfg.Remote.Token,
			Timeout: cfg.Remote.Timeout,
		})
		if a.dispatcher == nil {
			router := remote.NewRouter()
			client.Register(router)
			a.dispatcher = router
		}
		if a.pinger == nil {
			a.pinger = client
		}
	}

	a.Monitor = connectivity.NewMonitor(cfg.Connectivity.InitialOnline)
	a.Bus = events.NewBus()
	a.Metrics = telemetry.New()

	a.Manager, err = syncpkg.NewManager(syncpkg.Deps{
		Queue:      a.Queue,
		Monitor:    a.Monitor,
		Bus:        a.Bus,
		Dispatcher: a.dispatcher,
		Policy: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			Multiplier:  cfg.Retry.Multiplier,
		},
		Metrics: a.Metrics,
	})
	if err != nil {
		return fail(err)
	}

	if cfg.Scheduler.SyncInterval > 0 {
		a.Scheduler = scheduler.NewScheduler(a.Manager, &scheduler.SchedulerConfig{
			SyncInterval: cfg.Scheduler.SyncInterval,
		})
	}
	a.Facade = facade.New(a.Manager, a.Queue, a.Bus)

	stats := a.Queue.Stats()
	a.log.Info("Sync core assembled", map[string]interface{}{
		"backend":   cfg.Storage.Backend,
		"pending":   stats.Pending,
		"failed":    stats.Failed,
		"encrypted": cfg.Storage.EncryptionKey != "",
	})
	return a, nil
}

// Start activates the facade and starts the manager, the scheduler and the
// connectivity sources.
func (a *App) Start(ctx context.Context) {
	a.mu.Lock()
	if a.started || a.closed {
		a.mu.Unlock()
		return
	}
	a.started = true
	ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	a.Facade.Activate()
	a.Manager.Start(ctx)
	if a.Scheduler != nil {
		a.Scheduler.Start(ctx)
	}

	cc := a.Config.Connectivity
	if cc.ProbeInterval > 0 {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			connectivity.RunProbe(ctx, a.Monitor, a.pinger, connectivity.ProbeConfig{
				Interval:         cc.ProbeInterval,
				FailureThreshold: cc.FailureThreshold,
			})
		}()
	}
	if cc.SignalFile != "" {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := connectivity.WatchFile(ctx, a.Monitor, cc.SignalFile); err != nil {
				a.log.Error("Connectivity signal file unavailable", err, map[string]interface{}{
					"path": cc.SignalFile,
				})
			}
		}()
	}
}

// CheckConnectivity pings the backend once and records the outcome.
func (a *App) CheckConnectivity(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, a.Config.Remote.Timeout)
	defer cancel()
	online := a.pinger.Ping(ctx) == nil
	a.Monitor.Set(online)
	return online
}

// Close stops everything Start started and closes the store. It is safe to
// call more than once.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	a.Facade.Deactivate()

	var result *multierror.Error
	if err := a.Manager.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("sync manager: %w", err))
	}
	a.wg.Wait()
	if err := a.Store.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("store: %w", err))
	}

	a.log.Info("Sync core stopped")
	return result.ErrorOrNil()
}
