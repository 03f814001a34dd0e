package connectivity

import (
	"context"
	"time"
)

// Pinger checks whether the backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// ProbeConfig configures RunProbe.
type ProbeConfig struct {
	Interval time.Duration
	// FailureThreshold is the number of consecutive failed pings before the
	// monitor is switched offline.
	FailureThreshold int
	// Timeout bounds each ping. Zero uses Interval.
	Timeout time.Duration
}

// DefaultProbeConfig returns a 30s probe that goes offline after two misses.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Interval:         30 * time.Second,
		FailureThreshold: 2,
		Timeout:          5 * time.Second,
	}
}

// RunProbe pings immediately and then every Interval until ctx is done,
// reporting the outcome to m. A single success switches the monitor online.
func RunProbe(ctx context.Context, m *Monitor, p Pinger, cfg ProbeConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultProbeConfig().Interval
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		err := p.Ping(pingCtx)
		cancel()
		if ctx.Err() != nil {
			return
		}

		if err == nil {
			failures = 0
			m.Set(true)
		} else {
			failures++
			m.log.Debug("connectivity probe failed", map[string]interface{}{
				"failures": failures,
				"error":    err.Error(),
			})
			if failures >= cfg.FailureThreshold {
				m.Set(false)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
