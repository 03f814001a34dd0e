// Package retry defines the attempt limit and backoff schedule applied to
// failed sync sends.
package retry

import (
	"context"
	"math"
	"time"
)

// Policy decides how often and how soon a failed send is retried.
type Policy struct {
	// MaxAttempts is the number of failed attempts after which an item is
	// terminally failed.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultPolicy returns 3 attempts with 1s, 2s, 4s... backoff capped at 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2,
	}
}

// Exhausted reports whether an item with the given number of failed
// attempts must not be retried.
func (p Policy) Exhausted(attempts int) bool {
	limit := p.MaxAttempts
	if limit < 1 {
		limit = 1
	}
	return attempts >= limit
}

// Backoff returns the delay before the next attempt of an item that has
// failed attempts times: BaseDelay * Multiplier^(attempts-1), capped at
// MaxDelay.
func (p Policy) Backoff(attempts int) time.Duration {
	if p.BaseDelay <= 0 || attempts < 1 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempts-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Wait blocks for the backoff of attempts, or until ctx is done or abort is
// closed. It reports whether the full delay elapsed.
func (p Policy) Wait(ctx context.Context, attempts int, abort <-chan struct{}) bool {
	d := p.Backoff(attempts)
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		case <-abort:
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-abort:
		return false
	}
}
