// Package retry centralizes the backoff-and-retry loop used by the market
// data provider's reconnects (C3) and the supervisor's worker restarts (C6).
// The exchange adapters (C4) do not use it: orders and other exchange calls
// are made once and are not retried.
package retry

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
)

// Classifier reports whether err is worth retrying. A nil Classifier
// retries every non-nil error.
type Classifier func(err error) bool

// Policy configures a retry loop. Min and Max are backoff.Backoff's base
// and cap; MaxAttempts of 0 means unlimited.
type Policy struct {
	Min        time.Duration
	Max        time.Duration
	Factor     float64
	Jitter     bool
	MaxAttempts int
	Classify   Classifier
}

// DefaultPolicy mirrors the teacher's websocket reconnect cadence: a 5
// second base delay, doubling each attempt, capped at one minute, with jitter.
func DefaultPolicy() Policy {
	return Policy{
		Min:    5 * time.Second,
		Max:    60 * time.Second,
		Factor: 2,
		Jitter: true,
	}
}

// Do runs fn, retrying with exponential backoff while ctx is live and fn
// returns a retryable error. It returns the last error once MaxAttempts is
// exhausted, once ctx is cancelled, or nil on the first success.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	b := &backoff.Backoff{
		Min:    p.Min,
		Max:    p.Max,
		Factor: p.Factor,
		Jitter: p.Jitter,
	}

	attempt := 0
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		attempt++

		if p.Classify != nil && !p.Classify(err) {
			return err
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return err
		}

		wait := b.Duration()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Reset allows a long-lived caller (e.g. a websocket connection that stays
// up for hours) to collapse the backoff back to Min after a successful
// period, rather than creating a fresh Policy/backoff.Backoff pair.
type Backoff struct {
	b *backoff.Backoff
}

// NewBackoff builds a resettable backoff counter from p, for callers that
// manage their own retry loop instead of calling Do (e.g. a reconnect loop
// that needs to distinguish "give up" from "read the next message").
func NewBackoff(p Policy) *Backoff {
	return &Backoff{b: &backoff.Backoff{Min: p.Min, Max: p.Max, Factor: p.Factor, Jitter: p.Jitter}}
}

// Next returns the next wait duration and increments the internal attempt
// counter.
func (bo *Backoff) Next() time.Duration { return bo.b.Duration() }

// Reset collapses the backoff back to Min, called after a connection has
// been stable long enough to no longer count as a flapping retry.
func (bo *Backoff) Reset() { bo.b.Reset() }

// Attempt reports the current 0-based attempt count.
func (bo *Backoff) Attempt() int { return int(bo.b.Attempt()) }
