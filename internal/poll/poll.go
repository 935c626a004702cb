// Package poll implements bounded condition waiting for await-style CLI
// commands. Waiting never mutates state; the caller re-invokes the engine
// once the condition holds.
package poll

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	swerr "github.com/shipway-dev/shipway/internal/errors"
	"github.com/shipway-dev/shipway/internal/logging"
)

// Condition checks whether the awaited state has been reached.
// done=true stops the wait; err aborts it immediately.
type Condition func(ctx context.Context) (done bool, err error)

// Waiter polls a condition at a fixed interval within a total budget.
type Waiter struct {
	Interval time.Duration
	Budget   time.Duration
	Logger   *slog.Logger
}

// NewWaiter creates a waiter with the configured interval and budget.
func NewWaiter(interval, budget time.Duration, logger *slog.Logger) *Waiter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if budget <= 0 {
		budget = 20 * time.Minute
	}
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &Waiter{Interval: interval, Budget: budget, Logger: logger}
}

var errNotYet = errors.New("condition not met")

// Wait polls cond until it reports done, the budget runs out, or the
// context is cancelled. An exhausted budget surfaces as POLL_001 so the
// caller can distinguish a timeout from an operational failure.
func (w *Waiter) Wait(ctx context.Context, what string, cond Condition) error {
	waitCtx, cancel := context.WithTimeout(ctx, w.Budget)
	defer cancel()

	attempt := 0
	op := func() error {
		attempt++
		done, err := cond(waitCtx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if done {
			return nil
		}
		w.Logger.Debug("still waiting", "for", what, "attempt", attempt)
		return errNotYet
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(w.Interval), waitCtx)
	err := backoff.Retry(op, b)
	if err == nil {
		return nil
	}

	// An exhausted budget surfaces as waitCtx's deadline error, both from
	// the in-sleep cancellation and from the Stop signalled by WithContext.
	// Caller cancellation is reported as the caller's own error, never as
	// a poll timeout.
	if errors.Is(err, errNotYet) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return swerr.PollTimeout(what, w.Budget.String())
	}
	return err
}
