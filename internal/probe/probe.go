// Package probe implements the deadline-bounded, poll-until-caught-up
// primitive used by the rule lifecycle controller's quiesce step (spec
// §4.7 step 2); the dataflow package does not use it. It is adapted from
// the teacher's pkg/health: a Config{Interval,Timeout} polling shape,
// generalized from "is this container alive" to "has this frontier caught
// up to T".
package probe

import (
	"context"
	"errors"
	"time"

	"github.com/inputlayer/inputlayer/internal/errs"
)

// Config controls how a Wait call polls for progress.
type Config struct {
	// Interval between polls.
	Interval time.Duration
	// Timeout bounds the whole wait, independent of any caller-supplied
	// context deadline (the stricter of the two applies).
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval: 2 * time.Millisecond,
		Timeout:  30 * time.Second,
	}
}

// Frontier reports the current logical time a probe has advanced to.
// No type in this module implements it; WaitPastFunc takes a plain
// predicate instead.
type Frontier interface {
	Current() uint64
}

// WaitPastFunc polls fn until it returns true, ctx is cancelled, or the
// configured timeout elapses. This is the cooperative-cancellation
// "suspension point" of spec §5: every caller supplies a deadline via ctx
// or Config.Timeout.
func WaitPastFunc(ctx context.Context, cfg Config, fn func() bool) error {
	if cfg.Interval <= 0 {
		cfg = DefaultConfig()
	}
	deadline := time.Now().Add(cfg.Timeout)
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	if fn() {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errs.Wrap(errs.Timeout, "probe wait deadline exceeded", ctx.Err())
			}
			return errs.Wrap(errs.Cancelled, "probe wait cancelled", ctx.Err())
		case <-ticker.C:
			if fn() {
				return nil
			}
			if time.Now().After(deadline) {
				return errs.New(errs.Timeout, "probe did not advance before deadline")
			}
		}
	}
}

// WaitPast blocks until f's Current() is >= target.
func WaitPast(ctx context.Context, cfg Config, f Frontier, target uint64) error {
	return WaitPastFunc(ctx, cfg, func() bool { return f.Current() >= target })
}
