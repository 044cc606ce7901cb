package lock

import (
	"context"
	"log/slog"
	"time"
)

// Guard runs work under a Lock. When the lock cannot be obtained the work runs
// anyway, unlocked, and the contention is logged.
type Guard struct {
	lock   Lock
	opts   AcquireOptions
	logger *slog.Logger
}

func NewGuard(l Lock, timeout, pollInterval time.Duration, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		lock: l,
		opts: AcquireOptions{
			Blocking:     true,
			Timeout:      timeout,
			PollInterval: pollInterval,
		},
		logger: logger,
	}
}

// Do runs fn and reports whether it ran while holding the lock.
// The lock is released on every exit path, panics included.
func (g *Guard) Do(ctx context.Context, name string, fn func(ctx context.Context) error) (locked bool, err error) {
	if g == nil || g.lock == nil {
		return false, fn(ctx)
	}

	start := time.Now()
	ok, acqErr := g.lock.Acquire(ctx, g.opts)
	if ctxErr := ctx.Err(); ctxErr != nil {
		if ok {
			g.release(name)
		}
		return false, ctxErr
	}
	switch {
	case acqErr != nil:
		g.logger.Warn("accelerator lock unavailable, running unlocked", "op", name, "error", acqErr)
	case !ok:
		g.logger.Warn("accelerator lock timed out, running unlocked", "op", name, "timeout", g.opts.Timeout,
			"waited_ms", time.Since(start).Milliseconds())
	default:
		defer g.release(name)
	}
	return ok, fn(ctx)
}

func (g *Guard) release(name string) {
	if err := g.lock.Release(); err != nil {
		g.logger.Error("accelerator lock release failed", "op", name, "error", err)
	}
}
