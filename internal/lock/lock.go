// Package lock coordinates exclusive use of the inference accelerator across processes.
package lock

import (
	"context"
	"time"
)

// AcquireOptions controls how Acquire waits under contention.
type AcquireOptions struct {
	// Blocking retries until the lock is free or Timeout elapses. Otherwise one attempt is made.
	Blocking bool
	// Timeout bounds a blocking acquire. Zero waits until ctx is done.
	Timeout time.Duration
	// PollInterval is the delay between attempts.
	PollInterval time.Duration
}

// DefaultPollInterval is used when AcquireOptions.PollInterval is unset.
const DefaultPollInterval = 500 * time.Millisecond

// Lock is an advisory cross-process mutex. It is not reentrant.
type Lock interface {
	// Acquire reports whether the lock was obtained. Contention is not an error.
	Acquire(ctx context.Context, opts AcquireOptions) (bool, error)
	// Release gives the lock up. Releasing a lock this handle does not hold is a no-op.
	Release() error
}
