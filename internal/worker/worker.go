// Package worker drains the job store, one job at a time.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docqueue/internal/artifact"
	"github.com/joseph-ayodele/docqueue/internal/common"
	"github.com/joseph-ayodele/docqueue/internal/dedupe"
	"github.com/joseph-ayodele/docqueue/internal/extract"
	"github.com/joseph-ayodele/docqueue/internal/ingest"
	"github.com/joseph-ayodele/docqueue/internal/repository"
)

// Deduper collapses duplicate artifacts in a directory.
type Deduper interface {
	Run(ctx context.Context, dir string) (dedupe.Report, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Worker struct {
	jobs      repository.JobRepository
	loader    ingest.Loader
	extractor extract.Extractor
	artifacts artifact.Store
	deduper   Deduper
	logger    *slog.Logger

	pollInterval time.Duration
	oneShot      bool
	sleep        SleepFunc

	staleAfter   time.Duration
	reapInterval time.Duration
}

type Option func(*Worker)

func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithOneShot makes Run return after at most one job.
func WithOneShot(oneShot bool) Option {
	return func(w *Worker) { w.oneShot = oneShot }
}

func WithSleep(fn SleepFunc) Option {
	return func(w *Worker) {
		if fn != nil {
			w.sleep = fn
		}
	}
}

// WithDeduper runs d over the artifact directory after jobs that wrote artifacts.
// A nil deduper disables the pass.
func WithDeduper(d Deduper) Option {
	return func(w *Worker) { w.deduper = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithStaleAfter enables the reaper for jobs stuck in processing longer than d.
func WithStaleAfter(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.staleAfter = d
		}
	}
}

func WithReapInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.reapInterval = d
		}
	}
}

func New(jobs repository.JobRepository, loader ingest.Loader, extractor extract.Extractor, artifacts artifact.Store, opts ...Option) *Worker {
	w := &Worker{
		jobs:         jobs,
		loader:       loader,
		extractor:    extractor,
		artifacts:    artifacts,
		logger:       slog.Default(),
		pollInterval: 2 * time.Second,
		sleep:        sleepCtx,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// RunOnce claims and processes the oldest pending job. processed is false when the queue was empty.
// Job-level failures are recorded on the job and do not surface here; only store errors do.
func (w *Worker) RunOnce(ctx context.Context) (processed bool, err error) {
	job, err := w.jobs.ClaimNextPending(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.logger.Info("claimed job", "job_id", job.ID, "target", job.Target, "retry_count", job.RetryCount)
	if err := w.ProcessJob(ctx, job); err != nil {
		w.logger.Warn("job attempt failed", "job_id", job.ID, "error", err)
	}
	return true, nil
}

// Run polls for work until ctx is cancelled. In one-shot mode it returns after a
// single claim attempt, without sleeping when the queue is empty.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "poll_interval", w.pollInterval, "one_shot", w.oneShot)
	defer w.logger.Info("worker stopped")

	if w.staleAfter > 0 && !w.oneShot {
		r := NewReaper(w.jobs, w.staleAfter, w.reapInterval, w.logger)
		go r.Run(ctx)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		processed, err := w.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, common.ErrContention) && !w.oneShot {
				// other workers are draining the queue; try again at once
				w.logger.Warn("claim lost to other workers, retrying", "error", err)
				continue
			}
			w.logger.Error("claim failed", "error", err)
		}
		if w.oneShot {
			return err
		}
		if processed && err == nil {
			continue
		}
		if err := w.sleep(ctx, w.pollInterval); err != nil {
			return nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
