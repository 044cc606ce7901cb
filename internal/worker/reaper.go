package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docqueue/internal/repository"
)

// Reaper hands jobs abandoned in processing back to the retry path.
type Reaper struct {
	jobs       repository.JobRepository
	staleAfter time.Duration
	interval   time.Duration
	logger     *slog.Logger
}

// NewReaper sweeps every interval; a zero interval defaults to staleAfter/2.
func NewReaper(jobs repository.JobRepository, staleAfter, interval time.Duration, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = staleAfter / 2
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{jobs: jobs, staleAfter: staleAfter, interval: interval, logger: logger}
}

// Sweep requeues or fails processing jobs untouched for longer than staleAfter.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	n, err := r.jobs.RequeueStale(ctx, r.staleAfter)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Warn("requeued stale jobs", "count", n, "stale_after", r.staleAfter)
	}
	return n, nil
}

func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("stale sweep failed", "error", err)
			}
		}
	}
}
