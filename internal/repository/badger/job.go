package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/joseph-ayodele/docqueue/constants"
	"github.com/joseph-ayodele/docqueue/internal/common"
	"github.com/joseph-ayodele/docqueue/internal/entity"
	"github.com/joseph-ayodele/docqueue/internal/repository"
)

// conflictRetries bounds how often a transaction is replayed after badger.ErrConflict.
const conflictRetries = 64

type jobRepo struct {
	backend *Backend
	clock   *repository.Clock
	log     *slog.Logger
}

var _ repository.JobRepository = (*jobRepo)(nil)

// NewJobRepository returns a JobRepository on backend. The repository owns backend and closes it.
func NewJobRepository(backend *Backend, log *slog.Logger) repository.JobRepository {
	if log == nil {
		log = slog.Default()
	}
	return &jobRepo{backend: backend, clock: repository.NewClock(nil), log: log}
}

// update runs fn in a read-write transaction, replaying it on write conflicts.
func (r *jobRepo) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = r.backend.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		r.log.Debug("badger transaction conflict, retrying", "attempt", attempt+1)
	}
	return err
}

func (r *jobRepo) view(fn func(txn *badger.Txn) error) error {
	return r.backend.db.View(fn)
}

func getJob(txn *badger.Txn, id string) (*entity.Job, error) {
	item, err := txn.Get(jobKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var job entity.Job
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &job)
	}); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func putJob(txn *badger.Txn, job *entity.Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	return txn.Set(jobKey(job.ID), b)
}

func (r *jobRepo) Submit(ctx context.Context, target string, maxRetries int) (*entity.Job, error) {
	if err := repository.ValidateSubmission(target, maxRetries); err != nil {
		r.log.Warn("job submit rejected", "target", target, "error", err)
		return nil, err
	}
	now := r.clock.Now()
	job := &entity.Job{
		ID:         repository.NewJobID(),
		Target:     target,
		Status:     constants.JobStatusPending,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := r.update(ctx, func(txn *badger.Txn) error {
		if err := putJob(txn, job); err != nil {
			return err
		}
		if err := txn.Set(createdKey(job.CreatedAt, job.ID), []byte(job.ID)); err != nil {
			return err
		}
		return txn.Set(pendingKey(job.CreatedAt, job.ID), []byte(job.ID))
	})
	if err != nil {
		r.log.Error("job submit failed", "target", target, "error", err)
		return nil, common.NewAppError("DB_ERROR", "insert job", err)
	}
	r.log.Info("job submitted", "job_id", job.ID, "target", target, "max_retries", maxRetries)
	return job, nil
}

func (r *jobRepo) Fetch(_ context.Context, jobID string) (*entity.Job, error) {
	var job *entity.Job
	err := r.view(func(txn *badger.Txn) error {
		var err error
		job, err = getJob(txn, jobID)
		return err
	})
	if err != nil {
		return nil, common.NewAppError("DB_ERROR", "fetch job", err)
	}
	if job == nil {
		return nil, common.NotFoundf("job %s", jobID)
	}
	return job, nil
}

func (r *jobRepo) ClaimNextPending(ctx context.Context) (*entity.Job, error) {
	var claimed *entity.Job
	err := r.update(ctx, func(txn *badger.Txn) error {
		claimed = nil
		job, staleKeys, err := firstPending(txn)
		if err != nil {
			return err
		}
		for _, key := range staleKeys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		if job == nil {
			return nil
		}
		if err := txn.Delete(pendingKey(job.CreatedAt, job.ID)); err != nil {
			return err
		}
		job.Status = constants.JobStatusProcessing
		job.UpdatedAt = r.clock.Now()
		if err := putJob(txn, job); err != nil {
			return err
		}
		claimed = job
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		r.log.Warn("job claim gave up after repeated conflicts", "attempts", conflictRetries)
		return nil, repository.ClaimContentionError(conflictRetries)
	}
	if err != nil {
		r.log.Error("job claim failed", "error", err)
		return nil, common.NewAppError("DB_ERROR", "claim job", err)
	}
	if claimed != nil {
		r.log.Info("job claimed", "job_id", claimed.ID, "target", claimed.Target, "retry_count", claimed.RetryCount)
	}
	return claimed, nil
}

// firstPending walks the FIFO index to the oldest job still pending.
// Index entries whose job is gone or no longer pending are returned for removal.
func firstPending(txn *badger.Txn) (*entity.Job, [][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(pendingPrefix)
	opts.PrefetchValues = false
	iter := txn.NewIterator(opts)
	defer iter.Close()

	var stale [][]byte
	for iter.Rewind(); iter.Valid(); iter.Next() {
		key := iter.Item().KeyCopy(nil)
		job, err := getJob(txn, idFromIndexKey(key))
		if err != nil {
			return nil, nil, err
		}
		if job != nil && job.Status == constants.JobStatusPending {
			return job, stale, nil
		}
		stale = append(stale, key)
	}
	return nil, stale, nil
}

// mutate loads a job, checks it is in from, lets apply edit it and saves it.
func (r *jobRepo) mutate(ctx context.Context, jobID string, from constants.JobStatus, apply func(job *entity.Job) error) (*entity.Job, error) {
	var out *entity.Job
	err := r.update(ctx, func(txn *badger.Txn) error {
		job, err := getJob(txn, jobID)
		if err != nil {
			return err
		}
		if job == nil || job.Status != from {
			return errTransition{job: job}
		}
		prev := job.Status
		if err := apply(job); err != nil {
			return err
		}
		if !constants.CanTransition(prev, job.Status) {
			return errTransition{job: job}
		}
		job.UpdatedAt = r.clock.Now()
		if err := putJob(txn, job); err != nil {
			return err
		}
		if job.Status == constants.JobStatusPending {
			if err := txn.Set(pendingKey(job.CreatedAt, job.ID), []byte(job.ID)); err != nil {
				return err
			}
		} else if prev == constants.JobStatusPending {
			if err := txn.Delete(pendingKey(job.CreatedAt, job.ID)); err != nil {
				return err
			}
		}
		out = job
		return nil
	})
	var te errTransition
	if errors.As(err, &te) {
		if te.job == nil {
			return nil, common.NotFoundf("job %s", jobID)
		}
		return nil, common.InvalidTransitionf("job %s cannot leave %s", jobID, te.job.Status)
	}
	if err != nil {
		return nil, common.NewAppError("DB_ERROR", "update job", err)
	}
	return out, nil
}

type errTransition struct{ job *entity.Job }

func (errTransition) Error() string { return "invalid transition" }

func (r *jobRepo) MarkProcessing(ctx context.Context, jobID string) (*entity.Job, error) {
	return r.mutate(ctx, jobID, constants.JobStatusPending, func(job *entity.Job) error {
		job.Status = constants.JobStatusProcessing
		return nil
	})
}

func (r *jobRepo) MarkCompleted(ctx context.Context, jobID string, result *entity.JobResult) (*entity.Job, error) {
	job, err := r.mutate(ctx, jobID, constants.JobStatusProcessing, func(job *entity.Job) error {
		job.Status = constants.JobStatusCompleted
		job.Result = result
		job.ErrorMessage = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("job completed", "job_id", jobID)
	return job, nil
}

func (r *jobRepo) MarkFailed(ctx context.Context, jobID string, message string) (*entity.Job, error) {
	job, err := r.mutate(ctx, jobID, constants.JobStatusProcessing, func(job *entity.Job) error {
		job.Status, job.RetryCount = repository.NextAfterFailure(job.RetryCount, job.MaxRetries)
		msg := message
		job.ErrorMessage = &msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	if job.Status == constants.JobStatusFailed {
		r.log.Warn("job failed permanently", "job_id", jobID, "retry_count", job.RetryCount, "error", message)
	} else {
		r.log.Warn("job requeued after failure", "job_id", jobID, "retry_count", job.RetryCount, "max_retries", job.MaxRetries, "error", message)
	}
	return job, nil
}

func (r *jobRepo) List(_ context.Context, filter entity.ListFilter) ([]*entity.Job, error) {
	limit := repository.ClampLimit(filter.Limit)
	var out []*entity.Job
	err := r.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(createdPrefix)
		opts.PrefetchValues = false
		iter := txn.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(prefixEnd(createdPrefix)); iter.Valid() && len(out) < limit; iter.Next() {
			job, err := getJob(txn, idFromIndexKey(iter.Item().Key()))
			if err != nil {
				return err
			}
			if job == nil {
				continue
			}
			if filter.Status != nil && job.Status != *filter.Status {
				continue
			}
			out = append(out, job)
		}
		return nil
	})
	if err != nil {
		return nil, common.NewAppError("DB_ERROR", "list jobs", err)
	}
	return out, nil
}

// eachJob calls fn for every stored job.
func (r *jobRepo) eachJob(fn func(job *entity.Job)) error {
	return r.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobPrefix)
		iter := txn.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var job entity.Job
			if err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				return err
			}
			fn(&job)
		}
		return nil
	})
}

func (r *jobRepo) Stats(_ context.Context) (entity.Stats, error) {
	var stats entity.Stats
	if err := r.eachJob(func(job *entity.Job) { stats.Add(job.Status, 1) }); err != nil {
		return stats, common.NewAppError("DB_ERROR", "count jobs", err)
	}
	return stats, nil
}

func (r *jobRepo) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-olderThan)
	var stale []string
	err := r.eachJob(func(job *entity.Job) {
		if job.Status == constants.JobStatusProcessing && job.UpdatedAt.Before(cutoff) {
			stale = append(stale, job.ID)
		}
	})
	if err != nil {
		return 0, common.NewAppError("DB_ERROR", "scan stale jobs", err)
	}

	n := 0
	for _, id := range stale {
		if _, err := r.MarkFailed(ctx, id, repository.StaleMessage(olderThan)); err != nil {
			if errors.Is(err, common.ErrInvalidTransition) || errors.Is(err, common.ErrNotFound) {
				continue
			}
			return n, err
		}
		n++
	}
	if n > 0 {
		r.log.Warn("requeued stale jobs", "count", n, "older_than", olderThan)
	}
	return n, nil
}

func (r *jobRepo) HealthCheck(_ context.Context, _ time.Duration) error {
	if r.backend.IsClosed() {
		return common.NewAppError("DB_ERROR", "badger store is closed", common.ErrDatabase)
	}
	return nil
}

func (r *jobRepo) Close() error {
	return r.backend.Close()
}
