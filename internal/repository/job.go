package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/docqueue/constants"
	"github.com/joseph-ayodele/docqueue/internal/common"
	"github.com/joseph-ayodele/docqueue/internal/entity"
)

const (
	jobsTable = "jobs"

	colID         = "job_id"
	colTarget     = "target"
	colStatus     = "status"
	colRetryCount = "retry_count"
	colMaxRetries = "max_retries"
	colError      = "error_message"
	colResult     = "result"
	colCreatedAt  = "created_at"
	colUpdatedAt  = "updated_at"

	// claimAttempts bounds how often a lost compare-and-swap is retried in one call.
	claimAttempts = 8
)

var jobColumns = []string{
	colID, colTarget, colStatus, colRetryCount, colMaxRetries,
	colError, colResult, colCreatedAt, colUpdatedAt,
}

type jobRepo struct {
	db    *DB
	clock *Clock
	log   *slog.Logger
}

// NewJobRepository returns a JobRepository backed by db. The repository owns db and closes it.
func NewJobRepository(db *DB, log *slog.Logger) JobRepository {
	if log == nil {
		log = slog.Default()
	}
	return &jobRepo{db: db, clock: defaultClock, log: log}
}

func (r *jobRepo) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.db.Dialect())
}

func (r *jobRepo) Submit(ctx context.Context, target string, maxRetries int) (*entity.Job, error) {
	if err := ValidateSubmission(target, maxRetries); err != nil {
		r.log.Warn("job submit rejected", "target", target, "error", err)
		return nil, err
	}

	now := r.clock.Now()
	job := &entity.Job{
		ID:         NewJobID(),
		Target:     target,
		Status:     constants.JobStatusPending,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	query, args := r.builder().Insert(jobsTable).
		Columns(colID, colTarget, colStatus, colRetryCount, colMaxRetries, colCreatedAt, colUpdatedAt).
		Values(job.ID, job.Target, string(job.Status), 0, job.MaxRetries, FormatTime(now), FormatTime(now)).
		Query()
	if err := r.db.Driver().Exec(ctx, query, args, nil); err != nil {
		r.log.Error("job submit failed", "target", target, "error", err)
		return nil, common.NewAppError("DB_ERROR", "insert job", err)
	}
	r.log.Info("job submitted", "job_id", job.ID, "target", target, "max_retries", maxRetries)
	return job, nil
}

func (r *jobRepo) Fetch(ctx context.Context, jobID string) (*entity.Job, error) {
	job, err := r.fetch(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, common.NotFoundf("job %s", jobID)
	}
	return job, nil
}

// fetch returns nil, nil for unknown ids.
func (r *jobRepo) fetch(ctx context.Context, jobID string) (*entity.Job, error) {
	b := r.builder()
	query, args := b.Select(jobColumns...).
		From(b.Table(jobsTable)).
		Where(entsql.EQ(colID, jobID)).
		Query()
	jobs, err := r.queryJobs(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[0], nil
}

func (r *jobRepo) ClaimNextPending(ctx context.Context) (*entity.Job, error) {
	b := r.builder()
	for attempt := 0; attempt < claimAttempts; attempt++ {
		query, args := b.Select(colID).
			From(b.Table(jobsTable)).
			Where(entsql.EQ(colStatus, string(constants.JobStatusPending))).
			OrderBy(entsql.Asc(colCreatedAt), entsql.Asc(colID)).
			Limit(1).
			Query()
		id, err := r.queryString(ctx, query, args)
		if err != nil {
			return nil, err
		}
		if id == "" {
			return nil, nil
		}

		ok, err := r.transition(ctx, id, constants.JobStatusPending, constants.JobStatusProcessing, nil)
		if err != nil {
			return nil, err
		}
		if !ok {
			// another worker claimed it first
			r.log.Debug("job claim lost race", "job_id", id, "attempt", attempt+1)
			continue
		}
		job, err := r.Fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		r.log.Info("job claimed", "job_id", id, "target", job.Target, "retry_count", job.RetryCount)
		return job, nil
	}
	r.log.Warn("job claim gave up after repeated contention", "attempts", claimAttempts)
	return nil, ClaimContentionError(claimAttempts)
}

func (r *jobRepo) MarkProcessing(ctx context.Context, jobID string) (*entity.Job, error) {
	return r.move(ctx, jobID, constants.JobStatusPending, constants.JobStatusProcessing, nil)
}

func (r *jobRepo) MarkCompleted(ctx context.Context, jobID string, result *entity.JobResult) (*entity.Job, error) {
	var encoded any
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return nil, common.NewAppError("ENCODE_ERROR", "encode job result", err)
		}
		encoded = string(b)
	}
	job, err := r.move(ctx, jobID, constants.JobStatusProcessing, constants.JobStatusCompleted, func(u *entsql.UpdateBuilder) {
		u.Set(colResult, encoded).SetNull(colError)
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("job completed", "job_id", jobID)
	return job, nil
}

func (r *jobRepo) MarkFailed(ctx context.Context, jobID string, message string) (*entity.Job, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		current, err := r.fetch(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if current == nil || current.Status != constants.JobStatusProcessing {
			return nil, transitionError(current, jobID, constants.JobStatusFailed)
		}

		next, retries := NextAfterFailure(current.RetryCount, current.MaxRetries)
		ok, err := r.transition(ctx, jobID, constants.JobStatusProcessing, next, func(u *entsql.UpdateBuilder) {
			u.Set(colRetryCount, retries).
				Set(colError, message).
				Where(entsql.EQ(colRetryCount, current.RetryCount))
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if next == constants.JobStatusFailed {
			r.log.Warn("job failed permanently", "job_id", jobID, "retry_count", retries, "error", message)
		} else {
			r.log.Warn("job requeued after failure", "job_id", jobID, "retry_count", retries, "max_retries", current.MaxRetries, "error", message)
		}
		return r.Fetch(ctx, jobID)
	}
	return nil, common.NewAppError("CONFLICT", fmt.Sprintf("job %s changed concurrently", jobID), common.ErrInvalidTransition)
}

func (r *jobRepo) List(ctx context.Context, filter entity.ListFilter) ([]*entity.Job, error) {
	b := r.builder()
	sel := b.Select(jobColumns...).
		From(b.Table(jobsTable)).
		OrderBy(entsql.Desc(colCreatedAt), entsql.Desc(colID)).
		Limit(ClampLimit(filter.Limit))
	if filter.Status != nil {
		sel.Where(entsql.EQ(colStatus, string(*filter.Status)))
	}
	query, args := sel.Query()
	return r.queryJobs(ctx, query, args)
}

func (r *jobRepo) Stats(ctx context.Context) (entity.Stats, error) {
	var stats entity.Stats
	b := r.builder()
	query, args := b.Select(colStatus, entsql.Count("*")).
		From(b.Table(jobsTable)).
		GroupBy(colStatus).
		Query()

	var rows entsql.Rows
	if err := r.db.Driver().Query(ctx, query, args, &rows); err != nil {
		return stats, common.NewAppError("DB_ERROR", "count jobs", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return stats, common.NewAppError("DB_ERROR", "scan job counts", err)
		}
		stats.Add(constants.JobStatus(status), n)
	}
	if err := rows.Err(); err != nil {
		return stats, common.NewAppError("DB_ERROR", "iterate job counts", err)
	}
	return stats, nil
}

func (r *jobRepo) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := FormatTime(time.Now().Add(-olderThan))
	b := r.builder()
	query, args := b.Select(colID).
		From(b.Table(jobsTable)).
		Where(entsql.And(
			entsql.EQ(colStatus, string(constants.JobStatusProcessing)),
			entsql.LT(colUpdatedAt, cutoff),
		)).
		OrderBy(entsql.Asc(colUpdatedAt)).
		Query()
	ids, err := r.queryStrings(ctx, query, args)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, id := range ids {
		if _, err := r.MarkFailed(ctx, id, StaleMessage(olderThan)); err != nil {
			if errors.Is(err, common.ErrInvalidTransition) || errors.Is(err, common.ErrNotFound) {
				continue // finished meanwhile
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

func (r *jobRepo) HealthCheck(ctx context.Context, timeout time.Duration) error {
	return r.db.HealthCheck(ctx, timeout)
}

func (r *jobRepo) Close() error {
	return r.db.Close()
}

// move applies a guarded transition and returns the updated job.
func (r *jobRepo) move(ctx context.Context, jobID string, from, to constants.JobStatus, extra func(*entsql.UpdateBuilder)) (*entity.Job, error) {
	ok, err := r.transition(ctx, jobID, from, to, extra)
	if err != nil {
		return nil, err
	}
	current, err := r.fetch(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, transitionError(current, jobID, to)
	}
	return current, nil
}

// transition updates status from -> to only while the row is still in from.
// It reports whether the row was updated.
func (r *jobRepo) transition(ctx context.Context, jobID string, from, to constants.JobStatus, extra func(*entsql.UpdateBuilder)) (bool, error) {
	if !constants.CanTransition(from, to) {
		return false, common.InvalidTransitionf("job %s cannot move from %s to %s", jobID, from, to)
	}
	u := r.builder().Update(jobsTable).
		Set(colStatus, string(to)).
		Set(colUpdatedAt, FormatTime(r.clock.Now())).
		Where(entsql.And(
			entsql.EQ(colID, jobID),
			entsql.EQ(colStatus, string(from)),
		))
	if extra != nil {
		extra(u)
	}
	query, args := u.Query()

	var res sql.Result
	if err := r.db.Driver().Exec(ctx, query, args, &res); err != nil {
		r.log.Error("job transition failed", "job_id", jobID, "from", from, "to", to, "error", err)
		return false, common.NewAppError("DB_ERROR", "update job status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, common.NewAppError("DB_ERROR", "rows affected", err)
	}
	return n == 1, nil
}

func (r *jobRepo) queryJobs(ctx context.Context, query string, args []any) ([]*entity.Job, error) {
	var rows entsql.Rows
	if err := r.db.Driver().Query(ctx, query, args, &rows); err != nil {
		return nil, common.NewAppError("DB_ERROR", "query jobs", err)
	}
	defer rows.Close()

	var out []*entity.Job
	for rows.Next() {
		job, err := scanJob(&rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewAppError("DB_ERROR", "iterate jobs", err)
	}
	return out, nil
}

func (r *jobRepo) queryString(ctx context.Context, query string, args []any) (string, error) {
	vals, err := r.queryStrings(ctx, query, args)
	if err != nil || len(vals) == 0 {
		return "", err
	}
	return vals[0], nil
}

func (r *jobRepo) queryStrings(ctx context.Context, query string, args []any) ([]string, error) {
	var rows entsql.Rows
	if err := r.db.Driver().Query(ctx, query, args, &rows); err != nil {
		return nil, common.NewAppError("DB_ERROR", "query job ids", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, common.NewAppError("DB_ERROR", "scan job id", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewAppError("DB_ERROR", "iterate job ids", err)
	}
	return out, nil
}

func scanJob(rows *entsql.Rows) (*entity.Job, error) {
	var (
		job                  entity.Job
		status               string
		errMsg, result       entsql.NullString
		createdAt, updatedAt string
	)
	if err := rows.Scan(&job.ID, &job.Target, &status, &job.RetryCount, &job.MaxRetries,
		&errMsg, &result, &createdAt, &updatedAt); err != nil {
		return nil, common.NewAppError("DB_ERROR", "scan job", err)
	}
	job.Status = constants.JobStatus(status)
	if errMsg.Valid {
		msg := errMsg.String
		job.ErrorMessage = &msg
	}
	if result.Valid && result.String != "" {
		var res entity.JobResult
		if err := json.Unmarshal([]byte(result.String), &res); err != nil {
			return nil, common.NewAppError("DECODE_ERROR", "decode job result", err)
		}
		job.Result = &res
	}
	var err error
	if job.CreatedAt, err = ParseTime(createdAt); err != nil {
		return nil, common.NewAppError("DECODE_ERROR", "parse created_at", err)
	}
	if job.UpdatedAt, err = ParseTime(updatedAt); err != nil {
		return nil, common.NewAppError("DECODE_ERROR", "parse updated_at", err)
	}
	return &job, nil
}
