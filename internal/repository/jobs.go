package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/docqueue/constants"
	"github.com/joseph-ayodele/docqueue/internal/common"
	"github.com/joseph-ayodele/docqueue/internal/entity"
)

// JobRepository is the durable job store shared by the worker and the API layer.
type JobRepository interface {
	// Submit creates a pending job. Empty targets and max_retries < 1 are rejected.
	Submit(ctx context.Context, target string, maxRetries int) (*entity.Job, error)
	Fetch(ctx context.Context, jobID string) (*entity.Job, error)
	// ClaimNextPending atomically moves the oldest pending job to processing.
	// It returns nil, nil when nothing is pending, and an error wrapping
	// common.ErrContention when pending jobs remain but every claim attempt lost.
	ClaimNextPending(ctx context.Context) (*entity.Job, error)
	MarkProcessing(ctx context.Context, jobID string) (*entity.Job, error)
	MarkCompleted(ctx context.Context, jobID string, result *entity.JobResult) (*entity.Job, error)
	// MarkFailed requeues the job while retry budget remains, otherwise fails it for good.
	MarkFailed(ctx context.Context, jobID string, message string) (*entity.Job, error)
	List(ctx context.Context, filter entity.ListFilter) ([]*entity.Job, error)
	Stats(ctx context.Context) (entity.Stats, error)
	// RequeueStale applies MarkFailed to processing jobs untouched for longer than olderThan.
	RequeueStale(ctx context.Context, olderThan time.Duration) (int, error)
	HealthCheck(ctx context.Context, timeout time.Duration) error
	Close() error
}

// NewJobID returns a fresh random job identifier.
func NewJobID() string {
	return uuid.NewString()
}

// ValidateSubmission rejects targets and retry budgets no job may be created with.
func ValidateSubmission(target string, maxRetries int) error {
	if strings.TrimSpace(target) == "" {
		return common.NewAppError("INVALID_TARGET", "target is required", common.ErrInvalidInput)
	}
	if strings.ContainsRune(target, 0) {
		return common.NewAppError("INVALID_TARGET", "target contains a NUL byte", common.ErrInvalidInput)
	}
	if maxRetries < constants.MinMaxRetries {
		return common.NewAppError("INVALID_RETRIES", fmt.Sprintf("max_retries must be >= %d", constants.MinMaxRetries), common.ErrInvalidInput)
	}
	return nil
}

// ClampLimit applies the default and maximum list sizes.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return constants.DefaultListLimit
	case limit > constants.MaxListLimit:
		return constants.MaxListLimit
	default:
		return limit
	}
}

// NextAfterFailure returns the status and retry count a failed attempt leads to.
func NextAfterFailure(retryCount, maxRetries int) (constants.JobStatus, int) {
	if retryCount < maxRetries {
		return constants.JobStatusPending, retryCount + 1
	}
	return constants.JobStatusFailed, maxRetries
}

// ClaimContentionError reports a claim that gave up while jobs were still pending.
func ClaimContentionError(attempts int) error {
	return common.NewAppError("CLAIM_CONTENTION",
		fmt.Sprintf("pending jobs remain after %d lost claim attempts", attempts), common.ErrContention)
}

// transitionError explains why a conditional update matched no row.
func transitionError(job *entity.Job, jobID string, to constants.JobStatus) error {
	if job == nil {
		return common.NotFoundf("job %s", jobID)
	}
	return common.InvalidTransitionf("job %s cannot move from %s to %s", jobID, job.Status, to)
}

// StaleMessage is recorded on jobs requeued by the reaper.
func StaleMessage(olderThan time.Duration) string {
	return fmt.Sprintf("StaleJob: no progress for %s while processing", olderThan)
}
