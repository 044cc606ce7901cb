package jobs

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/docqueue/constants"
	"github.com/joseph-ayodele/docqueue/internal/common"
	"github.com/joseph-ayodele/docqueue/internal/entity"
	"github.com/joseph-ayodele/docqueue/internal/repository"
)

// Service validates requests and maps store errors to gRPC status codes.
type Service struct {
	jobs   repository.JobRepository
	logger *slog.Logger
}

// NewService creates a new jobs service.
func NewService(jobs repository.JobRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobs: jobs, logger: logger}
}

// SubmitRequest represents job submission parameters. A zero MaxRetries uses the default.
type SubmitRequest struct {
	Target     string
	MaxRetries int
}

// Submit checks the target and enqueues a pending job.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*entity.Job, error) {
	target := strings.TrimSpace(req.Target)
	retries := req.MaxRetries
	if retries == 0 {
		retries = constants.DefaultMaxRetries
	}

	validator := common.NewValidator()
	validator.Field("target", target, common.Required, common.MaxLength(constants.MaxTargetLength),
		common.ExistingPath, common.SupportedFile)
	validator.Field("max_retries", retries, common.IntRange(constants.MinMaxRetries, constants.MaxMaxRetries))
	if err := common.ValidateAndReturnError(validator); err != nil {
		s.logger.Warn("submit rejected", "target", req.Target, "error", err)
		return nil, err
	}

	if abs, err := filepath.Abs(target); err == nil {
		target = abs
	}
	job, err := s.jobs.Submit(ctx, target, retries)
	if err != nil {
		s.logger.Error("submit failed", "target", target, "error", err)
		return nil, common.ToStatus(err)
	}
	s.logger.Info("job submitted", "job_id", job.ID, "target", job.Target, "max_retries", job.MaxRetries)
	return job, nil
}

// Fetch returns one job by id.
func (s *Service) Fetch(ctx context.Context, jobID string) (*entity.Job, error) {
	jobID = strings.TrimSpace(jobID)
	validator := common.NewValidator()
	validator.Field("job_id", jobID, common.Required, common.UUID)
	if err := common.ValidateAndReturnError(validator); err != nil {
		return nil, err
	}

	job, err := s.jobs.Fetch(ctx, jobID)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	return job, nil
}

// ListRequest filters jobs. An empty Status lists every job; Limit 0 uses the default page size.
type ListRequest struct {
	Status string
	Limit  int
}

func (s *Service) List(ctx context.Context, req ListRequest) ([]*entity.Job, error) {
	validator := common.NewValidator()
	validator.Field("limit", req.Limit, common.IntRange(0, constants.MaxListLimit))
	if err := common.ValidateAndReturnError(validator); err != nil {
		return nil, err
	}

	filter := entity.ListFilter{Limit: repository.ClampLimit(req.Limit)}
	if strings.TrimSpace(req.Status) != "" {
		st, err := constants.ParseJobStatus(req.Status)
		if err != nil {
			return nil, common.InvalidArgumentErrorf("status: %v", err)
		}
		filter.Status = &st
	}

	jobs, err := s.jobs.List(ctx, filter)
	if err != nil {
		s.logger.Error("list jobs failed", "error", err)
		return nil, common.ToStatus(err)
	}
	return jobs, nil
}

func (s *Service) Stats(ctx context.Context) (entity.Stats, error) {
	st, err := s.jobs.Stats(ctx)
	if err != nil {
		s.logger.Error("stats failed", "error", err)
		return entity.Stats{}, common.ToStatus(err)
	}
	return st, nil
}

// Reingest submits a fresh job for the target of an existing one, keeping its retry budget.
func (s *Service) Reingest(ctx context.Context, jobID string) (*entity.Job, error) {
	prev, err := s.Fetch(ctx, jobID)
	if err != nil {
		return nil, err
	}
	job, err := s.Submit(ctx, SubmitRequest{Target: prev.Target, MaxRetries: prev.MaxRetries})
	if err != nil {
		return nil, err
	}
	s.logger.Info("job reingested", "from_job_id", prev.ID, "job_id", job.ID)
	return job, nil
}
