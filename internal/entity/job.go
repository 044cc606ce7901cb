package entity

import (
	"time"

	"github.com/joseph-ayodele/docqueue/constants"
)

// Job represents a queued unit of ingestion work for data transfer between layers.
type Job struct {
	ID           string              `json:"job_id"`
	Target       string              `json:"target"`
	Status       constants.JobStatus `json:"status"`
	RetryCount   int                 `json:"retry_count"`
	MaxRetries   int                 `json:"max_retries"`
	ErrorMessage *string             `json:"error_message,omitempty"`
	Result       *JobResult          `json:"result,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// JobResult summarizes a completed pipeline run.
type JobResult struct {
	UnitsLoaded int                  `json:"units_loaded"`
	UnitsParsed int                  `json:"units_parsed"`
	UnitsFailed int                  `json:"units_failed"`
	TargetKind  constants.TargetKind `json:"target_kind"`
	Artifacts   []string             `json:"artifacts,omitempty"`
}

// Stats holds job counts per status.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

func (s Stats) Total() int {
	return s.Pending + s.Processing + s.Completed + s.Failed
}

// Add increments the counter for status by n. Unknown statuses are ignored.
func (s *Stats) Add(status constants.JobStatus, n int) {
	switch status {
	case constants.JobStatusPending:
		s.Pending += n
	case constants.JobStatusProcessing:
		s.Processing += n
	case constants.JobStatusCompleted:
		s.Completed += n
	case constants.JobStatusFailed:
		s.Failed += n
	}
}

// ListFilter narrows List results. A nil Status returns every job.
type ListFilter struct {
	Status *constants.JobStatus
	Limit  int
}
