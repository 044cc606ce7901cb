package constants

import (
	"fmt"
	"strings"
)

// JobStatus is the canonical status for rows in the jobs table.
type JobStatus string

// Stable values (store these exact strings).
const (
	JobStatusPending    JobStatus = "pending"    // waiting to be claimed
	JobStatusProcessing JobStatus = "processing" // claimed by a worker
	JobStatusCompleted  JobStatus = "completed"  // terminal success
	JobStatusFailed     JobStatus = "failed"     // terminal failure, retry budget exhausted
)

// JobStatuses lists every status in lifecycle order.
var JobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusProcessing,
	JobStatusCompleted,
	JobStatusFailed,
}

var validTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing},
	JobStatusProcessing: {JobStatusCompleted, JobStatusPending, JobStatusFailed},
	JobStatusCompleted:  {},
	JobStatusFailed:     {},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves the status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

func (s JobStatus) String() string { return string(s) }

// ParseJobStatus accepts any casing and surrounding whitespace.
func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown job status %q", s)
	}
	return st, nil
}

// TargetKind describes what a job target resolved to.
type TargetKind string

const (
	TargetKindFile      TargetKind = "file"
	TargetKindDirectory TargetKind = "directory"
)
