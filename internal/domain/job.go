// Package domain provides the domain models shared by the job core,
// the version state machine and the persistence layer.
package domain

import (
	"fmt"
	"time"
)

// JobKind tags which body a job runs.
type JobKind string

const (
	JobKindGenerateSingle       JobKind = "GENERATE_SINGLE"
	JobKindGenerateForHierarchy JobKind = "GENERATE_FOR_HIERARCHY"
	JobKindRetrieveHierarchy    JobKind = "RETRIEVE_HIERARCHY"
	JobKindReindex              JobKind = "REINDEX"
)

// ParseJobKind validates a job kind name.
func ParseJobKind(value string) (JobKind, error) {
	switch k := JobKind(value); k {
	case JobKindGenerateSingle, JobKindGenerateForHierarchy, JobKindRetrieveHierarchy, JobKindReindex:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown job kind %q", ErrValidation, value)
	}
}

// JobState is the coarse lifecycle state of a job.
type JobState string

const (
	JobStatePlanned JobState = "PLANNED"
	JobStateRunning JobState = "RUNNING"
	JobStateDone    JobState = "DONE"
	JobStateFailed  JobState = "FAILED"
)

// IsTerminal reports whether no further transition is possible.
func (s JobState) IsTerminal() bool {
	return s == JobStateDone || s == JobStateFailed
}

// CanTransitionTo enforces PLANNED -> RUNNING -> {DONE, FAILED}.
func (s JobState) CanTransitionTo(next JobState) bool {
	switch s {
	case JobStatePlanned:
		return next == JobStateRunning
	case JobStateRunning:
		return next == JobStateDone || next == JobStateFailed
	default:
		return false
	}
}

// ParseJobState validates a job state name.
func ParseJobState(value string) (JobState, error) {
	switch s := JobState(value); s {
	case JobStatePlanned, JobStateRunning, JobStateDone, JobStateFailed:
		return s, nil
	default:
		return "", fmt.Errorf("%w: unknown job state %q", ErrValidation, value)
	}
}

// JobSubstate is a progress marker meaningful only while RUNNING.
type JobSubstate string

const (
	JobSubstateNone        JobSubstate = ""
	JobSubstateDownloading JobSubstate = "DOWNLOADING"
	JobSubstateGenerating  JobSubstate = "GENERATING"
	JobSubstateSaving      JobSubstate = "SAVING"
	JobSubstateRetrieving  JobSubstate = "RETRIEVING"
	JobSubstateReindexing  JobSubstate = "REINDEXING"
)

// Job is a persisted unit of asynchronous work.
type Job struct {
	ID                 int64       `db:"id"                   json:"id"`
	Kind               JobKind     `db:"kind"                 json:"kind"`
	PID                string      `db:"pid"                  json:"pid,omitempty"`
	Instance           string      `db:"instance"             json:"instance,omitempty"`
	Engine             string      `db:"engine"               json:"engine,omitempty"`
	Priority           Priority    `db:"priority"             json:"priority"`
	State              JobState    `db:"state"                json:"state"`
	Substate           JobSubstate `db:"substate"             json:"substate,omitempty"`
	EstimatedItemCount int         `db:"estimated_item_count" json:"estimated_item_count"`
	ProcessedItemCount int         `db:"processed_item_count" json:"processed_item_count"`
	Log                string      `db:"log"                  json:"log,omitempty"`
	CreatedBy          string      `db:"created_by"           json:"created_by,omitempty"`
	CreatedAt          time.Time   `db:"created_at"           json:"created_at"`
	UpdatedAt          time.Time   `db:"updated_at"           json:"updated_at"`
}

// NewJob builds a PLANNED job. PID is required for every kind except REINDEX.
func NewJob(kind JobKind, pid string, priority Priority) (*Job, error) {
	if _, err := ParseJobKind(string(kind)); err != nil {
		return nil, err
	}
	if kind != JobKindReindex && pid == "" {
		return nil, fmt.Errorf("%w: job of kind %s requires a target pid", ErrValidation, kind)
	}
	if !priority.IsValid() {
		return nil, fmt.Errorf("%w: invalid priority %q", ErrValidation, priority)
	}
	if priority == "" {
		priority = PriorityMedium
	}

	now := time.Now().UTC()
	return &Job{
		Kind:      kind,
		PID:       pid,
		Priority:  priority,
		State:     JobStatePlanned,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// EffectiveSubstate hides the substate of jobs that are not running,
// except for FAILED jobs where it marks the point of failure.
func (j *Job) EffectiveSubstate() JobSubstate {
	if j.State == JobStateRunning || j.State == JobStateFailed {
		return j.Substate
	}
	return JobSubstateNone
}

// JobFilter narrows job listings.
type JobFilter struct {
	States []JobState
	Kind   JobKind
	Limit  int
	Offset int
}
