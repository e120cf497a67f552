package bookprice

import "time"

// JobRunStatus is the lifecycle state of one scheduled execution.
type JobRunStatus string

// Job run states. Pending -> Running -> {Completed | Failed}; terminal runs
// are never re-claimed, which the version check enforces across racing
// runner instances.
const (
	RunPending   JobRunStatus = "Pending"
	RunRunning   JobRunStatus = "Running"
	RunCompleted JobRunStatus = "Completed"
	RunFailed    JobRunStatus = "Failed"
)

// Terminal reports whether a run can no longer change state.
func (s JobRunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// JobPriority orders pending runs in the claim query.
type JobPriority string

// Priorities. Scheduled runs are Normal; event-driven follow-on runs are
// High so import cascades don't wait for the next scheduled slot.
const (
	PriorityLow    JobPriority = "Low"
	PriorityNormal JobPriority = "Normal"
	PriorityHigh   JobPriority = "High"
)

// Rank returns the numeric ordering used when claiming runs.
func (p JobPriority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// JobRunArgument is one named argument carried by a run.
type JobRunArgument struct {
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Values []string `json:"values"`
}

// JobRun is one queued execution of a job. Version enables optimistic
// concurrency on status updates: a run claimed by one runner must not be
// silently overwritten by another.
type JobRun struct {
	ID           string           `json:"id"`
	JobID        string           `json:"job_id"`
	JobName      string           `json:"job_name"`
	Priority     JobPriority      `json:"priority"`
	Status       JobRunStatus     `json:"status"`
	Arguments    []JobRunArgument `json:"arguments,omitempty"`
	Version      int              `json:"version"`
	Created      time.Time        `json:"created"`
	Updated      time.Time        `json:"updated"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// Argument returns the values of a named argument, or nil.
func (r JobRun) Argument(name string) []string {
	for _, a := range r.Arguments {
		if a.Name == name {
			return a.Values
		}
	}
	return nil
}

// JobDefinition is one entry in the static catalog of runnable job types.
type JobDefinition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `json:"is_active"`
}

// RunStatusUpdate is a compare-and-set status transition. Version must match
// the stored row or the update is rejected with ErrVersionConflict.
type RunStatusUpdate struct {
	RunID        string       `json:"jobRunId"`
	JobID        string       `json:"jobId"`
	Version      int          `json:"version"`
	Status       JobRunStatus `json:"status"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
}
