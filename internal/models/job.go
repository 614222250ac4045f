// -----------------------------------------------------------------------
// Job - A single scheduled load-generation run
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// JobState represents the lifecycle state of a job.
//
// State machine:
//
//	Uninitialized -> NotYetStarted            (on schedule)
//	NotYetStarted <-> Disabled                (pause/resume)
//	NotYetStarted -> Running                  (dispatch)
//	Running -> CompletedSuccessfully | CompletedWithErrors
//	        | StoppedDueToDuration | StoppedDueToStopTime
//	        | StoppedByUser | StoppedByShutdown | StoppedDueToError
//	        | Cancelled
//
// All Completed*/Stopped*/Cancelled states are terminal.
type JobState string

const (
	JobStateUninitialized         JobState = "uninitialized"
	JobStateNotYetStarted         JobState = "not_yet_started"
	JobStateDisabled              JobState = "disabled"
	JobStateRunning               JobState = "running"
	JobStateCompletedSuccessfully JobState = "completed_successfully"
	JobStateCompletedWithErrors   JobState = "completed_with_errors"
	JobStateStoppedByUser         JobState = "stopped_by_user"
	JobStateStoppedByShutdown     JobState = "stopped_by_shutdown"
	JobStateStoppedDueToError     JobState = "stopped_due_to_error"
	JobStateStoppedDueToDuration  JobState = "stopped_due_to_duration"
	JobStateStoppedDueToStopTime  JobState = "stopped_due_to_stop_time"
	JobStateCancelled             JobState = "cancelled"
)

// IsTerminal returns true if no further transitions may occur from this state.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompletedSuccessfully, JobStateCompletedWithErrors,
		JobStateStoppedByUser, JobStateStoppedByShutdown,
		JobStateStoppedDueToError, JobStateStoppedDueToDuration,
		JobStateStoppedDueToStopTime, JobStateCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the state machine permits moving to next.
func (s JobState) CanTransitionTo(next JobState) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case JobStateUninitialized:
		return next == JobStateNotYetStarted
	case JobStateNotYetStarted:
		switch next {
		case JobStateDisabled, JobStateRunning, JobStateCancelled,
			JobStateStoppedDueToError, JobStateStoppedDueToStopTime,
			JobStateStoppedByShutdown:
			return true
		}
		return false
	case JobStateDisabled:
		return next == JobStateNotYetStarted || next == JobStateCancelled
	case JobStateRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// Job represents one scheduled execution of a load-generation class across a
// set of clients. The schedule fields are immutable after scheduling; the
// execution record is maintained by the scheduler.
type Job struct {
	// Identity and classification
	ID           string `json:"id"`
	JobClassName string `json:"job_class_name" validate:"required"`
	JobGroup     string `json:"job_group,omitempty"`
	FolderName   string `json:"folder_name,omitempty"`
	Description  string `json:"description,omitempty"`
	Comments     string `json:"comments,omitempty"`

	// Parent optimizing job, if this job is an iteration
	OptimizingJobID string `json:"optimizing_job_id,omitempty"`

	// Schedule
	StartTime                 time.Time         `json:"start_time"`
	Duration                  time.Duration     `json:"duration"`            // 0 = run until stopped
	StopTime                  *time.Time        `json:"stop_time,omitempty"` // absolute deadline
	NumClients                int               `json:"num_clients" validate:"gte=1"`
	RequestedClients          []string          `json:"requested_clients,omitempty"`
	ResourceMonitorClients    []string          `json:"resource_monitor_clients,omitempty"`
	MonitorClientsIfAvailable bool              `json:"monitor_clients_if_available"`
	ThreadsPerClient          int               `json:"threads_per_client" validate:"gte=1"`
	ThreadStartupDelayMs      int               `json:"thread_startup_delay_ms" validate:"gte=0"`
	CollectionIntervalSeconds int               `json:"collection_interval_seconds" validate:"gte=1"`
	Dependencies              []string          `json:"dependencies,omitempty"`
	ParameterValues           map[string]string `json:"parameter_values,omitempty"`

	// Execution record
	State           JobState      `json:"state"`
	ActualStartTime *time.Time    `json:"actual_start_time,omitempty"`
	ActualStopTime  *time.Time    `json:"actual_stop_time,omitempty"`
	StopReason      string        `json:"stop_reason,omitempty"`
	HasStats        bool          `json:"has_stats"`
	Statistics      JobStatistics `json:"statistics,omitempty"`
	NotifyAddresses []string      `json:"notify_addresses,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the structural and domain constraints of a job template.
func (j *Job) Validate() error {
	if err := validate.Struct(j); err != nil {
		return fmt.Errorf("invalid job configuration: %w", err)
	}
	if len(j.RequestedClients) > j.NumClients {
		return fmt.Errorf("requested clients (%d) cannot exceed num clients (%d)",
			len(j.RequestedClients), j.NumClients)
	}
	if j.Duration < 0 {
		return fmt.Errorf("duration cannot be negative")
	}
	if j.StopTime != nil && !j.StartTime.IsZero() && j.StopTime.Before(j.StartTime) {
		return fmt.Errorf("stop time precedes start time")
	}
	return nil
}

// TransitionTo moves the job to the given state, enforcing the state machine
// and maintaining the execution timestamps. Terminal states are final.
func (j *Job) TransitionTo(state JobState) error {
	if j.State == state {
		return nil
	}
	if !j.State.CanTransitionTo(state) {
		return fmt.Errorf("illegal job state transition %s -> %s for job %s", j.State, state, j.ID)
	}

	now := time.Now()
	if state == JobStateRunning {
		j.ActualStartTime = &now
	}
	if state.IsTerminal() {
		j.ActualStopTime = &now
		if j.ActualStartTime != nil && j.ActualStopTime.Before(*j.ActualStartTime) {
			j.ActualStopTime = j.ActualStartTime
		}
	}

	j.State = state
	j.UpdatedAt = now
	return nil
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	return j.State.IsTerminal()
}

// Deadline returns the effective stop deadline for a running job: the earlier
// of actualStartTime+duration and stopTime. ok is false when the job has no
// deadline (unbounded run).
func (j *Job) Deadline() (time.Time, bool) {
	var deadline time.Time
	if j.Duration > 0 && j.ActualStartTime != nil {
		deadline = j.ActualStartTime.Add(j.Duration)
	}
	if j.StopTime != nil {
		if deadline.IsZero() || j.StopTime.Before(deadline) {
			deadline = *j.StopTime
		}
	}
	if deadline.IsZero() {
		return time.Time{}, false
	}
	return deadline, true
}

// Clone creates a deep copy of the job.
func (j *Job) Clone() *Job {
	clone := *j
	clone.RequestedClients = append([]string(nil), j.RequestedClients...)
	clone.ResourceMonitorClients = append([]string(nil), j.ResourceMonitorClients...)
	clone.Dependencies = append([]string(nil), j.Dependencies...)
	clone.NotifyAddresses = append([]string(nil), j.NotifyAddresses...)
	if j.ParameterValues != nil {
		clone.ParameterValues = make(map[string]string, len(j.ParameterValues))
		for k, v := range j.ParameterValues {
			clone.ParameterValues[k] = v
		}
	}
	if j.ActualStartTime != nil {
		t := *j.ActualStartTime
		clone.ActualStartTime = &t
	}
	if j.ActualStopTime != nil {
		t := *j.ActualStopTime
		clone.ActualStopTime = &t
	}
	if j.StopTime != nil {
		t := *j.StopTime
		clone.StopTime = &t
	}
	clone.Statistics = j.Statistics.Clone()
	return &clone
}
