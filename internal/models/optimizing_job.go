// -----------------------------------------------------------------------
// OptimizingJob - Iterative search for the best thread count
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// OptimizingJob drives a series of job iterations at increasing thread counts
// until the optimization algorithm decides the best configuration has been
// found. Each iteration is an ordinary Job whose OptimizingJobID points back
// here; linkage is by ID only.
type OptimizingJob struct {
	ID           string `json:"id"`
	JobClassName string `json:"job_class_name" validate:"required"`
	JobGroup     string `json:"job_group,omitempty"`
	FolderName   string `json:"folder_name,omitempty"`
	Description  string `json:"description,omitempty"`
	Comments     string `json:"comments,omitempty"`

	// Template applied to every iteration
	StartTime                 time.Time         `json:"start_time"`
	Duration                  time.Duration     `json:"duration" validate:"gt=0"`
	NumClients                int               `json:"num_clients" validate:"gte=1"`
	RequestedClients          []string          `json:"requested_clients,omitempty"`
	ResourceMonitorClients    []string          `json:"resource_monitor_clients,omitempty"`
	MonitorClientsIfAvailable bool              `json:"monitor_clients_if_available"`
	ThreadStartupDelayMs      int               `json:"thread_startup_delay_ms" validate:"gte=0"`
	CollectionIntervalSeconds int               `json:"collection_interval_seconds" validate:"gte=1"`
	Dependencies              []string          `json:"dependencies,omitempty"`
	ParameterValues           map[string]string `json:"parameter_values,omitempty"`
	NotifyAddresses           []string          `json:"notify_addresses,omitempty"`

	// Thread-count search space
	MinThreads      int `json:"min_threads" validate:"gte=1"`
	MaxThreads      int `json:"max_threads" validate:"gte=0"` // 0 = unbounded
	ThreadIncrement int `json:"thread_increment" validate:"gte=1"`

	// Iteration control
	DelayBetweenIterations     time.Duration `json:"delay_between_iterations"`
	MaxConsecutiveNonImproving int           `json:"max_consecutive_non_improving" validate:"gte=0"` // 0 = stop at the first non-improving iteration

	// Scoring
	AlgorithmName   string            `json:"algorithm_name" validate:"required"`
	AlgorithmParams map[string]string `json:"algorithm_params,omitempty"`

	// Optional confirmation run of the best configuration
	ReRunBestIteration bool          `json:"re_run_best_iteration"`
	ReRunDuration      time.Duration `json:"re_run_duration"` // 0 = use template duration

	IncludeThreadsInDescription bool `json:"include_threads_in_description"`

	// Execution record
	State              JobState   `json:"state"`
	PauseRequested     bool       `json:"pause_requested"`
	IterationIDs       []string   `json:"iteration_ids,omitempty"`
	ReRunIterationID   string     `json:"re_run_iteration_id,omitempty"`
	OptimalThreads     int        `json:"optimal_threads,omitempty"`
	OptimalValue       float64    `json:"optimal_value,omitempty"`
	HasOptimalValue    bool       `json:"has_optimal_value"`
	OptimalIterationID string     `json:"optimal_iteration_id,omitempty"`
	ActualStartTime    *time.Time `json:"actual_start_time,omitempty"`
	ActualStopTime     *time.Time `json:"actual_stop_time,omitempty"`
	StopReason         string     `json:"stop_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the structural and domain constraints of an optimizing job.
func (o *OptimizingJob) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid optimizing job configuration: %w", err)
	}
	if o.MaxThreads > 0 && o.MaxThreads < o.MinThreads {
		return fmt.Errorf("max threads (%d) cannot be below min threads (%d)", o.MaxThreads, o.MinThreads)
	}
	if len(o.RequestedClients) > o.NumClients {
		return fmt.Errorf("requested clients (%d) cannot exceed num clients (%d)",
			len(o.RequestedClients), o.NumClients)
	}
	if o.DelayBetweenIterations < 0 {
		return fmt.Errorf("delay between iterations cannot be negative")
	}
	if o.ReRunDuration < 0 {
		return fmt.Errorf("re-run duration cannot be negative")
	}
	return nil
}

// ThreadCountForIteration returns the thread count for the zero-based
// iteration index.
func (o *OptimizingJob) ThreadCountForIteration(i int) int {
	return o.MinThreads + i*o.ThreadIncrement
}

// RecordOptimal updates the best-so-far configuration.
func (o *OptimizingJob) RecordOptimal(iterationID string, threads int, value float64) {
	o.OptimalIterationID = iterationID
	o.OptimalThreads = threads
	o.OptimalValue = value
	o.HasOptimalValue = true
	o.UpdatedAt = time.Now()
}

// TransitionTo moves the optimizing job to the given state, maintaining
// execution timestamps. Terminal states are final.
func (o *OptimizingJob) TransitionTo(state JobState) error {
	if o.State == state {
		return nil
	}
	if !o.State.CanTransitionTo(state) {
		return fmt.Errorf("illegal optimizing job state transition %s -> %s for job %s", o.State, state, o.ID)
	}

	now := time.Now()
	if state == JobStateRunning {
		o.ActualStartTime = &now
	}
	if state.IsTerminal() {
		o.ActualStopTime = &now
	}

	o.State = state
	o.UpdatedAt = now
	return nil
}

// IsTerminal returns true if the optimizing job is in a terminal state.
func (o *OptimizingJob) IsTerminal() bool {
	return o.State.IsTerminal()
}

// Clone creates a deep copy of the optimizing job.
func (o *OptimizingJob) Clone() *OptimizingJob {
	clone := *o
	clone.RequestedClients = append([]string(nil), o.RequestedClients...)
	clone.ResourceMonitorClients = append([]string(nil), o.ResourceMonitorClients...)
	clone.Dependencies = append([]string(nil), o.Dependencies...)
	clone.NotifyAddresses = append([]string(nil), o.NotifyAddresses...)
	clone.IterationIDs = append([]string(nil), o.IterationIDs...)
	if o.ParameterValues != nil {
		clone.ParameterValues = make(map[string]string, len(o.ParameterValues))
		for k, v := range o.ParameterValues {
			clone.ParameterValues[k] = v
		}
	}
	if o.AlgorithmParams != nil {
		clone.AlgorithmParams = make(map[string]string, len(o.AlgorithmParams))
		for k, v := range o.AlgorithmParams {
			clone.AlgorithmParams[k] = v
		}
	}
	if o.ActualStartTime != nil {
		t := *o.ActualStartTime
		clone.ActualStartTime = &t
	}
	if o.ActualStopTime != nil {
		t := *o.ActualStopTime
		clone.ActualStopTime = &t
	}
	return &clone
}
