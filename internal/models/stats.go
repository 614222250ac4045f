// -----------------------------------------------------------------------
// Statistics - Per-client and aggregated job statistics
// -----------------------------------------------------------------------

package models

import "time"

// ClientStats holds the statistics reported by a single client for a job.
// Metrics is a flat name->value map; the scheduler treats values as opaque
// except for aggregation and optimization scoring.
type ClientStats struct {
	ClientID    string             `json:"client_id"`
	JobID       string             `json:"job_id"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	CollectedAt time.Time          `json:"collected_at"`
	Partial     bool               `json:"partial,omitempty"`
}

// Clone creates a deep copy of the client stats.
func (c ClientStats) Clone() ClientStats {
	clone := c
	if c.Metrics != nil {
		clone.Metrics = make(map[string]float64, len(c.Metrics))
		for k, v := range c.Metrics {
			clone.Metrics[k] = v
		}
	}
	return clone
}

// JobStatistics aggregates the per-client statistics for a job.
type JobStatistics struct {
	PerClient []ClientStats      `json:"per_client,omitempty"`
	Totals    map[string]float64 `json:"totals,omitempty"`
}

// Merge folds a client's stats into the aggregate.
func (s *JobStatistics) Merge(stats ClientStats) {
	s.PerClient = append(s.PerClient, stats.Clone())
	if len(stats.Metrics) > 0 {
		if s.Totals == nil {
			s.Totals = make(map[string]float64, len(stats.Metrics))
		}
		for k, v := range stats.Metrics {
			s.Totals[k] += v
		}
	}
}

// Metric returns the aggregated value for the named metric.
func (s *JobStatistics) Metric(name string) (float64, bool) {
	v, ok := s.Totals[name]
	return v, ok
}

// IsEmpty returns true when no client has reported any statistics.
func (s *JobStatistics) IsEmpty() bool {
	return len(s.PerClient) == 0 && len(s.Totals) == 0
}

// Clone creates a deep copy of the aggregate.
func (s JobStatistics) Clone() JobStatistics {
	clone := JobStatistics{}
	for _, cs := range s.PerClient {
		clone.PerClient = append(clone.PerClient, cs.Clone())
	}
	if s.Totals != nil {
		clone.Totals = make(map[string]float64, len(s.Totals))
		for k, v := range s.Totals {
			clone.Totals[k] = v
		}
	}
	return clone
}
