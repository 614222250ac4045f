package interfaces

import "github.com/ternarybob/onero/internal/models"

// OptimizationAlgorithm scores completed iterations of an optimizing job and
// decides when the search should stop early. Implementations must be
// stateless between optimizing jobs; per-run state lives in the instance
// returned by New.
type OptimizationAlgorithm interface {
	// Name returns the registry key for this algorithm.
	Name() string

	// Configure applies the algorithm parameters supplied with the optimizing
	// job. Called once before the first iteration.
	Configure(params map[string]string) error

	// Score extracts the comparable value from a completed iteration's
	// statistics. An error means the iteration produced no usable value and is
	// treated as non-improving.
	Score(job *models.Job) (float64, error)

	// IsImproving reports whether candidate beats best. The first iteration
	// is always considered improving by the controller and never reaches here.
	IsImproving(candidate, best float64) bool

	// ShouldStop allows the algorithm to end the search before the
	// non-improving limit is hit, based on everything scored so far.
	ShouldStop(history []float64) bool

	// AvailableWithJobClass reports whether this algorithm can optimize jobs
	// of the given class. Checked before an optimizing job is accepted.
	AvailableWithJobClass(class *JobClass) bool

	// ParameterStubs returns the algorithm's configurable parameters,
	// tailored to the given class when one is provided. Safe to call before
	// Configure.
	ParameterStubs(class *JobClass) []models.Parameter
}

// AlgorithmFactory creates a fresh algorithm instance for one optimizing job.
type AlgorithmFactory func() OptimizationAlgorithm
