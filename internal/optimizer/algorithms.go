// -----------------------------------------------------------------------
// Algorithms - Built-in optimization scoring strategies
// -----------------------------------------------------------------------

package optimizer

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/ternarybob/onero/internal/interfaces"
	"github.com/ternarybob/onero/internal/models"
)

// AlgorithmRegistry maps algorithm names to factories. A fresh instance is
// created per optimizing job so runs never share state.
type AlgorithmRegistry struct {
	mu        sync.RWMutex
	factories map[string]interfaces.AlgorithmFactory
}

// NewAlgorithmRegistry creates a registry with the built-in algorithms.
func NewAlgorithmRegistry() *AlgorithmRegistry {
	r := &AlgorithmRegistry{factories: make(map[string]interfaces.AlgorithmFactory)}
	r.Register("maximize-metric", func() interfaces.OptimizationAlgorithm {
		return &metricAlgorithm{name: "maximize-metric", maximize: true}
	})
	r.Register("minimize-metric", func() interfaces.OptimizationAlgorithm {
		return &metricAlgorithm{name: "minimize-metric", maximize: false}
	})
	return r
}

// Register adds or replaces a factory.
func (r *AlgorithmRegistry) Register(name string, factory interfaces.AlgorithmFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// New creates an instance of the named algorithm.
func (r *AlgorithmRegistry) New(name string) (interfaces.OptimizationAlgorithm, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, models.NewError(models.ErrKindUnknownAlgorithm, "no optimization algorithm named %s", name)
	}
	return factory(), nil
}

// Names returns the registered algorithm names.
func (r *AlgorithmRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AlgorithmInfo describes one registered algorithm for admin listings.
type AlgorithmInfo struct {
	Name       string             `json:"name"`
	Parameters []models.Parameter `json:"parameters,omitempty"`
}

// Describe returns every algorithm available for the given job class with its
// parameter stubs, sorted by name. A nil class lists all algorithms.
func (r *AlgorithmRegistry) Describe(class *interfaces.JobClass) []AlgorithmInfo {
	names := r.Names()
	infos := make([]AlgorithmInfo, 0, len(names))
	for _, name := range names {
		algo, err := r.New(name)
		if err != nil {
			continue
		}
		if class != nil && !algo.AvailableWithJobClass(class) {
			continue
		}
		infos = append(infos, AlgorithmInfo{Name: name, Parameters: algo.ParameterStubs(class)})
	}
	return infos
}

// metricAlgorithm scores iterations by a single aggregated statistic and
// optimizes it in one direction. An optional target value stops the search as
// soon as it is reached.
type metricAlgorithm struct {
	name      string
	maximize  bool
	metric    string
	target    float64
	hasTarget bool
}

func (a *metricAlgorithm) Name() string {
	return a.name
}

func (a *metricAlgorithm) Configure(params map[string]string) error {
	a.metric = params["metric"]
	if a.metric == "" {
		return fmt.Errorf("algorithm %s requires a metric parameter", a.name)
	}
	if raw, ok := params["target"]; ok && raw != "" {
		target, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("algorithm %s: invalid target %q: %w", a.name, raw, err)
		}
		a.target = target
		a.hasTarget = true
	}
	return nil
}

func (a *metricAlgorithm) Score(job *models.Job) (float64, error) {
	value, ok := job.Statistics.Metric(a.metric)
	if !ok {
		return 0, fmt.Errorf("iteration %s reported no %s metric", job.ID, a.metric)
	}
	return value, nil
}

func (a *metricAlgorithm) IsImproving(candidate, best float64) bool {
	if a.maximize {
		return candidate > best
	}
	return candidate < best
}

func (a *metricAlgorithm) ShouldStop(history []float64) bool {
	if !a.hasTarget || len(history) == 0 {
		return false
	}
	last := history[len(history)-1]
	if a.maximize {
		return last >= a.target
	}
	return last <= a.target
}

// Metric scoring works with any class whose clients report numeric
// statistics, which is every non-deprecated class.
func (a *metricAlgorithm) AvailableWithJobClass(class *interfaces.JobClass) bool {
	return class == nil || !class.Deprecated
}

func (a *metricAlgorithm) ParameterStubs(class *interfaces.JobClass) []models.Parameter {
	direction := "maximize"
	if !a.maximize {
		direction = "minimize"
	}
	return []models.Parameter{
		{
			Name:        "metric",
			DisplayName: "Metric",
			Description: fmt.Sprintf("Name of the aggregated statistic to %s", direction),
			Type:        models.ParameterTypeString,
			Required:    true,
		},
		{
			Name:        "target",
			DisplayName: "Target Value",
			Description: "Stop the search as soon as this value is reached",
			Type:        models.ParameterTypeFloat,
		},
	}
}
