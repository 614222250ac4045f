package optimizer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/onero/internal/common"
	"github.com/ternarybob/onero/internal/interfaces"
	"github.com/ternarybob/onero/internal/models"
	"github.com/ternarybob/onero/internal/registry"
	"github.com/ternarybob/onero/internal/scheduler"
	storage "github.com/ternarybob/onero/internal/storage/badger"
)

// autoClient completes every job it receives immediately, reporting the
// metric value configured for the job's thread count.
type autoClient struct {
	id     string
	sched  func() *scheduler.Scheduler
	values func(threads int) (float64, bool)
}

func (c *autoClient) ID() string              { return c.id }
func (c *autoClient) Kind() models.ClientKind { return models.ClientKindLoad }
func (c *autoClient) Address() string         { return "" }
func (c *autoClient) StartJob(ctx context.Context, job *models.Job, threads int) error {
	go func() {
		s := c.sched()
		value, ok := c.values(threads)
		if ok {
			s.Inbox(models.ClientEvent{
				Type:     models.ClientEventStatsChunk,
				ClientID: c.id,
				JobID:    job.ID,
				Stats: &models.ClientStats{
					ClientID: c.id,
					JobID:    job.ID,
					Metrics:  map[string]float64{"ops": value},
				},
			})
		}
		s.Inbox(models.ClientEvent{
			Type:     models.ClientEventCompleted,
			ClientID: c.id,
			JobID:    job.ID,
			Success:  true,
		})
	}()
	return nil
}
func (c *autoClient) StopJob(ctx context.Context, jobID string, reason string) error {
	go c.sched().Inbox(models.ClientEvent{
		Type:     models.ClientEventCompleted,
		ClientID: c.id,
		JobID:    jobID,
		Success:  true,
	})
	return nil
}
func (c *autoClient) Disconnect(ctx context.Context, force bool) error { return nil }

type optHarness struct {
	controller *Controller
	scheduler  *scheduler.Scheduler
	storage    interfaces.StorageManager
	config     *common.Config
	alloc      *scheduler.IDAllocator
}

func newOptHarness(t *testing.T, values func(threads int) (float64, bool)) *optHarness {
	t.Helper()

	config := common.NewDefaultConfig()
	config.Scheduler.TickInterval = "5ms"
	config.Scheduler.MaxClientWait = "1h"
	config.Scheduler.ShutdownGrace = "100ms"

	logger := arbor.NewLogger()
	mgr, err := storage.NewManager(logger, &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	reg := registry.NewRegistry(logger, nil)

	ctx := context.Background()
	alloc, err := scheduler.NewIDAllocator(ctx, mgr.KV())
	require.NoError(t, err)

	sched := scheduler.NewScheduler(config, logger, mgr, reg, nil, nil, alloc)
	require.NoError(t, sched.Start(ctx))
	t.Cleanup(func() { sched.Stop(ctx) })

	client := &autoClient{
		id:     "c1",
		sched:  func() *scheduler.Scheduler { return sched },
		values: values,
	}
	require.NoError(t, reg.RegisterClient(client))

	controller := NewController(config, logger, sched, mgr, NewAlgorithmRegistry(), nil, nil, alloc)
	return &optHarness{controller: controller, scheduler: sched, storage: mgr, config: config, alloc: alloc}
}

func baseOptimizingJob() *models.OptimizingJob {
	return &models.OptimizingJob{
		JobClassName:               "http-get",
		Duration:                   time.Minute,
		NumClients:                 1,
		CollectionIntervalSeconds:  10,
		MinThreads:                 1,
		ThreadIncrement:            1,
		MaxConsecutiveNonImproving: 2,
		AlgorithmName:              "maximize-metric",
		AlgorithmParams:            map[string]string{"metric": "ops"},
	}
}

func awaitState(t *testing.T, h *optHarness, id string, want models.JobState) *models.OptimizingJob {
	t.Helper()
	var final *models.OptimizingJob
	require.Eventually(t, func() bool {
		opt, err := h.controller.GetOptimizingJob(context.Background(), id)
		if err != nil {
			return false
		}
		final = opt
		return opt.State == want
	}, 15*time.Second, 20*time.Millisecond, "optimizing job never reached %s", want)
	return final
}

func TestOptimizingJobFindsPeak(t *testing.T) {
	curve := map[int]float64{1: 100, 2: 180, 3: 240, 4: 280, 5: 300, 6: 295, 7: 290}
	h := newOptHarness(t, func(threads int) (float64, bool) {
		v, ok := curve[threads]
		return v, ok
	})

	opt, err := h.controller.ScheduleOptimizingJob(context.Background(), baseOptimizingJob())
	require.NoError(t, err)

	final := awaitState(t, h, opt.ID, models.JobStateCompletedSuccessfully)
	assert.Equal(t, 5, final.OptimalThreads)
	assert.Equal(t, 300.0, final.OptimalValue)
	assert.Len(t, final.IterationIDs, 7, "two consecutive declines end the search")

	// every iteration is linked by ID, newest-first order is lexicographic
	iterations, err := h.storage.Jobs().ListJobsByOptimizingJob(context.Background(), final.ID)
	require.NoError(t, err)
	require.Len(t, iterations, 7)
	for i, job := range iterations {
		assert.Equal(t, final.ID, job.OptimizingJobID)
		assert.Equal(t, i+1, job.ThreadsPerClient)
	}
}

func TestOptimizingJobZeroNonImprovingBudget(t *testing.T) {
	curve := map[int]float64{1: 100, 2: 180, 3: 240, 4: 220}
	h := newOptHarness(t, func(threads int) (float64, bool) {
		v, ok := curve[threads]
		return v, ok
	})

	req := baseOptimizingJob()
	req.MaxConsecutiveNonImproving = 0
	opt, err := h.controller.ScheduleOptimizingJob(context.Background(), req)
	require.NoError(t, err, "a zero non-improving budget is a legal configuration")

	final := awaitState(t, h, opt.ID, models.JobStateCompletedSuccessfully)
	assert.Equal(t, 3, final.OptimalThreads)
	assert.Equal(t, 240.0, final.OptimalValue)
	assert.Len(t, final.IterationIDs, 4, "the search runs while improving and ends at the first decline")
}

func TestOptimizingJobHonorsThreadCeiling(t *testing.T) {
	curve := map[int]float64{1: 100, 2: 180, 3: 240, 4: 280, 5: 300}
	h := newOptHarness(t, func(threads int) (float64, bool) {
		v, ok := curve[threads]
		return v, ok
	})

	req := baseOptimizingJob()
	req.MaxThreads = 4
	opt, err := h.controller.ScheduleOptimizingJob(context.Background(), req)
	require.NoError(t, err)

	final := awaitState(t, h, opt.ID, models.JobStateCompletedSuccessfully)
	assert.Equal(t, 4, final.OptimalThreads, "search stops at the ceiling even while improving")
	assert.Equal(t, 280.0, final.OptimalValue)
	assert.Len(t, final.IterationIDs, 4)
}

func TestOptimizingJobPauseAndResume(t *testing.T) {
	h := newOptHarness(t, func(threads int) (float64, bool) {
		return float64(100 - threads), true // immediately non-improving after baseline
	})

	req := baseOptimizingJob()
	req.PauseRequested = true
	opt, err := h.controller.ScheduleOptimizingJob(context.Background(), req)
	require.NoError(t, err)

	// the first iteration is created disabled and must not run
	require.Eventually(t, func() bool {
		for _, job := range h.scheduler.ListPending() {
			if job.OptimizingJobID == opt.ID && job.State == models.JobStateDisabled {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	running, err := h.controller.GetOptimizingJob(context.Background(), opt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateRunning, running.State)

	require.NoError(t, h.controller.UnpauseOptimizingJob(context.Background(), opt.ID))
	awaitState(t, h, opt.ID, models.JobStateCompletedSuccessfully)
}

func TestOptimizingJobCancel(t *testing.T) {
	h := newOptHarness(t, func(threads int) (float64, bool) {
		return float64(threads * 100), true // improves forever
	})

	req := baseOptimizingJob()
	req.DelayBetweenIterations = 5 * time.Millisecond
	opt, err := h.controller.ScheduleOptimizingJob(context.Background(), req)
	require.NoError(t, err)

	// let a couple of iterations finish before cancelling
	require.Eventually(t, func() bool {
		o, err := h.controller.GetOptimizingJob(context.Background(), opt.ID)
		return err == nil && len(o.IterationIDs) >= 2
	}, 10*time.Second, 10*time.Millisecond)

	require.NoError(t, h.controller.CancelOptimizingJob(context.Background(), opt.ID))
	final := awaitState(t, h, opt.ID, models.JobStateCancelled)
	assert.True(t, final.HasOptimalValue, "best value seen so far is retained")
}

func TestOptimizingJobAllIterationsUnusable(t *testing.T) {
	h := newOptHarness(t, func(threads int) (float64, bool) {
		return 0, false // clients never report the metric
	})

	opt, err := h.controller.ScheduleOptimizingJob(context.Background(), baseOptimizingJob())
	require.NoError(t, err)

	final := awaitState(t, h, opt.ID, models.JobStateCompletedWithErrors)
	assert.False(t, final.HasOptimalValue)
	assert.Len(t, final.IterationIDs, 2, "unusable iterations still count against the limit")
}

func TestOptimizingJobReRunsBest(t *testing.T) {
	curve := map[int]float64{1: 100, 2: 180, 3: 240, 4: 280, 5: 300}
	h := newOptHarness(t, func(threads int) (float64, bool) {
		v, ok := curve[threads]
		return v, ok
	})

	req := baseOptimizingJob()
	req.MaxThreads = 4
	req.ReRunBestIteration = true
	req.ReRunDuration = 0 // falls back to the template duration
	opt, err := h.controller.ScheduleOptimizingJob(context.Background(), req)
	require.NoError(t, err)

	final := awaitState(t, h, opt.ID, models.JobStateCompletedSuccessfully)
	require.NotEmpty(t, final.ReRunIterationID)

	reRun, err := h.storage.Jobs().GetJob(context.Background(), final.ReRunIterationID)
	require.NoError(t, err)
	assert.Equal(t, final.OptimalThreads, reRun.ThreadsPerClient)
	assert.Equal(t, req.Duration, reRun.Duration)
	assert.Equal(t, models.JobStateCompletedSuccessfully, reRun.State)
}

func TestUnknownAlgorithmRejected(t *testing.T) {
	h := newOptHarness(t, func(threads int) (float64, bool) { return 0, true })

	req := baseOptimizingJob()
	req.AlgorithmName = "simulated-annealing"
	_, err := h.controller.ScheduleOptimizingJob(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindUnknownAlgorithm, models.KindOf(err))
}

func TestAlgorithmRequiresMetric(t *testing.T) {
	h := newOptHarness(t, func(threads int) (float64, bool) { return 0, true })

	req := baseOptimizingJob()
	req.AlgorithmParams = nil
	_, err := h.controller.ScheduleOptimizingJob(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindValidationFailed, models.KindOf(err))
}

func TestRecoverClosesOutInterruptedOptimizingJob(t *testing.T) {
	h := newOptHarness(t, func(threads int) (float64, bool) { return 0, true })
	ctx := context.Background()

	// a pending iteration left behind by the previous process
	child, err := h.scheduler.ScheduleJob(ctx, &models.Job{
		JobClassName:              "http-get",
		NumClients:                1,
		ThreadsPerClient:          1,
		CollectionIntervalSeconds: 10,
		Duration:                  time.Minute,
		OptimizingJobID:           "opt-00000001-00000099",
		State:                     models.JobStateDisabled,
	})
	require.NoError(t, err)

	stranded := baseOptimizingJob()
	stranded.ID = "opt-00000001-00000099"
	stranded.State = models.JobStateRunning
	stranded.IterationIDs = []string{child.ID}
	require.NoError(t, h.storage.OptimizingJobs().SaveOptimizingJob(ctx, stranded))

	require.NoError(t, h.controller.Recover(ctx))

	recovered, err := h.controller.GetOptimizingJob(ctx, stranded.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateStoppedByShutdown, recovered.State)
	assert.NotEmpty(t, recovered.StopReason)

	orphan, err := h.scheduler.GetJob(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCancelled, orphan.State, "pending iterations do not outlive their parent")
}

func TestRecoverLeavesTerminalJobsAlone(t *testing.T) {
	h := newOptHarness(t, func(threads int) (float64, bool) { return 0, true })
	ctx := context.Background()

	done := baseOptimizingJob()
	done.ID = "opt-00000001-00000098"
	done.State = models.JobStateCompletedSuccessfully
	require.NoError(t, h.storage.OptimizingJobs().SaveOptimizingJob(ctx, done))

	require.NoError(t, h.controller.Recover(ctx))

	unchanged, err := h.controller.GetOptimizingJob(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCompletedSuccessfully, unchanged.State)
}

func TestOptimizingJobNotCompletedWhenSchedulerStops(t *testing.T) {
	h := newOptHarness(t, func(threads int) (float64, bool) {
		return float64(threads * 100), true // improves forever
	})

	req := baseOptimizingJob()
	req.DelayBetweenIterations = 250 * time.Millisecond
	req.ReRunBestIteration = true
	opt, err := h.controller.ScheduleOptimizingJob(context.Background(), req)
	require.NoError(t, err)

	// stop the scheduler in the window between iterations
	require.Eventually(t, func() bool {
		o, err := h.controller.GetOptimizingJob(context.Background(), opt.ID)
		return err == nil && len(o.IterationIDs) >= 1 && len(h.scheduler.ListRunning()) == 0
	}, 10*time.Second, 5*time.Millisecond)
	require.NoError(t, h.scheduler.Stop(context.Background()))

	final := awaitState(t, h, opt.ID, models.JobStateStoppedByShutdown)
	assert.NotEqual(t, models.JobStateCompletedSuccessfully, final.State)
	assert.Empty(t, final.ReRunIterationID, "no confirmation run after a cut-short search")
}

// pickyAlgorithm only works with one job class.
type pickyAlgorithm struct{}

func (a *pickyAlgorithm) Name() string                             { return "picky" }
func (a *pickyAlgorithm) Configure(params map[string]string) error { return nil }
func (a *pickyAlgorithm) Score(job *models.Job) (float64, error)   { return 0, nil }
func (a *pickyAlgorithm) IsImproving(candidate, best float64) bool { return candidate > best }
func (a *pickyAlgorithm) ShouldStop(history []float64) bool        { return false }
func (a *pickyAlgorithm) AvailableWithJobClass(class *interfaces.JobClass) bool {
	return class != nil && class.Name == "http-get"
}
func (a *pickyAlgorithm) ParameterStubs(class *interfaces.JobClass) []models.Parameter { return nil }

type stubClassRegistry struct {
	classes map[string]*interfaces.JobClass
}

func (s *stubClassRegistry) Get(name string) *interfaces.JobClass { return s.classes[name] }
func (s *stubClassRegistry) List() []*interfaces.JobClass {
	out := make([]*interfaces.JobClass, 0, len(s.classes))
	for _, c := range s.classes {
		out = append(out, c)
	}
	return out
}
func (s *stubClassRegistry) Register(class *interfaces.JobClass) error {
	s.classes[class.Name] = class
	return nil
}
func (s *stubClassRegistry) Reload() error { return nil }

func TestScheduleChecksAlgorithmClassAvailability(t *testing.T) {
	h := newOptHarness(t, func(threads int) (float64, bool) { return 0, true })

	algorithms := NewAlgorithmRegistry()
	algorithms.Register("picky", func() interfaces.OptimizationAlgorithm { return &pickyAlgorithm{} })
	classes := &stubClassRegistry{classes: map[string]*interfaces.JobClass{
		"http-get": {Name: "http-get"},
		"ftp-put":  {Name: "ftp-put"},
	}}
	controller := NewController(h.config, arbor.NewLogger(), h.scheduler, h.storage, algorithms, classes, nil, h.alloc)

	req := baseOptimizingJob()
	req.AlgorithmName = "picky"
	req.AlgorithmParams = nil
	req.JobClassName = "ftp-put"
	_, err := controller.ScheduleOptimizingJob(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindValidationFailed, models.KindOf(err))

	req.JobClassName = "telnet-session"
	_, err = controller.ScheduleOptimizingJob(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindUnknownJobClass, models.KindOf(err))
}

func TestDescribeAlgorithms(t *testing.T) {
	algorithms := NewAlgorithmRegistry()

	infos := algorithms.Describe(nil)
	require.Len(t, infos, 2)
	assert.Equal(t, "maximize-metric", infos[0].Name)
	assert.Equal(t, "minimize-metric", infos[1].Name)

	require.NotEmpty(t, infos[0].Parameters)
	assert.Equal(t, "metric", infos[0].Parameters[0].Name)
	assert.True(t, infos[0].Parameters[0].Required)

	deprecated := &interfaces.JobClass{Name: "old-class", Deprecated: true}
	assert.Empty(t, algorithms.Describe(deprecated), "deprecated classes cannot be optimized")
}

func TestMinimizeMetricDirection(t *testing.T) {
	registry := NewAlgorithmRegistry()
	algo, err := registry.New("minimize-metric")
	require.NoError(t, err)
	require.NoError(t, algo.Configure(map[string]string{"metric": "latency_ms"}))

	assert.True(t, algo.IsImproving(80, 100))
	assert.False(t, algo.IsImproving(120, 100))
}

func TestMetricTargetStopsSearch(t *testing.T) {
	registry := NewAlgorithmRegistry()
	algo, err := registry.New("maximize-metric")
	require.NoError(t, err)
	require.NoError(t, algo.Configure(map[string]string{"metric": "ops", "target": "250"}))

	assert.False(t, algo.ShouldStop([]float64{100, 180}))
	assert.True(t, algo.ShouldStop([]float64{100, 180, 260}))
}
