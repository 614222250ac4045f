// -----------------------------------------------------------------------
// Controller - Optimizing job iteration loop
// -----------------------------------------------------------------------

package optimizer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/onero/internal/common"
	"github.com/ternarybob/onero/internal/interfaces"
	"github.com/ternarybob/onero/internal/models"
	"github.com/ternarybob/onero/internal/scheduler"
)

// activeRun tracks one optimizing job's in-flight state.
type activeRun struct {
	cancel         chan struct{}
	cancelOnce     sync.Once
	mu             sync.Mutex
	currentChildID string
	paused         bool
}

func (r *activeRun) requestCancel() {
	r.cancelOnce.Do(func() { close(r.cancel) })
}

func (r *activeRun) child() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentChildID
}

func (r *activeRun) setChild(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentChildID = id
}

func (r *activeRun) setPaused(p bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = p
}

func (r *activeRun) isPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// Controller drives optimizing jobs: it schedules one child job per thread
// count, scores each completed iteration, and stops when the search stops
// improving. Each optimizing job runs in its own goroutine; the scheduler
// does all the actual dispatching.
type Controller struct {
	config     *common.Config
	logger     arbor.ILogger
	scheduler  *scheduler.Scheduler
	storage    interfaces.StorageManager
	algorithms *AlgorithmRegistry
	classes    interfaces.JobClassRegistry
	events     interfaces.EventService
	ids        IDSource

	mu     sync.Mutex
	active map[string]*activeRun
	wg     sync.WaitGroup
}

// IDSource allocates optimizing-job identifiers.
type IDSource interface {
	Next(prefix string) string
}

// NewController creates an optimizing job controller.
func NewController(
	config *common.Config,
	logger arbor.ILogger,
	sched *scheduler.Scheduler,
	storage interfaces.StorageManager,
	algorithms *AlgorithmRegistry,
	classes interfaces.JobClassRegistry,
	events interfaces.EventService,
	ids IDSource,
) *Controller {
	return &Controller{
		config:     config,
		logger:     logger,
		scheduler:  sched,
		storage:    storage,
		algorithms: algorithms,
		classes:    classes,
		events:     events,
		ids:        ids,
		active:     make(map[string]*activeRun),
	}
}

// Recover closes out optimizing jobs that were live when the previous process
// died. Their iteration loops cannot be resumed, so the record is finalized
// the same way the scheduler finalizes interrupted jobs, and any still-pending
// iterations are cancelled.
func (c *Controller) Recover(ctx context.Context) error {
	opts, err := c.storage.OptimizingJobs().ListOptimizingJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover optimizing jobs: %w", err)
	}

	for _, opt := range opts {
		if opt.IsTerminal() {
			continue
		}
		for _, childID := range opt.IterationIDs {
			if cerr := c.scheduler.CancelJob(ctx, childID); cerr != nil {
				c.logger.Debug().Err(cerr).Str("job_id", childID).Msg("Iteration already settled during recovery")
			}
		}
		if terr := opt.TransitionTo(models.JobStateStoppedByShutdown); terr != nil {
			c.logger.Warn().Err(terr).Str("opt_id", opt.ID).Msg("Could not finalize recovered optimizing job")
			continue
		}
		opt.StopReason = "server restarted while optimizing job was running"
		c.persist(ctx, opt)
		c.logger.Warn().Str("opt_id", opt.ID).Msg("Closed out optimizing job interrupted by restart")
	}
	return nil
}

// ScheduleOptimizingJob validates the job, resolves its algorithm, persists
// it, and launches the iteration loop.
func (c *Controller) ScheduleOptimizingJob(ctx context.Context, opt *models.OptimizingJob) (*models.OptimizingJob, error) {
	if err := opt.Validate(); err != nil {
		return nil, models.WrapError(models.ErrKindValidationFailed, err, "optimizing job rejected")
	}

	algo, err := c.algorithms.New(opt.AlgorithmName)
	if err != nil {
		return nil, err
	}
	if err := algo.Configure(opt.AlgorithmParams); err != nil {
		return nil, models.WrapError(models.ErrKindValidationFailed, err, "algorithm configuration rejected")
	}
	if c.classes != nil {
		class := c.classes.Get(opt.JobClassName)
		if class == nil {
			return nil, models.NewError(models.ErrKindUnknownJobClass, "no job class named %s", opt.JobClassName)
		}
		if !algo.AvailableWithJobClass(class) {
			return nil, models.NewError(models.ErrKindValidationFailed,
				"algorithm %s is not available for job class %s", opt.AlgorithmName, opt.JobClassName)
		}
	}

	opt = opt.Clone()
	opt.ID = c.ids.Next("opt")
	now := time.Now()
	opt.CreatedAt = now
	opt.UpdatedAt = now
	opt.State = models.JobStateNotYetStarted
	if opt.StartTime.IsZero() {
		opt.StartTime = now
	}

	if err := c.storage.OptimizingJobs().SaveOptimizingJob(ctx, opt); err != nil {
		return nil, models.WrapError(models.ErrKindStorageFailure, err, "failed to persist optimizing job")
	}

	run := &activeRun{cancel: make(chan struct{})}
	run.setPaused(opt.PauseRequested)
	c.mu.Lock()
	c.active[opt.ID] = run
	c.mu.Unlock()

	snapshot := opt.Clone()
	c.wg.Add(1)
	common.SafeGo(c.logger, "optimizing-job", func() {
		defer c.wg.Done()
		c.run(snapshot, run, algo)
	})

	c.logger.Info().
		Str("opt_id", opt.ID).
		Str("algorithm", opt.AlgorithmName).
		Int("min_threads", opt.MinThreads).
		Int("max_threads", opt.MaxThreads).
		Msg("Optimizing job scheduled")
	return opt.Clone(), nil
}

// CancelOptimizingJob stops the iteration loop and cancels the in-flight
// child job.
func (c *Controller) CancelOptimizingJob(ctx context.Context, id string) error {
	c.mu.Lock()
	run, ok := c.active[id]
	c.mu.Unlock()
	if !ok {
		return models.NewError(models.ErrKindJobNotFound, "optimizing job %s is not active", id)
	}

	run.requestCancel()
	if child := run.child(); child != "" {
		if err := c.scheduler.CancelJob(ctx, child); err != nil {
			c.logger.Debug().Err(err).Str("job_id", child).Msg("Child already finished when cancel arrived")
		}
	}
	return nil
}

// PauseOptimizingJob makes the next iteration start disabled. The current
// iteration runs to completion.
func (c *Controller) PauseOptimizingJob(ctx context.Context, id string) error {
	c.mu.Lock()
	run, ok := c.active[id]
	c.mu.Unlock()
	if !ok {
		return models.NewError(models.ErrKindJobNotFound, "optimizing job %s is not active", id)
	}
	run.setPaused(true)
	c.updatePersisted(ctx, id, func(opt *models.OptimizingJob) { opt.PauseRequested = true })
	return nil
}

// UnpauseOptimizingJob clears the pause flag and enables a child that was
// created disabled while paused.
func (c *Controller) UnpauseOptimizingJob(ctx context.Context, id string) error {
	c.mu.Lock()
	run, ok := c.active[id]
	c.mu.Unlock()
	if !ok {
		return models.NewError(models.ErrKindJobNotFound, "optimizing job %s is not active", id)
	}
	run.setPaused(false)
	c.updatePersisted(ctx, id, func(opt *models.OptimizingJob) { opt.PauseRequested = false })

	if child := run.child(); child != "" {
		if err := c.scheduler.EnableJob(ctx, child); err != nil {
			c.logger.Debug().Err(err).Str("job_id", child).Msg("Child was not disabled")
		}
	}
	return nil
}

// GetOptimizingJob returns the persisted record.
func (c *Controller) GetOptimizingJob(ctx context.Context, id string) (*models.OptimizingJob, error) {
	opt, err := c.storage.OptimizingJobs().GetOptimizingJob(ctx, id)
	if err != nil {
		return nil, models.WrapError(models.ErrKindJobNotFound, err, "optimizing job %s", id)
	}
	return opt, nil
}

// ListOptimizingJobs returns all persisted optimizing jobs.
func (c *Controller) ListOptimizingJobs(ctx context.Context) ([]*models.OptimizingJob, error) {
	return c.storage.OptimizingJobs().ListOptimizingJobs(ctx)
}

// Wait blocks until every active iteration loop has finished. Used by tests
// and shutdown.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// run is the iteration loop for one optimizing job.
func (c *Controller) run(opt *models.OptimizingJob, run *activeRun, algo interfaces.OptimizationAlgorithm) {
	ctx := context.Background()
	defer func() {
		c.mu.Lock()
		delete(c.active, opt.ID)
		c.mu.Unlock()
	}()

	if err := opt.TransitionTo(models.JobStateRunning); err != nil {
		c.logger.Error().Err(err).Str("opt_id", opt.ID).Msg("Optimizing job could not start")
		return
	}
	c.persist(ctx, opt)

	var (
		history      []float64
		nonImproving int
		lastChild    *models.Job
		cancelled    bool
		schedErr     error
		prevChildID  string
	)

	for iteration := 0; ; iteration++ {
		threads := opt.ThreadCountForIteration(iteration)
		if opt.MaxThreads > 0 && threads > opt.MaxThreads {
			c.logger.Info().Str("opt_id", opt.ID).Int("threads", threads).Msg("Thread ceiling reached")
			break
		}

		select {
		case <-run.cancel:
			cancelled = true
		default:
		}
		if cancelled {
			break
		}

		child, err := c.scheduleIteration(ctx, opt, run, threads, prevChildID)
		if err != nil {
			c.logger.Error().Err(err).Str("opt_id", opt.ID).Msg("Failed to schedule iteration")
			schedErr = err
			break
		}
		prevChildID = child.ID
		opt.IterationIDs = append(opt.IterationIDs, child.ID)
		c.persist(ctx, opt)

		final, ok := c.awaitChild(ctx, run, child.ID)
		if !ok {
			cancelled = true
			break
		}
		lastChild = final

		value, scoreErr := c.scoreIteration(algo, final)
		improving := false
		switch {
		case scoreErr != nil:
			c.logger.Warn().Err(scoreErr).Str("job_id", final.ID).Msg("Iteration produced no usable value")
		case !opt.HasOptimalValue:
			// the first scored iteration always becomes the baseline
			improving = true
		default:
			improving = algo.IsImproving(value, opt.OptimalValue)
		}

		if scoreErr == nil {
			history = append(history, value)
		}
		if improving {
			opt.RecordOptimal(final.ID, threads, value)
			nonImproving = 0
		} else {
			nonImproving++
		}
		c.persist(ctx, opt)

		c.logger.Info().
			Str("opt_id", opt.ID).
			Int("threads", threads).
			Float64("value", value).
			Bool("improving", improving).
			Int("non_improving", nonImproving).
			Msg("Iteration complete")

		if final.State == models.JobStateStoppedByUser || final.State == models.JobStateStoppedByShutdown {
			break
		}
		// max of zero means the first non-improving iteration ends the search
		if nonImproving > 0 && nonImproving >= opt.MaxConsecutiveNonImproving {
			break
		}
		if algo.ShouldStop(history) {
			c.logger.Info().Str("opt_id", opt.ID).Msg("Algorithm ended the search")
			break
		}

		if opt.DelayBetweenIterations > 0 {
			select {
			case <-run.cancel:
				cancelled = true
			case <-time.After(opt.DelayBetweenIterations):
			}
			if cancelled {
				break
			}
		}
	}

	if !cancelled && schedErr == nil && opt.ReRunBestIteration && opt.HasOptimalValue {
		c.reRunBest(ctx, opt, run)
	}

	c.finish(ctx, opt, lastChild, cancelled, schedErr)
}

// scheduleIteration builds and schedules one child job at the given thread
// count. While paused, children are created disabled and wait for an
// explicit enable.
func (c *Controller) scheduleIteration(ctx context.Context, opt *models.OptimizingJob, run *activeRun, threads int, prevChildID string) (*models.Job, error) {
	description := opt.Description
	if opt.IncludeThreadsInDescription {
		if description != "" {
			description = fmt.Sprintf("%s (%d threads)", description, threads)
		} else {
			description = fmt.Sprintf("%d threads", threads)
		}
	}

	child := &models.Job{
		JobClassName:              opt.JobClassName,
		JobGroup:                  opt.JobGroup,
		FolderName:                opt.FolderName,
		Description:               description,
		OptimizingJobID:           opt.ID,
		Duration:                  opt.Duration,
		NumClients:                opt.NumClients,
		RequestedClients:          append([]string(nil), opt.RequestedClients...),
		ResourceMonitorClients:    append([]string(nil), opt.ResourceMonitorClients...),
		MonitorClientsIfAvailable: opt.MonitorClientsIfAvailable,
		ThreadsPerClient:          threads,
		ThreadStartupDelayMs:      opt.ThreadStartupDelayMs,
		CollectionIntervalSeconds: opt.CollectionIntervalSeconds,
		ParameterValues:           opt.ParameterValues,
	}
	// iterations run strictly one after another
	if prevChildID != "" {
		child.Dependencies = []string{prevChildID}
	} else {
		child.Dependencies = append([]string(nil), opt.Dependencies...)
	}
	if run.isPaused() {
		child.State = models.JobStateDisabled
	}

	scheduled, err := c.scheduler.ScheduleJob(ctx, child)
	if err != nil {
		return nil, err
	}
	run.setChild(scheduled.ID)
	return scheduled, nil
}

// awaitChild blocks until the child reaches a terminal state or the run is
// cancelled. On cancel the child is cancelled too and its final record
// collected.
func (c *Controller) awaitChild(ctx context.Context, run *activeRun, childID string) (*models.Job, bool) {
	done, err := c.scheduler.WaitForCompletion(ctx, childID)
	if err != nil {
		return nil, false
	}

	select {
	case final := <-done:
		return final, true
	case <-run.cancel:
		if cerr := c.scheduler.CancelJob(ctx, childID); cerr != nil {
			c.logger.Debug().Err(cerr).Str("job_id", childID).Msg("Child already finished when cancel arrived")
		}
		// the child still finalizes; drain the waiter so nothing leaks
		<-done
		return nil, false
	}
}

func (c *Controller) scoreIteration(algo interfaces.OptimizationAlgorithm, final *models.Job) (float64, error) {
	if final.State != models.JobStateCompletedSuccessfully {
		return 0, fmt.Errorf("iteration %s ended %s", final.ID, final.State)
	}
	return algo.Score(final)
}

// reRunBest schedules one confirmation run of the best thread count. A zero
// re-run duration falls back to the template duration unless verbatim
// zero-duration re-runs are enabled.
func (c *Controller) reRunBest(ctx context.Context, opt *models.OptimizingJob, run *activeRun) {
	duration := opt.ReRunDuration
	if duration == 0 && !c.config.Scheduler.RerunZeroDurationVerbatim {
		duration = opt.Duration
	}

	child := &models.Job{
		JobClassName:              opt.JobClassName,
		JobGroup:                  opt.JobGroup,
		FolderName:                opt.FolderName,
		Description:               fmt.Sprintf("re-run of best configuration (%d threads)", opt.OptimalThreads),
		OptimizingJobID:           opt.ID,
		Duration:                  duration,
		NumClients:                opt.NumClients,
		RequestedClients:          append([]string(nil), opt.RequestedClients...),
		ResourceMonitorClients:    append([]string(nil), opt.ResourceMonitorClients...),
		MonitorClientsIfAvailable: opt.MonitorClientsIfAvailable,
		ThreadsPerClient:          opt.OptimalThreads,
		ThreadStartupDelayMs:      opt.ThreadStartupDelayMs,
		CollectionIntervalSeconds: opt.CollectionIntervalSeconds,
		ParameterValues:           opt.ParameterValues,
	}
	if len(opt.IterationIDs) > 0 {
		child.Dependencies = []string{opt.IterationIDs[len(opt.IterationIDs)-1]}
	}

	scheduled, err := c.scheduler.ScheduleJob(ctx, child)
	if err != nil {
		c.logger.Error().Err(err).Str("opt_id", opt.ID).Msg("Failed to schedule re-run")
		return
	}
	run.setChild(scheduled.ID)
	opt.ReRunIterationID = scheduled.ID
	c.persist(ctx, opt)

	if _, ok := c.awaitChild(ctx, run, scheduled.ID); !ok {
		return
	}
	c.logger.Info().Str("opt_id", opt.ID).Str("job_id", scheduled.ID).Msg("Re-run of best configuration finished")
}

// finish records the optimizing job's terminal state, mirroring how its last
// child ended where that matters. A search cut short by a scheduling failure
// must not read as a successful completion.
func (c *Controller) finish(ctx context.Context, opt *models.OptimizingJob, lastChild *models.Job, cancelled bool, schedErr error) {
	state := models.JobStateCompletedSuccessfully
	reason := ""

	switch {
	case cancelled:
		state = models.JobStateCancelled
		reason = "cancelled by user"
	case lastChild != nil && lastChild.State == models.JobStateStoppedByUser:
		state = models.JobStateStoppedByUser
		reason = "iteration stopped by user"
	case lastChild != nil && lastChild.State == models.JobStateStoppedByShutdown:
		state = models.JobStateStoppedByShutdown
		reason = "server shut down during iteration"
	case schedErr != nil && models.KindOf(schedErr) == models.ErrKindShutdownInProgress:
		state = models.JobStateStoppedByShutdown
		reason = "server shut down before the next iteration could start"
	case schedErr != nil:
		state = models.JobStateStoppedDueToError
		reason = fmt.Sprintf("failed to schedule iteration: %v", schedErr)
	case !opt.HasOptimalValue:
		state = models.JobStateCompletedWithErrors
		reason = "no iteration produced a usable value"
	}

	if err := opt.TransitionTo(state); err != nil {
		c.logger.Error().Err(err).Str("opt_id", opt.ID).Msg("Terminal transition rejected")
		return
	}
	opt.StopReason = reason
	c.persist(ctx, opt)

	c.logger.Info().
		Str("opt_id", opt.ID).
		Str("state", string(state)).
		Int("optimal_threads", opt.OptimalThreads).
		Float64("optimal_value", opt.OptimalValue).
		Int("iterations", len(opt.IterationIDs)).
		Msg("Optimizing job finished")

	if c.events != nil {
		_ = c.events.Publish(ctx, interfaces.Event{
			Type:    interfaces.EventOptimizingCompleted,
			Payload: opt.Clone(),
		})
	}
}

func (c *Controller) persist(ctx context.Context, opt *models.OptimizingJob) {
	if err := c.storage.OptimizingJobs().SaveOptimizingJob(ctx, opt); err != nil {
		c.logger.Error().Err(err).Str("opt_id", opt.ID).Msg("Failed to persist optimizing job")
	}
}

func (c *Controller) updatePersisted(ctx context.Context, id string, fn func(*models.OptimizingJob)) {
	opt, err := c.storage.OptimizingJobs().GetOptimizingJob(ctx, id)
	if err != nil {
		return
	}
	fn(opt)
	c.persist(ctx, opt)
}
