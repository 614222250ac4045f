// -----------------------------------------------------------------------
// Scheduler - Pending/running job tables and the dispatch tick loop
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/onero/internal/common"
	"github.com/ternarybob/onero/internal/interfaces"
	"github.com/ternarybob/onero/internal/models"
	"github.com/ternarybob/onero/internal/registry"
)

const inboxSize = 256

// runState tracks a running job's outstanding client reports and any stop
// that has been requested for it.
type runState struct {
	job             *models.Job
	outstanding     map[string]bool
	failures        int
	stopTarget      models.JobState
	stopReason      string
	stopRequestedAt time.Time
}

// Scheduler owns the pending and running job tables and the single loop that
// mutates them. All external mutations arrive either through method calls
// that take the scheduler lock or as events on the inbox channel.
type Scheduler struct {
	config   *common.Config
	logger   arbor.ILogger
	storage  interfaces.StorageManager
	registry *registry.Registry
	events   interfaces.EventService
	classes  interfaces.JobClassRegistry
	ids      *IDAllocator

	mu           sync.Mutex
	pending      map[string]*models.Job
	running      map[string]*runState
	recent       []string // completed job IDs, newest last, bounded ring
	dirty        map[string]bool
	waiters      map[string][]chan *models.Job
	waitingSince map[string]time.Time
	shuttingDown bool

	inbox chan models.ClientEvent
	stop  chan struct{}
	wg    sync.WaitGroup
}

// NewScheduler creates a scheduler over the given collaborators. Call Start
// to recover persisted state and begin the tick loop.
func NewScheduler(
	config *common.Config,
	logger arbor.ILogger,
	storage interfaces.StorageManager,
	reg *registry.Registry,
	events interfaces.EventService,
	classes interfaces.JobClassRegistry,
	ids *IDAllocator,
) *Scheduler {
	return &Scheduler{
		config:       config,
		logger:       logger,
		storage:      storage,
		registry:     reg,
		events:       events,
		classes:      classes,
		ids:          ids,
		pending:      make(map[string]*models.Job),
		running:      make(map[string]*runState),
		dirty:        make(map[string]bool),
		waiters:      make(map[string][]chan *models.Job),
		waitingSince: make(map[string]time.Time),
		inbox:        make(chan models.ClientEvent, inboxSize),
		stop:         make(chan struct{}),
	}
}

// Start recovers persisted jobs and launches the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.recover(ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.run()

	s.logger.Info().
		Int("pending", len(s.pending)).
		Str("tick", s.config.Scheduler.TickInterval).
		Msg("Scheduler started")
	return nil
}

// recover reloads pending jobs and closes out jobs that were running when the
// previous process died.
func (s *Scheduler) recover(ctx context.Context) error {
	jobs, err := s.storage.Jobs().ListJobsByState(ctx,
		models.JobStateNotYetStarted, models.JobStateDisabled, models.JobStateRunning)
	if err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}

	for _, job := range jobs {
		switch job.State {
		case models.JobStateRunning:
			if err := job.TransitionTo(models.JobStateStoppedByShutdown); err == nil {
				job.StopReason = "server restarted while job was running"
				if saveErr := s.storage.Jobs().SaveJob(ctx, job); saveErr != nil {
					s.logger.Warn().Err(saveErr).Str("job_id", job.ID).Msg("Failed to persist recovered job")
				}
				s.rememberCompletedLocked(job.ID)
				s.logger.Warn().Str("job_id", job.ID).Msg("Closed out job interrupted by restart")
			}
		default:
			s.pending[job.ID] = job
		}
	}
	return nil
}

// Stop drains the scheduler: running jobs are stopped with a shutdown state,
// the loop waits up to the configured grace for clients to report, and all
// dirty jobs are flushed.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return nil
	}
	s.shuttingDown = true
	for _, rs := range s.running {
		s.requestStopLocked(ctx, rs, models.JobStateStoppedByShutdown, "server shutting down")
	}
	remaining := len(s.running)
	s.mu.Unlock()

	if remaining > 0 {
		grace := s.config.Scheduler.ShutdownGraceDuration()
		deadline := time.Now().Add(grace)
		for time.Now().Before(deadline) {
			s.mu.Lock()
			remaining = len(s.running)
			s.mu.Unlock()
			if remaining == 0 {
				break
			}
			time.Sleep(50 * time.Millisecond)
		}
	}

	// Force-close anything still open past the grace period
	s.mu.Lock()
	for id, rs := range s.running {
		s.logger.Warn().Str("job_id", id).Msg("Job did not stop within shutdown grace")
		s.finalizeLocked(ctx, rs, models.JobStateStoppedByShutdown, "server shutting down")
	}
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()
	s.flushDirty(ctx)

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// run is the scheduler loop: one ticker, one inbox, one goroutine.
func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Scheduler.TickIntervalDuration())
	defer ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-s.stop:
			return
		case ev := <-s.inbox:
			s.handleEvent(ctx, ev)
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Inbox delivers a client event into the scheduler loop. It never blocks the
// transport; a full inbox drops the event with a log line.
func (s *Scheduler) Inbox(ev models.ClientEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case s.inbox <- ev:
	default:
		s.logger.Error().
			Str("type", string(ev.Type)).
			Str("client_id", ev.ClientID).
			Msg("Scheduler inbox full, dropping event")
	}
}

// ScheduleJob validates a job template, assigns an ID, and places it on the
// pending table. The returned job reflects its assigned ID and state.
func (s *Scheduler) ScheduleJob(ctx context.Context, job *models.Job) (*models.Job, error) {
	if err := job.Validate(); err != nil {
		return nil, models.WrapError(models.ErrKindValidationFailed, err, "job rejected")
	}
	if s.classes != nil && s.classes.Get(job.JobClassName) == nil {
		return nil, models.NewError(models.ErrKindUnknownJobClass, "job class %s is not registered", job.JobClassName)
	}
	if s.classes != nil {
		if class := s.classes.Get(job.JobClassName); class != nil {
			if err := models.ValidateParameterValues(class.Parameters, job.ParameterValues); err != nil {
				return nil, models.WrapError(models.ErrKindValidationFailed, err, "job rejected")
			}
		}
	}

	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return nil, models.NewError(models.ErrKindShutdownInProgress, "scheduler is shutting down")
	}

	job = job.Clone()
	job.ID = s.ids.Next("job")
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.StartTime.IsZero() {
		job.StartTime = now
	}
	startDisabled := job.State == models.JobStateDisabled
	job.State = models.JobStateUninitialized
	if err := job.TransitionTo(models.JobStateNotYetStarted); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if startDisabled {
		if err := job.TransitionTo(models.JobStateDisabled); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}

	s.pending[job.ID] = job
	s.dirty[job.ID] = true
	s.mu.Unlock()

	if err := s.storage.Jobs().SaveJob(ctx, job); err != nil {
		s.mu.Lock()
		delete(s.pending, job.ID)
		delete(s.dirty, job.ID)
		s.mu.Unlock()
		return nil, models.WrapError(models.ErrKindStorageFailure, err, "failed to persist job")
	}
	s.clearDirty(job.ID)

	s.logger.Info().
		Str("job_id", job.ID).
		Str("class", job.JobClassName).
		Int("clients", job.NumClients).
		Msg("Job scheduled")
	s.publish(interfaces.EventJobScheduled, job.Clone())
	return job.Clone(), nil
}

// CancelJob cancels a pending job immediately, or asks a running job's
// clients to stop and records the cancellation once they report.
func (s *Scheduler) CancelJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.pending[id]; ok {
		if err := job.TransitionTo(models.JobStateCancelled); err != nil {
			return models.WrapError(models.ErrKindIllegalState, err, "cannot cancel job %s", id)
		}
		job.StopReason = "cancelled before start"
		s.completePendingLocked(ctx, job)
		return nil
	}
	if rs, ok := s.running[id]; ok {
		s.requestStopLocked(ctx, rs, models.JobStateCancelled, "cancelled by user")
		return nil
	}
	return models.NewError(models.ErrKindJobNotFound, "job %s is not pending or running", id)
}

// StopJob stops a running job on user request.
func (s *Scheduler) StopJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok := s.running[id]
	if !ok {
		return models.NewError(models.ErrKindJobNotFound, "job %s is not running", id)
	}
	s.requestStopLocked(ctx, rs, models.JobStateStoppedByUser, "stopped by user")
	return nil
}

// DisableJob holds a pending job back from dispatch.
func (s *Scheduler) DisableJob(ctx context.Context, id string) error {
	return s.transitionPending(ctx, id, models.JobStateDisabled)
}

// EnableJob returns a disabled job to the dispatchable pool.
func (s *Scheduler) EnableJob(ctx context.Context, id string) error {
	return s.transitionPending(ctx, id, models.JobStateNotYetStarted)
}

func (s *Scheduler) transitionPending(ctx context.Context, id string, state models.JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.pending[id]
	if !ok {
		return models.NewError(models.ErrKindJobNotFound, "job %s is not pending", id)
	}
	if err := job.TransitionTo(state); err != nil {
		return models.WrapError(models.ErrKindIllegalState, err, "cannot move job %s to %s", id, state)
	}
	s.dirty[id] = true
	return nil
}

// GetJob returns a copy of the job from memory or storage.
func (s *Scheduler) GetJob(ctx context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	if job, ok := s.pending[id]; ok {
		defer s.mu.Unlock()
		return job.Clone(), nil
	}
	if rs, ok := s.running[id]; ok {
		defer s.mu.Unlock()
		return rs.job.Clone(), nil
	}
	s.mu.Unlock()

	job, err := s.storage.Jobs().GetJob(ctx, id)
	if err != nil {
		return nil, models.WrapError(models.ErrKindJobNotFound, err, "job %s", id)
	}
	return job, nil
}

// ListPending returns copies of the pending jobs sorted by ID.
func (s *Scheduler) ListPending() []*models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]*models.Job, 0, len(s.pending))
	for _, job := range s.pending {
		jobs = append(jobs, job.Clone())
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// ListRunning returns copies of the running jobs sorted by ID.
func (s *Scheduler) ListRunning() []*models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]*models.Job, 0, len(s.running))
	for _, rs := range s.running {
		jobs = append(jobs, rs.job.Clone())
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// RecentCompleted returns the most recently completed jobs, newest first.
func (s *Scheduler) RecentCompleted(ctx context.Context) []*models.Job {
	s.mu.Lock()
	ids := append([]string(nil), s.recent...)
	s.mu.Unlock()

	jobs := make([]*models.Job, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if job, err := s.storage.Jobs().GetJob(ctx, ids[i]); err == nil {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// WaitForCompletion returns a channel that receives the job once it reaches a
// terminal state. Jobs already terminal are delivered immediately.
func (s *Scheduler) WaitForCompletion(ctx context.Context, id string) (<-chan *models.Job, error) {
	ch := make(chan *models.Job, 1)

	s.mu.Lock()
	_, isPending := s.pending[id]
	_, isRunning := s.running[id]
	if isPending || isRunning {
		s.waiters[id] = append(s.waiters[id], ch)
		s.mu.Unlock()
		return ch, nil
	}
	s.mu.Unlock()

	job, err := s.storage.Jobs().GetJob(ctx, id)
	if err != nil {
		return nil, models.WrapError(models.ErrKindJobNotFound, err, "job %s", id)
	}
	if !job.IsTerminal() {
		// pending table miss but not terminal: jobs persisted by another epoch
		s.mu.Lock()
		s.waiters[id] = append(s.waiters[id], ch)
		s.mu.Unlock()
		return ch, nil
	}
	ch <- job
	return ch, nil
}

// tick walks the pending table in ID order, dispatching every eligible job,
// enforces running-job deadlines, and flushes dirty records.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		job := s.pending[id]
		if job == nil || job.State == models.JobStateDisabled {
			continue
		}
		if job.StartTime.After(now) {
			continue
		}
		if job.StopTime != nil && now.After(*job.StopTime) {
			if err := job.TransitionTo(models.JobStateStoppedDueToStopTime); err == nil {
				job.StopReason = "stop time passed before the job could start"
				s.completePendingLocked(ctx, job)
			}
			continue
		}
		if !s.dependenciesSatisfiedLocked(ctx, job) {
			continue
		}
		s.tryDispatchLocked(ctx, job, now)
	}

	for _, rs := range s.running {
		if rs.stopTarget != "" {
			continue
		}
		if deadline, ok := rs.job.Deadline(); ok && now.After(deadline) {
			state := models.JobStateStoppedDueToDuration
			reason := "run duration elapsed"
			if rs.job.StopTime != nil && !now.Before(*rs.job.StopTime) {
				if rs.job.Duration == 0 || rs.job.ActualStartTime == nil ||
					rs.job.StopTime.Before(rs.job.ActualStartTime.Add(rs.job.Duration)) {
					state = models.JobStateStoppedDueToStopTime
					reason = "stop time reached"
				}
			}
			s.requestStopLocked(ctx, rs, state, reason)
		}
	}
	s.mu.Unlock()

	s.flushDirty(ctx)
}

// dependenciesSatisfiedLocked reports whether every dependency has reached a
// terminal state. Unknown dependency IDs count as satisfied.
func (s *Scheduler) dependenciesSatisfiedLocked(ctx context.Context, job *models.Job) bool {
	for _, dep := range job.Dependencies {
		if _, ok := s.pending[dep]; ok {
			return false
		}
		if _, ok := s.running[dep]; ok {
			return false
		}
		if stored, err := s.storage.Jobs().GetJob(ctx, dep); err == nil && !stored.IsTerminal() {
			return false
		}
	}
	return true
}

// tryDispatchLocked attempts to claim clients and start a pending job. Jobs
// that cannot get their clients wait up to the configured limit, then fail.
func (s *Scheduler) tryDispatchLocked(ctx context.Context, job *models.Job, now time.Time) {
	loadIDs, err := s.registry.PickLoadClients(job)
	var monitorIDs []string
	if err == nil {
		monitorIDs, err = s.registry.PickMonitorClients(job)
	}
	if err == nil {
		err = s.registry.AssignJob(job.ID, loadIDs, monitorIDs)
	}

	if err != nil {
		waitingSince, seen := s.waitingSince[job.ID]
		if !seen {
			s.waitingSince[job.ID] = now
			return
		}
		if now.Sub(waitingSince) > s.config.Scheduler.MaxClientWaitDuration() {
			if terr := job.TransitionTo(models.JobStateStoppedDueToError); terr == nil {
				job.StopReason = fmt.Sprintf("clients unavailable: %v", err)
				s.completePendingLocked(ctx, job)
				delete(s.waitingSince, job.ID)
				s.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Job failed waiting for clients")
			}
		}
		return
	}
	delete(s.waitingSince, job.ID)

	if err := job.TransitionTo(models.JobStateRunning); err != nil {
		s.registry.ReleaseJob(ctx, job.ID)
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Dispatch blocked by state machine")
		return
	}

	rs := &runState{
		job:         job,
		outstanding: make(map[string]bool, len(loadIDs)),
	}
	for _, id := range loadIDs {
		rs.outstanding[id] = true
	}

	delete(s.pending, job.ID)
	s.running[job.ID] = rs
	s.dirty[job.ID] = true

	for _, clientID := range loadIDs {
		conn, ok := s.registry.Connection(clientID)
		if !ok {
			continue
		}
		id := clientID
		snapshot := job.Clone()
		threads := job.ThreadsPerClient
		common.SafeGo(s.logger, "start-job", func() {
			if err := conn.StartJob(ctx, snapshot, threads); err != nil {
				s.logger.Error().Err(err).Str("client_id", id).Str("job_id", snapshot.ID).Msg("Client rejected job start")
				s.Inbox(models.ClientEvent{
					Type:     models.ClientEventCompleted,
					ClientID: id,
					JobID:    snapshot.ID,
					Success:  false,
					Message:  "client rejected start command",
				})
				return
			}
			s.registry.MarkRunning(id)
		})
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Int("clients", len(loadIDs)).
		Int("monitors", len(monitorIDs)).
		Msg("Job dispatched")
	s.publish(interfaces.EventJobStarted, job.Clone())
}

// handleEvent applies one inbox event inside the scheduler loop.
func (s *Scheduler) handleEvent(ctx context.Context, ev models.ClientEvent) {
	switch ev.Type {
	case models.ClientEventRegistered:
		// registration itself happens in the registry; a fresh client may
		// unblock a waiting job on the next tick
	case models.ClientEventStatsChunk:
		s.mu.Lock()
		if rs, ok := s.running[ev.JobID]; ok && ev.Stats != nil {
			rs.job.Statistics.Merge(*ev.Stats)
			rs.job.HasStats = true
			s.dirty[ev.JobID] = true
		}
		s.mu.Unlock()
	case models.ClientEventCompleted:
		s.mu.Lock()
		if rs, ok := s.running[ev.JobID]; ok {
			if ev.Stats != nil {
				rs.job.Statistics.Merge(*ev.Stats)
				rs.job.HasStats = true
			}
			if rs.outstanding[ev.ClientID] {
				delete(rs.outstanding, ev.ClientID)
				if !ev.Success {
					rs.failures++
				}
			}
			if len(rs.outstanding) == 0 {
				state, reason := s.finalStateLocked(rs)
				s.finalizeLocked(ctx, rs, state, reason)
			}
		}
		s.mu.Unlock()
	case models.ClientEventDisconnected:
		s.handleDisconnect(ctx, ev)
	}
}

// handleDisconnect removes the client and fails its job: a lost client means
// the job can no longer produce complete results, so the remaining clients
// are stopped and the job ends with an error state carrying partial stats.
func (s *Scheduler) handleDisconnect(ctx context.Context, ev models.ClientEvent) {
	jobID, found := s.registry.Unregister(ev.ClientID)
	if !found || jobID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok := s.running[jobID]
	if !ok {
		return
	}

	delete(rs.outstanding, ev.ClientID)
	rs.failures++
	if rs.stopTarget == "" {
		s.requestStopLocked(ctx, rs, models.JobStateStoppedDueToError,
			fmt.Sprintf("client %s disconnected mid-run", ev.ClientID))
	}
	if len(rs.outstanding) == 0 {
		s.finalizeLocked(ctx, rs, rs.stopTarget, rs.stopReason)
	}
}

// finalStateLocked decides the terminal state once every client has reported.
func (s *Scheduler) finalStateLocked(rs *runState) (models.JobState, string) {
	if rs.stopTarget != "" {
		return rs.stopTarget, rs.stopReason
	}
	if rs.failures > 0 {
		return models.JobStateCompletedWithErrors,
			fmt.Sprintf("%d of %d clients reported errors", rs.failures, rs.job.NumClients)
	}
	return models.JobStateCompletedSuccessfully, ""
}

// requestStopLocked sends stop commands to a running job's outstanding
// clients and records the state the job will take when they report.
func (s *Scheduler) requestStopLocked(ctx context.Context, rs *runState, target models.JobState, reason string) {
	if rs.stopTarget == "" {
		rs.stopTarget = target
		rs.stopReason = reason
		rs.stopRequestedAt = time.Now()
	}
	jobID := rs.job.ID
	for clientID := range rs.outstanding {
		conn, ok := s.registry.Connection(clientID)
		if !ok {
			continue
		}
		id := clientID
		common.SafeGo(s.logger, "stop-job", func() {
			if err := conn.StopJob(ctx, jobID, reason); err != nil {
				s.logger.Warn().Err(err).Str("client_id", id).Str("job_id", jobID).Msg("Stop command failed")
			}
		})
	}
	s.logger.Info().Str("job_id", jobID).Str("target", string(target)).Str("reason", reason).Msg("Job stop requested")
}

// finalizeLocked retires a running job: terminal transition, client release,
// persistence, waiter notification, and the completed-ring entry.
func (s *Scheduler) finalizeLocked(ctx context.Context, rs *runState, state models.JobState, reason string) {
	job := rs.job
	if err := job.TransitionTo(state); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Finalize transition rejected")
		return
	}
	if reason != "" {
		job.StopReason = reason
	}

	delete(s.running, job.ID)
	delete(s.dirty, job.ID)
	s.registry.ReleaseJob(ctx, job.ID)
	s.rememberCompletedLocked(job.ID)

	if err := s.storage.Jobs().SaveJob(ctx, job); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist completed job")
	}

	s.notifyWaitersLocked(job)
	s.logger.Info().
		Str("job_id", job.ID).
		Str("state", string(state)).
		Bool("has_stats", job.HasStats).
		Msg("Job completed")
	s.publish(interfaces.EventJobCompleted, job.Clone())
}

// completePendingLocked retires a job that ended without ever running.
func (s *Scheduler) completePendingLocked(ctx context.Context, job *models.Job) {
	delete(s.pending, job.ID)
	delete(s.dirty, job.ID)
	delete(s.waitingSince, job.ID)
	s.rememberCompletedLocked(job.ID)

	if err := s.storage.Jobs().SaveJob(ctx, job); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist job")
	}
	s.notifyWaitersLocked(job)
	s.publish(interfaces.EventJobCompleted, job.Clone())
}

func (s *Scheduler) rememberCompletedLocked(id string) {
	s.recent = append(s.recent, id)
	if max := s.config.Scheduler.RecentCompletedSize; max > 0 && len(s.recent) > max {
		s.recent = s.recent[len(s.recent)-max:]
	}
}

func (s *Scheduler) notifyWaitersLocked(job *models.Job) {
	for _, ch := range s.waiters[job.ID] {
		ch <- job.Clone()
	}
	delete(s.waiters, job.ID)
}

// flushDirty persists every job marked dirty since the last flush.
func (s *Scheduler) flushDirty(ctx context.Context) {
	s.mu.Lock()
	toFlush := make([]*models.Job, 0, len(s.dirty))
	for id := range s.dirty {
		if job, ok := s.pending[id]; ok {
			toFlush = append(toFlush, job.Clone())
		} else if rs, ok := s.running[id]; ok {
			toFlush = append(toFlush, rs.job.Clone())
		}
		delete(s.dirty, id)
	}
	s.mu.Unlock()

	for _, job := range toFlush {
		if err := s.storage.Jobs().SaveJob(ctx, job); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to flush job")
		}
	}
}

// ReapStuck force-closes running jobs whose clients stopped responding: any
// job past its deadline by more than grace, or with a stop request that has
// gone unanswered for longer than grace. Returns how many jobs were reaped.
func (s *Scheduler) ReapStuck(ctx context.Context, grace time.Duration) int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var stuck []*runState
	for _, rs := range s.running {
		if !rs.stopRequestedAt.IsZero() && now.Sub(rs.stopRequestedAt) > grace {
			stuck = append(stuck, rs)
			continue
		}
		if deadline, ok := rs.job.Deadline(); ok && now.After(deadline.Add(grace)) {
			stuck = append(stuck, rs)
		}
	}

	for _, rs := range stuck {
		state := rs.stopTarget
		reason := rs.stopReason
		if state == "" {
			state = models.JobStateStoppedDueToError
			reason = "clients stopped responding"
		}
		s.logger.Warn().
			Str("job_id", rs.job.ID).
			Int("unresponsive", len(rs.outstanding)).
			Msg("Reaping stuck job")
		s.finalizeLocked(ctx, rs, state, reason)
	}
	return len(stuck)
}

func (s *Scheduler) clearDirty(id string) {
	s.mu.Lock()
	delete(s.dirty, id)
	s.mu.Unlock()
}

func (s *Scheduler) publish(eventType interfaces.EventType, payload interface{}) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(context.Background(), interfaces.Event{Type: eventType, Payload: payload})
}
