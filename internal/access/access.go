// -----------------------------------------------------------------------
// Access - Single entry surface over the scheduling core
// -----------------------------------------------------------------------

package access

import (
	"context"
	"time"

	"github.com/samber/lo"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/onero/internal/interfaces"
	"github.com/ternarybob/onero/internal/models"
	"github.com/ternarybob/onero/internal/optimizer"
	"github.com/ternarybob/onero/internal/registry"
	"github.com/ternarybob/onero/internal/scheduler"
)

// AccessPoints is the one surface outer layers (HTTP handlers, CLI) talk to.
// It composes the scheduler, optimizing job controller, client registry, and
// storage without exposing their internals.
type AccessPoints struct {
	logger     arbor.ILogger
	scheduler  *scheduler.Scheduler
	optimizer  *optimizer.Controller
	registry   *registry.Registry
	managers   *registry.ManagerController
	storage    interfaces.StorageManager
	classes    interfaces.JobClassRegistry
	algorithms *optimizer.AlgorithmRegistry
}

// New creates the access surface.
func New(
	logger arbor.ILogger,
	sched *scheduler.Scheduler,
	opt *optimizer.Controller,
	reg *registry.Registry,
	managers *registry.ManagerController,
	storage interfaces.StorageManager,
	classes interfaces.JobClassRegistry,
	algorithms *optimizer.AlgorithmRegistry,
) *AccessPoints {
	return &AccessPoints{
		logger:     logger,
		scheduler:  sched,
		optimizer:  opt,
		registry:   reg,
		managers:   managers,
		storage:    storage,
		classes:    classes,
		algorithms: algorithms,
	}
}

// --- Jobs ---

func (a *AccessPoints) ScheduleJob(ctx context.Context, job *models.Job) (*models.Job, error) {
	return a.scheduler.ScheduleJob(ctx, job)
}

func (a *AccessPoints) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return a.scheduler.GetJob(ctx, id)
}

func (a *AccessPoints) ListPendingJobs() []*models.Job {
	return a.scheduler.ListPending()
}

func (a *AccessPoints) ListRunningJobs() []*models.Job {
	return a.scheduler.ListRunning()
}

func (a *AccessPoints) RecentCompletedJobs(ctx context.Context) []*models.Job {
	return a.scheduler.RecentCompleted(ctx)
}

// ListCompletedJobs returns every persisted job in a terminal state.
func (a *AccessPoints) ListCompletedJobs(ctx context.Context) ([]*models.Job, error) {
	jobs, err := a.storage.Jobs().ListJobs(ctx)
	if err != nil {
		return nil, models.WrapError(models.ErrKindStorageFailure, err, "failed to list jobs")
	}
	return lo.Filter(jobs, func(j *models.Job, _ int) bool { return j.IsTerminal() }), nil
}

func (a *AccessPoints) CancelJob(ctx context.Context, id string) error {
	return a.scheduler.CancelJob(ctx, id)
}

func (a *AccessPoints) StopJob(ctx context.Context, id string) error {
	return a.scheduler.StopJob(ctx, id)
}

func (a *AccessPoints) DisableJob(ctx context.Context, id string) error {
	return a.scheduler.DisableJob(ctx, id)
}

func (a *AccessPoints) EnableJob(ctx context.Context, id string) error {
	return a.scheduler.EnableJob(ctx, id)
}

// DeleteJob removes a terminal job's record. Live jobs cannot be deleted.
func (a *AccessPoints) DeleteJob(ctx context.Context, id string) error {
	job, err := a.scheduler.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !job.IsTerminal() {
		return models.NewError(models.ErrKindIllegalState, "job %s is still %s", id, job.State)
	}
	if err := a.storage.Jobs().DeleteJob(ctx, id); err != nil {
		return models.WrapError(models.ErrKindStorageFailure, err, "failed to delete job %s", id)
	}
	return nil
}

// --- Optimizing jobs ---

func (a *AccessPoints) ScheduleOptimizingJob(ctx context.Context, opt *models.OptimizingJob) (*models.OptimizingJob, error) {
	return a.optimizer.ScheduleOptimizingJob(ctx, opt)
}

func (a *AccessPoints) GetOptimizingJob(ctx context.Context, id string) (*models.OptimizingJob, error) {
	return a.optimizer.GetOptimizingJob(ctx, id)
}

// GetOptimizingJobIterations returns the child jobs in creation order.
func (a *AccessPoints) GetOptimizingJobIterations(ctx context.Context, id string) ([]*models.Job, error) {
	if _, err := a.optimizer.GetOptimizingJob(ctx, id); err != nil {
		return nil, err
	}
	return a.storage.Jobs().ListJobsByOptimizingJob(ctx, id)
}

func (a *AccessPoints) ListOptimizingJobs(ctx context.Context) ([]*models.OptimizingJob, error) {
	return a.optimizer.ListOptimizingJobs(ctx)
}

func (a *AccessPoints) CancelOptimizingJob(ctx context.Context, id string) error {
	return a.optimizer.CancelOptimizingJob(ctx, id)
}

func (a *AccessPoints) PauseOptimizingJob(ctx context.Context, id string) error {
	return a.optimizer.PauseOptimizingJob(ctx, id)
}

func (a *AccessPoints) UnpauseOptimizingJob(ctx context.Context, id string) error {
	return a.optimizer.UnpauseOptimizingJob(ctx, id)
}

// DeleteOptimizingJob removes a terminal optimizing job, cascading to its
// iterations when includeIterations is set. Otherwise the iterations survive
// as ordinary completed jobs.
func (a *AccessPoints) DeleteOptimizingJob(ctx context.Context, id string, includeIterations bool) error {
	opt, err := a.optimizer.GetOptimizingJob(ctx, id)
	if err != nil {
		return err
	}
	if !opt.IsTerminal() {
		return models.NewError(models.ErrKindIllegalState, "optimizing job %s is still %s", id, opt.State)
	}

	if includeIterations {
		iterations, err := a.storage.Jobs().ListJobsByOptimizingJob(ctx, id)
		if err != nil {
			return models.WrapError(models.ErrKindStorageFailure, err, "failed to list iterations of %s", id)
		}
		for _, job := range iterations {
			if err := a.storage.Jobs().DeleteJob(ctx, job.ID); err != nil {
				return models.WrapError(models.ErrKindStorageFailure, err, "failed to delete iteration %s", job.ID)
			}
		}
	}
	if err := a.storage.OptimizingJobs().DeleteOptimizingJob(ctx, id); err != nil {
		return models.WrapError(models.ErrKindStorageFailure, err, "failed to delete optimizing job %s", id)
	}
	return nil
}

// ListAlgorithms describes the optimization algorithms available for a job
// class, with their parameter stubs. An empty className lists everything.
func (a *AccessPoints) ListAlgorithms(className string) ([]optimizer.AlgorithmInfo, error) {
	var class *interfaces.JobClass
	if className != "" {
		class = a.classes.Get(className)
		if class == nil {
			return nil, models.NewError(models.ErrKindUnknownJobClass, "no job class named %s", className)
		}
	}
	return a.algorithms.Describe(class), nil
}

// --- Folders ---

func (a *AccessPoints) CreateFolder(ctx context.Context, folder *models.Folder) error {
	if err := folder.Validate(); err != nil {
		return models.WrapError(models.ErrKindValidationFailed, err, "folder rejected")
	}
	return a.storage.Folders().SaveFolder(ctx, folder)
}

func (a *AccessPoints) ListFolders(ctx context.Context) ([]*models.Folder, error) {
	return a.storage.Folders().ListFolders(ctx)
}

func (a *AccessPoints) GetFolder(ctx context.Context, name string) (*models.Folder, error) {
	return a.storage.Folders().GetFolder(ctx, name)
}

// FolderJobs returns the jobs and optimizing jobs filed under a folder.
func (a *AccessPoints) FolderJobs(ctx context.Context, name string) ([]*models.Job, []*models.OptimizingJob, error) {
	jobs, err := a.storage.Jobs().ListJobsByFolder(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	opts, err := a.storage.OptimizingJobs().ListOptimizingJobsByFolder(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	return jobs, opts, nil
}

// DeleteFolder removes an empty folder.
func (a *AccessPoints) DeleteFolder(ctx context.Context, name string) error {
	jobs, opts, err := a.FolderJobs(ctx, name)
	if err != nil {
		return err
	}
	if len(jobs) > 0 || len(opts) > 0 {
		return models.NewError(models.ErrKindIllegalState, "folder %s is not empty", name)
	}
	return a.storage.Folders().DeleteFolder(ctx, name)
}

func (a *AccessPoints) MoveJobToFolder(ctx context.Context, jobID, folderName string) error {
	if folderName != "" {
		if _, err := a.storage.Folders().GetFolder(ctx, folderName); err != nil {
			return models.WrapError(models.ErrKindJobNotFound, err, "folder %s", folderName)
		}
	}
	return a.storage.Folders().MoveJob(ctx, jobID, folderName)
}

func (a *AccessPoints) MoveOptimizingJobToFolder(ctx context.Context, id, folderName string, includeIterations bool) error {
	if folderName != "" {
		if _, err := a.storage.Folders().GetFolder(ctx, folderName); err != nil {
			return models.WrapError(models.ErrKindJobNotFound, err, "folder %s", folderName)
		}
	}
	return a.storage.Folders().MoveOptimizingJob(ctx, id, folderName, includeIterations)
}

// --- Clients ---

func (a *AccessPoints) ListLoadClients() []*models.ClientEntry {
	return a.registry.ListLoadClients()
}

func (a *AccessPoints) ListMonitorClients() []*models.ClientEntry {
	return a.registry.ListMonitorClients()
}

func (a *AccessPoints) ListClientManagers() []*models.ClientManagerEntry {
	return a.registry.ListManagers()
}

func (a *AccessPoints) RequestClientDisconnect(ctx context.Context, id string) error {
	return a.registry.RequestDisconnect(ctx, id)
}

func (a *AccessPoints) ForceClientDisconnect(ctx context.Context, id string) error {
	return a.registry.ForceDisconnect(ctx, id)
}

// ConnectClients spreads a request for new load clients across the manager
// fleet.
func (a *AccessPoints) ConnectClients(ctx context.Context, count int) (map[string]int, error) {
	return a.managers.ConnectClients(ctx, count)
}

func (a *AccessPoints) StartManagerClients(ctx context.Context, managerID string, count int) error {
	return a.managers.StartClients(ctx, managerID, count)
}

func (a *AccessPoints) StopManagerClients(ctx context.Context, managerID string, count int) error {
	return a.managers.StopClients(ctx, managerID, count)
}

// --- Job classes ---

func (a *AccessPoints) ListJobClasses() []*interfaces.JobClass {
	return a.classes.List()
}

func (a *AccessPoints) GetJobClass(name string) *interfaces.JobClass {
	return a.classes.Get(name)
}

func (a *AccessPoints) ReloadJobClasses() error {
	return a.classes.Reload()
}

// --- Status ---

// Status is a point-in-time summary of the scheduling core.
type Status struct {
	Time           time.Time `json:"time"`
	PendingJobs    int       `json:"pending_jobs"`
	RunningJobs    int       `json:"running_jobs"`
	LoadClients    int       `json:"load_clients"`
	MonitorClients int       `json:"monitor_clients"`
	ClientManagers int       `json:"client_managers"`
	JobClasses     int       `json:"job_classes"`
}

func (a *AccessPoints) Status() Status {
	load, monitors, managers := a.registry.Counts()
	return Status{
		Time:           time.Now(),
		PendingJobs:    len(a.scheduler.ListPending()),
		RunningJobs:    len(a.scheduler.ListRunning()),
		LoadClients:    load,
		MonitorClients: monitors,
		ClientManagers: managers,
		JobClasses:     len(a.classes.List()),
	}
}
