package interfaces

import (
	"context"

	"github.com/ternarybob/onero/internal/models"
)

// JobStorage - persistence for scheduled and completed jobs
type JobStorage interface {
	// CRUD operations
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	DeleteJob(ctx context.Context, id string) error

	// Queries
	ListJobs(ctx context.Context) ([]*models.Job, error)
	ListJobsByState(ctx context.Context, states ...models.JobState) ([]*models.Job, error)
	ListJobsByFolder(ctx context.Context, folderName string) ([]*models.Job, error)
	ListJobsByOptimizingJob(ctx context.Context, optimizingJobID string) ([]*models.Job, error)
	CountJobs(ctx context.Context) (int, error)
}

// OptimizingJobStorage - persistence for optimizing jobs
type OptimizingJobStorage interface {
	SaveOptimizingJob(ctx context.Context, job *models.OptimizingJob) error
	GetOptimizingJob(ctx context.Context, id string) (*models.OptimizingJob, error)
	DeleteOptimizingJob(ctx context.Context, id string) error

	ListOptimizingJobs(ctx context.Context) ([]*models.OptimizingJob, error)
	ListOptimizingJobsByFolder(ctx context.Context, folderName string) ([]*models.OptimizingJob, error)
}

// FolderStorage - persistence for job folders
type FolderStorage interface {
	SaveFolder(ctx context.Context, folder *models.Folder) error
	GetFolder(ctx context.Context, name string) (*models.Folder, error)
	DeleteFolder(ctx context.Context, name string) error
	ListFolders(ctx context.Context) ([]*models.Folder, error)

	// MoveJob atomically reassigns a job to another folder. MoveOptimizingJob
	// moves the optimizing job, with all of its iterations in the same
	// transaction when includeIterations is set.
	MoveJob(ctx context.Context, jobID string, folderName string) error
	MoveOptimizingJob(ctx context.Context, optimizingJobID string, folderName string, includeIterations bool) error
}

// StorageManager - aggregates all storage interfaces over one backing store
type StorageManager interface {
	Jobs() JobStorage
	OptimizingJobs() OptimizingJobStorage
	Folders() FolderStorage
	KV() KeyValueStorage
	Close() error
}
