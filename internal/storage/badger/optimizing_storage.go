package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/onero/internal/interfaces"
	"github.com/ternarybob/onero/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// OptimizingJobStorage implements the OptimizingJobStorage interface for Badger
type OptimizingJobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewOptimizingJobStorage creates a new OptimizingJobStorage instance
func NewOptimizingJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.OptimizingJobStorage {
	return &OptimizingJobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *OptimizingJobStorage) SaveOptimizingJob(ctx context.Context, job *models.OptimizingJob) error {
	if job.ID == "" {
		return fmt.Errorf("optimizing job ID is required")
	}

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save optimizing job: %w", err)
	}
	return nil
}

func (s *OptimizingJobStorage) GetOptimizingJob(ctx context.Context, id string) (*models.OptimizingJob, error) {
	var job models.OptimizingJob
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("optimizing job not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get optimizing job: %w", err)
	}
	return &job, nil
}

func (s *OptimizingJobStorage) DeleteOptimizingJob(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.OptimizingJob{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("optimizing job not found: %s", id)
		}
		return fmt.Errorf("failed to delete optimizing job: %w", err)
	}
	return nil
}

func (s *OptimizingJobStorage) ListOptimizingJobs(ctx context.Context) ([]*models.OptimizingJob, error) {
	var jobs []models.OptimizingJob
	query := badgerhold.Where("ID").Ne("").SortBy("ID")
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list optimizing jobs: %w", err)
	}
	return toOptimizingPointers(jobs), nil
}

func (s *OptimizingJobStorage) ListOptimizingJobsByFolder(ctx context.Context, folderName string) ([]*models.OptimizingJob, error) {
	var jobs []models.OptimizingJob
	query := badgerhold.Where("FolderName").Eq(folderName).SortBy("ID")
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list optimizing jobs by folder: %w", err)
	}
	return toOptimizingPointers(jobs), nil
}

func toOptimizingPointers(jobs []models.OptimizingJob) []*models.OptimizingJob {
	result := make([]*models.OptimizingJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result
}
