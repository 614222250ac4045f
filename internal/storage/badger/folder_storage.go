package badger

import (
	"context"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/onero/internal/interfaces"
	"github.com/ternarybob/onero/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// FolderStorage implements the FolderStorage interface for Badger
type FolderStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewFolderStorage creates a new FolderStorage instance
func NewFolderStorage(db *BadgerDB, logger arbor.ILogger) interfaces.FolderStorage {
	return &FolderStorage{
		db:     db,
		logger: logger,
	}
}

func (s *FolderStorage) SaveFolder(ctx context.Context, folder *models.Folder) error {
	if folder.Name == "" {
		return fmt.Errorf("folder name is required")
	}
	if folder.CreatedAt.IsZero() {
		folder.CreatedAt = time.Now()
	}
	folder.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(folder.Name, folder); err != nil {
		return fmt.Errorf("failed to save folder: %w", err)
	}
	return nil
}

func (s *FolderStorage) GetFolder(ctx context.Context, name string) (*models.Folder, error) {
	var folder models.Folder
	if err := s.db.Store().Get(name, &folder); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("folder not found: %s", name)
		}
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}
	return &folder, nil
}

func (s *FolderStorage) DeleteFolder(ctx context.Context, name string) error {
	if err := s.db.Store().Delete(name, &models.Folder{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("folder not found: %s", name)
		}
		return fmt.Errorf("failed to delete folder: %w", err)
	}
	return nil
}

func (s *FolderStorage) ListFolders(ctx context.Context) ([]*models.Folder, error) {
	var folders []models.Folder
	query := badgerhold.Where("Name").Ne("").SortBy("Name")
	if err := s.db.Store().Find(&folders, query); err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	result := make([]*models.Folder, len(folders))
	for i := range folders {
		result[i] = &folders[i]
	}
	return result, nil
}

// MoveJob reassigns a single job to another folder in one transaction.
func (s *FolderStorage) MoveJob(ctx context.Context, jobID string, folderName string) error {
	store := s.db.Store()
	return store.Badger().Update(func(txn *badgerdb.Txn) error {
		var job models.Job
		if err := store.TxGet(txn, jobID, &job); err != nil {
			if err == badgerhold.ErrNotFound {
				return fmt.Errorf("job not found: %s", jobID)
			}
			return fmt.Errorf("failed to load job: %w", err)
		}

		job.FolderName = folderName
		job.UpdatedAt = time.Now()
		if err := store.TxUpsert(txn, job.ID, &job); err != nil {
			return fmt.Errorf("failed to move job: %w", err)
		}
		return nil
	})
}

// MoveOptimizingJob reassigns an optimizing job to another folder, carrying
// its iterations along when includeIterations is set. The whole move commits
// or none of it does, so a crash can never leave the iterations split across
// folders.
func (s *FolderStorage) MoveOptimizingJob(ctx context.Context, optimizingJobID string, folderName string, includeIterations bool) error {
	store := s.db.Store()
	return store.Badger().Update(func(txn *badgerdb.Txn) error {
		var opt models.OptimizingJob
		if err := store.TxGet(txn, optimizingJobID, &opt); err != nil {
			if err == badgerhold.ErrNotFound {
				return fmt.Errorf("optimizing job not found: %s", optimizingJobID)
			}
			return fmt.Errorf("failed to load optimizing job: %w", err)
		}

		var iterations []models.Job
		if includeIterations {
			query := badgerhold.Where("OptimizingJobID").Eq(optimizingJobID)
			if err := store.TxFind(txn, &iterations, query); err != nil {
				return fmt.Errorf("failed to load iterations: %w", err)
			}
		}

		now := time.Now()
		opt.FolderName = folderName
		opt.UpdatedAt = now
		if err := store.TxUpsert(txn, opt.ID, &opt); err != nil {
			return fmt.Errorf("failed to move optimizing job: %w", err)
		}

		for i := range iterations {
			iterations[i].FolderName = folderName
			iterations[i].UpdatedAt = now
			if err := store.TxUpsert(txn, iterations[i].ID, &iterations[i]); err != nil {
				return fmt.Errorf("failed to move iteration %s: %w", iterations[i].ID, err)
			}
		}

		s.logger.Debug().
			Str("optimizing_job_id", optimizingJobID).
			Str("folder", folderName).
			Int("iterations", len(iterations)).
			Msg("Moved optimizing job with iterations")
		return nil
	})
}
