package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/onero/internal/common"
	"github.com/ternarybob/onero/internal/interfaces"
)

// Manager bundles all Badger-backed storage implementations over a single
// database connection.
type Manager struct {
	db             *BadgerDB
	jobs           interfaces.JobStorage
	optimizingJobs interfaces.OptimizingJobStorage
	folders        interfaces.FolderStorage
	kv             interfaces.KeyValueStorage
	logger         arbor.ILogger
}

// NewManager opens the database and wires up the storage implementations.
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	return &Manager{
		db:             db,
		jobs:           NewJobStorage(db, logger),
		optimizingJobs: NewOptimizingJobStorage(db, logger),
		folders:        NewFolderStorage(db, logger),
		kv:             NewKVStorage(db, logger),
		logger:         logger,
	}, nil
}

func (m *Manager) Jobs() interfaces.JobStorage {
	return m.jobs
}

func (m *Manager) OptimizingJobs() interfaces.OptimizingJobStorage {
	return m.optimizingJobs
}

func (m *Manager) Folders() interfaces.FolderStorage {
	return m.folders
}

func (m *Manager) KV() interfaces.KeyValueStorage {
	return m.kv
}

func (m *Manager) Close() error {
	return m.db.Close()
}
