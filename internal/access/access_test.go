package access

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/onero/internal/common"
	"github.com/ternarybob/onero/internal/interfaces"
	"github.com/ternarybob/onero/internal/models"
	"github.com/ternarybob/onero/internal/optimizer"
	"github.com/ternarybob/onero/internal/registry"
	"github.com/ternarybob/onero/internal/scheduler"
	storage "github.com/ternarybob/onero/internal/storage/badger"
)

type accessHarness struct {
	access  *AccessPoints
	storage interfaces.StorageManager
}

func newAccessHarness(t *testing.T) *accessHarness {
	t.Helper()

	config := common.NewDefaultConfig()
	logger := arbor.NewLogger()

	mgr, err := storage.NewManager(logger, &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	reg := registry.NewRegistry(logger, nil)
	alloc, err := scheduler.NewIDAllocator(context.Background(), mgr.KV())
	require.NoError(t, err)

	sched := scheduler.NewScheduler(config, logger, mgr, reg, nil, nil, alloc)
	algorithms := optimizer.NewAlgorithmRegistry()
	opt := optimizer.NewController(config, logger, sched, mgr, algorithms, nil, nil, alloc)
	managers := registry.NewManagerController(reg, logger, 0)

	return &accessHarness{
		access:  New(logger, sched, opt, reg, managers, mgr, nil, algorithms),
		storage: mgr,
	}
}

func savedOptimizingJob(t *testing.T, h *accessHarness, state models.JobState, iterations int) *models.OptimizingJob {
	t.Helper()
	ctx := context.Background()

	opt := &models.OptimizingJob{
		ID:                         "opt-00000001-00000001",
		JobClassName:               "http-get",
		Duration:                   time.Minute,
		NumClients:                 1,
		CollectionIntervalSeconds:  10,
		MinThreads:                 1,
		ThreadIncrement:            1,
		MaxConsecutiveNonImproving: 2,
		AlgorithmName:              "maximize-metric",
		State:                      state,
	}
	require.NoError(t, h.storage.OptimizingJobs().SaveOptimizingJob(ctx, opt))

	for i := 1; i <= iterations; i++ {
		job := &models.Job{
			ID:                        fmt.Sprintf("job-00000001-%08d", i),
			JobClassName:              "http-get",
			NumClients:                1,
			ThreadsPerClient:          i,
			CollectionIntervalSeconds: 10,
			OptimizingJobID:           opt.ID,
			State:                     models.JobStateCompletedSuccessfully,
		}
		opt.IterationIDs = append(opt.IterationIDs, job.ID)
		require.NoError(t, h.storage.Jobs().SaveJob(ctx, job))
	}
	return opt
}

func TestDeleteOptimizingJobKeepsIterations(t *testing.T) {
	h := newAccessHarness(t)
	ctx := context.Background()
	opt := savedOptimizingJob(t, h, models.JobStateCompletedSuccessfully, 2)

	require.NoError(t, h.access.DeleteOptimizingJob(ctx, opt.ID, false))

	_, err := h.storage.OptimizingJobs().GetOptimizingJob(ctx, opt.ID)
	require.Error(t, err, "parent record is gone")

	// the iterations survive as ordinary completed jobs
	for _, id := range opt.IterationIDs {
		job, err := h.storage.Jobs().GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.JobStateCompletedSuccessfully, job.State)
	}
}

func TestDeleteOptimizingJobCascades(t *testing.T) {
	h := newAccessHarness(t)
	ctx := context.Background()
	opt := savedOptimizingJob(t, h, models.JobStateCompletedSuccessfully, 2)

	require.NoError(t, h.access.DeleteOptimizingJob(ctx, opt.ID, true))

	for _, id := range opt.IterationIDs {
		_, err := h.storage.Jobs().GetJob(ctx, id)
		assert.Error(t, err, "iteration %s should be deleted with the parent", id)
	}
}

func TestDeleteOptimizingJobRejectsLive(t *testing.T) {
	h := newAccessHarness(t)
	opt := savedOptimizingJob(t, h, models.JobStateRunning, 0)

	err := h.access.DeleteOptimizingJob(context.Background(), opt.ID, true)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindIllegalState, models.KindOf(err))
}
