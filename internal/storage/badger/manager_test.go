package badger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/onero/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

func openTestDB(t *testing.T) *BadgerDB {
	t.Helper()

	tmpDir := t.TempDir()

	options := badgerhold.DefaultOptions
	options.Dir = tmpDir
	options.ValueDir = tmpDir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	return &BadgerDB{store: store, logger: arbor.NewLogger()}
}

func TestJobPersistenceAcrossReopen(t *testing.T) {
	tmpDir := t.TempDir()
	logger := arbor.NewLogger()
	ctx := context.Background()

	open := func() *badgerhold.Store {
		options := badgerhold.DefaultOptions
		options.Dir = tmpDir
		options.ValueDir = tmpDir
		options.Logger = nil
		store, err := badgerhold.Open(options)
		if err != nil {
			t.Fatal(err)
		}
		return store
	}

	// First session: save a completed job with statistics
	store := open()
	db := &BadgerDB{store: store, logger: logger}
	jobs := NewJobStorage(db, logger)

	job := &models.Job{
		ID:                        "job-00000001-00000001",
		JobClassName:              "http-get",
		NumClients:                2,
		ThreadsPerClient:          4,
		CollectionIntervalSeconds: 10,
		State:                     models.JobStateCompletedSuccessfully,
		HasStats:                  true,
		CreatedAt:                 time.Now(),
	}
	job.Statistics.Merge(models.ClientStats{
		ClientID: "c1",
		JobID:    job.ID,
		Metrics:  map[string]float64{"ops": 1200},
	})
	if err := jobs.SaveJob(ctx, job); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	// Second session: the record survives with state and stats intact
	store = open()
	defer store.Close()
	db = &BadgerDB{store: store, logger: logger}
	jobs = NewJobStorage(db, logger)

	loaded, err := jobs.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("Failed to reload job: %v", err)
	}
	if loaded.State != models.JobStateCompletedSuccessfully {
		t.Errorf("Expected completed state after reload, got %s", loaded.State)
	}
	if !loaded.HasStats || loaded.Statistics.Totals["ops"] != 1200 {
		t.Errorf("Statistics not preserved across reload: %+v", loaded.Statistics)
	}
}

func TestListJobsByStateAndOptimizingJob(t *testing.T) {
	db := openTestDB(t)
	logger := arbor.NewLogger()
	jobs := NewJobStorage(db, logger)
	ctx := context.Background()

	save := func(id string, state models.JobState, optID string) {
		j := &models.Job{
			ID:                        id,
			JobClassName:              "http-get",
			NumClients:                1,
			ThreadsPerClient:          1,
			CollectionIntervalSeconds: 10,
			OptimizingJobID:           optID,
			State:                     state,
			CreatedAt:                 time.Now(),
		}
		if err := jobs.SaveJob(ctx, j); err != nil {
			t.Fatalf("Failed to save %s: %v", id, err)
		}
	}

	save("job-00000001-00000001", models.JobStateNotYetStarted, "")
	save("job-00000001-00000002", models.JobStateRunning, "opt-00000001-00000001")
	save("job-00000001-00000003", models.JobStateCompletedSuccessfully, "opt-00000001-00000001")

	pending, err := jobs.ListJobsByState(ctx, models.JobStateNotYetStarted, models.JobStateDisabled)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != "job-00000001-00000001" {
		t.Errorf("Unexpected pending set: %+v", pending)
	}

	iterations, err := jobs.ListJobsByOptimizingJob(ctx, "opt-00000001-00000001")
	if err != nil {
		t.Fatal(err)
	}
	if len(iterations) != 2 {
		t.Errorf("Expected 2 iterations, got %d", len(iterations))
	}
	// IDs sort in creation order
	if iterations[0].ID != "job-00000001-00000002" {
		t.Errorf("Iterations out of order: %s first", iterations[0].ID)
	}
}

func TestMoveOptimizingJobMovesIterationsAtomically(t *testing.T) {
	db := openTestDB(t)
	logger := arbor.NewLogger()
	jobs := NewJobStorage(db, logger)
	opts := NewOptimizingJobStorage(db, logger)
	folders := NewFolderStorage(db, logger)
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
		FolderName:                 "scratch",
		State:                      models.JobStateCompletedSuccessfully,
	}
	if err := opts.SaveOptimizingJob(ctx, opt); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 3; i++ {
		j := &models.Job{
			ID:                        fmt.Sprintf("job-00000001-%08d", i),
			JobClassName:              "http-get",
			NumClients:                1,
			ThreadsPerClient:          i,
			CollectionIntervalSeconds: 10,
			OptimizingJobID:           opt.ID,
			FolderName:                "scratch",
			State:                     models.JobStateCompletedSuccessfully,
		}
		if err := jobs.SaveJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	if err := folders.SaveFolder(ctx, &models.Folder{Name: "results"}); err != nil {
		t.Fatal(err)
	}
	if err := folders.MoveOptimizingJob(ctx, opt.ID, "results", true); err != nil {
		t.Fatalf("Move failed: %v", err)
	}

	moved, err := opts.GetOptimizingJob(ctx, opt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if moved.FolderName != "results" {
		t.Errorf("Optimizing job not moved: %s", moved.FolderName)
	}

	iterations, err := jobs.ListJobsByFolder(ctx, "results")
	if err != nil {
		t.Fatal(err)
	}
	if len(iterations) != 3 {
		t.Errorf("Expected all 3 iterations in results, got %d", len(iterations))
	}
	leftovers, err := jobs.ListJobsByFolder(ctx, "scratch")
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Errorf("Iterations left behind in scratch: %d", len(leftovers))
	}
}

func TestMoveOptimizingJobParentOnly(t *testing.T) {
	db := openTestDB(t)
	logger := arbor.NewLogger()
	jobs := NewJobStorage(db, logger)
	opts := NewOptimizingJobStorage(db, logger)
	folders := NewFolderStorage(db, logger)
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
		FolderName:                 "scratch",
		State:                      models.JobStateCompletedSuccessfully,
	}
	if err := opts.SaveOptimizingJob(ctx, opt); err != nil {
		t.Fatal(err)
	}
	iteration := &models.Job{
		ID:                        "job-00000001-00000001",
		JobClassName:              "http-get",
		NumClients:                1,
		ThreadsPerClient:          1,
		CollectionIntervalSeconds: 10,
		OptimizingJobID:           opt.ID,
		FolderName:                "scratch",
		State:                     models.JobStateCompletedSuccessfully,
	}
	if err := jobs.SaveJob(ctx, iteration); err != nil {
		t.Fatal(err)
	}
	if err := folders.SaveFolder(ctx, &models.Folder{Name: "results"}); err != nil {
		t.Fatal(err)
	}

	if err := folders.MoveOptimizingJob(ctx, opt.ID, "results", false); err != nil {
		t.Fatalf("Move failed: %v", err)
	}

	moved, err := opts.GetOptimizingJob(ctx, opt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if moved.FolderName != "results" {
		t.Errorf("Optimizing job not moved: %s", moved.FolderName)
	}

	stayed, err := jobs.GetJob(ctx, iteration.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stayed.FolderName != "scratch" {
		t.Errorf("Iteration should stay in scratch, got %s", stayed.FolderName)
	}
}

func TestKVStorageRoundTrip(t *testing.T) {
	db := openTestDB(t)
	kv := NewKVStorage(db, arbor.NewLogger())
	ctx := context.Background()

	if err := kv.Set(ctx, "idalloc/epoch", "3"); err != nil {
		t.Fatal(err)
	}
	v, err := kv.Get(ctx, "idalloc/epoch")
	if err != nil {
		t.Fatal(err)
	}
	if v != "3" {
		t.Errorf("Expected 3, got %s", v)
	}

	if err := kv.Set(ctx, "idalloc/epoch", "4"); err != nil {
		t.Fatal(err)
	}
	v, _ = kv.Get(ctx, "idalloc/epoch")
	if v != "4" {
		t.Errorf("Expected updated value 4, got %s", v)
	}

	pairs, err := kv.ListByPrefix(ctx, "idalloc/")
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 1 {
		t.Errorf("Expected 1 pair, got %d", len(pairs))
	}

	if err := kv.Delete(ctx, "idalloc/epoch"); err != nil {
		t.Fatal(err)
	}
	if _, err := kv.Get(ctx, "idalloc/epoch"); err == nil {
		t.Error("Expected not-found after delete")
	}
}
