package scheduler

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/onero/internal/common"
	"github.com/ternarybob/onero/internal/interfaces"
	storage "github.com/ternarybob/onero/internal/storage/badger"
)

func openTestStorage(t *testing.T) interfaces.StorageManager {
	t.Helper()
	mgr, err := storage.NewManager(arbor.NewLogger(), &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func TestIDAllocatorOrderedWithinEpoch(t *testing.T) {
	mgr := openTestStorage(t)
	alloc, err := NewIDAllocator(context.Background(), mgr.KV())
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 20; i++ {
		ids = append(ids, alloc.Next("job"))
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	assert.Equal(t, sorted, ids, "allocation order matches lexicographic order")

	// distinct namespaces do not collide
	assert.NotEqual(t, alloc.Next("job"), alloc.Next("opt"))
}

func TestIDAllocatorEpochSurvivesRestart(t *testing.T) {
	mgr := openTestStorage(t)
	ctx := context.Background()

	first, err := NewIDAllocator(ctx, mgr.KV())
	require.NoError(t, err)
	lastOfFirst := ""
	for i := 0; i < 5; i++ {
		lastOfFirst = first.Next("job")
	}

	// a second allocator simulates a process restart over the same store
	second, err := NewIDAllocator(ctx, mgr.KV())
	require.NoError(t, err)
	firstOfSecond := second.Next("job")

	assert.NotEqual(t, lastOfFirst, firstOfSecond)
	assert.Less(t, lastOfFirst, firstOfSecond, "IDs from a later epoch sort after earlier ones")
}
