// -----------------------------------------------------------------------
// ID Allocator - Monotonic job identifiers that survive restarts
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/ternarybob/onero/internal/interfaces"
)

const epochKey = "idalloc/epoch"

// IDAllocator hands out identifiers of the form <prefix>-<epoch>-<sequence>.
// The epoch is a durable counter bumped once per process start, so IDs remain
// unique across restarts and sort lexicographically in allocation order.
type IDAllocator struct {
	mu    sync.Mutex
	epoch uint64
	seq   map[string]uint64
}

// NewIDAllocator claims the next epoch from the key/value store.
func NewIDAllocator(ctx context.Context, kv interfaces.KeyValueStorage) (*IDAllocator, error) {
	var epoch uint64 = 1

	value, err := kv.Get(ctx, epochKey)
	switch err {
	case nil:
		prev, parseErr := strconv.ParseUint(value, 10, 64)
		if parseErr != nil {
			return nil, fmt.Errorf("corrupt epoch counter %q: %w", value, parseErr)
		}
		epoch = prev + 1
	case interfaces.ErrKeyNotFound:
		// first run
	default:
		return nil, fmt.Errorf("failed to read epoch counter: %w", err)
	}

	if err := kv.Set(ctx, epochKey, strconv.FormatUint(epoch, 10)); err != nil {
		return nil, fmt.Errorf("failed to persist epoch counter: %w", err)
	}

	return &IDAllocator{
		epoch: epoch,
		seq:   make(map[string]uint64),
	}, nil
}

// Next returns a fresh identifier for the given prefix namespace.
func (a *IDAllocator) Next(prefix string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq[prefix]++
	return fmt.Sprintf("%s-%08d-%08d", prefix, a.epoch, a.seq[prefix])
}
