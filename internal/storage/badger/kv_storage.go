package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/onero/internal/interfaces"
	"github.com/timshannon/badgerhold/v4"
)

// kvRecord is the stored form of a key/value pair.
type kvRecord struct {
	Key       string
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// KVStorage implements the KeyValueStorage interface for Badger
type KVStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewKVStorage creates a new KVStorage instance
func NewKVStorage(db *BadgerDB, logger arbor.ILogger) interfaces.KeyValueStorage {
	return &KVStorage{
		db:     db,
		logger: logger,
	}
}

func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	var rec kvRecord
	if err := s.db.Store().Get("kv:"+key, &rec); err != nil {
		if err == badgerhold.ErrNotFound {
			return "", interfaces.ErrKeyNotFound
		}
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return rec.Value, nil
}

func (s *KVStorage) Set(ctx context.Context, key string, value string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	now := time.Now()
	rec := kvRecord{Key: key, Value: value, CreatedAt: now, UpdatedAt: now}

	var existing kvRecord
	if err := s.db.Store().Get("kv:"+key, &existing); err == nil {
		rec.CreatedAt = existing.CreatedAt
	}

	if err := s.db.Store().Upsert("kv:"+key, &rec); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (s *KVStorage) Delete(ctx context.Context, key string) error {
	if err := s.db.Store().Delete("kv:"+key, &kvRecord{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrKeyNotFound
		}
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (s *KVStorage) ListByPrefix(ctx context.Context, prefix string) ([]interfaces.KeyValuePair, error) {
	var records []kvRecord
	query := badgerhold.Where("Key").MatchFunc(func(ra *badgerhold.RecordAccess) (bool, error) {
		rec, ok := ra.Record().(*kvRecord)
		if !ok {
			return false, nil
		}
		return len(rec.Key) >= len(prefix) && rec.Key[:len(prefix)] == prefix, nil
	})
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	pairs := make([]interfaces.KeyValuePair, len(records))
	for i, rec := range records {
		pairs[i] = interfaces.KeyValuePair{
			Key:       rec.Key,
			Value:     rec.Value,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		}
	}
	return pairs, nil
}
