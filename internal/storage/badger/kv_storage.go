package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/common"
	"github.com/timshannon/badgerhold/v4"
)

// KVEntry represents a key-value pair stored in BadgerDB, with an optional
// expiry backing the processor cache's per-(pipelineName, key) TTL
// (spec.md §5 "In-memory caches used by processors are scoped per
// (pipelinePath, key) with TTL").
type KVEntry struct {
	Key       string `badgerhold:"key"`
	Value     string
	ExpiresAt time.Time // zero means no expiry
}

func (e KVEntry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

type kvStorage struct {
	store  *Store
	logger *common.Logger
}

// NewKVStorage creates a new KeyValueStorage backed by BadgerHold.
func NewKVStorage(store *Store, logger *common.Logger) *kvStorage {
	return &kvStorage{store: store, logger: logger}
}

// Get returns the value for key, treating an expired entry as not found
// (and opportunistically deleting it).
func (s *kvStorage) Get(_ context.Context, key string) (string, error) {
	var entry KVEntry
	err := s.store.db.Get(key, &entry)
	if err != nil {
		if err == badgerhold.ErrNotFound {
			return "", fmt.Errorf("key '%s' not found", key)
		}
		return "", fmt.Errorf("failed to get key '%s': %w", key, err)
	}
	if entry.expired(time.Now()) {
		if delErr := s.store.db.Delete(key, KVEntry{}); delErr != nil && delErr != badgerhold.ErrNotFound {
			s.logger.Warn().Str("key", key).Err(delErr).Msg("failed to evict expired cache entry")
		}
		return "", fmt.Errorf("key '%s' not found", key)
	}
	return entry.Value, nil
}

// Set stores value for key with no expiry.
func (s *kvStorage) Set(_ context.Context, key, value string) error {
	return s.setWithExpiry(key, value, time.Time{})
}

// SetTTL stores value for key, expiring it after ttl.
func (s *kvStorage) SetTTL(_ context.Context, key, value string, ttl time.Duration) error {
	return s.setWithExpiry(key, value, time.Now().Add(ttl))
}

func (s *kvStorage) setWithExpiry(key, value string, expiresAt time.Time) error {
	entry := KVEntry{Key: key, Value: value, ExpiresAt: expiresAt}
	if err := s.store.db.Upsert(key, &entry); err != nil {
		return fmt.Errorf("failed to set key '%s': %w", key, err)
	}
	return nil
}

func (s *kvStorage) Delete(_ context.Context, key string) error {
	err := s.store.db.Delete(key, KVEntry{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete key '%s': %w", key, err)
	}
	return nil
}

func (s *kvStorage) GetAll(_ context.Context) (map[string]string, error) {
	var entries []KVEntry
	if err := s.store.db.Find(&entries, nil); err != nil {
		return nil, fmt.Errorf("failed to get all keys: %w", err)
	}
	now := time.Now()
	result := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.expired(now) {
			continue
		}
		result[entry.Key] = entry.Value
	}
	return result, nil
}
