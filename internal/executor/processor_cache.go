package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/common"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/storage/badger"
)

// processorCacheTTL is how long a processor-set cache entry survives
// before it is treated as absent (spec.md §5's per-(pipelineName, key)
// cache with TTL).
const processorCacheTTL = 10 * time.Minute

// kvCache is the subset of badger's KVStorage that ProcessorCache drives;
// declared here so the dependency is explicit and mockable.
type kvCache interface {
	Get(ctx context.Context, key string) (string, error)
	SetTTL(ctx context.Context, key, value string, ttl time.Duration) error
}

// ProcessorCache is a durable, per-pipeline processor cache shared across
// every execution of the same pipeline, keyed by (pipelineName, key) and
// backed by a dedicated BadgerHold store so entries survive worker
// restarts within their TTL. No cross-pipeline sharing: the pipeline name
// is folded into every stored key.
type ProcessorCache struct {
	kv kvCache
}

// NewProcessorCache opens (creating if needed) a BadgerHold store at path
// to back the processor cache, returning its Close alongside the cache
// since the caller (the composition root) owns the store's lifetime.
func NewProcessorCache(logger *common.Logger, path string) (*ProcessorCache, func() error, error) {
	store, err := badger.NewStore(logger, path)
	if err != nil {
		return nil, nil, err
	}
	return &ProcessorCache{kv: badger.NewKVStorage(store, logger)}, store.Close, nil
}

func cacheKey(pipelineName, key string) string {
	return pipelineName + "\x00" + key
}

func (c *ProcessorCache) get(ctx context.Context, pipelineName, key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.kv.Get(ctx, cacheKey(pipelineName, key))
	if err != nil {
		return nil, false
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, false
	}
	return value, true
}

func (c *ProcessorCache) set(ctx context.Context, pipelineName, key string, value any) {
	if c == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = c.kv.SetTTL(ctx, cacheKey(pipelineName, key), string(data), processorCacheTTL)
}
