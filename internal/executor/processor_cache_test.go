package executor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/common"
)

func newTestProcessorCache(t *testing.T) *ProcessorCache {
	t.Helper()
	logger := common.NewSilentLogger()
	cache, closeCache, err := NewProcessorCache(logger, filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatalf("NewProcessorCache: %v", err)
	}
	t.Cleanup(func() { closeCache() })
	return cache
}

func TestProcessorCache_SurvivesAcrossExecutions(t *testing.T) {
	cache := newTestProcessorCache(t)
	ctx := context.Background()

	cache.set(ctx, "demo", "summary", map[string]any{"count": float64(3)})

	first := newProcessorContext(ctx, t.TempDir(), nil, "exec-1", "demo", cache)
	second := newProcessorContext(ctx, t.TempDir(), nil, "exec-2", "demo", cache)

	for _, pc := range []*processorContext{first, second} {
		v, ok := pc.CacheGet("summary")
		if !ok {
			t.Fatalf("expected cache hit across executions")
		}
		m, ok := v.(map[string]any)
		if !ok || m["count"] != float64(3) {
			t.Fatalf("unexpected cached value: %#v", v)
		}
	}
}

func TestProcessorCache_NoCrossPipelineLeakage(t *testing.T) {
	cache := newTestProcessorCache(t)
	ctx := context.Background()

	cache.set(ctx, "pipeline-a", "key", "value-a")
	cache.set(ctx, "pipeline-b", "key", "value-b")

	a := newProcessorContext(ctx, t.TempDir(), nil, "exec-1", "pipeline-a", cache)
	b := newProcessorContext(ctx, t.TempDir(), nil, "exec-2", "pipeline-b", cache)

	v, ok := a.CacheGet("key")
	if !ok || v != "value-a" {
		t.Fatalf("pipeline-a got %#v, %v", v, ok)
	}
	v, ok = b.CacheGet("key")
	if !ok || v != "value-b" {
		t.Fatalf("pipeline-b got %#v, %v", v, ok)
	}
}

func TestProcessorCache_ExpiresAfterTTL(t *testing.T) {
	logger := common.NewSilentLogger()
	cache, closeCache, err := NewProcessorCache(logger, filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatalf("NewProcessorCache: %v", err)
	}
	t.Cleanup(func() { closeCache() })

	ctx := context.Background()
	if err := cache.kv.SetTTL(ctx, cacheKey("demo", "key"), `"value"`, time.Millisecond); err != nil {
		t.Fatalf("SetTTL: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, ok := cache.get(ctx, "demo", "key"); ok {
		t.Fatalf("expected expired entry to be treated as absent")
	}
}

func TestProcessorCache_NilCacheIsNoop(t *testing.T) {
	var cache *ProcessorCache
	ctx := context.Background()

	pc := newProcessorContext(ctx, t.TempDir(), nil, "exec-1", "demo", cache)
	pc.CacheSet("key", "value")

	if v, ok := pc.CacheGet("key"); !ok || v != "value" {
		t.Fatalf("expected same-Run local buffer to serve CacheGet, got %#v, %v", v, ok)
	}

	fresh := newProcessorContext(ctx, t.TempDir(), nil, "exec-2", "demo", cache)
	if _, ok := fresh.CacheGet("key"); ok {
		t.Fatalf("expected nil cache to not leak across processorContexts")
	}
}
