package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/interfaces"
)

// processorContext implements interfaces.ProcessorContext for one
// execution: data-file reads from the pipeline's data/ directory, bundle
// writes into the execution's own blob prefix, and a durable cache shared
// across every execution of the same pipeline (not per-Run; see
// ProcessorCache).
type processorContext struct {
	ctx          context.Context
	dataDir      string
	blobs        interfaces.BlobStore
	bundleAt     string // blob key prefix, e.g. "outputs/bundles/{executionId}/"
	pipelineName string

	cache *ProcessorCache
	// local holds values CacheSet this Run before they are durably
	// committed, so a CacheGet later in the same Run sees them even if
	// the durable write is still in flight.
	mu    sync.Mutex
	local map[string]any
}

func newProcessorContext(ctx context.Context, dataDir string, blobs interfaces.BlobStore, executionID, pipelineName string, cache *ProcessorCache) *processorContext {
	return &processorContext{
		ctx:          ctx,
		dataDir:      dataDir,
		blobs:        blobs,
		bundleAt:     fmt.Sprintf("outputs/bundles/%s/", executionID),
		pipelineName: pipelineName,
		cache:        cache,
		local:        make(map[string]any),
	}
}

func (p *processorContext) ReadDataFile(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(p.dataDir, name))
}

func (p *processorContext) SaveBundle(data []byte, name string) error {
	return p.blobs.Put(p.ctx, p.bundleAt+name, data)
}

func (p *processorContext) CacheGet(key string) (any, bool) {
	p.mu.Lock()
	if v, ok := p.local[key]; ok {
		p.mu.Unlock()
		return v, true
	}
	p.mu.Unlock()
	return p.cache.get(p.ctx, p.pipelineName, key)
}

func (p *processorContext) CacheSet(key string, value any) {
	p.mu.Lock()
	p.local[key] = value
	p.mu.Unlock()
	p.cache.set(p.ctx, p.pipelineName, key, value)
}

var _ interfaces.ProcessorContext = (*processorContext)(nil)
