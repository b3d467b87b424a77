// Package interfaces declares the contracts the core components expose to
// one another, so the worker pool, executor, and surfaces depend only on
// these shapes rather than concrete storage/queue/provider implementations.
package interfaces

import (
	"context"
	"io"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/models"
)

// ExecutionStore is the C1 contract: durable lifecycle storage for
// executions plus aggregated per-pipeline stats.
type ExecutionStore interface {
	Insert(ctx context.Context, record *models.ExecutionRecord) error
	UpdateStatus(ctx context.Context, id string, newStatus models.Status, patch map[string]any) error
	Get(ctx context.Context, id string) (*models.ExecutionRecord, error)
	GetByJobID(ctx context.Context, jobID string) (*models.ExecutionRecord, error)
	List(ctx context.Context, filter models.ExecutionFilter) ([]*models.ExecutionRecord, error)
	Stats(ctx context.Context, pipelineName string) (*models.PipelineStats, error)
	ListStats(ctx context.Context) ([]*models.PipelineStats, error)
	Close() error
}

// QueueHandle identifies one claimed delivery of an envelope; passed back
// to Ack/Nack by whichever worker claimed it.
type QueueHandle interface {
	EnvelopeJobID() string
}

// QueueAdapter is the C5 contract: a priority, durable hand-off between
// the submitter and the worker pool.
type QueueAdapter interface {
	Enqueue(ctx context.Context, envelope models.JobEnvelope, attempts int) error
	// Claim returns (nil, nil, nil) when no envelope is eligible to claim
	// right now; callers poll. A non-nil error indicates an adapter failure.
	Claim(ctx context.Context, workerID string) (*models.JobEnvelope, QueueHandle, error)
	Ack(ctx context.Context, handle QueueHandle) error
	Nack(ctx context.Context, handle QueueHandle, cause error) error
	Remove(ctx context.Context, jobID string) error
	Size(ctx context.Context) (int, error)
	// PurgeExpired deletes failed- and completed-tier envelopes that have
	// sat past their retention window (spec.md §4.5). Called periodically
	// by the worker pool rather than inline with Ack/Nack.
	PurgeExpired(ctx context.Context) error
	Close() error
}

// LLMResult is what a provider adapter returns on success.
type LLMResult struct {
	Text     string
	JSON     map[string]any
	Usage    int
	Model    string
	Provider string
}

// LLMProvider is the out-of-scope-but-shelled collaborator: "generate(config,
// options) -> {text, json, usage}" per spec.md §1.
type LLMProvider interface {
	Name() string
	Generate(ctx context.Context, prompt string, cfg models.LLMConfig, extractJSON bool) (*LLMResult, error)
}

// ProcessorContext is what the data-processor stage (spec.md §4.6 stage 3)
// exposes to user-authored processor code.
type ProcessorContext interface {
	ReadDataFile(name string) ([]byte, error)
	SaveBundle(data []byte, name string) error
	CacheGet(key string) (any, bool)
	CacheSet(key string, value any)
}

// ProcessorResult is the shape a processor must return.
type ProcessorResult struct {
	Attributes map[string]any
	Metadata   map[string]any
}

// Processor is the compiled-in registered-by-name processor contract
// (spec.md §9 "Dynamic processor loading").
type Processor interface {
	Run(ctx context.Context, inputs map[string]any, pctx ProcessorContext) (*ProcessorResult, error)
}

// BlobStore is the subset of internal/storage.BlobStore the executor needs
// for bundle and report persistence (full interface lives in internal/storage).
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, data []byte) error
	PutReader(ctx context.Context, key string, r io.Reader, size int64) error
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

// PipelineLoader is the C4 contract.
type PipelineLoader interface {
	LoadSpec(name string) (*models.PipelineSpec, error)
	LoadConfig(name string) (*models.PipelineConfig, error)
	ValidatePipeline(name string) (bool, []string)
	ListPipelines() ([]models.PipelineSummary, error)
	ResolveTemplate(name, format string) (string, error)
	PromptsDir(name string) string
	DataDir(name string) string
	ProcessorArtifact(name string) (string, error)
}
