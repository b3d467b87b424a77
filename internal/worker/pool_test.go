package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/common"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/executor"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/interfaces"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/models"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/pipeline"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/queue"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/storage"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/store"
)

type fakeProvider struct {
	name  string
	delay time.Duration
	err   error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Generate(ctx context.Context, prompt string, cfg models.LLMConfig, extractJSON bool) (*interfaces.LLMResult, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return &interfaces.LLMResult{Text: "generated: " + prompt, Provider: p.name, Model: cfg.Model, Usage: 7}, nil
}

func writeFixtureFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newFixturePipeline(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "pipelines", "demo")

	writeFixtureFile(t, filepath.Join(dir, "spec.yml"), "name: demo\noutputFormat:\n  - html\n  - mdx\ninputs:\n  - name: topic\n    type: text\n    required: true\n")
	writeFixtureFile(t, filepath.Join(dir, "config.yml"), "llm:\n  provider: openai\n  model: gpt-4o\n")
	writeFixtureFile(t, filepath.Join(dir, "processor"), "passthrough")
	writeFixtureFile(t, filepath.Join(dir, "prompts", "main.md"), "Write about {{.inputs.topic}}")
	writeFixtureFile(t, filepath.Join(dir, "templates", "report.mdx.tmpl"), "# {{.inputs.topic}}\n\n{{.llm.text}}")
	return root
}

// testHarness wires a real embedded queue, embedded store and in-memory
// executor together the same way the CLI's worker command does.
type testHarness struct {
	queue *queue.EmbeddedQueue
	store interfaces.ExecutionStore
	pool  *Pool
}

func newTestHarness(t *testing.T, providers map[string]interfaces.LLMProvider, cfg Config) *testHarness {
	t.Helper()
	logger := common.NewSilentLogger()
	root := newFixturePipeline(t)
	loader := pipeline.NewLoader(root)

	execStore, err := store.NewEmbeddedStore(logger, filepath.Join(root, "data", "executions"))
	if err != nil {
		t.Fatalf("NewEmbeddedStore: %v", err)
	}
	t.Cleanup(func() { execStore.Close() })

	blobs, err := storage.NewFileBlobStore(logger, &storage.FileBlobConfig{BasePath: filepath.Join(root, "data", "outputs")})
	if err != nil {
		t.Fatalf("NewFileBlobStore: %v", err)
	}

	q, err := queue.NewEmbeddedQueue(logger, filepath.Join(root, "data", "queue"))
	if err != nil {
		t.Fatalf("NewEmbeddedQueue: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	cache, closeCache, err := executor.NewProcessorCache(logger, filepath.Join(root, "data", "cache"))
	if err != nil {
		t.Fatalf("NewProcessorCache: %v", err)
	}
	t.Cleanup(func() { closeCache() })

	resolveKey := func(ctx context.Context, provider string) (string, error) { return "test-key", nil }
	cancellations := executor.NewCancellationRegistry()
	x := executor.New(execStore, blobs, loader, providers, cache, cancellations, logger, resolveKey)

	pool := New(q, x, cancellations, logger, cfg)

	return &testHarness{queue: q, store: execStore, pool: pool}
}

func demoEnvelope(jobID string) models.JobEnvelope {
	return models.JobEnvelope{
		JobID:        jobID,
		PipelineName: "demo",
		Inputs:       map[string]any{"topic": "AI"},
		OutputFormat: "mdx",
		Priority:     models.PriorityNormal,
		CreatedAt:    time.Now().UnixMilli(),
	}
}

func TestPool_ClaimsAndCompletesSuccessfully(t *testing.T) {
	providers := map[string]interfaces.LLMProvider{"openai": &fakeProvider{name: "openai"}}
	h := newTestHarness(t, providers, Config{Concurrency: 1, PollInterval: 20 * time.Millisecond})

	sub, unsubscribe := h.pool.Events().Subscribe()
	defer unsubscribe()

	if err := h.queue.Enqueue(context.Background(), demoEnvelope("job-1"), 3); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	h.pool.Start()
	defer h.pool.Stop()

	var gotActive, gotCompleted bool
	deadline := time.After(5 * time.Second)
	for !gotActive || !gotCompleted {
		select {
		case evt := <-sub:
			if evt.JobID != "job-1" {
				continue
			}
			switch evt.Type {
			case "active":
				gotActive = true
			case "completed":
				gotCompleted = true
			}
		case <-deadline:
			t.Fatalf("timed out waiting for events, active=%v completed=%v", gotActive, gotCompleted)
		}
	}

	record, err := h.store.GetByJobID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetByJobID: %v", err)
	}
	if record.Status != models.StatusCompleted {
		t.Fatalf("Status = %v, want completed", record.Status)
	}

	if size, err := h.queue.Size(context.Background()); err != nil || size != 0 {
		t.Fatalf("queue size = %d, err = %v; want 0 (acked)", size, err)
	}
}

func TestPool_FailedExecutionIsNacked(t *testing.T) {
	providers := map[string]interfaces.LLMProvider{"openai": &fakeProvider{name: "openai"}}
	h := newTestHarness(t, providers, Config{Concurrency: 1, PollInterval: 20 * time.Millisecond})

	sub, unsubscribe := h.pool.Events().Subscribe()
	defer unsubscribe()

	envelope := demoEnvelope("job-bad")
	envelope.Inputs = map[string]any{} // missing required "topic" -> validation failure
	if err := h.queue.Enqueue(context.Background(), envelope, 1); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	h.pool.Start()
	defer h.pool.Stop()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt := <-sub:
			if evt.JobID == "job-bad" && evt.Type == "failed" {
				goto failedSeen
			}
		case <-deadline:
			t.Fatal("timed out waiting for failed event")
		}
	}
failedSeen:

	record, err := h.store.GetByJobID(context.Background(), "job-bad")
	if err != nil {
		t.Fatalf("GetByJobID: %v", err)
	}
	if record.Status != models.StatusFailed {
		t.Fatalf("Status = %v, want failed", record.Status)
	}
}

func TestPool_GracefulShutdownWaitsForInFlight(t *testing.T) {
	providers := map[string]interfaces.LLMProvider{
		"openai": &fakeProvider{name: "openai", delay: 150 * time.Millisecond},
	}
	h := newTestHarness(t, providers, Config{
		Concurrency:      1,
		PollInterval:     20 * time.Millisecond,
		ShutdownDeadline: 2 * time.Second,
	})

	if err := h.queue.Enqueue(context.Background(), demoEnvelope("job-slow"), 3); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	h.pool.Start()
	time.Sleep(40 * time.Millisecond) // let the claim loop pick it up mid-flight
	h.pool.Stop()                     // should wait out the in-flight run, not force-cancel it

	record, err := h.store.GetByJobID(context.Background(), "job-slow")
	if err != nil {
		t.Fatalf("GetByJobID: %v", err)
	}
	if record.Status != models.StatusCompleted {
		t.Fatalf("Status = %v, want completed (graceful wait, not forced cancellation)", record.Status)
	}
}

func TestPool_ShutdownDeadlineForcesCancellation(t *testing.T) {
	providers := map[string]interfaces.LLMProvider{
		"openai": &fakeProvider{name: "openai", delay: 2 * time.Second},
	}
	h := newTestHarness(t, providers, Config{
		Concurrency:      1,
		PollInterval:     20 * time.Millisecond,
		ShutdownDeadline: 80 * time.Millisecond,
	})

	if err := h.queue.Enqueue(context.Background(), demoEnvelope("job-stuck"), 3); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	h.pool.Start()
	time.Sleep(40 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		h.pool.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return after the shutdown deadline forced cancellation")
	}

	record, err := h.store.GetByJobID(context.Background(), "job-stuck")
	if err != nil {
		t.Fatalf("GetByJobID: %v", err)
	}
	if record.Status != models.StatusCancelled {
		t.Fatalf("Status = %v, want cancelled", record.Status)
	}
}
