package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/common"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/dperrors"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/interfaces"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/models"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/pipeline"
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
	return &interfaces.LLMResult{Text: "generated: " + prompt, Provider: p.name, Model: cfg.Model, Usage: 42}, nil
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
	writeFixtureFile(t, filepath.Join(dir, "templates", "html.tmpl"), "<html>{{.llm.text}}</html>")
	writeFixtureFile(t, filepath.Join(dir, "templates", "report.mdx.tmpl"), "# {{.inputs.topic}}\n\n{{.llm.text}}")
	return root
}

func newTestExecutor(t *testing.T, providers map[string]interfaces.LLMProvider) (*Executor, interfaces.ExecutionStore, interfaces.BlobStore) {
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

	resolveKey := func(ctx context.Context, provider string) (string, error) {
		return "test-key", nil
	}

	cache, closeCache, err := NewProcessorCache(logger, filepath.Join(root, "data", "cache"))
	if err != nil {
		t.Fatalf("NewProcessorCache: %v", err)
	}
	t.Cleanup(func() { closeCache() })

	return New(execStore, blobs, loader, providers, cache, NewCancellationRegistry(), logger, resolveKey), execStore, blobs
}

func demoEnvelope() models.JobEnvelope {
	return models.JobEnvelope{
		JobID:        "job-1",
		PipelineName: "demo",
		Inputs:       map[string]any{"topic": "AI"},
		OutputFormat: "html",
		Priority:     models.PriorityNormal,
		CreatedAt:    time.Now().UnixMilli(),
	}
}

func TestExecutor_HappyPath(t *testing.T) {
	providers := map[string]interfaces.LLMProvider{
		"openai": &fakeProvider{name: "openai"},
	}
	x, execStore, blobs := newTestExecutor(t, providers)

	executionID, err := x.Run(context.Background(), demoEnvelope())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	record, err := execStore.Get(context.Background(), executionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Status != models.StatusCompleted {
		t.Fatalf("Status = %v, want completed", record.Status)
	}
	if record.OutputPath == "" {
		t.Error("expected OutputPath set")
	}
	if record.UserOutputPath == "" {
		t.Error("expected UserOutputPath set (html template exists)")
	}
	if record.BundlePath == "" {
		t.Error("expected BundlePath set")
	}
	if record.ExecutionTimeMS <= 0 {
		t.Error("expected ExecutionTimeMS > 0")
	}

	if _, err := blobs.Get(context.Background(), record.OutputPath); err != nil {
		t.Errorf("mdx output not persisted: %v", err)
	}
	if _, err := blobs.Get(context.Background(), record.UserOutputPath); err != nil {
		t.Errorf("html output not persisted: %v", err)
	}
}

func TestExecutor_NoMatchingTemplateLeavesUserOutputUnset(t *testing.T) {
	providers := map[string]interfaces.LLMProvider{
		"openai": &fakeProvider{name: "openai"},
	}
	x, execStore, _ := newTestExecutor(t, providers)

	envelope := demoEnvelope()
	envelope.OutputFormat = "pdf"
	executionID, err := x.Run(context.Background(), envelope)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	record, _ := execStore.Get(context.Background(), executionID)
	if record.Status != models.StatusCompleted {
		t.Fatalf("Status = %v, want completed", record.Status)
	}
	if record.UserOutputPath != "" {
		t.Errorf("expected UserOutputPath unset, got %q", record.UserOutputPath)
	}
	if record.OutputPath == "" {
		t.Error("expected canonical mdx OutputPath set")
	}
}

func TestExecutor_ValidationFailureMarksFailed(t *testing.T) {
	providers := map[string]interfaces.LLMProvider{
		"openai": &fakeProvider{name: "openai"},
	}
	x, execStore, _ := newTestExecutor(t, providers)

	envelope := demoEnvelope()
	envelope.Inputs = map[string]any{} // missing required "topic"

	executionID, err := x.Run(context.Background(), envelope)
	if err == nil {
		t.Fatal("expected validation error")
	}

	record, getErr := execStore.Get(context.Background(), executionID)
	if getErr != nil {
		t.Fatalf("Get: %v", getErr)
	}
	if record.Status != models.StatusFailed {
		t.Fatalf("Status = %v, want failed", record.Status)
	}
	if record.Error == "" {
		t.Error("expected Error set")
	}
}

func TestExecutor_LLMFallback(t *testing.T) {
	providers := map[string]interfaces.LLMProvider{
		"openai":    &fakeProvider{name: "openai", err: dperrors.NewRateLimit("openai", 5)},
		"anthropic": &fakeProvider{name: "anthropic"},
	}
	x, _, _ := newTestExecutor(t, providers)

	// Build a separate fixture whose config.yml declares a fallback provider.
	root := newFixturePipeline(t)
	dir := filepath.Join(root, "pipelines", "demo")
	writeFixtureFile(t, filepath.Join(dir, "config.yml"), "llm:\n  provider: openai\n  model: gpt-4o\n  fallback:\n    provider: anthropic\n    model: claude-sonnet\n")
	loader := pipeline.NewLoader(root)
	x.loader = loader

	execStore2, err := store.NewEmbeddedStore(common.NewSilentLogger(), filepath.Join(root, "data", "executions"))
	if err != nil {
		t.Fatalf("NewEmbeddedStore: %v", err)
	}
	t.Cleanup(func() { execStore2.Close() })
	x.store = execStore2

	blobs2, err := storage.NewFileBlobStore(common.NewSilentLogger(), &storage.FileBlobConfig{BasePath: filepath.Join(root, "data", "outputs")})
	if err != nil {
		t.Fatalf("NewFileBlobStore: %v", err)
	}
	x.blobs = blobs2

	executionID, err := x.Run(context.Background(), demoEnvelope())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	record, err := execStore2.Get(context.Background(), executionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Status != models.StatusCompleted {
		t.Fatalf("Status = %v, want completed", record.Status)
	}
	if record.LLMMetadata == nil || record.LLMMetadata.Provider != "anthropic" {
		t.Errorf("expected fallback provider anthropic recorded, got %+v", record.LLMMetadata)
	}
}

func TestExecutor_CancellationDuringProcessing(t *testing.T) {
	providers := map[string]interfaces.LLMProvider{
		"openai": &fakeProvider{name: "openai", delay: 300 * time.Millisecond},
	}
	x, execStore, _ := newTestExecutor(t, providers)

	envelope := demoEnvelope()
	jobID := envelope.JobID

	done := make(chan struct{})
	go func() {
		defer close(done)
		x.Run(context.Background(), envelope)
	}()

	time.Sleep(50 * time.Millisecond)
	record, err := execStore.GetByJobID(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetByJobID: %v", err)
	}
	if !x.cancellations.Cancel(record.ID) {
		t.Fatal("expected an in-flight cancellation token")
	}
	<-done

	final, err := execStore.Get(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Status != models.StatusCancelled {
		t.Fatalf("Status = %v, want cancelled", final.Status)
	}
	if final.Error != "Job cancelled by user" {
		t.Errorf("Error = %q", final.Error)
	}
	if final.OutputPath != "" {
		t.Error("expected no OutputPath on cancellation")
	}
}

func TestExecutor_MissingProcessorFails(t *testing.T) {
	providers := map[string]interfaces.LLMProvider{
		"openai": &fakeProvider{name: "openai"},
	}
	x, _, _ := newTestExecutor(t, providers)
	root := newFixturePipeline(t)
	dir := filepath.Join(root, "pipelines", "demo")
	if err := os.Remove(filepath.Join(dir, "processor")); err != nil {
		t.Fatalf("remove processor: %v", err)
	}
	x.loader = pipeline.NewLoader(root)

	envelope := demoEnvelope()
	envelope.JobID = "job-2"
	_, err := x.Run(context.Background(), envelope)
	if !dperrors.IsCode(err, dperrors.CodeProcessorMissing) {
		t.Fatalf("expected ProcessorMissing, got %v", err)
	}
}
