package submitter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/common"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/executor"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/models"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/pipeline"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/queue"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/store"
)

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
	writeFixtureFile(t, filepath.Join(dir, "spec.yml"), "name: demo\noutputFormat:\n  - mdx\ninputs:\n  - name: topic\n    type: text\n    required: true\n")
	writeFixtureFile(t, filepath.Join(dir, "config.yml"), "llm:\n  provider: openai\n  model: gpt-4o\n")
	writeFixtureFile(t, filepath.Join(dir, "processor"), "passthrough")
	return root
}

func newTestSubmitter(t *testing.T) (*Submitter, *store.EmbeddedStore, *queue.EmbeddedQueue) {
	t.Helper()
	logger := common.NewSilentLogger()
	root := newFixturePipeline(t)
	loader := pipeline.NewLoader(root)

	execStore, err := store.NewEmbeddedStore(logger, filepath.Join(root, "data", "executions"))
	if err != nil {
		t.Fatalf("NewEmbeddedStore: %v", err)
	}
	t.Cleanup(func() { execStore.Close() })

	q, err := queue.NewEmbeddedQueue(logger, filepath.Join(root, "data", "queue"))
	if err != nil {
		t.Fatalf("NewEmbeddedQueue: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	resolveKey := func(ctx context.Context, provider string) (string, error) { return "test-key", nil }
	cancellations := executor.NewCancellationRegistry()

	return New(loader, execStore, q, cancellations, logger, resolveKey), execStore, q
}

func TestSubmit_InsertsQueuedRecordAndEnqueues(t *testing.T) {
	s, execStore, q := newTestSubmitter(t)

	sub, err := s.Submit(context.Background(), models.JobRequest{
		PipelineName: "demo",
		Inputs:       map[string]any{"topic": "AI"},
		OutputFormat: "mdx",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.ExecutionID == "" || sub.JobID == "" {
		t.Fatalf("expected non-empty ids, got %+v", sub)
	}

	record, err := execStore.Get(context.Background(), sub.ExecutionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Status != models.StatusQueued {
		t.Fatalf("Status = %v, want queued", record.Status)
	}
	if record.Priority != models.PriorityNormal {
		t.Fatalf("Priority = %v, want normal default", record.Priority)
	}

	size, err := q.Size(context.Background())
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 1 {
		t.Fatalf("queue size = %d, want 1", size)
	}
}

func TestSubmit_ValidationFailureReturnsErrorWithoutQueuing(t *testing.T) {
	s, _, q := newTestSubmitter(t)

	_, err := s.Submit(context.Background(), models.JobRequest{
		PipelineName: "demo",
		Inputs:       map[string]any{}, // missing required "topic"
		OutputFormat: "mdx",
	})
	if err == nil {
		t.Fatal("expected validation error")
	}

	size, sizeErr := q.Size(context.Background())
	if sizeErr != nil {
		t.Fatalf("Size: %v", sizeErr)
	}
	if size != 0 {
		t.Fatalf("queue size = %d, want 0 (nothing enqueued on validation failure)", size)
	}
}

func TestCancel_QueuedJobIsRemovedFromQueue(t *testing.T) {
	s, execStore, q := newTestSubmitter(t)

	sub, err := s.Submit(context.Background(), models.JobRequest{
		PipelineName: "demo",
		Inputs:       map[string]any{"topic": "AI"},
		OutputFormat: "mdx",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := s.Cancel(context.Background(), sub.ExecutionID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	record, err := execStore.Get(context.Background(), sub.ExecutionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Status != models.StatusCancelled {
		t.Fatalf("Status = %v, want cancelled", record.Status)
	}

	size, err := q.Size(context.Background())
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 0 {
		t.Fatalf("queue size = %d, want 0 after cancel", size)
	}
}

func TestCancel_TerminalStatusIsIdempotentNoOp(t *testing.T) {
	s, execStore, _ := newTestSubmitter(t)

	sub, err := s.Submit(context.Background(), models.JobRequest{
		PipelineName: "demo",
		Inputs:       map[string]any{"topic": "AI"},
		OutputFormat: "mdx",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := s.Cancel(context.Background(), sub.ExecutionID); err != nil {
		t.Fatalf("first Cancel: %v", err)
	}
	if err := s.Cancel(context.Background(), sub.ExecutionID); err != nil {
		t.Fatalf("second Cancel (idempotent) returned error: %v", err)
	}

	record, err := execStore.Get(context.Background(), sub.ExecutionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Status != models.StatusCancelled {
		t.Fatalf("Status = %v, want cancelled", record.Status)
	}
}
