package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/dperrors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newDemoPipeline(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "pipelines", "demo")

	writeFile(t, filepath.Join(dir, "spec.yml"), "name: demo\noutputFormat:\n  - html\n  - mdx\ninputs:\n  - name: topic\n    type: text\n    required: true\n")
	writeFile(t, filepath.Join(dir, "config.yml"), "llm:\n  provider: openai\n  model: gpt-4o\n")
	writeFile(t, filepath.Join(dir, "processor"), "#!/bin/sh\necho ok\n")
	writeFile(t, filepath.Join(dir, "prompts", "main.md"), "Write about {{.inputs.topic}}")
	writeFile(t, filepath.Join(dir, "templates", "html.tmpl"), "<html>{{.llm.text}}</html>")
	writeFile(t, filepath.Join(dir, "templates", "report.mdx.tmpl"), "# {{.inputs.topic}}")
	return root
}

func TestLoader_LoadSpec(t *testing.T) {
	root := newDemoPipeline(t)
	l := NewLoader(root)

	spec, err := l.LoadSpec("demo")
	if err != nil {
		t.Fatalf("LoadSpec: %v", err)
	}
	if spec.Name != "demo" {
		t.Errorf("Name = %q, want demo", spec.Name)
	}
	if len(spec.Inputs) != 1 || spec.Inputs[0].Name != "topic" {
		t.Errorf("Inputs = %+v", spec.Inputs)
	}
}

func TestLoader_LoadSpec_NotFound(t *testing.T) {
	root := newDemoPipeline(t)
	l := NewLoader(root)

	_, err := l.LoadSpec("missing")
	if !dperrors.IsCode(err, dperrors.CodePipelineNotFound) {
		t.Errorf("expected PipelineNotFound, got %v", err)
	}
}

func TestLoader_LoadConfig(t *testing.T) {
	root := newDemoPipeline(t)
	l := NewLoader(root)

	cfg, err := l.LoadConfig("demo")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("Provider = %q, want openai", cfg.LLM.Provider)
	}
}

func TestLoader_ValidatePipeline_Valid(t *testing.T) {
	root := newDemoPipeline(t)
	l := NewLoader(root)

	valid, errs := l.ValidatePipeline("demo")
	if !valid {
		t.Errorf("expected valid, got errors: %v", errs)
	}
}

func TestLoader_ValidatePipeline_MissingProcessor(t *testing.T) {
	root := newDemoPipeline(t)
	if err := os.Remove(filepath.Join(root, "pipelines", "demo", "processor")); err != nil {
		t.Fatalf("remove processor: %v", err)
	}
	l := NewLoader(root)

	valid, errs := l.ValidatePipeline("demo")
	if valid {
		t.Fatal("expected invalid after removing processor")
	}
	found := false
	for _, e := range errs {
		if e == "missing processor" {
			found = true
		}
	}
	if !found {
		t.Errorf("errors = %v, want one mentioning missing processor", errs)
	}
}

func TestLoader_ResolveTemplate_PrefersReportPrefix(t *testing.T) {
	root := newDemoPipeline(t)
	l := NewLoader(root)

	path, err := l.ResolveTemplate("demo", "mdx")
	if err != nil {
		t.Fatalf("ResolveTemplate: %v", err)
	}
	if filepath.Base(path) != "report.mdx.tmpl" {
		t.Errorf("path = %q, want report.mdx.tmpl", path)
	}
}

func TestLoader_ResolveTemplate_FallsBackToBareFormat(t *testing.T) {
	root := newDemoPipeline(t)
	l := NewLoader(root)

	path, err := l.ResolveTemplate("demo", "html")
	if err != nil {
		t.Fatalf("ResolveTemplate: %v", err)
	}
	if filepath.Base(path) != "html.tmpl" {
		t.Errorf("path = %q, want html.tmpl", path)
	}
}

func TestLoader_ResolveTemplate_Missing(t *testing.T) {
	root := newDemoPipeline(t)
	l := NewLoader(root)

	_, err := l.ResolveTemplate("demo", "pdf")
	if !dperrors.IsCode(err, dperrors.CodeTemplateMissing) {
		t.Errorf("expected TemplateMissing, got %v", err)
	}
}

func TestLoader_ListPipelines(t *testing.T) {
	root := newDemoPipeline(t)
	l := NewLoader(root)

	summaries, err := l.ListPipelines()
	if err != nil {
		t.Fatalf("ListPipelines: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Name != "demo" {
		t.Fatalf("summaries = %+v", summaries)
	}
	if !summaries[0].Valid {
		t.Errorf("expected demo to be valid, errors: %v", summaries[0].Errors)
	}
}

func TestLoader_ProcessorArtifact(t *testing.T) {
	root := newDemoPipeline(t)
	l := NewLoader(root)

	path, err := l.ProcessorArtifact("demo")
	if err != nil {
		t.Fatalf("ProcessorArtifact: %v", err)
	}
	if filepath.Base(path) != "processor" {
		t.Errorf("path = %q", path)
	}
}
