// Package pipeline implements the C4 Pipeline Loader: resolving a pipeline
// name to its on-disk layout (spec.yml, config.yml, processor, prompts/,
// templates/) under the configured workspace.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/dperrors"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/interfaces"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/models"
	"gopkg.in/yaml.v3"
)

// templateCandidates is the fixed, documented lookup order for
// ResolveTemplate (spec.md §9 open-question decision): first match wins.
var templateCandidates = []string{
	"report.%s.tmpl",
	"%s.tmpl",
	"template.%s.tmpl",
}

// Loader resolves pipeline names against {workspaceRoot}/pipelines/{name}/.
type Loader struct {
	root string // workspaceRoot/pipelines
}

// NewLoader builds a Loader rooted at workspaceRoot/pipelines.
func NewLoader(workspaceRoot string) *Loader {
	return &Loader{root: filepath.Join(workspaceRoot, "pipelines")}
}

func (l *Loader) dir(name string) string { return filepath.Join(l.root, name) }

func (l *Loader) exists(name string) bool {
	info, err := os.Stat(l.dir(name))
	return err == nil && info.IsDir()
}

func (l *Loader) LoadSpec(name string) (*models.PipelineSpec, error) {
	if !l.exists(name) {
		return nil, dperrors.NewPipelineNotFound(name)
	}
	specPath := filepath.Join(l.dir(name), "spec.yml")
	data, err := os.ReadFile(specPath)
	if err != nil {
		return nil, dperrors.NewPipelineSpecMissing(name)
	}

	var spec models.PipelineSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, dperrors.NewInvalidPipeline(name, []string{fmt.Sprintf("spec.yml: %v", err)})
	}
	return &spec, nil
}

func (l *Loader) LoadConfig(name string) (*models.PipelineConfig, error) {
	if !l.exists(name) {
		return nil, dperrors.NewPipelineNotFound(name)
	}
	configPath := filepath.Join(l.dir(name), "config.yml")
	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return &models.PipelineConfig{}, nil
	}
	if err != nil {
		return nil, dperrors.NewInvalidPipeline(name, []string{fmt.Sprintf("config.yml: %v", err)})
	}

	var cfg models.PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, dperrors.NewInvalidPipeline(name, []string{fmt.Sprintf("config.yml: %v", err)})
	}
	return &cfg, nil
}

// ValidatePipeline checks presence of spec.yml, config.yml, processor,
// prompts/, templates/, then re-parses both YAML files, accumulating
// every structural error without throwing (spec.md §4.4).
func (l *Loader) ValidatePipeline(name string) (bool, []string) {
	var errs []string
	dir := l.dir(name)

	if !l.exists(name) {
		return false, []string{fmt.Sprintf("pipeline %q does not exist", name)}
	}

	required := []string{"spec.yml", "config.yml", "processor", "prompts", "templates"}
	for _, entry := range required {
		if _, err := os.Stat(filepath.Join(dir, entry)); err != nil {
			errs = append(errs, fmt.Sprintf("missing %s", entry))
		}
	}

	if data, err := os.ReadFile(filepath.Join(dir, "spec.yml")); err == nil {
		var spec models.PipelineSpec
		if err := yaml.Unmarshal(data, &spec); err != nil {
			errs = append(errs, fmt.Sprintf("spec.yml: %v", err))
		} else {
			if spec.Name == "" {
				errs = append(errs, "spec.yml: pipeline name must not be empty")
			}
			if len(spec.OutputFormat) == 0 {
				errs = append(errs, "spec.yml: outputFormat must not be empty")
			}
		}
	}

	if data, err := os.ReadFile(filepath.Join(dir, "config.yml")); err == nil {
		var cfg models.PipelineConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			errs = append(errs, fmt.Sprintf("config.yml: %v", err))
		}
	}

	return len(errs) == 0, errs
}

func (l *Loader) ListPipelines() ([]models.PipelineSummary, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var summaries []models.PipelineSummary
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		valid, errs := l.ValidatePipeline(e.Name())
		summary := models.PipelineSummary{Name: e.Name(), Valid: valid, Errors: errs}
		if spec, err := l.LoadSpec(e.Name()); err == nil {
			summary.Spec = spec
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries, nil
}

// ResolveTemplate returns the path of the first existing template
// matching format under {name}/templates/, per the fixed lookup order.
func (l *Loader) ResolveTemplate(name, format string) (string, error) {
	templatesDir := filepath.Join(l.dir(name), "templates")
	for _, pattern := range templateCandidates {
		candidate := filepath.Join(templatesDir, fmt.Sprintf(pattern, format))
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", dperrors.NewTemplateMissing(name, format)
}

func (l *Loader) PromptsDir(name string) string {
	return filepath.Join(l.dir(name), "prompts")
}

// DataDir returns the pipeline's data/ directory, read by processors via
// ProcessorContext.ReadDataFile.
func (l *Loader) DataDir(name string) string {
	return filepath.Join(l.dir(name), "data")
}

func (l *Loader) ProcessorArtifact(name string) (string, error) {
	path := filepath.Join(l.dir(name), "processor")
	if _, err := os.Stat(path); err != nil {
		return "", dperrors.NewProcessorMissing(name)
	}
	return path, nil
}

var _ interfaces.PipelineLoader = (*Loader)(nil)
