// Package models holds the data types shared across the execution core:
// pipeline specs, job requests/envelopes, execution records, and stats.
package models

// InputType enumerates the accepted shapes of a pipeline input.
type InputType string

const (
	InputText    InputType = "text"
	InputNumber  InputType = "number"
	InputSelect  InputType = "select"
	InputBoolean InputType = "boolean"
	InputFile    InputType = "file"
	InputArray   InputType = "array"
)

// InputDefinition describes one declared input of a pipeline.
type InputDefinition struct {
	Name        string    `json:"name" yaml:"name"`
	Type        InputType `json:"type" yaml:"type"`
	Label       string    `json:"label" yaml:"label"`
	Required    bool      `json:"required" yaml:"required"`
	Default     any       `json:"default,omitempty" yaml:"default,omitempty"`
	Options     []string  `json:"options,omitempty" yaml:"options,omitempty"`
	Placeholder string    `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	MaxSize     int64     `json:"maxSize,omitempty" yaml:"maxSize,omitempty"`
}

// LLMFallback names a secondary provider/model pair used when the primary fails.
type LLMFallback struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`
}

// ExecutionSettings tunes per-pipeline scheduling and retry behaviour.
type ExecutionSettings struct {
	QueuePriority  string `json:"queuePriority,omitempty" yaml:"queuePriority,omitempty"`
	TimeoutMinutes int    `json:"timeoutMinutes,omitempty" yaml:"timeoutMinutes,omitempty"`
	RetryAttempts  int    `json:"retryAttempts,omitempty" yaml:"retryAttempts,omitempty"`
}

// LLMConfig selects the provider and model used by the enrichment stage.
type LLMConfig struct {
	Provider    string            `json:"provider" yaml:"provider"`
	Model       string            `json:"model" yaml:"model"`
	Temperature float64           `json:"temperature" yaml:"temperature"`
	MaxTokens   int               `json:"maxTokens" yaml:"maxTokens"`
	Fallback    *LLMFallback      `json:"fallback,omitempty" yaml:"fallback,omitempty"`
	Execution   ExecutionSettings `json:"execution,omitempty" yaml:"execution,omitempty"`
}

// TimeoutMinutesOrDefault returns config.execution.timeoutMinutes, defaulting to 30.
func (c LLMConfig) TimeoutMinutesOrDefault() int {
	if c.Execution.TimeoutMinutes <= 0 {
		return 30
	}
	return c.Execution.TimeoutMinutes
}

// PipelineSpec is the immutable definition of a named pipeline, loaded from spec.yml.
type PipelineSpec struct {
	Name         string            `json:"name" yaml:"name"`
	Version      string            `json:"version" yaml:"version"`
	Description  string            `json:"description,omitempty" yaml:"description,omitempty"`
	Inputs       []InputDefinition `json:"inputs" yaml:"inputs"`
	OutputFormat []string          `json:"outputFormat" yaml:"outputFormat"`
	Variables    map[string]any    `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// InputByName returns the input definition with the given name, if any.
func (s *PipelineSpec) InputByName(name string) (InputDefinition, bool) {
	for _, in := range s.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return InputDefinition{}, false
}

// PipelineConfig is the runtime-tunable companion to PipelineSpec, loaded from config.yml.
type PipelineConfig struct {
	LLM LLMConfig `json:"llm" yaml:"llm"`
}

// PipelineSummary is the shape returned by listPipelines: a name plus validity.
type PipelineSummary struct {
	Name   string   `json:"name"`
	Spec   *PipelineSpec `json:"spec,omitempty"`
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}
