package models

import "time"

// ProcessorMetadata is whatever shape the data-processor stage chose to
// report about its own run; opaque to the store, persisted verbatim.
type ProcessorMetadata map[string]any

// LLMMetadata captures what the enrichment stage learned about its call.
type LLMMetadata struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Usage    int    `json:"usage,omitempty"`
}

// ExecutionRecord is the durable lifecycle entity for one attempt to run a job.
type ExecutionRecord struct {
	ID           string `json:"id"`
	JobID        string `json:"jobId"`
	PipelineName string `json:"pipelineName"`
	UserID       string `json:"userId,omitempty"`

	Inputs       map[string]any `json:"inputs"`
	OutputFormat string         `json:"outputFormat"`
	Status       Status         `json:"status"`
	Priority     Priority       `json:"priority"`

	OutputPath     string             `json:"outputPath,omitempty"`
	UserOutputPath string             `json:"userOutputPath,omitempty"`
	BundlePath     string             `json:"bundlePath,omitempty"`

	ProcessorMetadata ProcessorMetadata `json:"processorMetadata,omitempty"`
	LLMMetadata       *LLMMetadata      `json:"llmMetadata,omitempty"`

	ExecutionTimeMS int64  `json:"executionTime,omitempty"`
	TokensUsed      int    `json:"tokensUsed,omitempty"`
	Error           string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Progress surfaces the HTTP-facing integer percentage for this record's status.
func (e *ExecutionRecord) Progress() int {
	return e.Status.Progress()
}

// ExecutionFilter narrows an Execution Store list() call.
type ExecutionFilter struct {
	PipelineName string
	UserID       string
	Status       Status
	Limit        int
}

// LimitOrDefault returns the configured limit, defaulting to 50 per spec.
func (f ExecutionFilter) LimitOrDefault() int {
	if f.Limit <= 0 {
		return 50
	}
	return f.Limit
}

// PipelineStats is the aggregated, per-pipeline rollup updated on every
// terminal transition using a Welford-style incremental running mean.
type PipelineStats struct {
	PipelineName        string    `json:"pipelineName"`
	TotalExecutions     int64     `json:"totalExecutions"`
	SuccessfulExecutions int64    `json:"successfulExecutions"`
	FailedExecutions    int64     `json:"failedExecutions"`
	AvgExecutionTimeMS  float64   `json:"avgExecutionTime"`
	TotalTokensUsed     int64     `json:"totalTokensUsed"`
	LastExecutedAt      time.Time `json:"lastExecutedAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// ApplyTerminal folds one terminal execution into the running aggregates
// using the Welford update: avg' = avg + (x - avg) / (n + 1), computed
// before n is incremented.
func (s *PipelineStats) ApplyTerminal(status Status, executionTimeMS int64, tokensUsed int, at time.Time) {
	n := s.TotalExecutions
	delta := float64(executionTimeMS) - s.AvgExecutionTimeMS
	s.AvgExecutionTimeMS += delta / float64(n+1)

	s.TotalExecutions = n + 1
	switch status {
	case StatusCompleted:
		s.SuccessfulExecutions++
	case StatusFailed, StatusCancelled:
		s.FailedExecutions++
	}
	s.TotalTokensUsed += int64(tokensUsed)
	s.LastExecutedAt = at
	s.UpdatedAt = at
}
