package models

import "time"

// Priority is the caller-facing priority tier of a job request.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// QueueScore maps a caller-facing priority to the adapter's ascending
// numeric score: lower scores dequeue first. high=1, normal=5, low=10.
func (p Priority) QueueScore() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 10
	default:
		return 5
	}
}

// Status is an ExecutionRecord lifecycle state. Transitions form a DAG:
// queued -> processing -> {completed, failed, cancelled}, plus the
// pre-start shortcut queued -> cancelled.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether the status cannot transition further.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// canTransition lists, for each status, the set of statuses it may move to.
var canTransition = map[Status]map[Status]bool{
	StatusQueued: {
		StatusProcessing: true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// CanTransitionTo reports whether moving from s to next is legal per the DAG.
func (s Status) CanTransitionTo(next Status) bool {
	return canTransition[s][next]
}

// Progress maps a status to the integer percentage surfaced over HTTP.
func (s Status) Progress() int {
	switch s {
	case StatusProcessing:
		return 50
	case StatusCompleted:
		return 100
	default:
		return 0
	}
}

// JobRequest is the submitter's input: what a caller asks to have executed.
type JobRequest struct {
	PipelineName string         `json:"pipelineName"`
	Inputs       map[string]any `json:"inputs"`
	OutputFormat string         `json:"outputFormat"`
	Priority     Priority       `json:"priority,omitempty"`
	UserID       string         `json:"userId,omitempty"`
}

// JobEnvelope is the unit placed on the queue adapter.
type JobEnvelope struct {
	JobID        string         `json:"jobId"`
	PipelineName string         `json:"pipelineName"`
	Inputs       map[string]any `json:"inputs"`
	OutputFormat string         `json:"outputFormat"`
	Priority     Priority       `json:"priority"`
	UserID       string         `json:"userId,omitempty"`
	CreatedAt    int64          `json:"createdAt"` // epoch-ms
}

// JobEvent is emitted by the worker pool on its operator-visible state
// transitions: active, completed, failed, cancelled, error. No queued or
// stalled events are emitted.
type JobEvent struct {
	Type        string    `json:"type"`
	ExecutionID string    `json:"executionId"`
	JobID       string    `json:"jobId"`
	Status      Status    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	QueueSize   int       `json:"queueSize"`
}
