// Package submitter implements the C8 public entry point: validate an
// incoming JobRequest, insert its queued ExecutionRecord, and hand the
// envelope to the queue adapter. It is the only component callers (HTTP,
// CLI) talk to directly.
package submitter

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/common"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/executor"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/interfaces"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/models"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/validator"
)

const reportsOutputDir = "outputs/reports"

// Submission is what Submit returns on success.
type Submission struct {
	ExecutionID string
	JobID       string
}

// Submitter wires C3/C4/C1/C5 together for the public-facing submit/cancel
// contract (spec.md §4.8).
type Submitter struct {
	loader        interfaces.PipelineLoader
	store         interfaces.ExecutionStore
	queue         interfaces.QueueAdapter
	cancellations *executor.CancellationRegistry
	logger        *common.Logger
	resolveAPIKey validator.APIKeyResolver
}

func New(
	loader interfaces.PipelineLoader,
	store interfaces.ExecutionStore,
	queue interfaces.QueueAdapter,
	cancellations *executor.CancellationRegistry,
	logger *common.Logger,
	resolveAPIKey validator.APIKeyResolver,
) *Submitter {
	return &Submitter{
		loader:        loader,
		store:         store,
		queue:         queue,
		cancellations: cancellations,
		logger:        logger,
		resolveAPIKey: resolveAPIKey,
	}
}

// Submit validates req against its pipeline's spec, inserts a queued
// ExecutionRecord, and enqueues the envelope. The same normalization check
// the executor would run at stage 2 runs here up front, so a bad request
// fails fast with a 400-class taxonomy error instead of round-tripping
// through the queue (spec.md §6 "400 on validation/API-key error").
func (s *Submitter) Submit(ctx context.Context, req models.JobRequest) (*Submission, error) {
	spec, err := s.loader.LoadSpec(req.PipelineName)
	if err != nil {
		return nil, err
	}
	cfg, err := s.loader.LoadConfig(req.PipelineName)
	if err != nil {
		return nil, err
	}

	result := validator.Validate(ctx, spec, &cfg.LLM, req.Inputs, reportsOutputDir, s.resolveAPIKey)
	if !result.Valid {
		return nil, validator.ThrowIfInvalid(req.PipelineName, reportsOutputDir, result)
	}

	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}

	now := time.Now()
	jobID := newJobID(now)
	executionID := fmt.Sprintf("exec-%d-%s", now.UnixMilli(), jobID)

	record := &models.ExecutionRecord{
		ID:           executionID,
		JobID:        jobID,
		PipelineName: req.PipelineName,
		UserID:       req.UserID,
		Inputs:       result.NormalizedInputs,
		OutputFormat: req.OutputFormat,
		Status:       models.StatusQueued,
		Priority:     priority,
		CreatedAt:    now,
	}
	if err := s.store.Insert(ctx, record); err != nil {
		return nil, err
	}

	envelope := models.JobEnvelope{
		JobID:        jobID,
		PipelineName: req.PipelineName,
		Inputs:       result.NormalizedInputs,
		OutputFormat: req.OutputFormat,
		Priority:     priority,
		UserID:       req.UserID,
		CreatedAt:    now.UnixMilli(),
	}
	if err := s.queue.Enqueue(ctx, envelope, 0); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("job_id", jobID).
		Str("execution_id", executionID).
		Str("pipeline", req.PipelineName).
		Msg("Job submitted")

	return &Submission{ExecutionID: executionID, JobID: jobID}, nil
}

// Cancel implements spec.md §5's idempotent, best-effort cancellation
// protocol: queued -> cancelled + dequeue; processing -> signal the shared
// cancellation token and let the executor observe it at its next
// checkpoint; terminal -> no-op, still reports ok.
func (s *Submitter) Cancel(ctx context.Context, executionID string) error {
	record, err := s.store.Get(ctx, executionID)
	if err != nil {
		return err
	}

	switch record.Status {
	case models.StatusQueued:
		if err := s.store.UpdateStatus(ctx, executionID, models.StatusCancelled, map[string]any{
			"error":       "Job cancelled by user",
			"completedAt": time.Now(),
		}); err != nil {
			return err
		}
		if err := s.queue.Remove(ctx, record.JobID); err != nil {
			s.logger.Warn().Str("job_id", record.JobID).Err(err).Msg("Failed to remove cancelled job from queue")
		}
		return nil

	case models.StatusProcessing:
		s.cancellations.Cancel(executionID)
		return nil

	default:
		// Already terminal: idempotent no-op.
		return nil
	}
}

// newJobID generates a globally-unique web-facing job token: web-{ms}-{rand}.
func newJobID(now time.Time) string {
	return fmt.Sprintf("web-%d-%06d", now.UnixMilli(), rand.Intn(1_000_000))
}
