// Package executor implements the C6 Staged Executor: the eight-stage
// pipeline that turns one JobEnvelope into a finished execution record.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/common"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/dperrors"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/interfaces"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/models"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/processor"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/validator"
)

// llmCallTimeout bounds a single provider call regardless of the
// pipeline's overall execution.timeoutMinutes (spec.md §5).
const llmCallTimeout = 120 * time.Second

// Executor runs one JobEnvelope through load -> validate -> process ->
// render prompts -> enrich -> compose -> render outputs -> persist. It is
// the only component that touches every other component in the core.
type Executor struct {
	store         interfaces.ExecutionStore
	blobs         interfaces.BlobStore
	loader        interfaces.PipelineLoader
	providers     map[string]interfaces.LLMProvider
	breakers      *breakers
	limiters      *providerLimiters
	cache         *ProcessorCache
	cancellations *CancellationRegistry
	logger        *common.Logger
	resolveAPIKey validator.APIKeyResolver
}

// New builds an Executor. providers is keyed by LLMConfig.Provider (e.g.
// "openai", "anthropic", "google"). resolveAPIKey backs the validator's
// API-key presence check. cache may be nil, in which case
// ProcessorContext.CacheGet/CacheSet degrade to a per-Run in-memory buffer
// that is not shared across executions.
func New(
	store interfaces.ExecutionStore,
	blobs interfaces.BlobStore,
	loader interfaces.PipelineLoader,
	providers map[string]interfaces.LLMProvider,
	cache *ProcessorCache,
	cancellations *CancellationRegistry,
	logger *common.Logger,
	resolveAPIKey validator.APIKeyResolver,
) *Executor {
	return &Executor{
		store:         store,
		blobs:         blobs,
		loader:        loader,
		providers:     providers,
		breakers:      newBreakers(),
		limiters:      newProviderLimiters(),
		cache:         cache,
		cancellations: cancellations,
		logger:        logger,
		resolveAPIKey: resolveAPIKey,
	}
}

// Run executes envelope end-to-end, returning the final execution id.
// Taxonomy errors are recorded on the record (failed/cancelled) before
// being returned; the caller (worker pool) decides Ack/Nack from there.
func (x *Executor) Run(ctx context.Context, envelope models.JobEnvelope) (string, error) {
	record, err := x.startOrResume(ctx, envelope)
	if err != nil {
		return "", err
	}
	executionID := record.ID

	cfg, err := x.loader.LoadConfig(record.PipelineName)
	if err != nil {
		started := time.Now()
		return executionID, x.finalizeFailure(ctx, record, started, err)
	}
	timeoutMinutes := cfg.LLM.TimeoutMinutesOrDefault()

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMinutes)*time.Minute)
	x.cancellations.register(executionID, cancel)
	defer x.cancellations.unregister(executionID)
	defer cancel()

	started := time.Now()
	if err := x.runStages(runCtx, record, envelope, cfg); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			err = dperrors.NewExecutionTimeout(timeoutMinutes)
		}
		return executionID, x.finalizeFailure(ctx, record, started, err)
	}
	return executionID, nil
}

// startOrResume implements the §4.6 startup idempotency rule: reuse the
// queued record inserted by the submitter (the common path), or insert a
// fresh processing record when none was pre-inserted (e.g. direct queue use).
func (x *Executor) startOrResume(ctx context.Context, envelope models.JobEnvelope) (*models.ExecutionRecord, error) {
	now := time.Now()

	existing, err := x.store.GetByJobID(ctx, envelope.JobID)
	if err == nil {
		if existing.Status.CanTransitionTo(models.StatusProcessing) {
			if err := x.store.UpdateStatus(ctx, existing.ID, models.StatusProcessing, map[string]any{"startedAt": now}); err != nil {
				return nil, err
			}
		}
		existing.Status = models.StatusProcessing
		existing.StartedAt = &now
		return existing, nil
	}
	if !dperrors.IsCode(err, dperrors.CodeNotFound) {
		return nil, err
	}

	record := &models.ExecutionRecord{
		ID:           fmt.Sprintf("exec-%d-%s", now.UnixMilli(), envelope.JobID),
		JobID:        envelope.JobID,
		PipelineName: envelope.PipelineName,
		UserID:       envelope.UserID,
		Inputs:       envelope.Inputs,
		OutputFormat: envelope.OutputFormat,
		Status:       models.StatusProcessing,
		Priority:     envelope.Priority,
		CreatedAt:    now,
		StartedAt:    &now,
	}
	if err := x.store.Insert(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// runStages carries out stages 1-8, mutating record's in-memory fields as
// it goes and persisting the final completed patch on success. cfg was
// already loaded by Run to compute the pipeline-wide timeout bound into ctx.
func (x *Executor) runStages(ctx context.Context, record *models.ExecutionRecord, envelope models.JobEnvelope, cfg *models.PipelineConfig) error {
	if err := checkCancelled(ctx); err != nil {
		return err
	}

	// Stage 1: load pipeline spec.
	spec, err := x.loader.LoadSpec(record.PipelineName)
	if err != nil {
		return err
	}

	if err := checkCancelled(ctx); err != nil {
		return err
	}

	// Stage 2: validate + normalize inputs.
	outputDir := filepath.Join("outputs", "reports")
	result := validator.Validate(ctx, spec, &cfg.LLM, envelope.Inputs, outputDir, x.resolveAPIKey)
	if !result.Valid {
		return validator.ThrowIfInvalid(record.PipelineName, outputDir, result)
	}
	normalizedInputs := result.NormalizedInputs
	record.Inputs = normalizedInputs

	if err := checkCancelled(ctx); err != nil {
		return err
	}

	// Stage 3: data processor.
	bundlePath, processorMetadata, bundle, err := x.runProcessor(ctx, record, normalizedInputs)
	if err != nil {
		return stageErr(ctx, err)
	}
	record.BundlePath = bundlePath
	record.ProcessorMetadata = processorMetadata

	if err := checkCancelled(ctx); err != nil {
		return err
	}

	// Stage 4: render prompts.
	renderedPrompts, err := x.renderPrompts(record.PipelineName, normalizedInputs, spec.Variables, bundle)
	if err != nil {
		return stageErr(ctx, err)
	}

	if err := checkCancelled(ctx); err != nil {
		return err
	}

	// Stage 5: LLM enrichment.
	llmResult, err := x.callLLM(ctx, cfg.LLM, renderedPrompts)
	if err != nil {
		return stageErr(ctx, err)
	}
	record.LLMMetadata = &models.LLMMetadata{Provider: llmResult.Provider, Model: llmResult.Model, Usage: llmResult.Usage}
	record.TokensUsed = llmResult.Usage

	if err := checkCancelled(ctx); err != nil {
		return err
	}

	// Stage 6: compose the template context.
	templateCtx := x.composeTemplateContext(record, normalizedInputs, spec.Variables, bundle, llmResult)

	// Stage 7: render outputs.
	outputPath, userOutputPath, err := x.renderOutputs(ctx, record, templateCtx)
	if err != nil {
		return stageErr(ctx, err)
	}
	record.OutputPath = outputPath
	record.UserOutputPath = userOutputPath

	// Stage 8: persist and finalize.
	return x.finalizeSuccess(ctx, record)
}

func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// stageErr gives an observed cancellation priority over whatever error a
// stage's sub-operation happened to surface (e.g. an LLM provider wrapping
// ctx.Err() in its own taxonomy error): once the context is done, the
// execution is cancelled regardless of what the failing call reported.
func stageErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (x *Executor) runProcessor(ctx context.Context, record *models.ExecutionRecord, inputs map[string]any) (string, models.ProcessorMetadata, map[string]any, error) {
	artifactPath, err := x.loader.ProcessorArtifact(record.PipelineName)
	if err != nil {
		return "", nil, nil, err
	}
	name, err := processorNameFromArtifact(artifactPath)
	if err != nil {
		return "", nil, nil, dperrors.NewProcessingError("data-processor", err)
	}
	proc, err := processor.Get(name)
	if err != nil {
		return "", nil, nil, dperrors.NewProcessingError("data-processor", err)
	}

	pctx := newProcessorContext(ctx, x.loader.DataDir(record.PipelineName), x.blobs, record.ID, record.PipelineName, x.cache)
	result, err := proc.Run(ctx, inputs, pctx)
	if err != nil {
		if e, ok := dperrors.As(err); ok {
			return "", nil, nil, e
		}
		return "", nil, nil, dperrors.NewProcessingError("data-processor", err)
	}
	if result == nil {
		result = &interfaces.ProcessorResult{}
	}

	data, err := json.Marshal(result.Attributes)
	if err != nil {
		return "", nil, nil, dperrors.NewProcessingError("data-processor", err)
	}
	bundleKey := fmt.Sprintf("outputs/bundles/%s.json", record.ID)
	if err := x.blobs.Put(ctx, bundleKey, data); err != nil {
		return "", nil, nil, dperrors.NewProcessingError("data-processor", err)
	}
	return bundleKey, models.ProcessorMetadata(result.Metadata), result.Attributes, nil
}

// processorNameFromArtifact reads the processor artifact file's contents,
// trimmed, as the compiled-in processor's registered name.
func processorNameFromArtifact(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(string(data))
	if name == "" {
		return "", fmt.Errorf("processor artifact %s is empty", path)
	}
	return name, nil
}

func (x *Executor) renderPrompts(pipelineName string, inputs map[string]any, variables map[string]any, bundle map[string]any) (map[string]string, error) {
	prompts, err := loadPrompts(x.loader.PromptsDir(pipelineName))
	if err != nil {
		return nil, dperrors.Wrap(err, "prompt-rendering")
	}

	ctx := map[string]any{
		"inputs": inputs,
		"vars":   variables,
		"data":   bundle,
	}

	rendered := make(map[string]string, len(prompts))
	for name, text := range prompts {
		out, err := renderTemplate(name, text, ctx)
		if err != nil {
			return nil, err
		}
		rendered[name] = out
	}
	return rendered, nil
}

func (x *Executor) callLLM(ctx context.Context, cfg models.LLMConfig, prompts map[string]string) (*interfaces.LLMResult, error) {
	_, promptText, ok := primaryPrompt(prompts)
	if !ok {
		return nil, dperrors.NewProcessingError("llm-enrichment", fmt.Errorf("pipeline declares no prompts"))
	}

	result, err := x.invokeProvider(ctx, cfg.Provider, promptText, cfg)
	if err == nil {
		return result, nil
	}
	if cfg.Fallback == nil || ctx.Err() != nil || isAuthOrCancellation(err) {
		return nil, err
	}

	fallbackCfg := cfg
	fallbackCfg.Provider = cfg.Fallback.Provider
	fallbackCfg.Model = cfg.Fallback.Model
	result, fbErr := x.invokeProvider(ctx, fallbackCfg.Provider, promptText, fallbackCfg)
	if fbErr != nil {
		return nil, fbErr
	}
	return result, nil
}

func (x *Executor) invokeProvider(ctx context.Context, providerName, prompt string, cfg models.LLMConfig) (*interfaces.LLMResult, error) {
	llmProvider, ok := x.providers[providerName]
	if !ok {
		return nil, dperrors.NewProcessingError("llm-enrichment", fmt.Errorf("no provider registered for %q", providerName))
	}

	callCtx, cancel := context.WithTimeout(ctx, llmCallTimeout)
	defer cancel()

	if err := x.limiters.forProvider(providerName).Wait(callCtx); err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, dperrors.NewAPITimeout(providerName, int(llmCallTimeout.Seconds()))
		}
		return nil, err
	}

	cb := x.breakers.forProvider(providerName)
	out, err := cb.Execute(func() (interface{}, error) {
		return llmProvider.Generate(callCtx, prompt, cfg, false)
	})
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, dperrors.NewAPITimeout(providerName, int(llmCallTimeout.Seconds()))
		}
		if e, ok := dperrors.As(err); ok {
			return nil, e
		}
		return nil, dperrors.NewAPIResponseError(providerName, 0, err)
	}
	return out.(*interfaces.LLMResult), nil
}

// isAuthOrCancellation reports whether err is the kind of failure that a
// fallback-provider retry cannot fix: bad/missing credentials.
func isAuthOrCancellation(err error) bool {
	return dperrors.IsCode(err, dperrors.CodeAPIKeyInvalid) || dperrors.IsCode(err, dperrors.CodeAPIKeyMissing)
}

func (x *Executor) composeTemplateContext(record *models.ExecutionRecord, inputs map[string]any, variables map[string]any, bundle map[string]any, llm *interfaces.LLMResult) map[string]any {
	return map[string]any{
		"inputs": inputs,
		"vars":   variables,
		"data":   bundle,
		"llm": map[string]any{
			"text": llm.Text,
			"json": llm.JSON,
		},
		"metadata": map[string]any{
			"pipelineName": record.PipelineName,
			"model":        llm.Model,
			"tokensUsed":   llm.Usage,
			"timestamp":    time.Now().Format(time.RFC3339),
		},
	}
}

// renderOutputs always renders the canonical mdx artifact, then the
// requested format's artifact when it differs from mdx and a template
// resolves for it (spec.md §4.6 stage 7).
func (x *Executor) renderOutputs(ctx context.Context, record *models.ExecutionRecord, templateCtx map[string]any) (string, string, error) {
	mdxPath, err := x.renderOneOutput(ctx, record, "mdx", templateCtx)
	if err != nil {
		return "", "", err
	}

	requested := record.OutputFormat
	if requested == "" || requested == "mdx" {
		return mdxPath, "", nil
	}

	userPath, err := x.renderOneOutput(ctx, record, requested, templateCtx)
	if err != nil {
		if dperrors.IsCode(err, dperrors.CodeTemplateMissing) {
			return mdxPath, "", nil
		}
		return "", "", err
	}
	return mdxPath, userPath, nil
}

func (x *Executor) renderOneOutput(ctx context.Context, record *models.ExecutionRecord, format string, templateCtx map[string]any) (string, error) {
	templatePath, err := x.loader.ResolveTemplate(record.PipelineName, format)
	if err != nil {
		return "", err
	}
	rendered, err := renderTemplateFile(templatePath, templateCtx)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("outputs/reports/%s.%s", record.ID, format)
	if err := x.blobs.Put(ctx, key, []byte(rendered)); err != nil {
		return "", dperrors.Wrap(err, "output-persistence")
	}
	return key, nil
}

func (x *Executor) finalizeSuccess(ctx context.Context, record *models.ExecutionRecord) error {
	completed := time.Now()
	record.CompletedAt = &completed
	record.ExecutionTimeMS = completed.Sub(*record.StartedAt).Milliseconds()

	patch := map[string]any{
		"completedAt":       completed,
		"outputPath":        record.OutputPath,
		"userOutputPath":    record.UserOutputPath,
		"bundlePath":        record.BundlePath,
		"processorMetadata": record.ProcessorMetadata,
		"llmMetadata":       record.LLMMetadata,
		"tokensUsed":        record.TokensUsed,
		"executionTime":     record.ExecutionTimeMS,
	}
	return x.store.UpdateStatus(ctx, record.ID, models.StatusCompleted, patch)
}

// finalizeFailure transitions record to cancelled or failed depending on
// whether the failure was observed cancellation, then re-raises cause so
// the worker pool can decide Ack/Nack.
func (x *Executor) finalizeFailure(ctx context.Context, record *models.ExecutionRecord, started time.Time, cause error) error {
	completed := time.Now()
	status := models.StatusFailed
	message := cause.Error()
	if cause == context.Canceled {
		status = models.StatusCancelled
		message = "Job cancelled by user"
	} else if e, ok := dperrors.As(cause); ok {
		message = e.UserMessage
	}

	patch := map[string]any{
		"completedAt":   completed,
		"error":         message,
		"executionTime": completed.Sub(started).Milliseconds(),
	}
	if !record.Status.CanTransitionTo(status) {
		x.logger.Warn().Str("executionId", record.ID).Str("status", string(record.Status)).Msg("cannot transition terminal record, leaving as-is")
		return cause
	}
	if err := x.store.UpdateStatus(ctx, record.ID, status, patch); err != nil {
		x.logger.Error().Str("executionId", record.ID).Err(err).Msg("failed to persist terminal status")
	}
	return cause
}
