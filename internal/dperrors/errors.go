// Package dperrors implements the execution core's structured error
// taxonomy: a closed set of variants discriminated by Code, each carrying
// enough context to render a user-facing message, cross a process
// boundary as a code, and suggest remediation.
package dperrors

import (
	"fmt"
	"time"
)

// Code discriminates the closed set of taxonomy variants.
type Code string

const (
	// Pipeline
	CodePipelineNotFound    Code = "PIPELINE_NOT_FOUND"
	CodePipelineSpecMissing Code = "PIPELINE_SPEC_MISSING"
	CodeProcessorMissing    Code = "PROCESSOR_MISSING"
	CodeTemplateMissing     Code = "TEMPLATE_MISSING"
	CodeInvalidPipeline     Code = "INVALID_PIPELINE"

	// API/LLM
	CodeAPIKeyMissing   Code = "API_KEY_MISSING"
	CodeAPIKeyInvalid   Code = "API_KEY_INVALID"
	CodeRateLimit       Code = "RATE_LIMIT"
	CodeQuotaExceeded   Code = "QUOTA_EXCEEDED"
	CodeAPITimeout      Code = "API_TIMEOUT"
	CodeAPIResponseError Code = "API_RESPONSE_ERROR"

	// Validation
	CodeValidationError          Code = "VALIDATION_ERROR"
	CodeInputRequired            Code = "INPUT_REQUIRED"
	CodeInvalidInputType         Code = "INVALID_INPUT_TYPE"
	CodeMultipleValidationErrors Code = "MULTIPLE_VALIDATION_ERRORS"

	// Execution
	CodeExecutionTimeout   Code = "EXECUTION_TIMEOUT"
	CodeProcessingError    Code = "PROCESSING_ERROR"
	CodeOutputDirectoryErr Code = "OUTPUT_DIRECTORY_ERROR"
	CodeTemplateRenderErr  Code = "TEMPLATE_RENDER_ERROR"
	CodeWorkerUnavailable  Code = "WORKER_UNAVAILABLE"

	// Store
	CodeDuplicateID       Code = "DUPLICATE_ID"
	CodeNotFound          Code = "NOT_FOUND"
	CodeIllegalTransition Code = "ILLEGAL_TRANSITION"
)

// Severity classifies how loudly a variant should be surfaced.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Error is the single tagged-variant type backing the entire taxonomy.
// Every constructor below returns one, pre-filled with a UserMessage and
// Fixes appropriate to its Code.
type Error struct {
	Code             Code
	TechnicalMessage string
	UserMessage      string
	Fixes            []string
	Severity         Severity
	Context          map[string]any
	Cause            error
	Timestamp        time.Time
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.TechnicalMessage, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.TechnicalMessage)
}

func (e *Error) Unwrap() error { return e.Cause }

// WithContext merges key/value pairs into the error's context map, returning
// the same instance for chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Transport is the wire shape consumed uniformly by the HTTP and CLI surfaces.
type Transport struct {
	Name        string         `json:"name"`
	Code        Code           `json:"code"`
	UserMessage string         `json:"userMessage"`
	Fixes       []string       `json:"fixes,omitempty"`
	Severity    Severity       `json:"severity"`
	Context     map[string]any `json:"context,omitempty"`
}

// ToTransport serializes the error to the shape HTTP/CLI surfaces render.
func (e *Error) ToTransport() Transport {
	return Transport{
		Name:        string(e.Code),
		Code:        e.Code,
		UserMessage: e.UserMessage,
		Fixes:       e.Fixes,
		Severity:    e.Severity,
		Context:     e.Context,
	}
}

func newErr(code Code, severity Severity, technical, user string, fixes ...string) *Error {
	return &Error{
		Code:             code,
		TechnicalMessage: technical,
		UserMessage:      user,
		Fixes:            fixes,
		Severity:         severity,
		Timestamp:        time.Now(),
	}
}

// As reports whether err is a *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}

// IsCode reports whether err is a *Error with the given code.
func IsCode(err error, code Code) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// Wrap implements the propagation rule (spec §4.2): an inner *Error is
// returned unchanged; anything else is wrapped as ProcessingError carrying
// step in context and the original error as cause.
func Wrap(err error, step string) error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	wrapped := newErr(CodeProcessingError, SeverityError,
		err.Error(),
		"An internal error occurred while processing your request",
		"Check the execution logs for details", "Retry the request")
	wrapped.Cause = err
	wrapped.WithContext("step", step)
	return wrapped
}

// Pipeline variants.

func NewPipelineNotFound(name string) *Error {
	return newErr(CodePipelineNotFound, SeverityError,
		fmt.Sprintf("pipeline %q not found", name),
		fmt.Sprintf("Pipeline %q does not exist", name),
		"Run `list` to see available pipelines",
		"Check the pipeline name for typos").WithContext("pipelineName", name)
}

func NewPipelineSpecMissing(name string) *Error {
	return newErr(CodePipelineSpecMissing, SeverityError,
		fmt.Sprintf("spec.yml missing for pipeline %q", name),
		fmt.Sprintf("Pipeline %q is missing its spec file", name),
		"Add a spec.yml to the pipeline directory").WithContext("pipelineName", name)
}

func NewProcessorMissing(name string) *Error {
	return newErr(CodeProcessorMissing, SeverityError,
		fmt.Sprintf("processor artifact missing for pipeline %q", name),
		fmt.Sprintf("Pipeline %q is missing its processor", name),
		"Add a processor artifact to the pipeline directory").WithContext("pipelineName", name)
}

func NewTemplateMissing(name, format string) *Error {
	return newErr(CodeTemplateMissing, SeverityError,
		fmt.Sprintf("no template resolves for pipeline %q format %q", name, format),
		fmt.Sprintf("No template found for format %q", format),
		"Add a templates/{format}.tmpl file").WithContext("pipelineName", name).WithContext("format", format)
}

func NewInvalidPipeline(name string, violations []string) *Error {
	return newErr(CodeInvalidPipeline, SeverityError,
		fmt.Sprintf("pipeline %q failed structural validation", name),
		fmt.Sprintf("Pipeline %q is invalid", name),
		"Fix the schema violations listed in errors").
		WithContext("pipelineName", name).
		WithContext("violations", violations)
}

// API/LLM variants.

func NewAPIKeyMissing(provider string) *Error {
	return newErr(CodeAPIKeyMissing, SeverityError,
		fmt.Sprintf("no API key configured for provider %q", provider),
		fmt.Sprintf("No API key configured for %s", provider),
		fmt.Sprintf("Set the %s environment variable", envVarForProvider(provider)),
		"Or add the key to $HOME/.dproc/secrets.json").WithContext("provider", provider)
}

func NewAPIKeyInvalid(provider string) *Error {
	return newErr(CodeAPIKeyInvalid, SeverityError,
		fmt.Sprintf("provider %q rejected the API key (401)", provider),
		fmt.Sprintf("The API key for %s was rejected", provider),
		"Verify the key is current and has not been revoked").WithContext("provider", provider)
}

func NewRateLimit(provider string, retryAfterSeconds int) *Error {
	e := newErr(CodeRateLimit, SeverityWarning,
		fmt.Sprintf("provider %q rate-limited the request (429)", provider),
		fmt.Sprintf("%s is rate-limiting requests", provider),
		"Wait and retry; the job will be redelivered automatically").WithContext("provider", provider)
	if retryAfterSeconds > 0 {
		e.WithContext("retryAfterSeconds", retryAfterSeconds)
	}
	return e
}

func NewQuotaExceeded(provider string) *Error {
	return newErr(CodeQuotaExceeded, SeverityError,
		fmt.Sprintf("provider %q quota exceeded (403)", provider),
		fmt.Sprintf("The quota for %s has been exceeded", provider),
		"Check your provider billing/usage dashboard").WithContext("provider", provider)
}

func NewAPITimeout(provider string, seconds int) *Error {
	return newErr(CodeAPITimeout, SeverityError,
		fmt.Sprintf("provider %q call exceeded %ds timeout", provider, seconds),
		fmt.Sprintf("The request to %s timed out", provider),
		"Retry; if this persists, the provider may be degraded").
		WithContext("provider", provider).WithContext("timeoutSeconds", seconds)
}

func NewAPIResponseError(provider string, statusCode int, cause error) *Error {
	e := newErr(CodeAPIResponseError, SeverityError,
		fmt.Sprintf("provider %q returned status %d", provider, statusCode),
		fmt.Sprintf("%s returned an unexpected error", provider),
		"Retry later; if this persists, contact support").
		WithContext("provider", provider).WithContext("statusCode", statusCode)
	e.Cause = cause
	return e
}

// Validation variants.

func NewValidationError(field, issue string) *Error {
	return newErr(CodeValidationError, SeverityError,
		fmt.Sprintf("field %q: %s", field, issue),
		issue,
		"Correct the listed field and resubmit").WithContext("field", field)
}

func NewInputRequired(label string) *Error {
	return newErr(CodeInputRequired, SeverityError,
		fmt.Sprintf("required input %q missing", label),
		fmt.Sprintf("%s is required", label),
		"Provide a value for this input").WithContext("field", label)
}

func NewInvalidInputType(field string, wantType, gotValue any) *Error {
	return newErr(CodeInvalidInputType, SeverityError,
		fmt.Sprintf("field %q expected %v, got %v", field, wantType, gotValue),
		fmt.Sprintf("%s has an invalid value", field),
		"Check the expected type for this input").
		WithContext("field", field).WithContext("expectedType", wantType)
}

func NewMultipleValidationErrors(issues []string) *Error {
	return newErr(CodeMultipleValidationErrors, SeverityError,
		fmt.Sprintf("%d validation issues", len(issues)),
		"Multiple inputs are invalid",
		"See errors for the full list").WithContext("issues", issues)
}

// Execution variants.

func NewExecutionTimeout(minutes int) *Error {
	return newErr(CodeExecutionTimeout, SeverityError,
		fmt.Sprintf("execution exceeded %dm timeout", minutes),
		"The execution took too long and was stopped",
		"Try a smaller input or a simpler pipeline").WithContext("timeoutMinutes", minutes)
}

func NewProcessingError(step string, cause error) *Error {
	e := newErr(CodeProcessingError, SeverityError,
		fmt.Sprintf("processing failed at step %q", step),
		"An internal error occurred while processing your request",
		"Check the execution logs for details").WithContext("step", step)
	e.Cause = cause
	return e
}

func NewOutputDirectoryError(path string, cause error) *Error {
	e := newErr(CodeOutputDirectoryErr, SeverityError,
		fmt.Sprintf("output directory %q is not usable: %v", path, cause),
		"The output directory is not writable",
		"Check permissions on the configured workspace directory").WithContext("path", path)
	e.Cause = cause
	return e
}

func NewTemplateRenderError(template string, cause error) *Error {
	e := newErr(CodeTemplateRenderErr, SeverityError,
		fmt.Sprintf("template %q failed to render: %v", template, cause),
		"Report rendering failed",
		"Check the template for syntax errors").WithContext("template", template)
	e.Cause = cause
	return e
}

func NewWorkerUnavailable() *Error {
	return newErr(CodeWorkerUnavailable, SeverityWarning,
		"no worker available to claim job",
		"The system is at capacity; your job remains queued",
		"Wait for a worker to become free")
}

// Store variants.

func NewDuplicateID(id string) *Error {
	return newErr(CodeDuplicateID, SeverityError,
		fmt.Sprintf("id or jobId collision on %q", id),
		"A record with this identifier already exists",
		"This is usually transient; retry the request").WithContext("id", id)
}

func NewNotFound(id string) *Error {
	return newErr(CodeNotFound, SeverityError,
		fmt.Sprintf("no execution record with id %q", id),
		"Execution not found",
		"Check the execution id").WithContext("id", id)
}

func NewIllegalTransition(from, to string) *Error {
	return newErr(CodeIllegalTransition, SeverityError,
		fmt.Sprintf("illegal transition %s -> %s", from, to),
		"The execution is not in a state that allows this operation",
		"Refresh the execution status before retrying").
		WithContext("from", from).WithContext("to", to)
}

func envVarForProvider(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	default:
		return "the provider's API key variable"
	}
}
