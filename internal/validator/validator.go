// Package validator implements the C3 pre-execution validation and input
// normalization contract: given a pipeline spec, its LLM config, a raw
// inputs map, and an output directory, it produces normalized inputs or
// the single most specific taxonomy error.
package validator

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/dperrors"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/models"
)

// Issue is one validation problem, field-scoped and severity-tagged.
type Issue struct {
	Field    string
	Issue    string
	Severity string
}

// Result is what Validate returns: the overall verdict, every issue found,
// and (when Valid) the coerced/defaulted inputs ready for the executor.
type Result struct {
	Valid            bool
	Errors           []Issue
	NormalizedInputs map[string]any
}

// APIKeyResolver resolves a provider's API key, mirroring
// common.ResolveAPIKey's signature without importing internal/common (kept
// decoupled so tests can stub it).
type APIKeyResolver func(ctx context.Context, provider string) (string, error)

// Validate runs the checks in spec.md §4.3 and returns a Result. It never
// returns a non-nil error itself; throwIfInvalid-style selection of the
// most specific taxonomy variant happens in ThrowIfInvalid.
func Validate(ctx context.Context, spec *models.PipelineSpec, cfg *models.LLMConfig, rawInputs map[string]any, outputDir string, resolveKey APIKeyResolver) *Result {
	var issues []Issue
	normalized := make(map[string]any, len(rawInputs))

	// Check 5: spec.pipeline.name non-empty and outputs non-empty.
	if strings.TrimSpace(spec.Name) == "" {
		issues = append(issues, Issue{Field: "spec.name", Issue: "pipeline name must not be empty", Severity: "error"})
	}
	if len(spec.OutputFormat) == 0 {
		issues = append(issues, Issue{Field: "spec.outputFormat", Issue: "pipeline must declare at least one output format", Severity: "error"})
	}

	// Checks 1-2: presence and type, per declared input.
	for _, def := range spec.Inputs {
		raw, present := rawInputs[def.Name]
		if !present || raw == nil || raw == "" {
			if def.Required {
				issues = append(issues, Issue{Field: def.Name, Issue: "required input is missing", Severity: "error"})
				continue
			}
			if def.Default != nil {
				normalized[def.Name] = def.Default
			}
			continue
		}

		coerced, err := coerce(def, raw)
		if err != nil {
			issues = append(issues, Issue{Field: def.Name, Issue: err.Error(), Severity: "error"})
			continue
		}
		normalized[def.Name] = coerced
	}

	// Check 3: LLM provider has a configured API key.
	if cfg != nil && cfg.Provider != "" && resolveKey != nil {
		if _, err := resolveKey(ctx, cfg.Provider); err != nil {
			issues = append(issues, Issue{Field: "llm.provider", Issue: "no API key configured for " + cfg.Provider, Severity: "error"})
		}
	}

	// Check 4: output directory exists and is writable.
	if outputDirIssue := checkOutputDir(outputDir); outputDirIssue != "" {
		issues = append(issues, Issue{Field: "outputDir", Issue: outputDirIssue, Severity: "error"})
	}

	return &Result{
		Valid:            len(issues) == 0,
		Errors:           issues,
		NormalizedInputs: normalized,
	}
}

// coerce normalizes a single raw value per def.Type (spec.md §4.3).
func coerce(def models.InputDefinition, raw any) (any, error) {
	switch def.Type {
	case models.InputNumber:
		switch v := raw.(type) {
		case float64, int, int64:
			return v, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil || strings.TrimSpace(v) == "" {
				return nil, errInvalidType(def.Name, "number", raw)
			}
			return f, nil
		default:
			return nil, errInvalidType(def.Name, "number", raw)
		}

	case models.InputBoolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "1", "yes":
				return true, nil
			case "false", "0", "no":
				return false, nil
			}
		}
		return nil, errInvalidType(def.Name, "boolean", raw)

	case models.InputSelect:
		s, ok := asString(raw)
		if !ok {
			return nil, errInvalidType(def.Name, "select", raw)
		}
		for _, opt := range def.Options {
			if opt == s {
				return s, nil
			}
		}
		return nil, errInvalidType(def.Name, "one of "+strings.Join(def.Options, ", "), raw)

	case models.InputText, models.InputFile, models.InputArray, "":
		if s, ok := asString(raw); ok {
			return s, nil
		}
		return raw, nil

	default:
		return raw, nil
	}
}

func asString(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	default:
		return "", false
	}
}

func errInvalidType(field, wantType string, got any) error {
	return dperrors.NewInvalidInputType(field, wantType, got)
}

// checkOutputDir reports a human-readable problem, or "" if the directory
// exists (or can be created) and is writable.
func checkOutputDir(dir string) string {
	if dir == "" {
		return "output directory is not configured"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "output directory is not writable: " + err.Error()
	}
	probe := dir + "/.write-probe"
	f, err := os.Create(probe)
	if err != nil {
		return "output directory is not writable: " + err.Error()
	}
	f.Close()
	os.Remove(probe)
	return ""
}

// ThrowIfInvalid selects the most specific taxonomy variant for a
// non-valid Result, per spec.md §4.3's `throwIfInvalid()`.
func ThrowIfInvalid(pipelineName, outputDir string, result *Result) error {
	if result.Valid {
		return nil
	}

	apiKeyIssues := filterField(result.Errors, "llm.provider")
	if len(apiKeyIssues) == 1 && len(result.Errors) == 1 {
		return dperrors.NewAPIKeyMissing(providerFromIssue(apiKeyIssues[0]))
	}

	outputDirIssues := filterField(result.Errors, "outputDir")
	if len(outputDirIssues) == 1 && len(result.Errors) == 1 {
		return dperrors.NewOutputDirectoryError(outputDir, errors.New(outputDirIssues[0].Issue))
	}

	if len(result.Errors) == 1 {
		issue := result.Errors[0]
		return dperrors.NewValidationError(issue.Field, issue.Issue)
	}
	if len(result.Errors) > 1 {
		var messages []string
		for _, issue := range result.Errors {
			messages = append(messages, issue.Field+": "+issue.Issue)
		}
		return dperrors.NewMultipleValidationErrors(messages)
	}
	return dperrors.NewInvalidPipeline(pipelineName, nil)
}

func filterField(issues []Issue, field string) []Issue {
	var out []Issue
	for _, i := range issues {
		if i.Field == field {
			out = append(out, i)
		}
	}
	return out
}

// providerFromIssue extracts the provider name trailing "no API key
// configured for ".
func providerFromIssue(issue Issue) string {
	const prefix = "no API key configured for "
	if strings.HasPrefix(issue.Issue, prefix) {
		return strings.TrimPrefix(issue.Issue, prefix)
	}
	return "unknown"
}
