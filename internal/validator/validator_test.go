package validator

import (
	"context"
	"errors"
	"testing"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/dperrors"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/models"
)

func testSpec() *models.PipelineSpec {
	return &models.PipelineSpec{
		Name:         "demo",
		OutputFormat: []string{"html", "mdx"},
		Inputs: []models.InputDefinition{
			{Name: "topic", Type: models.InputText, Required: true},
			{Name: "count", Type: models.InputNumber, Required: false, Default: 5.0},
			{Name: "verbose", Type: models.InputBoolean, Required: false},
			{Name: "tone", Type: models.InputSelect, Required: true, Options: []string{"formal", "casual"}},
		},
	}
}

func allowKey(ctx context.Context, provider string) (string, error) { return "test-key", nil }
func denyKey(ctx context.Context, provider string) (string, error) {
	return "", errors.New("no key configured")
}

func TestValidate_HappyPath(t *testing.T) {
	spec := testSpec()
	cfg := &models.LLMConfig{Provider: "openai"}
	raw := map[string]any{"topic": "AI", "count": "10", "verbose": "yes", "tone": "formal"}

	result := Validate(context.Background(), spec, cfg, raw, t.TempDir(), allowKey)
	if !result.Valid {
		t.Fatalf("expected valid, got errors: %+v", result.Errors)
	}
	if result.NormalizedInputs["count"].(float64) != 10 {
		t.Errorf("count = %v, want 10", result.NormalizedInputs["count"])
	}
	if result.NormalizedInputs["verbose"].(bool) != true {
		t.Errorf("verbose = %v, want true", result.NormalizedInputs["verbose"])
	}
}

func TestValidate_MissingRequiredInput(t *testing.T) {
	spec := testSpec()
	cfg := &models.LLMConfig{Provider: "openai"}
	raw := map[string]any{"tone": "formal"}

	result := Validate(context.Background(), spec, cfg, raw, t.TempDir(), allowKey)
	if result.Valid {
		t.Fatal("expected invalid due to missing required input")
	}

	err := ThrowIfInvalid("demo", t.TempDir(), result)
	if !dperrors.IsCode(err, dperrors.CodeValidationError) {
		t.Errorf("expected ValidationError for single issue, got %v", err)
	}
}

func TestValidate_InvalidNumberType(t *testing.T) {
	spec := testSpec()
	cfg := &models.LLMConfig{Provider: "openai"}
	raw := map[string]any{"topic": "AI", "count": "not-a-number", "tone": "formal"}

	result := Validate(context.Background(), spec, cfg, raw, t.TempDir(), allowKey)
	if result.Valid {
		t.Fatal("expected invalid due to bad number coercion")
	}
}

func TestValidate_SelectRejectsUnknownOption(t *testing.T) {
	spec := testSpec()
	cfg := &models.LLMConfig{Provider: "openai"}
	raw := map[string]any{"topic": "AI", "tone": "sarcastic"}

	result := Validate(context.Background(), spec, cfg, raw, t.TempDir(), allowKey)
	if result.Valid {
		t.Fatal("expected invalid due to unknown select option")
	}
}

func TestValidate_MissingAPIKey(t *testing.T) {
	spec := testSpec()
	cfg := &models.LLMConfig{Provider: "openai"}
	raw := map[string]any{"topic": "AI", "tone": "formal"}

	result := Validate(context.Background(), spec, cfg, raw, t.TempDir(), denyKey)
	if result.Valid {
		t.Fatal("expected invalid due to missing API key")
	}

	err := ThrowIfInvalid("demo", t.TempDir(), result)
	if !dperrors.IsCode(err, dperrors.CodeAPIKeyMissing) {
		t.Errorf("expected APIKeyMissing for single API-key issue, got %v", err)
	}
}

func TestValidate_MultipleIssuesSelectsMultipleValidationErrors(t *testing.T) {
	spec := testSpec()
	cfg := &models.LLMConfig{Provider: "openai"}
	raw := map[string]any{} // topic and tone both missing

	result := Validate(context.Background(), spec, cfg, raw, t.TempDir(), allowKey)
	if result.Valid {
		t.Fatal("expected invalid")
	}

	err := ThrowIfInvalid("demo", t.TempDir(), result)
	if !dperrors.IsCode(err, dperrors.CodeMultipleValidationErrors) {
		t.Errorf("expected MultipleValidationErrors, got %v", err)
	}
}

func TestValidate_DefaultFillsOptionalInput(t *testing.T) {
	spec := testSpec()
	cfg := &models.LLMConfig{Provider: "openai"}
	raw := map[string]any{"topic": "AI", "tone": "formal"}

	result := Validate(context.Background(), spec, cfg, raw, t.TempDir(), allowKey)
	if !result.Valid {
		t.Fatalf("expected valid, got errors: %+v", result.Errors)
	}
	if result.NormalizedInputs["count"] != 5.0 {
		t.Errorf("count default = %v, want 5.0", result.NormalizedInputs["count"])
	}
}
