package processor

import (
	"context"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/interfaces"
)

// PassthroughProcessor copies normalized inputs into the attribute bundle
// unchanged. Useful for pipelines whose prompts only need the raw inputs
// and for exercising the executor in tests without a bespoke processor.
type PassthroughProcessor struct{}

func (PassthroughProcessor) Run(ctx context.Context, inputs map[string]any, pctx interfaces.ProcessorContext) (*interfaces.ProcessorResult, error) {
	attributes := make(map[string]any, len(inputs))
	for k, v := range inputs {
		attributes[k] = v
	}
	return &interfaces.ProcessorResult{
		Attributes: attributes,
		Metadata:   map[string]any{"processor": "passthrough"},
	}, nil
}
