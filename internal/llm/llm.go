package llm

import (
	"context"

	"github.com/dshills/fusionrag/pkg/types"
)

// Completion is a successful provider answer
type Completion struct {
	Text  string
	Usage types.Usage
	Model string
}

// Provider completes a prompt given rendered context text
type Provider interface {
	Complete(ctx context.Context, prompt, contextText string) (Completion, error)
}

// ProviderFunc adapts a function to Provider
type ProviderFunc func(ctx context.Context, prompt, contextText string) (Completion, error)

func (f ProviderFunc) Complete(ctx context.Context, prompt, contextText string) (Completion, error) {
	return f(ctx, prompt, contextText)
}
