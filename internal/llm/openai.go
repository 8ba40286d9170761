package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dshills/fusionrag/pkg/types"
)

// OpenAIConfig configures an OpenAI-compatible chat completion endpoint
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string // empty uses api.openai.com
	Model        string
	MaxTokens    int
	Temperature  float32
	SystemPrompt string
	Timeout      time.Duration // per request; zero keeps the client default
}

// OpenAIProvider implements Provider with the chat completions API
type OpenAIProvider struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// DefaultSystemPrompt frames every request
const DefaultSystemPrompt = "You answer questions using only the sources provided below. " +
	"Every claim taken from a source must carry its [n] marker."

// NewOpenAIProvider creates a provider
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, NewFatalError("missing api key", errors.New("llm api key not configured"))
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}, nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, prompt, contextText string) (Completion, error) {
	req := openai.ChatCompletionRequest{
		Model:       p.cfg.Model,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.cfg.SystemPrompt + "\n\n" + contextText},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Completion{}, classifyOpenAI(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, NewFatalError("empty response", errors.New("no choices returned"))
	}

	return Completion{
		Text:  strings.TrimSpace(resp.Choices[0].Message.Content),
		Model: resp.Model,
		Usage: types.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// classifyOpenAI converts go-openai errors into the rate-limit/fatal taxonomy.
// Context cancellation is returned unchanged.
func classifyOpenAI(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return ClassifyStatus(apiErr.HTTPStatusCode, apiCode(apiErr), err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return ClassifyStatus(reqErr.HTTPStatusCode, "", err)
	}
	// A request timeout with the caller's context still live means the
	// upstream is slow, which a smaller request may fix.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRateLimitError(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewRateLimitError(err)
	}
	return NewFatalError("transport", err)
}

func apiCode(e *openai.APIError) string {
	code := e.Type
	if e.Code != nil {
		code += " " + fmt.Sprint(e.Code)
	}
	return code
}
