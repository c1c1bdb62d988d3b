package invoker

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicChatInvoker is an enrichment invoker kind beyond the spec's named
// set, added because the rest of the corpus (goadesign-goa-ai,
// mwdz519-adk-go, firebase-genkit) leans on anthropic-sdk-go as heavily as
// openai-go; wiring it gives meta.yaml authors a second chat-model backend
// without inventing new spec surface.
type AnthropicChatInvoker struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicChatInvoker builds an AnthropicChatInvoker from meta.yaml's
// invoker config: api_key (required), model (default
// claude-3-5-sonnet-latest), max_tokens (default 1024).
func NewAnthropicChatInvoker(cfg Config) (Invoker, error) {
	apiKey := cfg.String("api_key", "")
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic invoker requires an 'api_key' config value")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicChatInvoker{
		client:    &client,
		model:     anthropic.Model(cfg.String("model", string(anthropic.ModelClaude3_5SonnetLatest))),
		maxTokens: int64(cfg.Int("max_tokens", 1024)),
	}, nil
}

// Invoke implements Invoker.
func (a *AnthropicChatInvoker) Invoke(ctx context.Context, content string) (string, error) {
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(content)),
		},
	})
	if err != nil {
		return "", Err("anthropic-chat", err)
	}
	if len(message.Content) == 0 {
		return "", nil
	}
	var out string
	for _, block := range message.Content {
		out += block.Text
	}
	return out, nil
}
