package invoker

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIChatInvoker calls the Chat Completions API with the rendered
// content as the sole user message, returning the assistant's text.
// Satisfies spec §4.7's "OpenAI-chat" invoker kind.
type OpenAIChatInvoker struct {
	client *openai.Client
	model  string
	json   bool
}

// NewOpenAIChatInvoker builds an OpenAIChatInvoker from meta.yaml's invoker
// config: api_key, model (default gpt-4o).
func NewOpenAIChatInvoker(cfg Config) (Invoker, error) {
	return newOpenAIInvoker(cfg, false)
}

// NewOpenAIJSONInvoker builds the "OpenAI-JSON" variant, which asks for a
// JSON-object response via response_format, matching the original's
// distinction between a chat-style invoker and one that constrains output
// to machine-parseable JSON.
func NewOpenAIJSONInvoker(cfg Config) (Invoker, error) {
	return newOpenAIInvoker(cfg, true)
}

func newOpenAIInvoker(cfg Config, jsonMode bool) (Invoker, error) {
	apiKey := cfg.String("api_key", "")
	if apiKey == "" {
		return nil, fmt.Errorf("openai invoker requires an 'api_key' config value")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIChatInvoker{
		client: &client,
		model:  cfg.String("model", "gpt-4o"),
		json:   jsonMode,
	}, nil
}

// Invoke implements Invoker.
func (o *OpenAIChatInvoker) Invoke(ctx context.Context, content string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(content),
		},
	}
	if o.json {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		kind := "openai-chat"
		if o.json {
			kind = "openai-json"
		}
		return "", Err(kind, err)
	}
	if len(completion.Choices) == 0 {
		return "", nil
	}
	return completion.Choices[0].Message.Content, nil
}
