package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
)

// Usage reports token consumption for one call. TotalTokens is the
// provider's reported total when available, else InputTokens+OutputTokens.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// providerClient issues one chat-style completion call against a concrete
// backend and returns its raw text reply.
type providerClient interface {
	call(ctx context.Context, model, systemPrompt, userMessage string) (raw string, usage Usage, err error)
}

// anthropicClient wraps the Messages API.
type anthropicClient struct {
	apiKey  string
	baseURL string
}

func (c *anthropicClient) call(ctx context.Context, model, systemPrompt, userMessage string) (string, Usage, error) {
	opts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(c.apiKey)}
	if c.baseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(c.baseURL))
	}
	client := anthropic.NewClient(opts...)

	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   4096,
		Temperature: anthropic.Float(0),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage)),
		},
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("anthropic: %w", err)
	}

	var raw strings.Builder
	for _, block := range msg.Content {
		if text := block.Text; text != "" {
			raw.WriteString(text)
		}
	}

	usage := Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	return raw.String(), usage, nil
}

// openAIClient wraps the Chat Completions API. It serves both the "openai"
// provider and any OpenAI-compatible backend (OpenRouter) selected via
// baseURL.
type openAIClient struct {
	apiKey  string
	baseURL string
}

func (c *openAIClient) call(ctx context.Context, model, systemPrompt, userMessage string) (string, Usage, error) {
	opts := []openaioption.RequestOption{openaioption.WithAPIKey(c.apiKey)}
	if c.baseURL != "" {
		opts = append(opts, openaioption.WithBaseURL(c.baseURL))
	}
	client := openai.NewClient(opts...)

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userMessage),
		},
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("openai: empty response")
	}

	usage := Usage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	return resp.Choices[0].Message.Content, usage, nil
}
