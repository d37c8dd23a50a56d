// Package llm implements the provider-agnostic extraction call: prompt
// construction, JSON coercion, per-provider circuit breaking, and
// OpenRouter-style key/model rotation.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/fetchframe/webextract-api/internal/constants"
)

// ExtractInput is the provider-agnostic extract() contract's input.
type ExtractInput struct {
	Provider     string // "anthropic" | "openai" | "openrouter"
	Model        string
	APIKey       string
	BaseURL      string
	Content      string
	Fields       []string
	Schema       interface{}
	Instructions string

	// FallbackModels and FallbackKeys, when set (OpenRouter-style backends
	// only), are tried in order after Model/APIKey; the adapter rotates
	// through (model, key) combinations, treating any provider-call failure
	// as "try next"; a reply that does not parse ends the rotation.
	FallbackModels []string
	FallbackKeys   []string
}

// ExtractOutput is the provider-agnostic extract() contract's output.
type ExtractOutput struct {
	Data  map[string]interface{}
	Usage Usage
	Raw   string
}

// Adapter issues extract() calls against a configured provider, with one
// circuit breaker per provider name.
type Adapter struct {
	breakers *breakerRegistry
}

// NewAdapter builds an Adapter. failureThreshold == 0 and resetTimeout <= 0
// fall back to the contract defaults (5 consecutive failures, 60s reset).
func NewAdapter(failureThreshold uint32, resetTimeout time.Duration) *Adapter {
	return &Adapter{breakers: newBreakerRegistry(failureThreshold, resetTimeout)}
}

type extractResult struct {
	raw   string
	usage Usage
}

// Extract calls in.Provider with temperature 0 and a JSON-object response
// mode where supported, rotating through (model, key) combinations when
// fallbacks are configured, and returns the parsed JSON, token usage, and
// raw reply. An error with a non-nil, empty Data means a call succeeded but
// its reply did not parse as JSON, and no further attempt is made; an error
// with nil Data means every attempt failed.
func (a *Adapter) Extract(ctx context.Context, in ExtractInput) (ExtractOutput, error) {
	systemPrompt := BuildSystemPrompt(in.Fields, in.Schema, in.Instructions)
	userMessage := BuildUserMessage(in.Content, in.Fields, in.Schema)

	var lastErr error
	for i, attempt := range rotation(in) {
		if i > 0 {
			// Let the previous (model, key) combination's rate limit start
			// recovering before the next attempt.
			select {
			case <-ctx.Done():
				return ExtractOutput{}, ctx.Err()
			case <-time.After(constants.ProviderFallbackDelay):
			}
		}
		client := clientFor(in.Provider, attempt.apiKey, in.BaseURL)

		result, err := a.breakers.execute(in.Provider, func() (interface{}, error) {
			raw, usage, callErr := client.call(ctx, attempt.model, systemPrompt, userMessage)
			if callErr != nil {
				return nil, callErr
			}
			return extractResult{raw: raw, usage: usage}, nil
		})
		if err != nil {
			lastErr = err
			continue
		}

		er := result.(extractResult)
		data, parseErr := ParseJSON(er.raw)
		if parseErr != nil {
			return ExtractOutput{Data: data, Usage: er.usage, Raw: er.raw}, parseErr
		}
		return ExtractOutput{Data: data, Usage: er.usage, Raw: er.raw}, nil
	}
	return ExtractOutput{}, fmt.Errorf("llm: all provider attempts failed: %w", lastErr)
}

func clientFor(provider, apiKey, baseURL string) providerClient {
	switch provider {
	case "anthropic":
		return &anthropicClient{apiKey: apiKey, baseURL: baseURL}
	default: // "openai", "openrouter", and any OpenAI-compatible backend
		return &openAIClient{apiKey: apiKey, baseURL: baseURL}
	}
}
