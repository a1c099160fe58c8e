package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/teilomillet/gollm"
)

// simpleGenerator is the slice of gollm the Client uses: one-shot plain-text
// generation for chat-only answers and extraction summaries.
type simpleGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// gollmGenerator adapts gollm.LLM to simpleGenerator.
type gollmGenerator struct {
	llm gollm.LLM
}

func (g *gollmGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.llm.Generate(ctx, gollm.NewPrompt(prompt))
}

// newGollmInstance creates a configured gollm-backed generator. gollm's
// validator rejects API keys that don't match standard provider formats,
// which is expected for third-party OpenAI-compatible endpoints; callers
// treat a nil generator as "direct HTTP only".
func newGollmInstance(baseURL, apiKey, model, providerName string) (simpleGenerator, error) {
	if apiKey == "" || model == "" {
		return nil, fmt.Errorf("gollm requires api key and model")
	}

	opts := []gollm.ConfigOption{
		gollm.SetProvider(providerName),
		gollm.SetModel(model),
		gollm.SetAPIKey(apiKey),
		gollm.SetLogLevel(gollm.LogLevelOff),
		gollm.SetMaxRetries(0), // retry is handled by the Client
	}
	if providerName == "ollama" && baseURL != "" {
		opts = append(opts, gollm.SetOllamaEndpoint(baseURL))
	}

	instance, err := gollm.NewLLM(opts...)
	if err != nil {
		return nil, fmt.Errorf("gollm init [%s/%s]: %w", providerName, model, err)
	}
	if baseURL != "" && providerName != "ollama" {
		instance.SetEndpoint(endpointURL(baseURL, providerName))
	}
	return &gollmGenerator{llm: instance}, nil
}

// backoffPermanent marks an error as non-retryable for the retry helpers.
func backoffPermanent(err error) error {
	return backoff.Permanent(err)
}

// ExtractJSONBlock returns the first JSON object in a model response,
// preferring fenced ```json blocks over bare braces. Agents use this to
// parse structured outputs that may be surrounded by prose.
func ExtractJSONBlock(response string) (string, error) {
	// Fenced block wins.
	for _, fence := range []string{"```json", "```JSON", "```"} {
		idx := strings.Index(response, fence)
		if idx < 0 {
			continue
		}
		rest := response[idx+len(fence):]
		end := strings.Index(rest, "```")
		if end < 0 {
			continue
		}
		candidate := strings.TrimSpace(rest[:end])
		if strings.HasPrefix(candidate, "{") {
			return candidate, nil
		}
	}

	// Fall back to the outermost brace pair.
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON object found in response")
	}
	return response[start : end+1], nil
}
