// Provider-specific logic: endpoints, headers, request/response formats.
// The Client in client.go works in a canonical OpenAI-shaped representation;
// this file translates it for each provider.
package llm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ---------------------------------------------------------------------------
// Provider detection
// ---------------------------------------------------------------------------

// mapProviderName maps an explicit or detected provider to its canonical
// name. An empty providerName triggers detection from the model name and
// base URL.
func mapProviderName(providerName, model, baseURL string) string {
	if providerName != "" {
		return strings.ToLower(providerName)
	}
	if strings.Contains(baseURL, ":11434") {
		return "ollama"
	}
	lowerModel := strings.ToLower(model)
	if strings.HasPrefix(lowerModel, "claude") {
		return "anthropic"
	}
	if strings.HasPrefix(lowerModel, "gpt") || strings.HasPrefix(lowerModel, "o1") || strings.HasPrefix(lowerModel, "o3") {
		return "openai"
	}
	return "openai"
}

// endpointURL returns the chat-completion endpoint for a provider.
func endpointURL(baseURL, providerName string) string {
	baseURL = strings.TrimRight(baseURL, "/")
	switch providerName {
	case "anthropic":
		if baseURL == "" {
			return "https://api.anthropic.com/v1/messages"
		}
		return baseURL + "/messages"
	case "ollama":
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		return baseURL + "/chat/completions"
	default:
		if baseURL == "" {
			return "https://api.openai.com/v1/chat/completions"
		}
		return baseURL + "/chat/completions"
	}
}

// setProviderHeaders sets provider-specific auth headers.
func setProviderHeaders(req *http.Request, providerName, apiKey string) {
	req.Header.Set("Content-Type", "application/json")
	switch providerName {
	case "anthropic":
		if apiKey != "" {
			req.Header.Set("x-api-key", apiKey)
		}
		req.Header.Set("anthropic-version", "2023-06-01")
	default:
		if apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}
	}
}

// ---------------------------------------------------------------------------
// OpenAI-compatible request body
// ---------------------------------------------------------------------------

type openAIRequest struct {
	Model       string           `json:"model"`
	Messages    []any            `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	TopP        *float64         `json:"top_p,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
}

func buildOpenAIBody(model string, messages []Message, tools []ToolDefinition, params Params) ([]byte, error) {
	req := openAIRequest{
		Model:       model,
		Tools:       tools,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		MaxTokens:   params.MaxTokens,
	}
	for _, m := range messages {
		if len(m.Images) == 0 {
			req.Messages = append(req.Messages, map[string]any{
				"role":    m.Role,
				"content": m.Content,
			})
			continue
		}
		parts := []any{map[string]any{"type": "text", "text": m.Content}}
		for _, img := range m.Images {
			parts = append(parts, map[string]any{
				"type": "image_url",
				"image_url": map[string]any{
					"url": "data:image/jpeg;base64," + img,
				},
			})
		}
		req.Messages = append(req.Messages, map[string]any{
			"role":    m.Role,
			"content": parts,
		})
	}
	return json.Marshal(req)
}

func parseOpenAIResponse(body []byte) (*ChatResponse, error) {
	var resp ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Anthropic request body
// ---------------------------------------------------------------------------

type anthropicRequest struct {
	Model       string          `json:"model"`
	System      string          `json:"system,omitempty"`
	Messages    []any           `json:"messages"`
	Tools       []anthropicTool `json:"tools,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
}

type anthropicTool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"input_schema"`
}

const defaultAnthropicMaxTokens = 4096

func buildAnthropicBody(model string, messages []Message, tools []ToolDefinition, params Params) ([]byte, error) {
	req := anthropicRequest{
		Model:       model,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		MaxTokens:   defaultAnthropicMaxTokens,
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, anthropicTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}
	for _, m := range messages {
		// Anthropic takes the system prompt as a top-level field.
		if m.Role == "system" {
			if req.System != "" {
				req.System += "\n\n"
			}
			req.System += m.Content
			continue
		}
		if len(m.Images) == 0 {
			req.Messages = append(req.Messages, map[string]any{
				"role":    m.Role,
				"content": m.Content,
			})
			continue
		}
		blocks := []any{map[string]any{"type": "text", "text": m.Content}}
		for _, img := range m.Images {
			blocks = append(blocks, map[string]any{
				"type": "image",
				"source": map[string]any{
					"type":       "base64",
					"media_type": "image/jpeg",
					"data":       img,
				},
			})
		}
		req.Messages = append(req.Messages, map[string]any{
			"role":    m.Role,
			"content": blocks,
		})
	}
	return json.Marshal(req)
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func parseAnthropicResponse(body []byte) (*ChatResponse, error) {
	var ar anthropicResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	var content strings.Builder
	for _, block := range ar.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	return &ChatResponse{
		ID:    ar.ID,
		Model: ar.Model,
		Choices: []Choice{{
			Message:      Message{Role: "assistant", Content: content.String()},
			FinishReason: ar.StopReason,
		}},
		Usage: Usage{
			PromptTokens:     ar.Usage.InputTokens,
			CompletionTokens: ar.Usage.OutputTokens,
			TotalTokens:      ar.Usage.InputTokens + ar.Usage.OutputTokens,
		},
	}, nil
}

// ---------------------------------------------------------------------------
// Error classification
// ---------------------------------------------------------------------------

// parseAPIError extracts a clean error message from an API error body.
func parseAPIError(statusCode int, body []byte) error {
	var errBody struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &errBody) == nil {
		if errBody.Error.Message != "" {
			msg := clip(errBody.Error.Message, 300)
			if errBody.Error.Type != "" {
				return fmt.Errorf("API error %d [%s]: %s", statusCode, errBody.Error.Type, msg)
			}
			return fmt.Errorf("API error %d: %s", statusCode, msg)
		}
		if errBody.Message != "" {
			return fmt.Errorf("API error %d: %s", statusCode, clip(errBody.Message, 300))
		}
	}
	return fmt.Errorf("API error %d: %s", statusCode, clip(strings.TrimSpace(string(body)), 300))
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// IsContextLengthError returns true if the error is a context-length error.
func IsContextLengthError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "context_length_exceeded") ||
		strings.Contains(s, "context window") ||
		strings.Contains(s, "prompt is too long") ||
		strings.Contains(s, "maximum context length")
}

// IsRateLimitError returns true if the error is a rate-limit (429) error.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "429") ||
		strings.Contains(s, "rate_limit") ||
		strings.Contains(s, "too many requests")
}
