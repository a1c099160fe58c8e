// Package llm provides multi-provider chat-model client support. The Client
// works with canonical message/response types; provider-specific wire
// formats live in provider.go.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"webpilot/pkg/logger"
	"webpilot/pkg/utils"
)

// defaultRequestTimeout bounds one chat completion round-trip.
const defaultRequestTimeout = 120 * time.Second

// Client handles communication with one chat-model provider. Each agent
// (planner, navigator, validator) holds its own Client instance.
type Client struct {
	baseURL        string
	apiKey         string
	model          string
	providerName   string
	visionCapable  bool
	requestTimeout time.Duration
	httpClient     *http.Client
	gollmLLM       simpleGenerator // optional fast path for plain-text queries
}

// NewClient creates a client with auto-detected provider.
func NewClient(baseURL, apiKey, model string) *Client {
	return NewClientWithProvider(baseURL, apiKey, model, "")
}

// NewClientWithProvider creates a client with an explicit provider name. An
// empty providerName triggers detection from the model name and base URL.
func NewClientWithProvider(baseURL, apiKey, model, providerName string) *Client {
	mapped := mapProviderName(providerName, model, baseURL)

	// A gollm instance serves simple one-shot text generations. Non-critical:
	// if construction fails we route everything through direct HTTP.
	g, err := newGollmInstance(baseURL, apiKey, model, mapped)
	if err != nil {
		logger.Debugf("gollm unavailable for %s/%s: %v", mapped, model, err)
	}

	return &Client{
		baseURL:        baseURL,
		apiKey:         apiKey,
		model:          model,
		providerName:   mapped,
		visionCapable:  modelSupportsVision(model),
		requestTimeout: defaultRequestTimeout,
		gollmLLM:       g,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:          10,
				IdleConnTimeout:       60 * time.Second,
				TLSHandshakeTimeout:   15 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
	}
}

// ProviderName returns the canonical provider name.
func (c *Client) ProviderName() string { return c.providerName }

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// SupportsVision reports whether screenshots may be attached to messages.
func (c *Client) SupportsVision() bool { return c.visionCapable }

// SetRequestTimeout overrides the per-request timeout.
func (c *Client) SetRequestTimeout(d time.Duration) {
	if d > 0 {
		c.requestTimeout = d
	}
}

// Chat sends a chat completion request and returns the canonical response.
// Transient failures (429, 5xx, network) are retried with backoff; the call
// stops as soon as ctx is cancelled.
func (c *Client) Chat(ctx context.Context, messages []Message, params Params) (*ChatResponse, error) {
	return c.ChatWithTools(ctx, messages, nil, params)
}

// ChatWithTools sends a chat completion request with tool definitions.
func (c *Client) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDefinition, params Params) (*ChatResponse, error) {
	rateLimiter := utils.GetRateLimiter(c.providerName)
	if err := rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	body, err := c.buildBody(messages, tools, params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var chatResp *ChatResponse
	operation := func() error {
		req, reqErr := http.NewRequestWithContext(reqCtx, http.MethodPost, endpointURL(c.baseURL, c.providerName), bytes.NewReader(body))
		if reqErr != nil {
			return backoffPermanent(fmt.Errorf("failed to create request: %w", reqErr))
		}
		setProviderHeaders(req, c.providerName, c.apiKey)

		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			return fmt.Errorf("failed to send request: %w", doErr)
		}
		defer resp.Body.Close()

		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("failed to read response: %w", readErr)
		}

		if resp.StatusCode != http.StatusOK {
			apiErr := parseAPIError(resp.StatusCode, respBody)
			if utils.IsRetryableError(resp.StatusCode) {
				return apiErr
			}
			return backoffPermanent(apiErr)
		}

		parsed, parseErr := c.parseBody(respBody)
		if parseErr != nil {
			return backoffPermanent(parseErr)
		}
		chatResp = parsed
		return nil
	}

	if err := utils.ExecuteWithRetryContext(reqCtx, operation, utils.DefaultRetryConfig()); err != nil {
		return nil, err
	}
	return chatResp, nil
}

// SimpleQuery sends a single user prompt and returns the text answer. Routes
// through gollm when available, falling back to direct HTTP.
func (c *Client) SimpleQuery(ctx context.Context, prompt string) (string, error) {
	if c.gollmLLM != nil {
		if out, err := c.gollmLLM.Generate(ctx, prompt); err == nil {
			return out, nil
		}
		// Fall through to direct HTTP on any gollm failure.
	}

	resp, err := c.Chat(ctx, []Message{{Role: "user", Content: prompt}}, Params{})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) buildBody(messages []Message, tools []ToolDefinition, params Params) ([]byte, error) {
	if c.providerName == "anthropic" {
		return buildAnthropicBody(c.model, messages, tools, params)
	}
	return buildOpenAIBody(c.model, messages, tools, params)
}

func (c *Client) parseBody(body []byte) (*ChatResponse, error) {
	if c.providerName == "anthropic" {
		return parseAnthropicResponse(body)
	}
	return parseOpenAIResponse(body)
}

// modelSupportsVision is a conservative allowlist of vision-capable model
// families.
func modelSupportsVision(model string) bool {
	for _, prefix := range []string{"gpt-4o", "gpt-4.1", "gpt-5", "claude-3", "claude-sonnet", "claude-opus", "claude-haiku", "gemini"} {
		if len(model) >= len(prefix) && model[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
