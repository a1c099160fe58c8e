// Package agents implements the planner, navigator, and validator. All
// three share one shape: build a prompt from state and history, call a chat
// model, and parse a strict structured output from the response.
package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"webpilot/pkg/llm"
	"webpilot/pkg/logger"
)

// ChatCaller is the slice of llm.Client the agents need. Tests substitute a
// scripted fake.
type ChatCaller interface {
	Chat(ctx context.Context, messages []llm.Message, params llm.Params) (*llm.ChatResponse, error)
	SupportsVision() bool
	Model() string
}

// parseRetries is how many times a malformed model response is retried
// before the step fails.
const parseRetries = 2

// LlmCallError wraps model-call and output-parse failures. Three
// consecutive occurrences fail the task.
type LlmCallError struct {
	Agent string
	Err   error
}

func (e *LlmCallError) Error() string {
	return fmt.Sprintf("%s model call failed: %v", e.Agent, e.Err)
}

func (e *LlmCallError) Unwrap() error { return e.Err }

// callAndParse sends messages to the model and decodes the first JSON
// object in the reply into out. Responses that fail to parse are retried
// with an appended correction message, up to the retry budget.
func callAndParse(ctx context.Context, agent string, model ChatCaller, messages []llm.Message, params llm.Params, out any) (raw string, err error) {
	log := logger.Named("agents")

	work := make([]llm.Message, len(messages))
	copy(work, messages)

	var lastErr error
	for attempt := 0; attempt <= parseRetries; attempt++ {
		if ctx.Err() != nil {
			return "", &LlmCallError{Agent: agent, Err: ctx.Err()}
		}

		resp, callErr := model.Chat(ctx, work, params)
		if callErr != nil {
			return "", &LlmCallError{Agent: agent, Err: callErr}
		}
		raw = resp.GetContent()

		block, parseErr := llm.ExtractJSONBlock(raw)
		if parseErr == nil {
			if jsonErr := json.Unmarshal([]byte(block), out); jsonErr == nil {
				return raw, nil
			} else {
				parseErr = jsonErr
			}
		}
		lastErr = parseErr
		log.Debug("output parse failed, retrying",
			zap.String("agent", agent),
			zap.Int("attempt", attempt),
			zap.Error(parseErr))

		work = append(work,
			llm.Message{Role: "assistant", Content: raw},
			llm.Message{Role: "user", Content: "Your previous response was not valid JSON matching the required schema. Respond again with only the JSON object."},
		)
	}

	return raw, &LlmCallError{Agent: agent, Err: fmt.Errorf("output parsing failed after %d attempts: %w", parseRetries+1, lastErr)}
}

// attachVision adds a screenshot to the last user message when the model
// supports images and vision is enabled.
func attachVision(messages []llm.Message, screenshot string, useVision bool, model ChatCaller) []llm.Message {
	if !useVision || screenshot == "" || !model.SupportsVision() {
		return messages
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			messages[i].Images = append(messages[i].Images, screenshot)
			break
		}
	}
	return messages
}
