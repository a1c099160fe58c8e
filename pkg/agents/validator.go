package agents

import (
	"context"

	"webpilot/pkg/llm"
	"webpilot/pkg/prompts"
)

// ValidatorOutput is the validator's verdict on a step's outcome.
type ValidatorOutput struct {
	IsValid bool   `json:"is_valid"`
	Reason  string `json:"reason"`
	Answer  string `json:"answer,omitempty"`
}

// Validator judges whether the post-step state satisfies the originating
// goal. A negative verdict is a soft failure: it blocks done but does not
// consume a retry.
type Validator struct {
	model  ChatCaller
	params llm.Params
}

// NewValidator creates a validator on the given model.
func NewValidator(model ChatCaller, params llm.Params) *Validator {
	return &Validator{model: model, params: params}
}

// Validate judges the outcome. The raw model text is returned for the
// thinking-step stream.
func (v *Validator) Validate(ctx context.Context, task, stateMessage string) (*ValidatorOutput, string, error) {
	messages := []llm.Message{
		{Role: "system", Content: prompts.ValidatorSystemPrompt},
		{Role: "user", Content: prompts.UserTaskMessage(task) + "\n\nState after the step:\n" + stateMessage},
	}

	var out ValidatorOutput
	raw, err := callAndParse(ctx, "validator", v.model, messages, v.params, &out)
	if err != nil {
		return nil, raw, err
	}
	return &out, raw, nil
}
