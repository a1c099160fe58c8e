package agents

import (
	"context"
	"fmt"

	"webpilot/pkg/actions"
	"webpilot/pkg/llm"
	"webpilot/pkg/prompts"
)

// NavigatorState is the navigator's self-assessment carried between steps.
type NavigatorState struct {
	EvaluationPreviousGoal string `json:"evaluation_previous_goal"`
	Memory                 string `json:"memory"`
	NextGoal               string `json:"next_goal"`
}

// NavigatorOutput is the navigator's structured response: an assessment
// plus an ordered action sequence.
type NavigatorOutput struct {
	CurrentState NavigatorState `json:"current_state"`
	Action       []actions.Call `json:"action"`
}

// Navigator turns a page snapshot and plan into validated action calls.
type Navigator struct {
	model             ChatCaller
	params            llm.Params
	registry          *actions.Registry
	maxActionsPerStep int
	useVision         bool
}

// NewNavigator creates a navigator bound to an action registry.
func NewNavigator(model ChatCaller, params llm.Params, registry *actions.Registry, maxActionsPerStep int, useVision bool) *Navigator {
	if maxActionsPerStep <= 0 {
		maxActionsPerStep = 1
	}
	return &Navigator{
		model:             model,
		params:            params,
		registry:          registry,
		maxActionsPerStep: maxActionsPerStep,
		useVision:         useVision,
	}
}

// NavigateInput is the state the navigator acts on.
type NavigateInput struct {
	Task         string
	Plan         string // latest planner next_steps, may be empty
	StateMessage string // serialized page snapshot
	Screenshot   string
	History      []llm.Message // rolling message log
	LastResults  []string      // previous step's action outcomes
}

// NextActions asks the model for the next action sequence. Every returned
// call conforms to the registry schemas; a response with schema violations
// counts as a parse failure and is retried within the step's retry budget.
func (n *Navigator) NextActions(ctx context.Context, in NavigateInput) (*NavigatorOutput, string, error) {
	system := prompts.NavigatorSystemPrompt(n.registry.PromptDescription(), n.maxActionsPerStep)

	messages := []llm.Message{{Role: "system", Content: system}}
	messages = append(messages, in.History...)

	userContent := prompts.UserTaskMessage(in.Task)
	if in.Plan != "" {
		userContent += "\n\nCurrent plan: " + in.Plan
	}
	userContent += "\n\n" + prompts.ActionResultsMessage(in.LastResults)
	userContent += "\n\n" + in.StateMessage
	messages = append(messages, llm.Message{Role: "user", Content: userContent})
	messages = attachVision(messages, in.Screenshot, n.useVision, n.model)

	var lastErr error
	for attempt := 0; attempt <= parseRetries; attempt++ {
		var out NavigatorOutput
		raw, err := callAndParse(ctx, "navigator", n.model, messages, n.params, &out)
		if err != nil {
			return nil, raw, err
		}

		if err := n.checkOutput(&out); err != nil {
			lastErr = err
			messages = append(messages,
				llm.Message{Role: "assistant", Content: raw},
				llm.Message{Role: "user", Content: fmt.Sprintf("Invalid action in your response: %v. Respond again with only valid actions.", err)},
			)
			continue
		}
		return &out, raw, nil
	}
	return nil, "", &LlmCallError{Agent: "navigator", Err: lastErr}
}

// checkOutput enforces the action budget and registry schemas.
func (n *Navigator) checkOutput(out *NavigatorOutput) error {
	if len(out.Action) == 0 {
		return fmt.Errorf("response contains no actions")
	}
	if len(out.Action) > n.maxActionsPerStep {
		out.Action = out.Action[:n.maxActionsPerStep]
	}
	for _, call := range out.Action {
		if err := n.registry.Validate(call); err != nil {
			return err
		}
	}
	return nil
}
