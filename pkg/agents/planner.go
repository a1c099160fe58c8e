package agents

import (
	"context"

	"webpilot/pkg/llm"
	"webpilot/pkg/prompts"
)

// PlannerOutput is the planner's structured response.
type PlannerOutput struct {
	Observation string `json:"observation"`
	Challenges  string `json:"challenges,omitempty"`
	Done        bool   `json:"done"`
	NextSteps   string `json:"next_steps"`
	Reasoning   string `json:"reasoning"`
	WebTask     bool   `json:"web_task"`
}

// Planner decomposes the goal into steps every planning interval. When the
// goal needs no browser at all it short-circuits with web_task=false.
type Planner struct {
	model     ChatCaller
	params    llm.Params
	useVision bool
}

// NewPlanner creates a planner on the given model.
func NewPlanner(model ChatCaller, params llm.Params, useVision bool) *Planner {
	return &Planner{model: model, params: params, useVision: useVision}
}

// PlanInput is the state the planner reasons over.
type PlanInput struct {
	Task       string
	Recent     []llm.Message // recent conversation, oldest first
	URL        string
	Title      string
	Screenshot string
}

// Plan produces the next plan. The raw model text is returned alongside for
// the thinking-step stream.
func (p *Planner) Plan(ctx context.Context, in PlanInput) (*PlannerOutput, string, error) {
	messages := []llm.Message{
		{Role: "system", Content: prompts.PlannerSystemPrompt},
	}
	messages = append(messages, in.Recent...)
	messages = append(messages, llm.Message{
		Role: "user",
		Content: prompts.UserTaskMessage(in.Task) +
			"\n\nCurrent url: " + in.URL +
			"\nCurrent title: " + in.Title,
	})
	messages = attachVision(messages, in.Screenshot, p.useVision, p.model)

	var out PlannerOutput
	raw, err := callAndParse(ctx, "planner", p.model, messages, p.params, &out)
	if err != nil {
		return nil, raw, err
	}
	return &out, raw, nil
}
