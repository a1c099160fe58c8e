package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webpilot/pkg/actions"
	"webpilot/pkg/llm"
)

// scriptedModel returns canned responses in order; repeats the last one.
type scriptedModel struct {
	responses []string
	calls     [][]llm.Message
	err       error
	vision    bool
}

func (m *scriptedModel) Chat(_ context.Context, messages []llm.Message, _ llm.Params) (*llm.ChatResponse, error) {
	m.calls = append(m.calls, messages)
	if m.err != nil {
		return nil, m.err
	}
	idx := len(m.calls) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return &llm.ChatResponse{Choices: []llm.Choice{{
		Message:      llm.Message{Role: "assistant", Content: m.responses[idx]},
		FinishReason: "stop",
	}}}, nil
}

func (m *scriptedModel) SupportsVision() bool { return m.vision }
func (m *scriptedModel) Model() string        { return "scripted" }

func navigatorRegistry(t *testing.T) *actions.Registry {
	t.Helper()
	r := actions.NewRegistry()
	actions.RegisterBuiltins(r, nopDriver{})
	return r
}

func TestPlanner_ParsesOutput(t *testing.T) {
	m := &scriptedModel{responses: []string{
		"Here is my plan:\n```json\n{\"observation\":\"blank page\",\"done\":false,\"next_steps\":\"open example.com\",\"reasoning\":\"task requires the site\",\"web_task\":true}\n```",
	}}
	p := NewPlanner(m, llm.Params{}, false)

	out, raw, err := p.Plan(context.Background(), PlanInput{Task: "Open example.com", URL: "about:blank"})
	require.NoError(t, err)
	assert.True(t, out.WebTask)
	assert.False(t, out.Done)
	assert.Equal(t, "open example.com", out.NextSteps)
	assert.Contains(t, raw, "my plan")
}

func TestPlanner_ChatOnlyTask(t *testing.T) {
	m := &scriptedModel{responses: []string{
		`{"observation":"no page needed","done":true,"next_steps":"4","reasoning":"simple math","web_task":false}`,
	}}
	p := NewPlanner(m, llm.Params{}, false)

	out, _, err := p.Plan(context.Background(), PlanInput{Task: "What is 2+2?"})
	require.NoError(t, err)
	assert.False(t, out.WebTask)
	assert.Equal(t, "4", out.NextSteps)
}

func TestPlanner_RetriesOnMalformedOutput(t *testing.T) {
	m := &scriptedModel{responses: []string{
		"I cannot answer in JSON",
		`{"observation":"ok","done":false,"next_steps":"go","reasoning":"r","web_task":true}`,
	}}
	p := NewPlanner(m, llm.Params{}, false)

	out, _, err := p.Plan(context.Background(), PlanInput{Task: "x"})
	require.NoError(t, err)
	assert.True(t, out.WebTask)
	assert.Len(t, m.calls, 2)
	// The retry appends a correction message.
	last := m.calls[1]
	assert.Contains(t, last[len(last)-1].Content, "not valid JSON")
}

func TestPlanner_FailsAfterRetryBudget(t *testing.T) {
	m := &scriptedModel{responses: []string{"nope"}}
	p := NewPlanner(m, llm.Params{}, false)

	_, _, err := p.Plan(context.Background(), PlanInput{Task: "x"})
	require.Error(t, err)
	var lce *LlmCallError
	require.True(t, errors.As(err, &lce))
	assert.Equal(t, "planner", lce.Agent)
	assert.Len(t, m.calls, parseRetries+1)
}

func TestPlanner_ModelErrorNotRetried(t *testing.T) {
	m := &scriptedModel{err: errors.New("connection refused")}
	p := NewPlanner(m, llm.Params{}, false)

	_, _, err := p.Plan(context.Background(), PlanInput{Task: "x"})
	require.Error(t, err)
	assert.Len(t, m.calls, 1)
}

func TestNavigator_ParsesAndValidatesActions(t *testing.T) {
	m := &scriptedModel{responses: []string{
		`{"current_state":{"evaluation_previous_goal":"Unknown","memory":"","next_goal":"open the site"},"action":[{"go_to_url":{"url":"https://example.com"}}]}`,
	}}
	n := NewNavigator(m, llm.Params{}, navigatorRegistry(t), 5, false)

	out, _, err := n.NextActions(context.Background(), NavigateInput{Task: "Open example.com", StateMessage: "Current url: about:blank"})
	require.NoError(t, err)
	require.Len(t, out.Action, 1)
	assert.Equal(t, "go_to_url", out.Action[0].Name)
	assert.Equal(t, "https://example.com", out.Action[0].Args["url"])
	assert.Equal(t, "open the site", out.CurrentState.NextGoal)
}

func TestNavigator_RetriesInvalidAction(t *testing.T) {
	m := &scriptedModel{responses: []string{
		`{"current_state":{"evaluation_previous_goal":"","memory":"","next_goal":""},"action":[{"teleport":{}}]}`,
		`{"current_state":{"evaluation_previous_goal":"","memory":"","next_goal":""},"action":[{"done":{"result":"ok","success":true}}]}`,
	}}
	n := NewNavigator(m, llm.Params{}, navigatorRegistry(t), 5, false)

	out, _, err := n.NextActions(context.Background(), NavigateInput{Task: "x"})
	require.NoError(t, err)
	require.Len(t, out.Action, 1)
	assert.Equal(t, "done", out.Action[0].Name)
	assert.Len(t, m.calls, 2)
}

func TestNavigator_TruncatesToMaxActions(t *testing.T) {
	m := &scriptedModel{responses: []string{
		`{"current_state":{"evaluation_previous_goal":"","memory":"","next_goal":""},"action":[` +
			`{"scroll_down":{}},{"scroll_down":{}},{"scroll_down":{}}]}`,
	}}
	n := NewNavigator(m, llm.Params{}, navigatorRegistry(t), 1, false)

	out, _, err := n.NextActions(context.Background(), NavigateInput{Task: "x"})
	require.NoError(t, err)
	assert.Len(t, out.Action, 1)
}

func TestValidator_Verdict(t *testing.T) {
	m := &scriptedModel{responses: []string{
		`{"is_valid":false,"reason":"form not submitted","answer":""}`,
	}}
	v := NewValidator(m, llm.Params{})

	out, _, err := v.Validate(context.Background(), "submit form", "Current url: https://example.com")
	require.NoError(t, err)
	assert.False(t, out.IsValid)
	assert.Equal(t, "form not submitted", out.Reason)
}

func TestAttachVision(t *testing.T) {
	m := &scriptedModel{vision: true}
	messages := []llm.Message{
		{Role: "system", Content: "s"},
		{Role: "user", Content: "u"},
	}

	out := attachVision(messages, "base64img", true, m)
	assert.Len(t, out[1].Images, 1)

	// Vision off leaves messages untouched.
	messages2 := []llm.Message{{Role: "user", Content: "u"}}
	out2 := attachVision(messages2, "base64img", false, m)
	assert.Empty(t, out2[0].Images)

	// Model without vision support leaves messages untouched.
	m2 := &scriptedModel{vision: false}
	messages3 := []llm.Message{{Role: "user", Content: "u"}}
	out3 := attachVision(messages3, "base64img", true, m2)
	assert.Empty(t, out3[0].Images)
}
