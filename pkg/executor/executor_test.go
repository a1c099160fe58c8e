package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webpilot/pkg/actions"
	"webpilot/pkg/agents"
	"webpilot/pkg/browser"
	"webpilot/pkg/dom"
	"webpilot/pkg/events"
	"webpilot/pkg/history"
)

// --- fakes ---

type fakeSession struct {
	mu           sync.Mutex
	dispatched   []string
	failNavigate error
}

func (s *fakeSession) record(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatched = append(s.dispatched, fmt.Sprintf(format, args...))
}

func (s *fakeSession) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.dispatched))
	copy(out, s.dispatched)
	return out
}

func (s *fakeSession) GetState(context.Context, bool) (*BrowserState, error) {
	return &dom.State{
		URL:         "about:blank",
		Title:       "blank",
		ElementTree: &dom.Node{Tag: "body"},
		SelectorMap: map[int]*dom.Node{},
	}, nil
}

func (s *fakeSession) IncludeAttributes() []string { return nil }

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	if s.failNavigate != nil {
		return s.failNavigate
	}
	s.record("navigate:%s", url)
	return nil
}
func (s *fakeSession) SearchGoogle(_ context.Context, q string) error {
	s.record("search:%s", q)
	return nil
}
func (s *fakeSession) Click(_ context.Context, i int) (string, error) {
	s.record("click:%d", i)
	return fmt.Sprintf("Clicked element %d", i), nil
}
func (s *fakeSession) InputText(_ context.Context, i int, t string) error {
	s.record("input:%d:%s", i, t)
	return nil
}
func (s *fakeSession) SendKeys(_ context.Context, k string) error {
	s.record("keys:%s", k)
	return nil
}
func (s *fakeSession) Scroll(_ context.Context, amount int, down bool) error {
	s.record("scroll:%d:%v", amount, down)
	return nil
}
func (s *fakeSession) ScrollToText(_ context.Context, t string) error {
	s.record("scrolltext:%s", t)
	return nil
}
func (s *fakeSession) ExtractContent(_ context.Context, g string) (string, error) {
	s.record("extract:%s", g)
	return "extracted", nil
}
func (s *fakeSession) GetDropdownOptions(_ context.Context, i int) (string, error) {
	s.record("options:%d", i)
	return "", nil
}
func (s *fakeSession) SelectDropdownOption(_ context.Context, i int, v string) error {
	s.record("select:%d:%s", i, v)
	return nil
}
func (s *fakeSession) SwitchTab(_ context.Context, i int) error {
	s.record("switchtab:%d", i)
	return nil
}
func (s *fakeSession) OpenTab(_ context.Context, u string) error {
	s.record("opentab:%s", u)
	return nil
}
func (s *fakeSession) CloseTab(_ context.Context, i int) error {
	s.record("closetab:%d", i)
	return nil
}

type scriptedPlanner struct {
	outputs []agents.PlannerOutput
	calls   int
}

func (p *scriptedPlanner) Plan(context.Context, agents.PlanInput) (*agents.PlannerOutput, string, error) {
	idx := p.calls
	if idx >= len(p.outputs) {
		idx = len(p.outputs) - 1
	}
	p.calls++
	out := p.outputs[idx]
	return &out, "planner raw", nil
}

type scriptedNavigator struct {
	outputs []agents.NavigatorOutput
	calls   int
	onCall  func(n int) // invoked with the 1-based call number
}

func (n *scriptedNavigator) NextActions(context.Context, agents.NavigateInput) (*agents.NavigatorOutput, string, error) {
	idx := n.calls
	if idx >= len(n.outputs) {
		idx = len(n.outputs) - 1
	}
	n.calls++
	if n.onCall != nil {
		n.onCall(n.calls)
	}
	out := n.outputs[idx]
	return &out, "navigator raw", nil
}

func navOutput(calls ...actions.Call) agents.NavigatorOutput {
	return agents.NavigatorOutput{
		CurrentState: agents.NavigatorState{NextGoal: "next"},
		Action:       calls,
	}
}

func call(name string, args map[string]any) actions.Call {
	if args == nil {
		args = map[string]any{}
	}
	return actions.Call{Name: name, Args: args}
}

// collector gathers events and lets tests wait for a terminal one.
type collector struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *collector) add(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) snapshot() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *collector) states() []events.State {
	var out []events.State
	for _, e := range c.snapshot() {
		out = append(out, e.State)
	}
	return out
}

func (c *collector) waitTerminal(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range c.snapshot() {
			if e.IsTerminal() {
				// Allow the bus to settle so post-terminal assertions see
				// every event that could possibly follow.
				time.Sleep(50 * time.Millisecond)
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no terminal event; got %v", c.states())
}

func countState(evts []events.Event, s events.State) int {
	n := 0
	for _, e := range evts {
		if e.State == s {
			n++
		}
	}
	return n
}

func defaultSettings() Settings {
	return Settings{
		MaxSteps:          10,
		MaxFailures:       2,
		MaxActionsPerStep: 5,
		PlanningInterval:  3,
	}
}

func newTestExecutor(t *testing.T, session *fakeSession, planner Planner, navigator Navigator, validator Validator, settings Settings) (*Executor, *collector, *history.Store) {
	t.Helper()
	store, err := history.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := actions.NewRegistry()
	actions.RegisterBuiltins(registry, session)

	e := New(7, session, registry, planner, navigator, validator, store, settings)
	t.Cleanup(e.Close)

	c := &collector{}
	e.Subscribe(c.add)
	return e, c, store
}

// --- scenarios ---

func TestExecute_ChatOnlyTask(t *testing.T) {
	session := &fakeSession{}
	planner := &scriptedPlanner{outputs: []agents.PlannerOutput{
		{NextSteps: "4", WebTask: false},
	}}
	e, c, _ := newTestExecutor(t, session, planner, &scriptedNavigator{}, nil, defaultSettings())

	require.NoError(t, e.Execute(NewTask("What is 2+2?")))
	e.Wait()
	c.waitTerminal(t)

	evts := c.snapshot()
	states := c.states()
	assert.Equal(t, events.TaskStart, states[0])
	assert.Equal(t, events.TaskOK, states[len(states)-1])
	assert.Equal(t, "4", evts[len(evts)-1].Data.Details)
	assert.Empty(t, session.calls(), "no page actions for a chat-only task")
	assert.Zero(t, countState(evts, events.ActStart))
}

func TestExecute_SingleStepNavigation(t *testing.T) {
	session := &fakeSession{}
	planner := &scriptedPlanner{outputs: []agents.PlannerOutput{
		{NextSteps: "open the site", WebTask: true},
	}}
	navigator := &scriptedNavigator{outputs: []agents.NavigatorOutput{
		navOutput(call("go_to_url", map[string]any{"url": "https://example.com"})),
		navOutput(call("done", map[string]any{"result": "Opened", "success": true})),
	}}
	e, c, _ := newTestExecutor(t, session, planner, navigator, nil, defaultSettings())

	require.NoError(t, e.Execute(NewTask("Open example.com")))
	e.Wait()
	c.waitTerminal(t)

	evts := c.snapshot()
	assert.GreaterOrEqual(t, countState(evts, events.ActOK), 1)
	assert.Equal(t, 1, countState(evts, events.TaskOK))
	assert.Equal(t, []string{"navigate:https://example.com"}, session.calls())
	// Terminal details carry the done result.
	last := evts[len(evts)-1]
	assert.Equal(t, events.TaskOK, last.State)
	assert.Equal(t, "Opened", last.Data.Details)
}

func TestExecute_DeniedNavigationFailsTask(t *testing.T) {
	session := &fakeSession{failNavigate: &browser.FirewallError{URL: "https://example.com"}}
	navigator := &scriptedNavigator{outputs: []agents.NavigatorOutput{
		navOutput(call("go_to_url", map[string]any{"url": "https://example.com"})),
	}}
	settings := defaultSettings()
	e, c, _ := newTestExecutor(t, session, nil, navigator, nil, settings)

	require.NoError(t, e.Execute(NewTask("Open example.com")))
	e.Wait()
	c.waitTerminal(t)

	evts := c.snapshot()
	assert.GreaterOrEqual(t, countState(evts, events.ActFail), settings.MaxFailures+1)
	assert.Equal(t, 1, countState(evts, events.TaskFail))
	assert.Zero(t, countState(evts, events.TaskOK))
	assert.Empty(t, session.calls(), "page never touched through the firewall")

	for _, e := range evts {
		if e.State == events.ActFail {
			assert.Contains(t, e.Data.Details, "firewall")
		}
	}
}

func TestExecute_CancelMidRun(t *testing.T) {
	session := &fakeSession{}
	navigator := &scriptedNavigator{outputs: []agents.NavigatorOutput{
		navOutput(call("scroll_down", nil)),
	}}
	settings := defaultSettings()
	settings.MaxSteps = 100
	e, c, _ := newTestExecutor(t, session, nil, navigator, nil, settings)

	// Cancel lands during the second navigator call; the loop aborts at the
	// checkpoint right after that call, before any of its actions run.
	navigator.onCall = func(n int) {
		if n == 2 {
			e.Cancel()
		}
	}

	require.NoError(t, e.Execute(NewTask("scroll forever")))
	e.Wait()
	c.waitTerminal(t)

	evts := c.snapshot()
	require.Equal(t, 1, countState(evts, events.TaskCancel), "exactly one TASK_CANCEL")
	assert.Equal(t, "Stopped by user", evts[len(evts)-1].Data.Details)

	// Nothing after the terminal event.
	for i, ev := range evts {
		if ev.State == events.TaskCancel {
			assert.Equal(t, len(evts)-1, i, "no events after TASK_CANCEL")
		}
	}
	// Cancel is idempotent.
	e.Cancel()
	e.Cancel()
	assert.Equal(t, StatusIdle, e.Status())
}

func TestExecute_FollowUpQueuedWhileRunning(t *testing.T) {
	session := &fakeSession{}
	navigator := &scriptedNavigator{outputs: []agents.NavigatorOutput{
		navOutput(call("scroll_down", nil)),
		navOutput(call("done", map[string]any{"result": "first done", "success": true})),
		navOutput(call("done", map[string]any{"result": "second done", "success": true})),
	}}
	e, c, _ := newTestExecutor(t, session, nil, navigator, nil, defaultSettings())

	require.NoError(t, e.Execute(NewTask("first")))
	// Whether this lands while the first task is still running or just after
	// it finished, the task must run exactly once.
	e.AddFollowUpTask(NewTask("second"))

	e.Wait()
	c.waitTerminal(t)

	// Both tasks ran to completion, in order, exactly once each.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if countState(c.snapshot(), events.TaskOK) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	evts := c.snapshot()
	assert.Equal(t, 2, countState(evts, events.TaskStart))
	assert.Equal(t, 2, countState(evts, events.TaskOK))
}

func TestExecute_FollowUpRunsImmediatelyWhenIdle(t *testing.T) {
	session := &fakeSession{}
	navigator := &scriptedNavigator{outputs: []agents.NavigatorOutput{
		navOutput(call("done", map[string]any{"result": "ok", "success": true})),
	}}
	e, c, _ := newTestExecutor(t, session, nil, navigator, nil, defaultSettings())

	queued := e.AddFollowUpTask(NewTask("only"))
	assert.False(t, queued)
	e.Wait()
	c.waitTerminal(t)
	assert.Equal(t, 1, countState(c.snapshot(), events.TaskOK))
}

func TestExecute_MaxStepsZeroFailsWithoutAgentCalls(t *testing.T) {
	session := &fakeSession{}
	planner := &scriptedPlanner{outputs: []agents.PlannerOutput{{WebTask: true}}}
	navigator := &scriptedNavigator{outputs: []agents.NavigatorOutput{navOutput(call("scroll_down", nil))}}
	settings := defaultSettings()
	settings.MaxSteps = 0
	e, c, _ := newTestExecutor(t, session, planner, navigator, nil, settings)

	require.NoError(t, e.Execute(NewTask("anything")))
	e.Wait()
	c.waitTerminal(t)

	evts := c.snapshot()
	assert.Equal(t, 1, countState(evts, events.StepMax))
	assert.Equal(t, 1, countState(evts, events.TaskFail))
	assert.Zero(t, planner.calls, "no agent calls when maxSteps is 0")
	assert.Zero(t, navigator.calls)
}

func TestExecute_ValidatorBlocksDone(t *testing.T) {
	session := &fakeSession{}
	navigator := &scriptedNavigator{outputs: []agents.NavigatorOutput{
		navOutput(call("done", map[string]any{"result": "maybe", "success": true})),
		navOutput(call("done", map[string]any{"result": "really done", "success": true})),
	}}
	validator := &scriptedValidator{outputs: []agents.ValidatorOutput{
		{IsValid: false, Reason: "form not submitted"},
		{IsValid: true, Reason: "goal met", Answer: "verified answer"},
	}}
	settings := defaultSettings()
	settings.ValidateResults = true
	e, c, _ := newTestExecutor(t, session, nil, navigator, validator, settings)

	require.NoError(t, e.Execute(NewTask("submit form")))
	e.Wait()
	c.waitTerminal(t)

	evts := c.snapshot()
	last := evts[len(evts)-1]
	assert.Equal(t, events.TaskOK, last.State)
	assert.Equal(t, "verified answer", last.Data.Details)
	assert.Equal(t, 2, validator.calls, "first verdict blocked done, second allowed it")
}

func TestExecute_PauseAndResume(t *testing.T) {
	session := &fakeSession{}
	navigator := &scriptedNavigator{outputs: []agents.NavigatorOutput{
		navOutput(call("scroll_down", nil)),
		navOutput(call("done", map[string]any{"result": "ok", "success": true})),
	}}
	e, c, _ := newTestExecutor(t, session, nil, navigator, nil, defaultSettings())

	// Pause from inside the second navigator call: the loop parks at the
	// checkpoint right after the agent call returns.
	navigator.onCall = func(n int) {
		if n == 2 {
			e.Pause()
		}
	}

	require.NoError(t, e.Execute(NewTask("pausable")))

	// Wait until parked.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && e.Status() != StatusPaused {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, StatusPaused, e.Status())
	assert.True(t, e.IsRunning(), "paused still counts as active")

	e.Resume()
	e.Wait()
	c.waitTerminal(t)
	assert.Equal(t, 1, countState(c.snapshot(), events.TaskOK))
}

func TestGetThinkingSteps_BufferAndFinalMessage(t *testing.T) {
	session := &fakeSession{}
	navigator := &scriptedNavigator{outputs: []agents.NavigatorOutput{
		navOutput(call("done", map[string]any{"result": "ok", "success": true})),
	}}
	e, c, store := newTestExecutor(t, session, nil, navigator, nil, defaultSettings())

	require.NoError(t, e.Execute(NewTask("think a lot")))
	e.Wait()
	c.waitTerminal(t)

	// Pad the buffer to 200 entries the way agent turns would.
	for i := len(e.GetThinkingSteps()); i < 200; i++ {
		e.appendThinking(events.ActorNavigator, events.StepOK, fmt.Sprintf("thought %d", i))
	}
	steps := e.GetThinkingSteps()
	assert.Len(t, steps, 200)

	// The final persisted message carries the thinking bundle.
	sess, err := store.LatestSession(context.Background(), 7)
	require.NoError(t, err)
	var final *history.Message
	for i := range sess.Messages {
		if sess.Messages[i].MessageType == "assistant" {
			final = &sess.Messages[i]
		}
	}
	require.NotNil(t, final)
	assert.NotEmpty(t, final.ThinkingSteps)
}

func TestExecute_EventsCarryActiveTaskID(t *testing.T) {
	session := &fakeSession{}
	navigator := &scriptedNavigator{outputs: []agents.NavigatorOutput{
		navOutput(call("done", map[string]any{"result": "ok", "success": true})),
	}}
	e, c, _ := newTestExecutor(t, session, nil, navigator, nil, defaultSettings())

	task := NewTask("stamped")
	require.NoError(t, e.Execute(task))
	e.Wait()
	c.waitTerminal(t)

	for _, ev := range c.snapshot() {
		assert.Equal(t, task.ID, ev.Data.TaskID)
	}
}

func TestReplay_ReissuesRecordedActions(t *testing.T) {
	session := &fakeSession{}
	navigator := &scriptedNavigator{outputs: []agents.NavigatorOutput{
		navOutput(
			call("go_to_url", map[string]any{"url": "https://example.com"}),
			call("click_element", map[string]any{"index": float64(2)}),
		),
		navOutput(call("done", map[string]any{"result": "ok", "success": true})),
	}}
	e, c, store := newTestExecutor(t, session, nil, navigator, nil, defaultSettings())

	require.NoError(t, e.Execute(NewTask("record me")))
	e.Wait()
	c.waitTerminal(t)
	firstRun := session.calls()
	require.Equal(t, []string{"navigate:https://example.com", "click:2"}, firstRun)

	sessionID := e.SessionID()
	require.NotEmpty(t, sessionID)
	stored, err := store.GetReplayHistory(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, stored, 3) // two page actions + done

	// Replay on a fresh executor: same action sequence, no model calls.
	session2 := &fakeSession{}
	registry2 := actions.NewRegistry()
	actions.RegisterBuiltins(registry2, session2)
	e2 := New(7, session2, registry2, nil, nil, nil, store, defaultSettings())
	t.Cleanup(e2.Close)
	c2 := &collector{}
	e2.Subscribe(c2.add)

	require.NoError(t, e2.Replay(NewTask("replay"), sessionID))
	e2.Wait()
	c2.waitTerminal(t)

	assert.Equal(t, firstRun, session2.calls(), "replay emits the identical action sequence")
	assert.Equal(t, 1, countState(c2.snapshot(), events.TaskOK))
}

type scriptedValidator struct {
	outputs []agents.ValidatorOutput
	calls   int
}

func (v *scriptedValidator) Validate(context.Context, string, string) (*agents.ValidatorOutput, string, error) {
	idx := v.calls
	if idx >= len(v.outputs) {
		idx = len(v.outputs) - 1
	}
	v.calls++
	out := v.outputs[idx]
	return &out, "validator raw", nil
}
