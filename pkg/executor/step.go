package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"webpilot/pkg/actions"
	"webpilot/pkg/agents"
	"webpilot/pkg/events"
	"webpilot/pkg/history"
	"webpilot/pkg/llm"
	"webpilot/pkg/prompts"
)

// ActionCall aliases the registry call type for the Dispatcher interface.
type ActionCall = actions.Call

// ActionOutcome aliases the registry result type.
type ActionOutcome = actions.ActionResult

// messageLogLimit caps the rolling navigator conversation.
const messageLogLimit = 20

// runOutcome is a terminal state plus its user-facing details.
type runOutcome struct {
	state   events.State
	details string
}

// run executes one task to a terminal state.
func (e *Executor) run(task Task) {
	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.runCancel = cancel
	e.mu.Unlock()
	defer cancel()

	e.ensureSession(task)
	e.emit(events.ActorSystem, events.TaskStart, task.Description, events.MessageTypeUser)

	outcome := e.loop(runCtx, task)
	e.finish(task, outcome)
}

// ensureSession creates the chat session and records the user message. A
// primary task opens a new session; follow-ups append to the current one.
func (e *Executor) ensureSession(task Task) {
	if e.store == nil {
		return
	}
	ctx := context.Background()

	e.mu.Lock()
	needNew := e.sessionID == "" || e.newSession
	e.newSession = false
	sessionID := e.sessionID
	e.mu.Unlock()

	if needNew {
		sess, err := e.store.CreateSession(ctx, e.tabID, task.Description)
		if err != nil {
			e.log.Error("create session failed", zapError(err))
			return
		}
		sessionID = sess.ID
		e.mu.Lock()
		e.sessionID = sessionID
		e.thinking = nil
		e.mu.Unlock()
	}

	if err := e.store.AppendMessage(ctx, sessionID, history.Message{
		Actor:       "USER",
		Content:     task.Description,
		Timestamp:   time.Now().UnixMilli(),
		MessageType: string(events.MessageTypeUser),
		TaskID:      task.ID,
	}); err != nil {
		e.log.Error("append user message failed", zapError(err))
	}
}

// loop is the step loop from the design: plan, observe, act, validate.
func (e *Executor) loop(runCtx context.Context, task Task) runOutcome {
	consecutiveFailures := 0
	llmFailures := 0

	for step := 0; ; step++ {
		e.setStep(step)

		if e.checkpoint() {
			return runOutcome{events.TaskCancel, "Stopped by user"}
		}

		// 1. Step budget.
		if step >= e.settings.MaxSteps {
			e.emit(events.ActorSystem, events.StepMax, "Maximum steps reached", "")
			return runOutcome{events.TaskFail, fmt.Sprintf("Task stopped after %d steps", step)}
		}

		// 2. Planning interval.
		if e.planner != nil && step%e.settings.PlanningInterval == 0 {
			url, title := e.pageSnapshot()
			out, raw, err := e.planner.Plan(runCtx, agents.PlanInput{
				Task:       task.Description,
				Recent:     e.recentMessages(),
				URL:        url,
				Title:      title,
				Screenshot: e.plannerScreenshot(runCtx),
			})
			if e.checkpoint() {
				return runOutcome{events.TaskCancel, "Stopped by user"}
			}
			if err != nil {
				llmFailures++
				e.emit(events.ActorPlanner, events.StepFail, err.Error(), "")
				if llmFailures >= maxConsecutiveLlmFailures {
					return runOutcome{events.TaskFail, "Planner failed repeatedly: " + err.Error()}
				}
				continue
			}
			llmFailures = 0
			e.appendThinking(events.ActorPlanner, events.StepOK, raw)

			if !out.WebTask {
				// Pure chat: the planner's answer is the final message.
				e.emit(events.ActorPlanner, events.StepOK, out.NextSteps, "")
				return runOutcome{events.TaskOK, out.NextSteps}
			}
			if out.Done {
				return runOutcome{events.TaskOK, out.NextSteps}
			}
			e.mu.Lock()
			e.currentPlan = out.NextSteps
			e.mu.Unlock()
		}

		// 3. Fresh browser state.
		state, err := e.session.GetState(runCtx, e.settings.UseVision)
		if err != nil {
			consecutiveFailures++
			e.emit(events.ActorSystem, events.StepFail, "Failed to read page state: "+err.Error(), "")
			if consecutiveFailures > e.settings.MaxFailures {
				return runOutcome{events.TaskFail, "Too many consecutive failures"}
			}
			continue
		}
		stateMsg := e.renderState(state)
		e.mu.Lock()
		e.lastURL, e.lastTitle = state.URL, state.Title
		e.mu.Unlock()

		// 4. Navigator.
		if e.checkpoint() {
			return runOutcome{events.TaskCancel, "Stopped by user"}
		}
		navOut, raw, err := e.navigator.NextActions(runCtx, agents.NavigateInput{
			Task:         task.Description,
			Plan:         e.planSnapshot(),
			StateMessage: stateMsg,
			Screenshot:   state.Screenshot,
			History:      e.recentMessages(),
			LastResults:  e.resultsSnapshot(),
		})
		if e.checkpoint() {
			return runOutcome{events.TaskCancel, "Stopped by user"}
		}
		if err != nil {
			llmFailures++
			e.emit(events.ActorNavigator, events.StepFail, err.Error(), "")
			if llmFailures >= maxConsecutiveLlmFailures {
				return runOutcome{events.TaskFail, "Navigator failed repeatedly: " + err.Error()}
			}
			continue
		}
		llmFailures = 0
		e.appendThinking(events.ActorNavigator, events.StepOK, raw)
		e.rememberExchange(stateMsg, raw)

		// 5. Dispatch the validated action sequence in order.
		results, doneResult, failed, cancelled := e.runActions(runCtx, navOut.Action)
		e.mu.Lock()
		e.lastResults = results
		e.mu.Unlock()
		if cancelled {
			return runOutcome{events.TaskCancel, "Stopped by user"}
		}

		if failed {
			consecutiveFailures++
			e.emit(events.ActorNavigator, events.StepFail, lastOf(results), "")
			if consecutiveFailures > e.settings.MaxFailures {
				return runOutcome{events.TaskFail, "Too many consecutive failures"}
			}
			continue
		}
		consecutiveFailures = 0

		// 6. Done handling, gated by the optional validator.
		if doneResult != nil {
			details := doneResult.ExtractedContent
			if e.validator != nil && e.settings.ValidateResults {
				verdict, vraw, verr := e.validator.Validate(runCtx, task.Description, stateMsg)
				if verr != nil {
					llmFailures++
					e.emit(events.ActorValidator, events.StepFail, verr.Error(), "")
					if llmFailures >= maxConsecutiveLlmFailures {
						return runOutcome{events.TaskFail, "Validator failed repeatedly: " + verr.Error()}
					}
					continue
				}
				e.appendThinking(events.ActorValidator, events.StepOK, vraw)
				if !verdict.IsValid {
					// Soft failure: blocks done without consuming a retry.
					e.emit(events.ActorValidator, events.StepFail, verdict.Reason, "")
					continue
				}
				if verdict.Answer != "" {
					details = verdict.Answer
				}
			}
			if !doneResult.Success {
				return runOutcome{events.TaskFail, details}
			}
			e.emit(events.ActorNavigator, events.StepOK, "Task complete", "")
			return runOutcome{events.TaskOK, details}
		}

		// 7. Step verdict.
		e.emit(events.ActorNavigator, events.StepOK, navOut.CurrentState.NextGoal, "")
	}
}

// runActions dispatches one validated action sequence. The sequence aborts
// at the first failure; a cancel lets the in-flight action finish, then
// aborts.
func (e *Executor) runActions(runCtx context.Context, calls []ActionCall) (results []string, doneResult *ActionOutcome, failed, cancelled bool) {
	for _, call := range calls {
		if e.checkpoint() {
			return results, nil, false, true
		}

		e.emit(events.ActorNavigator, events.ActStart, describeCall(call), "")

		// Page actions run to completion even when cancel arrives mid-flight;
		// only the wait action observes the run context.
		actionCtx := context.Background()
		if call.Name == "wait" {
			actionCtx = runCtx
		}

		result, err := e.registry.Execute(actionCtx, call)
		e.recordAction(call)

		if err != nil || !result.Success && !result.IsDone {
			detail := result.Error
			if detail == "" && err != nil {
				detail = err.Error()
			}
			results = append(results, fmt.Sprintf("%s failed: %s", call.Name, detail))
			e.emit(events.ActorNavigator, events.ActFail, fmt.Sprintf("%s: %s", call.Name, detail), "")
			return results, nil, true, false
		}

		results = append(results, result.ExtractedContent)
		e.emit(events.ActorNavigator, events.ActOK, result.ExtractedContent, "")

		if result.IsDone {
			r := result
			return results, &r, false, false
		}
	}
	return results, nil, false, false
}

// finish persists the final artifacts and emits the terminal event.
func (e *Executor) finish(task Task, outcome runOutcome) {
	if e.store != nil {
		e.mu.Lock()
		sessionID := e.sessionID
		steps := make([]events.ThinkingStep, len(e.thinking))
		copy(steps, e.thinking)
		recorded := make([]history.ReplayStep, len(e.recorded))
		copy(recorded, e.recorded)
		e.mu.Unlock()

		if sessionID != "" {
			msg := history.Message{
				Actor:         "SYSTEM",
				Content:       outcome.details,
				Timestamp:     time.Now().UnixMilli(),
				MessageType:   string(events.MessageTypeAssistant),
				TaskID:        task.ID,
				ThinkingSteps: steps,
			}
			if err := e.store.AppendMessage(context.Background(), sessionID, msg); err != nil {
				e.log.Error("persist final message failed", zapError(err))
			}
			if outcome.state == events.TaskOK && len(recorded) > 0 {
				if err := e.store.SaveReplayHistory(context.Background(), sessionID, e.tabID, recorded); err != nil {
					e.log.Error("persist replay history failed", zapError(err))
				}
			}
		}
	}

	e.mu.Lock()
	e.status = StatusIdle
	e.currentTask = &task // keep for event stamping until the next task
	e.lastActive = time.Now()
	e.mu.Unlock()

	e.emit(events.ActorSystem, outcome.state, outcome.details, events.MessageTypeAssistant)

	e.mu.Lock()
	e.currentTask = nil
	e.mu.Unlock()
}

// --- helpers ---

func (e *Executor) appendThinking(actor events.Actor, state events.State, content string) {
	step := events.ThinkingStep{
		Actor:     actor,
		State:     state,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
	e.mu.Lock()
	e.thinking = append(e.thinking, step)
	e.mu.Unlock()
	e.emit(actor, state, content, events.MessageTypeThinking)
}

func (e *Executor) recordAction(call ActionCall) {
	e.mu.Lock()
	e.recorded = append(e.recorded, history.ReplayStep{Action: call})
	e.mu.Unlock()
}

func (e *Executor) rememberExchange(stateMsg, assistantRaw string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messageLog = append(e.messageLog,
		llm.Message{Role: "user", Content: stateMsg},
		llm.Message{Role: "assistant", Content: assistantRaw},
	)
	if len(e.messageLog) > messageLogLimit {
		e.messageLog = e.messageLog[len(e.messageLog)-messageLogLimit:]
	}
}

func (e *Executor) recentMessages() []llm.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]llm.Message, len(e.messageLog))
	copy(out, e.messageLog)
	return out
}

func (e *Executor) resultsSnapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.lastResults))
	copy(out, e.lastResults)
	return out
}

func (e *Executor) planSnapshot() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentPlan
}

func (e *Executor) pageSnapshot() (url, title string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastURL, e.lastTitle
}

// plannerScreenshot captures a screenshot for the planner when configured.
func (e *Executor) plannerScreenshot(runCtx context.Context) string {
	if !e.settings.UseVisionForPlanner {
		return ""
	}
	state, err := e.session.GetState(runCtx, true)
	if err != nil {
		return ""
	}
	return state.Screenshot
}

// renderState serializes a browser state for the navigator.
func (e *Executor) renderState(state *BrowserState) string {
	var tabLines []string
	for _, t := range state.Tabs {
		tabLines = append(tabLines, fmt.Sprintf("%d: %s (%s)", t.TabID, t.Title, t.URL))
	}
	clickable := ""
	if state.ElementTree != nil {
		clickable = state.ElementTree.ClickableElementsToString(e.session.IncludeAttributes())
	}
	return prompts.BrowserStateMessage(state.URL, state.Title, clickable, state.PixelsAbove, state.PixelsBelow, tabLines)
}

func describeCall(call ActionCall) string {
	if len(call.Args) == 0 {
		return call.Name
	}
	args, _ := json.Marshal(call.Args)
	return fmt.Sprintf("%s %s", call.Name, args)
}

func lastOf(results []string) string {
	if len(results) == 0 {
		return ""
	}
	return results[len(results)-1]
}
