package executor

import (
	"context"
	"fmt"

	"webpilot/pkg/events"
	"webpilot/pkg/history"
)

// Replay re-issues the recorded action sequence of a stored session without
// invoking any model. Each step emits the standard events and respects
// cancellation and pause.
func (e *Executor) Replay(task Task, historySessionID string) error {
	if e.store == nil {
		return fmt.Errorf("replay requires a history store")
	}
	steps, err := e.store.GetReplayHistory(context.Background(), historySessionID)
	if err != nil {
		return fmt.Errorf("load replay history %s: %w", historySessionID, err)
	}

	e.mu.Lock()
	if e.status != StatusIdle {
		e.mu.Unlock()
		return ErrBusy
	}
	e.newSession = true
	e.beginLocked(task)
	e.mu.Unlock()

	e.runWaitGroup.Add(1)
	go func() {
		defer e.runWaitGroup.Done()
		e.runReplay(task, steps)
		e.drainFollowUps()
	}()
	return nil
}

func (e *Executor) runReplay(task Task, steps []history.ReplayStep) {
	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.runCancel = cancel
	e.mu.Unlock()
	defer cancel()

	e.ensureSession(task)
	e.emit(events.ActorSystem, events.TaskStart, "Replaying: "+task.Description, events.MessageTypeUser)

	for i, step := range steps {
		e.setStep(i)

		if e.checkpoint() {
			e.finish(task, runOutcome{events.TaskCancel, "Stopped by user"})
			return
		}

		call := step.Action
		e.emit(events.ActorNavigator, events.ActStart, describeCall(call), "")

		actionCtx := context.Background()
		if call.Name == "wait" {
			actionCtx = runCtx
		}
		result, err := e.registry.Execute(actionCtx, call)
		if err != nil || (!result.Success && !result.IsDone) {
			detail := result.Error
			if detail == "" && err != nil {
				detail = err.Error()
			}
			e.emit(events.ActorNavigator, events.ActFail, fmt.Sprintf("%s: %s", call.Name, detail), "")
			e.emit(events.ActorNavigator, events.StepFail, detail, "")
			e.finish(task, runOutcome{events.TaskFail, "Replay failed at step " + fmt.Sprint(i+1) + ": " + detail})
			return
		}
		e.emit(events.ActorNavigator, events.ActOK, result.ExtractedContent, "")
		e.emit(events.ActorNavigator, events.StepOK, result.ExtractedContent, "")

		if result.IsDone {
			e.finish(task, runOutcome{events.TaskOK, result.ExtractedContent})
			return
		}
	}
	e.finish(task, runOutcome{events.TaskOK, fmt.Sprintf("Replayed %d recorded actions", len(steps))})
}
