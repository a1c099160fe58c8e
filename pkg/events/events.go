// Package events defines the execution event model shared by the executor,
// the controller, and UI ports, plus the in-process bus that carries them.
package events

import "time"

// EventType is the top-level type tag carried by every event. The UI ignores
// unknown types, so new tags can be introduced without breaking old panels.
type EventType string

// ExecutionEvent is the only event type the core emits today.
const ExecutionEvent EventType = "EXECUTION"

// Actor identifies the source of an event.
type Actor string

const (
	ActorPlanner   Actor = "planner"
	ActorNavigator Actor = "navigator"
	ActorValidator Actor = "validator"
	ActorSystem    Actor = "system"
)

// State describes what happened at the point the event was emitted.
type State string

const (
	TaskStart  State = "TASK_START"
	TaskOK     State = "TASK_OK"
	TaskFail   State = "TASK_FAIL"
	TaskCancel State = "TASK_CANCEL"
	TaskPause  State = "TASK_PAUSE"
	TaskResume State = "TASK_RESUME"
	StepStart  State = "STEP_START"
	StepOK     State = "STEP_OK"
	StepFail   State = "STEP_FAIL"
	StepMax    State = "STEP_MAX"
	ActStart   State = "ACT_START"
	ActOK      State = "ACT_OK"
	ActFail    State = "ACT_FAIL"
)

// MessageType classifies the payload for chat-history purposes.
type MessageType string

const (
	MessageTypeUser      MessageType = "user"
	MessageTypeAssistant MessageType = "assistant"
	MessageTypeThinking  MessageType = "thinking"
	MessageTypeProgress  MessageType = "progress"
)

// EventData is the payload the UI consumes.
type EventData struct {
	TaskID      string      `json:"taskId"`
	Step        int         `json:"step"`
	MaxSteps    int         `json:"maxSteps"`
	Details     string      `json:"details"`
	MessageType MessageType `json:"messageType,omitempty"`
}

// Event is a single execution event. Events for one task are emitted in
// program order and delivered at-most-once per subscriber.
type Event struct {
	Type      EventType `json:"type"`
	Actor     Actor     `json:"actor"`
	State     State     `json:"state"`
	Timestamp int64     `json:"timestamp"`
	Data      EventData `json:"data"`
}

// New builds an execution event stamped with the current time.
func New(actor Actor, state State, data EventData) Event {
	return Event{
		Type:      ExecutionEvent,
		Actor:     actor,
		State:     state,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// IsTerminal reports whether the event ends its task. ACT_OK is deliberately
// not terminal: only task-level outcomes close a run.
func (e Event) IsTerminal() bool {
	switch e.State {
	case TaskOK, TaskFail, TaskCancel:
		return true
	}
	return false
}

// ThinkingStep is one structured agent turn surfaced to the UI and bundled
// into the final persisted message.
type ThinkingStep struct {
	Actor     Actor  `json:"actor"`
	State     State  `json:"state"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}
