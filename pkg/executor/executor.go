// Package executor owns the per-tab task state machine: the step loop,
// cooperative cancellation and pause, the follow-up queue, event emission,
// and history persistence.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"webpilot/pkg/agents"
	"webpilot/pkg/events"
	"webpilot/pkg/history"
	"webpilot/pkg/llm"
	"webpilot/pkg/logger"
)

// Task is one unit of work bound to a tab.
type Task struct {
	ID          string
	Description string
	CreatedAt   time.Time
}

// NewTask builds a task with a fresh id.
func NewTask(description string) Task {
	return Task{
		ID:          uuid.NewString(),
		Description: description,
		CreatedAt:   time.Now(),
	}
}

// Status is the executor's lifecycle state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
)

// Settings are the executor knobs snapshotted at setup. A settings change
// affects only the next task.
type Settings struct {
	MaxSteps            int
	MaxFailures         int
	MaxActionsPerStep   int
	PlanningInterval    int
	UseVision           bool
	UseVisionForPlanner bool
	ValidateResults     bool
}

// maxConsecutiveLlmFailures fails the task after this many LLM call or
// parse failures in a row.
const maxConsecutiveLlmFailures = 3

// Planner is the slice of the planner agent the executor needs.
type Planner interface {
	Plan(ctx context.Context, in agents.PlanInput) (*agents.PlannerOutput, string, error)
}

// Navigator is the slice of the navigator agent the executor needs.
type Navigator interface {
	NextActions(ctx context.Context, in agents.NavigateInput) (*agents.NavigatorOutput, string, error)
}

// Validator is the slice of the validator agent the executor needs.
type Validator interface {
	Validate(ctx context.Context, task, stateMessage string) (*agents.ValidatorOutput, string, error)
}

// Executor runs tasks for one tab. It borrows the browser session (the
// controller owns the underlying context) and exclusively owns its plan,
// follow-up queue, and thinking-step buffer.
type Executor struct {
	tabID     int
	session   BrowserSession
	registry  Dispatcher
	planner   Planner
	navigator Navigator
	validator Validator
	store     *history.Store
	settings  Settings
	bus       *events.Bus
	log       *zap.Logger

	mu           sync.Mutex
	stepCount    int
	status       Status
	currentTask  *Task
	sessionID    string
	newSession   bool
	followUps    []Task
	thinking     []events.ThinkingStep
	recorded     []history.ReplayStep
	messageLog   []llm.Message
	lastResults  []string
	currentPlan  string
	lastURL      string
	lastTitle    string
	lastActive   time.Time
	cancelled    bool
	paused       bool
	pauseCond    *sync.Cond
	runCancel    context.CancelFunc
	runWaitGroup sync.WaitGroup
}

// Dispatcher validates and executes action calls; satisfied by
// *actions.Registry.
type Dispatcher interface {
	Validate(call ActionCall) error
	Execute(ctx context.Context, call ActionCall) (ActionOutcome, error)
}

// New creates an executor for a tab. validator may be nil; store may be nil
// in tests.
func New(tabID int, session BrowserSession, dispatcher Dispatcher, planner Planner, navigator Navigator, validator Validator, store *history.Store, settings Settings) *Executor {
	if settings.PlanningInterval <= 0 {
		settings.PlanningInterval = 1
	}
	e := &Executor{
		tabID:      tabID,
		session:    session,
		registry:   dispatcher,
		planner:    planner,
		navigator:  navigator,
		validator:  validator,
		store:      store,
		settings:   settings,
		bus:        events.NewBus(),
		log:        logger.Named("executor").With(zap.Int("tab", tabID)),
		status:     StatusIdle,
		lastActive: time.Now(),
	}
	e.pauseCond = sync.NewCond(&e.mu)
	return e
}

// Subscribe registers an event subscriber; events arrive in emission order.
func (e *Executor) Subscribe(fn events.Subscriber) int { return e.bus.Subscribe(fn) }

// Unsubscribe removes an event subscriber.
func (e *Executor) Unsubscribe(id int) { e.bus.Unsubscribe(id) }

// Status returns the current lifecycle state.
func (e *Executor) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// IsRunning reports whether a task is active (running or paused).
func (e *Executor) IsRunning() bool {
	s := e.Status()
	return s == StatusRunning || s == StatusPaused
}

// LastActive returns when the executor last did work; the controller's idle
// reaper reads this.
func (e *Executor) LastActive() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastActive
}

// SessionID returns the chat session the executor is writing to.
func (e *Executor) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// GetThinkingSteps returns a copy of the thinking-step buffer. The buffer
// survives terminal state until a new session is opened or the controller
// reaps the executor, so late reconnects can still fetch it.
func (e *Executor) GetThinkingSteps() []events.ThinkingStep {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]events.ThinkingStep, len(e.thinking))
	copy(out, e.thinking)
	return out
}

// Execute starts a task. If a task is already active the new one is queued
// as a follow-up instead and ErrBusy is returned.
func (e *Executor) Execute(task Task) error {
	e.mu.Lock()
	if e.status != StatusIdle {
		e.followUps = append(e.followUps, task)
		e.mu.Unlock()
		return ErrBusy
	}
	// A primary task opens a fresh chat session; follow-ups reuse it.
	e.newSession = true
	e.beginLocked(task)
	e.mu.Unlock()

	e.runWaitGroup.Add(1)
	go func() {
		defer e.runWaitGroup.Done()
		e.run(task)
		e.drainFollowUps()
	}()
	return nil
}

// ErrBusy signals that the task was queued behind the active one.
var ErrBusy = fmt.Errorf("executor busy: task queued as follow-up")

// AddFollowUpTask appends a task to the follow-up queue. When the executor
// is idle the task starts immediately. Unlike Execute, a follow-up reuses
// the current chat session and restarts the step budget.
func (e *Executor) AddFollowUpTask(task Task) (queued bool) {
	e.mu.Lock()
	if e.status != StatusIdle {
		e.followUps = append(e.followUps, task)
		e.mu.Unlock()
		return true
	}
	e.beginLocked(task)
	e.mu.Unlock()

	e.runWaitGroup.Add(1)
	go func() {
		defer e.runWaitGroup.Done()
		e.run(task)
		e.drainFollowUps()
	}()
	return false
}

// drainFollowUps runs queued tasks one after another. Each follow-up
// restarts the step budget but reuses the session and context.
func (e *Executor) drainFollowUps() {
	for {
		e.mu.Lock()
		if e.cancelled && len(e.followUps) > 0 {
			// A user cancel clears pending work too.
			e.followUps = nil
		}
		if len(e.followUps) == 0 {
			e.mu.Unlock()
			return
		}
		next := e.followUps[0]
		e.followUps = e.followUps[1:]
		e.beginLocked(next)
		e.mu.Unlock()

		e.run(next)
	}
}

// beginLocked transitions to RUNNING for a task. Caller holds e.mu.
func (e *Executor) beginLocked(task Task) {
	e.status = StatusRunning
	e.currentTask = &task
	e.stepCount = 0
	e.cancelled = false
	e.paused = false
	e.recorded = nil
	e.messageLog = nil
	e.lastResults = nil
	e.currentPlan = ""
	e.lastActive = time.Now()
}

// Cancel requests cooperative cancellation. Idempotent; the running task
// emits exactly one TASK_CANCEL at its next checkpoint. An in-flight page
// action is allowed to finish.
func (e *Executor) Cancel() {
	e.mu.Lock()
	e.cancelled = true
	e.paused = false
	cancel := e.runCancel
	e.pauseCond.Broadcast()
	e.mu.Unlock()
	// Abandon in-flight LLM calls; page actions run to completion.
	if cancel != nil {
		cancel()
	}
}

// Pause parks the step loop at the next checkpoint without losing context.
func (e *Executor) Pause() {
	e.mu.Lock()
	if e.status != StatusRunning {
		e.mu.Unlock()
		return
	}
	e.paused = true
	e.status = StatusPaused
	e.mu.Unlock()
	e.emit(events.ActorSystem, events.TaskPause, "Task paused", "")
}

// Resume releases a paused task.
func (e *Executor) Resume() {
	e.mu.Lock()
	if !e.paused {
		e.mu.Unlock()
		return
	}
	e.paused = false
	if e.status == StatusPaused {
		e.status = StatusRunning
	}
	e.pauseCond.Broadcast()
	e.mu.Unlock()
	e.emit(events.ActorSystem, events.TaskResume, "Task resumed", "")
}

// Wait blocks until the current run (and queued follow-ups) finish. Test
// helper and shutdown aid.
func (e *Executor) Wait() { e.runWaitGroup.Wait() }

// Close shuts down the event bus. The controller calls this when reaping an
// idle executor.
func (e *Executor) Close() { e.bus.Close() }

// checkpoint blocks while paused and reports whether the task was
// cancelled. Called before and after each agent call and before each
// action.
func (e *Executor) checkpoint() (cancelled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.paused && !e.cancelled {
		e.pauseCond.Wait()
	}
	e.lastActive = time.Now()
	return e.cancelled
}

// emit publishes an execution event for the current task. Must be called
// without e.mu held.
func (e *Executor) emit(actor events.Actor, state events.State, details string, messageType events.MessageType) {
	e.mu.Lock()
	taskID := ""
	if e.currentTask != nil {
		taskID = e.currentTask.ID
	}
	step := e.stepCount
	e.mu.Unlock()

	e.bus.Publish(events.New(actor, state, events.EventData{
		TaskID:      taskID,
		Step:        step,
		MaxSteps:    e.settings.MaxSteps,
		Details:     details,
		MessageType: messageType,
	}))
}

// setStep records the current step number for event stamping.
func (e *Executor) setStep(n int) {
	e.mu.Lock()
	e.stepCount = n
	e.mu.Unlock()
}
