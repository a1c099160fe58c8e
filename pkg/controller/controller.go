// Package controller is the process-wide broker between UI ports and
// per-tab executors: it owns the tab registries, routes control messages,
// forwards execution events, and reaps idle resources.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"webpilot/pkg/actions"
	"webpilot/pkg/agents"
	"webpilot/pkg/browser"
	"webpilot/pkg/config"
	"webpilot/pkg/events"
	"webpilot/pkg/executor"
	"webpilot/pkg/history"
	"webpilot/pkg/llm"
	"webpilot/pkg/logger"
	"webpilot/pkg/notify"
)

// Idle reaping defaults; configurable via the Controller fields before
// Start.
const (
	defaultExecutorIdleTTL = 5 * time.Minute
	defaultContextIdleTTL  = 1 * time.Minute
	cleanupInterval        = 30 * time.Second
)

// Controller owns the per-tab registries. All registry mutations happen
// under one mutex; reads go through explicit getters.
type Controller struct {
	cfg     *config.Config
	browser *browser.Browser
	store   *history.Store
	log     *zap.Logger

	// newExecutor builds the executor for a tab; tests substitute fakes.
	newExecutor func(tabID int) (*executor.Executor, error)

	// notifier, when set, receives terminal task events.
	notifier *notify.Telegram

	ExecutorIdleTTL time.Duration
	ContextIdleTTL  time.Duration

	mu            sync.Mutex
	contexts      map[int]*browser.Context
	contextIdleAt map[int]time.Time
	executors     map[int]*executor.Executor
	ports         map[int]*port
	portToTab     map[*port]int
	taskSessions  map[int]map[int]bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a controller over a browser connector and history store.
func New(cfg *config.Config, b *browser.Browser, store *history.Store) *Controller {
	c := &Controller{
		cfg:             cfg,
		browser:         b,
		store:           store,
		log:             logger.Named("controller"),
		ExecutorIdleTTL: defaultExecutorIdleTTL,
		ContextIdleTTL:  defaultContextIdleTTL,
		contexts:        make(map[int]*browser.Context),
		contextIdleAt:   make(map[int]time.Time),
		executors:       make(map[int]*executor.Executor),
		ports:           make(map[int]*port),
		portToTab:       make(map[*port]int),
		taskSessions:    make(map[int]map[int]bool),
		stop:            make(chan struct{}),
	}
	c.newExecutor = c.buildExecutor
	return c
}

// Start launches the background cleanup loop.
func (c *Controller) Start() {
	c.wg.Add(1)
	go c.cleanupLoop()
}

// Stop halts background work and drops all ports.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()

	c.mu.Lock()
	for _, p := range c.ports {
		p.close()
	}
	// Executors are closed after c.mu is released: Close waits for the
	// event bus to drain, and the drain goroutine takes c.mu in dispatchEvent.
	var executors []*executor.Executor
	for tabID, ex := range c.executors {
		executors = append(executors, ex)
		delete(c.executors, tabID)
	}
	var contexts []*browser.Context
	for tabID, bctx := range c.contexts {
		contexts = append(contexts, bctx)
		delete(c.contexts, tabID)
	}
	c.mu.Unlock()

	for _, ex := range executors {
		ex.Cancel()
		ex.Close()
	}
	for _, bctx := range contexts {
		bctx.Cleanup()
	}
}

// --- registries ---

// ensureContext returns the tab's browser context, creating and silently
// attaching one on first use.
func (c *Controller) ensureContext(tabID int) (*browser.Context, error) {
	c.mu.Lock()
	bctx, ok := c.contexts[tabID]
	c.mu.Unlock()
	if ok {
		return bctx, nil
	}

	fw := c.cfg.Firewall
	bctx = browser.NewContext(c.browser, tabID, browser.Config{
		FirewallEnabled:         fw.Enabled,
		AllowedURLs:             fw.AllowList,
		DeniedURLs:              fw.DenyList,
		MinimumWaitPageLoadTime: time.Duration(c.cfg.General.MinWaitPageLoadMs) * time.Millisecond,
		DisplayHighlights:       c.cfg.General.DisplayHighlights,
		IncludeAttributes:       c.cfg.Browser.IncludeAttributes,
	})
	bctx.SetDetachHandler(c.onDetach)

	if _, err := bctx.GetPageForTab(tabID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	// Another goroutine may have won the race.
	if existing, ok := c.contexts[tabID]; ok {
		c.mu.Unlock()
		bctx.Cleanup()
		return existing, nil
	}
	c.contexts[tabID] = bctx
	c.contextIdleAt[tabID] = time.Now()
	c.mu.Unlock()
	return bctx, nil
}

// ensureExecutor returns the tab's executor, creating one (and its context
// and event subscription) on first use.
func (c *Controller) ensureExecutor(tabID int) (*executor.Executor, error) {
	c.mu.Lock()
	ex, ok := c.executors[tabID]
	c.mu.Unlock()
	if ok {
		return ex, nil
	}

	ex, err := c.newExecutor(tabID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if existing, ok := c.executors[tabID]; ok {
		c.mu.Unlock()
		ex.Close()
		return existing, nil
	}
	c.executors[tabID] = ex
	if c.taskSessions[tabID] == nil {
		c.taskSessions[tabID] = map[int]bool{tabID: true}
	}
	c.mu.Unlock()

	// Subscribe once; events route to the original tab's port only.
	ex.Subscribe(func(ev events.Event) { c.dispatchEvent(tabID, ex, ev) })
	if c.notifier != nil {
		ex.Subscribe(c.notifier.Subscriber())
	}
	return ex, nil
}

// SetNotifier attaches an optional terminal-event notifier.
func (c *Controller) SetNotifier(n *notify.Telegram) { c.notifier = n }

// buildExecutor wires models, registry, and browser session for a tab.
func (c *Controller) buildExecutor(tabID int) (*executor.Executor, error) {
	if !c.cfg.Navigator.IsConfigured() {
		return nil, ErrNoAgentModel
	}
	if c.cfg.Navigator.APIKey == "" && c.cfg.Navigator.Provider != "ollama" {
		return nil, ErrNoAPIKey
	}

	bctx, err := c.ensureContext(tabID)
	if err != nil {
		return nil, err
	}

	navClient := clientFor(c.cfg.Navigator)
	session := executor.NewBrowserSession(bctx, executor.NewExtractor(navClient))

	registry := actions.NewRegistry()
	actions.RegisterBuiltins(registry, session)

	gen := c.cfg.General
	navigator := agents.NewNavigator(navClient, paramsFor(c.cfg.Navigator), registry, gen.MaxActionsPerStep, gen.UseVision)
	planner := agents.NewPlanner(clientFor(c.cfg.Planner), paramsFor(c.cfg.Planner), gen.UseVisionForPlanner)

	var validator executor.Validator
	if gen.ValidateResults {
		validator = agents.NewValidator(clientFor(c.cfg.Validator), paramsFor(c.cfg.Validator))
	}

	settings := executor.Settings{
		MaxSteps:            gen.MaxSteps,
		MaxFailures:         gen.MaxFailures,
		MaxActionsPerStep:   gen.MaxActionsPerStep,
		PlanningInterval:    gen.PlanningInterval,
		UseVision:           gen.UseVision,
		UseVisionForPlanner: gen.UseVisionForPlanner,
		ValidateResults:     gen.ValidateResults,
	}
	return executor.New(tabID, session, registry, planner, navigator, validator, c.store, settings), nil
}

func clientFor(m config.AgentModelConfig) *llm.Client {
	return llm.NewClientWithProvider(m.APIBaseURL, m.APIKey, m.Model, m.Provider)
}

func paramsFor(m config.AgentModelConfig) llm.Params {
	return llm.Params{Temperature: m.Temperature, TopP: m.TopP, MaxTokens: m.MaxTokens}
}

// --- event routing ---

// dispatchEvent forwards an executor event to the original tab's port. When
// the port is gone, thinking-type events are written into chat history so a
// late-reconnecting UI reloads correctly; the executor itself persists the
// user and final messages.
func (c *Controller) dispatchEvent(tabID int, ex *executor.Executor, ev events.Event) {
	c.mu.Lock()
	p := c.ports[tabID]
	c.mu.Unlock()

	if p != nil {
		data, err := json.Marshal(ev)
		if err == nil && p.send(data) {
			return
		}
	}

	if c.store != nil && ev.Data.MessageType == events.MessageTypeThinking {
		sessionID := ex.SessionID()
		if sessionID == "" {
			return
		}
		err := c.store.AppendMessage(context.Background(), sessionID, history.Message{
			Actor:       string(ev.Actor),
			Content:     ev.Data.Details,
			Timestamp:   ev.Timestamp,
			MessageType: string(events.MessageTypeThinking),
			TaskID:      ev.Data.TaskID,
		})
		if err != nil {
			c.log.Warn("offline history write failed", zap.Error(err))
		}
	}
}

// onDetach handles CDP detach notifications. Only a user-initiated detach
// cancels the executor; other reasons reattach transparently on the next
// operation.
func (c *Controller) onDetach(tabID int, reason string) {
	if reason != "canceled_by_user" {
		c.log.Debug("cdp detached", zap.Int("tab", tabID), zap.String("reason", reason))
		return
	}
	c.mu.Lock()
	ex := c.executors[tabID]
	c.mu.Unlock()
	if ex != nil {
		c.log.Info("user cancelled debugging, cancelling task", zap.Int("tab", tabID))
		ex.Cancel()
	}
}

// --- lifecycle / cleanup ---

func (c *Controller) cleanupLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.reapIdle()
			c.pruneClosedTabs()
		}
	}
}

// reapIdle deletes executors idle past ExecutorIdleTTL and contexts with no
// executor past ContextIdleTTL.
func (c *Controller) reapIdle() {
	now := time.Now()

	c.mu.Lock()
	var deadExecutors []int
	for tabID, ex := range c.executors {
		if !ex.IsRunning() && now.Sub(ex.LastActive()) >= c.ExecutorIdleTTL {
			deadExecutors = append(deadExecutors, tabID)
		}
	}
	for _, tabID := range deadExecutors {
		ex := c.executors[tabID]
		delete(c.executors, tabID)
		c.contextIdleAt[tabID] = now
		go ex.Close()
		c.log.Debug("reaped idle executor", zap.Int("tab", tabID))
	}

	var deadContexts []int
	for tabID, bctx := range c.contexts {
		if _, hasExecutor := c.executors[tabID]; hasExecutor {
			c.contextIdleAt[tabID] = now
			continue
		}
		if now.Sub(c.contextIdleAt[tabID]) >= c.ContextIdleTTL {
			deadContexts = append(deadContexts, tabID)
			go bctx.Cleanup()
		}
	}
	for _, tabID := range deadContexts {
		delete(c.contexts, tabID)
		delete(c.contextIdleAt, tabID)
		delete(c.taskSessions, tabID)
		c.log.Debug("reaped idle context", zap.Int("tab", tabID))
	}
	c.mu.Unlock()
}

// pruneClosedTabs drops state for tabs that no longer exist in the browser.
func (c *Controller) pruneClosedTabs() {
	tabs, err := c.browser.ListTabs()
	if err != nil {
		return
	}
	alive := make(map[int]bool, len(tabs))
	for _, t := range tabs {
		alive[t.TabID] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for tabID := range c.contexts {
		if alive[tabID] {
			// Refresh task-session membership from the context.
			set := map[int]bool{tabID: true}
			for _, member := range c.contexts[tabID].AttachedTabs() {
				set[member] = true
			}
			c.taskSessions[tabID] = set
			continue
		}
		c.removeTabLocked(tabID)
	}
}

// removeTabLocked tears down all per-tab state. Caller holds c.mu.
func (c *Controller) removeTabLocked(tabID int) {
	if ex, ok := c.executors[tabID]; ok {
		ex.Cancel()
		go ex.Close()
		delete(c.executors, tabID)
	}
	if bctx, ok := c.contexts[tabID]; ok {
		go bctx.Cleanup()
		delete(c.contexts, tabID)
		delete(c.contextIdleAt, tabID)
	}
	if p, ok := c.ports[tabID]; ok {
		p.close()
		delete(c.ports, tabID)
		delete(c.portToTab, p)
	}
	delete(c.taskSessions, tabID)
	// Prune membership of this tab in other task sessions.
	for origin, set := range c.taskSessions {
		delete(set, tabID)
		if len(set) == 0 {
			delete(c.taskSessions, origin)
		}
	}
	c.log.Info("removed tab state", zap.Int("tab", tabID))
}

// executorFor returns the executor for a tab, if any.
func (c *Controller) executorFor(tabID int) (*executor.Executor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ex, ok := c.executors[tabID]
	return ex, ok
}

// contextFor returns the browser context for a tab, if any.
func (c *Controller) contextFor(tabID int) (*browser.Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bctx, ok := c.contexts[tabID]
	return bctx, ok
}

// handleMessage routes one inbound control message and returns the reply to
// send (nil when the message produces only events).
func (c *Controller) handleMessage(p *port, msg inboundMessage) *reply {
	switch msg.Type {
	case msgHeartbeat:
		return &reply{Type: replyHeartbeatAck}

	case msgNewTask:
		return c.handleNewTask(p, msg)

	case msgFollowUpTask:
		return c.handleFollowUp(p, msg)

	case msgCancelTask:
		if ex, ok := c.executorFor(c.tabFor(p, msg)); ok {
			ex.Cancel()
			return &reply{Type: replySuccess, Message: "Cancellation requested"}
		}
		return &reply{Type: replyError, Error: "no active task"}

	case msgPauseTask:
		if ex, ok := c.executorFor(c.tabFor(p, msg)); ok {
			ex.Pause()
			return &reply{Type: replySuccess, Message: "Task paused"}
		}
		return &reply{Type: replyError, Error: "no active task"}

	case msgResumeTask:
		if ex, ok := c.executorFor(c.tabFor(p, msg)); ok {
			ex.Resume()
			return &reply{Type: replySuccess, Message: "Task resumed"}
		}
		return &reply{Type: replyError, Error: "no active task"}

	case msgScreenshot:
		return c.handleScreenshot(c.tabFor(p, msg))

	case msgThinkingSteps:
		if ex, ok := c.executorFor(c.tabFor(p, msg)); ok {
			return &reply{Type: replyThinkingSteps, Steps: ex.GetThinkingSteps()}
		}
		return &reply{Type: replyThinkingSteps, Steps: []events.ThinkingStep{}}

	case msgExecutorStatus:
		running := false
		var steps []events.ThinkingStep
		if ex, ok := c.executorFor(c.tabFor(p, msg)); ok {
			running = ex.IsRunning()
			steps = ex.GetThinkingSteps()
		}
		return &reply{Type: replyExecutorStatus, IsRunning: &running, ThinkingSteps: steps}

	case msgState:
		return c.handleState(c.tabFor(p, msg))

	case msgNoHighlight:
		if bctx, ok := c.contextFor(c.tabFor(p, msg)); ok {
			if page, err := bctx.GetCurrentPage(); err == nil {
				_ = page.RemoveHighlight(context.Background())
			}
		}
		return &reply{Type: replySuccess}

	case msgReplay:
		return c.handleReplay(p, msg)

	default:
		return &reply{Type: replyError, Error: fmt.Sprintf("unknown message type %q", msg.Type)}
	}
}

// tabFor resolves the tab a message addresses: the explicit field wins,
// falling back to the port's declared tab.
func (c *Controller) tabFor(p *port, msg inboundMessage) int {
	if msg.TabID != 0 {
		return msg.TabID
	}
	if p != nil {
		return p.tabID
	}
	return 0
}

func (c *Controller) handleNewTask(p *port, msg inboundMessage) *reply {
	tabID := c.tabFor(p, msg)
	if tabID == 0 {
		return &reply{Type: replyError, Error: ErrNoTabID.Error()}
	}
	if msg.Task == "" {
		return &reply{Type: replyError, Error: "task description is empty"}
	}

	ex, err := c.ensureExecutor(tabID)
	if err != nil {
		return &reply{Type: replyError, Error: err.Error()}
	}

	task := executor.NewTask(msg.Task)
	if msg.TaskID != "" {
		task.ID = msg.TaskID
	}
	if err := ex.Execute(task); err != nil {
		// Busy executor queues the task; tell the UI.
		return &reply{Type: replyWarning, Message: "Task queued"}
	}
	return nil
}

func (c *Controller) handleFollowUp(p *port, msg inboundMessage) *reply {
	tabID := c.tabFor(p, msg)
	if tabID == 0 {
		return &reply{Type: replyError, Error: ErrNoTabID.Error()}
	}

	ex, err := c.ensureExecutor(tabID)
	if err != nil {
		return &reply{Type: replyError, Error: err.Error()}
	}

	task := executor.NewTask(msg.Task)
	if msg.TaskID != "" {
		task.ID = msg.TaskID
	}
	if queued := ex.AddFollowUpTask(task); queued {
		return &reply{Type: replyWarning, Message: "Task queued"}
	}
	return nil
}

func (c *Controller) handleScreenshot(tabID int) *reply {
	if tabID == 0 {
		return &reply{Type: replyError, Error: ErrNoTabID.Error()}
	}
	bctx, err := c.ensureContext(tabID)
	if err != nil {
		return &reply{Type: replyError, Error: err.Error()}
	}
	page, err := bctx.GetPageForTab(tabID)
	if err != nil {
		return &reply{Type: replyError, Error: err.Error()}
	}
	shot, err := page.TakeScreenshot(context.Background())
	if err != nil {
		return &reply{Type: replyError, Error: err.Error()}
	}
	return &reply{Type: replyScreenshot, Data: shot}
}

func (c *Controller) handleState(tabID int) *reply {
	bctx, ok := c.contextFor(tabID)
	if !ok {
		return &reply{Type: replyState, Message: "no browser context attached"}
	}
	running := false
	if ex, ok := c.executorFor(tabID); ok {
		running = ex.IsRunning()
	}
	msg := fmt.Sprintf("current tab %d, attached tabs %v, executor running %v",
		bctx.CurrentTabID(), bctx.AttachedTabs(), running)
	return &reply{Type: replyState, Message: msg}
}

func (c *Controller) handleReplay(p *port, msg inboundMessage) *reply {
	tabID := c.tabFor(p, msg)
	if tabID == 0 {
		return &reply{Type: replyError, Error: ErrNoTabID.Error()}
	}
	if !c.cfg.General.ReplayHistoricalTasks {
		return &reply{Type: replyError, Error: "replay is disabled"}
	}
	if msg.HistorySessionID == "" {
		return &reply{Type: replyError, Error: "historySessionId is required"}
	}

	ex, err := c.ensureExecutor(tabID)
	if err != nil {
		return &reply{Type: replyError, Error: err.Error()}
	}
	task := executor.NewTask(msg.Task)
	if msg.TaskID != "" {
		task.ID = msg.TaskID
	}
	if err := ex.Replay(task, msg.HistorySessionID); err != nil {
		return &reply{Type: replyError, Error: err.Error()}
	}
	return nil
}
