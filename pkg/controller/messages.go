package controller

import (
	"errors"

	"webpilot/pkg/events"
)

// portNamePrefix is the connection-name prefix a side panel uses to declare
// its tab: side-panel-connection-<tabId>.
const portNamePrefix = "side-panel-connection-"

// Inbound message types.
const (
	msgHeartbeat      = "heartbeat"
	msgNewTask        = "new_task"
	msgFollowUpTask   = "follow_up_task"
	msgCancelTask     = "cancel_task"
	msgPauseTask      = "pause_task"
	msgResumeTask     = "resume_task"
	msgScreenshot     = "screenshot"
	msgThinkingSteps  = "get_thinking_steps"
	msgExecutorStatus = "check_executor_status"
	msgState          = "state"
	msgNoHighlight    = "nohighlight"
	msgReplay         = "replay"
)

// Outbound reply types.
const (
	replyHeartbeatAck   = "heartbeat_ack"
	replyError          = "error"
	replyWarning        = "warning"
	replySuccess        = "success"
	replyScreenshot     = "screenshot"
	replyThinkingSteps  = "thinking_steps"
	replyExecutorStatus = "executor_status"
	replyState          = "state"
)

// inboundMessage is a text-tagged control record from a port.
type inboundMessage struct {
	Type             string `json:"type"`
	Task             string `json:"task,omitempty"`
	TaskID           string `json:"taskId,omitempty"`
	TabID            int    `json:"tabId,omitempty"`
	HistorySessionID string `json:"historySessionId,omitempty"`
}

// reply is a typed response to a control message.
type reply struct {
	Type          string                `json:"type"`
	Message       string                `json:"message,omitempty"`
	Error         string                `json:"error,omitempty"`
	Data          string                `json:"data,omitempty"`
	IsRunning     *bool                 `json:"isRunning,omitempty"`
	Steps         []events.ThinkingStep `json:"steps,omitempty"`
	ThinkingSteps []events.ThinkingStep `json:"thinkingSteps,omitempty"`
}

// Setup-time errors surfaced synchronously to the port caller.
var (
	ErrNoAPIKey     = errors.New("no API key configured")
	ErrNoAgentModel = errors.New("no agent model configured")
	ErrNoTabID      = errors.New("message carries no tab id")
)
