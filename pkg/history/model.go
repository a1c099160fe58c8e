package history

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"

	"webpilot/pkg/actions"
	"webpilot/pkg/events"
)

// Message is one chat-history entry as exposed to callers.
type Message struct {
	Actor         string                `json:"actor"` // USER, SYSTEM, PLANNER, NAVIGATOR, VALIDATOR
	Content       string                `json:"content"`
	Timestamp     int64                 `json:"timestamp"`
	MessageType   string                `json:"messageType"` // user, assistant, thinking, progress
	TaskID        string                `json:"taskId,omitempty"`
	ThinkingSteps []events.ThinkingStep `json:"thinkingSteps,omitempty"`
}

// Session groups a user task and its follow-ups.
type Session struct {
	ID        string    `json:"id"`
	TabID     int       `json:"tabId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	Messages  []Message `json:"messages,omitempty"`
}

// ReplayStep is one recorded (action, inputs) tuple for deterministic
// replay.
type ReplayStep struct {
	Action actions.Call `json:"action"`
}

// --- bun models ---

type sessionModel struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	ID        string    `bun:"id,pk"`
	TabID     int       `bun:"tab_id,notnull"`
	Title     string    `bun:"title,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

func (m *sessionModel) toDTO() Session {
	return Session{
		ID:        m.ID,
		TabID:     m.TabID,
		Title:     m.Title,
		CreatedAt: m.CreatedAt,
	}
}

type messageModel struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID            int64  `bun:"id,pk,autoincrement"`
	SessionID     string `bun:"session_id,notnull"`
	Actor         string `bun:"actor,notnull"`
	Content       string `bun:"content,notnull"`
	Timestamp     int64  `bun:"timestamp,notnull"`
	MessageType   string `bun:"message_type,notnull"`
	TaskID        string `bun:"task_id"`
	ThinkingSteps string `bun:"thinking_steps"` // JSON array stored as string
}

func (m *messageModel) toDTO() Message {
	msg := Message{
		Actor:       m.Actor,
		Content:     m.Content,
		Timestamp:   m.Timestamp,
		MessageType: m.MessageType,
		TaskID:      m.TaskID,
	}
	if m.ThinkingSteps != "" && m.ThinkingSteps != "[]" {
		_ = json.Unmarshal([]byte(m.ThinkingSteps), &msg.ThinkingSteps)
	}
	return msg
}

type replayModel struct {
	bun.BaseModel `bun:"table:replay_histories,alias:r"`

	SessionID string    `bun:"session_id,pk"`
	TabID     int       `bun:"tab_id,notnull"`
	Steps     string    `bun:"steps,notnull"` // JSON array stored as string
	CreatedAt time.Time `bun:"created_at,notnull"`
}
