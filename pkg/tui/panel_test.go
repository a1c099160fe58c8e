package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"webpilot/pkg/events"
)

func TestHandleEvent_TerminalStatesStopRunning(t *testing.T) {
	for _, state := range []events.State{events.TaskOK, events.TaskFail, events.TaskCancel} {
		m := NewModel(nil, 1)
		m.running = true
		m.handleFrame(incomingMsg{
			"type":  string(events.ExecutionEvent),
			"state": string(state),
			"actor": "system",
			"data":  map[string]any{"details": "done"},
		})
		assert.False(t, m.running, string(state))
		assert.NotEmpty(t, m.lines)
	}
}

func TestHandleFrame_ErrorReply(t *testing.T) {
	m := NewModel(nil, 1)
	m.running = true
	m.handleFrame(incomingMsg{"type": "error", "error": "no API key configured"})
	assert.False(t, m.running)
	assert.Contains(t, m.lines[len(m.lines)-1], "no API key")
}

func TestAppendLine_Bounded(t *testing.T) {
	m := NewModel(nil, 1)
	for i := 0; i < 600; i++ {
		m.appendLine("line")
	}
	assert.LessOrEqual(t, len(m.lines), 500)
}

func TestClipLine(t *testing.T) {
	assert.Equal(t, "a b", clipLine("a\nb", 10))
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	assert.LessOrEqual(t, len(clipLine(string(long), 200)), 204)
}
