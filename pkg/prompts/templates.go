// Package prompts provides the system prompt templates for the planner,
// navigator, and validator agents.
package prompts

import (
	"fmt"
	"strings"
)

// PlannerSystemPrompt instructs the planner to break a goal into steps and
// decide whether it needs the web at all.
const PlannerSystemPrompt = `You are a task planner for a browser automation agent.

You receive the user's goal, the recent conversation, and the current page URL and title. Decide how the agent should proceed.

Respond with a single JSON object and nothing else:
{
  "observation": "what you see in the current state",
  "challenges": "difficulties you anticipate, if any",
  "done": false,
  "next_steps": "concrete next steps for the navigator, or the final answer when done",
  "reasoning": "why these steps",
  "web_task": true
}

Rules:
- Set "web_task" to false when the goal can be answered directly without using a browser (greetings, general knowledge, calculations). In that case put the complete answer in "next_steps".
- Set "done" to true only when the user's goal is fully achieved; then "next_steps" holds the final summary.
- Keep "next_steps" short and imperative.`

// NavigatorSystemPrompt instructs the navigator to emit validated action
// sequences against the current DOM snapshot.
func NavigatorSystemPrompt(actionCatalog string, maxActionsPerStep int) string {
	return fmt.Sprintf(`You are a web navigation agent. You interact with pages exclusively through the actions listed below, addressing elements by the numeric index shown in square brackets in the page description.

Available actions:
%s
Respond with a single JSON object and nothing else:
{
  "current_state": {
    "evaluation_previous_goal": "Success|Failed|Unknown - evaluate whether the previous goal was achieved",
    "memory": "what has been done so far and what to remember",
    "next_goal": "what the next actions should accomplish"
  },
  "action": [
    {"action_name": {"parameter": "value"}}
  ]
}

Rules:
- Use at most %d actions per response; they run in order and the sequence stops at the first failure.
- Only use element indexes present in the current page description. Never invent indexes.
- When the task is complete, respond with a single "done" action carrying the result and success flag.
- If the page is not what you expected, re-plan instead of repeating the same failing action.`, actionCatalog, maxActionsPerStep)
}

// ValidatorSystemPrompt instructs the validator to judge whether the task
// goal was actually achieved.
const ValidatorSystemPrompt = `You are a validator for a browser automation agent. Given the original task and the state after the agent finished a step, judge whether the task goal is satisfied.

Respond with a single JSON object and nothing else:
{
  "is_valid": true,
  "reason": "why the outcome does or does not satisfy the task",
  "answer": "the final answer extracted from the page, when the task asked for one"
}

Be strict: partial progress is not valid. Judge only from the provided state.`

// UserTaskMessage renders the task description as the first user message.
func UserTaskMessage(task string) string {
	return fmt.Sprintf("Your task: %s", strings.TrimSpace(task))
}

// BrowserStateMessage renders a page snapshot for the navigator.
func BrowserStateMessage(url, title, clickableElements string, pixelsAbove, pixelsBelow int, tabLines []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Current url: %s\n", url)
	fmt.Fprintf(&sb, "Current title: %s\n", title)
	if len(tabLines) > 0 {
		sb.WriteString("Open tabs:\n")
		for _, l := range tabLines {
			sb.WriteString("  " + l + "\n")
		}
	}
	sb.WriteString("Interactive elements on the page:\n")
	if clickableElements == "" {
		sb.WriteString("(no interactive elements visible)\n")
	} else {
		sb.WriteString(clickableElements + "\n")
	}
	if pixelsAbove > 0 {
		fmt.Fprintf(&sb, "... %d pixels above - scroll up to see more ...\n", pixelsAbove)
	}
	if pixelsBelow > 0 {
		fmt.Fprintf(&sb, "... %d pixels below - scroll down to see more ...\n", pixelsBelow)
	}
	return sb.String()
}

// ActionResultsMessage renders the previous step's action outcomes.
func ActionResultsMessage(results []string) string {
	if len(results) == 0 {
		return "No actions executed yet."
	}
	var sb strings.Builder
	sb.WriteString("Results of previous actions:\n")
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, r)
	}
	return sb.String()
}
