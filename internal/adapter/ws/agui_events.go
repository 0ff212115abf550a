// Package ws -- AG-UI (Agent-User Interaction) protocol event types.
// These follow the CopilotKit AG-UI specification for agent <-> frontend streaming.
// The executor publishes these through the same Publisher as the plain
// execution.display events in events.go, under the message types below.
package ws

// AG-UI event type constants.
const (
	AGUIRunStarted  = "agui.run_started"
	AGUIRunFinished = "agui.run_finished"
	AGUITextMessage = "agui.text_message"
	AGUIToolCall    = "agui.tool_call"
	AGUIToolResult  = "agui.tool_result"
)

// AGUIRunStartedEvent signals that an agent run has begun.
type AGUIRunStartedEvent struct {
	RunID     string `json:"run_id"`
	ThreadID  string `json:"thread_id,omitempty"`
	AgentName string `json:"agent_name,omitempty"`
}

// AGUIRunFinishedEvent signals that an agent run has completed.
type AGUIRunFinishedEvent struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"` // "completed", "failed", "cancelled", "incomplete"
}

// AGUITextMessageEvent carries a text chunk from the agent.
type AGUITextMessageEvent struct {
	RunID   string `json:"run_id"`
	Role    string `json:"role"` // "assistant"
	Content string `json:"content"`
}

// AGUIToolCallEvent signals a tool invocation by the agent.
type AGUIToolCallEvent struct {
	RunID  string `json:"run_id"`
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Args   string `json:"args"` // JSON-encoded arguments
}

// AGUIToolResultEvent carries the result of a tool invocation.
type AGUIToolResultEvent struct {
	RunID  string `json:"run_id"`
	CallID string `json:"call_id"`
	Result string `json:"result"` // JSON-encoded result
	Error  string `json:"error,omitempty"`
}
