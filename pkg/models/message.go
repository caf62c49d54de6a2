// Package models provides domain types for the ThinkSuit orchestration core.
package models

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry in a conversation thread.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// Thread is an ordered conversation history. Threads are values; callers
// that mutate a thread must work on their own copy.
type Thread []Message

// Clone returns a copy of the thread safe for independent mutation.
func (t Thread) Clone() Thread {
	out := make(Thread, len(t))
	copy(out, t)
	return out
}

// Append returns a new thread with msg appended, leaving t untouched.
func (t Thread) Append(msg Message) Thread {
	out := make(Thread, 0, len(t)+1)
	out = append(out, t...)
	return append(out, msg)
}

// LastUser returns the content of the most recent user message, or "".
func (t Thread) LastUser() string {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].Role == RoleUser {
			return t[i].Content
		}
	}
	return ""
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and raw JSON argument string as
// produced by the model.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResponse is the mediated outcome of a single tool invocation.
// Failures are values, not errors: a failed call is fed back to the model
// so it can recover.
type ToolResponse struct {
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}
