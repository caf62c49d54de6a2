package models

import "time"

// Level is the severity attached to a journal entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Entry is one record in a session's append-only journal. Entries are
// serialized as line-delimited JSON; readers may observe any prefix of the
// stream and must tolerate an incomplete trailing line.
type Entry struct {
	Time         time.Time      `json:"time"`
	SessionID    string         `json:"sessionId"`
	Event        string         `json:"event"`
	Type         string         `json:"type,omitempty"`
	Msg          string         `json:"msg,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	Level        Level          `json:"level,omitempty"`
	TraceID      string         `json:"traceId,omitempty"`
	SpanID       string         `json:"spanId,omitempty"`
	ParentSpanID string         `json:"parentSpanId,omitempty"`
}

// Journal event names. The set is closed: every entry written by the core
// uses one of these.
const (
	EventSessionInput     = "session.input"
	EventSessionResponse  = "session.response"
	EventSessionError     = "session.error"
	EventSessionHeartbeat = "session.heartbeat"

	EventExecutionStart    = "execution.start"
	EventExecutionComplete = "execution.complete"

	EventSignalsDetected      = "processing.signals.detected"
	EventFactsAggregated      = "processing.facts.aggregated"
	EventPlanSelected         = "processing.plan.selected"
	EventInstructionsComposed = "processing.instructions.composed"
	EventLLMRequest           = "processing.llm.request"
	EventLLMResponse          = "processing.llm.response"
	EventToolCall             = "processing.tool.call"
	EventToolApprovalRequest  = "processing.tool.approval_request"

	EventMCPStartup      = "system.mcp.startup"
	EventMCPShutdown     = "system.mcp.shutdown"
	EventMCPToolConflict = "system.mcp.tool_conflict"
	EventBudgetExceeded  = "system.budget.exceeded"

	// EventTraceTransition appears only in trace streams, never in a
	// session's journal.
	EventTraceTransition = "trace.transition"
)

// SessionStatus is the derived state of a session.
type SessionStatus string

const (
	StatusInitialized SessionStatus = "initialized"
	StatusReady       SessionStatus = "ready"
	StatusBusy        SessionStatus = "busy"
	StatusError       SessionStatus = "error"
)

// SessionMetadata is the per-session metadata document persisted alongside
// the stream file.
type SessionMetadata struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Status    SessionStatus `json:"status"`
	Fork      *ForkInfo     `json:"fork,omitempty"`
}

// ForkInfo records the origin of a forked session.
type ForkInfo struct {
	SourceSessionID string `json:"sourceSessionId"`
	ForkFromIndex   int    `json:"forkFromIndex"`
}
