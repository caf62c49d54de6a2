// Package providers implements the uniform callLLM capability over
// heterogeneous LLM backends. Adapters translate the request envelope to the
// backend wire format and normalize responses; backend-specific enums never
// leak past this package.
package providers

import (
	"context"
	"encoding/json"

	"github.com/thinksuit/thinksuit/pkg/models"
)

// FinishReason is the normalized completion status of an LLM call.
type FinishReason string

const (
	FinishComplete  FinishReason = "complete"
	FinishMaxTokens FinishReason = "max_tokens"
	FinishToolUse   FinishReason = "tool_use"
	FinishSafety    FinishReason = "safety"
	FinishOther     FinishReason = "other"
)

// ToolSchema describes one tool offered to the model.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Request is the uniform LLM request envelope.
type Request struct {
	Model              string
	SystemInstructions string
	Thread             models.Thread
	MaxTokens          int
	Temperature        *float64
	Stop               []string
	ResponseFormat     string // "" or "json"
	Tools              []string
	ToolSchemas        []ToolSchema
}

// Usage reports token consumption for one call.
type Usage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
}

// Result is the uniform LLM response envelope.
type Result struct {
	Output       string            `json:"output"`
	Usage        Usage             `json:"usage"`
	Model        string            `json:"model"`
	FinishReason FinishReason      `json:"finishReason"`
	ToolCalls    []models.ToolCall `json:"toolCalls,omitempty"`
	Raw          any               `json:"-"`
}

// Provider is a single LLM backend. Implementations must be safe for
// concurrent use and must observe ctx cancellation for in-flight calls.
type Provider interface {
	Name() string
	CallLLM(ctx context.Context, req *Request) (*Result, error)
}
