package providers

import (
	"context"
	"sync"

	"github.com/thinksuit/thinksuit/pkg/models"
)

// MockProvider replays a scripted sequence of results. Tests use it to
// drive the execution pipeline without a network backend.
type MockProvider struct {
	mu      sync.Mutex
	script  []MockTurn
	calls   []*Request
	nameTag string
}

// MockTurn is one scripted response or error.
type MockTurn struct {
	Result *Result
	Err    error
}

// NewMockProvider builds a provider that returns the given turns in order.
// Once the script is exhausted it repeats the final turn.
func NewMockProvider(turns ...MockTurn) *MockProvider {
	return &MockProvider{script: turns, nameTag: "mock"}
}

// MockText is a convenience turn: a completed text response.
func MockText(output string) MockTurn {
	return MockTurn{Result: &Result{
		Output:       output,
		Model:        "mock-model",
		FinishReason: FinishComplete,
		Usage:        Usage{Prompt: 10, Completion: 10},
	}}
}

// MockToolUse is a convenience turn: a response requesting one tool call.
func MockToolUse(callID, tool, args string) MockTurn {
	return MockTurn{Result: &Result{
		Model:        "mock-model",
		FinishReason: FinishToolUse,
		Usage:        Usage{Prompt: 10, Completion: 5},
		ToolCalls: []models.ToolCall{{
			ID:       callID,
			Function: models.FunctionCall{Name: tool, Arguments: args},
		}},
	}}
}

func (p *MockProvider) Name() string { return p.nameTag }

func (p *MockProvider) CallLLM(ctx context.Context, req *Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.WrapError(models.CodeAbort, err, "mock call aborted")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if len(p.script) == 0 {
		return &Result{Output: "ok", Model: "mock-model", FinishReason: FinishComplete}, nil
	}
	idx := len(p.calls) - 1
	if idx >= len(p.script) {
		idx = len(p.script) - 1
	}
	turn := p.script[idx]
	if turn.Err != nil {
		return nil, turn.Err
	}
	out := *turn.Result
	return &out, nil
}

// Calls returns the requests received so far.
func (p *MockProvider) Calls() []*Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Request, len(p.calls))
	copy(out, p.calls)
	return out
}
