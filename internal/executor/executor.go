// Package executor runs execution plans: a single LLM call, a tool-using
// task loop, or a composition of sub-plans run in sequence or in parallel.
// Resource caps from policy bound recursion depth, fanout, child count, and
// the task loop.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thinksuit/thinksuit/internal/compose"
	"github.com/thinksuit/thinksuit/internal/journal"
	"github.com/thinksuit/thinksuit/internal/providers"
	"github.com/thinksuit/thinksuit/internal/tools"
	"github.com/thinksuit/thinksuit/pkg/models"
)

// Task loop defaults applied when a plan's resolution leaves them zero.
const (
	defaultMaxCycles    = 5
	defaultMaxTokens    = 8192
	defaultMaxToolCalls = 10
	defaultTimeoutMs    = 60000
)

// concatSeparator joins branch outputs under the concat result strategy.
const concatSeparator = "\n\n---\n\n"

// ReasonExhausted marks a result cut short by a resource cap rather than a
// natural completion.
const ReasonExhausted = "resource_exhausted"

// Result is the outcome of executing one plan.
type Result struct {
	Output string
	Usage  providers.Usage
	Reason string
}

// ToolRunner is the slice of the tool mediator the executor needs.
type ToolRunner interface {
	Lookup(name string) (*tools.Handle, bool)
	Call(ctx context.Context, sessionID, tool string, args any) models.ToolResponse
}

// Executor executes plans for one turn. It is constructed per turn and
// carries the turn's identity for journaling.
type Executor struct {
	Provider providers.Provider
	Mediator ToolRunner
	Module   *models.Module
	Journal  *journal.Writer
	Logger   *slog.Logger
	Model    string
	Policy   models.Policy

	SessionID string
	TraceID   string

	children atomic.Int64
}

// Execute runs the plan at the given recursion depth. Depth and cumulative
// child caps are enforced here; the task loop enforces its own limits.
func (e *Executor) Execute(ctx context.Context, plan *models.Plan, thread models.Thread, facts []models.Fact, depth int) (*Result, error) {
	if err := plan.Validate(); err != nil {
		return nil, models.WrapError(models.CodeConfigInvalidPlan, err, "plan rejected")
	}
	if depth > e.Policy.MaxDepth {
		return nil, models.NewError(models.CodeResourceDepth,
			"recursion depth %d exceeds maxDepth %d", depth, e.Policy.MaxDepth)
	}
	if err := ctx.Err(); err != nil {
		return nil, models.WrapError(models.CodeAbort, err, "execution aborted")
	}

	switch plan.Strategy {
	case models.StrategyDirect:
		return e.direct(ctx, plan, thread, facts)
	case models.StrategyTask:
		return e.task(ctx, plan, thread, facts)
	case models.StrategySequential:
		return e.sequential(ctx, plan, thread, facts, depth)
	case models.StrategyParallel:
		return e.parallel(ctx, plan, thread, facts, depth)
	default:
		return nil, models.NewError(models.CodeConfigInvalidPlan, "unknown strategy %q", plan.Strategy)
	}
}

// direct is one composed LLM call with no tools.
func (e *Executor) direct(ctx context.Context, plan *models.Plan, thread models.Thread, facts []models.Fact) (*Result, error) {
	result, err := e.callModel(ctx, plan.Role, plan.Adaptations, thread, facts, nil)
	if err != nil {
		return nil, err
	}
	return &Result{Output: result.Output, Usage: result.Usage}, nil
}

// task runs the tool-calling loop: call the model, execute any requested
// tools, feed results back, repeat until the model completes or a
// resolution limit trips.
func (e *Executor) task(ctx context.Context, plan *models.Plan, thread models.Thread, facts []models.Fact) (*Result, error) {
	res := resolutionOf(plan)
	ctx, cancel := context.WithTimeout(ctx, time.Duration(res.TimeoutMs)*time.Millisecond)
	defer cancel()

	schemas := e.toolSchemas(plan.Tools)

	// The primary instruction is applied once, before the loop. Continuation
	// cycles append assistant and tool turns after it; providers reject
	// conversations where a bare user turn follows a tool result.
	in := compose.Compose(e.Module, plan.Role, plan.Adaptations, facts)
	working := compose.ApplyPrimary(thread.Clone(), in)

	var lastOutput string
	var usage providers.Usage
	toolCalls := 0

	for cycle := 0; cycle < res.MaxCycles; cycle++ {
		result, err := e.callModel(ctx, plan.Role, plan.Adaptations, working, facts, schemas)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				if lastOutput != "" {
					return e.exhausted(lastOutput, usage, "timeoutMs"), nil
				}
				return nil, models.WrapError(models.CodeResourceExhausted, err,
					"task loop timed out after %dms with no output", res.TimeoutMs)
			}
			return nil, err
		}
		usage.Prompt += result.Usage.Prompt
		usage.Completion += result.Usage.Completion
		if result.Output != "" {
			lastOutput = result.Output
		}

		if result.FinishReason != providers.FinishToolUse || len(result.ToolCalls) == 0 {
			return &Result{Output: lastOutput, Usage: usage}, nil
		}

		if usage.Prompt+usage.Completion >= res.MaxTokens {
			return e.exhausted(lastOutput, usage, "maxTokens"), nil
		}

		working = append(working, models.Message{
			Role:      models.RoleAssistant,
			Content:   result.Output,
			ToolCalls: result.ToolCalls,
		})
		for _, call := range result.ToolCalls {
			if toolCalls >= res.MaxToolCalls {
				return e.exhausted(lastOutput, usage, "maxToolCalls"), nil
			}
			toolCalls++

			var resp models.ToolResponse
			if e.Mediator != nil {
				resp = e.Mediator.Call(ctx, e.SessionID, call.Function.Name, call.Function.Arguments)
			} else {
				resp = models.ToolResponse{Success: false, Error: "no tool mediator for this turn"}
			}
			working = append(working, toolMessage(call, resp))

			if ctx.Err() != nil {
				return nil, models.WrapError(models.CodeAbort, ctx.Err(), "task loop aborted")
			}
		}
	}
	return e.exhausted(lastOutput, usage, "maxCycles"), nil
}

// sequential runs each step as a sub-plan, optionally threading outputs.
func (e *Executor) sequential(ctx context.Context, plan *models.Plan, thread models.Thread, facts []models.Fact, depth int) (*Result, error) {
	working := thread.Clone()
	var outputs []string
	var usage providers.Usage

	for i, step := range plan.Sequence {
		if err := e.admitChild(); err != nil {
			return nil, err
		}
		sub := step.SubPlan(plan.Name, i)
		result, err := e.Execute(ctx, sub, working, facts, depth+1)
		if err != nil {
			return nil, err
		}
		usage.Prompt += result.Usage.Prompt
		usage.Completion += result.Usage.Completion
		outputs = append(outputs, result.Output)

		if plan.BuildThread {
			working = append(working, models.Message{Role: models.RoleAssistant, Content: result.Output})
		}
	}
	return &Result{Output: combine(outputs, plan.ResultStrategy), Usage: usage}, nil
}

// parallel fans the branches out concurrently over clones of the input
// thread. The first branch error cancels the rest; outputs combine in
// declaration order regardless of completion order.
func (e *Executor) parallel(ctx context.Context, plan *models.Plan, thread models.Thread, facts []models.Fact, depth int) (*Result, error) {
	if len(plan.Roles) > e.Policy.MaxFanout {
		return nil, models.NewError(models.CodeResourceFanout,
			"parallel plan %q declares %d branches, maxFanout is %d", plan.Name, len(plan.Roles), e.Policy.MaxFanout)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	outputs := make([]string, len(plan.Roles))
	usages := make([]providers.Usage, len(plan.Roles))
	errs := make([]error, len(plan.Roles))

	var wg sync.WaitGroup
	for i, step := range plan.Roles {
		if err := e.admitChild(); err != nil {
			return nil, err
		}
		wg.Add(1)
		go func(i int, step models.Step) {
			defer wg.Done()
			sub := step.SubPlan(plan.Name, i)
			result, err := e.Execute(ctx, sub, thread.Clone(), facts, depth+1)
			if err != nil {
				errs[i] = err
				cancel()
				return
			}
			outputs[i] = result.Output
			usages[i] = result.Usage
		}(i, step)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	var usage providers.Usage
	for _, u := range usages {
		usage.Prompt += u.Prompt
		usage.Completion += u.Completion
	}
	return &Result{Output: combine(outputs, plan.ResultStrategy), Usage: usage}, nil
}

// callModel composes instructions for the role and issues one provider
// call, journaling the request and response.
func (e *Executor) callModel(ctx context.Context, role string, adaptations []string, thread models.Thread, facts []models.Fact, schemas []providers.ToolSchema) (*providers.Result, error) {
	in := compose.Compose(e.Module, role, adaptations, facts)
	prepared := compose.ApplyPrimary(thread, in)
	temperature := e.Module.RoleTemperature(role, 0.7)

	req := &providers.Request{
		Model:              e.Model,
		SystemInstructions: in.System,
		Thread:             prepared,
		MaxTokens:          e.Module.Tokens.Default,
		Temperature:        &temperature,
		ToolSchemas:        schemas,
	}

	e.emit(models.Entry{
		Event:   models.EventInstructionsComposed,
		TraceID: e.TraceID,
		Data: map[string]any{
			"role":        role,
			"adaptations": adaptations,
			"systemChars": len(in.System),
		},
	})

	e.emit(models.Entry{
		Event:   models.EventLLMRequest,
		TraceID: e.TraceID,
		Data: map[string]any{
			"model":     e.Model,
			"role":      role,
			"toolCount": len(schemas),
			"messages":  len(prepared),
		},
	})

	result, err := e.Provider.CallLLM(ctx, req)
	if err != nil {
		return nil, err
	}

	e.emit(models.Entry{
		Event:   models.EventLLMResponse,
		TraceID: e.TraceID,
		Data: map[string]any{
			"model":        result.Model,
			"finishReason": string(result.FinishReason),
			"promptTokens": result.Usage.Prompt,
			"outputTokens": result.Usage.Completion,
		},
	})
	return result, nil
}

// toolSchemas resolves the plan's tool names to provider schemas via the
// mediator. Unknown names are dropped; dependency validation happened
// before execution.
func (e *Executor) toolSchemas(names []string) []providers.ToolSchema {
	if e.Mediator == nil {
		return nil
	}
	var schemas []providers.ToolSchema
	for _, name := range names {
		handle, ok := e.Mediator.Lookup(name)
		if !ok {
			continue
		}
		schemas = append(schemas, providers.ToolSchema{
			Name:        handle.Name,
			Description: handle.Description,
			InputSchema: handle.InputSchema,
		})
	}
	return schemas
}

// admitChild counts one sub-plan against the cumulative child cap.
func (e *Executor) admitChild() error {
	if e.children.Add(1) > int64(e.Policy.MaxChildren) {
		return models.NewError(models.CodeResourceChildren,
			"turn spawned more than maxChildren=%d sub-plans", e.Policy.MaxChildren)
	}
	return nil
}

// exhausted finalizes a task loop cut short by a limit.
func (e *Executor) exhausted(output string, usage providers.Usage, limit string) *Result {
	e.emit(models.Entry{
		Event: models.EventBudgetExceeded,
		Level: models.LevelWarn,
		Data:  map[string]any{"limit": limit},
	})
	return &Result{Output: output, Usage: usage, Reason: ReasonExhausted}
}

func (e *Executor) emit(entry models.Entry) {
	if e.Journal == nil || e.SessionID == "" {
		return
	}
	if err := e.Journal.Append(e.SessionID, entry); err != nil && e.Logger != nil {
		e.Logger.Warn("journal append failed", "event", entry.Event, "error", err)
	}
}

// resolutionOf fills a plan's loop limits with defaults.
func resolutionOf(plan *models.Plan) models.Resolution {
	res := models.Resolution{}
	if plan.Resolution != nil {
		res = *plan.Resolution
	}
	if res.MaxCycles <= 0 {
		res.MaxCycles = defaultMaxCycles
	}
	if res.MaxTokens <= 0 {
		res.MaxTokens = defaultMaxTokens
	}
	if res.MaxToolCalls <= 0 {
		res.MaxToolCalls = defaultMaxToolCalls
	}
	if res.TimeoutMs <= 0 {
		res.TimeoutMs = defaultTimeoutMs
	}
	return res
}

// toolMessage renders a mediator response as the tool turn fed back to the
// model.
func toolMessage(call models.ToolCall, resp models.ToolResponse) models.Message {
	payload, err := json.Marshal(resp)
	if err != nil {
		payload = []byte(`{"success":false,"error":"marshal failure"}`)
	}
	return models.Message{
		Role:       models.RoleTool,
		Name:       call.Function.Name,
		ToolCallID: call.ID,
		Content:    string(payload),
	}
}

// combine merges branch outputs per the result strategy.
func combine(outputs []string, rs models.ResultStrategy) string {
	if len(outputs) == 0 {
		return ""
	}
	if rs == models.ResultConcat {
		var nonEmpty []string
		for _, o := range outputs {
			if o != "" {
				nonEmpty = append(nonEmpty, o)
			}
		}
		return strings.Join(nonEmpty, concatSeparator)
	}
	return outputs[len(outputs)-1]
}
