// Package machine drives one turn through a declarative chart of states.
// The chart is plain JSON; handlers and predicates are registered by name,
// so the same chart can run dry (no handlers) in tests.
package machine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/thinksuit/thinksuit/internal/journal"
	"github.com/thinksuit/thinksuit/pkg/models"
)

// StateType enumerates the chart's state kinds.
type StateType string

const (
	StateChoice   StateType = "Choice"
	StatePass     StateType = "Pass"
	StateTask     StateType = "Task"
	StateParallel StateType = "Parallel"
	StateSucceed  StateType = "Succeed"
	StateFail     StateType = "Fail"
)

// ChoiceRule routes to Next when the named predicate holds.
type ChoiceRule struct {
	Predicate string `json:"predicate"`
	Next      string `json:"next"`
}

// State is one node of the chart.
type State struct {
	Type StateType `json:"type"`
	Next string    `json:"next,omitempty"`

	// Task
	Handler string `json:"handler,omitempty"`

	// Choice
	Choices []ChoiceRule `json:"choices,omitempty"`
	Default string       `json:"default,omitempty"`

	// Parallel
	Branches []*Chart `json:"branches,omitempty"`

	// Fail
	Error string `json:"error,omitempty"`
	Cause string `json:"cause,omitempty"`
}

// Chart is a parsed state machine document.
type Chart struct {
	StartAt string            `json:"startAt"`
	States  map[string]*State `json:"states"`

	// OnFailure, when set, is where a handler error routes before the
	// error propagates.
	OnFailure string `json:"onFailure,omitempty"`
}

// ParseChart decodes and structurally validates a chart document.
func ParseChart(data []byte) (*Chart, error) {
	var chart Chart
	if err := json.Unmarshal(data, &chart); err != nil {
		return nil, fmt.Errorf("parse chart: %w", err)
	}
	if err := chart.validate(); err != nil {
		return nil, err
	}
	return &chart, nil
}

func (c *Chart) validate() error {
	if c.StartAt == "" {
		return fmt.Errorf("chart: startAt is required")
	}
	if _, ok := c.States[c.StartAt]; !ok {
		return fmt.Errorf("chart: startAt %q not in states", c.StartAt)
	}
	for name, s := range c.States {
		switch s.Type {
		case StateTask:
			if s.Handler == "" {
				return fmt.Errorf("chart: task state %q has no handler", name)
			}
			if err := c.checkTarget(name, s.Next); err != nil {
				return err
			}
		case StateChoice:
			if len(s.Choices) == 0 {
				return fmt.Errorf("chart: choice state %q has no choices", name)
			}
			for _, rule := range s.Choices {
				if err := c.checkTarget(name, rule.Next); err != nil {
					return err
				}
			}
			if err := c.checkTarget(name, s.Default); err != nil {
				return err
			}
		case StatePass:
			if err := c.checkTarget(name, s.Next); err != nil {
				return err
			}
		case StateParallel:
			if len(s.Branches) == 0 {
				return fmt.Errorf("chart: parallel state %q has no branches", name)
			}
			for _, b := range s.Branches {
				if err := b.validate(); err != nil {
					return err
				}
			}
			if err := c.checkTarget(name, s.Next); err != nil {
				return err
			}
		case StateSucceed, StateFail:
		default:
			return fmt.Errorf("chart: state %q has unknown type %q", name, s.Type)
		}
	}
	if c.OnFailure != "" {
		if _, ok := c.States[c.OnFailure]; !ok {
			return fmt.Errorf("chart: onFailure %q not in states", c.OnFailure)
		}
	}
	return nil
}

func (c *Chart) checkTarget(from, target string) error {
	if target == "" {
		return nil
	}
	if _, ok := c.States[target]; !ok {
		return fmt.Errorf("chart: state %q routes to unknown state %q", from, target)
	}
	return nil
}

// Handler executes one Task state.
type Handler func(ctx context.Context) error

// Predicate decides one Choice rule.
type Predicate func() bool

// Interpreter walks a chart. DryRun treats unregistered handlers as no-ops
// and unregistered predicates as false, which lets tests exercise routing
// without wiring a full turn.
type Interpreter struct {
	Handlers   map[string]Handler
	Predicates map[string]Predicate
	Journal    *journal.Writer
	Logger     *slog.Logger
	SessionID  string
	TraceID    string
	Trace      bool
	DryRun     bool
}

// Run drives the chart from StartAt until Succeed, Fail, or a dead end. A
// handler error routes through OnFailure when the chart declares one so
// cleanup states still run; either way the error is journaled as
// session.error and returned.
func (i *Interpreter) Run(ctx context.Context, chart *Chart) error {
	logger := i.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "machine")

	var failure error
	current := chart.StartAt
	for {
		if err := ctx.Err(); err != nil {
			aborted := models.WrapError(models.CodeAbort, err, "turn aborted in state %s", current)
			i.emitError(current, aborted)
			return aborted
		}
		state, ok := chart.States[current]
		if !ok {
			return models.NewError(models.CodeInternal, "chart routed to unknown state %q", current)
		}
		i.traceTransition(current, state.Type)
		logger.Debug("entering state", "state", current, "type", string(state.Type))

		switch state.Type {
		case StateSucceed:
			return failure

		case StateFail:
			if failure != nil {
				return failure
			}
			code := state.Error
			if code == "" {
				code = models.CodeInternal
			}
			err := models.NewError(code, "%s", failCause(state))
			i.emitError(current, err)
			return err

		case StatePass:
			if state.Next == "" {
				return failure
			}
			current = state.Next

		case StateTask:
			handler, ok := i.Handlers[state.Handler]
			if !ok {
				if !i.DryRun {
					return models.NewError(models.CodeInternal, "no handler registered for %q", state.Handler)
				}
			} else if err := handler(ctx); err != nil {
				i.emitError(current, err)
				// Route through the failure state once so cleanup runs;
				// a second failure, or an abort, returns directly.
				if chart.OnFailure != "" && failure == nil && models.ErrorCode(err) != models.CodeAbort {
					failure = err
					current = chart.OnFailure
					continue
				}
				return err
			}
			if state.Next == "" {
				return failure
			}
			current = state.Next

		case StateChoice:
			next := state.Default
			for _, rule := range state.Choices {
				if pred, ok := i.Predicates[rule.Predicate]; ok && pred() {
					next = rule.Next
					break
				}
			}
			if next == "" {
				return models.NewError(models.CodeInternal, "choice state %q matched nothing and has no default", current)
			}
			current = next

		case StateParallel:
			if err := i.runBranches(ctx, state.Branches); err != nil {
				i.emitError(current, err)
				return err
			}
			if state.Next == "" {
				return failure
			}
			current = state.Next

		default:
			return models.NewError(models.CodeInternal, "state %q has unknown type %q", current, state.Type)
		}
	}
}

// runBranches executes parallel sub-charts, returning the first error.
func (i *Interpreter) runBranches(ctx context.Context, branches []*Chart) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make([]error, len(branches))
	var wg sync.WaitGroup
	for idx, branch := range branches {
		wg.Add(1)
		go func(idx int, branch *Chart) {
			defer wg.Done()
			if err := i.Run(ctx, branch); err != nil {
				errs[idx] = err
				cancel()
			}
		}(idx, branch)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (i *Interpreter) traceTransition(state string, t StateType) {
	if !i.Trace || i.Journal == nil || i.TraceID == "" {
		return
	}
	err := i.Journal.AppendTrace(i.TraceID, models.Entry{
		Event:     models.EventTraceTransition,
		SessionID: i.SessionID,
		TraceID:   i.TraceID,
		Data:      map[string]any{"state": state, "type": string(t)},
	})
	if err != nil && i.Logger != nil {
		i.Logger.Warn("trace append failed", "error", err)
	}
}

// emitError journals a session.error entry. Failures to journal are logged,
// not propagated; the original error matters more.
func (i *Interpreter) emitError(state string, err error) {
	if i.Journal == nil || i.SessionID == "" {
		return
	}
	appendErr := i.Journal.Append(i.SessionID, models.Entry{
		Event:   models.EventSessionError,
		Level:   models.LevelError,
		Msg:     err.Error(),
		TraceID: i.TraceID,
		Data:    map[string]any{"state": state, "code": models.ErrorCode(err)},
	})
	if appendErr != nil && i.Logger != nil {
		i.Logger.Warn("journal append failed", "event", models.EventSessionError, "error", appendErr)
	}
}

func failCause(s *State) string {
	if s.Cause != "" {
		return s.Cause
	}
	return "turn failed"
}
