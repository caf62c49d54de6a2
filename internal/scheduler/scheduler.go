// Package scheduler owns turn scheduling: single-writer acquisition per
// session, fork and resume semantics, interrupts, and the session query
// surface. Every turn it launches is driven through the machine chart.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/thinksuit/thinksuit/internal/approval"
	"github.com/thinksuit/thinksuit/internal/bus"
	"github.com/thinksuit/thinksuit/internal/executor"
	"github.com/thinksuit/thinksuit/internal/ids"
	"github.com/thinksuit/thinksuit/internal/journal"
	"github.com/thinksuit/thinksuit/internal/machine"
	"github.com/thinksuit/thinksuit/internal/module"
	"github.com/thinksuit/thinksuit/internal/providers"
	"github.com/thinksuit/thinksuit/internal/signals"
	"github.com/thinksuit/thinksuit/internal/tools"
	"github.com/thinksuit/thinksuit/pkg/models"
)

// Config carries the shared collaborators a scheduler drives turns with.
type Config struct {
	Paths     ids.Paths
	Provider  providers.Provider
	Model     string
	Modules   *module.Registry
	Policy    models.Policy
	Tools     tools.Config
	Approvals *approval.Registry
	Trace     bool
	Logger    *slog.Logger
}

// Request describes one turn to schedule.
type Request struct {
	Input     string
	SessionID string

	// Forking: copy the source's entry prefix into a fresh session.
	SourceSessionID string
	ForkFromIndex   int

	// SelectedPlan bypasses signal detection and rule evaluation.
	SelectedPlan *models.Plan

	// Module overrides the builtin module key.
	Module string

	// Frame is opaque caller context journaled with the input entry.
	Frame map[string]any
}

// TurnResult is delivered on the execution future when a turn finishes.
type TurnResult struct {
	Output string
	Err    error
}

// ScheduleResult reports whether the turn was admitted and, when it was,
// the handles to observe and interrupt it.
type ScheduleResult struct {
	SessionID string
	Scheduled bool
	IsNew     bool
	Reason    string
	Done      <-chan TurnResult
	Interrupt func(reason string)
}

type execution struct {
	traceID string
	cancel  context.CancelCauseFunc
	done    chan TurnResult
}

// toolMediator is the slice of the tool mediator a turn drives. Tests swap
// in a fake via the newMediator factory.
type toolMediator interface {
	Start(ctx context.Context, sessionID string) error
	Stop(sessionID string)
	ValidateDependencies(deps []string) error
	Lookup(name string) (*tools.Handle, bool)
	Call(ctx context.Context, sessionID, tool string, args any) models.ToolResponse
}

// Scheduler enforces single-writer turns per session. All mutation of the
// busy registry happens under mu; reads are consistent snapshots.
type Scheduler struct {
	cfg       Config
	writer    *journal.Writer
	reader    *journal.Reader
	bus       *bus.Bus
	approvals *approval.Registry
	logger    *slog.Logger

	// newMediator builds the per-turn tool mediator.
	newMediator func() toolMediator

	mu   sync.Mutex
	busy map[string]*execution
}

// New wires a scheduler over the configured storage layout. Journal appends
// are fanned out to bus subscribers.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")

	w := journal.NewWriter(cfg.Paths, logger)
	b := bus.New(logger)
	w.SetNotifier(b.Publish)

	approvals := cfg.Approvals
	if approvals == nil {
		approvals = approval.NewRegistry(approval.DefaultTTL, logger)
	}

	s := &Scheduler{
		cfg:       cfg,
		writer:    w,
		reader:    journal.NewReader(cfg.Paths),
		bus:       b,
		approvals: approvals,
		logger:    logger,
		busy:      make(map[string]*execution),
	}
	s.newMediator = func() toolMediator {
		return tools.NewMediator(cfg.Tools, w, approvals, logger)
	}
	return s
}

// Journal exposes the writer for collaborators that append outside a turn.
func (s *Scheduler) Journal() *journal.Writer { return s.writer }

// Approvals exposes the approval registry for external resolvers.
func (s *Scheduler) Approvals() *approval.Registry { return s.approvals }

// Schedule admits one turn for a session. Admission is atomic: a session
// already running a turn is rejected with scheduled=false, never queued.
func (s *Scheduler) Schedule(req Request) (*ScheduleResult, error) {
	sessionID := req.SessionID
	isNew := false

	switch {
	case req.SourceSessionID != "":
		forked, err := s.fork(req.SourceSessionID, req.ForkFromIndex)
		if err != nil {
			return nil, err
		}
		sessionID = forked
		isNew = true
	case sessionID == "":
		sessionID = ids.New()
		isNew = true
		if err := journal.WriteMetadata(s.cfg.Paths, &models.SessionMetadata{
			ID:     sessionID,
			Status: models.StatusInitialized,
		}); err != nil {
			return nil, err
		}
	default:
		if _, err := s.reader.ReadEntries(sessionID); err != nil {
			return nil, err
		}
	}

	exec := &execution{
		traceID: ids.New(),
		done:    make(chan TurnResult, 1),
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	exec.cancel = cancel

	s.mu.Lock()
	if _, running := s.busy[sessionID]; running {
		s.mu.Unlock()
		cancel(nil)
		return &ScheduleResult{
			SessionID: sessionID,
			Scheduled: false,
			IsNew:     isNew,
			Reason:    "session busy",
		}, nil
	}
	s.busy[sessionID] = exec
	s.mu.Unlock()

	inputData := map[string]any{"input": req.Input}
	if req.Frame != nil {
		inputData["frame"] = req.Frame
	}
	if err := s.writer.Append(sessionID, models.Entry{
		Event:   models.EventSessionInput,
		TraceID: exec.traceID,
		Data:    inputData,
	}); err != nil {
		s.release(sessionID)
		cancel(nil)
		return nil, err
	}
	s.setStatus(sessionID, models.StatusBusy)

	go s.runTurn(ctx, sessionID, exec, req)

	return &ScheduleResult{
		SessionID: sessionID,
		Scheduled: true,
		IsNew:     isNew,
		Done:      exec.done,
		Interrupt: func(reason string) {
			s.logger.Info("turn interrupted", "session", sessionID, "reason", reason)
			cancel(errors.New(reason))
		},
	}, nil
}

// Interrupt cancels the running turn of a session, if any. Idempotent.
func (s *Scheduler) Interrupt(sessionID, reason string) bool {
	s.mu.Lock()
	exec, ok := s.busy[sessionID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.logger.Info("turn interrupted", "session", sessionID, "reason", reason)
	exec.cancel(errors.New(reason))
	return true
}

// fork copies the source's entries up to and including forFromIndex into a
// fresh session stream.
func (s *Scheduler) fork(sourceID string, fromIndex int) (string, error) {
	entries, err := s.reader.ReadEntries(sourceID)
	if err != nil {
		return "", err
	}
	if fromIndex < 0 || fromIndex >= len(entries) {
		fromIndex = len(entries) - 1
	}

	forkedID := ids.New()
	for _, e := range entries[:fromIndex+1] {
		if err := s.writer.Append(forkedID, e); err != nil {
			return "", err
		}
	}
	err = journal.WriteMetadata(s.cfg.Paths, &models.SessionMetadata{
		ID:     forkedID,
		Status: models.StatusInitialized,
		Fork: &models.ForkInfo{
			SourceSessionID: sourceID,
			ForkFromIndex:   fromIndex,
		},
	})
	if err != nil {
		return "", err
	}
	return forkedID, nil
}

// runTurn drives one turn through the machine chart and settles the future.
func (s *Scheduler) runTurn(ctx context.Context, sessionID string, exec *execution, req Request) {
	result := TurnResult{}
	defer func() {
		s.release(sessionID)
		exec.done <- result
		close(exec.done)
	}()

	s.emit(sessionID, models.Entry{
		Event:   models.EventExecutionStart,
		TraceID: exec.traceID,
		Data:    map[string]any{"traceId": exec.traceID},
	})

	moduleKey := req.Module
	if moduleKey == "" {
		moduleKey = module.BuiltinKey
	}
	mod, err := s.cfg.Modules.Resolve(moduleKey)
	if err != nil {
		result.Err = s.failTurn(sessionID, exec.traceID, err)
		return
	}

	mediator := s.newMediator()
	if err := mediator.Start(ctx, sessionID); err != nil {
		result.Err = s.failTurn(sessionID, exec.traceID, err)
		return
	}
	defer mediator.Stop(sessionID)

	// Modules declare tools they cannot run without; the turn fails before
	// the pipeline starts when any of them is missing.
	if len(mod.ToolDependencies) > 0 {
		if err := mediator.ValidateDependencies(mod.ToolDependencies); err != nil {
			result.Err = s.failTurn(sessionID, exec.traceID, err)
			return
		}
	}

	entries, err := s.reader.ReadEntries(sessionID)
	if err != nil {
		result.Err = s.failTurn(sessionID, exec.traceID, err)
		return
	}
	thread := journal.BuildThread(entries)

	turn := &turnState{plan: req.SelectedPlan}
	exe := &executor.Executor{
		Provider:  s.cfg.Provider,
		Mediator:  mediator,
		Module:    mod,
		Journal:   s.writer,
		Logger:    s.logger,
		Model:     s.cfg.Model,
		Policy:    s.cfg.Policy,
		SessionID: sessionID,
		TraceID:   exec.traceID,
	}

	interp := &machine.Interpreter{
		Handlers:   s.turnHandlers(sessionID, exec.traceID, mod, mediator, exe, thread, turn),
		Predicates: map[string]machine.Predicate{machine.PredicateHasSelectedPlan: func() bool { return turn.plan != nil }},
		Journal:    s.writer,
		Logger:     s.logger,
		SessionID:  sessionID,
		TraceID:    exec.traceID,
		Trace:      s.cfg.Trace,
	}

	if err := interp.Run(ctx, machine.TurnChart()); err != nil {
		s.setStatus(sessionID, models.StatusError)
		result.Err = err
		return
	}

	output := ""
	if turn.result != nil {
		output = turn.result.Output
	}
	s.emit(sessionID, models.Entry{
		Event:   models.EventSessionResponse,
		TraceID: exec.traceID,
		Data:    map[string]any{"response": output},
	})
	s.emit(sessionID, models.Entry{
		Event:   models.EventExecutionComplete,
		TraceID: exec.traceID,
		Data:    map[string]any{"traceId": exec.traceID},
	})
	s.setStatus(sessionID, models.StatusReady)
	result.Output = output
}

// turnState is the data flowing between chart stages. It is owned by one
// turn; handlers run one at a time.
type turnState struct {
	facts      []models.Fact
	candidates []*models.Plan
	plan       *models.Plan
	result     *executor.Result
}

func (s *Scheduler) turnHandlers(sessionID, traceID string, mod *models.Module, mediator toolMediator, exe *executor.Executor, thread models.Thread, turn *turnState) map[string]machine.Handler {
	// admit checks a plan's tool requirements and journals it as the plan
	// for this turn. Both the rule path and the supplied-plan path go
	// through it, so processing.plan.selected appears in every turn.
	admit := func(plan *models.Plan) error {
		if len(plan.Tools) > 0 {
			if err := mediator.ValidateDependencies(plan.Tools); err != nil {
				return err
			}
		}
		turn.plan = plan
		s.emit(sessionID, models.Entry{
			Event:   models.EventPlanSelected,
			TraceID: traceID,
			Data: map[string]any{
				"name":       plan.Name,
				"strategy":   string(plan.Strategy),
				"role":       plan.Role,
				"confidence": plan.Confidence,
			},
		})
		return nil
	}
	return map[string]machine.Handler{
		machine.HandlerDetectSignals: func(ctx context.Context) error {
			facts, metrics, err := signals.DetectSignals(ctx, mod, thread, s.cfg.Policy.Perception)
			if err != nil {
				return err
			}
			turn.facts = facts
			s.emit(sessionID, models.Entry{
				Event:   models.EventSignalsDetected,
				TraceID: traceID,
				Data: map[string]any{
					"count":     len(facts),
					"elapsedMs": metrics.Elapsed.Milliseconds(),
					"timedOut":  metrics.TimedOut,
				},
			})
			return nil
		},
		machine.HandlerAggregateFacts: func(ctx context.Context) error {
			turn.facts = signals.AggregateFacts(turn.facts, thread, s.cfg.Policy.Perception)
			s.emit(sessionID, models.Entry{
				Event:   models.EventFactsAggregated,
				TraceID: traceID,
				Data:    map[string]any{"count": len(turn.facts)},
			})
			return nil
		},
		machine.HandlerEvaluateRules: func(ctx context.Context) error {
			turn.candidates = signals.EvaluateRules(turn.facts, mod)
			return nil
		},
		machine.HandlerSelectPlan: func(ctx context.Context) error {
			plan := signals.SelectPlan(turn.candidates)
			if plan == nil {
				// No rule matched. Fall back to a direct call with the
				// module's default role.
				plan = &models.Plan{
					Name:     "fallback-direct",
					Strategy: models.StrategyDirect,
					Role:     mod.DefaultRole(),
				}
			}
			return admit(plan)
		},
		machine.HandlerUseSelectedPlan: func(ctx context.Context) error {
			return admit(turn.plan)
		},
		machine.HandlerExecutePlan: func(ctx context.Context) error {
			res, err := exe.Execute(ctx, turn.plan, thread, turn.facts, 0)
			if err != nil {
				return err
			}
			turn.result = res
			return nil
		},
	}
}

// failTurn journals a pre-pipeline failure. Failures inside the chart are
// journaled by the interpreter.
func (s *Scheduler) failTurn(sessionID, traceID string, err error) error {
	s.emit(sessionID, models.Entry{
		Event:   models.EventSessionError,
		Level:   models.LevelError,
		Msg:     err.Error(),
		TraceID: traceID,
		Data:    map[string]any{"code": models.ErrorCode(err)},
	})
	s.setStatus(sessionID, models.StatusError)
	return err
}

func (s *Scheduler) release(sessionID string) {
	s.mu.Lock()
	delete(s.busy, sessionID)
	s.mu.Unlock()
}

func (s *Scheduler) setStatus(sessionID string, status models.SessionStatus) {
	meta, err := journal.ReadMetadata(s.cfg.Paths, sessionID)
	if err != nil {
		meta = &models.SessionMetadata{ID: sessionID}
	}
	meta.Status = status
	if err := journal.WriteMetadata(s.cfg.Paths, meta); err != nil {
		s.logger.Warn("metadata write failed", "session", sessionID, "error", err)
	}
}

func (s *Scheduler) emit(sessionID string, e models.Entry) {
	if err := s.writer.Append(sessionID, e); err != nil {
		s.logger.Warn("journal append failed", "session", sessionID, "event", e.Event, "error", err)
	}
}
