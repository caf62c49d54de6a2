package machine

import (
	"context"
	"testing"

	"github.com/thinksuit/thinksuit/internal/ids"
	"github.com/thinksuit/thinksuit/internal/journal"
	"github.com/thinksuit/thinksuit/pkg/models"
)

func testPaths(t *testing.T) ids.Paths {
	t.Helper()
	base := t.TempDir()
	return ids.Paths{
		StreamBase:   base + "/streams",
		MetadataBase: base + "/metadata",
		TraceBase:    base + "/traces",
	}
}

func TestParseChart(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{
			name: "valid",
			doc: `{"startAt":"A","states":{
				"A":{"type":"Task","handler":"h","next":"B"},
				"B":{"type":"Succeed"}}}`,
		},
		{
			name:    "missing startAt",
			doc:     `{"states":{"A":{"type":"Succeed"}}}`,
			wantErr: true,
		},
		{
			name:    "startAt not in states",
			doc:     `{"startAt":"X","states":{"A":{"type":"Succeed"}}}`,
			wantErr: true,
		},
		{
			name: "task without handler",
			doc: `{"startAt":"A","states":{
				"A":{"type":"Task","next":"B"},
				"B":{"type":"Succeed"}}}`,
			wantErr: true,
		},
		{
			name: "route to unknown state",
			doc: `{"startAt":"A","states":{
				"A":{"type":"Task","handler":"h","next":"Missing"}}}`,
			wantErr: true,
		},
		{
			name: "choice without rules",
			doc: `{"startAt":"A","states":{
				"A":{"type":"Choice","default":"B"},
				"B":{"type":"Succeed"}}}`,
			wantErr: true,
		},
		{
			name:    "unknown state type",
			doc:     `{"startAt":"A","states":{"A":{"type":"Wait"}}}`,
			wantErr: true,
		},
		{
			name: "invalid parallel branch",
			doc: `{"startAt":"A","states":{
				"A":{"type":"Parallel","branches":[{"startAt":"X","states":{}}],"next":"B"},
				"B":{"type":"Succeed"}}}`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseChart([]byte(tt.doc))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseChart() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunTaskSequence(t *testing.T) {
	chart := &Chart{
		StartAt: "First",
		States: map[string]*State{
			"First":  {Type: StateTask, Handler: "first", Next: "Second"},
			"Second": {Type: StateTask, Handler: "second", Next: "Done"},
			"Done":   {Type: StateSucceed},
		},
	}
	var order []string
	interp := &Interpreter{
		Handlers: map[string]Handler{
			"first":  func(context.Context) error { order = append(order, "first"); return nil },
			"second": func(context.Context) error { order = append(order, "second"); return nil },
		},
	}
	if err := interp.Run(context.Background(), chart); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("handler order = %v, want [first second]", order)
	}
}

func TestRunChoiceRouting(t *testing.T) {
	chart := &Chart{
		StartAt: "Route",
		States: map[string]*State{
			"Route": {
				Type: StateChoice,
				Choices: []ChoiceRule{
					{Predicate: "never", Next: "Left"},
					{Predicate: "always", Next: "Right"},
				},
				Default: "Left",
			},
			"Left":  {Type: StateTask, Handler: "left", Next: "Done"},
			"Right": {Type: StateTask, Handler: "right", Next: "Done"},
			"Done":  {Type: StateSucceed},
		},
	}

	tests := []struct {
		name       string
		predicates map[string]Predicate
		want       string
	}{
		{
			name: "second rule matches",
			predicates: map[string]Predicate{
				"never":  func() bool { return false },
				"always": func() bool { return true },
			},
			want: "right",
		},
		{
			name: "first match wins",
			predicates: map[string]Predicate{
				"never":  func() bool { return true },
				"always": func() bool { return true },
			},
			want: "left",
		},
		{
			name:       "default when nothing matches",
			predicates: map[string]Predicate{},
			want:       "left",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var took string
			interp := &Interpreter{
				Handlers: map[string]Handler{
					"left":  func(context.Context) error { took = "left"; return nil },
					"right": func(context.Context) error { took = "right"; return nil },
				},
				Predicates: tt.predicates,
			}
			if err := interp.Run(context.Background(), chart); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if took != tt.want {
				t.Errorf("routed to %q, want %q", took, tt.want)
			}
		})
	}
}

func TestRunDryRun(t *testing.T) {
	interp := &Interpreter{DryRun: true}
	if err := interp.Run(context.Background(), TurnChart()); err != nil {
		t.Fatalf("dry run error = %v", err)
	}
}

func TestRunMissingHandler(t *testing.T) {
	chart := &Chart{
		StartAt: "A",
		States: map[string]*State{
			"A": {Type: StateTask, Handler: "nope", Next: "B"},
			"B": {Type: StateSucceed},
		},
	}
	interp := &Interpreter{}
	err := interp.Run(context.Background(), chart)
	if models.ErrorCode(err) != models.CodeInternal {
		t.Errorf("error code = %q, want %q", models.ErrorCode(err), models.CodeInternal)
	}
}

func TestRunFailState(t *testing.T) {
	w := journal.NewWriter(testPaths(t), nil)
	sessionID := ids.New()
	chart := &Chart{
		StartAt: "Boom",
		States: map[string]*State{
			"Boom": {Type: StateFail, Error: models.CodeConfigInvalidPlan, Cause: "bad plan"},
		},
	}
	interp := &Interpreter{Journal: w, SessionID: sessionID}
	err := interp.Run(context.Background(), chart)
	if models.ErrorCode(err) != models.CodeConfigInvalidPlan {
		t.Fatalf("error code = %q, want %q", models.ErrorCode(err), models.CodeConfigInvalidPlan)
	}

	entries, readErr := journal.NewReader(w.Paths()).ReadEntries(sessionID)
	if readErr != nil {
		t.Fatalf("read entries: %v", readErr)
	}
	if len(entries) != 1 || entries[0].Event != models.EventSessionError {
		t.Errorf("journal = %+v, want one session.error entry", entries)
	}
}

func TestRunHandlerFailureRoutesToOnFailure(t *testing.T) {
	w := journal.NewWriter(testPaths(t), nil)
	sessionID := ids.New()
	chart := &Chart{
		StartAt:   "Work",
		OnFailure: "Cleanup",
		States: map[string]*State{
			"Work":    {Type: StateTask, Handler: "work", Next: "Done"},
			"Cleanup": {Type: StateTask, Handler: "cleanup"},
			"Done":    {Type: StateSucceed},
		},
	}
	cleaned := false
	interp := &Interpreter{
		Journal:   w,
		SessionID: sessionID,
		Handlers: map[string]Handler{
			"work":    func(context.Context) error { return models.NewError(models.CodeProvider, "model unreachable") },
			"cleanup": func(context.Context) error { cleaned = true; return nil },
		},
	}
	err := interp.Run(context.Background(), chart)
	if models.ErrorCode(err) != models.CodeProvider {
		t.Fatalf("error code = %q, want %q", models.ErrorCode(err), models.CodeProvider)
	}
	if !cleaned {
		t.Error("cleanup handler did not run")
	}

	entries, readErr := journal.NewReader(w.Paths()).ReadEntries(sessionID)
	if readErr != nil {
		t.Fatalf("read entries: %v", readErr)
	}
	if len(entries) != 1 || entries[0].Event != models.EventSessionError {
		t.Errorf("journal = %+v, want one session.error entry", entries)
	}
}

func TestRunAbortSkipsOnFailure(t *testing.T) {
	chart := &Chart{
		StartAt:   "Work",
		OnFailure: "Cleanup",
		States: map[string]*State{
			"Work":    {Type: StateTask, Handler: "work", Next: "Done"},
			"Cleanup": {Type: StateTask, Handler: "cleanup"},
			"Done":    {Type: StateSucceed},
		},
	}
	cleaned := false
	interp := &Interpreter{
		Handlers: map[string]Handler{
			"work":    func(context.Context) error { return models.NewError(models.CodeAbort, "interrupted") },
			"cleanup": func(context.Context) error { cleaned = true; return nil },
		},
	}
	err := interp.Run(context.Background(), chart)
	if models.ErrorCode(err) != models.CodeAbort {
		t.Fatalf("error code = %q, want %q", models.ErrorCode(err), models.CodeAbort)
	}
	if cleaned {
		t.Error("abort must not route through the failure state")
	}
}

func TestRunParallel(t *testing.T) {
	branch := func(handler string) *Chart {
		return &Chart{
			StartAt: "Step",
			States: map[string]*State{
				"Step": {Type: StateTask, Handler: handler, Next: "Done"},
				"Done": {Type: StateSucceed},
			},
		}
	}
	chart := &Chart{
		StartAt: "Fan",
		States: map[string]*State{
			"Fan": {
				Type:     StateParallel,
				Branches: []*Chart{branch("a"), branch("b")},
				Next:     "Done",
			},
			"Done": {Type: StateSucceed},
		},
	}

	t.Run("all branches run", func(t *testing.T) {
		ran := make(chan string, 2)
		interp := &Interpreter{
			Handlers: map[string]Handler{
				"a": func(context.Context) error { ran <- "a"; return nil },
				"b": func(context.Context) error { ran <- "b"; return nil },
			},
		}
		if err := interp.Run(context.Background(), chart); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(ran) != 2 {
			t.Errorf("ran %d branches, want 2", len(ran))
		}
	})

	t.Run("branch error cancels siblings", func(t *testing.T) {
		interp := &Interpreter{
			Handlers: map[string]Handler{
				"a": func(context.Context) error { return models.NewError(models.CodeProvider, "branch failed") },
				"b": func(ctx context.Context) error {
					<-ctx.Done()
					return nil
				},
			},
		}
		err := interp.Run(context.Background(), chart)
		if models.ErrorCode(err) != models.CodeProvider {
			t.Errorf("error code = %q, want %q", models.ErrorCode(err), models.CodeProvider)
		}
	})
}

func TestRunContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	interp := &Interpreter{DryRun: true}
	err := interp.Run(ctx, TurnChart())
	if models.ErrorCode(err) != models.CodeAbort {
		t.Errorf("error code = %q, want %q", models.ErrorCode(err), models.CodeAbort)
	}
}

func TestRunTraceTransitions(t *testing.T) {
	w := journal.NewWriter(testPaths(t), nil)
	traceID := ids.New()
	interp := &Interpreter{
		Journal:   w,
		SessionID: ids.New(),
		TraceID:   traceID,
		Trace:     true,
		DryRun:    true,
	}
	if err := interp.Run(context.Background(), TurnChart()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	entries, err := journal.NewReader(w.Paths()).ReadTrace(traceID)
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	// Dry run with no predicates takes the default route through all five
	// pipeline stages plus the choice and terminal states.
	wantStates := []string{
		"CheckSelectedPlan", "DetectSignals", "AggregateFacts",
		"EvaluateRules", "SelectPlan", "ExecutePlan", "Done",
	}
	if len(entries) != len(wantStates) {
		t.Fatalf("trace has %d entries, want %d", len(entries), len(wantStates))
	}
	for i, e := range entries {
		if e.Event != models.EventTraceTransition {
			t.Errorf("entry %d event = %q, want %q", i, e.Event, models.EventTraceTransition)
		}
		if got := e.Data["state"]; got != wantStates[i] {
			t.Errorf("entry %d state = %v, want %q", i, got, wantStates[i])
		}
	}
}

func TestTurnChartSkipsPipelineWithSelectedPlan(t *testing.T) {
	var ran []string
	record := func(name string) Handler {
		return func(context.Context) error { ran = append(ran, name); return nil }
	}
	interp := &Interpreter{
		Handlers: map[string]Handler{
			HandlerDetectSignals:   record("detect"),
			HandlerAggregateFacts:  record("aggregate"),
			HandlerEvaluateRules:   record("evaluate"),
			HandlerSelectPlan:      record("select"),
			HandlerUseSelectedPlan: record("use-selected"),
			HandlerExecutePlan:     record("execute"),
		},
		Predicates: map[string]Predicate{
			PredicateHasSelectedPlan: func() bool { return true },
		},
	}
	if err := interp.Run(context.Background(), TurnChart()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// The supplied plan is still admitted before execution; the
	// classification stages are skipped.
	if len(ran) != 2 || ran[0] != "use-selected" || ran[1] != "execute" {
		t.Errorf("handlers run = %v, want [use-selected execute]", ran)
	}
}
