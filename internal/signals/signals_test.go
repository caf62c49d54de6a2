package signals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/thinksuit/thinksuit/internal/module"
	"github.com/thinksuit/thinksuit/pkg/models"
)

func signal(dimension, name string, confidence float64) models.Fact {
	return models.Fact{Type: models.FactSignal, Dimension: dimension, Signal: name, Confidence: confidence}
}

func TestDetectSignalsRunsClassifier(t *testing.T) {
	m := module.Builtin()
	thread := models.Thread{{Role: models.RoleUser, Content: "analyze why the deploy failed"}}

	facts, metrics, err := DetectSignals(context.Background(), m, thread, models.PerceptionPolicy{})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(facts) == 0 {
		t.Fatal("no facts detected")
	}
	if metrics.FactCount != len(facts) {
		t.Errorf("metrics.FactCount = %d, want %d", metrics.FactCount, len(facts))
	}
	if metrics.TimedOut {
		t.Error("unexpected timeout")
	}
}

func TestDetectSignalsBudgetExpiry(t *testing.T) {
	slow := &models.Module{
		Classifier: models.ClassifierFunc(func(ctx context.Context, thread models.Thread) ([]models.Fact, error) {
			select {
			case <-time.After(5 * time.Second):
				return []models.Fact{signal("intent", "late", 1)}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}),
	}
	policy := models.PerceptionPolicy{BudgetMs: 30}

	start := time.Now()
	facts, metrics, err := DetectSignals(context.Background(), slow, models.Thread{}, policy)
	if err != nil {
		t.Fatalf("budget expiry must not fail the turn: %v", err)
	}
	if !metrics.TimedOut {
		t.Error("metrics should flag the timeout")
	}
	if len(facts) != 0 {
		t.Errorf("facts = %+v, want none", facts)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("detection did not respect the budget")
	}
}

func TestDetectSignalsClassifierError(t *testing.T) {
	failing := &models.Module{
		Classifier: models.ClassifierFunc(func(ctx context.Context, thread models.Thread) ([]models.Fact, error) {
			return nil, errors.New("classifier broke")
		}),
	}
	_, _, err := DetectSignals(context.Background(), failing, models.Thread{}, models.PerceptionPolicy{})
	if err == nil {
		t.Fatal("expected classifier error")
	}
}

func TestDetectSignalsNilClassifier(t *testing.T) {
	facts, _, err := DetectSignals(context.Background(), &models.Module{}, models.Thread{}, models.PerceptionPolicy{})
	if err != nil || len(facts) != 0 {
		t.Errorf("facts = %v, err = %v, want empty and nil", facts, err)
	}
}

func TestBudgetFor(t *testing.T) {
	tests := []struct {
		name     string
		profile  models.PerceptionProfile
		budgetMs int
		want     time.Duration
	}{
		{"explicit wins", models.ProfileFast, 1234, 1234 * time.Millisecond},
		{"fast", models.ProfileFast, 0, budgetFast},
		{"balanced", models.ProfileBalanced, 0, budgetBalanced},
		{"thorough", models.ProfileThorough, 0, budgetThorough},
		{"unset defaults to balanced", "", 0, budgetBalanced},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := budgetFor(tt.profile, tt.budgetMs); got != tt.want {
				t.Errorf("budgetFor = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAggregateFactsDedup(t *testing.T) {
	facts := []models.Fact{
		signal("intent", "analyze", 0.6),
		signal("intent", "analyze", 0.8),
		signal("intent", "analyze", 0.7),
		signal("tone", "formal", 0.5),
	}
	out := AggregateFacts(facts, models.Thread{}, models.PerceptionPolicy{})

	// Two signals survive plus the TurnContext fact.
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3: %+v", len(out), out)
	}
	if out[0].Signal != "analyze" || out[0].Confidence != 0.8 {
		t.Errorf("first fact = %+v, want analyze at max confidence", out[0])
	}
	last := out[len(out)-1]
	if last.Type != models.FactTurnContext {
		t.Errorf("last fact = %+v, want TurnContext", last)
	}
}

func TestAggregateFactsDimensionPolicy(t *testing.T) {
	facts := []models.Fact{
		signal("intent", "analyze", 0.9),
		signal("tone", "formal", 0.9),
		signal("risk", "high", 0.4),
	}
	policy := models.PerceptionPolicy{Dimensions: map[string]models.DimensionPolicy{
		"tone": {Enabled: false},
		"risk": {Enabled: true, MinConfidence: 0.5},
	}}
	out := AggregateFacts(facts, models.Thread{}, policy)

	for _, f := range out {
		if f.Dimension == "tone" {
			t.Error("disabled dimension survived")
		}
		if f.Dimension == "risk" {
			t.Error("below-threshold fact survived")
		}
	}
	if out[0].Dimension != "intent" {
		t.Errorf("intent fact missing: %+v", out)
	}
}

func TestEvaluateRulesChaining(t *testing.T) {
	m := &models.Module{
		Rules: []models.Rule{
			{
				Name:       "promote",
				Conditions: []models.RuleCondition{{Type: models.FactSignal, Dimension: "intent", Signal: "execute"}},
				Assert:     []models.Fact{{Type: models.FactPattern, Name: "tool-work", Confidence: 0.9}},
			},
			{
				Name:       "plan-on-pattern",
				Conditions: []models.RuleCondition{{Type: models.FactPattern, Name: "tool-work"}},
				Plan:       &models.Plan{Name: "p", Strategy: models.StrategyDirect, Role: "execute", Confidence: 0.8},
			},
		},
	}
	facts := []models.Fact{signal("intent", "execute", 0.7)}

	plans := EvaluateRules(facts, m)
	if len(plans) != 1 || plans[0].Name != "p" {
		t.Fatalf("plans = %+v, want the chained plan", plans)
	}
}

func TestEvaluateRulesFiresOnce(t *testing.T) {
	m := &models.Module{
		Rules: []models.Rule{
			{
				Name:       "self-feeding",
				Conditions: []models.RuleCondition{{Type: models.FactSignal}},
				Assert:     []models.Fact{signal("x", "y", 1)},
				Plan:       &models.Plan{Name: "once", Strategy: models.StrategyDirect, Role: "chat", Confidence: 0.5},
			},
		},
	}
	plans := EvaluateRules([]models.Fact{signal("a", "b", 1)}, m)
	if len(plans) != 1 {
		t.Errorf("plans = %d, want exactly 1 even with self-feeding assert", len(plans))
	}
}

func TestSelectPlan(t *testing.T) {
	direct := &models.Plan{Name: "d", Strategy: models.StrategyDirect, Confidence: 0.6}
	task := &models.Plan{Name: "t", Strategy: models.StrategyTask, Confidence: 0.8}
	parallel := &models.Plan{Name: "p", Strategy: models.StrategyParallel, Confidence: 0.8}

	tests := []struct {
		name       string
		candidates []*models.Plan
		want       string
	}{
		{"highest confidence wins", []*models.Plan{direct, task}, "t"},
		{"tie keeps earlier rule", []*models.Plan{task, parallel}, "t"},
		{"single", []*models.Plan{direct}, "d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectPlan(tt.candidates)
			if got == nil || got.Name != tt.want {
				t.Errorf("SelectPlan = %+v, want %s", got, tt.want)
			}
		})
	}

	if SelectPlan(nil) != nil {
		t.Error("SelectPlan(nil) should be nil")
	}
}

func TestBuiltinPipelineEndToEnd(t *testing.T) {
	m := module.Builtin()
	thread := models.Thread{{Role: models.RoleUser, Content: "read the file notes.txt and run the checks"}}

	detected, _, err := DetectSignals(context.Background(), m, thread, models.PerceptionPolicy{Profile: models.ProfileFast})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	facts := AggregateFacts(detected, thread, models.PerceptionPolicy{})
	plans := EvaluateRules(facts, m)
	selected := SelectPlan(plans)
	if selected == nil {
		t.Fatal("no plan selected")
	}
	if selected.Strategy != models.StrategyTask || selected.Role != "execute" {
		t.Errorf("selected = %+v, want the execute task plan", selected)
	}
}
