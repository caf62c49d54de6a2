// Package signals runs the perception half of a turn: classifier
// invocation under a time budget, fact aggregation, forward-chaining rule
// evaluation, and candidate plan selection.
package signals

import (
	"context"
	"time"

	"github.com/thinksuit/thinksuit/pkg/models"
)

// Profile time budgets applied when configuration supplies none.
const (
	budgetFast     = 500 * time.Millisecond
	budgetBalanced = 2 * time.Second
	budgetThorough = 10 * time.Second
)

// maxRuleIterations caps forward chaining so a rule set that keeps
// asserting facts cannot spin forever.
const maxRuleIterations = 16

// Metrics reports what detection cost.
type Metrics struct {
	Elapsed   time.Duration `json:"elapsedMs"`
	FactCount int           `json:"factCount"`
	TimedOut  bool          `json:"timedOut"`
}

// budgetFor resolves the soft time budget: an explicit budgetMs wins,
// otherwise the profile's default.
func budgetFor(profile models.PerceptionProfile, budgetMs int) time.Duration {
	if budgetMs > 0 {
		return time.Duration(budgetMs) * time.Millisecond
	}
	switch profile {
	case models.ProfileFast:
		return budgetFast
	case models.ProfileThorough:
		return budgetThorough
	default:
		return budgetBalanced
	}
}

// DetectSignals invokes the module's classifier over the thread under a
// soft time budget. The classifier is single-shot: on budget expiry no facts
// are returned and the metrics flag the timeout. Detection never fails a
// turn; the pipeline proceeds with an empty signal set.
func DetectSignals(ctx context.Context, m *models.Module, thread models.Thread, policy models.PerceptionPolicy) ([]models.Fact, Metrics, error) {
	start := time.Now()
	if m.Classifier == nil {
		return nil, Metrics{Elapsed: time.Since(start)}, nil
	}

	budget := budgetFor(policy.Profile, policy.BudgetMs)
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type outcome struct {
		facts []models.Fact
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		facts, err := m.Classifier.Classify(ctx, thread)
		done <- outcome{facts, err}
	}()

	select {
	case out := <-done:
		metrics := Metrics{Elapsed: time.Since(start), FactCount: len(out.facts)}
		if out.err != nil {
			if ctx.Err() != nil {
				metrics.TimedOut = true
				return nil, metrics, nil
			}
			return nil, metrics, out.err
		}
		return out.facts, metrics, nil
	case <-ctx.Done():
		return nil, Metrics{Elapsed: time.Since(start), TimedOut: true}, nil
	}
}

// AggregateFacts deduplicates signals by identity keeping maximum
// confidence, applies the per-dimension policy, and appends one TurnContext
// fact describing the turn.
func AggregateFacts(facts []models.Fact, thread models.Thread, policy models.PerceptionPolicy) []models.Fact {
	best := make(map[string]models.Fact)
	var order []string
	for _, f := range facts {
		key := f.DedupKey()
		if existing, ok := best[key]; ok {
			if f.Confidence > existing.Confidence {
				best[key] = f
			}
			continue
		}
		best[key] = f
		order = append(order, key)
	}

	out := make([]models.Fact, 0, len(order)+1)
	for _, key := range order {
		f := best[key]
		if dp, ok := policy.Dimensions[f.Dimension]; ok && f.Dimension != "" {
			if !dp.Enabled || f.Confidence < dp.MinConfidence {
				continue
			}
		}
		out = append(out, f)
	}

	out = append(out, models.Fact{
		Type:       models.FactTurnContext,
		Confidence: 1,
		Data: map[string]any{
			"messageCount": len(thread),
			"signalCount":  len(out),
		},
	})
	return out
}

// EvaluateRules forward-chains the module's rules over the fact set. A rule
// fires at most once; asserted facts join the working set and may enable
// later rules on the next pass. Candidate plans come back in rule order.
func EvaluateRules(facts []models.Fact, m *models.Module) []*models.Plan {
	working := append([]models.Fact(nil), facts...)
	fired := make(map[string]bool)
	planned := make(map[string]*models.Plan)
	var planOrder []string

	for iter := 0; iter < maxRuleIterations; iter++ {
		progressed := false
		for _, rule := range m.Rules {
			if fired[rule.Name] {
				continue
			}
			if !conditionsHold(rule.Conditions, working) {
				continue
			}
			fired[rule.Name] = true
			progressed = true
			working = append(working, rule.Assert...)
			if rule.Plan != nil {
				plan := *rule.Plan
				planned[rule.Name] = &plan
				planOrder = append(planOrder, rule.Name)
			}
		}
		if !progressed {
			break
		}
	}

	out := make([]*models.Plan, 0, len(planOrder))
	for _, name := range planOrder {
		out = append(out, planned[name])
	}
	return out
}

func conditionsHold(conditions []models.RuleCondition, facts []models.Fact) bool {
	for _, c := range conditions {
		if !c.Matches(facts) {
			return false
		}
	}
	return true
}

// SelectPlan picks the winning candidate: highest confidence wins, with
// ties going to the earlier rule and, failing that, the simpler strategy.
// Candidates arrive in rule order, so keeping the first plan of the top
// confidence tier satisfies all three keys. Returns nil when no candidate
// exists.
func SelectPlan(candidates []*models.Plan) *models.Plan {
	var best *models.Plan
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if best == nil || c.Confidence > best.Confidence {
			best = c
		}
	}
	return best
}
