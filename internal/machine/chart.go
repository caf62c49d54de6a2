package machine

// Handler and predicate names for the turn chart. The scheduler registers
// implementations under these names.
const (
	HandlerDetectSignals   = "detectSignals"
	HandlerAggregateFacts  = "aggregateFacts"
	HandlerEvaluateRules   = "evaluateRules"
	HandlerSelectPlan      = "selectPlan"
	HandlerUseSelectedPlan = "useSelectedPlan"
	HandlerExecutePlan     = "executePlan"

	PredicateHasSelectedPlan = "hasSelectedPlan"
)

// TurnChart builds the canonical single-turn pipeline. When a plan was
// supplied up front (fork replay, recursion) the classification stages are
// skipped; the supplied plan is still admitted like a selected one, so the
// journal records which plan ran either way.
func TurnChart() *Chart {
	return &Chart{
		StartAt:   "CheckSelectedPlan",
		OnFailure: "TurnFailed",
		States: map[string]*State{
			"CheckSelectedPlan": {
				Type: StateChoice,
				Choices: []ChoiceRule{
					{Predicate: PredicateHasSelectedPlan, Next: "UseSelectedPlan"},
				},
				Default: "DetectSignals",
			},
			"UseSelectedPlan": {
				Type:    StateTask,
				Handler: HandlerUseSelectedPlan,
				Next:    "ExecutePlan",
			},
			"DetectSignals": {
				Type:    StateTask,
				Handler: HandlerDetectSignals,
				Next:    "AggregateFacts",
			},
			"AggregateFacts": {
				Type:    StateTask,
				Handler: HandlerAggregateFacts,
				Next:    "EvaluateRules",
			},
			"EvaluateRules": {
				Type:    StateTask,
				Handler: HandlerEvaluateRules,
				Next:    "SelectPlan",
			},
			"SelectPlan": {
				Type:    StateTask,
				Handler: HandlerSelectPlan,
				Next:    "ExecutePlan",
			},
			"ExecutePlan": {
				Type:    StateTask,
				Handler: HandlerExecutePlan,
				Next:    "Done",
			},
			"Done": {
				Type: StateSucceed,
			},
			"TurnFailed": {
				Type: StatePass,
			},
		},
	}
}
