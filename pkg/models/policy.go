package models

// DimensionPolicy filters aggregated signals for one perception dimension.
type DimensionPolicy struct {
	Enabled       bool    `json:"enabled"`
	MinConfidence float64 `json:"minConfidence"`
}

// PerceptionPolicy configures signal detection.
type PerceptionPolicy struct {
	Profile    PerceptionProfile          `json:"profile,omitempty"`
	BudgetMs   int                        `json:"budgetMs,omitempty"`
	Dimensions map[string]DimensionPolicy `json:"dimensions,omitempty"`
}

// Policy bounds the resources one turn may consume. Depth and fanout are
// tracked per turn in the machine context, never via global counters.
type Policy struct {
	MaxDepth    int              `json:"maxDepth"`
	MaxFanout   int              `json:"maxFanout"`
	MaxChildren int              `json:"maxChildren"`
	Perception  PerceptionPolicy `json:"perception,omitempty"`
}

// DefaultPolicy returns the resource caps used when configuration does not
// override them.
func DefaultPolicy() Policy {
	return Policy{
		MaxDepth:    5,
		MaxFanout:   3,
		MaxChildren: 10,
		Perception: PerceptionPolicy{
			Profile: ProfileBalanced,
		},
	}
}
