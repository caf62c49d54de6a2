package models

// Fact types produced by classifiers and rules.
const (
	FactSignal      = "Signal"
	FactPattern     = "Pattern"
	FactTurnContext = "TurnContext"
)

// Fact is a typed record consumed by the rule engine. Signal facts carry a
// dimension and signal name; Pattern facts carry a name and insight;
// TurnContext describes the turn itself.
type Fact struct {
	Type       string         `json:"type"`
	Dimension  string         `json:"dimension,omitempty"`
	Signal     string         `json:"signal,omitempty"`
	Name       string         `json:"name,omitempty"`
	Insight    string         `json:"insight,omitempty"`
	Confidence float64        `json:"confidence"`
	Data       map[string]any `json:"data,omitempty"`
}

// DedupKey returns the identity under which facts are deduplicated.
// Two facts with the same key are the same observation; the one with the
// higher confidence survives aggregation.
func (f Fact) DedupKey() string {
	name := f.Signal
	if name == "" {
		name = f.Name
	}
	return f.Type + "\x00" + f.Dimension + "\x00" + name
}
