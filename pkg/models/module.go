package models

import (
	"context"
	"encoding/json"
)

// PerceptionProfile bounds how much work signal detection may do.
type PerceptionProfile string

const (
	ProfileFast     PerceptionProfile = "fast"
	ProfileBalanced PerceptionProfile = "balanced"
	ProfileThorough PerceptionProfile = "thorough"
)

// Classifier inspects the thread and produces Signal and Pattern facts.
// Implementations should return early when ctx is done; the detector applies
// a soft time budget derived from the perception profile.
type Classifier interface {
	Classify(ctx context.Context, thread Thread) ([]Fact, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, thread Thread) ([]Fact, error)

func (f ClassifierFunc) Classify(ctx context.Context, thread Thread) ([]Fact, error) {
	return f(ctx, thread)
}

// ModuleRole is a named mode of LLM use with its own temperature and prompts.
type ModuleRole struct {
	Name        string  `json:"name"`
	Temperature float64 `json:"temperature"`
	IsDefault   bool    `json:"isDefault,omitempty"`
	Description string  `json:"description,omitempty"`
}

// RuleCondition matches facts in the working set. All conditions of a rule
// must be satisfied for the rule to fire. Empty fields match anything.
type RuleCondition struct {
	Type          string  `json:"type"`
	Dimension     string  `json:"dimension,omitempty"`
	Signal        string  `json:"signal,omitempty"`
	Name          string  `json:"name,omitempty"`
	MinConfidence float64 `json:"minConfidence,omitempty"`
}

// Matches reports whether any fact in the set satisfies the condition.
func (c RuleCondition) Matches(facts []Fact) bool {
	for _, f := range facts {
		if c.Type != "" && f.Type != c.Type {
			continue
		}
		if c.Dimension != "" && f.Dimension != c.Dimension {
			continue
		}
		if c.Signal != "" && f.Signal != c.Signal {
			continue
		}
		if c.Name != "" && f.Name != c.Name {
			continue
		}
		if f.Confidence < c.MinConfidence {
			continue
		}
		return true
	}
	return false
}

// Rule is a forward-chaining production: when all conditions hold, the rule
// asserts facts and may propose a candidate execution plan.
type Rule struct {
	Name       string          `json:"name"`
	Conditions []RuleCondition `json:"conditions"`
	Assert     []Fact          `json:"assert,omitempty"`
	Plan       *Plan           `json:"plan,omitempty"`
}

// TokenDefaults carries module-level token limits.
type TokenDefaults struct {
	Default int `json:"default"`
}

// Module is a pluggable cognitive bundle: roles, classifiers, rules, and
// prompt fragments. Modules are pure values; the core never mutates them.
type Module struct {
	Namespace string       `json:"namespace"`
	Name      string       `json:"name"`
	Version   string       `json:"version"`
	Roles     []ModuleRole `json:"roles"`

	// Prompts maps dotted fragment names (system.<role>, primary.<role>,
	// adapt.<name>, length.<name>) to template text.
	Prompts map[string]string `json:"prompts"`

	Rules            []Rule        `json:"rules"`
	Classifier       Classifier    `json:"-"`
	ToolDependencies []string      `json:"toolDependencies,omitempty"`
	Tokens           TokenDefaults `json:"tokens"`

	// Presets and Frames are opaque module documents carried for callers
	// that select them at run time. The core does not interpret them.
	Presets map[string]json.RawMessage `json:"presets,omitempty"`
	Frames  map[string]json.RawMessage `json:"frames,omitempty"`
}

// Key returns the registry key <namespace>/<name>.
func (m *Module) Key() string {
	return m.Namespace + "/" + m.Name
}

// DefaultRole returns the role marked default, or the first role.
func (m *Module) DefaultRole() string {
	for _, r := range m.Roles {
		if r.IsDefault {
			return r.Name
		}
	}
	if len(m.Roles) > 0 {
		return m.Roles[0].Name
	}
	return ""
}

// RoleTemperature returns the configured temperature for a role, or the
// provided fallback when the role is unknown.
func (m *Module) RoleTemperature(role string, fallback float64) float64 {
	for _, r := range m.Roles {
		if r.Name == role {
			return r.Temperature
		}
	}
	return fallback
}
