package models

import "fmt"

// Strategy tags the shape of an execution plan.
type Strategy string

const (
	StrategyDirect     Strategy = "direct"
	StrategyTask       Strategy = "task"
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
)

// Priority orders strategies by complexity. When candidate plans tie on
// confidence and rule order, the simpler strategy wins.
func (s Strategy) Priority() int {
	switch s {
	case StrategyDirect:
		return 0
	case StrategyTask:
		return 1
	case StrategySequential:
		return 2
	case StrategyParallel:
		return 3
	default:
		return 4
	}
}

// ResultStrategy selects how multi-part outputs are combined.
type ResultStrategy string

const (
	ResultLast   ResultStrategy = "last"
	ResultConcat ResultStrategy = "concat"
)

// Resolution bounds the tool-calling loop of a task plan. Zero values fall
// back to policy defaults.
type Resolution struct {
	MaxCycles    int `json:"maxCycles,omitempty"`
	MaxTokens    int `json:"maxTokens,omitempty"`
	MaxToolCalls int `json:"maxToolCalls,omitempty"`
	TimeoutMs    int `json:"timeoutMs,omitempty"`
}

// Step is one element of a sequential or parallel plan.
type Step struct {
	Role        string   `json:"role"`
	Strategy    Strategy `json:"strategy"`
	Tools       []string `json:"tools,omitempty"`
	Adaptations []string `json:"adaptations,omitempty"`
}

// Plan is the declarative execution plan for one turn. It is a tagged
// variant: the Strategy field determines which other fields are meaningful,
// and Validate rejects mixtures.
type Plan struct {
	Name     string   `json:"name"`
	Strategy Strategy `json:"strategy"`

	// direct, task
	Role        string   `json:"role,omitempty"`
	Adaptations []string `json:"adaptations,omitempty"`

	// task
	Tools      []string    `json:"tools,omitempty"`
	Resolution *Resolution `json:"resolution,omitempty"`

	// sequential
	Sequence    []Step `json:"sequence,omitempty"`
	BuildThread bool   `json:"buildThread,omitempty"`

	// parallel
	Roles []Step `json:"roles,omitempty"`

	// sequential, parallel
	ResultStrategy ResultStrategy `json:"resultStrategy,omitempty"`

	// Confidence is carried on rule-emitted candidates for selection.
	Confidence float64 `json:"confidence,omitempty"`
}

// Validate checks that the plan carries exactly the fields its strategy
// requires and none belonging to another shape.
func (p *Plan) Validate() error {
	if p == nil {
		return fmt.Errorf("plan is nil")
	}
	switch p.Strategy {
	case StrategyDirect:
		if p.Role == "" {
			return fmt.Errorf("direct plan %q: role is required", p.Name)
		}
		if len(p.Tools) > 0 || p.Resolution != nil {
			return fmt.Errorf("direct plan %q: task fields not allowed", p.Name)
		}
		if len(p.Sequence) > 0 || len(p.Roles) > 0 || p.ResultStrategy != "" || p.BuildThread {
			return fmt.Errorf("direct plan %q: composite fields not allowed", p.Name)
		}
	case StrategyTask:
		if p.Role == "" {
			return fmt.Errorf("task plan %q: role is required", p.Name)
		}
		if len(p.Tools) == 0 {
			return fmt.Errorf("task plan %q: tools are required", p.Name)
		}
		if len(p.Sequence) > 0 || len(p.Roles) > 0 || p.ResultStrategy != "" || p.BuildThread {
			return fmt.Errorf("task plan %q: composite fields not allowed", p.Name)
		}
	case StrategySequential:
		if len(p.Sequence) == 0 {
			return fmt.Errorf("sequential plan %q: sequence is required", p.Name)
		}
		if p.Role != "" || len(p.Tools) > 0 || p.Resolution != nil || len(p.Roles) > 0 {
			return fmt.Errorf("sequential plan %q: mixed fields not allowed", p.Name)
		}
		if err := validateResultStrategy(p.ResultStrategy); err != nil {
			return fmt.Errorf("sequential plan %q: %w", p.Name, err)
		}
		for i, step := range p.Sequence {
			if err := validateStep(step); err != nil {
				return fmt.Errorf("sequential plan %q: step %d: %w", p.Name, i, err)
			}
		}
	case StrategyParallel:
		if len(p.Roles) == 0 {
			return fmt.Errorf("parallel plan %q: roles are required", p.Name)
		}
		if p.Role != "" || len(p.Tools) > 0 || p.Resolution != nil || len(p.Sequence) > 0 || p.BuildThread {
			return fmt.Errorf("parallel plan %q: mixed fields not allowed", p.Name)
		}
		if err := validateResultStrategy(p.ResultStrategy); err != nil {
			return fmt.Errorf("parallel plan %q: %w", p.Name, err)
		}
		for i, step := range p.Roles {
			if err := validateStep(step); err != nil {
				return fmt.Errorf("parallel plan %q: branch %d: %w", p.Name, i, err)
			}
		}
	default:
		return fmt.Errorf("plan %q: unknown strategy %q", p.Name, p.Strategy)
	}
	return nil
}

func validateResultStrategy(rs ResultStrategy) error {
	switch rs {
	case "", ResultLast, ResultConcat:
		return nil
	default:
		return fmt.Errorf("unknown result strategy %q", rs)
	}
}

func validateStep(s Step) error {
	if s.Role == "" {
		return fmt.Errorf("role is required")
	}
	switch s.Strategy {
	case StrategyDirect:
		if len(s.Tools) > 0 {
			return fmt.Errorf("direct step may not declare tools")
		}
	case StrategyTask:
		if len(s.Tools) == 0 {
			return fmt.Errorf("task step requires tools")
		}
	default:
		return fmt.Errorf("step strategy must be direct or task, got %q", s.Strategy)
	}
	return nil
}

// SubPlan expands a step into a standalone plan executed by a child turn.
func (s Step) SubPlan(parent string, i int) *Plan {
	p := &Plan{
		Name:        fmt.Sprintf("%s[%d]", parent, i),
		Strategy:    s.Strategy,
		Role:        s.Role,
		Adaptations: s.Adaptations,
	}
	if s.Strategy == StrategyTask {
		p.Tools = s.Tools
	}
	return p
}
