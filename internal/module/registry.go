// Package module locates and validates cognitive modules. A module bundles
// the roles, prompt fragments, classifier, and rule set that shape how a
// turn is planned and executed.
package module

import (
	"fmt"
	"strings"
	"sync"

	"github.com/thinksuit/thinksuit/pkg/models"
)

// Registry resolves modules by <namespace>/<name> key. It is stateless
// beyond caching validated entries; modules themselves are pure values.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*models.Module
}

// NewRegistry builds a registry seeded with the builtin module plus any
// supplied modules. Supplied modules are validated on registration.
func NewRegistry(supplied map[string]*models.Module) (*Registry, error) {
	r := &Registry{modules: make(map[string]*models.Module)}

	builtin := Builtin()
	r.modules[builtin.Key()] = builtin

	for key, m := range supplied {
		if err := Validate(m); err != nil {
			return nil, err
		}
		if key != m.Key() {
			return nil, models.NewError(models.CodeModuleInvalid,
				"module registered under %q but identifies as %q", key, m.Key())
		}
		r.modules[key] = m
	}
	return r, nil
}

// Resolve returns the module for a key.
func (r *Registry) Resolve(key string) (*models.Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[key]
	if !ok {
		return nil, models.NewError(models.CodeConfigUnknownModule,
			"unknown module %q (available: %s)", key, strings.Join(r.keysLocked(), ", "))
	}
	return m, nil
}

// Keys lists the registered module keys.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.keysLocked()
}

func (r *Registry) keysLocked() []string {
	keys := make([]string, 0, len(r.modules))
	for k := range r.modules {
		keys = append(keys, k)
	}
	return keys
}

// Validate checks a module's structural requirements: identity fields, at
// least one role, and prompt fragments for every declared role.
func Validate(m *models.Module) error {
	if m == nil {
		return models.NewError(models.CodeModuleInvalid, "module is nil")
	}
	var problems []string
	if m.Namespace == "" {
		problems = append(problems, "namespace is required")
	}
	if m.Name == "" {
		problems = append(problems, "name is required")
	}
	if m.Version == "" {
		problems = append(problems, "version is required")
	}
	if len(m.Roles) == 0 {
		problems = append(problems, "at least one role is required")
	}

	defaults := 0
	seen := make(map[string]bool)
	for _, role := range m.Roles {
		if role.Name == "" {
			problems = append(problems, "role with empty name")
			continue
		}
		if seen[role.Name] {
			problems = append(problems, fmt.Sprintf("duplicate role %q", role.Name))
		}
		seen[role.Name] = true
		if role.IsDefault {
			defaults++
		}
		if _, ok := m.Prompts["system."+role.Name]; !ok {
			problems = append(problems, fmt.Sprintf("missing prompt system.%s", role.Name))
		}
	}
	if defaults > 1 {
		problems = append(problems, "more than one default role")
	}

	for _, rule := range m.Rules {
		if rule.Name == "" {
			problems = append(problems, "rule with empty name")
		}
		if rule.Plan != nil {
			if err := rule.Plan.Validate(); err != nil {
				problems = append(problems, fmt.Sprintf("rule %q: invalid plan: %v", rule.Name, err))
			}
		}
	}

	if len(problems) > 0 {
		return models.NewError(models.CodeModuleInvalid,
			"module %s: %s", m.Key(), strings.Join(problems, "; "))
	}
	return nil
}
