// Package compose builds the prompt pair for one LLM call from the
// module's fragments. Composition is pure: same module, plan, and facts in,
// same instructions out.
package compose

import (
	"strings"

	"github.com/thinksuit/thinksuit/pkg/models"
)

// Instructions is the composed prompt pair handed to the provider adapter.
type Instructions struct {
	System  string
	Primary string
	Role    string
}

// Compose assembles systemInstructions from system.<role> plus any selected
// adapt.* fragments and length.* guidance, and renders primary.<role> as
// the instruction applied to the thread tail. Unknown fragment names are
// skipped; a role without a system fragment composes empty.
func Compose(m *models.Module, role string, adaptations []string, facts []models.Fact) Instructions {
	var system []string
	if base, ok := m.Prompts["system."+role]; ok && base != "" {
		system = append(system, base)
	}
	for _, name := range adaptations {
		if frag, ok := m.Prompts["adapt."+name]; ok && frag != "" {
			system = append(system, frag)
		}
	}
	if guidance := lengthGuidance(m, facts); guidance != "" {
		system = append(system, guidance)
	}

	return Instructions{
		System:  strings.Join(system, "\n\n"),
		Primary: m.Prompts["primary."+role],
		Role:    role,
	}
}

// lengthGuidance picks a length.* fragment named by a length signal in the
// fact set, if the module carries one.
func lengthGuidance(m *models.Module, facts []models.Fact) string {
	for _, f := range facts {
		if f.Type != models.FactSignal || f.Dimension != "length" || f.Signal == "" {
			continue
		}
		if frag, ok := m.Prompts["length."+f.Signal]; ok {
			return frag
		}
	}
	return ""
}

// ApplyPrimary appends the primary instruction to the thread as the final
// user turn. A thread that already carries the primary anywhere is left
// alone, so retries and task-loop continuations (where assistant and tool
// turns follow the primary) do not stack or reorder instructions.
func ApplyPrimary(thread models.Thread, in Instructions) models.Thread {
	if in.Primary == "" {
		return thread
	}
	for _, msg := range thread {
		if msg.Role == models.RoleUser && msg.Content == in.Primary {
			return thread
		}
	}
	out := thread.Clone()
	out = append(out, models.Message{Role: models.RoleUser, Content: in.Primary})
	return out
}
