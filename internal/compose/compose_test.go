package compose

import (
	"strings"
	"testing"

	"github.com/thinksuit/thinksuit/internal/module"
	"github.com/thinksuit/thinksuit/pkg/models"
)

func TestComposeSystemConcatenation(t *testing.T) {
	m := module.Builtin()
	in := Compose(m, "analyze", []string{"cautious", "grounded"}, nil)

	if !strings.HasPrefix(in.System, m.Prompts["system.analyze"]) {
		t.Error("system does not start with the role fragment")
	}
	if !strings.Contains(in.System, m.Prompts["adapt.cautious"]) {
		t.Error("cautious adaptation missing")
	}
	if !strings.Contains(in.System, m.Prompts["adapt.grounded"]) {
		t.Error("grounded adaptation missing")
	}
	if in.Primary != m.Prompts["primary.analyze"] {
		t.Errorf("primary = %q, want primary.analyze fragment", in.Primary)
	}
	if in.Role != "analyze" {
		t.Errorf("role = %q", in.Role)
	}
}

func TestComposeUnknownFragmentsSkipped(t *testing.T) {
	m := module.Builtin()
	in := Compose(m, "chat", []string{"no-such-adaptation"}, nil)
	if in.System != m.Prompts["system.chat"] {
		t.Errorf("system = %q, want just the role fragment", in.System)
	}
}

func TestComposeLengthGuidance(t *testing.T) {
	m := module.Builtin()
	facts := []models.Fact{
		{Type: models.FactSignal, Dimension: "length", Signal: "brief", Confidence: 0.8},
	}
	in := Compose(m, "chat", nil, facts)
	if !strings.Contains(in.System, m.Prompts["length.brief"]) {
		t.Error("length guidance missing from system instructions")
	}
}

func TestComposeIsPure(t *testing.T) {
	m := module.Builtin()
	facts := []models.Fact{
		{Type: models.FactSignal, Dimension: "length", Signal: "thorough", Confidence: 0.9},
	}
	first := Compose(m, "explore", []string{"cautious"}, facts)
	second := Compose(m, "explore", []string{"cautious"}, facts)
	if first != second {
		t.Errorf("composition not deterministic: %+v vs %+v", first, second)
	}
}

func TestApplyPrimary(t *testing.T) {
	m := module.Builtin()
	in := Compose(m, "chat", nil, nil)
	thread := models.Thread{{Role: models.RoleUser, Content: "hello"}}

	out := ApplyPrimary(thread, in)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out[1].Role != models.RoleUser || out[1].Content != in.Primary {
		t.Errorf("appended turn = %+v", out[1])
	}
	if len(thread) != 1 {
		t.Error("input thread mutated")
	}

	// Applying again must not stack.
	again := ApplyPrimary(out, in)
	if len(again) != 2 {
		t.Errorf("len after reapply = %d, want 2", len(again))
	}
}

func TestApplyPrimaryTaskContinuation(t *testing.T) {
	m := module.Builtin()
	in := Compose(m, "execute", nil, nil)

	// Mid task loop the primary sits before assistant and tool turns. It
	// must not be appended again after the tool result.
	thread := models.Thread{
		{Role: models.RoleUser, Content: "read a.txt"},
		{Role: models.RoleUser, Content: in.Primary},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "call_1"}}},
		{Role: models.RoleTool, ToolCallID: "call_1", Content: `{"success":true}`},
	}
	out := ApplyPrimary(thread, in)
	if len(out) != len(thread) {
		t.Fatalf("len = %d, want %d (no turn appended)", len(out), len(thread))
	}
	if out[len(out)-1].Role != models.RoleTool {
		t.Errorf("last turn = %+v, want the tool result", out[len(out)-1])
	}
}

func TestApplyPrimaryEmpty(t *testing.T) {
	thread := models.Thread{{Role: models.RoleUser, Content: "hi"}}
	out := ApplyPrimary(thread, Instructions{})
	if len(out) != 1 {
		t.Errorf("empty primary should leave the thread alone")
	}
}
