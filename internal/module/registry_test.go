package module

import (
	"context"
	"strings"
	"testing"

	"github.com/thinksuit/thinksuit/pkg/models"
)

func TestRegistryResolveBuiltin(t *testing.T) {
	r, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	m, err := r.Resolve(BuiltinKey)
	if err != nil {
		t.Fatalf("resolve builtin: %v", err)
	}
	if m.DefaultRole() != "chat" {
		t.Errorf("default role = %q, want chat", m.DefaultRole())
	}
}

func TestRegistryUnknownModule(t *testing.T) {
	r, _ := NewRegistry(nil)
	_, err := r.Resolve("acme/missing")
	if err == nil {
		t.Fatal("expected error for unknown module")
	}
	if models.ErrorCode(err) != models.CodeConfigUnknownModule {
		t.Errorf("code = %q, want %s", models.ErrorCode(err), models.CodeConfigUnknownModule)
	}
}

func TestRegistryRejectsMismatchedKey(t *testing.T) {
	m := Builtin()
	_, err := NewRegistry(map[string]*models.Module{"acme/other": m})
	if err == nil {
		t.Fatal("expected error for key mismatch")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *models.Module {
		return &models.Module{
			Namespace: "acme",
			Name:      "demo",
			Version:   "0.1.0",
			Roles:     []models.ModuleRole{{Name: "chat", Temperature: 0.7, IsDefault: true}},
			Prompts:   map[string]string{"system.chat": "be helpful"},
		}
	}
	tests := []struct {
		name    string
		mutate  func(*models.Module)
		wantErr string
	}{
		{"valid", func(m *models.Module) {}, ""},
		{"missing namespace", func(m *models.Module) { m.Namespace = "" }, "namespace"},
		{"missing version", func(m *models.Module) { m.Version = "" }, "version"},
		{"no roles", func(m *models.Module) { m.Roles = nil }, "role"},
		{"duplicate roles", func(m *models.Module) {
			m.Roles = append(m.Roles, models.ModuleRole{Name: "chat"})
		}, "duplicate"},
		{"two defaults", func(m *models.Module) {
			m.Roles = append(m.Roles, models.ModuleRole{Name: "other", IsDefault: true})
			m.Prompts["system.other"] = "x"
		}, "default"},
		{"missing system prompt", func(m *models.Module) { delete(m.Prompts, "system.chat") }, "system.chat"},
		{"invalid rule plan", func(m *models.Module) {
			m.Rules = []models.Rule{{Name: "bad", Plan: &models.Plan{Strategy: "nonsense"}}}
		}, "invalid plan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(m)
			err := Validate(m)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if models.ErrorCode(err) != models.CodeModuleInvalid {
				t.Errorf("code = %q, want %s", models.ErrorCode(err), models.CodeModuleInvalid)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestBuiltinIsValid(t *testing.T) {
	if err := Validate(Builtin()); err != nil {
		t.Fatalf("builtin module invalid: %v", err)
	}
}

func TestKeywordClassifier(t *testing.T) {
	m := Builtin()
	tests := []struct {
		name       string
		input      string
		wantSignal string
	}{
		{"analyze", "Can you analyze why this fails and explain it?", "analyze"},
		{"explore", "Brainstorm some ideas for the launch", "explore"},
		{"execute", "Read the file config.json and tell me what's in it", "execute"},
		{"synthesize", "Summarize the discussion so far", "synthesize"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thread := models.Thread{{Role: models.RoleUser, Content: tt.input}}
			facts, err := m.Classifier.Classify(context.Background(), thread)
			if err != nil {
				t.Fatalf("classify: %v", err)
			}
			found := false
			for _, f := range facts {
				if f.Type == models.FactSignal && f.Dimension == "intent" && f.Signal == tt.wantSignal {
					found = true
					if f.Confidence < 0.5 || f.Confidence > 0.9 {
						t.Errorf("confidence = %v, want in [0.5, 0.9]", f.Confidence)
					}
				}
			}
			if !found {
				t.Errorf("signal %q not detected in %q (facts: %+v)", tt.wantSignal, tt.input, facts)
			}
		})
	}
}

func TestKeywordClassifierNoUserMessage(t *testing.T) {
	m := Builtin()
	facts, err := m.Classifier.Classify(context.Background(), models.Thread{})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(facts) != 0 {
		t.Errorf("facts = %+v, want none for empty thread", facts)
	}
}
