package module

import (
	"context"
	"strings"

	"github.com/thinksuit/thinksuit/pkg/models"
)

// BuiltinKey is the module used when configuration names none.
const BuiltinKey = "thinksuit/mu"

// intentKeywords drives the builtin keyword classifier. The last user
// message is scanned for each signal's markers.
var intentKeywords = map[string][]string{
	"analyze":    {"analyze", "analyse", "examine", "why", "explain", "compare", "evaluate"},
	"explore":    {"explore", "brainstorm", "ideas", "alternatives", "what if", "options"},
	"execute":    {"run", "execute", "read the file", "list the", "write to", "search for", "fetch"},
	"synthesize": {"summarize", "summarise", "synthesize", "combine", "merge", "overall"},
}

// Builtin returns the thinksuit/mu module: a minimal set of roles, a
// keyword classifier, and rules mapping detected intent to plans.
func Builtin() *models.Module {
	return &models.Module{
		Namespace: "thinksuit",
		Name:      "mu",
		Version:   "1.0.0",
		Roles: []models.ModuleRole{
			{Name: "chat", Temperature: 0.7, IsDefault: true, Description: "general conversation"},
			{Name: "analyze", Temperature: 0.3, Description: "structured reasoning over the thread"},
			{Name: "explore", Temperature: 0.9, Description: "divergent idea generation"},
			{Name: "execute", Temperature: 0.2, Description: "tool-using task completion"},
			{Name: "synthesize", Temperature: 0.4, Description: "combine prior outputs into one answer"},
		},
		Prompts: map[string]string{
			"system.chat":       "You are a helpful assistant. Answer directly and concisely.",
			"system.analyze":    "You are an analyst. Break the question down, reason step by step, and state your conclusion explicitly.",
			"system.explore":    "You are a creative collaborator. Generate distinct options and note the trade-offs of each.",
			"system.execute":    "You are an operator with access to tools. Use them to complete the task, then report what you did.",
			"system.synthesize": "You are an editor. Combine the preceding material into a single coherent answer without adding new claims.",

			"primary.chat":       "Respond to the user's last message.",
			"primary.analyze":    "Analyze the user's last message.",
			"primary.explore":    "Explore approaches to the user's last message.",
			"primary.execute":    "Carry out the task in the user's last message.",
			"primary.synthesize": "Synthesize the preceding outputs into one response.",

			"adapt.cautious":  "Flag uncertainty explicitly rather than guessing.",
			"adapt.grounded":  "Cite which part of the conversation supports each claim.",
			"length.brief":    "Keep the response under three paragraphs.",
			"length.thorough": "Cover the topic exhaustively; length is not a concern.",
		},
		Rules:      builtinRules(),
		Classifier: models.ClassifierFunc(keywordClassify),
		Tokens:     models.TokenDefaults{Default: 4096},
	}
}

func builtinRules() []models.Rule {
	return []models.Rule{
		{
			Name: "execute-task",
			Conditions: []models.RuleCondition{
				{Type: models.FactSignal, Dimension: "intent", Signal: "execute", MinConfidence: 0.5},
			},
			Plan: &models.Plan{
				Name:       "execute-task",
				Strategy:   models.StrategyTask,
				Role:       "execute",
				Tools:      []string{"read_file", "write_file", "list_directory", "search_files"},
				Confidence: 0.8,
			},
		},
		{
			Name: "analyze-direct",
			Conditions: []models.RuleCondition{
				{Type: models.FactSignal, Dimension: "intent", Signal: "analyze", MinConfidence: 0.5},
			},
			Plan: &models.Plan{
				Name:       "analyze-direct",
				Strategy:   models.StrategyDirect,
				Role:       "analyze",
				Confidence: 0.7,
			},
		},
		{
			Name: "explore-then-synthesize",
			Conditions: []models.RuleCondition{
				{Type: models.FactSignal, Dimension: "intent", Signal: "explore", MinConfidence: 0.5},
				{Type: models.FactSignal, Dimension: "intent", Signal: "synthesize", MinConfidence: 0.5},
			},
			Plan: &models.Plan{
				Name:     "explore-then-synthesize",
				Strategy: models.StrategySequential,
				Sequence: []models.Step{
					{Role: "explore", Strategy: models.StrategyDirect},
					{Role: "synthesize", Strategy: models.StrategyDirect},
				},
				BuildThread:    true,
				ResultStrategy: models.ResultLast,
				Confidence:     0.75,
			},
		},
		{
			Name: "explore-direct",
			Conditions: []models.RuleCondition{
				{Type: models.FactSignal, Dimension: "intent", Signal: "explore", MinConfidence: 0.5},
			},
			Plan: &models.Plan{
				Name:       "explore-direct",
				Strategy:   models.StrategyDirect,
				Role:       "explore",
				Confidence: 0.6,
			},
		},
		{
			Name: "synthesize-direct",
			Conditions: []models.RuleCondition{
				{Type: models.FactSignal, Dimension: "intent", Signal: "synthesize", MinConfidence: 0.5},
			},
			Plan: &models.Plan{
				Name:       "synthesize-direct",
				Strategy:   models.StrategyDirect,
				Role:       "synthesize",
				Confidence: 0.6,
			},
		},
		{
			Name:       "chat-fallback",
			Conditions: []models.RuleCondition{},
			Plan: &models.Plan{
				Name:       "chat-fallback",
				Strategy:   models.StrategyDirect,
				Role:       "chat",
				Confidence: 0.3,
			},
		},
	}
}

// keywordClassify scans the last user message for intent markers. Confidence
// scales with the number of distinct markers hit, capped at 0.9.
func keywordClassify(ctx context.Context, thread models.Thread) ([]models.Fact, error) {
	last := thread.LastUser()
	if last == "" {
		return nil, nil
	}
	text := strings.ToLower(last)

	var facts []models.Fact
	for _, signal := range []string{"analyze", "explore", "execute", "synthesize"} {
		hits := 0
		for _, kw := range intentKeywords[signal] {
			if strings.Contains(text, kw) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		confidence := 0.5 + 0.2*float64(hits-1)
		if confidence > 0.9 {
			confidence = 0.9
		}
		facts = append(facts, models.Fact{
			Type:       models.FactSignal,
			Dimension:  "intent",
			Signal:     signal,
			Confidence: confidence,
		})
	}
	return facts, nil
}
