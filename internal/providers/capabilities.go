package providers

import "strings"

// Capabilities declares what a model supports. The adapter omits options a
// model cannot accept rather than letting the backend reject them.
type Capabilities struct {
	MaxContext          int
	MaxOutput           int
	SupportsToolCalls   bool
	SupportsTemperature bool
}

// capabilityTable maps model-ID prefixes to capabilities. Longest prefix
// wins. Unknown models get conservative defaults.
var capabilityTable = []struct {
	prefix string
	caps   Capabilities
}{
	{"claude-opus-4", Capabilities{MaxContext: 200000, MaxOutput: 32000, SupportsToolCalls: true, SupportsTemperature: true}},
	{"claude-sonnet-4", Capabilities{MaxContext: 200000, MaxOutput: 64000, SupportsToolCalls: true, SupportsTemperature: true}},
	{"claude-haiku-4", Capabilities{MaxContext: 200000, MaxOutput: 32000, SupportsToolCalls: true, SupportsTemperature: true}},
	{"claude-", Capabilities{MaxContext: 200000, MaxOutput: 8192, SupportsToolCalls: true, SupportsTemperature: true}},
	{"gpt-4o", Capabilities{MaxContext: 128000, MaxOutput: 16384, SupportsToolCalls: true, SupportsTemperature: true}},
	{"gpt-4.1", Capabilities{MaxContext: 1000000, MaxOutput: 32768, SupportsToolCalls: true, SupportsTemperature: true}},
	{"gpt-5", Capabilities{MaxContext: 400000, MaxOutput: 128000, SupportsToolCalls: true, SupportsTemperature: false}},
	{"o1", Capabilities{MaxContext: 200000, MaxOutput: 100000, SupportsToolCalls: false, SupportsTemperature: false}},
	{"o3", Capabilities{MaxContext: 200000, MaxOutput: 100000, SupportsToolCalls: true, SupportsTemperature: false}},
	{"gemini-2.5", Capabilities{MaxContext: 1048576, MaxOutput: 65536, SupportsToolCalls: true, SupportsTemperature: true}},
	{"gemini-", Capabilities{MaxContext: 1048576, MaxOutput: 8192, SupportsToolCalls: true, SupportsTemperature: true}},
}

// LookupCapabilities returns the declared capabilities for a model.
func LookupCapabilities(model string) Capabilities {
	best := Capabilities{MaxContext: 128000, MaxOutput: 4096, SupportsToolCalls: true, SupportsTemperature: true}
	bestLen := -1
	for _, row := range capabilityTable {
		if strings.HasPrefix(model, row.prefix) && len(row.prefix) > bestLen {
			best = row.caps
			bestLen = len(row.prefix)
		}
	}
	return best
}

// clampMaxTokens bounds the requested output tokens to the model's limit.
func clampMaxTokens(requested int, caps Capabilities) int {
	if requested <= 0 {
		return caps.MaxOutput
	}
	if requested > caps.MaxOutput {
		return caps.MaxOutput
	}
	return requested
}
