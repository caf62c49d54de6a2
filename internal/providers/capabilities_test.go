package providers

import "testing"

func TestLookupCapabilities(t *testing.T) {
	tests := []struct {
		name       string
		model      string
		wantTools  bool
		wantTemp   bool
		wantMaxOut int
	}{
		{"claude sonnet", "claude-sonnet-4-5", true, true, 64000},
		{"claude fallback", "claude-3-5-haiku-latest", true, true, 8192},
		{"gpt-4o", "gpt-4o-mini", true, true, 16384},
		{"gpt-5 no temperature", "gpt-5", true, false, 128000},
		{"o1 no tools", "o1-preview", false, false, 100000},
		{"gemini 2.5", "gemini-2.5-pro", true, true, 65536},
		{"unknown model defaults", "totally-unknown", true, true, 4096},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caps := LookupCapabilities(tt.model)
			if caps.SupportsToolCalls != tt.wantTools {
				t.Errorf("SupportsToolCalls = %v, want %v", caps.SupportsToolCalls, tt.wantTools)
			}
			if caps.SupportsTemperature != tt.wantTemp {
				t.Errorf("SupportsTemperature = %v, want %v", caps.SupportsTemperature, tt.wantTemp)
			}
			if caps.MaxOutput != tt.wantMaxOut {
				t.Errorf("MaxOutput = %d, want %d", caps.MaxOutput, tt.wantMaxOut)
			}
		})
	}
}

func TestLookupCapabilitiesLongestPrefixWins(t *testing.T) {
	// "claude-sonnet-4" is more specific than "claude-".
	caps := LookupCapabilities("claude-sonnet-4-20250514")
	if caps.MaxOutput != 64000 {
		t.Errorf("MaxOutput = %d, want 64000 from the longer prefix", caps.MaxOutput)
	}
}

func TestClampMaxTokens(t *testing.T) {
	caps := Capabilities{MaxOutput: 8192}
	tests := []struct {
		name      string
		requested int
		want      int
	}{
		{"zero uses model max", 0, 8192},
		{"negative uses model max", -1, 8192},
		{"within limit passes through", 4096, 4096},
		{"over limit clamps", 100000, 8192},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampMaxTokens(tt.requested, caps); got != tt.want {
				t.Errorf("clampMaxTokens(%d) = %d, want %d", tt.requested, got, tt.want)
			}
		})
	}
}
