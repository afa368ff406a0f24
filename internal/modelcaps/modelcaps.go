// Package modelcaps is an immutable registry of per-model capabilities used
// by the turn loop and context builder to size budgets and gate features
// (tool calling, vision, extended thinking) without calling the provider.
package modelcaps

import "strings"

// Capabilities describes what a given model supports.
type Capabilities struct {
	ContextWindowTokens   int
	MaxOutputTokens       int
	SupportsTools         bool
	SupportsVision        bool
	SupportsExtendedThink bool
	TokenizerFamily       string
	RateLimitRPM          int
}

// conservativeDefault is returned for any model not found by exact or
// prefix match, so unknown/future models still get a usable budget.
var conservativeDefault = Capabilities{
	ContextWindowTokens:   32000,
	MaxOutputTokens:       4096,
	SupportsTools:         true,
	SupportsVision:        false,
	SupportsExtendedThink: false,
	TokenizerFamily:       "cl100k_base",
	RateLimitRPM:          60,
}

// registry is keyed by exact model name; prefixes are matched separately via
// prefixRegistry, longest match wins.
var registry = map[string]Capabilities{
	"gpt-4o": {
		ContextWindowTokens: 128000, MaxOutputTokens: 16384,
		SupportsTools: true, SupportsVision: true,
		TokenizerFamily: "o200k_base", RateLimitRPM: 500,
	},
	"gpt-4o-mini": {
		ContextWindowTokens: 128000, MaxOutputTokens: 16384,
		SupportsTools: true, SupportsVision: true,
		TokenizerFamily: "o200k_base", RateLimitRPM: 500,
	},
	"o1": {
		ContextWindowTokens: 200000, MaxOutputTokens: 100000,
		SupportsTools: true, SupportsVision: true, SupportsExtendedThink: true,
		TokenizerFamily: "o200k_base", RateLimitRPM: 100,
	},
	"claude-3-7-sonnet-latest": {
		ContextWindowTokens: 200000, MaxOutputTokens: 8192,
		SupportsTools: true, SupportsVision: true, SupportsExtendedThink: true,
		TokenizerFamily: "claude", RateLimitRPM: 300,
	},
	"claude-sonnet-4-5-latest": {
		ContextWindowTokens: 200000, MaxOutputTokens: 8192,
		SupportsTools: true, SupportsVision: true, SupportsExtendedThink: true,
		TokenizerFamily: "claude", RateLimitRPM: 300,
	},
	"claude-3-5-haiku-latest": {
		ContextWindowTokens: 200000, MaxOutputTokens: 8192,
		SupportsTools: true, SupportsVision: false,
		TokenizerFamily: "claude", RateLimitRPM: 400,
	},
	"gemini-2.0-flash": {
		ContextWindowTokens: 1000000, MaxOutputTokens: 8192,
		SupportsTools: true, SupportsVision: true,
		TokenizerFamily: "gemini", RateLimitRPM: 300,
	},
	"gemini-2.5-pro": {
		ContextWindowTokens: 2000000, MaxOutputTokens: 8192,
		SupportsTools: true, SupportsVision: true, SupportsExtendedThink: true,
		TokenizerFamily: "gemini", RateLimitRPM: 150,
	},
}

// prefixOrder lists prefixes from most to least specific; the first match wins.
var prefixOrder = []string{
	"gpt-4o", "gpt-4", "gpt-3.5", "o1", "o3",
	"claude-3-7", "claude-sonnet-4", "claude-3-5", "claude-3-opus", "claude-3", "claude",
	"gemini-2.5", "gemini-2.0", "gemini-1.5", "gemini",
}

// prefixDefaults mirrors registry entries used as stand-ins for a whole
// model family when no exact match is found.
var prefixDefaults = map[string]Capabilities{
	"gpt-4o":          registry["gpt-4o"],
	"gpt-4":           {ContextWindowTokens: 128000, MaxOutputTokens: 8192, SupportsTools: true, SupportsVision: true, TokenizerFamily: "cl100k_base", RateLimitRPM: 500},
	"gpt-3.5":         {ContextWindowTokens: 16385, MaxOutputTokens: 4096, SupportsTools: true, TokenizerFamily: "cl100k_base", RateLimitRPM: 500},
	"o1":              registry["o1"],
	"o3":              {ContextWindowTokens: 200000, MaxOutputTokens: 100000, SupportsTools: true, SupportsVision: true, SupportsExtendedThink: true, TokenizerFamily: "o200k_base", RateLimitRPM: 100},
	"claude-3-7":      registry["claude-3-7-sonnet-latest"],
	"claude-sonnet-4": registry["claude-sonnet-4-5-latest"],
	"claude-3-5":      registry["claude-3-5-haiku-latest"],
	"claude-3-opus":   {ContextWindowTokens: 200000, MaxOutputTokens: 4096, SupportsTools: true, SupportsVision: true, TokenizerFamily: "claude", RateLimitRPM: 200},
	"claude-3":        {ContextWindowTokens: 200000, MaxOutputTokens: 4096, SupportsTools: true, SupportsVision: true, TokenizerFamily: "claude", RateLimitRPM: 200},
	"claude":          {ContextWindowTokens: 200000, MaxOutputTokens: 4096, SupportsTools: true, TokenizerFamily: "claude", RateLimitRPM: 200},
	"gemini-2.5":      registry["gemini-2.5-pro"],
	"gemini-2.0":      registry["gemini-2.0-flash"],
	"gemini-1.5":      {ContextWindowTokens: 1000000, MaxOutputTokens: 8192, SupportsTools: true, SupportsVision: true, TokenizerFamily: "gemini", RateLimitRPM: 300},
	"gemini":          {ContextWindowTokens: 1000000, MaxOutputTokens: 8192, SupportsTools: true, SupportsVision: true, TokenizerFamily: "gemini", RateLimitRPM: 300},
}

// Lookup resolves a model's capabilities: exact match, then longest matching
// prefix, then a conservative default so an unrecognized model never panics
// downstream sizing logic.
func Lookup(model string) Capabilities {
	if c, ok := registry[model]; ok {
		return c
	}
	for _, p := range prefixOrder {
		if strings.HasPrefix(model, p) {
			if c, ok := prefixDefaults[p]; ok {
				return c
			}
		}
	}
	return conservativeDefault
}
