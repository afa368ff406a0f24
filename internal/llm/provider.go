package llm

import (
	"context"
	"encoding/json"
)

type ToolCall struct {
	Name string
	Args json.RawMessage
	ID   string
	// ThoughtSignature carries provider-specific context (Gemini 3) that must be
	// echoed back on subsequent turns to keep function calling valid.
	//
	// IMPORTANT: this value is treated as opaque bytes by Gemini. We store it as a
	// base64-encoded string so it can safely round-trip through JSON, DB storage,
	// logging, and summarization without UTF-8 corruption.
	ThoughtSignature string
}

type Message struct {
	Role    string // "system" | "user" | "assistant" | "tool"
	Content string
	ToolID  string
	// ToolCalls are only set on assistant messages
	ToolCalls []ToolCall
	// ThoughtSignature carries provider-specific thought signatures (Gemini 3)
	// for text/thought parts that must be echoed back on subsequent turns.
	// Like ToolCall.ThoughtSignature, stored as base64 to survive JSON round-trips.
	ThoughtSignature string
}

type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Usage reports provider-attributed token consumption for a single chat
// round, taken from the API response rather than estimated client-side.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// TotalTokens is the combined input+output count.
func (u Usage) TotalTokens() int { return u.InputTokens + u.OutputTokens }

type StreamHandler interface {
	OnDelta(content string)
	OnToolCall(tc ToolCall)
	// OnThoughtSummary receives model reasoning summaries when available.
	OnThoughtSummary(summary string)
	// OnThoughtSignature receives the opaque per-turn signature Gemini 3
	// attaches to text/thought parts, to be echoed back verbatim.
	OnThoughtSignature(sig string)
	// OnUsage receives provider-reported token usage once the response
	// completes. Implementations MUST call this with real counts, not an
	// estimate, so callers can reconcile exact spend.
	OnUsage(u Usage)
}

type Provider interface {
	Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string) (Message, error)
	ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, h StreamHandler) error
}
