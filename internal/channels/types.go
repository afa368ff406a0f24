// Package channels implements the shared ingress pipeline used by every
// chat-platform bridge (Discord, Telegram, web chat): injection scanning,
// session resolution, Context Builder composition, turn execution with
// provider failover, message persistence, and memory auto-capture.
//
// The teacher repo has no chat-platform bridges of its own (it is a
// web/API product); this package follows the shared-dispatcher shape common
// to Go chat-agent bridges in the wider example pack, adapted into the
// daemon's package/zerolog/otel conventions.
package channels

import (
	"context"
	"encoding/json"
	"fmt"

	"engram/internal/config"
	"engram/internal/engram"
	"engram/internal/llm"
	"engram/internal/store"
	"engram/internal/toolsreg"
	"engram/internal/turn"
)

// Deps are the process-global components every channel bridge shares.
type Deps struct {
	Store     *store.Store
	Engram    *engram.Store
	Providers []llm.Provider // primary first, then each configured fallback
	Tools     toolsreg.Registry
	ToolRAG   turn.ToolRAGLookup
	TurnCfg   config.TurnConfig
	CtxCfg    config.ContextBuilderConfig
	Routing   Router
}

// Router resolves which model/system-prompt an agent+role+channel
// combination should use, generalizing the spec's
// `model_routing.resolve(agent, role, channel, default)`.
type Router interface {
	Resolve(agentID, role, channel string) Route
}

// Route is one resolved routing decision.
type Route struct {
	Model        string
	SystemPrompt string
}

// StaticRouter is a Router backed by a single fixed default, sufficient for
// a single-model daemon deployment; multi-model routing tables are a
// drop-in replacement implementing the same interface.
type StaticRouter struct {
	DefaultModel        string
	DefaultSystemPrompt string
}

func (r StaticRouter) Resolve(agentID, role, channel string) Route {
	return Route{Model: r.DefaultModel, SystemPrompt: r.DefaultSystemPrompt}
}

// Request is one inbound chat-platform message handed to the shared pipeline.
type Request struct {
	ChannelPrefix  string // "discord", "telegram", "webchat"
	ChannelContext string // e.g. "#general in guild X"
	Text           string
	UserID         string
	AgentID        string
}

// sessionKey builds the spec's `eng-<channel>-<agent>-<user>` session id.
func sessionKey(req Request) string {
	return fmt.Sprintf("eng-%s-%s-%s", req.ChannelPrefix, req.AgentID, req.UserID)
}

func safeToolSet(reg toolsreg.Registry) map[string]bool {
	out := make(map[string]bool)
	if reg == nil {
		return out
	}
	for _, s := range reg.Schemas() {
		out[s.Name] = true
	}
	return out
}

// dispatcherAdapter narrows toolsreg.Registry to the turn.ToolDispatcher the
// turn loop expects (Dispatch only).
type dispatcherAdapter struct{ reg toolsreg.Registry }

func (d dispatcherAdapter) Dispatch(ctx context.Context, name string, raw json.RawMessage) ([]byte, error) {
	return d.reg.Dispatch(ctx, name, raw)
}
