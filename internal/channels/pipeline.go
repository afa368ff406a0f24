package channels

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"engram/internal/contextbuilder"
	"engram/internal/engram"
	"engram/internal/engramerr"
	"engram/internal/llm"
	"engram/internal/observability"
	"engram/internal/turn"
)

// RunChannelAgent is the shared ingress pipeline every chat-platform bridge
// calls with one inbound message. It runs injection scanning, session
// resolution, Context Builder composition, turn execution (with provider
// failover across Deps.Providers), persistence, and memory auto-capture, and
// returns the text to send back to the platform.
func RunChannelAgent(ctx context.Context, deps Deps, req Request) (string, error) {
	log := observability.LoggerWithTrace(ctx)

	// 1. Injection scan: refuse outright on a critical-severity match,
	// before the text ever reaches a provider or gets persisted.
	if scanInjection(req.Text) == severityCritical {
		log.Warn().Str("channel", req.ChannelPrefix).Str("user", req.UserID).Msg("channel_injection_refused")
		return injectionRefusal, nil
	}

	// 2. Session resolution.
	route := deps.Routing.Resolve(req.AgentID, "assistant", req.ChannelPrefix)
	sessID := sessionKey(req)
	sess, err := deps.Store.EnsureSession(ctx, sessID, req.AgentID, route.Model, route.SystemPrompt)
	if err != nil {
		return "", err
	}

	history, err := deps.Store.ListMessages(ctx, sessID, 200)
	if err != nil {
		return "", err
	}

	// 3. Context Builder composition: channel context + agent system
	// prompt + auto-recalled memories, within the model's token budget.
	sections := []contextbuilder.Section{
		{Kind: contextbuilder.SectionBasePrompt, Content: sess.SystemPrompt},
	}
	if req.ChannelContext != "" {
		sections = append(sections, contextbuilder.Section{
			Kind:    contextbuilder.SectionRuntimeContext,
			Content: "Channel context: " + req.ChannelContext,
		})
	}

	built, err := contextbuilder.Build(ctx, deps.CtxCfg, contextbuilder.Input{
		Model:    sess.Model,
		Sections: sections,
		Recall: contextbuilder.RecallQuery{
			Store:   deps.Engram,
			Query:   req.Text,
			AgentID: req.AgentID,
			Scope:   engram.Scope{AgentID: req.AgentID},
			Enabled: deps.Engram != nil,
		},
		History: append(history, llm.Message{Role: "user", Content: req.Text}),
	})
	if err != nil {
		return "", err
	}

	msgs := append([]llm.Message{{Role: "system", Content: built.SystemPrompt}}, built.Messages...)
	preTurnLen := len(msgs)

	// 4. Tool building: registry schemas plus the safe-tool set for HIL
	// classification. A remote channel caller can never bypass HIL via
	// auto_approve_all, so approvals always runs and a background
	// auto-rejecter denies anything pending on every tick while the turn runs.
	var schemas []llm.ToolSchema
	var dispatcher turn.ToolDispatcher
	if deps.Tools != nil {
		schemas = deps.Tools.Schemas()
		dispatcher = dispatcherAdapter{reg: deps.Tools}
	}

	approvals := turn.NewPendingApprovals()
	rejectCtx, stopRejecter := context.WithCancel(ctx)
	defer stopRejecter()
	go autoRejectLoop(rejectCtx, approvals, 100*time.Millisecond)

	budget := turn.NewDailyBudget(deps.TurnCfg.DailyBudgetUSD)
	approvalTimeout := time.Duration(deps.TurnCfg.ToolApprovalTimeoutS) * time.Second

	// 5/6. Run the turn, failing over to the next configured provider on a
	// billing/auth/quota classification. Messages are truncated back to
	// their pre-turn length between attempts so a partially-appended
	// round from the failed provider isn't replayed to the next one.
	var final string
	var lastErr error
	for i, provider := range deps.Providers {
		attemptMsgs := append([]llm.Message{}, msgs[:preTurnLen]...)

		in := turn.Input{
			Provider:            provider,
			Model:               sess.Model,
			Messages:            attemptMsgs,
			Tools:               schemas,
			SessionID:           sessID,
			RunID:               uuid.NewString(),
			MaxRounds:           deps.TurnCfg.MaxRounds,
			Approvals:           approvals,
			Budget:              budget,
			AgentID:             req.AgentID,
			ToolApprovalTimeout: approvalTimeout,
			AutoApproveAll:      false,
			SafeTools:           safeToolSetFrom(deps.TurnCfg.SafeTools),
			ToolRAG:             deps.ToolRAG,
			MaxToolParallelism:  deps.TurnCfg.MaxToolParallelism,
			ContextWindowTokens: deps.TurnCfg.ContextWindowTokens,
			Dispatcher:          dispatcher,
		}

		text, toolMsgs, err := drainTurn(ctx, in)
		if err == nil {
			final = text
			msgs = append(attemptMsgs, toolMsgs...)
			lastErr = nil
			break
		}

		lastErr = err
		if !engramerr.IsBillingAuthOrQuota(err) || i == len(deps.Providers)-1 {
			break
		}
		log.Warn().Err(err).Int("provider_index", i).Msg("channel_turn_provider_failover")
	}
	stopRejecter()

	if lastErr != nil {
		return "", lastErr
	}

	// 7. Persist the user turn plus everything the assistant produced.
	persisted := append([]llm.Message{{Role: "user", Content: req.Text}}, msgs[preTurnLen:]...)
	if err := deps.Store.AppendMessages(ctx, sessID, persisted); err != nil {
		log.Error().Err(err).Msg("channel_persist_failed")
	}

	// 8. Auto-capture candidate memories from the exchange.
	if deps.Engram != nil {
		for _, cand := range detectCaptureCandidates(req.Text, final) {
			if _, err := deps.Engram.Capture(ctx, engram.CaptureRequest{
				AgentID:     req.AgentID,
				SessionID:   sessID,
				ChannelUser: req.UserID,
				Content:     cand.content,
				Category:    cand.category,
				Importance:  cand.importance,
				Explicit:    false,
			}); err != nil {
				log.Warn().Err(err).Msg("channel_auto_capture_failed")
			}
		}
	}

	return final, nil
}

// drainTurn runs one turn to completion and returns the final text plus the
// assistant/tool messages it produced, or the first error/turn-level error
// event encountered.
func drainTurn(ctx context.Context, in turn.Input) (string, []llm.Message, error) {
	var produced []llm.Message
	var final string
	for ev := range turn.Run(ctx, in) {
		switch e := ev.(type) {
		case turn.Complete:
			final = e.Text
		case turn.Error:
			return "", nil, engramerr.Other("turn: "+e.Message, nil)
		case turn.ToolResultEvent:
			produced = append(produced, llm.Message{Role: "tool", ToolID: e.ToolCallID, Content: string(e.Output)})
		}
	}
	if final != "" {
		produced = append(produced, llm.Message{Role: "assistant", Content: final})
	}
	return final, produced, nil
}

// autoRejectLoop denies any tool-call approval still pending on each tick
// until ctx is cancelled, matching the spec's requirement that a remote
// channel caller can never leave a HIL approval open indefinitely.
func autoRejectLoop(ctx context.Context, approvals *turn.PendingApprovals, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			approvals.DenyAll()
		}
	}
}

func safeToolSetFrom(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

type captureCandidate struct {
	content    string
	category   string
	importance float64
}

// detectCaptureCandidates applies simple preference/context/instruction
// heuristics to decide whether the exchange is worth auto-capturing as an
// episodic memory, without running any model call of its own.
func detectCaptureCandidates(userText, assistantText string) []captureCandidate {
	lower := strings.ToLower(userText)
	var out []captureCandidate

	switch {
	case containsAny(lower, "i prefer", "i like", "i don't like", "i hate", "my favorite"):
		out = append(out, captureCandidate{content: userText, category: "preference", importance: 0.6})
	case containsAny(lower, "remember that", "remember this", "don't forget", "keep in mind"):
		out = append(out, captureCandidate{content: userText, category: "instruction", importance: 0.8})
	case containsAny(lower, "my name is", "i work at", "i live in", "i am a", "i'm a"):
		out = append(out, captureCandidate{content: userText, category: "context", importance: 0.5})
	}
	return out
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
