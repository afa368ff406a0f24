package turn

import (
	"context"
	"fmt"

	"engram/internal/llm"
	"engram/internal/modelcaps"
	"engram/internal/observability"
)

// nudgeMessage is injected once, at round 1, when the model returns an
// empty final response with no tool calls — consecutive identical user
// turns confuse some providers, so the loop nudges with a system message
// instead of silently finalizing on empty text.
const nudgeMessage = "retry the user's request; consecutive user turns are disallowed"

// estimatedCostUSD is a conservative, provider-agnostic placeholder spend
// estimate (no per-model pricing table exists in this daemon's registry):
// $0.01 per 1,000 combined input+output tokens. It is only precise enough
// to drive the 50/75/90% budget-warning thresholds, not to reconcile an
// invoice.
const costPerThousandTokensUSD = 0.01

func estimatedCostUSD(inputTokens, outputTokens int) float64 {
	return float64(inputTokens+outputTokens) / 1000 * costPerThousandTokensUSD
}

// Run drives the full turn state machine described for this daemon's Agent
// Turn Loop and returns a channel of Events. The channel is closed when the
// turn reaches a terminal state (finalize, budget_exceeded, max_rounds_hit,
// or provider_error). Exactly one goroutine ever sends on the channel, so
// events for this turn are strictly ordered.
func Run(ctx context.Context, in Input) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		runLoop(ctx, in, func(e Event) {
			select {
			case events <- e:
			case <-ctx.Done():
			}
		})
	}()
	return events
}

func runLoop(ctx context.Context, in Input, emit func(Event)) {
	log := observability.LoggerWithTrace(ctx)

	msgs := append([]llm.Message{}, in.Messages...)
	tools := append([]llm.ToolSchema{}, in.Tools...)

	maxRounds := in.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 1
	}

	window := in.ContextWindowTokens
	if window <= 0 {
		window = modelcaps.Lookup(in.Model).ContextWindowTokens
	}

	var toolCallSeq uint64
	var outputTokens int
	var toolCallCount int
	var lastUsage llm.Usage
	nudged := false

	for round := 1; ; round++ {
		if round > maxRounds {
			emit(Complete{
				Text:          "(turn ended: maximum rounds reached)",
				ToolCallCount: toolCallCount,
				Usage:         Usage{InputTokens: lastUsage.InputTokens, OutputTokens: outputTokens},
				Model:         in.Model,
			})
			return
		}

		if in.Budget.Exceeded() {
			emit(Error{Message: "daily budget exceeded"})
			return
		}

		assistant, usage, err := chatRound(ctx, in, msgs, tools, emit)
		if err != nil {
			log.Error().Err(err).Int("round", round).Msg("turn_round_error")
			emit(Error{Message: err.Error()})
			return
		}
		lastUsage = usage

		assistant.ToolCalls = ensureToolCallIDs(msgs, assistant.ToolCalls, &toolCallSeq)
		msgs = append(msgs, assistant)
		outputTokens += usage.OutputTokens

		for _, pct := range in.Budget.Add(estimatedCostUSD(usage.InputTokens, usage.OutputTokens)) {
			log.Warn().Int("percent", pct).Float64("spent_usd", in.Budget.Spent()).Msg("turn_budget_warning")
		}

		if len(assistant.ToolCalls) == 0 {
			if assistant.Content == "" && round == 1 && !nudged && !in.Budget.Exceeded() {
				nudged = true
				msgs = append(msgs, llm.Message{Role: "system", Content: nudgeMessage})
				continue
			}
			emit(Complete{
				Text:          assistant.Content,
				ToolCallCount: toolCallCount,
				Usage:         Usage{InputTokens: usage.InputTokens, OutputTokens: outputTokens},
				Model:         in.Model,
			})
			return
		}

		toolCallCount += len(assistant.ToolCalls)
		results := dispatchTools(ctx, in, assistant.ToolCalls, emit)

		var requested []string
		for _, r := range results {
			msgs = append(msgs, r.msg)
			requested = append(requested, r.loadNames...)
		}
		tools = mergeLateBoundTools(tools, requested, in.ToolRAG)

		msgs = truncateForWindow(msgs, window)
	}
}

// chatRound issues one provider call, forwarding streaming deltas as events,
// and returns the assembled assistant message along with the provider's
// reported token usage for this round.
func chatRound(ctx context.Context, in Input, msgs []llm.Message, tools []llm.ToolSchema, emit func(Event)) (llm.Message, llm.Usage, error) {
	var content string
	var calls []llm.ToolCall
	var thoughtSig string
	var usage llm.Usage

	handler := &roundStreamHandler{
		onDelta: func(s string) {
			content += s
			emit(Delta{Text: s})
		},
		onThinking:   func(s string) { emit(ThinkingDelta{Text: s}) },
		onToolCall:   func(tc llm.ToolCall) { calls = append(calls, tc) },
		onThoughtSig: func(s string) { thoughtSig = s },
		onUsage:      func(u llm.Usage) { usage = u },
	}

	if err := in.Provider.ChatStream(ctx, msgs, tools, in.Model, handler); err != nil {
		return llm.Message{}, llm.Usage{}, fmt.Errorf("turn: provider chat: %w", err)
	}

	return llm.Message{Role: "assistant", Content: content, ToolCalls: calls, ThoughtSignature: thoughtSig}, usage, nil
}

// roundStreamHandler adapts llm.StreamHandler to the closures chatRound
// wants, mirroring the teacher's streamHandler shape.
type roundStreamHandler struct {
	onDelta      func(string)
	onThinking   func(string)
	onToolCall   func(llm.ToolCall)
	onThoughtSig func(string)
	onUsage      func(llm.Usage)
}

func (h *roundStreamHandler) OnDelta(content string)          { h.onDelta(content) }
func (h *roundStreamHandler) OnToolCall(tc llm.ToolCall)      { h.onToolCall(tc) }
func (h *roundStreamHandler) OnThoughtSummary(summary string) { h.onThinking(summary) }
func (h *roundStreamHandler) OnThoughtSignature(sig string)   { h.onThoughtSig(sig) }
func (h *roundStreamHandler) OnUsage(u llm.Usage)             { h.onUsage(u) }
