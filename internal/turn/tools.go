package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"engram/internal/llm"
	"engram/internal/observability"
)

// ensureToolCallIDs assigns a generated id to any tool call missing one,
// avoiding collisions with ids already used earlier in msgs. Mirrors the
// teacher's engine-call-N generation scheme.
func ensureToolCallIDs(msgs []llm.Message, calls []llm.ToolCall, seq *uint64) []llm.ToolCall {
	used := make(map[string]struct{})
	for _, m := range msgs {
		if m.Role != "assistant" {
			continue
		}
		for _, tc := range m.ToolCalls {
			if id := strings.TrimSpace(tc.ID); id != "" {
				used[id] = struct{}{}
			}
		}
	}
	for i := range calls {
		id := strings.TrimSpace(calls[i].ID)
		if id == "" || isUsed(used, id) {
			id = nextCallID(seq)
			for isUsed(used, id) {
				id = nextCallID(seq)
			}
		}
		calls[i].ID = id
		used[id] = struct{}{}
	}
	return calls
}

func isUsed(used map[string]struct{}, id string) bool {
	_, ok := used[id]
	return ok
}

func nextCallID(seq *uint64) string {
	n := atomic.AddUint64(seq, 1)
	return fmt.Sprintf("turn-call-%d", n)
}

// classify reports whether tc should be auto-approved without HIL: the safe
// list, the blanket auto_approve_all flag, or an approval policy predicate
// that explicitly allows it.
func classify(in Input, tc llm.ToolCall) bool {
	if in.AutoApproveAll {
		return true
	}
	if in.SafeTools[tc.Name] {
		return true
	}
	if in.ApprovalPolicy != nil && in.ApprovalPolicy(tc) {
		return true
	}
	return false
}

// awaitApproval registers a one-shot HIL channel, waits for a decision or
// timeout, and always cleans up the registry entry before returning.
func awaitApproval(ctx context.Context, approvals *PendingApprovals, callID string, timeout time.Duration) bool {
	if approvals == nil {
		return false
	}
	ch := approvals.register(callID)
	defer approvals.remove(callID)

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case decision, ok := <-ch:
		if !ok {
			return false // channel dropped: treat as denied
		}
		return decision.Allowed
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// loadToolsSignal is the convention a tool payload uses to request late
// binding of additional tool definitions not present in the current round's
// tool list (tool-RAG), generalizing the teacher's
// multi_tool_use_parallel/tool-RAG groundwork in dispatchTools.
type loadToolsSignal struct {
	LoadTools []string `json:"load_tools"`
}

func requestedTools(payload []byte) []string {
	var sig loadToolsSignal
	if err := json.Unmarshal(payload, &sig); err != nil {
		return nil
	}
	return sig.LoadTools
}

// dispatchResult is one tool call's outcome, carried back to the loop so it
// can append the tool message, emit events, and detect late-bound tool
// requests in round order.
type dispatchResult struct {
	callID      string
	toolName    string
	msg         llm.Message
	success     bool
	autoApprove bool
	loadNames   []string
}

// dispatchTools executes a batch of tool calls (each gated by HIL unless
// auto-approved), bounded by MaxToolParallelism, exactly as the teacher's
// dispatchTools does with a semaphore+waitgroup.
func dispatchTools(ctx context.Context, in Input, calls []llm.ToolCall, emit func(Event)) []dispatchResult {
	maxParallel := in.MaxToolParallelism
	if maxParallel <= 0 || maxParallel > len(calls) {
		maxParallel = len(calls)
	}
	if maxParallel <= 0 {
		maxParallel = 1
	}

	results := make([]dispatchResult, len(calls))
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup

	for i, tc := range calls {
		i, tc := i, tc
		auto := classify(in, tc)
		if auto {
			emit(ToolAutoApproved{ToolName: tc.Name, ToolCallID: tc.ID})
		} else {
			emit(ToolRequest{Call: tc})
		}

		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = executeOne(ctx, in, tc, auto)
		}()
	}
	wg.Wait()

	for _, r := range results {
		emit(ToolResultEvent{ToolCallID: r.callID, Output: []byte(r.msg.Content), Success: r.success})
	}
	return results
}

func executeOne(ctx context.Context, in Input, tc llm.ToolCall, autoApproved bool) dispatchResult {
	allowed := autoApproved
	if !allowed {
		allowed = awaitApproval(ctx, in.Approvals, tc.ID, in.ToolApprovalTimeout)
	}

	if !allowed {
		payload := []byte(`{"ok":false,"error":"tool call denied"}`)
		return dispatchResult{
			callID:   tc.ID,
			toolName: tc.Name,
			msg:      llm.Message{Role: "tool", Content: string(payload), ToolID: tc.ID},
			success:  false,
		}
	}

	observability.LoggerWithTrace(ctx).Info().
		Str("tool", tc.Name).
		RawJSON("args", observability.RedactJSON(tc.Args)).
		Msg("turn_tool_call")

	var payload []byte
	var err error
	if in.Dispatcher != nil {
		payload, err = in.Dispatcher.Dispatch(ctx, tc.Name, tc.Args)
	}
	success := err == nil
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"ok":false,"error":%q}`, err.Error()))
	}

	return dispatchResult{
		callID:      tc.ID,
		toolName:    tc.Name,
		msg:         llm.Message{Role: "tool", Content: string(payload), ToolID: tc.ID},
		success:     success,
		autoApprove: autoApproved,
		loadNames:   requestedTools(payload),
	}
}

// mergeLateBoundTools appends tool schemas for any requested name absent
// from current, resolved via lookup. Unknown names are silently skipped.
func mergeLateBoundTools(current []llm.ToolSchema, requested []string, lookup ToolRAGLookup) []llm.ToolSchema {
	if lookup == nil || len(requested) == 0 {
		return current
	}
	present := make(map[string]bool, len(current))
	for _, s := range current {
		present[s.Name] = true
	}
	out := current
	for _, name := range requested {
		if present[name] {
			continue
		}
		schema, ok := lookup(name)
		if !ok {
			continue
		}
		out = append(out, schema)
		present[name] = true
	}
	return out
}
