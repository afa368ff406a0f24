package turn

import "engram/internal/llm"

// truncateForWindow applies spec step 10's mid-loop truncation: a 4-char
// heuristic token estimate, oldest-first dropping of non-system messages
// that never crosses past the last user message, then adjustment so no
// tool result is orphaned from its owning assistant message and the first
// kept message is always role "user" (no provider accepts a conversation
// opening on a functionCall/tool message).
func truncateForWindow(msgs []llm.Message, windowTokens int) []llm.Message {
	if windowTokens <= 0 || llm.EstimateTokensForMessages(msgs) <= windowTokens {
		return msgs
	}

	var sysMsg *llm.Message
	rest := msgs
	if len(msgs) > 0 && msgs[0].Role == "system" {
		sysMsg = &msgs[0]
		rest = msgs[1:]
	}

	lastUser := -1
	for i, m := range rest {
		if m.Role == "user" {
			lastUser = i
		}
	}

	sysTokens := 0
	if sysMsg != nil {
		sysTokens = llm.EstimateTokensForMessages([]llm.Message{*sysMsg})
	}

	start := 0
	for start < len(rest) {
		total := sysTokens + llm.EstimateTokensForMessages(rest[start:])
		if total <= windowTokens {
			break
		}
		if lastUser >= 0 && start >= lastUser {
			break
		}
		start++
	}

	for start < len(rest) && rest[start].Role == "tool" {
		start++
	}

	for start < len(rest) && rest[start].Role != "user" {
		start++
	}

	kept := rest[start:]
	if sysMsg == nil {
		return kept
	}
	out := make([]llm.Message, 0, len(kept)+1)
	out = append(out, *sysMsg)
	out = append(out, kept...)
	return out
}
