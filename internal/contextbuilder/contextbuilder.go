// Package contextbuilder assembles a turn's system prompt and message
// history within a per-model token budget, mirroring the teacher's
// agent/memory Manager's reserve-buffer-token pattern but generalized to a
// fixed-priority, fallback-aware section registry.
package contextbuilder

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"engram/internal/config"
	"engram/internal/engram"
	"engram/internal/llm"
	"engram/internal/modelcaps"
)

const separator = "\n\n---\n\n"

// SectionKind orders the fixed system-prompt sections by priority; lower
// sorts first and is admitted first when the budget is tight.
type SectionKind int

const (
	SectionPlatformAwareness SectionKind = iota
	SectionForemanProtocol
	SectionRuntimeContext
	SectionSoulFiles
	SectionBasePrompt
	SectionAgentRoster
	SectionWorkingMemory
	SectionTodaysNotes
	SectionRecalledMemories
	SectionSkillInstructions
)

// priority maps each kind to its sort priority per spec; PlatformAwareness
// and ForemanProtocol share priority 0.
var priority = map[SectionKind]int{
	SectionPlatformAwareness: 0,
	SectionForemanProtocol:   0,
	SectionRuntimeContext:    1,
	SectionSoulFiles:         2,
	SectionBasePrompt:        3,
	SectionAgentRoster:       4,
	SectionWorkingMemory:     5,
	SectionTodaysNotes:       6,
	SectionRecalledMemories:  7,
	SectionSkillInstructions: 8,
}

// Section is one candidate piece of the system prompt. Fallback is used
// when Content doesn't fit the remaining budget but Fallback might.
type Section struct {
	Kind     SectionKind
	Content  string
	Fallback string
}

// RecallQuery parameterizes the inline memory recall performed during assembly.
type RecallQuery struct {
	Store   *engram.Store
	Query   string
	AgentID string
	Scope   engram.Scope
	Enabled bool
}

// Input collects everything a turn might contribute to the assembled prompt.
type Input struct {
	Model               string
	ContextWindowTokens int // overrides modelcaps lookup when > 0
	Sections            []Section
	Recall              RecallQuery
	History             []llm.Message
}

// BudgetReport accounts for how the budget was spent, returned alongside the
// assembled prompt so callers can log/observe admission decisions.
type BudgetReport struct {
	Window           int
	ReplyReserve     int
	SystemTokens     int
	HistoryTokens    int
	RecallTokens     int
	MemoriesInjected int
	MessagesKept     int
	MessagesDropped  int
}

// Output is the fully assembled turn input.
type Output struct {
	SystemPrompt     string
	Messages         []llm.Message
	BudgetReport     BudgetReport
	RecalledMemories []engram.SearchResult
	RecallQuality    engram.RecallResult
}

// Build assembles the system prompt and trimmed history per spec.md §4.5's
// budget partitions: reply_reserve, usable, max_system, min_history.
func Build(ctx context.Context, cfg config.ContextBuilderConfig, in Input) (Output, error) {
	window := in.ContextWindowTokens
	if window <= 0 {
		window = modelcaps.Lookup(in.Model).ContextWindowTokens
	}

	replyReserve := modelcaps.Lookup(in.Model).MaxOutputTokens
	if replyReserve < 1024 {
		replyReserve = 1024
	}
	usable := window - replyReserve

	maxSystemFraction := cfg.MaxSystemFraction
	if maxSystemFraction <= 0 {
		maxSystemFraction = 0.45
	}
	maxSystem := int(maxSystemFraction * float64(window))
	if maxSystem > usable {
		maxSystem = usable
	}

	minHistoryFraction := cfg.MinHistoryFraction
	if minHistoryFraction <= 0 {
		minHistoryFraction = 0.35
	}
	minHistory := int(minHistoryFraction * float64(window))

	var recalled []engram.SearchResult
	var recallQuality engram.RecallResult
	recallBudgetUsed := 0
	if in.Recall.Enabled && in.Recall.Store != nil {
		res, err := in.Recall.Store.HybridSearch(ctx, engram.SearchRequest{
			AgentID: in.Recall.AgentID,
			Query:   in.Recall.Query,
			Scope:   in.Recall.Scope,
			Limit:   20,
		})
		if err == nil {
			recallQuality = res
			recalled, recallBudgetUsed = fitRecall(res.Results, maxSystem)
		}
	}

	sections := append([]Section{}, in.Sections...)
	if len(recalled) > 0 {
		sections = append(sections, Section{Kind: SectionRecalledMemories, Content: formatRecall(recalled)})
	}
	sort.SliceStable(sections, func(i, j int) bool {
		return priority[sections[i].Kind] < priority[sections[j].Kind]
	})

	systemPrompt, systemTokens := admitSections(sections, maxSystem)

	historyBudget := usable - systemTokens
	if historyBudget < minHistory && usable >= minHistory {
		historyBudget = minHistory
	}
	kept, dropped := trimHistory(in.History, historyBudget)

	return Output{
		SystemPrompt: systemPrompt,
		Messages:     kept,
		BudgetReport: BudgetReport{
			Window:           window,
			ReplyReserve:     replyReserve,
			SystemTokens:     systemTokens,
			HistoryTokens:    llm.EstimateTokensForMessages(kept),
			RecallTokens:     recallBudgetUsed,
			MemoriesInjected: len(recalled),
			MessagesKept:     len(kept),
			MessagesDropped:  dropped,
		},
		RecalledMemories: recalled,
		RecallQuality:    recallQuality,
	}, nil
}

// admitSections greedily admits sections (already priority-sorted) whose
// token cost (separator included) fits budget, falling back to a
// registered fallback string when the primary content doesn't fit.
func admitSections(sections []Section, budget int) (string, int) {
	var parts []string
	used := 0
	for _, s := range sections {
		content := s.Content
		cost := llm.EstimateTokens(content)
		if used > 0 {
			cost += llm.EstimateTokens(separator)
		}
		if used+cost > budget {
			if s.Fallback == "" {
				continue
			}
			content = s.Fallback
			cost = llm.EstimateTokens(content)
			if used > 0 {
				cost += llm.EstimateTokens(separator)
			}
			if used+cost > budget {
				continue
			}
		}
		if content == "" {
			continue
		}
		parts = append(parts, content)
		used += cost
	}
	return strings.Join(parts, separator), used
}

// trimHistory drops oldest messages (stopping before budget is exceeded)
// and returns the kept suffix plus how many were dropped.
func trimHistory(msgs []llm.Message, budget int) ([]llm.Message, int) {
	costs := make([]int, len(msgs))
	total := 0
	for i, m := range msgs {
		c := llm.EstimateTokens(m.Role) + llm.EstimateTokens(m.Content) + 4
		costs[i] = c
		total += c
	}

	start := 0
	for total > budget && start < len(msgs) {
		total -= costs[start]
		start++
	}
	return msgs[start:], start
}

// fitRecall formats recalled memories up to maxSystem tokens, returning the
// subset that fits and the token cost consumed.
func fitRecall(results []engram.SearchResult, maxSystem int) ([]engram.SearchResult, int) {
	var kept []engram.SearchResult
	used := 0
	for _, r := range results {
		line := formatRecallLine(r)
		cost := llm.EstimateTokens(line)
		if used+cost > maxSystem {
			break
		}
		kept = append(kept, r)
		used += cost
	}
	return kept, used
}

func formatRecall(results []engram.SearchResult) string {
	lines := make([]string, len(results))
	for i, r := range results {
		lines[i] = formatRecallLine(r)
	}
	return strings.Join(lines, "\n")
}

func formatRecallLine(r engram.SearchResult) string {
	content := r.Content
	const maxLen = 300
	if len([]rune(content)) > maxLen {
		content = string([]rune(content)[:maxLen]) + "..."
	}
	return fmt.Sprintf("- [%s] %s (trust: %.2f)", r.Category, content, r.TrustScore)
}
