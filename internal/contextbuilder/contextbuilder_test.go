package contextbuilder

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"engram/internal/config"
	"engram/internal/llm"
)

func TestBuild_AdmitsSectionsInPriorityOrder(t *testing.T) {
	out, err := Build(context.Background(), config.ContextBuilderConfig{}, Input{
		Model:               "gpt-4o-mini",
		ContextWindowTokens: 17000,
		Sections: []Section{
			{Kind: SectionBasePrompt, Content: "base prompt"},
			{Kind: SectionPlatformAwareness, Content: "platform awareness"},
			{Kind: SectionSoulFiles, Content: "soul file content"},
		},
	})
	require.NoError(t, err)
	require.True(t, strings.Index(out.SystemPrompt, "platform awareness") < strings.Index(out.SystemPrompt, "base prompt"))
	require.True(t, strings.Index(out.SystemPrompt, "soul file content") < strings.Index(out.SystemPrompt, "base prompt"))
}

func TestBuild_FallsBackWhenSectionTooLarge(t *testing.T) {
	huge := strings.Repeat("word ", 20000)
	out, err := Build(context.Background(), config.ContextBuilderConfig{}, Input{
		Model:               "gpt-4o-mini",
		ContextWindowTokens: 20000,
		Sections: []Section{
			{Kind: SectionBasePrompt, Content: huge, Fallback: "short fallback"},
		},
	})
	require.NoError(t, err)
	require.Contains(t, out.SystemPrompt, "short fallback")
}

func TestBuild_TrimsOldestHistoryFirst(t *testing.T) {
	var history []llm.Message
	for i := 0; i < 50; i++ {
		history = append(history, llm.Message{Role: "user", Content: strings.Repeat("word ", 50)})
	}

	out, err := Build(context.Background(), config.ContextBuilderConfig{}, Input{
		Model:               "gpt-4o-mini",
		ContextWindowTokens: 17000,
		History:             history,
	})
	require.NoError(t, err)
	require.Less(t, len(out.Messages), len(history))
	require.Equal(t, out.BudgetReport.MessagesDropped, len(history)-len(out.Messages))
}

func TestBuild_NoRecallWhenDisabled(t *testing.T) {
	out, err := Build(context.Background(), config.ContextBuilderConfig{}, Input{
		Model:               "gpt-4o-mini",
		ContextWindowTokens: 20000,
		Recall:              RecallQuery{Enabled: false},
	})
	require.NoError(t, err)
	require.Equal(t, 0, out.BudgetReport.MemoriesInjected)
}
