package modelcaps

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookup_ExactMatch(t *testing.T) {
	c := Lookup("gpt-4o-mini")
	require.Equal(t, 128000, c.ContextWindowTokens)
	require.True(t, c.SupportsVision)
}

func TestLookup_PrefixMatch(t *testing.T) {
	c := Lookup("gpt-4o-2024-11-20")
	require.Equal(t, registry["gpt-4o"].ContextWindowTokens, c.ContextWindowTokens)
}

func TestLookup_UnknownModelReturnsConservativeDefault(t *testing.T) {
	c := Lookup("some-future-model-nobody-has-heard-of")
	require.Equal(t, conservativeDefault, c)
}

func TestLookup_ClaudePrefixOrderPicksMostSpecific(t *testing.T) {
	c := Lookup("claude-3-7-sonnet-20250219")
	require.True(t, c.SupportsExtendedThink)
	require.Equal(t, registry["claude-3-7-sonnet-latest"], c)
}
