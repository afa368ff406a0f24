package vault

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectPII_SSNIsConfidential(t *testing.T) {
	d := DetectPII("my SSN is 123-45-6789")
	require.True(t, d.HasPII)
	require.Equal(t, Confidential, d.RecommendedTier)
	require.Contains(t, d.DetectedTypes, PIISSN)
}

func TestDetectPII_BareEmailIsAtLeastSensitive(t *testing.T) {
	d := DetectPII("reach me at person@example.com")
	require.True(t, d.HasPII)
	require.Equal(t, Sensitive, d.RecommendedTier)
}

func TestDetectPII_NoPIIIsCleartext(t *testing.T) {
	d := DetectPII("the weather is nice today")
	require.False(t, d.HasPII)
	require.Equal(t, Cleartext, d.RecommendedTier)
}

func TestDetectPII_HighestTierWinsAcrossMultipleMatches(t *testing.T) {
	d := DetectPII("my name is Alex, password is hunter2")
	require.Equal(t, Confidential, d.RecommendedTier)
	require.Contains(t, d.DetectedTypes, PIIPersonName)
	require.Contains(t, d.DetectedTypes, PIICredential)
}

func TestParseTier(t *testing.T) {
	cases := map[string]Tier{"": Cleartext, "cleartext": Cleartext, "SENSITIVE": Sensitive, "confidential": Confidential}
	for in, want := range cases {
		got, err := ParseTier(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseTier("top-secret")
	require.Error(t, err)
}
