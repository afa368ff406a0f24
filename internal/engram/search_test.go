package engram

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"engram/internal/config"
	"engram/internal/store"
	"engram/internal/vault"
)

func TestMain(m *testing.M) {
	keyring.MockInit()
	os.Exit(m.Run())
}

type fakeEmbedder struct{}

// Embed returns a trivial length-bucketed vector so cosine similarity gives
// deterministic, differentiated scores without a real embedding model.
func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 8)
	for i, r := range text {
		v[i%8] += float32(r % 13)
	}
	return v, nil
}

func newTestEngram(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(context.Background(), filepath.Join(dir, "engram.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	kr := vault.NewKeyRing("engram-test-" + t.Name())
	return NewStore(db, fakeEmbedder{}, kr, config.VaultConfig{MemoryKeyName: "memory"}, config.EngramConfig{
		RRFK: 60, TextWeight: 0.5, VectorWeight: 0.5, DedupJaccard: 0.85,
		SpreadingHops: 2, SpreadingDecay: 0.5,
		TrustRelevanceWeight: 0.35, TrustAccuracyWeight: 0.25, TrustFreshnessWeight: 0.20, TrustUtilityWeight: 0.20,
		DecayHalfLifeDays: 30, ConsolidationTau: 0.75, ConsolidationMinSize: 3, ConsolidationBatch: 200,
		GapDetectionMaxPerRun: 2,
		MomentumQueryWeight:   0.7, MomentumHistoryWeight: 0.3,
	}, nil)
}

func TestCaptureAndRecall_RoundTripsCleartext(t *testing.T) {
	s := newTestEngram(t)
	ctx := context.Background()

	id, err := s.Capture(ctx, CaptureRequest{
		AgentID: "agent-1", SessionID: "sess-1", Content: "the build pipeline uses bazel",
		Summary: "build uses bazel", Category: "build_system", Importance: 6,
	})
	require.NoError(t, err)

	m, err := s.Recall(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "the build pipeline uses bazel", m.FullContent)
	require.Equal(t, "cleartext", m.SecurityTier)
}

func TestCapture_PIIContentIsEncryptedAtRest(t *testing.T) {
	s := newTestEngram(t)
	ctx := context.Background()

	id, err := s.Capture(ctx, CaptureRequest{
		AgentID: "agent-1", Content: "my SSN is 123-45-6789", Category: "personal",
	})
	require.NoError(t, err)

	raw, err := s.db.GetEpisodicMemory(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "confidential", raw.SecurityTier)
	require.Contains(t, raw.FullContent, vault.EncPrefix)

	recalled, err := s.Recall(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "my SSN is 123-45-6789", recalled.FullContent)
}

func TestHybridSearch_FindsTextMatch(t *testing.T) {
	s := newTestEngram(t)
	ctx := context.Background()

	_, err := s.Capture(ctx, CaptureRequest{AgentID: "agent-1", Content: "the deploy uses kubernetes and helm charts", Category: "infra", Importance: 7})
	require.NoError(t, err)
	_, err = s.Capture(ctx, CaptureRequest{AgentID: "agent-1", Content: "the weather today is sunny and warm", Category: "smalltalk", Importance: 2})
	require.NoError(t, err)

	res, err := s.HybridSearch(ctx, SearchRequest{AgentID: "agent-1", Query: "kubernetes helm deploy", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, res.Results)
	require.Contains(t, res.Results[0].Content, "kubernetes")
	require.Greater(t, res.Results[0].TrustScore, 0.0)
}

func TestHybridSearch_DedupsNearDuplicateContent(t *testing.T) {
	s := newTestEngram(t)
	ctx := context.Background()

	_, err := s.Capture(ctx, CaptureRequest{AgentID: "agent-1", Content: "deploy target is staging cluster", Category: "infra", Importance: 5})
	require.NoError(t, err)
	_, err = s.Capture(ctx, CaptureRequest{AgentID: "agent-1", Content: "deploy target is staging cluster", Category: "infra", Importance: 5})
	require.NoError(t, err)

	res, err := s.HybridSearch(ctx, SearchRequest{AgentID: "agent-1", Query: "deploy staging cluster", Limit: 10})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
}

func TestCompositeTrust_WeightsSumToOne(t *testing.T) {
	cfg := config.EngramConfig{TrustRelevanceWeight: 0.35, TrustAccuracyWeight: 0.25, TrustFreshnessWeight: 0.20, TrustUtilityWeight: 0.20}
	got := compositeTrust(cfg, 1, 1, 1, 1)
	require.InDelta(t, 1.0, got, 1e-9)
}

func TestFreshnessScore_DecaysOverFixedThirtyDayWindow(t *testing.T) {
	score := freshnessScore(time.Now().Add(-30*24*time.Hour), 30)
	require.InDelta(t, 0.368, score, 0.01)
}

func TestHalfLifeDecay_HalvesAtHalfLife(t *testing.T) {
	score := halfLifeDecay(time.Now().Add(-30*24*time.Hour), 30)
	require.InDelta(t, 0.5, score, 0.01)
}

func TestRunConsolidation_ClustersSimilarMemories(t *testing.T) {
	s := newTestEngram(t)
	ctx := context.Background()

	old := "database migrations run via goose"
	for i := 0; i < 3; i++ {
		_, err := s.Capture(ctx, CaptureRequest{
			AgentID: "agent-1", Content: old, Category: "tooling", Importance: 5,
		})
		require.NoError(t, err)
	}

	mems, err := s.db.ListEpisodicMemoriesByAgent(ctx, "agent-1")
	require.NoError(t, err)
	for i := range mems {
		mems[i].CreatedAt = mems[i].CreatedAt.Add(-time.Hour)
		require.NoError(t, s.db.PutEpisodicMemory(ctx, mems[i]))
	}

	report, err := s.RunConsolidation(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, 3, report.CandidatesFound)
	require.Equal(t, 1, report.ClustersFormed)
}
