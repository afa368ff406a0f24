package engram

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"engram/internal/store"
)

// ConsolidationReport summarizes one run of the consolidation engine,
// mirroring the shape original_source's consolidation.rs returns from
// run_consolidation so the two can be compared field-for-field.
type ConsolidationReport struct {
	CandidatesFound        int
	ClustersFormed         int
	TriplesCreated         int
	ContradictionsResolved int
	SingletonsMarked       int
	Gaps                   []KnowledgeGap
}

// GapKind classifies a detected knowledge gap.
type GapKind string

const (
	GapIncompleteSchema        GapKind = "incomplete_schema"
	GapUnresolvedContradiction GapKind = "unresolved_contradiction"
	GapStaleHighUse            GapKind = "stale_high_use"
)

// KnowledgeGap is one gap surfaced by a consolidation run, ready for
// injection into working memory.
type KnowledgeGap struct {
	Kind        GapKind
	Description string
	RelatedIDs  []string
}

const candidateMinAge = 5 * time.Minute

// RunConsolidation runs one full consolidation cycle over an agent's fresh
// episodic memories: cluster by cosine similarity (union-find over a
// similarity graph), extract SPO triples per cluster, reconcile against
// existing semantic memories (corroborate or supersede), mark singletons
// consolidated, and surface up to GapDetectionMaxPerRun knowledge gaps.
func (s *Store) RunConsolidation(ctx context.Context, agentID string) (ConsolidationReport, error) {
	var report ConsolidationReport

	tau := s.cfg.ConsolidationTau
	if tau <= 0 {
		tau = 0.75
	}
	minSize := s.cfg.ConsolidationMinSize
	if minSize <= 0 {
		minSize = 3
	}
	batch := s.cfg.ConsolidationBatch
	if batch <= 0 {
		batch = 200
	}

	all, err := s.db.ListEpisodicMemoriesByAgent(ctx, agentID)
	if err != nil {
		return report, err
	}

	cutoff := time.Now().Add(-candidateMinAge)
	var candidates []store.EpisodicMemory
	for _, m := range all {
		if m.ConsolidationState != "fresh" {
			continue
		}
		if m.CreatedAt.After(cutoff) {
			continue
		}
		candidates = append(candidates, m)
		if len(candidates) >= batch {
			break
		}
	}
	report.CandidatesFound = len(candidates)
	if len(candidates) == 0 {
		return report, nil
	}

	for i := range candidates {
		if len(candidates[i].Embedding) > 0 || s.embedder == nil {
			continue
		}
		if vec, err := s.embedder.Embed(ctx, candidates[i].FullContent); err == nil {
			candidates[i].Embedding = vec
			_ = s.db.PutEpisodicMemory(ctx, candidates[i])
		}
	}

	clusters := buildClusters(candidates, tau, minSize)
	report.ClustersFormed = len(clusters)

	clustered := make(map[string]bool)
	for _, cluster := range clusters {
		triples, contradictions, err := s.extractAndStoreSemantics(ctx, agentID, cluster)
		if err != nil {
			return report, err
		}
		report.TriplesCreated += triples
		report.ContradictionsResolved += contradictions
		for _, m := range cluster {
			clustered[m.ID] = true
			m.ConsolidationState = "consolidated"
			if err := s.db.PutEpisodicMemory(ctx, m); err != nil {
				return report, err
			}
		}
	}

	for _, m := range candidates {
		if clustered[m.ID] {
			continue
		}
		m.ConsolidationState = "consolidated"
		if err := s.db.PutEpisodicMemory(ctx, m); err != nil {
			return report, err
		}
		report.SingletonsMarked++
	}

	gapMax := s.cfg.GapDetectionMaxPerRun
	if gapMax <= 0 {
		gapMax = 2
	}
	report.Gaps = s.detectGaps(ctx, agentID, gapMax)

	_ = s.db.AppendAudit(ctx, "consolidation_run", "system", agentID, "", fmt.Sprintf(
		"candidates=%d clusters=%d triples=%d contradictions=%d gaps=%d",
		report.CandidatesFound, report.ClustersFormed, report.TriplesCreated,
		report.ContradictionsResolved, len(report.Gaps)))

	return report, nil
}

// buildClusters finds connected components via union-find over a
// cosine-similarity graph, keeping only components with at least minSize
// members — ported from consolidation.rs's build_clusters.
func buildClusters(memories []store.EpisodicMemory, threshold float64, minSize int) [][]store.EpisodicMemory {
	n := len(memories)
	if n < minSize {
		return nil
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for i := 0; i < n; i++ {
		if len(memories[i].Embedding) == 0 {
			continue
		}
		for j := i + 1; j < n; j++ {
			if len(memories[j].Embedding) == 0 {
				continue
			}
			if cosine(memories[i].Embedding, memories[j].Embedding) >= threshold {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]store.EpisodicMemory)
	for i, m := range memories {
		root := find(i)
		groups[root] = append(groups[root], m)
	}

	var clusters [][]store.EpisodicMemory
	for _, g := range groups {
		if len(g) >= minSize {
			clusters = append(clusters, g)
		}
	}
	return clusters
}

// extractAndStoreSemantics derives a coarse SPO triple per cluster (the
// cluster's shared category as predicate anchor, its memories' key facts
// as object candidates) and reconciles it against existing semantic
// memories: corroborating boosts confidence, contradicting supersedes the
// prior triple and transfers a fraction of its confidence forward.
func (s *Store) extractAndStoreSemantics(ctx context.Context, agentID string, cluster []store.EpisodicMemory) (triples int, contradictions int, err error) {
	subject := agentID
	predicate := dominantCategory(cluster)
	if predicate == "" {
		predicate = "relates_to"
	}
	object := dominantKeyFact(cluster)
	if object == "" {
		return 0, 0, nil
	}

	existing, err := s.db.FindSemanticBySubjectPredicate(ctx, subject, predicate)
	if err != nil {
		return 0, 0, err
	}

	now := time.Now().UTC()
	for _, ex := range existing {
		if strings.EqualFold(strings.TrimSpace(ex.Object), strings.TrimSpace(object)) {
			ex.Confidence = clamp01(ex.Confidence + 0.05)
			ex.Version++
			ex.UpdatedAt = now
			if err := s.db.PutSemanticMemory(ctx, ex); err != nil {
				return triples, contradictions, err
			}
			return 0, 0, nil
		}
	}

	var superseded *store.SemanticMemory
	for i := range existing {
		if !strings.EqualFold(strings.TrimSpace(existing[i].Object), strings.TrimSpace(object)) {
			superseded = &existing[i]
			break
		}
	}

	confidence := clusterConfidence(cluster)
	id := uuid.NewString()
	sm := store.SemanticMemory{
		ID:         id,
		Subject:    subject,
		Predicate:  predicate,
		Object:     object,
		FullText:   fmt.Sprintf("%s %s %s", subject, predicate, object),
		Category:   predicate,
		Confidence: confidence,
		Scope:      agentID,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if superseded != nil {
		sm.ContradictionOf = superseded.ID
		sm.Confidence = clamp01(sm.Confidence + superseded.Confidence*0.2)
		contradictions = 1
	}
	if err := s.db.PutSemanticMemory(ctx, sm); err != nil {
		return triples, contradictions, err
	}

	for _, m := range cluster {
		if err := s.db.PutMemoryEdge(ctx, store.MemoryEdge{
			SourceID: m.ID, TargetID: sm.ID, EdgeType: "consolidated_into", Weight: 1,
		}); err != nil {
			return triples, contradictions, err
		}
	}

	return 1, contradictions, nil
}

func dominantCategory(cluster []store.EpisodicMemory) string {
	counts := map[string]int{}
	best, bestN := "", 0
	for _, m := range cluster {
		if m.Category == "" {
			continue
		}
		counts[m.Category]++
		if counts[m.Category] > bestN {
			best, bestN = m.Category, counts[m.Category]
		}
	}
	return best
}

func dominantKeyFact(cluster []store.EpisodicMemory) string {
	for _, m := range cluster {
		if strings.TrimSpace(m.KeyFact) != "" {
			return m.KeyFact
		}
	}
	if len(cluster) > 0 {
		return cluster[0].Summary
	}
	return ""
}

func clusterConfidence(cluster []store.EpisodicMemory) float64 {
	sum := 0.0
	for _, m := range cluster {
		sum += m.Importance / 10
	}
	return clamp01(sum / float64(len(cluster)))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// detectGaps surfaces up to max knowledge gaps: contradicting semantic
// triples whose confidence is within 0.15 of the triple they supersede
// (unresolved), and episodic memories accessed at least 5 times whose last
// access is more than 90 days old (stale-high-use). Incomplete-schema gaps
// are not detected.
func (s *Store) detectGaps(ctx context.Context, agentID string, max int) []KnowledgeGap {
	var gaps []KnowledgeGap

	semantics, err := s.db.ListSemanticMemoriesByAgent(ctx, agentID)
	if err == nil {
		for _, sm := range semantics {
			if sm.ContradictionOf == "" {
				continue
			}
			prior, perr := s.db.GetSemanticMemory(ctx, sm.ContradictionOf)
			if perr == nil && math.Abs(sm.Confidence-prior.Confidence) <= 0.15 {
				gaps = append(gaps, KnowledgeGap{
					Kind:        GapUnresolvedContradiction,
					Description: fmt.Sprintf("%s %s %s contradicts an earlier claim", sm.Subject, sm.Predicate, sm.Object),
					RelatedIDs:  []string{sm.ID, sm.ContradictionOf},
				})
			}
			if len(gaps) >= max {
				return gaps
			}
		}
	}

	episodics, err := s.db.ListEpisodicMemoriesByAgent(ctx, agentID)
	if err == nil {
		for _, m := range episodics {
			if m.AccessCount >= 5 && m.LastAccessedAt != nil && time.Since(*m.LastAccessedAt) > 90*24*time.Hour {
				gaps = append(gaps, KnowledgeGap{
					Kind:        GapStaleHighUse,
					Description: fmt.Sprintf("memory %q accessed %d times but not accessed for over 90 days", m.Category, m.AccessCount),
					RelatedIDs:  []string{m.ID},
				})
			}
			if len(gaps) >= max {
				return gaps
			}
		}
	}

	return gaps
}
