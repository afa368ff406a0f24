package engram

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"
)

// rankedCandidate is one id with its rank (1-based, best first) in a given
// retrieval channel, used as RRF fusion input.
type rankedCandidate struct {
	id   string
	rank int
}

// fuseRRF combines multiple ranked candidate lists via Reciprocal Rank
// Fusion, score(id) = sum over lists containing id of weight/(k+rank).
// Grounded on the teacher's retrieval-fusion package's FuseRRF, generalized
// from a fixed two-channel (text, vector) fusion to N weighted channels so
// the same function serves episodic+semantic+procedural fan-in.
func fuseRRF(k int, channels map[string][]rankedCandidate, weights map[string]float64) map[string]float64 {
	if k <= 0 {
		k = 60
	}
	scores := make(map[string]float64)
	for name, candidates := range channels {
		w := weights[name]
		if w == 0 {
			w = 1
		}
		for _, c := range candidates {
			scores[c.id] += w / float64(k+c.rank)
		}
	}
	return scores
}

// cosine computes cosine similarity between two equal-length vectors,
// returning 0 for empty or mismatched inputs.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// textVectorWeights adapts the base text/vector blend toward text-heavy
// scoring for short, keyword-like queries (three words or fewer) and toward
// vector-heavy scoring for longer natural-language queries (twelve or more).
func textVectorWeights(baseText, baseVector float64, query string) (text, vector float64) {
	text, vector = baseText, baseVector
	if text == 0 && vector == 0 {
		text, vector = 0.5, 0.5
	}
	words := len(strings.Fields(query))
	if words <= 3 {
		text *= 1.3
	} else if words >= 12 {
		vector *= 1.3
	}
	return text, vector
}

// HybridSearch performs BM25 + vector candidate generation over episodic
// memories (and, unless excluded, semantic memories), fuses the channels
// with Reciprocal Rank Fusion, expands the top results via one round of
// spreading activation across memory_edges, dedups near-duplicate content
// via Jaccard similarity, scores each surviving result's composite trust,
// reranks for diversity, and returns the top Limit results sorted
// best-first wrapped in a RecallResult quality-metrics envelope.
func (s *Store) HybridSearch(ctx context.Context, req SearchRequest) (RecallResult, error) {
	start := time.Now()
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}

	candidatePool := limit * 4
	textIDs, err := s.db.SearchEpisodicFTS(ctx, req.AgentID, req.Query, candidatePool)
	if err != nil {
		return RecallResult{}, err
	}

	episodic, err := s.db.ListEpisodicMemoriesByAgent(ctx, req.AgentID)
	if err != nil {
		return RecallResult{}, err
	}
	episodicByID := make(map[string]int, len(episodic))
	for i, m := range episodic {
		episodicByID[m.ID] = i
	}

	var queryVec []float32
	if s.embedder != nil && strings.TrimSpace(req.Query) != "" {
		queryVec, _ = s.embedder.Embed(ctx, req.Query)
		if len(queryVec) > 0 {
			if recent := s.momentum.Recent(ctx, req.AgentID); len(recent) > 0 {
				queryVec = blendMomentum(queryVec, recent, s.cfg.MomentumQueryWeight, s.cfg.MomentumHistoryWeight)
			}
			s.momentum.Push(ctx, req.AgentID, queryVec)
		}
	}

	var vectorCandidates []rankedCandidate
	if len(queryVec) > 0 {
		type scored struct {
			id    string
			score float64
		}
		var all []scored
		for _, m := range episodic {
			if len(m.Embedding) == 0 {
				continue
			}
			all = append(all, scored{id: m.ID, score: cosine(queryVec, m.Embedding)})
		}
		sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })
		for i, a := range all {
			if i >= candidatePool {
				break
			}
			vectorCandidates = append(vectorCandidates, rankedCandidate{id: a.id, rank: i + 1})
		}
	}

	var textCandidates []rankedCandidate
	for i, id := range textIDs {
		textCandidates = append(textCandidates, rankedCandidate{id: id, rank: i + 1})
	}

	textW, vectorW := textVectorWeights(s.cfg.TextWeight, s.cfg.VectorWeight, req.Query)
	fused := fuseRRF(s.cfg.RRFK, map[string][]rankedCandidate{
		"text":   textCandidates,
		"vector": vectorCandidates,
	}, map[string]float64{"text": textW, "vector": vectorW})

	expanded := s.spreadActivation(ctx, fused)

	type ranked struct {
		id    string
		score float64
	}
	var orderedIDs []ranked
	for id, score := range expanded {
		orderedIDs = append(orderedIDs, ranked{id: id, score: score})
	}
	sort.Slice(orderedIDs, func(i, j int) bool { return orderedIDs[i].score > orderedIDs[j].score })

	halfLife := s.cfg.DecayHalfLifeDays
	var results []SearchResult
	var seenContent []string
	dedupThresh := s.cfg.DedupJaccard
	if dedupThresh <= 0 {
		dedupThresh = 0.85
	}

	for _, r := range orderedIDs {
		idx, ok := episodicByID[r.id]
		if !ok {
			continue
		}
		m := episodic[idx]
		if isNearDuplicate(m.FullContent, seenContent, dedupThresh) {
			continue
		}

		relevance := normalizeScore(r.score)
		freshness := freshnessScore(m.CreatedAt, halfLife)
		accuracy := m.Strength
		if accuracy <= 0 {
			accuracy = 1
		}
		utility := accessUtility(m.AccessCount)

		results = append(results, SearchResult{
			ID:         m.ID,
			Type:       TypeEpisodic,
			Content:    m.FullContent,
			Category:   m.Category,
			TrustScore: compositeTrust(s.cfg, relevance, accuracy, freshness, utility),
			Relevance:  relevance,
			Accuracy:   accuracy,
			Freshness:  freshness,
			Utility:    utility,
			CreatedAt:  m.CreatedAt,
		})
		seenContent = append(seenContent, m.FullContent)
		// Retrieval reinforces the memory against decay (spacing effect):
		// the boost is proportional to how relevant this retrieval was.
		_ = s.db.TouchEpisodicRetrieval(ctx, m.ID, 0.05*relevance)
		if len(results) >= limit {
			break
		}
	}

	if !req.ExcludeSemantic {
		semResults, err := s.searchSemantic(ctx, req, limit)
		if err == nil {
			results = append(results, semResults...)
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].TrustScore > results[j].TrustScore })
	results = rerankMMR(results, limit)
	ndcg := ndcgAt(results, limit)

	var relevancySum float64
	for _, r := range results {
		relevancySum += r.Relevance
	}
	avgRelevancy := 0.0
	if len(results) > 0 {
		avgRelevancy = relevancySum / float64(len(results))
	}

	return RecallResult{
		Results:        results,
		NDCG:           ndcg,
		AvgRelevancy:   avgRelevancy,
		LatencyMS:      time.Since(start).Milliseconds(),
		RerankStrategy: "mmr",
		TextWeight:     textW,
	}, nil
}

// rerankMMR applies Maximal Marginal Relevance: it greedily picks the
// highest trust-scoring result, then at each step trades off remaining
// trust against redundancy (token-set Jaccard similarity) with already-
// picked results, so the final top-Limit list isn't N near-duplicate
// phrasings of the same fact. lambda=0.7 favors relevance over diversity,
// matching the composite trust weighting's relevance-heavy default.
func rerankMMR(candidates []SearchResult, limit int) []SearchResult {
	if len(candidates) <= 1 {
		return candidates
	}
	const lambda = 0.7

	remaining := make([]SearchResult, len(candidates))
	copy(remaining, candidates)
	tokenSets := make([]map[string]struct{}, len(remaining))
	for i, r := range remaining {
		tokenSets[i] = tokenSet(r.Content)
	}

	picked := make([]SearchResult, 0, limit)
	pickedSets := make([]map[string]struct{}, 0, limit)
	used := make([]bool, len(remaining))

	for len(picked) < limit && len(picked) < len(remaining) {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i, r := range remaining {
			if used[i] {
				continue
			}
			maxSim := 0.0
			for _, ps := range pickedSets {
				if sim := jaccard(tokenSets[i], ps); sim > maxSim {
					maxSim = sim
				}
			}
			mmrScore := lambda*r.TrustScore - (1-lambda)*maxSim
			if mmrScore > bestScore {
				bestScore = mmrScore
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			break
		}
		used[bestIdx] = true
		picked = append(picked, remaining[bestIdx])
		pickedSets = append(pickedSets, tokenSets[bestIdx])
	}
	return picked
}

// ndcgAt computes NDCG@limit using each result's trust score as its
// relevance gain: DCG over the result order actually returned, divided by
// the ideal DCG from sorting the same gains descending. HybridSearch calls it
// on the diversity-reranked order, so NDCG measures how much that rerank
// costs in pure-relevance terms.
func ndcgAt(results []SearchResult, limit int) float64 {
	n := len(results)
	if n > limit {
		n = limit
	}
	if n == 0 {
		return 0
	}
	gain := func(rel float64, pos int) float64 {
		return (math.Pow(2, rel) - 1) / math.Log2(float64(pos)+2)
	}
	var dcg, idcg float64
	gains := make([]float64, n)
	for i := 0; i < n; i++ {
		gains[i] = results[i].TrustScore
		dcg += gain(gains[i], i)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(gains)))
	for i := 0; i < n; i++ {
		idcg += gain(gains[i], i)
	}
	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}

func (s *Store) searchSemantic(ctx context.Context, req SearchRequest, limit int) ([]SearchResult, error) {
	scope := req.AgentID
	if req.Scope.SessionID != "" {
		scope = req.AgentID + ":" + req.Scope.SessionID
	}
	ids, err := s.db.SearchSemanticFTS(ctx, scope, req.Query, limit)
	if err != nil {
		return nil, err
	}
	var out []SearchResult
	for i, id := range ids {
		m, err := s.db.GetSemanticMemory(ctx, id)
		if err != nil {
			continue
		}
		relevance := 1 - float64(i)/float64(len(ids)+1)
		freshness := freshnessScore(m.UpdatedAt, s.cfg.DecayHalfLifeDays)
		out = append(out, SearchResult{
			ID:         m.ID,
			Type:       TypeSemantic,
			Content:    m.FullText,
			Category:   m.Category,
			TrustScore: compositeTrust(s.cfg, relevance, m.Confidence, freshness, 0.5),
			Relevance:  relevance,
			Accuracy:   m.Confidence,
			Freshness:  freshness,
			CreatedAt:  m.CreatedAt,
		})
	}
	return out, nil
}

// spreadActivation runs one-to-N hop spreading activation seeded from only
// the top 5 fused candidates (so traversal cost is independent of candidate
// pool size), multiplying activation by edge weight and the configured
// per-hop decay at each hop. A node already present among the fused results
// is reinforced by 0.2*activation; a previously unseen node is pulled into
// the result set at a damped 0.15*activation relevance, but only once its
// propagated activation clears a 0.4 inclusion threshold — this keeps
// graph-only discoveries from outranking a weak but direct BM25/vector hit.
func (s *Store) spreadActivation(ctx context.Context, fused map[string]float64) map[string]float64 {
	hops := s.cfg.SpreadingHops
	if hops <= 0 {
		hops = 2
	}
	decay := s.cfg.SpreadingDecay
	if decay <= 0 {
		decay = 0.5
	}

	result := make(map[string]float64, len(fused))
	for id, score := range fused {
		result[id] = score
	}

	type seedCandidate struct {
		id    string
		score float64
	}
	seeds := make([]seedCandidate, 0, len(fused))
	for id, score := range fused {
		seeds = append(seeds, seedCandidate{id: id, score: score})
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i].score > seeds[j].score })
	if len(seeds) > 5 {
		seeds = seeds[:5]
	}

	frontier := make(map[string]float64, len(seeds))
	for _, sc := range seeds {
		frontier[sc.id] = normalizeScore(sc.score)
	}

	for hop := 0; hop < hops; hop++ {
		next := make(map[string]float64)
		for id, activation := range frontier {
			edges, err := s.db.EdgesFrom(ctx, id)
			if err != nil {
				continue
			}
			for _, e := range edges {
				propagated := activation * e.Weight * decay
				if propagated <= 0 {
					continue
				}
				if _, exists := fused[e.TargetID]; exists {
					result[e.TargetID] += 0.2 * propagated
				} else if propagated > 0.4 {
					result[e.TargetID] += 0.15 * propagated
				}
				next[e.TargetID] += propagated
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}
	return result
}

func normalizeScore(x float64) float64 {
	// RRF scores are small positive fractions; squash into (0,1) with a
	// saturating curve rather than a hard linear clamp.
	return x / (x + 0.02)
}

func accessUtility(accessCount int) float64 {
	return 1 - math.Exp(-float64(accessCount)/5)
}

// isNearDuplicate reports whether content's token-set Jaccard similarity to
// any already-seen content is at least thresh.
func isNearDuplicate(content string, seen []string, thresh float64) bool {
	set := tokenSet(content)
	for _, s := range seen {
		if jaccard(set, tokenSet(s)) >= thresh {
			return true
		}
	}
	return false
}

func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[w] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
