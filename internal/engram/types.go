// Package engram implements the three-tier memory graph: episodic,
// semantic, and procedural memories layered over internal/store's SQLite
// tables, with hybrid BM25+vector retrieval, spreading activation,
// consolidation, decay, and secure garbage collection.
//
// It is grounded on the teacher's internal/rag "retrieval + fusion" shape
// (see fusion.go's FuseRRF/Diversify, captured in the grounding notes before
// that file was trimmed as a teacher module with no direct counterpart left
// in scope) and on original_source/.../engram/*.rs where the teacher has no
// Go equivalent at all (consolidation, decay, secure GC).
package engram

import "time"

// Scope narrows a search or write to a slice of the memory graph: a single
// agent, a single session, or the agent's entire cross-session memory.
type Scope struct {
	AgentID   string
	SessionID string // empty means "all sessions for this agent"
}

// SearchRequest parameterizes a hybrid-search call.
type SearchRequest struct {
	AgentID string
	Query   string
	Scope   Scope
	Limit   int

	// ExcludeSemantic leaves semantic memories out of HybridSearch, which
	// otherwise searches them alongside episodic memories. ExcludeProcedural
	// is not read: HybridSearch does not search procedural memories.
	ExcludeSemantic   bool
	ExcludeProcedural bool
}

// MemoryType distinguishes which tier a SearchResult came from.
type MemoryType string

const (
	TypeEpisodic   MemoryType = "episodic"
	TypeSemantic   MemoryType = "semantic"
	TypeProcedural MemoryType = "procedural"
)

// RecallResult wraps HybridSearch's ranked hits with the quality telemetry
// the context builder and engramctl surface alongside them: how the result
// set scores against its own best-possible ordering (NDCG), how relevant it
// is on average, how long retrieval took, and which knobs produced it.
type RecallResult struct {
	Results []SearchResult

	NDCG         float64
	AvgRelevancy float64
	LatencyMS    int64

	RerankStrategy string
	TextWeight     float64
}

// SearchResult is one fused, ranked hit returned from HybridSearch, already
// carrying the composite trust score the context builder renders inline.
type SearchResult struct {
	ID         string
	Type       MemoryType
	Content    string
	Category   string
	TrustScore float64

	Relevance float64
	Accuracy  float64
	Freshness float64
	Utility   float64

	CreatedAt time.Time
}

// CaptureRequest is the input to auto/explicit memory capture at the end of
// a turn.
type CaptureRequest struct {
	AgentID     string
	SessionID   string
	ChannelUser string
	Content     string
	Summary     string
	KeyFact     string
	Tags        []string
	Category    string
	Importance  float64
	Explicit    bool
}
