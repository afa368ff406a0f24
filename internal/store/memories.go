package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EpisodicMemory is the persisted row form of spec.md's Episodic Memory entity.
type EpisodicMemory struct {
	ID                 string
	FullContent        string
	Summary            string
	KeyFact            string
	Tags               []string
	Category           string
	Importance         float64
	AgentID            string
	SessionID          string
	ChannelUser        string
	Source             string // "auto" | "explicit"
	ConsolidationState string // "fresh" | "consolidated" | "archived"
	Strength           float64
	Embedding          []float32
	EmbeddingModel     string
	InferredMetadata   map[string]any
	NegativeContexts   []string
	AccessCount        int
	LastAccessedAt     *time.Time
	CreatedAt          time.Time
	SecurityTier       string
	CleartextSummary   string
}

// PutEpisodicMemory inserts or replaces an episodic memory row and keeps the
// FTS5 shadow table in sync (indexing only the cleartext-visible columns).
func (s *Store) PutEpisodicMemory(ctx context.Context, m EpisodicMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tagsJSON, err := json.Marshal(m.Tags)
	if err != nil {
		return fmt.Errorf("store: marshal tags: %w", err)
	}
	metaJSON, err := json.Marshal(m.InferredMetadata)
	if err != nil {
		return fmt.Errorf("store: marshal inferred_metadata: %w", err)
	}
	negJSON, err := json.Marshal(m.NegativeContexts)
	if err != nil {
		return fmt.Errorf("store: marshal negative_contexts: %w", err)
	}
	var embBlob []byte
	if len(m.Embedding) > 0 {
		embBlob = encodeEmbedding(m.Embedding)
	}

	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var lastAccessed any
	if m.LastAccessedAt != nil {
		lastAccessed = m.LastAccessedAt.Format(time.RFC3339Nano)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin put episodic: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO episodic_memories (
			id, full_content, summary, key_fact, tags_json, category, importance,
			agent_id, session_id, channel_user, source, consolidation_state, strength,
			embedding, embedding_model, inferred_metadata_json, negative_contexts_json,
			access_count, last_accessed_at, created_at, security_tier, cleartext_summary
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			full_content=excluded.full_content, summary=excluded.summary, key_fact=excluded.key_fact,
			tags_json=excluded.tags_json, category=excluded.category, importance=excluded.importance,
			consolidation_state=excluded.consolidation_state, strength=excluded.strength,
			embedding=excluded.embedding, embedding_model=excluded.embedding_model,
			inferred_metadata_json=excluded.inferred_metadata_json, negative_contexts_json=excluded.negative_contexts_json,
			access_count=excluded.access_count, last_accessed_at=excluded.last_accessed_at,
			security_tier=excluded.security_tier, cleartext_summary=excluded.cleartext_summary`,
		m.ID, m.FullContent, m.Summary, m.KeyFact, string(tagsJSON), m.Category, m.Importance,
		m.AgentID, nullIfEmpty(m.SessionID), nullIfEmpty(m.ChannelUser), m.Source, m.ConsolidationState, m.Strength,
		embBlob, nullIfEmpty(m.EmbeddingModel), string(metaJSON), string(negJSON),
		m.AccessCount, lastAccessed, createdAt.Format(time.RFC3339Nano), m.SecurityTier, nullIfEmpty(m.CleartextSummary))
	if err != nil {
		return fmt.Errorf("store: put episodic memory %s: %w", m.ID, err)
	}

	ftsContent, ftsSummary, ftsKeyFact, ftsTags := m.FullContent, m.Summary, m.KeyFact, string(tagsJSON)
	if m.SecurityTier != "cleartext" {
		// Sensitive/Confidential rows store ciphertext in full_content; the
		// FTS index must only ever see the cleartext summary (or nothing,
		// for Confidential, which is vector-only search).
		ftsContent = m.CleartextSummary
		ftsSummary, ftsKeyFact, ftsTags = "", "", ""
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM episodic_memories_fts WHERE id = ?`, m.ID); err != nil {
		return fmt.Errorf("store: clear fts row: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO episodic_memories_fts (id, full_content, summary, key_fact, tags)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID, ftsContent, ftsSummary, ftsKeyFact, ftsTags); err != nil {
		return fmt.Errorf("store: index fts row: %w", err)
	}

	return tx.Commit()
}

// GetEpisodicMemory fetches a single episodic memory by id.
func (s *Store) GetEpisodicMemory(ctx context.Context, id string) (EpisodicMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanEpisodic(s.db.QueryRowContext(ctx, episodicSelect+` WHERE id = ?`, id))
}

const episodicSelect = `SELECT id, full_content, summary, key_fact, tags_json, category, importance,
	agent_id, session_id, channel_user, source, consolidation_state, strength,
	embedding, embedding_model, inferred_metadata_json, negative_contexts_json,
	access_count, last_accessed_at, created_at, security_tier, cleartext_summary
	FROM episodic_memories`

func (s *Store) scanEpisodic(row *sql.Row) (EpisodicMemory, error) {
	var m EpisodicMemory
	var tagsJSON, metaJSON, negJSON string
	var sessionID, channelUser, embeddingModel, cleartextSummary sql.NullString
	var lastAccessed sql.NullString
	var createdAt string
	var embBlob []byte

	if err := row.Scan(&m.ID, &m.FullContent, &m.Summary, &m.KeyFact, &tagsJSON, &m.Category, &m.Importance,
		&m.AgentID, &sessionID, &channelUser, &m.Source, &m.ConsolidationState, &m.Strength,
		&embBlob, &embeddingModel, &metaJSON, &negJSON,
		&m.AccessCount, &lastAccessed, &createdAt, &m.SecurityTier, &cleartextSummary); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EpisodicMemory{}, ErrNotFound
		}
		return EpisodicMemory{}, fmt.Errorf("store: scan episodic memory: %w", err)
	}

	_ = json.Unmarshal([]byte(tagsJSON), &m.Tags)
	_ = json.Unmarshal([]byte(metaJSON), &m.InferredMetadata)
	_ = json.Unmarshal([]byte(negJSON), &m.NegativeContexts)
	m.SessionID = sessionID.String
	m.ChannelUser = channelUser.String
	m.EmbeddingModel = embeddingModel.String
	m.CleartextSummary = cleartextSummary.String
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if lastAccessed.Valid {
		t, _ := time.Parse(time.RFC3339Nano, lastAccessed.String)
		m.LastAccessedAt = &t
	}
	if len(embBlob) > 0 {
		m.Embedding = decodeEmbedding(embBlob)
	}
	return m, nil
}

// TouchEpisodicAccess increments access_count and bumps last_accessed_at
// without touching content columns, so recall bookkeeping never has to
// round-trip decrypted plaintext back through an encrypted-tier row.
func (s *Store) TouchEpisodicAccess(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		UPDATE episodic_memories SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ?`, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("store: touch episodic access %s: %w", id, err)
	}
	return nil
}

// TouchEpisodicRetrieval records that a memory surfaced in a search result:
// it increments access_count, bumps last_accessed_at, and nudges strength
// upward by boost (capped at 1.0). Each successful retrieval reinforces a
// memory against future decay, the spacing effect from the Ebbinghaus model
// driving decay.go's forgetting curve.
func (s *Store) TouchEpisodicRetrieval(ctx context.Context, id string, boost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		UPDATE episodic_memories
		SET access_count = access_count + 1,
		    last_accessed_at = ?,
		    strength = MIN(1.0, strength + ?)
		WHERE id = ?`, time.Now().UTC().Format(time.RFC3339Nano), boost, id)
	if err != nil {
		return fmt.Errorf("store: touch episodic retrieval %s: %w", id, err)
	}
	return nil
}

// ListEpisodicMemoriesByAgent returns all episodic memories scoped to an agent,
// used by the hybrid search candidate generation and consolidation sweep.
func (s *Store) ListEpisodicMemoriesByAgent(ctx context.Context, agentID string) ([]EpisodicMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, episodicSelect+` WHERE agent_id = ?`, agentID)
	if err != nil {
		return nil, fmt.Errorf("store: list episodic memories: %w", err)
	}
	defer rows.Close()

	var out []EpisodicMemory
	for rows.Next() {
		var m EpisodicMemory
		var tagsJSON, metaJSON, negJSON string
		var sessionID, channelUser, embeddingModel, cleartextSummary sql.NullString
		var lastAccessed sql.NullString
		var createdAt string
		var embBlob []byte

		if err := rows.Scan(&m.ID, &m.FullContent, &m.Summary, &m.KeyFact, &tagsJSON, &m.Category, &m.Importance,
			&m.AgentID, &sessionID, &channelUser, &m.Source, &m.ConsolidationState, &m.Strength,
			&embBlob, &embeddingModel, &metaJSON, &negJSON,
			&m.AccessCount, &lastAccessed, &createdAt, &m.SecurityTier, &cleartextSummary); err != nil {
			return nil, fmt.Errorf("store: scan episodic memory row: %w", err)
		}
		_ = json.Unmarshal([]byte(tagsJSON), &m.Tags)
		_ = json.Unmarshal([]byte(metaJSON), &m.InferredMetadata)
		_ = json.Unmarshal([]byte(negJSON), &m.NegativeContexts)
		m.SessionID = sessionID.String
		m.ChannelUser = channelUser.String
		m.EmbeddingModel = embeddingModel.String
		m.CleartextSummary = cleartextSummary.String
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if lastAccessed.Valid {
			t, _ := time.Parse(time.RFC3339Nano, lastAccessed.String)
			m.LastAccessedAt = &t
		}
		if len(embBlob) > 0 {
			m.Embedding = decodeEmbedding(embBlob)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SearchEpisodicFTS runs a BM25 full-text query over the FTS5 shadow table,
// returning ids ranked best-first.
func (s *Store) SearchEpisodicFTS(ctx context.Context, agentID, query string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id FROM episodic_memories_fts f
		JOIN episodic_memories e ON e.id = f.id
		WHERE episodic_memories_fts MATCH ? AND e.agent_id = ?
		ORDER BY bm25(episodic_memories_fts) LIMIT ?`, ftsQuery(query), agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: fts search: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteEpisodicMemorySecure zeroes content columns before deleting the row,
// per spec.md's secure-erasure requirement (zero-then-delete).
func (s *Store) DeleteEpisodicMemorySecure(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin secure delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE episodic_memories SET full_content='', summary='', key_fact='',
			cleartext_summary=NULL, embedding=NULL WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: zero episodic memory %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM episodic_memories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete episodic memory %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM episodic_memories_fts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete fts row %s: %w", id, err)
	}
	return tx.Commit()
}

// SemanticMemory is the persisted row form of spec.md's Semantic Memory (SPO) entity.
type SemanticMemory struct {
	ID              string
	Subject         string
	Predicate       string
	Object          string
	FullText        string
	Category        string
	Confidence      float64
	IsUserExplicit  bool
	ContradictionOf string
	Scope           string
	Embedding       []float32
	EmbeddingModel  string
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PutSemanticMemory inserts or replaces a semantic memory row.
func (s *Store) PutSemanticMemory(ctx context.Context, m SemanticMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	var embBlob []byte
	if len(m.Embedding) > 0 {
		embBlob = encodeEmbedding(m.Embedding)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin put semantic: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO semantic_memories (
			id, subject, predicate, object, full_text, category, confidence,
			is_user_explicit, contradiction_of, scope, embedding, embedding_model,
			version, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			subject=excluded.subject, predicate=excluded.predicate, object=excluded.object,
			full_text=excluded.full_text, category=excluded.category, confidence=excluded.confidence,
			is_user_explicit=excluded.is_user_explicit, contradiction_of=excluded.contradiction_of,
			embedding=excluded.embedding, embedding_model=excluded.embedding_model,
			version=excluded.version, updated_at=excluded.updated_at`,
		m.ID, m.Subject, m.Predicate, m.Object, m.FullText, m.Category, m.Confidence,
		boolToInt(m.IsUserExplicit), nullIfEmpty(m.ContradictionOf), m.Scope, embBlob, nullIfEmpty(m.EmbeddingModel),
		m.Version, createdAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: put semantic memory %s: %w", m.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM semantic_memories_fts WHERE id = ?`, m.ID); err != nil {
		return fmt.Errorf("store: clear semantic fts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO semantic_memories_fts (id, full_text) VALUES (?, ?)`, m.ID, m.FullText); err != nil {
		return fmt.Errorf("store: index semantic fts: %w", err)
	}

	return tx.Commit()
}

const semanticSelect = `SELECT id, subject, predicate, object, full_text, category, confidence,
	is_user_explicit, contradiction_of, scope, embedding, embedding_model, version, created_at, updated_at
	FROM semantic_memories`

// FindSemanticBySubjectPredicate returns all triples for a given subject+predicate,
// used by the consolidation reconciliation pass to detect corroboration vs contradiction.
func (s *Store) FindSemanticBySubjectPredicate(ctx context.Context, subject, predicate string) ([]SemanticMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, semanticSelect+` WHERE subject = ? AND predicate = ? ORDER BY version DESC`, subject, predicate)
	if err != nil {
		return nil, fmt.Errorf("store: find semantic by subject/predicate: %w", err)
	}
	defer rows.Close()
	return scanSemanticRows(rows)
}

// ListSemanticMemoriesByAgent returns all semantic memories whose scope equals
// scope exactly.
func (s *Store) ListSemanticMemoriesByAgent(ctx context.Context, scope string) ([]SemanticMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, semanticSelect+` WHERE scope = ?`, scope)
	if err != nil {
		return nil, fmt.Errorf("store: list semantic memories: %w", err)
	}
	defer rows.Close()
	return scanSemanticRows(rows)
}

// SearchSemanticFTS runs a BM25 query over the semantic-memory FTS5 shadow
// table, limited to rows whose scope equals scope exactly (agent, or
// agent:session); no prefix matching is done.
func (s *Store) SearchSemanticFTS(ctx context.Context, scope, query string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id FROM semantic_memories_fts f
		JOIN semantic_memories m ON m.id = f.id
		WHERE semantic_memories_fts MATCH ? AND m.scope = ?
		ORDER BY bm25(semantic_memories_fts) LIMIT ?`, ftsQuery(query), scope, limit)
	if err != nil {
		return nil, fmt.Errorf("store: semantic fts search: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetSemanticMemory fetches a single semantic memory by id.
func (s *Store) GetSemanticMemory(ctx context.Context, id string) (SemanticMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, semanticSelect+` WHERE id = ?`, id)
	if err != nil {
		return SemanticMemory{}, fmt.Errorf("store: get semantic memory: %w", err)
	}
	defer rows.Close()
	all, err := scanSemanticRows(rows)
	if err != nil {
		return SemanticMemory{}, err
	}
	if len(all) == 0 {
		return SemanticMemory{}, ErrNotFound
	}
	return all[0], nil
}

func scanSemanticRows(rows *sql.Rows) ([]SemanticMemory, error) {
	var out []SemanticMemory
	for rows.Next() {
		var m SemanticMemory
		var contradictionOf, embeddingModel sql.NullString
		var isExplicit int
		var embBlob []byte
		var createdAt, updatedAt string

		if err := rows.Scan(&m.ID, &m.Subject, &m.Predicate, &m.Object, &m.FullText, &m.Category, &m.Confidence,
			&isExplicit, &contradictionOf, &m.Scope, &embBlob, &embeddingModel, &m.Version, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("store: scan semantic memory: %w", err)
		}
		m.IsUserExplicit = isExplicit != 0
		m.ContradictionOf = contradictionOf.String
		m.EmbeddingModel = embeddingModel.String
		if len(embBlob) > 0 {
			m.Embedding = decodeEmbedding(embBlob)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// MemoryEdge is a directed, typed, weighted edge between two memories.
type MemoryEdge struct {
	SourceID  string
	TargetID  string
	EdgeType  string
	Weight    float64
	CreatedAt time.Time
}

// PutMemoryEdge inserts or replaces an edge.
func (s *Store) PutMemoryEdge(ctx context.Context, e MemoryEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_edges (source_id, target_id, edge_type, weight, created_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(source_id, target_id, edge_type) DO UPDATE SET weight=excluded.weight`,
		e.SourceID, e.TargetID, e.EdgeType, e.Weight, createdAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: put memory edge %s->%s: %w", e.SourceID, e.TargetID, err)
	}
	return nil
}

// EdgesFrom returns all outgoing edges from a memory id, used by spreading activation.
func (s *Store) EdgesFrom(ctx context.Context, id string) ([]MemoryEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, target_id, edge_type, weight, created_at FROM memory_edges WHERE source_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("store: edges from %s: %w", id, err)
	}
	defer rows.Close()

	var out []MemoryEdge
	for rows.Next() {
		var e MemoryEdge
		var createdAt string
		if err := rows.Scan(&e.SourceID, &e.TargetID, &e.EdgeType, &e.Weight, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AppendAudit records a memory-lifecycle audit log entry.
func (s *Store) AppendAudit(ctx context.Context, action, subjectID, agentID, sessionID, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_audit_log (action, subject_id, agent_id, session_id, details, at)
		VALUES (?,?,?,?,?,?)`,
		action, subjectID, agentID, nullIfEmpty(sessionID), details, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: append audit log: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ftsQuery escapes a free-text query for FTS5 MATCH by quoting each token,
// so punctuation in user text can't be interpreted as FTS5 query syntax.
func ftsQuery(q string) string {
	var b []byte
	inWord := false
	var out []string
	var cur []byte
	flush := func() {
		if len(cur) > 0 {
			out = append(out, `"`+string(cur)+`"`)
			cur = nil
		}
	}
	for _, r := range q {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			cur = append(cur, byte(r))
			inWord = true
		} else if inWord {
			flush()
			inWord = false
		}
	}
	flush()
	_ = b
	if len(out) == 0 {
		return `""`
	}
	return joinOR(out)
}

func joinOR(words []string) string {
	s := ""
	for i, w := range words {
		if i > 0 {
			s += " OR "
		}
		s += w
	}
	return s
}
