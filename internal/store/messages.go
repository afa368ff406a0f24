package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"engram/internal/llm"
)

// Message is the persisted row form of an llm.Message, scoped to a session.
type Message struct {
	ID         int64
	SessionID  string
	Role       string
	Content    string
	ToolCalls  []llm.ToolCall
	ToolCallID string
	Name       string
	CreatedAt  time.Time
}

// AppendMessages appends messages to a session in order and bumps the
// session's message_count. Messages are append-only outside of the mid-loop
// truncation the turn loop performs in memory before persisting.
func (s *Store) AppendMessages(ctx context.Context, sessionID string, msgs []llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin append: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, m := range msgs {
		var toolCallsJSON sql.NullString
		if len(m.ToolCalls) > 0 {
			b, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("store: marshal tool_calls: %w", err)
			}
			toolCallsJSON = sql.NullString{String: string(b), Valid: true}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (session_id, role, content, tool_calls_json, tool_call_id, name, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sessionID, m.Role, m.Content, toolCallsJSON, nullIfEmpty(m.ToolID), nullIfEmpty(""), now)
		if err != nil {
			return fmt.Errorf("store: insert message: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET message_count = message_count + ?, updated_at = ? WHERE id = ?`,
		len(msgs), now, sessionID); err != nil {
		return fmt.Errorf("store: bump message_count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit append: %w", err)
	}
	return nil
}

// ListMessages returns up to limit most recent messages for a session, in
// chronological order. limit <= 0 means unbounded.
func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int) ([]llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT role, content, tool_calls_json, tool_call_id FROM messages
		WHERE session_id = ? ORDER BY id DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list messages for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var reversed []llm.Message
	for rows.Next() {
		var role, content string
		var toolCallsJSON, toolCallID sql.NullString
		if err := rows.Scan(&role, &content, &toolCallsJSON, &toolCallID); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		m := llm.Message{Role: role, Content: content}
		if toolCallID.Valid {
			m.ToolID = toolCallID.String
		}
		if toolCallsJSON.Valid {
			if err := json.Unmarshal([]byte(toolCallsJSON.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("store: unmarshal tool_calls: %w", err)
			}
		}
		reversed = append(reversed, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]llm.Message, len(reversed))
	for i, m := range reversed {
		out[len(reversed)-1-i] = m
	}
	return out, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
