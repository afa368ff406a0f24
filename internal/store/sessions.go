package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Session mirrors the spec's Session entity: a model name, optional system
// prompt, timestamps, and a monotonically nondecreasing message count.
type Session struct {
	ID           string
	AgentID      string
	Label        string
	Model        string
	SystemPrompt string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

var ErrNotFound = errors.New("store: not found")

// EnsureSession returns the session with id, creating it with model/systemPrompt
// if it doesn't exist yet. Sessions are created on first message of a
// (channel, user, agent) triple by the channel bridge pipeline.
func (s *Store) EnsureSession(ctx context.Context, id, agentID, model, systemPrompt string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.getSessionLocked(ctx, id)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Session{}, err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, agent_id, label, model, system_prompt, message_count, created_at, updated_at)
		VALUES (?, ?, '', ?, ?, 0, ?, ?)`,
		id, agentID, model, systemPrompt, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return Session{}, fmt.Errorf("store: ensure session %s: %w", id, err)
	}
	return Session{ID: id, AgentID: agentID, Model: model, SystemPrompt: systemPrompt, CreatedAt: now, UpdatedAt: now}, nil
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getSessionLocked(ctx, id)
}

func (s *Store) getSessionLocked(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, label, model, system_prompt, message_count, created_at, updated_at
		FROM sessions WHERE id = ?`, id)

	var sess Session
	var createdAt, updatedAt string
	if err := row.Scan(&sess.ID, &sess.AgentID, &sess.Label, &sess.Model, &sess.SystemPrompt,
		&sess.MessageCount, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("store: get session %s: %w", id, err)
	}
	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	sess.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return sess, nil
}

// DeleteSession removes a session; messages cascade via the FK.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete session %s: %w", id, err)
	}
	return nil
}
