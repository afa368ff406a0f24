package engram

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"engram/internal/store"
	"engram/internal/vault"
)

// Capture writes a new episodic memory, applying PII detection to decide
// its security tier and encrypting full_content and summary under the
// memory field key whenever the tier is above Cleartext; key_fact and tags
// are stored as given. Sensitive content keeps its summary (or content) in
// cleartext_summary; Confidential content is stored vector-only, with an
// empty cleartext_summary.
func (s *Store) Capture(ctx context.Context, req CaptureRequest) (string, error) {
	tier := vault.Cleartext
	detection := vault.DetectPII(req.Content)
	if detection.HasPII {
		tier = detection.RecommendedTier
	}

	id := uuid.NewString()
	m := store.EpisodicMemory{
		ID:                 id,
		FullContent:        req.Content,
		Summary:            req.Summary,
		KeyFact:            req.KeyFact,
		Tags:               req.Tags,
		Category:           req.Category,
		Importance:         req.Importance,
		AgentID:            req.AgentID,
		SessionID:          req.SessionID,
		ChannelUser:        req.ChannelUser,
		Source:             captureSource(req.Explicit),
		ConsolidationState: "fresh",
		Strength:           1.0,
		CreatedAt:          time.Now().UTC(),
		SecurityTier:       string(tier),
	}

	if s.embedder != nil {
		if vec, err := s.embedder.Embed(ctx, req.Content); err == nil {
			m.Embedding = vec
		}
	}

	if tier != vault.Cleartext {
		key, err := s.memoryKey()
		if err != nil {
			return "", err
		}
		cleartext := m.Summary
		if cleartext == "" {
			cleartext = m.FullContent
		}
		m.CleartextSummary = cleartext

		enc, err := vault.Encrypt(m.FullContent, key)
		if err != nil {
			return "", fmt.Errorf("engram: encrypt full_content: %w", err)
		}
		m.FullContent = enc
		if m.Summary != "" {
			encSummary, err := vault.Encrypt(m.Summary, key)
			if err != nil {
				return "", fmt.Errorf("engram: encrypt summary: %w", err)
			}
			m.Summary = encSummary
		}
		if tier == vault.Confidential {
			// Vector-only: no cleartext anywhere in the FTS shadow table.
			m.CleartextSummary = ""
		}
	}

	if err := s.db.PutEpisodicMemory(ctx, m); err != nil {
		return "", err
	}
	if err := s.db.AppendAudit(ctx, "capture", id, req.AgentID, req.SessionID, string(tier)); err != nil {
		return "", err
	}
	return id, nil
}

func captureSource(explicit bool) string {
	if explicit {
		return "explicit"
	}
	return "auto"
}

// Recall fetches and decrypts a single episodic memory's full content,
// reversing Capture's tiered encryption.
func (s *Store) Recall(ctx context.Context, id string) (store.EpisodicMemory, error) {
	m, err := s.db.GetEpisodicMemory(ctx, id)
	if err != nil {
		return store.EpisodicMemory{}, err
	}
	if vault.Tier(m.SecurityTier) == vault.Cleartext {
		return m, nil
	}

	key, err := s.memoryKey()
	if err != nil {
		return store.EpisodicMemory{}, err
	}
	if m.FullContent != "" {
		dec, err := vault.Decrypt(m.FullContent, key)
		if err != nil {
			return store.EpisodicMemory{}, fmt.Errorf("engram: decrypt full_content: %w", err)
		}
		m.FullContent = dec
	}
	if m.Summary != "" {
		dec, err := vault.Decrypt(m.Summary, key)
		if err != nil {
			return store.EpisodicMemory{}, fmt.Errorf("engram: decrypt summary: %w", err)
		}
		m.Summary = dec
	}

	_ = s.db.TouchEpisodicAccess(ctx, id)

	return m, nil
}
