package engram

import (
	"context"
	"fmt"

	"engram/internal/config"
	"engram/internal/store"
	"engram/internal/vault"
)

// Embedder produces a vector embedding for a piece of text. Production
// wiring uses internal/llm.GenerateEmbeddings against the configured
// embedding host; tests supply a deterministic stub.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is the engram-package memory graph, layered over the raw SQLite
// CRUD in internal/store and the encryption/PII tiering in internal/vault.
type Store struct {
	db         *store.Store
	embedder   Embedder
	keyring    *vault.KeyRing
	memKeyName string
	cfg        config.EngramConfig
	momentum   *MomentumCache
}

// NewStore wires the memory graph over an already-open SQLite store. momentum
// may be nil, in which case working-memory momentum recall is a no-op.
func NewStore(db *store.Store, embedder Embedder, keyring *vault.KeyRing, vaultCfg config.VaultConfig, cfg config.EngramConfig, momentum *MomentumCache) *Store {
	memKeyName := vaultCfg.MemoryKeyName
	if memKeyName == "" {
		memKeyName = "memory"
	}
	return &Store{db: db, embedder: embedder, keyring: keyring, memKeyName: memKeyName, cfg: cfg, momentum: momentum}
}

func (s *Store) memoryKey() ([]byte, error) {
	key, err := s.keyring.Key(s.memKeyName)
	if err != nil {
		return nil, fmt.Errorf("engram: load memory encryption key: %w", err)
	}
	return key, nil
}
