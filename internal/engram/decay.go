package engram

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
)

// ApplyDecay recomputes and persists the strength of each non-consolidated
// episodic memory from the Ebbinghaus forgetting curve. It returns the ids
// whose strength fell below the forget threshold this run, as candidates for
// secure garbage collection; it deletes nothing itself.
func (s *Store) ApplyDecay(ctx context.Context, agentID string, forgetThreshold float64) ([]string, error) {
	memories, err := s.db.ListEpisodicMemoriesByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	var forgettable []string
	for _, m := range memories {
		if m.ConsolidationState == "consolidated" {
			// Consolidated memories are protected: a consolidation run has
			// already examined them, either folding them into a semantic
			// triple or marking them as singletons.
			continue
		}
		// importance is authored on a 0-10 scale; strength is the same
		// decay curve renormalized to (0,1] so it doubles as the search
		// layer's accuracy term.
		m.Strength = decayedImportance(m.Importance, m.CreatedAt, s.cfg.DecayHalfLifeDays) / 10
		if err := s.db.PutEpisodicMemory(ctx, m); err != nil {
			return nil, err
		}
		if m.Strength < forgetThreshold {
			forgettable = append(forgettable, m.ID)
		}
	}
	return forgettable, nil
}

// SecureDelete zeroes an episodic memory's content columns, deletes the
// row, and re-pads the database file to the nearest 4KiB page boundary with
// random bytes so SQLite's free-list doesn't leave forensically-recoverable
// plaintext fragments behind.
func (s *Store) SecureDelete(ctx context.Context, id string) error {
	if err := s.db.DeleteEpisodicMemorySecure(ctx, id); err != nil {
		return err
	}
	return s.repad(ctx)
}

const pageSize = 4096

func (s *Store) repad(ctx context.Context) error {
	path, err := s.db.Path()
	if err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("engram: stat db file for repad: %w", err)
	}
	size := info.Size()
	remainder := size % pageSize
	if remainder == 0 {
		return nil
	}

	pad := make([]byte, pageSize-remainder)
	if _, err := rand.Read(pad); err != nil {
		return fmt.Errorf("engram: generate repad bytes: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("engram: open db file for repad: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteAt(pad, size); err != nil {
		return fmt.Errorf("engram: write repad bytes: %w", err)
	}
	return nil
}

// GCSweep runs decay followed by secure deletion of every memory that
// crossed the forget threshold, returning how many were removed.
func (s *Store) GCSweep(ctx context.Context, agentID string, forgetThreshold float64) (int, error) {
	ids, err := s.ApplyDecay(ctx, agentID, forgetThreshold)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := s.SecureDelete(ctx, id); err != nil {
			return 0, err
		}
		_ = s.db.AppendAudit(ctx, "gc_delete", id, agentID, "", "decayed below forget threshold")
	}
	return len(ids), nil
}
