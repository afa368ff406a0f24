package engram

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"engram/internal/config"
)

// MomentumCache is a per-agent recency window of recent query embeddings,
// backed by a capped Redis list with a rolling TTL. It is nil-safe: every
// method no-ops when the cache is disabled so working-memory momentum
// degrades gracefully when Redis isn't configured.
//
// Grounded on the teacher's internal/skills.RedisSkillsCache: a
// redis.UniversalClient wrapped by a struct whose methods all guard on a nil
// receiver/client so callers never branch on "is Redis enabled".
type MomentumCache struct {
	client redis.UniversalClient
	cap    int
	ttl    time.Duration
}

// NewMomentumCache dials Redis when cfg.Enabled, returning a nil *MomentumCache
// (not an error) when disabled so callers can treat it uniformly.
func NewMomentumCache(cfg config.RedisConfig, capN int, ttlHours int) (*MomentumCache, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSInsecureSkipVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("engram: momentum cache ping: %w", err)
	}
	if capN <= 0 {
		capN = 5
	}
	ttl := time.Duration(ttlHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MomentumCache{client: client, cap: capN, ttl: ttl}, nil
}

func (c *MomentumCache) key(agentID string) string {
	return "engram:momentum:" + agentID
}

// Push records the most recent query embedding for agentID, trimming the
// list to the configured cap and refreshing its TTL. Most-recent first.
func (c *MomentumCache) Push(ctx context.Context, agentID string, vec []float32) {
	if c == nil || c.client == nil || len(vec) == 0 {
		return
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	key := c.key(agentID)
	pipe := c.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(c.cap-1))
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Debug().Err(err).Str("agent_id", agentID).Msg("engram_momentum_push_error")
	}
}

// Recent returns up to cap embeddings for agentID, most-recent first.
func (c *MomentumCache) Recent(ctx context.Context, agentID string) [][]float32 {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := c.client.LRange(ctx, c.key(agentID), 0, int64(c.cap-1)).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("agent_id", agentID).Msg("engram_momentum_recent_error")
		}
		return nil
	}
	out := make([][]float32, 0, len(raw))
	for _, r := range raw {
		var vec []float32
		if err := json.Unmarshal([]byte(r), &vec); err == nil {
			out = append(out, vec)
		}
	}
	return out
}

// Close releases the underlying Redis connection.
func (c *MomentumCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// blendMomentum computes q' = queryWeight*q + historyWeight*weighted_avg(momentum),
// where momentum[0] is most recent and weights decay exponentially with
// recency (momentum[i] weighted by 0.5^i), then L2-renormalizes the result.
// Returns q unchanged when momentum is empty or dimensions mismatch.
func blendMomentum(q []float32, momentum [][]float32, queryWeight, historyWeight float64) []float32 {
	if len(q) == 0 || len(momentum) == 0 {
		return q
	}
	if queryWeight == 0 && historyWeight == 0 {
		queryWeight, historyWeight = 0.7, 0.3
	}

	avg := make([]float64, len(q))
	var totalWeight float64
	w := 1.0
	for _, m := range momentum {
		if len(m) != len(q) {
			continue
		}
		for i, v := range m {
			avg[i] += w * float64(v)
		}
		totalWeight += w
		w *= 0.5
	}
	if totalWeight == 0 {
		return q
	}
	for i := range avg {
		avg[i] /= totalWeight
	}

	blended := make([]float64, len(q))
	for i := range q {
		blended[i] = queryWeight*float64(q[i]) + historyWeight*avg[i]
	}

	var norm float64
	for _, v := range blended {
		norm += v * v
	}
	out := make([]float32, len(q))
	if norm <= 0 {
		for i, v := range blended {
			out[i] = float32(v)
		}
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range blended {
		out[i] = float32(v / norm)
	}
	return out
}
