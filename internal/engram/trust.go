package engram

import (
	"math"
	"time"

	"engram/internal/config"
)

// compositeTrust blends the four trust dimensions into one score per the
// weighted-mean formula decided in DESIGN.md's Open Question section.
func compositeTrust(cfg config.EngramConfig, relevance, accuracy, freshness, utility float64) float64 {
	rw, aw, fw, uw := cfg.TrustRelevanceWeight, cfg.TrustAccuracyWeight, cfg.TrustFreshnessWeight, cfg.TrustUtilityWeight
	if rw == 0 && aw == 0 && fw == 0 && uw == 0 {
		rw, aw, fw, uw = 0.35, 0.25, 0.20, 0.20
	}
	total := rw + aw + fw + uw
	if total == 0 {
		total = 1
	}
	return (rw*relevance + aw*accuracy + fw*freshness + uw*utility) / total
}

// freshnessScore maps an age into (0,1] for the trust-composite recency
// term: freshness = e^(-days_old/30), a fixed 30-day decay constant rather
// than the configurable half-life used for importance decay.
func freshnessScore(createdAt time.Time, _ float64) float64 {
	days := time.Since(createdAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Exp(-days / 30)
}

// halfLifeDecay maps an age into (0,1], halving every halfLifeDays days.
func halfLifeDecay(createdAt time.Time, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		halfLifeDays = 30
	}
	days := time.Since(createdAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	lambda := math.Ln2 / halfLifeDays
	return math.Exp(-lambda * days)
}

// decayedImportance applies the Ebbinghaus-style forgetting curve to a raw
// importance score: importance * e^(-lambda*days), with lambda derived from
// the configured half-life.
func decayedImportance(importance float64, createdAt time.Time, halfLifeDays float64) float64 {
	return importance * halfLifeDecay(createdAt, halfLifeDays)
}
