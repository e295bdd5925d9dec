package routing

import (
	"math"
	"sort"
	"time"

	"github.com/vietddude/binlens/internal/infra/provider"
)

// Operation types with a known affinity.
const (
	OpFunctionExplanation = "function_explanation"
	OpStringAnalysis      = "string_analysis"
	OpImportAnalysis      = "import_analysis"
	OpOverallSummary      = "overall_summary"
	OpBatchTranslation    = "batch_translation"
)

// affinity is the score bonus per operation type and backend vendor.
var affinity = map[string]map[string]float64{
	OpFunctionExplanation: {"anthropic": 0.15, "openai": 0.10, "gemini": 0.05},
	OpStringAnalysis:      {"openai": 0.10, "anthropic": 0.05, "ollama": 0.05},
	OpImportAnalysis:      {"anthropic": 0.10, "openai": 0.10, "gemini": 0.05},
	OpOverallSummary:      {"anthropic": 0.15, "gemini": 0.10, "openai": 0.05},
	OpBatchTranslation:    {"ollama": 0.15, "gemini": 0.10, "openai": 0.05},
}

const (
	costPenaltyPerUnit    = 5.0
	maxCostPenalty        = 0.2
	latencyPenaltyPerSec  = 0.02
	maxLatencyPenalty     = 0.2
	recencyBonus          = 0.05
	unknownLatencyRanking = time.Duration(math.MaxInt64)
)

// candidate is one eligible backend during selection.
type candidate struct {
	id      string
	vendor  string
	cost    float64
	latency time.Duration // zero when never measured
	stats   provider.Stats
	score   float64
}

// scoreCandidate computes the general-purpose score: success rate plus
// affinity, minus small cost and latency penalties, plus a recency bonus.
func scoreCandidate(c candidate, operationType string, now time.Time, recencyWindow time.Duration) float64 {
	score := c.stats.SuccessRate()
	score += affinity[operationType][c.vendor]
	score -= math.Min(c.cost*costPenaltyPerUnit, maxCostPenalty)
	score -= math.Min(c.latency.Seconds()*latencyPenaltyPerSec, maxLatencyPenalty)
	if !c.stats.LastUsed.IsZero() && now.Sub(c.stats.LastUsed) < recencyWindow {
		score += recencyBonus
	}
	return score
}

// rankCandidates orders candidates best first. Cost mode ranks by ascending
// cost, performance mode by ascending latency (unmeasured last); with both
// set cost comes first. Score and id break ties.
func rankCandidates(cands []candidate, prefs *provider.Preferences) {
	latencyKey := func(c candidate) time.Duration {
		if c.latency <= 0 {
			return unknownLatencyRanking
		}
		return c.latency
	}

	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if prefs.CostOptimization && a.cost != b.cost {
			return a.cost < b.cost
		}
		if prefs.PerformancePriority {
			if la, lb := latencyKey(a), latencyKey(b); la != lb {
				return la < lb
			}
		}
		if a.score != b.score {
			return a.score > b.score
		}
		return a.id < b.id
	})
}
