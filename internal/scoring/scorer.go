// Package scoring assigns virality scores and posting tiers to
// disclosure events.
package scoring

import (
	"strings"

	"smartmoney-alerts/internal/config"
	"smartmoney-alerts/internal/models"
)

// Factor caps. Each factor is capped independently before summation
// and the final score is capped at 100.
const (
	maxRoleScore        = 25
	maxSizeScore        = 25
	maxRecognitionScore = 20
	maxAnomalyScore     = 25
	maxTotalScore       = 100
)

// Per-tag anomaly weights.
var anomalyWeights = map[models.AnomalyTag]int{
	models.AnomalyRoleBuy:              10,
	models.AnomalyClusterBuy:           8,
	models.AnomalyFirstPurchaseInYears: 8,
	models.AnomalyUnusuallyLarge:       7,
}

// Breakdown carries the per-factor contributions for one event, for
// logging and message rendering.
type Breakdown struct {
	Role        int
	Size        int
	Recognition int
	Anomalies   int
	Total       int
}

// Scorer computes virality scores. It is stateless and deterministic;
// the same event always produces the same score.
type Scorer struct{}

// NewScorer creates a scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score returns the event's virality score in [0, 100].
func (s *Scorer) Score(event *models.Event) int {
	return s.ScoreBreakdown(event).Total
}

// ScoreBreakdown returns the score with per-factor contributions.
func (s *Scorer) ScoreBreakdown(event *models.Event) Breakdown {
	b := Breakdown{
		Role:        roleScore(event),
		Size:        sizeScore(event.TotalValue),
		Recognition: recognitionScore(event.Ticker),
		Anomalies:   anomalyScore(event.Anomalies),
	}

	b.Total = b.Role + b.Size + b.Recognition + b.Anomalies
	if b.Total > maxTotalScore {
		b.Total = maxTotalScore
	}
	return b
}

// TierFor maps a score to its posting tier. Band lower bounds are
// inclusive.
func TierFor(score int) models.Tier {
	switch {
	case score >= 70:
		return models.Tier1
	case score >= 50:
		return models.Tier2
	case score >= 30:
		return models.Tier3
	default:
		return models.Tier4
	}
}

// roleScore scores the actor's role. The highest matching band wins.
func roleScore(event *models.Event) int {
	role := strings.ToUpper(event.ActorRole)

	switch {
	case containsAny(role, "CEO", "CHIEF EXECUTIVE", "FOUNDER"):
		return 25
	case containsAny(role, "CFO", "CHIEF FINANCIAL"):
		return 22
	case strings.Contains(role, "PRESIDENT") && !strings.Contains(role, "VICE"):
		return 18
	case event.IsTenPercentOwner:
		return 15
	case event.IsDirector || strings.Contains(role, "DIRECTOR"):
		return 8
	default:
		return 0
	}
}

// sizeScore scores the transaction's dollar value.
func sizeScore(totalValue float64) int {
	switch {
	case totalValue >= 50_000_000:
		return 25
	case totalValue >= 10_000_000:
		return 20
	case totalValue >= 1_000_000:
		return 11
	case totalValue >= 100_000:
		return 3
	default:
		return 0
	}
}

// recognitionScore scores how recognizable the entity is. Flagship
// names outrank meme stocks, which outrank broad-index membership.
func recognitionScore(ticker string) int {
	ticker = strings.ToUpper(ticker)

	switch {
	case config.Magnificent7[ticker]:
		return 20
	case config.MemeStocks[ticker]:
		return 18
	case config.SP500[ticker]:
		return 12
	default:
		return 0
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// anomalyScore sums the per-tag weights, capped. Unknown tags carry
// no weight.
func anomalyScore(tags []models.AnomalyTag) int {
	var total int
	for _, tag := range tags {
		total += anomalyWeights[tag]
	}
	if total > maxAnomalyScore {
		total = maxAnomalyScore
	}
	return total
}
