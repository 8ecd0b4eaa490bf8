package scoring

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"smartmoney-alerts/internal/models"
)

// Property: every valid event scores inside [0, 100], and scoring the
// same event twice yields the same value.
func TestProperty_ScoreBoundedAndDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	scorer := NewScorer()

	roles := []string{"CEO", "Chief Financial Officer", "President", "Director", "VP Sales", ""}
	tickers := []string{"AAPL", "NVDA", "GME", "JNJ", "XSML", ""}

	allTags := []models.AnomalyTag{
		models.AnomalyRoleBuy,
		models.AnomalyClusterBuy,
		models.AnomalyFirstPurchaseInYears,
		models.AnomalyUnusuallyLarge,
	}

	properties.Property("score is in [0,100] and repeatable", prop.ForAll(
		func(roleIdx, tickerIdx int, value float64, tagMask int, isDirector, isTenPct bool) bool {
			event := &models.Event{
				Ticker:            tickers[tickerIdx%len(tickers)],
				ActorRole:         roles[roleIdx%len(roles)],
				IsDirector:        isDirector,
				IsTenPercentOwner: isTenPct,
				TransactionType:   models.TxnPurchase,
				TotalValue:        value,
			}
			for i, tag := range allTags {
				if tagMask&(1<<i) != 0 {
					event.Anomalies = append(event.Anomalies, tag)
				}
			}

			score := scorer.Score(event)
			if score < 0 || score > 100 {
				t.Logf("score %d out of range for %+v", score, event)
				return false
			}
			if again := scorer.Score(event); again != score {
				t.Logf("non-deterministic: %d then %d", score, again)
				return false
			}
			return true
		},
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
		gen.Float64Range(0, 1_000_000_000),
		gen.IntRange(0, 15),
		gen.Bool(),
		gen.Bool(),
	))

	properties.Property("adding anomaly tags never lowers the score", prop.ForAll(
		func(roleIdx, tickerIdx int, value float64, tagCount int) bool {
			base := &models.Event{
				Ticker:          tickers[tickerIdx%len(tickers)],
				ActorRole:       roles[roleIdx%len(roles)],
				TransactionType: models.TxnPurchase,
				TotalValue:      value,
			}

			prev := scorer.Score(base)
			for i := 0; i < tagCount; i++ {
				base.Anomalies = append(base.Anomalies, allTags[i])
				next := scorer.Score(base)
				if next < prev {
					t.Logf("score dropped from %d to %d after adding %s", prev, next, allTags[i])
					return false
				}
				prev = next
			}
			return true
		},
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
		gen.Float64Range(0, 100_000_000),
		gen.IntRange(0, 4),
	))

	properties.Property("larger transactions never score lower, all else equal", prop.ForAll(
		func(roleIdx int, valueA, valueB float64) bool {
			lo, hi := valueA, valueB
			if lo > hi {
				lo, hi = hi, lo
			}

			small := &models.Event{
				ActorRole:       roles[roleIdx%len(roles)],
				TransactionType: models.TxnPurchase,
				TotalValue:      lo,
			}
			large := &models.Event{
				ActorRole:       roles[roleIdx%len(roles)],
				TransactionType: models.TxnPurchase,
				TotalValue:      hi,
			}

			return scorer.Score(large) >= scorer.Score(small)
		},
		gen.IntRange(0, 5),
		gen.Float64Range(0, 200_000_000),
		gen.Float64Range(0, 200_000_000),
	))

	properties.TestingRun(t)
}

// Property: tier bands partition the score range with inclusive lower
// bounds and never skip a band.
func TestProperty_TierBandsPartitionScores(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("every score maps to exactly one tier", prop.ForAll(
		func(score int) bool {
			tier := TierFor(score)
			switch {
			case score >= 70:
				return tier == models.Tier1
			case score >= 50:
				return tier == models.Tier2
			case score >= 30:
				return tier == models.Tier3
			default:
				return tier == models.Tier4
			}
		},
		gen.IntRange(0, 100),
	))

	properties.Property("higher scores never map to a later tier", prop.ForAll(
		func(a, b int) bool {
			lo, hi := a, b
			if lo > hi {
				lo, hi = hi, lo
			}
			// Tier numbers decrease as urgency increases.
			return TierFor(hi) <= TierFor(lo)
		},
		gen.IntRange(0, 100),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
