// Package analyzer detects anomalous patterns in disclosure events.
package analyzer

import (
	"context"
	"time"

	"smartmoney-alerts/internal/config"
	"smartmoney-alerts/internal/models"
	"smartmoney-alerts/internal/store"
)

// Thresholds controls when each anomaly rule fires.
type Thresholds struct {
	// ClusterWindow is the trailing window for counting distinct
	// purchasers at the same entity.
	ClusterWindow time.Duration

	// ClusterMinActors is the minimum distinct purchasers (including
	// the event's own actor) needed to tag cluster_buy.
	ClusterMinActors int

	// FirstPurchaseWindow is how far back a prior purchase must be
	// absent for first_purchase_in_years to fire.
	FirstPurchaseWindow time.Duration

	// RelativeSizeMultiplier tags unusually_large when the value
	// exceeds this multiple of the actor's trailing average.
	RelativeSizeMultiplier float64

	// MinHistorySamples is the minimum number of prior transactions
	// required before the relative-size rule is trusted.
	MinHistorySamples int

	// AbsoluteLargeCeiling is the fallback threshold used when the
	// actor has insufficient history.
	AbsoluteLargeCeiling float64
}

// DefaultThresholds returns the standard detection thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ClusterWindow:          7 * 24 * time.Hour,
		ClusterMinActors:       2,
		FirstPurchaseWindow:    2 * 365 * 24 * time.Hour,
		RelativeSizeMultiplier: 5.0,
		MinHistorySamples:      2,
		AbsoluteLargeCeiling:   10_000_000,
	}
}

// ThresholdsFromConfig builds thresholds from the detector config
// section.
func ThresholdsFromConfig(cfg config.DetectorConfig) Thresholds {
	return Thresholds{
		ClusterWindow:          time.Duration(cfg.ClusterWindowDays) * 24 * time.Hour,
		ClusterMinActors:       cfg.ClusterMinActors,
		FirstPurchaseWindow:    time.Duration(cfg.FirstPurchaseYears) * 365 * 24 * time.Hour,
		RelativeSizeMultiplier: cfg.RelativeSizeMultiplier,
		MinHistorySamples:      cfg.MinHistorySamples,
		AbsoluteLargeCeiling:   cfg.AbsoluteLargeCeiling,
	}
}

// History is a snapshot of the stored facts the detector consults.
// The caller assembles it before calling Analyze; detection itself
// never touches the store.
type History struct {
	// RecentPurchaserCIKs are distinct actors who filed purchases at
	// the event's entity within the cluster window, excluding the
	// event's own actor.
	RecentPurchaserCIKs []string

	// PriorPurchaseDates are transaction dates of the actor's earlier
	// purchases at this entity, most recent first.
	PriorPurchaseDates []time.Time

	// PriorValues are the actor's earlier transaction values of the
	// same transaction type, most recent first.
	PriorValues []float64

	// HasAnyHistory reports whether the actor appears in the store at
	// all. A brand-new actor with zero rows still gets the absolute
	// ceiling fallback.
	HasAnyHistory bool
}

// Detector evaluates anomaly rules against an event and its history
// snapshot.
type Detector struct {
	thresholds Thresholds
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(thresholds Thresholds) *Detector {
	return &Detector{thresholds: thresholds}
}

// Analyze returns every anomaly tag that applies to the event. It is
// pure: same event and history always produce the same tags. Rules
// never fire on missing or zero data.
func (d *Detector) Analyze(event *models.Event, history History) []models.AnomalyTag {
	var tags []models.AnomalyTag

	if d.isRoleBuy(event) {
		tags = append(tags, models.AnomalyRoleBuy)
	}
	if d.isClusterBuy(event, history) {
		tags = append(tags, models.AnomalyClusterBuy)
	}
	if d.isFirstPurchaseInYears(event, history) {
		tags = append(tags, models.AnomalyFirstPurchaseInYears)
	}
	if d.isUnusuallyLarge(event, history) {
		tags = append(tags, models.AnomalyUnusuallyLarge)
	}

	return tags
}

// isRoleBuy fires when an executive or founder purchases shares.
func (d *Detector) isRoleBuy(event *models.Event) bool {
	return event.IsPurchase() && event.ExecutiveRole()
}

// isClusterBuy fires when enough distinct actors at the same entity
// purchased within the trailing window. The event's own actor counts
// toward the threshold.
func (d *Detector) isClusterBuy(event *models.Event, history History) bool {
	if !event.IsPurchase() {
		return false
	}

	distinct := make(map[string]bool, len(history.RecentPurchaserCIKs))
	for _, cik := range history.RecentPurchaserCIKs {
		if cik != "" && cik != event.ActorCIK {
			distinct[cik] = true
		}
	}

	return len(distinct)+1 >= d.thresholds.ClusterMinActors
}

// isFirstPurchaseInYears fires when the actor has purchased at this
// entity before, but not inside the trailing window before this
// event's date. A first-ever purchase carries no dormancy signal, so
// empty history does not fire.
func (d *Detector) isFirstPurchaseInYears(event *models.Event, history History) bool {
	if !event.IsPurchase() || event.TransactionDate.IsZero() {
		return false
	}

	cutoff := event.TransactionDate.Add(-d.thresholds.FirstPurchaseWindow)
	sawPrior := false
	for _, date := range history.PriorPurchaseDates {
		if date.IsZero() || !date.Before(event.TransactionDate) {
			continue
		}
		if date.After(cutoff) {
			return false
		}
		sawPrior = true
	}
	return sawPrior
}

// isUnusuallyLarge fires when the transaction dwarfs the actor's own
// trailing average, or exceeds the absolute ceiling when too little
// history exists to form an average.
func (d *Detector) isUnusuallyLarge(event *models.Event, history History) bool {
	if event.TotalValue <= 0 {
		return false
	}

	values := make([]float64, 0, len(history.PriorValues))
	for _, v := range history.PriorValues {
		if v > 0 {
			values = append(values, v)
		}
	}

	if len(values) < d.thresholds.MinHistorySamples {
		return event.TotalValue >= d.thresholds.AbsoluteLargeCeiling
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	avg := sum / float64(len(values))
	if avg <= 0 {
		return event.TotalValue >= d.thresholds.AbsoluteLargeCeiling
	}

	return event.TotalValue >= avg*d.thresholds.RelativeSizeMultiplier
}

// BuildHistory assembles the detector's history snapshot from the
// store. Query failures degrade to an empty snapshot rather than
// blocking detection; a partial view only suppresses tags, never
// corrupts them.
func BuildHistory(ctx context.Context, st store.EventStore, event *models.Event, thresholds Thresholds) History {
	var history History

	if event.Ticker != "" && !event.TransactionDate.IsZero() {
		since := event.TransactionDate.Add(-thresholds.ClusterWindow)
		if recent, err := st.RecentEntityPurchases(ctx, event.Ticker, since); err == nil {
			for _, r := range recent {
				if r.ID == event.ID {
					continue
				}
				history.RecentPurchaserCIKs = append(history.RecentPurchaserCIKs, r.ActorCIK)
			}
		}
	}

	if event.ActorCIK != "" {
		if prior, err := st.ActorEntityHistory(ctx, event.ActorCIK, event.Ticker, 50); err == nil {
			for _, p := range prior {
				if p.ID == event.ID {
					continue
				}
				history.HasAnyHistory = true
				if p.IsPurchase() && !p.TransactionDate.IsZero() {
					history.PriorPurchaseDates = append(history.PriorPurchaseDates, p.TransactionDate)
				}
			}
		}

		if values, err := st.ActorTransactionValues(ctx, event.ActorCIK, event.TransactionType, event.ID, 20); err == nil {
			history.PriorValues = values
			if len(values) > 0 {
				history.HasAnyHistory = true
			}
		}
	}

	return history
}
