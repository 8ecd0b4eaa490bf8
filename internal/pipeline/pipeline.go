// Package pipeline coordinates ingestion, detection, scoring, and
// delivery scheduling.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"smartmoney-alerts/internal/analyzer"
	"smartmoney-alerts/internal/config"
	"smartmoney-alerts/internal/dispatch"
	apperrors "smartmoney-alerts/internal/errors"
	"smartmoney-alerts/internal/models"
	"smartmoney-alerts/internal/scoring"
	"smartmoney-alerts/internal/store"
)

// Pipeline wires the processing stages together. The store is the
// only shared state between stages.
type Pipeline struct {
	store     store.EventStore
	detector  *analyzer.Detector
	scorer    *scoring.Scorer
	scheduler *dispatch.Scheduler
	cfg       *config.Config
	logger    zerolog.Logger
}

// New creates a pipeline.
func New(st store.EventStore, detector *analyzer.Detector, scorer *scoring.Scorer, scheduler *dispatch.Scheduler, cfg *config.Config, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		store:     st,
		detector:  detector,
		scorer:    scorer,
		scheduler: scheduler,
		cfg:       cfg,
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}
}

// IngestResult summarizes one ingestion batch.
type IngestResult struct {
	Ingested     int
	Duplicates   int
	Rejected     int
	TasksCreated int

	// Per-record failures, index-aligned with nothing; purely
	// informational.
	Errors []error
}

// IngestBatch validates, stores, analyzes, scores, and schedules a
// batch of raw scraper records. A malformed record is rejected and
// reported without aborting the rest of the batch.
func (p *Pipeline) IngestBatch(ctx context.Context, records []models.RawEvent) (*IngestResult, error) {
	result := &IngestResult{}

	for i := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		event, err := p.convert(&records[i])
		if err != nil {
			result.Rejected++
			result.Errors = append(result.Errors, err)
			p.logger.Warn().Err(err).
				Str("external_id", records[i].ExternalID).
				Msg("Record rejected")
			continue
		}

		id, isNew, err := p.store.UpsertEvent(ctx, event)
		if err != nil {
			var vErr *apperrors.ValidationError
			if apperrors.As(err, &vErr) {
				result.Rejected++
				result.Errors = append(result.Errors, err)
				continue
			}
			// Storage failure aborts this record only; the batch
			// resumes on the next scheduling pass.
			result.Errors = append(result.Errors, err)
			p.logger.Error().Err(err).
				Str("external_id", event.ExternalID).
				Msg("Failed to store event")
			continue
		}

		if !isNew {
			result.Duplicates++
			continue
		}
		result.Ingested++
		event.ID = id

		tasks, err := p.processEvent(ctx, event)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		result.TasksCreated += tasks
	}

	p.logger.Info().
		Int("ingested", result.Ingested).
		Int("duplicates", result.Duplicates).
		Int("rejected", result.Rejected).
		Int("tasks", result.TasksCreated).
		Msg("Batch ingested")

	return result, nil
}

// processEvent runs detection, scoring, and scheduling for one stored
// event. Returns the number of delivery tasks created.
func (p *Pipeline) processEvent(ctx context.Context, event *models.Event) (int, error) {
	thresholds := analyzer.ThresholdsFromConfig(p.cfg.Detector)
	history := analyzer.BuildHistory(ctx, p.store, event, thresholds)

	tags := p.detector.Analyze(event, history)
	if err := p.store.SetAnomalies(ctx, event.ID, tags); err != nil {
		return 0, err
	}
	event.Anomalies = tags

	breakdown := p.scorer.ScoreBreakdown(event)
	tier := scoring.TierFor(breakdown.Total)
	if err := p.store.RecordScore(ctx, event.ID, breakdown.Total, tier); err != nil {
		return 0, err
	}
	event.Score = &breakdown.Total
	event.Tier = tier

	p.logger.Debug().
		Int64("event_id", event.ID).
		Str("ticker", event.Ticker).
		Int("score", breakdown.Total).
		Int("tier", int(tier)).
		Strs("anomalies", tagStrings(tags)).
		Msg("Event scored")

	return p.scheduler.Schedule(ctx, event)
}

// RescoreUnscored processes events that were stored but never scored,
// for example after a crash between upsert and scoring. Detection on
// unchanged facts is deterministic, so re-running is safe.
func (p *Pipeline) RescoreUnscored(ctx context.Context, limit int) (int, error) {
	events, err := p.store.ListUnscored(ctx, limit)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range events {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if _, err := p.processEvent(ctx, &events[i]); err != nil {
			p.logger.Error().Err(err).
				Int64("event_id", events[i].ID).
				Msg("Rescore failed")
			continue
		}
		processed++
	}

	return processed, nil
}

// ScheduleUnposted creates delivery tasks for scored events that have
// none yet, for example after a crash or storage error between scoring
// and scheduling. Task creation is idempotent, so re-running is safe;
// events the tier and value-band policy excludes create no tasks.
func (p *Pipeline) ScheduleUnposted(ctx context.Context, limit int) (int, error) {
	seen := make(map[int64]bool)
	created := 0

	for _, channel := range p.cfg.EnabledChannels() {
		events, err := p.store.ListScoredUnposted(ctx, channel, limit)
		if err != nil {
			return created, err
		}
		for i := range events {
			if err := ctx.Err(); err != nil {
				return created, err
			}
			if seen[events[i].ID] {
				continue
			}
			seen[events[i].ID] = true

			n, err := p.scheduler.Schedule(ctx, &events[i])
			if err != nil {
				p.logger.Error().Err(err).
					Int64("event_id", events[i].ID).
					Msg("Task recovery failed")
				continue
			}
			created += n
		}
	}

	return created, nil
}

// WriteRollup derives and persists the daily rollup for a calendar
// day (YYYY-MM-DD). Returns the rollup and whether this call wrote
// it; the artifact is written at most once per day.
func (p *Pipeline) WriteRollup(ctx context.Context, date string) (*models.DailyRollup, bool, error) {
	rollup, err := p.store.BuildDailyRollup(ctx, date)
	if err != nil {
		return nil, false, err
	}

	wrote, err := p.store.WriteDailyRollup(ctx, rollup)
	if err != nil {
		return nil, false, err
	}

	if wrote {
		p.logger.Info().
			Str("date", date).
			Int("roundup_events", rollup.RoundupEvents).
			Msg("Daily rollup written")
	}
	return rollup, wrote, nil
}

// Run drives the long-running stages concurrently: periodic dispatch,
// recovery of unscored and unscheduled events, and the daily rollup. It blocks until the
// context is cancelled and all stages have drained.
func (p *Pipeline) Run(ctx context.Context, dispatcher *dispatch.Dispatcher, dispatchInterval time.Duration) error {
	// Tasks abandoned in-flight by a previous process resume as
	// pending.
	released, err := p.store.ReleaseStaleInFlight(ctx)
	if err != nil {
		return err
	}
	if released > 0 {
		p.logger.Info().Int64("count", released).Msg("Released stale in-flight tasks")
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx, dispatchInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.runRescoreLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.runRollupLoop(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (p *Pipeline) runRescoreLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := p.RescoreUnscored(ctx, 100); err == nil && n > 0 {
				p.logger.Info().Int("count", n).Msg("Recovered unscored events")
			}
			if n, err := p.ScheduleUnposted(ctx, 100); err == nil && n > 0 {
				p.logger.Info().Int("count", n).Msg("Scheduled stranded scored events")
			}
		}
	}
}

func (p *Pipeline) runRollupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Write yesterday's rollup once all of its events have
			// settled.
			yesterday := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
			if _, _, err := p.WriteRollup(ctx, yesterday); err != nil {
				p.logger.Error().Err(err).Msg("Rollup failed")
			}
		}
	}
}

// convert validates a raw scraper record and builds the domain event.
func (p *Pipeline) convert(raw *models.RawEvent) (*models.Event, error) {
	kind := models.SourceKind(strings.ToLower(strings.TrimSpace(raw.SourceKind)))
	if !kind.Valid() {
		return nil, apperrors.NewValidationError("source_kind", raw.SourceKind, "unknown source kind")
	}
	if strings.TrimSpace(raw.ExternalID) == "" {
		return nil, apperrors.NewValidationError("external_id", raw.ExternalID, "must not be empty")
	}
	if strings.TrimSpace(raw.Ticker) == "" {
		return nil, apperrors.NewValidationError("ticker", raw.Ticker, "must not be empty")
	}

	txnType := models.TransactionType(strings.ToUpper(strings.TrimSpace(raw.TransactionType)))
	switch txnType {
	case models.TxnPurchase, models.TxnSale, models.TxnOther:
	case "":
		txnType = models.TxnOther
	default:
		return nil, apperrors.NewValidationError("transaction_type", raw.TransactionType, "unknown transaction type")
	}

	event := &models.Event{
		SourceKind:        kind,
		ExternalID:        strings.TrimSpace(raw.ExternalID),
		Ticker:            strings.ToUpper(strings.TrimSpace(raw.Ticker)),
		Company:           raw.Company,
		ActorName:         raw.ActorName,
		ActorCIK:          raw.ActorCIK,
		ActorRole:         raw.ActorRole,
		IsDirector:        raw.IsDirector,
		IsOfficer:         raw.IsOfficer,
		IsTenPercentOwner: raw.IsTenPctOwner,
		TransactionType:   txnType,
		Shares:            raw.Shares,
		PricePerShare:     raw.PricePerShare,
		TotalValue:        raw.TotalValue,
		Extra:             raw.Extra,
	}

	// Malformed dates are unknown data, not rejections.
	if raw.TransactionDate != "" {
		if date, err := time.Parse("2006-01-02", raw.TransactionDate); err == nil {
			event.TransactionDate = date
		}
	}

	// Derive the total when the feed omits it.
	if event.TotalValue == 0 && event.Shares > 0 && event.PricePerShare > 0 {
		event.TotalValue = float64(event.Shares) * event.PricePerShare
	}
	if event.TotalValue < 0 {
		return nil, apperrors.NewValidationError("total_value", event.TotalValue, "must not be negative")
	}

	return event, nil
}

func tagStrings(tags []models.AnomalyTag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = string(t)
	}
	return out
}
