// Package dispatch schedules and delivers per-channel posting tasks.
package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"smartmoney-alerts/internal/config"
	"smartmoney-alerts/internal/models"
	"smartmoney-alerts/internal/store"
)

// Scheduler creates delivery tasks for scored events according to
// their tier.
type Scheduler struct {
	store    store.EventStore
	cfg      config.SchedulerConfig
	channels []string
	logger   zerolog.Logger
}

// NewScheduler creates a scheduler posting to the given channels.
func NewScheduler(st store.EventStore, cfg config.SchedulerConfig, channels []string, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:    st,
		cfg:      cfg,
		channels: channels,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// Schedule creates one pending task per enabled channel for a scored
// event. Existing tasks are left untouched, so re-scoring an event
// never duplicates deliveries. Returns the number of tasks created.
//
// Tier 4 events and events outside the dispatchable value band get no
// tasks; they surface only in the daily rollup.
func (s *Scheduler) Schedule(ctx context.Context, event *models.Event) (int, error) {
	if !s.dispatchable(event) {
		return 0, nil
	}

	scheduledAt := s.scheduledAt(event.Tier, time.Now().UTC())

	created := 0
	for _, channel := range s.channels {
		task := &models.DeliveryTask{
			EventID:     event.ID,
			Channel:     channel,
			Status:      models.TaskPending,
			ScheduledAt: scheduledAt,
		}

		isNew, err := s.store.UpsertDeliveryTask(ctx, task)
		if err != nil {
			return created, err
		}
		if isNew {
			created++
			s.logger.Debug().
				Int64("event_id", event.ID).
				Str("channel", channel).
				Int("tier", int(event.Tier)).
				Time("scheduled_at", scheduledAt).
				Msg("Delivery task created")
		}
	}

	return created, nil
}

// dispatchable reports whether the event qualifies for individual
// posting.
func (s *Scheduler) dispatchable(event *models.Event) bool {
	if event.Tier == models.TierNone || event.Tier == models.Tier4 {
		return false
	}
	if s.cfg.MinTransactionValue > 0 && event.TotalValue < s.cfg.MinTransactionValue {
		return false
	}
	if s.cfg.MaxTransactionValue > 0 && event.TotalValue > s.cfg.MaxTransactionValue {
		return false
	}
	return true
}

// scheduledAt computes the task eligibility time for a tier.
//
// Tier 1 is eligible immediately. Tier 2 is deferred toward the next
// batch boundary, capped at the configured maximum delay. Tier 3
// waits for the next batch boundary.
func (s *Scheduler) scheduledAt(tier models.Tier, now time.Time) time.Time {
	switch tier {
	case models.Tier1:
		return now
	case models.Tier2:
		deferral := s.nextBatchBoundary(now).Sub(now)
		if deferral > s.cfg.Tier2MaxDelay {
			deferral = s.cfg.Tier2MaxDelay
		}
		if deferral < 0 {
			deferral = 0
		}
		return now.Add(deferral)
	case models.Tier3:
		return s.nextBatchBoundary(now)
	default:
		return now
	}
}

// nextBatchBoundary returns the next tier-3 batch window edge after
// now.
func (s *Scheduler) nextBatchBoundary(now time.Time) time.Time {
	window := s.cfg.Tier3BatchWindow
	if window <= 0 {
		return now
	}
	return now.Truncate(window).Add(window)
}
