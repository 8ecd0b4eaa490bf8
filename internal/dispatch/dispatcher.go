package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"smartmoney-alerts/internal/channels"
	"smartmoney-alerts/internal/config"
	apperrors "smartmoney-alerts/internal/errors"
	"smartmoney-alerts/internal/models"
	"smartmoney-alerts/internal/ratelimit"
	"smartmoney-alerts/internal/store"
	"smartmoney-alerts/pkg/utils"
)

const backoffFactor = 2.0

// Dispatcher drains due delivery tasks through channel adapters.
type Dispatcher struct {
	store    store.EventStore
	registry *ratelimit.Registry
	adapters map[string]channels.Channel
	cfg      config.SchedulerConfig
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher over the given channel adapters.
func NewDispatcher(st store.EventStore, registry *ratelimit.Registry, adapters map[string]channels.Channel, cfg config.SchedulerConfig, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    st,
		registry: registry,
		adapters: adapters,
		cfg:      cfg,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Result summarizes one dispatch pass.
type Result struct {
	Sent        int
	Rescheduled int
	Failed      int
}

// DispatchOnce runs a single pass over every channel, delivering due
// tasks oldest first until the channel runs out of work, tokens, or
// the context is cancelled.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (Result, error) {
	var result Result

	for _, name := range d.registry.Channels() {
		adapter, ok := d.adapters[name]
		if !ok {
			continue
		}

		for {
			if err := ctx.Err(); err != nil {
				return result, err
			}

			outcome, err := d.dispatchNext(ctx, name, adapter)
			if err != nil {
				return result, err
			}
			if outcome == outcomeIdle {
				break
			}

			switch outcome {
			case outcomeSent:
				result.Sent++
			case outcomeRescheduled:
				result.Rescheduled++
			case outcomeFailed:
				result.Failed++
			}
		}
	}

	return result, nil
}

type outcome int

const (
	outcomeIdle outcome = iota
	outcomeSent
	outcomeRescheduled
	outcomeFailed
)

// dispatchNext claims and delivers the oldest due task on one
// channel. The delivery call runs after the claim transaction
// completes; no store lock is held across network I/O.
func (d *Dispatcher) dispatchNext(ctx context.Context, channel string, adapter channels.Channel) (outcome, error) {
	now := time.Now().UTC()
	claimToken := uuid.NewString()

	task, err := d.store.ClaimDueTask(ctx, channel, now, claimToken)
	if err != nil {
		return outcomeIdle, err
	}
	if task == nil {
		return outcomeIdle, nil
	}

	if !d.registry.TryAcquire(channel) {
		// Out of tokens; the task stays pending for a later pass.
		if err := d.store.ReleaseTask(ctx, task.ID, claimToken); err != nil {
			return outcomeIdle, err
		}
		return outcomeIdle, nil
	}

	event, err := d.store.GetEvent(ctx, task.EventID)
	if err != nil {
		// Without the event the task can never render; terminal.
		if markErr := d.store.MarkTaskFailed(ctx, task.ID, claimToken, "event not found"); markErr != nil {
			return outcomeIdle, markErr
		}
		return outcomeFailed, nil
	}

	msg := channels.RendererFor(channel)(event)
	messageID, deliverErr := adapter.Deliver(ctx, msg)

	if deliverErr == nil {
		if err := d.store.MarkTaskSent(ctx, task.ID, claimToken, messageID, time.Now().UTC()); err != nil {
			return outcomeIdle, err
		}
		d.logger.Info().
			Int64("event_id", task.EventID).
			Str("channel", channel).
			Str("message_id", messageID).
			Int("attempt", task.Attempts+1).
			Msg("Delivered")
		return outcomeSent, nil
	}

	return d.resolveFailure(ctx, task, claimToken, deliverErr)
}

// resolveFailure classifies a delivery error and transitions the task
// accordingly. Retriable errors reschedule with capped exponential
// backoff until the attempt budget runs out.
func (d *Dispatcher) resolveFailure(ctx context.Context, task *models.DeliveryTask, claimToken string, deliverErr error) (outcome, error) {
	attempts := task.Attempts + 1
	retriable := false

	var chErr *apperrors.ChannelError
	if apperrors.As(deliverErr, &chErr) {
		retriable = chErr.Retriable()
	}

	if retriable && attempts < d.cfg.MaxAttempts {
		backoff := utils.CalculateBackoff(attempts-1, d.cfg.BackoffInitial, d.cfg.BackoffMax, backoffFactor)
		retryAt := time.Now().UTC().Add(backoff)

		if err := d.store.RescheduleTask(ctx, task.ID, claimToken, retryAt, deliverErr.Error()); err != nil {
			return outcomeIdle, err
		}
		d.logger.Warn().
			Int64("event_id", task.EventID).
			Str("channel", task.Channel).
			Int("attempt", attempts).
			Dur("backoff", backoff).
			Err(deliverErr).
			Msg("Delivery rescheduled")
		return outcomeRescheduled, nil
	}

	if err := d.store.MarkTaskFailed(ctx, task.ID, claimToken, deliverErr.Error()); err != nil {
		return outcomeIdle, err
	}
	d.logger.Error().
		Int64("event_id", task.EventID).
		Str("channel", task.Channel).
		Int("attempt", attempts).
		Err(deliverErr).
		Msg("Delivery failed permanently")
	return outcomeFailed, nil
}

// Run drives dispatch passes on a fixed interval until the context is
// cancelled. In-flight deliveries finish before returning.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error().Err(err).Msg("Dispatch pass failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
