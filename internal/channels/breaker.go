package channels

import (
	"context"

	apperrors "smartmoney-alerts/internal/errors"
	"smartmoney-alerts/internal/resilience"
)

// BreakerChannel wraps a channel with a circuit breaker. While the
// breaker is open, deliveries fast-fail with a transient error so the
// dispatcher reschedules them without burning an HTTP call on an
// endpoint that keeps failing.
type BreakerChannel struct {
	inner   Channel
	breaker *resilience.Breaker
}

// NewBreakerChannel wraps a channel with the given breaker.
func NewBreakerChannel(inner Channel, breaker *resilience.Breaker) *BreakerChannel {
	return &BreakerChannel{inner: inner, breaker: breaker}
}

// Name returns the wrapped channel's identifier.
func (b *BreakerChannel) Name() string {
	return b.inner.Name()
}

// Deliver forwards to the wrapped channel when the breaker admits the
// attempt. Auth failures and rejections count against the breaker too;
// a misconfigured endpoint fails everything it is sent.
func (b *BreakerChannel) Deliver(ctx context.Context, msg Message) (string, error) {
	if !b.breaker.Allow() {
		return "", apperrors.NewChannelError(b.Name(), apperrors.ChannelTransient,
			"channel suspended after repeated failures", nil)
	}

	id, err := b.inner.Deliver(ctx, msg)
	if err != nil {
		b.breaker.RecordFailure()
		return "", err
	}
	b.breaker.RecordSuccess()
	return id, nil
}

// BreakerStats exposes the underlying breaker counters.
func (b *BreakerChannel) BreakerStats() resilience.BreakerStats {
	return b.breaker.Stats()
}
