// Package ratelimit provides per-channel token buckets gating
// outbound delivery.
package ratelimit

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"smartmoney-alerts/internal/config"
)

// ChannelStatus is a point-in-time view of one channel's bucket.
type ChannelStatus struct {
	Channel   string
	Capacity  int
	Available int
}

// Registry holds one token bucket per configured channel. Buckets are
// independent; exhausting one channel never blocks another.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	caps     map[string]int
}

// NewRegistry builds buckets for every enabled channel. A channel
// posting N messages per interval refills at N/interval and bursts up
// to N.
func NewRegistry(channels map[string]config.ChannelConfig) *Registry {
	r := &Registry{
		limiters: make(map[string]*rate.Limiter),
		caps:     make(map[string]int),
	}

	for name, cfg := range channels {
		if !cfg.Enabled {
			continue
		}
		r.add(name, cfg.RateCapacity, cfg.RateInterval)
	}

	return r
}

func (r *Registry) add(channel string, capacity int, interval time.Duration) {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Hour
	}

	refill := rate.Limit(float64(capacity) / interval.Seconds())
	r.limiters[channel] = rate.NewLimiter(refill, capacity)
	r.caps[channel] = capacity
}

// TryAcquire consumes one token from the channel's bucket without
// blocking. Unknown channels are always denied.
func (r *Registry) TryAcquire(channel string) bool {
	r.mu.RLock()
	limiter, ok := r.limiters[channel]
	r.mu.RUnlock()

	if !ok {
		return false
	}
	return limiter.Allow()
}

// Status reports the current token availability per channel, sorted
// by channel name.
func (r *Registry) Status() []ChannelStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]ChannelStatus, 0, len(r.limiters))
	for name, limiter := range r.limiters {
		statuses = append(statuses, ChannelStatus{
			Channel:   name,
			Capacity:  r.caps[name],
			Available: int(limiter.Tokens()),
		})
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Channel < statuses[j].Channel
	})
	return statuses
}

// Channels returns the registered channel names, sorted.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.limiters))
	for name := range r.limiters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
