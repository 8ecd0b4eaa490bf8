// Package channels provides outbound delivery adapters.
package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"smartmoney-alerts/internal/config"
	apperrors "smartmoney-alerts/internal/errors"
	"smartmoney-alerts/internal/resilience"
)

// Message is a fully rendered delivery payload. Adapters transmit it
// verbatim; rendering happens upstream.
type Message struct {
	EventID int64
	Text    string
	Tags    []string
}

// Channel is an outbound delivery destination. Deliver returns an
// opaque message id on success, or a *apperrors.ChannelError that the
// dispatcher classifies as retriable or terminal.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, msg Message) (string, error)
}

// WebhookChannel posts messages to an HTTP endpoint.
type WebhookChannel struct {
	name   string
	url    string
	client *http.Client
}

// NewWebhookChannel creates a webhook-backed channel.
func NewWebhookChannel(name string, cfg config.ChannelConfig) *WebhookChannel {
	return &WebhookChannel{
		name: name,
		url:  cfg.WebhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the channel identifier.
func (w *WebhookChannel) Name() string {
	return w.name
}

// Deliver posts the message as JSON. HTTP status codes map to the
// delivery error taxonomy: 429 is rate limited, 401/403 are auth
// failures, other 4xx are rejections, 5xx and transport errors are
// transient.
func (w *WebhookChannel) Deliver(ctx context.Context, msg Message) (string, error) {
	payload := map[string]interface{}{
		"event_id":  msg.EventID,
		"text":      msg.Text,
		"tags":      msg.Tags,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", apperrors.NewChannelError(w.name, apperrors.ChannelRejected, "marshaling payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return "", apperrors.NewChannelError(w.name, apperrors.ChannelRejected, "creating request", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "SmartMoneyAlerts/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", apperrors.NewChannelError(w.name, apperrors.ChannelTransient, "sending request", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return w.messageID(resp.Body), nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", apperrors.NewChannelError(w.name, apperrors.ChannelRateLimited,
			fmt.Sprintf("status %d", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", apperrors.NewChannelError(w.name, apperrors.ChannelAuthFailure,
			fmt.Sprintf("status %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", apperrors.NewChannelError(w.name, apperrors.ChannelRejected,
			fmt.Sprintf("status %d", resp.StatusCode), nil)
	default:
		return "", apperrors.NewChannelError(w.name, apperrors.ChannelTransient,
			fmt.Sprintf("status %d", resp.StatusCode), nil)
	}
}

// messageID extracts the endpoint's message id from the response body
// when one is provided, falling back to a locally generated id.
func (w *WebhookChannel) messageID(body io.Reader) string {
	var reply struct {
		MessageID string `json:"message_id"`
		ID        string `json:"id"`
	}
	if err := json.NewDecoder(io.LimitReader(body, 4096)).Decode(&reply); err == nil {
		if reply.MessageID != "" {
			return reply.MessageID
		}
		if reply.ID != "" {
			return reply.ID
		}
	}
	return uuid.NewString()
}

// NopChannel accepts every delivery without transmitting anything.
// Used in dry-run mode.
type NopChannel struct {
	name string
}

// NewNopChannel creates a no-op channel.
func NewNopChannel(name string) *NopChannel {
	return &NopChannel{name: name}
}

// Name returns the channel identifier.
func (n *NopChannel) Name() string {
	return n.name
}

// Deliver succeeds immediately with a generated message id.
func (n *NopChannel) Deliver(ctx context.Context, msg Message) (string, error) {
	return "dry-run-" + uuid.NewString(), nil
}

// BuildChannels constructs an adapter per enabled channel. In dry-run
// mode every channel is a NopChannel; real webhook channels are
// wrapped with a circuit breaker.
func BuildChannels(cfg *config.Config) map[string]Channel {
	adapters := make(map[string]Channel)
	for name, ch := range cfg.Channels {
		if !ch.Enabled {
			continue
		}
		if cfg.DryRun || ch.WebhookURL == "" {
			adapters[name] = NewNopChannel(name)
		} else {
			adapters[name] = NewBreakerChannel(
				NewWebhookChannel(name, ch),
				resilience.NewBreaker(resilience.DefaultBreakerConfig()),
			)
		}
	}
	return adapters
}
