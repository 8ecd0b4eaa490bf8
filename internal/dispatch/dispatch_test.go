package dispatch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"smartmoney-alerts/internal/channels"
	"smartmoney-alerts/internal/config"
	apperrors "smartmoney-alerts/internal/errors"
	"smartmoney-alerts/internal/models"
	"smartmoney-alerts/internal/ratelimit"
	"smartmoney-alerts/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "dispatch.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func schedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Tier2MaxDelay:       time.Hour,
		Tier3BatchWindow:    4 * time.Hour,
		MaxAttempts:         5,
		BackoffInitial:      time.Minute,
		BackoffMax:          time.Hour,
		MinTransactionValue: 10_000,
		MaxTransactionValue: 500_000_000,
	}
}

func storedEvent(t *testing.T, st *store.SQLiteStore, externalID string, value float64, tier models.Tier) *models.Event {
	t.Helper()
	ctx := context.Background()

	event := &models.Event{
		SourceKind:      models.SourceInsider,
		ExternalID:      externalID,
		Ticker:          "AAPL",
		ActorName:       "Jane Doe",
		ActorRole:       "CEO",
		TransactionType: models.TxnPurchase,
		TotalValue:      value,
	}
	id, _, err := st.UpsertEvent(ctx, event)
	if err != nil {
		t.Fatalf("UpsertEvent failed: %v", err)
	}
	score := 80
	if err := st.RecordScore(ctx, id, score, tier); err != nil {
		t.Fatalf("RecordScore failed: %v", err)
	}
	event.ID = id
	event.Score = &score
	event.Tier = tier
	return event
}

// fakeChannel records deliveries and returns scripted errors.
type fakeChannel struct {
	name      string
	delivered []channels.Message
	errs      []error
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Deliver(ctx context.Context, msg channels.Message) (string, error) {
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	f.delivered = append(f.delivered, msg)
	return "msg-123", nil
}

func TestScheduler_TierPolicy(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sched := NewScheduler(st, schedulerConfig(), []string{"twitter", "discord"}, zerolog.Nop())

	// Tier 1: one task per channel, eligible now.
	event := storedEvent(t, st, "tier1", 60_000_000, models.Tier1)
	created, err := sched.Schedule(ctx, event)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if created != 2 {
		t.Errorf("created %d tasks, want 2", created)
	}

	task, err := st.GetDeliveryTask(ctx, event.ID, "twitter")
	if err != nil {
		t.Fatalf("GetDeliveryTask failed: %v", err)
	}
	if task.ScheduledAt.After(time.Now().UTC().Add(time.Second)) {
		t.Errorf("tier 1 task scheduled in the future: %v", task.ScheduledAt)
	}

	// Rescheduling the same event creates nothing.
	created, err = sched.Schedule(ctx, event)
	if err != nil {
		t.Fatalf("re-Schedule failed: %v", err)
	}
	if created != 0 {
		t.Errorf("re-scheduling created %d tasks, want 0", created)
	}

	// Tier 3: deferred to the next batch boundary.
	event3 := storedEvent(t, st, "tier3", 200_000, models.Tier3)
	if _, err := sched.Schedule(ctx, event3); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	task3, err := st.GetDeliveryTask(ctx, event3.ID, "twitter")
	if err != nil {
		t.Fatalf("GetDeliveryTask failed: %v", err)
	}
	if !task3.ScheduledAt.After(time.Now().UTC()) {
		t.Errorf("tier 3 task eligible immediately: %v", task3.ScheduledAt)
	}

	// Tier 4: no tasks at all.
	event4 := storedEvent(t, st, "tier4", 50_000, models.Tier4)
	created, err = sched.Schedule(ctx, event4)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if created != 0 {
		t.Errorf("tier 4 created %d tasks, want 0", created)
	}
}

func TestScheduler_ValueBand(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sched := NewScheduler(st, schedulerConfig(), []string{"twitter"}, zerolog.Nop())

	// Below the dispatch floor.
	small := storedEvent(t, st, "small", 5_000, models.Tier1)
	if created, _ := sched.Schedule(ctx, small); created != 0 {
		t.Errorf("sub-minimum event created %d tasks", created)
	}

	// Above the ceiling (likely a data error).
	huge := storedEvent(t, st, "huge", 900_000_000, models.Tier1)
	if created, _ := sched.Schedule(ctx, huge); created != 0 {
		t.Errorf("over-maximum event created %d tasks", created)
	}
}

func TestDispatcher_DeliversAndMarksSent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	cfg := schedulerConfig()

	event := storedEvent(t, st, "deliver-1", 60_000_000, models.Tier1)
	sched := NewScheduler(st, cfg, []string{"twitter"}, zerolog.Nop())
	if _, err := sched.Schedule(ctx, event); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	registry := ratelimit.NewRegistry(map[string]config.ChannelConfig{
		"twitter": {Enabled: true, RateCapacity: 10, RateInterval: time.Hour},
	})
	adapter := &fakeChannel{name: "twitter"}
	d := NewDispatcher(st, registry, map[string]channels.Channel{"twitter": adapter}, cfg, zerolog.Nop())

	result, err := d.DispatchOnce(ctx)
	if err != nil {
		t.Fatalf("DispatchOnce failed: %v", err)
	}
	if result.Sent != 1 {
		t.Errorf("sent = %d, want 1", result.Sent)
	}
	if len(adapter.delivered) != 1 {
		t.Fatalf("adapter received %d messages, want 1", len(adapter.delivered))
	}
	if adapter.delivered[0].EventID != event.ID {
		t.Errorf("delivered event %d, want %d", adapter.delivered[0].EventID, event.ID)
	}

	task, err := st.GetDeliveryTask(ctx, event.ID, "twitter")
	if err != nil {
		t.Fatalf("GetDeliveryTask failed: %v", err)
	}
	if task.Status != models.TaskSent {
		t.Errorf("status = %s, want sent", task.Status)
	}
	if task.MessageID != "msg-123" {
		t.Errorf("message id = %q, want msg-123", task.MessageID)
	}

	// A second pass finds nothing to do.
	result, err = d.DispatchOnce(ctx)
	if err != nil {
		t.Fatalf("second DispatchOnce failed: %v", err)
	}
	if result.Sent != 0 {
		t.Errorf("second pass sent %d, want 0", result.Sent)
	}
}

func TestDispatcher_RetriableErrorBacksOff(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	cfg := schedulerConfig()

	event := storedEvent(t, st, "retry-1", 60_000_000, models.Tier1)
	sched := NewScheduler(st, cfg, []string{"twitter"}, zerolog.Nop())
	if _, err := sched.Schedule(ctx, event); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	registry := ratelimit.NewRegistry(map[string]config.ChannelConfig{
		"twitter": {Enabled: true, RateCapacity: 10, RateInterval: time.Hour},
	})
	adapter := &fakeChannel{
		name: "twitter",
		errs: []error{apperrors.NewChannelError("twitter", apperrors.ChannelTransient, "status 503", nil)},
	}
	d := NewDispatcher(st, registry, map[string]channels.Channel{"twitter": adapter}, cfg, zerolog.Nop())

	result, err := d.DispatchOnce(ctx)
	if err != nil {
		t.Fatalf("DispatchOnce failed: %v", err)
	}
	if result.Rescheduled != 1 {
		t.Errorf("rescheduled = %d, want 1", result.Rescheduled)
	}

	task, err := st.GetDeliveryTask(ctx, event.ID, "twitter")
	if err != nil {
		t.Fatalf("GetDeliveryTask failed: %v", err)
	}
	if task.Status != models.TaskPending {
		t.Errorf("status = %s, want pending", task.Status)
	}
	if task.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", task.Attempts)
	}
	if !task.ScheduledAt.After(time.Now().UTC()) {
		t.Errorf("retry not backed off: %v", task.ScheduledAt)
	}
}

func TestDispatcher_TerminalErrorFailsTask(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	cfg := schedulerConfig()

	event := storedEvent(t, st, "auth-1", 60_000_000, models.Tier1)
	sched := NewScheduler(st, cfg, []string{"twitter"}, zerolog.Nop())
	if _, err := sched.Schedule(ctx, event); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	registry := ratelimit.NewRegistry(map[string]config.ChannelConfig{
		"twitter": {Enabled: true, RateCapacity: 10, RateInterval: time.Hour},
	})
	adapter := &fakeChannel{
		name: "twitter",
		errs: []error{apperrors.NewChannelError("twitter", apperrors.ChannelAuthFailure, "status 401", nil)},
	}
	d := NewDispatcher(st, registry, map[string]channels.Channel{"twitter": adapter}, cfg, zerolog.Nop())

	result, err := d.DispatchOnce(ctx)
	if err != nil {
		t.Fatalf("DispatchOnce failed: %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("failed = %d, want 1", result.Failed)
	}

	task, err := st.GetDeliveryTask(ctx, event.ID, "twitter")
	if err != nil {
		t.Fatalf("GetDeliveryTask failed: %v", err)
	}
	if task.Status != models.TaskFailed {
		t.Errorf("status = %s, want failed", task.Status)
	}

	failed, err := st.ListFailedTasks(ctx, 10)
	if err != nil {
		t.Fatalf("ListFailedTasks failed: %v", err)
	}
	if len(failed) != 1 {
		t.Errorf("failed task not surfaced")
	}
}

func TestDispatcher_RateLimitLeavesTaskPending(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	cfg := schedulerConfig()

	event := storedEvent(t, st, "limited-1", 60_000_000, models.Tier1)
	sched := NewScheduler(st, cfg, []string{"twitter"}, zerolog.Nop())
	if _, err := sched.Schedule(ctx, event); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	// Capacity 1 per hour: drain the only token first.
	registry := ratelimit.NewRegistry(map[string]config.ChannelConfig{
		"twitter": {Enabled: true, RateCapacity: 1, RateInterval: time.Hour},
	})
	if !registry.TryAcquire("twitter") {
		t.Fatal("expected initial token")
	}

	adapter := &fakeChannel{name: "twitter"}
	d := NewDispatcher(st, registry, map[string]channels.Channel{"twitter": adapter}, cfg, zerolog.Nop())

	result, err := d.DispatchOnce(ctx)
	if err != nil {
		t.Fatalf("DispatchOnce failed: %v", err)
	}
	if result.Sent != 0 {
		t.Errorf("sent = %d, want 0", result.Sent)
	}
	if len(adapter.delivered) != 0 {
		t.Errorf("adapter called despite exhausted bucket")
	}

	task, err := st.GetDeliveryTask(ctx, event.ID, "twitter")
	if err != nil {
		t.Fatalf("GetDeliveryTask failed: %v", err)
	}
	if task.Status != models.TaskPending {
		t.Errorf("status = %s, want pending", task.Status)
	}
	if task.Attempts != 0 {
		t.Errorf("attempts = %d, want 0 (rate limiting is not an attempt)", task.Attempts)
	}
}

func TestDispatcher_ExhaustsAttempts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	cfg := schedulerConfig()
	cfg.MaxAttempts = 2
	cfg.BackoffInitial = 50 * time.Millisecond
	cfg.BackoffMax = 50 * time.Millisecond

	event := storedEvent(t, st, "exhaust-1", 60_000_000, models.Tier1)
	sched := NewScheduler(st, cfg, []string{"twitter"}, zerolog.Nop())
	if _, err := sched.Schedule(ctx, event); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	registry := ratelimit.NewRegistry(map[string]config.ChannelConfig{
		"twitter": {Enabled: true, RateCapacity: 100, RateInterval: time.Hour},
	})
	adapter := &fakeChannel{
		name: "twitter",
		errs: []error{
			apperrors.NewChannelError("twitter", apperrors.ChannelTransient, "status 503", nil),
			apperrors.NewChannelError("twitter", apperrors.ChannelTransient, "status 503", nil),
		},
	}
	d := NewDispatcher(st, registry, map[string]channels.Channel{"twitter": adapter}, cfg, zerolog.Nop())

	// First pass reschedules, second pass retries after the backoff elapses.
	if _, err := d.DispatchOnce(ctx); err != nil {
		t.Fatalf("first DispatchOnce failed: %v", err)
	}
	time.Sleep(80 * time.Millisecond)

	// Second pass exhausts the attempt budget.
	result, err := d.DispatchOnce(ctx)
	if err != nil {
		t.Fatalf("second DispatchOnce failed: %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("failed = %d, want 1", result.Failed)
	}

	task, err := st.GetDeliveryTask(ctx, event.ID, "twitter")
	if err != nil {
		t.Fatalf("GetDeliveryTask failed: %v", err)
	}
	if task.Status != models.TaskFailed {
		t.Errorf("status = %s, want failed", task.Status)
	}
	if task.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", task.Attempts)
	}
}
