package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"smartmoney-alerts/internal/analyzer"
	"smartmoney-alerts/internal/config"
	"smartmoney-alerts/internal/dispatch"
	"smartmoney-alerts/internal/models"
	"smartmoney-alerts/internal/scoring"
	"smartmoney-alerts/internal/store"
)

func newTestPipeline(t *testing.T) (*Pipeline, *store.SQLiteStore) {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Defaults()
	detector := analyzer.NewDetector(analyzer.ThresholdsFromConfig(cfg.Detector))
	scorer := scoring.NewScorer()
	scheduler := dispatch.NewScheduler(st, cfg.Scheduler, cfg.EnabledChannels(), zerolog.Nop())

	return New(st, detector, scorer, scheduler, cfg, zerolog.Nop()), st
}

func TestIngestBatch_FlagshipExecutivePurchase(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()

	// Two old purchases by the same executive establish both a value
	// baseline and a long dormancy gap.
	priors := []models.RawEvent{
		{
			SourceKind: "insider", ExternalID: "ceo-prior-1", Ticker: "AAPL",
			ActorName: "Tim Apple", ActorCIK: "0009001", ActorRole: "CEO",
			IsOfficer: true, TransactionType: "P",
			TransactionDate: "2023-04-10", TotalValue: 15_000_000,
		},
		{
			SourceKind: "insider", ExternalID: "ceo-prior-2", Ticker: "AAPL",
			ActorName: "Tim Apple", ActorCIK: "0009001", ActorRole: "CEO",
			IsOfficer: true, TransactionType: "P",
			TransactionDate: "2023-05-01", TotalValue: 15_000_000,
		},
	}
	if _, err := p.IngestBatch(ctx, priors); err != nil {
		t.Fatalf("IngestBatch priors failed: %v", err)
	}

	result, err := p.IngestBatch(ctx, []models.RawEvent{{
		SourceKind: "insider", ExternalID: "ceo-big-buy", Ticker: "AAPL",
		ActorName: "Tim Apple", ActorCIK: "0009001", ActorRole: "CEO",
		IsOfficer: true, TransactionType: "P",
		TransactionDate: "2026-06-01", TotalValue: 60_000_000,
	}})
	if err != nil {
		t.Fatalf("IngestBatch failed: %v", err)
	}
	if result.Ingested != 1 {
		t.Fatalf("ingested = %d, want 1", result.Ingested)
	}
	// One task per enabled channel, eligible immediately.
	if want := len(config.Defaults().EnabledChannels()); result.TasksCreated != want {
		t.Errorf("tasks created = %d, want %d", result.TasksCreated, want)
	}

	event, err := st.GetEventByExternalID(ctx, models.SourceInsider, "ceo-big-buy")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if event.Score == nil {
		t.Fatal("event not scored")
	}
	// role 25 + size 25 + recognition 20 + anomalies (10+8) = 88.
	if *event.Score != 88 {
		t.Errorf("score = %d, want 88", *event.Score)
	}
	if event.Tier != models.Tier1 {
		t.Errorf("tier = %d, want 1", event.Tier)
	}
	assertTags(t, event.Anomalies,
		[]models.AnomalyTag{models.AnomalyRoleBuy, models.AnomalyFirstPurchaseInYears},
		[]models.AnomalyTag{models.AnomalyClusterBuy, models.AnomalyUnusuallyLarge})
}

func TestIngestBatch_DirectorClusterRollsUp(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()

	result, err := p.IngestBatch(ctx, []models.RawEvent{
		{
			SourceKind: "insider", ExternalID: "dir-1", Ticker: "ZZZT",
			ActorName: "Alex Reed", ActorCIK: "0001111", ActorRole: "Director",
			IsDirector: true, TransactionType: "P",
			TransactionDate: "2026-06-01", TotalValue: 50_000,
		},
		{
			SourceKind: "insider", ExternalID: "dir-2", Ticker: "ZZZT",
			ActorName: "Sam Okafor", ActorCIK: "0002222", ActorRole: "Director",
			IsDirector: true, TransactionType: "P",
			TransactionDate: "2026-06-04", TotalValue: 50_000,
		},
	})
	if err != nil {
		t.Fatalf("IngestBatch failed: %v", err)
	}
	if result.Ingested != 2 {
		t.Fatalf("ingested = %d, want 2", result.Ingested)
	}
	if result.TasksCreated != 0 {
		t.Errorf("tier-4 events created %d tasks, want 0", result.TasksCreated)
	}

	second, err := st.GetEventByExternalID(ctx, models.SourceInsider, "dir-2")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	assertTags(t, second.Anomalies,
		[]models.AnomalyTag{models.AnomalyClusterBuy},
		[]models.AnomalyTag{models.AnomalyRoleBuy, models.AnomalyFirstPurchaseInYears, models.AnomalyUnusuallyLarge})
	// role 8 + anomalies 8, value below every size band.
	if second.Score == nil || *second.Score != 16 {
		t.Errorf("score = %v, want 16", second.Score)
	}
	if second.Tier != models.Tier4 {
		t.Errorf("tier = %d, want 4", second.Tier)
	}

	counts, err := st.CountTasks(ctx)
	if err != nil {
		t.Fatalf("CountTasks failed: %v", err)
	}
	for status, n := range counts {
		if n != 0 {
			t.Errorf("unexpected %s tasks: %d", status, n)
		}
	}

	// Tier-4 events surface only through the daily rollup.
	today := time.Now().UTC().Format("2006-01-02")
	rollup, wrote, err := p.WriteRollup(ctx, today)
	if err != nil {
		t.Fatalf("WriteRollup failed: %v", err)
	}
	if !wrote {
		t.Error("first rollup write reported wrote=false")
	}
	if rollup.RoundupEvents != 2 {
		t.Errorf("roundup events = %d, want 2", rollup.RoundupEvents)
	}
	if rollup.ScrapedBySource[models.SourceInsider] != 2 {
		t.Errorf("scraped insider = %d, want 2", rollup.ScrapedBySource[models.SourceInsider])
	}

	// The artifact is written at most once per day.
	_, wrote, err = p.WriteRollup(ctx, today)
	if err != nil {
		t.Fatalf("second WriteRollup failed: %v", err)
	}
	if wrote {
		t.Error("second rollup write reported wrote=true")
	}
}

func TestIngestBatch_PerRecordIsolation(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	result, err := p.IngestBatch(ctx, []models.RawEvent{
		{SourceKind: "insider", ExternalID: "bad-1", TransactionType: "P"}, // no ticker
		{
			SourceKind: "insider", ExternalID: "good-1", Ticker: "XYZ",
			ActorName: "Pat Lane", TransactionType: "P",
			TransactionDate: "2026-06-01", TotalValue: 250_000,
		},
		{
			SourceKind: "insider", ExternalID: "good-1", Ticker: "XYZ",
			ActorName: "Pat Lane", TransactionType: "P",
			TransactionDate: "2026-06-01", TotalValue: 250_000,
		},
	})
	if err != nil {
		t.Fatalf("IngestBatch failed: %v", err)
	}

	if result.Rejected != 1 {
		t.Errorf("rejected = %d, want 1", result.Rejected)
	}
	if result.Ingested != 1 {
		t.Errorf("ingested = %d, want 1", result.Ingested)
	}
	if result.Duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", result.Duplicates)
	}
	if len(result.Errors) != 1 {
		t.Errorf("errors = %d, want 1", len(result.Errors))
	}
}

func TestIngestBatch_MalformedDateTolerated(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()

	result, err := p.IngestBatch(ctx, []models.RawEvent{{
		SourceKind: "insider", ExternalID: "odd-date", Ticker: "XYZ",
		ActorName: "Pat Lane", ActorRole: "CEO", IsOfficer: true,
		TransactionType: "P", TransactionDate: "06/01/2026",
		TotalValue: 2_000_000,
	}})
	if err != nil {
		t.Fatalf("IngestBatch failed: %v", err)
	}
	if result.Ingested != 1 {
		t.Fatalf("ingested = %d, want 1 (bad date is unknown, not invalid)", result.Ingested)
	}

	event, err := st.GetEventByExternalID(ctx, models.SourceInsider, "odd-date")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !event.TransactionDate.IsZero() {
		t.Errorf("unparseable date stored as %v, want zero", event.TransactionDate)
	}
	// Date-dependent rules stay silent on unknown dates.
	assertTags(t, event.Anomalies,
		[]models.AnomalyTag{models.AnomalyRoleBuy},
		[]models.AnomalyTag{models.AnomalyClusterBuy, models.AnomalyFirstPurchaseInYears})
}

func TestIngestBatch_DerivesTotalValue(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()

	if _, err := p.IngestBatch(ctx, []models.RawEvent{{
		SourceKind: "insider", ExternalID: "derive-1", Ticker: "XYZ",
		ActorName: "Pat Lane", TransactionType: "P",
		TransactionDate: "2026-06-01", Shares: 1000, PricePerShare: 50,
	}}); err != nil {
		t.Fatalf("IngestBatch failed: %v", err)
	}

	event, err := st.GetEventByExternalID(ctx, models.SourceInsider, "derive-1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if event.TotalValue != 50_000 {
		t.Errorf("total value = %v, want 50000", event.TotalValue)
	}
}

func TestRescoreUnscored(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()

	// An event stored without a score, as left by a crash between
	// upsert and scoring.
	id, _, err := st.UpsertEvent(ctx, &models.Event{
		SourceKind:      models.SourceInsider,
		ExternalID:      "orphan-1",
		Ticker:          "NVDA",
		ActorName:       "Pat Lane",
		ActorRole:       "CEO",
		IsOfficer:       true,
		TransactionType: models.TxnPurchase,
		TransactionDate: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		TotalValue:      12_000_000,
	})
	if err != nil {
		t.Fatalf("UpsertEvent failed: %v", err)
	}

	processed, err := p.RescoreUnscored(ctx, 10)
	if err != nil {
		t.Fatalf("RescoreUnscored failed: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}

	event, err := st.GetEvent(ctx, id)
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if event.Score == nil {
		t.Fatal("event still unscored")
	}
	if event.Tier == models.TierNone {
		t.Error("tier not assigned")
	}

	// Nothing left to recover.
	processed, err = p.RescoreUnscored(ctx, 10)
	if err != nil {
		t.Fatalf("second RescoreUnscored failed: %v", err)
	}
	if processed != 0 {
		t.Errorf("second pass processed %d, want 0", processed)
	}
}

func TestScheduleUnposted_RecoversStrandedScoredEvent(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()

	// A scored event with no delivery tasks, as left by a crash between
	// scoring and scheduling.
	id, _, err := st.UpsertEvent(ctx, &models.Event{
		SourceKind:      models.SourceInsider,
		ExternalID:      "stranded-1",
		Ticker:          "AAPL",
		ActorName:       "Tim Apple",
		ActorCIK:        "0009001",
		ActorRole:       "CEO",
		IsOfficer:       true,
		TransactionType: models.TxnPurchase,
		TransactionDate: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		TotalValue:      60_000_000,
	})
	if err != nil {
		t.Fatalf("UpsertEvent failed: %v", err)
	}
	if err := st.RecordScore(ctx, id, 88, models.Tier1); err != nil {
		t.Fatalf("RecordScore failed: %v", err)
	}

	// A scored rollup-only event must not produce tasks.
	quietID, _, err := st.UpsertEvent(ctx, &models.Event{
		SourceKind:      models.SourceInsider,
		ExternalID:      "stranded-quiet",
		Ticker:          "ZZZT",
		ActorName:       "Lee Park",
		ActorRole:       "Director",
		IsDirector:      true,
		TransactionType: models.TxnPurchase,
		TransactionDate: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		TotalValue:      50_000,
	})
	if err != nil {
		t.Fatalf("UpsertEvent failed: %v", err)
	}
	if err := st.RecordScore(ctx, quietID, 16, models.Tier4); err != nil {
		t.Fatalf("RecordScore failed: %v", err)
	}

	channels := config.Defaults().EnabledChannels()
	created, err := p.ScheduleUnposted(ctx, 100)
	if err != nil {
		t.Fatalf("ScheduleUnposted failed: %v", err)
	}
	if created != len(channels) {
		t.Fatalf("created = %d, want %d", created, len(channels))
	}

	for _, channel := range channels {
		task, err := st.GetDeliveryTask(ctx, id, channel)
		if err != nil {
			t.Fatalf("GetDeliveryTask(%s) failed: %v", channel, err)
		}
		if task.Status != models.TaskPending {
			t.Errorf("channel %s status = %s, want pending", channel, task.Status)
		}
	}
	if _, err := st.GetDeliveryTask(ctx, quietID, channels[0]); err == nil {
		t.Error("rollup-only event should not receive delivery tasks")
	}

	// A second pass creates nothing new.
	created, err = p.ScheduleUnposted(ctx, 100)
	if err != nil {
		t.Fatalf("second ScheduleUnposted failed: %v", err)
	}
	if created != 0 {
		t.Errorf("second pass created %d tasks, want 0", created)
	}
}

// assertTags checks that each wanted tag is present and each unwanted
// tag is absent.
func assertTags(t *testing.T, got []models.AnomalyTag, want, absent []models.AnomalyTag) {
	t.Helper()
	set := make(map[models.AnomalyTag]bool, len(got))
	for _, tag := range got {
		set[tag] = true
	}
	for _, tag := range want {
		if !set[tag] {
			t.Errorf("missing anomaly tag %s (got %v)", tag, got)
		}
	}
	for _, tag := range absent {
		if set[tag] {
			t.Errorf("unexpected anomaly tag %s", tag)
		}
	}
}
