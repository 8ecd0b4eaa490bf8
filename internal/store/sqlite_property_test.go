package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"smartmoney-alerts/internal/models"
)

// Property: re-ingesting any (source_kind, external_id) identity
// leaves the event count unchanged and reports isNew=false, whatever
// the fact fields say.
func TestProperty_IngestIdempotent(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "property.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	sources := []models.SourceKind{models.SourceInsider, models.SourceCongress, models.SourceFund}
	tickers := []string{"AAPL", "NVDA", "GME", "XSML"}

	properties.Property("duplicate ingest is a no-op", prop.ForAll(
		func(seq int64, sourceIdx, tickerIdx int, value float64, mutated float64) bool {
			ctx := context.Background()

			event := &models.Event{
				SourceKind:      sources[sourceIdx%len(sources)],
				ExternalID:      fmt.Sprintf("prop-%d", seq),
				Ticker:          tickers[tickerIdx%len(tickers)],
				TransactionType: models.TxnPurchase,
				TotalValue:      value,
			}

			id, isNew, err := store.UpsertEvent(ctx, event)
			if err != nil {
				t.Logf("first upsert failed: %v", err)
				return false
			}

			var before int
			if err := store.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&before); err != nil {
				return false
			}

			// Same identity, mutated facts.
			dup := *event
			dup.ID = 0
			dup.TotalValue = mutated

			dupID, dupNew, err := store.UpsertEvent(ctx, &dup)
			if err != nil {
				t.Logf("duplicate upsert failed: %v", err)
				return false
			}

			var after int
			if err := store.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&after); err != nil {
				return false
			}

			if dupNew {
				t.Logf("duplicate reported isNew for %s/%s", event.SourceKind, event.ExternalID)
				return false
			}
			if dupID != id || after != before {
				t.Logf("count changed %d -> %d or id mismatch %d != %d", before, after, id, dupID)
				return false
			}

			// For a fresh identity the first upsert must report isNew.
			return isNew || before > 1
		},
		gen.Int64Range(1, 1_000_000_000),
		gen.IntRange(0, 2),
		gen.IntRange(0, 3),
		gen.Float64Range(0, 100_000_000),
		gen.Float64Range(0, 100_000_000),
	))

	properties.TestingRun(t)
}

// Property: concurrent scheduling attempts for the same (event,
// channel) pair produce exactly one delivery task.
func TestProperty_TaskUniqueUnderConcurrency(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("exactly one task per (event, channel)", prop.ForAll(
		func(seq int64, writers int) bool {
			ctx := context.Background()

			event := &models.Event{
				SourceKind:      models.SourceInsider,
				ExternalID:      fmt.Sprintf("conc-%d", seq),
				Ticker:          "AAPL",
				TransactionType: models.TxnPurchase,
				TotalValue:      1_000_000,
			}
			id, _, err := store.UpsertEvent(ctx, event)
			if err != nil {
				t.Logf("upsert failed: %v", err)
				return false
			}

			var wg sync.WaitGroup
			created := make(chan bool, writers)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					task := &models.DeliveryTask{
						EventID:     id,
						Channel:     "twitter",
						ScheduledAt: time.Now().UTC(),
					}
					isNew, err := store.UpsertDeliveryTask(ctx, task)
					if err == nil && isNew {
						created <- true
					}
				}()
			}
			wg.Wait()
			close(created)

			wins := 0
			for range created {
				wins++
			}

			var count int
			err = store.db.QueryRow(
				"SELECT COUNT(*) FROM delivery_tasks WHERE event_id = ? AND channel = ?",
				id, "twitter").Scan(&count)
			if err != nil {
				return false
			}

			if wins != 1 || count != 1 {
				t.Logf("writers=%d wins=%d rows=%d", writers, wins, count)
				return false
			}
			return true
		},
		gen.Int64Range(1, 1_000_000_000),
		gen.IntRange(2, 8),
	))

	properties.TestingRun(t)
}
