// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"smartmoney-alerts/internal/models"
)

// EventStore defines the interface for pipeline persistence. It is the
// sole source of truth between the ingestion, scoring, and dispatch
// stages.
type EventStore interface {
	// Events
	UpsertEvent(ctx context.Context, event *models.Event) (int64, bool, error)
	GetEvent(ctx context.Context, id int64) (*models.Event, error)
	GetEventByExternalID(ctx context.Context, kind models.SourceKind, externalID string) (*models.Event, error)
	SetAnomalies(ctx context.Context, id int64, tags []models.AnomalyTag) error
	RecordScore(ctx context.Context, id int64, score int, tier models.Tier) error
	ListUnscored(ctx context.Context, limit int) ([]models.Event, error)
	ListScoredUnposted(ctx context.Context, channel string, limit int) ([]models.Event, error)

	// Detector history reads
	RecentEntityPurchases(ctx context.Context, ticker string, since time.Time) ([]models.Event, error)
	ActorEntityHistory(ctx context.Context, actorCIK, ticker string, limit int) ([]models.Event, error)
	ActorTransactionValues(ctx context.Context, actorCIK string, txnType models.TransactionType, excludeEventID int64, limit int) ([]float64, error)

	// Delivery tasks
	UpsertDeliveryTask(ctx context.Context, task *models.DeliveryTask) (bool, error)
	GetDeliveryTask(ctx context.Context, eventID int64, channel string) (*models.DeliveryTask, error)
	ClaimDueTask(ctx context.Context, channel string, now time.Time, claimToken string) (*models.DeliveryTask, error)
	MarkTaskSent(ctx context.Context, id int64, claimToken, messageID string, at time.Time) error
	MarkTaskFailed(ctx context.Context, id int64, claimToken, lastError string) error
	RescheduleTask(ctx context.Context, id int64, claimToken string, at time.Time, lastError string) error
	ReleaseTask(ctx context.Context, id int64, claimToken string) error
	ReleaseStaleInFlight(ctx context.Context) (int64, error)
	CountTasks(ctx context.Context) (map[models.TaskStatus]int, error)
	CountSentSince(ctx context.Context, channel string, since time.Time) (int, error)
	ListFailedTasks(ctx context.Context, limit int) ([]models.DeliveryTask, error)

	// Daily rollup
	BuildDailyRollup(ctx context.Context, date string) (*models.DailyRollup, error)
	WriteDailyRollup(ctx context.Context, rollup *models.DailyRollup) (bool, error)
	GetDailyRollup(ctx context.Context, date string) (*models.DailyRollup, error)

	// Stats
	Stats(ctx context.Context) (*Summary, error)

	// Lifecycle
	Close() error
}

// Summary holds database summary statistics for the status command.
type Summary struct {
	TotalEvents    int
	TotalPurchases int
	ScoredEvents   int
	AvgScore       float64
	EventsBySource map[models.SourceKind]int
	SentByChannel  map[string]int
	PendingTasks   int
	FailedTasks    int
}
