package models

import "time"

// TaskStatus represents the delivery task state machine.
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskInFlight TaskStatus = "inflight"
	TaskSent     TaskStatus = "sent"
	TaskFailed   TaskStatus = "failed"
)

// DeliveryTask is the unit of work representing "send this event on
// this channel". At most one task exists per (EventID, Channel).
type DeliveryTask struct {
	ID      int64
	EventID int64
	Channel string

	Status      TaskStatus
	ScheduledAt time.Time
	SentAt      *time.Time

	// Set on success: the opaque id returned by the channel adapter.
	MessageID string

	// Set on failure: the last delivery error, for operator attention.
	LastError string

	Attempts int

	// ClaimToken guards inflight resolution: only the dispatcher pass
	// that claimed the task may resolve it.
	ClaimToken string

	CreatedAt time.Time
}

// DailyRollup aggregates one calendar day of pipeline activity.
// Tier 4 events never get individual delivery tasks; they only appear
// here.
type DailyRollup struct {
	Date string // YYYY-MM-DD

	ScrapedBySource map[SourceKind]int
	PostedByChannel map[string]int

	// Events scored below the individual-dispatch threshold.
	RoundupEvents int

	CreatedAt time.Time
}
