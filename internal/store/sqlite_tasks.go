package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	apperrors "smartmoney-alerts/internal/errors"
	"smartmoney-alerts/internal/models"
)

// ============================================================================
// Delivery Task Methods
// ============================================================================

const taskColumns = `id, event_id, channel, status, scheduled_at, sent_at,
	COALESCE(message_id, ''), COALESCE(last_error, ''), attempts,
	COALESCE(claim_token, ''), created_at`

// UpsertDeliveryTask creates a task if none exists for the
// (event, channel) pair. Returns false without touching the existing
// row when one already exists, so re-scheduling a scored event can
// never produce duplicate deliveries.
func (s *SQLiteStore) UpsertDeliveryTask(ctx context.Context, task *models.DeliveryTask) (bool, error) {
	if task.Status == "" {
		task.Status = models.TaskPending
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO delivery_tasks (event_id, channel, status, scheduled_at)
		VALUES (?, ?, ?, ?)
	`, task.EventID, task.Channel, task.Status, task.ScheduledAt.UTC())
	if err != nil {
		return false, apperrors.NewStorageError("upsert delivery task", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		task.ID, _ = result.LastInsertId()
		return true, nil
	}
	return false, nil
}

// GetDeliveryTask retrieves the task for an (event, channel) pair.
func (s *SQLiteStore) GetDeliveryTask(ctx context.Context, eventID int64, channel string) (*models.DeliveryTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM delivery_tasks WHERE event_id = ? AND channel = ?
	`, eventID, channel)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrTaskNotFound
	}
	if err != nil {
		return nil, apperrors.NewStorageError("get delivery task", err)
	}
	return task, nil
}

// ClaimDueTask atomically marks the oldest eligible pending task on a
// channel as in-flight and returns it. Returns nil when nothing is
// due. The claim token fences the later resolution so a slow
// dispatcher pass cannot clobber a reclaimed task.
func (s *SQLiteStore) ClaimDueTask(ctx context.Context, channel string, now time.Time, claimToken string) (*models.DeliveryTask, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE delivery_tasks
		SET status = ?, claim_token = ?
		WHERE id = (
			SELECT id FROM delivery_tasks
			WHERE channel = ? AND status = ? AND scheduled_at <= ?
			ORDER BY scheduled_at ASC, id ASC
			LIMIT 1
		) AND status = ?
	`, models.TaskInFlight, claimToken, channel, models.TaskPending, now.UTC(), models.TaskPending)
	if err != nil {
		return nil, apperrors.NewStorageError("claim task", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM delivery_tasks WHERE claim_token = ? AND status = ?
	`, claimToken, models.TaskInFlight)

	task, err := scanTask(row)
	if err != nil {
		return nil, apperrors.NewStorageError("load claimed task", err)
	}
	return task, nil
}

// MarkTaskSent transitions a claimed in-flight task to sent.
func (s *SQLiteStore) MarkTaskSent(ctx context.Context, id int64, claimToken, messageID string, at time.Time) error {
	return s.resolveTask(ctx, id, claimToken, `
		UPDATE delivery_tasks
		SET status = ?, sent_at = ?, message_id = ?, attempts = attempts + 1,
		    claim_token = NULL, last_error = NULL
		WHERE id = ? AND claim_token = ? AND status = ?
	`, models.TaskSent, at.UTC(), messageID, id, claimToken, models.TaskInFlight)
}

// MarkTaskFailed transitions a claimed in-flight task to failed
// permanently. Failed tasks are surfaced via ListFailedTasks.
func (s *SQLiteStore) MarkTaskFailed(ctx context.Context, id int64, claimToken, lastError string) error {
	return s.resolveTask(ctx, id, claimToken, `
		UPDATE delivery_tasks
		SET status = ?, last_error = ?, attempts = attempts + 1, claim_token = NULL
		WHERE id = ? AND claim_token = ? AND status = ?
	`, models.TaskFailed, lastError, id, claimToken, models.TaskInFlight)
}

// ReleaseTask returns a claimed in-flight task to pending untouched.
// Used when the dispatcher claims a task but cannot proceed, for
// example when the channel's rate limiter has no capacity. The
// attempt counter is not incremented.
func (s *SQLiteStore) ReleaseTask(ctx context.Context, id int64, claimToken string) error {
	return s.resolveTask(ctx, id, claimToken, `
		UPDATE delivery_tasks
		SET status = ?, claim_token = NULL
		WHERE id = ? AND claim_token = ? AND status = ?
	`, models.TaskPending, id, claimToken, models.TaskInFlight)
}

// RescheduleTask returns a claimed in-flight task to pending with a
// backed-off eligibility time.
func (s *SQLiteStore) RescheduleTask(ctx context.Context, id int64, claimToken string, at time.Time, lastError string) error {
	return s.resolveTask(ctx, id, claimToken, `
		UPDATE delivery_tasks
		SET status = ?, scheduled_at = ?, last_error = ?, attempts = attempts + 1,
		    claim_token = NULL
		WHERE id = ? AND claim_token = ? AND status = ?
	`, models.TaskPending, at.UTC(), lastError, id, claimToken, models.TaskInFlight)
}

func (s *SQLiteStore) resolveTask(ctx context.Context, id int64, claimToken, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewStorageError("resolve task", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.ErrTaskNotClaimed
	}
	return nil
}

// ReleaseStaleInFlight returns all in-flight tasks to pending. Called
// on startup: tasks abandoned by a crashed dispatcher resume on the
// next pass.
func (s *SQLiteStore) ReleaseStaleInFlight(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE delivery_tasks SET status = ?, claim_token = NULL WHERE status = ?
	`, models.TaskPending, models.TaskInFlight)
	if err != nil {
		return 0, apperrors.NewStorageError("release in-flight tasks", err)
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}

// CountSentSince returns how many tasks were sent on a channel at or
// after the given time, for rate-window accounting.
func (s *SQLiteStore) CountSentSince(ctx context.Context, channel string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM delivery_tasks
		WHERE channel = ? AND status = ? AND sent_at >= ?
	`, channel, models.TaskSent, since).Scan(&n)
	if err != nil {
		return 0, apperrors.NewStorageError("count sent tasks", err)
	}
	return n, nil
}

// CountTasks returns task counts grouped by status.
func (s *SQLiteStore) CountTasks(ctx context.Context) (map[models.TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM delivery_tasks GROUP BY status
	`)
	if err != nil {
		return nil, apperrors.NewStorageError("count tasks", err)
	}
	defer rows.Close()

	counts := make(map[models.TaskStatus]int)
	for rows.Next() {
		var status models.TaskStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperrors.NewStorageError("scan task count", err)
		}
		counts[status] = n
	}

	return counts, rows.Err()
}

// ListFailedTasks returns permanently failed tasks for operator
// attention, most recent first.
func (s *SQLiteStore) ListFailedTasks(ctx context.Context, limit int) ([]models.DeliveryTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM delivery_tasks
		WHERE status = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, models.TaskFailed, limit)
	if err != nil {
		return nil, apperrors.NewStorageError("list failed tasks", err)
	}
	defer rows.Close()

	var tasks []models.DeliveryTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, apperrors.NewStorageError("scan task", err)
		}
		tasks = append(tasks, *task)
	}

	return tasks, rows.Err()
}

func scanTask(row rowScanner) (*models.DeliveryTask, error) {
	var t models.DeliveryTask
	var sentAt sql.NullTime

	err := row.Scan(&t.ID, &t.EventID, &t.Channel, &t.Status, &t.ScheduledAt,
		&sentAt, &t.MessageID, &t.LastError, &t.Attempts, &t.ClaimToken,
		&t.CreatedAt)
	if err != nil {
		return nil, err
	}

	if sentAt.Valid {
		t.SentAt = &sentAt.Time
	}
	return &t, nil
}

// ============================================================================
// Daily Rollup Methods
// ============================================================================

// BuildDailyRollup derives the rollup for a calendar day (YYYY-MM-DD)
// from the events and task tables. It does not persist anything.
func (s *SQLiteStore) BuildDailyRollup(ctx context.Context, date string) (*models.DailyRollup, error) {
	rollup := &models.DailyRollup{
		Date:            date,
		ScrapedBySource: make(map[models.SourceKind]int),
		PostedByChannel: make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_kind, COUNT(*) FROM events
		WHERE date(ingested_at) = ?
		GROUP BY source_kind
	`, date)
	if err != nil {
		return nil, apperrors.NewStorageError("rollup scraped counts", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind models.SourceKind
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, apperrors.NewStorageError("scan rollup source", err)
		}
		rollup.ScrapedBySource[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("rollup scraped counts", err)
	}

	chRows, err := s.db.QueryContext(ctx, `
		SELECT channel, COUNT(*) FROM delivery_tasks
		WHERE status = ? AND date(sent_at) = ?
		GROUP BY channel
	`, models.TaskSent, date)
	if err != nil {
		return nil, apperrors.NewStorageError("rollup posted counts", err)
	}
	defer chRows.Close()
	for chRows.Next() {
		var channel string
		var n int
		if err := chRows.Scan(&channel, &n); err != nil {
			return nil, apperrors.NewStorageError("scan rollup channel", err)
		}
		rollup.PostedByChannel[channel] = n
	}
	if err := chRows.Err(); err != nil {
		return nil, apperrors.NewStorageError("rollup posted counts", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM events WHERE date(ingested_at) = ? AND tier = ?
	`, date, int(models.Tier4)).Scan(&rollup.RoundupEvents)
	if err != nil {
		return nil, apperrors.NewStorageError("rollup roundup count", err)
	}

	return rollup, nil
}

// WriteDailyRollup persists a rollup. The artifact is written at most
// once per calendar day; a second write for the same date is a no-op
// and returns false.
func (s *SQLiteStore) WriteDailyRollup(ctx context.Context, rollup *models.DailyRollup) (bool, error) {
	scraped, _ := json.Marshal(rollup.ScrapedBySource)
	posted, _ := json.Marshal(rollup.PostedByChannel)

	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO daily_rollups (date, scraped_by_source, posted_by_channel, roundup_events)
		VALUES (?, ?, ?, ?)
	`, rollup.Date, string(scraped), string(posted), rollup.RoundupEvents)
	if err != nil {
		return false, apperrors.NewStorageError("write daily rollup", err)
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// GetDailyRollup retrieves a persisted rollup by date.
func (s *SQLiteStore) GetDailyRollup(ctx context.Context, date string) (*models.DailyRollup, error) {
	var r models.DailyRollup
	var scrapedJSON, postedJSON string

	err := s.db.QueryRowContext(ctx, `
		SELECT date, scraped_by_source, posted_by_channel, roundup_events, created_at
		FROM daily_rollups WHERE date = ?
	`, date).Scan(&r.Date, &scrapedJSON, &postedJSON, &r.RoundupEvents, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewStorageError("get daily rollup", err)
	}

	json.Unmarshal([]byte(scrapedJSON), &r.ScrapedBySource)
	json.Unmarshal([]byte(postedJSON), &r.PostedByChannel)
	return &r, nil
}

// ============================================================================
// Stats
// ============================================================================

// Stats returns summary statistics for the status command.
func (s *SQLiteStore) Stats(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		EventsBySource: make(map[models.SourceKind]int),
		SentByChannel:  make(map[string]int),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN transaction_type = 'P' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN score IS NOT NULL THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(score), 0)
		FROM events
	`).Scan(&summary.TotalEvents, &summary.TotalPurchases, &summary.ScoredEvents, &summary.AvgScore)
	if err != nil {
		return nil, apperrors.NewStorageError("event stats", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_kind, COUNT(*) FROM events GROUP BY source_kind
	`)
	if err != nil {
		return nil, apperrors.NewStorageError("source stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind models.SourceKind
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, apperrors.NewStorageError("scan source stat", err)
		}
		summary.EventsBySource[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("source stats", err)
	}

	chRows, err := s.db.QueryContext(ctx, `
		SELECT channel, COUNT(*) FROM delivery_tasks WHERE status = ? GROUP BY channel
	`, models.TaskSent)
	if err != nil {
		return nil, apperrors.NewStorageError("channel stats", err)
	}
	defer chRows.Close()
	for chRows.Next() {
		var channel string
		var n int
		if err := chRows.Scan(&channel, &n); err != nil {
			return nil, apperrors.NewStorageError("scan channel stat", err)
		}
		summary.SentByChannel[channel] = n
	}
	if err := chRows.Err(); err != nil {
		return nil, apperrors.NewStorageError("channel stats", err)
	}

	counts, err := s.CountTasks(ctx)
	if err != nil {
		return nil, err
	}
	summary.PendingTasks = counts[models.TaskPending]
	summary.FailedTasks = counts[models.TaskFailed]

	return summary, nil
}
