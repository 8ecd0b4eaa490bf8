// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "smartmoney-alerts/internal/errors"
	"smartmoney-alerts/internal/models"
)

// SQLiteStore implements EventStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based event store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent stage access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Disclosure events from all sources
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_kind TEXT NOT NULL,
		external_id TEXT NOT NULL,
		ticker TEXT,
		company TEXT,
		actor_name TEXT,
		actor_cik TEXT,
		actor_role TEXT,
		is_director INTEGER DEFAULT 0,
		is_officer INTEGER DEFAULT 0,
		is_ten_percent_owner INTEGER DEFAULT 0,
		transaction_type TEXT,
		transaction_date DATETIME,
		shares INTEGER DEFAULT 0,
		price_per_share REAL DEFAULT 0,
		total_value REAL DEFAULT 0,
		extra TEXT DEFAULT '{}',
		anomalies TEXT DEFAULT '[]',
		score INTEGER,
		tier INTEGER DEFAULT 0,
		ingested_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source_kind, external_id)
	);

	-- Per-channel delivery tasks
	CREATE TABLE IF NOT EXISTS delivery_tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id INTEGER NOT NULL,
		channel TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		scheduled_at DATETIME NOT NULL,
		sent_at DATETIME,
		message_id TEXT,
		last_error TEXT,
		attempts INTEGER DEFAULT 0,
		claim_token TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(event_id, channel),
		FOREIGN KEY (event_id) REFERENCES events(id)
	);

	-- One rollup row per calendar day
	CREATE TABLE IF NOT EXISTS daily_rollups (
		date TEXT PRIMARY KEY,
		scraped_by_source TEXT DEFAULT '{}',
		posted_by_channel TEXT DEFAULT '{}',
		roundup_events INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Create indexes for performance
	CREATE INDEX IF NOT EXISTS idx_events_ticker ON events(ticker);
	CREATE INDEX IF NOT EXISTS idx_events_actor ON events(actor_cik, ticker);
	CREATE INDEX IF NOT EXISTS idx_events_score ON events(score);
	CREATE INDEX IF NOT EXISTS idx_events_ingested ON events(ingested_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON delivery_tasks(status, scheduled_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_channel ON delivery_tasks(channel, status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Event Methods
// ============================================================================

const eventColumns = `id, source_kind, external_id, ticker, company, actor_name,
	actor_cik, actor_role, is_director, is_officer, is_ten_percent_owner,
	transaction_type, transaction_date, shares, price_per_share, total_value,
	extra, anomalies, score, tier, ingested_at`

// UpsertEvent inserts an event if its (source_kind, external_id)
// identity is new. Re-ingesting an existing identity is a no-op: the
// stored row is untouched and isNew is false.
func (s *SQLiteStore) UpsertEvent(ctx context.Context, event *models.Event) (int64, bool, error) {
	if !event.SourceKind.Valid() {
		return 0, false, apperrors.NewValidationError("source_kind", string(event.SourceKind), "unknown source kind")
	}
	if event.ExternalID == "" {
		return 0, false, apperrors.NewValidationError("external_id", "", "external id is required")
	}

	extra, _ := json.Marshal(event.Extra)
	anomalies, _ := json.Marshal(event.Anomalies)
	if event.Extra == nil {
		extra = []byte("{}")
	}
	if event.Anomalies == nil {
		anomalies = []byte("[]")
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO events (
			source_kind, external_id, ticker, company, actor_name, actor_cik,
			actor_role, is_director, is_officer, is_ten_percent_owner,
			transaction_type, transaction_date, shares, price_per_share,
			total_value, extra, anomalies
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, event.SourceKind, event.ExternalID, event.Ticker, event.Company,
		event.ActorName, event.ActorCIK, event.ActorRole,
		boolToInt(event.IsDirector), boolToInt(event.IsOfficer),
		boolToInt(event.IsTenPercentOwner), event.TransactionType,
		nullableTime(event.TransactionDate), event.Shares,
		event.PricePerShare, event.TotalValue, string(extra), string(anomalies))
	if err != nil {
		return 0, false, apperrors.NewStorageError("upsert event", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		id, err := result.LastInsertId()
		if err != nil {
			return 0, false, apperrors.NewStorageError("upsert event", err)
		}
		event.ID = id
		return id, true, nil
	}

	// Duplicate: the other writer won. Fetch the existing id.
	var id int64
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM events WHERE source_kind = ? AND external_id = ?
	`, event.SourceKind, event.ExternalID).Scan(&id)
	if err != nil {
		return 0, false, apperrors.NewStorageError("resolve duplicate event", err)
	}
	event.ID = id
	return id, false, nil
}

// GetEvent retrieves a single event by id.
func (s *SQLiteStore) GetEvent(ctx context.Context, id int64) (*models.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM events WHERE id = ?
	`, id)

	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrEventNotFound
	}
	if err != nil {
		return nil, apperrors.NewStorageError("get event", err)
	}
	return event, nil
}

// GetEventByExternalID retrieves a single event by its source
// identity.
func (s *SQLiteStore) GetEventByExternalID(ctx context.Context, kind models.SourceKind, externalID string) (*models.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM events WHERE source_kind = ? AND external_id = ?
	`, string(kind), externalID)

	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrEventNotFound
	}
	if err != nil {
		return nil, apperrors.NewStorageError("get event by external id", err)
	}
	return event, nil
}

// SetAnomalies replaces the anomaly tag set on an event.
func (s *SQLiteStore) SetAnomalies(ctx context.Context, id int64, tags []models.AnomalyTag) error {
	if tags == nil {
		tags = []models.AnomalyTag{}
	}
	payload, _ := json.Marshal(tags)

	result, err := s.db.ExecContext(ctx, `
		UPDATE events SET anomalies = ?, updated_at = ? WHERE id = ?
	`, string(payload), time.Now().UTC(), id)
	if err != nil {
		return apperrors.NewStorageError("set anomalies", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.ErrEventNotFound
	}
	return nil
}

// RecordScore persists the virality score and tier for an event.
func (s *SQLiteStore) RecordScore(ctx context.Context, id int64, score int, tier models.Tier) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE events SET score = ?, tier = ?, updated_at = ? WHERE id = ?
	`, score, int(tier), time.Now().UTC(), id)
	if err != nil {
		return apperrors.NewStorageError("record score", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.ErrEventNotFound
	}
	return nil
}

// ListUnscored returns events awaiting scoring, oldest ingested first.
// Each call re-reads the store, so a consumer can restart the sequence
// at any time.
func (s *SQLiteStore) ListUnscored(ctx context.Context, limit int) ([]models.Event, error) {
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE score IS NULL
		ORDER BY ingested_at ASC, id ASC
		LIMIT ?
	`, limit)
}

// ListScoredUnposted returns scored events with no delivery task yet
// for the given channel, oldest ingested first.
func (s *SQLiteStore) ListScoredUnposted(ctx context.Context, channel string, limit int) ([]models.Event, error) {
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE score IS NOT NULL
		AND id NOT IN (SELECT event_id FROM delivery_tasks WHERE channel = ?)
		ORDER BY ingested_at ASC, id ASC
		LIMIT ?
	`, channel, limit)
}

// RecentEntityPurchases returns purchase events for a ticker dated on
// or after since, for cluster detection.
func (s *SQLiteStore) RecentEntityPurchases(ctx context.Context, ticker string, since time.Time) ([]models.Event, error) {
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE ticker = ? AND transaction_type = ? AND transaction_date >= ?
		ORDER BY transaction_date DESC
	`, ticker, models.TxnPurchase, since)
}

// ActorEntityHistory returns an actor's prior events at an entity,
// most recent first.
func (s *SQLiteStore) ActorEntityHistory(ctx context.Context, actorCIK, ticker string, limit int) ([]models.Event, error) {
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE actor_cik = ? AND ticker = ?
		ORDER BY transaction_date DESC
		LIMIT ?
	`, actorCIK, ticker, limit)
}

// ActorTransactionValues returns an actor's prior transaction values
// of the given type, most recent first, for relative-size checks.
// excludeEventID keeps the event under analysis out of its own
// baseline.
func (s *SQLiteStore) ActorTransactionValues(ctx context.Context, actorCIK string, txnType models.TransactionType, excludeEventID int64, limit int) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT total_value FROM events
		WHERE actor_cik = ? AND transaction_type = ? AND total_value > 0 AND id != ?
		ORDER BY transaction_date DESC
		LIMIT ?
	`, actorCIK, txnType, excludeEventID, limit)
	if err != nil {
		return nil, apperrors.NewStorageError("actor transaction values", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, apperrors.NewStorageError("scan transaction value", err)
		}
		values = append(values, v)
	}

	return values, rows.Err()
}

func (s *SQLiteStore) queryEvents(ctx context.Context, query string, args ...interface{}) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewStorageError("query events", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, apperrors.NewStorageError("scan event", err)
		}
		events = append(events, *event)
	}

	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var e models.Event
	var extraJSON, anomaliesJSON string
	var isDirector, isOfficer, isTenPct, tier int
	var score sql.NullInt64
	var txnDate sql.NullTime

	err := row.Scan(&e.ID, &e.SourceKind, &e.ExternalID, &e.Ticker, &e.Company,
		&e.ActorName, &e.ActorCIK, &e.ActorRole, &isDirector, &isOfficer,
		&isTenPct, &e.TransactionType, &txnDate, &e.Shares, &e.PricePerShare,
		&e.TotalValue, &extraJSON, &anomaliesJSON, &score, &tier, &e.IngestedAt)
	if err != nil {
		return nil, err
	}

	e.IsDirector = isDirector == 1
	e.IsOfficer = isOfficer == 1
	e.IsTenPercentOwner = isTenPct == 1
	if txnDate.Valid {
		e.TransactionDate = txnDate.Time
	}
	if score.Valid {
		v := int(score.Int64)
		e.Score = &v
	}
	e.Tier = models.Tier(tier)
	json.Unmarshal([]byte(extraJSON), &e.Extra)
	json.Unmarshal([]byte(anomaliesJSON), &e.Anomalies)

	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
