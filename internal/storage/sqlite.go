package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"

	_ "modernc.org/sqlite"
)

// SQLiteStorage implements the Storage interface using SQLite via the pure-Go
// modernc.org driver. Suitable for single-instance deployments; counters still
// survive restarts, which is the property the gate needs.
type SQLiteStorage struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS request_events (
	id          TEXT PRIMARY KEY,
	identifier  TEXT NOT NULL,
	occurred_at INTEGER NOT NULL,
	method      TEXT NOT NULL DEFAULT '',
	path        TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT '',
	api_key_id  TEXT
);
CREATE INDEX IF NOT EXISTS idx_request_events_identifier_occurred_at
	ON request_events (identifier, occurred_at);
CREATE INDEX IF NOT EXISTS idx_request_events_occurred_at
	ON request_events (occurred_at);

CREATE TABLE IF NOT EXISTS api_keys (
	id                TEXT PRIMARY KEY,
	merchant_id       TEXT NOT NULL DEFAULT '',
	name              TEXT NOT NULL,
	key_hash          TEXT NOT NULL UNIQUE,
	prefix            TEXT NOT NULL,
	permissions       TEXT NOT NULL DEFAULT '[]',
	enabled           INTEGER NOT NULL DEFAULT 1,
	daily_limit       INTEGER NOT NULL DEFAULT 10000,
	daily_usage_count INTEGER NOT NULL DEFAULT 0,
	daily_usage_date  TEXT NOT NULL DEFAULT '',
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);
`

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(config Config) (Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Timestamps are stored as unix nanoseconds so range comparisons stay
// integer-cheap and lossless.

// RecordEvent appends one admitted request to the event log.
func (ss *SQLiteStorage) RecordEvent(ctx context.Context, event *models.RequestEvent) error {
	_, err := ss.db.ExecContext(ctx,
		`INSERT INTO request_events (id, identifier, occurred_at, method, path, user_agent, api_key_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Identifier, event.OccurredAt.UnixNano(),
		event.Method, event.Path, event.UserAgent, event.APIKeyID)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// CountEvents returns the number of events for an identifier at or after since.
func (ss *SQLiteStorage) CountEvents(ctx context.Context, identifier string, since time.Time) (int, error) {
	var count int
	err := ss.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM request_events WHERE identifier = ? AND occurred_at >= ?`,
		identifier, since.UnixNano()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// OldestEvent returns the oldest event time for an identifier at or after
// since, or the zero time when there is none.
func (ss *SQLiteStorage) OldestEvent(ctx context.Context, identifier string, since time.Time) (time.Time, error) {
	var oldest sql.NullInt64
	err := ss.db.QueryRowContext(ctx,
		`SELECT MIN(occurred_at) FROM request_events WHERE identifier = ? AND occurred_at >= ?`,
		identifier, since.UnixNano()).Scan(&oldest)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get oldest event: %w", err)
	}
	if !oldest.Valid {
		return time.Time{}, nil
	}
	return time.Unix(0, oldest.Int64).UTC(), nil
}

// PruneEvents deletes events strictly older than the cutoff.
func (ss *SQLiteStorage) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := ss.db.ExecContext(ctx,
		`DELETE FROM request_events WHERE occurred_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	return removed, nil
}

// CreateAPIKey stores a new API key.
func (ss *SQLiteStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	perms, err := json.Marshal(key.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	_, err = ss.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, merchant_id, name, key_hash, prefix, permissions, enabled,
			daily_limit, daily_usage_count, daily_usage_date, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.MerchantID, key.Name, key.KeyHash, key.Prefix, string(perms), key.Enabled,
		key.DailyLimit, key.DailyUsageCount, key.DailyUsageDate,
		key.CreatedAt.UnixNano(), key.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

const sqliteAPIKeyColumns = `id, merchant_id, name, key_hash, prefix, permissions, enabled,
	daily_limit, daily_usage_count, daily_usage_date, created_at, updated_at`

// GetAPIKeyByID retrieves an API key by its ID.
func (ss *SQLiteStorage) GetAPIKeyByID(ctx context.Context, id string) (*models.APIKey, error) {
	row := ss.db.QueryRowContext(ctx,
		`SELECT `+sqliteAPIKeyColumns+` FROM api_keys WHERE id = ?`, id)
	return scanSQLiteAPIKey(row)
}

// GetAPIKeyByHash retrieves an API key by its SHA-256 hash.
func (ss *SQLiteStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	row := ss.db.QueryRowContext(ctx,
		`SELECT `+sqliteAPIKeyColumns+` FROM api_keys WHERE key_hash = ?`, hash)
	return scanSQLiteAPIKey(row)
}

// ListAPIKeys returns all API keys (both enabled and disabled).
func (ss *SQLiteStorage) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := ss.db.QueryContext(ctx,
		`SELECT `+sqliteAPIKeyColumns+` FROM api_keys ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		key, err := scanSQLiteAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// UpdateAPIKey updates an existing API key's mutable fields.
func (ss *SQLiteStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	perms, err := json.Marshal(key.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	res, err := ss.db.ExecContext(ctx,
		`UPDATE api_keys SET name = ?, permissions = ?, enabled = ?, daily_limit = ?, updated_at = ?
		 WHERE id = ?`,
		key.Name, string(perms), key.Enabled, key.DailyLimit,
		time.Now().UTC().UnixNano(), key.ID)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	return requireRowAffected(res)
}

// DeleteAPIKey removes an API key by its ID.
func (ss *SQLiteStorage) DeleteAPIKey(ctx context.Context, id string) error {
	res, err := ss.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	return requireRowAffected(res)
}

// RollDailyUsage performs the once-per-day counter reset as a single
// conditional update.
func (ss *SQLiteStorage) RollDailyUsage(ctx context.Context, keyID string, date string) error {
	_, err := ss.db.ExecContext(ctx,
		`UPDATE api_keys SET daily_usage_count = 0, daily_usage_date = ?, updated_at = ?
		 WHERE id = ? AND daily_usage_date <> ?`,
		date, time.Now().UTC().UnixNano(), keyID, date)
	if err != nil {
		return fmt.Errorf("roll daily usage: %w", err)
	}
	return nil
}

// IncrementDailyUsage adds one to a key's daily usage counter atomically.
func (ss *SQLiteStorage) IncrementDailyUsage(ctx context.Context, keyID string) error {
	res, err := ss.db.ExecContext(ctx,
		`UPDATE api_keys SET daily_usage_count = daily_usage_count + 1 WHERE id = ?`, keyID)
	if err != nil {
		return fmt.Errorf("increment daily usage: %w", err)
	}
	return requireRowAffected(res)
}

// Ping verifies the storage backend is reachable and operational.
func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection.
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSQLiteAPIKey(row rowScanner) (*models.APIKey, error) {
	var (
		key       models.APIKey
		perms     string
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&key.ID, &key.MerchantID, &key.Name, &key.KeyHash, &key.Prefix,
		&perms, &key.Enabled, &key.DailyLimit, &key.DailyUsageCount, &key.DailyUsageDate,
		&createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan api key: %w", err)
	}
	if err := json.Unmarshal([]byte(perms), &key.Permissions); err != nil {
		return nil, fmt.Errorf("unmarshal permissions: %w", err)
	}
	key.CreatedAt = time.Unix(0, createdAt).UTC()
	key.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &key, nil
}
