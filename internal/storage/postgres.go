package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStorage implements the Storage interface using PostgreSQL via pgx.
// The events relation is indexed on (identifier, occurred_at) so window
// counts stay cheap; quota fields live on the api_keys rows.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS request_events (
	id          TEXT PRIMARY KEY,
	identifier  TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
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
	permissions       JSONB NOT NULL DEFAULT '[]',
	enabled           BOOLEAN NOT NULL DEFAULT TRUE,
	daily_limit       INTEGER NOT NULL DEFAULT 10000,
	daily_usage_count INTEGER NOT NULL DEFAULT 0,
	daily_usage_date  TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStorage creates a new PostgreSQL storage instance.
func NewPostgresStorage(config Config) (Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	pool, err := pgxpool.New(context.Background(), config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(context.Background(), pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// RecordEvent appends one admitted request to the event log.
func (ps *PostgresStorage) RecordEvent(ctx context.Context, event *models.RequestEvent) error {
	_, err := ps.pool.Exec(ctx,
		`INSERT INTO request_events (id, identifier, occurred_at, method, path, user_agent, api_key_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.Identifier, timeToPgTimestamptz(event.OccurredAt),
		event.Method, event.Path, event.UserAgent, stringToPgText(event.APIKeyID))
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// CountEvents returns the number of events for an identifier at or after since.
func (ps *PostgresStorage) CountEvents(ctx context.Context, identifier string, since time.Time) (int, error) {
	var count int
	err := ps.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM request_events WHERE identifier = $1 AND occurred_at >= $2`,
		identifier, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// OldestEvent returns the oldest event time for an identifier at or after
// since, or the zero time when there is none.
func (ps *PostgresStorage) OldestEvent(ctx context.Context, identifier string, since time.Time) (time.Time, error) {
	var oldest pgtype.Timestamptz
	err := ps.pool.QueryRow(ctx,
		`SELECT MIN(occurred_at) FROM request_events WHERE identifier = $1 AND occurred_at >= $2`,
		identifier, since).Scan(&oldest)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get oldest event: %w", err)
	}
	if !oldest.Valid {
		return time.Time{}, nil
	}
	return oldest.Time, nil
}

// PruneEvents deletes events strictly older than the cutoff.
func (ps *PostgresStorage) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	tag, err := ps.pool.Exec(ctx,
		`DELETE FROM request_events WHERE occurred_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreateAPIKey stores a new API key.
func (ps *PostgresStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	perms, err := json.Marshal(key.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	_, err = ps.pool.Exec(ctx,
		`INSERT INTO api_keys (id, merchant_id, name, key_hash, prefix, permissions, enabled,
			daily_limit, daily_usage_count, daily_usage_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		key.ID, key.MerchantID, key.Name, key.KeyHash, key.Prefix, perms, key.Enabled,
		key.DailyLimit, key.DailyUsageCount, key.DailyUsageDate,
		timeToPgTimestamptz(key.CreatedAt), timeToPgTimestamptz(key.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

const apiKeyColumns = `id, merchant_id, name, key_hash, prefix, permissions, enabled,
	daily_limit, daily_usage_count, daily_usage_date, created_at, updated_at`

// GetAPIKeyByID retrieves an API key by its ID.
func (ps *PostgresStorage) GetAPIKeyByID(ctx context.Context, id string) (*models.APIKey, error) {
	row := ps.pool.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id)
	return scanAPIKey(row)
}

// GetAPIKeyByHash retrieves an API key by its SHA-256 hash.
func (ps *PostgresStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	row := ps.pool.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, hash)
	return scanAPIKey(row)
}

// ListAPIKeys returns all API keys (both enabled and disabled).
func (ps *PostgresStorage) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := ps.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows)
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
func (ps *PostgresStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	perms, err := json.Marshal(key.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	tag, err := ps.pool.Exec(ctx,
		`UPDATE api_keys SET name = $2, permissions = $3, enabled = $4, daily_limit = $5, updated_at = $6
		 WHERE id = $1`,
		key.ID, key.Name, perms, key.Enabled, key.DailyLimit,
		timeToPgTimestamptz(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAPIKey removes an API key by its ID.
func (ps *PostgresStorage) DeleteAPIKey(ctx context.Context, id string) error {
	tag, err := ps.pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RollDailyUsage performs the once-per-day counter reset as a single
// conditional update. Matching zero rows means another instance already
// rolled the counter for this date; that is not an error.
func (ps *PostgresStorage) RollDailyUsage(ctx context.Context, keyID string, date string) error {
	_, err := ps.pool.Exec(ctx,
		`UPDATE api_keys SET daily_usage_count = 0, daily_usage_date = $2, updated_at = $3
		 WHERE id = $1 AND daily_usage_date <> $2`,
		keyID, date, timeToPgTimestamptz(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("roll daily usage: %w", err)
	}
	return nil
}

// IncrementDailyUsage adds one to a key's daily usage counter atomically.
func (ps *PostgresStorage) IncrementDailyUsage(ctx context.Context, keyID string) error {
	tag, err := ps.pool.Exec(ctx,
		`UPDATE api_keys SET daily_usage_count = daily_usage_count + 1 WHERE id = $1`, keyID)
	if err != nil {
		return fmt.Errorf("increment daily usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping verifies the storage backend is reachable and operational.
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the storage connection.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row rowScanner) (*models.APIKey, error) {
	var (
		key       models.APIKey
		perms     []byte
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	err := row.Scan(&key.ID, &key.MerchantID, &key.Name, &key.KeyHash, &key.Prefix,
		&perms, &key.Enabled, &key.DailyLimit, &key.DailyUsageCount, &key.DailyUsageDate,
		&createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan api key: %w", err)
	}
	if err := json.Unmarshal(perms, &key.Permissions); err != nil {
		return nil, fmt.Errorf("unmarshal permissions: %w", err)
	}
	if createdAt.Valid {
		key.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		key.UpdatedAt = updatedAt.Time
	}
	return &key, nil
}

// pgtype helpers

func stringToPgText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

func timeToPgTimestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{Time: time.Now(), Valid: true}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}
