package storage

import (
	"context"
	"time"

	"storefront/internal/models"
)

// Storage defines the interface for the admission gate's durable state: the
// append-only request event log and the API key registry with its daily
// quota counters. It provides a clean abstraction that can be implemented by
// different backends such as in-memory maps, relational databases, or Redis.
//
// All coordination between server instances happens through this interface;
// the gate itself keeps no cross-request state.
type Storage interface {
	// RecordEvent appends one admitted request to the event log
	RecordEvent(ctx context.Context, event *models.RequestEvent) error

	// CountEvents returns the number of events for an identifier with
	// occurred_at >= since
	CountEvents(ctx context.Context, identifier string, since time.Time) (int, error)

	// OldestEvent returns the occurrence time of the oldest event for an
	// identifier with occurred_at >= since, or the zero time when there is
	// none. The gate uses it to report when a full window frees up.
	OldestEvent(ctx context.Context, identifier string, since time.Time) (time.Time, error)

	// PruneEvents deletes events older than the given cutoff and returns
	// the number of rows removed. Safe to run concurrently with RecordEvent.
	PruneEvents(ctx context.Context, before time.Time) (int64, error)

	// CreateAPIKey stores a new API key
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	// GetAPIKeyByID retrieves an API key by its ID
	GetAPIKeyByID(ctx context.Context, id string) (*models.APIKey, error)

	// GetAPIKeyByHash retrieves an API key by its SHA-256 hash
	GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error)

	// ListAPIKeys returns all API keys (both enabled and disabled)
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)

	// UpdateAPIKey replaces the mutable fields of an existing API key
	UpdateAPIKey(ctx context.Context, key *models.APIKey) error

	// DeleteAPIKey permanently removes an API key by ID
	DeleteAPIKey(ctx context.Context, id string) error

	// RollDailyUsage resets a key's daily usage counter to zero and stamps
	// the given UTC date, but only when the stored date differs. The check
	// and reset must be a single conditional update so the roll-over happens
	// exactly once per key per day under concurrent requests.
	RollDailyUsage(ctx context.Context, keyID string, date string) error

	// IncrementDailyUsage adds one to a key's daily usage counter. Called
	// only after a request has been admitted by every tier.
	IncrementDailyUsage(ctx context.Context, keyID string) error

	// Ping verifies the storage backend is reachable and operational
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (memory, postgres, sqlite, redis)
	Type string `json:"type" yaml:"type"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	// Redis holds connection settings for the redis backend
	Redis models.RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty"`

	// Additional options for specific backends
	Options map[string]interface{} `json:"options,omitempty" yaml:"options,omitempty"`
}
