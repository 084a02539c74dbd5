package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"storefront/internal/models"
)

// MemoryStorage implements the Storage interface using in-memory data
// structures. This provider is ideal for development, testing, and
// single-instance scenarios where counters do not need to survive a restart.
type MemoryStorage struct {
	mu           sync.RWMutex
	events       map[string][]*models.RequestEvent // key: identifier
	apiKeys      map[string]*models.APIKey         // keyed by ID
	apiKeyHashes map[string]string                 // hash -> ID
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		events:       make(map[string][]*models.RequestEvent),
		apiKeys:      make(map[string]*models.APIKey),
		apiKeyHashes: make(map[string]string),
	}, nil
}

// RecordEvent appends one admitted request to the event log.
func (m *MemoryStorage) RecordEvent(ctx context.Context, event *models.RequestEvent) error {
	if event.Identifier == "" {
		return fmt.Errorf("event identifier cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *event
	m.events[event.Identifier] = append(m.events[event.Identifier], &c)
	return nil
}

// CountEvents returns the number of events for an identifier at or after since.
func (m *MemoryStorage) CountEvents(ctx context.Context, identifier string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, e := range m.events[identifier] {
		if !e.OccurredAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// OldestEvent returns the oldest event time for an identifier at or after
// since, or the zero time when there is none.
func (m *MemoryStorage) OldestEvent(ctx context.Context, identifier string, since time.Time) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var oldest time.Time
	for _, e := range m.events[identifier] {
		if e.OccurredAt.Before(since) {
			continue
		}
		if oldest.IsZero() || e.OccurredAt.Before(oldest) {
			oldest = e.OccurredAt
		}
	}
	return oldest, nil
}

// PruneEvents deletes events strictly older than the cutoff.
func (m *MemoryStorage) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for identifier, events := range m.events {
		kept := events[:0]
		for _, e := range events {
			if e.OccurredAt.Before(before) {
				removed++
			} else {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(m.events, identifier)
		} else {
			m.events[identifier] = kept
		}
	}
	return removed, nil
}

// CreateAPIKey stores a new API key in memory.
func (m *MemoryStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *key
	m.apiKeys[key.ID] = &c
	m.apiKeyHashes[key.KeyHash] = key.ID
	return nil
}

// GetAPIKeyByID retrieves an API key by its ID.
// Returns ErrNotFound if no matching key exists.
func (m *MemoryStorage) GetAPIKeyByID(ctx context.Context, id string) (*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.apiKeys[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *k
	return &c, nil
}

// GetAPIKeyByHash retrieves an API key by its SHA-256 hash.
// Returns ErrNotFound if no matching key exists.
func (m *MemoryStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.apiKeyHashes[hash]
	if !ok {
		return nil, ErrNotFound
	}
	c := *m.apiKeys[id]
	return &c, nil
}

// ListAPIKeys returns all API keys (both enabled and disabled).
func (m *MemoryStorage) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.APIKey, 0, len(m.apiKeys))
	for _, k := range m.apiKeys {
		c := *k
		out = append(out, &c)
	}
	return out, nil
}

// UpdateAPIKey replaces the mutable fields of an existing API key. The quota
// counters are owned by RollDailyUsage/IncrementDailyUsage and are preserved
// so a concurrent increment is not lost, matching the database backends.
// Returns ErrNotFound if the key does not exist.
func (m *MemoryStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.apiKeys[key.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.KeyHash != key.KeyHash {
		delete(m.apiKeyHashes, existing.KeyHash)
		m.apiKeyHashes[key.KeyHash] = key.ID
	}
	c := *key
	c.DailyUsageCount = existing.DailyUsageCount
	c.DailyUsageDate = existing.DailyUsageDate
	m.apiKeys[key.ID] = &c
	return nil
}

// DeleteAPIKey permanently removes an API key by ID.
// Returns ErrNotFound if the key does not exist.
func (m *MemoryStorage) DeleteAPIKey(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.apiKeyHashes, k.KeyHash)
	delete(m.apiKeys, id)
	return nil
}

// RollDailyUsage resets the daily counter when the stored date differs from
// the given date. The whole check-and-reset runs under one lock, matching
// the conditional-update semantics of the database backends.
func (m *MemoryStorage) RollDailyUsage(ctx context.Context, keyID string, date string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[keyID]
	if !ok {
		return ErrNotFound
	}
	if k.DailyUsageDate != date {
		k.DailyUsageCount = 0
		k.DailyUsageDate = date
		k.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// IncrementDailyUsage adds one to a key's daily usage counter.
func (m *MemoryStorage) IncrementDailyUsage(ctx context.Context, keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[keyID]
	if !ok {
		return ErrNotFound
	}
	k.DailyUsageCount++
	k.UpdatedAt = time.Now().UTC()
	return nil
}

// Ping verifies the storage backend is reachable and operational.
func (m *MemoryStorage) Ping(_ context.Context) error {
	return nil
}

// Close closes the storage connection and cleans up resources
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = make(map[string][]*models.RequestEvent)
	m.apiKeys = make(map[string]*models.APIKey)
	m.apiKeyHashes = make(map[string]string)
	return nil
}
