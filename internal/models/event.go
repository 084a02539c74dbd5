package models

import (
	"time"

	"github.com/google/uuid"
)

// RequestEvent is one admitted request in the admission gate's event log.
// Events are append-only and immutable once written; they exist solely so
// the gate can count them in sliding windows and are pruned once they fall
// outside the retention horizon.
type RequestEvent struct {
	ID         string    `json:"id"`
	Identifier string    `json:"identifier"` // "ip:<addr>" or "apikey:<id>"
	OccurredAt time.Time `json:"occurred_at"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	UserAgent  string    `json:"user_agent"`
	APIKeyID   string    `json:"api_key_id,omitempty"`
}

// NewRequestEvent creates an event for an admitted request. The API key ID
// is empty for anonymous traffic.
func NewRequestEvent(identifier, method, path, userAgent, apiKeyID string, occurredAt time.Time) *RequestEvent {
	return &RequestEvent{
		ID:         uuid.New().String(),
		Identifier: identifier,
		OccurredAt: occurredAt.UTC(),
		Method:     method,
		Path:       path,
		UserAgent:  userAgent,
		APIKeyID:   apiKeyID,
	}
}
