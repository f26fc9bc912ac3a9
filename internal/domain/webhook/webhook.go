// Package webhook holds the idempotency log for inbound provider webhooks.
package webhook

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Log is one received webhook delivery. The (Provider, EventType, Reference)
// tuple is unique: a second delivery of the same event registers nothing.
type Log struct {
	ID        uuid.UUID
	Provider  string
	EventType string
	Reference string
	Payload   string
	Processed bool
	Error     string
	CreatedAt time.Time
}

// NewLog records a raw delivery prior to processing.
func NewLog(provider, eventType, reference, payload string) *Log {
	return &Log{
		ID:        uuid.New(),
		Provider:  provider,
		EventType: eventType,
		Reference: reference,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// Repository persists webhook logs.
type Repository interface {
	// Register inserts the log. Returns created=false on a duplicate
	// (provider, eventType, reference) tuple with no other side effect.
	Register(ctx context.Context, l *Log) (created bool, err error)

	// MarkProcessed records the processing outcome; procErr empty on success.
	MarkProcessed(ctx context.Context, id uuid.UUID, procErr string) error
}
