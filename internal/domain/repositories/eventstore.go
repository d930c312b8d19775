package repositories

import (
	"context"

	"loom/internal/domain/models"
)

// EventStore is the append-only system of record. There is no update or
// delete: corrections are modeled as new events. Append assigns the global
// sequence number atomically with the durable write and returns it;
// a colliding event id fails with domain.DuplicateEventError.
type EventStore interface {
	Append(ctx context.Context, env *models.Envelope) (int64, error)

	// GetEvents returns all envelopes for a tree, ascending by sequence.
	GetEvents(ctx context.Context, treeID string) ([]models.Envelope, error)

	// GetEventsSince returns all envelopes across trees with a strictly
	// greater sequence number, ascending. Used for tailing and sync.
	GetEventsSince(ctx context.Context, seq int64) ([]models.Envelope, error)
}
