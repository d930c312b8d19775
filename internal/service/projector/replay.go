package projector

import (
	"context"
	"log/slog"

	"loom/internal/domain/models"
	"loom/internal/domain/repositories"
)

// Rebuilder reconstructs materialized state from the event log. Because
// projection is deterministic, a rebuild always converges on the same rows
// the incremental path produced - this is the recovery mechanism for the
// append-then-project window and for dropped projection tables.
type Rebuilder struct {
	events    repositories.EventStore
	store     repositories.ProjectionStore
	projector *Projector
	logger    *slog.Logger
}

// NewRebuilder creates a rebuilder over the given stores.
func NewRebuilder(events repositories.EventStore, store repositories.ProjectionStore, logger *slog.Logger) *Rebuilder {
	return &Rebuilder{
		events:    events,
		store:     store,
		projector: New(store, logger),
		logger:    logger,
	}
}

// RebuildTree clears one tree's materialized rows and replays its history.
func (r *Rebuilder) RebuildTree(ctx context.Context, treeID string) (int, error) {
	history, err := r.events.GetEvents(ctx, treeID)
	if err != nil {
		return 0, err
	}

	if err := r.store.ResetTree(ctx, treeID); err != nil {
		return 0, err
	}

	if err := r.projector.Project(ctx, history); err != nil {
		return 0, err
	}

	r.logger.Info("tree rebuilt from event log",
		"tree_id", treeID,
		"events", len(history),
	)
	return len(history), nil
}

// RebuildAll clears all materialized state and replays the full log.
func (r *Rebuilder) RebuildAll(ctx context.Context) (int, error) {
	history, err := r.events.GetEventsSince(ctx, 0)
	if err != nil {
		return 0, err
	}

	if err := r.store.Reset(ctx); err != nil {
		return 0, err
	}

	if err := r.projector.Project(ctx, history); err != nil {
		return 0, err
	}

	r.logger.Info("projection rebuilt from event log", "events", len(history))
	return len(history), nil
}

// Verify replays a tree's history into the given scratch store without
// touching live state. Used by loomctl's dry-run replay to validate a log.
func (r *Rebuilder) Verify(ctx context.Context, treeID string, scratch repositories.ProjectionStore) ([]models.Envelope, error) {
	history, err := r.events.GetEvents(ctx, treeID)
	if err != nil {
		return nil, err
	}
	verifier := New(scratch, r.logger)
	if err := verifier.Project(ctx, history); err != nil {
		return nil, err
	}
	return history, nil
}
