// Package projector materializes current state from the ordered event log.
// It is deterministic and idempotent: projecting the same envelopes twice,
// or replaying a whole history from scratch, converges on identical rows.
// That property is the system's disaster recovery - there is no backup path
// for materialized state.
package projector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"loom/internal/domain"
	"loom/internal/domain/models"
	"loom/internal/domain/repositories"
)

type handlerFunc func(ctx context.Context, env *models.Envelope, payload models.Payload) error

// Projector applies envelopes to a projection store via a per-type dispatch
// table. Envelopes with an unknown type are logged and skipped, never
// raised: older projectors must tolerate newer event vocabularies.
type Projector struct {
	store    repositories.ProjectionStore
	logger   *slog.Logger
	handlers map[models.EventType]handlerFunc
}

// New creates a projector over the given store. The dispatch table covers
// the full event vocabulary; a constant without a handler here is a bug,
// not a skip.
func New(store repositories.ProjectionStore, logger *slog.Logger) *Projector {
	p := &Projector{
		store:  store,
		logger: logger,
	}
	p.handlers = map[models.EventType]handlerFunc{
		models.EventTreeCreated:         p.applyTreeCreated,
		models.EventTreeMetadataUpdated: p.applyTreeMetadataUpdated,
		models.EventTreeArchived:        p.applyTreeArchived,
		models.EventNodeCreated:         p.applyNodeCreated,
		models.EventNodeContentEdited:   p.applyNodeContentEdited,
		models.EventNodeArchived:        p.applyNodeArchived,
		models.EventAnnotationAdded:     p.applyAnnotationAdded,
		models.EventAnnotationRemoved:   p.applyAnnotationRemoved,
		models.EventBookmarkAdded:       p.applyBookmarkAdded,
		models.EventBookmarkRemoved:     p.applyBookmarkRemoved,
		models.EventNodeExcluded:        p.applyNodeExcluded,
		models.EventNodeIncluded:        p.applyNodeIncluded,
		models.EventAnchorAdded:         p.applyAnchorAdded,
		models.EventAnchorRemoved:       p.applyAnchorRemoved,
		models.EventDigressionCreated:   p.applyDigressionCreated,
		models.EventDigressionToggled:   p.applyDigressionToggled,
		models.EventDigressionRemoved:   p.applyDigressionRemoved,
	}
	return p
}

// Project applies envelopes in the order given. Callers pass them ascending
// by sequence; the write path projects each accepted envelope synchronously
// in the same request, and replay feeds whole histories through here.
func (p *Projector) Project(ctx context.Context, envelopes []models.Envelope) error {
	for i := range envelopes {
		env := &envelopes[i]

		handler, ok := p.handlers[env.Type]
		if !ok {
			p.logger.Debug("skipping unknown event type",
				"event_type", env.Type,
				"event_id", env.EventID,
				"seq", env.Seq,
			)
			continue
		}

		payload, err := models.DecodePayload(env.Type, env.Payload)
		if err != nil {
			return fmt.Errorf("event %s (seq %d): %w", env.EventID, env.Seq, err)
		}

		if err := handler(ctx, env, payload); err != nil {
			return fmt.Errorf("apply %s (seq %d): %w", env.Type, env.Seq, err)
		}
	}
	return nil
}

// GetTree returns the materialized tree, or domain.ErrNotFound.
func (p *Projector) GetTree(ctx context.Context, id string) (*models.Tree, error) {
	return p.store.GetTree(ctx, id)
}

// GetNodes returns a tree's materialized nodes ordered by creation time.
func (p *Projector) GetNodes(ctx context.Context, treeID string) ([]models.Node, error) {
	return p.store.ListNodes(ctx, treeID)
}

// --- tree handlers ---

func (p *Projector) applyTreeCreated(ctx context.Context, env *models.Envelope, payload models.Payload) error {
	pl := payload.(*models.TreeCreatedPayload)
	mode := pl.Mode
	if mode == "" {
		mode = models.ModeChat
	}
	tree := &models.Tree{
		ID:        env.TreeID,
		Title:     pl.Title,
		Metadata:  pl.Metadata,
		Params:    pl.Params,
		Mode:      mode,
		CreatedAt: env.Timestamp,
		UpdatedAt: env.Timestamp,
	}
	return p.store.UpsertTree(ctx, tree)
}

// treeFields is the allow-list for metadata-update events. An unrecognized
// field name is logged and skipped, never raised.
var treeFields = map[string]struct{}{
	"title":         {},
	"metadata":      {},
	"mode":          {},
	"provider":      {},
	"model":         {},
	"system_prompt": {},
	"sampling":      {},
}

func (p *Projector) applyTreeMetadataUpdated(ctx context.Context, env *models.Envelope, payload models.Payload) error {
	pl := payload.(*models.TreeMetadataUpdatedPayload)

	if _, ok := treeFields[pl.Field]; !ok {
		p.logger.Warn("skipping update to unknown tree field",
			"field", pl.Field,
			"tree_id", env.TreeID,
			"event_id", env.EventID,
		)
		return nil
	}

	tree, err := p.store.GetTree(ctx, env.TreeID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			p.logger.Warn("metadata update for unprojected tree, skipping",
				"tree_id", env.TreeID, "event_id", env.EventID)
			return nil
		}
		return err
	}

	if err := applyTreeField(tree, pl.Field, pl.Value); err != nil {
		return fmt.Errorf("field %s: %w", pl.Field, err)
	}
	tree.UpdatedAt = env.Timestamp
	return p.store.UpsertTree(ctx, tree)
}

func applyTreeField(tree *models.Tree, field string, value json.RawMessage) error {
	switch field {
	case "title":
		return json.Unmarshal(value, &tree.Title)
	case "metadata":
		return json.Unmarshal(value, &tree.Metadata)
	case "mode":
		return json.Unmarshal(value, &tree.Mode)
	case "provider":
		return json.Unmarshal(value, &tree.Params.Provider)
	case "model":
		return json.Unmarshal(value, &tree.Params.Model)
	case "system_prompt":
		return json.Unmarshal(value, &tree.Params.SystemPrompt)
	case "sampling":
		return json.Unmarshal(value, &tree.Params.Sampling)
	}
	return nil
}

func (p *Projector) applyTreeArchived(ctx context.Context, env *models.Envelope, payload models.Payload) error {
	pl := payload.(*models.TreeArchivedPayload)
	tree, err := p.store.GetTree(ctx, env.TreeID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			p.logger.Warn("archive event for unprojected tree, skipping",
				"tree_id", env.TreeID, "event_id", env.EventID)
			return nil
		}
		return err
	}
	tree.Archived = pl.Archived
	tree.UpdatedAt = env.Timestamp
	return p.store.UpsertTree(ctx, tree)
}

// --- node handlers ---

func (p *Projector) applyNodeCreated(ctx context.Context, env *models.Envelope, payload models.Payload) error {
	pl := payload.(*models.NodeCreatedPayload)
	createdAt := pl.CreatedAt
	if createdAt.IsZero() {
		createdAt = env.Timestamp
	}
	node := &models.Node{
		ID:         pl.NodeID,
		TreeID:     env.TreeID,
		ParentID:   pl.ParentID,
		Role:       pl.Role,
		Content:    pl.Content,
		Generation: pl.Generation,
		Flags:      pl.Flags,
		CreatedAt:  createdAt,
	}
	return p.store.UpsertNode(ctx, node)
}

func (p *Projector) applyNodeContentEdited(ctx context.Context, env *models.Envelope, payload models.Payload) error {
	pl := payload.(*models.NodeContentEditedPayload)
	node, err := p.store.GetNode(ctx, pl.NodeID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			p.logger.Warn("content edit for unprojected node, skipping",
				"node_id", pl.NodeID, "event_id", env.EventID)
			return nil
		}
		return err
	}
	// Only the override column moves; the original content is immutable.
	node.ContentOverride = pl.Override
	return p.store.UpsertNode(ctx, node)
}

func (p *Projector) applyNodeArchived(ctx context.Context, env *models.Envelope, payload models.Payload) error {
	pl := payload.(*models.NodeArchivedPayload)
	node, err := p.store.GetNode(ctx, pl.NodeID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			p.logger.Warn("archive event for unprojected node, skipping",
				"node_id", pl.NodeID, "event_id", env.EventID)
			return nil
		}
		return err
	}
	node.Archived = pl.Archived
	return p.store.UpsertNode(ctx, node)
}

// --- side-relation handlers ---
// These mirror their source events exactly: add upserts, remove deletes,
// toggle replaces state.

func (p *Projector) applyAnnotationAdded(ctx context.Context, env *models.Envelope, payload models.Payload) error {
	pl := payload.(*models.AnnotationAddedPayload)
	return p.store.UpsertAnnotation(ctx, &models.Annotation{
		ID:        pl.AnnotationID,
		TreeID:    env.TreeID,
		NodeID:    pl.NodeID,
		Body:      pl.Body,
		CreatedAt: env.Timestamp,
	})
}

func (p *Projector) applyAnnotationRemoved(ctx context.Context, env *models.Envelope, payload models.Payload) error {
	pl := payload.(*models.AnnotationRemovedPayload)
	return p.store.DeleteAnnotation(ctx, pl.AnnotationID)
}

func (p *Projector) applyBookmarkAdded(ctx context.Context, env *models.Envelope, payload models.Payload) error {
	pl := payload.(*models.BookmarkAddedPayload)
	return p.store.UpsertBookmark(ctx, &models.Bookmark{
		TreeID:    env.TreeID,
		NodeID:    pl.NodeID,
		Label:     pl.Label,
		CreatedAt: env.Timestamp,
	})
}

func (p *Projector) applyBookmarkRemoved(ctx context.Context, env *models.Envelope, payload models.Payload) error {
	pl := payload.(*models.BookmarkRemovedPayload)
	return p.store.DeleteBookmark(ctx, pl.NodeID)
}

func (p *Projector) applyNodeExcluded(ctx context.Context, env *models.Envelope, payload models.Payload) error {
	pl := payload.(*models.NodeExcludedPayload)
	return p.store.UpsertExclusion(ctx, &models.Exclusion{
		TreeID:  env.TreeID,
		NodeID:  pl.NodeID,
		ScopeID: pl.ScopeID,
		Mode:    models.ExclusionExclude,
	})
}

func (p *Projector) applyNodeIncluded(ctx context.Context, env *models.Envelope, payload models.Payload) error {
	pl := payload.(*models.NodeIncludedPayload)
	return p.store.UpsertExclusion(ctx, &models.Exclusion{
		TreeID:  env.TreeID,
		NodeID:  pl.NodeID,
		ScopeID: pl.ScopeID,
		Mode:    models.ExclusionInclude,
	})
}

func (p *Projector) applyAnchorAdded(ctx context.Context, env *models.Envelope, payload models.Payload) error {
	pl := payload.(*models.AnchorAddedPayload)
	return p.store.UpsertAnchor(ctx, &models.Anchor{
		TreeID:    env.TreeID,
		NodeID:    pl.NodeID,
		CreatedAt: env.Timestamp,
	})
}

func (p *Projector) applyAnchorRemoved(ctx context.Context, env *models.Envelope, payload models.Payload) error {
	pl := payload.(*models.AnchorRemovedPayload)
	return p.store.DeleteAnchor(ctx, pl.NodeID)
}

func (p *Projector) applyDigressionCreated(ctx context.Context, env *models.Envelope, payload models.Payload) error {
	pl := payload.(*models.DigressionCreatedPayload)
	return p.store.UpsertDigression(ctx, &models.Digression{
		ID:        pl.GroupID,
		TreeID:    env.TreeID,
		Label:     pl.Label,
		MemberIDs: pl.MemberIDs,
		Enabled:   pl.Enabled,
		CreatedAt: env.Timestamp,
	})
}

func (p *Projector) applyDigressionToggled(ctx context.Context, env *models.Envelope, payload models.Payload) error {
	pl := payload.(*models.DigressionToggledPayload)
	groups, err := p.store.ListDigressions(ctx, env.TreeID)
	if err != nil {
		return err
	}
	for i := range groups {
		if groups[i].ID == pl.GroupID {
			groups[i].Enabled = pl.Enabled
			return p.store.UpsertDigression(ctx, &groups[i])
		}
	}
	p.logger.Warn("toggle for unknown digression group, skipping",
		"group_id", pl.GroupID, "event_id", env.EventID)
	return nil
}

func (p *Projector) applyDigressionRemoved(ctx context.Context, env *models.Envelope, payload models.Payload) error {
	pl := payload.(*models.DigressionRemovedPayload)
	return p.store.DeleteDigression(ctx, pl.GroupID)
}
