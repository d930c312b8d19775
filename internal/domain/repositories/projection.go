package repositories

import (
	"context"

	"loom/internal/domain/models"
)

// ProjectionStore holds the materialized read-side state derived from the
// event log. Every write is an upsert or an exact delete keyed by stable
// entity id, which is what makes projection idempotent: re-applying an
// event overwrites the same row with the same values.
//
// The whole store is disposable - Reset plus a full replay reconstructs it.
type ProjectionStore interface {
	// Trees
	UpsertTree(ctx context.Context, tree *models.Tree) error
	GetTree(ctx context.Context, id string) (*models.Tree, error)
	ListTrees(ctx context.Context) ([]models.Tree, error)

	// Nodes
	UpsertNode(ctx context.Context, node *models.Node) error
	GetNode(ctx context.Context, id string) (*models.Node, error)
	// ListNodes returns a tree's nodes ordered by creation time.
	ListNodes(ctx context.Context, treeID string) ([]models.Node, error)

	// Side-relations
	UpsertAnnotation(ctx context.Context, a *models.Annotation) error
	DeleteAnnotation(ctx context.Context, id string) error
	ListAnnotations(ctx context.Context, treeID string) ([]models.Annotation, error)

	UpsertBookmark(ctx context.Context, b *models.Bookmark) error
	DeleteBookmark(ctx context.Context, nodeID string) error
	ListBookmarks(ctx context.Context, treeID string) ([]models.Bookmark, error)

	// UpsertExclusion replaces any existing mark for (node, scope); include
	// and exclude marks share the table.
	UpsertExclusion(ctx context.Context, e *models.Exclusion) error
	ListExclusions(ctx context.Context, treeID string) ([]models.Exclusion, error)

	UpsertAnchor(ctx context.Context, a *models.Anchor) error
	DeleteAnchor(ctx context.Context, nodeID string) error
	ListAnchors(ctx context.Context, treeID string) ([]models.Anchor, error)

	UpsertDigression(ctx context.Context, d *models.Digression) error
	DeleteDigression(ctx context.Context, id string) error
	ListDigressions(ctx context.Context, treeID string) ([]models.Digression, error)

	// ResetTree clears all materialized rows for one tree; Reset clears
	// everything. Both exist solely for replay.
	ResetTree(ctx context.Context, treeID string) error
	Reset(ctx context.Context) error
}
