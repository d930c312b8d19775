package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"loom/internal/domain"
	"loom/internal/domain/models"
	"loom/internal/domain/repositories"
)

// ProjectionStore implements the materialized read side on Postgres. Every
// write is an ON CONFLICT upsert or an exact DELETE keyed by entity id, so
// re-applying any event is a no-op after the first application.
type ProjectionStore struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewProjectionStore creates a Postgres-backed projection store.
func NewProjectionStore(config *RepositoryConfig) repositories.ProjectionStore {
	return &ProjectionStore{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// --- trees ---

func (s *ProjectionStore) UpsertTree(ctx context.Context, tree *models.Tree) error {
	metadata, err := json.Marshal(tree.Metadata)
	if err != nil {
		return fmt.Errorf("marshal tree metadata: %w", err)
	}
	params, err := json.Marshal(tree.Params)
	if err != nil {
		return fmt.Errorf("marshal tree params: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, title, metadata, params, mode, created_at, updated_at, archived)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			metadata = EXCLUDED.metadata,
			params = EXCLUDED.params,
			mode = EXCLUDED.mode,
			updated_at = EXCLUDED.updated_at,
			archived = EXCLUDED.archived
	`, s.tables.Trees)

	executor := GetExecutor(ctx, s.pool)
	_, err = executor.Exec(ctx, query,
		tree.ID, tree.Title, metadata, params, string(tree.Mode),
		tree.CreatedAt, tree.UpdatedAt, tree.Archived,
	)
	if err != nil {
		return fmt.Errorf("upsert tree: %w", err)
	}
	return nil
}

func (s *ProjectionStore) GetTree(ctx context.Context, id string) (*models.Tree, error) {
	query := fmt.Sprintf(`
		SELECT id, title, metadata, params, mode, created_at, updated_at, archived
		FROM %s WHERE id = $1
	`, s.tables.Trees)

	executor := GetExecutor(ctx, s.pool)
	tree, err := scanTree(executor.QueryRow(ctx, query, id))
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, &domain.NotFoundError{Kind: "tree", ID: id}
		}
		return nil, fmt.Errorf("get tree: %w", err)
	}
	return tree, nil
}

func (s *ProjectionStore) ListTrees(ctx context.Context) ([]models.Tree, error) {
	query := fmt.Sprintf(`
		SELECT id, title, metadata, params, mode, created_at, updated_at, archived
		FROM %s ORDER BY created_at ASC
	`, s.tables.Trees)

	executor := GetExecutor(ctx, s.pool)
	rows, err := executor.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list trees: %w", err)
	}
	defer rows.Close()

	var trees []models.Tree
	for rows.Next() {
		tree, err := scanTree(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tree: %w", err)
		}
		trees = append(trees, *tree)
	}
	return trees, rows.Err()
}

// scanner is implemented by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTree(row scanner) (*models.Tree, error) {
	var tree models.Tree
	var metadata, params []byte
	var mode string
	if err := row.Scan(
		&tree.ID, &tree.Title, &metadata, &params, &mode,
		&tree.CreatedAt, &tree.UpdatedAt, &tree.Archived,
	); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &tree.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal tree metadata: %w", err)
		}
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &tree.Params); err != nil {
			return nil, fmt.Errorf("unmarshal tree params: %w", err)
		}
	}
	tree.Mode = models.ConversationMode(mode)
	return &tree, nil
}

// --- nodes ---

func (s *ProjectionStore) UpsertNode(ctx context.Context, node *models.Node) error {
	var generation []byte
	if node.Generation != nil {
		var err error
		generation, err = json.Marshal(node.Generation)
		if err != nil {
			return fmt.Errorf("marshal node generation: %w", err)
		}
	}
	flags, err := json.Marshal(node.Flags)
	if err != nil {
		return fmt.Errorf("marshal node flags: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, tree_id, parent_id, role, content, content_override,
		                generation, flags, created_at, archived)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			content_override = EXCLUDED.content_override,
			generation = EXCLUDED.generation,
			flags = EXCLUDED.flags,
			archived = EXCLUDED.archived
	`, s.tables.Nodes)

	executor := GetExecutor(ctx, s.pool)
	_, err = executor.Exec(ctx, query,
		node.ID, node.TreeID, node.ParentID, string(node.Role),
		node.Content, node.ContentOverride, generation, flags,
		node.CreatedAt, node.Archived,
	)
	if err != nil {
		return fmt.Errorf("upsert node: %w", err)
	}
	return nil
}

func (s *ProjectionStore) GetNode(ctx context.Context, id string) (*models.Node, error) {
	query := fmt.Sprintf(`
		SELECT id, tree_id, parent_id, role, content, content_override,
		       generation, flags, created_at, archived
		FROM %s WHERE id = $1
	`, s.tables.Nodes)

	executor := GetExecutor(ctx, s.pool)
	node, err := scanNode(executor.QueryRow(ctx, query, id))
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, &domain.NotFoundError{Kind: "node", ID: id}
		}
		return nil, fmt.Errorf("get node: %w", err)
	}
	return node, nil
}

func (s *ProjectionStore) ListNodes(ctx context.Context, treeID string) ([]models.Node, error) {
	query := fmt.Sprintf(`
		SELECT id, tree_id, parent_id, role, content, content_override,
		       generation, flags, created_at, archived
		FROM %s WHERE tree_id = $1
		ORDER BY created_at ASC, id ASC
	`, s.tables.Nodes)

	executor := GetExecutor(ctx, s.pool)
	rows, err := executor.Query(ctx, query, treeID)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []models.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, *node)
	}
	return nodes, rows.Err()
}

func scanNode(row scanner) (*models.Node, error) {
	var node models.Node
	var role string
	var generation, flags []byte
	if err := row.Scan(
		&node.ID, &node.TreeID, &node.ParentID, &role,
		&node.Content, &node.ContentOverride, &generation, &flags,
		&node.CreatedAt, &node.Archived,
	); err != nil {
		return nil, err
	}
	node.Role = models.Role(role)
	if len(generation) > 0 {
		node.Generation = &models.GenerationMeta{}
		if err := json.Unmarshal(generation, node.Generation); err != nil {
			return nil, fmt.Errorf("unmarshal node generation: %w", err)
		}
	}
	if len(flags) > 0 {
		if err := json.Unmarshal(flags, &node.Flags); err != nil {
			return nil, fmt.Errorf("unmarshal node flags: %w", err)
		}
	}
	return &node, nil
}

// --- annotations ---

func (s *ProjectionStore) UpsertAnnotation(ctx context.Context, a *models.Annotation) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, tree_id, node_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body
	`, s.tables.Annotations)

	executor := GetExecutor(ctx, s.pool)
	if _, err := executor.Exec(ctx, query, a.ID, a.TreeID, a.NodeID, a.Body, a.CreatedAt); err != nil {
		return fmt.Errorf("upsert annotation: %w", err)
	}
	return nil
}

func (s *ProjectionStore) DeleteAnnotation(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.tables.Annotations)
	executor := GetExecutor(ctx, s.pool)
	if _, err := executor.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("delete annotation: %w", err)
	}
	return nil
}

func (s *ProjectionStore) ListAnnotations(ctx context.Context, treeID string) ([]models.Annotation, error) {
	query := fmt.Sprintf(`
		SELECT id, tree_id, node_id, body, created_at
		FROM %s WHERE tree_id = $1 ORDER BY created_at ASC
	`, s.tables.Annotations)

	executor := GetExecutor(ctx, s.pool)
	rows, err := executor.Query(ctx, query, treeID)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	var annotations []models.Annotation
	for rows.Next() {
		var a models.Annotation
		if err := rows.Scan(&a.ID, &a.TreeID, &a.NodeID, &a.Body, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		annotations = append(annotations, a)
	}
	return annotations, rows.Err()
}

// --- bookmarks ---

func (s *ProjectionStore) UpsertBookmark(ctx context.Context, b *models.Bookmark) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (node_id, tree_id, label, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (node_id) DO UPDATE SET label = EXCLUDED.label
	`, s.tables.Bookmarks)

	executor := GetExecutor(ctx, s.pool)
	if _, err := executor.Exec(ctx, query, b.NodeID, b.TreeID, b.Label, b.CreatedAt); err != nil {
		return fmt.Errorf("upsert bookmark: %w", err)
	}
	return nil
}

func (s *ProjectionStore) DeleteBookmark(ctx context.Context, nodeID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE node_id = $1`, s.tables.Bookmarks)
	executor := GetExecutor(ctx, s.pool)
	if _, err := executor.Exec(ctx, query, nodeID); err != nil {
		return fmt.Errorf("delete bookmark: %w", err)
	}
	return nil
}

func (s *ProjectionStore) ListBookmarks(ctx context.Context, treeID string) ([]models.Bookmark, error) {
	query := fmt.Sprintf(`
		SELECT node_id, tree_id, label, created_at
		FROM %s WHERE tree_id = $1 ORDER BY created_at ASC
	`, s.tables.Bookmarks)

	executor := GetExecutor(ctx, s.pool)
	rows, err := executor.Query(ctx, query, treeID)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	defer rows.Close()

	var bookmarks []models.Bookmark
	for rows.Next() {
		var b models.Bookmark
		if err := rows.Scan(&b.NodeID, &b.TreeID, &b.Label, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		bookmarks = append(bookmarks, b)
	}
	return bookmarks, rows.Err()
}

// --- exclusions ---

func (s *ProjectionStore) UpsertExclusion(ctx context.Context, e *models.Exclusion) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (node_id, scope_id, tree_id, mode)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (node_id, scope_id) DO UPDATE SET mode = EXCLUDED.mode
	`, s.tables.Exclusions)

	executor := GetExecutor(ctx, s.pool)
	if _, err := executor.Exec(ctx, query, e.NodeID, e.ScopeID, e.TreeID, string(e.Mode)); err != nil {
		return fmt.Errorf("upsert exclusion: %w", err)
	}
	return nil
}

func (s *ProjectionStore) ListExclusions(ctx context.Context, treeID string) ([]models.Exclusion, error) {
	query := fmt.Sprintf(`
		SELECT node_id, scope_id, tree_id, mode
		FROM %s WHERE tree_id = $1
	`, s.tables.Exclusions)

	executor := GetExecutor(ctx, s.pool)
	rows, err := executor.Query(ctx, query, treeID)
	if err != nil {
		return nil, fmt.Errorf("list exclusions: %w", err)
	}
	defer rows.Close()

	var exclusions []models.Exclusion
	for rows.Next() {
		var e models.Exclusion
		var mode string
		if err := rows.Scan(&e.NodeID, &e.ScopeID, &e.TreeID, &mode); err != nil {
			return nil, fmt.Errorf("scan exclusion: %w", err)
		}
		e.Mode = models.ExclusionMode(mode)
		exclusions = append(exclusions, e)
	}
	return exclusions, rows.Err()
}

// --- anchors ---

func (s *ProjectionStore) UpsertAnchor(ctx context.Context, a *models.Anchor) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (node_id, tree_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (node_id) DO NOTHING
	`, s.tables.Anchors)

	executor := GetExecutor(ctx, s.pool)
	if _, err := executor.Exec(ctx, query, a.NodeID, a.TreeID, a.CreatedAt); err != nil {
		return fmt.Errorf("upsert anchor: %w", err)
	}
	return nil
}

func (s *ProjectionStore) DeleteAnchor(ctx context.Context, nodeID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE node_id = $1`, s.tables.Anchors)
	executor := GetExecutor(ctx, s.pool)
	if _, err := executor.Exec(ctx, query, nodeID); err != nil {
		return fmt.Errorf("delete anchor: %w", err)
	}
	return nil
}

func (s *ProjectionStore) ListAnchors(ctx context.Context, treeID string) ([]models.Anchor, error) {
	query := fmt.Sprintf(`
		SELECT node_id, tree_id, created_at
		FROM %s WHERE tree_id = $1 ORDER BY created_at ASC
	`, s.tables.Anchors)

	executor := GetExecutor(ctx, s.pool)
	rows, err := executor.Query(ctx, query, treeID)
	if err != nil {
		return nil, fmt.Errorf("list anchors: %w", err)
	}
	defer rows.Close()

	var anchors []models.Anchor
	for rows.Next() {
		var a models.Anchor
		if err := rows.Scan(&a.NodeID, &a.TreeID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan anchor: %w", err)
		}
		anchors = append(anchors, a)
	}
	return anchors, rows.Err()
}

// --- digressions ---

func (s *ProjectionStore) UpsertDigression(ctx context.Context, d *models.Digression) error {
	members, err := json.Marshal(d.MemberIDs)
	if err != nil {
		return fmt.Errorf("marshal digression members: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, tree_id, label, member_ids, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			label = EXCLUDED.label,
			member_ids = EXCLUDED.member_ids,
			enabled = EXCLUDED.enabled
	`, s.tables.Digressions)

	executor := GetExecutor(ctx, s.pool)
	if _, err := executor.Exec(ctx, query, d.ID, d.TreeID, d.Label, members, d.Enabled, d.CreatedAt); err != nil {
		return fmt.Errorf("upsert digression: %w", err)
	}
	return nil
}

func (s *ProjectionStore) DeleteDigression(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.tables.Digressions)
	executor := GetExecutor(ctx, s.pool)
	if _, err := executor.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("delete digression: %w", err)
	}
	return nil
}

func (s *ProjectionStore) ListDigressions(ctx context.Context, treeID string) ([]models.Digression, error) {
	query := fmt.Sprintf(`
		SELECT id, tree_id, label, member_ids, enabled, created_at
		FROM %s WHERE tree_id = $1 ORDER BY created_at ASC
	`, s.tables.Digressions)

	executor := GetExecutor(ctx, s.pool)
	rows, err := executor.Query(ctx, query, treeID)
	if err != nil {
		return nil, fmt.Errorf("list digressions: %w", err)
	}
	defer rows.Close()

	var digressions []models.Digression
	for rows.Next() {
		var d models.Digression
		var members []byte
		if err := rows.Scan(&d.ID, &d.TreeID, &d.Label, &members, &d.Enabled, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan digression: %w", err)
		}
		if err := json.Unmarshal(members, &d.MemberIDs); err != nil {
			return nil, fmt.Errorf("unmarshal digression members: %w", err)
		}
		digressions = append(digressions, d)
	}
	return digressions, rows.Err()
}

// --- replay support ---

// ResetTree clears all materialized rows for one tree. The event log is
// untouched; a full replay reconstructs everything deleted here.
func (s *ProjectionStore) ResetTree(ctx context.Context, treeID string) error {
	executor := GetExecutor(ctx, s.pool)
	for _, table := range []string{
		s.tables.Nodes, s.tables.Annotations, s.tables.Bookmarks,
		s.tables.Exclusions, s.tables.Anchors, s.tables.Digressions,
	} {
		query := fmt.Sprintf(`DELETE FROM %s WHERE tree_id = $1`, table)
		if _, err := executor.Exec(ctx, query, treeID); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.tables.Trees)
	if _, err := executor.Exec(ctx, query, treeID); err != nil {
		return fmt.Errorf("reset trees: %w", err)
	}
	return nil
}

// Reset clears all materialized state.
func (s *ProjectionStore) Reset(ctx context.Context) error {
	executor := GetExecutor(ctx, s.pool)
	for _, table := range []string{
		s.tables.Nodes, s.tables.Annotations, s.tables.Bookmarks,
		s.tables.Exclusions, s.tables.Anchors, s.tables.Digressions,
		s.tables.Trees,
	} {
		query := fmt.Sprintf(`DELETE FROM %s`, table)
		if _, err := executor.Exec(ctx, query); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}
