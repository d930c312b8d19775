// Package memory provides in-memory implementations of the event store and
// projection store. They back the core test suites and loomctl's dry-run
// replay, so projector and context-builder behavior can be exercised
// without a database.
package memory

import (
	"context"
	"sort"
	"sync"

	"loom/internal/domain"
	"loom/internal/domain/models"
)

// EventStore is an in-memory append-only log with the same contract as the
// Postgres store: global monotonic sequence numbers, duplicate event ids
// rejected.
type EventStore struct {
	mu     sync.Mutex
	events []models.Envelope
	byID   map[string]struct{}
	seq    int64
}

// NewEventStore creates an empty in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{byID: make(map[string]struct{})}
}

func (s *EventStore) Append(ctx context.Context, env *models.Envelope) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[env.EventID]; exists {
		return 0, &domain.DuplicateEventError{EventID: env.EventID}
	}

	s.seq++
	env.Seq = s.seq
	s.byID[env.EventID] = struct{}{}
	s.events = append(s.events, *env)
	return env.Seq, nil
}

func (s *EventStore) GetEvents(ctx context.Context, treeID string) ([]models.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Envelope
	for _, env := range s.events {
		if env.TreeID == treeID {
			out = append(out, env)
		}
	}
	return out, nil
}

func (s *EventStore) GetEventsSince(ctx context.Context, seq int64) ([]models.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Envelope
	for _, env := range s.events {
		if env.Seq > seq {
			out = append(out, env)
		}
	}
	return out, nil
}

// ProjectionStore is an in-memory materialized view. All accessors return
// copies so callers can never mutate projected state behind the store's
// back.
type ProjectionStore struct {
	mu          sync.RWMutex
	trees       map[string]models.Tree
	nodes       map[string]models.Node
	annotations map[string]models.Annotation
	bookmarks   map[string]models.Bookmark // keyed by node id
	exclusions  map[[2]string]models.Exclusion
	anchors     map[string]models.Anchor // keyed by node id
	digressions map[string]models.Digression
}

// NewProjectionStore creates an empty in-memory projection store.
func NewProjectionStore() *ProjectionStore {
	s := &ProjectionStore{}
	s.reset()
	return s
}

func (s *ProjectionStore) reset() {
	s.trees = make(map[string]models.Tree)
	s.nodes = make(map[string]models.Node)
	s.annotations = make(map[string]models.Annotation)
	s.bookmarks = make(map[string]models.Bookmark)
	s.exclusions = make(map[[2]string]models.Exclusion)
	s.anchors = make(map[string]models.Anchor)
	s.digressions = make(map[string]models.Digression)
}

func (s *ProjectionStore) UpsertTree(ctx context.Context, tree *models.Tree) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trees[tree.ID] = copyTree(*tree)
	return nil
}

func (s *ProjectionStore) GetTree(ctx context.Context, id string) (*models.Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tree, ok := s.trees[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "tree", ID: id}
	}
	out := copyTree(tree)
	return &out, nil
}

func (s *ProjectionStore) ListTrees(ctx context.Context) ([]models.Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Tree, 0, len(s.trees))
	for _, tree := range s.trees {
		out = append(out, copyTree(tree))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *ProjectionStore) UpsertNode(ctx context.Context, node *models.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[node.ID] = copyNode(*node)
	return nil
}

func (s *ProjectionStore) GetNode(ctx context.Context, id string) (*models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "node", ID: id}
	}
	out := copyNode(node)
	return &out, nil
}

func (s *ProjectionStore) ListNodes(ctx context.Context, treeID string) ([]models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Node
	for _, node := range s.nodes {
		if node.TreeID == treeID {
			out = append(out, copyNode(node))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *ProjectionStore) UpsertAnnotation(ctx context.Context, a *models.Annotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.annotations[a.ID] = *a
	return nil
}

func (s *ProjectionStore) DeleteAnnotation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.annotations, id)
	return nil
}

func (s *ProjectionStore) ListAnnotations(ctx context.Context, treeID string) ([]models.Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Annotation
	for _, a := range s.annotations {
		if a.TreeID == treeID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *ProjectionStore) UpsertBookmark(ctx context.Context, b *models.Bookmark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookmarks[b.NodeID] = *b
	return nil
}

func (s *ProjectionStore) DeleteBookmark(ctx context.Context, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bookmarks, nodeID)
	return nil
}

func (s *ProjectionStore) ListBookmarks(ctx context.Context, treeID string) ([]models.Bookmark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Bookmark
	for _, b := range s.bookmarks {
		if b.TreeID == treeID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

func (s *ProjectionStore) UpsertExclusion(ctx context.Context, e *models.Exclusion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exclusions[[2]string{e.NodeID, e.ScopeID}] = *e
	return nil
}

func (s *ProjectionStore) ListExclusions(ctx context.Context, treeID string) ([]models.Exclusion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Exclusion
	for _, e := range s.exclusions {
		if e.TreeID == treeID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NodeID == out[j].NodeID {
			return out[i].ScopeID < out[j].ScopeID
		}
		return out[i].NodeID < out[j].NodeID
	})
	return out, nil
}

func (s *ProjectionStore) UpsertAnchor(ctx context.Context, a *models.Anchor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.anchors[a.NodeID]; !exists {
		s.anchors[a.NodeID] = *a
	}
	return nil
}

func (s *ProjectionStore) DeleteAnchor(ctx context.Context, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.anchors, nodeID)
	return nil
}

func (s *ProjectionStore) ListAnchors(ctx context.Context, treeID string) ([]models.Anchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Anchor
	for _, a := range s.anchors {
		if a.TreeID == treeID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

func (s *ProjectionStore) UpsertDigression(ctx context.Context, d *models.Digression) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	cp.MemberIDs = append([]string(nil), d.MemberIDs...)
	s.digressions[d.ID] = cp
	return nil
}

func (s *ProjectionStore) DeleteDigression(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.digressions, id)
	return nil
}

func (s *ProjectionStore) ListDigressions(ctx context.Context, treeID string) ([]models.Digression, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Digression
	for _, d := range s.digressions {
		if d.TreeID == treeID {
			cp := d
			cp.MemberIDs = append([]string(nil), d.MemberIDs...)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *ProjectionStore) ResetTree(ctx context.Context, treeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trees, treeID)
	for id, node := range s.nodes {
		if node.TreeID == treeID {
			delete(s.nodes, id)
		}
	}
	for id, a := range s.annotations {
		if a.TreeID == treeID {
			delete(s.annotations, id)
		}
	}
	for id, b := range s.bookmarks {
		if b.TreeID == treeID {
			delete(s.bookmarks, id)
		}
	}
	for key, e := range s.exclusions {
		if e.TreeID == treeID {
			delete(s.exclusions, key)
		}
	}
	for id, a := range s.anchors {
		if a.TreeID == treeID {
			delete(s.anchors, id)
		}
	}
	for id, d := range s.digressions {
		if d.TreeID == treeID {
			delete(s.digressions, id)
		}
	}
	return nil
}

func (s *ProjectionStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

func copyTree(t models.Tree) models.Tree {
	cp := t
	if t.Metadata != nil {
		cp.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	if t.Params.Sampling != nil {
		cp.Params.Sampling = make(map[string]any, len(t.Params.Sampling))
		for k, v := range t.Params.Sampling {
			cp.Params.Sampling[k] = v
		}
	}
	return cp
}

func copyNode(n models.Node) models.Node {
	cp := n
	if n.ParentID != nil {
		parent := *n.ParentID
		cp.ParentID = &parent
	}
	if n.ContentOverride != nil {
		override := *n.ContentOverride
		cp.ContentOverride = &override
	}
	if n.Generation != nil {
		gen := *n.Generation
		cp.Generation = &gen
	}
	return cp
}
