package conversation

import (
	"context"
	"log/slog"

	"loom/internal/capabilities"
	"loom/internal/domain/models"
	"loom/internal/domain/repositories"
	"loom/internal/service/tokens"
)

// Service loads a tree's materialized snapshot and side-relations from the
// projection's read side and runs the builder over them. The builder stays
// pure; all I/O lives here.
type Service struct {
	store          repositories.ProjectionStore
	builder        *Builder
	caps           *capabilities.Registry
	counter        tokens.Counter
	defaultCeiling int
	logger         *slog.Logger
}

// NewService creates the context assembly service.
func NewService(
	store repositories.ProjectionStore,
	caps *capabilities.Registry,
	counter tokens.Counter,
	defaultCeiling int,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:          store,
		builder:        NewBuilder(logger),
		caps:           caps,
		counter:        counter,
		defaultCeiling: defaultCeiling,
		logger:         logger,
	}
}

// BuildRequest selects the target and overrides per-build settings. Nil
// pointer fields fall back to the tree's defaults.
type BuildRequest struct {
	TreeID            string                   `json:"tree_id"`
	TargetID          string                   `json:"target_id"`
	SystemPrompt      *string                  `json:"system_prompt,omitempty"`
	TokenCeiling      *int                     `json:"token_ceiling,omitempty"`
	Strategy          *models.EvictionStrategy `json:"eviction,omitempty"`
	IncludeReasoning  bool                     `json:"include_reasoning"`
	IncludeTimestamps bool                     `json:"include_timestamps"`
}

// BuildContext assembles the provider-ready message sequence for the
// request's target node.
func (s *Service) BuildContext(ctx context.Context, req *BuildRequest) (*Result, error) {
	tree, err := s.store.GetTree(ctx, req.TreeID)
	if err != nil {
		return nil, err
	}

	nodes, err := s.store.ListNodes(ctx, req.TreeID)
	if err != nil {
		return nil, err
	}
	exclusions, err := s.store.ListExclusions(ctx, req.TreeID)
	if err != nil {
		return nil, err
	}
	anchors, err := s.store.ListAnchors(ctx, req.TreeID)
	if err != nil {
		return nil, err
	}
	digressions, err := s.store.ListDigressions(ctx, req.TreeID)
	if err != nil {
		return nil, err
	}

	systemPrompt := tree.Params.SystemPrompt
	if req.SystemPrompt != nil {
		systemPrompt = *req.SystemPrompt
	}

	ceiling := s.defaultCeiling
	if s.caps != nil && tree.Params.Model != "" {
		ceiling = s.caps.DefaultCeiling(tree.Params.Provider, tree.Params.Model, ceiling)
	}
	if req.TokenCeiling != nil {
		ceiling = *req.TokenCeiling
	}

	strategy := models.EvictionStrategy{Mode: models.EvictionNone}
	if req.Strategy != nil {
		strategy = *req.Strategy
	}

	anchorIDs := make([]string, 0, len(anchors))
	for _, a := range anchors {
		anchorIDs = append(anchorIDs, a.NodeID)
	}

	return s.builder.Build(nodes, req.TargetID, systemPrompt, ceiling, Config{
		Counter:           s.counter,
		Exclusions:        exclusions,
		Digressions:       digressions,
		AnchorIDs:         anchorIDs,
		Strategy:          strategy,
		IncludeReasoning:  req.IncludeReasoning,
		IncludeTimestamps: req.IncludeTimestamps,
	})
}
