// Package conversation assembles the linear message sequence a provider
// call should see for any node in a branching tree. The builder is pure and
// synchronous: it only reads the caller-supplied snapshot, holds no state
// between calls, and is safe to invoke concurrently.
package conversation

import (
	"fmt"
	"log/slog"

	"loom/internal/domain"
	"loom/internal/domain/models"
	"loom/internal/service/tokens"
)

// timestampFormat is the compact prefix applied to human-authored turns
// when timestamp inclusion is on.
const timestampFormat = "Jan 2 15:04"

// Config bundles the per-build inputs beyond the node snapshot: projected
// side-relations, the eviction strategy, the counter, and augmentation
// flags.
type Config struct {
	Counter     tokens.Counter
	Exclusions  []models.Exclusion
	Digressions []models.Digression
	AnchorIDs   []string
	Strategy    models.EvictionStrategy

	IncludeReasoning  bool
	IncludeTimestamps bool
}

// Result is everything a build produces: the ordered messages, the token
// accounting, and what eviction did (or did not) do.
type Result struct {
	Messages []models.Message      `json:"messages"`
	Usage    models.ContextUsage   `json:"usage"`
	Eviction models.EvictionReport `json:"eviction"`
}

// Builder reconstructs root-to-target paths and fits them under a token
// ceiling.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder creates a context builder.
func NewBuilder(logger *slog.Logger) *Builder {
	return &Builder{logger: logger}
}

// candidate is one sendable node surviving the path walk, carrying its
// resolved+augmented content and token estimate through the later phases.
type candidate struct {
	node    *models.Node
	content string
	tokens  int
}

// Build assembles the context for targetID. nodes is the materialized
// snapshot of the whole tree; systemPrompt is counted against the ceiling
// but travels separately from the chat turns. A ceiling of zero or less
// means unlimited.
func (b *Builder) Build(
	nodes []models.Node,
	targetID string,
	systemPrompt string,
	tokenCeiling int,
	cfg Config,
) (*Result, error) {
	counter := cfg.Counter
	if counter == nil {
		counter = tokens.NewHeuristic()
	}

	// Phase 1: path reconstruction. Iterative walk over an id-indexed map
	// so stack depth never tracks tree depth.
	path, pathSet, err := walkPath(nodes, targetID)
	if err != nil {
		return nil, err
	}

	// Phases 2-3: content resolution and augmentation for sendable roles.
	// System and note nodes never become chat turns; system content is the
	// caller's systemPrompt.
	candidates := make([]candidate, 0, len(path))
	for _, node := range path {
		if !node.Role.Sendable() {
			continue
		}
		content := node.ResolvedContent()
		if cfg.IncludeReasoning && node.Generation != nil && node.Generation.Reasoning != nil && *node.Generation.Reasoning != "" {
			content = fmt.Sprintf("<thinking>\n%s\n</thinking>\n\n%s", *node.Generation.Reasoning, content)
		}
		if cfg.IncludeTimestamps && node.Role == models.RoleUser {
			content = fmt.Sprintf("[%s] %s", node.CreatedAt.Format(timestampFormat), content)
		}
		candidates = append(candidates, candidate{node: node, content: content})
	}

	// Phase 4: exclusion filtering. Dropped turns are tallied, never lost.
	usage := models.ContextUsage{
		Ceiling: tokenCeiling,
		ByRole:  make(map[models.Role]int),
	}
	kept := candidates[:0]
	for _, c := range candidates {
		if b.excluded(c.node.ID, pathSet, cfg) {
			usage.ExcludedCount++
			usage.ExcludedTokens += counter.Count(c.content)
			continue
		}
		kept = append(kept, c)
	}

	// Phase 5: budget fitting.
	usage.SystemTokens = counter.Count(systemPrompt)
	total := usage.SystemTokens
	for i := range kept {
		kept[i].tokens = counter.Count(kept[i].content)
		total += kept[i].tokens
	}
	usage.TotalTokens = total

	report := b.fit(kept, &usage, tokenCeiling, counter, cfg)

	messages := make([]models.Message, 0, len(kept))
	for _, c := range kept {
		if report.applied != nil && report.applied[c.node.ID] {
			continue
		}
		messages = append(messages, models.Message{
			Role:    c.node.Role,
			Content: c.content,
		})
		usage.ByRole[c.node.Role] += c.tokens
	}

	return &Result{
		Messages: messages,
		Usage:    usage,
		Eviction: report.EvictionReport,
	}, nil
}

// walkPath returns the root-to-target path in chronological order plus the
// set of ids on it. Structural violations surface as typed errors, never
// silent repairs.
func walkPath(nodes []models.Node, targetID string) ([]*models.Node, map[string]bool, error) {
	index := make(map[string]*models.Node, len(nodes))
	for i := range nodes {
		index[nodes[i].ID] = &nodes[i]
	}

	current, ok := index[targetID]
	if !ok {
		return nil, nil, &domain.NotFoundError{Kind: "node", ID: targetID}
	}

	var reversed []*models.Node
	visited := make(map[string]bool, len(nodes))
	for {
		if visited[current.ID] {
			return nil, nil, &domain.CycleError{NodeID: current.ID}
		}
		visited[current.ID] = true
		reversed = append(reversed, current)

		if current.ParentID == nil {
			break
		}
		parent, ok := index[*current.ParentID]
		if !ok {
			return nil, nil, &domain.BrokenChainError{NodeID: current.ID, ParentID: *current.ParentID}
		}
		current = parent
	}

	path := make([]*models.Node, len(reversed))
	pathSet := make(map[string]bool, len(reversed))
	for i, node := range reversed {
		path[len(reversed)-1-i] = node
		pathSet[node.ID] = true
	}
	return path, pathSet, nil
}

// excluded applies the individual-mark and digression-group rules.
// Precedence: an active individual exclusion always drops the node; an
// active individual inclusion always keeps it against group exclusion; only
// then does group state matter.
func (b *Builder) excluded(nodeID string, pathSet map[string]bool, cfg Config) bool {
	var hasInclude bool
	for _, mark := range cfg.Exclusions {
		if mark.NodeID != nodeID || !pathSet[mark.ScopeID] {
			continue
		}
		if mark.Mode == models.ExclusionExclude {
			return true
		}
		hasInclude = true
	}
	if hasInclude {
		return false
	}

	// A disabled group drops its members only when the whole group lies on
	// the current path.
	for _, group := range cfg.Digressions {
		if group.Enabled {
			continue
		}
		member := false
		whole := true
		for _, id := range group.MemberIDs {
			if id == nodeID {
				member = true
			}
			if !pathSet[id] {
				whole = false
			}
		}
		if member && whole {
			return true
		}
	}
	return false
}
