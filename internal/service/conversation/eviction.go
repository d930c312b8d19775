package conversation

import (
	"fmt"

	"loom/internal/domain/models"
	"loom/internal/service/tokens"
)

// fitReport is the eviction outcome plus the internal evicted-id set the
// builder uses to filter the final message list.
type fitReport struct {
	models.EvictionReport
	applied map[string]bool
}

// fit runs phase 5. Only whole messages are ever removed; a message is
// never truncated mid-content. Mutates usage's total and evicted-id fields
// to reflect the final state.
func (b *Builder) fit(
	kept []candidate,
	usage *models.ContextUsage,
	ceiling int,
	counter tokens.Counter,
	cfg Config,
) fitReport {
	total := usage.TotalTokens
	report := fitReport{
		EvictionReport: models.EvictionReport{FinalTokens: total},
	}

	if ceiling <= 0 || total <= ceiling {
		if ceiling > 0 && cfg.Strategy.WarnThreshold > 0 &&
			float64(total) >= cfg.Strategy.WarnThreshold*float64(ceiling) {
			report.Warning = fmt.Sprintf(
				"context at %d of %d tokens (%.0f%% threshold crossed)",
				total, ceiling, cfg.Strategy.WarnThreshold*100,
			)
		}
		return report
	}

	switch cfg.Strategy.Mode {
	case models.EvictionTruncate:
		b.evict(kept, nil, &report, &total, ceiling, cfg)
	case models.EvictionSmart:
		protected := b.protectedSet(kept, cfg)
		b.evict(kept, protected, &report, &total, ceiling, cfg)
		if total > ceiling {
			report.Warning = fmt.Sprintf(
				"protected messages exceed ceiling: %d of %d tokens after eviction",
				total, ceiling,
			)
		}
	default:
		// EvictionNone: the caller accepts overflow; say so in the report.
		report.Warning = fmt.Sprintf("context exceeds ceiling: %d of %d tokens", total, ceiling)
	}

	report.FinalTokens = total
	usage.TotalTokens = total
	usage.EvictedNodeIDs = report.EvictedNodeIDs
	return report
}

// protectedSet marks the first K turns, last N turns, and anchored nodes.
// Counts are in messages after role and exclusion filtering.
func (b *Builder) protectedSet(kept []candidate, cfg Config) map[string]bool {
	protected := make(map[string]bool)
	for i, c := range kept {
		if i < cfg.Strategy.KeepFirstTurns {
			protected[c.node.ID] = true
		}
		if i >= len(kept)-cfg.Strategy.RecentTurnsToKeep {
			protected[c.node.ID] = true
		}
	}
	if cfg.Strategy.ProtectAnchors {
		for _, id := range cfg.AnchorIDs {
			protected[id] = true
		}
	}
	return protected
}

// evict removes evictable messages oldest-first until the estimate fits or
// the evictable set is exhausted. Protected messages are never removed even
// if the ceiling is still exceeded afterward: the protected floor wins over
// the budget.
func (b *Builder) evict(
	kept []candidate,
	protected map[string]bool,
	report *fitReport,
	total *int,
	ceiling int,
	cfg Config,
) {
	report.applied = make(map[string]bool)
	for _, c := range kept {
		if *total <= ceiling {
			break
		}
		if protected != nil && protected[c.node.ID] {
			continue
		}
		report.applied[c.node.ID] = true
		report.EvictedNodeIDs = append(report.EvictedNodeIDs, c.node.ID)
		report.TokensReclaimed += c.tokens
		*total -= c.tokens
		if cfg.Strategy.SummarizeEvicted {
			report.EvictedContent = append(report.EvictedContent, c.content)
		}
	}

	if len(report.EvictedNodeIDs) > 0 {
		report.Applied = true
		report.SummaryNeeded = cfg.Strategy.SummarizeEvicted
		b.logger.Debug("evicted messages to fit token ceiling",
			"mode", cfg.Strategy.Mode,
			"evicted", len(report.EvictedNodeIDs),
			"tokens_reclaimed", report.TokensReclaimed,
			"final_tokens", *total,
		)
	}
}
