package models

// Message is one ordered (role, content) pair ready to send to a provider.
// This is the core's export contract to provider adapters.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// EvictionMode selects how the context builder reacts to budget overflow.
type EvictionMode string

const (
	// EvictionNone performs no eviction; the caller accepts overflow.
	EvictionNone EvictionMode = "none"
	// EvictionTruncate removes whole messages oldest-first until the
	// estimate fits. Messages are never split.
	EvictionTruncate EvictionMode = "truncate"
	// EvictionSmart protects leading/trailing turns and anchored nodes,
	// then evicts the rest oldest-first. The protected floor wins over the
	// budget: protected messages survive even if the ceiling is still
	// exceeded afterward.
	EvictionSmart EvictionMode = "smart"
)

// EvictionStrategy configures budget fitting. Counts are in messages, after
// role and exclusion filtering.
type EvictionStrategy struct {
	Mode              EvictionMode `json:"mode"`
	KeepFirstTurns    int          `json:"keep_first_turns"`
	RecentTurnsToKeep int          `json:"recent_turns_to_keep"`
	ProtectAnchors    bool         `json:"protect_anchors"`
	SummarizeEvicted  bool         `json:"summarize_evicted"`
	// WarnThreshold is a fraction of the ceiling (e.g. 0.8). Crossing it
	// without overflowing produces a warning, never an eviction.
	WarnThreshold float64 `json:"warn_threshold,omitempty"`
}

// EvictionReport describes what budget fitting did.
type EvictionReport struct {
	Applied         bool     `json:"applied"`
	EvictedNodeIDs  []string `json:"evicted_node_ids,omitempty"`
	TokensReclaimed int      `json:"tokens_reclaimed"`
	FinalTokens     int      `json:"final_tokens"`
	Warning         string   `json:"warning,omitempty"`
	// EvictedContent carries the resolved text of evicted messages when the
	// strategy asked for out-of-band summarization.
	EvictedContent []string `json:"evicted_content,omitempty"`
	SummaryNeeded  bool     `json:"summary_needed,omitempty"`
}

// ContextUsage is the token accounting for one assembled context.
type ContextUsage struct {
	TotalTokens    int            `json:"total_tokens"`
	Ceiling        int            `json:"ceiling"`
	ByRole         map[Role]int   `json:"by_role"`
	SystemTokens   int            `json:"system_tokens"`
	ExcludedCount  int            `json:"excluded_count"`
	ExcludedTokens int            `json:"excluded_tokens"`
	EvictedNodeIDs []string       `json:"evicted_node_ids,omitempty"`
}
