package models

import (
	"time"
)

// Role is a node's author role. Only the sendable subset ever becomes a chat
// turn; system content travels separately and notes are operator-only.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleNote      Role = "note"
)

// Sendable reports whether nodes with this role may appear as chat turns in
// an assembled context.
func (r Role) Sendable() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool, RoleNote:
		return true
	default:
		return false
	}
}

// ContextSnapshot records what the context looked like when an assistant node
// was generated: how many tokens were sent against what ceiling.
type ContextSnapshot struct {
	Tokens       int    `json:"tokens"`
	Ceiling      int    `json:"ceiling"`
	Messages     int    `json:"messages"`
	EvictedCount int    `json:"evicted_count,omitempty"`
	Strategy     string `json:"strategy,omitempty"`
}

// GenerationMeta is everything recorded about how an assistant node was
// produced. All fields are optional; user nodes carry none of this.
type GenerationMeta struct {
	Provider      *string          `json:"provider,omitempty"`
	Model         *string          `json:"model,omitempty"`
	RequestParams map[string]any   `json:"request_params,omitempty"`
	InputTokens   *int             `json:"input_tokens,omitempty"`
	OutputTokens  *int             `json:"output_tokens,omitempty"`
	LatencyMS     *int64           `json:"latency_ms,omitempty"`
	FinishReason  *string          `json:"finish_reason,omitempty"`
	LogProbs      map[string]any   `json:"logprobs,omitempty"`
	Context       *ContextSnapshot `json:"context,omitempty"`
	Reasoning     *string          `json:"reasoning,omitempty"` // thinking trace, if the model emitted one
}

// ContextFlags record per-node choices made at generation time.
type ContextFlags struct {
	ReasoningIncluded  bool `json:"reasoning_included"`
	TimestampsIncluded bool `json:"timestamps_included"`
}

// Node is the materialized view of one conversation node. Nodes form a
// forest via ParentID (nil means root). Content is immutable once projected;
// edits land in ContentOverride and never touch the original.
type Node struct {
	ID              string          `json:"id" db:"id"`
	TreeID          string          `json:"tree_id" db:"tree_id"`
	ParentID        *string         `json:"parent_id,omitempty" db:"parent_id"`
	Role            Role            `json:"role" db:"role"`
	Content         string          `json:"content" db:"content"`
	ContentOverride *string         `json:"content_override,omitempty" db:"content_override"`
	Generation      *GenerationMeta `json:"generation,omitempty" db:"generation"`
	Flags           ContextFlags    `json:"flags" db:"flags"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	Archived        bool            `json:"archived" db:"archived"`
}

// ResolvedContent returns the override when one is set, else the original.
func (n *Node) ResolvedContent() string {
	if n.ContentOverride != nil {
		return *n.ContentOverride
	}
	return n.Content
}
