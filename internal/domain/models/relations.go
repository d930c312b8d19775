package models

import (
	"time"
)

// Side-relations are keyed by node/tree id and projected into their own
// tables. They never affect node identity or content; each is created and
// deleted by its own pair of event types.

// Annotation is a free-form operator note attached to a node.
type Annotation struct {
	ID        string    `json:"id" db:"id"`
	TreeID    string    `json:"tree_id" db:"tree_id"`
	NodeID    string    `json:"node_id" db:"node_id"`
	Body      string    `json:"body" db:"body"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Bookmark marks a node for quick navigation. One bookmark per node.
type Bookmark struct {
	TreeID    string    `json:"tree_id" db:"tree_id"`
	NodeID    string    `json:"node_id" db:"node_id"`
	Label     string    `json:"label" db:"label"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ExclusionMode is the direction of an individual context mark.
type ExclusionMode string

const (
	ExclusionExclude ExclusionMode = "exclude"
	ExclusionInclude ExclusionMode = "include"
)

// Exclusion is an individual context mark on a node, scoped to the branch
// leaf it was recorded from. The mark only applies when ScopeID lies on the
// path being assembled. An include mark overrides digression-group
// exclusion for its node; an exclude mark applies regardless of group state.
// A node carries at most one mark per scope - a later event replaces the
// earlier mark rather than stacking.
type Exclusion struct {
	TreeID  string        `json:"tree_id" db:"tree_id"`
	NodeID  string        `json:"node_id" db:"node_id"`
	ScopeID string        `json:"scope_id" db:"scope_id"`
	Mode    ExclusionMode `json:"mode" db:"mode"`
}

// Anchor exempts a node from eviction regardless of policy.
type Anchor struct {
	TreeID    string    `json:"tree_id" db:"tree_id"`
	NodeID    string    `json:"node_id" db:"node_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Digression is a labeled group of contiguous nodes that can be toggled out
// of context as a unit. Enabled groups have no effect; a disabled group
// drops its members when the whole group lies on the assembled path.
type Digression struct {
	ID        string    `json:"id" db:"id"`
	TreeID    string    `json:"tree_id" db:"tree_id"`
	Label     string    `json:"label" db:"label"`
	MemberIDs []string  `json:"member_ids" db:"member_ids"`
	Enabled   bool      `json:"enabled" db:"enabled"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
