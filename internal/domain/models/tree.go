package models

import (
	"time"
)

// ConversationMode selects how a tree's conversation is driven
type ConversationMode string

const (
	ModeChat      ConversationMode = "chat"
	ModeCompleter ConversationMode = "completer"
)

// GenerationParams are a tree's default generation settings. Individual
// assistant nodes record the parameters actually used at generation time.
type GenerationParams struct {
	Provider     string         `json:"provider,omitempty"`
	Model        string         `json:"model,omitempty"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Sampling     map[string]any `json:"sampling,omitempty"` // temperature, top_p, max_tokens, ...
}

// Tree is the materialized view of one conversation tree. It is derived
// entirely from the event log and owned by the projector; nothing mutates it
// except event handlers. Trees are never deleted, only archived.
type Tree struct {
	ID        string           `json:"id" db:"id"`
	Title     string           `json:"title" db:"title"`
	Metadata  map[string]any   `json:"metadata,omitempty" db:"metadata"`
	Params    GenerationParams `json:"params" db:"params"`
	Mode      ConversationMode `json:"mode" db:"mode"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt time.Time        `json:"updated_at" db:"updated_at"`
	Archived  bool             `json:"archived" db:"archived"`
}
