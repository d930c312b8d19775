package models

import (
	"encoding/json"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Typed payloads for each event in the vocabulary. Envelopes carry payloads
// as raw JSON; DecodePayload deserializes and validates at the
// store/projector boundary so handler logic never touches untyped maps.

// TreeCreatedPayload - tree id comes from the envelope.
type TreeCreatedPayload struct {
	Title    string           `json:"title"`
	Metadata map[string]any   `json:"metadata,omitempty"`
	Params   GenerationParams `json:"params"`
	Mode     ConversationMode `json:"mode,omitempty"`
}

func (p TreeCreatedPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Title, validation.Required, validation.Length(1, 512)),
		validation.Field(&p.Mode, validation.In(ModeChat, ModeCompleter, ConversationMode(""))),
	)
}

// TreeMetadataUpdatedPayload updates a single allow-listed tree field. The
// allow-list lives in the projector; an unknown field is logged and skipped
// there, not rejected here.
type TreeMetadataUpdatedPayload struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

func (p TreeMetadataUpdatedPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Field, validation.Required),
	)
}

type TreeArchivedPayload struct {
	Archived bool `json:"archived"`
}

func (p TreeArchivedPayload) Validate() error { return nil }

// NodeCreatedPayload carries the full initial state of a node. CreatedAt
// defaults to the envelope timestamp when zero.
type NodeCreatedPayload struct {
	NodeID     string          `json:"node_id"`
	ParentID   *string         `json:"parent_id,omitempty"`
	Role       Role            `json:"role"`
	Content    string          `json:"content"`
	Generation *GenerationMeta `json:"generation,omitempty"`
	Flags      ContextFlags    `json:"flags"`
	CreatedAt  time.Time       `json:"created_at,omitzero"`
}

func (p NodeCreatedPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.NodeID, validation.Required),
		validation.Field(&p.Role, validation.Required, validation.By(validRole)),
	)
}

// NodeContentEditedPayload sets or clears the override column. A nil
// Override clears; the original content column is never touched.
type NodeContentEditedPayload struct {
	NodeID   string  `json:"node_id"`
	Override *string `json:"override"`
}

func (p NodeContentEditedPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.NodeID, validation.Required),
	)
}

type NodeArchivedPayload struct {
	NodeID   string `json:"node_id"`
	Archived bool   `json:"archived"`
}

func (p NodeArchivedPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.NodeID, validation.Required),
	)
}

type AnnotationAddedPayload struct {
	AnnotationID string `json:"annotation_id"`
	NodeID       string `json:"node_id"`
	Body         string `json:"body"`
}

func (p AnnotationAddedPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.AnnotationID, validation.Required),
		validation.Field(&p.NodeID, validation.Required),
		validation.Field(&p.Body, validation.Required),
	)
}

type AnnotationRemovedPayload struct {
	AnnotationID string `json:"annotation_id"`
}

func (p AnnotationRemovedPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.AnnotationID, validation.Required),
	)
}

type BookmarkAddedPayload struct {
	NodeID string `json:"node_id"`
	Label  string `json:"label"`
}

func (p BookmarkAddedPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.NodeID, validation.Required),
	)
}

type BookmarkRemovedPayload struct {
	NodeID string `json:"node_id"`
}

func (p BookmarkRemovedPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.NodeID, validation.Required),
	)
}

// NodeExcludedPayload / NodeIncludedPayload record individual context marks.
// ScopeID is the branch leaf the mark was made from; the mark only applies
// to paths running through that scope.
type NodeExcludedPayload struct {
	NodeID  string `json:"node_id"`
	ScopeID string `json:"scope_id"`
}

func (p NodeExcludedPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.NodeID, validation.Required),
		validation.Field(&p.ScopeID, validation.Required),
	)
}

type NodeIncludedPayload struct {
	NodeID  string `json:"node_id"`
	ScopeID string `json:"scope_id"`
}

func (p NodeIncludedPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.NodeID, validation.Required),
		validation.Field(&p.ScopeID, validation.Required),
	)
}

type AnchorAddedPayload struct {
	NodeID string `json:"node_id"`
}

func (p AnchorAddedPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.NodeID, validation.Required),
	)
}

type AnchorRemovedPayload struct {
	NodeID string `json:"node_id"`
}

func (p AnchorRemovedPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.NodeID, validation.Required),
	)
}

type DigressionCreatedPayload struct {
	GroupID   string   `json:"group_id"`
	Label     string   `json:"label"`
	MemberIDs []string `json:"member_ids"`
	Enabled   bool     `json:"enabled"`
}

func (p DigressionCreatedPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.GroupID, validation.Required),
		validation.Field(&p.MemberIDs, validation.Required, validation.Length(1, 0)),
	)
}

// DigressionToggledPayload is a pure state-replace: Enabled is the new
// value, not a flip instruction, so replays converge.
type DigressionToggledPayload struct {
	GroupID string `json:"group_id"`
	Enabled bool   `json:"enabled"`
}

func (p DigressionToggledPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.GroupID, validation.Required),
	)
}

type DigressionRemovedPayload struct {
	GroupID string `json:"group_id"`
}

func (p DigressionRemovedPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.GroupID, validation.Required),
	)
}

func validRole(value interface{}) error {
	r, ok := value.(Role)
	if !ok {
		return fmt.Errorf("role must be a string")
	}
	if !r.Valid() {
		return fmt.Errorf("unknown role %q", r)
	}
	return nil
}

// Payload is implemented by every typed event payload.
type Payload interface {
	Validate() error
}

// DecodePayload deserializes raw into the typed payload for t and validates
// it. Unknown event types return (nil, nil); callers decide whether to skip
// (projector) or reject (write path).
func DecodePayload(t EventType, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch t {
	case EventTreeCreated:
		p = &TreeCreatedPayload{}
	case EventTreeMetadataUpdated:
		p = &TreeMetadataUpdatedPayload{}
	case EventTreeArchived:
		p = &TreeArchivedPayload{}
	case EventNodeCreated:
		p = &NodeCreatedPayload{}
	case EventNodeContentEdited:
		p = &NodeContentEditedPayload{}
	case EventNodeArchived:
		p = &NodeArchivedPayload{}
	case EventAnnotationAdded:
		p = &AnnotationAddedPayload{}
	case EventAnnotationRemoved:
		p = &AnnotationRemovedPayload{}
	case EventBookmarkAdded:
		p = &BookmarkAddedPayload{}
	case EventBookmarkRemoved:
		p = &BookmarkRemovedPayload{}
	case EventNodeExcluded:
		p = &NodeExcludedPayload{}
	case EventNodeIncluded:
		p = &NodeIncludedPayload{}
	case EventAnchorAdded:
		p = &AnchorAddedPayload{}
	case EventAnchorRemoved:
		p = &AnchorRemovedPayload{}
	case EventDigressionCreated:
		p = &DigressionCreatedPayload{}
	case EventDigressionToggled:
		p = &DigressionToggledPayload{}
	case EventDigressionRemoved:
		p = &DigressionRemovedPayload{}
	default:
		return nil, nil
	}

	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validate %s payload: %w", t, err)
	}
	return p, nil
}
