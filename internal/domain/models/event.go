package models

import (
	"encoding/json"
	"time"
)

// EventType discriminates envelope payloads. The set is closed: the projector
// dispatches on these constants and silently skips anything it does not know,
// so newer writers never crash older projectors.
type EventType string

const (
	EventTreeCreated         EventType = "tree.created"
	EventTreeMetadataUpdated EventType = "tree.metadata_updated"
	EventTreeArchived        EventType = "tree.archived"
	EventNodeCreated         EventType = "node.created"
	EventNodeContentEdited   EventType = "node.content_edited"
	EventNodeArchived        EventType = "node.archived"
	EventAnnotationAdded     EventType = "annotation.added"
	EventAnnotationRemoved   EventType = "annotation.removed"
	EventBookmarkAdded       EventType = "bookmark.added"
	EventBookmarkRemoved     EventType = "bookmark.removed"
	EventNodeExcluded        EventType = "node.excluded"
	EventNodeIncluded        EventType = "node.included"
	EventAnchorAdded         EventType = "anchor.added"
	EventAnchorRemoved       EventType = "anchor.removed"
	EventDigressionCreated   EventType = "digression.created"
	EventDigressionToggled   EventType = "digression.toggled"
	EventDigressionRemoved   EventType = "digression.removed"
)

// eventTypes is the membership set for Known()
var eventTypes = map[EventType]struct{}{
	EventTreeCreated:         {},
	EventTreeMetadataUpdated: {},
	EventTreeArchived:        {},
	EventNodeCreated:         {},
	EventNodeContentEdited:   {},
	EventNodeArchived:        {},
	EventAnnotationAdded:     {},
	EventAnnotationRemoved:   {},
	EventBookmarkAdded:       {},
	EventBookmarkRemoved:     {},
	EventNodeExcluded:        {},
	EventNodeIncluded:        {},
	EventAnchorAdded:         {},
	EventAnchorRemoved:       {},
	EventDigressionCreated:   {},
	EventDigressionToggled:   {},
	EventDigressionRemoved:   {},
}

// Known reports whether t is part of the current event vocabulary.
func (t EventType) Known() bool {
	_, ok := eventTypes[t]
	return ok
}

// Envelope is one immutable domain event. EventID is caller-supplied and
// globally unique (callers mint ULIDs); the store rejects a duplicate so a
// retried write surfaces as a conflict instead of a double-application.
// Seq is assigned by the store on successful append and is the global
// ordering key - it is zero until then.
type Envelope struct {
	Seq       int64           `json:"seq" db:"seq"`
	EventID   string          `json:"event_id" db:"event_id"`
	TreeID    string          `json:"tree_id" db:"tree_id"`
	Timestamp time.Time       `json:"ts" db:"ts"`
	Origin    string          `json:"origin" db:"origin"`
	ActorID   *string         `json:"actor_id,omitempty" db:"actor_id"`
	Type      EventType       `json:"event_type" db:"event_type"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
}
