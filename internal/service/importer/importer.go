// Package importer translates the generic intermediate representation
// produced by format-specific parsers into core events. The core never sees
// importer-specific formats; by the time data reaches here it is
// temp-id-linked nodes with role, content, and parent.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"loom/internal/domain"
	"loom/internal/domain/models"
)

// ImportNode is one node of the intermediate representation. TempID links
// nodes within one import; ParentTempID is empty for roots.
type ImportNode struct {
	TempID       string     `json:"temp_id"`
	ParentTempID string     `json:"parent_temp_id,omitempty"`
	Role         string     `json:"role"`
	Content      string     `json:"content"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
}

func (n ImportNode) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.TempID, validation.Required),
		validation.Field(&n.Role, validation.Required),
	)
}

// Request is one whole import: a new tree plus its nodes.
type Request struct {
	Title  string                  `json:"title"`
	Params models.GenerationParams `json:"params"`
	Nodes  []ImportNode            `json:"nodes"`
}

// Translator turns import requests into envelopes ready for the event
// store. It mints the tree id, node ids, and event ids; it appends nothing
// itself - the caller owns the write. One instance serves all imports, so
// the entropy source is guarded like the event service's.
type Translator struct {
	origin string
	logger *slog.Logger

	mu      sync.Mutex
	entropy *rand.Rand
}

// NewTranslator creates a translator tagging envelopes with origin.
func NewTranslator(origin string, logger *slog.Logger) *Translator {
	return &Translator{
		origin:  origin,
		logger:  logger,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Translate produces a tree.created envelope followed by one node.created
// per import node, parents before children. Temp ids are resolved to fresh
// node ids; a dangling or cyclic parent reference fails the whole import.
func (t *Translator) Translate(ctx context.Context, req *Request) (string, []models.Envelope, error) {
	if err := validation.ValidateStruct(req,
		validation.Field(&req.Title, validation.Required),
		validation.Field(&req.Nodes, validation.Required),
	); err != nil {
		return "", nil, &domain.ValidationError{Message: err.Error()}
	}
	for _, n := range req.Nodes {
		if err := n.Validate(); err != nil {
			return "", nil, &domain.ValidationError{Message: fmt.Sprintf("node %s: %v", n.TempID, err)}
		}
		if !models.Role(n.Role).Valid() {
			return "", nil, &domain.ValidationError{Message: fmt.Sprintf("node %s: unknown role %q", n.TempID, n.Role)}
		}
	}

	ordered, err := topoSort(req.Nodes)
	if err != nil {
		return "", nil, err
	}

	treeID := uuid.NewString()
	now := time.Now().UTC()

	envelopes := make([]models.Envelope, 0, len(ordered)+1)

	treePayload, err := json.Marshal(models.TreeCreatedPayload{
		Title:  req.Title,
		Params: req.Params,
		Mode:   models.ModeChat,
	})
	if err != nil {
		return "", nil, fmt.Errorf("marshal tree payload: %w", err)
	}
	envelopes = append(envelopes, models.Envelope{
		EventID:   t.newEventID(now),
		TreeID:    treeID,
		Timestamp: now,
		Origin:    t.origin,
		Type:      models.EventTreeCreated,
		Payload:   treePayload,
	})

	ids := make(map[string]string, len(ordered))
	for _, n := range ordered {
		ids[n.TempID] = uuid.NewString()
	}

	for _, n := range ordered {
		var parentID *string
		if n.ParentTempID != "" {
			resolved := ids[n.ParentTempID]
			parentID = &resolved
		}
		createdAt := now
		if n.CreatedAt != nil {
			createdAt = n.CreatedAt.UTC()
		}

		payload, err := json.Marshal(models.NodeCreatedPayload{
			NodeID:    ids[n.TempID],
			ParentID:  parentID,
			Role:      models.Role(n.Role),
			Content:   n.Content,
			CreatedAt: createdAt,
		})
		if err != nil {
			return "", nil, fmt.Errorf("marshal node payload: %w", err)
		}

		envelopes = append(envelopes, models.Envelope{
			EventID:   t.newEventID(now),
			TreeID:    treeID,
			Timestamp: now,
			Origin:    t.origin,
			Type:      models.EventNodeCreated,
			Payload:   payload,
		})
	}

	t.logger.Info("import translated",
		"tree_id", treeID,
		"nodes", len(ordered),
		"origin", t.origin,
	)
	return treeID, envelopes, nil
}

func (t *Translator) newEventID(now time.Time) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), t.entropy).String()
}

// topoSort orders nodes parents-first. Kahn's algorithm over the temp-id
// graph; leftovers after the sweep mean a dangling parent or a cycle.
func topoSort(nodes []ImportNode) ([]ImportNode, error) {
	byTemp := make(map[string]ImportNode, len(nodes))
	for _, n := range nodes {
		if _, dup := byTemp[n.TempID]; dup {
			return nil, &domain.ValidationError{Message: fmt.Sprintf("duplicate temp id %s", n.TempID)}
		}
		byTemp[n.TempID] = n
	}
	for _, n := range nodes {
		if n.ParentTempID == "" {
			continue
		}
		if _, ok := byTemp[n.ParentTempID]; !ok {
			return nil, &domain.ValidationError{Message: fmt.Sprintf("node %s references missing parent %s", n.TempID, n.ParentTempID)}
		}
	}

	placed := make(map[string]bool, len(nodes))
	ordered := make([]ImportNode, 0, len(nodes))
	remaining := append([]ImportNode(nil), nodes...)

	for len(remaining) > 0 {
		progress := false
		next := remaining[:0]
		for _, n := range remaining {
			if n.ParentTempID == "" || placed[n.ParentTempID] {
				placed[n.TempID] = true
				ordered = append(ordered, n)
				progress = true
			} else {
				next = append(next, n)
			}
		}
		remaining = next
		if !progress {
			return nil, &domain.ValidationError{Message: "import nodes contain a parent cycle"}
		}
	}
	return ordered, nil
}
