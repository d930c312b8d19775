package handler

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"loom/internal/domain/models"
	"loom/internal/domain/repositories"
	"loom/internal/httputil"
	"loom/internal/service/events"
)

// NodeHandler records node lifecycle events. Edits never rewrite a node's
// creation event: they append node.content_edited envelopes that move the
// override column only.
type NodeHandler struct {
	events *events.Service
	store  repositories.ProjectionStore
	logger *slog.Logger
}

// NewNodeHandler creates a node handler.
func NewNodeHandler(eventSvc *events.Service, store repositories.ProjectionStore, logger *slog.Logger) *NodeHandler {
	return &NodeHandler{
		events: eventSvc,
		store:  store,
		logger: logger,
	}
}

type createNodeRequest struct {
	ParentID   *string                `json:"parent_id,omitempty"`
	Role       models.Role            `json:"role"`
	Content    string                 `json:"content"`
	Generation *models.GenerationMeta `json:"generation,omitempty"`
	Flags      models.ContextFlags    `json:"flags"`
	EventID    string                 `json:"event_id,omitempty"`
}

// CreateNode appends a node.created event. A non-nil parent must already be
// materialized; a dangling reference would otherwise surface as
// broken-chain at every later read.
func (h *NodeHandler) CreateNode(w http.ResponseWriter, r *http.Request) {
	treeID := r.PathValue("id")
	if treeID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "tree id is required")
		return
	}

	var req createNodeRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.ParentID != nil {
		if _, err := h.store.GetNode(r.Context(), *req.ParentID); err != nil {
			handleError(w, err)
			return
		}
	}

	nodeID := uuid.NewString()
	_, err := h.events.Record(r.Context(), events.RecordRequest{
		TreeID:  treeID,
		EventID: req.EventID,
		Type:    models.EventNodeCreated,
		Payload: models.NodeCreatedPayload{
			NodeID:     nodeID,
			ParentID:   req.ParentID,
			Role:       req.Role,
			Content:    req.Content,
			Generation: req.Generation,
			Flags:      req.Flags,
		},
	})
	if err != nil {
		handleError(w, err)
		return
	}

	node, err := h.store.GetNode(r.Context(), nodeID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, node)
}

// GetNode returns one materialized node.
func (h *NodeHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("id")
	if nodeID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "node id is required")
		return
	}

	node, err := h.store.GetNode(r.Context(), nodeID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, node)
}

type editNodeRequest struct {
	Override *string `json:"override"`
	EventID  string  `json:"event_id,omitempty"`
}

// EditNodeContent sets or clears a node's content override. A null
// override reverts the node to its original content.
func (h *NodeHandler) EditNodeContent(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("id")
	if nodeID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "node id is required")
		return
	}

	var req editNodeRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The envelope needs the owning tree id
	node, err := h.store.GetNode(r.Context(), nodeID)
	if err != nil {
		handleError(w, err)
		return
	}

	_, err = h.events.Record(r.Context(), events.RecordRequest{
		TreeID:  node.TreeID,
		EventID: req.EventID,
		Type:    models.EventNodeContentEdited,
		Payload: models.NodeContentEditedPayload{
			NodeID:   nodeID,
			Override: req.Override,
		},
	})
	if err != nil {
		handleError(w, err)
		return
	}

	updated, err := h.store.GetNode(r.Context(), nodeID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, updated)
}

// ArchiveNode records node.archived for the node.
func (h *NodeHandler) ArchiveNode(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("id")
	if nodeID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "node id is required")
		return
	}

	node, err := h.store.GetNode(r.Context(), nodeID)
	if err != nil {
		handleError(w, err)
		return
	}

	_, err = h.events.Record(r.Context(), events.RecordRequest{
		TreeID:  node.TreeID,
		Type:    models.EventNodeArchived,
		Payload: models.NodeArchivedPayload{NodeID: nodeID, Archived: true},
	})
	if err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
