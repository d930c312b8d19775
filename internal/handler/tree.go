package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/google/uuid"

	"loom/internal/domain"
	"loom/internal/domain/models"
	"loom/internal/httputil"
	"loom/internal/service/events"
	"loom/internal/service/projector"
)

// TreeHandler translates tree requests into envelopes and materialized
// state into responses. All writes go through the event service; nothing
// here touches tables directly.
type TreeHandler struct {
	events    *events.Service
	projector *projector.Projector
	logger    *slog.Logger
}

// NewTreeHandler creates a tree handler.
func NewTreeHandler(eventSvc *events.Service, proj *projector.Projector, logger *slog.Logger) *TreeHandler {
	return &TreeHandler{
		events:    eventSvc,
		projector: proj,
		logger:    logger,
	}
}

type createTreeRequest struct {
	Title    string                  `json:"title"`
	Metadata map[string]any          `json:"metadata,omitempty"`
	Params   models.GenerationParams `json:"params"`
	Mode     models.ConversationMode `json:"mode,omitempty"`
	EventID  string                  `json:"event_id,omitempty"`
}

// CreateTree mints a tree id and records a tree.created event.
func (h *TreeHandler) CreateTree(w http.ResponseWriter, r *http.Request) {
	var req createTreeRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	treeID := uuid.NewString()
	_, err := h.events.Record(r.Context(), events.RecordRequest{
		TreeID:  treeID,
		EventID: req.EventID,
		Type:    models.EventTreeCreated,
		Payload: models.TreeCreatedPayload{
			Title:    req.Title,
			Metadata: req.Metadata,
			Params:   req.Params,
			Mode:     req.Mode,
		},
	})
	if err != nil {
		handleError(w, err)
		return
	}

	tree, err := h.projector.GetTree(r.Context(), treeID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, tree)
}

// GetTree returns the materialized tree.
func (h *TreeHandler) GetTree(w http.ResponseWriter, r *http.Request) {
	treeID := r.PathValue("id")
	if treeID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "tree id is required")
		return
	}

	tree, err := h.projector.GetTree(r.Context(), treeID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, tree)
}

// GetNodes returns a tree's materialized nodes ordered by creation time.
func (h *TreeHandler) GetNodes(w http.ResponseWriter, r *http.Request) {
	treeID := r.PathValue("id")
	if treeID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "tree id is required")
		return
	}

	nodes, err := h.projector.GetNodes(r.Context(), treeID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, nodes)
}

type updateTreeRequest struct {
	Fields map[string]json.RawMessage `json:"fields"`
}

// UpdateTree records one tree.metadata_updated event per field. Unknown
// field names are accepted here and skipped by the projector - the
// allow-list is a projection concern.
func (h *TreeHandler) UpdateTree(w http.ResponseWriter, r *http.Request) {
	treeID := r.PathValue("id")
	if treeID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "tree id is required")
		return
	}

	var req updateTreeRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Fields) == 0 {
		httputil.RespondError(w, http.StatusBadRequest, "fields is required")
		return
	}

	// One event per field, in sorted order so multi-field updates land in
	// the log deterministically.
	fields := make([]string, 0, len(req.Fields))
	for field := range req.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for i, field := range fields {
		_, err := h.events.Record(r.Context(), events.RecordRequest{
			TreeID: treeID,
			Type:   models.EventTreeMetadataUpdated,
			Payload: models.TreeMetadataUpdatedPayload{
				Field: field,
				Value: req.Fields[field],
			},
		})
		if err != nil {
			// Earlier fields are already applied; tell the caller how far
			// the update got.
			h.logger.Warn("tree update partially applied",
				"tree_id", treeID,
				"applied", i,
				"total", len(fields),
				"failed_field", field,
			)
			status := http.StatusInternalServerError
			var httpErr domain.HTTPError
			if errors.As(err, &httpErr) {
				status = httpErr.StatusCode()
			}
			httputil.RespondError(w, status, fmt.Sprintf(
				"field %q: %v (%d of %d fields applied)", field, err, i, len(fields)))
			return
		}
	}

	tree, err := h.projector.GetTree(r.Context(), treeID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, tree)
}

// ArchiveTree records tree.archived. Trees are never deleted.
func (h *TreeHandler) ArchiveTree(w http.ResponseWriter, r *http.Request) {
	treeID := r.PathValue("id")
	if treeID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "tree id is required")
		return
	}

	_, err := h.events.Record(r.Context(), events.RecordRequest{
		TreeID:  treeID,
		Type:    models.EventTreeArchived,
		Payload: models.TreeArchivedPayload{Archived: true},
	})
	if err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
