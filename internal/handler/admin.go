package handler

import (
	"log/slog"
	"net/http"

	"loom/internal/httputil"
	"loom/internal/service/projector"
)

// AdminHandler exposes the rebuild surface: materialized state is always
// rebuildable from the log, and this is the endpoint that does it.
type AdminHandler struct {
	rebuilder *projector.Rebuilder
	logger    *slog.Logger
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(rebuilder *projector.Rebuilder, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		rebuilder: rebuilder,
		logger:    logger,
	}
}

type rebuildRequest struct {
	TreeID string `json:"tree_id,omitempty"`
}

type rebuildResponse struct {
	Events int    `json:"events_replayed"`
	TreeID string `json:"tree_id,omitempty"`
}

// Rebuild replays one tree (or everything, when tree_id is empty) from the
// event log into fresh materialized rows.
func (h *AdminHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var count int
	var err error
	if req.TreeID != "" {
		count, err = h.rebuilder.RebuildTree(r.Context(), req.TreeID)
	} else {
		count, err = h.rebuilder.RebuildAll(r.Context())
	}
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, rebuildResponse{
		Events: count,
		TreeID: req.TreeID,
	})
}

// HealthCheck reports liveness.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
