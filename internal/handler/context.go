package handler

import (
	"log/slog"
	"net/http"

	"loom/internal/httputil"
	"loom/internal/service/conversation"
)

// ContextHandler exposes context assembly. The response's messages field is
// the export contract consumed by provider adapters.
type ContextHandler struct {
	conversation *conversation.Service
	logger       *slog.Logger
}

// NewContextHandler creates a context handler.
func NewContextHandler(conversationSvc *conversation.Service, logger *slog.Logger) *ContextHandler {
	return &ContextHandler{
		conversation: conversationSvc,
		logger:       logger,
	}
}

// BuildContext assembles the message sequence for a target node.
func (h *ContextHandler) BuildContext(w http.ResponseWriter, r *http.Request) {
	treeID := r.PathValue("id")
	if treeID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "tree id is required")
		return
	}

	var req conversation.BuildRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.TreeID = treeID
	if req.TargetID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "target_id is required")
		return
	}

	result, err := h.conversation.BuildContext(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, result)
}
