package handler

import (
	"log/slog"
	"net/http"

	"loom/internal/httputil"
	"loom/internal/service/events"
	"loom/internal/service/importer"
	"loom/internal/service/projector"
)

// ImportHandler accepts the format-agnostic intermediate representation and
// runs it through translation and the normal write path.
type ImportHandler struct {
	translator *importer.Translator
	events     *events.Service
	projector  *projector.Projector
	logger     *slog.Logger
}

// NewImportHandler creates an import handler.
func NewImportHandler(translator *importer.Translator, eventSvc *events.Service, proj *projector.Projector, logger *slog.Logger) *ImportHandler {
	return &ImportHandler{
		translator: translator,
		events:     eventSvc,
		projector:  proj,
		logger:     logger,
	}
}

// Import creates a new tree from an intermediate-representation payload.
func (h *ImportHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req importer.Request
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	treeID, envelopes, err := h.translator.Translate(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	if err := h.events.RecordBatch(r.Context(), envelopes); err != nil {
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
