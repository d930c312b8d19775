package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"loom/internal/domain/models"
	"loom/internal/httputil"
	"loom/internal/service/events"
)

// EventsHandler exposes the raw event surface: a generic append endpoint
// for side-relation events (annotations, bookmarks, exclusions, anchors,
// digressions) and ordered reads for tailing and sync.
type EventsHandler struct {
	events *events.Service
	logger *slog.Logger
}

// NewEventsHandler creates an events handler.
func NewEventsHandler(eventSvc *events.Service, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		events: eventSvc,
		logger: logger,
	}
}

type appendEventRequest struct {
	Type    models.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
	EventID string           `json:"event_id,omitempty"`
	ActorID *string          `json:"actor_id,omitempty"`
}

// AppendEvent records one event of any known type against a tree. The
// payload is validated against the type's schema before it reaches the log.
func (h *EventsHandler) AppendEvent(w http.ResponseWriter, r *http.Request) {
	treeID := r.PathValue("id")
	if treeID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "tree id is required")
		return
	}

	var req appendEventRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	env, err := h.events.RecordRaw(r.Context(), treeID, req.ActorID, req.EventID, req.Type, req.Payload)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, env)
}

// GetTreeEvents returns a tree's full history, ascending by sequence.
func (h *EventsHandler) GetTreeEvents(w http.ResponseWriter, r *http.Request) {
	treeID := r.PathValue("id")
	if treeID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "tree id is required")
		return
	}

	history, err := h.events.History(r.Context(), treeID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, history)
}

// TailEvents returns all events after ?since=N across trees.
func (h *EventsHandler) TailEvents(w http.ResponseWriter, r *http.Request) {
	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			httputil.RespondError(w, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = parsed
	}

	tail, err := h.events.Tail(r.Context(), since)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, tail)
}
