package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"loom/internal/domain/models"
	"loom/internal/repository/memory"
	"loom/internal/service/events"
	"loom/internal/service/projector"
)

func testTreeHandler() (*TreeHandler, *events.Service, *projector.Projector) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	proj := projector.New(memory.NewProjectionStore(), logger)
	eventSvc := events.NewService(memory.NewEventStore(), proj, "test", logger)
	return NewTreeHandler(eventSvc, proj, logger), eventSvc, proj
}

func patchTree(h *TreeHandler, treeID, body string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /api/trees/{id}", h.UpdateTree)

	req := httptest.NewRequest(http.MethodPatch, "/api/trees/"+treeID, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func seedTree(t *testing.T, eventSvc *events.Service, treeID string) {
	t.Helper()
	_, err := eventSvc.Record(context.Background(), events.RecordRequest{
		TreeID:  treeID,
		Type:    models.EventTreeCreated,
		Payload: models.TreeCreatedPayload{Title: "Start"},
	})
	if err != nil {
		t.Fatalf("seed tree failed: %v", err)
	}
}

// TestUpdateTree_SortedFieldOrder verifies a multi-field update records one
// event per field in sorted field order, independent of map iteration.
func TestUpdateTree_SortedFieldOrder(t *testing.T) {
	h, eventSvc, _ := testTreeHandler()
	seedTree(t, eventSvc, "t1")

	rec := patchTree(h, "t1", `{"fields":{
		"title":"Renamed",
		"provider":"anthropic",
		"mode":"completer"
	}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	history, err := eventSvc.History(context.Background(), "t1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected tree.created plus 3 update events, got %d", len(history))
	}

	want := []string{"mode", "provider", "title"}
	for i, field := range want {
		var pl models.TreeMetadataUpdatedPayload
		if err := json.Unmarshal(history[i+1].Payload, &pl); err != nil {
			t.Fatalf("decode update payload %d: %v", i, err)
		}
		if pl.Field != field {
			t.Errorf("event %d: expected field %q, got %q", i+1, field, pl.Field)
		}
	}
}

// TestUpdateTree_PartialFailureReported verifies a mid-update failure tells
// the caller how many fields were applied before it.
func TestUpdateTree_PartialFailureReported(t *testing.T) {
	h, eventSvc, proj := testTreeHandler()
	seedTree(t, eventSvc, "t1")
	ctx := context.Background()

	// "provider" sorts first and applies; "title" carries a number where
	// the projection expects a string and fails.
	rec := patchTree(h, "t1", `{"fields":{"provider":"anthropic","title":123}}`)
	if rec.Code == http.StatusOK {
		t.Fatalf("expected failure, got 200: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "1 of 2 fields applied") {
		t.Errorf("expected partial-application detail in response, got %s", rec.Body.String())
	}

	tree, err := proj.GetTree(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTree failed: %v", err)
	}
	if tree.Params.Provider != "anthropic" {
		t.Errorf("expected the earlier field applied, got provider %q", tree.Params.Provider)
	}
	if tree.Title != "Start" {
		t.Errorf("failed field must not apply, got title %q", tree.Title)
	}
}
