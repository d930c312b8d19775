package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"

	"loom/internal/domain"
	"loom/internal/domain/models"
	"loom/internal/repository/memory"
	"loom/internal/service/projector"
)

func testService() (*Service, *memory.ProjectionStore) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	store := memory.NewProjectionStore()
	proj := projector.New(store, logger)
	return NewService(memory.NewEventStore(), proj, "api", logger), store
}

// TestRecord_AppendsAndProjects verifies the write path: one Record call
// leaves both a durable envelope and the materialized row.
func TestRecord_AppendsAndProjects(t *testing.T) {
	svc, store := testService()
	ctx := context.Background()

	env, err := svc.Record(ctx, RecordRequest{
		TreeID: "t1",
		Type:   models.EventTreeCreated,
		Payload: models.TreeCreatedPayload{
			Title: "New tree",
		},
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if env.Seq != 1 {
		t.Errorf("expected seq 1, got %d", env.Seq)
	}
	if env.EventID == "" {
		t.Error("expected a minted event id")
	}
	if env.Origin != "api" {
		t.Errorf("expected origin api, got %q", env.Origin)
	}

	tree, err := store.GetTree(ctx, "t1")
	if err != nil {
		t.Fatalf("expected tree projected, got %v", err)
	}
	if tree.Title != "New tree" {
		t.Errorf("expected projected title, got %q", tree.Title)
	}

	history, err := svc.History(ctx, "t1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("expected 1 event in history, got %d", len(history))
	}
}

// TestRecord_DuplicateEventID verifies a caller-supplied id collides exactly
// once: the retry fails and the log keeps a single copy.
func TestRecord_DuplicateEventID(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	req := RecordRequest{
		TreeID:  "t1",
		EventID: "e1",
		Type:    models.EventTreeCreated,
		Payload: models.TreeCreatedPayload{Title: "T"},
	}
	if _, err := svc.Record(ctx, req); err != nil {
		t.Fatalf("first Record failed: %v", err)
	}

	_, err := svc.Record(ctx, req)
	if err == nil {
		t.Fatal("expected duplicate event id to be rejected")
	}
	if !errors.Is(err, domain.ErrDuplicate) {
		t.Errorf("expected duplicate-identifier error, got %v", err)
	}

	history, err := svc.History(ctx, "t1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("expected exactly one stored event, got %d", len(history))
	}
}

// TestRecord_RejectsUnknownType verifies the write path refuses types it
// cannot validate, unlike the read-side projector which skips them.
func TestRecord_RejectsUnknownType(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	_, err := svc.RecordRaw(ctx, "t1", nil, "", models.EventType("node.reacted"), json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected unknown type to be rejected on write")
	}
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

// TestRecord_RejectsInvalidPayload verifies schema validation happens before
// anything is appended.
func TestRecord_RejectsInvalidPayload(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	_, err := svc.Record(ctx, RecordRequest{
		TreeID:  "t1",
		Type:    models.EventNodeCreated,
		Payload: models.NodeCreatedPayload{}, // node_id and role are required
	})
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}

	history, err := svc.Tail(ctx, 0)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("invalid payload reached the log: %d events", len(history))
	}
}

// TestRecordRaw_DecodesAndProjects verifies the raw write path round-trips a
// JSON payload into materialized state.
func TestRecordRaw_DecodesAndProjects(t *testing.T) {
	svc, store := testService()
	ctx := context.Background()

	if _, err := svc.RecordRaw(ctx, "t1", nil, "", models.EventTreeCreated,
		json.RawMessage(`{"title":"Raw tree"}`)); err != nil {
		t.Fatalf("RecordRaw tree failed: %v", err)
	}
	if _, err := svc.RecordRaw(ctx, "t1", nil, "", models.EventNodeCreated,
		json.RawMessage(`{"node_id":"n1","role":"user","content":"hi"}`)); err != nil {
		t.Fatalf("RecordRaw node failed: %v", err)
	}

	nodes, err := store.ListNodes(ctx, "t1")
	if err != nil {
		t.Fatalf("ListNodes failed: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Content != "hi" {
		t.Errorf("expected projected node, got %+v", nodes)
	}
}

// TestRecordBatch verifies an import-style batch lands atomically enough for
// a follow-up read: all appended, all projected.
func TestRecordBatch(t *testing.T) {
	svc, store := testService()
	ctx := context.Background()

	batch := []models.Envelope{
		{
			EventID: "b1", TreeID: "t1", Type: models.EventTreeCreated,
			Payload: json.RawMessage(`{"title":"Imported"}`),
		},
		{
			EventID: "b2", TreeID: "t1", Type: models.EventNodeCreated,
			Payload: json.RawMessage(`{"node_id":"n1","role":"user","content":"hello"}`),
		},
	}
	if err := svc.RecordBatch(ctx, batch); err != nil {
		t.Fatalf("RecordBatch failed: %v", err)
	}

	if _, err := store.GetTree(ctx, "t1"); err != nil {
		t.Errorf("expected batch tree projected: %v", err)
	}
	tail, err := svc.Tail(ctx, 0)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(tail) != 2 {
		t.Errorf("expected 2 events in the log, got %d", len(tail))
	}
	if tail[0].Seq != 1 || tail[1].Seq != 2 {
		t.Errorf("expected sequential seqs, got %d %d", tail[0].Seq, tail[1].Seq)
	}
}
