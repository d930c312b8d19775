package importer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"loom/internal/domain"
	"loom/internal/domain/models"
)

func mustParseTime(t *testing.T, value string) time.Time {
	t.Helper()
	when, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time %q: %v", value, err)
	}
	return when
}

func testTranslator() *Translator {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return NewTranslator("import", logger)
}

// TestTranslate_LinearImport verifies a simple import produces one
// tree.created followed by node.created envelopes, parents before children.
func TestTranslate_LinearImport(t *testing.T) {
	req := &Request{
		Title: "Imported chat",
		Nodes: []ImportNode{
			{TempID: "a", Role: "user", Content: "Hello"},
			{TempID: "b", ParentTempID: "a", Role: "assistant", Content: "Hi!"},
		},
	}

	treeID, envelopes, err := testTranslator().Translate(context.Background(), req)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if treeID == "" {
		t.Fatal("expected a minted tree id")
	}
	if len(envelopes) != 3 {
		t.Fatalf("expected 3 envelopes, got %d", len(envelopes))
	}

	if envelopes[0].Type != models.EventTreeCreated {
		t.Errorf("expected tree.created first, got %s", envelopes[0].Type)
	}
	for i, env := range envelopes {
		if env.TreeID != treeID {
			t.Errorf("envelope %d carries tree id %s, want %s", i, env.TreeID, treeID)
		}
		if env.EventID == "" {
			t.Errorf("envelope %d missing event id", i)
		}
		if env.Origin != "import" {
			t.Errorf("envelope %d origin %q, want import", i, env.Origin)
		}
	}

	// The parent link must resolve to the minted id of "a".
	var first, second models.NodeCreatedPayload
	if err := json.Unmarshal(envelopes[1].Payload, &first); err != nil {
		t.Fatalf("decode first node payload: %v", err)
	}
	if err := json.Unmarshal(envelopes[2].Payload, &second); err != nil {
		t.Fatalf("decode second node payload: %v", err)
	}
	if first.ParentID != nil {
		t.Errorf("root node should have no parent, got %v", *first.ParentID)
	}
	if second.ParentID == nil || *second.ParentID != first.NodeID {
		t.Errorf("expected child to point at minted parent id %s, got %v", first.NodeID, second.ParentID)
	}
	if second.Role != models.RoleAssistant || second.Content != "Hi!" {
		t.Errorf("child payload mangled: %+v", second)
	}
}

// TestTranslate_OutOfOrderParents verifies children listed before their
// parents still come out parents-first.
func TestTranslate_OutOfOrderParents(t *testing.T) {
	req := &Request{
		Title: "Shuffled",
		Nodes: []ImportNode{
			{TempID: "grandchild", ParentTempID: "child", Role: "user", Content: "3"},
			{TempID: "child", ParentTempID: "root", Role: "assistant", Content: "2"},
			{TempID: "root", Role: "user", Content: "1"},
		},
	}

	_, envelopes, err := testTranslator().Translate(context.Background(), req)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	var contents []string
	for _, env := range envelopes[1:] {
		var pl models.NodeCreatedPayload
		if err := json.Unmarshal(env.Payload, &pl); err != nil {
			t.Fatalf("decode node payload: %v", err)
		}
		contents = append(contents, pl.Content)
	}
	want := []string{"1", "2", "3"}
	for i, content := range want {
		if contents[i] != content {
			t.Errorf("position %d: expected content %q, got %q (order %v)", i, content, contents[i], contents)
		}
	}
}

// TestTranslate_BranchingImport verifies sibling branches both resolve to the
// same parent.
func TestTranslate_BranchingImport(t *testing.T) {
	req := &Request{
		Title: "Branching",
		Nodes: []ImportNode{
			{TempID: "root", Role: "user", Content: "Pick one"},
			{TempID: "left", ParentTempID: "root", Role: "assistant", Content: "Option A"},
			{TempID: "right", ParentTempID: "root", Role: "assistant", Content: "Option B"},
		},
	}

	_, envelopes, err := testTranslator().Translate(context.Background(), req)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if len(envelopes) != 4 {
		t.Fatalf("expected 4 envelopes, got %d", len(envelopes))
	}

	var root models.NodeCreatedPayload
	if err := json.Unmarshal(envelopes[1].Payload, &root); err != nil {
		t.Fatalf("decode root payload: %v", err)
	}
	for _, env := range envelopes[2:] {
		var pl models.NodeCreatedPayload
		if err := json.Unmarshal(env.Payload, &pl); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if pl.ParentID == nil || *pl.ParentID != root.NodeID {
			t.Errorf("sibling %q does not point at the root, got %v", pl.Content, pl.ParentID)
		}
	}
}

// TestTranslate_ValidationFailures covers the rejects: missing title, empty
// node set, bad role, duplicate temp ids, dangling parents, cycles.
func TestTranslate_ValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		req  *Request
	}{
		{"missing title", &Request{Nodes: []ImportNode{{TempID: "a", Role: "user"}}}},
		{"no nodes", &Request{Title: "T"}},
		{"unknown role", &Request{Title: "T", Nodes: []ImportNode{
			{TempID: "a", Role: "wizard", Content: "x"},
		}}},
		{"duplicate temp id", &Request{Title: "T", Nodes: []ImportNode{
			{TempID: "a", Role: "user"},
			{TempID: "a", Role: "assistant"},
		}}},
		{"dangling parent", &Request{Title: "T", Nodes: []ImportNode{
			{TempID: "a", ParentTempID: "ghost", Role: "user"},
		}}},
		{"parent cycle", &Request{Title: "T", Nodes: []ImportNode{
			{TempID: "a", ParentTempID: "b", Role: "user"},
			{TempID: "b", ParentTempID: "a", Role: "assistant"},
		}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := testTranslator().Translate(context.Background(), tc.req)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

// TestTranslate_ConcurrentImports verifies one shared translator mints
// unique event ids under concurrent use.
func TestTranslate_ConcurrentImports(t *testing.T) {
	translator := testTranslator()
	ctx := context.Background()

	const workers = 8
	const perWorker = 50

	var mu sync.Mutex
	seen := make(map[string]bool)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				req := &Request{
					Title: "Concurrent import",
					Nodes: []ImportNode{
						{TempID: "a", Role: "user", Content: "hello"},
						{TempID: "b", ParentTempID: "a", Role: "assistant", Content: "hi"},
					},
				}
				_, envelopes, err := translator.Translate(ctx, req)
				if err != nil {
					t.Errorf("Translate failed: %v", err)
					return
				}
				mu.Lock()
				for _, env := range envelopes {
					if env.EventID == "" {
						t.Error("missing event id")
					}
					if seen[env.EventID] {
						t.Errorf("duplicate event id minted: %s", env.EventID)
					}
					seen[env.EventID] = true
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker*3 {
		t.Errorf("expected %d unique event ids, got %d", workers*perWorker*3, len(seen))
	}
}

// TestTranslate_PreservesTimestamps verifies caller-supplied creation times
// survive translation.
func TestTranslate_PreservesTimestamps(t *testing.T) {
	when := mustParseTime(t, "2024-11-05T09:30:00Z")
	req := &Request{
		Title: "Timestamped",
		Nodes: []ImportNode{
			{TempID: "a", Role: "user", Content: "old message", CreatedAt: &when},
		},
	}

	_, envelopes, err := testTranslator().Translate(context.Background(), req)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	var pl models.NodeCreatedPayload
	if err := json.Unmarshal(envelopes[1].Payload, &pl); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if !pl.CreatedAt.Equal(when) {
		t.Errorf("expected created_at %v, got %v", when, pl.CreatedAt)
	}
}
