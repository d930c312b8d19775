package conversation

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"loom/internal/domain"
	"loom/internal/domain/models"
)

func testBuilder() *Builder {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return NewBuilder(logger)
}

// chain builds a linear parent chain from alternating role/content pairs.
// Node ids are n1..nK; n1 is the root.
func chain(pairs ...string) []models.Node {
	nodes := make([]models.Node, 0, len(pairs)/2)
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	var parent *string
	for i := 0; i < len(pairs); i += 2 {
		id := fmt.Sprintf("n%d", i/2+1)
		nodes = append(nodes, models.Node{
			ID:        id,
			TreeID:    "t1",
			ParentID:  parent,
			Role:      models.Role(pairs[i]),
			Content:   pairs[i+1],
			CreatedAt: base.Add(time.Duration(i/2) * time.Minute),
		})
		idCopy := id
		parent = &idCopy
	}
	return nodes
}

func strPtr(s string) *string { return &s }

// TestBuild_LinearChain verifies the basic assembly of a straight conversation:
// the system node never becomes a turn and the rest arrive in order.
func TestBuild_LinearChain(t *testing.T) {
	nodes := chain(
		"system", "You are helpful.",
		"user", "Hello",
		"assistant", "Hi there!",
		"user", "How are you?",
	)

	result, err := testBuilder().Build(nodes, "n4", "You are helpful.", 0, Config{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	expected := []models.Message{
		{Role: models.RoleUser, Content: "Hello"},
		{Role: models.RoleAssistant, Content: "Hi there!"},
		{Role: models.RoleUser, Content: "How are you?"},
	}
	if len(result.Messages) != len(expected) {
		t.Fatalf("expected %d messages, got %d", len(expected), len(result.Messages))
	}
	for i, want := range expected {
		if result.Messages[i] != want {
			t.Errorf("message %d: expected %+v, got %+v", i, want, result.Messages[i])
		}
	}
}

// TestBuild_BranchIsolation verifies that sibling subtrees never leak into a
// build: only the root-to-target path contributes messages.
func TestBuild_BranchIsolation(t *testing.T) {
	nodes := chain(
		"user", "Tell me a story",
		"assistant", "Once upon a time...",
	)
	// Two competing replies to n2; the build targets the second branch.
	nodes = append(nodes,
		models.Node{ID: "n3a", TreeID: "t1", ParentID: strPtr("n2"), Role: models.RoleUser, Content: "Make it scary"},
		models.Node{ID: "n3b", TreeID: "t1", ParentID: strPtr("n2"), Role: models.RoleUser, Content: "Make it funny"},
		models.Node{ID: "n4b", TreeID: "t1", ParentID: strPtr("n3b"), Role: models.RoleAssistant, Content: "A clown walked in."},
	)

	result, err := testBuilder().Build(nodes, "n4b", "", 0, Config{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if len(result.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(result.Messages))
	}
	for _, msg := range result.Messages {
		if msg.Content == "Make it scary" {
			t.Error("sibling branch content leaked into the assembled context")
		}
	}
	if result.Messages[2].Content != "Make it funny" {
		t.Errorf("expected third message from the target branch, got %q", result.Messages[2].Content)
	}
}

// TestBuild_TargetNotFound verifies the typed not-found error for an unknown
// target id.
func TestBuild_TargetNotFound(t *testing.T) {
	nodes := chain("user", "Hello")

	_, err := testBuilder().Build(nodes, "missing", "", 0, Config{})
	if err == nil {
		t.Fatal("expected error for missing target, got nil")
	}
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not-found error, got %v", err)
	}
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) || nf.ID != "missing" {
		t.Errorf("expected NotFoundError for 'missing', got %v", err)
	}
}

// TestBuild_BrokenChain verifies the typed error when a parent reference
// dangles.
func TestBuild_BrokenChain(t *testing.T) {
	nodes := []models.Node{
		{ID: "n1", TreeID: "t1", ParentID: strPtr("gone"), Role: models.RoleUser, Content: "orphan"},
	}

	_, err := testBuilder().Build(nodes, "n1", "", 0, Config{})
	if err == nil {
		t.Fatal("expected error for dangling parent, got nil")
	}
	var bc *domain.BrokenChainError
	if !errors.As(err, &bc) {
		t.Fatalf("expected BrokenChainError, got %v", err)
	}
	if bc.ParentID != "gone" {
		t.Errorf("expected dangling parent 'gone', got %q", bc.ParentID)
	}
}

// TestBuild_CycleDetected verifies the walk terminates with a typed error when
// the parent graph loops.
func TestBuild_CycleDetected(t *testing.T) {
	nodes := []models.Node{
		{ID: "n1", TreeID: "t1", ParentID: strPtr("n2"), Role: models.RoleUser, Content: "a"},
		{ID: "n2", TreeID: "t1", ParentID: strPtr("n1"), Role: models.RoleAssistant, Content: "b"},
	}

	_, err := testBuilder().Build(nodes, "n1", "", 0, Config{})
	if err == nil {
		t.Fatal("expected error for cyclic parent graph, got nil")
	}
	if !errors.Is(err, domain.ErrCycle) {
		t.Errorf("expected cycle error, got %v", err)
	}
}

// TestBuild_ContentOverride verifies that an edited node contributes its
// override, never the original.
func TestBuild_ContentOverride(t *testing.T) {
	nodes := chain("user", "original wording")
	nodes[0].ContentOverride = strPtr("edited wording")

	result, err := testBuilder().Build(nodes, "n1", "", 0, Config{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(result.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(result.Messages))
	}
	if result.Messages[0].Content != "edited wording" {
		t.Errorf("expected override content, got %q", result.Messages[0].Content)
	}
}

// TestBuild_ReasoningAugmentation verifies the thinking block is prepended
// only when the flag is on and the node carries a trace.
func TestBuild_ReasoningAugmentation(t *testing.T) {
	nodes := chain(
		"user", "Why is the sky blue?",
		"assistant", "Rayleigh scattering.",
	)
	nodes[1].Generation = &models.GenerationMeta{Reasoning: strPtr("Recall atmospheric optics.")}

	// Flag off: plain content.
	result, err := testBuilder().Build(nodes, "n2", "", 0, Config{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if result.Messages[1].Content != "Rayleigh scattering." {
		t.Errorf("expected plain content with reasoning off, got %q", result.Messages[1].Content)
	}

	// Flag on: thinking block prefix.
	result, err = testBuilder().Build(nodes, "n2", "", 0, Config{IncludeReasoning: true})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	want := "<thinking>\nRecall atmospheric optics.\n</thinking>\n\nRayleigh scattering."
	if result.Messages[1].Content != want {
		t.Errorf("expected thinking block prefix, got %q", result.Messages[1].Content)
	}
}

// TestBuild_TimestampAugmentation verifies timestamps land on user turns only.
func TestBuild_TimestampAugmentation(t *testing.T) {
	nodes := chain(
		"user", "Hello",
		"assistant", "Hi!",
	)
	nodes[0].CreatedAt = time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	result, err := testBuilder().Build(nodes, "n2", "", 0, Config{IncludeTimestamps: true})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if result.Messages[0].Content != "[Mar 10 14:30] Hello" {
		t.Errorf("expected timestamp prefix on user turn, got %q", result.Messages[0].Content)
	}
	if result.Messages[1].Content != "Hi!" {
		t.Errorf("expected assistant turn untouched, got %q", result.Messages[1].Content)
	}
}

// TestBuild_ExclusionScope verifies that an individual exclusion fires only
// when its scope leaf lies on the current path.
func TestBuild_ExclusionScope(t *testing.T) {
	nodes := chain(
		"user", "shared ancestor",
		"assistant", "reply",
	)
	// Two leaves branching from n2.
	nodes = append(nodes,
		models.Node{ID: "s", TreeID: "t1", ParentID: strPtr("n2"), Role: models.RoleUser, Content: "scope branch"},
		models.Node{ID: "other", TreeID: "t1", ParentID: strPtr("n2"), Role: models.RoleUser, Content: "other branch"},
	)
	cfg := Config{
		Exclusions: []models.Exclusion{
			{NodeID: "n2", ScopeID: "s", Mode: models.ExclusionExclude},
		},
	}

	// Viewed from the scope leaf, n2 is dropped.
	result, err := testBuilder().Build(nodes, "s", "", 0, cfg)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for _, msg := range result.Messages {
		if msg.Content == "reply" {
			t.Error("excluded node present when built from the scope leaf")
		}
	}
	if result.Usage.ExcludedCount != 1 {
		t.Errorf("expected 1 excluded turn, got %d", result.Usage.ExcludedCount)
	}

	// Viewed from an unrelated sibling branch, the mark is inert.
	result, err = testBuilder().Build(nodes, "other", "", 0, cfg)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	found := false
	for _, msg := range result.Messages {
		if msg.Content == "reply" {
			found = true
		}
	}
	if !found {
		t.Error("exclusion scoped to another branch suppressed the node here")
	}
	if result.Usage.ExcludedCount != 0 {
		t.Errorf("expected 0 excluded turns on the other branch, got %d", result.Usage.ExcludedCount)
	}
}

// TestBuild_ExclusionPrecedence verifies the rule ordering: an individual
// exclude always drops, an individual include beats group exclusion.
func TestBuild_ExclusionPrecedence(t *testing.T) {
	nodes := chain(
		"user", "one",
		"assistant", "two",
		"user", "three",
	)
	group := models.Digression{
		ID:        "d1",
		MemberIDs: []string{"n1", "n2"},
		Enabled:   false,
	}

	// n2 is group-excluded but individually included: kept. n1 falls with
	// the group.
	cfg := Config{
		Digressions: []models.Digression{group},
		Exclusions: []models.Exclusion{
			{NodeID: "n2", ScopeID: "n3", Mode: models.ExclusionInclude},
		},
	}
	result, err := testBuilder().Build(nodes, "n3", "", 0, cfg)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(result.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(result.Messages))
	}
	if result.Messages[0].Content != "two" {
		t.Errorf("individually included member should survive group exclusion, got %q", result.Messages[0].Content)
	}

	// An individual exclude wins over everything.
	cfg.Exclusions = append(cfg.Exclusions,
		models.Exclusion{NodeID: "n2", ScopeID: "n3", Mode: models.ExclusionExclude},
	)
	result, err = testBuilder().Build(nodes, "n3", "", 0, cfg)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for _, msg := range result.Messages {
		if msg.Content == "two" {
			t.Error("individually excluded node survived")
		}
	}
}

// TestBuild_DigressionPartialOnPath verifies a disabled group only suppresses
// members when the whole group lies on the current path.
func TestBuild_DigressionPartialOnPath(t *testing.T) {
	nodes := chain(
		"user", "one",
		"assistant", "two",
		"user", "three",
	)
	cfg := Config{
		Digressions: []models.Digression{
			// n2 is a member but the second member lives off-path, so the
			// group does not fire here.
			{ID: "d1", MemberIDs: []string{"n2", "offpath"}, Enabled: false},
		},
	}

	result, err := testBuilder().Build(nodes, "n3", "", 0, cfg)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(result.Messages) != 3 {
		t.Fatalf("expected all 3 messages kept, got %d", len(result.Messages))
	}
}

// TestBuild_EnabledDigressionKept verifies an enabled group never drops
// anything.
func TestBuild_EnabledDigressionKept(t *testing.T) {
	nodes := chain(
		"user", "one",
		"assistant", "two",
	)
	cfg := Config{
		Digressions: []models.Digression{
			{ID: "d1", MemberIDs: []string{"n1", "n2"}, Enabled: true},
		},
	}

	result, err := testBuilder().Build(nodes, "n2", "", 0, cfg)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(result.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(result.Messages))
	}
}

// TestBuild_UsageAccounting verifies the usage block: per-role token tallies,
// system prompt tokens, and excluded-token bookkeeping.
func TestBuild_UsageAccounting(t *testing.T) {
	nodes := chain(
		"user", "alpha beta gamma delta",
		"assistant", "epsilon zeta",
		"note", "operator annotation, never sent",
	)

	result, err := testBuilder().Build(nodes, "n3", "system prompt here", 100, Config{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if result.Usage.Ceiling != 100 {
		t.Errorf("expected ceiling 100, got %d", result.Usage.Ceiling)
	}
	if result.Usage.SystemTokens == 0 {
		t.Error("expected nonzero system prompt tokens")
	}
	if result.Usage.ByRole[models.RoleUser] == 0 || result.Usage.ByRole[models.RoleAssistant] == 0 {
		t.Errorf("expected per-role token tallies, got %+v", result.Usage.ByRole)
	}
	if _, ok := result.Usage.ByRole[models.RoleNote]; ok {
		t.Error("note role should never appear in the sendable tally")
	}
	wantTotal := result.Usage.SystemTokens +
		result.Usage.ByRole[models.RoleUser] +
		result.Usage.ByRole[models.RoleAssistant]
	if result.Usage.TotalTokens != wantTotal {
		t.Errorf("expected total %d, got %d", wantTotal, result.Usage.TotalTokens)
	}
}
