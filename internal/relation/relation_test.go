package relation

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kittclouds/memoryvcs/internal/storage"
)

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	s, err := storage.NewSQLiteStore(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteClosesOpenEdgeOnRewrite(t *testing.T) {
	s := newTestStore(t)
	e := New(s, nil)
	ctx := context.Background()

	r1, err := e.Write(ctx, WriteParams{Source: "alice", Target: "bob", RelationType: "manages", BranchName: storage.MainBranch, Confidence: 1})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := e.Write(ctx, WriteParams{Source: "alice", Target: "bob", RelationType: "manages", BranchName: storage.MainBranch, Confidence: 1}); err != nil {
		t.Fatalf("Write (second): %v", err)
	}

	open, err := s.FindOpenRelation(ctx, storage.MainBranch, "alice", "bob", "manages")
	if err != nil {
		t.Fatalf("FindOpenRelation: %v", err)
	}
	if open.ID == r1.ID {
		t.Error("expected the first edge to have been closed and a new one opened")
	}
}

func TestWriteResolvesAliases(t *testing.T) {
	s := newTestStore(t)
	aliases := NewAliasIndex()
	aliases.Register("bob smith", "bob")
	e := New(s, aliases)
	ctx := context.Background()

	r, err := e.Write(ctx, WriteParams{Source: "alice", Target: "Bob Smith", RelationType: "knows", BranchName: storage.MainBranch, Confidence: 1})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if r.TargetEntity != "bob" {
		t.Errorf("expected alias resolution to canonical key 'bob', got %q", r.TargetEntity)
	}
}

func TestWriteIncrementsMentionCount(t *testing.T) {
	s := newTestStore(t)
	e := New(s, nil)
	ctx := context.Background()

	if _, err := e.Write(ctx, WriteParams{Source: "alice", Target: "bob", RelationType: "knows", BranchName: storage.MainBranch, Confidence: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := e.Write(ctx, WriteParams{Source: "alice", Target: "carol", RelationType: "knows", BranchName: storage.MainBranch, Confidence: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	count, err := e.MentionCount(ctx, storage.MainBranch, "alice")
	if err != nil {
		t.Fatalf("MentionCount: %v", err)
	}
	if count != 2 {
		t.Errorf("expected alice mentioned twice, got %d", count)
	}
}

func TestWriteSelfRegistersEntitiesForRecognition(t *testing.T) {
	s := newTestStore(t)
	aliases := NewAliasIndex()
	e := New(s, aliases)
	ctx := context.Background()

	if _, err := e.Write(ctx, WriteParams{Source: "acme corp", Target: "widget co", RelationType: "supplies", BranchName: storage.MainBranch, Confidence: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	found := e.RecognizeEntities("acme corp ordered parts from widget co yesterday")
	if len(found) != 2 {
		t.Fatalf("expected both written entities recognized in free text, got %v", found)
	}
}

func TestQueryTraversal(t *testing.T) {
	s := newTestStore(t)
	e := New(s, nil)
	ctx := context.Background()

	if _, err := e.Write(ctx, WriteParams{Source: "a", Target: "b", RelationType: "knows", BranchName: storage.MainBranch, Confidence: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := e.Write(ctx, WriteParams{Source: "b", Target: "c", RelationType: "knows", BranchName: storage.MainBranch, Confidence: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	g, err := e.Query(ctx, storage.MainBranch, "a", "", 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(g.Nodes) != 3 {
		t.Errorf("expected 3 reachable nodes within depth 2, got %d: %v", len(g.Nodes), g.Nodes)
	}
}

func TestWriteRequiresFields(t *testing.T) {
	s := newTestStore(t)
	e := New(s, nil)
	ctx := context.Background()

	if _, err := e.Write(ctx, WriteParams{Target: "b", RelationType: "x", BranchName: storage.MainBranch}); err == nil {
		t.Error("expected error for missing source")
	}
	if _, err := e.Write(ctx, WriteParams{Source: "a", Target: "b", RelationType: "x"}); err == nil {
		t.Error("expected error for missing branch_name")
	}
}
