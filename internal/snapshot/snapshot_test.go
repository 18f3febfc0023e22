package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kittclouds/memoryvcs/internal/branch"
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

func TestRestoreNativeRecreatesHistoricalState(t *testing.T) {
	s := newTestStore(t)
	branchMgr := branch.New(s)
	mgr := New(s)
	ctx := context.Background()

	if err := s.CreateFact(ctx, &storage.Fact{
		ID: "f1", FactText: "before snapshot", Status: storage.FactActive,
		BranchName: storage.MainBranch, Confidence: 1, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CreateFact: %v", err)
	}

	sn, err := branchMgr.NewSnapshot(ctx, storage.MainBranch, "native", true)
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}

	if err := s.CreateFact(ctx, &storage.Fact{
		ID: "f2", FactText: "after snapshot", Status: storage.FactActive,
		BranchName: storage.MainBranch, Confidence: 1, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CreateFact: %v", err)
	}

	restored, err := mgr.Restore(ctx, sn.ID)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	facts, err := s.ListFacts(ctx, restored.Name, "", 100, 0)
	if err != nil {
		t.Fatalf("ListFacts: %v", err)
	}
	if len(facts) != 1 || facts[0].ID != "f1#"+restored.Name {
		t.Fatalf("expected only the pre-snapshot fact in restored branch, got %+v", facts)
	}

	mainFacts, err := s.ListFacts(ctx, storage.MainBranch, "", 100, 0)
	if err != nil {
		t.Fatalf("ListFacts(main): %v", err)
	}
	if len(mainFacts) != 2 {
		t.Fatalf("restore must not mutate the original branch, want 2 facts, got %d", len(mainFacts))
	}
}

func TestRestorePayloadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	branchMgr := branch.New(s)
	mgr := New(s)
	ctx := context.Background()

	if err := s.CreateFact(ctx, &storage.Fact{
		ID: "f1", FactText: "payload fact", Status: storage.FactActive,
		BranchName: storage.MainBranch, Confidence: 1, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CreateFact: %v", err)
	}

	sn, err := branchMgr.NewSnapshot(ctx, storage.MainBranch, "payload", false)
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}

	restored, err := mgr.Restore(ctx, sn.ID)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	facts, err := s.ListFacts(ctx, restored.Name, "", 100, 0)
	if err != nil {
		t.Fatalf("ListFacts: %v", err)
	}
	if len(facts) != 1 || facts[0].FactText != "payload fact" {
		t.Fatalf("expected restored payload fact, got %+v", facts)
	}
}
