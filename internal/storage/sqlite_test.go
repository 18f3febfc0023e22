package storage

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMainBranchExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b, err := s.GetBranch(ctx, MainBranch)
	if err != nil {
		t.Fatalf("GetBranch(main): %v", err)
	}
	if b.Status != BranchActive {
		t.Errorf("expected main branch active, got %s", b.Status)
	}
}

func TestFactCreateAndSupersede(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f1 := &Fact{ID: "f1", FactText: "OAuth uses refresh token", Category: "auth", Confidence: 0.8, BranchName: MainBranch}
	if err := s.CreateFact(ctx, f1); err != nil {
		t.Fatalf("CreateFact: %v", err)
	}

	f2 := &Fact{ID: "f2", FactText: "OAuth uses refresh token with backoff", ParentID: "f1", Category: "auth", Confidence: 0.9, BranchName: MainBranch}
	if err := s.CreateFact(ctx, f2); err != nil {
		t.Fatalf("CreateFact: %v", err)
	}
	if err := s.SupersedeFact(ctx, "f1"); err != nil {
		t.Fatalf("SupersedeFact: %v", err)
	}

	got, err := s.GetFact(ctx, "f1")
	if err != nil {
		t.Fatalf("GetFact: %v", err)
	}
	if got.Status != FactSuperseded {
		t.Errorf("expected f1 superseded, got %s", got.Status)
	}

	active, err := s.ListFacts(ctx, MainBranch, "", 10, 0)
	if err != nil {
		t.Fatalf("ListFacts: %v", err)
	}
	if len(active) != 1 || active[0].ID != "f2" {
		t.Errorf("expected only f2 active, got %+v", active)
	}
}

func TestForkTableIsolatesBranches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateFact(ctx, &Fact{ID: "f1", FactText: "base fact", BranchName: MainBranch}); err != nil {
		t.Fatalf("CreateFact: %v", err)
	}

	if err := s.CreateBranch(ctx, &Branch{Name: "exp1", ParentBranch: MainBranch, Status: BranchActive}); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if err := s.ForkTable(ctx, MainBranch, "exp1"); err != nil {
		t.Fatalf("ForkTable: %v", err)
	}

	if err := s.CreateFact(ctx, &Fact{ID: "f2", FactText: "only on main", BranchName: MainBranch}); err != nil {
		t.Fatalf("CreateFact: %v", err)
	}

	forked, err := s.ListFacts(ctx, "exp1", "", 10, 0)
	if err != nil {
		t.Fatalf("ListFacts(exp1): %v", err)
	}
	if len(forked) != 1 {
		t.Fatalf("expected 1 fact on exp1 after fork, got %d", len(forked))
	}

	main, err := s.ListFacts(ctx, MainBranch, "", 10, 0)
	if err != nil {
		t.Fatalf("ListFacts(main): %v", err)
	}
	if len(main) != 2 {
		t.Errorf("expected 2 facts remaining on main, got %d", len(main))
	}
}

func TestReadAsOfFact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t0 := time.Now().Add(-time.Hour)
	if err := s.CreateFact(ctx, &Fact{ID: "f1", FactText: "early fact", BranchName: MainBranch, CreatedAt: t0}); err != nil {
		t.Fatalf("CreateFact: %v", err)
	}

	tMid := time.Now().Add(-30 * time.Minute)
	rows, err := s.ReadAsOf(ctx, "facts", MainBranch, tMid)
	if err != nil {
		t.Fatalf("ReadAsOf: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row as of tMid, got %d", len(rows))
	}

	if err := s.SupersedeFact(ctx, "f1"); err != nil {
		t.Fatalf("SupersedeFact: %v", err)
	}

	rowsAfter, err := s.ReadAsOf(ctx, "facts", MainBranch, tMid)
	if err != nil {
		t.Fatalf("ReadAsOf: %v", err)
	}
	if len(rowsAfter) != 1 {
		t.Errorf("expected historical read to still show f1 as of tMid, got %d rows", len(rowsAfter))
	}

	rowsNow, err := s.ReadAsOf(ctx, "facts", MainBranch, time.Now())
	if err != nil {
		t.Fatalf("ReadAsOf: %v", err)
	}
	if len(rowsNow) != 0 {
		t.Errorf("expected f1 to be superseded as of now, got %d rows", len(rowsNow))
	}
}

func TestFulltextSearchRanksExactMatchHigher(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateFact(ctx, &Fact{ID: "f1", FactText: "the deployment pipeline uses canary releases", BranchName: MainBranch}); err != nil {
		t.Fatalf("CreateFact: %v", err)
	}
	if err := s.CreateFact(ctx, &Fact{ID: "f2", FactText: "unrelated note about lunch", BranchName: MainBranch}); err != nil {
		t.Fatalf("CreateFact: %v", err)
	}

	results, err := s.FulltextSearch(ctx, "facts", "fact_text", "canary deployment", SearchFilters{BranchName: MainBranch, Status: string(FactActive)}, 10)
	if err != nil {
		t.Fatalf("FulltextSearch: %v", err)
	}
	if len(results) == 0 || results[0].ID != "f1" {
		t.Fatalf("expected f1 ranked first, got %+v", results)
	}
}

func TestVectorSearchReturnsNearestByCosine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateFact(ctx, &Fact{ID: "f1", FactText: "near", Embedding: []float32{1, 0, 0}, BranchName: MainBranch}); err != nil {
		t.Fatalf("CreateFact: %v", err)
	}
	if err := s.CreateFact(ctx, &Fact{ID: "f2", FactText: "far", Embedding: []float32{0, 1, 0}, BranchName: MainBranch}); err != nil {
		t.Fatalf("CreateFact: %v", err)
	}

	results, err := s.VectorSearch(ctx, "facts", "embedding", []float32{1, 0, 0}, SearchFilters{BranchName: MainBranch}, 5)
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(results) != 2 || results[0].ID != "f1" {
		t.Fatalf("expected f1 nearest, got %+v", results)
	}
}

func TestConversationAndMessageSequencing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := &Conversation{ID: "c1", BranchName: MainBranch, Title: "demo"}
	if err := s.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	for i, role := range []MessageRole{RoleUser, RoleAssistant, RoleUser} {
		seq, err := s.MaxSequenceNum(ctx, "c1")
		if err != nil {
			t.Fatalf("MaxSequenceNum: %v", err)
		}
		msg := &Message{ID: "m" + string(rune('0'+i)), ConversationID: "c1", Role: role, Content: "hi", SequenceNum: seq + 1, BranchName: MainBranch}
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	msgs, err := s.ListMessages(ctx, "c1", 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.SequenceNum != i+1 {
			t.Errorf("expected sequence_num %d, got %d", i+1, m.SequenceNum)
		}
	}
}

func TestRelationOpenCloseLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &Relation{ID: "r1", SourceEntity: "agentA", TargetEntity: "agentB", RelationType: "collaborates_with", BranchName: MainBranch}
	if err := s.CreateRelation(ctx, r); err != nil {
		t.Fatalf("CreateRelation: %v", err)
	}

	open, err := s.FindOpenRelation(ctx, MainBranch, "agentA", "agentB", "collaborates_with")
	if err != nil {
		t.Fatalf("FindOpenRelation: %v", err)
	}
	if open == nil || open.ID != "r1" {
		t.Fatalf("expected to find open relation r1, got %+v", open)
	}

	if err := s.CloseRelation(ctx, "r1", time.Now()); err != nil {
		t.Fatalf("CloseRelation: %v", err)
	}

	_, err = s.FindOpenRelation(ctx, MainBranch, "agentA", "agentB", "collaborates_with")
	if err == nil {
		t.Errorf("expected no open relation after close")
	}
}
