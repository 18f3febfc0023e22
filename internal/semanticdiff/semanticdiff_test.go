package semanticdiff

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

func mustConversation(t *testing.T, s *storage.SQLiteStore, id string, totalTokens int) {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateConversation(ctx, &storage.Conversation{
		ID: id, BranchName: storage.MainBranch, Status: storage.ConvActive,
	}); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if err := s.UpdateConversationCounters(ctx, id, 0, totalTokens); err != nil {
		t.Fatalf("UpdateConversationCounters: %v", err)
	}
}

func mustMessage(t *testing.T, s *storage.SQLiteStore, convID string, seq int, role storage.MessageRole, content string, tools []storage.ToolCall) {
	t.Helper()
	if err := s.AppendMessage(context.Background(), &storage.Message{
		ID: convID + "-m" + string(rune('0'+seq)), ConversationID: convID, Role: role, Content: content,
		ToolCalls: tools, SequenceNum: seq, BranchName: storage.MainBranch,
	}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
}

func TestCompareIdenticalConversationsIsEquivalent(t *testing.T) {
	s := newTestStore(t)
	e := New(s, nil)
	ctx := context.Background()

	mustConversation(t, s, "a", 10)
	mustConversation(t, s, "b", 10)
	mustMessage(t, s, "a", 1, storage.RoleUser, "hello", nil)
	mustMessage(t, s, "b", 1, storage.RoleUser, "hello", nil)

	r, err := e.Compare(ctx, "a", "b")
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if r.Verdict != Equivalent {
		t.Errorf("expected equivalent verdict for identical conversations, got %s", r.Verdict)
	}
	if r.DivergencePoint != 1 {
		t.Errorf("expected divergence point 1 (full match), got %d", r.DivergencePoint)
	}
}

func TestCompareDivergentToolSequences(t *testing.T) {
	s := newTestStore(t)
	e := New(s, nil)
	ctx := context.Background()

	mustConversation(t, s, "a", 10)
	mustConversation(t, s, "b", 10)
	mustMessage(t, s, "a", 1, storage.RoleAssistant, "x", []storage.ToolCall{{Name: "read_file"}})
	mustMessage(t, s, "b", 1, storage.RoleAssistant, "x", []storage.ToolCall{{Name: "delete_file"}})

	r, err := e.Compare(ctx, "a", "b")
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if r.Verdict != Divergent {
		t.Errorf("expected divergent verdict for disjoint tool sequences, got %s", r.Verdict)
	}
}

func TestCompareCountsToolErrors(t *testing.T) {
	s := newTestStore(t)
	e := New(s, nil)
	ctx := context.Background()

	mustConversation(t, s, "a", 10)
	mustConversation(t, s, "b", 10)
	mustMessage(t, s, "a", 1, storage.RoleAssistant, "x", []storage.ToolCall{{Name: "run", Result: "Error: failed"}})
	mustMessage(t, s, "b", 1, storage.RoleAssistant, "x", []storage.ToolCall{{Name: "run", Result: "ok"}})

	r, err := e.Compare(ctx, "a", "b")
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if r.ToolErrorsA != 1 || r.ToolErrorsB != 0 {
		t.Errorf("expected 1 tool error in a and 0 in b, got %d/%d", r.ToolErrorsA, r.ToolErrorsB)
	}
}

func TestCompareUnknownConversation(t *testing.T) {
	s := newTestStore(t)
	e := New(s, nil)
	ctx := context.Background()

	if _, err := e.Compare(ctx, "missing-a", "missing-b"); err == nil {
		t.Error("expected error comparing unknown conversations")
	}
}
