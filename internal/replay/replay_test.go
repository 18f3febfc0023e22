package replay

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kittclouds/memoryvcs/internal/conversation"
	"github.com/kittclouds/memoryvcs/internal/semanticdiff"
	"github.com/kittclouds/memoryvcs/internal/storage"
)

func newTestDeps(t *testing.T) (*storage.SQLiteStore, *conversation.Engine) {
	t.Helper()
	s, err := storage.NewSQLiteStore(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, conversation.New(s)
}

func TestStartClonesUpToPivot(t *testing.T) {
	s, conv := newTestDeps(t)
	e := New(s, conv)
	ctx := context.Background()

	c, err := conv.CreateConversation(ctx, "s", "", "", storage.MainBranch, "t", "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	var pivot string
	for i, content := range []string{"a", "b", "c"} {
		m, err := conv.AppendMessage(ctx, conversation.AppendMessageParams{ConversationID: c.ID, Role: storage.RoleUser, Content: content})
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		if i == 1 {
			pivot = m.ID
		}
	}

	r, err := e.Start(ctx, Params{ConversationID: c.ID, FromMessageID: pivot, Model: "gpt-test"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if r.Status != storage.ReplayPending {
		t.Errorf("expected pending status, got %s", r.Status)
	}

	msgs, err := s.ListMessages(ctx, r.NewConversationID, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected replay conversation to carry 2 messages up to pivot, got %d", len(msgs))
	}
}

func TestDiffReportsSharedPrefixAndDivergence(t *testing.T) {
	s, conv := newTestDeps(t)
	e := New(s, conv)
	ctx := context.Background()

	c, err := conv.CreateConversation(ctx, "s", "", "", storage.MainBranch, "t", "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	var pivot string
	for i, content := range []string{"hello", "world"} {
		m, err := conv.AppendMessage(ctx, conversation.AppendMessageParams{ConversationID: c.ID, Role: storage.RoleUser, Content: content})
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		if i == 1 {
			pivot = m.ID
		}
	}

	r, err := e.Start(ctx, Params{ConversationID: c.ID, FromMessageID: pivot})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := conv.AppendMessage(ctx, conversation.AppendMessageParams{ConversationID: r.NewConversationID, Role: storage.RoleAssistant, Content: "different reply"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := conv.AppendMessage(ctx, conversation.AppendMessageParams{ConversationID: c.ID, Role: storage.RoleAssistant, Content: "original reply"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	diff, err := e.Diff(ctx, r.ID)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if diff.SharedPrefixLen != 2 {
		t.Errorf("expected shared prefix of 2 messages, got %d", diff.SharedPrefixLen)
	}
	if len(diff.ChangedIndices) != 1 || diff.ChangedIndices[0] != 2 {
		t.Errorf("expected a single changed index at 2, got %v", diff.ChangedIndices)
	}
}

func TestSemanticDiffDelegatesToEngine(t *testing.T) {
	s, conv := newTestDeps(t)
	e := New(s, conv)
	sd := semanticdiff.New(s, nil)
	ctx := context.Background()

	c, err := conv.CreateConversation(ctx, "s", "", "", storage.MainBranch, "t", "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	m, err := conv.AppendMessage(ctx, conversation.AppendMessageParams{ConversationID: c.ID, Role: storage.RoleUser, Content: "hi"})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	r, err := e.Start(ctx, Params{ConversationID: c.ID, FromMessageID: m.ID})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	result, err := e.SemanticDiff(ctx, r.ID, sd)
	if err != nil {
		t.Fatalf("SemanticDiff: %v", err)
	}
	if result == nil {
		t.Fatal("expected a non-nil semantic diff result")
	}
}

func TestCompleteRequiresExistingReplay(t *testing.T) {
	s, conv := newTestDeps(t)
	e := New(s, conv)
	ctx := context.Background()

	if err := e.Complete(ctx, "does-not-exist"); err == nil {
		t.Error("expected error completing an unknown replay")
	}
}
