package conversation

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

func TestAppendMessageAssignsSequence(t *testing.T) {
	s := newTestStore(t)
	e := New(s)
	ctx := context.Background()

	conv, err := e.CreateConversation(ctx, "session1", "", "", storage.MainBranch, "t", "gpt")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	m1, err := e.AppendMessage(ctx, AppendMessageParams{ConversationID: conv.ID, Role: storage.RoleUser, Content: "hi"})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	m2, err := e.AppendMessage(ctx, AppendMessageParams{ConversationID: conv.ID, Role: storage.RoleAssistant, Content: "hello"})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if m1.SequenceNum != 1 || m2.SequenceNum != 2 {
		t.Errorf("expected sequence 1,2, got %d,%d", m1.SequenceNum, m2.SequenceNum)
	}

	updated, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if updated.MessageCount != 2 {
		t.Errorf("expected message_count 2, got %d", updated.MessageCount)
	}
}

func TestForkPreservesPrefix(t *testing.T) {
	s := newTestStore(t)
	e := New(s)
	ctx := context.Background()

	conv, err := e.CreateConversation(ctx, "session1", "", "", storage.MainBranch, "t", "gpt")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	var pivot *storage.Message
	for i, content := range []string{"a", "b", "c", "d"} {
		m, err := e.AppendMessage(ctx, AppendMessageParams{ConversationID: conv.ID, Role: storage.RoleUser, Content: content})
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		if i == 1 {
			pivot = m
		}
	}

	child, err := e.Fork(ctx, conv.ID, pivot.ID, "forked", "")
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}

	msgs, err := s.ListMessages(ctx, child.ID, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected the fork to carry exactly the pivot's prefix (2 messages), got %d", len(msgs))
	}
	if msgs[0].Content != "a" || msgs[1].Content != "b" {
		t.Errorf("expected prefix [a, b], got [%s, %s]", msgs[0].Content, msgs[1].Content)
	}

	parentMsgs, err := s.ListMessages(ctx, conv.ID, 0)
	if err != nil {
		t.Fatalf("ListMessages(parent): %v", err)
	}
	if len(parentMsgs) != 4 {
		t.Errorf("fork must not mutate the parent conversation, expected 4 messages, got %d", len(parentMsgs))
	}
}

func TestForkRejectsMismatchedMessage(t *testing.T) {
	s := newTestStore(t)
	e := New(s)
	ctx := context.Background()

	convA, err := e.CreateConversation(ctx, "s", "", "", storage.MainBranch, "a", "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	convB, err := e.CreateConversation(ctx, "s", "", "", storage.MainBranch, "b", "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	mB, err := e.AppendMessage(ctx, AppendMessageParams{ConversationID: convB.ID, Role: storage.RoleUser, Content: "x"})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	if _, err := e.Fork(ctx, convA.ID, mB.ID, "", ""); err == nil {
		t.Error("expected Fork to reject a pivot message from a different conversation")
	}
}

func TestAppendMessageBranchMismatch(t *testing.T) {
	s := newTestStore(t)
	e := New(s)
	ctx := context.Background()

	conv, err := e.CreateConversation(ctx, "s", "", "", storage.MainBranch, "t", "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if _, err := e.AppendMessage(ctx, AppendMessageParams{ConversationID: conv.ID, Role: storage.RoleUser, Content: "x", BranchName: "other"}); err == nil {
		t.Error("expected branch mismatch to be rejected")
	}
}
