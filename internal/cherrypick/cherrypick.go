// Package cherrypick implements CherryPickEngine: extracting a subset of a
// conversation's messages into a new conversation, renumbered in input order.
package cherrypick

import (
	"context"
	"time"

	"github.com/kittclouds/memoryvcs/internal/ids"
	"github.com/kittclouds/memoryvcs/internal/storage"
	"github.com/kittclouds/memoryvcs/pkg/orcherr"
)

// Engine builds new conversations from a selected subset of messages.
type Engine struct {
	store storage.Store
}

// New builds an Engine.
func New(store storage.Store) *Engine {
	return &Engine{store: store}
}

// CherryPick produces a new conversation containing only messageIDs, in the
// order given, renumbered sequence_num 1..N, preserving role/content, with
// a pointer back to the original conversation recorded in its
// ParentConversationID. The title is newTitle as given.
func (e *Engine) CherryPick(ctx context.Context, convID string, messageIDs []string, newTitle, targetBranch string) (*storage.Conversation, error) {
	if len(messageIDs) == 0 {
		return nil, orcherr.New(orcherr.InvalidArgument, "cherrypick: message_ids is required")
	}
	original, err := e.store.GetConversation(ctx, convID)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.NotFound, err, "cherrypick: conversation %q not found", convID)
	}

	branch := targetBranch
	if branch == "" {
		branch = original.BranchName
	}

	child := &storage.Conversation{
		ID:                   ids.New(),
		SessionID:            original.SessionID,
		AgentID:              original.AgentID,
		TaskID:               original.TaskID,
		BranchName:           branch,
		Title:                newTitle,
		ParentConversationID: convID,
		Status:               storage.ConvForked,
		Model:                original.Model,
		CreatedAt:            time.Now(),
	}
	if err := e.store.CreateConversation(ctx, child); err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "cherrypick: create conversation")
	}

	totalTokens := 0
	for i, msgID := range messageIDs {
		m, err := e.store.GetMessage(ctx, msgID)
		if err != nil || m.ConversationID != convID {
			return nil, orcherr.New(orcherr.InvalidArgument, "cherrypick: message %q does not belong to %q", msgID, convID)
		}
		copied := &storage.Message{
			ID:             ids.New(),
			ConversationID: child.ID,
			SessionID:      m.SessionID,
			AgentID:        m.AgentID,
			Role:           m.Role,
			Content:        m.Content,
			Thinking:       m.Thinking,
			ToolCalls:      m.ToolCalls,
			TokenCount:     m.TokenCount,
			Model:          m.Model,
			SequenceNum:    i + 1,
			BranchName:     branch,
			CreatedAt:      time.Now(),
		}
		if err := e.store.AppendMessage(ctx, copied); err != nil {
			return nil, orcherr.Wrap(orcherr.Internal, err, "cherrypick: append message %q", msgID)
		}
		totalTokens += m.TokenCount
	}

	if err := e.store.UpdateConversationCounters(ctx, child.ID, len(messageIDs), totalTokens); err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "cherrypick: update counters")
	}
	return child, nil
}
