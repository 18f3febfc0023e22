// Package conversation implements ConversationEngine/MessageEngine: turn
// sequencing, counters, and forking a conversation at an arbitrary message.
package conversation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kittclouds/memoryvcs/internal/ids"
	"github.com/kittclouds/memoryvcs/internal/storage"
	"github.com/kittclouds/memoryvcs/pkg/orcherr"
)

// Engine creates conversations, appends messages under a per-conversation
// lock, and forks conversation history.
type Engine struct {
	store storage.Store

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds an Engine.
func New(store storage.Store) *Engine {
	return &Engine{store: store, locks: make(map[string]*sync.Mutex)}
}

func (e *Engine) lockFor(conversationID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[conversationID] = l
	}
	return l
}

// CreateConversation starts a new, empty conversation on branch.
func (e *Engine) CreateConversation(ctx context.Context, sessionID, agentID, taskID, branch, title, model string) (*storage.Conversation, error) {
	if branch == "" {
		return nil, orcherr.New(orcherr.InvalidArgument, "conversation: branch_name is required")
	}
	c := &storage.Conversation{
		ID:         ids.New(),
		SessionID:  sessionID,
		AgentID:    agentID,
		TaskID:     taskID,
		BranchName: branch,
		Title:      title,
		Status:     storage.ConvActive,
		Model:      model,
		CreatedAt:  time.Now(),
	}
	if err := e.store.CreateConversation(ctx, c); err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "conversation: create")
	}
	return c, nil
}

// AppendMessageParams are the inputs to AppendMessage.
type AppendMessageParams struct {
	ConversationID string
	Role           storage.MessageRole
	Content        string
	Thinking       string
	ToolCalls      []storage.ToolCall
	SessionID      string
	AgentID        string
	Model          string
	TokenCount     int // 0 triggers the word-count heuristic
	BranchName     string
}

// AppendMessage assigns the next sequence_num under a per-conversation lock
// and updates the conversation's running counters.
func (e *Engine) AppendMessage(ctx context.Context, p AppendMessageParams) (*storage.Message, error) {
	conv, err := e.store.GetConversation(ctx, p.ConversationID)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.NotFound, err, "conversation: %q not found", p.ConversationID)
	}
	if p.BranchName != "" && p.BranchName != conv.BranchName {
		return nil, orcherr.New(orcherr.PreconditionFailed,
			"conversation: message branch %q does not match conversation branch %q", p.BranchName, conv.BranchName)
	}

	lock := e.lockFor(p.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	seq, err := e.store.MaxSequenceNum(ctx, p.ConversationID)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "conversation: max sequence_num")
	}

	tokenCount := p.TokenCount
	if tokenCount == 0 {
		tokenCount = estimateTokens(p.Content) + estimateTokens(p.Thinking)
	}

	m := &storage.Message{
		ID:             ids.New(),
		ConversationID: p.ConversationID,
		SessionID:      p.SessionID,
		AgentID:        p.AgentID,
		Role:           p.Role,
		Content:        p.Content,
		Thinking:       p.Thinking,
		ToolCalls:      p.ToolCalls,
		TokenCount:     tokenCount,
		Model:          p.Model,
		SequenceNum:    seq + 1,
		BranchName:     conv.BranchName,
		CreatedAt:      time.Now(),
	}
	if err := e.store.AppendMessage(ctx, m); err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "conversation: append message")
	}

	if err := e.store.UpdateConversationCounters(ctx, conv.ID, conv.MessageCount+1, conv.TotalTokens+tokenCount); err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "conversation: update counters")
	}
	return m, nil
}

// estimateTokens is the default word-count heuristic used when a client
// does not supply an exact token count.
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return len(strings.Fields(s))
}

// Fork validates that messageID belongs to parentID, then creates a child
// conversation containing every message with sequence_num <= the pivot's,
// under new message ids but preserved sequence numbers. The parent is
// untouched.
func (e *Engine) Fork(ctx context.Context, parentID, messageID, newTitle, targetBranch string) (*storage.Conversation, error) {
	parent, err := e.store.GetConversation(ctx, parentID)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.NotFound, err, "conversation: %q not found", parentID)
	}
	pivot, err := e.store.GetMessage(ctx, messageID)
	if err != nil || pivot.ConversationID != parentID {
		return nil, orcherr.New(orcherr.PreconditionFailed, "conversation: message %q does not belong to %q", messageID, parentID)
	}

	branch := targetBranch
	if branch == "" {
		branch = parent.BranchName
	}

	child := &storage.Conversation{
		ID:                   ids.New(),
		SessionID:            parent.SessionID,
		AgentID:              parent.AgentID,
		TaskID:               parent.TaskID,
		BranchName:           branch,
		Title:                newTitle,
		ParentConversationID: parentID,
		ForkPointMessageID:   messageID,
		Status:               storage.ConvForked,
		Model:                parent.Model,
		CreatedAt:            time.Now(),
	}
	if err := e.store.CreateConversation(ctx, child); err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "conversation: create fork")
	}

	msgs, err := e.store.ListMessages(ctx, parentID, pivot.SequenceNum)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "conversation: list parent messages")
	}

	totalTokens := 0
	for _, m := range msgs {
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
			SequenceNum:    m.SequenceNum,
			BranchName:     branch,
			CreatedAt:      time.Now(),
		}
		if err := e.store.AppendMessage(ctx, copied); err != nil {
			return nil, orcherr.Wrap(orcherr.Internal, err, "conversation: copy message %q", m.ID)
		}
		totalTokens += m.TokenCount
	}
	if err := e.store.UpdateConversationCounters(ctx, child.ID, len(msgs), totalTokens); err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "conversation: update fork counters")
	}
	return child, nil
}
