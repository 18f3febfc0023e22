// Package replay implements ReplayEngine: cloning a conversation from a
// pivot message into a new one configured for a re-run the client drives.
package replay

import (
	"context"
	"time"

	"github.com/kittclouds/memoryvcs/internal/conversation"
	"github.com/kittclouds/memoryvcs/internal/ids"
	"github.com/kittclouds/memoryvcs/internal/semanticdiff"
	"github.com/kittclouds/memoryvcs/internal/storage"
	"github.com/kittclouds/memoryvcs/pkg/orcherr"
)

// Engine clones conversations for replay. It never invokes a model; clients
// drive execution against the returned conversation and call Complete when done.
type Engine struct {
	store storage.Store
	conv  *conversation.Engine
}

// New builds an Engine.
func New(store storage.Store, conv *conversation.Engine) *Engine {
	return &Engine{store: store, conv: conv}
}

// Params configure a replay run. Any zero-valued field is left unset on the
// descriptor rather than defaulted, since only the client driving execution
// knows the right default for its own model call.
type Params struct {
	ConversationID string
	FromMessageID  string
	SystemPrompt   string
	Model          string
	Temperature    float64
	MaxTokens      int
	ToolFilter     []string
	ExtraContext   string
	Branch         string
	Title          string
}

// Start clones messages up to the pivot into a new conversation and records
// a pending replay descriptor describing the run configuration.
func (e *Engine) Start(ctx context.Context, p Params) (*storage.Replay, error) {
	if p.ConversationID == "" || p.FromMessageID == "" {
		return nil, orcherr.New(orcherr.InvalidArgument, "replay: conversation_id and from_message_id are required")
	}

	child, err := e.conv.Fork(ctx, p.ConversationID, p.FromMessageID, p.Title, p.Branch)
	if err != nil {
		return nil, err
	}

	r := &storage.Replay{
		ID:                ids.New(),
		OriginalConvID:    p.ConversationID,
		NewConversationID: child.ID,
		PivotMessageID:    p.FromMessageID,
		SystemPrompt:      p.SystemPrompt,
		Model:             p.Model,
		Temperature:       p.Temperature,
		MaxTokens:         p.MaxTokens,
		ToolFilter:        p.ToolFilter,
		ExtraContext:      p.ExtraContext,
		Status:            storage.ReplayPending,
		CreatedAt:         time.Now(),
	}
	if err := e.store.CreateReplay(ctx, r); err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "replay: create descriptor")
	}
	return r, nil
}

// Complete marks a replay's execution finished. The client is responsible
// for having appended whatever messages the re-run produced before calling this.
func (e *Engine) Complete(ctx context.Context, replayID string) error {
	if _, err := e.store.GetReplay(ctx, replayID); err != nil {
		return orcherr.Wrap(orcherr.NotFound, err, "replay: %q not found", replayID)
	}
	if err := e.store.UpdateReplayStatus(ctx, replayID, storage.ReplayComplete); err != nil {
		return orcherr.Wrap(orcherr.Internal, err, "replay: complete %q", replayID)
	}
	return nil
}

// Get returns a replay descriptor by id.
func (e *Engine) Get(ctx context.Context, replayID string) (*storage.Replay, error) {
	r, err := e.store.GetReplay(ctx, replayID)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.NotFound, err, "replay: %q not found", replayID)
	}
	return r, nil
}

// ConversationDiff is a structural comparison of two conversations' message
// sequences: where they stop matching message-for-message, and which
// indices changed. It is the cheap, embedding-free comparison Diff uses;
// SemanticDiff gives the four-dimension comparison instead.
type ConversationDiff struct {
	OriginalLen     int
	ReplayLen       int
	SharedPrefixLen int
	ChangedIndices  []int
}

// Diff compares a replay's resulting conversation against the original it
// forked from, message-for-message.
func (e *Engine) Diff(ctx context.Context, replayID string) (*ConversationDiff, error) {
	r, err := e.Get(ctx, replayID)
	if err != nil {
		return nil, err
	}

	original, err := e.store.ListMessages(ctx, r.OriginalConvID, 0)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "replay: list messages for %q", r.OriginalConvID)
	}
	replayed, err := e.store.ListMessages(ctx, r.NewConversationID, 0)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "replay: list messages for %q", r.NewConversationID)
	}

	d := &ConversationDiff{OriginalLen: len(original), ReplayLen: len(replayed)}
	minLen := len(original)
	if len(replayed) < minLen {
		minLen = len(replayed)
	}
	prefix := 0
	for i := 0; i < minLen; i++ {
		if original[i].Role == replayed[i].Role && original[i].Content == replayed[i].Content {
			if prefix == i {
				prefix++
			}
			continue
		}
		d.ChangedIndices = append(d.ChangedIndices, i)
	}
	d.SharedPrefixLen = prefix
	return d, nil
}

// SemanticDiff compares a replay's resulting conversation against the
// original via the four-dimension comparison in semanticdiff.
func (e *Engine) SemanticDiff(ctx context.Context, replayID string, sd *semanticdiff.Engine) (*semanticdiff.Result, error) {
	r, err := e.Get(ctx, replayID)
	if err != nil {
		return nil, err
	}
	return sd.Compare(ctx, r.OriginalConvID, r.NewConversationID)
}
