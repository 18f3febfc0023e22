// Package observation implements ObservationEngine: append-only recording
// of tool invocations and discoveries, best-effort embedded for retrieval.
package observation

import (
	"context"
	"time"

	"github.com/kittclouds/memoryvcs/internal/ids"
	"github.com/kittclouds/memoryvcs/internal/storage"
	"github.com/kittclouds/memoryvcs/pkg/orcherr"
	"github.com/kittclouds/memoryvcs/pkg/provider"
)

// MaxRawSize is the truncation bound applied to raw_input/raw_output before storage.
const MaxRawSize = 2048

// Engine writes and lists observations.
type Engine struct {
	store    storage.Store
	embedder provider.Embedder // may be nil
}

// New builds an Engine. embedder may be nil.
func New(store storage.Store, embedder provider.Embedder) *Engine {
	return &Engine{store: store, embedder: embedder}
}

// WriteParams are the inputs to Write.
type WriteParams struct {
	Type       storage.ObservationType
	Summary    string
	ToolName   string
	RawInput   string
	RawOutput  string
	SessionID  string
	BranchName string
	Metadata   map[string]string
}

// Write truncates raw_input/raw_output, best-effort embeds the summary, and
// appends the observation.
func (e *Engine) Write(ctx context.Context, p WriteParams) (*storage.Observation, error) {
	if p.Summary == "" {
		return nil, orcherr.New(orcherr.InvalidArgument, "observation: summary is required")
	}
	if p.BranchName == "" {
		return nil, orcherr.New(orcherr.InvalidArgument, "observation: branch_name is required")
	}

	metadata := cloneMetadata(p.Metadata)
	var embedding []float32
	if e.embedder != nil {
		vec, err := e.embedder.Embed(ctx, p.Summary)
		if err != nil {
			metadata["embedding_pending"] = "true"
		} else {
			embedding = vec
		}
	}

	o := &storage.Observation{
		ID:         ids.New(),
		Type:       p.Type,
		ToolName:   p.ToolName,
		Summary:    p.Summary,
		Embedding:  embedding,
		RawInput:   truncate(p.RawInput, MaxRawSize),
		RawOutput:  truncate(p.RawOutput, MaxRawSize),
		SessionID:  p.SessionID,
		BranchName: p.BranchName,
		Metadata:   metadata,
		CreatedAt:  time.Now(),
	}
	if err := e.store.CreateObservation(ctx, o); err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "observation: create")
	}
	return o, nil
}

// List returns observations on branch since the given time, newest first up
// to limit, optionally scoped to a session.
func (e *Engine) List(ctx context.Context, branch, sessionID string, since time.Time, limit int) ([]*storage.Observation, error) {
	if limit <= 0 {
		limit = 50
	}
	obs, err := e.store.ListObservations(ctx, branch, sessionID, since, limit)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "observation: list")
	}
	return obs, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func cloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
