// Package fact implements FactEngine: writing facts with embedding and
// near-duplicate supersession, invalidation, and listing.
package fact

import (
	"context"
	"time"

	"github.com/kittclouds/memoryvcs/internal/ids"
	"github.com/kittclouds/memoryvcs/internal/storage"
	"github.com/kittclouds/memoryvcs/pkg/orcherr"
	"github.com/kittclouds/memoryvcs/pkg/provider"
)

// DuplicateThreshold is the cosine similarity at or above which a new fact is
// treated as an update to an existing one rather than a fresh insert.
const DuplicateThreshold = 0.92

// topK is how many near-duplicate candidates are pulled per write.
const topK = 3

// Engine writes, supersedes and lists facts.
type Engine struct {
	store    storage.Store
	embedder provider.Embedder // may be nil
}

// New builds an Engine. embedder may be nil; writes then proceed with a
// null embedding flagged embedding_pending in metadata.
func New(store storage.Store, embedder provider.Embedder) *Engine {
	return &Engine{store: store, embedder: embedder}
}

// WriteParams are the inputs to Write.
type WriteParams struct {
	FactText   string
	Category   string
	Confidence float64 // defaults to 1.0 when zero
	SourceType string
	SourceID   string
	SessionID  string
	AgentID    string
	TaskID     string
	BranchName string
	Metadata   map[string]string
}

// Write embeds fact_text, checks it against near-duplicates on the same
// branch, and either supersedes the closest match or inserts a fresh fact.
func (e *Engine) Write(ctx context.Context, p WriteParams) (*storage.Fact, error) {
	if p.FactText == "" {
		return nil, orcherr.New(orcherr.InvalidArgument, "fact: fact_text is required")
	}
	if p.BranchName == "" {
		return nil, orcherr.New(orcherr.InvalidArgument, "fact: branch_name is required")
	}
	if p.Confidence == 0 {
		p.Confidence = 1.0
	}

	metadata := cloneMetadata(p.Metadata)
	var embedding []float32
	if e.embedder != nil {
		vec, err := e.embedder.Embed(ctx, p.FactText)
		if err != nil {
			metadata["embedding_pending"] = "true"
		} else {
			embedding = vec
		}
	} else {
		metadata["embedding_pending"] = "true"
	}

	newFact := &storage.Fact{
		ID:         ids.New(),
		FactText:   p.FactText,
		Embedding:  embedding,
		Category:   p.Category,
		Confidence: p.Confidence,
		Status:     storage.FactActive,
		SourceType: p.SourceType,
		SourceID:   p.SourceID,
		SessionID:  p.SessionID,
		AgentID:    p.AgentID,
		TaskID:     p.TaskID,
		BranchName: p.BranchName,
		Metadata:   metadata,
		CreatedAt:  time.Now(),
	}

	if len(embedding) > 0 {
		match, sim, err := e.nearestDuplicate(ctx, p.BranchName, embedding)
		if err == nil && match != nil && sim >= DuplicateThreshold {
			newFact.ParentID = match.ID
			if match.Confidence > newFact.Confidence {
				newFact.Confidence = match.Confidence
			}
			if err := e.store.SupersedeFact(ctx, match.ID); err != nil {
				return nil, orcherr.Wrap(orcherr.Internal, err, "fact: supersede %q", match.ID)
			}
		}
	}

	if err := e.store.CreateFact(ctx, newFact); err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "fact: create")
	}
	return newFact, nil
}

func (e *Engine) nearestDuplicate(ctx context.Context, branch string, embedding []float32) (*storage.Fact, float64, error) {
	results, err := e.store.VectorSearch(ctx, "facts", "embedding", embedding,
		storage.SearchFilters{BranchName: branch, Status: string(storage.FactActive)}, topK)
	if err != nil || len(results) == 0 {
		return nil, 0, err
	}
	best := results[0]
	match, err := e.store.GetFact(ctx, best.ID)
	if err != nil {
		return nil, 0, err
	}
	return match, best.Score, nil
}

// Invalidate marks a fact invalidated. Idempotent: invalidating an already
// invalidated fact succeeds without error.
func (e *Engine) Invalidate(ctx context.Context, id, reason string) error {
	if _, err := e.store.GetFact(ctx, id); err != nil {
		return orcherr.Wrap(orcherr.NotFound, err, "fact: %q not found", id)
	}
	if err := e.store.InvalidateFact(ctx, id, reason); err != nil {
		return orcherr.Wrap(orcherr.Internal, err, "fact: invalidate %q", id)
	}
	return nil
}

// List returns active facts on branch, optionally filtered by category,
// newest first.
func (e *Engine) List(ctx context.Context, branch, category string, limit, offset int) ([]*storage.Fact, error) {
	if limit <= 0 {
		limit = 50
	}
	facts, err := e.store.ListFacts(ctx, branch, category, limit, offset)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "fact: list")
	}
	return facts, nil
}

func cloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
