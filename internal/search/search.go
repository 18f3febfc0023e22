// Package search implements SearchEngine: keyword (BM25), vector (cosine)
// and hybrid retrieval over facts, observations and messages.
package search

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/kittclouds/memoryvcs/internal/storage"
	"github.com/kittclouds/memoryvcs/pkg/orcherr"
	"github.com/kittclouds/memoryvcs/pkg/provider"
)

// Type selects the retrieval algorithm.
type Type string

const (
	Keyword Type = "keyword"
	Vector  Type = "vector"
	Hybrid  Type = "hybrid"
)

const (
	bm25Weight    = 0.6
	cosineWeight  = 0.4
	decayHalfDays = 30.0
	defaultLimit  = 10
	maxLimit      = 100
)

// Engine runs keyword, vector and hybrid searches over a single table.
type Engine struct {
	store    storage.Store
	embedder provider.Embedder // may be nil; vector mode then falls back to recency and hybrid mode to BM25 alone
}

// New builds an Engine.
func New(store storage.Store, embedder provider.Embedder) *Engine {
	return &Engine{store: store, embedder: embedder}
}

// Params are the inputs to Search.
type Params struct {
	Table    string // "facts" | "observations" | "messages"
	Query    string
	Branch   string
	Type     Type
	Category string
	After    *time.Time
	Before   *time.Time
	Limit    int
}

// Result is one ranked hit.
type Result struct {
	ID    string
	Score float64
}

// Search runs Params.Type over Params.Table scoped to Params.Branch. An
// empty query always falls back to recency, regardless of Type.
func (e *Engine) Search(ctx context.Context, p Params) ([]Result, error) {
	if p.Branch == "" {
		return nil, orcherr.New(orcherr.InvalidArgument, "search: branch is required")
	}
	limit := p.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	filters := storage.SearchFilters{BranchName: p.Branch, Category: p.Category, After: p.After, Before: p.Before}
	if p.Table == "facts" {
		filters.Status = string(storage.FactActive)
	}

	if p.Query == "" {
		return e.recency(ctx, p.Table, p.Branch, p.Category, limit)
	}

	switch p.Type {
	case Vector:
		return e.vectorSearch(ctx, p.Table, p.Query, filters, limit)
	case Hybrid:
		return e.hybridSearch(ctx, p.Table, p.Query, filters, limit)
	default:
		return e.keywordSearch(ctx, p.Table, p.Query, filters, limit)
	}
}

func (e *Engine) recency(ctx context.Context, table, branch, category string, limit int) ([]Result, error) {
	rows, err := e.store.RecentByBranch(ctx, table, branch, category, limit)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "search: recency scan")
	}
	return fromScored(rows), nil
}

func (e *Engine) keywordSearch(ctx context.Context, table, query string, filters storage.SearchFilters, limit int) ([]Result, error) {
	rows, err := e.store.FulltextSearch(ctx, table, textField(table), query, filters, limit)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "search: keyword")
	}
	return fromScored(rows), nil
}

func (e *Engine) vectorSearch(ctx context.Context, table, query string, filters storage.SearchFilters, limit int) ([]Result, error) {
	if e.embedder == nil {
		return e.recency(ctx, table, filters.BranchName, filters.Category, limit)
	}
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return e.recency(ctx, table, filters.BranchName, filters.Category, limit)
	}
	rows, err := e.store.VectorSearch(ctx, table, "embedding", vec, filters, limit)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "search: vector")
	}
	return fromScored(rows), nil
}

// hybridSearch computes BM25 and cosine independently, normalizes each by
// its own top score, fuses them as 0.6*bm25_norm + 0.4*cos_norm, then
// applies an exp(-Δdays/30) recency decay before the final sort.
func (e *Engine) hybridSearch(ctx context.Context, table, query string, filters storage.SearchFilters, limit int) ([]Result, error) {
	bm25, err := e.store.FulltextSearch(ctx, table, textField(table), query, filters, 0)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "search: hybrid bm25 pass")
	}

	var cosine []storage.ScoredID
	if e.embedder != nil {
		if vec, embErr := e.embedder.Embed(ctx, query); embErr == nil {
			cosine, err = e.store.VectorSearch(ctx, table, "embedding", vec, filters, 0)
			if err != nil {
				return nil, orcherr.Wrap(orcherr.Internal, err, "search: hybrid vector pass")
			}
		}
	}

	bm25Norm := normalize(bm25)
	cosNorm := normalize(cosine)

	fused := make(map[string]float64, len(bm25Norm)+len(cosNorm))
	for id, s := range bm25Norm {
		fused[id] += bm25Weight * s
	}
	for id, s := range cosNorm {
		fused[id] += cosineWeight * s
	}
	if len(fused) == 0 {
		return nil, nil
	}

	createdAt, err := e.createdAtByID(ctx, table, filters.BranchName, keysOf(fused))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	results := make([]Result, 0, len(fused))
	for id, score := range fused {
		decay := 1.0
		if ts, ok := createdAt[id]; ok {
			ageDays := now.Sub(ts).Hours() / 24
			if ageDays > 0 {
				decay = math.Exp(-ageDays / decayHalfDays)
			}
		}
		results = append(results, Result{ID: id, Score: score * decay})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		ti, tj := createdAt[results[i].ID], createdAt[results[j].ID]
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return results[i].ID < results[j].ID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (e *Engine) createdAtByID(ctx context.Context, table, branch string, ids []string) (map[string]time.Time, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	rows, err := e.store.RecentByBranch(ctx, table, branch, "", 100000)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "search: created_at lookup")
	}
	out := make(map[string]time.Time, len(want))
	for _, r := range rows {
		if want[r.ID] {
			out[r.ID] = time.UnixMilli(int64(r.Score))
		}
	}
	return out, nil
}

func normalize(rows []storage.ScoredID) map[string]float64 {
	if len(rows) == 0 {
		return nil
	}
	top := rows[0].Score
	out := make(map[string]float64, len(rows))
	if top <= 0 {
		for _, r := range rows {
			out[r.ID] = 0
		}
		return out
	}
	for _, r := range rows {
		out[r.ID] = r.Score / top
	}
	return out
}

func keysOf(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func fromScored(rows []storage.ScoredID) []Result {
	out := make([]Result, len(rows))
	for i, r := range rows {
		out[i] = Result{ID: r.ID, Score: r.Score}
	}
	return out
}

func textField(table string) string {
	switch table {
	case "facts":
		return "fact_text"
	case "observations":
		return "summary"
	default:
		return "content"
	}
}
