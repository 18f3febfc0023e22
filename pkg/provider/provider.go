// Package provider declares the optional external collaborators the core
// consumes: an embedding provider and a judge provider. Both are supplied
// as interfaces; engines must keep working correctly with either one
// absent. This package supplies heuristic defaults for the judge and the
// extractor; there is no default embedder.
package provider

import "context"

// Embedder turns text into a fixed-dimension embedding vector.
// A nil Embedder, or one that returns an error, is tolerated by every
// engine that calls it — the write proceeds with a null embedding and the
// degraded state is recorded in metadata.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Verdict is a judge's opinion comparing two candidates against criteria.
type Verdict struct {
	Winner      string  `json:"winner"` // "a", "b", or "tie"
	Score       float64 `json:"score"`  // 0..1 confidence in Winner
	Explanation string  `json:"explanation"`
}

// Judge scores or compares two pieces of text. Used by MergeEngine's auto
// strategy to resolve conflicts. ScoringEngine does not call a Judge; it
// records caller-supplied values only.
type Judge interface {
	Compare(ctx context.Context, a, b, criteria string) (*Verdict, error)
}

// ExtractedItem is one candidate fact surfaced by an Extractor from a batch
// of observation summaries.
type ExtractedItem struct {
	Text       string  `json:"text"`
	Category   string  `json:"category,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Extractor condenses raw observation text into candidate fact statements.
// The default implementation (NewHeuristicExtractor) requires no external
// service; a judge-backed implementation may be substituted by transports
// that have one configured.
type Extractor interface {
	Extract(ctx context.Context, observationSummaries []string) ([]ExtractedItem, error)
}
