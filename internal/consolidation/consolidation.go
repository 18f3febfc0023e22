// Package consolidation implements ConsolidationEngine: turning a window of
// recent observations into deduplicated facts via a pluggable extractor.
package consolidation

import (
	"context"
	"time"

	"github.com/kittclouds/memoryvcs/internal/fact"
	"github.com/kittclouds/memoryvcs/internal/relation"
	"github.com/kittclouds/memoryvcs/internal/storage"
	"github.com/kittclouds/memoryvcs/pkg/orcherr"
	"github.com/kittclouds/memoryvcs/pkg/provider"
)

// coMentionConfidence is the confidence assigned to a relation inferred
// purely from two known entities appearing in the same observation
// summary, as opposed to one an extractor stated outright.
const coMentionConfidence = 0.5

// Report summarizes the outcome of one consolidation pass.
type Report struct {
	ObservationsProcessed int
	FactsCreated          int
	FactsUpdated          int
	FactsDeduplicated     int
	YieldRate             float64 // FactsCreated / ObservationsProcessed
}

// Engine consolidates observations into facts.
type Engine struct {
	store     storage.Store
	facts     *fact.Engine
	relations *relation.Engine // optional; nil skips entity co-mention linking
	extractor provider.Extractor
}

// New builds an Engine. extractor should not be nil — pass
// provider.NewHeuristicExtractor() as the zero-dependency default. relations
// may be nil, which disables entity recognition inside observation summaries.
func New(store storage.Store, facts *fact.Engine, relations *relation.Engine, extractor provider.Extractor) *Engine {
	return &Engine{store: store, facts: facts, relations: relations, extractor: extractor}
}

// Run scans observations on branch within window, groups them by session,
// extracts candidate facts per group, and writes each through FactEngine
// (which handles near-duplicate dedupe/supersession).
func (e *Engine) Run(ctx context.Context, branch string, window time.Duration) (*Report, error) {
	since := time.Now().Add(-window)
	obs, err := e.store.ListObservations(ctx, branch, "", since, 10_000)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "consolidation: list observations")
	}

	bySession := make(map[string][]*storage.Observation)
	for _, o := range obs {
		bySession[o.SessionID] = append(bySession[o.SessionID], o)
	}

	report := &Report{ObservationsProcessed: len(obs)}
	for sessionID, group := range bySession {
		summaries := make([]string, len(group))
		for i, o := range group {
			summaries[i] = o.Summary
		}

		if e.relations != nil {
			for _, o := range group {
				e.linkCoMentionedEntities(ctx, branch, sessionID, o.Summary)
			}
		}

		items, err := e.extractor.Extract(ctx, summaries)
		if err != nil {
			continue // extractor failure degrades gracefully: this session yields nothing
		}

		for _, item := range items {
			f, err := e.facts.Write(ctx, fact.WriteParams{
				FactText:   item.Text,
				Category:   item.Category,
				Confidence: item.Confidence,
				SourceType: "consolidation",
				SessionID:  sessionID,
				BranchName: branch,
			})
			if err != nil {
				continue
			}
			if f.ParentID != "" {
				report.FactsDeduplicated++
				report.FactsUpdated++
			} else {
				report.FactsCreated++
			}
		}
	}

	if report.ObservationsProcessed > 0 {
		report.YieldRate = float64(report.FactsCreated) / float64(report.ObservationsProcessed)
	}
	return report, nil
}

// linkCoMentionedEntities scans summary for entities already known to
// relations (via prior Write calls) and, if it finds two or more, writes a
// low-confidence co_mentioned edge between the first pair. It degrades
// silently: a summary with no recognized entities or a failed write is not
// an error for the consolidation pass as a whole.
func (e *Engine) linkCoMentionedEntities(ctx context.Context, branch, sessionID, summary string) {
	entities := e.relations.RecognizeEntities(summary)
	if len(entities) < 2 {
		return
	}
	_, _ = e.relations.Write(ctx, relation.WriteParams{
		Source:       entities[0],
		Target:       entities[1],
		RelationType: "co_mentioned",
		Confidence:   coMentionConfidence,
		SessionID:    sessionID,
		BranchName:   branch,
	})
}
