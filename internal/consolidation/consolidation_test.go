package consolidation

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kittclouds/memoryvcs/internal/fact"
	"github.com/kittclouds/memoryvcs/internal/relation"
	"github.com/kittclouds/memoryvcs/internal/storage"
	"github.com/kittclouds/memoryvcs/pkg/provider"
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

func TestRunExtractsFactsFromObservations(t *testing.T) {
	s := newTestStore(t)
	facts := fact.New(s, nil)
	e := New(s, facts, nil, provider.NewHeuristicExtractor())
	ctx := context.Background()

	if err := s.CreateObservation(ctx, &storage.Observation{
		ID: "o1", Type: storage.ObsDiscover, Summary: "The configuration file lives under /etc/app/config.yaml.",
		SessionID: "session-1", BranchName: storage.MainBranch, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CreateObservation: %v", err)
	}
	if err := s.CreateObservation(ctx, &storage.Observation{
		ID: "o2", Type: storage.ObsDiscover, Summary: "hi",
		SessionID: "session-1", BranchName: storage.MainBranch, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CreateObservation: %v", err)
	}

	report, err := e.Run(ctx, storage.MainBranch, time.Hour)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.ObservationsProcessed != 2 {
		t.Errorf("expected 2 observations processed, got %d", report.ObservationsProcessed)
	}
	if report.FactsCreated != 1 {
		t.Errorf("expected 1 fact extracted (greeting filtered out), got %d", report.FactsCreated)
	}
}

func TestRunLinksCoMentionedEntities(t *testing.T) {
	s := newTestStore(t)
	facts := fact.New(s, nil)
	aliases := relation.NewAliasIndex()
	relations := relation.New(s, aliases)
	e := New(s, facts, relations, provider.NewHeuristicExtractor())
	ctx := context.Background()

	// Seed both entities as "known" the way a prior relation write would.
	if _, err := relations.Write(ctx, relation.WriteParams{Source: "acme corp", Target: "widget co", RelationType: "supplies", BranchName: storage.MainBranch, Confidence: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := s.CreateObservation(ctx, &storage.Observation{
		ID: "o1", Type: storage.ObsDiscover, Summary: "acme corp shipped a delayed order to widget co this morning.",
		SessionID: "session-1", BranchName: storage.MainBranch, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CreateObservation: %v", err)
	}

	if _, err := e.Run(ctx, storage.MainBranch, time.Hour); err != nil {
		t.Fatalf("Run: %v", err)
	}

	g, err := relations.Query(ctx, storage.MainBranch, "acme corp", "co_mentioned", 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(g.Edges) != 1 {
		t.Fatalf("expected a co_mentioned edge written from consolidation, got %d edges", len(g.Edges))
	}
}

func TestRunNilRelationsSkipsLinking(t *testing.T) {
	s := newTestStore(t)
	facts := fact.New(s, nil)
	e := New(s, facts, nil, provider.NewHeuristicExtractor())
	ctx := context.Background()

	if err := s.CreateObservation(ctx, &storage.Observation{
		ID: "o1", Type: storage.ObsDiscover, Summary: "acme corp shipped a delayed order to widget co this morning.",
		SessionID: "session-1", BranchName: storage.MainBranch, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CreateObservation: %v", err)
	}

	if _, err := e.Run(ctx, storage.MainBranch, time.Hour); err != nil {
		t.Fatalf("Run with nil relations engine must not error: %v", err)
	}
}
