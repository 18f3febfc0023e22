// Package orchestrator wires every engine onto a single storage.Store,
// producing one handle a transport layer drives.
package orchestrator

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/kittclouds/memoryvcs/internal/branch"
	"github.com/kittclouds/memoryvcs/internal/cherrypick"
	"github.com/kittclouds/memoryvcs/internal/consolidation"
	"github.com/kittclouds/memoryvcs/internal/conversation"
	"github.com/kittclouds/memoryvcs/internal/embedqueue"
	"github.com/kittclouds/memoryvcs/internal/fact"
	"github.com/kittclouds/memoryvcs/internal/merge"
	"github.com/kittclouds/memoryvcs/internal/observation"
	"github.com/kittclouds/memoryvcs/internal/relation"
	"github.com/kittclouds/memoryvcs/internal/replay"
	"github.com/kittclouds/memoryvcs/internal/scoring"
	"github.com/kittclouds/memoryvcs/internal/search"
	"github.com/kittclouds/memoryvcs/internal/semanticdiff"
	"github.com/kittclouds/memoryvcs/internal/snapshot"
	"github.com/kittclouds/memoryvcs/internal/storage"
	"github.com/kittclouds/memoryvcs/internal/task"
	"github.com/kittclouds/memoryvcs/internal/template"
	"github.com/kittclouds/memoryvcs/pkg/orcherr"
	"github.com/kittclouds/memoryvcs/pkg/provider"
)

// Orchestrator is the wired handle over every engine in the system.
type Orchestrator struct {
	Store storage.Store
	Log   zerolog.Logger

	Branch        *branch.Manager
	Snapshot      *snapshot.Manager
	Fact          *fact.Engine
	Observation   *observation.Engine
	Relation      *relation.Engine
	Conversation  *conversation.Engine
	Search        *search.Engine
	Merge         *merge.Engine
	CherryPick    *cherrypick.Engine
	Replay        *replay.Engine
	SemanticDiff  *semanticdiff.Engine
	Task          *task.Engine
	Consolidation *consolidation.Engine
	Template      *template.Engine
	Scoring       *scoring.Engine

	embedder provider.Embedder
	judge    provider.Judge
}

// New builds every engine from cfg, opening a SQLite store at
// cfg.DatabasePath and wiring optional HTTP-backed providers when enabled,
// falling back to the zero-dependency heuristic defaults.
func New(cfg Config, log zerolog.Logger) (*Orchestrator, error) {
	store, err := storage.NewSQLiteStoreWithDSN(cfg.DatabasePath, log)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "orchestrator: open store")
	}

	var embedder provider.Embedder
	if cfg.Embedding.Enabled {
		httpEmbedder := provider.NewHTTPEmbedder(provider.HTTPConfig{
			BaseURL: cfg.Embedding.BaseURL,
			APIKey:  cfg.Embedding.APIKey,
			Model:   cfg.Embedding.Model,
		}, cfg.Embedding.Dimensions)
		embedder = embedqueue.New(httpEmbedder, cfg.EmbedQueueInflight)
	}

	var judge provider.Judge
	var extractor provider.Extractor
	if cfg.Judge.Enabled {
		httpCfg := provider.HTTPConfig{BaseURL: cfg.Judge.BaseURL, APIKey: cfg.Judge.APIKey, Model: cfg.Judge.Model}
		judge = provider.NewHTTPJudge(httpCfg)
		extractor = provider.NewHTTPExtractor(httpCfg)
	} else {
		judge = provider.NewHeuristicJudge()
		extractor = provider.NewHeuristicExtractor()
	}

	branchMgr := branch.New(store)
	factEngine := fact.New(store, embedder)
	aliases := relation.NewAliasIndex()

	o := &Orchestrator{
		Store:        store,
		Log:          log,
		Branch:       branchMgr,
		Snapshot:     snapshot.New(store),
		Fact:         factEngine,
		Observation:  observation.New(store, embedder),
		Relation:     relation.New(store, aliases),
		Conversation: conversation.New(store),
		Search:       search.New(store, embedder),
		Merge:        merge.New(store, branchMgr, judge),
		Task:         task.New(store, branchMgr),
		Template:     template.New(store, branchMgr),
		Scoring:      scoring.New(store),
		embedder:     embedder,
		judge:        judge,
	}
	o.CherryPick = cherrypick.New(store)
	o.Replay = replay.New(store, o.Conversation)
	o.SemanticDiff = semanticdiff.New(store, embedder)
	o.Consolidation = consolidation.New(store, factEngine, o.Relation, extractor)
	return o, nil
}

// Close shuts down the underlying store.
func (o *Orchestrator) Close() error {
	return o.Store.Close()
}

// EnsureMain is a no-op kept for symmetry with BranchManager.ensure_main();
// the store already guarantees the main branch exists once opened.
func (o *Orchestrator) EnsureMain(ctx context.Context) (*storage.Branch, error) {
	return o.Branch.Get(ctx, storage.MainBranch)
}
