// Package relation implements RelationEngine: writing temporally-scoped
// edges between entities and querying the graph they form.
package relation

import (
	"context"
	"time"

	"github.com/kittclouds/memoryvcs/internal/ids"
	"github.com/kittclouds/memoryvcs/internal/storage"
	"github.com/kittclouds/memoryvcs/pkg/orcherr"
)

// MaxGraphNodes bounds a single Query traversal.
const MaxGraphNodes = 500

// Engine writes and queries relations.
type Engine struct {
	store   storage.Store
	aliases *AliasIndex // optional; nil disables alias resolution
}

// New builds an Engine. aliases may be nil.
func New(store storage.Store, aliases *AliasIndex) *Engine {
	return &Engine{store: store, aliases: aliases}
}

// WriteParams are the inputs to Write.
type WriteParams struct {
	Source       string
	Target       string
	RelationType string
	Properties   map[string]string
	Confidence   float64
	SessionID    string
	BranchName   string
}

// Write closes any existing open edge with the same (source, target, type,
// branch) and opens a new one, producing a temporal history per edge.
func (e *Engine) Write(ctx context.Context, p WriteParams) (*storage.Relation, error) {
	if p.Source == "" || p.Target == "" || p.RelationType == "" {
		return nil, orcherr.New(orcherr.InvalidArgument, "relation: source, target and relation_type are required")
	}
	if p.BranchName == "" {
		return nil, orcherr.New(orcherr.InvalidArgument, "relation: branch_name is required")
	}

	src, tgt := p.Source, p.Target
	if e.aliases != nil {
		src = e.aliases.Resolve(src)
		tgt = e.aliases.Resolve(tgt)
		// A write is also how an entity becomes "known": register its own
		// canonical form so later free-text mentions of the same surface
		// form resolve the same way and ScanText can find them again.
		e.aliases.Register(src, src)
		e.aliases.Register(tgt, tgt)
	}

	if _, err := e.store.IncrementEntityMentions(ctx, p.BranchName, src); err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "relation: increment mentions for %q", src)
	}
	if _, err := e.store.IncrementEntityMentions(ctx, p.BranchName, tgt); err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "relation: increment mentions for %q", tgt)
	}

	now := time.Now()
	if existing, err := e.store.FindOpenRelation(ctx, p.BranchName, src, tgt, p.RelationType); err == nil && existing != nil {
		if err := e.store.CloseRelation(ctx, existing.ID, now); err != nil {
			return nil, orcherr.Wrap(orcherr.Internal, err, "relation: close %q", existing.ID)
		}
	}

	r := &storage.Relation{
		ID:           ids.New(),
		SourceEntity: src,
		TargetEntity: tgt,
		RelationType: p.RelationType,
		Properties:   p.Properties,
		Confidence:   p.Confidence,
		ValidFrom:    now,
		SessionID:    p.SessionID,
		BranchName:   p.BranchName,
		CreatedAt:    now,
	}
	if err := e.store.CreateRelation(ctx, r); err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "relation: create")
	}
	return r, nil
}

// RecognizeEntities scans text for mentions of entities already known to
// this engine (i.e. named in some prior Write) and returns their canonical
// keys, deduplicated. Returns nil if no alias index is configured.
func (e *Engine) RecognizeEntities(text string) []string {
	if e.aliases == nil {
		return nil
	}
	return e.aliases.ScanText(text)
}

// MentionCount returns how many times entity has been referenced by a
// written relation on branch.
func (e *Engine) MentionCount(ctx context.Context, branch, entity string) (int, error) {
	n, err := e.store.EntityMentions(ctx, branch, entity)
	if err != nil {
		return 0, orcherr.Wrap(orcherr.Internal, err, "relation: mention count for %q", entity)
	}
	return n, nil
}

// Graph is the result of a breadth-first Query.
type Graph struct {
	Nodes []string
	Edges []*storage.Relation
}

// Query does a breadth-first traversal from entity up to depth hops,
// following only currently-valid edges, capped at MaxGraphNodes nodes.
func (e *Engine) Query(ctx context.Context, branch, entity, relType string, depth int) (*Graph, error) {
	if depth <= 0 {
		depth = 1
	}
	root := entity
	if e.aliases != nil {
		root = e.aliases.Resolve(entity)
	}

	visited := map[string]bool{root: true}
	frontier := []string{root}
	g := &Graph{Nodes: []string{root}}

	for d := 0; d < depth && len(g.Nodes) < MaxGraphNodes; d++ {
		var next []string
		for _, node := range frontier {
			edges, err := e.store.QueryRelations(ctx, branch, node, relType)
			if err != nil {
				return nil, orcherr.Wrap(orcherr.Internal, err, "relation: query from %q", node)
			}
			for _, edge := range edges {
				g.Edges = append(g.Edges, edge)
				for _, neighbor := range []string{edge.SourceEntity, edge.TargetEntity} {
					if neighbor == node || visited[neighbor] {
						continue
					}
					visited[neighbor] = true
					g.Nodes = append(g.Nodes, neighbor)
					next = append(next, neighbor)
					if len(g.Nodes) >= MaxGraphNodes {
						break
					}
				}
			}
			if len(g.Nodes) >= MaxGraphNodes {
				break
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}
	return g, nil
}
