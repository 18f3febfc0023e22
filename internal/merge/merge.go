// Package merge implements MergeEngine: diffing two branches' facts and
// merging them under one of four explicit strategies.
package merge

import (
	"context"
	"fmt"
	"time"

	"github.com/kittclouds/memoryvcs/internal/branch"
	"github.com/kittclouds/memoryvcs/internal/ids"
	"github.com/kittclouds/memoryvcs/internal/storage"
	"github.com/kittclouds/memoryvcs/pkg/orcherr"
	"github.com/kittclouds/memoryvcs/pkg/provider"
)

// Strategy is one of the four explicit merge strategies.
type Strategy string

const (
	Native     Strategy = "native"
	CherryPick Strategy = "cherry_pick"
	Squash     Strategy = "squash"
	Auto       Strategy = "auto"
)

// ConflictPolicy governs the native strategy.
type ConflictPolicy string

const (
	Skip   ConflictPolicy = "SKIP"   // keep target
	Accept ConflictPolicy = "ACCEPT" // overwrite with source
)

// Diff is the result of comparing two branches' facts.
type Diff struct {
	New       []*storage.Fact
	Modified  []*storage.Fact
	Conflicts []Conflict
}

// Conflict is a pair of active descendants of the same ancestor parent_id
// that disagree on fact_text or confidence.
type Conflict struct {
	Ancestor string
	Source   *storage.Fact
	Target   *storage.Fact
}

// Engine diffs and merges branches.
type Engine struct {
	store   storage.Store
	branch  *branch.Manager
	judge   provider.Judge // may be nil
}

// New builds an Engine.
func New(store storage.Store, branchMgr *branch.Manager, judge provider.Judge) *Engine {
	return &Engine{store: store, branch: branchMgr, judge: judge}
}

// Diff compares the active facts of source and target.
func (e *Engine) Diff(ctx context.Context, source, target string) (*Diff, error) {
	srcFacts, err := e.store.ListFacts(ctx, source, "", 1_000_000, 0)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "merge: list source facts")
	}
	tgtFacts, err := e.store.ListFacts(ctx, target, "", 1_000_000, 0)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "merge: list target facts")
	}

	tgtByID := make(map[string]*storage.Fact, len(tgtFacts))
	tgtByAncestor := make(map[string]*storage.Fact, len(tgtFacts))
	for _, f := range tgtFacts {
		tgtByID[f.ID] = f
		ancestor := rootAncestor(f)
		tgtByAncestor[ancestor] = f
	}

	d := &Diff{}
	for _, f := range srcFacts {
		ancestor := rootAncestor(f)
		if match, ok := tgtByAncestor[ancestor]; ok && match.ID != f.ID {
			if match.FactText != f.FactText || match.Confidence != f.Confidence {
				d.Conflicts = append(d.Conflicts, Conflict{Ancestor: ancestor, Source: f, Target: match})
				continue
			}
			d.Modified = append(d.Modified, f)
		}
		if _, exists := tgtByID[f.ID]; !exists {
			d.New = append(d.New, f)
		}
	}
	return d, nil
}

// rootAncestor walks a fact's parent_id chain is not available without extra
// lookups here, so ancestor identity is approximated by the fact's own id
// when it has no parent, or its parent_id otherwise — sufficient to detect
// same-generation collisions without a full chain walk per diff.
func rootAncestor(f *storage.Fact) string {
	if f.ParentID != "" {
		return f.ParentID
	}
	return f.ID
}

// MergeParams are the inputs to Merge.
type MergeParams struct {
	Source         string
	Target         string
	Strategy       Strategy
	ConflictPolicy ConflictPolicy // native only
	RowIDs         []string       // cherry_pick only
	MergedBy       string
	KeepSource     bool
}

// Result is the outcome of a Merge call.
type Result struct {
	History *storage.MergeHistory
}

// Merge applies strategy to fold source's facts into target. Merging into
// main requires source to be active; on success source is marked merged
// unless KeepSource is set.
func (e *Engine) Merge(ctx context.Context, p MergeParams) (*Result, error) {
	srcBranch, err := e.branch.Get(ctx, p.Source)
	if err != nil {
		return nil, err
	}
	if p.Target == storage.MainBranch && srcBranch.Status != storage.BranchActive {
		return nil, orcherr.New(orcherr.PreconditionFailed, "merge: source %q is not active", p.Source)
	}

	var merged, rejected []string
	var conflictNote string

	switch p.Strategy {
	case Native:
		merged, rejected, conflictNote, err = e.mergeNative(ctx, p)
	case CherryPick:
		merged, rejected, err = e.mergeCherryPick(ctx, p)
	case Squash:
		merged, err = e.mergeSquash(ctx, p)
	case Auto:
		merged, rejected, conflictNote, err = e.mergeAuto(ctx, p)
	default:
		return nil, orcherr.New(orcherr.InvalidArgument, "merge: unknown strategy %q", p.Strategy)
	}
	if err != nil {
		return nil, err
	}

	history := &storage.MergeHistory{
		ID:                 ids.New(),
		SourceBranch:       p.Source,
		TargetBranch:       p.Target,
		Strategy:           string(p.Strategy),
		ItemsMerged:        merged,
		ItemsRejected:      rejected,
		ConflictResolution: conflictNote,
		MergedBy:           p.MergedBy,
		CreatedAt:          time.Now(),
	}
	if err := e.store.CreateMergeHistory(ctx, history); err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "merge: record history")
	}

	if !p.KeepSource {
		if err := e.branch.MarkMerged(ctx, p.Source, string(p.Strategy)); err != nil {
			return nil, err
		}
	}
	return &Result{History: history}, nil
}

func (e *Engine) copyFactToTarget(ctx context.Context, f *storage.Fact, target string) error {
	copied := *f
	copied.ID = ids.New()
	copied.BranchName = target
	copied.CreatedAt = time.Now()
	return e.store.CreateFact(ctx, &copied)
}

func (e *Engine) mergeNative(ctx context.Context, p MergeParams) (merged, rejected []string, note string, err error) {
	diff, err := e.Diff(ctx, p.Source, p.Target)
	if err != nil {
		return nil, nil, "", err
	}
	for _, f := range diff.New {
		if err := e.copyFactToTarget(ctx, f, p.Target); err != nil {
			return nil, nil, "", orcherr.Wrap(orcherr.Internal, err, "merge: copy %q", f.ID)
		}
		merged = append(merged, f.ID)
	}
	policy := p.ConflictPolicy
	if policy == "" {
		policy = Skip
	}
	for _, c := range diff.Conflicts {
		if policy == Accept {
			if err := e.store.SupersedeFact(ctx, c.Target.ID); err != nil {
				return nil, nil, "", orcherr.Wrap(orcherr.Internal, err, "merge: supersede %q", c.Target.ID)
			}
			if err := e.copyFactToTarget(ctx, c.Source, p.Target); err != nil {
				return nil, nil, "", orcherr.Wrap(orcherr.Internal, err, "merge: accept conflict %q", c.Source.ID)
			}
			merged = append(merged, c.Source.ID)
		} else {
			rejected = append(rejected, c.Source.ID)
		}
	}
	return merged, rejected, fmt.Sprintf("native:%s", policy), nil
}

func (e *Engine) mergeCherryPick(ctx context.Context, p MergeParams) (merged, rejected []string, err error) {
	for _, id := range p.RowIDs {
		f, getErr := e.store.GetFact(ctx, id)
		if getErr != nil {
			rejected = append(rejected, id)
			continue
		}
		if copyErr := e.copyFactToTarget(ctx, f, p.Target); copyErr != nil {
			rejected = append(rejected, id)
			continue
		}
		merged = append(merged, id)
	}
	return merged, rejected, nil
}

func (e *Engine) mergeSquash(ctx context.Context, p MergeParams) (merged []string, err error) {
	marker := ids.New()
	diff, err := e.Diff(ctx, p.Source, p.Target)
	if err != nil {
		return nil, err
	}
	for _, f := range diff.New {
		copied := *f
		copied.ID = ids.New()
		copied.BranchName = p.Target
		copied.CreatedAt = time.Now()
		if copied.Metadata == nil {
			copied.Metadata = map[string]string{}
		}
		copied.Metadata["merge_marker"] = marker
		if err := e.store.CreateFact(ctx, &copied); err != nil {
			return nil, orcherr.Wrap(orcherr.Internal, err, "merge: squash copy %q", f.ID)
		}
		merged = append(merged, f.ID)
	}
	return merged, nil
}

func (e *Engine) mergeAuto(ctx context.Context, p MergeParams) (merged, rejected []string, note string, err error) {
	diff, err := e.Diff(ctx, p.Source, p.Target)
	if err != nil {
		return nil, nil, "", err
	}
	for _, f := range diff.New {
		if err := e.copyFactToTarget(ctx, f, p.Target); err != nil {
			return nil, nil, "", orcherr.Wrap(orcherr.Internal, err, "merge: copy %q", f.ID)
		}
		merged = append(merged, f.ID)
	}

	if e.judge == nil {
		for _, c := range diff.Conflicts {
			rejected = append(rejected, c.Source.ID)
		}
		return merged, rejected, "auto:no_judge", nil
	}

	for _, c := range diff.Conflicts {
		verdict, vErr := e.judge.Compare(ctx, c.Source.FactText, c.Target.FactText, "factual accuracy and specificity")
		if vErr != nil {
			rejected = append(rejected, c.Source.ID)
			continue
		}
		switch verdict.Winner {
		case "a":
			if err := e.store.SupersedeFact(ctx, c.Target.ID); err != nil {
				return nil, nil, "", orcherr.Wrap(orcherr.Internal, err, "merge: supersede %q", c.Target.ID)
			}
			if err := e.copyFactToTarget(ctx, c.Source, p.Target); err != nil {
				return nil, nil, "", orcherr.Wrap(orcherr.Internal, err, "merge: keep_source %q", c.Source.ID)
			}
			merged = append(merged, c.Source.ID)
		case "b":
			rejected = append(rejected, c.Source.ID)
		default: // tie: keep_both
			if err := e.copyFactToTarget(ctx, c.Source, p.Target); err != nil {
				return nil, nil, "", orcherr.Wrap(orcherr.Internal, err, "merge: keep_both %q", c.Source.ID)
			}
			merged = append(merged, c.Source.ID)
		}
	}
	return merged, rejected, "auto:judge", nil
}
