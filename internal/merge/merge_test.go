package merge

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kittclouds/memoryvcs/internal/branch"
	"github.com/kittclouds/memoryvcs/internal/fact"
	"github.com/kittclouds/memoryvcs/internal/storage"
	"github.com/kittclouds/memoryvcs/pkg/provider"
)

// makeConflict plants two facts sharing a common ancestor ("anc") with
// different text on source and target, so Diff reports a real Conflict
// without depending on embedding-driven supersession.
func makeConflict(t *testing.T, s *storage.SQLiteStore, srcBranch, tgtBranch string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	if err := s.CreateFact(ctx, &storage.Fact{
		ID: "src-edit", ParentID: "anc", FactText: "edited on source", Status: storage.FactActive,
		BranchName: srcBranch, Confidence: 1, CreatedAt: now,
	}); err != nil {
		t.Fatalf("CreateFact(src): %v", err)
	}
	if err := s.CreateFact(ctx, &storage.Fact{
		ID: "tgt-edit", ParentID: "anc", FactText: "edited on target", Status: storage.FactActive,
		BranchName: tgtBranch, Confidence: 1, CreatedAt: now,
	}); err != nil {
		t.Fatalf("CreateFact(tgt): %v", err)
	}
}

func newTestDeps(t *testing.T) (*storage.SQLiteStore, *branch.Manager, *fact.Engine) {
	t.Helper()
	s, err := storage.NewSQLiteStore(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, branch.New(s), fact.New(s, nil)
}

func TestMergeNativeCopiesNewFacts(t *testing.T) {
	s, branchMgr, facts := newTestDeps(t)
	e := New(s, branchMgr, nil)
	ctx := context.Background()

	if _, err := branchMgr.CreateBranch(ctx, "feature/merge", storage.MainBranch, ""); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if _, err := facts.Write(ctx, fact.WriteParams{FactText: "discovered on feature branch", BranchName: "feature/merge"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	result, err := e.Merge(ctx, MergeParams{
		Source:         "feature/merge",
		Target:         storage.MainBranch,
		Strategy:       Native,
		ConflictPolicy: Skip,
		MergedBy:       "test",
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(result.History.ItemsMerged) != 1 {
		t.Fatalf("expected 1 item merged, got %d", len(result.History.ItemsMerged))
	}

	srcBranch, err := branchMgr.Get(ctx, "feature/merge")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if srcBranch.Status != storage.BranchMerged {
		t.Errorf("expected source branch marked merged, got %s", srcBranch.Status)
	}
}

func TestDiffDetectsSameAncestorConflict(t *testing.T) {
	s, branchMgr, _ := newTestDeps(t)
	e := New(s, branchMgr, nil)
	ctx := context.Background()

	if _, err := branchMgr.CreateBranch(ctx, "feature/conflict", storage.MainBranch, ""); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	makeConflict(t, s, "feature/conflict", storage.MainBranch)

	diff, err := e.Diff(ctx, "feature/conflict", storage.MainBranch)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(diff.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(diff.Conflicts))
	}
	if diff.Conflicts[0].Source.ID != "src-edit" || diff.Conflicts[0].Target.ID != "tgt-edit" {
		t.Errorf("unexpected conflict pair: %+v", diff.Conflicts[0])
	}
}

func TestMergeAutoNoJudgeRejectsConflicts(t *testing.T) {
	s, branchMgr, _ := newTestDeps(t)
	e := New(s, branchMgr, nil) // no judge configured
	ctx := context.Background()

	if _, err := branchMgr.CreateBranch(ctx, "feature/auto", storage.MainBranch, ""); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	makeConflict(t, s, "feature/auto", storage.MainBranch)

	result, err := e.Merge(ctx, MergeParams{
		Source:     "feature/auto",
		Target:     storage.MainBranch,
		Strategy:   Auto,
		MergedBy:   "test",
		KeepSource: true,
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.History.ConflictResolution != "auto:no_judge" {
		t.Errorf("expected auto:no_judge resolution note, got %q", result.History.ConflictResolution)
	}
	if len(result.History.ItemsRejected) != 1 || result.History.ItemsRejected[0] != "src-edit" {
		t.Errorf("expected src-edit rejected without a judge, got %+v", result.History.ItemsRejected)
	}
}

func TestMergeAutoWithJudgeResolvesConflicts(t *testing.T) {
	s, branchMgr, _ := newTestDeps(t)
	judge := &stubJudge{winner: "a"}
	e := New(s, branchMgr, judge)
	ctx := context.Background()

	if _, err := branchMgr.CreateBranch(ctx, "feature/judge", storage.MainBranch, ""); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	makeConflict(t, s, "feature/judge", storage.MainBranch)

	result, err := e.Merge(ctx, MergeParams{
		Source:     "feature/judge",
		Target:     storage.MainBranch,
		Strategy:   Auto,
		MergedBy:   "test",
		KeepSource: true,
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.History.ConflictResolution != "auto:judge" {
		t.Errorf("expected auto:judge resolution note, got %q", result.History.ConflictResolution)
	}
	if !containsString(result.History.ItemsMerged, "src-edit") {
		t.Errorf("expected judge-picked src-edit merged, got %+v", result.History.ItemsMerged)
	}
}

func containsString(items []string, want string) bool {
	for _, v := range items {
		if v == want {
			return true
		}
	}
	return false
}

func TestMergeSquashMarksGroup(t *testing.T) {
	s, branchMgr, facts := newTestDeps(t)
	e := New(s, branchMgr, nil)
	ctx := context.Background()

	if _, err := branchMgr.CreateBranch(ctx, "feature/squash", storage.MainBranch, ""); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if _, err := facts.Write(ctx, fact.WriteParams{FactText: "squash me", BranchName: "feature/squash"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	merged, err := e.mergeSquash(ctx, MergeParams{Source: "feature/squash", Target: storage.MainBranch})
	if err != nil {
		t.Fatalf("mergeSquash: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("expected 1 squashed fact, got %d", len(merged))
	}
}

type stubJudge struct {
	winner string
}

func (j *stubJudge) Compare(_ context.Context, a, b, criteria string) (*provider.Verdict, error) {
	return &provider.Verdict{Winner: j.winner, Score: 1}, nil
}
