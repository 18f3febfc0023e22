package task

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kittclouds/memoryvcs/internal/branch"
	"github.com/kittclouds/memoryvcs/internal/storage"
)

func newTestDeps(t *testing.T) (*storage.SQLiteStore, *branch.Manager) {
	t.Helper()
	s, err := storage.NewSQLiteStore(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, branch.New(s)
}

func TestCreateForksTaskBranch(t *testing.T) {
	s, branchMgr := newTestDeps(t)
	e := New(s, branchMgr)
	ctx := context.Background()

	tsk, err := e.Create(ctx, "investigate the outage", "investigation", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tsk.Status != storage.TaskOpen {
		t.Errorf("expected a new task to be open, got %s", tsk.Status)
	}
	if _, err := branchMgr.Get(ctx, tsk.CreatedBranch); err != nil {
		t.Errorf("expected task branch %q to exist: %v", tsk.CreatedBranch, err)
	}
}

func TestJoinCreatesAgentBranchAndMarksRunning(t *testing.T) {
	s, branchMgr := newTestDeps(t)
	e := New(s, branchMgr)
	ctx := context.Background()

	tsk, err := e.Create(ctx, "objective", "", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ta, err := e.Join(ctx, tsk.ID, "agent-1", "investigator")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := branchMgr.Get(ctx, ta.AssignedBranch); err != nil {
		t.Errorf("expected agent branch %q to exist: %v", ta.AssignedBranch, err)
	}

	status, err := e.GetStatus(ctx, tsk.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Task.Status != storage.TaskRunning {
		t.Errorf("expected task running after first join, got %s", status.Task.Status)
	}
	if len(status.Agents) != 1 {
		t.Errorf("expected 1 joined agent, got %d", len(status.Agents))
	}
}

func TestCompleteAndCancel(t *testing.T) {
	s, branchMgr := newTestDeps(t)
	e := New(s, branchMgr)
	ctx := context.Background()

	t1, err := e.Create(ctx, "finish me", "", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := e.Complete(ctx, t1.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	status, err := e.GetStatus(ctx, t1.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Task.Status != storage.TaskDone {
		t.Errorf("expected done status, got %s", status.Task.Status)
	}

	t2, err := e.Create(ctx, "cancel me", "", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := e.Cancel(ctx, t2.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	status2, err := e.GetStatus(ctx, t2.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status2.Task.Status != storage.TaskCancelled {
		t.Errorf("expected cancelled status, got %s", status2.Task.Status)
	}
}

func TestCreateRequiresObjective(t *testing.T) {
	s, branchMgr := newTestDeps(t)
	e := New(s, branchMgr)
	ctx := context.Background()

	if _, err := e.Create(ctx, "", "", ""); err == nil {
		t.Error("expected error for empty objective")
	}
}
