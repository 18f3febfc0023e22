// Package task implements TaskEngine: multi-agent task coordination, where
// each joined agent works on its own branch forked from the task's branch.
package task

import (
	"context"
	"fmt"
	"time"

	"github.com/kittclouds/memoryvcs/internal/branch"
	"github.com/kittclouds/memoryvcs/internal/ids"
	"github.com/kittclouds/memoryvcs/internal/storage"
	"github.com/kittclouds/memoryvcs/pkg/orcherr"
)

// Engine creates tasks and manages agent membership.
type Engine struct {
	store  storage.Store
	branch *branch.Manager
}

// New builds an Engine.
func New(store storage.Store, branchMgr *branch.Manager) *Engine {
	return &Engine{store: store, branch: branchMgr}
}

// Create makes a task and a task-scoped branch forked from parentBranch.
func (e *Engine) Create(ctx context.Context, objective, taskType, parentBranch string) (*storage.Task, error) {
	if objective == "" {
		return nil, orcherr.New(orcherr.InvalidArgument, "task: objective is required")
	}
	if parentBranch == "" {
		parentBranch = storage.MainBranch
	}

	t := &storage.Task{ID: ids.New(), Objective: objective, Type: taskType, Status: storage.TaskOpen, CreatedAt: time.Now()}
	t.CreatedBranch = fmt.Sprintf("task/%s", t.ID)
	if _, err := e.branch.CreateBranch(ctx, t.CreatedBranch, parentBranch, fmt.Sprintf("task branch for %q", objective)); err != nil {
		return nil, err
	}
	if err := e.store.CreateTask(ctx, t); err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "task: create")
	}
	return t, nil
}

// Join creates an agent-private branch forked from the task's branch and
// registers the agent's membership.
func (e *Engine) Join(ctx context.Context, taskID, agentID, role string) (*storage.TaskAgent, error) {
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.NotFound, err, "task: %q not found", taskID)
	}

	agentBranch := fmt.Sprintf("%s/agent-%s", t.CreatedBranch, agentID)
	if _, err := e.branch.CreateBranch(ctx, agentBranch, t.CreatedBranch, fmt.Sprintf("agent %s branch for task %s", agentID, taskID)); err != nil {
		return nil, err
	}

	ta := &storage.TaskAgent{TaskID: taskID, AgentID: agentID, AssignedBranch: agentBranch, Role: role, JoinedAt: time.Now()}
	if err := e.store.CreateTaskAgent(ctx, ta); err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "task: join")
	}
	if t.Status == storage.TaskOpen {
		if err := e.store.UpdateTaskStatus(ctx, taskID, storage.TaskRunning); err != nil {
			return nil, orcherr.Wrap(orcherr.Internal, err, "task: mark running")
		}
	}
	return ta, nil
}

// Status is the aggregate state of a task and its joined agents.
type Status struct {
	Task   *storage.Task
	Agents []*storage.TaskAgent
}

// GetStatus aggregates a task's state with its joined agents' progress.
func (e *Engine) GetStatus(ctx context.Context, taskID string) (*Status, error) {
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.NotFound, err, "task: %q not found", taskID)
	}
	agents, err := e.store.ListTaskAgents(ctx, taskID)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "task: list agents")
	}
	return &Status{Task: t, Agents: agents}, nil
}

// Complete marks a task done.
func (e *Engine) Complete(ctx context.Context, taskID string) error {
	if _, err := e.store.GetTask(ctx, taskID); err != nil {
		return orcherr.Wrap(orcherr.NotFound, err, "task: %q not found", taskID)
	}
	return e.store.UpdateTaskStatus(ctx, taskID, storage.TaskDone)
}

// Cancel marks a task cancelled.
func (e *Engine) Cancel(ctx context.Context, taskID string) error {
	if _, err := e.store.GetTask(ctx, taskID); err != nil {
		return orcherr.Wrap(orcherr.NotFound, err, "task: %q not found", taskID)
	}
	return e.store.UpdateTaskStatus(ctx, taskID, storage.TaskCancelled)
}
