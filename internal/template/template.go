// Package template implements TemplateEngine: registering a branch as a
// reusable, versioned starting state and instantiating new branches from it.
package template

import (
	"context"
	"fmt"

	"github.com/kittclouds/memoryvcs/internal/branch"
	"github.com/kittclouds/memoryvcs/internal/storage"
	"github.com/kittclouds/memoryvcs/pkg/orcherr"
)

// Engine registers and instantiates template branches.
type Engine struct {
	store  storage.Store
	branch *branch.Manager
}

// New builds an Engine.
func New(store storage.Store, branchMgr *branch.Manager) *Engine {
	return &Engine{store: store, branch: branchMgr}
}

// Register records sourceBranch as a reusable template.
func (e *Engine) Register(ctx context.Context, name, sourceBranch, description string, applicableTaskTypes, tags []string) (*storage.TemplateBranch, error) {
	if name == "" || sourceBranch == "" {
		return nil, orcherr.New(orcherr.InvalidArgument, "template: name and source_branch are required")
	}
	if _, err := e.branch.Get(ctx, sourceBranch); err != nil {
		return nil, err
	}
	t := &storage.TemplateBranch{
		Name:                name,
		SourceBranch:        sourceBranch,
		Version:             1,
		ApplicableTaskTypes: applicableTaskTypes,
		Tags:                tags,
		Description:         description,
	}
	if err := e.store.CreateTemplate(ctx, t); err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "template: register %q", name)
	}
	return t, nil
}

// Instantiate creates targetBranch by forking the template's source branch.
// Optionally associates the instantiation with a task for bookkeeping.
func (e *Engine) Instantiate(ctx context.Context, name, targetBranch, taskID string) (*storage.Branch, error) {
	t, err := e.store.GetTemplate(ctx, name)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.NotFound, err, "template: %q not found", name)
	}
	desc := fmt.Sprintf("instantiated from template %q v%d", name, t.Version)
	if taskID != "" {
		desc = fmt.Sprintf("%s for task %s", desc, taskID)
	}
	b, err := e.branch.CreateBranch(ctx, targetBranch, t.SourceBranch, desc)
	if err != nil {
		return nil, err
	}
	if err := e.store.BumpTemplateVersion(ctx, name); err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "template: bump version for %q", name)
	}
	return b, nil
}

// Get returns a template by name.
func (e *Engine) Get(ctx context.Context, name string) (*storage.TemplateBranch, error) {
	t, err := e.store.GetTemplate(ctx, name)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.NotFound, err, "template: %q not found", name)
	}
	return t, nil
}
