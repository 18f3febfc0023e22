// Package branch implements BranchManager: creation, listing and archival of
// isolated named views over the branched tables, built on storage.Store's
// ForkTable emulation of a table-level fork.
package branch

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/kittclouds/memoryvcs/internal/ids"
	"github.com/kittclouds/memoryvcs/internal/storage"
	"github.com/kittclouds/memoryvcs/pkg/orcherr"
)

// nameRe is the required shape of a branch name.
var nameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9/_.-]{0,99}$`)

// reservedNames may not be used as a branch name; "main" is reserved
// because it is provisioned internally by the store on open, never via
// CreateBranch.
var reservedNames = map[string]bool{
	"main": true, "head": true, "HEAD": true, "null": true, "undefined": true,
}

func validateName(name string) error {
	if !nameRe.MatchString(name) {
		return orcherr.New(orcherr.InvalidArgument, "branch: name %q must match %s", name, nameRe.String())
	}
	if reservedNames[name] {
		return orcherr.New(orcherr.InvalidArgument, "branch: name %q is reserved", name)
	}
	return nil
}

// Manager creates, lists and archives branches.
type Manager struct {
	store storage.Store
}

// New builds a Manager over store.
func New(store storage.Store) *Manager {
	return &Manager{store: store}
}

// CreateBranch forks a new branch from parent, copying its current rows.
// Returns PreconditionFailed if parent does not exist or is archived, and
// AlreadyExists if name is already taken.
func (m *Manager) CreateBranch(ctx context.Context, name, parent, description string) (*storage.Branch, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if _, err := m.store.GetBranch(ctx, name); err == nil {
		return nil, orcherr.New(orcherr.AlreadyExists, "branch: %q already exists", name)
	}

	parentBranch, err := m.store.GetBranch(ctx, parent)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.PreconditionFailed, err, "branch: parent %q not found", parent)
	}
	if parentBranch.Status == storage.BranchArchived {
		return nil, orcherr.New(orcherr.PreconditionFailed, "branch: parent %q is archived", parent)
	}

	b := &storage.Branch{
		Name:         name,
		ParentBranch: parent,
		Description:  description,
		Status:       storage.BranchActive,
		ForkedAt:     time.Now(),
	}
	if err := m.store.CreateBranch(ctx, b); err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "branch: create %q", name)
	}
	if err := m.store.ForkTable(ctx, parent, name); err != nil {
		// Roll back the registry row: a branch with no forked tables is
		// worse than no branch at all.
		_ = m.store.DeleteBranch(ctx, name)
		return nil, orcherr.Wrap(orcherr.Internal, err, "branch: fork tables from %q to %q", parent, name)
	}
	return b, nil
}

// Switch is a no-op on storage: branches are not a mutable "current
// context" the store tracks, every call already carries its branch name
// explicitly. It exists to validate the name and hand back its canonical
// form for a caller that wants to adopt it as its working branch.
func (m *Manager) Switch(ctx context.Context, name string) (string, error) {
	b, err := m.store.GetBranch(ctx, name)
	if err != nil {
		return "", orcherr.Wrap(orcherr.NotFound, err, "branch: %q not found", name)
	}
	return b.Name, nil
}

// Get returns a branch by name.
func (m *Manager) Get(ctx context.Context, name string) (*storage.Branch, error) {
	b, err := m.store.GetBranch(ctx, name)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.NotFound, err, "branch: %q not found", name)
	}
	return b, nil
}

// List returns every branch with the given status, or every branch if status is "".
func (m *Manager) List(ctx context.Context, status storage.BranchStatus) ([]*storage.Branch, error) {
	return m.store.ListBranches(ctx, status)
}

// Archive marks a branch archived. Archived branches remain readable and
// cannot be the parent of a new branch; writes to them are not checked
// against this status.
func (m *Manager) Archive(ctx context.Context, name string) error {
	if name == storage.MainBranch {
		return orcherr.New(orcherr.PreconditionFailed, "branch: main cannot be archived")
	}
	b, err := m.store.GetBranch(ctx, name)
	if err != nil {
		return orcherr.Wrap(orcherr.NotFound, err, "branch: %q not found", name)
	}
	if b.Status == storage.BranchArchived {
		return nil
	}
	return m.store.UpdateBranchStatus(ctx, name, storage.BranchArchived, nil, "")
}

// MarkMerged records that src was merged, with the merge time and strategy,
// used by MergeEngine after a successful merge completes.
func (m *Manager) MarkMerged(ctx context.Context, src, strategy string) error {
	now := time.Now()
	return m.store.UpdateBranchStatus(ctx, src, storage.BranchMerged, &now, strategy)
}

// snapshotTables are the branched tables a payload snapshot materializes.
var snapshotTables = []string{"facts", "observations", "relations", "conversations", "messages"}

// NewSnapshot captures a marker for the branch's current state. native=true
// records a substrate timestamp only (cheap, relies on PITR); native=false
// materializes every branched table's current rows into a serialized
// payload, so the snapshot survives even if a later compaction pruned the
// rows ReadAsOf would otherwise need.
func (m *Manager) NewSnapshot(ctx context.Context, branchName, label string, native bool) (*storage.Snapshot, error) {
	if _, err := m.store.GetBranch(ctx, branchName); err != nil {
		return nil, orcherr.Wrap(orcherr.NotFound, err, "branch: %q not found", branchName)
	}
	capturedAt := time.Now()

	sn := &storage.Snapshot{
		ID:         ids.New(),
		BranchName: branchName,
		Label:      label,
		CapturedAt: capturedAt,
		Native:     native,
	}

	if !native {
		payload := make(map[string][]map[string]any, len(snapshotTables))
		for _, table := range snapshotTables {
			rows, err := m.store.ReadAsOf(ctx, table, branchName, capturedAt)
			if err != nil {
				return nil, orcherr.Wrap(orcherr.Internal, err, "branch: capture payload for %s", table)
			}
			payload[table] = rows
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, orcherr.Wrap(orcherr.Internal, err, "branch: marshal snapshot payload")
		}
		sn.Payload = data
	}

	if err := m.store.CreateSnapshot(ctx, sn); err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "branch: create snapshot")
	}
	return sn, nil
}
