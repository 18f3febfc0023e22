// Package snapshot implements SnapshotManager: reading and restoring
// point-in-time markers for a branch, and reading state as of a marker or
// an arbitrary earlier timestamp.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kittclouds/memoryvcs/internal/storage"
	"github.com/kittclouds/memoryvcs/pkg/orcherr"
)

// snapshotTables are the branched tables a payload snapshot covers.
var snapshotTables = []string{"facts", "observations", "relations", "conversations", "messages"}

// Manager lists, reads and restores snapshots; creation lives on
// branch.Manager since it is a thin wrapper over storage.Store.CreateSnapshot.
type Manager struct {
	store storage.Store
}

// New builds a Manager over store.
func New(store storage.Store) *Manager {
	return &Manager{store: store}
}

// Get returns a snapshot by id.
func (m *Manager) Get(ctx context.Context, id string) (*storage.Snapshot, error) {
	sn, err := m.store.GetSnapshot(ctx, id)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.NotFound, err, "snapshot: %q not found", id)
	}
	return sn, nil
}

// List returns every snapshot captured for branch, most recent first.
func (m *Manager) List(ctx context.Context, branch string) ([]*storage.Snapshot, error) {
	return m.store.ListSnapshots(ctx, branch)
}

// ReplayAt reconstructs the rows of table as they stood at asOf on branch.
// It keeps no state of its own beyond what storage.Store.ReadAsOf already
// tracks via created_at/superseded_at/invalidated_at/valid_to.
func (m *Manager) ReplayAt(ctx context.Context, table, branch string, asOf time.Time) ([]map[string]any, error) {
	rows, err := m.store.ReadAsOf(ctx, table, branch, asOf)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "snapshot: replay %s as of %s", table, asOf)
	}
	return rows, nil
}

// ReplayAtSnapshot resolves snapshot's captured_at and replays table as of
// that moment.
func (m *Manager) ReplayAtSnapshot(ctx context.Context, table, snapshotID string) ([]map[string]any, error) {
	sn, err := m.Get(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	return m.ReplayAt(ctx, table, sn.BranchName, sn.CapturedAt)
}

// Restore creates a new branch from a snapshot without mutating the branch
// it was captured from. A native snapshot re-forks its source branch from
// the recorded timestamp; a payload snapshot inserts the rows captured at
// snapshot time. Either way the destination branch is named
// "{branch}_restored_{captured_at_unix_ms}".
func (m *Manager) Restore(ctx context.Context, snapshotID string) (*storage.Branch, error) {
	sn, err := m.Get(ctx, snapshotID)
	if err != nil {
		return nil, err
	}

	dstName := fmt.Sprintf("%s_restored_%d", sn.BranchName, sn.CapturedAt.UnixMilli())
	b := &storage.Branch{
		Name:         dstName,
		ParentBranch: sn.BranchName,
		Description:  fmt.Sprintf("restored from snapshot %s", sn.ID),
		Status:       storage.BranchActive,
		ForkedAt:     time.Now(),
	}
	if err := m.store.CreateBranch(ctx, b); err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "snapshot: register restored branch %q", dstName)
	}

	if sn.Native {
		if err := m.store.ForkTableAsOf(ctx, sn.BranchName, dstName, sn.CapturedAt); err != nil {
			_ = m.store.DeleteBranch(ctx, dstName)
			return nil, orcherr.Wrap(orcherr.Internal, err, "snapshot: restore %q from %q", dstName, sn.BranchName)
		}
		return b, nil
	}

	var payload map[string][]map[string]any
	if err := json.Unmarshal(sn.Payload, &payload); err != nil {
		_ = m.store.DeleteBranch(ctx, dstName)
		return nil, orcherr.Wrap(orcherr.Internal, err, "snapshot: unmarshal payload for %q", sn.ID)
	}
	for _, table := range snapshotTables {
		if err := m.store.InsertSnapshotRows(ctx, table, dstName, payload[table]); err != nil {
			_ = m.store.DeleteBranch(ctx, dstName)
			return nil, orcherr.Wrap(orcherr.Internal, err, "snapshot: insert payload rows for %s", table)
		}
	}
	return b, nil
}
