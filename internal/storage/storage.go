package storage

import (
	"context"
	"time"
)

// Store is the substrate contract every engine depends on. It is
// implemented by SQLiteStore; any other engine that can satisfy parameterized
// exec/query plus the four degradable capabilities below could host it too.
type Store interface {
	// Branch registry.
	CreateBranch(ctx context.Context, b *Branch) error
	GetBranch(ctx context.Context, name string) (*Branch, error)
	ListBranches(ctx context.Context, status BranchStatus) ([]*Branch, error)
	UpdateBranchStatus(ctx context.Context, name string, status BranchStatus, mergedAt *time.Time, strategy string) error

	// DeleteBranch removes a registry row. Used to roll back a CreateBranch
	// whose subsequent ForkTable failed, so no orphaned branch with no
	// forked tables is left registered.
	DeleteBranch(ctx context.Context, name string) error

	// ForkTable copies every current row of the five branched tables from
	// src to dst under the new branch name. This is the column-only
	// emulation of the substrate's native table-level fork primitive.
	ForkTable(ctx context.Context, srcBranch, dstBranch string) error

	// ForkTableAsOf is ForkTable restricted to rows that were live as of
	// asOf, backing SnapshotManager's native restore path.
	ForkTableAsOf(ctx context.Context, srcBranch, dstBranch string, asOf time.Time) error

	// InsertSnapshotRows inserts a previously captured payload (as returned
	// by ReadAsOf) into dstBranch, rewriting ids to stay unique. Backs
	// SnapshotManager's payload restore path.
	InsertSnapshotRows(ctx context.Context, table, dstBranch string, rows []map[string]any) error

	// Facts.
	CreateFact(ctx context.Context, f *Fact) error
	GetFact(ctx context.Context, id string) (*Fact, error)
	SupersedeFact(ctx context.Context, oldID string) error
	InvalidateFact(ctx context.Context, id, reason string) error
	ListFacts(ctx context.Context, branch string, category string, limit, offset int) ([]*Fact, error)

	// Observations.
	CreateObservation(ctx context.Context, o *Observation) error
	ListObservations(ctx context.Context, branch, sessionID string, since time.Time, limit int) ([]*Observation, error)

	// Relations.
	CreateRelation(ctx context.Context, r *Relation) error
	CloseRelation(ctx context.Context, id string, closedAt time.Time) error
	FindOpenRelation(ctx context.Context, branch, src, tgt, relType string) (*Relation, error)
	QueryRelations(ctx context.Context, branch, entity string, relType string) ([]*Relation, error)

	// IncrementEntityMentions bumps the mention counter for entity on
	// branch by one, creating the row if absent, and returns the new total.
	IncrementEntityMentions(ctx context.Context, branch, entity string) (int, error)
	// EntityMentions returns the current mention count for entity on
	// branch, or 0 if it has never been mentioned.
	EntityMentions(ctx context.Context, branch, entity string) (int, error)

	// Conversations / messages.
	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	UpdateConversationCounters(ctx context.Context, id string, messageCount, totalTokens int) error
	UpdateConversationStatus(ctx context.Context, id string, status ConversationStatus) error
	AppendMessage(ctx context.Context, m *Message) error
	MaxSequenceNum(ctx context.Context, conversationID string) (int, error)
	ListMessages(ctx context.Context, conversationID string, upToSeq int) ([]*Message, error)
	GetMessage(ctx context.Context, id string) (*Message, error)

	// Sessions.
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)

	// Tasks.
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status TaskStatus) error
	CreateTaskAgent(ctx context.Context, ta *TaskAgent) error
	ListTaskAgents(ctx context.Context, taskID string) ([]*TaskAgent, error)

	// Snapshots.
	CreateSnapshot(ctx context.Context, s *Snapshot) error
	GetSnapshot(ctx context.Context, id string) (*Snapshot, error)
	ListSnapshots(ctx context.Context, branch string) ([]*Snapshot, error)

	// Merge history.
	CreateMergeHistory(ctx context.Context, mh *MergeHistory) error

	// Scores.
	CreateScore(ctx context.Context, s *Score) error
	ListScores(ctx context.Context, targetType, targetID string) ([]*Score, error)

	// Templates.
	CreateTemplate(ctx context.Context, t *TemplateBranch) error
	GetTemplate(ctx context.Context, name string) (*TemplateBranch, error)
	BumpTemplateVersion(ctx context.Context, name string) error

	// Replays.
	CreateReplay(ctx context.Context, r *Replay) error
	GetReplay(ctx context.Context, id string) (*Replay, error)
	UpdateReplayStatus(ctx context.Context, id string, status ReplayStatus) error

	// Point-in-time read: rows of table "facts"|"observations"|"relations"|
	// "conversations"|"messages" as of timestamp, scoped to branch.
	ReadAsOf(ctx context.Context, table, branch string, asOf time.Time) ([]map[string]any, error)

	// FulltextSearch reports (id, bm25) pairs ordered by score descending.
	// An implementation without a text index may return
	// ErrCapabilityUnsupported.
	FulltextSearch(ctx context.Context, table, field, query string, filters SearchFilters, limit int) ([]ScoredID, error)

	// VectorSearch reports (id, cosine) pairs ordered by score descending.
	// An implementation without a vector index may return
	// ErrCapabilityUnsupported.
	VectorSearch(ctx context.Context, table, field string, queryVec []float32, filters SearchFilters, k int) ([]ScoredID, error)

	// RecentByBranch returns the most recent current rows for a table,
	// optionally category filtered; used by empty-query search fallback.
	RecentByBranch(ctx context.Context, table, branch, category string, limit int) ([]ScoredID, error)

	Close() error
}

// ErrCapabilityUnsupported is returned by FulltextSearch/VectorSearch when
// the configured substrate instance has no index for the requested field.
// SQLiteStore never returns it: it computes both capabilities itself over a
// table scan. No engine treats it specially; it reaches the caller like any
// other store error.
var ErrCapabilityUnsupported = &capabilityError{}

type capabilityError struct{}

func (*capabilityError) Error() string { return "storage: capability not supported by substrate" }
