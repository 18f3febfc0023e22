// Package storage defines the row model and the substrate contract every
// engine writes through. Branch isolation is implemented as a branch_name
// discriminator column on the five branched tables (facts, observations,
// relations, conversations, messages); table-level fork is emulated by
// copying rows under a new branch_name rather than creating a physical
// per-branch table, trading the substrate's native fork/diff primitives for
// a single schema that any SQL engine can host.
package storage

import "time"

// FactStatus is the lifecycle state of a Fact.
type FactStatus string

const (
	FactActive      FactStatus = "active"
	FactSuperseded  FactStatus = "superseded"
	FactInvalidated FactStatus = "invalidated"
)

// Fact is a durable, embedding-indexed statement with a supersession chain.
type Fact struct {
	ID         string
	FactText   string
	Embedding  []float32 // nil when embedding_pending
	Category   string
	Confidence float64
	Status     FactStatus
	SourceType string
	SourceID   string
	ParentID   string // empty if this is the root of its chain
	SessionID  string
	AgentID    string
	TaskID     string
	BranchName string
	Metadata   map[string]string
	CreatedAt  time.Time
}

// ObservationType enumerates the kinds of tool-call observations.
type ObservationType string

const (
	ObsToolUse  ObservationType = "tool_use"
	ObsDiscover ObservationType = "discovery"
	ObsDecision ObservationType = "decision"
	ObsError    ObservationType = "error"
	ObsInsight  ObservationType = "insight"
)

// Observation is an append-only record of a tool invocation or discovery.
type Observation struct {
	ID         string
	Type       ObservationType
	ToolName   string
	Summary    string
	Embedding  []float32
	RawInput   string
	RawOutput  string
	SessionID  string
	BranchName string
	Metadata   map[string]string
	CreatedAt  time.Time
}

// Relation is a directed, temporally-scoped edge between two entities.
type Relation struct {
	ID           string
	SourceEntity string
	TargetEntity string
	RelationType string
	Properties   map[string]string
	Confidence   float64
	ValidFrom    time.Time
	ValidTo      *time.Time // nil means currently valid
	SessionID    string
	BranchName   string
	CreatedAt    time.Time
}

// ConversationStatus is the lifecycle state of a Conversation.
type ConversationStatus string

const (
	ConvActive    ConversationStatus = "active"
	ConvForked    ConversationStatus = "forked"
	ConvCompleted ConversationStatus = "completed"
	ConvArchived  ConversationStatus = "archived"
)

// Conversation groups an ordered sequence of Messages.
type Conversation struct {
	ID                   string
	SessionID            string
	AgentID              string
	TaskID               string
	BranchName           string
	Title                string
	ParentConversationID string
	ForkPointMessageID   string
	Status               ConversationStatus
	MessageCount         int
	TotalTokens          int
	Model                string
	CreatedAt            time.Time
}

// MessageRole is the speaker of a Message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// ToolCall is one tool invocation recorded against an assistant Message.
type ToolCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Result    string `json:"result,omitempty"`
}

// Message is one turn of a Conversation.
type Message struct {
	ID             string
	ConversationID string
	SessionID      string
	AgentID        string
	Role           MessageRole
	Content        string
	Thinking       string
	ToolCalls      []ToolCall
	TokenCount     int
	Model          string
	SequenceNum    int
	BranchName     string
	CreatedAt      time.Time
}

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionAbandoned SessionStatus = "abandoned"
)

// Session groups conversations, observations and facts produced by one
// working interval of an agent.
type Session struct {
	ID            string
	ParentSession string
	BranchName    string
	ProjectPath   string
	Status        SessionStatus
	Summary       string
	CreatedAt     time.Time
}

// BranchStatus is the lifecycle state of a Branch.
type BranchStatus string

const (
	BranchActive   BranchStatus = "active"
	BranchMerged   BranchStatus = "merged"
	BranchArchived BranchStatus = "archived"
)

// MainBranch is the name of the root branch, never archived.
const MainBranch = "main"

// Branch is a named, isolated view of the branched tables.
type Branch struct {
	Name          string
	ParentBranch  string
	Description   string
	Status        BranchStatus
	ForkedAt      time.Time
	MergedAt      *time.Time
	MergeStrategy string
	Metadata      map[string]string
}

// Snapshot is a read-only marker capturing a branch's state, either as a
// substrate timestamp anchor (native) or a serialized row payload.
type Snapshot struct {
	ID         string
	BranchName string
	Label      string
	CapturedAt time.Time
	Native     bool
	Payload    []byte // nil when Native
}

// MergeHistory records the outcome of one merge call.
type MergeHistory struct {
	ID                 string
	SourceBranch       string
	TargetBranch       string
	Strategy           string
	ItemsMerged        []string
	ItemsRejected      []string
	ConflictResolution string
	MergedBy           string // auto|judge|manual
	CreatedAt          time.Time
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskOpen      TaskStatus = "open"
	TaskRunning   TaskStatus = "running"
	TaskDone      TaskStatus = "done"
	TaskCancelled TaskStatus = "cancelled"
)

// Task is an objective with zero or more joined agents.
type Task struct {
	ID            string
	Objective     string
	Type          string
	Status        TaskStatus
	CreatedBranch string
	CreatedAt     time.Time
}

// TaskAgent is one agent's membership in a Task, isolated on its own branch.
type TaskAgent struct {
	TaskID         string
	AgentID        string
	AssignedBranch string
	Role           string
	JoinedAt       time.Time
	LeftAt         *time.Time
}

// Score is one numeric evaluation of a target along a dimension.
type Score struct {
	ID          string
	TargetType  string
	TargetID    string
	Scorer      string
	Dimension   string
	Value       float64
	Explanation string
	CreatedAt   time.Time
}

// TemplateBranch registers a branch as reusable, versioned starting state.
type TemplateBranch struct {
	Name                string
	SourceBranch        string
	Version             int
	ApplicableTaskTypes []string
	Tags                []string
	Description         string
}

// ReplayStatus is the lifecycle state of a Replay.
type ReplayStatus string

const (
	ReplayPending  ReplayStatus = "pending"
	ReplayComplete ReplayStatus = "complete"
)

// Replay is a descriptor for a clone-and-rerun of a conversation from a
// pivot message. The engine never invokes a model itself; a client drives
// execution against NewConversationID and calls complete() when done.
type Replay struct {
	ID                 string
	OriginalConvID     string
	NewConversationID  string
	PivotMessageID     string
	SystemPrompt       string
	Model              string
	Temperature        float64
	MaxTokens          int
	ToolFilter         []string
	ExtraContext       string
	Status             ReplayStatus
	CreatedAt          time.Time
}

// ScoredID pairs a row identifier with a retrieval score (BM25 or cosine).
type ScoredID struct {
	ID    string
	Score float64
}

// SearchFilters narrows a fulltext_search or vector_search call.
type SearchFilters struct {
	BranchName string
	Category   string
	After      *time.Time
	Before     *time.Time
	Status     string // typically "active"; empty means unfiltered
}
