package storage

// schema defines every table the substrate hosts. The five branched entity
// tables (facts, observations, relations, conversations, messages) carry a
// branch_name discriminator instead of living in separate per-branch
// physical tables; create_branch emulates a table-level fork by copying
// current rows under the new branch name (see ForkTable).
const schema = `
CREATE TABLE IF NOT EXISTS branches (
    name TEXT PRIMARY KEY,
    parent_branch TEXT NOT NULL,
    description TEXT,
    status TEXT NOT NULL DEFAULT 'active',
    forked_at INTEGER NOT NULL,
    merged_at INTEGER,
    merge_strategy TEXT,
    metadata TEXT
);

CREATE TABLE IF NOT EXISTS facts (
    id TEXT PRIMARY KEY,
    fact_text TEXT NOT NULL,
    embedding BLOB,
    category TEXT,
    confidence REAL NOT NULL DEFAULT 1.0,
    status TEXT NOT NULL DEFAULT 'active',
    source_type TEXT,
    source_id TEXT,
    parent_id TEXT,
    session_id TEXT,
    agent_id TEXT,
    task_id TEXT,
    branch_name TEXT NOT NULL,
    metadata TEXT,
    created_at INTEGER NOT NULL,
    superseded_at INTEGER,
    invalidated_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_facts_branch_active ON facts(branch_name, status);
CREATE INDEX IF NOT EXISTS idx_facts_parent ON facts(parent_id);
CREATE INDEX IF NOT EXISTS idx_facts_category ON facts(branch_name, category);

CREATE TABLE IF NOT EXISTS observations (
    id TEXT PRIMARY KEY,
    observation_type TEXT NOT NULL,
    tool_name TEXT,
    summary TEXT NOT NULL,
    embedding BLOB,
    raw_input TEXT,
    raw_output TEXT,
    session_id TEXT,
    branch_name TEXT NOT NULL,
    metadata TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_observations_branch ON observations(branch_name, created_at);
CREATE INDEX IF NOT EXISTS idx_observations_session ON observations(session_id);

CREATE TABLE IF NOT EXISTS relations (
    id TEXT PRIMARY KEY,
    source_entity TEXT NOT NULL,
    target_entity TEXT NOT NULL,
    relation_type TEXT NOT NULL,
    properties TEXT,
    confidence REAL NOT NULL DEFAULT 1.0,
    valid_from INTEGER NOT NULL,
    valid_to INTEGER,
    session_id TEXT,
    branch_name TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_relations_branch_open ON relations(branch_name, valid_to);
CREATE INDEX IF NOT EXISTS idx_relations_source ON relations(branch_name, source_entity);
CREATE INDEX IF NOT EXISTS idx_relations_target ON relations(branch_name, target_entity);

CREATE TABLE IF NOT EXISTS entity_mentions (
    branch_name TEXT NOT NULL,
    entity TEXT NOT NULL,
    mention_count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (branch_name, entity)
);

CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    session_id TEXT,
    agent_id TEXT,
    task_id TEXT,
    branch_name TEXT NOT NULL,
    title TEXT,
    parent_conversation_id TEXT,
    fork_point_message_id TEXT,
    status TEXT NOT NULL DEFAULT 'active',
    message_count INTEGER NOT NULL DEFAULT 0,
    total_tokens INTEGER NOT NULL DEFAULT 0,
    model TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_branch ON conversations(branch_name);
CREATE INDEX IF NOT EXISTS idx_conversations_parent ON conversations(parent_conversation_id);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    session_id TEXT,
    agent_id TEXT,
    role TEXT NOT NULL,
    content TEXT,
    thinking TEXT,
    tool_calls TEXT,
    token_count INTEGER NOT NULL DEFAULT 0,
    model TEXT,
    sequence_num INTEGER NOT NULL,
    branch_name TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, sequence_num);
CREATE INDEX IF NOT EXISTS idx_messages_branch ON messages(branch_name);

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    parent_session TEXT,
    branch_name TEXT NOT NULL,
    project_path TEXT,
    status TEXT NOT NULL DEFAULT 'active',
    summary TEXT,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    objective TEXT NOT NULL,
    type TEXT,
    status TEXT NOT NULL DEFAULT 'open',
    created_branch TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS task_agents (
    task_id TEXT NOT NULL,
    agent_id TEXT NOT NULL,
    assigned_branch TEXT NOT NULL,
    role TEXT,
    joined_at INTEGER NOT NULL,
    left_at INTEGER,
    PRIMARY KEY (task_id, agent_id)
);

CREATE TABLE IF NOT EXISTS snapshots (
    id TEXT PRIMARY KEY,
    branch_name TEXT NOT NULL,
    label TEXT,
    captured_at INTEGER NOT NULL,
    native INTEGER NOT NULL DEFAULT 0,
    payload BLOB
);

CREATE INDEX IF NOT EXISTS idx_snapshots_branch ON snapshots(branch_name);

CREATE TABLE IF NOT EXISTS merge_history (
    id TEXT PRIMARY KEY,
    source_branch TEXT NOT NULL,
    target_branch TEXT NOT NULL,
    strategy TEXT NOT NULL,
    items_merged TEXT,
    items_rejected TEXT,
    conflict_resolution TEXT,
    merged_by TEXT,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS scores (
    id TEXT PRIMARY KEY,
    target_type TEXT NOT NULL,
    target_id TEXT NOT NULL,
    scorer TEXT,
    dimension TEXT NOT NULL,
    value REAL NOT NULL,
    explanation TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scores_target ON scores(target_type, target_id);

CREATE TABLE IF NOT EXISTS template_branches (
    name TEXT PRIMARY KEY,
    source_branch TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    applicable_task_types TEXT,
    tags TEXT,
    description TEXT
);

CREATE TABLE IF NOT EXISTS replays (
    id TEXT PRIMARY KEY,
    original_conv_id TEXT NOT NULL,
    new_conversation_id TEXT NOT NULL,
    pivot_message_id TEXT NOT NULL,
    system_prompt TEXT,
    model TEXT,
    temperature REAL,
    max_tokens INTEGER,
    tool_filter TEXT,
    extra_context TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_replays_original ON replays(original_conv_id);
`
