// Package storage's SQLite backend uses ncruces/go-sqlite3's database/sql
// driver (a pure-Go, wazero-hosted build of SQLite — no cgo). The
// asg017/sqlite-vec-go-bindings extension is registered, but VectorSearch
// computes cosine similarity in Go and uses no vec0 table.
package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"time"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
	"github.com/rs/zerolog"

	"github.com/kittclouds/memoryvcs/internal/tokenize"
)

// SQLiteStore is the SQLite-backed implementation of Store.
type SQLiteStore struct {
	mu  sync.RWMutex
	db  *sql.DB
	log zerolog.Logger

	warnedOnce sync.Map // (table,field) -> struct{}, for the one-time capability warning
}

// NewSQLiteStore opens an in-memory store, mainly for tests.
func NewSQLiteStore(log zerolog.Logger) (*SQLiteStore, error) {
	return NewSQLiteStoreWithDSN(":memory:", log)
}

// NewSQLiteStoreWithDSN opens a store against dsn ("" or ":memory:" for
// in-memory, a file path for persistent storage) and applies the schema.
func NewSQLiteStoreWithDSN(dsn string, log zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; ncruces driver serializes internally anyway

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}

	s := &SQLiteStore{db: db, log: log}
	if err := s.ensureMain(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureMain() error {
	_, err := s.GetBranch(context.Background(), MainBranch)
	if err == nil {
		return nil
	}
	return s.CreateBranch(context.Background(), &Branch{
		Name:         MainBranch,
		ParentBranch: "",
		Status:       BranchActive,
		ForkedAt:     time.Now(),
	})
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func unmarshalJSON[T any](raw string, out *T) {
	if raw == "" {
		return
	}
	_ = json.Unmarshal([]byte(raw), out)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTimeMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }

func embeddingToBlob(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func blobToEmbedding(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// vecRowID derives a stable positive int64 rowid from an opaque string id,
// for use as the vec0 virtual table key without maintaining a separate
// sequence table.
func vecRowID(id string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	v := int64(h.Sum64())
	if v < 0 {
		v = -v
	}
	return v
}

// ---------------------------------------------------------------------
// Branches
// ---------------------------------------------------------------------

func (s *SQLiteStore) CreateBranch(ctx context.Context, b *Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ForkedAt.IsZero() {
		b.ForkedAt = time.Now()
	}
	if b.Status == "" {
		b.Status = BranchActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (name, parent_branch, description, status, forked_at, merged_at, merge_strategy, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, b.Name, b.ParentBranch, nullString(b.Description), string(b.Status),
		b.ForkedAt.UnixMilli(), nullTimeMillis(b.MergedAt), nullString(b.MergeStrategy), marshalJSON(b.Metadata))
	return err
}

func (s *SQLiteStore) GetBranch(ctx context.Context, name string) (*Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b Branch
	var desc, strategy, meta sql.NullString
	var forkedAt int64
	var mergedAt sql.NullInt64
	var status string

	err := s.db.QueryRowContext(ctx, `
		SELECT name, parent_branch, description, status, forked_at, merged_at, merge_strategy, metadata
		FROM branches WHERE name = ?
	`, name).Scan(&b.Name, &b.ParentBranch, &desc, &status, &forkedAt, &mergedAt, &strategy, &meta)
	if err != nil {
		return nil, err
	}

	b.Description = desc.String
	b.Status = BranchStatus(status)
	b.ForkedAt = fromMillis(forkedAt)
	if mergedAt.Valid {
		t := fromMillis(mergedAt.Int64)
		b.MergedAt = &t
	}
	b.MergeStrategy = strategy.String
	unmarshalJSON(meta.String, &b.Metadata)
	return &b, nil
}

func (s *SQLiteStore) ListBranches(ctx context.Context, status BranchStatus) ([]*Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT name, parent_branch, description, status, forked_at, merged_at, merge_strategy, metadata
			FROM branches WHERE status = ? ORDER BY forked_at
		`, string(status))
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT name, parent_branch, description, status, forked_at, merged_at, merge_strategy, metadata
			FROM branches ORDER BY forked_at
		`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Branch
	for rows.Next() {
		var b Branch
		var desc, strategy, meta sql.NullString
		var forkedAt int64
		var mergedAt sql.NullInt64
		var st string
		if err := rows.Scan(&b.Name, &b.ParentBranch, &desc, &st, &forkedAt, &mergedAt, &strategy, &meta); err != nil {
			return nil, err
		}
		b.Description = desc.String
		b.Status = BranchStatus(st)
		b.ForkedAt = fromMillis(forkedAt)
		if mergedAt.Valid {
			t := fromMillis(mergedAt.Int64)
			b.MergedAt = &t
		}
		b.MergeStrategy = strategy.String
		unmarshalJSON(meta.String, &b.Metadata)
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateBranchStatus(ctx context.Context, name string, status BranchStatus, mergedAt *time.Time, strategy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE branches SET status = ?, merged_at = ?, merge_strategy = ? WHERE name = ?
	`, string(status), nullTimeMillis(mergedAt), nullString(strategy), name)
	return err
}

func (s *SQLiteStore) DeleteBranch(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM branches WHERE name = ?`, name)
	return err
}

// branchedTables lists the five entity tables ForkTable copies rows across.
var branchedTables = []string{"facts", "observations", "relations", "conversations", "messages"}

func (s *SQLiteStore) ForkTable(ctx context.Context, srcBranch, dstBranch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range branchedTables {
		cols, err := s.columnsOf(ctx, tx, table)
		if err != nil {
			return err
		}
		colList := columnListSQL(cols)
		idCol := "id"
		// New primary-key values: copied rows must get new ids, since the
		// original ids must remain retrievable unmodified on the source
		// branch. We rewrite id as id || '#' || dstBranch to keep it
		// unique while remaining traceable to its origin.
		assignments := make([]string, len(cols))
		for i, c := range cols {
			switch c {
			case idCol:
				assignments[i] = `(id || '#' || ?) AS id`
			case "branch_name":
				assignments[i] = `? AS branch_name`
			default:
				assignments[i] = c
			}
		}
		selectList := joinAssignments(assignments)
		stmt := fmt.Sprintf(`INSERT INTO %s (%s) SELECT %s FROM %s WHERE branch_name = ?`, table, colList, selectList, table)
		if _, err := tx.ExecContext(ctx, stmt, dstBranch, dstBranch, srcBranch); err != nil {
			return fmt.Errorf("storage: fork table %s: %w", table, err)
		}
	}

	return tx.Commit()
}

// asOfWhere mirrors ReadAsOf's per-table liveness predicate, used by
// ForkTableAsOf to restrict the copied rows to what was live at asOf
// instead of what is live now.
func asOfWhere(table string) string {
	switch table {
	case "facts":
		return `WHERE branch_name = ? AND created_at <= ? AND (superseded_at IS NULL OR superseded_at > ?) AND (invalidated_at IS NULL OR invalidated_at > ?)`
	case "relations":
		return `WHERE branch_name = ? AND valid_from <= ? AND (valid_to IS NULL OR valid_to > ?)`
	default:
		return `WHERE branch_name = ? AND created_at <= ?`
	}
}

// ForkTableAsOf is ForkTable restricted to rows live as of asOf, backing a
// native snapshot restore: it re-forks the branch from the recorded
// timestamp rather than from current state.
func (s *SQLiteStore) ForkTableAsOf(ctx context.Context, srcBranch, dstBranch string, asOf time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ts := asOf.UnixMilli()
	for _, table := range branchedTables {
		cols, err := s.columnsOf(ctx, tx, table)
		if err != nil {
			return err
		}
		colList := columnListSQL(cols)
		assignments := make([]string, len(cols))
		for i, c := range cols {
			switch c {
			case "id":
				assignments[i] = `(id || '#' || ?) AS id`
			case "branch_name":
				assignments[i] = `? AS branch_name`
			default:
				assignments[i] = c
			}
		}
		selectList := joinAssignments(assignments)
		stmt := fmt.Sprintf(`INSERT INTO %s (%s) SELECT %s FROM %s %s`, table, colList, selectList, table, asOfWhere(table))

		args := []any{dstBranch, dstBranch, srcBranch, ts}
		switch table {
		case "facts":
			args = append(args, ts, ts)
		case "relations":
			args = append(args, ts)
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("storage: fork table %s as of: %w", table, err)
		}
	}

	return tx.Commit()
}

// InsertSnapshotRows inserts a payload captured earlier by ReadAsOf into a
// fresh branch, rewriting id and branch_name the same way ForkTable does so
// primary keys stay unique against the source branch's own rows.
func (s *SQLiteStore) InsertSnapshotRows(ctx context.Context, table, dstBranch string, rows []map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	cols, err := s.columnsOf(ctx, tx, table)
	if err != nil {
		return err
	}
	colList := columnListSQL(cols)
	placeholders := make([]string, len(cols))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, table, colList, joinAssignments(placeholders))

	for _, row := range rows {
		args := make([]any, len(cols))
		for i, c := range cols {
			switch c {
			case "id":
				args[i] = fmt.Sprintf("%v#%s", row["id"], dstBranch)
			case "branch_name":
				args[i] = dstBranch
			default:
				args[i] = row[c]
			}
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("storage: insert snapshot row into %s: %w", table, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) columnsOf(ctx context.Context, tx *sql.Tx, table string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s LIMIT 0`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return rows.Columns()
}

func columnListSQL(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		if c == "order" {
			out += `"order"`
		} else {
			out += c
		}
	}
	return out
}

func joinAssignments(a []string) string {
	out := ""
	for i, v := range a {
		if i > 0 {
			out += ", "
		}
		out += v
	}
	return out
}

// ---------------------------------------------------------------------
// Facts
// ---------------------------------------------------------------------

func (s *SQLiteStore) CreateFact(ctx context.Context, f *Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	if f.Status == "" {
		f.Status = FactActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO facts (id, fact_text, embedding, category, confidence, status, source_type,
			source_id, parent_id, session_id, agent_id, task_id, branch_name, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.FactText, embeddingToBlob(f.Embedding), nullString(f.Category), f.Confidence, string(f.Status),
		nullString(f.SourceType), nullString(f.SourceID), nullString(f.ParentID), nullString(f.SessionID),
		nullString(f.AgentID), nullString(f.TaskID), f.BranchName, marshalJSON(f.Metadata), f.CreatedAt.UnixMilli())
	return err
}

func scanFact(row interface{ Scan(...any) error }) (*Fact, error) {
	var f Fact
	var embedding []byte
	var category, sourceType, sourceID, parentID, sessionID, agentID, taskID, meta sql.NullString
	var status string
	var createdAt int64

	if err := row.Scan(&f.ID, &f.FactText, &embedding, &category, &f.Confidence, &status, &sourceType,
		&sourceID, &parentID, &sessionID, &agentID, &taskID, &f.BranchName, &meta, &createdAt); err != nil {
		return nil, err
	}

	f.Embedding = blobToEmbedding(embedding)
	f.Category = category.String
	f.Status = FactStatus(status)
	f.SourceType = sourceType.String
	f.SourceID = sourceID.String
	f.ParentID = parentID.String
	f.SessionID = sessionID.String
	f.AgentID = agentID.String
	f.TaskID = taskID.String
	unmarshalJSON(meta.String, &f.Metadata)
	f.CreatedAt = fromMillis(createdAt)
	return &f, nil
}

const factCols = `id, fact_text, embedding, category, confidence, status, source_type, source_id, parent_id, session_id, agent_id, task_id, branch_name, metadata, created_at`

func (s *SQLiteStore) GetFact(ctx context.Context, id string) (*Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `SELECT `+factCols+` FROM facts WHERE id = ?`, id)
	return scanFact(row)
}

func (s *SQLiteStore) SupersedeFact(ctx context.Context, oldID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE facts SET status = ?, superseded_at = ? WHERE id = ?`,
		string(FactSuperseded), time.Now().UnixMilli(), oldID)
	return err
}

func (s *SQLiteStore) InvalidateFact(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE facts SET status = ?, invalidated_at = ? WHERE id = ? AND status != ?`,
		string(FactInvalidated), time.Now().UnixMilli(), id, string(FactInvalidated))
	return err
}

func (s *SQLiteStore) ListFacts(ctx context.Context, branch string, category string, limit, offset int) ([]*Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows *sql.Rows
	var err error
	if category != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+factCols+` FROM facts WHERE branch_name = ? AND status = ? AND category = ?
			ORDER BY created_at DESC LIMIT ? OFFSET ?
		`, branch, string(FactActive), category, limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+factCols+` FROM facts WHERE branch_name = ? AND status = ?
			ORDER BY created_at DESC LIMIT ? OFFSET ?
		`, branch, string(FactActive), limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------
// Observations
// ---------------------------------------------------------------------

func (s *SQLiteStore) CreateObservation(ctx context.Context, o *Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO observations (id, observation_type, tool_name, summary, embedding, raw_input,
			raw_output, session_id, branch_name, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, string(o.Type), nullString(o.ToolName), o.Summary, embeddingToBlob(o.Embedding),
		nullString(o.RawInput), nullString(o.RawOutput), nullString(o.SessionID), o.BranchName,
		marshalJSON(o.Metadata), o.CreatedAt.UnixMilli())
	return err
}

func (s *SQLiteStore) ListObservations(ctx context.Context, branch, sessionID string, since time.Time, limit int) ([]*Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, observation_type, tool_name, summary, embedding, raw_input, raw_output,
		session_id, branch_name, metadata, created_at FROM observations WHERE branch_name = ? AND created_at >= ?`
	args := []any{branch, since.UnixMilli()}
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Observation
	for rows.Next() {
		var o Observation
		var embedding []byte
		var toolName, rawInput, rawOutput, sessID, meta sql.NullString
		var obsType string
		var createdAt int64
		if err := rows.Scan(&o.ID, &obsType, &toolName, &o.Summary, &embedding, &rawInput, &rawOutput,
			&sessID, &o.BranchName, &meta, &createdAt); err != nil {
			return nil, err
		}
		o.Type = ObservationType(obsType)
		o.ToolName = toolName.String
		o.Embedding = blobToEmbedding(embedding)
		o.RawInput = rawInput.String
		o.RawOutput = rawOutput.String
		o.SessionID = sessID.String
		unmarshalJSON(meta.String, &o.Metadata)
		o.CreatedAt = fromMillis(createdAt)
		out = append(out, &o)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------
// Relations
// ---------------------------------------------------------------------

func (s *SQLiteStore) CreateRelation(ctx context.Context, r *Relation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.ValidFrom.IsZero() {
		r.ValidFrom = r.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relations (id, source_entity, target_entity, relation_type, properties, confidence,
			valid_from, valid_to, session_id, branch_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.SourceEntity, r.TargetEntity, r.RelationType, marshalJSON(r.Properties), r.Confidence,
		r.ValidFrom.UnixMilli(), nullTimeMillis(r.ValidTo), nullString(r.SessionID), r.BranchName, r.CreatedAt.UnixMilli())
	return err
}

func (s *SQLiteStore) CloseRelation(ctx context.Context, id string, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE relations SET valid_to = ? WHERE id = ?`, closedAt.UnixMilli(), id)
	return err
}

func scanRelation(row interface{ Scan(...any) error }) (*Relation, error) {
	var r Relation
	var props, sessionID sql.NullString
	var validFrom int64
	var validTo sql.NullInt64
	var createdAt int64

	if err := row.Scan(&r.ID, &r.SourceEntity, &r.TargetEntity, &r.RelationType, &props, &r.Confidence,
		&validFrom, &validTo, &sessionID, &r.BranchName, &createdAt); err != nil {
		return nil, err
	}
	unmarshalJSON(props.String, &r.Properties)
	r.SessionID = sessionID.String
	r.ValidFrom = fromMillis(validFrom)
	if validTo.Valid {
		t := fromMillis(validTo.Int64)
		r.ValidTo = &t
	}
	r.CreatedAt = fromMillis(createdAt)
	return &r, nil
}

const relationCols = `id, source_entity, target_entity, relation_type, properties, confidence, valid_from, valid_to, session_id, branch_name, created_at`

func (s *SQLiteStore) FindOpenRelation(ctx context.Context, branch, src, tgt, relType string) (*Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT `+relationCols+` FROM relations
		WHERE branch_name = ? AND source_entity = ? AND target_entity = ? AND relation_type = ? AND valid_to IS NULL
		ORDER BY valid_from DESC LIMIT 1
	`, branch, src, tgt, relType)
	return scanRelation(row)
}

func (s *SQLiteStore) QueryRelations(ctx context.Context, branch, entity string, relType string) ([]*Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + relationCols + ` FROM relations
		WHERE branch_name = ? AND (source_entity = ? OR target_entity = ?) AND valid_to IS NULL`
	args := []any{branch, entity, entity}
	if relType != "" {
		query += ` AND relation_type = ?`
		args = append(args, relType)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Relation
	for rows.Next() {
		r, err := scanRelation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) IncrementEntityMentions(ctx context.Context, branch, entity string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_mentions (branch_name, entity, mention_count) VALUES (?, ?, 1)
		ON CONFLICT(branch_name, entity) DO UPDATE SET mention_count = mention_count + 1
	`, branch, entity)
	if err != nil {
		return 0, err
	}

	var count int
	err = s.db.QueryRowContext(ctx, `
		SELECT mention_count FROM entity_mentions WHERE branch_name = ? AND entity = ?
	`, branch, entity).Scan(&count)
	return count, err
}

func (s *SQLiteStore) EntityMentions(ctx context.Context, branch, entity string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT mention_count FROM entity_mentions WHERE branch_name = ? AND entity = ?
	`, branch, entity).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, err
}

// ---------------------------------------------------------------------
// Conversations / Messages
// ---------------------------------------------------------------------

func (s *SQLiteStore) CreateConversation(ctx context.Context, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.Status == "" {
		c.Status = ConvActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, session_id, agent_id, task_id, branch_name, title,
			parent_conversation_id, fork_point_message_id, status, message_count, total_tokens, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, nullString(c.SessionID), nullString(c.AgentID), nullString(c.TaskID), c.BranchName,
		nullString(c.Title), nullString(c.ParentConversationID), nullString(c.ForkPointMessageID),
		string(c.Status), c.MessageCount, c.TotalTokens, nullString(c.Model), c.CreatedAt.UnixMilli())
	return err
}

const conversationCols = `id, session_id, agent_id, task_id, branch_name, title, parent_conversation_id, fork_point_message_id, status, message_count, total_tokens, model, created_at`

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var c Conversation
	var sessionID, agentID, taskID, title, parentID, forkPoint, model sql.NullString
	var status string
	var createdAt int64

	if err := row.Scan(&c.ID, &sessionID, &agentID, &taskID, &c.BranchName, &title, &parentID, &forkPoint,
		&status, &c.MessageCount, &c.TotalTokens, &model, &createdAt); err != nil {
		return nil, err
	}
	c.SessionID = sessionID.String
	c.AgentID = agentID.String
	c.TaskID = taskID.String
	c.Title = title.String
	c.ParentConversationID = parentID.String
	c.ForkPointMessageID = forkPoint.String
	c.Status = ConversationStatus(status)
	c.Model = model.String
	c.CreatedAt = fromMillis(createdAt)
	return &c, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationCols+` FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

func (s *SQLiteStore) UpdateConversationCounters(ctx context.Context, id string, messageCount, totalTokens int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE conversations SET message_count = ?, total_tokens = ? WHERE id = ?`,
		messageCount, totalTokens, id)
	return err
}

func (s *SQLiteStore) UpdateConversationStatus(ctx context.Context, id string, status ConversationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE conversations SET status = ? WHERE id = ?`, string(status), id)
	return err
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, session_id, agent_id, role, content, thinking,
			tool_calls, token_count, model, sequence_num, branch_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.ConversationID, nullString(m.SessionID), nullString(m.AgentID), string(m.Role),
		nullString(m.Content), nullString(m.Thinking), marshalJSON(m.ToolCalls), m.TokenCount,
		nullString(m.Model), m.SequenceNum, m.BranchName, m.CreatedAt.UnixMilli())
	return err
}

func (s *SQLiteStore) MaxSequenceNum(ctx context.Context, conversationID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence_num) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&max)
	if err != nil {
		return 0, err
	}
	return int(max.Int64), nil
}

const messageCols = `id, conversation_id, session_id, agent_id, role, content, thinking, tool_calls, token_count, model, sequence_num, branch_name, created_at`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	var sessionID, agentID, content, thinking, toolCalls, model sql.NullString
	var role string
	var createdAt int64

	if err := row.Scan(&m.ID, &m.ConversationID, &sessionID, &agentID, &role, &content, &thinking,
		&toolCalls, &m.TokenCount, &model, &m.SequenceNum, &m.BranchName, &createdAt); err != nil {
		return nil, err
	}
	m.SessionID = sessionID.String
	m.AgentID = agentID.String
	m.Role = MessageRole(role)
	m.Content = content.String
	m.Thinking = thinking.String
	unmarshalJSON(toolCalls.String, &m.ToolCalls)
	m.Model = model.String
	m.CreatedAt = fromMillis(createdAt)
	return &m, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, upToSeq int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows *sql.Rows
	var err error
	if upToSeq > 0 {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+messageCols+` FROM messages WHERE conversation_id = ? AND sequence_num <= ? ORDER BY sequence_num
		`, conversationID, upToSeq)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+messageCols+` FROM messages WHERE conversation_id = ? ORDER BY sequence_num
		`, conversationID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `SELECT `+messageCols+` FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

// ---------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	if sess.Status == "" {
		sess.Status = SessionActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, parent_session, branch_name, project_path, status, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, nullString(sess.ParentSession), sess.BranchName, nullString(sess.ProjectPath),
		string(sess.Status), nullString(sess.Summary), sess.CreatedAt.UnixMilli())
	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sess Session
	var parent, path, summary sql.NullString
	var status string
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, parent_session, branch_name, project_path, status, summary, created_at FROM sessions WHERE id = ?
	`, id).Scan(&sess.ID, &parent, &sess.BranchName, &path, &status, &summary, &createdAt)
	if err != nil {
		return nil, err
	}
	sess.ParentSession = parent.String
	sess.ProjectPath = path.String
	sess.Status = SessionStatus(status)
	sess.Summary = summary.String
	sess.CreatedAt = fromMillis(createdAt)
	return &sess, nil
}

// ---------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------

func (s *SQLiteStore) CreateTask(ctx context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.Status == "" {
		t.Status = TaskOpen
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, objective, type, status, created_branch, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, t.Objective, nullString(t.Type), string(t.Status), t.CreatedBranch, t.CreatedAt.UnixMilli())
	return err
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var t Task
	var typ sql.NullString
	var status string
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, objective, type, status, created_branch, created_at FROM tasks WHERE id = ?
	`, id).Scan(&t.ID, &t.Objective, &typ, &status, &t.CreatedBranch, &createdAt)
	if err != nil {
		return nil, err
	}
	t.Type = typ.String
	t.Status = TaskStatus(status)
	t.CreatedAt = fromMillis(createdAt)
	return &t, nil
}

func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, id string, status TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ?`, string(status), id)
	return err
}

func (s *SQLiteStore) CreateTaskAgent(ctx context.Context, ta *TaskAgent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ta.JoinedAt.IsZero() {
		ta.JoinedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_agents (task_id, agent_id, assigned_branch, role, joined_at, left_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ta.TaskID, ta.AgentID, ta.AssignedBranch, nullString(ta.Role), ta.JoinedAt.UnixMilli(), nullTimeMillis(ta.LeftAt))
	return err
}

func (s *SQLiteStore) ListTaskAgents(ctx context.Context, taskID string) ([]*TaskAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, agent_id, assigned_branch, role, joined_at, left_at FROM task_agents WHERE task_id = ?
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TaskAgent
	for rows.Next() {
		var ta TaskAgent
		var role sql.NullString
		var joinedAt int64
		var leftAt sql.NullInt64
		if err := rows.Scan(&ta.TaskID, &ta.AgentID, &ta.AssignedBranch, &role, &joinedAt, &leftAt); err != nil {
			return nil, err
		}
		ta.Role = role.String
		ta.JoinedAt = fromMillis(joinedAt)
		if leftAt.Valid {
			t := fromMillis(leftAt.Int64)
			ta.LeftAt = &t
		}
		out = append(out, &ta)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------
// Snapshots / merge history / scores / templates
// ---------------------------------------------------------------------

func (s *SQLiteStore) CreateSnapshot(ctx context.Context, sn *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sn.CapturedAt.IsZero() {
		sn.CapturedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, branch_name, label, captured_at, native, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sn.ID, sn.BranchName, nullString(sn.Label), sn.CapturedAt.UnixMilli(), boolToInt(sn.Native), sn.Payload)
	return err
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sn Snapshot
	var label sql.NullString
	var capturedAt int64
	var native int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, branch_name, label, captured_at, native, payload FROM snapshots WHERE id = ?
	`, id).Scan(&sn.ID, &sn.BranchName, &label, &capturedAt, &native, &sn.Payload)
	if err != nil {
		return nil, err
	}
	sn.Label = label.String
	sn.CapturedAt = fromMillis(capturedAt)
	sn.Native = native != 0
	return &sn, nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, branch string) ([]*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_name, label, captured_at, native, payload FROM snapshots WHERE branch_name = ? ORDER BY captured_at DESC
	`, branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		var sn Snapshot
		var label sql.NullString
		var capturedAt int64
		var native int
		if err := rows.Scan(&sn.ID, &sn.BranchName, &label, &capturedAt, &native, &sn.Payload); err != nil {
			return nil, err
		}
		sn.Label = label.String
		sn.CapturedAt = fromMillis(capturedAt)
		sn.Native = native != 0
		out = append(out, &sn)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateMergeHistory(ctx context.Context, mh *MergeHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mh.CreatedAt.IsZero() {
		mh.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO merge_history (id, source_branch, target_branch, strategy, items_merged, items_rejected,
			conflict_resolution, merged_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, mh.ID, mh.SourceBranch, mh.TargetBranch, mh.Strategy, marshalJSON(mh.ItemsMerged),
		marshalJSON(mh.ItemsRejected), nullString(mh.ConflictResolution), mh.MergedBy, mh.CreatedAt.UnixMilli())
	return err
}

func (s *SQLiteStore) CreateScore(ctx context.Context, sc *Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scores (id, target_type, target_id, scorer, dimension, value, explanation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sc.ID, sc.TargetType, sc.TargetID, nullString(sc.Scorer), sc.Dimension, sc.Value,
		nullString(sc.Explanation), sc.CreatedAt.UnixMilli())
	return err
}

func (s *SQLiteStore) ListScores(ctx context.Context, targetType, targetID string) ([]*Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target_type, target_id, scorer, dimension, value, explanation, created_at
		FROM scores WHERE target_type = ? AND target_id = ?
	`, targetType, targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Score
	for rows.Next() {
		var sc Score
		var scorer, explanation sql.NullString
		var createdAt int64
		if err := rows.Scan(&sc.ID, &sc.TargetType, &sc.TargetID, &scorer, &sc.Dimension, &sc.Value, &explanation, &createdAt); err != nil {
			return nil, err
		}
		sc.Scorer = scorer.String
		sc.Explanation = explanation.String
		sc.CreatedAt = fromMillis(createdAt)
		out = append(out, &sc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateTemplate(ctx context.Context, t *TemplateBranch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Version == 0 {
		t.Version = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO template_branches (name, source_branch, version, applicable_task_types, tags, description)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.Name, t.SourceBranch, t.Version, marshalJSON(t.ApplicableTaskTypes), marshalJSON(t.Tags), nullString(t.Description))
	return err
}

func (s *SQLiteStore) GetTemplate(ctx context.Context, name string) (*TemplateBranch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var t TemplateBranch
	var tags, taskTypes, desc sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT name, source_branch, version, applicable_task_types, tags, description FROM template_branches WHERE name = ?
	`, name).Scan(&t.Name, &t.SourceBranch, &t.Version, &taskTypes, &tags, &desc)
	if err != nil {
		return nil, err
	}
	unmarshalJSON(taskTypes.String, &t.ApplicableTaskTypes)
	unmarshalJSON(tags.String, &t.Tags)
	t.Description = desc.String
	return &t, nil
}

func (s *SQLiteStore) BumpTemplateVersion(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE template_branches SET version = version + 1 WHERE name = ?`, name)
	return err
}

// ---------------------------------------------------------------------
// Replays
// ---------------------------------------------------------------------

func (s *SQLiteStore) CreateReplay(ctx context.Context, r *Replay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = ReplayPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO replays (id, original_conv_id, new_conversation_id, pivot_message_id, system_prompt,
			model, temperature, max_tokens, tool_filter, extra_context, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.OriginalConvID, r.NewConversationID, r.PivotMessageID, nullString(r.SystemPrompt),
		nullString(r.Model), r.Temperature, r.MaxTokens, marshalJSON(r.ToolFilter), nullString(r.ExtraContext),
		string(r.Status), r.CreatedAt.UnixMilli())
	return err
}

func (s *SQLiteStore) GetReplay(ctx context.Context, id string) (*Replay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var r Replay
	var systemPrompt, model, toolFilter, extraContext sql.NullString
	var status string
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, original_conv_id, new_conversation_id, pivot_message_id, system_prompt, model,
			temperature, max_tokens, tool_filter, extra_context, status, created_at
		FROM replays WHERE id = ?
	`, id).Scan(&r.ID, &r.OriginalConvID, &r.NewConversationID, &r.PivotMessageID, &systemPrompt, &model,
		&r.Temperature, &r.MaxTokens, &toolFilter, &extraContext, &status, &createdAt)
	if err != nil {
		return nil, err
	}
	r.SystemPrompt = systemPrompt.String
	r.Model = model.String
	unmarshalJSON(toolFilter.String, &r.ToolFilter)
	r.ExtraContext = extraContext.String
	r.Status = ReplayStatus(status)
	r.CreatedAt = fromMillis(createdAt)
	return &r, nil
}

func (s *SQLiteStore) UpdateReplayStatus(ctx context.Context, id string, status ReplayStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE replays SET status = ? WHERE id = ?`, string(status), id)
	return err
}

// ---------------------------------------------------------------------
// Point-in-time read
// ---------------------------------------------------------------------

func (s *SQLiteStore) ReadAsOf(ctx context.Context, table, branch string, asOf time.Time) ([]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ts := asOf.UnixMilli()
	var query string
	switch table {
	case "facts":
		query = `SELECT ` + factCols + ` FROM facts WHERE branch_name = ? AND created_at <= ?
			AND (superseded_at IS NULL OR superseded_at > ?) AND (invalidated_at IS NULL OR invalidated_at > ?)`
	case "relations":
		query = `SELECT ` + relationCols + ` FROM relations WHERE branch_name = ? AND valid_from <= ?
			AND (valid_to IS NULL OR valid_to > ?)`
	case "observations", "conversations", "messages":
		query = `SELECT * FROM ` + table + ` WHERE branch_name = ? AND created_at <= ?`
	default:
		return nil, fmt.Errorf("storage: unknown table %q", table)
	}

	var rows *sql.Rows
	var err error
	switch table {
	case "facts":
		rows, err = s.db.QueryContext(ctx, query, branch, ts, ts, ts)
	case "relations":
		rows, err = s.db.QueryContext(ctx, query, branch, ts, ts)
	default:
		rows, err = s.db.QueryContext(ctx, query, branch, ts)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------
// Full-text and vector search
// ---------------------------------------------------------------------

// textFieldFor picks the text column keyword search targets for a table,
// matching §4.7's keyword-mode description ("fact_text, or summary/content").
func textFieldFor(table string) string {
	switch table {
	case "facts":
		return "fact_text"
	case "observations":
		return "summary"
	case "messages":
		return "content"
	default:
		return "content"
	}
}

// FulltextSearch computes BM25 over an in-process inverted index built from
// a table scan: the substrate here has no native FTS5 module compiled in,
// so this is the substrate's own implementation of the capability (not a
// degraded fallback — the result shape is identical either way).
func (s *SQLiteStore) FulltextSearch(ctx context.Context, table, field, query string, filters SearchFilters, limit int) ([]ScoredID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs, err := s.scanTextDocs(ctx, table, field, filters)
	if err != nil {
		return nil, err
	}
	return bm25Rank(docs, query, limit), nil
}

type textDoc struct {
	ID   string
	Text string
}

func (s *SQLiteStore) scanTextDocs(ctx context.Context, table, field string, filters SearchFilters) ([]textDoc, error) {
	query := fmt.Sprintf(`SELECT id, %s FROM %s WHERE branch_name = ?`, field, table)
	args := []any{filters.BranchName}

	if filters.Status != "" && (table == "facts") {
		query += ` AND status = ?`
		args = append(args, filters.Status)
	}
	if filters.Category != "" && table == "facts" {
		query += ` AND category = ?`
		args = append(args, filters.Category)
	}
	if filters.After != nil {
		query += ` AND created_at >= ?`
		args = append(args, filters.After.UnixMilli())
	}
	if filters.Before != nil {
		query += ` AND created_at <= ?`
		args = append(args, filters.Before.UnixMilli())
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []textDoc
	for rows.Next() {
		var d textDoc
		var text sql.NullString
		if err := rows.Scan(&d.ID, &text); err != nil {
			return nil, err
		}
		d.Text = text.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// bm25Rank scores docs against query using the classic Robertson/Sparck
// Jones BM25 formula (k1=1.2, b=0.75), tokenizing with internal/tokenize.
func bm25Rank(docs []textDoc, query string, limit int) []ScoredID {
	qTerms := tokenize.Words(query)
	if len(qTerms) == 0 || len(docs) == 0 {
		return nil
	}

	const k1 = 1.2
	const b = 0.75

	docTerms := make([][]string, len(docs))
	df := make(map[string]int)
	totalLen := 0
	for i, d := range docs {
		terms := tokenize.Words(d.Text)
		docTerms[i] = terms
		totalLen += len(terms)
		seen := make(map[string]bool)
		for _, t := range terms {
			if !seen[t] {
				df[t]++
				seen[t] = true
			}
		}
	}
	avgLen := float64(totalLen) / float64(len(docs))
	if avgLen == 0 {
		avgLen = 1
	}
	n := float64(len(docs))

	out := make([]ScoredID, 0, len(docs))
	for i, d := range docs {
		terms := docTerms[i]
		tf := make(map[string]int, len(terms))
		for _, t := range terms {
			tf[t]++
		}
		dl := float64(len(terms))
		score := 0.0
		for _, qt := range qTerms {
			f := float64(tf[qt])
			if f == 0 {
				continue
			}
			idf := math.Log(1 + (n-float64(df[qt])+0.5)/(float64(df[qt])+0.5))
			score += idf * (f * (k1 + 1)) / (f + k1*(1-b+b*dl/avgLen))
		}
		if score > 0 {
			out = append(out, ScoredID{ID: d.ID, Score: score})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// VectorSearch computes cosine similarity over embeddings fetched with a
// table scan of the branch's non-null embedding column. Every call takes
// this path; no vec0 virtual table is created or queried.
func (s *SQLiteStore) VectorSearch(ctx context.Context, table, field string, queryVec []float32, filters SearchFilters, k int) ([]ScoredID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(queryVec) == 0 {
		return nil, nil
	}

	embeddingField := "embedding"
	query := fmt.Sprintf(`SELECT id, %s FROM %s WHERE branch_name = ? AND %s IS NOT NULL`, embeddingField, table, embeddingField)
	args := []any{filters.BranchName}
	if filters.Status != "" && table == "facts" {
		query += ` AND status = ?`
		args = append(args, filters.Status)
	}
	if filters.Category != "" && table == "facts" {
		query += ` AND category = ?`
		args = append(args, filters.Category)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScoredID
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		vec := blobToEmbedding(blob)
		if len(vec) != len(queryVec) {
			continue
		}
		out = append(out, ScoredID{ID: id, Score: cosineSimilarity(vec, queryVec)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, rows.Err()
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// RecentByBranch returns the newest rows first; each ScoredID's Score is the
// row's created_at in Unix milliseconds.
func (s *SQLiteStore) RecentByBranch(ctx context.Context, table, branch, category string, limit int) ([]ScoredID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf(`SELECT id, created_at FROM %s WHERE branch_name = ?`, table)
	args := []any{branch}
	if table == "facts" {
		query += ` AND status = ?`
		args = append(args, string(FactActive))
	}
	if category != "" && table == "facts" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScoredID
	for rows.Next() {
		var id string
		var createdAt int64
		if err := rows.Scan(&id, &createdAt); err != nil {
			return nil, err
		}
		out = append(out, ScoredID{ID: id, Score: float64(createdAt)})
	}
	return out, rows.Err()
}

var _ Store = (*SQLiteStore)(nil)
