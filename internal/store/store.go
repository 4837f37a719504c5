// File: internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/balatro-agent/internal/agent"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("session not found")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists session transcripts in PostgreSQL. It implements
// agent.TranscriptSink.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ agent.TranscriptSink = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id               TEXT PRIMARY KEY,
    task             TEXT NOT NULL,
    variant          TEXT NOT NULL,
    success          BOOLEAN NOT NULL,
    reason           TEXT NOT NULL,
    iterations       INTEGER NOT NULL,
    description      TEXT NOT NULL,
    worker_reasoning TEXT NOT NULL DEFAULT '',
    tool_calls       INTEGER NOT NULL,
    final_state      JSONB NOT NULL DEFAULT '{}',
    started_at       TIMESTAMPTZ NOT NULL,
    ended_at         TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS session_descriptions (
    session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    seq         INTEGER NOT NULL,
    description TEXT NOT NULL,
    PRIMARY KEY (session_id, seq)
);
CREATE TABLE IF NOT EXISTS session_subtasks (
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    seq        INTEGER NOT NULL,
    action     TEXT NOT NULL,
    reasoning  TEXT NOT NULL,
    subtask    TEXT NOT NULL,
    summary    TEXT NOT NULL,
    malformed  BOOLEAN NOT NULL,
    PRIMARY KEY (session_id, seq)
);`

// EnsureSchema creates the transcript tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const (
	sqlUpsertSession = `
        INSERT INTO sessions (id, task, variant, success, reason, iterations, description, worker_reasoning, tool_calls, final_state, started_at, ended_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (id) DO UPDATE SET
            success = EXCLUDED.success,
            reason = EXCLUDED.reason,
            iterations = EXCLUDED.iterations,
            description = EXCLUDED.description,
            worker_reasoning = EXCLUDED.worker_reasoning,
            tool_calls = EXCLUDED.tool_calls,
            final_state = EXCLUDED.final_state,
            ended_at = EXCLUDED.ended_at;
    `
	sqlDeleteDescriptions = `DELETE FROM session_descriptions WHERE session_id = $1;`
	sqlDeleteSubtasks     = `DELETE FROM session_subtasks WHERE session_id = $1;`
	sqlInsertSubtask      = `
        INSERT INTO session_subtasks (session_id, seq, action, reasoning, subtask, summary, malformed)
        VALUES ($1, $2, $3, $4, $5, $6, $7);
    `
)

var descriptionColumns = []string{"session_id", "seq", "description"}

// SaveSession writes the result of a finished session, its recent screen
// descriptions and every planner decision in one transaction. Saving the
// same session again replaces the earlier transcript.
func (s *Store) SaveSession(ctx context.Context, sess *agent.Session) error {
	if sess.Result == nil {
		return fmt.Errorf("session %s has no result", sess.ID)
	}

	finalState := []byte("{}")
	if n := len(sess.GameStates); n > 0 {
		b, err := json.Marshal(sess.GameStates[n-1])
		if err != nil {
			return fmt.Errorf("failed to encode final game state: %w", err)
		}
		finalState = b
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	r := sess.Result
	ended := sess.EndedAt
	if ended.IsZero() {
		ended = time.Now()
	}
	if _, err := tx.Exec(ctx, sqlUpsertSession,
		sess.ID, sess.Task, string(sess.Variant),
		r.Success, string(r.Reason), r.Iterations, r.Description, r.WorkerReasoning,
		sess.ToolCalls, finalState,
		sess.StartedAt.UTC(), ended.UTC(),
	); err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	if err := s.replaceSubtasks(ctx, tx, sess); err != nil {
		return err
	}
	if err := s.copyDescriptions(ctx, tx, sess); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Session transcript saved.", zap.String("session_id", sess.ID), zap.Int("subtasks", len(sess.Subtasks)))
	return nil
}

func (s *Store) replaceSubtasks(ctx context.Context, tx pgx.Tx, sess *agent.Session) error {
	batch := &pgx.Batch{}
	batch.Queue(sqlDeleteDescriptions, sess.ID)
	batch.Queue(sqlDeleteSubtasks, sess.ID)
	for i, d := range sess.Subtasks {
		batch.Queue(sqlInsertSubtask, sess.ID, i, string(d.Action), d.Reasoning, d.Subtask, d.Summary, d.Malformed)
	}

	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return fmt.Errorf("failed to send batch: batch results is nil")
	}
	defer func() {
		_ = br.Close()
	}()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			if i < 2 {
				return fmt.Errorf("failed to clear previous transcript: %w", err)
			}
			return fmt.Errorf("failed to insert subtask %d: %w", i-2, err)
		}
	}
	return nil
}

func (s *Store) copyDescriptions(ctx context.Context, tx pgx.Tx, sess *agent.Session) error {
	if len(sess.Descriptions) == 0 {
		return nil
	}
	rows := make([][]interface{}, len(sess.Descriptions))
	for i, d := range sess.Descriptions {
		rows[i] = []interface{}{sess.ID, i, d}
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"session_descriptions"}, descriptionColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy descriptions: %w", err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("mismatch in copied descriptions count: expected %d, got %d", len(rows), n)
	}
	return nil
}

// SessionRecord is a stored transcript.
type SessionRecord struct {
	ID              string                  `json:"id"`
	Task            string                  `json:"task"`
	Variant         string                  `json:"variant"`
	Success         bool                    `json:"success"`
	Reason          string                  `json:"reason"`
	Iterations      int                     `json:"iterations"`
	Description     string                  `json:"description"`
	WorkerReasoning string                  `json:"worker_reasoning,omitempty"`
	ToolCalls       int                     `json:"tool_calls"`
	StartedAt       time.Time               `json:"started_at"`
	EndedAt         time.Time               `json:"ended_at"`
	Descriptions    []string                `json:"descriptions,omitempty"`
	Subtasks        []agent.PlannerDecision `json:"subtasks,omitempty"`
}

const sessionColumns = `id, task, variant, success, reason, iterations, description, worker_reasoning, tool_calls, started_at, ended_at`

func scanSession(rows pgx.Rows) (SessionRecord, error) {
	var rec SessionRecord
	err := rows.Scan(&rec.ID, &rec.Task, &rec.Variant, &rec.Success, &rec.Reason, &rec.Iterations,
		&rec.Description, &rec.WorkerReasoning, &rec.ToolCalls, &rec.StartedAt, &rec.EndedAt)
	return rec, err
}

// ListSessions returns the most recent sessions, newest first, without their
// descriptions or subtasks.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC LIMIT $1;`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// GetSession loads one transcript with its descriptions and subtasks.
func (s *Store) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1;`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	var rec SessionRecord
	found := false
	for rows.Next() {
		if rec, err = scanSession(rows); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		found = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if rec.Descriptions, err = s.descriptions(ctx, id); err != nil {
		return nil, err
	}
	if rec.Subtasks, err = s.subtasks(ctx, id); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) descriptions(ctx context.Context, id string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT description FROM session_descriptions WHERE session_id = $1 ORDER BY seq ASC;`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query descriptions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan description row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) subtasks(ctx context.Context, id string) ([]agent.PlannerDecision, error) {
	rows, err := s.pool.Query(ctx, `SELECT action, reasoning, subtask, summary, malformed FROM session_subtasks WHERE session_id = $1 ORDER BY seq ASC;`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query subtasks: %w", err)
	}
	defer rows.Close()

	var out []agent.PlannerDecision
	for rows.Next() {
		var d agent.PlannerDecision
		var action string
		if err := rows.Scan(&action, &d.Reasoning, &d.Subtask, &d.Summary, &d.Malformed); err != nil {
			return nil, fmt.Errorf("failed to scan subtask row: %w", err)
		}
		d.Action = agent.DecisionAction(action)
		out = append(out, d)
	}
	return out, rows.Err()
}
