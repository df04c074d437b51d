// Package sqlstore is the default asyncmgr.Store: a single "tasks" table
// over database/sql, using modernc.org/sqlite (pure Go, no cgo) so the
// gateway never needs a C toolchain to persist task state (spec.md §6
// schema). Status transitions are optimistic: every UPDATE carries a
// WHERE status = ? clause matching the caller's expected prior status.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/relaygate/core/asyncmgr"
	"github.com/relaygate/core/gatewayerr"
	"github.com/relaygate/core/llm"
	"github.com/relaygate/core/message"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id      TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	config       TEXT NOT NULL,
	created_ts   REAL NOT NULL,
	started_ts   REAL,
	completed_ts REAL,
	result       TEXT,
	error        TEXT,
	progress     TEXT
);
CREATE INDEX IF NOT EXISTS tasks_status_idx ON tasks(status);
CREATE INDEX IF NOT EXISTS tasks_created_ts_idx ON tasks(created_ts);
`

// Store is a database/sql-backed asyncmgr.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a sqlite database at path and ensures
// the tasks table exists. path may be ":memory:" for ephemeral use.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tasks schema: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already-open *sql.DB (used by tests with go-sqlmock).
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Insert(ctx context.Context, t asyncmgr.Task) error {
	configJSON, err := json.Marshal(t.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (task_id, status, config, created_ts, progress) VALUES (?, ?, ?, ?, ?)`,
		t.ID, string(t.Status), string(configJSON), float64(t.CreatedAt.Unix()), t.Progress,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (asyncmgr.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT task_id, status, config, created_ts, started_ts, completed_ts, result, error, progress FROM tasks WHERE task_id = ?`, id)
	return scanTask(row)
}

func (s *Store) UpdateStatus(ctx context.Context, id string, expectedStatus, newStatus asyncmgr.Status, mutate asyncmgr.Mutator) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Status != expectedStatus {
		return &asyncmgr.ErrStaleStatus{ID: id, Expected: expectedStatus, Actual: t.Status}
	}
	t.Status = newStatus
	if mutate != nil {
		mutate(&t)
	}

	resultJSON, err := marshalNullable(t.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	errJSON, err := marshalNullable(t.Err)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, started_ts = ?, completed_ts = ?, result = ?, error = ?, progress = ? WHERE task_id = ? AND status = ?`,
		string(newStatus), nullableTime(t.StartedAt), nullableTime(t.CompletedAt), resultJSON, errJSON, t.Progress, id, string(expectedStatus),
	)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		cur, gerr := s.Get(ctx, id)
		if gerr != nil {
			return gerr
		}
		return &asyncmgr.ErrStaleStatus{ID: id, Expected: expectedStatus, Actual: cur.Status}
	}
	return nil
}

func (s *Store) ListByStatus(ctx context.Context, statuses ...asyncmgr.Status) ([]asyncmgr.Task, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]any, len(statuses))
	query := "SELECT task_id, status, config, created_ts, started_ts, completed_ts, result, error, progress FROM tasks WHERE status IN ("
	for i, st := range statuses {
		if i > 0 {
			query += ", "
		}
		query += "?"
		placeholders[i] = string(st)
	}
	query += ")"

	rows, err := s.db.QueryContext(ctx, query, placeholders...)
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	defer rows.Close()

	var out []asyncmgr.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (asyncmgr.Task, error) {
	var (
		id, status, configJSON string
		createdTS              float64
		startedTS, completedTS sql.NullFloat64
		resultJSON, errJSON    sql.NullString
		progress               sql.NullString
	)
	if err := row.Scan(&id, &status, &configJSON, &createdTS, &startedTS, &completedTS, &resultJSON, &errJSON, &progress); err != nil {
		if err == sql.ErrNoRows {
			return asyncmgr.Task{}, &asyncmgr.ErrNotFound{ID: id}
		}
		return asyncmgr.Task{}, fmt.Errorf("scan task row: %w", err)
	}

	var cfg message.CallConfig
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return asyncmgr.Task{}, fmt.Errorf("unmarshal config: %w", err)
	}

	t := asyncmgr.Task{
		ID:        id,
		Status:    asyncmgr.Status(status),
		Config:    cfg,
		CreatedAt: time.Unix(int64(createdTS), 0),
		Progress:  progress.String,
	}
	if startedTS.Valid {
		st := time.Unix(int64(startedTS.Float64), 0)
		t.StartedAt = &st
	}
	if completedTS.Valid {
		ct := time.Unix(int64(completedTS.Float64), 0)
		t.CompletedAt = &ct
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var r llm.Response
		if err := json.Unmarshal([]byte(resultJSON.String), &r); err != nil {
			return asyncmgr.Task{}, fmt.Errorf("unmarshal result: %w", err)
		}
		t.Result = &r
	}
	if errJSON.Valid && errJSON.String != "" {
		var ge storedError
		if err := json.Unmarshal([]byte(errJSON.String), &ge); err != nil {
			return asyncmgr.Task{}, fmt.Errorf("unmarshal error: %w", err)
		}
		t.Err = ge.toGatewayErr()
	}
	return t, nil
}

// storedError is the JSON-friendly projection of *gatewayerr.Error: the
// real type's Cause is an error interface, not itself serializable.
type storedError struct {
	Kind       gatewayerr.Kind              `json:"kind"`
	Message    string                       `json:"message"`
	Attempts   []gatewayerr.AttemptSummary  `json:"attempts,omitempty"`
	Diagnostic *gatewayerr.DiagnosticReport `json:"diagnostic,omitempty"`
	CauseText  string                       `json:"cause,omitempty"`
}

func (s storedError) toGatewayErr() *gatewayerr.Error {
	ge := &gatewayerr.Error{Kind: s.Kind, Message: s.Message, Attempts: s.Attempts, Diagnostic: s.Diagnostic}
	if s.CauseText != "" {
		ge.Cause = fmt.Errorf("%s", s.CauseText)
	}
	return ge
}

func marshalNullable(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case *llm.Response:
		if t == nil {
			return nil, nil
		}
		b, err := json.Marshal(t)
		return string(b), err
	case *gatewayerr.Error:
		if t == nil {
			return nil, nil
		}
		se := storedError{Kind: t.Kind, Message: t.Message, Attempts: t.Attempts, Diagnostic: t.Diagnostic}
		if t.Cause != nil {
			se.CauseText = t.Cause.Error()
		}
		b, err := json.Marshal(se)
		return string(b), err
	default:
		return nil, fmt.Errorf("unsupported nullable type %T", v)
	}
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return float64(t.Unix())
}
