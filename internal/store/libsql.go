package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/heliossim/helios/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and applies
// pending migrations. The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(ctx context.Context, dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

func (s *LibSQLStore) CreateRun(ctx context.Context, run *Run) error {
	started := run.StartedAt
	if started.IsZero() {
		started = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, workflow, status, error, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Workflow, run.Status, nullStr(run.Error), started,
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "create run: %s", err.Error()).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) FinishRun(ctx context.Context, id, status, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, nullStr(errMsg), id,
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "finish run: %s", err.Error()).WithCause(err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run %s not found", id)
	}
	return nil
}

func (s *LibSQLStore) RecordElement(ctx context.Context, rec *ElementRecord) error {
	produced, err := json.Marshal(rec.Produced)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "marshal produced list: %s", err.Error()).WithCause(err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO element_records (run_id, name, type, content_hash, produced, duration_ms, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, name) DO UPDATE SET
		   content_hash=excluded.content_hash, produced=excluded.produced,
		   duration_ms=excluded.duration_ms, status=excluded.status`,
		rec.RunID, rec.Name, rec.Type, nullStr(rec.ContentHash), string(produced), rec.DurationMs, rec.Status,
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "record element: %s", err.Error()).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{}
	var errMsg sql.NullString
	var completed sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workflow, status, error, started_at, completed_at FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.Workflow, &run.Status, &errMsg, &run.StartedAt, &completed)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %s not found", id)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "get run: %s", err.Error()).WithCause(err)
	}
	run.Error = errMsg.String
	if completed.Valid {
		run.CompletedAt = &completed.Time
	}
	return run, nil
}

func (s *LibSQLStore) ListElements(ctx context.Context, runID string) ([]ElementRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, name, type, content_hash, produced, duration_ms, status
		 FROM element_records WHERE run_id = ? ORDER BY name`, runID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list elements: %s", err.Error()).WithCause(err)
	}
	defer rows.Close()

	var records []ElementRecord
	for rows.Next() {
		var rec ElementRecord
		var hash sql.NullString
		var produced string
		if err := rows.Scan(&rec.RunID, &rec.Name, &rec.Type, &hash, &produced, &rec.DurationMs, &rec.Status); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "scan element record: %s", err.Error()).WithCause(err)
		}
		rec.ContentHash = hash.String
		if produced != "" {
			_ = json.Unmarshal([]byte(produced), &rec.Produced)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list elements: %s", err.Error()).WithCause(err)
	}
	return records, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*LibSQLStore)(nil)
