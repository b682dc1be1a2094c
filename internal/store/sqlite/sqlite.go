package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/warden-dev/warden/internal/service"
	"github.com/warden-dev/warden/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// path is a filesystem path to the database file; use ":memory:" for tests.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS services(
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			command TEXT NOT NULL,
			work_dir TEXT NOT NULL DEFAULT '',
			env TEXT NOT NULL DEFAULT '[]',
			state TEXT NOT NULL,
			pid INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMP NULL,
			restart_count INTEGER NOT NULL DEFAULT 0,
			auto_restart BOOLEAN NOT NULL DEFAULT 0,
			last_exit_code INTEGER NOT NULL DEFAULT -1,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_services_name ON services(name);`,
		`CREATE INDEX IF NOT EXISTS idx_services_state ON services(state);`,
		`CREATE TABLE IF NOT EXISTS service_events(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			exit_code INTEGER NOT NULL DEFAULT -1,
			restart INTEGER NOT NULL DEFAULT 0,
			detail TEXT NOT NULL DEFAULT '',
			at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_service_events_service ON service_events(service_id);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) PutRecord(ctx context.Context, rec service.Record) error {
	cmdJSON, err := json.Marshal(rec.Command)
	if err != nil {
		return err
	}
	envJSON, err := json.Marshal(rec.Env)
	if err != nil {
		return err
	}
	var startedAt any
	if !rec.StartedAt.IsZero() {
		startedAt = rec.StartedAt.UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO services(id, name, command, work_dir, env, state, pid, started_at, restart_count, auto_restart, last_exit_code, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			command=excluded.command,
			work_dir=excluded.work_dir,
			env=excluded.env,
			state=excluded.state,
			pid=excluded.pid,
			started_at=excluded.started_at,
			restart_count=excluded.restart_count,
			auto_restart=excluded.auto_restart,
			last_exit_code=excluded.last_exit_code,
			updated_at=excluded.updated_at;`,
		rec.ID, rec.Name, string(cmdJSON), rec.WorkDir, string(envJSON), string(rec.State),
		rec.PID, startedAt, rec.RestartCount, rec.AutoRestart, rec.LastExitCode,
		rec.CreatedAt.UTC(), time.Now().UTC())
	return err
}

func (s *DB) GetRecord(ctx context.Context, id string) (service.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, command, work_dir, env, state, pid, started_at, restart_count, auto_restart, last_exit_code, created_at, updated_at
		FROM services WHERE id=?;`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return service.Record{}, store.ErrNotFound
	}
	return rec, err
}

func (s *DB) ListRecords(ctx context.Context) ([]service.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, command, work_dir, env, state, pid, started_at, restart_count, auto_restart, last_exit_code, created_at, updated_at
		FROM services ORDER BY created_at, id;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]service.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *DB) DeleteRecord(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM services WHERE id=?;`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *DB) AppendEvent(ctx context.Context, e store.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_events(service_id, kind, exit_code, restart, detail, at)
		VALUES(?, ?, ?, ?, ?, ?);`,
		e.ServiceID, e.Kind, e.ExitCode, e.Restart, e.Detail, e.At.UTC())
	return err
}

func (s *DB) Events(ctx context.Context, serviceID string, limit int) ([]store.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, service_id, kind, exit_code, restart, detail, at
		FROM service_events WHERE service_id=? ORDER BY id DESC LIMIT ?;`, serviceID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.Event, 0)
	for rows.Next() {
		var e store.Event
		if err := rows.Scan(&e.ID, &e.ServiceID, &e.Kind, &e.ExitCode, &e.Restart, &e.Detail, &e.At); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *DB) DeleteEvents(ctx context.Context, serviceID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM service_events WHERE service_id=?;`, serviceID)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (service.Record, error) {
	var rec service.Record
	var cmdJSON, envJSON, state string
	var startedAt sql.NullTime
	if err := row.Scan(&rec.ID, &rec.Name, &cmdJSON, &rec.WorkDir, &envJSON, &state, &rec.PID,
		&startedAt, &rec.RestartCount, &rec.AutoRestart, &rec.LastExitCode, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return service.Record{}, err
	}
	// Unknown states or malformed JSON from a newer supervisor are tolerated:
	// the fields decode to zero values and the rest of the record survives.
	_ = json.Unmarshal([]byte(cmdJSON), &rec.Command)
	_ = json.Unmarshal([]byte(envJSON), &rec.Env)
	rec.State = service.State(state)
	if startedAt.Valid {
		rec.StartedAt = startedAt.Time
	}
	return rec, nil
}
