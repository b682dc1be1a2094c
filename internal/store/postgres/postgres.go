package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/warden-dev/warden/internal/service"
	"github.com/warden-dev/warden/internal/store"
)

// DB implements store.Store for PostgreSQL via the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS services(
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			command TEXT NOT NULL,
			work_dir TEXT NOT NULL DEFAULT '',
			env TEXT NOT NULL DEFAULT '[]',
			state TEXT NOT NULL,
			pid INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMPTZ NULL,
			restart_count INTEGER NOT NULL DEFAULT 0,
			auto_restart BOOLEAN NOT NULL DEFAULT FALSE,
			last_exit_code INTEGER NOT NULL DEFAULT -1,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_services_name ON services(name);`,
		`CREATE INDEX IF NOT EXISTS idx_services_state ON services(state);`,
		`CREATE TABLE IF NOT EXISTS service_events(
			id BIGSERIAL PRIMARY KEY,
			service_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			exit_code INTEGER NOT NULL DEFAULT -1,
			restart INTEGER NOT NULL DEFAULT 0,
			detail TEXT NOT NULL DEFAULT '',
			at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_service_events_service ON service_events(service_id);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) PutRecord(ctx context.Context, rec service.Record) error {
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
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO services(id, name, command, work_dir, env, state, pid, started_at, restart_count, auto_restart, last_exit_code, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT(id) DO UPDATE SET
			name=EXCLUDED.name,
			command=EXCLUDED.command,
			work_dir=EXCLUDED.work_dir,
			env=EXCLUDED.env,
			state=EXCLUDED.state,
			pid=EXCLUDED.pid,
			started_at=EXCLUDED.started_at,
			restart_count=EXCLUDED.restart_count,
			auto_restart=EXCLUDED.auto_restart,
			last_exit_code=EXCLUDED.last_exit_code,
			updated_at=EXCLUDED.updated_at;`,
		rec.ID, rec.Name, string(cmdJSON), rec.WorkDir, string(envJSON), string(rec.State),
		rec.PID, startedAt, rec.RestartCount, rec.AutoRestart, rec.LastExitCode,
		rec.CreatedAt.UTC(), time.Now().UTC())
	return err
}

func (p *DB) GetRecord(ctx context.Context, id string) (service.Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, command, work_dir, env, state, pid, started_at, restart_count, auto_restart, last_exit_code, created_at, updated_at
		FROM services WHERE id=$1;`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return service.Record{}, store.ErrNotFound
	}
	return rec, err
}

func (p *DB) ListRecords(ctx context.Context) ([]service.Record, error) {
	rows, err := p.db.QueryContext(ctx, `
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

func (p *DB) DeleteRecord(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM services WHERE id=$1;`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (p *DB) AppendEvent(ctx context.Context, e store.Event) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO service_events(service_id, kind, exit_code, restart, detail, at)
		VALUES($1,$2,$3,$4,$5,$6);`,
		e.ServiceID, e.Kind, e.ExitCode, e.Restart, e.Detail, e.At.UTC())
	return err
}

func (p *DB) Events(ctx context.Context, serviceID string, limit int) ([]store.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, service_id, kind, exit_code, restart, detail, at
		FROM service_events WHERE service_id=$1 ORDER BY id DESC LIMIT $2;`, serviceID, limit)
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

func (p *DB) DeleteEvents(ctx context.Context, serviceID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM service_events WHERE service_id=$1;`, serviceID)
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
	_ = json.Unmarshal([]byte(cmdJSON), &rec.Command)
	_ = json.Unmarshal([]byte(envJSON), &rec.Env)
	rec.State = service.State(state)
	if startedAt.Valid {
		rec.StartedAt = startedAt.Time
	}
	return rec, nil
}
