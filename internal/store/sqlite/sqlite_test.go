package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-dev/warden/internal/service"
	"github.com/warden-dev/warden/internal/store"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	require.NoError(t, db.EnsureSchema(context.Background()))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleRecord(name string) service.Record {
	rec := service.NewRecord(service.Spec{
		Name:    name,
		Command: []string{"/usr/bin/python3", "app.py", "--port=8080"},
		WorkDir: "/srv/app",
		Env:     []string{"PORT=8080", "DEBUG=1"},
	})
	return rec
}

func TestPutGetRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec := sampleRecord("web")
	rec.State = service.StateRunning
	rec.PID = 4242
	rec.StartedAt = time.Now().UTC().Truncate(time.Second)
	require.NoError(t, db.PutRecord(ctx, rec))

	got, err := db.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "web", got.Name)
	assert.Equal(t, rec.Command, got.Command)
	assert.Equal(t, rec.Env, got.Env)
	assert.Equal(t, service.StateRunning, got.State)
	assert.Equal(t, 4242, got.PID)
	assert.False(t, got.StartedAt.IsZero())
	assert.Equal(t, -1, got.LastExitCode)
}

func TestPutUpdatesExisting(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec := sampleRecord("web")
	require.NoError(t, db.PutRecord(ctx, rec))

	rec.State = service.StateStopped
	rec.RestartCount = 3
	rec.LastExitCode = 1
	require.NoError(t, db.PutRecord(ctx, rec))

	got, err := db.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, service.StateStopped, got.State)
	assert.Equal(t, 3, got.RestartCount)
	assert.Equal(t, 1, got.LastExitCode)

	all, err := db.ListRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "upsert must not duplicate")
}

func TestGetMissingRecord(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetRecord(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteRecord(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec := sampleRecord("web")
	require.NoError(t, db.PutRecord(ctx, rec))
	require.NoError(t, db.DeleteRecord(ctx, rec.ID))
	_, err := db.GetRecord(ctx, rec.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, db.DeleteRecord(ctx, rec.ID), store.ErrNotFound)
}

func TestListRecords(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, db.PutRecord(ctx, sampleRecord(name)))
	}
	all, err := db.ListRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestEventsNewestFirstWithLimit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec := sampleRecord("web")
	require.NoError(t, db.PutRecord(ctx, rec))

	for i, kind := range []string{"start", "exit", "restart", "exit", "stop"} {
		require.NoError(t, db.AppendEvent(ctx, store.Event{
			ServiceID: rec.ID,
			Kind:      kind,
			ExitCode:  i,
			Restart:   i,
			At:        time.Now().UTC(),
		}))
	}

	evts, err := db.Events(ctx, rec.ID, 3)
	require.NoError(t, err)
	require.Len(t, evts, 3)
	assert.Equal(t, "stop", evts[0].Kind)
	assert.Equal(t, "exit", evts[1].Kind)
	assert.Equal(t, "restart", evts[2].Kind)

	all, err := db.Events(ctx, rec.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	other, err := db.Events(ctx, "other-service", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestDeleteEvents(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec := sampleRecord("web")
	require.NoError(t, db.PutRecord(ctx, rec))
	require.NoError(t, db.AppendEvent(ctx, store.Event{ServiceID: rec.ID, Kind: "start", At: time.Now().UTC()}))
	require.NoError(t, db.DeleteEvents(ctx, rec.ID))

	evts, err := db.Events(ctx, rec.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, evts)
}

func TestMalformedRowsAreTolerated(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.db.ExecContext(ctx, `
		INSERT INTO services(id, name, command, work_dir, env, state, pid, restart_count, auto_restart, last_exit_code, created_at, updated_at)
		VALUES('bad', 'bad', 'not-json', '', 'not-json', 'bogus-state', 0, 0, 0, -1, ?, ?);`,
		time.Now().UTC(), time.Now().UTC())
	require.NoError(t, err)

	got, err := db.GetRecord(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, "bad", got.ID)
	assert.Empty(t, got.Command)
}
