package warden

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires unix process semantics")
	}
}

func TestEmbeddedSupervisorLifecycle(t *testing.T) {
	requireUnix(t)
	sup, err := New(Options{DataDir: t.TempDir(), GracePeriod: 2 * time.Second})
	require.NoError(t, err)
	ctx := context.Background()

	rec, err := sup.Start(ctx, Spec{
		Name:    "embedded",
		Command: []string{"/bin/sleep", "30"},
	})
	require.NoError(t, err)
	assert.Equal(t, State("running"), rec.State)

	st, err := sup.Status(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, st.Alive)

	all := sup.List(ctx)
	require.Len(t, all, 1)

	require.NoError(t, sup.Stop(ctx, rec.ID, 2*time.Second))
	evts, err := sup.Events(ctx, rec.ID, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, evts)

	require.NoError(t, sup.Purge(ctx, rec.ID))
	_, err = sup.Status(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, sup.Shutdown(ctx))
}

func TestReconcileAcrossRestarts(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()

	first, err := New(Options{DataDir: dir})
	require.NoError(t, err)
	ctx := context.Background()
	rec, err := first.Start(ctx, Spec{Name: "durable", Command: []string{"/bin/sleep", "30"}})
	require.NoError(t, err)
	require.NoError(t, first.Shutdown(ctx))

	// a new supervisor over the same data dir adopts the record as stopped
	second, err := New(Options{DataDir: dir})
	require.NoError(t, err)
	require.NoError(t, second.Reconcile(ctx))
	st, err := second.Status(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, State("stopped"), st.State)
	assert.False(t, st.Alive)
}

func TestHandlerMountsControlSurface(t *testing.T) {
	sup, err := New(Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	srv := httptest.NewServer(sup.Handler("/api"))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/services")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOpenStoreSQLite(t *testing.T) {
	st, err := OpenStore(t.TempDir() + "/s.db")
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	require.NoError(t, st.EnsureSchema(context.Background()))
}
