package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-dev/warden/internal/service"
	"github.com/warden-dev/warden/internal/store/sqlite"
	"github.com/warden-dev/warden/internal/supervisor"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires unix process semantics")
	}
}

func newTestHandler(t *testing.T) (http.Handler, *supervisor.Supervisor) {
	t.Helper()
	st, err := sqlite.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, st.EnsureSchema(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	sup := supervisor.New(supervisor.Options{
		Store:       st,
		Launcher:    &service.Launcher{},
		GracePeriod: 2 * time.Second,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(func() { _ = sup.Shutdown(context.Background()) })
	return NewRouter(sup, "/api").Handler(), sup
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestStartAndListServices(t *testing.T) {
	requireUnix(t)
	h, _ := newTestHandler(t)

	w := doJSON(t, h, http.MethodPost, "/api/services", service.Spec{
		Name:    "web",
		Command: []string{"/bin/sleep", "30"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var rec service.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, service.StateRunning, rec.State)
	assert.NotZero(t, rec.PID)

	w = doJSON(t, h, http.MethodGet, "/api/services", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []supervisor.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "web", list[0].Name)
	assert.True(t, list[0].Alive)
}

func TestStartRejectsBadRequests(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/services", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/services", service.Spec{Name: "no-command"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp struct {
		Kind string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid-arguments", resp.Kind)
}

func TestStartLaunchFailureIsUnprocessable(t *testing.T) {
	h, _ := newTestHandler(t)

	w := doJSON(t, h, http.MethodPost, "/api/services", service.Spec{
		Name:    "broken",
		Command: []string{"/nonexistent/missing"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var resp struct {
		Kind string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "launch-error", resp.Kind)
}

func TestStatusNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	w := doJSON(t, h, http.MethodGet, "/api/services/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	var resp struct {
		Kind string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "not-found", resp.Kind)
}

func TestStopPinUnpinPurgeFlow(t *testing.T) {
	requireUnix(t)
	h, _ := newTestHandler(t)

	w := doJSON(t, h, http.MethodPost, "/api/services", service.Spec{
		Name:    "flow",
		Command: []string{"/bin/sleep", "30"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var rec service.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))

	// purge of a running service is a conflict
	w = doJSON(t, h, http.MethodDelete, "/api/services/"+rec.ID+"/record", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/services/"+rec.ID+"/pin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, h, http.MethodGet, "/api/services/"+rec.ID, nil)
	var st supervisor.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, service.StatePinned, st.State)

	w = doJSON(t, h, http.MethodPost, "/api/services/"+rec.ID+"/unpin", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodDelete, "/api/services/"+rec.ID+"?grace=2s", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, h, http.MethodGet, "/api/services/"+rec.ID, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, service.StateStopped, st.State)

	w = doJSON(t, h, http.MethodDelete, "/api/services/"+rec.ID+"/record", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, h, http.MethodGet, "/api/services/"+rec.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStopRejectsBadGrace(t *testing.T) {
	requireUnix(t)
	h, sup := newTestHandler(t)

	rec, err := sup.Start(context.Background(), service.Spec{Name: "g", Command: []string{"/bin/sleep", "30"}})
	require.NoError(t, err)

	w := doJSON(t, h, http.MethodDelete, "/api/services/"+rec.ID+"?grace=banana", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventsEndpoint(t *testing.T) {
	requireUnix(t)
	h, _ := newTestHandler(t)

	w := doJSON(t, h, http.MethodPost, "/api/services", service.Spec{
		Name:    "ev",
		Command: []string{"/bin/sh", "-c", "exit 0"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var rec service.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))

	// wait for the exit event to land
	deadline := time.Now().Add(5 * time.Second)
	for {
		w = doJSON(t, h, http.MethodGet, fmt.Sprintf("/api/services/%s/events?limit=10", rec.ID), nil)
		require.Equal(t, http.StatusOK, w.Code)
		var evts []json.RawMessage
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &evts))
		if len(evts) >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("events never arrived: %s", w.Body.String())
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestMetricsEndpointMounted(t *testing.T) {
	h, _ := newTestHandler(t)
	w := doJSON(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
