package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Registration is process-wide sticky, so one test exercises the whole
// surface against a single registry.
func TestRegisterAndCollect(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg), "second call is a no-op")

	IncStart("web")
	IncRestart("web")
	IncStop("web")
	IncKillEscalation("web")
	IncLaunchFailure("web")
	SetCurrentState("web", "running", true)
	SetCurrentState("web", "stopped", false)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"warden_service_starts_total",
		"warden_service_restarts_total",
		"warden_service_stops_total",
		"warden_service_kill_escalations_total",
		"warden_service_launch_failures_total",
		"warden_service_current_state",
	} {
		assert.True(t, names[want], want)
	}

	assert.NotNil(t, Handler())
}
