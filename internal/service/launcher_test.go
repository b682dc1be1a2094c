package service

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-dev/warden/internal/logger"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires unix process semantics")
	}
}

func waitExit(t *testing.T, p *Proc, d time.Duration) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(d):
		t.Fatal("process did not exit in time")
	}
}

func TestLaunchCleanExit(t *testing.T) {
	requireUnix(t)
	l := &Launcher{}
	p, err := l.Launch(Spec{Name: "t", Command: []string{"/bin/sh", "-c", "exit 0"}})
	require.NoError(t, err)
	waitExit(t, p, 5*time.Second)
	assert.Equal(t, 0, p.ExitCode())
	assert.NoError(t, p.ExitErr())
	assert.True(t, p.Exited())
	assert.False(t, p.Alive())
}

func TestLaunchNonZeroExit(t *testing.T) {
	requireUnix(t)
	l := &Launcher{}
	p, err := l.Launch(Spec{Name: "t", Command: []string{"/bin/sh", "-c", "exit 7"}})
	require.NoError(t, err)
	waitExit(t, p, 5*time.Second)
	assert.Equal(t, 7, p.ExitCode())
	assert.Error(t, p.ExitErr())
}

func TestLaunchMissingBinary(t *testing.T) {
	l := &Launcher{}
	_, err := l.Launch(Spec{Name: "t", Command: []string{"/nonexistent/definitely-missing"}})
	require.Error(t, err)
	var le *LaunchError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "t", le.Name)
	assert.Equal(t, "/nonexistent/definitely-missing", le.Path)
}

func TestLaunchEnvOverlay(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "env.txt")
	l := &Launcher{BaseEnv: []string{"KEEP=base", "OVERRIDE=base"}}
	p, err := l.Launch(Spec{
		Name:    "env",
		Command: []string{"/bin/sh", "-c", `printf "%s %s" "$KEEP" "$OVERRIDE" > ` + out},
		Env:     []string{"OVERRIDE=child"},
	})
	require.NoError(t, err)
	waitExit(t, p, 5*time.Second)
	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "base child", string(b))
}

func TestLaunchWorkDir(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	p, err := (&Launcher{}).Launch(Spec{
		Name:    "wd",
		Command: []string{"/bin/sh", "-c", "pwd > here.txt"},
		WorkDir: dir,
	})
	require.NoError(t, err)
	waitExit(t, p, 5*time.Second)
	b, err := os.ReadFile(filepath.Join(dir, "here.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(b), filepath.Base(dir))
}

func TestLaunchCapturesOutput(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	p, err := (&Launcher{DefaultLogDir: dir}).Launch(Spec{
		Name:    "capt",
		Command: []string{"/bin/sh", "-c", "echo out-line; echo err-line >&2"},
	})
	require.NoError(t, err)
	waitExit(t, p, 5*time.Second)

	stdout, err := os.ReadFile(filepath.Join(dir, "capt.stdout.log"))
	require.NoError(t, err)
	assert.Contains(t, string(stdout), "out-line")
	stderr, err := os.ReadFile(filepath.Join(dir, "capt.stderr.log"))
	require.NoError(t, err)
	assert.Contains(t, string(stderr), "err-line")
}

func TestLaunchExplicitLogPaths(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	cfg := logger.Config{
		StdoutPath: filepath.Join(dir, "custom.out"),
		StderrPath: filepath.Join(dir, "custom.err"),
	}
	p, err := (&Launcher{}).Launch(Spec{
		Name:    "explicit",
		Command: []string{"/bin/sh", "-c", "echo hello"},
		Log:     cfg,
	})
	require.NoError(t, err)
	waitExit(t, p, 5*time.Second)
	b, err := os.ReadFile(filepath.Join(dir, "custom.out"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "hello")
}

func TestLaunchWithoutLogsLeaksNoDescriptors(t *testing.T) {
	requireUnix(t)
	countFDs := func() int {
		ents, err := os.ReadDir("/proc/self/fd")
		if err != nil {
			t.Skipf("cannot inspect open descriptors: %v", err)
		}
		return len(ents)
	}

	l := &Launcher{}
	before := countFDs()
	for i := 0; i < 25; i++ {
		p, err := l.Launch(Spec{Name: "nolog", Command: []string{"/bin/true"}})
		require.NoError(t, err)
		waitExit(t, p, 5*time.Second)
	}
	after := countFDs()
	assert.LessOrEqual(t, after, before+3,
		"descriptor count grew from %d to %d over 25 log-less launches", before, after)
}

func TestTerminateStopsProcessGroup(t *testing.T) {
	requireUnix(t)
	p, err := (&Launcher{}).Launch(Spec{Name: "pg", Command: []string{"/bin/sh", "-c", "sleep 30"}})
	require.NoError(t, err)
	require.True(t, p.Alive())
	require.NoError(t, p.Terminate())
	waitExit(t, p, 5*time.Second)
	assert.False(t, p.Alive())
	// signal deaths surface as -1
	assert.Equal(t, -1, p.ExitCode())
}

func TestAliveRejectsBadPIDs(t *testing.T) {
	assert.False(t, Alive(0))
	assert.False(t, Alive(-5))
	assert.True(t, Alive(os.Getpid()))
}
