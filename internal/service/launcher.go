package service

import (
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// Launcher wraps OS process creation: working directory, environment merge,
// stdout/stderr capture, and process-group setup. It performs exactly one
// spawn attempt per call; it never retries.
type Launcher struct {
	// BaseEnv is the environment the per-service entries are merged over.
	// Defaults to os.Environ() when nil.
	BaseEnv []string
	// DefaultLogDir receives <name>.stdout.log / <name>.stderr.log for
	// specs that carry no log destination of their own. Empty means the
	// child output goes to /dev/null.
	DefaultLogDir string
}

// Launch spawns the process described by spec and returns a live handle.
// On failure it returns a *LaunchError carrying the OS cause.
func (l *Launcher) Launch(spec Spec) (*Proc, error) {
	// #nosec G204 -- command comes from the validated service spec
	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	cmd.Env = l.mergeEnv(spec.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	logCfg := spec.Log
	if logCfg.Dir == "" && logCfg.StdoutPath == "" && logCfg.StderrPath == "" {
		logCfg.Dir = l.DefaultLogDir
	}
	var outW, errW io.WriteCloser
	if logCfg.Dir != "" || logCfg.StdoutPath != "" || logCfg.StderrPath != "" {
		if logCfg.Dir != "" {
			_ = os.MkdirAll(logCfg.Dir, 0o750)
		}
		outW, errW = logCfg.Writers(spec.Name)
	}
	// A nil Stdout/Stderr makes os/exec wire the child to /dev/null itself,
	// so there is no descriptor for us to track or close.
	if outW != nil {
		cmd.Stdout = outW
	}
	if errW != nil {
		cmd.Stderr = errW
	}

	if err := cmd.Start(); err != nil {
		if outW != nil {
			_ = outW.Close()
		}
		if errW != nil {
			_ = errW.Close()
		}
		return nil, &LaunchError{Name: spec.Name, Path: spec.Command[0], Err: err}
	}
	return newProc(cmd, outW, errW), nil
}

// mergeEnv overlays extra KEY=VALUE entries on the base environment; later
// keys win.
func (l *Launcher) mergeEnv(extra []string) []string {
	base := l.BaseEnv
	if base == nil {
		base = os.Environ()
	}
	if len(extra) == 0 {
		return base
	}
	idx := make(map[string]int, len(base))
	out := make([]string, len(base), len(base)+len(extra))
	copy(out, base)
	for i, kv := range out {
		if eq := strings.IndexByte(kv, '='); eq > 0 {
			idx[kv[:eq]] = i
		}
	}
	for _, kv := range extra {
		eq := strings.IndexByte(kv, '=')
		if eq <= 0 {
			continue
		}
		if i, ok := idx[kv[:eq]]; ok {
			out[i] = kv
		} else {
			out = append(out, kv)
		}
	}
	return out
}
