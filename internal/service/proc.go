package service

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Proc is a handle on one live instance of a service: good for signaling
// the process group and for waiting on exit. A background goroutine reaps
// the child exactly once; everyone else observes exit through Done.
type Proc struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time

	mu       sync.Mutex
	exitCode int
	exitErr  error
	exited   bool

	done      chan struct{}
	outCloser io.WriteCloser
	errCloser io.WriteCloser
}

func newProc(cmd *exec.Cmd, outW, errW io.WriteCloser) *Proc {
	p := &Proc{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now().UTC(),
		exitCode:  -1,
		done:      make(chan struct{}),
		outCloser: outW,
		errCloser: errW,
	}
	go p.reap()
	return p
}

// reap is the single cmd.Wait caller for this instance.
func (p *Proc) reap() {
	err := p.cmd.Wait()
	code := 0
	if err != nil {
		code = -1
		if ee, ok := err.(*exec.ExitError); ok {
			code = ee.ExitCode()
		}
	}
	p.mu.Lock()
	p.exited = true
	p.exitCode = code
	p.exitErr = err
	p.mu.Unlock()
	p.closeWriters()
	close(p.done)
}

func (p *Proc) closeWriters() {
	p.mu.Lock()
	out, errW := p.outCloser, p.errCloser
	p.outCloser, p.errCloser = nil, nil
	p.mu.Unlock()
	if out != nil {
		_ = out.Close()
	}
	if errW != nil {
		_ = errW.Close()
	}
}

func (p *Proc) PID() int             { return p.pid }
func (p *Proc) StartedAt() time.Time { return p.startedAt }

// Done is closed once the child has been reaped.
func (p *Proc) Done() <-chan struct{} { return p.done }

// ExitCode returns the exit code after Done is closed; -1 when the child
// was killed by a signal or has not exited yet.
func (p *Proc) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// ExitErr returns the error from cmd.Wait, nil for a clean exit.
func (p *Proc) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Exited reports whether the child has been reaped.
func (p *Proc) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// Terminate sends SIGTERM to the service's process group.
func (p *Proc) Terminate() error {
	if p.Exited() {
		return nil
	}
	return syscall.Kill(-p.pid, syscall.SIGTERM)
}

// Kill sends SIGKILL to the service's process group.
func (p *Proc) Kill() error {
	if p.Exited() {
		return nil
	}
	return syscall.Kill(-p.pid, syscall.SIGKILL)
}

// Alive probes liveness without touching os/exec internals.
func (p *Proc) Alive() bool {
	if p.Exited() {
		return false
	}
	return Alive(p.pid)
}

// Alive reports whether pid refers to a live (non-zombie) process. Used at
// startup reconciliation against PIDs loaded from the store.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if runtime.GOOS == "linux" && isZombieLinux(pid) {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// isZombieLinux returns true if /proc/<pid>/status reports state Z.
func isZombieLinux(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
