package service

import "fmt"

// LaunchError is returned when the OS refuses to spawn a service's process
// (executable not found, permission denied, bad working directory). It is
// never retried by the launcher; retry policy lives in the monitor loop.
type LaunchError struct {
	Name string // service name
	Path string // executable that failed to launch
	Err  error  // underlying OS error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s (%s): %v", e.Name, e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }
