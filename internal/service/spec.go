package service

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/warden-dev/warden/internal/logger"
)

// Spec describes a service to be supervised.
type Spec struct {
	// ID is optional; when set, Start rejects the request if a service with
	// the same id is already active.
	ID              string        `json:"id,omitempty"`
	Name            string        `json:"name"`
	Command         []string      `json:"command"`          // argv: executable plus arguments
	WorkDir         string        `json:"work_dir"`         // optional absolute working dir
	Env             []string      `json:"env"`              // extra KEY=VALUE entries merged over the supervisor env
	AutoRestart     bool          `json:"auto_restart"`     // respawn on exit
	RestartInterval time.Duration `json:"restart_interval"` // backoff before a respawn (default 1s)
	Log             logger.Config `json:"log"`              // stdout/stderr capture destinations
}

// Validate checks the argument contract enforced at the control surface:
// non-empty name and command, absolute traversal-free working directory,
// well-formed environment entries.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("service name is required")
	}
	if !isSafeName(s.Name) {
		return fmt.Errorf("invalid service name %q: allowed [A-Za-z0-9._-]", s.Name)
	}
	if len(s.Command) == 0 || strings.TrimSpace(s.Command[0]) == "" {
		return fmt.Errorf("service %q requires a command", s.Name)
	}
	if s.WorkDir != "" {
		if !filepath.IsAbs(s.WorkDir) {
			return fmt.Errorf("service %q: work_dir must be absolute, got %q", s.Name, s.WorkDir)
		}
		if filepath.Clean(s.WorkDir) != s.WorkDir && filepath.Clean(s.WorkDir) != strings.TrimRight(s.WorkDir, string(filepath.Separator)) {
			return fmt.Errorf("service %q: work_dir %q contains traversal", s.Name, s.WorkDir)
		}
	}
	for i, kv := range s.Env {
		eq := strings.IndexByte(kv, '=')
		if eq <= 0 {
			return fmt.Errorf("service %q: env[%d] %q must be KEY=VALUE", s.Name, i, kv)
		}
	}
	if s.RestartInterval < 0 {
		return fmt.Errorf("service %q: restart_interval cannot be negative", s.Name)
	}
	return nil
}

// isSafeName validates service names so they are safe to embed in log file
// names. Allowed characters: A-Z a-z 0-9 . _ - and no "..".
func isSafeName(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}
