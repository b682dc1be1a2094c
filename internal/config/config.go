package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	ch "github.com/warden-dev/warden/internal/eventlog/clickhouse"
	"github.com/warden-dev/warden/internal/service"
)

// Environment variables honored by the daemon and CLI. Both are optional.
const (
	EnvDataDir     = "WARDEN_DATA_DIR"     // storage directory (default ~/.warden, /var/lib/warden for root)
	EnvGracePeriod = "WARDEN_GRACE_PERIOD" // default stop grace period (default 5s)
	EnvAPIURL      = "WARDEN_API_URL"      // daemon base URL for the CLI (default http://127.0.0.1:7557/api)
)

// Config is the top-level TOML structure for `warden serve`.
type Config struct {
	DataDir         string          `mapstructure:"data_dir"`
	Listen          string          `mapstructure:"listen"`
	GracePeriod     time.Duration   `mapstructure:"grace_period"`
	RestartBackoff  time.Duration   `mapstructure:"restart_backoff"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	LogLevel        string          `mapstructure:"log_level"`
	Store           StoreConfig     `mapstructure:"store"`
	EventLog        EventLogConfig  `mapstructure:"eventlog"`
	Services        []ServiceConfig `mapstructure:"services"`
}

type StoreConfig struct {
	// DSN selects the backend: "sqlite://<path>", "postgres://...", or a
	// bare path (sqlite). Empty means <data_dir>/warden.db.
	DSN string `mapstructure:"dsn"`
}

type EventLogConfig struct {
	ClickHouse *ch.Config `mapstructure:"clickhouse"`
}

// ServiceConfig is one declarative [[services]] block registered at boot.
type ServiceConfig struct {
	Name            string        `mapstructure:"name"`
	Command         []string      `mapstructure:"command"`
	WorkDir         string        `mapstructure:"work_dir"`
	Env             []string      `mapstructure:"env"`
	AutoRestart     bool          `mapstructure:"auto_restart"`
	RestartInterval time.Duration `mapstructure:"restart_interval"`
}

// Spec converts a config block into a launch spec.
func (sc ServiceConfig) Spec() service.Spec {
	return service.Spec{
		Name:            sc.Name,
		Command:         sc.Command,
		WorkDir:         sc.WorkDir,
		Env:             sc.Env,
		AutoRestart:     sc.AutoRestart,
		RestartInterval: sc.RestartInterval,
	}
}

// Load reads the TOML config at path (optional) and applies environment
// overrides and defaults. An empty path yields a default configuration.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	for i := range cfg.Services {
		spec := cfg.Services[i].Spec()
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("services[%d]: %w", i, err)
		}
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvGracePeriod); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.GracePeriod = d
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:7557"
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 5 * time.Second
	}
	if cfg.RestartBackoff <= 0 {
		cfg.RestartBackoff = 1 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = filepath.Join(cfg.DataDir, "warden.db")
	}
}

// DefaultDataDir returns /var/lib/warden for root and ~/.warden otherwise.
func DefaultDataDir() string {
	if os.Geteuid() == 0 {
		return "/var/lib/warden"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".warden"
	}
	return filepath.Join(home, ".warden")
}

// LogDir is where captured service output goes by default.
func (c *Config) LogDir() string { return filepath.Join(c.DataDir, "logs") }
