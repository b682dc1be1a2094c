package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/warden-dev/warden/internal/store"
)

// Sink exports service lifecycle events to ClickHouse for fleet-wide
// restart analytics, using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

// Config holds connection parameters for the ClickHouse sink.
type Config struct {
	Addr     string `json:"addr" mapstructure:"addr"`
	Database string `json:"database" mapstructure:"database"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Table    string `json:"table" mapstructure:"table"`
}

func New(cfg Config) (*Sink, error) {
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	if cfg.Table == "" {
		cfg.Table = "warden_events"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return &Sink{conn: conn, table: cfg.Table}, nil
}

// EnsureSchema creates the events table when missing.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		service_id String,
		kind String,
		exit_code Int32,
		restart Int32,
		detail String,
		at DateTime64(3)
	) ENGINE = MergeTree() ORDER BY (service_id, at)`, s.table)
	return s.conn.Exec(ctx, q)
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e store.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (service_id, kind, exit_code, restart, detail, at) VALUES (?, ?, ?, ?, ?, ?)`, s.table)
	if err := s.conn.Exec(ctx, query,
		e.ServiceID, e.Kind, int32(e.ExitCode), int32(e.Restart), e.Detail, e.At); err != nil {
		return fmt.Errorf("insert event into clickhouse: %w", err)
	}
	return nil
}
