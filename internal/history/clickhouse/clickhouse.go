package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/gamewatch/internal/history"
)

// Sink sends events to ClickHouse using the official ClickHouse Go client.
// The table is created on first use when missing.
type Sink struct {
	conn  driver.Conn
	table string
}

// Options selects the ClickHouse database and credentials.
type Options struct {
	Database string
	Username string
	Password string
}

func New(addr, table string, opts Options) (*Sink, error) {
	if opts.Database == "" {
		opts.Database = "default"
	}
	if opts.Username == "" {
		opts.Username = "default"
	}
	if table == "" {
		table = history.Table
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: table}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	err := s.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			occurred_at DateTime64(6),
			type LowCardinality(String),
			program String,
			lifecycle Nullable(String),
			previous Nullable(String),
			substate Nullable(String),
			pid Nullable(UInt32),
			player_id Nullable(String),
			player_name Nullable(String),
			world Nullable(String)
		) ENGINE = MergeTree()
		ORDER BY (occurred_at, type)
	`)
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse table: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (occurred_at, type, program, lifecycle, previous, substate, pid, player_id, player_name, world) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	var pid *uint32
	if e.PID > 0 {
		v := uint32(e.PID)
		pid = &v
	}
	err := s.conn.Exec(ctx, query,
		e.OccurredAt.UTC(),
		string(e.Type),
		e.Program,
		optional(e.Lifecycle),
		optional(e.Previous),
		optional(e.Substate),
		pid,
		optional(e.PlayerID),
		optional(e.PlayerName),
		optional(e.World),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
