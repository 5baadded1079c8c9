package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "prijswacht/pkg/logx"
)

//go:embed schema.sql
var schemaFS embed.FS

// Config configures the SQLite store.
type Config struct {
	Path           string
	BusyTimeout    time.Duration // busy_timeout pragma; 0 means 30s
	MaxConnections int           // pool cap; 0 means 5
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Path) == "" {
		c.Path = "./prijswacht.db"
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = 30 * time.Second
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = defaultMaxConnections
	}
	return c
}

// Store owns the database handle and the connection pool.
type Store struct {
	db   *sql.DB
	pool *Pool
	log  logx.Logger
}

// Open opens (creating if needed) the SQLite database and runs the schema.
//
// Pragmas ride on the DSN so every pooled connection gets them, not just the
// first: WAL journal, NORMAL synchronous, the busy timeout, and enforced
// foreign keys (query -> item -> history cascades).
func Open(cfg Config, log logx.Logger) (*Store, error) {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}

	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)",
		cfg.Path, cfg.BusyTimeout.Milliseconds(),
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections)

	s := &Store{
		db:   db,
		pool: newPool(db, cfg.MaxConnections, log),
		log:  log,
	}

	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Debug("storage opened",
		logx.String("path", cfg.Path),
		logx.Int("max_connections", cfg.MaxConnections),
		logx.Duration("busy_timeout", cfg.BusyTimeout),
	)
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// Pool exposes the connection pool (metrics, direct transactional work).
func (s *Store) Pool() *Pool { return s.pool }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// withConn runs fn on a pooled connection, releasing it afterwards.
func (s *Store) withConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(conn)
	return fn(conn)
}

// ---- scan/format helpers ----

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	return time.Parse(time.RFC3339Nano, s)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
