// Package sqlite is a durable store driver backed by a SQLite file.
//
// Collections map to tables, attributes to columns. Declared column types
// are chosen so Describe can recover each attribute's type. The driver does
// not implement the find-and-* operations or store-level locking; the
// adapter composes those from the primitives.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/strata/internal/schema"
)

var (
	// ErrClosed is returned after Teardown.
	ErrClosed = errors.New("sqlite store closed")
	// ErrNoSuchCollection is returned for operations on an undefined collection.
	ErrNoSuchCollection = errors.New("no such collection")
)

// Driver stores collections in one SQLite database.
type Driver struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	db      *sql.DB
	schemas map[string]schema.Schema // Describe cache, reset by DDL
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger used for statement tracing.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// Open creates or opens the database at path. Parent directories are
// created as needed; ":memory:" opens a private in-memory database.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout
//   - foreign key enforcement
func Open(path string, opts ...Option) (*Driver, error) {
	d := &Driver{
		path:    path,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		schemas: make(map[string]schema.Schema),
	}
	for _, opt := range opts {
		opt(d)
	}
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	d.db = db
	return d, nil
}

func open(path string) (*sql.DB, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// One connection: SQLite has a single writer, and an in-memory
	// database lives only as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	return db, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Name implements driver.Driver.
func (d *Driver) Name() string { return "sqlite" }

// Path returns the database location.
func (d *Driver) Path() string { return d.path }

// Initialize reopens the database after Teardown. It is a no-op on an
// open driver.
func (d *Driver) Initialize(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db != nil {
		return nil
	}
	db, err := open(d.path)
	if err != nil {
		return err
	}
	d.db = db
	return nil
}

// Teardown closes the database. Safe to call more than once.
func (d *Driver) Teardown(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	clear(d.schemas)
	if err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// conn returns the open database or ErrClosed.
func (d *Driver) conn() (*sql.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return nil, ErrClosed
	}
	return d.db, nil
}

func (d *Driver) exec(ctx context.Context, query string, args ...any) error {
	db, err := d.conn()
	if err != nil {
		return err
	}
	d.logger.Debug("exec", "sql", query, "params", len(args))
	_, err = db.ExecContext(ctx, query, args...)
	return err
}
