// Package store persists tasks, hubs, subscriptions and raw feed payloads
// in a sqlite database. Each repository runs its statements in its own
// session; no cross-entity transactions are required by the callers.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/GoCodeAlone/repost/internal/logging"
)

const connectTimeout = 5 * time.Second

// Service owns the database handle and runs migrations.
type Service struct {
	db     *sql.DB
	path   string
	logger logging.Logger
}

// Open connects to the sqlite database at path (":memory:" is supported)
// and applies pending migrations.
func Open(path string, logger logging.Logger) (*Service, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	if logger == nil {
		logger = logging.Nop{}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// sqlite serializes writers anyway; one connection keeps in-memory
	// databases coherent across the pool.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}

	s := &Service{db: db, path: path, logger: logger}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store opened", "path", path)
	return s, nil
}

// DB exposes the underlying handle for the repositories.
func (s *Service) DB() *sql.DB { return s.db }

// Ping verifies the connection is still alive.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging sqlite database: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *Service) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing sqlite database: %w", err)
	}
	return nil
}
