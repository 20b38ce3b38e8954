// Package store is the sqlite-backed metadata store: pipelines,
// executions, queue jobs, loaded batches, connections, saved queries,
// alerts and alert history. The worker is the only writer of execution
// state; API handlers write CRUD entities.
package store

import (
	"context"
	"database/sql"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/flowforge/flowforge/pkg/errors"
)

// Store wraps the sqlite handle all repositories share
type Store struct {
	db *sql.DB
}

// Open opens the sqlite database at path, applies pending migrations
// and returns the store. WAL journal and a busy timeout keep the single
// writer from starving readers.
func Open(path string) (*Store, error) {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_synchronous", "NORMAL")
	params.Set("_foreign_keys", "on")
	params.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite3", "file:"+path+"?"+params.Encode())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to open sqlite database")
	}
	// A single writer connection sidesteps SQLITE_BUSY under load
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping sqlite database")
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// DB exposes the raw handle for the queue's transactional claim
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying handle
func (s *Store) Close() error { return s.db.Close() }

// nullTime converts a nullable column to *time.Time
func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// timeArg converts *time.Time to a driver-friendly value
func timeArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
