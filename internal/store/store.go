// Package store is the single embedded relational store of spec §3/§4.A. It
// owns every mutation; other components read via the narrow query methods
// defined in the sibling files (one file per entity family, mirroring the
// teacher's pkg/connector/memory_*.go split) and never hold a *sql.DB of
// their own.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Store wraps a single SQLite file. Writes are serialized with writeMu so
// that multi-statement operations (the queue's dequeue-lease in
// particular) are atomic at the row level; reads and writes share the
// single connection Open configures, per spec §4.A's "serialize writes to
// avoid torn updates" contract.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
	log     zerolog.Logger
}

// Open creates or opens the SQLite file at path, runs pending migrations,
// and returns a ready Store.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection: writeMu already serializes every mutating statement,
	// so a second pooled connection would only let a reader race ahead of
	// an in-flight write inside the same WAL checkpoint. Matches the
	// teacher's memory_vector.go max_open_conns=1 rationale.
	db.SetMaxOpenConns(1)
	if err := applyMigrations(db, log); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, log: log}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// withWriteTx runs fn inside writeMu and a transaction, committing on
// success and rolling back on error or panic.
func (s *Store) withWriteTx(fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// exec runs a single write statement under writeMu without a transaction
// wrapper, for the common single-row-insert/update case.
func (s *Store) exec(query string, args ...any) (sql.Result, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Exec(query, args...)
}
