package persistence

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// SQLPersister implements Persister over database/sql.
//
// One SQLPersister wraps one *sql.DB and at most one open *sql.Tx.
// Workers construct theirs through a Factory so that every worker gets
// an independent session.
type SQLPersister struct {
	db *sql.DB
	tx *sql.Tx
}

// NewSQLPersister wraps an existing database handle. The caller keeps
// ownership of db configuration; Close closes it.
func NewSQLPersister(db *sql.DB) *SQLPersister {
	return &SQLPersister{db: db}
}

// NewSQLiteFactory returns a Factory producing SQLite-backed
// persisters for the given database file. ":memory:" gives each worker
// an independent throwaway database, which is what tests want.
func NewSQLiteFactory(path string) Factory {
	return func() (Persister, error) {
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
		}
		// One session per worker; a second connection would escape the
		// transaction.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		return NewSQLPersister(db), nil
	}
}

// NewMySQLFactory returns a Factory producing MySQL-backed persisters
// for the given DSN. Each worker gets its own connection so its
// transaction state never leaks to another worker.
func NewMySQLFactory(dsn string) Factory {
	return func() (Persister, error) {
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to ping MySQL: %w", err)
		}
		return NewSQLPersister(db), nil
	}
}

// Begin opens a new transaction (implements Persister).
func (p *SQLPersister) Begin() error {
	if p.tx != nil {
		return ErrOpenTransaction
	}
	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	p.tx = tx
	return nil
}

// Commit commits the open transaction (implements Persister).
func (p *SQLPersister) Commit() error {
	if p.tx == nil {
		return ErrNoTransaction
	}
	tx := p.tx
	p.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback aborts the open transaction (implements Persister).
func (p *SQLPersister) Rollback() error {
	if p.tx == nil {
		return ErrNoTransaction
	}
	tx := p.tx
	p.tx = nil
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// Tx returns the open transaction, or nil (implements Persister).
func (p *SQLPersister) Tx() *sql.Tx {
	return p.tx
}

// Close rolls back any open transaction and closes the database
// handle (implements Persister).
func (p *SQLPersister) Close() error {
	if p.tx != nil {
		_ = p.tx.Rollback()
		p.tx = nil
	}
	return p.db.Close()
}
