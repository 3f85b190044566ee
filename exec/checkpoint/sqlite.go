package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// It keeps checkpoint records in a single-file database. Designed for:
//   - Development and testing with zero setup
//   - Single-host deployments that still need crash recovery
//
// SQLiteStore uses WAL mode for concurrent reads and transactional
// writes, and creates its schema on first use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore creates a new SQLite-backed checkpoint store.
//
// The path parameter specifies the database file location; ":memory:"
// gives an in-memory database whose contents are lost on close (useful
// in tests).
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// createTables creates the required schema if it doesn't exist.
func (s *SQLiteStore) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			job_uuid TEXT NOT NULL PRIMARY KEY,
			proc_uuid TEXT NOT NULL,
			lockable_objects TEXT NOT NULL,
			action_fqn TEXT NOT NULL,
			args TEXT NOT NULL,
			kwargs TEXT NOT NULL,
			recoverable INTEGER NOT NULL,
			started INTEGER NOT NULL DEFAULT 0,
			finished INTEGER NOT NULL DEFAULT 0,
			seq INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := s.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_checkpoints_proc ON checkpoints(proc_uuid)"); err != nil {
		return fmt.Errorf("failed to create idx_checkpoints_proc: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_checkpoints_pending ON checkpoints(recoverable, finished, seq)"); err != nil {
		return fmt.Errorf("failed to create idx_checkpoints_pending: %w", err)
	}
	// seq drives recovery replay order; a monotonic counter shared by
	// all rows.
	seqTable := `
		CREATE TABLE IF NOT EXISTS checkpoint_seq (
			id INTEGER PRIMARY KEY AUTOINCREMENT
		)
	`
	if _, err := s.db.ExecContext(ctx, seqTable); err != nil {
		return fmt.Errorf("failed to create checkpoint_seq table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// Register durably records a batch of checkpoints (implements Store).
// The batch is written in a single transaction.
func (s *SQLiteStore) Register(ctx context.Context, checkpoints []*Checkpoint, recoverable bool) error {
	if err := s.guard(); err != nil {
		return err
	}
	if len(checkpoints) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, cp := range checkpoints {
		lockable, args, kwargs, err := marshalPayload(cp)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "INSERT INTO checkpoint_seq DEFAULT VALUES")
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read sequence: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO checkpoints
				(job_uuid, proc_uuid, lockable_objects, action_fqn, args, kwargs, recoverable, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(job_uuid) DO NOTHING
		`, cp.JobUUID.String(), cp.ProcedureUUID.String(), lockable, cp.ActionFQN, args, kwargs, boolToInt(recoverable), seq)
		if err != nil {
			return fmt.Errorf("failed to register checkpoint: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit registration: %w", err)
	}
	return nil
}

// Begin marks a checkpoint as started (implements Store).
// Unknown checkpoints are upserted as recoverable, matching the replay
// path where a rescheduled job begins before its re-registration.
func (s *SQLiteStore) Begin(ctx context.Context, cp *Checkpoint) error {
	if err := s.guard(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE checkpoints SET started = 1 WHERE job_uuid = ?", cp.JobUUID.String())
	if err != nil {
		return fmt.Errorf("failed to begin checkpoint: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if err := s.Register(ctx, []*Checkpoint{cp}, true); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx,
			"UPDATE checkpoints SET started = 1 WHERE job_uuid = ?", cp.JobUUID.String()); err != nil {
			return fmt.Errorf("failed to begin checkpoint: %w", err)
		}
	}
	return nil
}

// Finish marks a checkpoint as finished (implements Store).
func (s *SQLiteStore) Finish(ctx context.Context, cp *Checkpoint) error {
	if err := s.guard(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE checkpoints SET finished = 1 WHERE job_uuid = ?", cp.JobUUID.String())
	if err != nil {
		return fmt.Errorf("failed to finish checkpoint: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Remove deletes every checkpoint of a procedure (implements Store).
func (s *SQLiteStore) Remove(ctx context.Context, procUUID uuid.UUID) error {
	if err := s.guard(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM checkpoints WHERE proc_uuid = ?", procUUID.String()); err != nil {
		return fmt.Errorf("failed to remove checkpoints: %w", err)
	}
	return nil
}

// Unfinished returns checkpoints that never finished, in registration
// order (implements Store).
func (s *SQLiteStore) Unfinished(ctx context.Context) ([]*Checkpoint, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT job_uuid, proc_uuid, lockable_objects, action_fqn, args, kwargs
		FROM checkpoints
		WHERE finished = 0
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unfinished checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}
	return out, nil
}

// Close releases the database connection. The store cannot be used
// after Close.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanCheckpoint.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	var jobID, procID, lockable, fqn, args, kwargs string
	if err := row.Scan(&jobID, &procID, &lockable, &fqn, &args, &kwargs); err != nil {
		return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
	}

	cp := &Checkpoint{ActionFQN: fqn}
	var err error
	if cp.JobUUID, err = uuid.Parse(jobID); err != nil {
		return nil, fmt.Errorf("failed to parse job uuid: %w", err)
	}
	if cp.ProcedureUUID, err = uuid.Parse(procID); err != nil {
		return nil, fmt.Errorf("failed to parse procedure uuid: %w", err)
	}
	if err := json.Unmarshal([]byte(lockable), &cp.LockableObjects); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lockable objects: %w", err)
	}
	if err := json.Unmarshal([]byte(args), &cp.Args); err != nil {
		return nil, fmt.Errorf("failed to unmarshal args: %w", err)
	}
	if err := json.Unmarshal([]byte(kwargs), &cp.Kwargs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal kwargs: %w", err)
	}
	return cp, nil
}

func marshalPayload(cp *Checkpoint) (lockable, args, kwargs string, err error) {
	lockableJSON, err := json.Marshal(cp.LockableObjects)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal lockable objects: %w", err)
	}
	argsJSON, err := json.Marshal(cp.Args)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal args: %w", err)
	}
	kwargsJSON, err := json.Marshal(cp.Kwargs)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal kwargs: %w", err)
	}
	return string(lockableJSON), string(argsJSON), string(kwargsJSON), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
