package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// This is the production pairing for a managed database fabric whose
// own state already lives in MySQL. Designed for:
//   - Deployments requiring durable crash recovery
//   - Multiple executor hosts sharing one recovery log
//   - Audit trails of administrative intent
//
// MySQLStore uses connection pooling and creates its schema on first
// use.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore creates a new MySQL-backed checkpoint store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Never hardcode credentials; read the DSN from the environment.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// createTables creates the required schema if it doesn't exist.
func (m *MySQLStore) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			seq BIGINT AUTO_INCREMENT PRIMARY KEY,
			job_uuid VARCHAR(36) NOT NULL,
			proc_uuid VARCHAR(36) NOT NULL,
			lockable_objects JSON NOT NULL,
			action_fqn VARCHAR(255) NOT NULL,
			args JSON NOT NULL,
			kwargs JSON NOT NULL,
			recoverable TINYINT(1) NOT NULL,
			started TINYINT(1) NOT NULL DEFAULT 0,
			finished TINYINT(1) NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY unique_job (job_uuid),
			INDEX idx_proc (proc_uuid),
			INDEX idx_pending (recoverable, finished, seq)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}
	return nil
}

func (m *MySQLStore) guard() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// Register durably records a batch of checkpoints (implements Store).
func (m *MySQLStore) Register(ctx context.Context, checkpoints []*Checkpoint, recoverable bool) error {
	if err := m.guard(); err != nil {
		return err
	}
	if len(checkpoints) == 0 {
		return nil
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, cp := range checkpoints {
		lockable, args, kwargs, err := marshalPayload(cp)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO checkpoints
				(job_uuid, proc_uuid, lockable_objects, action_fqn, args, kwargs, recoverable)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE job_uuid = job_uuid
		`, cp.JobUUID.String(), cp.ProcedureUUID.String(), lockable, cp.ActionFQN, args, kwargs, boolToInt(recoverable))
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
func (m *MySQLStore) Begin(ctx context.Context, cp *Checkpoint) error {
	if err := m.guard(); err != nil {
		return err
	}

	res, err := m.db.ExecContext(ctx,
		"UPDATE checkpoints SET started = 1 WHERE job_uuid = ?", cp.JobUUID.String())
	if err != nil {
		return fmt.Errorf("failed to begin checkpoint: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if err := m.Register(ctx, []*Checkpoint{cp}, true); err != nil {
			return err
		}
		if _, err := m.db.ExecContext(ctx,
			"UPDATE checkpoints SET started = 1 WHERE job_uuid = ?", cp.JobUUID.String()); err != nil {
			return fmt.Errorf("failed to begin checkpoint: %w", err)
		}
	}
	return nil
}

// Finish marks a checkpoint as finished (implements Store).
func (m *MySQLStore) Finish(ctx context.Context, cp *Checkpoint) error {
	if err := m.guard(); err != nil {
		return err
	}

	res, err := m.db.ExecContext(ctx,
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
func (m *MySQLStore) Remove(ctx context.Context, procUUID uuid.UUID) error {
	if err := m.guard(); err != nil {
		return err
	}

	if _, err := m.db.ExecContext(ctx,
		"DELETE FROM checkpoints WHERE proc_uuid = ?", procUUID.String()); err != nil {
		return fmt.Errorf("failed to remove checkpoints: %w", err)
	}
	return nil
}

// Unfinished returns checkpoints that never finished, in registration
// order (implements Store).
func (m *MySQLStore) Unfinished(ctx context.Context) ([]*Checkpoint, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, `
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

// Close releases the connection pool. The store cannot be used after
// Close.
func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}
