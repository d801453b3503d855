package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/user/audit-service/internal/repository"
)

// RecordRepoImpl provides a concrete implementation for the RecordStore
// interface on a local SQLite database file.
type RecordRepoImpl struct {
	db *sql.DB
}

// NewRecordRepo opens or creates the database at path and initializes the schema.
func NewRecordRepo(path string) (*RecordRepoImpl, error) {
	// _txlock=immediate takes the write lock at BEGIN, which serializes Update.
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := &RecordRepoImpl{db: db}
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

func (r *RecordRepoImpl) initSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS audit_records (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`)
	return err
}

// DB exposes the connection so other repositories can share the file.
func (r *RecordRepoImpl) DB() *sql.DB {
	return r.db
}

// Close closes the underlying database.
func (r *RecordRepoImpl) Close() error {
	return r.db.Close()
}

func (r *RecordRepoImpl) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Get retrieves the value stored under key.
func (r *RecordRepoImpl) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM audit_records WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", key, err)
	}
	return value, nil
}

// Set stores or replaces the value under key.
func (r *RecordRepoImpl) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_records (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = EXCLUDED.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set record %s: %w", key, err)
	}
	return nil
}

// Delete removes key if present.
func (r *RecordRepoImpl) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM audit_records WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", key, err)
	}
	return nil
}

// Update runs fn inside an immediate transaction.
func (r *RecordRepoImpl) Update(ctx context.Context, key string, fn repository.UpdateFunc) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current []byte
	err = tx.QueryRowContext(ctx, `SELECT value FROM audit_records WHERE key = ?`, key).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read record %s: %w", key, err)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE audit_records SET value = ?, updated_at = CURRENT_TIMESTAMP WHERE key = ?`,
		next, key); err != nil {
		return fmt.Errorf("failed to update record %s: %w", key, err)
	}
	return tx.Commit()
}

// Keys lists the keys starting with prefix.
func (r *RecordRepoImpl) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT key FROM audit_records WHERE substr(key, 1, ?) = ?`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan record key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
