package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/audit-service/internal/repository"
)

const schema = `
	CREATE TABLE IF NOT EXISTS audit_records (
		key        TEXT PRIMARY KEY,
		value      BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
`

// RecordRepoImpl provides a concrete implementation for the RecordStore interface using PostgreSQL.
type RecordRepoImpl struct {
	db *pgxpool.Pool
}

// NewRecordRepo creates a new instance of RecordRepoImpl.
func NewRecordRepo(db *pgxpool.Pool) *RecordRepoImpl {
	return &RecordRepoImpl{db: db}
}

// EnsureSchema creates the records table when it does not exist.
func (r *RecordRepoImpl) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit_records table: %w", err)
	}
	return nil
}

func (r *RecordRepoImpl) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Get retrieves the value stored under key.
func (r *RecordRepoImpl) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRow(ctx, `SELECT value FROM audit_records WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", key, err)
	}
	return value, nil
}

// Set stores or replaces the value under key.
func (r *RecordRepoImpl) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO audit_records (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to set record %s: %w", key, err)
	}
	return nil
}

// Delete removes key if present.
func (r *RecordRepoImpl) Delete(ctx context.Context, key string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM audit_records WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", key, err)
	}
	return nil
}

// Update locks the row for the duration of fn, so concurrent updates of one
// record are serialized.
func (r *RecordRepoImpl) Update(ctx context.Context, key string, fn repository.UpdateFunc) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current []byte
	err = tx.QueryRow(ctx, `SELECT value FROM audit_records WHERE key = $1 FOR UPDATE`, key).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock record %s: %w", key, err)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	if _, err := tx.Exec(ctx,
		`UPDATE audit_records SET value = $2, updated_at = NOW() WHERE key = $1`,
		key, next); err != nil {
		return fmt.Errorf("failed to update record %s: %w", key, err)
	}
	return tx.Commit(ctx)
}

// Keys lists the keys starting with prefix.
func (r *RecordRepoImpl) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT key FROM audit_records WHERE starts_with(key, $1)`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan record keys: %w", err)
	}
	return keys, nil
}
