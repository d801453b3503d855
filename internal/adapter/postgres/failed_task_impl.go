package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/audit-service/internal/entity"
	"github.com/user/audit-service/internal/repository"
)

const failedTasksSchema = `
	CREATE TABLE IF NOT EXISTS failed_tasks (
		task_id           TEXT PRIMARY KEY,
		kind              TEXT NOT NULL,
		payload           JSONB NOT NULL,
		failure_reason    TEXT NOT NULL,
		attempts          INTEGER NOT NULL,
		failed_at         TIMESTAMPTZ NOT NULL,
		dead_letter_count INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS failed_tasks_failed_at_idx ON failed_tasks (failed_at DESC);
`

// FailedTaskRepoImpl provides a concrete implementation for the FailedTaskRepository interface using PostgreSQL.
type FailedTaskRepoImpl struct {
	db *pgxpool.Pool
}

// NewFailedTaskRepo creates a new instance of FailedTaskRepoImpl.
func NewFailedTaskRepo(db *pgxpool.Pool) *FailedTaskRepoImpl {
	return &FailedTaskRepoImpl{db: db}
}

// EnsureSchema creates the failed_tasks table when it does not exist.
func (r *FailedTaskRepoImpl) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, failedTasksSchema); err != nil {
		return fmt.Errorf("failed to create failed_tasks table: %w", err)
	}
	return nil
}

// SaveOrUpdate creates or updates a record for a failed task.
// It increments dead_letter_count on conflict.
func (r *FailedTaskRepoImpl) SaveOrUpdate(ctx context.Context, failed *entity.FailedTask) error {
	query := `
		INSERT INTO failed_tasks (task_id, kind, payload, failure_reason, attempts, failed_at, dead_letter_count)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
		ON CONFLICT (task_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			payload = EXCLUDED.payload,
			failure_reason = EXCLUDED.failure_reason,
			attempts = EXCLUDED.attempts,
			failed_at = EXCLUDED.failed_at,
			dead_letter_count = failed_tasks.dead_letter_count + 1;
	`
	_, err := r.db.Exec(ctx, query,
		failed.TaskID,
		string(failed.Kind),
		[]byte(failed.Payload),
		failed.FailureReason,
		failed.Attempts,
		failed.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save failed task %s: %w", failed.TaskID, err)
	}
	return nil
}

const failedTaskColumns = `task_id, kind, payload, failure_reason, attempts, failed_at, dead_letter_count`

// List retrieves the most recent failed tasks.
func (r *FailedTaskRepoImpl) List(ctx context.Context, limit int) ([]*entity.FailedTask, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+failedTaskColumns+` FROM failed_tasks ORDER BY failed_at DESC, task_id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed tasks: %w", err)
	}
	defer rows.Close()

	var out []*entity.FailedTask
	for rows.Next() {
		ft, err := scanFailedTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ft)
	}
	return out, rows.Err()
}

func (r *FailedTaskRepoImpl) Get(ctx context.Context, taskID string) (*entity.FailedTask, error) {
	row := r.db.QueryRow(ctx, `SELECT `+failedTaskColumns+` FROM failed_tasks WHERE task_id = $1`, taskID)
	ft, err := scanFailedTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return ft, err
}

// Delete removes a failed task record, typically after it was requeued.
func (r *FailedTaskRepoImpl) Delete(ctx context.Context, taskID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM failed_tasks WHERE task_id = $1`, taskID); err != nil {
		return fmt.Errorf("failed to delete failed task %s: %w", taskID, err)
	}
	return nil
}

func scanFailedTask(row pgx.Row) (*entity.FailedTask, error) {
	var (
		ft      entity.FailedTask
		kind    string
		payload []byte
	)
	if err := row.Scan(&ft.TaskID, &kind, &payload, &ft.FailureReason, &ft.Attempts, &ft.FailedAt, &ft.DeadLetterCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan failed task: %w", err)
	}
	ft.Kind = entity.TaskKind(kind)
	ft.Payload = payload
	return &ft, nil
}
