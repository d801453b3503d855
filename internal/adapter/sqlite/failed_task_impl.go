package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/user/audit-service/internal/entity"
	"github.com/user/audit-service/internal/repository"
)

// FailedTaskRepoImpl provides a concrete implementation for the
// FailedTaskRepository interface on SQLite.
type FailedTaskRepoImpl struct {
	db *sql.DB
}

// NewFailedTaskRepo creates the failed_tasks table on db when missing.
func NewFailedTaskRepo(db *sql.DB) (*FailedTaskRepoImpl, error) {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS failed_tasks (
		task_id           TEXT PRIMARY KEY,
		kind              TEXT NOT NULL,
		payload           BLOB NOT NULL,
		failure_reason    TEXT NOT NULL,
		attempts          INTEGER NOT NULL,
		failed_at         INTEGER NOT NULL,
		dead_letter_count INTEGER NOT NULL DEFAULT 1
	);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create failed_tasks table: %w", err)
	}
	return &FailedTaskRepoImpl{db: db}, nil
}

func (r *FailedTaskRepoImpl) SaveOrUpdate(ctx context.Context, failed *entity.FailedTask) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO failed_tasks (task_id, kind, payload, failure_reason, attempts, failed_at, dead_letter_count)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(task_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			payload = EXCLUDED.payload,
			failure_reason = EXCLUDED.failure_reason,
			attempts = EXCLUDED.attempts,
			failed_at = EXCLUDED.failed_at,
			dead_letter_count = failed_tasks.dead_letter_count + 1
	`, failed.TaskID, string(failed.Kind), []byte(failed.Payload), failed.FailureReason, failed.Attempts, failed.FailedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save failed task %s: %w", failed.TaskID, err)
	}
	return nil
}

const failedTaskColumns = `task_id, kind, payload, failure_reason, attempts, failed_at, dead_letter_count`

func (r *FailedTaskRepoImpl) List(ctx context.Context, limit int) ([]*entity.FailedTask, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+failedTaskColumns+` FROM failed_tasks ORDER BY failed_at DESC, task_id LIMIT ?`, limit)
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
	row := r.db.QueryRowContext(ctx, `SELECT `+failedTaskColumns+` FROM failed_tasks WHERE task_id = ?`, taskID)
	ft, err := scanFailedTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return ft, err
}

func (r *FailedTaskRepoImpl) Delete(ctx context.Context, taskID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM failed_tasks WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to delete failed task %s: %w", taskID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFailedTask(row scanner) (*entity.FailedTask, error) {
	var (
		ft       entity.FailedTask
		kind     string
		payload  []byte
		failedAt int64
	)
	if err := row.Scan(&ft.TaskID, &kind, &payload, &ft.FailureReason, &ft.Attempts, &failedAt, &ft.DeadLetterCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan failed task: %w", err)
	}
	ft.Kind = entity.TaskKind(kind)
	ft.Payload = payload
	ft.FailedAt = time.UnixMilli(failedAt).UTC()
	return &ft, nil
}
