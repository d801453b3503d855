package repository

import (
	"context"

	"github.com/user/audit-service/internal/entity"
)

// FailedTaskRepository defines the interface for the dead-letter store of
// units of work that exhausted their retries.
type FailedTaskRepository interface {
	// SaveOrUpdate records a failed task. Saving a task ID again replaces
	// its details and increments its dead-letter count.
	SaveOrUpdate(ctx context.Context, failed *entity.FailedTask) error
	// List returns up to limit failed tasks, most recent first.
	List(ctx context.Context, limit int) ([]*entity.FailedTask, error)
	// Get returns one failed task, or ErrNotFound.
	Get(ctx context.Context, taskID string) (*entity.FailedTask, error)
	// Delete removes a failed task record, typically after it was requeued.
	Delete(ctx context.Context, taskID string) error
}
