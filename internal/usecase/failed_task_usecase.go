package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/user/audit-service/internal/entity"
	"github.com/user/audit-service/internal/repository"
)

// FailedTasks defines the operations on dead-lettered units of work.
type FailedTasks interface {
	List(ctx context.Context, limit int) ([]*entity.FailedTask, error)
	// Retry puts a failed task back on the queue with a fresh attempt
	// count. It returns repository.ErrNotFound for an unknown task ID.
	Retry(ctx context.Context, taskID string) error
}

type failedTaskUseCase struct {
	failed repository.FailedTaskRepository
	queue  repository.TaskQueue
	logger *zap.Logger
}

// NewFailedTasks creates a new FailedTasks use case.
func NewFailedTasks(failed repository.FailedTaskRepository, queue repository.TaskQueue, logger *zap.Logger) FailedTasks {
	return &failedTaskUseCase{failed: failed, queue: queue, logger: logger}
}

func (uc *failedTaskUseCase) List(ctx context.Context, limit int) ([]*entity.FailedTask, error) {
	tasks, err := uc.failed.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed tasks: %w", err)
	}
	return tasks, nil
}

func (uc *failedTaskUseCase) Retry(ctx context.Context, taskID string) error {
	ft, err := uc.failed.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if _, err := uc.queue.Enqueue(ctx, ft.Task()); err != nil {
		return fmt.Errorf("failed to requeue task %s: %w", taskID, err)
	}
	if err := uc.failed.Delete(ctx, taskID); err != nil {
		uc.logger.Warn("failed to delete requeued task", zap.String("task_id", taskID), zap.Error(err))
	}
	uc.logger.Info("failed task requeued", zap.String("task_id", taskID), zap.String("kind", string(ft.Kind)))
	return nil
}
