package repository

import (
	"context"

	"github.com/user/audit-service/internal/entity"
)

// TaskQueue defines the interface for the queue of pending units of work.
type TaskQueue interface {
	// Enqueue adds a task. When the task carries an idempotency key that is
	// already held by a queued task, the call is a no-op and reports false.
	Enqueue(ctx context.Context, task entity.Task) (bool, error)
	// EnqueueBatch adds all tasks together, applying the same idempotency
	// rule per task.
	EnqueueBatch(ctx context.Context, tasks []entity.Task) error
	// Dequeue removes and returns the next task whose NotBefore has passed,
	// or ErrQueueEmpty. The task keeps holding its idempotency key until
	// Complete is called.
	Dequeue(ctx context.Context) (entity.Task, error)
	// Complete releases the idempotency key held by a dequeued task. It must
	// be called once the task has finished, before any retry is enqueued.
	Complete(ctx context.Context, task entity.Task) error
	// Size returns the number of queued tasks, ready or delayed.
	Size(ctx context.Context) (int64, error)
}

// Pinger is implemented by backends that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}
