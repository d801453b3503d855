package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/audit-service/internal/entity"
	"github.com/user/audit-service/internal/repository"
)

// QueueRepoImpl is a TaskQueue kept in process memory. Tasks are ordered by
// NotBefore, then by insertion.
type QueueRepoImpl struct {
	mu    sync.Mutex
	now   func() time.Time
	seq   uint64
	items []queuedTask
	held  map[string]string // idempotency key -> task ID
}

type queuedTask struct {
	task entity.Task
	seq  uint64
}

// NewQueueRepo creates an empty queue.
func NewQueueRepo() *QueueRepoImpl {
	return &QueueRepoImpl{now: time.Now, held: make(map[string]string)}
}

func (q *QueueRepoImpl) Enqueue(_ context.Context, task entity.Task) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	added := q.push(task)
	q.reorder()
	return added, nil
}

func (q *QueueRepoImpl) EnqueueBatch(_ context.Context, tasks []entity.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, task := range tasks {
		q.push(task)
	}
	q.reorder()
	return nil
}

func (q *QueueRepoImpl) push(task entity.Task) bool {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.NotBefore.IsZero() {
		task.NotBefore = q.now()
	}
	if task.IdempotencyKey != "" {
		if _, ok := q.held[task.IdempotencyKey]; ok {
			return false
		}
		q.held[task.IdempotencyKey] = task.ID
	}
	q.seq++
	q.items = append(q.items, queuedTask{task: task, seq: q.seq})
	return true
}

func (q *QueueRepoImpl) reorder() {
	sort.SliceStable(q.items, func(i, j int) bool {
		a, b := q.items[i], q.items[j]
		if !a.task.NotBefore.Equal(b.task.NotBefore) {
			return a.task.NotBefore.Before(b.task.NotBefore)
		}
		return a.seq < b.seq
	})
}

func (q *QueueRepoImpl) Dequeue(_ context.Context) (entity.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.items[0].task.NotBefore.After(q.now()) {
		return entity.Task{}, repository.ErrQueueEmpty
	}
	task := q.items[0].task
	q.items = q.items[1:]
	return task, nil
}

func (q *QueueRepoImpl) Complete(_ context.Context, task entity.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if task.IdempotencyKey != "" && q.held[task.IdempotencyKey] == task.ID {
		delete(q.held, task.IdempotencyKey)
	}
	return nil
}

func (q *QueueRepoImpl) Size(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

// Pending returns a copy of the queued tasks in dequeue order.
func (q *QueueRepoImpl) Pending() []entity.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]entity.Task, len(q.items))
	for i, it := range q.items {
		out[i] = it.task
	}
	return out
}
