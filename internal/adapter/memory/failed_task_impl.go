package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/user/audit-service/internal/entity"
	"github.com/user/audit-service/internal/repository"
)

// FailedTaskRepoImpl is a FailedTaskRepository kept in process memory.
type FailedTaskRepoImpl struct {
	mu    sync.Mutex
	tasks map[string]entity.FailedTask
}

func NewFailedTaskRepo() *FailedTaskRepoImpl {
	return &FailedTaskRepoImpl{tasks: make(map[string]entity.FailedTask)}
}

func (r *FailedTaskRepoImpl) SaveOrUpdate(_ context.Context, failed *entity.FailedTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ft := *failed
	ft.DeadLetterCount = r.tasks[ft.TaskID].DeadLetterCount + 1
	r.tasks[ft.TaskID] = ft
	return nil
}

func (r *FailedTaskRepoImpl) List(_ context.Context, limit int) ([]*entity.FailedTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.FailedTask, 0, len(r.tasks))
	for _, ft := range r.tasks {
		ft := ft
		out = append(out, &ft)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FailedAt.Equal(out[j].FailedAt) {
			return out[i].FailedAt.After(out[j].FailedAt)
		}
		return out[i].TaskID < out[j].TaskID
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *FailedTaskRepoImpl) Get(_ context.Context, taskID string) (*entity.FailedTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ft, ok := r.tasks[taskID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &ft, nil
}

func (r *FailedTaskRepoImpl) Delete(_ context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, taskID)
	return nil
}
