package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/audit-service/internal/entity"
	"github.com/user/audit-service/internal/repository"
)

func TestRecordRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewRecordRepo()

	_, err := repo.Get(ctx, "audits/a.json")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	value := []byte("abc")
	require.NoError(t, repo.Set(ctx, "audits/a.json", value))
	value[0] = 'x'

	got, err := repo.Get(ctx, "audits/a.json")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got), "stored value must not alias the caller's slice")

	require.NoError(t, repo.Set(ctx, "other", []byte("1")))
	keys, err := repo.Keys(ctx, "audits/")
	require.NoError(t, err)
	assert.Equal(t, []string{"audits/a.json"}, keys)

	require.NoError(t, repo.Delete(ctx, "audits/a.json"))
	require.NoError(t, repo.Delete(ctx, "audits/a.json"))
}

func TestRecordRepoUpdateIsAtomic(t *testing.T) {
	ctx := context.Background()
	repo := NewRecordRepo()
	require.NoError(t, repo.Set(ctx, "k", []byte{0}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = repo.Update(ctx, "k", func(cur []byte) ([]byte, error) {
				return []byte{cur[0] + 1}, nil
			})
		}()
	}
	wg.Wait()

	got, err := repo.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte{50}, got)

	assert.ErrorIs(t, repo.Update(ctx, "missing", func([]byte) ([]byte, error) { return []byte{1}, nil }), repository.ErrNotFound)
}

func TestURLStatusRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewURLStatusRepo(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	require.NoError(t, repo.Set(ctx, "a", "u", entity.URLStatus{Status: 301, CheckedAt: now}))
	st, err := repo.Get(ctx, "a", "u")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 301, st.Status)

	st, err = repo.Get(ctx, "b", "u")
	require.NoError(t, err)
	assert.Nil(t, st)

	now = now.Add(2 * time.Minute)
	st, err = repo.Get(ctx, "a", "u")
	require.NoError(t, err)
	assert.Nil(t, st)

	require.NoError(t, repo.Set(ctx, "a", "u", entity.URLStatus{Status: 200, CheckedAt: now}))
	require.NoError(t, repo.Purge(ctx, "a"))
	st, err = repo.Get(ctx, "a", "u")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestQueueRepo(t *testing.T) {
	ctx := context.Background()
	q := NewQueueRepo()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	later := entity.Task{ID: "later", Kind: entity.TaskCheckLink, NotBefore: now.Add(time.Minute)}
	a := entity.Task{ID: "a", Kind: entity.TaskCheckPage}
	b := entity.Task{ID: "b", Kind: entity.TaskCheckPage}
	require.NoError(t, q.EnqueueBatch(ctx, []entity.Task{later, a, b}))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)
	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", got.ID)

	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, repository.ErrQueueEmpty)

	now = now.Add(time.Minute)
	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "later", got.ID)
}

func TestQueueRepoIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	q := NewQueueRepo()

	task := entity.Task{Kind: entity.TaskCheckLink, IdempotencyKey: "k"}
	added, err := q.Enqueue(ctx, task)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = q.Enqueue(ctx, task)
	require.NoError(t, err)
	assert.False(t, added)

	size, err := q.Size(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, size)

	running, err := q.Dequeue(ctx)
	require.NoError(t, err)

	added, err = q.Enqueue(ctx, task)
	require.NoError(t, err)
	assert.False(t, added, "key stays held while the task runs")

	require.NoError(t, q.Complete(ctx, entity.Task{ID: "other", IdempotencyKey: "k"}))
	added, err = q.Enqueue(ctx, task)
	require.NoError(t, err)
	assert.False(t, added, "only the owning task releases the key")

	require.NoError(t, q.Complete(ctx, running))
	added, err = q.Enqueue(ctx, task)
	require.NoError(t, err)
	assert.True(t, added)
}

func TestFailedTaskRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewFailedTaskRepo()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.SaveOrUpdate(ctx, &entity.FailedTask{TaskID: "old", FailedAt: base}))
	require.NoError(t, repo.SaveOrUpdate(ctx, &entity.FailedTask{TaskID: "new", FailedAt: base.Add(time.Hour)}))
	require.NoError(t, repo.SaveOrUpdate(ctx, &entity.FailedTask{TaskID: "old", FailedAt: base, FailureReason: "again"}))

	list, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].TaskID)
	assert.Equal(t, 2, list[1].DeadLetterCount)
	assert.Equal(t, "again", list[1].FailureReason)

	list, err = repo.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, repo.Delete(ctx, "old"))
	_, err = repo.Get(ctx, "old")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
