package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/audit-service/internal/entity"
	"github.com/user/audit-service/internal/repository"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, goredis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestURLStatusRepoGetSet(t *testing.T) {
	_, client := newTestClient(t)
	repo := NewURLStatusRepo(client, 0)
	ctx := context.Background()

	st, err := repo.Get(ctx, "a1", "https://example.com/x")
	require.NoError(t, err)
	assert.Nil(t, st)

	checked := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, repo.Set(ctx, "a1", "https://example.com/x", entity.URLStatus{Status: 404, CheckedAt: checked}))

	st, err = repo.Get(ctx, "a1", "https://example.com/x")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 404, st.Status)
	assert.True(t, checked.Equal(st.CheckedAt))

	// Entries are scoped per audit.
	st, err = repo.Get(ctx, "a2", "https://example.com/x")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestURLStatusRepoTTL(t *testing.T) {
	mr, client := newTestClient(t)
	repo := NewURLStatusRepo(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "a1", "u", entity.URLStatus{Status: 200, CheckedAt: time.Now()}))
	mr.FastForward(2 * time.Minute)

	st, err := repo.Get(ctx, "a1", "u")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestURLStatusRepoPurge(t *testing.T) {
	mr, client := newTestClient(t)
	repo := NewURLStatusRepo(client, 0)
	ctx := context.Background()

	for i := 0; i < 250; i++ {
		require.NoError(t, repo.Set(ctx, "a1", "https://example.com/"+strconv.Itoa(i), entity.URLStatus{Status: 200, CheckedAt: time.Now()}))
	}
	require.NoError(t, repo.Set(ctx, "a2", "https://example.com/", entity.URLStatus{Status: 200, CheckedAt: time.Now()}))

	require.NoError(t, repo.Purge(ctx, "a1"))

	assert.Len(t, mr.Keys(), 1)
	st, err := repo.Get(ctx, "a2", "https://example.com/")
	require.NoError(t, err)
	assert.NotNil(t, st)
}

func TestURLStatusRepoIgnoresCorruptEntries(t *testing.T) {
	mr, client := newTestClient(t)
	repo := NewURLStatusRepo(client, 0)

	require.NoError(t, mr.Set(repo.generateKey("a1", "u"), "garbage"))
	st, err := repo.Get(context.Background(), "a1", "u")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestQueueRepoFIFOByReadyTime(t *testing.T) {
	_, client := newTestClient(t)
	repo := NewQueueRepo(client)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	first, err := entity.NewTask("t1", entity.TaskCheckPage, entity.CheckPagePayload{AuditID: "a", PageID: "p1"})
	require.NoError(t, err)
	first.NotBefore = now.Add(-time.Second)
	second, err := entity.NewTask("t2", entity.TaskCheckPage, entity.CheckPagePayload{AuditID: "a", PageID: "p2"})
	require.NoError(t, err)
	delayed, err := entity.NewTask("t3", entity.TaskCheckLink, entity.CheckLinkPayload{AuditID: "a", URL: "*x"})
	require.NoError(t, err)
	delayed.NotBefore = now.Add(time.Minute)

	require.NoError(t, repo.EnqueueBatch(ctx, []entity.Task{delayed, second, first}))

	size, err := repo.Size(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, size)

	got, err := repo.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)

	got, err = repo.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t2", got.ID)
	var payload entity.CheckPagePayload
	require.NoError(t, got.DecodePayload(&payload))
	assert.Equal(t, "p2", payload.PageID)

	_, err = repo.Dequeue(ctx)
	assert.ErrorIs(t, err, repository.ErrQueueEmpty)

	now = now.Add(2 * time.Minute)
	got, err = repo.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t3", got.ID)
}

func TestQueueRepoIdempotencyKey(t *testing.T) {
	_, client := newTestClient(t)
	repo := NewQueueRepo(client)
	ctx := context.Background()

	newLinkTask := func() entity.Task {
		task, err := entity.NewTask("", entity.TaskCheckLink, entity.CheckLinkPayload{AuditID: "a", URL: "*x"})
		require.NoError(t, err)
		task.IdempotencyKey = "a|x"
		return task
	}

	added, err := repo.Enqueue(ctx, newLinkTask())
	require.NoError(t, err)
	assert.True(t, added)

	added, err = repo.Enqueue(ctx, newLinkTask())
	require.NoError(t, err)
	assert.False(t, added)

	got, err := repo.Dequeue(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "a|x", got.IdempotencyKey)

	// Held while the task runs.
	added, err = repo.Enqueue(ctx, newLinkTask())
	require.NoError(t, err)
	assert.False(t, added)

	require.NoError(t, repo.Complete(ctx, got))
	added, err = repo.Enqueue(ctx, newLinkTask())
	require.NoError(t, err)
	assert.True(t, added)
}

func TestQueueRepoKeyLeaseExpires(t *testing.T) {
	mr, client := newTestClient(t)
	repo := NewQueueRepo(client, WithKeyLease(time.Minute))
	ctx := context.Background()

	task, err := entity.NewTask("t1", entity.TaskCheckLink, entity.CheckLinkPayload{AuditID: "a", URL: "*x"})
	require.NoError(t, err)
	task.IdempotencyKey = "a|x"
	_, err = repo.Enqueue(ctx, task)
	require.NoError(t, err)
	assert.Zero(t, mr.TTL(queueIdemKey+"a|x"), "a queued task holds its key without expiry")

	_, err = repo.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL(queueIdemKey+"a|x"))

	retry := task
	retry.ID = "t2"
	added, err := repo.Enqueue(ctx, retry)
	require.NoError(t, err)
	assert.False(t, added)

	mr.FastForward(2 * time.Minute)
	added, err = repo.Enqueue(ctx, retry)
	require.NoError(t, err)
	assert.True(t, added)

	// The first task finishing late must not release the key now owned by t2.
	require.NoError(t, repo.Complete(ctx, task))
	assert.True(t, mr.Exists(queueIdemKey+"a|x"))
}

func TestQueueRepoBatchCollapsesDuplicateKeys(t *testing.T) {
	_, client := newTestClient(t)
	repo := NewQueueRepo(client)
	ctx := context.Background()

	var tasks []entity.Task
	for i := 0; i < 3; i++ {
		task, err := entity.NewTask("", entity.TaskCheckLink, entity.CheckLinkPayload{AuditID: "a", URL: "*x"})
		require.NoError(t, err)
		task.IdempotencyKey = "same"
		tasks = append(tasks, task)
	}
	require.NoError(t, repo.EnqueueBatch(ctx, tasks))

	size, err := repo.Size(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, size)
}
