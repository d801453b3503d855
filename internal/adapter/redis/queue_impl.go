package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/user/audit-service/internal/entity"
	"github.com/user/audit-service/internal/repository"
)

const (
	queueKey       = "audit:queue"
	queueTasksKey  = "audit:queue:tasks"
	queueIdemOfKey = "audit:queue:idem-of"
	queueIdemKey   = "audit:queue:idem:"
)

// enqueueScript adds tasks given as ARGV quadruples (id, score, payload,
// idempotency key). A task whose idempotency key is already held is skipped.
var enqueueScript = redis.NewScript(`
	local added = 0
	for i = 1, #ARGV, 4 do
		local id, score, payload, idem = ARGV[i], ARGV[i+1], ARGV[i+2], ARGV[i+3]
		local ok = true
		if idem ~= "" then
			ok = redis.call("set", idem, id, "NX")
		end
		if ok then
			redis.call("hset", KEYS[2], id, payload)
			redis.call("zadd", KEYS[1], score, id)
			if idem ~= "" then
				redis.call("hset", KEYS[3], id, idem)
			end
			added = added + 1
		end
	end
	return added
`)

// dequeueScript pops the earliest task due at ARGV[1]. Its idempotency key
// stays held for ARGV[2] milliseconds, or until the task is completed.
var dequeueScript = redis.NewScript(`
	local ids = redis.call("zrangebyscore", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 1)
	if #ids == 0 then
		return false
	end
	local id = ids[1]
	redis.call("zrem", KEYS[1], id)
	local payload = redis.call("hget", KEYS[2], id)
	redis.call("hdel", KEYS[2], id)
	local idem = redis.call("hget", KEYS[3], id)
	if idem then
		if redis.call("get", idem) == id then
			redis.call("pexpire", idem, ARGV[2])
		end
		redis.call("hdel", KEYS[3], id)
	end
	if not payload then
		return false
	end
	return payload
`)

// completeScript releases an idempotency key if the task still owns it.
var completeScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// defaultKeyLease bounds how long a dequeued task holds its idempotency key
// when its worker dies before completing it.
const defaultKeyLease = 15 * time.Minute

// QueueRepoImpl provides a concrete implementation for the TaskQueue interface
// using a Redis sorted set scored by the time a task becomes ready.
type QueueRepoImpl struct {
	client redis.UniversalClient
	now    func() time.Time
	lease  time.Duration
}

// QueueOption customizes a QueueRepoImpl.
type QueueOption func(*QueueRepoImpl)

// WithKeyLease sets how long a dequeued task may hold its idempotency key.
func WithKeyLease(d time.Duration) QueueOption {
	return func(r *QueueRepoImpl) {
		if d > 0 {
			r.lease = d
		}
	}
}

// NewQueueRepo creates a new instance of QueueRepoImpl.
func NewQueueRepo(client redis.UniversalClient, opts ...QueueOption) *QueueRepoImpl {
	r := &QueueRepoImpl{client: client, now: time.Now, lease: defaultKeyLease}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enqueue adds a single task.
func (r *QueueRepoImpl) Enqueue(ctx context.Context, task entity.Task) (bool, error) {
	added, err := r.enqueue(ctx, []entity.Task{task})
	return added == 1, err
}

// EnqueueBatch adds all tasks in one atomic script call.
func (r *QueueRepoImpl) EnqueueBatch(ctx context.Context, tasks []entity.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	_, err := r.enqueue(ctx, tasks)
	return err
}

func (r *QueueRepoImpl) enqueue(ctx context.Context, tasks []entity.Task) (int, error) {
	args := make([]any, 0, len(tasks)*4)
	for _, task := range tasks {
		if task.ID == "" {
			task.ID = uuid.NewString()
		}
		if task.NotBefore.IsZero() {
			task.NotBefore = r.now()
		}
		payload, err := json.Marshal(task)
		if err != nil {
			return 0, fmt.Errorf("failed to encode task %s: %w", task.ID, err)
		}
		idem := ""
		if task.IdempotencyKey != "" {
			idem = queueIdemKey + task.IdempotencyKey
		}
		args = append(args, task.ID, strconv.FormatInt(task.NotBefore.UnixMilli(), 10), payload, idem)
	}

	added, err := enqueueScript.Run(ctx, r.client, []string{queueKey, queueTasksKey, queueIdemOfKey}, args...).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue tasks: %w", err)
	}
	return added, nil
}

// Dequeue pops the next ready task.
func (r *QueueRepoImpl) Dequeue(ctx context.Context) (entity.Task, error) {
	now := strconv.FormatInt(r.now().UnixMilli(), 10)
	lease := strconv.FormatInt(r.lease.Milliseconds(), 10)
	raw, err := dequeueScript.Run(ctx, r.client, []string{queueKey, queueTasksKey, queueIdemOfKey}, now, lease).Text()
	if errors.Is(err, redis.Nil) {
		return entity.Task{}, repository.ErrQueueEmpty
	}
	if err != nil {
		return entity.Task{}, fmt.Errorf("failed to dequeue task: %w", err)
	}

	var task entity.Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return entity.Task{}, fmt.Errorf("failed to decode task: %w", err)
	}
	return task, nil
}

// Complete releases the task's idempotency key.
func (r *QueueRepoImpl) Complete(ctx context.Context, task entity.Task) error {
	if task.IdempotencyKey == "" {
		return nil
	}
	if err := completeScript.Run(ctx, r.client, []string{queueIdemKey + task.IdempotencyKey}, task.ID).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key of task %s: %w", task.ID, err)
	}
	return nil
}

// Size returns the current number of items in the queue.
func (r *QueueRepoImpl) Size(ctx context.Context) (int64, error) {
	return r.client.ZCard(ctx, queueKey).Result()
}

func (r *QueueRepoImpl) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
