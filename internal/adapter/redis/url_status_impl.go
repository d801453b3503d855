package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/audit-service/internal/entity"
	"github.com/user/audit-service/pkg/utils"
)

const urlStatusPrefix = "audit:urlstatus:"

// URLStatusRepoImpl provides a concrete implementation for the URLStatusCache interface using Redis.
type URLStatusRepoImpl struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewURLStatusRepo creates a new instance of URLStatusRepoImpl. A zero ttl
// keeps entries until the audit is purged.
func NewURLStatusRepo(client redis.UniversalClient, ttl time.Duration) *URLStatusRepoImpl {
	return &URLStatusRepoImpl{client: client, ttl: ttl}
}

func auditPrefix(auditID string) string {
	return urlStatusPrefix + utils.HashID(auditID) + ":"
}

// generateKey creates a consistent Redis key for a URL within an audit by hashing both.
func (r *URLStatusRepoImpl) generateKey(auditID, url string) string {
	return auditPrefix(auditID) + utils.HashKey(url)
}

// Get returns the cached status, or nil when the URL has not been checked.
func (r *URLStatusRepoImpl) Get(ctx context.Context, auditID, url string) (*entity.URLStatus, error) {
	raw, err := r.client.Get(ctx, r.generateKey(auditID, url)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read url status: %w", err)
	}

	// Entries are stored as [status, checkedAt].
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
		return nil, nil
	}
	var st entity.URLStatus
	if err := json.Unmarshal(pair[0], &st.Status); err != nil {
		return nil, nil
	}
	if err := json.Unmarshal(pair[1], &st.CheckedAt); err != nil {
		return nil, nil
	}
	return &st, nil
}

// Set stores the status of url.
func (r *URLStatusRepoImpl) Set(ctx context.Context, auditID, url string, status entity.URLStatus) error {
	value, err := json.Marshal([]any{status.Status, status.CheckedAt.UTC()})
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.generateKey(auditID, url), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write url status: %w", err)
	}
	return nil
}

// Purge removes every cached status of an audit.
func (r *URLStatusRepoImpl) Purge(ctx context.Context, auditID string) error {
	iter := r.client.Scan(ctx, 0, auditPrefix(auditID)+"*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("failed to purge url statuses: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan url statuses: %w", err)
	}
	if len(batch) > 0 {
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("failed to purge url statuses: %w", err)
		}
	}
	return nil
}
