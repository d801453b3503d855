package memory

import (
	"context"
	"sync"
	"time"

	"github.com/user/audit-service/internal/entity"
)

type urlStatusEntry struct {
	status    entity.URLStatus
	expiresAt time.Time
}

// URLStatusRepoImpl is a URLStatusCache backed by nested maps.
type URLStatusRepoImpl struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]map[string]urlStatusEntry
}

// NewURLStatusRepo creates an empty cache. A zero ttl disables expiry.
func NewURLStatusRepo(ttl time.Duration) *URLStatusRepoImpl {
	return &URLStatusRepoImpl{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]map[string]urlStatusEntry),
	}
}

func (r *URLStatusRepoImpl) Get(_ context.Context, auditID, url string) (*entity.URLStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[auditID][url]
	if !ok {
		return nil, nil
	}
	if !e.expiresAt.IsZero() && !r.now().Before(e.expiresAt) {
		return nil, nil
	}
	st := e.status
	return &st, nil
}

func (r *URLStatusRepoImpl) Set(_ context.Context, auditID, url string, status entity.URLStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byURL, ok := r.entries[auditID]
	if !ok {
		byURL = make(map[string]urlStatusEntry)
		r.entries[auditID] = byURL
	}
	e := urlStatusEntry{status: status}
	if r.ttl > 0 {
		e.expiresAt = r.now().Add(r.ttl)
	}
	byURL[url] = e
	return nil
}

func (r *URLStatusRepoImpl) Purge(_ context.Context, auditID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, auditID)
	return nil
}
