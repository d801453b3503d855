// Package memory provides in-process implementations of the repository
// interfaces for single-node runs and tests.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/user/audit-service/internal/repository"
)

// RecordRepoImpl is a RecordStore backed by a map.
type RecordRepoImpl struct {
	mu     sync.Mutex
	values map[string][]byte
}

// NewRecordRepo creates an empty RecordRepoImpl.
func NewRecordRepo() *RecordRepoImpl {
	return &RecordRepoImpl{values: make(map[string][]byte)}
}

func (r *RecordRepoImpl) Get(_ context.Context, key string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(v), nil
}

func (r *RecordRepoImpl) Set(_ context.Context, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = clone(value)
	return nil
}

func (r *RecordRepoImpl) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.values, key)
	return nil
}

// Update holds the store lock while fn runs.
func (r *RecordRepoImpl) Update(_ context.Context, key string, fn repository.UpdateFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[key]
	if !ok {
		return repository.ErrNotFound
	}
	next, err := fn(clone(v))
	if err != nil {
		return err
	}
	if next != nil {
		r.values[key] = clone(next)
	}
	return nil
}

func (r *RecordRepoImpl) Keys(_ context.Context, prefix string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []string
	for k := range r.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
