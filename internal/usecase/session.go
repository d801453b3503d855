package usecase

import (
	"context"
	"errors"

	"github.com/user/audit-service/internal/entity"
	"github.com/user/audit-service/internal/record"
	"github.com/user/audit-service/internal/repository"
)

// errNoChange aborts an update without writing.
var errNoChange = errors.New("no change")

// recordSession reads and writes audit records on behalf of a single unit
// of work or request. Decoded records are cached for the session only.
type recordSession struct {
	store repository.RecordStore
	cache map[string]*entity.AuditRecord
}

func newRecordSession(store repository.RecordStore) *recordSession {
	return &recordSession{store: store, cache: make(map[string]*entity.AuditRecord)}
}

// load returns the record, or nil when it does not exist.
func (s *recordSession) load(ctx context.Context, id string) (*entity.AuditRecord, error) {
	if rec, ok := s.cache[id]; ok {
		return rec, nil
	}
	data, err := s.store.Get(ctx, record.Key(id))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec, err := record.Decode(data)
	if err != nil {
		return nil, err
	}
	s.cache[id] = rec
	return rec, nil
}

// save writes rec, replacing any stored version.
func (s *recordSession) save(ctx context.Context, rec *entity.AuditRecord) error {
	data, err := record.Encode(rec)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, record.Key(rec.ID), data); err != nil {
		return err
	}
	s.cache[rec.ID] = rec
	return nil
}

// update applies fn to the latest stored version of the record under the
// store's lock. fn returns errNoChange to skip the write. The returned
// record is nil when the record does not exist.
func (s *recordSession) update(ctx context.Context, id string, fn func(rec *entity.AuditRecord) error) (*entity.AuditRecord, error) {
	var result *entity.AuditRecord
	err := s.store.Update(ctx, record.Key(id), func(current []byte) ([]byte, error) {
		rec, err := record.Decode(current)
		if err != nil {
			return nil, err
		}
		result = rec
		if err := fn(rec); err != nil {
			if errors.Is(err, errNoChange) {
				return nil, nil
			}
			return nil, err
		}
		return record.Encode(rec)
	})
	if errors.Is(err, repository.ErrNotFound) {
		delete(s.cache, id)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.cache[id] = result
	return result, nil
}
