package repository

import (
	"context"

	"github.com/user/audit-service/internal/entity"
)

// URLStatusCache defines the interface for the per-audit cache of fetched
// URL statuses, used to deduplicate link checks.
type URLStatusCache interface {
	// Get returns the cached status of url within an audit, or nil on a miss.
	Get(ctx context.Context, auditID, url string) (*entity.URLStatus, error)
	// Set records the status of url within an audit.
	Set(ctx context.Context, auditID, url string, status entity.URLStatus) error
	// Purge drops every entry belonging to an audit.
	Purge(ctx context.Context, auditID string) error
}
