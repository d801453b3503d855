package usecase

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/audit-service/internal/entity"
	"github.com/user/audit-service/internal/record"
	"github.com/user/audit-service/internal/repository"
	"github.com/user/audit-service/pkg/metrics"
	"github.com/user/audit-service/pkg/utils"
)

// ErrInvalidMaxPages is returned by Request for a negative page cap. A cap of
// zero is valid: every discovered page is skipped.
var ErrInvalidMaxPages = errors.New("max pages count must not be negative")

// AuditManager defines the public operations on audits.
type AuditManager interface {
	// List enumerates every stored audit lazily, in no particular order.
	List(ctx context.Context) iter.Seq2[entity.AuditSummary, error]
	// Request creates an audit of the configured site and schedules its
	// initialization. It returns without waiting for the crawl.
	Request(ctx context.Context, maxPagesCount *int) (string, error)
	// Delete removes an audit. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, id string) error
	GetStatus(ctx context.Context, id string) (entity.AuditStatus, error)
	GetResults(ctx context.Context, id string) (entity.AuditResults, error)
}

// ManagerConfig holds the site-level settings of the audit manager.
type ManagerConfig struct {
	BaseURL string
	// DefaultMaxPagesCount applies to requests without a page cap; zero
	// means unbounded.
	DefaultMaxPagesCount int
}

type auditManager struct {
	cfg      ManagerConfig
	records  repository.RecordStore
	statuses repository.URLStatusCache
	queue    repository.TaskQueue
	logger   *zap.Logger
	now      func() time.Time
}

// NewAuditManager creates a new audit manager.
func NewAuditManager(
	cfg ManagerConfig,
	records repository.RecordStore,
	statuses repository.URLStatusCache,
	queue repository.TaskQueue,
	logger *zap.Logger,
) AuditManager {
	return &auditManager{
		cfg:      cfg,
		records:  records,
		statuses: statuses,
		queue:    queue,
		logger:   logger,
		now:      time.Now,
	}
}

func (m *auditManager) List(ctx context.Context) iter.Seq2[entity.AuditSummary, error] {
	return func(yield func(entity.AuditSummary, error) bool) {
		keys, err := m.records.Keys(ctx, record.KeyPrefix)
		if err != nil {
			yield(entity.AuditSummary{}, fmt.Errorf("failed to list audits: %w", err))
			return
		}
		for _, key := range keys {
			if !record.IsKey(key) {
				continue
			}
			data, err := m.records.Get(ctx, key)
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			if err != nil {
				if !yield(entity.AuditSummary{}, fmt.Errorf("failed to read %s: %w", key, err)) {
					return
				}
				continue
			}
			rec, err := record.Decode(data)
			if err != nil {
				m.logger.Warn("skipping undecodable audit record", zap.String("key", key), zap.Error(err))
				continue
			}
			if !yield(entity.AuditSummary{ID: rec.ID, RequestedAt: rec.RequestedAt}, nil) {
				return
			}
		}
	}
}

func (m *auditManager) Request(ctx context.Context, maxPagesCount *int) (string, error) {
	if maxPagesCount != nil && *maxPagesCount < 0 {
		return "", ErrInvalidMaxPages
	}
	if maxPagesCount == nil && m.cfg.DefaultMaxPagesCount > 0 {
		maxPagesCount = intPtr(m.cfg.DefaultMaxPagesCount)
	}

	rec := &entity.AuditRecord{
		ID:            uuid.NewString(),
		BaseURL:       m.cfg.BaseURL,
		RequestedAt:   m.now().UTC().Truncate(time.Second),
		MaxPagesCount: maxPagesCount,
	}
	if err := newRecordSession(m.records).save(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to store new audit: %w", err)
	}

	task, err := entity.NewTask(uuid.NewString(), entity.TaskInitialize, entity.InitializePayload{AuditID: rec.ID})
	if err != nil {
		return "", err
	}
	task.IdempotencyKey = utils.HashKey(string(entity.TaskInitialize), rec.ID)
	if _, err := m.queue.Enqueue(ctx, task); err != nil {
		return "", fmt.Errorf("failed to schedule audit %s: %w", rec.ID, err)
	}

	metrics.AuditsRequested.Inc()
	m.logger.Info("audit requested",
		zap.String("audit_id", rec.ID),
		zap.String("base_url", rec.BaseURL))
	return rec.ID, nil
}

func (m *auditManager) Delete(ctx context.Context, id string) error {
	if err := m.records.Delete(ctx, record.Key(id)); err != nil {
		return fmt.Errorf("failed to delete audit %s: %w", id, err)
	}
	if err := m.statuses.Purge(ctx, id); err != nil {
		m.logger.Warn("failed to purge cached url statuses", zap.String("audit_id", id), zap.Error(err))
	}
	m.logger.Info("audit deleted", zap.String("audit_id", id))
	return nil
}

func (m *auditManager) GetStatus(ctx context.Context, id string) (entity.AuditStatus, error) {
	rec, err := newRecordSession(m.records).load(ctx, id)
	if err != nil {
		return entity.AuditStatus{}, fmt.Errorf("failed to load audit %s: %w", id, err)
	}
	return ComputeStatus(id, rec), nil
}

func (m *auditManager) GetResults(ctx context.Context, id string) (entity.AuditResults, error) {
	results := entity.AuditResults{ID: id, Pages: []entity.PageResult{}}
	rec, err := newRecordSession(m.records).load(ctx, id)
	if err != nil {
		return results, fmt.Errorf("failed to load audit %s: %w", id, err)
	}
	if rec == nil {
		return results, nil
	}

	requestedAt := rec.RequestedAt
	results.RequestedAt = &requestedAt
	results.MaxPagesCount = rec.MaxPagesCount
	results.AllowSearchEngines = rec.AllowSearchEngines
	results.GoogleSiteVerification = rec.GoogleSiteVerification

	for pageID, page := range rec.Pages {
		pr := entity.PageResult{
			ID:             pageID,
			URL:            utils.FullURL(rec.BaseURL, page.URL),
			Status:         page.Status,
			CheckedAt:      page.CheckedAt,
			Title:          page.Title,
			Description:    page.Description,
			Keywords:       page.Keywords,
			Content:        page.Content,
			OpenGraphImage: page.OpenGraphImage,
		}
		if page.Links != nil {
			pr.Links = linkResults(rec.BaseURL, page.Links)
		}
		results.Pages = append(results.Pages, pr)
	}
	sort.Slice(results.Pages, func(i, j int) bool {
		if results.Pages[i].URL != results.Pages[j].URL {
			return results.Pages[i].URL < results.Pages[j].URL
		}
		return results.Pages[i].ID < results.Pages[j].ID
	})
	return results, nil
}

func linkResults(baseURL string, links map[string]*entity.LinkRecord) []entity.LinkResult {
	type ordered struct {
		position int
		result   entity.LinkResult
	}
	list := make([]ordered, 0, len(links))
	for linkID, link := range links {
		list = append(list, ordered{
			position: link.Position,
			result: entity.LinkResult{
				ID:        linkID,
				URL:       utils.FullURL(baseURL, link.URL),
				Title:     link.Title,
				Status:    link.Status,
				CheckedAt: link.CheckedAt,
			},
		})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].position != list[j].position {
			return list[i].position < list[j].position
		}
		return list[i].result.ID < list[j].result.ID
	})
	out := make([]entity.LinkResult, len(list))
	for i, l := range list {
		out[i] = l.result
	}
	return out
}
