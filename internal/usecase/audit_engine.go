package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/audit-service/internal/analyzer"
	"github.com/user/audit-service/internal/entity"
	"github.com/user/audit-service/internal/repository"
	"github.com/user/audit-service/pkg/metrics"
	"github.com/user/audit-service/pkg/utils"
)

// ErrInvalidTask marks a task that can never succeed, such as an unknown
// kind or an undecodable payload. Workers drop such tasks instead of retrying.
var ErrInvalidTask = errors.New("invalid task")

// AuditEngine runs the units of work that crawl and check an audit.
// Every unit is safe to re-run: network and parse failures are recorded in
// the audit record, and only store or queue failures are returned.
type AuditEngine interface {
	HandleTask(ctx context.Context, task entity.Task) error
	Initialize(ctx context.Context, auditID string) error
	CheckPage(ctx context.Context, auditID, pageID string) error
	CheckLink(ctx context.Context, auditID, shortURL string) error
	CheckPageLink(ctx context.Context, auditID, pageID, linkID string) error
}

// EngineOption customizes an audit engine.
type EngineOption func(*auditEngine)

// WithClock replaces the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *auditEngine) { e.now = now }
}

type auditEngine struct {
	records  repository.RecordStore
	statuses repository.URLStatusCache
	queue    repository.TaskQueue
	fetcher  repository.Fetcher
	logger   *zap.Logger
	now      func() time.Time
}

// NewAuditEngine creates a new audit engine.
func NewAuditEngine(
	records repository.RecordStore,
	statuses repository.URLStatusCache,
	queue repository.TaskQueue,
	fetcher repository.Fetcher,
	logger *zap.Logger,
	opts ...EngineOption,
) AuditEngine {
	e := &auditEngine{
		records:  records,
		statuses: statuses,
		queue:    queue,
		fetcher:  fetcher,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleTask decodes a queued task and runs the matching unit of work.
func (e *auditEngine) HandleTask(ctx context.Context, task entity.Task) error {
	switch task.Kind {
	case entity.TaskInitialize:
		var p entity.InitializePayload
		if err := decodeInitializePayload(task.Payload, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTask, err)
		}
		return e.Initialize(ctx, p.AuditID)
	case entity.TaskCheckPage:
		var p entity.CheckPagePayload
		if err := task.DecodePayload(&p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTask, err)
		}
		return e.CheckPage(ctx, p.AuditID, p.PageID)
	case entity.TaskCheckLink:
		var p entity.CheckLinkPayload
		if err := task.DecodePayload(&p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTask, err)
		}
		return e.CheckLink(ctx, p.AuditID, p.URL)
	case entity.TaskCheckPageLink:
		var p entity.CheckPageLinkPayload
		if err := task.DecodePayload(&p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTask, err)
		}
		return e.CheckPageLink(ctx, p.AuditID, p.PageID, p.LinkID)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTask, task.Kind)
	}
}

// decodeInitializePayload also accepts the bare audit ID string queued by
// older releases.
func decodeInitializePayload(raw json.RawMessage, p *entity.InitializePayload) error {
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '"' {
		return json.Unmarshal(trimmed, &p.AuditID)
	}
	return json.Unmarshal(raw, p)
}

// discovery is the outcome of reading robots.txt and the sitemaps.
type discovery struct {
	allowSearchEngines *bool
	urls               []string
	errText            string
}

// Initialize discovers the pages of an audit and schedules their checks.
func (e *auditEngine) Initialize(ctx context.Context, auditID string) error {
	log := e.logger.With(zap.String("audit_id", auditID))
	session := newRecordSession(e.records)

	rec, err := session.load(ctx, auditID)
	if err != nil {
		return fmt.Errorf("failed to load audit %s: %w", auditID, err)
	}
	if rec == nil {
		log.Debug("audit no longer exists, skipping initialize")
		return nil
	}
	if rec.HasErrors() {
		return nil
	}
	if rec.Pages != nil {
		return e.resumePages(ctx, rec)
	}

	var (
		found        discovery
		verification *string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		found = e.discover(gctx, rec.BaseURL)
		return nil
	})
	g.Go(func() error {
		home := e.fetch(gctx, "home", rec.BaseURL, true)
		if home.Status == 200 {
			verification = analyzer.SiteVerification(home.Body)
		}
		return nil
	})
	_ = g.Wait()

	var tasks []entity.Task
	alreadyInitialized := false
	updated, err := session.update(ctx, auditID, func(rec *entity.AuditRecord) error {
		if rec.Pages != nil {
			alreadyInitialized = true
			return errNoChange
		}
		rec.AllowSearchEngines = found.allowSearchEngines
		rec.GoogleSiteVerification = verification
		rec.Errors = found.errText
		rec.Pages = make(map[string]*entity.PageRecord, len(found.urls))

		tasks = tasks[:0]
		for _, u := range found.urls {
			pageID := utils.HashID(u)
			page := &entity.PageRecord{URL: utils.ShortURL(rec.BaseURL, u)}
			rec.Pages[pageID] = page
			if rec.MaxPagesCount != nil && len(rec.Pages) > *rec.MaxPagesCount {
				skipped := entity.StatusSkipped
				page.Status = &skipped
				continue
			}
			task, err := e.newCheckPageTask(auditID, pageID)
			if err != nil {
				return err
			}
			tasks = append(tasks, task)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store discovered pages of audit %s: %w", auditID, err)
	}
	if updated == nil {
		log.Debug("audit deleted during discovery")
		return nil
	}
	if alreadyInitialized {
		return e.resumePages(ctx, updated)
	}
	if updated.HasErrors() {
		log.Info("audit discovery failed", zap.String("errors", updated.Errors))
		return nil
	}

	if err := e.queue.EnqueueBatch(ctx, tasks); err != nil {
		return fmt.Errorf("failed to schedule page checks of audit %s: %w", auditID, err)
	}
	log.Info("audit discovery finished",
		zap.Int("pages", len(updated.Pages)),
		zap.Int("scheduled", len(tasks)))
	return nil
}

// resumePages re-schedules checks for pages that were never fetched. It
// covers an initialize unit re-delivered after its record was written but
// before its page checks were queued.
func (e *auditEngine) resumePages(ctx context.Context, rec *entity.AuditRecord) error {
	var tasks []entity.Task
	for pageID, page := range rec.Pages {
		if page.Status != nil {
			continue
		}
		task, err := e.newCheckPageTask(rec.ID, pageID)
		if err != nil {
			return err
		}
		tasks = append(tasks, task)
	}
	if len(tasks) == 0 {
		return nil
	}
	if err := e.queue.EnqueueBatch(ctx, tasks); err != nil {
		return fmt.Errorf("failed to reschedule page checks of audit %s: %w", rec.ID, err)
	}
	e.logger.Info("rescheduled unchecked pages",
		zap.String("audit_id", rec.ID),
		zap.Int("pages", len(tasks)))
	return nil
}

func (e *auditEngine) discover(ctx context.Context, baseURL string) discovery {
	var d discovery

	robotsURL := baseURL + "robots.txt"
	robots := e.fetch(ctx, "robots", robotsURL, true)
	if robots.Status != 200 {
		d.errText = fmt.Sprintf("There is a problem with %s (status:%d)", robotsURL, robots.Status)
		return d
	}
	info := analyzer.ParseRobots(robots.Body)
	d.allowSearchEngines = &info.AllowSearchEngines

	sitemapURL := baseURL + "sitemap.xml"
	if info.SitemapURL != "" {
		sitemapURL = resolve(baseURL, info.SitemapURL)
	}

	var urls []string
	sm, errText := e.readSitemap(ctx, sitemapURL)
	if sm != nil {
		urls = append(urls, sm.URLs...)
		for _, child := range sm.Children {
			childSitemap, childErr := e.readSitemap(ctx, resolve(baseURL, child))
			if childSitemap != nil {
				urls = append(urls, childSitemap.URLs...)
			}
			if errText == "" {
				errText = childErr
			}
		}
	}
	d.urls = analyzer.UniqueURLs(urls)
	d.errText = errText
	return d
}

func (e *auditEngine) readSitemap(ctx context.Context, sitemapURL string) (*analyzer.Sitemap, string) {
	res := e.fetch(ctx, "sitemap", sitemapURL, true)
	if res.Status != 200 {
		return nil, fmt.Sprintf("There is a problem with %s (status:%d)", sitemapURL, res.Status)
	}
	sm, err := analyzer.ParseSitemap(res.Body)
	if err != nil {
		e.logger.Debug("unparsable sitemap", zap.String("url", sitemapURL), zap.Error(err))
		return nil, "Error finding URLs in " + sitemapURL
	}
	return sm, ""
}

// CheckPage fetches one page, extracts its metadata and links, and
// schedules checks for links whose status is not cached yet.
func (e *auditEngine) CheckPage(ctx context.Context, auditID, pageID string) error {
	log := e.logger.With(zap.String("audit_id", auditID), zap.String("page_id", pageID))
	session := newRecordSession(e.records)

	rec, err := session.load(ctx, auditID)
	if err != nil {
		return fmt.Errorf("failed to load audit %s: %w", auditID, err)
	}
	if rec == nil || rec.HasErrors() {
		return nil
	}
	page, ok := rec.Pages[pageID]
	if !ok {
		log.Debug("page not found in audit")
		return nil
	}
	if page.Status != nil && *page.Status == entity.StatusSkipped {
		return nil
	}

	pageURL := utils.FullURL(rec.BaseURL, page.URL)
	res := e.fetch(ctx, "page", pageURL, true)
	checkedAt := e.timestamp()
	if err := e.statuses.Set(ctx, auditID, pageURL, entity.URLStatus{Status: res.Status, CheckedAt: checkedAt}); err != nil {
		return fmt.Errorf("failed to cache status of %s: %w", pageURL, err)
	}

	var (
		analysis *analyzer.Page
		links    map[string]*entity.LinkRecord
		pending  []pendingLink
	)
	if res.Status == 200 {
		analysis, err = e.analyze(pageURL, res.Body)
		if err != nil {
			log.Warn("failed to analyze page", zap.String("url", pageURL), zap.Error(err))
			analysis = &analyzer.Page{}
		}
		links, pending, err = e.buildLinks(ctx, auditID, rec.BaseURL, analysis.Links)
		if err != nil {
			return err
		}
	}

	updated, err := session.update(ctx, auditID, func(rec *entity.AuditRecord) error {
		if rec.HasErrors() {
			return errNoChange
		}
		page, ok := rec.Pages[pageID]
		if !ok {
			return errNoChange
		}
		status := res.Status
		page.Status = &status
		page.CheckedAt = &checkedAt
		if analysis == nil {
			clearPageData(page)
			return nil
		}
		page.Title = analysis.Title
		page.Description = analysis.Description
		page.Keywords = analysis.Keywords
		page.OpenGraphImage = analysis.OpenGraphImage
		page.Content = analysis.Content
		if page.Content == nil {
			empty := ""
			page.Content = &empty
		}
		page.Links = mergeLinks(page.Links, links)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store page %s of audit %s: %w", pageID, auditID, err)
	}
	if updated == nil {
		e.purgeStatuses(ctx, auditID)
		return nil
	}
	if updated.HasErrors() || updated.Pages[pageID] == nil {
		return nil
	}

	pending, err = e.settleCachedLinks(ctx, session, auditID, pending)
	if err != nil {
		return err
	}
	if err := e.scheduleLinkChecks(ctx, auditID, pending); err != nil {
		return err
	}
	log.Info("page checked",
		zap.String("url", pageURL),
		zap.Int("status", res.Status),
		zap.Int("links", len(links)),
		zap.Int("scheduled_links", len(pending)))
	return nil
}

// pendingLink is a distinct link URL with no cached status.
type pendingLink struct {
	shortURL string
	absURL   string
}

// buildLinks converts analyzed links to records, resolving what the status
// cache already knows. It returns one pendingLink per distinct URL left.
func (e *auditEngine) buildLinks(ctx context.Context, auditID, baseURL string, found []analyzer.Link) (map[string]*entity.LinkRecord, []pendingLink, error) {
	links := make(map[string]*entity.LinkRecord, len(found))
	var pending []pendingLink
	seen := make(map[string]bool)
	for _, l := range found {
		link := &entity.LinkRecord{
			URL:      utils.ShortURL(baseURL, l.URL),
			Title:    l.Title,
			Position: l.Position,
		}
		links[l.ID] = link

		cached, err := e.statuses.Get(ctx, auditID, l.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read cached status of %s: %w", l.URL, err)
		}
		if cached != nil {
			metrics.LinkCacheHits.Inc()
			link.Resolve(cached.Status, cached.CheckedAt)
			continue
		}
		if !seen[l.URL] {
			seen[l.URL] = true
			pending = append(pending, pendingLink{shortURL: link.URL, absURL: l.URL})
		}
	}
	return links, pending, nil
}

// settleCachedLinks patches links whose status was cached after buildLinks
// ran, and returns the links still unknown. A check of the same URL running
// elsewhere holds its idempotency key, so a link it may have missed in its
// own scan must be settled here.
func (e *auditEngine) settleCachedLinks(ctx context.Context, session *recordSession, auditID string, pending []pendingLink) ([]pendingLink, error) {
	resolved := make(map[string]entity.URLStatus)
	var remaining []pendingLink
	for _, p := range pending {
		cached, err := e.statuses.Get(ctx, auditID, p.absURL)
		if err != nil {
			return nil, fmt.Errorf("failed to read cached status of %s: %w", p.absURL, err)
		}
		if cached == nil {
			remaining = append(remaining, p)
			continue
		}
		metrics.LinkCacheHits.Inc()
		resolved[p.shortURL] = *cached
	}
	if len(resolved) == 0 {
		return remaining, nil
	}
	if _, err := e.patchLinks(ctx, session, auditID, resolved); err != nil {
		return nil, err
	}
	return remaining, nil
}

func (e *auditEngine) scheduleLinkChecks(ctx context.Context, auditID string, pending []pendingLink) error {
	if len(pending) == 0 {
		return nil
	}
	tasks := make([]entity.Task, 0, len(pending))
	for _, p := range pending {
		task, err := entity.NewTask(uuid.NewString(), entity.TaskCheckLink, entity.CheckLinkPayload{AuditID: auditID, URL: p.shortURL})
		if err != nil {
			return err
		}
		task.IdempotencyKey = utils.HashKey(string(entity.TaskCheckLink), auditID, p.absURL)
		tasks = append(tasks, task)
	}
	if err := e.queue.EnqueueBatch(ctx, tasks); err != nil {
		return fmt.Errorf("failed to schedule link checks of audit %s: %w", auditID, err)
	}
	return nil
}

// CheckLink resolves the status of one link URL and applies it to every
// unresolved occurrence of that URL in the audit.
func (e *auditEngine) CheckLink(ctx context.Context, auditID, shortURL string) error {
	session := newRecordSession(e.records)
	rec, err := session.load(ctx, auditID)
	if err != nil {
		return fmt.Errorf("failed to load audit %s: %w", auditID, err)
	}
	if rec == nil || rec.HasErrors() {
		return nil
	}
	return e.resolveLink(ctx, session, rec, shortURL)
}

// CheckPageLink resolves a single link occurrence.
func (e *auditEngine) CheckPageLink(ctx context.Context, auditID, pageID, linkID string) error {
	session := newRecordSession(e.records)
	rec, err := session.load(ctx, auditID)
	if err != nil {
		return fmt.Errorf("failed to load audit %s: %w", auditID, err)
	}
	if rec == nil || rec.HasErrors() {
		return nil
	}
	page, ok := rec.Pages[pageID]
	if !ok {
		return nil
	}
	link, ok := page.Links[linkID]
	if !ok || link.Resolved() {
		return nil
	}
	return e.resolveLink(ctx, session, rec, link.URL)
}

func (e *auditEngine) resolveLink(ctx context.Context, session *recordSession, rec *entity.AuditRecord, shortURL string) error {
	linkURL := utils.FullURL(rec.BaseURL, shortURL)

	status, err := e.statuses.Get(ctx, rec.ID, linkURL)
	if err != nil {
		return fmt.Errorf("failed to read cached status of %s: %w", linkURL, err)
	}
	if status != nil {
		metrics.LinkCacheHits.Inc()
	} else {
		res := e.fetch(ctx, "link", linkURL, false)
		status = &entity.URLStatus{Status: res.Status, CheckedAt: e.timestamp()}
		if err := e.statuses.Set(ctx, rec.ID, linkURL, *status); err != nil {
			return fmt.Errorf("failed to cache status of %s: %w", linkURL, err)
		}
	}

	patched, err := e.patchLinks(ctx, session, rec.ID, map[string]entity.URLStatus{shortURL: *status})
	if err != nil {
		return err
	}
	e.logger.Debug("link checked",
		zap.String("audit_id", rec.ID),
		zap.String("url", linkURL),
		zap.Int("status", status.Status),
		zap.Int("occurrences", patched))
	return nil
}

// patchLinks resolves every unresolved link of the audit whose short URL is
// in resolved, and returns how many changed. When the audit is gone its
// cached statuses are purged, since they may have been written after
// deletion.
func (e *auditEngine) patchLinks(ctx context.Context, session *recordSession, auditID string, resolved map[string]entity.URLStatus) (int, error) {
	patched := 0
	updated, err := session.update(ctx, auditID, func(rec *entity.AuditRecord) error {
		if rec.HasErrors() {
			return errNoChange
		}
		patched = 0
		for _, page := range rec.Pages {
			for _, link := range page.Links {
				status, ok := resolved[link.URL]
				if ok && link.Resolve(status.Status, status.CheckedAt) {
					patched++
				}
			}
		}
		if patched == 0 {
			return errNoChange
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store link statuses in audit %s: %w", auditID, err)
	}
	if updated == nil {
		e.purgeStatuses(ctx, auditID)
	}
	return patched, nil
}

// purgeStatuses drops cached statuses of a deleted audit.
func (e *auditEngine) purgeStatuses(ctx context.Context, auditID string) {
	if err := e.statuses.Purge(ctx, auditID); err != nil {
		e.logger.Warn("failed to purge cached url statuses",
			zap.String("audit_id", auditID), zap.Error(err))
	}
}

func (e *auditEngine) newCheckPageTask(auditID, pageID string) (entity.Task, error) {
	task, err := entity.NewTask(uuid.NewString(), entity.TaskCheckPage, entity.CheckPagePayload{AuditID: auditID, PageID: pageID})
	if err != nil {
		return entity.Task{}, err
	}
	task.IdempotencyKey = utils.HashKey(string(entity.TaskCheckPage), auditID, pageID)
	return task, nil
}

func (e *auditEngine) analyze(pageURL string, body []byte) (*analyzer.Page, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	return analyzer.AnalyzePage(u, body)
}

// fetch wraps the fetcher with metrics.
func (e *auditEngine) fetch(ctx context.Context, kind, target string, wantBody bool) entity.FetchResult {
	start := time.Now()
	res := e.fetcher.Fetch(ctx, target, wantBody)
	metrics.FetchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	metrics.FetchesTotal.WithLabelValues(kind, metrics.FetchOutcome(res.Status)).Inc()
	return res
}

// timestamp is the engine's clock at second precision, in UTC.
func (e *auditEngine) timestamp() time.Time {
	return e.now().UTC().Truncate(time.Second)
}

// mergeLinks returns fresh, keeping statuses already recorded on old links
// with the same ID.
func mergeLinks(old, fresh map[string]*entity.LinkRecord) map[string]*entity.LinkRecord {
	if fresh == nil {
		fresh = make(map[string]*entity.LinkRecord)
	}
	for id, link := range fresh {
		prev, ok := old[id]
		if ok && prev.Resolved() && !link.Resolved() {
			link.Resolve(*prev.Status, *prev.CheckedAt)
		}
	}
	return fresh
}

func clearPageData(page *entity.PageRecord) {
	page.Title = nil
	page.Description = nil
	page.Keywords = nil
	page.OpenGraphImage = nil
	page.Content = nil
	page.Links = nil
}

func resolve(baseURL, ref string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return ref
	}
	abs, err := utils.ToAbsoluteURL(base, ref)
	if err != nil {
		return ref
	}
	return abs
}
