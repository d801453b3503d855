package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/audit-service/internal/adapter/memory"
	"github.com/user/audit-service/internal/entity"
	"github.com/user/audit-service/internal/record"
)

func TestRequestCreatesRunningAudit(t *testing.T) {
	h := newHarness(t, map[string]string{})
	ctx := context.Background()

	id, err := h.manager.Request(ctx, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	status, err := h.manager.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.AuditRunning, status.Status)
	assert.Equal(t, intPtr(0), status.Percent)
	assert.NotNil(t, status.RequestedAt)

	rec := h.load(t, id)
	assert.Equal(t, h.base, rec.BaseURL)
	assert.Nil(t, rec.Pages)
	assert.Nil(t, rec.MaxPagesCount)

	pending := h.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, entity.TaskInitialize, pending[0].Kind)
	var payload entity.InitializePayload
	require.NoError(t, pending[0].DecodePayload(&payload))
	assert.Equal(t, id, payload.AuditID)
}

func TestRequestValidatesAndDefaultsMaxPages(t *testing.T) {
	records := memory.NewRecordRepo()
	queue := memory.NewQueueRepo()
	manager := NewAuditManager(ManagerConfig{BaseURL: "https://example.com/", DefaultMaxPagesCount: 25},
		records, memory.NewURLStatusRepo(0), queue, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := manager.Request(ctx, intPtr(-1))
	assert.ErrorIs(t, err, ErrInvalidMaxPages)
	assert.Empty(t, queue.Pending())

	id, err := manager.Request(ctx, intPtr(0))
	require.NoError(t, err)
	results, err := manager.GetResults(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, intPtr(0), results.MaxPagesCount)

	id, err = manager.Request(ctx, nil)
	require.NoError(t, err)
	results, err = manager.GetResults(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, intPtr(25), results.MaxPagesCount)

	id, err = manager.Request(ctx, intPtr(3))
	require.NoError(t, err)
	results, err = manager.GetResults(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, intPtr(3), results.MaxPagesCount)
}

func TestUnknownAuditDefaults(t *testing.T) {
	h := newHarness(t, map[string]string{})
	ctx := context.Background()

	status, err := h.manager.GetStatus(ctx, "nope")
	require.NoError(t, err)
	assert.Equal(t, entity.AuditStatus{ID: "nope", Status: entity.AuditNotFound}, status)

	results, err := h.manager.GetResults(ctx, "nope")
	require.NoError(t, err)
	assert.Equal(t, "nope", results.ID)
	assert.Nil(t, results.RequestedAt)
	assert.Nil(t, results.MaxPagesCount)
	assert.Nil(t, results.AllowSearchEngines)
	assert.Nil(t, results.GoogleSiteVerification)
	assert.NotNil(t, results.Pages)
	assert.Empty(t, results.Pages)
}

func TestDeleteIsIdempotentAndPurgesCache(t *testing.T) {
	h := newHarness(t, map[string]string{})
	ctx := context.Background()

	id, err := h.manager.Request(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, h.statuses.Set(ctx, id, h.base+"a", entity.URLStatus{Status: 200, CheckedAt: fixedNow}))

	require.NoError(t, h.manager.Delete(ctx, id))
	require.NoError(t, h.manager.Delete(ctx, id))
	require.NoError(t, h.manager.Delete(ctx, "never-existed"))

	status, err := h.manager.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.AuditNotFound, status.Status)

	cached, err := h.statuses.Get(ctx, id, h.base+"a")
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestListToleratesMixedVersions(t *testing.T) {
	h := newHarness(t, map[string]string{})
	ctx := context.Background()

	id, err := h.manager.Request(ctx, nil)
	require.NoError(t, err)
	v1 := `{"id":"legacy-1","url":"https://example.com/","dateRequested":"2020-05-01T12:00:00+00:00","errors":[],"pages":null}`
	require.NoError(t, h.records.Set(ctx, record.Key("legacy-1"), []byte(v1)))
	v2 := `{"i":"legacy-2","u":"https://example.com/","d":"2021-05-01T12:00:00+00:00","e":"","p":{}}`
	require.NoError(t, h.records.Set(ctx, record.Key("legacy-2"), []byte(v2)))
	require.NoError(t, h.records.Set(ctx, record.Key("broken"), []byte("{{{")))
	require.NoError(t, h.records.Set(ctx, "other/thing", []byte("{}")))

	got := make(map[string]bool)
	for summary, err := range h.manager.List(ctx) {
		require.NoError(t, err)
		assert.False(t, summary.RequestedAt.IsZero())
		got[summary.ID] = true
	}
	assert.Equal(t, map[string]bool{id: true, "legacy-1": true, "legacy-2": true}, got)
}

func TestListStopsWhenConsumerStops(t *testing.T) {
	h := newHarness(t, map[string]string{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := h.manager.Request(ctx, nil)
		require.NoError(t, err)
	}

	n := 0
	for _, err := range h.manager.List(ctx) {
		require.NoError(t, err)
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestGetResultsProjection(t *testing.T) {
	h := newHarness(t, map[string]string{})
	ctx := context.Background()

	h.store(t, &entity.AuditRecord{
		ID:                     "audit",
		BaseURL:                h.base,
		RequestedAt:            fixedNow,
		MaxPagesCount:          intPtr(10),
		AllowSearchEngines:     boolPtr(true),
		GoogleSiteVerification: strPtr("tok"),
		Pages: map[string]*entity.PageRecord{
			"pb": {URL: "*b", Status: intPtr(200), CheckedAt: timePtr(fixedNow), Title: strPtr("B"),
				Links: map[string]*entity.LinkRecord{
					"l2": {URL: "https://other.org/", Title: "Other", Position: 2},
					"l1": {URL: "*a", Title: "A", Status: intPtr(200), CheckedAt: timePtr(fixedNow), Position: 1},
				}},
			"pa": {URL: "*a"},
			"pc": {URL: "*c", Status: intPtr(200), Links: map[string]*entity.LinkRecord{}},
		},
	})

	results, err := h.manager.GetResults(ctx, "audit")
	require.NoError(t, err)

	assert.Equal(t, timePtr(fixedNow), results.RequestedAt)
	assert.Equal(t, intPtr(10), results.MaxPagesCount)
	assert.Equal(t, boolPtr(true), results.AllowSearchEngines)
	assert.Equal(t, strPtr("tok"), results.GoogleSiteVerification)

	require.Len(t, results.Pages, 3)
	assert.Equal(t, []string{h.base + "a", h.base + "b", h.base + "c"},
		[]string{results.Pages[0].URL, results.Pages[1].URL, results.Pages[2].URL})

	assert.Nil(t, results.Pages[0].Links)
	assert.NotNil(t, results.Pages[2].Links)
	assert.Empty(t, results.Pages[2].Links)

	links := results.Pages[1].Links
	require.Len(t, links, 2)
	assert.Equal(t, entity.LinkResult{ID: "l1", URL: h.base + "a", Title: "A", Status: intPtr(200), CheckedAt: timePtr(fixedNow)}, links[0])
	assert.Equal(t, "https://other.org/", links[1].URL)
	assert.Nil(t, links[1].Status)
}

func TestResultsOfCompletedAudit(t *testing.T) {
	h := newHarness(t, map[string]string{
		"/robots.txt":  robotsWithSitemap,
		"/sitemap.xml": sitemapOf("", "about"),
		"/":            `<html><head><title>Home</title></head><body><a href="about" title="About us">About</a></body></html>`,
		"/about":       `<html><head><title>About</title><meta property="og:image" content="{{base}}og.png"></head><body>We</body></html>`,
	})
	ctx := context.Background()

	id, err := h.manager.Request(ctx, nil)
	require.NoError(t, err)
	h.drain(t, nil)

	status, err := h.manager.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.AuditDone, status.Status)

	results, err := h.manager.GetResults(ctx, id)
	require.NoError(t, err)
	require.Len(t, results.Pages, 2)

	home, about := results.Pages[0], results.Pages[1]
	assert.Equal(t, h.base, home.URL)
	assert.Equal(t, strPtr("Home"), home.Title)
	require.Len(t, home.Links, 1)
	assert.Equal(t, h.base+"about", home.Links[0].URL)
	assert.Equal(t, "About us", home.Links[0].Title)
	assert.Equal(t, intPtr(200), home.Links[0].Status)

	assert.Equal(t, h.base+"about", about.URL)
	assert.Equal(t, strPtr(h.base+"og.png"), about.OpenGraphImage)
	assert.Equal(t, strPtr("We"), about.Content)

	assert.Zero(t, h.site.hitCount("HEAD /about"))
}
