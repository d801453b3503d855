package analyzer

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/audit-service/pkg/utils"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
  <title>Home &amp; Garden</title>
  <meta name="description" content="All about gardens">
  <meta name="keywords" content="garden, home">
  <meta property="og:image" content="https://example.com/og.png">
  <meta name="google-site-verification" content="abc123">
</head>
<body>
  <h1>Welcome&nbsp;home</h1>
  <script>var hidden = "do not index";</script>
  <p>Fish &amp; chips</p>
  <a href="/about" title=" About us ">About</a>
  <a href="#top">Top</a>
  <a href="javascript:void(0)">JS</a>
  <a href="mailto:info@example.com">Mail</a>
  <a href="tel:+123">Call</a>
  <a href="viber://chat">Viber</a>
  <a>No href</a>
  <a href="  ">Blank</a>
  <a href="https://other.org/x">Other</a>
  <a href="/about">About again</a>
</body>
</html>`

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestAnalyzePageMetadata(t *testing.T) {
	page, err := AnalyzePage(mustParseURL(t, "https://example.com/blog/"), []byte(samplePage))
	require.NoError(t, err)

	require.NotNil(t, page.Title)
	assert.Equal(t, "Home & Garden", *page.Title)
	require.NotNil(t, page.Description)
	assert.Equal(t, "All about gardens", *page.Description)
	require.NotNil(t, page.Keywords)
	assert.Equal(t, "garden, home", *page.Keywords)
	require.NotNil(t, page.OpenGraphImage)
	assert.Equal(t, "https://example.com/og.png", *page.OpenGraphImage)
}

func TestAnalyzePageContent(t *testing.T) {
	page, err := AnalyzePage(mustParseURL(t, "https://example.com/"), []byte(samplePage))
	require.NoError(t, err)

	require.NotNil(t, page.Content)
	assert.Contains(t, *page.Content, "Welcome home")
	assert.Contains(t, *page.Content, "Fish & chips")
	assert.NotContains(t, *page.Content, "do not index")
	assert.NotContains(t, *page.Content, "<p>")
}

func TestAnalyzePageLinks(t *testing.T) {
	page, err := AnalyzePage(mustParseURL(t, "https://example.com/blog/"), []byte(samplePage))
	require.NoError(t, err)

	require.Len(t, page.Links, 3)

	assert.Equal(t, "/about", page.Links[0].Href)
	assert.Equal(t, "https://example.com/about", page.Links[0].URL)
	assert.Equal(t, "About us", page.Links[0].Title)
	assert.Equal(t, 1, page.Links[0].Position)
	assert.Equal(t, utils.HashID("/about-1"), page.Links[0].ID)

	assert.Equal(t, "https://other.org/x", page.Links[1].URL)
	assert.Equal(t, 2, page.Links[1].Position)

	// A repeated href gets its own entry.
	assert.Equal(t, "https://example.com/about", page.Links[2].URL)
	assert.Equal(t, utils.HashID("/about-3"), page.Links[2].ID)
	assert.NotEqual(t, page.Links[0].ID, page.Links[2].ID)
}

func TestAnalyzePageWithoutHeadMetadata(t *testing.T) {
	page, err := AnalyzePage(mustParseURL(t, "https://example.com/"), []byte(`<p>Just text</p>`))
	require.NoError(t, err)

	assert.Nil(t, page.Title)
	assert.Nil(t, page.Description)
	assert.Nil(t, page.Keywords)
	assert.Nil(t, page.OpenGraphImage)
	require.NotNil(t, page.Content)
	assert.Equal(t, "Just text", *page.Content)
	assert.Empty(t, page.Links)
}

func TestAnalyzePageMetaWithoutContentAttribute(t *testing.T) {
	page, err := AnalyzePage(mustParseURL(t, "https://example.com/"), []byte(`<html><head><meta name="description"></head><body></body></html>`))
	require.NoError(t, err)
	require.NotNil(t, page.Description)
	assert.Equal(t, "", *page.Description)
}

func TestAnalyzePageIsDeterministic(t *testing.T) {
	base := mustParseURL(t, "https://example.com/")
	a, err := AnalyzePage(base, []byte(samplePage))
	require.NoError(t, err)
	b, err := AnalyzePage(base, []byte(samplePage))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSiteVerification(t *testing.T) {
	v := SiteVerification([]byte(samplePage))
	require.NotNil(t, v)
	assert.Equal(t, "abc123", *v)

	assert.Nil(t, SiteVerification([]byte(`<html><head></head></html>`)))
}
