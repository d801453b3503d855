package httpfetch

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/audit-service/internal/entity"
)

func newTestFetcher(t *testing.T, opts Options) *FetcherImpl {
	t.Helper()
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = time.Second
	}
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "site-audit-bot"
	}
	f, err := NewFetcher(opts, zap.NewNop())
	require.NoError(t, err)
	return f
}

func TestFetchReturnsStatusAndBody(t *testing.T) {
	var gotUA, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	res := newTestFetcher(t, Options{}).Fetch(context.Background(), srv.URL, true)

	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "<html></html>", string(res.Body))
	assert.Equal(t, "site-audit-bot", gotUA)
	assert.Equal(t, http.MethodGet, gotMethod)
}

func TestFetchWithoutBodyUsesHead(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	res := newTestFetcher(t, Options{}).Fetch(context.Background(), srv.URL, false)

	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.Nil(t, res.Body)
	assert.Equal(t, http.MethodHead, gotMethod)
}

func TestFetchDecodesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte("compressed body"))
		_ = gz.Close()
	}))
	defer srv.Close()

	res := newTestFetcher(t, Options{}).Fetch(context.Background(), srv.URL, true)

	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "compressed body", string(res.Body))
}

func TestFetchFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("moved"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res := newTestFetcher(t, Options{}).Fetch(context.Background(), srv.URL+"/old", true)

	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "moved", string(res.Body))
}

func TestFetchNetworkFailureIsStatusZero(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := newTestFetcher(t, Options{}).Fetch(context.Background(), url, true)
	assert.Equal(t, entity.StatusFetchFailed, res.Status)
	assert.Nil(t, res.Body)
}

func TestFetchTimeoutIsStatusZero(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	res := newTestFetcher(t, Options{Timeout: 100 * time.Millisecond}).Fetch(context.Background(), srv.URL, true)
	assert.Equal(t, entity.StatusFetchFailed, res.Status)
}

func TestFetchInvalidURL(t *testing.T) {
	res := newTestFetcher(t, Options{}).Fetch(context.Background(), "://bad", true)
	assert.Equal(t, entity.StatusFetchFailed, res.Status)
}

func TestFetchThroughProxy(t *testing.T) {
	var proxied []string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied = append(proxied, r.URL.String())
		_, _ = w.Write([]byte("via proxy"))
	}))
	defer proxy.Close()

	f := newTestFetcher(t, Options{Proxies: []string{proxy.URL}})
	res := f.Fetch(context.Background(), "http://audited.test/page", true)

	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "via proxy", string(res.Body))
	assert.Equal(t, []string{"http://audited.test/page"}, proxied)
}

func TestProxyRotatorCycles(t *testing.T) {
	r, err := newProxyRotator([]string{"http://a:1", "http://b:2"})
	require.NoError(t, err)

	var hosts []string
	for i := 0; i < 3; i++ {
		u, err := r.Proxy(nil)
		require.NoError(t, err)
		hosts = append(hosts, u.Host)
	}
	assert.Equal(t, []string{"a:1", "b:2", "a:1"}, hosts)
}

func TestFetchRateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := newTestFetcher(t, Options{RatePerSecond: 0.001})
	// The first request consumes the only token.
	assert.Equal(t, http.StatusNotFound, f.Fetch(context.Background(), srv.URL, false).Status)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Equal(t, entity.StatusFetchFailed, f.Fetch(ctx, srv.URL, false).Status)
}
