package httpfetch

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/user/audit-service/internal/entity"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 10 << 20

// Options configures a FetcherImpl.
type Options struct {
	ConnectTimeout time.Duration
	Timeout        time.Duration
	UserAgent      string
	// RatePerSecond limits outgoing requests; zero means unlimited.
	RatePerSecond float64
	// Proxies are used in rotation when non-empty.
	Proxies []string
}

// FetcherImpl provides a concrete implementation for the Fetcher interface using net/http.
type FetcherImpl struct {
	client    *http.Client
	userAgent string
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewFetcher creates a new instance of FetcherImpl.
func NewFetcher(opts Options, logger *zap.Logger) (*FetcherImpl, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = opts.ConnectTimeout

	if len(opts.Proxies) > 0 {
		rotator, err := newProxyRotator(opts.Proxies)
		if err != nil {
			return nil, err
		}
		transport.Proxy = rotator.Proxy
	}

	f := &FetcherImpl{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		userAgent: opts.UserAgent,
		logger:    logger,
	}
	if opts.RatePerSecond > 0 {
		burst := int(opts.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	return f, nil
}

// Fetch issues a GET, or a HEAD when wantBody is false. Redirects are
// followed and gzip responses decoded by the transport. Any failure before
// a status line is received yields entity.StatusFetchFailed.
func (f *FetcherImpl) Fetch(ctx context.Context, url string, wantBody bool) entity.FetchResult {
	failed := entity.FetchResult{Status: entity.StatusFetchFailed}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return failed
		}
	}

	method := http.MethodGet
	if !wantBody {
		method = http.MethodHead
	}
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		f.logger.Debug("invalid fetch url", zap.String("url", url), zap.Error(err))
		return failed
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Debug("fetch failed", zap.String("url", url), zap.Error(err))
		return failed
	}
	defer resp.Body.Close()

	result := entity.FetchResult{Status: resp.StatusCode}
	if !wantBody {
		return result
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		f.logger.Debug("failed to read response body", zap.String("url", url), zap.Error(err))
		return failed
	}
	result.Body = body
	return result
}
