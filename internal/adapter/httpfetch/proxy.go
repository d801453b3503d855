package httpfetch

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
)

// proxyRotator hands out proxies sequentially.
type proxyRotator struct {
	mu      sync.Mutex
	proxies []*url.URL
	index   int
}

func newProxyRotator(raw []string) (*proxyRotator, error) {
	r := &proxyRotator{}
	for _, p := range raw {
		u, err := url.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", p, err)
		}
		r.proxies = append(r.proxies, u)
	}
	return r, nil
}

// Proxy matches http.Transport.Proxy.
func (r *proxyRotator) Proxy(*http.Request) (*url.URL, error) {
	if len(r.proxies) == 0 {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.proxies[r.index]
	r.index = (r.index + 1) % len(r.proxies)
	return p, nil
}
