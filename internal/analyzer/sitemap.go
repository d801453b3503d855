package analyzer

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
)

// MaxChildSitemaps bounds how many sitemaps of a sitemap index are followed.
const MaxChildSitemaps = 50

// Sitemap is the content of one sitemap document.
type Sitemap struct {
	// URLs holds <url><loc> values in document order.
	URLs []string
	// Children holds <sitemap><loc> values when the document is a sitemap index.
	Children []string
}

// ParseSitemap parses a sitemap or sitemap index. A <url> or <sitemap>
// element counts only when it has exactly one <loc>.
func ParseSitemap(body []byte) (*Sitemap, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse sitemap: %w", err)
	}
	if xmlquery.FindOne(doc, "/*") == nil {
		return nil, fmt.Errorf("sitemap has no root element")
	}

	sm := &Sitemap{}
	xmlquery.FindEach(doc, "//url", func(_ int, n *xmlquery.Node) {
		if loc, ok := singleLoc(n); ok {
			sm.URLs = append(sm.URLs, loc)
		}
	})
	xmlquery.FindEach(doc, "//sitemap", func(_ int, n *xmlquery.Node) {
		if loc, ok := singleLoc(n); ok && len(sm.Children) < MaxChildSitemaps {
			sm.Children = append(sm.Children, loc)
		}
	})
	return sm, nil
}

func singleLoc(n *xmlquery.Node) (string, bool) {
	locs := xmlquery.Find(n, "loc")
	if len(locs) != 1 {
		return "", false
	}
	return strings.TrimSpace(locs[0].InnerText()), true
}

// UniqueURLs removes empty and repeated values, keeping first occurrences.
func UniqueURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
