// Package analyzer extracts audit data from robots.txt files, sitemaps and
// HTML pages. It performs no I/O.
package analyzer

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/temoto/robotstxt"
)

// RobotsInfo is what an audit needs from robots.txt.
type RobotsInfo struct {
	AllowSearchEngines bool
	// SitemapURL is the last Sitemap directive, or empty.
	SitemapURL string
}

// ParseRobots evaluates a robots.txt body. Search engines are considered
// disallowed when any line, lowercased with spaces removed, reads exactly
// "disallow:/", whatever user-agent group it belongs to.
func ParseRobots(body []byte) RobotsInfo {
	info := RobotsInfo{AllowSearchEngines: true}

	var scanned string
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		line := strings.ToLower(raw)
		if strings.ReplaceAll(line, " ", "") == "disallow:/" {
			info.AllowSearchEngines = false
		} else if strings.HasPrefix(line, "sitemap:") {
			scanned = strings.TrimSpace(raw[len("sitemap:"):])
		}
	}

	// Sitemap directives are global to the file. The raw scan only matters
	// when the parser rejects the file or finds none.
	info.SitemapURL = scanned
	if robots, err := robotstxt.FromBytes(body); err == nil {
		if n := len(robots.Sitemaps); n > 0 {
			info.SitemapURL = strings.TrimSpace(robots.Sitemaps[n-1])
		}
	}
	return info
}
