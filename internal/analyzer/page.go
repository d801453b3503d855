package analyzer

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/user/audit-service/pkg/utils"
)

// ignoredHrefPrefixes are href schemes that are never checked.
var ignoredHrefPrefixes = []string{"#", "javascript:", "mailto:", "tel:", "viber:"}

// Page is the data extracted from a successfully fetched HTML page.
type Page struct {
	Title          *string
	Description    *string
	Keywords       *string
	OpenGraphImage *string
	// Content is the visible body text with scripts removed.
	Content *string
	Links   []Link
}

// Link is one qualifying anchor on a page.
type Link struct {
	// ID is stable for a given href and occurrence.
	ID string
	// Href is the trimmed attribute value as written.
	Href string
	// URL is Href resolved against the page URL.
	URL   string
	Title string
	// Position is the 1-based index among the page's qualifying links.
	Position int
}

// AnalyzePage extracts head metadata, body text and links from an HTML
// document located at pageURL.
func AnalyzePage(pageURL *url.URL, body []byte) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	page := &Page{}
	head := doc.Find("head").First()
	if head.Length() > 0 {
		if title := head.Find("title").First(); title.Length() > 0 {
			page.Title = strPtr(title.Text())
		}
		page.Description = metaContent(head, `meta[name="description"]`)
		page.Keywords = metaContent(head, `meta[name="keywords"]`)
		page.OpenGraphImage = metaContent(head, `meta[property="og:image"]`)
	}

	counter := 0
	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if !qualifyingHref(href) {
			return
		}
		counter++
		abs, err := utils.ToAbsoluteURL(pageURL, href)
		if err != nil {
			abs = href
		}
		page.Links = append(page.Links, Link{
			ID:       utils.HashID(href + "-" + strconv.Itoa(counter)),
			Href:     href,
			URL:      abs,
			Title:    strings.TrimSpace(s.AttrOr("title", "")),
			Position: counter,
		})
	})

	if bodySel := doc.Find("body").First(); bodySel.Length() > 0 {
		bodySel.Find("script").Remove()
		content := strings.ReplaceAll(bodySel.Text(), "\u00a0", " ")
		page.Content = &content
	}
	return page, nil
}

// SiteVerification returns the google-site-verification meta value of an
// HTML document, or nil when the tag is absent.
func SiteVerification(body []byte) *string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	return metaContent(doc.Find("head").First(), `meta[name="google-site-verification"]`)
}

func metaContent(head *goquery.Selection, selector string) *string {
	el := head.Find(selector).First()
	if el.Length() == 0 {
		return nil
	}
	return strPtr(el.AttrOr("content", ""))
}

func qualifyingHref(href string) bool {
	if href == "" {
		return false
	}
	lower := strings.ToLower(href)
	for _, p := range ignoredHrefPrefixes {
		if strings.HasPrefix(lower, p) {
			return false
		}
	}
	return true
}

func strPtr(s string) *string {
	return &s
}
