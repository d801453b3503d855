package entity

import "time"

// Reserved page and link status values.
const (
	// StatusSkipped marks a page that was not fetched because the page cap was exceeded.
	StatusSkipped = -1
	// StatusFetchFailed is recorded when a fetch fails before an HTTP status is received.
	StatusFetchFailed = 0
)

// AuditRecord is the persisted state of one audit. Pages is nil until
// discovery has finished.
type AuditRecord struct {
	ID                     string
	BaseURL                string
	RequestedAt            time.Time
	MaxPagesCount          *int
	AllowSearchEngines     *bool
	GoogleSiteVerification *string
	Errors                 string
	Pages                  map[string]*PageRecord
}

// PageRecord is one page discovered through the sitemap. URL is stored in
// short form (see utils.ShortURL).
type PageRecord struct {
	URL            string
	Status         *int
	CheckedAt      *time.Time
	Title          *string
	Description    *string
	Keywords       *string
	Content        *string
	OpenGraphImage *string
	// Links is nil until the page has been fetched with status 200.
	Links map[string]*LinkRecord
}

// LinkRecord is one qualifying anchor found on a page.
type LinkRecord struct {
	URL       string
	Title     string
	Status    *int
	CheckedAt *time.Time
	// Position is the 1-based order of the link on its page; zero for links
	// migrated from formats that did not record it.
	Position int
}

// HasErrors reports whether the audit reached the terminal failed state.
func (r *AuditRecord) HasErrors() bool {
	return r.Errors != ""
}

// Resolved reports whether the link has been checked.
func (l *LinkRecord) Resolved() bool {
	return l.Status != nil
}

// Resolve sets status and time unless the link is already resolved.
// It reports whether the link changed.
func (l *LinkRecord) Resolve(status int, checkedAt time.Time) bool {
	if l.Status != nil {
		return false
	}
	l.Status = &status
	l.CheckedAt = &checkedAt
	return true
}

// AuditSummary is one entry of the audit list.
type AuditSummary struct {
	ID          string    `json:"id"`
	RequestedAt time.Time `json:"requested_at"`
}
