package entity

import "time"

type AuditState string

const (
	AuditNotFound AuditState = "NOTFOUND"
	AuditErrors   AuditState = "ERRORS"
	AuditDone     AuditState = "DONE"
	AuditRunning  AuditState = "RUNNING"
)

// AuditStatus is the polling view of an audit. Percent is only set while
// the audit is running.
type AuditStatus struct {
	ID          string     `json:"id"`
	Status      AuditState `json:"status"`
	RequestedAt *time.Time `json:"requested_at,omitempty"`
	Errors      string     `json:"errors,omitempty"`
	Percent     *int       `json:"percent,omitempty"`
}

// AuditResults is the full projection of an audit record.
type AuditResults struct {
	ID                     string       `json:"id"`
	RequestedAt            *time.Time   `json:"requested_at"`
	MaxPagesCount          *int         `json:"max_pages_count"`
	AllowSearchEngines     *bool        `json:"allow_search_engines"`
	GoogleSiteVerification *string      `json:"google_site_verification"`
	Pages                  []PageResult `json:"pages"`
}

type PageResult struct {
	ID             string       `json:"id"`
	URL            string       `json:"url"`
	Status         *int         `json:"status"`
	CheckedAt      *time.Time   `json:"checked_at"`
	Title          *string      `json:"title"`
	Description    *string      `json:"description"`
	Keywords       *string      `json:"keywords"`
	Content        *string      `json:"content"`
	OpenGraphImage *string      `json:"open_graph_image"`
	Links          []LinkResult `json:"links"`
}

type LinkResult struct {
	ID        string     `json:"id"`
	URL       string     `json:"url"`
	Title     string     `json:"title"`
	Status    *int       `json:"status"`
	CheckedAt *time.Time `json:"checked_at"`
}
