package request

// CreateAuditRequest is the optional body of POST /api/audits.
type CreateAuditRequest struct {
	MaxPagesCount *int `json:"max_pages_count"`
}
