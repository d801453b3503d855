package response

import "github.com/user/audit-service/internal/entity"

type CreateAuditResponse struct {
	ID string `json:"id"`
}

type AuditListResponse struct {
	Audits []entity.AuditSummary `json:"audits"`
}

type FailedTaskListResponse struct {
	Tasks []*entity.FailedTask `json:"tasks"`
}

// HealthResponse reports "ok" or the failing dependency per check.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
