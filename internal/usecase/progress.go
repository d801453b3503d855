package usecase

import (
	"math"

	"github.com/user/audit-service/internal/entity"
)

// ComputeStatus derives the polling status of an audit from its record
// alone. rec may be nil.
//
// Each of the N pages weighs 100/N points. A fetched page without links
// earns its full weight; a fetched page with links earns half for the fetch
// and shares the other half across its links as they resolve. Percent is
// capped at 99 until every page is complete.
func ComputeStatus(id string, rec *entity.AuditRecord) entity.AuditStatus {
	status := entity.AuditStatus{ID: id}
	if rec == nil {
		status.Status = entity.AuditNotFound
		return status
	}
	requestedAt := rec.RequestedAt
	status.RequestedAt = &requestedAt

	if rec.HasErrors() {
		status.Status = entity.AuditErrors
		status.Errors = rec.Errors
		return status
	}

	if rec.Pages == nil {
		status.Status = entity.AuditRunning
		status.Percent = intPtr(0)
		return status
	}

	var credited float64
	allDone := true
	if len(rec.Pages) > 0 {
		weight := 100 / float64(len(rec.Pages))
		for _, page := range rec.Pages {
			if page.Status == nil {
				allDone = false
				continue
			}
			if len(page.Links) == 0 {
				credited += weight
				continue
			}
			credited += weight / 2
			share := weight / 2 / float64(len(page.Links))
			for _, link := range page.Links {
				if link.Resolved() {
					credited += share
				} else {
					allDone = false
				}
			}
		}
	}

	if allDone {
		status.Status = entity.AuditDone
		return status
	}
	status.Status = entity.AuditRunning
	status.Percent = intPtr(int(math.Round(math.Min(credited, 99))))
	return status
}

func intPtr(i int) *int {
	return &i
}
