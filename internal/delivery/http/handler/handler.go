package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/user/audit-service/internal/delivery/http/request"
	"github.com/user/audit-service/internal/delivery/http/response"
	"github.com/user/audit-service/internal/entity"
	"github.com/user/audit-service/internal/repository"
	"github.com/user/audit-service/internal/usecase"
)

const (
	defaultFailedTasksLimit = 100
	maxFailedTasksLimit     = 1000
	healthCheckTimeout      = 2 * time.Second
)

type Handler struct {
	audits      usecase.AuditManager
	failedTasks usecase.FailedTasks
	pingers     map[string]repository.Pinger
	logger      *zap.Logger
}

// NewHandler creates the HTTP handler. pingers are checked by the health
// endpoint, keyed by the name reported on failure.
func NewHandler(audits usecase.AuditManager, failedTasks usecase.FailedTasks, pingers map[string]repository.Pinger, logger *zap.Logger) *Handler {
	return &Handler{
		audits:      audits,
		failedTasks: failedTasks,
		pingers:     pingers,
		logger:      logger,
	}
}

func (h *Handler) HandleListAudits(w http.ResponseWriter, r *http.Request) {
	resp := response.AuditListResponse{Audits: []entity.AuditSummary{}}
	for summary, err := range h.audits.List(r.Context()) {
		if err != nil {
			h.logger.Error("failed to list audits", zap.Error(err))
			h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		resp.Audits = append(resp.Audits, summary)
	}
	sort.Slice(resp.Audits, func(i, j int) bool {
		return resp.Audits[i].RequestedAt.After(resp.Audits[j].RequestedAt)
	})
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleRequestAudit(w http.ResponseWriter, r *http.Request) {
	var req request.CreateAuditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	id, err := h.audits.Request(r.Context(), req.MaxPagesCount)
	if err != nil {
		if errors.Is(err, usecase.ErrInvalidMaxPages) {
			h.writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to request audit", zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusAccepted, response.CreateAuditResponse{ID: id})
}

func (h *Handler) HandleDeleteAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.audits.Delete(r.Context(), id); err != nil {
		h.logger.Error("failed to delete audit", zap.String("audit_id", id), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetStatus always answers 200; NOTFOUND is a status like any other.
func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := h.audits.GetStatus(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get audit status", zap.String("audit_id", id), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) HandleGetResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	results, err := h.audits.GetResults(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get audit results", zap.String("audit_id", id), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if results.RequestedAt == nil {
		h.writeJSON(w, http.StatusNotFound, results)
		return
	}
	h.writeJSON(w, http.StatusOK, results)
}

func (h *Handler) HandleListFailedTasks(w http.ResponseWriter, r *http.Request) {
	limit := defaultFailedTasksLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxFailedTasksLimit {
			h.writeJSONError(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = n
	}

	tasks, err := h.failedTasks.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list failed tasks", zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []*entity.FailedTask{}
	}
	h.writeJSON(w, http.StatusOK, response.FailedTaskListResponse{Tasks: tasks})
}

func (h *Handler) HandleRetryFailedTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	err := h.failedTasks.Retry(r.Context(), taskID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		h.writeJSONError(w, "Failed task not found", http.StatusNotFound)
	case err != nil:
		h.logger.Error("failed to retry task", zap.String("task_id", taskID), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := response.HealthResponse{Status: "ok", Checks: make(map[string]string, len(h.pingers))}
	code := http.StatusOK
	for name, p := range h.pingers {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			resp.Checks[name] = err.Error()
			resp.Status = "unavailable"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	h.writeJSON(w, code, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write JSON response", zap.Error(err))
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, response.ErrorResponse{Error: message})
}
