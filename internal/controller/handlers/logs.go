package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"opsplane/internal/store"
	"opsplane/pkg/api"

	"github.com/google/uuid"
)

// GetJobLogs handles GET /jobs/{id}/logs with optional start_line and
// limit query parameters. Lines come back ordered by line number.
func (h *Handlers) GetJobLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	query := r.URL.Query()
	startLine := 0
	if s := query.Get("start_line"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 {
			startLine = parsed
		}
	}
	limit := 1000
	if l := query.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 10000 {
			limit = parsed
		}
	}

	logs, err := h.svc.GetLogs(ctx, jobID, startLine, limit)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.httpError(w, "Job not found", http.StatusNotFound)
			return
		}
		h.httpError(w, "Failed to fetch logs", http.StatusInternalServerError)
		return
	}

	// Total counts every stored line, not just the window returned here,
	// so clients can tell when more output exists.
	total, err := h.svc.CountLogs(ctx, jobID)
	if err != nil {
		h.httpError(w, "Failed to fetch logs", http.StatusInternalServerError)
		return
	}

	entries := make([]api.LogEntry, len(logs))
	for i, log := range logs {
		entries[i] = api.LogEntry{
			LineNumber: log.LineNumber,
			Content:    log.Content,
			Level:      string(log.Level),
			Timestamp:  log.Timestamp,
		}
	}

	h.respondJson(w, http.StatusOK, api.GetLogsResponse{
		JobID: jobID.String(),
		Total: total,
		Logs:  entries,
	})
}
