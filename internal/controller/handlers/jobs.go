package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"opsplane/internal/service"
	"opsplane/internal/store"
	"opsplane/pkg/api"

	"github.com/google/uuid"
)

// RunPlaybook handles POST /jobs.
// Creates a pending job and schedules its execution; the response
// carries the job before any runner output exists.
func (h *Handlers) RunPlaybook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.RunPlaybookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PlaybookID == 0 || req.ServerID == 0 {
		h.httpError(w, "playbook_id and server_id are required", http.StatusBadRequest)
		return
	}

	job, err := h.svc.CreateAndDispatchJob(ctx, req.PlaybookID, req.ServerID, req.UserID, req.ExtraVars)
	if err != nil {
		if service.IsValidation(err) {
			h.httpError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.httpError(w, "Failed to create job", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusAccepted, toJobResponse(job))
}

// RunBatch handles POST /jobs/batch.
// Creates a parent batch job with one child per server and schedules
// the coordinator.
func (h *Handlers) RunBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.RunBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PlaybookID == 0 {
		h.httpError(w, "playbook_id is required", http.StatusBadRequest)
		return
	}

	parent, err := h.svc.CreateAndDispatchBatch(ctx, req.PlaybookID, req.ServerIDs, req.UserID, req.ExtraVars, service.BatchOptions{
		ConcurrentLimit: req.ConcurrentLimit,
		StopOnFailure:   req.StopOnFailure,
		Strategy:        store.ExecutionStrategy(req.ExecutionStrategy),
	})
	if err != nil {
		if service.IsValidation(err) {
			h.httpError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.httpError(w, "Failed to create batch job", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusAccepted, toJobResponse(parent))
}

// GetJob handles GET /jobs/{id}.
// Batch parents include their children in creation order.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	job, err := h.svc.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.httpError(w, "Job not found", http.StatusNotFound)
			return
		}
		h.httpError(w, "Failed to fetch job", http.StatusInternalServerError)
		return
	}

	resp := toJobResponse(job)
	if job.IsBatchJob {
		children, err := h.svc.GetChildJobs(ctx, job.ID)
		if err != nil {
			h.httpError(w, "Failed to fetch child jobs", http.StatusInternalServerError)
			return
		}
		resp.ChildJobs = make([]api.JobResponse, len(children))
		for i, child := range children {
			resp.ChildJobs[i] = toJobResponse(child)
		}
	}

	h.respondJson(w, http.StatusOK, resp)
}

// ListJobs handles GET /jobs with optional status, playbook_id,
// server_id, user_id, limit and offset query parameters.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	var filter store.JobFilter
	if s := query.Get("status"); s != "" {
		status := store.JobStatus(s)
		switch status {
		case store.StatusPending, store.StatusRunning, store.StatusSuccess, store.StatusFailed, store.StatusCancelled:
			filter.Status = &status
		default:
			h.httpError(w, "Invalid status filter", http.StatusBadRequest)
			return
		}
	}
	for param, target := range map[string]**int64{
		"playbook_id": &filter.PlaybookID,
		"server_id":   &filter.ServerID,
		"user_id":     &filter.UserID,
	} {
		if v := query.Get(param); v != "" {
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				h.httpError(w, "Invalid "+param, http.StatusBadRequest)
				return
			}
			*target = &parsed
		}
	}

	limit := 50
	if l := query.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	offset := 0
	if o := query.Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	jobs, err := h.svc.ListJobs(ctx, filter, limit, offset)
	if err != nil {
		h.httpError(w, "Failed to list jobs", http.StatusInternalServerError)
		return
	}

	resp := api.ListJobsResponse{Jobs: make([]api.JobResponse, len(jobs))}
	for i, job := range jobs {
		resp.Jobs[i] = toJobResponse(job)
	}
	h.respondJson(w, http.StatusOK, resp)
}

// CancelJob handles POST /jobs/{id}/cancel.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	job, err := h.svc.CancelJob(ctx, jobID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			h.httpError(w, "Job not found", http.StatusNotFound)
		case errors.Is(err, service.ErrAlreadyTerminal):
			h.httpError(w, "Job already reached a terminal status", http.StatusConflict)
		default:
			h.httpError(w, "Failed to cancel job", http.StatusInternalServerError)
		}
		return
	}

	h.respondJson(w, http.StatusOK, toJobResponse(job))
}

// Stats handles GET /jobs/stats with an optional user_id parameter.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var userID *int64
	if v := r.URL.Query().Get("user_id"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.httpError(w, "Invalid user_id", http.StatusBadRequest)
			return
		}
		userID = &parsed
	}

	stats, err := h.svc.Statistics(ctx, userID)
	if err != nil {
		h.httpError(w, "Failed to compute statistics", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, api.StatsResponse{
		Total:       stats.Total,
		Pending:     stats.Pending,
		Running:     stats.Running,
		Success:     stats.Success,
		Failed:      stats.Failed,
		Cancelled:   stats.Cancelled,
		SuccessRate: stats.SuccessRate,
	})
}
