// Package handlers contains HTTP handlers for the orchestration API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"opsplane/internal/service"
	"opsplane/internal/store"
	"opsplane/pkg/api"

	"github.com/google/uuid"
)

// Service is the orchestration surface the handlers depend on.
// *service.Service satisfies it; tests substitute fakes.
type Service interface {
	CreateAndDispatchJob(ctx context.Context, playbookID, serverID, userID int64, extraVars map[string]any) (*store.Job, error)
	CreateAndDispatchBatch(ctx context.Context, playbookID int64, serverIDs []int64, userID int64, extraVars map[string]any, opts service.BatchOptions) (*store.Job, error)
	CancelJob(ctx context.Context, jobID uuid.UUID) (*store.Job, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*store.Job, error)
	GetChildJobs(ctx context.Context, parentID int64) ([]*store.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter, limit, offset int) ([]*store.Job, error)
	GetLogs(ctx context.Context, jobID uuid.UUID, startLine, limit int) ([]store.JobLog, error)
	CountLogs(ctx context.Context, jobID uuid.UUID) (int, error)
	Statistics(ctx context.Context, userID *int64) (*store.Statistics, error)
}

// Pinger reports backend liveness for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	svc    Service
	pinger Pinger
}

// New creates a new Handlers instance.
func New(svc Service, pinger Pinger) *Handlers {
	return &Handlers{svc: svc, pinger: pinger}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// toJobResponse converts a stored job to its API shape.
func toJobResponse(job *store.Job) api.JobResponse {
	resp := api.JobResponse{
		JobID:        job.JobID.String(),
		Status:       string(job.Status),
		PlaybookID:   job.PlaybookID,
		ServerID:     job.ServerID,
		UserID:       job.UserID,
		IsBatchJob:   job.IsBatchJob,
		ExtraVars:    job.ExtraVars,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
	}
	if job.BatchConfig != nil {
		resp.BatchConfig = &api.BatchConfigResponse{
			ConcurrentLimit:   job.BatchConfig.ConcurrentLimit,
			StopOnFailure:     job.BatchConfig.StopOnFailure,
			ExecutionStrategy: string(job.BatchConfig.ExecutionStrategy),
			TotalServers:      job.BatchConfig.TotalServers,
			ServerIDs:         job.BatchConfig.ServerIDs,
		}
	}
	return resp
}
