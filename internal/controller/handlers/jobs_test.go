package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"opsplane/internal/service"
	"opsplane/internal/store"
	"opsplane/pkg/api"

	"github.com/google/uuid"
)

// fakeService is a scriptable Service implementation for handler tests.
type fakeService struct {
	job       *store.Job
	children  []*store.Job
	jobs      []*store.Job
	logs      []store.JobLog
	logTotal  int
	stats     *store.Statistics
	err       error
	lastBatch service.BatchOptions
}

func (f *fakeService) CreateAndDispatchJob(ctx context.Context, playbookID, serverID, userID int64, extraVars map[string]any) (*store.Job, error) {
	return f.job, f.err
}

func (f *fakeService) CreateAndDispatchBatch(ctx context.Context, playbookID int64, serverIDs []int64, userID int64, extraVars map[string]any, opts service.BatchOptions) (*store.Job, error) {
	f.lastBatch = opts
	return f.job, f.err
}

func (f *fakeService) CancelJob(ctx context.Context, jobID uuid.UUID) (*store.Job, error) {
	return f.job, f.err
}

func (f *fakeService) GetJob(ctx context.Context, jobID uuid.UUID) (*store.Job, error) {
	return f.job, f.err
}

func (f *fakeService) GetChildJobs(ctx context.Context, parentID int64) ([]*store.Job, error) {
	return f.children, nil
}

func (f *fakeService) ListJobs(ctx context.Context, filter store.JobFilter, limit, offset int) ([]*store.Job, error) {
	return f.jobs, f.err
}

func (f *fakeService) GetLogs(ctx context.Context, jobID uuid.UUID, startLine, limit int) ([]store.JobLog, error) {
	return f.logs, f.err
}

func (f *fakeService) CountLogs(ctx context.Context, jobID uuid.UUID) (int, error) {
	return f.logTotal, f.err
}

func (f *fakeService) Statistics(ctx context.Context, userID *int64) (*store.Statistics, error) {
	return f.stats, f.err
}

type alwaysReady struct{}

func (alwaysReady) Ping(context.Context) error { return nil }

func sampleJob() *store.Job {
	return &store.Job{
		ID:         1,
		JobID:      uuid.New(),
		PlaybookID: 3,
		ServerID:   12,
		UserID:     7,
		Status:     store.StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
}

func newMux(f *fakeService) *http.ServeMux {
	h := New(f, alwaysReady{})
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", h.RunPlaybook)
	mux.HandleFunc("POST /jobs/batch", h.RunBatch)
	mux.HandleFunc("GET /jobs", h.ListJobs)
	mux.HandleFunc("GET /jobs/stats", h.Stats)
	mux.HandleFunc("GET /jobs/{id}", h.GetJob)
	mux.HandleFunc("GET /jobs/{id}/logs", h.GetJobLogs)
	mux.HandleFunc("POST /jobs/{id}/cancel", h.CancelJob)
	mux.HandleFunc("GET /healthz", h.Healthz)
	return mux
}

func TestRunPlaybook(t *testing.T) {
	validBody, _ := json.Marshal(api.RunPlaybookRequest{PlaybookID: 3, ServerID: 12, UserID: 7})

	tests := []struct {
		name           string
		body           []byte
		setup          func(*fakeService)
		expectedStatus int
		expectedInBody string
	}{
		{
			name: "Success",
			body: validBody,
			setup: func(f *fakeService) {
				f.job = sampleJob()
			},
			expectedStatus: http.StatusAccepted,
			expectedInBody: "job_id",
		},
		{
			name:           "Invalid JSON",
			body:           []byte(`{invalid-json}`),
			setup:          func(f *fakeService) {},
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "Invalid request body",
		},
		{
			name:           "Missing Required Fields",
			body:           []byte(`{"playbook_id": 0}`),
			setup:          func(f *fakeService) {},
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "required",
		},
		{
			name: "Validation Error Surfaces As 400",
			body: validBody,
			setup: func(f *fakeService) {
				f.err = &service.ValidationError{}
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "Internal Error",
			body: validBody,
			setup: func(f *fakeService) {
				f.err = errors.New("store down")
			},
			expectedStatus: http.StatusInternalServerError,
			expectedInBody: "Failed to create job",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeService{}
			tt.setup(fake)
			mux := newMux(fake)

			req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(tt.body))
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v body: %v",
					rr.Code, tt.expectedStatus, rr.Body.String())
			}
			if tt.expectedInBody != "" && !strings.Contains(rr.Body.String(), tt.expectedInBody) {
				t.Errorf("handler returned unexpected body: got %v want substring %v",
					rr.Body.String(), tt.expectedInBody)
			}
		})
	}
}

func TestRunBatch_PassesOptions(t *testing.T) {
	parent := sampleJob()
	parent.IsBatchJob = true
	fake := &fakeService{job: parent}
	mux := newMux(fake)

	body, _ := json.Marshal(api.RunBatchRequest{
		PlaybookID:        3,
		ServerIDs:         []int64{12, 13, 14},
		ConcurrentLimit:   2,
		StopOnFailure:     true,
		ExecutionStrategy: "sequential",
	})
	req := httptest.NewRequest(http.MethodPost, "/jobs/batch", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body: %s", rr.Code, rr.Body.String())
	}
	if fake.lastBatch.ConcurrentLimit != 2 || !fake.lastBatch.StopOnFailure ||
		fake.lastBatch.Strategy != store.StrategySequential {
		t.Errorf("options not forwarded: %+v", fake.lastBatch)
	}
}

func TestGetJob(t *testing.T) {
	job := sampleJob()

	tests := []struct {
		name           string
		jobIDParam     string
		setup          func(*fakeService)
		expectedStatus int
	}{
		{
			name:       "Success",
			jobIDParam: job.JobID.String(),
			setup: func(f *fakeService) {
				f.job = job
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Invalid UUID Format",
			jobIDParam:     "not-a-uuid",
			setup:          func(f *fakeService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:       "Not Found",
			jobIDParam: uuid.New().String(),
			setup: func(f *fakeService) {
				f.err = store.ErrNotFound
			},
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeService{}
			tt.setup(fake)
			mux := newMux(fake)

			req := httptest.NewRequest(http.MethodGet, "/jobs/"+tt.jobIDParam, nil)
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v body: %v",
					rr.Code, tt.expectedStatus, rr.Body.String())
			}
		})
	}
}

func TestGetJob_BatchIncludesChildren(t *testing.T) {
	parent := sampleJob()
	parent.IsBatchJob = true
	parent.BatchConfig = &store.BatchConfig{
		ConcurrentLimit:   2,
		ExecutionStrategy: store.StrategyParallel,
		TotalServers:      2,
		ServerIDs:         []int64{12, 13},
	}
	childA, childB := sampleJob(), sampleJob()
	childA.ServerID, childB.ServerID = 12, 13

	fake := &fakeService{job: parent, children: []*store.Job{childA, childB}}
	mux := newMux(fake)

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+parent.JobID.String(), nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp api.JobResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(resp.ChildJobs) != 2 {
		t.Fatalf("expected 2 children in response, got %d", len(resp.ChildJobs))
	}
	if resp.ChildJobs[0].ServerID != 12 || resp.ChildJobs[1].ServerID != 13 {
		t.Errorf("children out of order: %+v", resp.ChildJobs)
	}
	if resp.BatchConfig == nil || resp.BatchConfig.ConcurrentLimit != 2 {
		t.Errorf("batch config missing: %+v", resp.BatchConfig)
	}
}

func TestListJobs_RejectsBadStatus(t *testing.T) {
	mux := newMux(&fakeService{})

	req := httptest.NewRequest(http.MethodGet, "/jobs?status=exploded", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestCancelJob(t *testing.T) {
	job := sampleJob()
	job.Status = store.StatusCancelled

	tests := []struct {
		name           string
		setup          func(*fakeService)
		expectedStatus int
	}{
		{
			name: "Success",
			setup: func(f *fakeService) {
				f.job = job
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "Already Terminal",
			setup: func(f *fakeService) {
				f.err = service.ErrAlreadyTerminal
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name: "Not Found",
			setup: func(f *fakeService) {
				f.err = store.ErrNotFound
			},
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeService{}
			tt.setup(fake)
			mux := newMux(fake)

			req := httptest.NewRequest(http.MethodPost, "/jobs/"+job.JobID.String()+"/cancel", nil)
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v body: %v",
					rr.Code, tt.expectedStatus, rr.Body.String())
			}
		})
	}
}

func TestStats(t *testing.T) {
	fake := &fakeService{stats: &store.Statistics{
		Total: 10, Success: 6, Failed: 2, Cancelled: 1, Running: 1,
		SuccessRate: 80,
	}}
	mux := newMux(fake)

	req := httptest.NewRequest(http.MethodGet, "/jobs/stats", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp api.StatsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Total != 10 || resp.SuccessRate != 80 {
		t.Errorf("unexpected stats: %+v", resp)
	}
}

func TestGetJobLogs(t *testing.T) {
	job := sampleJob()
	// Five lines stored, two returned in this window; Total reports
	// the stored count.
	fake := &fakeService{
		job: job,
		logs: []store.JobLog{
			{LineNumber: 1, Content: "PLAY [all]", Level: store.LevelInfo},
			{LineNumber: 2, Content: "fatal: boom", Level: store.LevelError},
		},
		logTotal: 5,
	}
	mux := newMux(fake)

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+job.JobID.String()+"/logs?limit=2", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp api.GetLogsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(resp.Logs) != 2 {
		t.Fatalf("unexpected payload: %+v", resp)
	}
	if resp.Total != 5 {
		t.Errorf("Total = %d, want the full stored count 5", resp.Total)
	}
	if resp.Logs[1].Level != "ERROR" {
		t.Errorf("level lost in mapping: %+v", resp.Logs[1])
	}
}

func TestHealthz(t *testing.T) {
	mux := newMux(&fakeService{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "healthy") {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
}
