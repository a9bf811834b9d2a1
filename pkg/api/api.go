// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and the server.
package api

import "time"

// RunPlaybookRequest is the request body for running a playbook on a
// single server.
type RunPlaybookRequest struct {
	PlaybookID int64          `json:"playbook_id"`
	ServerID   int64          `json:"server_id"`
	UserID     int64          `json:"user_id"`
	ExtraVars  map[string]any `json:"extra_vars,omitempty"`
}

// RunBatchRequest is the request body for running a playbook across
// multiple servers. At least two server ids are required.
type RunBatchRequest struct {
	PlaybookID int64          `json:"playbook_id"`
	ServerIDs  []int64        `json:"server_ids"`
	UserID     int64          `json:"user_id"`
	ExtraVars  map[string]any `json:"extra_vars,omitempty"`
	// Execution policy; zero values fall back to server defaults.
	ConcurrentLimit   int    `json:"concurrent_limit,omitempty"`
	StopOnFailure     bool   `json:"stop_on_failure,omitempty"`
	ExecutionStrategy string `json:"execution_strategy,omitempty"`
}

// BatchConfigResponse mirrors the stored batch policy.
type BatchConfigResponse struct {
	ConcurrentLimit   int     `json:"concurrent_limit"`
	StopOnFailure     bool    `json:"stop_on_failure"`
	ExecutionStrategy string  `json:"execution_strategy"`
	TotalServers      int     `json:"total_servers"`
	ServerIDs         []int64 `json:"server_ids"`
}

// JobResponse represents a job in API responses.
type JobResponse struct {
	JobID        string               `json:"job_id"`
	Status       string               `json:"status"`
	PlaybookID   int64                `json:"playbook_id"`
	ServerID     int64                `json:"server_id"`
	UserID       int64                `json:"user_id"`
	IsBatchJob   bool                 `json:"is_batch_job"`
	BatchConfig  *BatchConfigResponse `json:"batch_config,omitempty"`
	ExtraVars    map[string]any       `json:"extra_vars,omitempty"`
	ErrorMessage *string              `json:"error_message,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	StartedAt    *time.Time           `json:"started_at,omitempty"`
	CompletedAt  *time.Time           `json:"completed_at,omitempty"`
	ChildJobs    []JobResponse        `json:"child_jobs,omitempty"`
}

// ListJobsResponse is the response body for job listings.
type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// LogEntry represents a single parsed output line.
type LogEntry struct {
	LineNumber int       `json:"line_number"`
	Content    string    `json:"content"`
	Level      string    `json:"level"`
	Timestamp  time.Time `json:"timestamp"`
}

// GetLogsResponse is the response body for fetching a job's output.
type GetLogsResponse struct {
	JobID string     `json:"job_id"`
	Total int        `json:"total"`
	Logs  []LogEntry `json:"logs"`
}

// StatsResponse is the response body for job statistics.
type StatsResponse struct {
	Total       int     `json:"total"`
	Pending     int     `json:"pending"`
	Running     int     `json:"running"`
	Success     int     `json:"success"`
	Failed      int     `json:"failed"`
	Cancelled   int     `json:"cancelled"`
	SuccessRate float64 `json:"success_rate"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
