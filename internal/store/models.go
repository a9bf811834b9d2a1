// Package store contains the database layer for opsplane.
package store

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusSuccess   JobStatus = "success"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition can occur from s.
func (s JobStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// ExecutionStrategy controls how a batch drives its children.
type ExecutionStrategy string

const (
	StrategyParallel   ExecutionStrategy = "parallel"
	StrategySequential ExecutionStrategy = "sequential"
)

// BatchConfig holds the execution policy of a parent batch job.
type BatchConfig struct {
	ConcurrentLimit   int               `json:"concurrent_limit"`
	StopOnFailure     bool              `json:"stop_on_failure"`
	ExecutionStrategy ExecutionStrategy `json:"execution_strategy"`
	TotalServers      int               `json:"total_servers"`
	ServerIDs         []int64           `json:"server_ids"`
}

// Job represents one request to execute a playbook against a server,
// or a parent container of such requests when IsBatchJob is set.
//
// A job is exactly one of: a standalone leaf (ParentJobID nil, not a batch),
// a parent container (IsBatchJob true), or a child leaf (ParentJobID set).
// A parent never executes against a target itself; its ServerID is a
// placeholder kept only for schema uniformity.
type Job struct {
	ID          int64
	JobID       uuid.UUID // externally visible id
	ParentJobID *int64
	IsBatchJob  bool
	BatchConfig *BatchConfig
	PlaybookID  int64
	ServerID    int64
	UserID      int64
	Status      JobStatus

	// DispatchHandle correlates the job with its asynchronously dispatched
	// unit of work. Empty until the job has been dispatched.
	DispatchHandle string

	ExtraVars    map[string]any
	ErrorMessage *string

	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// LogLevel classifies a captured output line.
type LogLevel string

const (
	LevelInfo    LogLevel = "INFO"
	LevelWarning LogLevel = "WARNING"
	LevelError   LogLevel = "ERROR"
	LevelDebug   LogLevel = "DEBUG"
)

// JobLog is one captured line of execution output.
// (JobID, LineNumber) is unique per job; lines are append-only.
type JobLog struct {
	ID         int64
	JobID      int64
	LineNumber int
	Content    string
	Level      LogLevel
	Timestamp  time.Time
}

// Playbook is the inventory view of a playbook needed to run it.
// Path is the bundle root for multi-file playbooks; EntryFile is the
// designated file to execute, relative to Path.
type Playbook struct {
	ID        int64
	Name      string
	Path      string
	EntryFile string
	FileCount int
	Variables map[string]any
	IsActive  bool
}

// Server is the inventory view of an execution target.
type Server struct {
	ID         int64
	Hostname   string
	IPAddress  string
	SSHUser    string
	SSHPort    int
	SSHKeyPath string
	IsActive   bool
}

// JobFilter narrows ListJobs results. Nil fields are ignored.
type JobFilter struct {
	Status     *JobStatus
	PlaybookID *int64
	ServerID   *int64
	UserID     *int64
}

// Statistics aggregates job counts by status.
type Statistics struct {
	Total       int     `json:"total"`
	Pending     int     `json:"pending"`
	Running     int     `json:"running"`
	Success     int     `json:"success"`
	Failed      int     `json:"failed"`
	Cancelled   int     `json:"cancelled"`
	SuccessRate float64 `json:"success_rate"`
}

// StatusUpdate describes an atomic status transition.
// ErrorMessage is applied only when non-empty.
type StatusUpdate struct {
	Status       JobStatus
	ErrorMessage string
}
