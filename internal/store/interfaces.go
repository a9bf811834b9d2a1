package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx.
// This allows passing either a connection pool or an active transaction
// to repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// JobStore handles the persistence of jobs and their captured logs.
//
// UpdateStatus is the only mutation path for a job's lifecycle: it is an
// atomic read-modify-write keyed by job id. StartedAt is stamped once on
// the first transition into running; CompletedAt is stamped once on any
// terminal transition. Neither is ever overwritten.
type JobStore interface {
	// CreateJob inserts a standalone or child job in pending state and
	// fills in its storage id.
	CreateJob(ctx context.Context, job *Job) error

	// CreateBatchJob inserts a parent batch job and all of its children
	// in a single transaction. Children keep their slice order as
	// creation order.
	CreateBatchJob(ctx context.Context, parent *Job, children []*Job) error

	// GetJob returns a job by its internal id.
	GetJob(ctx context.Context, id int64) (*Job, error)

	// GetJobByUUID returns a job by its externally visible id.
	GetJobByUUID(ctx context.Context, jobID uuid.UUID) (*Job, error)

	// GetChildJobs returns the children of a parent batch job in
	// creation order.
	GetChildJobs(ctx context.Context, parentID int64) ([]*Job, error)

	// ListJobs returns jobs matching the filter, newest first.
	ListJobs(ctx context.Context, filter JobFilter, limit, offset int) ([]*Job, error)

	// UpdateStatus applies an atomic status transition (status plus an
	// optional error message) and returns the updated job.
	UpdateStatus(ctx context.Context, id int64, upd StatusUpdate) (*Job, error)

	// SetDispatchHandle stamps the dispatch correlation handle without
	// touching status or timestamps.
	SetDispatchHandle(ctx context.Context, id int64, handle string) error

	// BulkInsertLogs appends captured output lines in one write.
	BulkInsertLogs(ctx context.Context, jobID int64, logs []JobLog) error

	// GetLogs returns logs ordered by line number, optionally starting
	// at startLine (0 = from the beginning). limit <= 0 means no limit.
	GetLogs(ctx context.Context, jobID int64, startLine, limit int) ([]JobLog, error)

	// CountLogs returns the number of log lines stored for a job.
	CountLogs(ctx context.Context, jobID int64) (int, error)

	// DeleteLogsBefore removes logs older than cutoff and returns the
	// number of deleted rows. Used by the retention sweep.
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Statistics returns per-status job counts and the success rate.
	Statistics(ctx context.Context, userID *int64) (*Statistics, error)
}

// InventoryStore resolves playbooks and servers referenced by jobs.
// Inventory CRUD itself lives outside this system.
type InventoryStore interface {
	GetPlaybook(ctx context.Context, id int64) (*Playbook, error)
	GetServer(ctx context.Context, id int64) (*Server, error)
	GetServers(ctx context.Context, ids []int64) ([]*Server, error)
}

// Store combines everything the orchestration core needs.
type Store interface {
	JobStore
	InventoryStore
}
