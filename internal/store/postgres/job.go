package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"opsplane/internal/store"

	"github.com/google/uuid"
)

const jobColumns = `id, job_id, parent_job_id, is_batch_job, batch_config, playbook_id,
	server_id, user_id, status, dispatch_handle, extra_vars, error_message,
	started_at, completed_at, created_at`

// CreateJob inserts a standalone or child job row and fills in its id.
// JSON columns carry the extra vars and batch config.
func (s *Store) CreateJob(ctx context.Context, job *store.Job) error {
	return s.createJob(ctx, s.db, job)
}

func (s *Store) createJob(ctx context.Context, tx store.DBTransaction, job *store.Job) error {
	query := `
		INSERT INTO jobs (job_id, parent_job_id, is_batch_job, batch_config, playbook_id,
			server_id, user_id, status, extra_vars, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING id, created_at
	`
	batchJSON, err := marshalNullable(job.BatchConfig)
	if err != nil {
		return err
	}
	varsJSON, err := marshalNullable(job.ExtraVars)
	if err != nil {
		return err
	}

	return tx.QueryRowContext(ctx, query,
		job.JobID,
		job.ParentJobID,
		job.IsBatchJob,
		batchJSON,
		job.PlaybookID,
		job.ServerID,
		job.UserID,
		job.Status,
		varsJSON,
	).Scan(&job.ID, &job.CreatedAt)
}

// CreateBatchJob inserts the parent and all children in one transaction so a
// half-created batch can never be observed.
func (s *Store) CreateBatchJob(ctx context.Context, parent *store.Job, children []*store.Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.createJob(ctx, tx, parent); err != nil {
		return fmt.Errorf("failed to create parent job: %w", err)
	}

	for _, child := range children {
		pid := parent.ID
		child.ParentJobID = &pid
		if err := s.createJob(ctx, tx, child); err != nil {
			return fmt.Errorf("failed to create child job: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetJob(ctx context.Context, id int64) (*store.Job, error) {
	query := fmt.Sprintf("SELECT %s FROM jobs WHERE id = $1", jobColumns)
	return scanJob(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) GetJobByUUID(ctx context.Context, jobID uuid.UUID) (*store.Job, error) {
	query := fmt.Sprintf("SELECT %s FROM jobs WHERE job_id = $1", jobColumns)
	return scanJob(s.db.QueryRowContext(ctx, query, jobID))
}

// GetChildJobs returns children ordered by insertion, which fixes both the
// sequential execution order and parallel window membership.
func (s *Store) GetChildJobs(ctx context.Context, parentID int64) ([]*store.Job, error) {
	query := fmt.Sprintf("SELECT %s FROM jobs WHERE parent_job_id = $1 ORDER BY id ASC", jobColumns)
	rows, err := s.db.QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *Store) ListJobs(ctx context.Context, filter store.JobFilter, limit, offset int) ([]*store.Job, error) {
	var conds []string
	var args []interface{}

	addCond := func(col string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if filter.Status != nil {
		addCond("status", *filter.Status)
	}
	if filter.PlaybookID != nil {
		addCond("playbook_id", *filter.PlaybookID)
	}
	if filter.ServerID != nil {
		addCond("server_id", *filter.ServerID)
	}
	if filter.UserID != nil {
		addCond("user_id", *filter.UserID)
	}

	query := fmt.Sprintf("SELECT %s FROM jobs", jobColumns)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// UpdateStatus applies an atomic status transition in a single UPDATE.
// started_at is stamped only on the first transition into running and
// completed_at only on the first terminal transition; COALESCE keeps
// both set-once.
func (s *Store) UpdateStatus(ctx context.Context, id int64, upd store.StatusUpdate) (*store.Job, error) {
	query := fmt.Sprintf(`
		UPDATE jobs SET
			status = $2,
			error_message = COALESCE(NULLIF($3, ''), error_message),
			started_at = CASE WHEN $2 = 'running' THEN COALESCE(started_at, NOW()) ELSE started_at END,
			completed_at = CASE WHEN $2 IN ('success', 'failed', 'cancelled') THEN COALESCE(completed_at, NOW()) ELSE completed_at END
		WHERE id = $1
		RETURNING %s
	`, jobColumns)

	return scanJob(s.db.QueryRowContext(ctx, query, id, upd.Status, upd.ErrorMessage))
}

func (s *Store) SetDispatchHandle(ctx context.Context, id int64, handle string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE jobs SET dispatch_handle = $2 WHERE id = $1", id, handle)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Statistics(ctx context.Context, userID *int64) (*store.Statistics, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'running'),
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'cancelled')
		FROM jobs
		WHERE ($1::BIGINT IS NULL OR user_id = $1)
	`
	stats := &store.Statistics{}
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&stats.Total, &stats.Pending, &stats.Running,
		&stats.Success, &stats.Failed, &stats.Cancelled,
	)
	if err != nil {
		return nil, err
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Total-stats.Failed) / float64(stats.Total) * 100
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*store.Job, error) {
	var job store.Job
	var batchJSON, varsJSON []byte

	err := row.Scan(
		&job.ID, &job.JobID, &job.ParentJobID, &job.IsBatchJob, &batchJSON,
		&job.PlaybookID, &job.ServerID, &job.UserID, &job.Status, &job.DispatchHandle,
		&varsJSON, &job.ErrorMessage, &job.StartedAt, &job.CompletedAt, &job.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if len(batchJSON) > 0 {
		job.BatchConfig = &store.BatchConfig{}
		if err := json.Unmarshal(batchJSON, job.BatchConfig); err != nil {
			return nil, fmt.Errorf("failed to decode batch config: %w", err)
		}
	}
	if len(varsJSON) > 0 {
		if err := json.Unmarshal(varsJSON, &job.ExtraVars); err != nil {
			return nil, fmt.Errorf("failed to decode extra vars: %w", err)
		}
	}
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*store.Job, error) {
	var jobs []*store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// marshalNullable encodes the value as JSON, mapping absent values to a
// driver-level NULL. The untyped nil matters: a typed []byte(nil) would
// reach the JSONB column as an empty value instead of NULL.
func marshalNullable(v interface{}) (any, error) {
	switch x := v.(type) {
	case *store.BatchConfig:
		if x == nil {
			return nil, nil
		}
	case map[string]any:
		if x == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
