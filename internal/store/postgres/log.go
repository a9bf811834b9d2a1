package postgres

import (
	"context"
	"fmt"
	"time"

	"opsplane/internal/store"

	"github.com/lib/pq"
)

// BulkInsertLogs appends all lines of a completed execution in one COPY,
// inside a transaction so a partial log stream is never visible.
func (s *Store) BulkInsertLogs(ctx context.Context, jobID int64, logs []store.JobLog) error {
	if len(logs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("job_logs", "job_id", "line_number", "content", "log_level", "created_at"))
	if err != nil {
		return fmt.Errorf("failed to prepare bulk insert: %w", err)
	}

	for _, l := range logs {
		ts := l.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, jobID, l.LineNumber, l.Content, l.Level, ts); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to buffer log line %d: %w", l.LineNumber, err)
		}
	}

	// Final Exec flushes the COPY buffer.
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to flush bulk insert: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) GetLogs(ctx context.Context, jobID int64, startLine, limit int) ([]store.JobLog, error) {
	query := `
		SELECT id, job_id, line_number, content, log_level, created_at
		FROM job_logs
		WHERE job_id = $1 AND line_number >= $2
		ORDER BY line_number ASC
	`
	args := []interface{}{jobID, startLine}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []store.JobLog
	for rows.Next() {
		var l store.JobLog
		if err := rows.Scan(&l.ID, &l.JobID, &l.LineNumber, &l.Content, &l.Level, &l.Timestamp); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *Store) CountLogs(ctx context.Context, jobID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM job_logs WHERE job_id = $1", jobID).Scan(&count)
	return count, err
}

// DeleteLogsBefore removes log lines older than cutoff. Run by the
// retention sweep.
func (s *Store) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM job_logs WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
