// Package worker contains the execution engine: the per-job executor
// and the batch coordinator that drives child jobs under a policy.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"opsplane/internal/logparse"
	"opsplane/internal/notify"
	"opsplane/internal/observability"
	"opsplane/internal/runner"
	"opsplane/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Executor executes exactly one non-batch job to completion and persists
// every observable effect. It is the outermost failure boundary for a
// single job: no error escapes ExecuteJob without the job reaching a
// terminal status.
type Executor struct {
	store    store.Store
	runner   runner.Runner
	notifier notify.Notifier
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewExecutor creates a job executor.
func NewExecutor(s store.Store, r runner.Runner, n notify.Notifier, m *observability.Metrics, logger *slog.Logger) *Executor {
	return &Executor{
		store:    s,
		runner:   r,
		notifier: n,
		metrics:  m,
		logger:   logger.With("component", "executor"),
	}
}

// ExecuteJob runs the job end-to-end: validate references, transition to
// running, invoke the runner once, persist parsed logs in one bulk
// write, persist the terminal status, and emit a completion event.
//
// Cancellation of ctx while the runner is executing still produces a
// terminal state (cancelled); terminal writes use a detached context so
// they cannot be interrupted by the same cancellation.
func (e *Executor) ExecuteJob(ctx context.Context, jobID int64) error {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %d: %w", jobID, err)
	}

	// The unit of work may have been queued behind the concurrency limit
	// and cancelled while waiting. A terminal status is final; never run
	// against it.
	if job.Status.Terminal() {
		e.logger.Info("job already terminal, skipping execution",
			"job_id", job.JobID.String(), "status", job.Status)
		return nil
	}

	tracer := otel.Tracer("opsplane/worker")
	ctx, span := tracer.Start(ctx, "execute_job",
		trace.WithAttributes(
			attribute.String("job.id", job.JobID.String()),
			attribute.Int64("job.playbook_id", job.PlaybookID),
			attribute.Int64("job.server_id", job.ServerID),
		),
	)
	defer span.End()

	log := e.logger.With("job_id", job.JobID.String())

	// Missing or inactive references fail the job for good; a transient
	// store error propagates without a terminal write so the job can run
	// once the store recovers.
	playbook, err := e.store.GetPlaybook(ctx, job.PlaybookID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return e.failJob(ctx, job, fmt.Sprintf("Playbook with ID %d not found or inactive", job.PlaybookID))
		}
		return fmt.Errorf("failed to load playbook %d: %w", job.PlaybookID, err)
	}
	if !playbook.IsActive {
		return e.failJob(ctx, job, fmt.Sprintf("Playbook with ID %d not found or inactive", job.PlaybookID))
	}
	server, err := e.store.GetServer(ctx, job.ServerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return e.failJob(ctx, job, fmt.Sprintf("Server with ID %d not found or inactive", job.ServerID))
		}
		return fmt.Errorf("failed to load server %d: %w", job.ServerID, err)
	}
	if !server.IsActive {
		return e.failJob(ctx, job, fmt.Sprintf("Server with ID %d not found or inactive", job.ServerID))
	}

	if _, err := e.store.UpdateStatus(ctx, job.ID, store.StatusUpdate{Status: store.StatusRunning}); err != nil {
		return fmt.Errorf("failed to mark job %d running: %w", job.ID, err)
	}
	log.Info("job started", "playbook", playbook.Name, "server", server.Hostname)

	spec := runner.RunSpec{
		WorkingDir: playbook.Path,
		EntryFile:  playbook.EntryFile,
		Host: runner.Host{
			Hostname:   server.Hostname,
			IPAddress:  server.IPAddress,
			SSHUser:    server.SSHUser,
			SSHPort:    server.SSHPort,
			SSHKeyPath: server.SSHKeyPath,
		},
		ExtraVars: mergeVars(playbook.Variables, job.ExtraVars),
	}

	result, runErr := e.runner.Run(ctx, spec)

	// Persist whatever output was captured, even for interrupted runs.
	var logs []store.JobLog
	if result != nil && result.RawOutput != "" {
		logs = logparse.Parse(result.RawOutput)
	}

	if ctx.Err() != nil {
		return e.cancelJob(ctx, job, logs)
	}

	if runErr != nil {
		span.RecordError(runErr)
		msg := fmt.Sprintf("Job execution error: %v", runErr)
		logs = append(logs, store.JobLog{
			LineNumber: len(logs) + 1,
			Content:    msg,
			Level:      store.LevelError,
			Timestamp:  time.Now().UTC(),
		})
		e.persistLogs(ctx, job, logs)
		return e.terminate(ctx, job, store.StatusFailed, msg, nil)
	}

	e.persistLogs(ctx, job, logs)
	span.SetAttributes(attribute.Int("job.return_code", result.ReturnCode))

	recap := logparse.Summarize(logs)
	switch result.Status {
	case runner.StatusSuccessful:
		return e.terminate(ctx, job, store.StatusSuccess, "", &recap)
	case runner.StatusFailed:
		return e.terminate(ctx, job, store.StatusFailed,
			fmt.Sprintf("Playbook execution failed with return code %d", result.ReturnCode), &recap)
	default:
		return e.terminate(ctx, job, store.StatusFailed,
			fmt.Sprintf("Unknown runner status: %s", result.Status), nil)
	}
}

// failJob marks a job failed before the runner was ever invoked
// (missing or inactive references). The diagnostic is also recorded as
// a single log line so the log stream is never empty for a failed job.
func (e *Executor) failJob(ctx context.Context, job *store.Job, msg string) error {
	logs := []store.JobLog{{
		LineNumber: 1,
		Content:    msg,
		Level:      store.LevelError,
		Timestamp:  time.Now().UTC(),
	}}
	e.persistLogs(ctx, job, logs)
	return e.terminate(ctx, job, store.StatusFailed, msg, nil)
}

// cancelJob records the user-initiated termination and moves the job to
// cancelled. Writes run on a detached context: the cancellation that got
// us here must not interrupt the terminal write itself.
func (e *Executor) cancelJob(ctx context.Context, job *store.Job, logs []store.JobLog) error {
	detached := context.WithoutCancel(ctx)
	logs = append(logs, store.JobLog{
		LineNumber: len(logs) + 1,
		Content:    "Job terminated by user request",
		Level:      store.LevelWarning,
		Timestamp:  time.Now().UTC(),
	})
	e.persistLogs(detached, job, logs)

	if _, err := e.store.UpdateStatus(detached, job.ID, store.StatusUpdate{
		Status:       store.StatusCancelled,
		ErrorMessage: "Job cancelled by user",
	}); err != nil {
		return fmt.Errorf("failed to mark job %d cancelled: %w", job.ID, err)
	}
	e.logger.Warn("job cancelled", "job_id", job.JobID.String())
	return nil
}

// terminate persists the terminal status and emits the completion event,
// carrying the run's task recap when output was captured. Notification
// failures never flip a terminal status; the notifier swallows its own
// errors.
func (e *Executor) terminate(ctx context.Context, job *store.Job, status store.JobStatus, errMsg string, recap *logparse.Summary) error {
	detached := context.WithoutCancel(ctx)

	updated, err := e.store.UpdateStatus(detached, job.ID, store.StatusUpdate{
		Status:       status,
		ErrorMessage: errMsg,
	})
	if err != nil {
		return fmt.Errorf("failed to persist terminal status for job %d: %w", job.ID, err)
	}

	var duration time.Duration
	if updated.StartedAt != nil && updated.CompletedAt != nil {
		duration = updated.CompletedAt.Sub(*updated.StartedAt)
	}
	e.metrics.RecordJobCompleted(detached, string(status), duration)

	event := notify.Event{
		UserID:   job.UserID,
		Type:     notify.EventJobSuccess,
		Severity: notify.SeverityInfo,
		Title:    "Job completed",
		Message:  fmt.Sprintf("Job %s completed successfully", job.JobID),
		Metadata: map[string]any{
			"job_id":      job.JobID.String(),
			"playbook_id": job.PlaybookID,
			"server_id":   job.ServerID,
		},
	}
	if status == store.StatusFailed {
		event.Type = notify.EventJobFailure
		event.Severity = notify.SeverityError
		event.Title = "Job failed"
		event.Message = fmt.Sprintf("Job %s failed: %s", job.JobID, errMsg)
		event.Metadata["error"] = errMsg
	}
	if recap != nil {
		event.Metadata["recap"] = map[string]any{
			"tasks":   recap.TotalTasks,
			"ok":      recap.OK,
			"changed": recap.Changed,
			"failed":  recap.Failed,
			"skipped": recap.Skipped,
		}
	}
	e.notifier.Notify(detached, event)

	e.logger.Info("job finished", "job_id", job.JobID.String(), "status", status, "duration", duration)
	return nil
}

// persistLogs bulk-writes the captured lines. A log write failure is
// recorded but does not change the job's outcome.
func (e *Executor) persistLogs(ctx context.Context, job *store.Job, logs []store.JobLog) {
	if len(logs) == 0 {
		return
	}
	if err := e.store.BulkInsertLogs(ctx, job.ID, logs); err != nil {
		e.logger.Error("failed to persist job logs", "job_id", job.JobID.String(), "error", err)
	}
}

// mergeVars merges playbook defaults with job-level extra vars.
// Job-level values win on key collision.
func mergeVars(defaults, extra map[string]any) map[string]any {
	if len(defaults) == 0 && len(extra) == 0 {
		return nil
	}
	merged := make(map[string]any, len(defaults)+len(extra))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
