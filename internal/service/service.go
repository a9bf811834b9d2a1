// Package service exposes the orchestration entry points: job and batch
// creation with validation, dispatch, and cancellation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"opsplane/internal/dispatch"
	"opsplane/internal/store"
	"opsplane/internal/worker"

	"github.com/google/uuid"
)

// ValidationError marks caller mistakes: missing or inactive references,
// malformed batch parameters. The job is never created nor dispatched.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrAlreadyTerminal is returned when cancelling a job that already
// reached a terminal status.
var ErrAlreadyTerminal = errors.New("job already reached a terminal status")

// BatchOptions carries the batch policy of CreateAndDispatchBatch.
type BatchOptions struct {
	ConcurrentLimit int
	StopOnFailure   bool
	Strategy        store.ExecutionStrategy
}

// Service composes the store, dispatcher, executor and coordinator into
// the externally consumed orchestration API.
type Service struct {
	store       store.Store
	dispatcher  *dispatch.Dispatcher
	executor    *worker.Executor
	coordinator *worker.Coordinator
	logger      *slog.Logger
}

// New creates the orchestration service.
func New(s store.Store, d *dispatch.Dispatcher, e *worker.Executor, c *worker.Coordinator, logger *slog.Logger) *Service {
	return &Service{
		store:       s,
		dispatcher:  d,
		executor:    e,
		coordinator: c,
		logger:      logger.With("component", "service"),
	}
}

// CreateAndDispatchJob validates the references, creates a pending job,
// and schedules its execution. The dispatch handle is stamped on the job
// before the executor can transition it to running.
func (s *Service) CreateAndDispatchJob(ctx context.Context, playbookID, serverID, userID int64, extraVars map[string]any) (*store.Job, error) {
	if err := s.checkPlaybook(ctx, playbookID); err != nil {
		return nil, err
	}
	if err := s.checkServer(ctx, serverID); err != nil {
		return nil, err
	}

	job := &store.Job{
		JobID:      uuid.New(),
		PlaybookID: playbookID,
		ServerID:   serverID,
		UserID:     userID,
		Status:     store.StatusPending,
		ExtraVars:  extraVars,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if err := s.dispatchJob(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("job dispatched",
		"job_id", job.JobID.String(),
		"playbook_id", playbookID,
		"server_id", serverID,
	)
	return job, nil
}

// CreateAndDispatchBatch validates all targets, creates the parent
// container plus one child per server (creation order = execution
// order), and schedules the batch coordinator. Requires at least two
// targets; a single target is a plain job.
func (s *Service) CreateAndDispatchBatch(ctx context.Context, playbookID int64, serverIDs []int64, userID int64, extraVars map[string]any, opts BatchOptions) (*store.Job, error) {
	if len(serverIDs) < 2 {
		return nil, validationErrorf("batch execution requires at least 2 servers, got %d", len(serverIDs))
	}
	if err := s.checkPlaybook(ctx, playbookID); err != nil {
		return nil, err
	}
	servers, err := s.store.GetServers(ctx, serverIDs)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, validationErrorf("one or more servers not found or inactive")
		}
		return nil, fmt.Errorf("failed to load servers: %w", err)
	}
	for _, sv := range servers {
		if !sv.IsActive {
			return nil, validationErrorf("one or more servers not found or inactive")
		}
	}

	strategy := opts.Strategy
	if strategy == "" {
		strategy = store.StrategyParallel
	}
	if strategy != store.StrategyParallel && strategy != store.StrategySequential {
		return nil, validationErrorf("invalid execution strategy %q", strategy)
	}
	limit := opts.ConcurrentLimit
	if limit <= 0 {
		limit = 5
	}

	// The parent is a pure container; its server reference is a
	// placeholder for schema uniformity and is never executed against.
	parent := &store.Job{
		JobID:      uuid.New(),
		IsBatchJob: true,
		BatchConfig: &store.BatchConfig{
			ConcurrentLimit:   limit,
			StopOnFailure:     opts.StopOnFailure,
			ExecutionStrategy: strategy,
			TotalServers:      len(serverIDs),
			ServerIDs:         serverIDs,
		},
		PlaybookID: playbookID,
		ServerID:   servers[0].ID,
		UserID:     userID,
		Status:     store.StatusPending,
		ExtraVars:  extraVars,
		CreatedAt:  time.Now().UTC(),
	}

	children := make([]*store.Job, len(servers))
	for i, sv := range servers {
		children[i] = &store.Job{
			JobID:      uuid.New(),
			PlaybookID: playbookID,
			ServerID:   sv.ID,
			UserID:     userID,
			Status:     store.StatusPending,
			ExtraVars:  extraVars,
			CreatedAt:  time.Now().UTC(),
		}
	}

	if err := s.store.CreateBatchJob(ctx, parent, children); err != nil {
		return nil, fmt.Errorf("failed to create batch job: %w", err)
	}

	parentID := parent.ID
	handle, err := s.dispatcher.Dispatch(func(unitCtx context.Context) error {
		return s.coordinator.ExecuteBatch(unitCtx, parentID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dispatch batch: %w", err)
	}
	if err := s.store.SetDispatchHandle(ctx, parent.ID, handle.String()); err != nil {
		s.logger.Error("failed to stamp dispatch handle", "job_id", parent.JobID.String(), "error", err)
	}
	parent.DispatchHandle = handle.String()

	s.logger.Info("batch dispatched",
		"job_id", parent.JobID.String(),
		"targets", len(serverIDs),
		"strategy", strategy,
		"concurrent_limit", limit,
		"stop_on_failure", opts.StopOnFailure,
	)
	return parent, nil
}

// CancelJob cancels a job by its external id. A pending job goes
// straight to cancelled; a running job's unit of work is signalled and
// writes its own terminal state. Terminal jobs cannot be cancelled.
func (s *Service) CancelJob(ctx context.Context, jobID uuid.UUID) (*store.Job, error) {
	job, err := s.store.GetJobByUUID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch {
	case job.Status.Terminal():
		return nil, ErrAlreadyTerminal

	case job.Status == store.StatusPending:
		updated, err := s.store.UpdateStatus(ctx, job.ID, store.StatusUpdate{
			Status:       store.StatusCancelled,
			ErrorMessage: "Job cancelled by user",
		})
		if err != nil {
			return nil, err
		}
		// The unit of work may still be queued behind the dispatcher's
		// concurrency limit; cancel it so it never starts.
		if job.DispatchHandle != "" {
			if handle, err := uuid.Parse(job.DispatchHandle); err == nil {
				s.dispatcher.Cancel(handle)
			}
		}
		s.logger.Info("pending job cancelled", "job_id", jobID.String())
		return updated, nil

	default: // running
		if job.DispatchHandle == "" {
			return nil, fmt.Errorf("job %s has no dispatch handle", jobID)
		}
		handle, err := uuid.Parse(job.DispatchHandle)
		if err != nil {
			return nil, fmt.Errorf("job %s has a malformed dispatch handle: %w", jobID, err)
		}
		if !s.dispatcher.Cancel(handle) {
			// The unit finished between the status read and the cancel
			// request; the stored status is about to become terminal.
			s.logger.Warn("cancel raced with completion", "job_id", jobID.String())
		}
		s.logger.Info("job cancellation requested", "job_id", jobID.String())
		return s.store.GetJobByUUID(ctx, jobID)
	}
}

// GetJob returns a job by its external id.
func (s *Service) GetJob(ctx context.Context, jobID uuid.UUID) (*store.Job, error) {
	return s.store.GetJobByUUID(ctx, jobID)
}

// GetChildJobs returns a batch parent's children in creation order.
func (s *Service) GetChildJobs(ctx context.Context, parentID int64) ([]*store.Job, error) {
	return s.store.GetChildJobs(ctx, parentID)
}

// ListJobs returns jobs matching the filter, newest first.
func (s *Service) ListJobs(ctx context.Context, filter store.JobFilter, limit, offset int) ([]*store.Job, error) {
	return s.store.ListJobs(ctx, filter, limit, offset)
}

// GetLogs returns a job's captured output.
func (s *Service) GetLogs(ctx context.Context, jobID uuid.UUID, startLine, limit int) ([]store.JobLog, error) {
	job, err := s.store.GetJobByUUID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s.store.GetLogs(ctx, job.ID, startLine, limit)
}

// CountLogs returns the total number of stored log lines for a job,
// independent of any window applied to GetLogs.
func (s *Service) CountLogs(ctx context.Context, jobID uuid.UUID) (int, error) {
	job, err := s.store.GetJobByUUID(ctx, jobID)
	if err != nil {
		return 0, err
	}
	return s.store.CountLogs(ctx, job.ID)
}

// Statistics returns per-status job counts.
func (s *Service) Statistics(ctx context.Context, userID *int64) (*store.Statistics, error) {
	return s.store.Statistics(ctx, userID)
}

func (s *Service) dispatchJob(ctx context.Context, job *store.Job) error {
	jobID := job.ID
	handle, err := s.dispatcher.Dispatch(func(unitCtx context.Context) error {
		return s.executor.ExecuteJob(unitCtx, jobID)
	})
	if err != nil {
		return fmt.Errorf("failed to dispatch job: %w", err)
	}
	if err := s.store.SetDispatchHandle(ctx, job.ID, handle.String()); err != nil {
		s.logger.Error("failed to stamp dispatch handle", "job_id", job.JobID.String(), "error", err)
	}
	job.DispatchHandle = handle.String()
	return nil
}

func (s *Service) checkPlaybook(ctx context.Context, id int64) error {
	p, err := s.store.GetPlaybook(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return validationErrorf("playbook with ID %d not found or inactive", id)
		}
		return fmt.Errorf("failed to load playbook: %w", err)
	}
	if !p.IsActive {
		return validationErrorf("playbook with ID %d not found or inactive", id)
	}
	return nil
}

func (s *Service) checkServer(ctx context.Context, id int64) error {
	sv, err := s.store.GetServer(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return validationErrorf("server with ID %d not found or inactive", id)
		}
		return fmt.Errorf("failed to load server: %w", err)
	}
	if !sv.IsActive {
		return validationErrorf("server with ID %d not found or inactive", id)
	}
	return nil
}
