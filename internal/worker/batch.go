package worker

import (
	"context"
	"fmt"
	"log/slog"

	"opsplane/internal/dispatch"
	"opsplane/internal/notify"
	"opsplane/internal/observability"
	"opsplane/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const cancelledByBatchFailure = "cancelled due to batch failure"
const cancelledByParent = "cancelled: batch parent terminated"

// Coordinator drives a parent batch job's children to completion under
// the batch policy and derives the parent's terminal status from child
// outcomes. Like the executor, it is an outermost failure boundary: a
// coordination fault becomes a failed parent, never an escaped error.
type Coordinator struct {
	store      store.Store
	executor   *Executor
	dispatcher *dispatch.Dispatcher
	notifier   notify.Notifier
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewCoordinator creates a batch coordinator.
func NewCoordinator(s store.Store, e *Executor, d *dispatch.Dispatcher, n notify.Notifier, m *observability.Metrics, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:      s,
		executor:   e,
		dispatcher: d,
		notifier:   n,
		metrics:    m,
		logger:     logger.With("component", "batch"),
	}
}

// ExecuteBatch runs all children of the parent batch job under its
// configured strategy and aggregates their outcomes into the parent.
func (c *Coordinator) ExecuteBatch(ctx context.Context, parentID int64) error {
	parent, err := c.store.GetJob(ctx, parentID)
	if err != nil {
		return fmt.Errorf("failed to load batch job %d: %w", parentID, err)
	}
	if !parent.IsBatchJob || parent.BatchConfig == nil {
		return c.failParent(ctx, parent, "job is not a batch job")
	}

	tracer := otel.Tracer("opsplane/worker")
	ctx, span := tracer.Start(ctx, "execute_batch",
		trace.WithAttributes(
			attribute.String("job.id", parent.JobID.String()),
			attribute.String("batch.strategy", string(parent.BatchConfig.ExecutionStrategy)),
			attribute.Int("batch.total", parent.BatchConfig.TotalServers),
		),
	)
	defer span.End()

	children, err := c.store.GetChildJobs(ctx, parent.ID)
	if err != nil {
		return c.failParent(ctx, parent, fmt.Sprintf("failed to load child jobs: %v", err))
	}
	if len(children) == 0 {
		return c.failParent(ctx, parent, "batch job has no child jobs")
	}

	if _, err := c.store.UpdateStatus(ctx, parent.ID, store.StatusUpdate{Status: store.StatusRunning}); err != nil {
		return fmt.Errorf("failed to mark batch %d running: %w", parent.ID, err)
	}
	c.logger.Info("batch started",
		"job_id", parent.JobID.String(),
		"children", len(children),
		"strategy", parent.BatchConfig.ExecutionStrategy,
	)

	switch parent.BatchConfig.ExecutionStrategy {
	case store.StrategySequential:
		err = c.runSequential(ctx, parent, children)
	default:
		err = c.runParallel(ctx, parent, children)
	}
	if err != nil {
		return err
	}

	return c.finalize(ctx, parent)
}

// runSequential executes children strictly one at a time in creation
// order. With stop-on-failure, a failed child cancels every not-yet-
// started sibling without it ever entering running.
func (c *Coordinator) runSequential(ctx context.Context, parent *store.Job, children []*store.Job) error {
	cfg := parent.BatchConfig
	for i, child := range children {
		if ctx.Err() != nil {
			return c.cancelBatch(ctx, parent, children)
		}

		if err := c.executor.ExecuteJob(ctx, child.ID); err != nil {
			return c.failParent(ctx, parent, fmt.Sprintf("batch coordination error: %v", err))
		}
		if ctx.Err() != nil {
			return c.cancelBatch(ctx, parent, children)
		}

		if cfg.StopOnFailure {
			updated, err := c.store.GetJob(ctx, child.ID)
			if err != nil {
				return c.failParent(ctx, parent, fmt.Sprintf("batch coordination error: %v", err))
			}
			if updated.Status == store.StatusFailed {
				c.cancelPending(ctx, children[i+1:], cancelledByBatchFailure)
				break
			}
		}
	}
	return nil
}

// runParallel executes children in consecutive windows of the
// concurrency limit. Windows run strictly in sequence; within a window
// children run concurrently with no relative ordering. With
// stop-on-failure, a failed child cancels all children of windows that
// have not started.
func (c *Coordinator) runParallel(ctx context.Context, parent *store.Job, children []*store.Job) error {
	cfg := parent.BatchConfig
	limit := cfg.ConcurrentLimit
	if limit <= 0 || limit > len(children) {
		limit = len(children)
	}

	for start := 0; start < len(children); start += limit {
		if ctx.Err() != nil {
			return c.cancelBatch(ctx, parent, children)
		}

		end := start + limit
		if end > len(children) {
			end = len(children)
		}
		window := children[start:end]

		tasks := make([]dispatch.Task, len(window))
		for j, child := range window {
			childID := child.ID
			tasks[j] = func(unitCtx context.Context) error {
				return c.executor.ExecuteJob(unitCtx, childID)
			}
		}

		group, err := c.dispatcher.DispatchGroup(ctx, tasks)
		if err != nil {
			return c.failParent(ctx, parent, fmt.Sprintf("batch coordination error: %v", err))
		}

		results, err := group.Join(ctx)
		if err != nil {
			// Parent terminated while waiting on the window. Window
			// members inherit ctx and write their own cancelled state;
			// unstarted children are cancelled here.
			return c.cancelBatch(ctx, parent, children)
		}
		for _, res := range results {
			if res != nil {
				return c.failParent(ctx, parent, fmt.Sprintf("batch coordination error: %v", res))
			}
		}

		if cfg.StopOnFailure && c.windowFailed(ctx, window) {
			c.cancelPending(ctx, children[end:], cancelledByBatchFailure)
			break
		}
	}
	return nil
}

// windowFailed re-reads a completed window and reports whether any
// member terminated as failed.
func (c *Coordinator) windowFailed(ctx context.Context, window []*store.Job) bool {
	for _, child := range window {
		updated, err := c.store.GetJob(ctx, child.ID)
		if err != nil {
			continue
		}
		if updated.Status == store.StatusFailed {
			return true
		}
	}
	return false
}

// cancelPending transitions every still-pending child directly to
// cancelled; it never touches running or terminal children.
func (c *Coordinator) cancelPending(ctx context.Context, children []*store.Job, reason string) {
	detached := context.WithoutCancel(ctx)
	for _, child := range children {
		updated, err := c.store.GetJob(detached, child.ID)
		if err != nil {
			c.logger.Error("failed to load child for cancellation", "child_id", child.ID, "error", err)
			continue
		}
		if updated.Status != store.StatusPending {
			continue
		}
		if _, err := c.store.UpdateStatus(detached, child.ID, store.StatusUpdate{
			Status:       store.StatusCancelled,
			ErrorMessage: reason,
		}); err != nil {
			c.logger.Error("failed to cancel child", "child_id", child.ID, "error", err)
		}
	}
}

// cancelBatch handles external termination of the parent's unit of work:
// pending children are cancelled here, running children observe the same
// cancellation through their inherited contexts, and the parent itself
// goes to cancelled.
func (c *Coordinator) cancelBatch(ctx context.Context, parent *store.Job, children []*store.Job) error {
	detached := context.WithoutCancel(ctx)
	c.cancelPending(detached, children, cancelledByParent)

	if _, err := c.store.UpdateStatus(detached, parent.ID, store.StatusUpdate{
		Status:       store.StatusCancelled,
		ErrorMessage: "Batch cancelled by user",
	}); err != nil {
		return fmt.Errorf("failed to mark batch %d cancelled: %w", parent.ID, err)
	}
	c.metrics.RecordBatchCompleted(detached, string(store.StatusCancelled))
	c.logger.Warn("batch cancelled", "job_id", parent.JobID.String())
	return nil
}

// failParent records a coordination fault on the parent. Children that
// are already running are left to complete independently; their own
// statuses stand.
func (c *Coordinator) failParent(ctx context.Context, parent *store.Job, msg string) error {
	detached := context.WithoutCancel(ctx)
	if _, err := c.store.UpdateStatus(detached, parent.ID, store.StatusUpdate{
		Status:       store.StatusFailed,
		ErrorMessage: msg,
	}); err != nil {
		return fmt.Errorf("failed to mark batch %d failed: %w", parent.ID, err)
	}
	c.metrics.RecordBatchCompleted(detached, string(store.StatusFailed))
	c.logger.Error("batch failed", "job_id", parent.JobID.String(), "error", msg)
	return nil
}

// finalize derives the parent's terminal status by re-reading all child
// statuses, stamps completed_at, and emits the batch completion event.
func (c *Coordinator) finalize(ctx context.Context, parent *store.Job) error {
	detached := context.WithoutCancel(ctx)

	children, err := c.store.GetChildJobs(detached, parent.ID)
	if err != nil {
		return c.failParent(ctx, parent, fmt.Sprintf("failed to reload child jobs: %v", err))
	}

	var success, failed, cancelled, terminal int
	for _, child := range children {
		if child.Status.Terminal() {
			terminal++
		}
		switch child.Status {
		case store.StatusSuccess:
			success++
		case store.StatusFailed:
			failed++
		case store.StatusCancelled:
			cancelled++
		}
	}

	if terminal != len(children) {
		// Children still running; the parent stays running and the
		// stragglers' own terminal writes stand on their own.
		c.logger.Warn("batch finalize with non-terminal children",
			"job_id", parent.JobID.String(), "terminal", terminal, "total", len(children))
		return nil
	}

	var status store.JobStatus
	var errMsg string
	switch {
	case failed > 0:
		// Mixed success/failure counts as failed; there is no partial
		// success status.
		status = store.StatusFailed
		errMsg = fmt.Sprintf("%d of %d child jobs failed", failed, len(children))
	case success == len(children):
		status = store.StatusSuccess
	default:
		status = store.StatusCancelled
		errMsg = fmt.Sprintf("%d of %d child jobs cancelled", cancelled, len(children))
	}

	if _, err := c.store.UpdateStatus(detached, parent.ID, store.StatusUpdate{
		Status:       status,
		ErrorMessage: errMsg,
	}); err != nil {
		return fmt.Errorf("failed to persist batch terminal status: %w", err)
	}
	c.metrics.RecordBatchCompleted(detached, string(status))

	severity := notify.SeverityInfo
	if status != store.StatusSuccess {
		severity = notify.SeverityError
	}
	c.notifier.Notify(detached, notify.Event{
		UserID:   parent.UserID,
		Type:     notify.EventBatchComplete,
		Severity: severity,
		Title:    "Batch completed",
		Message: fmt.Sprintf("Batch %s finished: %d succeeded, %d failed of %d",
			parent.JobID, success, failed, len(children)),
		Metadata: map[string]any{
			"job_id":    parent.JobID.String(),
			"strategy":  string(parent.BatchConfig.ExecutionStrategy),
			"total":     len(children),
			"success":   success,
			"failed":    failed,
			"cancelled": cancelled,
		},
	})

	c.logger.Info("batch finished",
		"job_id", parent.JobID.String(),
		"status", status,
		"success", success,
		"failed", failed,
		"cancelled", cancelled,
	)
	return nil
}
