package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abrahamrini7-jpg/catalogIQ/internal/backoff"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/config"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/feed"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/logging"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/notifications"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/services"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/step"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/task"
)

// Dispatcher consumes feed events and drives tasks through their next
// pipeline step. Each event is re-validated against the live task before any
// work starts, and results are committed under a compare-and-set so a stale
// or duplicate event degrades to a no-op instead of a double execution.
type Dispatcher struct {
	cfg       *config.Config
	store     *task.Store
	logger    *slog.Logger
	notifier  notifications.Service
	executors map[task.Status]step.Executor

	workers     int
	stepTimeout time.Duration
	retryMax    int
	retryBase   time.Duration
	retryCap    time.Duration

	retries chan feed.Event

	mu       sync.Mutex
	inflight map[int64]struct{}
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// retryTimer lets tests shrink backoff waits.
	retryAfter func(ctx context.Context, d time.Duration, event feed.Event)
}

// New constructs a dispatcher over the given executors.
func New(cfg *config.Config, store *task.Store, logger *slog.Logger, notifier notifications.Service, executors ...step.Executor) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	byStatus := make(map[task.Status]step.Executor, len(executors))
	for _, executor := range executors {
		byStatus[executor.FromStatus()] = executor
	}

	d := &Dispatcher{
		cfg:         cfg,
		store:       store,
		logger:      logger.With(logging.String(logging.FieldComponent, "dispatcher")),
		notifier:    notifier,
		executors:   byStatus,
		workers:     cfg.Workflow.DispatchWorkers,
		stepTimeout: time.Duration(cfg.Workflow.StepTimeout) * time.Second,
		retryMax:    cfg.Workflow.RetryMax,
		retryBase:   time.Duration(cfg.Workflow.RetryBaseSeconds) * time.Second,
		retryCap:    time.Duration(cfg.Workflow.RetryMaxSeconds) * time.Second,
		retries:     make(chan feed.Event, cfg.Workflow.QueueSize),
		inflight:    make(map[int64]struct{}),
	}
	if d.workers <= 0 {
		d.workers = 1
	}
	d.retryAfter = d.scheduleRetry
	return d
}

// Start launches the worker pool over the event channel.
func (d *Dispatcher) Start(ctx context.Context, events <-chan feed.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errors.New("dispatcher already running")
	}
	if len(d.executors) == 0 {
		return errors.New("no step executors registered")
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.wg.Add(d.workers)
	for i := 0; i < d.workers; i++ {
		go d.worker(runCtx, events)
	}
	return nil
}

// Stop terminates the workers and waits for in-flight steps to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	cancel()
	d.wg.Wait()
}

// HealthChecks probes every registered executor.
func (d *Dispatcher) HealthChecks(ctx context.Context) []step.Health {
	checks := make([]step.Health, 0, len(d.executors))
	for _, status := range task.DispatchableStatuses() {
		if executor, ok := d.executors[status]; ok {
			checks = append(checks, executor.HealthCheck(ctx))
		}
	}
	return checks
}

func (d *Dispatcher) worker(ctx context.Context, events <-chan feed.Event) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			d.handle(ctx, event)
		case event := <-d.retries:
			d.handle(ctx, event)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, event feed.Event) {
	if !d.claim(event.TaskID) {
		// Another worker is already on this task; its commit (or retry
		// path) will cover this event.
		return
	}
	defer d.release(event.TaskID)

	correlationID := uuid.NewString()
	logger := d.logger.With(
		logging.Int64(logging.FieldTaskID, event.TaskID),
		logging.String(logging.FieldCorrelationID, correlationID),
	)

	t, err := d.store.GetByID(ctx, event.TaskID)
	if err != nil {
		logger.Error("failed to load task for dispatch", logging.Error(err))
		return
	}
	if t == nil {
		logger.Warn("feed event references missing task")
		return
	}
	if t.Status != event.Status {
		// The task moved on since the event was written. Nothing to do.
		logger.Debug("dropping stale feed event",
			logging.String("event_status", string(event.Status)),
			logging.String(logging.FieldStatus, string(t.Status)))
		return
	}

	executor, ok := d.executors[t.Status]
	if !ok {
		logger.Warn("no executor for status", logging.String(logging.FieldStatus, string(t.Status)))
		return
	}

	if t.Status == task.StatusColorCorrected && len(t.ColorAnalysis) == 0 {
		// The record claims correction happened but carries no results.
		// Publishing from it would push unreviewed photos, so fail fast.
		d.failTask(ctx, logger, t, "color-corrected task has no analysis results")
		return
	}

	stepCtx := services.WithTaskID(ctx, t.ID)
	stepCtx = services.WithStep(stepCtx, executor.Name())
	stepCtx = services.WithRequestID(stepCtx, correlationID)
	if d.stepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(stepCtx, d.stepTimeout)
		defer cancel()
	}

	logger.Info("running step",
		logging.String(logging.FieldStep, executor.Name()),
		logging.String(logging.FieldSKU, t.SKU))

	result, runErr := executor.Run(stepCtx, t)
	if runErr == nil && result.AllSucceeded() {
		d.commitSuccess(ctx, logger, executor, t, event, result)
		return
	}

	stepErr := runErr
	if stepErr == nil {
		stepErr = result.FirstError
	}
	if stepErr == nil {
		stepErr = fmt.Errorf("step %s failed for %d photos", executor.Name(), result.Failed)
	}
	if errors.Is(stepErr, context.Canceled) {
		return
	}
	d.handleFailure(ctx, logger, executor, t, event, stepErr)
}

func (d *Dispatcher) commitSuccess(ctx context.Context, logger *slog.Logger, executor step.Executor, t *task.Task, event feed.Event, result step.Result) {
	expected := t.Status
	t.SetStatus(executor.ToStatus())
	t.Retry = task.RetryMetadata{}
	t.AppendLog(executor.Name(), successAction(executor), successNote(t, result))

	err := d.store.CommitTransition(ctx, t, expected)
	if errors.Is(err, task.ErrStatusConflict) {
		logger.Info("dispatch superseded by concurrent transition",
			logging.String(logging.FieldStep, executor.Name()))
		if logErr := d.store.AppendLogEntry(ctx, t.ID, task.AgentDispatcher, task.ActionDispatchSuperseded,
			fmt.Sprintf("%s result discarded, task already moved past %s", executor.Name(), expected)); logErr != nil {
			logger.Warn("failed to record superseded dispatch", logging.Error(logErr))
		}
		return
	}
	if err != nil {
		logger.Error("failed to commit step result", logging.Error(err))
		return
	}

	logger.Info("step completed",
		logging.String(logging.FieldStep, executor.Name()),
		logging.String(logging.FieldStatus, string(t.Status)),
		logging.Int("processed", result.Processed),
		logging.Int("skipped", result.Skipped))

	if t.Status == task.StatusPublished {
		if err := d.notifier.NotifyPublished(ctx, t.SKU, len(t.PublishResults)); err != nil {
			logger.Warn("publish notification failed", logging.Error(err))
		}
	}
}

func (d *Dispatcher) handleFailure(ctx context.Context, logger *slog.Logger, executor step.Executor, t *task.Task, event feed.Event, stepErr error) {
	kind := services.Kind(stepErr)
	lastError := fmt.Sprintf("%s: %s", kind, stepErr.Error())

	if !services.IsRetryable(stepErr) {
		d.failTask(ctx, logger, t, lastError)
		return
	}

	t.Retry.Count++
	t.Retry.LastError = lastError

	if t.Retry.Count > d.retryMax {
		t.AppendLog(task.AgentDispatcher, task.ActionRetriesExhausted,
			fmt.Sprintf("attempt %d failed, retry budget of %d exhausted: %s", t.Retry.Count, d.retryMax, lastError))
		d.failTask(ctx, logger, t, lastError)
		return
	}

	delay := backoff.Delay(t.Retry.Count, d.retryBase, d.retryCap)
	t.AppendLog(task.AgentDispatcher, task.ActionRetryScheduled,
		fmt.Sprintf("attempt %d failed (%s), retrying in %s", t.Retry.Count, kind, delay))

	err := d.store.RecordFailure(ctx, t)
	if errors.Is(err, task.ErrStatusConflict) {
		logger.Info("retry bookkeeping superseded by concurrent transition",
			logging.String(logging.FieldStep, executor.Name()))
		return
	}
	if err != nil {
		logger.Error("failed to record retry metadata", logging.Error(err))
		return
	}

	logger.Warn("step failed, retry scheduled",
		logging.String(logging.FieldStep, executor.Name()),
		logging.String(logging.FieldErrorKind, kind),
		logging.Int("attempt", t.Retry.Count),
		logging.Duration("delay", delay),
		logging.Error(stepErr))

	d.retryAfter(ctx, delay, feed.Event{Seq: event.Seq, TaskID: t.ID, Status: t.Status})
}

func (d *Dispatcher) failTask(ctx context.Context, logger *slog.Logger, t *task.Task, reason string) {
	expected := t.Status
	t.Status = task.StatusFailed // keep WorkflowStep at the failing step
	t.Retry.LastError = reason

	err := d.store.CommitTransition(ctx, t, expected)
	if errors.Is(err, task.ErrStatusConflict) {
		logger.Info("failure transition superseded by concurrent writer")
		return
	}
	if err != nil {
		logger.Error("failed to mark task failed", logging.Error(err))
		return
	}

	logger.Error("task failed",
		logging.String(logging.FieldSKU, t.SKU),
		logging.Int("workflow_step", t.WorkflowStep),
		logging.String("reason", reason))

	if notifyErr := d.notifier.NotifyTaskFailed(ctx, t.SKU, reason); notifyErr != nil {
		logger.Warn("failure notification failed", logging.Error(notifyErr))
	}
}

func (d *Dispatcher) scheduleRetry(ctx context.Context, delay time.Duration, event feed.Event) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		select {
		case d.retries <- event:
		case <-ctx.Done():
		}
	}()
}

func (d *Dispatcher) claim(taskID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[taskID]; busy {
		return false
	}
	d.inflight[taskID] = struct{}{}
	return true
}

func (d *Dispatcher) release(taskID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, taskID)
}

func successAction(executor step.Executor) string {
	switch executor.ToStatus() {
	case task.StatusColorCorrected:
		return task.ActionColorCorrectionCompleted
	case task.StatusPublished:
		return task.ActionPublishCompleted
	default:
		return "step_completed"
	}
}

func successNote(t *task.Task, result step.Result) string {
	total := result.Processed + result.Skipped
	switch t.Status {
	case task.StatusColorCorrected:
		return fmt.Sprintf("%d photos corrected (%d already done)", total, result.Skipped)
	case task.StatusPublished:
		return fmt.Sprintf("%d photos published (%d already live)", total, result.Skipped)
	default:
		return fmt.Sprintf("%d photos processed", total)
	}
}
