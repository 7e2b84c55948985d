// Package executor drives one execution attempt: it builds reasoning context,
// invokes the AI gateway, dispatches requested tool calls and writes the
// outcome back through the store.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/avolokh/taskmind/internal/notify"
	"github.com/avolokh/taskmind/internal/observability"
	"github.com/avolokh/taskmind/internal/queue"
	"github.com/avolokh/taskmind/internal/reasoning"
	"github.com/avolokh/taskmind/internal/schedule"
	"github.com/avolokh/taskmind/internal/store"
	"github.com/avolokh/taskmind/internal/tools"
)

// Store is the slice of the persistence layer the executor mutates through.
type Store interface {
	GetTask(ctx context.Context, id uuid.UUID) (*store.Task, error)
	MarkRunning(ctx context.Context, id uuid.UUID) (*store.Task, error)
	CompleteTask(ctx context.Context, id uuid.UUID, next *time.Time) (*store.Task, error)
	FailTask(ctx context.Context, id uuid.UUID, errMsg string) (*store.Task, error)
	RetryTask(ctx context.Context, id uuid.UUID, at time.Time, errMsg string) (*store.Task, error)
	CreateExecution(ctx context.Context, taskID uuid.UUID, generation, attempt int) (*store.TaskExecution, error)
	FinishExecution(ctx context.Context, execID uuid.UUID, p store.FinishExecutionParams) (*store.TaskExecution, error)
	ListExecutions(ctx context.Context, taskID uuid.UUID, limit int) ([]store.TaskExecution, error)
	GetOwner(ctx context.Context, id string) (*store.Owner, error)
}

type Notifier interface {
	Notify(ctx context.Context, task *store.Task, exec *store.TaskExecution) notify.DeliveryReport
}

type DeadLetters interface {
	PublishDeadLetter(ctx context.Context, msg queue.DeadLetterMessage, hdr nats.Header) error
}

type Config struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (c *Config) defaults() {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 30 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 15 * time.Minute
	}
}

type Executor struct {
	store       Store
	gateway     reasoning.Gateway
	registry    *tools.Registry
	notifier    Notifier
	deadLetters DeadLetters
	logger      *zap.Logger
	cfg         Config
}

func New(st Store, gw reasoning.Gateway, reg *tools.Registry, n Notifier, dl DeadLetters, logger *zap.Logger, cfg Config) *Executor {
	cfg.defaults()
	return &Executor{
		store:       st,
		gateway:     gw,
		registry:    reg,
		notifier:    n,
		deadLetters: dl,
		logger:      logger,
		cfg:         cfg,
	}
}

// callOutcome is the per-tool-call record aggregated into the result payload.
type callOutcome struct {
	Tool  string         `json:"tool"`
	OK    bool           `json:"ok"`
	Data  map[string]any `json:"data,omitempty"`
	Error string         `json:"error,omitempty"`
}

const systemPrompt = `You are an assistant executing a scheduled task for its owner.
Decide what the task requires. If an action is needed, call the matching tool.
If the task only needs a reminder text, reply with that text and call no tools.`

// Execute runs one attempt for a claimed task. A nil execution with a nil
// error means the attempt was discarded (task gone, duplicate delivery, or a
// lost race); these are expected outcomes, not failures.
func (e *Executor) Execute(ctx context.Context, taskID uuid.UUID) (*store.TaskExecution, error) {
	tr := otel.Tracer("taskmind/executor")
	ctx, span := tr.Start(ctx, "taskmind.execute")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", taskID.String()))

	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Deleted since dispatch; the outcome is simply discarded.
			e.logger.Info("task gone before execution, discarding", zap.String("task_id", taskID.String()))
			return nil, nil
		}
		return nil, err
	}

	// Only a freshly claimed task may start. Anything else is a duplicate
	// dispatch or a task that was reclaimed and will come around again.
	if task.Status != store.StatusClaimed {
		e.logger.Info("skipping dispatch for task not in claimed state",
			zap.String("task_id", taskID.String()),
			zap.String("status", string(task.Status)),
		)
		return nil, nil
	}

	if _, err := e.store.MarkRunning(ctx, taskID); err != nil {
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	// Attempt numbering restarts per generation, so a recurring task's second
	// occurrence does not collide with the execution log of its first.
	attempt := task.Retries + 1
	exec, err := e.store.CreateExecution(ctx, taskID, task.Generation, attempt)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// Another worker already ran this attempt.
			return nil, nil
		}
		return nil, err
	}

	start := time.Now()
	finished := e.run(ctx, task, exec, attempt)
	observability.ExecutionDuration.WithLabelValues(string(task.Type)).Observe(time.Since(start).Seconds())

	if finished != nil {
		observability.ExecutionsTotal.WithLabelValues(string(task.Type), string(finished.Status)).Inc()
	}
	return finished, nil
}

func (e *Executor) run(ctx context.Context, task *store.Task, exec *store.TaskExecution, attempt int) *store.TaskExecution {
	reqCtx := e.buildContext(ctx, task)

	reasonStart := time.Now()
	resp, err := e.gateway.Generate(ctx, reasoning.Request{
		System:  systemPrompt,
		Prompt:  fmt.Sprintf("Task: %s\n\n%s", task.Title, task.Description),
		Context: reqCtx,
		Tools:   e.registry.Catalog(),
	})
	observability.ReasoningLatency.Observe(time.Since(reasonStart).Seconds())

	if err != nil {
		return e.failAttempt(ctx, task, exec, attempt, err)
	}

	outcomes := e.dispatchCalls(ctx, resp.ToolCalls)

	// Success if every requested call succeeded or none were needed; partial
	// if some failed. The reasoning step itself succeeding keeps this off the
	// failure/retry path.
	status := store.ExecSuccess
	failedCalls := 0
	for _, o := range outcomes {
		if !o.OK {
			failedCalls++
		}
	}
	if failedCalls > 0 {
		status = store.ExecPartial
	}

	result, _ := json.Marshal(map[string]any{
		"text":       resp.Text,
		"tool_calls": outcomes,
	})

	var errMsg *string
	if failedCalls > 0 {
		msg := fmt.Sprintf("%d of %d tool calls failed", failedCalls, len(outcomes))
		errMsg = &msg
	}

	finished, err := e.store.FinishExecution(ctx, exec.ID, store.FinishExecutionParams{
		Status:     status,
		Result:     result,
		AIResponse: &resp.Text,
		Error:      errMsg,
	})
	if err != nil {
		e.logger.Error("finish execution failed", zap.Error(err), zap.String("execution_id", exec.ID.String()))
		return nil
	}

	e.settle(ctx, task, finished)
	return finished
}

// failAttempt handles a reasoning-level failure: retry with backoff until
// attempts are exhausted, then mark the task failed, dead-letter it, and still
// notify so the owner is not left silently uninformed.
func (e *Executor) failAttempt(ctx context.Context, task *store.Task, exec *store.TaskExecution, attempt int, cause error) *store.TaskExecution {
	msg := cause.Error()
	var parseErr *reasoning.ParseError
	if errors.As(cause, &parseErr) {
		msg = parseErr.Error()
	}

	finished, err := e.store.FinishExecution(ctx, exec.ID, store.FinishExecutionParams{
		Status: store.ExecFailure,
		Error:  &msg,
	})
	if err != nil {
		e.logger.Error("finish execution failed", zap.Error(err), zap.String("execution_id", exec.ID.String()))
		finished = exec
		finished.Status = store.ExecFailure
		finished.Error = &msg
	}

	if attempt >= e.cfg.MaxAttempts {
		if _, err := e.store.FailTask(ctx, task.ID, msg); err != nil && !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrConflict) {
			e.logger.Error("mark task failed", zap.Error(err), zap.String("task_id", task.ID.String()))
		}
		e.publishDeadLetter(ctx, task, attempt, msg)
		e.logger.Error("task permanently failed",
			zap.String("task_id", task.ID.String()),
			zap.Int("attempt", attempt),
			zap.String("error", msg),
		)
		e.notifier.Notify(ctx, task, finished)
		return finished
	}

	delay := computeBackoff(e.cfg.BackoffBase, e.cfg.BackoffMax, attempt)
	if _, err := e.store.RetryTask(ctx, task.ID, time.Now().Add(delay), msg); err != nil {
		if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrConflict) {
			e.logger.Error("requeue for retry failed", zap.Error(err), zap.String("task_id", task.ID.String()))
		}
		return finished
	}

	e.logger.Warn("execution failed, will retry",
		zap.String("task_id", task.ID.String()),
		zap.Int("attempt", attempt),
		zap.Duration("retry_in", delay),
		zap.String("error", msg),
	)
	return finished
}

// settle writes the task's terminal state after a success/partial execution
// and fans out notifications. A recurring task returns to pending with a fresh
// next_run_at; write-backs against a deleted task are discarded.
func (e *Executor) settle(ctx context.Context, task *store.Task, exec *store.TaskExecution) {
	var next *time.Time
	if task.Recurring() {
		n, err := schedule.Next(task.ScheduleType, task.ScheduleConfig, time.Now())
		if err != nil {
			e.logger.Error("recompute next run failed",
				zap.Error(err),
				zap.String("task_id", task.ID.String()),
			)
		} else {
			next = &n
		}
	}

	if _, err := e.store.CompleteTask(ctx, task.ID, next); err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict) {
			// Deleted or reclaimed mid-run; the write-back is discarded.
			e.logger.Info("task completion discarded", zap.String("task_id", task.ID.String()), zap.Error(err))
		} else {
			e.logger.Error("complete task failed", zap.Error(err), zap.String("task_id", task.ID.String()))
		}
		return
	}

	report := e.notifier.Notify(ctx, task, exec)
	for _, cr := range report.Channels {
		outcome := "delivered"
		switch {
		case cr.Deduped:
			outcome = "deduped"
		case !cr.Delivered:
			outcome = "failed"
		}
		observability.NotificationsTotal.WithLabelValues(cr.Channel, outcome).Inc()
	}
}

func (e *Executor) dispatchCalls(ctx context.Context, calls []reasoning.ToolCall) []callOutcome {
	outcomes := make([]callOutcome, 0, len(calls))
	for _, call := range calls {
		res, err := e.registry.Invoke(ctx, call.Name, call.Args)
		o := callOutcome{Tool: call.Name}
		switch {
		case err != nil:
			o.Error = err.Error()
		case res.OK:
			o.OK = true
			o.Data = res.Data
		default:
			o.Error = res.Err
		}

		outcome := "ok"
		if !o.OK {
			outcome = "failed"
		}
		observability.ToolCallsTotal.WithLabelValues(call.Name, outcome).Inc()
		outcomes = append(outcomes, o)
	}
	return outcomes
}

// buildContext assembles the structured context handed to the gateway: owner
// profile, the creation-time ai_context, and a short tail of prior attempts.
func (e *Executor) buildContext(ctx context.Context, task *store.Task) map[string]any {
	out := map[string]any{
		"task_type":     string(task.Type),
		"schedule_type": string(task.ScheduleType),
	}
	if task.AIContext != "" {
		out["ai_context"] = task.AIContext
	}

	if owner, err := e.store.GetOwner(ctx, task.OwnerID); err == nil {
		out["owner"] = map[string]any{
			"name":     owner.Name,
			"timezone": owner.Timezone,
		}
	}

	if history, err := e.store.ListExecutions(ctx, task.ID, 3); err == nil && len(history) > 0 {
		prior := make([]map[string]any, 0, len(history))
		for _, h := range history {
			if h.FinishedAt == nil {
				continue
			}
			entry := map[string]any{
				"status":      string(h.Status),
				"finished_at": h.FinishedAt.Format(time.RFC3339),
			}
			if h.Error != nil {
				entry["error"] = *h.Error
			}
			prior = append(prior, entry)
		}
		if len(prior) > 0 {
			out["prior_attempts"] = prior
		}
	}
	return out
}

func (e *Executor) publishDeadLetter(ctx context.Context, task *store.Task, attempt int, errMsg string) {
	if e.deadLetters == nil {
		return
	}
	hdr := nats.Header{}
	otel.GetTextMapPropagator().Inject(ctx, observability.NATSHeaderCarrier{H: hdr})
	hdr.Set("task_id", task.ID.String())

	err := e.deadLetters.PublishDeadLetter(ctx, queue.DeadLetterMessage{
		TaskID:   task.ID.String(),
		OwnerID:  task.OwnerID,
		Title:    task.Title,
		Attempt:  attempt,
		Error:    errMsg,
		FailedAt: time.Now(),
	}, hdr)
	if err != nil {
		e.logger.Error("failed to publish dead letter", zap.Error(err), zap.String("task_id", task.ID.String()))
	}
}

func computeBackoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
