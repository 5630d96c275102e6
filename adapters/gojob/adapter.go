// Package gojob bridges the engine's scheduler contract to the go-job queue
// runtime: tasks become execution messages on the way in, and queue
// deliveries route back to the engine's advance and delivery handlers on the
// way out.
package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/goliatone/go-reportflow/core"
)

const (
	paramTaskKey   = "task_key"
	paramRunAt     = "run_at"
	paramAttemptAt = "attempt_at"
)

// RetryPolicy bounds queue-level retry behavior for failed task handling.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt clamps a nack so a task can neither requeue forever nor
// sleep past the policy's maximum delay.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// ToExecutionMessage encodes a task as a queue message. The idempotency key
// covers kind, key, and the scheduled slot, so re-scheduling the same work
// for the same slot collapses to one message.
func ToExecutionMessage(task core.Task) *job.ExecutionMessage {
	parameters := make(map[string]any, len(task.Payload)+2)
	for key, value := range task.Payload {
		parameters[key] = value
	}
	parameters[paramTaskKey] = task.Key
	if !task.RunAt.IsZero() {
		parameters[paramRunAt] = task.RunAt.UTC().Format(time.RFC3339Nano)
	}
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(task.Kind),
		Parameters:     parameters,
		IdempotencyKey: idempotencyKey(task),
		DedupPolicy:    job.DeduplicationPolicy("ignore"),
	}
}

// TaskFromExecutionMessage decodes a queue message back into a task.
func TaskFromExecutionMessage(msg *job.ExecutionMessage) (core.Task, error) {
	if msg == nil {
		return core.Task{}, fmt.Errorf("gojob: execution message is required")
	}
	task := core.Task{
		Kind:    strings.TrimSpace(msg.JobID),
		Payload: map[string]any{},
	}
	if task.Kind == "" {
		return core.Task{}, fmt.Errorf("gojob: execution message has no job id")
	}
	for key, value := range msg.Parameters {
		switch key {
		case paramTaskKey:
			if text, ok := value.(string); ok {
				task.Key = text
			}
		case paramRunAt:
			if text, ok := value.(string); ok {
				runAt, err := time.Parse(time.RFC3339Nano, text)
				if err != nil {
					return core.Task{}, fmt.Errorf("gojob: invalid run_at %q: %w", text, err)
				}
				task.RunAt = runAt
			}
		default:
			task.Payload[key] = value
		}
	}
	if strings.TrimSpace(task.Key) == "" {
		return core.Task{}, fmt.Errorf("gojob: execution message has no task key")
	}
	return task, nil
}

func idempotencyKey(task core.Task) string {
	slot := "immediate"
	if !task.RunAt.IsZero() {
		slot = task.RunAt.UTC().Format(time.RFC3339Nano)
	}
	return strings.Join([]string{strings.TrimSpace(task.Kind), strings.TrimSpace(task.Key), slot}, "::")
}

// SchedulerAdapter implements the engine's scheduler over a go-job enqueuer.
type SchedulerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewSchedulerAdapter(enqueuer queue.Enqueuer) *SchedulerAdapter {
	return &SchedulerAdapter{enqueuer: enqueuer}
}

func (a *SchedulerAdapter) Schedule(ctx context.Context, task core.Task) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if strings.TrimSpace(task.Kind) == "" {
		return fmt.Errorf("gojob: task kind is required")
	}
	if strings.TrimSpace(task.Key) == "" {
		return fmt.Errorf("gojob: task key is required")
	}
	return a.enqueuer.Enqueue(ctx, ToExecutionMessage(task))
}

// TaskHandlers routes dequeued tasks to the engine surfaces that consume
// them. Workflow advancement and step retries both land on Advance; the
// engine re-reads persisted state, so a stale retry is a no-op.
type TaskHandlers struct {
	AdvanceWorkflow func(ctx context.Context, executionID string) error
	AttemptDelivery func(ctx context.Context, deliveryID string) error
}

// Consumer drains a go-job dequeuer and dispatches each task to its handler.
type Consumer struct {
	dequeuer queue.Dequeuer
	handlers TaskHandlers
	policy   RetryPolicy
	logger   core.Logger
	now      func() time.Time
}

func NewConsumer(dequeuer queue.Dequeuer, handlers TaskHandlers, policy RetryPolicy, logger core.Logger) *Consumer {
	return &Consumer{
		dequeuer: dequeuer,
		handlers: handlers,
		policy:   policy,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run consumes deliveries until the context is done. It returns the context
// error so callers can distinguish shutdown from queue failures.
func (c *Consumer) Run(ctx context.Context) error {
	if c == nil || c.dequeuer == nil {
		return fmt.Errorf("gojob: dequeuer is not configured")
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		delivery, err := c.dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("gojob: dequeue: %w", err)
		}
		c.handleDelivery(ctx, delivery, 1)
	}
}

// HandleDelivery processes one delivery; exported for worker pools that own
// their own dequeue loop.
func (c *Consumer) HandleDelivery(ctx context.Context, delivery queue.Delivery, attempt int) {
	c.handleDelivery(ctx, delivery, attempt)
}

func (c *Consumer) handleDelivery(ctx context.Context, delivery queue.Delivery, attempt int) {
	if delivery == nil {
		return
	}
	task, err := TaskFromExecutionMessage(delivery.Message())
	if err != nil {
		c.log("drop malformed task", "error", err)
		c.nack(ctx, delivery, queue.NackOptions{DeadLetter: true, Reason: err.Error()}, attempt)
		return
	}

	// Premature deliveries go back to sleep until their slot.
	if wait := task.RunAt.Sub(c.now()); wait > time.Second {
		c.nack(ctx, delivery, queue.NackOptions{Delay: wait, Requeue: true, Reason: "not due"}, 0)
		return
	}

	if err := c.dispatch(ctx, task); err != nil {
		c.log("task failed", "kind", task.Kind, "key", task.Key, "error", err)
		c.nack(ctx, delivery, queue.NackOptions{Requeue: true, Reason: err.Error()}, attempt)
		return
	}
	if err := delivery.Ack(ctx); err != nil {
		c.log("ack failed", "kind", task.Kind, "key", task.Key, "error", err)
	}
}

func (c *Consumer) dispatch(ctx context.Context, task core.Task) error {
	switch task.Kind {
	case core.TaskKindWorkflowAdvance, core.TaskKindStepRetry:
		if c.handlers.AdvanceWorkflow == nil {
			return fmt.Errorf("gojob: no workflow handler for %s", task.Kind)
		}
		executionID := task.Key
		if id, ok := task.Payload["execution_id"].(string); ok && id != "" {
			executionID = id
		}
		return c.handlers.AdvanceWorkflow(ctx, executionID)
	case core.TaskKindDeliveryAttempt:
		if c.handlers.AttemptDelivery == nil {
			return fmt.Errorf("gojob: no delivery handler for %s", task.Kind)
		}
		return c.handlers.AttemptDelivery(ctx, task.Key)
	default:
		return fmt.Errorf("gojob: unknown task kind %q", task.Kind)
	}
}

func (c *Consumer) nack(ctx context.Context, delivery queue.Delivery, opts queue.NackOptions, attempt int) {
	if err := delivery.Nack(ctx, c.policy.NormalizeAttempt(opts, attempt)); err != nil {
		c.log("nack failed", "error", err)
	}
}

func (c *Consumer) log(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}

// WorkerHookAdapter forwards go-job worker lifecycle events into engine
// metrics.
type WorkerHookAdapter struct {
	metrics core.MetricsRecorder
}

func NewWorkerHookAdapter(metrics core.MetricsRecorder) *WorkerHookAdapter {
	return &WorkerHookAdapter{metrics: metrics}
}

func (a *WorkerHookAdapter) OnStart(ctx context.Context, event worker.Event) {
	a.count(ctx, "queue.task.started", event)
}

func (a *WorkerHookAdapter) OnSuccess(ctx context.Context, event worker.Event) {
	a.count(ctx, "queue.task.succeeded", event)
}

func (a *WorkerHookAdapter) OnFailure(ctx context.Context, event worker.Event) {
	a.count(ctx, "queue.task.failed", event)
}

func (a *WorkerHookAdapter) OnRetry(ctx context.Context, event worker.Event) {
	a.count(ctx, "queue.task.retried", event)
}

func (a *WorkerHookAdapter) count(ctx context.Context, name string, event worker.Event) {
	if a == nil || a.metrics == nil {
		return
	}
	kind := ""
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	if message != nil {
		kind = message.JobID
	}
	a.metrics.IncCounter(ctx, name, 1, map[string]string{"kind": kind})
}

var (
	_ core.Scheduler = (*SchedulerAdapter)(nil)
	_ worker.Hook    = (*WorkerHookAdapter)(nil)
)
