package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// ExecutionStore persists workflow executions. Transition is the single
// mutation path for state changes: it applies the update only while the
// stored state still equals the expected one and reports ErrWorkflowStateStale
// otherwise, which serializes advancement per execution without locks.
type ExecutionStore interface {
	Create(ctx context.Context, execution WorkflowExecution) (WorkflowExecution, error)
	Get(ctx context.Context, id string) (WorkflowExecution, error)
	GetByJobRun(ctx context.Context, jobRunID string) (WorkflowExecution, error)
	Transition(ctx context.Context, execution WorkflowExecution, expected WorkflowState) (WorkflowExecution, error)
}

type StepStore interface {
	CreateBatch(ctx context.Context, steps []WorkflowStep) ([]WorkflowStep, error)
	Get(ctx context.Context, id string) (WorkflowStep, error)
	ListByExecution(ctx context.Context, executionID string) ([]WorkflowStep, error)
	Update(ctx context.Context, step WorkflowStep) (WorkflowStep, error)
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]WorkflowStep, error)
}

type WebhookStore interface {
	Create(ctx context.Context, webhook Webhook) (Webhook, error)
	Get(ctx context.Context, id string) (Webhook, error)
	Update(ctx context.Context, webhook Webhook) (Webhook, error)
	ListActiveByEvent(ctx context.Context, tenantID string, eventType string) ([]Webhook, error)
	RecordSuccess(ctx context.Context, id string, at time.Time) error
	RecordFailure(ctx context.Context, id string, at time.Time) error
	RecordTriggered(ctx context.Context, id string, at time.Time) error
}

type DeliveryStore interface {
	// Create inserts one delivery row per (webhook, event); a replay of the
	// same event id for the same webhook returns the existing row with
	// created=false instead of a second row.
	Create(ctx context.Context, delivery WebhookDelivery) (WebhookDelivery, bool, error)
	Get(ctx context.Context, id string) (WebhookDelivery, error)
	Update(ctx context.Context, delivery WebhookDelivery) (WebhookDelivery, error)
	ListByWebhook(ctx context.Context, webhookID string, limit int) ([]WebhookDelivery, error)
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]WebhookDelivery, error)
}

// Task kinds understood by the queue adapter. Key carries the row id the
// worker should load; Payload carries correlation ids for logging.
const (
	TaskKindWorkflowAdvance = "reportflow.workflow.advance"
	TaskKindStepRetry       = "reportflow.workflow.step_retry"
	TaskKindDeliveryAttempt = "reportflow.delivery.attempt"
)

// Task is one unit of delayed or immediate work handed to the queue runtime.
type Task struct {
	Kind    string
	Key     string
	RunAt   time.Time
	Payload map[string]any
}

// Scheduler is the injected work-queue client; tests substitute an in-memory
// implementation, production wires adapters/gojob.
type Scheduler interface {
	Schedule(ctx context.Context, task Task) error
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// EventSink receives canonical event envelopes; the webhook dispatcher is
// the production sink.
type EventSink interface {
	Dispatch(ctx context.Context, event Event) error
}
