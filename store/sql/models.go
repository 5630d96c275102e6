package sqlstore

import (
	"time"

	"github.com/goliatone/go-reportflow/core"
	"github.com/uptrace/bun"
)

type executionRecord struct {
	bun.BaseModel `bun:"table:workflow_executions,alias:we"`

	ID              string             `bun:"id,pk"`
	TenantID        string             `bun:"tenant_id,notnull"`
	JobRunID        string             `bun:"job_run_id,notnull"`
	WorkflowName    string             `bun:"workflow_name,notnull"`
	WorkflowVersion string             `bun:"workflow_version"`
	CurrentState    string             `bun:"current_state,notnull"`
	Progress        int                `bun:"progress_percentage,notnull"`
	StartedAt       *time.Time         `bun:"started_at,nullzero"`
	CompletedAt     *time.Time         `bun:"completed_at,nullzero"`
	DurationMS      *int64             `bun:"duration_ms,nullzero"`
	ErrorMessage    string             `bun:"error_message"`
	ErrorCode       string             `bun:"error_code"`
	FailedStep      string             `bun:"failed_step"`
	Context         map[string]any     `bun:"context_snapshot,type:jsonb,notnull"`
	History         []core.StateChange `bun:"state_history,type:jsonb,notnull"`
	CreatedAt       time.Time          `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time          `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type stepRecord struct {
	bun.BaseModel `bun:"table:workflow_steps,alias:ws"`

	ID           string         `bun:"id,pk"`
	ExecutionID  string         `bun:"workflow_execution_id,notnull"`
	Name         string         `bun:"step_name,notnull"`
	Order        int            `bun:"step_order,notnull"`
	Status       string         `bun:"status,notnull"`
	StartedAt    *time.Time     `bun:"started_at,nullzero"`
	CompletedAt  *time.Time     `bun:"completed_at,nullzero"`
	DurationMS   *int64         `bun:"duration_ms,nullzero"`
	AttemptCount int            `bun:"attempt_count,notnull"`
	MaxAttempts  int            `bun:"max_attempts,notnull"`
	NextRetryAt  *time.Time     `bun:"next_retry_at,nullzero"`
	ErrorMessage string         `bun:"error_message"`
	ErrorCode    string         `bun:"error_code"`
	Output       map[string]any `bun:"output,type:jsonb,notnull"`
	Metadata     map[string]any `bun:"metadata,type:jsonb,notnull"`
}

// retryPolicyDoc is the persisted shape of a webhook retry policy; delays are
// stored in milliseconds so the document stays readable across dialects.
type retryPolicyDoc struct {
	MaxAttempts int    `json:"max_attempts"`
	BackoffKind string `json:"backoff_kind"`
	BaseDelayMS int64  `json:"base_delay_ms"`
	MaxDelayMS  int64  `json:"max_delay_ms"`
}

type webhookRecord struct {
	bun.BaseModel `bun:"table:webhooks,alias:wh"`

	ID                   string            `bun:"id,pk"`
	TenantID             string            `bun:"tenant_id,notnull"`
	CreatedBy            string            `bun:"created_by"`
	Name                 string            `bun:"name,notnull"`
	Description          string            `bun:"description"`
	URL                  string            `bun:"url,notnull"`
	EncryptedSecret      []byte            `bun:"secret,notnull"`
	AllowedIPs           []string          `bun:"allowed_ips,type:jsonb,notnull"`
	Events               []string          `bun:"events,type:jsonb,notnull"`
	ReportIDs            []string          `bun:"report_ids,type:jsonb,notnull"`
	Headers              map[string]string `bun:"headers,type:jsonb,notnull"`
	TimeoutSeconds       int               `bun:"timeout_seconds,notnull"`
	RetryPolicy          retryPolicyDoc    `bun:"retry_policy,type:jsonb,notnull"`
	IsActive             bool              `bun:"is_active,notnull"`
	TotalDeliveries      int64             `bun:"total_deliveries,notnull"`
	SuccessfulDeliveries int64             `bun:"successful_deliveries,notnull"`
	FailedDeliveries     int64             `bun:"failed_deliveries,notnull"`
	LastTriggeredAt      *time.Time        `bun:"last_triggered_at,nullzero"`
	LastSuccessAt        *time.Time        `bun:"last_success_at,nullzero"`
	LastFailureAt        *time.Time        `bun:"last_failure_at,nullzero"`
	CreatedAt            time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt            time.Time         `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type deliveryRecord struct {
	bun.BaseModel `bun:"table:webhook_deliveries,alias:wd"`

	ID                 string            `bun:"id,pk"`
	WebhookID          string            `bun:"webhook_id,notnull"`
	TenantID           string            `bun:"tenant_id,notnull"`
	EventType          string            `bun:"event_type,notnull"`
	EventID            string            `bun:"event_id,notnull"`
	Payload            map[string]any    `bun:"payload,type:jsonb,notnull"`
	JobRunID           string            `bun:"job_run_id"`
	ArtifactID         string            `bun:"artifact_id"`
	OccurredAt         time.Time         `bun:"occurred_at,nullzero"`
	Status             string            `bun:"status,notnull"`
	AttemptCount       int               `bun:"attempt_count,notnull"`
	MaxAttempts        int               `bun:"max_attempts,notnull"`
	RequestURL         string            `bun:"request_url"`
	RequestHeaders     map[string]string `bun:"request_headers,type:jsonb,notnull"`
	RequestTimestamp   *time.Time        `bun:"request_timestamp,nullzero"`
	ResponseStatusCode int               `bun:"response_status_code"`
	ResponseHeaders    map[string]string `bun:"response_headers,type:jsonb,notnull"`
	ResponseBody       string            `bun:"response_body"`
	ResponseTimestamp  *time.Time        `bun:"response_timestamp,nullzero"`
	ResponseTimeMS     *int64            `bun:"response_time_ms,nullzero"`
	ErrorMessage       string            `bun:"error_message"`
	NextRetryAt        *time.Time        `bun:"next_retry_at,nullzero"`
	CompletedAt        *time.Time        `bun:"completed_at,nullzero"`
	CreatedAt          time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt          time.Time         `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
