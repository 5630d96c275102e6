package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-reportflow/webhooks"
	"github.com/goliatone/go-reportflow/workflow"
)

const (
	TypeStartWorkflow       = "reportflow.command.workflow.start"
	TypeCancelWorkflow      = "reportflow.command.workflow.cancel"
	TypePauseWorkflow       = "reportflow.command.workflow.pause"
	TypeResumeWorkflow      = "reportflow.command.workflow.resume"
	TypeSkipStep            = "reportflow.command.workflow.skip_step"
	TypeRetryDelivery       = "reportflow.command.delivery.retry"
	TypeCreateWebhook       = "reportflow.command.webhook.create"
	TypeRotateWebhookSecret = "reportflow.command.webhook.rotate_secret"
	TypeSetWebhookActive    = "reportflow.command.webhook.set_active"
)

type StartWorkflowMessage struct {
	Request workflow.StartRequest
}

func (StartWorkflowMessage) Type() string { return TypeStartWorkflow }

func (m StartWorkflowMessage) Validate() error {
	if strings.TrimSpace(m.Request.TenantID) == "" {
		return fmt.Errorf("command: tenant id is required")
	}
	if strings.TrimSpace(m.Request.JobRunID) == "" {
		return fmt.Errorf("command: job run id is required")
	}
	if strings.TrimSpace(m.Request.WorkflowName) == "" {
		return fmt.Errorf("command: workflow name is required")
	}
	if len(m.Request.Steps) == 0 {
		return fmt.Errorf("command: at least one step is required")
	}
	return nil
}

type CancelWorkflowMessage struct {
	ExecutionID string
	Reason      string
}

func (CancelWorkflowMessage) Type() string { return TypeCancelWorkflow }

func (m CancelWorkflowMessage) Validate() error {
	if strings.TrimSpace(m.ExecutionID) == "" {
		return fmt.Errorf("command: execution id is required")
	}
	return nil
}

type PauseWorkflowMessage struct {
	ExecutionID string
	Note        string
}

func (PauseWorkflowMessage) Type() string { return TypePauseWorkflow }

func (m PauseWorkflowMessage) Validate() error {
	if strings.TrimSpace(m.ExecutionID) == "" {
		return fmt.Errorf("command: execution id is required")
	}
	return nil
}

type ResumeWorkflowMessage struct {
	ExecutionID string
}

func (ResumeWorkflowMessage) Type() string { return TypeResumeWorkflow }

func (m ResumeWorkflowMessage) Validate() error {
	if strings.TrimSpace(m.ExecutionID) == "" {
		return fmt.Errorf("command: execution id is required")
	}
	return nil
}

// SkipStepMessage is the operator escape hatch for a step that keeps failing
// on bad upstream data. Reason is mandatory; it lands in the step's metadata
// for the audit trail.
type SkipStepMessage struct {
	StepID string
	Reason string
}

func (SkipStepMessage) Type() string { return TypeSkipStep }

func (m SkipStepMessage) Validate() error {
	if strings.TrimSpace(m.StepID) == "" {
		return fmt.Errorf("command: step id is required")
	}
	if strings.TrimSpace(m.Reason) == "" {
		return fmt.Errorf("command: skip reason is required")
	}
	return nil
}

// RetryDeliveryMessage re-queues a terminally failed delivery with one fresh
// attempt.
type RetryDeliveryMessage struct {
	DeliveryID string
}

func (RetryDeliveryMessage) Type() string { return TypeRetryDelivery }

func (m RetryDeliveryMessage) Validate() error {
	if strings.TrimSpace(m.DeliveryID) == "" {
		return fmt.Errorf("command: delivery id is required")
	}
	return nil
}

type CreateWebhookMessage struct {
	Request webhooks.CreateRequest
}

func (CreateWebhookMessage) Type() string { return TypeCreateWebhook }

func (m CreateWebhookMessage) Validate() error {
	if strings.TrimSpace(m.Request.TenantID) == "" {
		return fmt.Errorf("command: tenant id is required")
	}
	if strings.TrimSpace(m.Request.URL) == "" {
		return fmt.Errorf("command: webhook url is required")
	}
	if len(m.Request.Events) == 0 {
		return fmt.Errorf("command: at least one subscribed event is required")
	}
	return nil
}

type RotateWebhookSecretMessage struct {
	WebhookID string
}

func (RotateWebhookSecretMessage) Type() string { return TypeRotateWebhookSecret }

func (m RotateWebhookSecretMessage) Validate() error {
	if strings.TrimSpace(m.WebhookID) == "" {
		return fmt.Errorf("command: webhook id is required")
	}
	return nil
}

type SetWebhookActiveMessage struct {
	WebhookID string
	Active    bool
}

func (SetWebhookActiveMessage) Type() string { return TypeSetWebhookActive }

func (m SetWebhookActiveMessage) Validate() error {
	if strings.TrimSpace(m.WebhookID) == "" {
		return fmt.Errorf("command: webhook id is required")
	}
	return nil
}
