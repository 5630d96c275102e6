package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-reportflow/core"
	"github.com/goliatone/go-reportflow/webhooks"
	"github.com/goliatone/go-reportflow/workflow"
)

// WorkflowService is the engine surface the workflow commands drive.
type WorkflowService interface {
	Start(ctx context.Context, req workflow.StartRequest) (core.WorkflowExecution, error)
	Cancel(ctx context.Context, executionID string, reason string) (core.WorkflowExecution, error)
	Pause(ctx context.Context, executionID string, note string) (core.WorkflowExecution, error)
	Resume(ctx context.Context, executionID string) (core.WorkflowExecution, error)
	SkipStep(ctx context.Context, stepID string, reason string) (core.WorkflowStep, error)
}

// DeliveryService is the worker surface the delivery commands drive.
type DeliveryService interface {
	Requeue(ctx context.Context, deliveryID string) (core.WebhookDelivery, error)
}

// WebhookService manages endpoint registrations and secrets.
type WebhookService interface {
	Create(ctx context.Context, req webhooks.CreateRequest) (webhooks.WebhookWithSecret, error)
	RotateSecret(ctx context.Context, webhookID string) (webhooks.WebhookWithSecret, error)
	SetActive(ctx context.Context, webhookID string, active bool) (core.Webhook, error)
}

type StartWorkflowCommand struct {
	service WorkflowService
}

func NewStartWorkflowCommand(service WorkflowService) *StartWorkflowCommand {
	return &StartWorkflowCommand{service: service}
}

func (c *StartWorkflowCommand) Execute(ctx context.Context, msg StartWorkflowMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: workflow service is required")
	}
	out, err := c.service.Start(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CancelWorkflowCommand struct {
	service WorkflowService
}

func NewCancelWorkflowCommand(service WorkflowService) *CancelWorkflowCommand {
	return &CancelWorkflowCommand{service: service}
}

func (c *CancelWorkflowCommand) Execute(ctx context.Context, msg CancelWorkflowMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: workflow service is required")
	}
	out, err := c.service.Cancel(ctx, msg.ExecutionID, msg.Reason)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type PauseWorkflowCommand struct {
	service WorkflowService
}

func NewPauseWorkflowCommand(service WorkflowService) *PauseWorkflowCommand {
	return &PauseWorkflowCommand{service: service}
}

func (c *PauseWorkflowCommand) Execute(ctx context.Context, msg PauseWorkflowMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: workflow service is required")
	}
	out, err := c.service.Pause(ctx, msg.ExecutionID, msg.Note)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ResumeWorkflowCommand struct {
	service WorkflowService
}

func NewResumeWorkflowCommand(service WorkflowService) *ResumeWorkflowCommand {
	return &ResumeWorkflowCommand{service: service}
}

func (c *ResumeWorkflowCommand) Execute(ctx context.Context, msg ResumeWorkflowMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: workflow service is required")
	}
	out, err := c.service.Resume(ctx, msg.ExecutionID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SkipStepCommand struct {
	service WorkflowService
}

func NewSkipStepCommand(service WorkflowService) *SkipStepCommand {
	return &SkipStepCommand{service: service}
}

func (c *SkipStepCommand) Execute(ctx context.Context, msg SkipStepMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: workflow service is required")
	}
	out, err := c.service.SkipStep(ctx, msg.StepID, msg.Reason)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RetryDeliveryCommand struct {
	service DeliveryService
}

func NewRetryDeliveryCommand(service DeliveryService) *RetryDeliveryCommand {
	return &RetryDeliveryCommand{service: service}
}

func (c *RetryDeliveryCommand) Execute(ctx context.Context, msg RetryDeliveryMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: delivery service is required")
	}
	out, err := c.service.Requeue(ctx, msg.DeliveryID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CreateWebhookCommand struct {
	service WebhookService
}

func NewCreateWebhookCommand(service WebhookService) *CreateWebhookCommand {
	return &CreateWebhookCommand{service: service}
}

func (c *CreateWebhookCommand) Execute(ctx context.Context, msg CreateWebhookMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: webhook service is required")
	}
	out, err := c.service.Create(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RotateWebhookSecretCommand struct {
	service WebhookService
}

func NewRotateWebhookSecretCommand(service WebhookService) *RotateWebhookSecretCommand {
	return &RotateWebhookSecretCommand{service: service}
}

func (c *RotateWebhookSecretCommand) Execute(ctx context.Context, msg RotateWebhookSecretMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: webhook service is required")
	}
	out, err := c.service.RotateSecret(ctx, msg.WebhookID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SetWebhookActiveCommand struct {
	service WebhookService
}

func NewSetWebhookActiveCommand(service WebhookService) *SetWebhookActiveCommand {
	return &SetWebhookActiveCommand{service: service}
}

func (c *SetWebhookActiveCommand) Execute(ctx context.Context, msg SetWebhookActiveMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: webhook service is required")
	}
	out, err := c.service.SetActive(ctx, msg.WebhookID, msg.Active)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
